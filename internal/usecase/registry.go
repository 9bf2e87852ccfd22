package usecase

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/shopspring/decimal"
	"github.com/vitos/crypto_quote_cache/internal/domain"
)

// Registry is the in-memory reference data: assets, pairs and instruments.
// Entries are immutable once registered.
type Registry struct {
	mu          sync.RWMutex
	assets      map[string]domain.Asset
	pairs       map[string]domain.AssetPair
	instruments map[string]*domain.Instrument
	byVenue     map[string]*domain.Instrument
	self        map[string]*domain.Instrument
}

func NewRegistry() *Registry {
	return &Registry{
		assets:      make(map[string]domain.Asset),
		pairs:       make(map[string]domain.AssetPair),
		instruments: make(map[string]*domain.Instrument),
		byVenue:     make(map[string]*domain.Instrument),
		self:        make(map[string]*domain.Instrument),
	}
}

func venueKey(exchange, venueSymbol string) string {
	return strings.ToUpper(exchange) + "|" + venueSymbol
}

// RegisterAsset adds an asset. Registering the same symbol with the same basis is a no-op.
func (r *Registry) RegisterAsset(symbol string, basis decimal.Decimal) (domain.Asset, error) {
	asset, err := domain.NewAsset(symbol, basis)
	if err != nil {
		return domain.Asset{}, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if existing, ok := r.assets[asset.Symbol]; ok {
		if !existing.Basis.Equal(asset.Basis) {
			return domain.Asset{}, fmt.Errorf("%w: asset %s already registered with basis %s",
				domain.ErrMalformedReferenceData, asset.Symbol, existing.Basis)
		}
		return existing, nil
	}
	r.assets[asset.Symbol] = asset
	return asset, nil
}

// RegisterPair adds the pair of two registered assets.
func (r *Registry) RegisterPair(base, quote, prompt string) (domain.AssetPair, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.registerPair(base, quote, prompt)
}

func (r *Registry) registerPair(base, quote, prompt string) (domain.AssetPair, error) {
	if p, ok := r.pairs[domain.PairSymbol(base, quote, prompt)]; ok {
		return p, nil
	}
	b, ok := r.assets[base]
	if !ok {
		return domain.AssetPair{}, fmt.Errorf("%w: unknown asset %s", domain.ErrMalformedReferenceData, base)
	}
	q, ok := r.assets[quote]
	if !ok {
		return domain.AssetPair{}, fmt.Errorf("%w: unknown asset %s", domain.ErrMalformedReferenceData, quote)
	}
	pair, err := domain.NewAssetPair(b, q, prompt)
	if err != nil {
		return domain.AssetPair{}, err
	}
	r.pairs[pair.Symbol()] = pair
	return pair, nil
}

// RegisterInstrument adds a venue instrument for base/quote[/prompt]. The first registration
// of an instrument symbol wins.
func (r *Registry) RegisterInstrument(exchange, venueSymbol, base, quote, prompt string, priceBasis, volumeBasis decimal.Decimal) (*domain.Instrument, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	pair, err := r.registerPair(base, quote, prompt)
	if err != nil {
		return nil, err
	}
	inst, err := domain.NewInstrument(exchange, venueSymbol, pair, priceBasis, volumeBasis)
	if err != nil {
		return nil, err
	}
	if inst.IsSynthetic() {
		return nil, fmt.Errorf("%w: exchange %s is reserved", domain.ErrMalformedReferenceData, domain.SelfExchange)
	}
	if existing, ok := r.instruments[inst.Symbol()]; ok {
		return existing, nil
	}
	r.instruments[inst.Symbol()] = inst
	r.byVenue[venueKey(inst.Exchange, inst.VenueSymbol)] = inst
	return inst, nil
}

func (r *Registry) Asset(symbol string) (domain.Asset, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.assets[symbol]
	if !ok {
		return domain.Asset{}, fmt.Errorf("asset %s: %w", symbol, domain.ErrUnknownInstrument)
	}
	return a, nil
}

func (r *Registry) Pair(symbol string) (domain.AssetPair, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.pairs[symbol]
	if !ok {
		return domain.AssetPair{}, fmt.Errorf("pair %s: %w", symbol, domain.ErrUnknownAssetPair)
	}
	return p, nil
}

// Instrument looks up EXCHANGE:BASE.QUOTE[.PROMPT], including synthetic instruments.
func (r *Registry) Instrument(symbol string) (*domain.Instrument, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if inst, ok := r.instruments[symbol]; ok {
		return inst, nil
	}
	if key, found := strings.CutPrefix(symbol, domain.SelfExchange+":"); found {
		if inst, ok := r.self[key]; ok {
			return inst, nil
		}
	}
	return nil, fmt.Errorf("instrument %s: %w", symbol, domain.ErrUnknownInstrument)
}

func (r *Registry) InstrumentByVenue(exchange, venueSymbol string) (*domain.Instrument, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	inst, ok := r.byVenue[venueKey(exchange, venueSymbol)]
	if !ok {
		return nil, fmt.Errorf("instrument %s on %s: %w", venueSymbol, exchange, domain.ErrUnknownInstrument)
	}
	return inst, nil
}

// Instruments returns the venue instruments ordered by symbol.
func (r *Registry) Instruments() []*domain.Instrument {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*domain.Instrument, 0, len(r.instruments))
	for _, inst := range r.instruments {
		out = append(out, inst)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Symbol() < out[j].Symbol() })
	return out
}

// SelfInstrument finds or creates the synthetic instrument of pair. Its price basis is the
// quote asset's basis and its volume basis the base asset's basis.
func (r *Registry) SelfInstrument(pair domain.AssetPair) *domain.Instrument {
	key := pair.Symbol()

	r.mu.RLock()
	inst, ok := r.self[key]
	r.mu.RUnlock()
	if ok {
		return inst
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if inst, ok := r.self[key]; ok {
		return inst
	}
	inst = &domain.Instrument{
		Exchange:    domain.SelfExchange,
		VenueSymbol: pair.Base.Symbol + pair.Quote.Symbol,
		Pair:        pair,
		PriceBasis:  pair.Quote.Basis,
		VolumeBasis: pair.Base.Basis,
	}
	r.self[key] = inst
	if _, ok := r.pairs[key]; !ok && pair.Base.Valid() && pair.Quote.Valid() {
		r.pairs[key] = pair
	}
	return inst
}
