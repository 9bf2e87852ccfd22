package usecase

import (
	"fmt"
	"sort"
	"sync"

	"github.com/shopspring/decimal"
	"github.com/vitos/crypto_quote_cache/internal/domain"
	"go.uber.org/zap"
)

// RateMatrix keeps direct asset-to-asset rates together with their inverses.
// Each instance has its own lock; a rate and its inverse are always written together.
type RateMatrix struct {
	name   string
	logger *zap.Logger

	mu     sync.RWMutex
	assets map[string]domain.Asset
	rates  map[string]map[string]domain.Amount // base -> quote -> rate

	peg *stablecoinPeg
}

var decimalOne = decimal.NewFromInt(1)

type stablecoinPeg struct {
	usd  domain.Asset
	usdt domain.Asset
}

// Rate is one directed edge of a RateMatrix.
type Rate struct {
	Base  string
	Quote string
	Rate  domain.Amount
}

type RateMatrixOption func(*RateMatrix)

// WithStablecoinPeg seeds usd/usdt at 1:1 whenever an update touches either asset.
func WithStablecoinPeg(usd, usdt domain.Asset) RateMatrixOption {
	return func(m *RateMatrix) {
		m.peg = &stablecoinPeg{usd: usd, usdt: usdt}
	}
}

func WithMatrixLogger(logger *zap.Logger) RateMatrixOption {
	return func(m *RateMatrix) {
		m.logger = logger
	}
}

func NewRateMatrix(name string, opts ...RateMatrixOption) *RateMatrix {
	m := &RateMatrix{
		name:   name,
		logger: zap.NewNop(),
		assets: make(map[string]domain.Asset),
		rates:  make(map[string]map[string]domain.Amount),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func (m *RateMatrix) Name() string {
	return m.name
}

// UpdateRate writes base/quote -> rate and quote/base -> 1/rate. It fails with
// domain.ErrUnknownAssetPair when neither asset is a node of the matrix.
func (m *RateMatrix) UpdateRate(base, quote domain.Asset, rate domain.Amount) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	rate, inverse, err := m.edge(base, quote, rate)
	if err != nil {
		return err
	}
	if err := m.seedPeg(base, quote); err != nil {
		return err
	}
	_, baseKnown := m.assets[base.Symbol]
	_, quoteKnown := m.assets[quote.Symbol]
	if !baseKnown && !quoteKnown {
		return fmt.Errorf("%s matrix %s/%s: %w", m.name, base.Symbol, quote.Symbol, domain.ErrUnknownAssetPair)
	}
	m.put(base, quote, rate, inverse)
	return nil
}

// AddAssetPair registers both assets as nodes and writes the rate pair. Adding a known
// pair again overwrites its rate.
func (m *RateMatrix) AddAssetPair(base, quote domain.Asset, rate domain.Amount) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	rate, inverse, err := m.edge(base, quote, rate)
	if err != nil {
		return err
	}
	if err := m.seedPeg(base, quote); err != nil {
		return err
	}
	m.put(base, quote, rate, inverse)
	return nil
}

// GetRate returns the direct rate recorded for base/quote.
func (m *RateMatrix) GetRate(base, quote domain.Asset) (domain.Amount, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if r, ok := m.rates[base.Symbol][quote.Symbol]; ok {
		return r, nil
	}
	return domain.Amount{}, fmt.Errorf("%s matrix %s/%s: %w", m.name, base.Symbol, quote.Symbol, domain.ErrUnknownAssetPair)
}

func (m *RateMatrix) HasAsset(symbol string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.assets[symbol]
	return ok
}

// Rates returns every edge ordered by base then quote.
func (m *RateMatrix) Rates() []Rate {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []Rate
	for base, quotes := range m.rates {
		for quote, r := range quotes {
			out = append(out, Rate{Base: base, Quote: quote, Rate: r})
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Base != out[j].Base {
			return out[i].Base < out[j].Base
		}
		return out[i].Quote < out[j].Quote
	})
	return out
}

func (m *RateMatrix) isPegAsset(a domain.Asset) bool {
	return m.peg != nil && (a.Symbol == m.peg.usd.Symbol || a.Symbol == m.peg.usdt.Symbol)
}

// seedPeg must be called with mu held.
func (m *RateMatrix) seedPeg(base, quote domain.Asset) error {
	if !m.isPegAsset(base) && !m.isPegAsset(quote) {
		return nil
	}
	usd, usdt := m.peg.usd, m.peg.usdt
	if _, ok := m.rates[usd.Symbol][usdt.Symbol]; ok {
		return nil
	}
	if err := m.write(usd, usdt, domain.Amount{}); err != nil {
		return err
	}
	m.logger.Info("seeded stablecoin peg",
		zap.String("matrix", m.name),
		zap.String("base", usd.Symbol),
		zap.String("quote", usdt.Symbol))
	return nil
}

// write must be called with mu held.
func (m *RateMatrix) write(base, quote domain.Asset, rate domain.Amount) error {
	rate, inverse, err := m.edge(base, quote, rate)
	if err != nil {
		return err
	}
	m.put(base, quote, rate, inverse)
	return nil
}

// edge validates a write and returns the rate to store with its inverse. It does not touch
// the matrix, so a rejected write leaves the state unchanged.
func (m *RateMatrix) edge(base, quote domain.Asset, rate domain.Amount) (domain.Amount, domain.Amount, error) {
	if !base.Valid() || !quote.Valid() || base.Symbol == quote.Symbol {
		return domain.Amount{}, domain.Amount{}, fmt.Errorf("%s matrix %s/%s: %w", m.name, base.Symbol, quote.Symbol, domain.ErrMalformedReferenceData)
	}
	if m.isPegAsset(base) && m.isPegAsset(quote) {
		count, err := domain.ToCount(decimalOne, quote.Basis, domain.RoundHalfEven)
		if err != nil {
			return domain.Amount{}, domain.Amount{}, err
		}
		rate = domain.NewAmount(count, quote.Basis)
	}
	inverse, err := rate.Invert(base.Basis)
	if err != nil {
		return domain.Amount{}, domain.Amount{}, fmt.Errorf("%s matrix invert %s/%s %s: %w", m.name, base.Symbol, quote.Symbol, rate, err)
	}
	return rate, inverse, nil
}

// put must be called with mu held.
func (m *RateMatrix) put(base, quote domain.Asset, rate, inverse domain.Amount) {
	m.assets[base.Symbol] = base
	m.assets[quote.Symbol] = quote
	m.edges(base.Symbol)[quote.Symbol] = rate
	m.edges(quote.Symbol)[base.Symbol] = inverse
}

func (m *RateMatrix) edges(symbol string) map[string]domain.Amount {
	e, ok := m.rates[symbol]
	if !ok {
		e = make(map[string]domain.Amount)
		m.rates[symbol] = e
	}
	return e
}
