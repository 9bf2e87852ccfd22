package usecase

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/vitos/crypto_quote_cache/internal/domain"
	"go.uber.org/zap"
)

// MatrixKind names one of the three implied rate matrices.
type MatrixKind string

const (
	MatrixTrade MatrixKind = "trade"
	MatrixBid   MatrixKind = "bid"
	MatrixAsk   MatrixKind = "ask"
)

type QuoteServiceOptions struct {
	// SeedUSDT pegs USD and USDT at 1:1 in every matrix once either asset is quoted.
	SeedUSDT bool
	// Sink receives every compacted book. Optional.
	Sink domain.BookSink
}

// QuoteService caches the latest trades, books and bars per instrument and per asset pair,
// and derives implied quotes from the rate matrices when no venue has quoted a pair.
type QuoteService struct {
	refs    domain.ReferenceData
	chain   *domain.BookChain
	sink    domain.BookSink
	logger  *zap.Logger
	timeNow func() time.Time

	tradeMatrix *RateMatrix
	bidMatrix   *RateMatrix
	askMatrix   *RateMatrix

	lastTrades slots[string, *domain.Trade]
	lastBooks  slots[string, *domain.Book]
	lastBars   slots[barKey, *domain.Bar]
	bestBids   slots[string, *domain.Book]
	bestAsks   slots[string, *domain.Book]

	pairTrades slots[string, *domain.Trade]
	pairBooks  slots[string, *domain.Book]
	pairBars   slots[barKey, *domain.Bar]

	markets sync.Map // pair symbol -> *marketSet
}

func NewQuoteService(refs domain.ReferenceData, opts QuoteServiceOptions, logger *zap.Logger) *QuoteService {
	if logger == nil {
		logger = zap.NewNop()
	}
	matrixOpts := []RateMatrixOption{WithMatrixLogger(logger)}
	if opts.SeedUSDT {
		usd, errUSD := refs.Asset("USD")
		usdt, errUSDT := refs.Asset("USDT")
		if errUSD == nil && errUSDT == nil {
			matrixOpts = append(matrixOpts, WithStablecoinPeg(usd, usdt))
		} else {
			logger.Warn("USD/USDT seeding disabled, assets not registered",
				zap.NamedError("usd", errUSD), zap.NamedError("usdt", errUSDT))
		}
	}

	return &QuoteService{
		refs:        refs,
		chain:       domain.NewBookChain(),
		sink:        opts.Sink,
		logger:      logger,
		timeNow:     time.Now,
		tradeMatrix: NewRateMatrix(string(MatrixTrade), matrixOpts...),
		bidMatrix:   NewRateMatrix(string(MatrixBid), matrixOpts...),
		askMatrix:   NewRateMatrix(string(MatrixAsk), matrixOpts...),
	}
}

// Matrix returns one of the implied rate matrices, or nil for an unknown kind.
func (s *QuoteService) Matrix(kind MatrixKind) *RateMatrix {
	switch kind {
	case MatrixTrade:
		return s.tradeMatrix
	case MatrixBid:
		return s.bidMatrix
	case MatrixAsk:
		return s.askMatrix
	default:
		return nil
	}
}

// Chain exposes the book chain the service compacts into.
func (s *QuoteService) Chain() *domain.BookChain {
	return s.chain
}

// OnTrade records a trade for its instrument and, for venue instruments, its asset pair.
func (s *QuoteService) OnTrade(trade *domain.Trade) {
	if trade == nil || trade.Instrument == nil {
		s.logger.Warn("dropping trade without instrument")
		return
	}
	inst := trade.Instrument

	if !inst.IsSynthetic() {
		s.registerMarket(inst)
		s.pairTrades.Update(inst.Pair.Symbol(), trade, newerTrade)
		s.updateMatrix(s.tradeMatrix, inst, trade.Price)
	}
	s.lastTrades.Update(inst.Symbol(), trade, newerTrade)
}

// OnBook compacts a venue book into its chain and records it.
func (s *QuoteService) OnBook(book *domain.Book) {
	if book == nil || book.Instrument == nil {
		s.logger.Warn("dropping book without instrument")
		return
	}
	inst := book.Instrument

	if !inst.IsSynthetic() {
		s.registerMarket(inst)
		if _, err := s.chain.Compact(book); err != nil {
			s.logger.Error("book compaction failed", zap.String("instrument", inst.Symbol()), zap.Error(err))
		} else if s.sink != nil {
			s.sink.Accept(book)
		}
		s.pairBooks.Update(inst.Pair.Symbol(), book, newerBook)
		if len(book.Bids()) > 0 {
			s.updateMatrix(s.bidMatrix, inst, book.BidPrice())
		}
		if len(book.Asks()) > 0 {
			s.updateMatrix(s.askMatrix, inst, book.AskPrice())
		}
	}
	s.recordBook(book)
}

func (s *QuoteService) recordBook(book *domain.Book) {
	key := book.Instrument.Symbol()
	s.lastBooks.Update(key, book, newerBook)
	s.bestBids.Update(key, book, betterBid)
	s.bestAsks.Update(key, book, betterAsk)
}

// OnBar records a bar per instrument and interval, and per asset pair and interval.
func (s *QuoteService) OnBar(bar *domain.Bar) {
	if bar == nil || bar.Instrument == nil {
		s.logger.Warn("dropping bar without instrument")
		return
	}
	inst := bar.Instrument

	if !inst.IsSynthetic() {
		s.registerMarket(inst)
		s.pairBars.Update(barKey{symbol: inst.Pair.Symbol(), interval: bar.Interval}, bar, newerBar)
	}
	s.lastBars.Update(barKey{symbol: inst.Symbol(), interval: bar.Interval}, bar, newerBar)
}

func (s *QuoteService) registerMarket(inst *domain.Instrument) {
	key := inst.Pair.Symbol()
	set, ok := s.markets.Load(key)
	if !ok {
		set, _ = s.markets.LoadOrStore(key, &marketSet{members: make(map[string]*domain.Instrument)})
	}
	set.(*marketSet).add(inst)
}

// updateMatrix is best effort: a rejected write is logged and the cache carries on.
func (s *QuoteService) updateMatrix(m *RateMatrix, inst *domain.Instrument, rate domain.Amount) {
	base, quote := inst.Base(), inst.Quote()
	err := m.UpdateRate(base, quote, rate)
	if errors.Is(err, domain.ErrUnknownAssetPair) {
		err = m.AddAssetPair(base, quote, rate)
	}
	if err != nil {
		s.logger.Warn("dropped rate update",
			zap.String("matrix", m.Name()),
			zap.String("instrument", inst.Symbol()),
			zap.String("rate", rate.String()),
			zap.Error(err))
	}
}

// LastTrade returns the newest trade of an instrument, or nil.
func (s *QuoteService) LastTrade(inst *domain.Instrument) *domain.Trade {
	t, _ := s.lastTrades.Load(inst.Symbol())
	return t
}

// LastBook returns the newest book of an instrument, or nil.
func (s *QuoteService) LastBook(inst *domain.Instrument) *domain.Book {
	b, _ := s.lastBooks.Load(inst.Symbol())
	return b
}

// LastBar returns the newest bar of an instrument for interval, or nil.
func (s *QuoteService) LastBar(inst *domain.Instrument, interval time.Duration) *domain.Bar {
	b, _ := s.lastBars.Load(barKey{symbol: inst.Symbol(), interval: interval})
	return b
}

// LastTradeForPair returns the newest trade on any venue of pair, falling back to
// the trade implied by the trade matrix.
func (s *QuoteService) LastTradeForPair(pair domain.AssetPair) *domain.Trade {
	if t, ok := s.pairTrades.Load(pair.Symbol()); ok {
		return t
	}
	return s.ImpliedTrade(pair)
}

func (s *QuoteService) LastBookForPair(pair domain.AssetPair) *domain.Book {
	b, _ := s.pairBooks.Load(pair.Symbol())
	return b
}

func (s *QuoteService) LastBarForPair(pair domain.AssetPair, interval time.Duration) *domain.Bar {
	b, _ := s.pairBars.Load(barKey{symbol: pair.Symbol(), interval: interval})
	return b
}

// ImpliedTrade fabricates a zero volume trade at the trade matrix rate, or returns nil.
func (s *QuoteService) ImpliedTrade(pair domain.AssetPair) *domain.Trade {
	rate, err := s.tradeMatrix.GetRate(pair.Base, pair.Quote)
	if err != nil {
		return nil
	}
	self := s.refs.SelfInstrument(pair)
	price, volume, err := s.selfAmounts(self, rate, domain.Amount{})
	if err != nil {
		s.logger.Warn("implied trade dropped", zap.String("pair", pair.Symbol()), zap.Error(err))
		return nil
	}
	now := s.timeNow()
	s.logger.Debug("implied trade", zap.String("pair", pair.Symbol()), zap.String("price", price.String()))
	return &domain.Trade{Instrument: self, Time: now, TimeReceived: now, Price: price, Volume: volume}
}

// BestBid returns the highest usable bid across the venues of pair, or ImpliedBid.
func (s *QuoteService) BestBid(pair domain.AssetPair) *domain.Offer {
	var best *domain.Offer
	for _, inst := range s.MarketsForAssetPair(pair) {
		book, ok := s.bestBids.Load(inst.Symbol())
		if !ok {
			continue
		}
		o := book.BestBid()
		if o.IsZero() {
			continue
		}
		if best == nil || o.Price.Cmp(best.Price) > 0 {
			best = &o
		}
	}
	if best != nil {
		return best
	}
	return s.ImpliedBid(pair)
}

// BestAsk returns the lowest usable ask across the venues of pair, or ImpliedAsk.
func (s *QuoteService) BestAsk(pair domain.AssetPair) *domain.Offer {
	var best *domain.Offer
	for _, inst := range s.MarketsForAssetPair(pair) {
		book, ok := s.bestAsks.Load(inst.Symbol())
		if !ok {
			continue
		}
		o := book.BestAsk()
		if o.IsZero() {
			continue
		}
		if best == nil || o.Price.Cmp(best.Price) < 0 {
			best = &o
		}
	}
	if best != nil {
		return best
	}
	return s.ImpliedAsk(pair)
}

// ImpliedBid derives a bid from the bid matrix, then the pair's last trade, then the
// trade matrix. It returns nil when all three miss.
func (s *QuoteService) ImpliedBid(pair domain.AssetPair) *domain.Offer {
	return s.implied(pair, s.bidMatrix, true)
}

// ImpliedAsk derives an ask from the ask matrix, then the pair's last trade, then the
// trade matrix. It returns nil when all three miss.
func (s *QuoteService) ImpliedAsk(pair domain.AssetPair) *domain.Offer {
	return s.implied(pair, s.askMatrix, false)
}

func (s *QuoteService) implied(pair domain.AssetPair, side *RateMatrix, bid bool) *domain.Offer {
	if rate, err := side.GetRate(pair.Base, pair.Quote); err == nil {
		return s.syntheticOffer(pair, rate, domain.Amount{}, "matrix")
	}
	// LastTradeForPair minus its own implied fallback, which is the trade matrix tier below.
	if t, ok := s.pairTrades.Load(pair.Symbol()); ok {
		volume := t.Volume.Abs()
		if !bid {
			volume = volume.Neg()
		}
		return s.syntheticOffer(pair, t.Price, volume, "last_trade")
	}
	if rate, err := s.tradeMatrix.GetRate(pair.Base, pair.Quote); err == nil {
		return s.syntheticOffer(pair, rate, domain.Amount{}, "trade_matrix")
	}
	return nil
}

func (s *QuoteService) syntheticOffer(pair domain.AssetPair, price, volume domain.Amount, source string) *domain.Offer {
	self := s.refs.SelfInstrument(pair)
	p, v, err := s.selfAmounts(self, price, volume)
	if err != nil {
		s.logger.Warn("implied offer dropped",
			zap.String("pair", pair.Symbol()), zap.String("source", source), zap.Error(err))
		return nil
	}
	now := s.timeNow()
	s.logger.Debug("implied offer",
		zap.String("pair", pair.Symbol()),
		zap.String("source", source),
		zap.String("price", p.String()),
		zap.String("volume", v.String()))
	return &domain.Offer{Instrument: self, Time: now, TimeReceived: now, Price: p, Volume: v}
}

// selfAmounts re-quantizes price and volume to the synthetic instrument's bases.
// A volume without a basis is taken as zero.
func (s *QuoteService) selfAmounts(self *domain.Instrument, price, volume domain.Amount) (domain.Amount, domain.Amount, error) {
	p, err := price.Rebase(self.PriceBasis, domain.RoundHalfEven)
	if err != nil {
		return domain.Amount{}, domain.Amount{}, fmt.Errorf("price %s: %w", price, err)
	}
	if volume.Basis.IsZero() {
		return p, domain.NewAmount(0, self.VolumeBasis), nil
	}
	v, err := volume.Rebase(self.VolumeBasis, domain.RoundHalfEven)
	if err != nil {
		return domain.Amount{}, domain.Amount{}, fmt.Errorf("volume %s: %w", volume, err)
	}
	return p, v, nil
}

// LastBidForInstrument returns the best bid of the instrument's last book, falling back to
// its last trade. It returns nil when neither is usable.
func (s *QuoteService) LastBidForInstrument(inst *domain.Instrument) *domain.Offer {
	if book := s.LastBook(inst); book != nil {
		if o := book.BestBid(); !o.IsZero() {
			return &o
		}
	}
	return s.offerFromTrade(inst, true)
}

// LastAskForInstrument is the ask side counterpart of LastBidForInstrument.
func (s *QuoteService) LastAskForInstrument(inst *domain.Instrument) *domain.Offer {
	if book := s.LastBook(inst); book != nil {
		if o := book.BestAsk(); !o.IsZero() {
			return &o
		}
	}
	return s.offerFromTrade(inst, false)
}

func (s *QuoteService) offerFromTrade(inst *domain.Instrument, bid bool) *domain.Offer {
	t := s.LastTrade(inst)
	if t == nil {
		return nil
	}
	volume := t.Volume.Abs()
	if !bid {
		volume = volume.Neg()
	}
	return &domain.Offer{
		Instrument:   inst,
		Time:         t.Time,
		TimeReceived: t.TimeReceived,
		Price:        t.Price,
		Volume:       volume,
	}
}

// MarketsForAssetPair returns the venue instruments seen quoting pair, ordered by symbol.
func (s *QuoteService) MarketsForAssetPair(pair domain.AssetPair) []*domain.Instrument {
	set, ok := s.markets.Load(pair.Symbol())
	if !ok {
		return nil
	}
	return set.(*marketSet).list()
}

// Restore rebuilds the chains persisted in store and seeds the book caches with the newest
// restored book of every known instrument. Instruments missing from the reference data are skipped.
func (s *QuoteService) Restore(ctx context.Context, store domain.BookStore, limit int) error {
	symbols, err := store.ListInstruments(ctx)
	if err != nil {
		return fmt.Errorf("list persisted instruments: %w", err)
	}
	for _, symbol := range symbols {
		inst, err := s.refs.Instrument(symbol)
		if err != nil {
			s.logger.Warn("skipping persisted chain", zap.String("instrument", symbol), zap.Error(err))
			continue
		}
		records, err := store.LoadChain(ctx, symbol, limit)
		if err != nil {
			return fmt.Errorf("load chain %s: %w", symbol, err)
		}
		books, err := s.chain.Restore(inst, records)
		if err != nil {
			s.logger.Warn("persisted chain partially restored",
				zap.String("instrument", symbol), zap.Int("books", len(books)), zap.Error(err))
		}
		if len(books) == 0 {
			continue
		}
		last := books[len(books)-1]
		s.registerMarket(inst)
		s.pairBooks.Update(inst.Pair.Symbol(), last, newerBook)
		s.recordBook(last)
		s.logger.Info("restored book chain", zap.String("instrument", symbol), zap.Int("books", len(books)))
	}
	return nil
}
