package web

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/shopspring/decimal"
	"github.com/vitos/crypto_quote_cache/internal/domain"
	"github.com/vitos/crypto_quote_cache/internal/usecase"
	"go.uber.org/zap"
)

const defaultBarInterval = time.Minute

type tradeView struct {
	Instrument   string          `json:"instrument"`
	Time         time.Time       `json:"time"`
	TimeReceived time.Time       `json:"time_received"`
	Price        decimal.Decimal `json:"price"`
	Volume       decimal.Decimal `json:"volume"`
	Side         string          `json:"side,omitempty"`
}

type offerView struct {
	Instrument   string          `json:"instrument"`
	Time         time.Time       `json:"time"`
	TimeReceived time.Time       `json:"time_received"`
	Price        decimal.Decimal `json:"price"`
	Volume       decimal.Decimal `json:"volume"`
}

type levelView struct {
	Price  decimal.Decimal `json:"price"`
	Volume decimal.Decimal `json:"volume"`
}

type bookView struct {
	Instrument   string      `json:"instrument"`
	ID           uint64      `json:"id"`
	ParentID     uint64      `json:"parent_id"`
	Time         time.Time   `json:"time"`
	TimeReceived time.Time   `json:"time_received"`
	Bids         []levelView `json:"bids"`
	Asks         []levelView `json:"asks"`
}

type barView struct {
	Instrument string          `json:"instrument"`
	Time       time.Time       `json:"time"`
	Interval   string          `json:"interval"`
	Open       decimal.Decimal `json:"open"`
	High       decimal.Decimal `json:"high"`
	Low        decimal.Decimal `json:"low"`
	Close      decimal.Decimal `json:"close"`
	Volume     decimal.Decimal `json:"volume"`
}

type rateView struct {
	Base  string          `json:"base"`
	Quote string          `json:"quote"`
	Rate  decimal.Decimal `json:"rate"`
}

func newTradeView(t *domain.Trade) tradeView {
	return tradeView{
		Instrument:   t.Instrument.Symbol(),
		Time:         t.Time,
		TimeReceived: t.TimeReceived,
		Price:        t.Price.Decimal(),
		Volume:       t.Volume.Decimal(),
		Side:         string(t.Side),
	}
}

func newOfferView(o *domain.Offer) offerView {
	return offerView{
		Instrument:   o.Instrument.Symbol(),
		Time:         o.Time,
		TimeReceived: o.TimeReceived,
		Price:        o.Price.Decimal(),
		Volume:       o.Volume.Decimal(),
	}
}

func newLevels(offers []domain.Offer) []levelView {
	out := make([]levelView, 0, len(offers))
	for _, o := range offers {
		out = append(out, levelView{Price: o.Price.Decimal(), Volume: o.Volume.Decimal()})
	}
	return out
}

func newBarView(b *domain.Bar) barView {
	return barView{
		Instrument: b.Instrument.Symbol(),
		Time:       b.Time,
		Interval:   b.Interval.String(),
		Open:       b.Open.Decimal(),
		High:       b.High.Decimal(),
		Low:        b.Low.Decimal(),
		Close:      b.Close.Decimal(),
		Volume:     b.Volume.Decimal(),
	}
}

func (s *Server) writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("Failed to encode response", zap.Error(err))
	}
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	type instrumentStatus struct {
		Symbol      string `json:"symbol"`
		ChainLength int    `json:"chain_length"`
		LastBookID  uint64 `json:"last_book_id"`
	}
	var out []instrumentStatus
	for _, inst := range s.registry.Instruments() {
		st := instrumentStatus{Symbol: inst.Symbol(), ChainLength: s.quotes.Chain().Length(inst)}
		if tail := s.quotes.Chain().Tail(inst); tail != nil {
			st.LastBookID = tail.ID()
		}
		out = append(out, st)
	}
	s.writeJSON(w, map[string]any{"status": "ok", "instruments": out})
}

func (s *Server) handleListInstruments(w http.ResponseWriter, r *http.Request) {
	symbols := []string{}
	for _, inst := range s.registry.Instruments() {
		symbols = append(symbols, inst.Symbol())
	}
	s.writeJSON(w, symbols)
}

func (s *Server) instrument(w http.ResponseWriter, r *http.Request) (*domain.Instrument, bool) {
	inst, err := s.registry.Instrument(r.PathValue("symbol"))
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return nil, false
	}
	return inst, true
}

func (s *Server) pair(w http.ResponseWriter, r *http.Request) (domain.AssetPair, bool) {
	pair, err := s.registry.Pair(r.PathValue("symbol"))
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return domain.AssetPair{}, false
	}
	return pair, true
}

func barInterval(w http.ResponseWriter, r *http.Request) (time.Duration, bool) {
	raw := r.URL.Query().Get("interval")
	if raw == "" {
		return defaultBarInterval, true
	}
	d, err := time.ParseDuration(raw)
	if err != nil || d <= 0 {
		http.Error(w, "invalid interval "+raw, http.StatusBadRequest)
		return 0, false
	}
	return d, true
}

func notFound(w http.ResponseWriter, what string) {
	http.Error(w, "no "+what+" available", http.StatusNotFound)
}

func (s *Server) handleInstrumentTrade(w http.ResponseWriter, r *http.Request) {
	inst, ok := s.instrument(w, r)
	if !ok {
		return
	}
	trade := s.quotes.LastTrade(inst)
	if trade == nil {
		notFound(w, "trade")
		return
	}
	s.writeJSON(w, newTradeView(trade))
}

func (s *Server) handleInstrumentBook(w http.ResponseWriter, r *http.Request) {
	inst, ok := s.instrument(w, r)
	if !ok {
		return
	}
	s.writeBook(w, s.quotes.LastBook(inst))
}

func (s *Server) writeBook(w http.ResponseWriter, book *domain.Book) {
	if book == nil {
		notFound(w, "book")
		return
	}
	bids, asks, err := book.Resolve()
	if err != nil {
		s.logger.Error("Failed to resolve book", zap.String("instrument", book.Instrument.Symbol()),
			zap.Uint64("id", book.ID()), zap.Error(err))
		http.Error(w, "book unavailable", http.StatusInternalServerError)
		return
	}
	s.writeJSON(w, bookView{
		Instrument:   book.Instrument.Symbol(),
		ID:           book.ID(),
		ParentID:     book.ParentID(),
		Time:         book.Time,
		TimeReceived: book.TimeReceived,
		Bids:         newLevels(bids),
		Asks:         newLevels(asks),
	})
}

func (s *Server) handleInstrumentBid(w http.ResponseWriter, r *http.Request) {
	inst, ok := s.instrument(w, r)
	if !ok {
		return
	}
	s.writeOffer(w, s.quotes.LastBidForInstrument(inst), "bid")
}

func (s *Server) handleInstrumentAsk(w http.ResponseWriter, r *http.Request) {
	inst, ok := s.instrument(w, r)
	if !ok {
		return
	}
	s.writeOffer(w, s.quotes.LastAskForInstrument(inst), "ask")
}

func (s *Server) writeOffer(w http.ResponseWriter, offer *domain.Offer, what string) {
	if offer == nil {
		notFound(w, what)
		return
	}
	s.writeJSON(w, newOfferView(offer))
}

func (s *Server) handleInstrumentBar(w http.ResponseWriter, r *http.Request) {
	inst, ok := s.instrument(w, r)
	if !ok {
		return
	}
	interval, ok := barInterval(w, r)
	if !ok {
		return
	}
	s.writeBar(w, s.quotes.LastBar(inst, interval))
}

func (s *Server) writeBar(w http.ResponseWriter, bar *domain.Bar) {
	if bar == nil {
		notFound(w, "bar")
		return
	}
	s.writeJSON(w, newBarView(bar))
}

func (s *Server) handlePairTrade(w http.ResponseWriter, r *http.Request) {
	pair, ok := s.pair(w, r)
	if !ok {
		return
	}
	trade := s.quotes.LastTradeForPair(pair)
	if trade == nil {
		notFound(w, "trade")
		return
	}
	s.writeJSON(w, newTradeView(trade))
}

func (s *Server) handlePairBook(w http.ResponseWriter, r *http.Request) {
	pair, ok := s.pair(w, r)
	if !ok {
		return
	}
	s.writeBook(w, s.quotes.LastBookForPair(pair))
}

func (s *Server) handlePairBar(w http.ResponseWriter, r *http.Request) {
	pair, ok := s.pair(w, r)
	if !ok {
		return
	}
	interval, ok := barInterval(w, r)
	if !ok {
		return
	}
	s.writeBar(w, s.quotes.LastBarForPair(pair, interval))
}

func (s *Server) handlePairOffer(get func(domain.AssetPair) *domain.Offer) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		pair, ok := s.pair(w, r)
		if !ok {
			return
		}
		s.writeOffer(w, get(pair), "quote")
	}
}

func (s *Server) handlePairMarkets(w http.ResponseWriter, r *http.Request) {
	pair, ok := s.pair(w, r)
	if !ok {
		return
	}
	symbols := []string{}
	for _, inst := range s.quotes.MarketsForAssetPair(pair) {
		symbols = append(symbols, inst.Symbol())
	}
	s.writeJSON(w, symbols)
}

func (s *Server) handleRates(w http.ResponseWriter, r *http.Request) {
	matrix := s.quotes.Matrix(usecase.MatrixKind(r.PathValue("matrix")))
	if matrix == nil {
		http.Error(w, "unknown matrix "+r.PathValue("matrix"), http.StatusBadRequest)
		return
	}

	base, quote := r.URL.Query().Get("base"), r.URL.Query().Get("quote")
	if base == "" && quote == "" {
		out := []rateView{}
		for _, rate := range matrix.Rates() {
			out = append(out, rateView{Base: rate.Base, Quote: rate.Quote, Rate: rate.Rate.Decimal()})
		}
		s.writeJSON(w, out)
		return
	}

	b, err := s.registry.Asset(base)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	q, err := s.registry.Asset(quote)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	rate, err := matrix.GetRate(b, q)
	if err != nil {
		notFound(w, "rate")
		return
	}
	s.writeJSON(w, rateView{Base: b.Symbol, Quote: q.Symbol, Rate: rate.Decimal()})
}
