package exchange

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"
	"github.com/vitos/crypto_quote_cache/internal/domain"
	"go.uber.org/zap"
)

const (
	BybitBaseURL = "https://api.bybit.com"
	BybitWSURL   = "wss://stream.bybit.com/v5/public/linear"
	BybitName    = "BYBIT"

	pingInterval   = 20 * time.Second
	reconnectDelay = 2 * time.Second
)

var defaultAssetBasis = decimal.New(1, -8)

// InstrumentRegistry is the part of the reference data the feed fills in and reads from.
type InstrumentRegistry interface {
	Asset(symbol string) (domain.Asset, error)
	RegisterAsset(symbol string, basis decimal.Decimal) (domain.Asset, error)
	RegisterInstrument(exchange, venueSymbol, base, quote, prompt string, priceBasis, volumeBasis decimal.Decimal) (*domain.Instrument, error)
	InstrumentByVenue(exchange, venueSymbol string) (*domain.Instrument, error)
}

type BybitConfig struct {
	RESTEndpoint  string
	WSEndpoint    string
	Category      string
	Symbols       []string
	BookDepth     int
	KlineInterval string
	BarInterval   time.Duration
}

// BybitFeed streams public trades, order books and klines from Bybit v5.
type BybitFeed struct {
	cfg      BybitConfig
	registry InstrumentRegistry
	client   *http.Client
	logger   *zap.Logger
	timeNow  func() time.Time

	mu    sync.Mutex
	books map[string]*levelBook
}

// levelBook is the local replica of one symbol's order book, price -> size.
type levelBook struct {
	bids map[string]decimal.Decimal
	asks map[string]decimal.Decimal
}

func NewBybitFeed(cfg BybitConfig, registry InstrumentRegistry, logger *zap.Logger) *BybitFeed {
	if cfg.RESTEndpoint == "" {
		cfg.RESTEndpoint = BybitBaseURL
	}
	if cfg.WSEndpoint == "" {
		cfg.WSEndpoint = BybitWSURL
	}
	if cfg.Category == "" {
		cfg.Category = "linear"
	}
	if cfg.BookDepth == 0 {
		cfg.BookDepth = 50
	}
	if cfg.KlineInterval == "" {
		cfg.KlineInterval = "1"
		cfg.BarInterval = time.Minute
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &BybitFeed{
		cfg:      cfg,
		registry: registry,
		client:   &http.Client{Timeout: 10 * time.Second},
		logger:   logger.With(zap.String("exchange", BybitName)),
		timeNow:  time.Now,
		books:    make(map[string]*levelBook),
	}
}

// --- REST API ---

func (b *BybitFeed) sendRequest(ctx context.Context, path string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, b.cfg.RESTEndpoint+path, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := b.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("API error %d: %s", resp.StatusCode, string(respBody))
	}
	return respBody, nil
}

type instrumentInfo struct {
	Symbol      string `json:"symbol"`
	BaseCoin    string `json:"baseCoin"`
	QuoteCoin   string `json:"quoteCoin"`
	Status      string `json:"status"`
	PriceFilter struct {
		TickSize string `json:"tickSize"`
	} `json:"priceFilter"`
	LotSizeFilter struct {
		QtyStep       string `json:"qtyStep"`
		BasePrecision string `json:"basePrecision"`
	} `json:"lotSizeFilter"`
}

// LoadInstruments fetches instrument specs and registers the configured symbols, or every
// trading symbol of the category when none are configured.
func (b *BybitFeed) LoadInstruments(ctx context.Context) ([]*domain.Instrument, error) {
	path := "/v5/market/instruments-info?category=" + url.QueryEscape(b.cfg.Category)
	resp, err := b.sendRequest(ctx, path)
	if err != nil {
		return nil, err
	}

	var result struct {
		RetCode int    `json:"retCode"`
		RetMsg  string `json:"retMsg"`
		Result  struct {
			List []instrumentInfo `json:"list"`
		} `json:"result"`
	}
	if err := json.Unmarshal(resp, &result); err != nil {
		return nil, err
	}
	if result.RetCode != 0 {
		return nil, fmt.Errorf("bybit api error: %s", result.RetMsg)
	}

	wanted := make(map[string]bool, len(b.cfg.Symbols))
	for _, s := range b.cfg.Symbols {
		wanted[strings.ToUpper(s)] = true
	}

	var instruments []*domain.Instrument
	for _, item := range result.Result.List {
		if len(wanted) > 0 && !wanted[item.Symbol] {
			continue
		}
		if item.Status != "" && item.Status != "Trading" {
			continue
		}
		inst, err := b.register(item)
		if err != nil {
			b.logger.Warn("skipping instrument", zap.String("symbol", item.Symbol), zap.Error(err))
			continue
		}
		instruments = append(instruments, inst)
	}
	b.logger.Info("instruments loaded", zap.Int("count", len(instruments)), zap.String("category", b.cfg.Category))
	return instruments, nil
}

func (b *BybitFeed) register(item instrumentInfo) (*domain.Instrument, error) {
	tick, err := decimal.NewFromString(item.PriceFilter.TickSize)
	if err != nil {
		return nil, fmt.Errorf("%w: tick size %q", domain.ErrMalformedReferenceData, item.PriceFilter.TickSize)
	}
	step := item.LotSizeFilter.QtyStep
	if step == "" {
		step = item.LotSizeFilter.BasePrecision
	}
	qty, err := decimal.NewFromString(step)
	if err != nil {
		return nil, fmt.Errorf("%w: qty step %q", domain.ErrMalformedReferenceData, step)
	}
	for _, coin := range []string{item.BaseCoin, item.QuoteCoin} {
		if _, err := b.registry.Asset(coin); err == nil {
			continue
		}
		if _, err := b.registry.RegisterAsset(coin, defaultAssetBasis); err != nil {
			return nil, err
		}
	}
	return b.registry.RegisterInstrument(BybitName, item.Symbol, item.BaseCoin, item.QuoteCoin, "", tick, qty)
}

// --- WebSocket ---

// Run streams market data into listener until ctx is cancelled, reconnecting after errors.
func (b *BybitFeed) Run(ctx context.Context, listener domain.Listener) error {
	for {
		err := b.runOnce(ctx, listener)
		if ctx.Err() != nil {
			return nil
		}
		b.logger.Error("websocket session ended", zap.Error(err))
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(reconnectDelay):
		}
	}
}

func (b *BybitFeed) runOnce(ctx context.Context, listener domain.Listener) error {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, b.cfg.WSEndpoint, nil)
	if err != nil {
		return fmt.Errorf("dial %s: %w", b.cfg.WSEndpoint, err)
	}
	defer conn.Close()

	b.mu.Lock()
	b.books = make(map[string]*levelBook)
	b.mu.Unlock()

	var writeMu sync.Mutex
	write := func(v any) error {
		writeMu.Lock()
		defer writeMu.Unlock()
		return conn.WriteJSON(v)
	}
	if err := write(map[string]any{"op": "subscribe", "args": b.topics()}); err != nil {
		return fmt.Errorf("subscribe: %w", err)
	}

	done := make(chan struct{})
	defer close(done)
	go func() {
		ticker := time.NewTicker(pingInterval)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ctx.Done():
				conn.Close()
				return
			case <-ticker.C:
				if err := write(map[string]string{"op": "ping"}); err != nil {
					b.logger.Warn("ping failed", zap.Error(err))
				}
			}
		}
	}()

	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("read: %w", err)
		}
		if err := b.handleMessage(message, listener); err != nil {
			b.logger.Warn("bad message", zap.Error(err))
		}
	}
}

func (b *BybitFeed) topics() []string {
	var args []string
	for _, s := range b.cfg.Symbols {
		s = strings.ToUpper(s)
		args = append(args,
			"publicTrade."+s,
			fmt.Sprintf("orderbook.%d.%s", b.cfg.BookDepth, s),
			fmt.Sprintf("kline.%s.%s", b.cfg.KlineInterval, s),
		)
	}
	return args
}

type wsMessage struct {
	Topic   string          `json:"topic"`
	Type    string          `json:"type"`
	Ts      int64           `json:"ts"`
	Data    json.RawMessage `json:"data"`
	Op      string          `json:"op"`
	Success *bool           `json:"success"`
	RetMsg  string          `json:"ret_msg"`
}

type wsTrade struct {
	Time   int64  `json:"T"`
	Symbol string `json:"s"`
	Side   string `json:"S"`
	Size   string `json:"v"`
	Price  string `json:"p"`
}

type wsOrderBook struct {
	Symbol string     `json:"s"`
	Bids   [][]string `json:"b"`
	Asks   [][]string `json:"a"`
}

type wsKline struct {
	Start   int64  `json:"start"`
	Open    string `json:"open"`
	High    string `json:"high"`
	Low     string `json:"low"`
	Close   string `json:"close"`
	Volume  string `json:"volume"`
	Confirm bool   `json:"confirm"`
}

func (b *BybitFeed) handleMessage(message []byte, listener domain.Listener) error {
	var msg wsMessage
	if err := json.Unmarshal(message, &msg); err != nil {
		return err
	}
	if msg.Op != "" {
		if msg.Success != nil && !*msg.Success {
			return fmt.Errorf("%s rejected: %s", msg.Op, msg.RetMsg)
		}
		return nil
	}

	switch {
	case strings.HasPrefix(msg.Topic, "publicTrade."):
		return b.handleTrades(msg, listener)
	case strings.HasPrefix(msg.Topic, "orderbook."):
		return b.handleOrderBook(msg, listener)
	case strings.HasPrefix(msg.Topic, "kline."):
		return b.handleKlines(msg, listener)
	}
	return nil
}

func (b *BybitFeed) instrument(symbol string) *domain.Instrument {
	inst, err := b.registry.InstrumentByVenue(BybitName, symbol)
	if err != nil {
		b.logger.Debug("message for unknown symbol", zap.String("symbol", symbol))
		return nil
	}
	return inst
}

func (b *BybitFeed) handleTrades(msg wsMessage, listener domain.Listener) error {
	var trades []wsTrade
	if err := json.Unmarshal(msg.Data, &trades); err != nil {
		return fmt.Errorf("%s: %w", msg.Topic, err)
	}
	received := b.timeNow()
	for _, t := range trades {
		inst := b.instrument(t.Symbol)
		if inst == nil {
			continue
		}
		price, err := parseAmount(t.Price, inst.PriceBasis)
		if err != nil {
			return fmt.Errorf("%s price: %w", msg.Topic, err)
		}
		size, err := parseAmount(t.Size, inst.VolumeBasis)
		if err != nil {
			return fmt.Errorf("%s size: %w", msg.Topic, err)
		}
		listener.OnTrade(&domain.Trade{
			Instrument:   inst,
			Time:         time.UnixMilli(t.Time).UTC(),
			TimeReceived: received,
			Price:        price,
			Volume:       size.Abs(),
			Side:         domain.Side(t.Side),
		})
	}
	return nil
}

func (b *BybitFeed) handleOrderBook(msg wsMessage, listener domain.Listener) error {
	var data wsOrderBook
	if err := json.Unmarshal(msg.Data, &data); err != nil {
		return fmt.Errorf("%s: %w", msg.Topic, err)
	}
	inst := b.instrument(data.Symbol)
	if inst == nil {
		return nil
	}

	b.mu.Lock()
	lb, ok := b.books[data.Symbol]
	if !ok || msg.Type == "snapshot" {
		lb = &levelBook{bids: make(map[string]decimal.Decimal), asks: make(map[string]decimal.Decimal)}
		b.books[data.Symbol] = lb
	}
	err := applyLevels(lb.bids, data.Bids)
	if err == nil {
		err = applyLevels(lb.asks, data.Asks)
	}
	if err != nil {
		delete(b.books, data.Symbol)
		b.mu.Unlock()
		return fmt.Errorf("%s: %w", msg.Topic, err)
	}

	book := domain.NewBook(inst, time.UnixMilli(msg.Ts).UTC(), b.timeNow())
	for price, size := range lb.bids {
		if err := book.AddBid(decimal.RequireFromString(price), size); err != nil {
			b.mu.Unlock()
			return err
		}
	}
	for price, size := range lb.asks {
		if err := book.AddAsk(decimal.RequireFromString(price), size); err != nil {
			b.mu.Unlock()
			return err
		}
	}
	b.mu.Unlock()

	book.Sort()
	listener.OnBook(book)
	return nil
}

// applyLevels merges [price, size] updates; a zero size removes the level.
func applyLevels(side map[string]decimal.Decimal, levels [][]string) error {
	for _, l := range levels {
		if len(l) < 2 {
			return fmt.Errorf("level %v has %d fields", l, len(l))
		}
		price, err := decimal.NewFromString(l[0])
		if err != nil {
			return fmt.Errorf("price %q: %w", l[0], err)
		}
		size, err := decimal.NewFromString(l[1])
		if err != nil {
			return fmt.Errorf("size %q: %w", l[1], err)
		}
		key := price.String()
		if size.IsZero() {
			delete(side, key)
			continue
		}
		side[key] = size
	}
	return nil
}

func (b *BybitFeed) handleKlines(msg wsMessage, listener domain.Listener) error {
	var klines []wsKline
	if err := json.Unmarshal(msg.Data, &klines); err != nil {
		return fmt.Errorf("%s: %w", msg.Topic, err)
	}
	parts := strings.Split(msg.Topic, ".")
	if len(parts) != 3 {
		return fmt.Errorf("unexpected topic %s", msg.Topic)
	}
	inst := b.instrument(parts[2])
	if inst == nil {
		return nil
	}

	for _, k := range klines {
		if !k.Confirm {
			continue
		}
		bar := &domain.Bar{Instrument: inst, Time: time.UnixMilli(k.Start).UTC(), Interval: b.cfg.BarInterval}
		var err error
		for _, f := range []struct {
			dst   *domain.Amount
			value string
			basis decimal.Decimal
		}{
			{&bar.Open, k.Open, inst.PriceBasis},
			{&bar.High, k.High, inst.PriceBasis},
			{&bar.Low, k.Low, inst.PriceBasis},
			{&bar.Close, k.Close, inst.PriceBasis},
			{&bar.Volume, k.Volume, inst.VolumeBasis},
		} {
			if *f.dst, err = parseAmount(f.value, f.basis); err != nil {
				return fmt.Errorf("%s: %w", msg.Topic, err)
			}
		}
		listener.OnBar(bar)
	}
	return nil
}

func parseAmount(value string, basis decimal.Decimal) (domain.Amount, error) {
	d, err := decimal.NewFromString(value)
	if err != nil {
		return domain.Amount{}, err
	}
	return domain.AmountFromDecimal(d, basis)
}
