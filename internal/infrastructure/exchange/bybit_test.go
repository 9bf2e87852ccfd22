package exchange

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vitos/crypto_quote_cache/internal/domain"
	"github.com/vitos/crypto_quote_cache/internal/usecase"
	"go.uber.org/zap"
)

type collector struct {
	mu     sync.Mutex
	trades []*domain.Trade
	books  []*domain.Book
	bars   []*domain.Bar
}

func (c *collector) OnTrade(t *domain.Trade) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.trades = append(c.trades, t)
}

func (c *collector) OnBook(b *domain.Book) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.books = append(c.books, b)
}

func (c *collector) OnBar(b *domain.Bar) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.bars = append(c.bars, b)
}

func (c *collector) tradeCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.trades)
}

const instrumentsResponse = `{"retCode":0,"retMsg":"OK","result":{"category":"linear","list":[
	{"symbol":"BTCUSDT","baseCoin":"BTC","quoteCoin":"USDT","status":"Trading",
	 "priceFilter":{"tickSize":"0.10"},"lotSizeFilter":{"qtyStep":"0.001"}},
	{"symbol":"ETHUSDT","baseCoin":"ETH","quoteCoin":"USDT","status":"Trading",
	 "priceFilter":{"tickSize":"0.01"},"lotSizeFilter":{"qtyStep":"0.01"}},
	{"symbol":"OLDUSDT","baseCoin":"OLD","quoteCoin":"USDT","status":"Closed",
	 "priceFilter":{"tickSize":"0.01"},"lotSizeFilter":{"qtyStep":"1"}}
]}}`

func newTestFeed(t *testing.T, cfg BybitConfig) (*BybitFeed, *usecase.Registry) {
	t.Helper()
	registry := usecase.NewRegistry()
	_, err := registry.RegisterAsset("USDT", decimal.RequireFromString("0.000001"))
	require.NoError(t, err)

	feed := NewBybitFeed(cfg, registry, zap.NewNop())
	feed.timeNow = func() time.Time { return time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC) }
	return feed, registry
}

func instrumentsServer(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v5/market/instruments-info", r.URL.Path)
		assert.Equal(t, "linear", r.URL.Query().Get("category"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(instrumentsResponse))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestBybitFeed_LoadInstruments(t *testing.T) {
	srv := instrumentsServer(t)
	feed, registry := newTestFeed(t, BybitConfig{RESTEndpoint: srv.URL, Symbols: []string{"btcusdt", "OLDUSDT"}})

	instruments, err := feed.LoadInstruments(context.Background())
	require.NoError(t, err)
	require.Len(t, instruments, 1)

	inst := instruments[0]
	assert.Equal(t, "BYBIT:BTC.USDT", inst.Symbol())
	assert.True(t, decimal.RequireFromString("0.1").Equal(inst.PriceBasis))
	assert.True(t, decimal.RequireFromString("0.001").Equal(inst.VolumeBasis))

	byVenue, err := registry.InstrumentByVenue(BybitName, "BTCUSDT")
	require.NoError(t, err)
	assert.Same(t, inst, byVenue)

	usdt, err := registry.Asset("USDT")
	require.NoError(t, err)
	assert.True(t, decimal.RequireFromString("0.000001").Equal(usdt.Basis), "configured basis kept")
	btc, err := registry.Asset("BTC")
	require.NoError(t, err)
	assert.True(t, defaultAssetBasis.Equal(btc.Basis))
}

func TestBybitFeed_LoadInstrumentsAll(t *testing.T) {
	srv := instrumentsServer(t)
	feed, _ := newTestFeed(t, BybitConfig{RESTEndpoint: srv.URL})

	instruments, err := feed.LoadInstruments(context.Background())
	require.NoError(t, err)
	assert.Len(t, instruments, 2)
}

func TestBybitFeed_LoadInstrumentsAPIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"retCode":10001,"retMsg":"params error"}`))
	}))
	defer srv.Close()
	feed, _ := newTestFeed(t, BybitConfig{RESTEndpoint: srv.URL})

	_, err := feed.LoadInstruments(context.Background())
	assert.ErrorContains(t, err, "params error")
}

func loadedFeed(t *testing.T) *BybitFeed {
	t.Helper()
	srv := instrumentsServer(t)
	feed, _ := newTestFeed(t, BybitConfig{RESTEndpoint: srv.URL, Symbols: []string{"BTCUSDT"}, KlineInterval: "5", BarInterval: 5 * time.Minute})
	_, err := feed.LoadInstruments(context.Background())
	require.NoError(t, err)
	return feed
}

func TestBybitFeed_HandleTrades(t *testing.T) {
	feed := loadedFeed(t)
	c := &collector{}

	msg := `{"topic":"publicTrade.BTCUSDT","type":"snapshot","ts":1709294400100,"data":[
		{"T":1709294400000,"s":"BTCUSDT","S":"Buy","v":"0.015","p":"61234.5"},
		{"T":1709294400050,"s":"XRPUSDT","S":"Sell","v":"10","p":"0.6"}]}`
	require.NoError(t, feed.handleMessage([]byte(msg), c))

	require.Len(t, c.trades, 1)
	tr := c.trades[0]
	assert.Equal(t, "BYBIT:BTC.USDT", tr.Instrument.Symbol())
	assert.Equal(t, domain.SideBuy, tr.Side)
	assert.Equal(t, int64(612345), tr.Price.Count)
	assert.Equal(t, int64(15), tr.Volume.Count)
	assert.True(t, tr.Time.Equal(time.UnixMilli(1709294400000)))
	assert.True(t, tr.TimeReceived.Equal(feed.timeNow()))
}

func TestBybitFeed_HandleOrderBookSnapshotAndDelta(t *testing.T) {
	feed := loadedFeed(t)
	c := &collector{}

	snapshot := `{"topic":"orderbook.50.BTCUSDT","type":"snapshot","ts":1709294400000,"data":{
		"s":"BTCUSDT","b":[["61000.0","1.5"],["60999.9","2"]],"a":[["61000.1","0.5"],["61000.5","3"]],"u":1}}`
	delta := `{"topic":"orderbook.50.BTCUSDT","type":"delta","ts":1709294400200,"data":{
		"s":"BTCUSDT","b":[["61000.0","0"],["61000.05","1"]],"a":[["61000.1","0.7"]],"u":2}}`

	require.NoError(t, feed.handleMessage([]byte(snapshot), c))
	require.NoError(t, feed.handleMessage([]byte(delta), c))
	require.Len(t, c.books, 2)

	first := c.books[0]
	assert.Equal(t, int64(610000), first.BestBid().Price.Count)
	assert.Len(t, first.Bids(), 2)

	second := c.books[1]
	require.Len(t, second.Bids(), 2)
	// 61000.05 rounds half-even onto the 0.1 tick.
	assert.Equal(t, int64(610000), second.BestBid().Price.Count)
	assert.Equal(t, int64(1000), second.BestBid().Volume.Count)
	assert.Equal(t, int64(-700), second.BestAsk().Volume.Count)
	assert.Len(t, second.Asks(), 2)
	assert.True(t, second.Time.After(first.Time))
}

func TestBybitFeed_HandleOrderBookBadLevel(t *testing.T) {
	feed := loadedFeed(t)
	c := &collector{}

	msg := `{"topic":"orderbook.50.BTCUSDT","type":"snapshot","ts":1,"data":{"s":"BTCUSDT","b":[["x","1"]],"a":[]}}`
	assert.Error(t, feed.handleMessage([]byte(msg), c))
	assert.Empty(t, c.books)
}

func TestBybitFeed_HandleKlinesConfirmedOnly(t *testing.T) {
	feed := loadedFeed(t)
	c := &collector{}

	msg := `{"topic":"kline.5.BTCUSDT","type":"snapshot","ts":1709294700000,"data":[
		{"start":1709294400000,"end":1709294699999,"interval":"5","open":"61000","close":"61100.2","high":"61200","low":"60900","volume":"12.5","confirm":true},
		{"start":1709294700000,"end":1709294999999,"interval":"5","open":"61100.2","close":"61100.2","high":"61100.2","low":"61100.2","volume":"0.1","confirm":false}]}`
	require.NoError(t, feed.handleMessage([]byte(msg), c))

	require.Len(t, c.bars, 1)
	bar := c.bars[0]
	assert.Equal(t, 5*time.Minute, bar.Interval)
	assert.Equal(t, int64(611002), bar.Close.Count)
	assert.Equal(t, int64(12500), bar.Volume.Count)
	assert.True(t, bar.Time.Equal(time.UnixMilli(1709294400000)))
}

func TestBybitFeed_HandleOpResponses(t *testing.T) {
	feed := loadedFeed(t)
	c := &collector{}

	assert.NoError(t, feed.handleMessage([]byte(`{"op":"subscribe","success":true}`), c))
	assert.ErrorContains(t, feed.handleMessage([]byte(`{"op":"subscribe","success":false,"ret_msg":"bad topic"}`), c), "bad topic")
	assert.Error(t, feed.handleMessage([]byte(`not json`), c))
}

func TestBybitFeed_RunStreamsOverWebsocket(t *testing.T) {
	feed := loadedFeed(t)

	upgrader := websocket.Upgrader{}
	subscribed := make(chan []string, 1)
	ws := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		var sub struct {
			Op   string   `json:"op"`
			Args []string `json:"args"`
		}
		if err := conn.ReadJSON(&sub); err != nil {
			return
		}
		subscribed <- sub.Args
		_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"op":"subscribe","success":true}`))
		_ = conn.WriteMessage(websocket.TextMessage, []byte(
			`{"topic":"publicTrade.BTCUSDT","ts":1709294400100,"data":[{"T":1709294400000,"s":"BTCUSDT","S":"Sell","v":"0.5","p":"61000"}]}`))
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	defer ws.Close()
	feed.cfg.WSEndpoint = "ws" + strings.TrimPrefix(ws.URL, "http")

	ctx, cancel := context.WithCancel(context.Background())
	c := &collector{}
	done := make(chan error, 1)
	go func() { done <- feed.Run(ctx, c) }()

	select {
	case args := <-subscribed:
		assert.Equal(t, []string{"publicTrade.BTCUSDT", "orderbook.50.BTCUSDT", "kline.5.BTCUSDT"}, args)
	case <-time.After(5 * time.Second):
		t.Fatal("no subscription received")
	}
	require.Eventually(t, func() bool { return c.tradeCount() == 1 }, 5*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("feed did not stop")
	}
}
