package storage

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vitos/crypto_quote_cache/internal/domain"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	store, err := NewSQLiteStore(filepath.Join(t.TempDir(), "quotes.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func testInstrument(t *testing.T) *domain.Instrument {
	t.Helper()
	btc, err := domain.NewAsset("BTC", decimal.RequireFromString("0.00000001"))
	require.NoError(t, err)
	usdt, err := domain.NewAsset("USDT", decimal.RequireFromString("0.000001"))
	require.NoError(t, err)
	pair, err := domain.NewAssetPair(btc, usdt, "")
	require.NoError(t, err)
	inst, err := domain.NewInstrument("BYBIT", "BTCUSDT", pair, decimal.RequireFromString("0.1"), decimal.RequireFromString("0.001"))
	require.NoError(t, err)
	return inst
}

func saveBooks(t *testing.T, store *SQLiteStore, inst *domain.Instrument, n int) []*domain.Book {
	t.Helper()
	chain := domain.NewBookChain()
	t0 := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	var books []*domain.Book
	for i := 0; i < n; i++ {
		at := t0.Add(time.Duration(i) * time.Second)
		b := domain.NewBook(inst, at, at.Add(time.Millisecond))
		require.NoError(t, b.AddBid(decimal.NewFromInt(int64(60000+i%3)), decimal.NewFromFloat(0.5)))
		require.NoError(t, b.AddBid(decimal.NewFromInt(59990), decimal.NewFromInt(1)))
		require.NoError(t, b.AddAsk(decimal.NewFromInt(int64(60010+i%2)), decimal.NewFromInt(2)))
		_, err := chain.Compact(b)
		require.NoError(t, err)
		rec, err := domain.NewBookRecord(b)
		require.NoError(t, err)
		require.NoError(t, store.SaveBook(context.Background(), rec))
		books = append(books, b)
	}
	return books
}

func TestSQLiteStore_LoadChainExtendsToRoot(t *testing.T) {
	store := newTestStore(t)
	inst := testInstrument(t)
	ctx := context.Background()
	saveBooks(t, store, inst, domain.MaxChainLength+5)

	tests := []struct {
		name   string
		limit  int
		first  uint64
		length int
	}{
		{"inside second chain", 3, 21, 5},
		{"crosses into first chain", 10, 1, 25},
		{"everything", 0, 1, 25},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			recs, err := store.LoadChain(ctx, inst.Symbol(), tt.limit)
			require.NoError(t, err)
			require.Len(t, recs, tt.length)
			assert.Equal(t, tt.first, recs[0].ID)
			assert.Equal(t, uint64(0), recs[0].ParentID)
			assert.Equal(t, uint64(25), recs[len(recs)-1].ID)
		})
	}

	recs, err := store.LoadChain(ctx, "BYBIT:NONE.USDT", 10)
	require.NoError(t, err)
	assert.Empty(t, recs)
}

func TestSQLiteStore_RestoredChainMatchesOriginal(t *testing.T) {
	store := newTestStore(t)
	inst := testInstrument(t)
	ctx := context.Background()
	books := saveBooks(t, store, inst, 8)

	recs, err := store.LoadChain(ctx, inst.Symbol(), 0)
	require.NoError(t, err)
	restored, err := domain.NewBookChain().Restore(inst, recs)
	require.NoError(t, err)
	require.Len(t, restored, len(books))

	for i, b := range books {
		r := restored[i]
		assert.True(t, b.Time.Equal(r.Time), "book %d time", i+1)
		assert.True(t, b.TimeReceived.Equal(r.TimeReceived), "book %d received", i+1)
		assert.Equal(t, b.BestBid().Price, r.BestBid().Price, "book %d best bid", i+1)
		assert.Equal(t, len(b.Bids()), len(r.Bids()))
		assert.Equal(t, b.BestAsk().Volume.Count, r.BestAsk().Volume.Count)
	}

	symbols, err := store.ListInstruments(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{inst.Symbol()}, symbols)

	n, err := store.CountBooks(ctx, inst.Symbol())
	require.NoError(t, err)
	assert.Equal(t, 8, n)
}

func TestSQLiteStore_SaveIsIdempotent(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	rec := domain.BookRecord{Instrument: "BYBIT:BTC.USDT", ID: 1, Time: time.Now(), TimeReceived: time.Now()}

	require.NoError(t, store.SaveBook(ctx, rec))
	require.NoError(t, store.SaveBook(ctx, rec))

	n, err := store.CountBooks(ctx, rec.Instrument)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}
