package usecase

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vitos/crypto_quote_cache/internal/domain"
)

type failingStore struct{ memoryStore }

func (f *failingStore) SaveBook(context.Context, domain.BookRecord) error {
	return errors.New("disk full")
}

func TestBookArchiver_DropsWhenFullAndDrainsOnStop(t *testing.T) {
	f := newQuoteFixture(t, QuoteServiceOptions{})
	store := &memoryStore{}
	arch := NewBookArchiver(store, 2, nil)
	chain := domain.NewBookChain()

	for i := 0; i < 3; i++ {
		b := f.book(t, f.m1, f.now.Add(time.Duration(i)*time.Second), []quoteLevel{{"100", "1"}}, nil)
		_, err := chain.Compact(b)
		require.NoError(t, err)
		arch.Accept(b)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	arch.Run(ctx)

	saved, dropped, failed := arch.Stats()
	assert.Equal(t, int64(2), saved)
	assert.Equal(t, int64(1), dropped)
	assert.Equal(t, int64(0), failed)

	recs := store.records[f.m1.Symbol()]
	require.Len(t, recs, 2)
	assert.Equal(t, uint64(1), recs[0].ID)
	assert.Equal(t, uint64(1), recs[1].ParentID)
}

func TestBookArchiver_SavesWhileRunning(t *testing.T) {
	f := newQuoteFixture(t, QuoteServiceOptions{})
	store := &memoryStore{}
	arch := NewBookArchiver(store, 0, nil)
	svc := NewQuoteService(f.reg, QuoteServiceOptions{Sink: arch}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		arch.Run(ctx)
		close(done)
	}()

	for i := 0; i < 5; i++ {
		svc.OnBook(f.book(t, f.m1, f.now.Add(time.Duration(i)*time.Second), []quoteLevel{{"100", "1"}}, []quoteLevel{{"101", "2"}}))
	}
	require.Eventually(t, func() bool {
		saved, _, _ := arch.Stats()
		return saved == 5
	}, time.Second, 5*time.Millisecond)
	cancel()
	<-done

	restored, err := domain.NewBookChain().Restore(f.m1, store.records[f.m1.Symbol()])
	require.NoError(t, err)
	require.Len(t, restored, 5)
	assert.Len(t, restored[4].Asks(), 1)
}

func TestBookArchiver_CountsFailures(t *testing.T) {
	f := newQuoteFixture(t, QuoteServiceOptions{})
	arch := NewBookArchiver(&failingStore{}, 4, nil)

	uncompacted := f.book(t, f.m1, f.now, nil, nil)
	compacted := f.book(t, f.m1, f.now, nil, nil)
	_, err := domain.NewBookChain().Compact(compacted)
	require.NoError(t, err)

	arch.Accept(uncompacted)
	arch.Accept(compacted)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	arch.Run(ctx)

	saved, _, failed := arch.Stats()
	assert.Equal(t, int64(0), saved)
	assert.Equal(t, int64(2), failed)
}
