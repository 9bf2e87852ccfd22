package usecase

import (
	"context"
	"sync/atomic"

	"github.com/vitos/crypto_quote_cache/internal/domain"
	"go.uber.org/zap"
)

const defaultArchiveQueue = 1024

// BookArchiver persists compacted books in the background. Accept never blocks: when the
// queue is full the book is dropped and counted.
type BookArchiver struct {
	store  domain.BookStore
	logger *zap.Logger
	queue  chan *domain.Book

	saved   atomic.Int64
	dropped atomic.Int64
	failed  atomic.Int64
}

func NewBookArchiver(store domain.BookStore, queueSize int, logger *zap.Logger) *BookArchiver {
	if queueSize <= 0 {
		queueSize = defaultArchiveQueue
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &BookArchiver{
		store:  store,
		logger: logger,
		queue:  make(chan *domain.Book, queueSize),
	}
}

func (a *BookArchiver) Accept(book *domain.Book) {
	select {
	case a.queue <- book:
	default:
		if a.dropped.Add(1)%100 == 1 {
			a.logger.Warn("archive queue full, dropping books",
				zap.String("instrument", book.Instrument.Symbol()),
				zap.Int64("dropped", a.dropped.Load()))
		}
	}
}

// Run writes queued books until ctx is cancelled, then flushes what is already queued.
func (a *BookArchiver) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			a.drain()
			a.logger.Info("book archiver stopped",
				zap.Int64("saved", a.saved.Load()),
				zap.Int64("dropped", a.dropped.Load()),
				zap.Int64("failed", a.failed.Load()))
			return
		case book := <-a.queue:
			a.save(ctx, book)
		}
	}
}

func (a *BookArchiver) drain() {
	for {
		select {
		case book := <-a.queue:
			a.save(context.Background(), book)
		default:
			return
		}
	}
}

func (a *BookArchiver) save(ctx context.Context, book *domain.Book) {
	rec, err := domain.NewBookRecord(book)
	if err == nil {
		err = a.store.SaveBook(ctx, rec)
	}
	if err != nil {
		a.failed.Add(1)
		a.logger.Error("failed to archive book",
			zap.String("instrument", book.Instrument.Symbol()),
			zap.Uint64("book_id", book.ID()),
			zap.Error(err))
		return
	}
	a.saved.Add(1)
}

// Stats returns the number of saved, dropped and failed books.
func (a *BookArchiver) Stats() (saved, dropped, failed int64) {
	return a.saved.Load(), a.dropped.Load(), a.failed.Load()
}
