package domain

import (
	"errors"
	"fmt"
	"sync"
)

// MaxChainLength is the number of diff books allowed after a root before the next book
// is stored in full again.
const MaxChainLength = 20

// BookChain compacts successive books of each instrument into diffs against the previous book.
// Instruments are compacted independently; books of one instrument are serialized.
type BookChain struct {
	chains sync.Map // instrument symbol -> *chainState
}

type chainState struct {
	mu      sync.Mutex
	lastID  uint64
	length  int
	segment []*Book
}

func NewBookChain() *BookChain {
	return &BookChain{}
}

func (c *BookChain) state(symbol string) *chainState {
	if s, ok := c.chains.Load(symbol); ok {
		return s.(*chainState)
	}
	s, _ := c.chains.LoadOrStore(symbol, &chainState{})
	return s.(*chainState)
}

// Compact appends book to its instrument's chain. The first book and every book that
// would exceed MaxChainLength become roots; every other book is reduced to a diff against
// the resolved sides of the current tail. Offers take the book's times. The same book is
// returned.
func (c *BookChain) Compact(book *Book) (*Book, error) {
	if book == nil || book.Instrument == nil {
		return nil, fmt.Errorf("%w: book without instrument", ErrMalformedReferenceData)
	}
	if book.id != 0 {
		return book, nil
	}
	book.stampOffers()
	book.Sort()

	s := c.state(book.Instrument.Symbol())
	s.mu.Lock()
	defer s.mu.Unlock()

	var tail *Book
	if n := len(s.segment); n > 0 {
		tail = s.segment[n-1]
	}

	root := tail == nil
	if !root {
		s.length++
		if s.length >= MaxChainLength {
			root = true
		}
	}
	var tailBids, tailAsks []Offer
	if !root {
		var err error
		tailBids, tailAsks, err = tail.Resolve()
		if err != nil {
			// an unreadable tail cannot serve as a parent
			root = true
		}
	}

	s.lastID++
	book.id = s.lastID
	if root {
		s.length = 0
		s.segment = []*Book{book}
		book.parentID = 0
		book.segment = s.segment
		book.pos = 0
		return book, nil
	}

	bids, asks := book.bids, book.asks
	bidIns, bidRem := diffSide(tailBids, bids)
	askIns, askRem := diffSide(tailAsks, asks)
	book.bids, book.bidRemovals = bidIns, bidRem
	book.asks, book.askRemovals = askIns, askRem
	book.parentID = tail.id

	s.segment = append(s.segment, book)
	book.segment = s.segment
	book.pos = len(s.segment) - 1
	return book, nil
}

// Tail returns the most recently compacted book of an instrument, or nil.
func (c *BookChain) Tail(instrument *Instrument) *Book {
	v, ok := c.chains.Load(instrument.Symbol())
	if !ok {
		return nil
	}
	s := v.(*chainState)
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.segment) == 0 {
		return nil
	}
	return s.segment[len(s.segment)-1]
}

// Length is the number of diff books since the instrument's current root.
func (c *BookChain) Length(instrument *Instrument) int {
	v, ok := c.chains.Load(instrument.Symbol())
	if !ok {
		return 0
	}
	s := v.(*chainState)
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.length
}

// Restore rebuilds books from persisted records ordered oldest first and makes the last
// restored book the chain's tail. Records whose parent is not the preceding record are
// skipped up to the next root; the error then wraps ErrBrokenChain.
func (c *BookChain) Restore(instrument *Instrument, records []BookRecord) ([]*Book, error) {
	if instrument == nil {
		return nil, fmt.Errorf("%w: restore without instrument", ErrMalformedReferenceData)
	}
	s := c.state(instrument.Symbol())
	s.mu.Lock()
	defer s.mu.Unlock()

	var (
		books   []*Book
		segment []*Book
		errs    []error
		lastID  = s.lastID
	)
	for _, rec := range records {
		book, err := rec.book(instrument)
		if err != nil {
			errs = append(errs, fmt.Errorf("record %d: %w", rec.ID, err))
			segment = nil
			continue
		}
		if rec.ID > lastID {
			lastID = rec.ID
		}
		if book.parentID != 0 {
			if len(segment) == 0 || segment[len(segment)-1].id != book.parentID {
				errs = append(errs, fmt.Errorf("%w: record %d parent %d", ErrBrokenChain, rec.ID, rec.ParentID))
				segment = nil
				continue
			}
		} else {
			segment = nil
		}
		segment = append(segment, book)
		book.segment = segment
		book.pos = len(segment) - 1
		books = append(books, book)
	}

	s.lastID = lastID
	if len(segment) > 0 {
		s.segment = segment
		s.length = len(segment) - 1
	}
	return books, errors.Join(errs...)
}
