package domain

import "context"

// Listener receives market data events. Implementations must be safe for concurrent use.
type Listener interface {
	OnTrade(trade *Trade)
	OnBook(book *Book)
	OnBar(bar *Bar)
}

// ReferenceData resolves the immutable assets and instruments the cache quotes.
type ReferenceData interface {
	Asset(symbol string) (Asset, error)
	Instrument(symbol string) (*Instrument, error)
	InstrumentByVenue(exchange, venueSymbol string) (*Instrument, error)
	Pair(symbol string) (AssetPair, error)
	// SelfInstrument finds or creates the synthetic cross-venue instrument of a pair.
	SelfInstrument(pair AssetPair) *Instrument
}

// BookSink accepts compacted books. Accept must not block.
type BookSink interface {
	Accept(book *Book)
}

// BookStore persists compacted book records.
type BookStore interface {
	SaveBook(ctx context.Context, rec BookRecord) error
	// LoadChain returns up to limit of the newest records of an instrument, oldest first,
	// extended back to the nearest root.
	LoadChain(ctx context.Context, instrument string, limit int) ([]BookRecord, error)
	ListInstruments(ctx context.Context) ([]string, error)
}

// Feed is a venue connection that turns venue messages into market data events.
type Feed interface {
	LoadInstruments(ctx context.Context) ([]*Instrument, error)
	Run(ctx context.Context, listener Listener) error
}
