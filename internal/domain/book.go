package domain

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/btree"
	"github.com/shopspring/decimal"
)

// Book is an order book snapshot for one instrument.
//
// A freshly built book holds its full sides. Once compacted into a BookChain a
// non-root book keeps only the offers it adds and the indices of the parent
// offers it removes; Bids and Asks rebuild the full sides on first read.
// A book must not be modified after it has been compacted or published.
type Book struct {
	Instrument   *Instrument
	Time         time.Time
	TimeReceived time.Time

	id       uint64
	parentID uint64

	// full sides for a root, insertions otherwise
	bids []Offer
	asks []Offer

	bidRemovals []int
	askRemovals []int

	// segment holds the books of this book's chain from its root up to the book itself
	segment []*Book
	pos     int

	resolveOnce  sync.Once
	resolvedBids []Offer
	resolvedAsks []Offer
	resolveErr   error
}

func NewBook(instrument *Instrument, t, received time.Time) *Book {
	return &Book{Instrument: instrument, Time: t, TimeReceived: received}
}

// AddBid quantizes price and volume with the instrument's bases. Volume is stored positive.
func (b *Book) AddBid(price, volume decimal.Decimal) error {
	return b.add(price, volume.Abs(), true)
}

// AddAsk quantizes price and volume with the instrument's bases. Volume is stored negative.
func (b *Book) AddAsk(price, volume decimal.Decimal) error {
	return b.add(price, volume.Abs().Neg(), false)
}

func (b *Book) add(price, volume decimal.Decimal, bid bool) error {
	if b.Instrument == nil {
		return fmt.Errorf("%w: book without instrument", ErrMalformedReferenceData)
	}
	p, err := b.Instrument.Price(price)
	if err != nil {
		return fmt.Errorf("quantize price %s: %w", price, err)
	}
	v, err := b.Instrument.Volume(volume)
	if err != nil {
		return fmt.Errorf("quantize volume %s: %w", volume, err)
	}
	b.AddOffer(Offer{
		Instrument:   b.Instrument,
		Time:         b.Time,
		TimeReceived: b.TimeReceived,
		Price:        p,
		Volume:       v,
	}, bid)
	return nil
}

// AddOffer appends an already quantized offer to the bid or ask side.
func (b *Book) AddOffer(o Offer, bid bool) {
	if bid {
		b.bids = append(b.bids, o)
	} else {
		b.asks = append(b.asks, o)
	}
}

// Sort orders the stored sides in place.
func (b *Book) Sort() {
	b.bids = sortOffers(b.bids, true)
	b.asks = sortOffers(b.asks, false)
}

// stampOffers sets every stored offer's times to the book's. Records keep one time per
// book, so this keeps a restored chain ordered exactly like the live one.
func (b *Book) stampOffers() {
	for _, side := range [][]Offer{b.bids, b.asks} {
		for i := range side {
			side[i].Time = b.Time
			side[i].TimeReceived = b.TimeReceived
		}
	}
}

// ID is the book's position in its instrument's chain; zero before compaction.
func (b *Book) ID() uint64 {
	return b.id
}

// ParentID is zero for a root.
func (b *Book) ParentID() uint64 {
	return b.parentID
}

func (b *Book) IsRoot() bool {
	return b.parentID == 0
}

// Bids returns the resolved bid side, best first. The slice must not be modified.
func (b *Book) Bids() []Offer {
	bids, _, _ := b.Resolve()
	return bids
}

// Asks returns the resolved ask side, best first. The slice must not be modified.
func (b *Book) Asks() []Offer {
	_, asks, _ := b.Resolve()
	return asks
}

func (b *Book) IsEmpty() bool {
	bids, asks, _ := b.Resolve()
	return len(bids) == 0 && len(asks) == 0
}

// Resolve rebuilds the full sides by walking the parent chain. The result is memoized.
func (b *Book) Resolve() ([]Offer, []Offer, error) {
	b.resolveOnce.Do(func() {
		b.resolvedBids, b.resolvedAsks, b.resolveErr = b.resolve()
	})
	return b.resolvedBids, b.resolvedAsks, b.resolveErr
}

func (b *Book) resolve() ([]Offer, []Offer, error) {
	if b.parentID == 0 {
		return sortOffers(cloneOffers(b.bids), true), sortOffers(cloneOffers(b.asks), false), nil
	}
	parent := b.parent()
	if parent == nil {
		return nil, nil, fmt.Errorf("%w: %s book %d parent %d", ErrBrokenChain, b.Instrument, b.id, b.parentID)
	}
	pBids, pAsks, err := parent.Resolve()
	if err != nil {
		return nil, nil, err
	}
	bids, err := applyDiff(pBids, b.bidRemovals, b.bids, true)
	if err != nil {
		return nil, nil, fmt.Errorf("book %d bids: %w", b.id, err)
	}
	asks, err := applyDiff(pAsks, b.askRemovals, b.asks, false)
	if err != nil {
		return nil, nil, fmt.Errorf("book %d asks: %w", b.id, err)
	}
	return bids, asks, nil
}

func (b *Book) parent() *Book {
	if b.pos == 0 || b.pos > len(b.segment) {
		return nil
	}
	p := b.segment[b.pos-1]
	if p.id != b.parentID {
		return nil
	}
	return p
}

func (b *Book) zeroOffer() Offer {
	o := Offer{Instrument: b.Instrument, Time: b.Time, TimeReceived: b.TimeReceived}
	if b.Instrument != nil {
		o.Price = NewAmount(0, b.Instrument.PriceBasis)
		o.Volume = NewAmount(0, b.Instrument.VolumeBasis)
	}
	return o
}

// BestBid returns the highest bid, or a zero offer when the side is empty.
func (b *Book) BestBid() Offer {
	bids := b.Bids()
	if len(bids) == 0 {
		return b.zeroOffer()
	}
	return bids[0]
}

// BestAsk returns the lowest ask, or a zero offer when the side is empty.
func (b *Book) BestAsk() Offer {
	asks := b.Asks()
	if len(asks) == 0 {
		return b.zeroOffer()
	}
	return asks[0]
}

// BestBidByVolume returns the first bid level at which the cumulative bid volume
// covers volume, or the deepest level if the side is too thin.
func (b *Book) BestBidByVolume(volume Amount) Offer {
	return offerByVolume(b.Bids(), volume, b.zeroOffer())
}

// BestAskByVolume is the ask side counterpart of BestBidByVolume.
func (b *Book) BestAskByVolume(volume Amount) Offer {
	return offerByVolume(b.Asks(), volume, b.zeroOffer())
}

func offerByVolume(side []Offer, volume Amount, zero Offer) Offer {
	if len(side) == 0 {
		return zero
	}
	want := volume.Abs().Decimal()
	covered := decimal.Zero
	for _, o := range side {
		covered = covered.Add(o.Volume.Abs().Decimal())
		if covered.Cmp(want) >= 0 {
			return o
		}
	}
	return side[len(side)-1]
}

// BidPrice is the best bid price, zero at the price basis when there are no bids.
func (b *Book) BidPrice() Amount {
	return b.BestBid().Price
}

// AskPrice is the best ask price, zero at the price basis when there are no asks.
func (b *Book) AskPrice() Amount {
	return b.BestAsk().Price
}

// BookDiff lists offers present in one book but not the other, matched by price and volume.
type BookDiff struct {
	AddedBids   []Offer
	RemovedBids []Offer
	AddedAsks   []Offer
	RemovedAsks []Offer
}

func (d BookDiff) IsEmpty() bool {
	return len(d.AddedBids)+len(d.RemovedBids)+len(d.AddedAsks)+len(d.RemovedAsks) == 0
}

// Diff compares the resolved sides of b against previous.
func (b *Book) Diff(previous *Book) BookDiff {
	var prevBids, prevAsks []Offer
	if previous != nil {
		prevBids, prevAsks = previous.Bids(), previous.Asks()
	}
	bidIns, bidRem := diffSide(prevBids, b.Bids())
	askIns, askRem := diffSide(prevAsks, b.Asks())
	d := BookDiff{AddedBids: bidIns, AddedAsks: askIns}
	for _, i := range bidRem {
		d.RemovedBids = append(d.RemovedBids, prevBids[i])
	}
	for _, i := range askRem {
		d.RemovedAsks = append(d.RemovedAsks, prevAsks[i])
	}
	return d
}

type offerKey struct {
	price  int64
	volume int64
}

func keyOf(o Offer) offerKey {
	return offerKey{price: o.Price.Count, volume: o.Volume.Count}
}

// diffSide returns the offers of next missing from prev and the indices of prev missing from next.
func diffSide(prev, next []Offer) (insertions []Offer, removals []int) {
	wanted := make(map[offerKey]int, len(next))
	for _, o := range next {
		wanted[keyOf(o)]++
	}
	kept := make(map[offerKey]int, len(prev))
	for i, o := range prev {
		k := keyOf(o)
		if wanted[k] > 0 {
			wanted[k]--
			kept[k]++
			continue
		}
		removals = append(removals, i)
	}
	for _, o := range next {
		k := keyOf(o)
		if kept[k] > 0 {
			kept[k]--
			continue
		}
		insertions = append(insertions, o)
	}
	return insertions, removals
}

func applyDiff(parent []Offer, removals []int, insertions []Offer, bids bool) ([]Offer, error) {
	removed := make(map[int]struct{}, len(removals))
	for _, i := range removals {
		if i < 0 || i >= len(parent) {
			return nil, fmt.Errorf("%w: removal index %d out of %d offers", ErrBrokenChain, i, len(parent))
		}
		removed[i] = struct{}{}
	}
	out := make([]Offer, 0, len(parent)-len(removed)+len(insertions))
	for i, o := range parent {
		if _, ok := removed[i]; !ok {
			out = append(out, o)
		}
	}
	out = append(out, insertions...)
	return sortOffers(out, bids), nil
}

func cloneOffers(offers []Offer) []Offer {
	if offers == nil {
		return nil
	}
	out := make([]Offer, len(offers))
	copy(out, offers)
	return out
}

type sortedOffer struct {
	offer Offer
	seq   int
}

// sortOffers orders a side: best price first, then oldest, then largest volume,
// then insertion order.
func sortOffers(offers []Offer, bids bool) []Offer {
	if len(offers) < 2 {
		return offers
	}
	tree := btree.NewG(16, func(a, b sortedOffer) bool {
		if c := a.offer.Price.Cmp(b.offer.Price); c != 0 {
			if bids {
				return c > 0
			}
			return c < 0
		}
		if !a.offer.Time.Equal(b.offer.Time) {
			return a.offer.Time.Before(b.offer.Time)
		}
		if c := a.offer.Volume.Abs().Cmp(b.offer.Volume.Abs()); c != 0 {
			return c > 0
		}
		return a.seq < b.seq
	})
	for i, o := range offers {
		tree.ReplaceOrInsert(sortedOffer{offer: o, seq: i})
	}
	out := offers[:0]
	tree.Ascend(func(item sortedOffer) bool {
		out = append(out, item.offer)
		return true
	})
	return out
}
