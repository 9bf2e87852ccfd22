package domain

import (
	"encoding/binary"
	"fmt"
	"math"
	"time"
)

// BookRecord is the persisted form of a compacted book. A root stores its full sides
// as insertions and no removals.
type BookRecord struct {
	Instrument    string
	ID            uint64
	ParentID      uint64
	Time          time.Time
	TimeReceived  time.Time
	BidInsertions []byte
	BidRemovals   []byte
	AskInsertions []byte
	AskRemovals   []byte
}

// NewBookRecord encodes a compacted book.
func NewBookRecord(b *Book) (BookRecord, error) {
	if b.id == 0 {
		return BookRecord{}, fmt.Errorf("book for %s has not been compacted", b.Instrument)
	}
	rec := BookRecord{
		Instrument:   b.Instrument.Symbol(),
		ID:           b.id,
		ParentID:     b.parentID,
		Time:         b.Time,
		TimeReceived: b.TimeReceived,
	}
	var err error
	if rec.BidInsertions, err = EncodeOffers(b.bids); err != nil {
		return BookRecord{}, err
	}
	if rec.AskInsertions, err = EncodeOffers(b.asks); err != nil {
		return BookRecord{}, err
	}
	if rec.BidRemovals, err = EncodeIndices(b.bidRemovals); err != nil {
		return BookRecord{}, err
	}
	if rec.AskRemovals, err = EncodeIndices(b.askRemovals); err != nil {
		return BookRecord{}, err
	}
	return rec, nil
}

// book decodes the record into an unlinked Book; the caller attaches it to a segment.
func (r BookRecord) book(instrument *Instrument) (*Book, error) {
	if r.ID == 0 {
		return nil, fmt.Errorf("%w: record without id", ErrBrokenChain)
	}
	b := NewBook(instrument, r.Time, r.TimeReceived)
	b.id = r.ID
	b.parentID = r.ParentID

	var err error
	if b.bids, err = DecodeOffers(r.BidInsertions, b); err != nil {
		return nil, fmt.Errorf("bid insertions: %w", err)
	}
	if b.asks, err = DecodeOffers(r.AskInsertions, b); err != nil {
		return nil, fmt.Errorf("ask insertions: %w", err)
	}
	if b.bidRemovals, err = DecodeIndices(r.BidRemovals); err != nil {
		return nil, fmt.Errorf("bid removals: %w", err)
	}
	if b.askRemovals, err = DecodeIndices(r.AskRemovals); err != nil {
		return nil, fmt.Errorf("ask removals: %w", err)
	}
	if b.parentID == 0 && (len(b.bidRemovals) > 0 || len(b.askRemovals) > 0) {
		return nil, fmt.Errorf("%w: root record %d has removals", ErrBrokenChain, r.ID)
	}
	return b, nil
}

// EncodeOffers writes a uint32 count followed by (int64 price count, int64 volume count)
// pairs, big-endian.
func EncodeOffers(offers []Offer) ([]byte, error) {
	if uint64(len(offers)) > math.MaxUint32 {
		return nil, fmt.Errorf("too many offers: %d", len(offers))
	}
	buf := make([]byte, 4, 4+16*len(offers))
	binary.BigEndian.PutUint32(buf, uint32(len(offers)))
	for _, o := range offers {
		buf = binary.BigEndian.AppendUint64(buf, uint64(o.Price.Count))
		buf = binary.BigEndian.AppendUint64(buf, uint64(o.Volume.Count))
	}
	return buf, nil
}

// DecodeOffers reads offers written by EncodeOffers using the book's instrument bases and times.
// An empty buffer decodes to no offers.
func DecodeOffers(data []byte, b *Book) ([]Offer, error) {
	if len(data) == 0 {
		return nil, nil
	}
	if len(data) < 4 {
		return nil, fmt.Errorf("%w: offer block of %d bytes", ErrBrokenChain, len(data))
	}
	n := binary.BigEndian.Uint32(data)
	body := data[4:]
	if uint64(len(body)) != uint64(n)*16 {
		return nil, fmt.Errorf("%w: %d offers in %d bytes", ErrBrokenChain, n, len(body))
	}
	if n == 0 {
		return nil, nil
	}
	offers := make([]Offer, 0, n)
	for i := uint32(0); i < n; i++ {
		p := int64(binary.BigEndian.Uint64(body[16*i:]))
		v := int64(binary.BigEndian.Uint64(body[16*i+8:]))
		offers = append(offers, Offer{
			Instrument:   b.Instrument,
			Time:         b.Time,
			TimeReceived: b.TimeReceived,
			Price:        NewAmount(p, b.Instrument.PriceBasis),
			Volume:       NewAmount(v, b.Instrument.VolumeBasis),
		})
	}
	return offers, nil
}

// EncodeIndices writes a uint32 count followed by int32 indices, big-endian.
func EncodeIndices(indices []int) ([]byte, error) {
	if uint64(len(indices)) > math.MaxUint32 {
		return nil, fmt.Errorf("too many indices: %d", len(indices))
	}
	buf := make([]byte, 4, 4+4*len(indices))
	binary.BigEndian.PutUint32(buf, uint32(len(indices)))
	for _, i := range indices {
		if i < 0 || i > math.MaxInt32 {
			return nil, fmt.Errorf("index %d out of int32 range", i)
		}
		buf = binary.BigEndian.AppendUint32(buf, uint32(int32(i)))
	}
	return buf, nil
}

func DecodeIndices(data []byte) ([]int, error) {
	if len(data) == 0 {
		return nil, nil
	}
	if len(data) < 4 {
		return nil, fmt.Errorf("%w: index block of %d bytes", ErrBrokenChain, len(data))
	}
	n := binary.BigEndian.Uint32(data)
	body := data[4:]
	if uint64(len(body)) != uint64(n)*4 {
		return nil, fmt.Errorf("%w: %d indices in %d bytes", ErrBrokenChain, n, len(body))
	}
	if n == 0 {
		return nil, nil
	}
	out := make([]int, 0, n)
	for i := uint32(0); i < n; i++ {
		out = append(out, int(int32(binary.BigEndian.Uint32(body[4*i:]))))
	}
	return out, nil
}
