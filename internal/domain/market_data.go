package domain

import "time"

// Side is trade direction metadata; Trade.Volume stays non-negative.
type Side string

const (
	SideUnknown Side = ""
	SideBuy     Side = "Buy"
	SideSell    Side = "Sell"
)

type Trade struct {
	Instrument   *Instrument
	Time         time.Time
	TimeReceived time.Time
	Price        Amount
	Volume       Amount
	Side         Side
}

// Offer is one book level. Positive volume is a bid, negative an ask.
type Offer struct {
	Instrument   *Instrument
	Time         time.Time
	TimeReceived time.Time
	Price        Amount
	Volume       Amount
}

// IsZero reports an offer without a usable price or volume.
func (o Offer) IsZero() bool {
	return o.Price.IsZero() || o.Volume.IsZero()
}

func (o Offer) IsBid() bool {
	return o.Volume.Count > 0
}

func (o Offer) IsAsk() bool {
	return o.Volume.Count < 0
}

// Bar summarizes trading over one interval.
type Bar struct {
	Instrument *Instrument
	Time       time.Time
	Interval   time.Duration
	Open       Amount
	High       Amount
	Low        Amount
	Close      Amount
	Volume     Amount
}
