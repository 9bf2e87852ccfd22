package domain

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// SelfExchange is the venue of the synthetic cross-venue instrument of each asset pair.
const SelfExchange = "SELF"

// Asset is a currency or coin. Basis is its smallest native increment.
type Asset struct {
	Symbol string
	Basis  decimal.Decimal
}

func NewAsset(symbol string, basis decimal.Decimal) (Asset, error) {
	symbol = strings.TrimSpace(symbol)
	if symbol == "" {
		return Asset{}, fmt.Errorf("%w: empty asset symbol", ErrMalformedReferenceData)
	}
	if basis.Sign() <= 0 {
		return Asset{}, fmt.Errorf("%w: asset %s has basis %s", ErrMalformedReferenceData, symbol, basis)
	}
	return Asset{Symbol: symbol, Basis: basis}, nil
}

// Valid reports whether the asset could have been built by NewAsset.
func (a Asset) Valid() bool {
	return a.Symbol != "" && a.Basis.Sign() > 0
}

func (a Asset) String() string {
	return a.Symbol
}

// AssetPair is a venue independent base/quote listing, optionally qualified by a prompt.
type AssetPair struct {
	Base   Asset
	Quote  Asset
	Prompt string
}

func NewAssetPair(base, quote Asset, prompt string) (AssetPair, error) {
	if !base.Valid() || !quote.Valid() {
		return AssetPair{}, fmt.Errorf("%w: pair %s/%s", ErrMalformedReferenceData, base.Symbol, quote.Symbol)
	}
	if base.Symbol == quote.Symbol {
		return AssetPair{}, fmt.Errorf("%w: pair of %s with itself", ErrMalformedReferenceData, base.Symbol)
	}
	return AssetPair{Base: base, Quote: quote, Prompt: strings.TrimSpace(prompt)}, nil
}

// PairSymbol builds the composite symbol BASE.QUOTE[.PROMPT].
func PairSymbol(base, quote, prompt string) string {
	if prompt == "" {
		return base + "." + quote
	}
	return base + "." + quote + "." + prompt
}

func (p AssetPair) Symbol() string {
	return PairSymbol(p.Base.Symbol, p.Quote.Symbol, p.Prompt)
}

func (p AssetPair) String() string {
	return p.Symbol()
}

// Instrument binds an AssetPair to a venue. Instruments are shared by pointer and never mutated.
type Instrument struct {
	Exchange    string
	VenueSymbol string
	Pair        AssetPair
	PriceBasis  decimal.Decimal
	VolumeBasis decimal.Decimal
}

func NewInstrument(exchange, venueSymbol string, pair AssetPair, priceBasis, volumeBasis decimal.Decimal) (*Instrument, error) {
	exchange = strings.ToUpper(strings.TrimSpace(exchange))
	if exchange == "" {
		return nil, fmt.Errorf("%w: empty exchange", ErrMalformedReferenceData)
	}
	if !pair.Base.Valid() || !pair.Quote.Valid() {
		return nil, fmt.Errorf("%w: instrument on %s without a valid pair", ErrMalformedReferenceData, exchange)
	}
	if priceBasis.Sign() <= 0 || volumeBasis.Sign() <= 0 {
		return nil, fmt.Errorf("%w: %s:%s price basis %s volume basis %s",
			ErrMalformedReferenceData, exchange, pair.Symbol(), priceBasis, volumeBasis)
	}
	if venueSymbol == "" {
		venueSymbol = pair.Base.Symbol + pair.Quote.Symbol
	}
	return &Instrument{
		Exchange:    exchange,
		VenueSymbol: venueSymbol,
		Pair:        pair,
		PriceBasis:  priceBasis,
		VolumeBasis: volumeBasis,
	}, nil
}

// InstrumentSymbol builds EXCHANGE:BASE.QUOTE[.PROMPT].
func InstrumentSymbol(exchange, pairSymbol string) string {
	return exchange + ":" + pairSymbol
}

func (i *Instrument) Symbol() string {
	return InstrumentSymbol(i.Exchange, i.Pair.Symbol())
}

func (i *Instrument) IsSynthetic() bool {
	return i.Exchange == SelfExchange
}

func (i *Instrument) Base() Asset {
	return i.Pair.Base
}

func (i *Instrument) Quote() Asset {
	return i.Pair.Quote
}

func (i *Instrument) String() string {
	return i.Symbol()
}

// Price quantizes a decimal price to the instrument's price basis.
func (i *Instrument) Price(value decimal.Decimal) (Amount, error) {
	return AmountFromDecimal(value, i.PriceBasis)
}

// Volume quantizes a decimal volume to the instrument's volume basis.
func (i *Instrument) Volume(value decimal.Decimal) (Amount, error) {
	return AmountFromDecimal(value, i.VolumeBasis)
}
