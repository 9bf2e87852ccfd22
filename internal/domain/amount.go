package domain

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// RoundingMode selects how a quotient with a remainder is turned into an integer count.
type RoundingMode int

const (
	RoundHalfEven RoundingMode = iota // banker's rounding, the default everywhere in the cache
	RoundHalfUp                       // ties away from zero
	RoundDown                         // toward zero
	RoundUp                           // away from zero
	RoundFloor
	RoundCeiling
)

func (m RoundingMode) String() string {
	switch m {
	case RoundHalfEven:
		return "half_even"
	case RoundHalfUp:
		return "half_up"
	case RoundDown:
		return "down"
	case RoundUp:
		return "up"
	case RoundFloor:
		return "floor"
	case RoundCeiling:
		return "ceiling"
	default:
		return fmt.Sprintf("rounding(%d)", int(m))
	}
}

var one = decimal.NewFromInt(1)

// Amount is an exact quantity: Count units of Basis.
type Amount struct {
	Count int64
	Basis decimal.Decimal
}

func NewAmount(count int64, basis decimal.Decimal) Amount {
	return Amount{Count: count, Basis: basis}
}

// AmountFromDecimal quantizes value to basis with round-half-even.
func AmountFromDecimal(value, basis decimal.Decimal) (Amount, error) {
	count, err := ToCount(value, basis, RoundHalfEven)
	if err != nil {
		return Amount{}, err
	}
	return Amount{Count: count, Basis: basis}, nil
}

// ToCount converts a decimal value into a count of basis units.
func ToCount(value, basis decimal.Decimal, mode RoundingMode) (int64, error) {
	if basis.Sign() <= 0 {
		if basis.IsZero() {
			return 0, ErrDivisionByZero
		}
		return 0, fmt.Errorf("%w: negative basis %s", ErrMalformedReferenceData, basis)
	}
	return roundedQuotient(value, basis, mode)
}

// roundedQuotient computes num/den as an integer using exact remainder arithmetic.
func roundedQuotient(num, den decimal.Decimal, mode RoundingMode) (int64, error) {
	if den.IsZero() {
		return 0, ErrDivisionByZero
	}

	q, r := num.QuoRem(den, 0)
	if !r.IsZero() {
		sign := int64(num.Sign() * den.Sign())
		step := false
		switch mode {
		case RoundHalfEven:
			c := r.Abs().Add(r.Abs()).Cmp(den.Abs())
			step = c > 0 || (c == 0 && q.BigInt().Bit(0) == 1)
		case RoundHalfUp:
			step = r.Abs().Add(r.Abs()).Cmp(den.Abs()) >= 0
		case RoundDown:
		case RoundUp:
			step = true
		case RoundFloor:
			step = sign < 0
		case RoundCeiling:
			step = sign > 0
		default:
			return 0, fmt.Errorf("unsupported rounding mode %s", mode)
		}
		if step {
			q = q.Add(decimal.NewFromInt(sign))
		}
	}

	if !q.BigInt().IsInt64() {
		return 0, fmt.Errorf("%w: %s / %s", ErrCountOverflow, num, den)
	}
	return q.IntPart(), nil
}

// Decimal returns Count x Basis.
func (a Amount) Decimal() decimal.Decimal {
	return decimal.NewFromInt(a.Count).Mul(a.Basis)
}

func (a Amount) IsZero() bool {
	return a.Count == 0
}

func (a Amount) Sign() int {
	switch {
	case a.Count > 0:
		return 1
	case a.Count < 0:
		return -1
	default:
		return 0
	}
}

func (a Amount) Neg() Amount {
	return Amount{Count: -a.Count, Basis: a.Basis}
}

func (a Amount) Abs() Amount {
	if a.Count < 0 {
		return a.Neg()
	}
	return a
}

// SameBasis reports whether both amounts are expressed in the same increment.
func (a Amount) SameBasis(b Amount) bool {
	return a.Basis.Equal(b.Basis)
}

// Cmp compares the represented values; bases may differ.
func (a Amount) Cmp(b Amount) int {
	if a.SameBasis(b) {
		switch {
		case a.Count < b.Count:
			return -1
		case a.Count > b.Count:
			return 1
		default:
			return 0
		}
	}
	return a.Decimal().Cmp(b.Decimal())
}

// Rebase re-quantizes the amount to another basis.
func (a Amount) Rebase(basis decimal.Decimal, mode RoundingMode) (Amount, error) {
	if a.Basis.Equal(basis) {
		return a, nil
	}
	count, err := ToCount(a.Decimal(), basis, mode)
	if err != nil {
		return Amount{}, err
	}
	return Amount{Count: count, Basis: basis}, nil
}

// Invert returns 1/a quantized to basis with round-half-even.
func (a Amount) Invert(basis decimal.Decimal) (Amount, error) {
	if a.Count == 0 || basis.IsZero() {
		return Amount{}, ErrDivisionByZero
	}
	if basis.Sign() < 0 {
		return Amount{}, fmt.Errorf("%w: negative basis %s", ErrMalformedReferenceData, basis)
	}
	// 1/(value) / basis == 1 / (value*basis)
	count, err := roundedQuotient(one, a.Decimal().Mul(basis), RoundHalfEven)
	if err != nil {
		return Amount{}, err
	}
	return Amount{Count: count, Basis: basis}, nil
}

func (a Amount) Add(b Amount) (Amount, error) {
	if !a.SameBasis(b) {
		return Amount{}, fmt.Errorf("%w: %s vs %s", ErrBasisMismatch, a.Basis, b.Basis)
	}
	return Amount{Count: a.Count + b.Count, Basis: a.Basis}, nil
}

func (a Amount) Sub(b Amount) (Amount, error) {
	return a.Add(b.Neg())
}

// Mul multiplies two amounts sharing a basis; the product is re-quantized to that basis.
func (a Amount) Mul(b Amount, mode RoundingMode) (Amount, error) {
	if !a.SameBasis(b) {
		return Amount{}, fmt.Errorf("%w: %s vs %s", ErrBasisMismatch, a.Basis, b.Basis)
	}
	count, err := ToCount(a.Decimal().Mul(b.Decimal()), a.Basis, mode)
	if err != nil {
		return Amount{}, err
	}
	return Amount{Count: count, Basis: a.Basis}, nil
}

func (a Amount) String() string {
	places := -a.Basis.Exponent()
	if places < 0 {
		places = 0
	}
	return a.Decimal().StringFixed(places)
}
