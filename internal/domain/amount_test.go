package domain

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func TestToCount_RoundingModes(t *testing.T) {
	tests := []struct {
		value string
		basis string
		mode  RoundingMode
		want  int64
	}{
		{"1.005", "0.01", RoundHalfEven, 100},
		{"1.015", "0.01", RoundHalfEven, 102},
		{"1.0051", "0.01", RoundHalfEven, 101},
		{"1.005", "0.01", RoundHalfUp, 101},
		{"-1.005", "0.01", RoundHalfEven, -100},
		{"-1.005", "0.01", RoundHalfUp, -101},
		{"-1.005", "0.01", RoundFloor, -101},
		{"-1.005", "0.01", RoundCeiling, -100},
		{"-1.005", "0.01", RoundDown, -100},
		{"-1.005", "0.01", RoundUp, -101},
		{"1.001", "0.01", RoundCeiling, 101},
		{"1.009", "0.01", RoundFloor, 100},
		{"65000", "0.01", RoundHalfEven, 6500000},
		{"0.5", "1", RoundHalfEven, 0},
		{"1.5", "1", RoundHalfEven, 2},
		{"2.5", "1", RoundHalfEven, 2},
		{"0.00000001", "0.00000001", RoundHalfEven, 1},
		{"7.5", "2.5", RoundHalfEven, 3},
	}

	for _, tt := range tests {
		t.Run(tt.value+"/"+tt.basis+"/"+tt.mode.String(), func(t *testing.T) {
			got, err := ToCount(dec(tt.value), dec(tt.basis), tt.mode)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestToCount_DegenerateInput(t *testing.T) {
	_, err := ToCount(dec("1"), decimal.Zero, RoundHalfEven)
	assert.ErrorIs(t, err, ErrDivisionByZero)

	_, err = ToCount(dec("1"), dec("-0.01"), RoundHalfEven)
	assert.ErrorIs(t, err, ErrMalformedReferenceData)

	_, err = ToCount(dec("1e30"), dec("1"), RoundHalfEven)
	assert.ErrorIs(t, err, ErrCountOverflow)
}

func TestAmount_Invert(t *testing.T) {
	rate, err := AmountFromDecimal(dec("65000"), dec("0.01"))
	require.NoError(t, err)

	inv, err := rate.Invert(dec("0.00000001"))
	require.NoError(t, err)
	// 1/65000 = 0.0000153846...
	assert.Equal(t, int64(1538), inv.Count)
	assert.True(t, inv.Basis.Equal(dec("0.00000001")))

	_, err = NewAmount(0, dec("0.01")).Invert(dec("0.01"))
	assert.ErrorIs(t, err, ErrDivisionByZero)

	_, err = rate.Invert(decimal.Zero)
	assert.ErrorIs(t, err, ErrDivisionByZero)
}

func TestAmount_Arithmetic(t *testing.T) {
	a := NewAmount(150, dec("0.01"))
	b := NewAmount(25, dec("0.01"))

	sum, err := a.Add(b)
	require.NoError(t, err)
	assert.Equal(t, int64(175), sum.Count)

	diff, err := a.Sub(b)
	require.NoError(t, err)
	assert.Equal(t, int64(125), diff.Count)

	// 1.50 * 0.25 = 0.375 -> 0.38 half-even
	prod, err := a.Mul(b, RoundHalfEven)
	require.NoError(t, err)
	assert.Equal(t, int64(38), prod.Count)

	_, err = a.Add(NewAmount(1, dec("0.001")))
	assert.ErrorIs(t, err, ErrBasisMismatch)
	_, err = a.Mul(NewAmount(1, dec("0.001")), RoundHalfEven)
	assert.ErrorIs(t, err, ErrBasisMismatch)

	rebased, err := NewAmount(1, dec("0.001")).Rebase(dec("0.01"), RoundHalfEven)
	require.NoError(t, err)
	assert.Equal(t, int64(0), rebased.Count)
	sum, err = a.Add(rebased)
	require.NoError(t, err)
	assert.Equal(t, int64(150), sum.Count)
}

func TestAmount_CmpAndString(t *testing.T) {
	assert.Equal(t, 0, NewAmount(100, dec("0.01")).Cmp(NewAmount(1, dec("1"))))
	assert.Equal(t, 1, NewAmount(101, dec("0.01")).Cmp(NewAmount(1, dec("1"))))
	assert.Equal(t, -1, NewAmount(-5, dec("0.01")).Cmp(NewAmount(0, dec("0.01"))))

	assert.Equal(t, "100.50", NewAmount(10050, dec("0.01")).String())
	assert.Equal(t, "-3.0000", NewAmount(-30000, dec("0.0001")).String())
	assert.Equal(t, "12", NewAmount(12, dec("1")).String())

	assert.Equal(t, int64(5), NewAmount(-5, dec("0.01")).Abs().Count)
	assert.Equal(t, -1, NewAmount(-5, dec("0.01")).Sign())
	assert.True(t, NewAmount(0, dec("0.01")).IsZero())
}
