package domain

import "errors"

var (
	// ErrUnknownAssetPair is returned by a rate matrix that has no edge for the requested pair.
	ErrUnknownAssetPair = errors.New("unknown asset pair")
	// ErrDivisionByZero is returned for a zero basis or the inversion of a zero amount.
	ErrDivisionByZero = errors.New("division by zero")
	// ErrMalformedReferenceData is returned when an asset, pair or instrument cannot be registered.
	ErrMalformedReferenceData = errors.New("malformed reference data")
	// ErrBasisMismatch is returned when two amounts at different bases are combined without re-quantization.
	ErrBasisMismatch = errors.New("basis mismatch")
	// ErrUnknownInstrument is returned by reference lookups.
	ErrUnknownInstrument = errors.New("unknown instrument")
	// ErrBrokenChain is returned when a persisted book refers to a parent that is not available.
	ErrBrokenChain = errors.New("broken book chain")
)

// ErrCountOverflow is returned when a quantized count does not fit into an int64.
var ErrCountOverflow = errors.New("count overflows int64")
