// Package uq112x112 implements the binary fixed-point format used by the price
// accumulators: 224-bit words with 112 integer bits and 112 fractional bits.
package uq112x112

import "github.com/holiman/uint256"

// Resolution is the number of fractional bits.
const Resolution = 112

var (
	// Q112 is 2**112, the fixed-point representation of 1.
	Q112 = new(uint256.Int).Lsh(uint256.NewInt(1), Resolution)
	// MaxUint112 is the largest value a reserve may hold.
	MaxUint112 = new(uint256.Int).Sub(Q112, uint256.NewInt(1))
)

// InRange reports whether y fits in 112 bits.
func InRange(y *uint256.Int) bool {
	return y != nil && !y.Gt(MaxUint112)
}

// Encode returns y * 2**112. y must fit in 112 bits, which keeps the result
// inside 224 bits.
func Encode(y *uint256.Int) *uint256.Int {
	return new(uint256.Int).Mul(y, Q112)
}

// Div divides a UQ112x112 word by a 112-bit integer, truncating toward zero.
// A zero divisor yields zero; callers only divide by nonzero reserves.
func Div(x, y *uint256.Int) *uint256.Int {
	return new(uint256.Int).Div(x, y)
}

// Decode returns the integer part of a UQ112x112 word.
func Decode(x *uint256.Int) *uint256.Int {
	return new(uint256.Int).Rsh(x, Resolution)
}
