package domain

import "math/bits"

// Notional computes price × quantity, returning ErrArithmeticOverflow
// if the product does not fit in a uint64.
func Notional(price, qty uint64) (uint64, error) {
	hi, lo := bits.Mul64(price, qty)
	if hi != 0 {
		return 0, ErrArithmeticOverflow
	}
	return lo, nil
}

// AddChecked returns a + b, or ErrArithmeticOverflow on wraparound.
func AddChecked(a, b uint64) (uint64, error) {
	sum, carry := bits.Add64(a, b, 0)
	if carry != 0 {
		return 0, ErrArithmeticOverflow
	}
	return sum, nil
}
