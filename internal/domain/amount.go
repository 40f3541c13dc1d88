package domain

import "math"

// MaxLineQuantity bounds the quantity of a single cart or order line.
const MaxLineQuantity int64 = 1_000_000

// mulAmount returns a*b for non-negative operands. ok is false on overflow.
func mulAmount(a, b int64) (int64, bool) {
	if a != 0 && b > math.MaxInt64/a {
		return 0, false
	}
	return a * b, true
}

// addAmount returns a+b for non-negative operands. ok is false on overflow.
func addAmount(a, b int64) (int64, bool) {
	if a > math.MaxInt64-b {
		return 0, false
	}
	return a + b, true
}

// AddStock returns current+delta for a non-negative delta, or an
// INVALID_ARGUMENT error when the sum would overflow.
func AddStock(itemID, current, delta int64) (int64, error) {
	sum, ok := addAmount(current, delta)
	if !ok {
		return 0, InvalidArgument("item %d: quantity overflows", itemID)
	}
	return sum, nil
}
