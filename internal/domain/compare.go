package domain

import "github.com/sixy6e/tdbcore/schema"

// RowMajorLess reports whether a sorts strictly before b in row-major
// cell order: the first dimension is the most significant, the last
// the least (spec §3, "row-major linearizes with the last dimension
// varying fastest").
func RowMajorLess(dt schema.DType, a, b []schema.Coord) bool {
	for i := range a {
		if less(dt, a[i], b[i]) {
			return true
		}
		if less(dt, b[i], a[i]) {
			return false
		}
	}
	return false
}

// ColMajorLess reports whether a sorts strictly before b in
// column-major cell order: the last dimension is the most significant.
func ColMajorLess(dt schema.DType, a, b []schema.Coord) bool {
	for i := len(a) - 1; i >= 0; i-- {
		if less(dt, a[i], b[i]) {
			return true
		}
		if less(dt, b[i], a[i]) {
			return false
		}
	}
	return false
}

// Less dispatches to the comparator matching order. Hilbert is rejected
// by callers before reaching here (spec §9 Open Question).
func Less(dt schema.DType, order schema.Order, a, b []schema.Coord) bool {
	if order == schema.ColMajor {
		return ColMajorLess(dt, a, b)
	}
	return RowMajorLess(dt, a, b)
}

// Equal reports coordinate-wise equality.
func Equal(dt schema.DType, a, b []schema.Coord) bool {
	for i := range a {
		if less(dt, a[i], b[i]) || less(dt, b[i], a[i]) {
			return false
		}
	}
	return true
}
