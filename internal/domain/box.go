// Package domain implements DomainArithmetic (spec §3/§4.5): pure
// functions over coordinate tuples of a typed domain — tile coordinates
// from cell coordinates, row/column-major linearization, subarray
// intersection, tile-aligned normalization, and tile-slab enumeration.
//
// Every function here is pure and allocates a new result rather than
// mutating an argument (spec §9, "keep normalization as a pure function
// producing a new typed subarray rather than mutating the query
// state").
package domain

import (
	"github.com/sixy6e/tdbcore/internal/tdberr"
	"github.com/sixy6e/tdbcore/schema"
)

// Box is an axis-aligned, inclusive subarray: one [Lo,Hi] coordinate
// pair per dimension, endpoint-inclusive in both directions (spec §3
// "Subarray").
type Box struct {
	Lo []schema.Coord
	Hi []schema.Coord
}

// NDim returns the box's dimensionality.
func (b Box) NDim() int { return len(b.Lo) }

// Clone returns a deep copy, so callers can mutate the result without
// aliasing b.
func (b Box) Clone() Box {
	lo := make([]schema.Coord, len(b.Lo))
	hi := make([]schema.Coord, len(b.Hi))
	copy(lo, b.Lo)
	copy(hi, b.Hi)
	return Box{Lo: lo, Hi: hi}
}

// LoInts returns the box's lower corner as a plain int64 tuple, valid
// only for integral-coordinate boxes (dense tile math).
func (b Box) LoInts() []int64 { return coordsToInts(b.Lo) }

// HiInts returns the box's upper corner as a plain int64 tuple.
func (b Box) HiInts() []int64 { return coordsToInts(b.Hi) }

func coordsToInts(cs []schema.Coord) []int64 {
	out := make([]int64, len(cs))
	for i, c := range cs {
		out[i] = c.I
	}
	return out
}

// BoxFromInts is a convenience constructor for integral-coordinate
// boxes, the common case for dense tile math and most tests.
func BoxFromInts(lo, hi []int64) Box {
	b := Box{Lo: make([]schema.Coord, len(lo)), Hi: make([]schema.Coord, len(hi))}
	for i := range lo {
		b.Lo[i] = schema.IntCoord(lo[i])
		b.Hi[i] = schema.IntCoord(hi[i])
	}
	return b
}

// Empty reports whether the box contains no cells under dt's ordering.
func Empty(dt schema.DType, b Box) bool {
	for i := range b.Lo {
		if less(dt, b.Hi[i], b.Lo[i]) {
			return true
		}
	}
	return false
}

func less(dt schema.DType, a, b schema.Coord) bool {
	if dt.IsFloat() {
		return a.F < b.F
	}
	return a.I < b.I
}

func maxCoord(dt schema.DType, a, b schema.Coord) schema.Coord {
	if less(dt, a, b) {
		return b
	}
	return a
}

func minCoord(dt schema.DType, a, b schema.Coord) schema.Coord {
	if less(dt, b, a) {
		return b
	}
	return a
}

// Intersect computes the axis-aligned intersection of a and b,
// preserving endpoint inclusivity (spec §4.5). ok is false when the
// intersection is empty along any dimension.
func Intersect(dt schema.DType, a, b Box) (Box, bool) {
	if a.NDim() != b.NDim() {
		return Box{}, false
	}
	out := Box{Lo: make([]schema.Coord, a.NDim()), Hi: make([]schema.Coord, a.NDim())}
	for i := 0; i < a.NDim(); i++ {
		out.Lo[i] = maxCoord(dt, a.Lo[i], b.Lo[i])
		out.Hi[i] = minCoord(dt, a.Hi[i], b.Hi[i])
		if less(dt, out.Hi[i], out.Lo[i]) {
			return Box{}, false
		}
	}
	return out, true
}

// Contains reports whether point p lies within box b, component-wise.
func Contains(dt schema.DType, b Box, p []schema.Coord) bool {
	for i := range p {
		if less(dt, p[i], b.Lo[i]) || less(dt, b.Hi[i], p[i]) {
			return false
		}
	}
	return true
}

// ValidateSubarray enforces spec invariants I2/I3's shape half: S has
// one [lo,hi] per dimension and S ⊆ domain, component-wise.
func ValidateSubarray(s *schema.Schema, b Box) error {
	if b.NDim() != s.NDim() {
		return tdberr.New(tdberr.QueryMisuse, tdberr.ErrSubarrayShape)
	}
	dt := s.CoordDType()
	for i, dim := range s.Dimensions() {
		if less(dt, b.Hi[i], b.Lo[i]) {
			return tdberr.New(tdberr.QueryMisuse, tdberr.ErrSubarrayBounds)
		}
		if less(dt, b.Lo[i], dim.Lo) || less(dt, dim.Hi, b.Hi[i]) {
			return tdberr.New(tdberr.QueryMisuse, tdberr.ErrSubarrayBounds)
		}
	}
	return nil
}

// NormalizeToOrigin shifts box b so that origin becomes the zero
// coordinate along every dimension, producing a new Box (integral
// coordinates only — this is used exclusively for tile-aligned, hence
// integral-domain, bookkeeping).
func NormalizeToOrigin(b Box, origin []int64) Box {
	out := Box{Lo: make([]schema.Coord, b.NDim()), Hi: make([]schema.Coord, b.NDim())}
	for i := 0; i < b.NDim(); i++ {
		out.Lo[i] = schema.IntCoord(b.Lo[i].I - origin[i])
		out.Hi[i] = schema.IntCoord(b.Hi[i].I - origin[i])
	}
	return out
}
