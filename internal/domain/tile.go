package domain

import (
	"github.com/samber/lo"

	"github.com/sixy6e/tdbcore/internal/tdberr"
	"github.com/sixy6e/tdbcore/schema"
)

// TileCoord is an integer tile index tuple in the global tile domain.
type TileCoord []int64

// Key returns a comparable map key for t, used by callers that bucket
// tiles (e.g. the sparse tile-coordinate union in the unsorted reader).
func (t TileCoord) Key() string {
	// Small, fixed-size tuples (D is always small, per spec §9's note
	// on keeping merge records small) — a delimited string key is
	// simpler and fast enough; xxhash is reserved for the larger
	// per-cell coordinate buckets in the unsorted reader.
	buf := make([]byte, 0, len(t)*9)
	for _, v := range t {
		buf = appendVarint(buf, v)
	}
	return string(buf)
}

func appendVarint(buf []byte, v int64) []byte {
	u := uint64(v)
	for u >= 0x80 {
		buf = append(buf, byte(u)|0x80)
		u >>= 7
	}
	return append(buf, byte(u))
}

// TileDomain returns the inclusive integer tile-coordinate range
// [tileLo,tileHi] that box overlaps, for a dense schema.
func TileDomain(s *schema.Schema, box Box) (tileLo, tileHi TileCoord, err error) {
	if !s.Dense {
		return nil, nil, tdberr.New(tdberr.SchemaMisuse, tdberr.ErrTileExtentPresent)
	}
	dims := s.Dimensions()
	tileLo = make(TileCoord, len(dims))
	tileHi = make(TileCoord, len(dims))
	for i, d := range dims {
		tileLo[i] = (box.Lo[i].I - d.Lo.I) / int64(d.TileExtent)
		tileHi[i] = (box.Hi[i].I - d.Lo.I) / int64(d.TileExtent)
	}
	return tileLo, tileHi, nil
}

// TileBounds returns the tile-aligned cell box covered by tile
// coordinate tc within the schema's domain (clipped to the domain at
// the upper edge, since the last tile along an axis may be partial).
func TileBounds(s *schema.Schema, tc TileCoord) Box {
	dims := s.Dimensions()
	b := Box{Lo: make([]schema.Coord, len(dims)), Hi: make([]schema.Coord, len(dims))}
	for i, d := range dims {
		lo := d.Lo.I + tc[i]*int64(d.TileExtent)
		hi := lo + int64(d.TileExtent) - 1
		if hi > d.Hi.I {
			hi = d.Hi.I
		}
		b.Lo[i] = schema.IntCoord(lo)
		b.Hi[i] = schema.IntCoord(hi)
	}
	return b
}

// EnumerateTiles lists every tile coordinate in [lo,hi] in the
// requested order (row-major: last dimension fastest; column-major:
// first dimension fastest). Hilbert is rejected — spec §9 leaves it
// unsupported until a producer exists.
func EnumerateTiles(lo, hi TileCoord, order schema.Order) ([]TileCoord, error) {
	if order == schema.Hilbert {
		return nil, tdberr.New(tdberr.QueryMisuse, tdberr.ErrUnsupportedOrder)
	}
	d := len(lo)
	extents := make([]int64, d)
	total := int64(1)
	for i := 0; i < d; i++ {
		extents[i] = hi[i] - lo[i] + 1
		total *= extents[i]
	}
	out := make([]TileCoord, 0, total)
	cur := make(TileCoord, d)
	copy(cur, lo)

	// Row-major: last dimension fastest, so the odometer walks from
	// d-1 down to 0. Column-major: first dimension fastest, odometer
	// walks from 0 up to d-1.
	fastest, slowest, dir := d-1, 0, -1
	if order == schema.ColMajor {
		fastest, slowest, dir = 0, d-1, 1
	}

	for i := int64(0); i < total; i++ {
		tc := make(TileCoord, d)
		copy(tc, cur)
		out = append(out, tc)

		for dim := fastest; ; dim += dir {
			cur[dim]++
			if cur[dim] <= hi[dim] {
				break
			}
			cur[dim] = lo[dim]
			if dim == slowest {
				break
			}
		}
	}
	return out, nil
}

// TileSlabs decomposes box into tile slabs for the requested sorted
// read order (spec §4.4): a slab is one-tile-thick along the
// slowest-varying dimension of that order — dimension 0 for row-major,
// the last dimension for column-major — and spans the full extent of
// every other dimension.
func TileSlabs(s *schema.Schema, box Box, order schema.Order) ([]Box, error) {
	if order == schema.Hilbert {
		return nil, tdberr.New(tdberr.QueryMisuse, tdberr.ErrUnsupportedOrder)
	}
	if !s.Dense {
		return nil, tdberr.New(tdberr.SchemaMisuse, tdberr.ErrTileExtentPresent)
	}
	dims := s.Dimensions()
	slabDim := 0
	if order == schema.ColMajor {
		slabDim = len(dims) - 1
	}
	d := dims[slabDim]
	extent := int64(d.TileExtent)

	// Align the first slab boundary to the tile grid, not to box.Lo,
	// so a slab never spans a partial leading tile plus a full one.
	firstTileStart := d.Lo.I + ((box.Lo[slabDim].I-d.Lo.I)/extent)*extent

	var slabs []Box
	for start := firstTileStart; start <= box.Hi[slabDim].I; start += extent {
		end := start + extent - 1
		if end > box.Hi[slabDim].I {
			end = box.Hi[slabDim].I
		}
		lo := start
		if lo < box.Lo[slabDim].I {
			lo = box.Lo[slabDim].I
		}
		slab := box.Clone()
		slab.Lo[slabDim] = schema.IntCoord(lo)
		slab.Hi[slabDim] = schema.IntCoord(end)
		slabs = append(slabs, slab)
	}
	return slabs, nil
}

// SingleTileRowOrCol reports whether box fits within a single tile row
// (for column-major reads) or a single tile column (for row-major
// reads) — the SortedReader fast path of spec §4.4, where the requested
// order already coincides with the array's cell order.
func SingleTileRowOrCol(s *schema.Schema, box Box, order schema.Order) (bool, error) {
	if order == schema.Hilbert {
		return false, tdberr.New(tdberr.QueryMisuse, tdberr.ErrUnsupportedOrder)
	}
	// One tile column is one slab along the last dimension (the
	// column-major slab axis); one tile row is one slab along dimension 0
	// (the row-major slab axis).
	across := schema.ColMajor
	if order == schema.ColMajor {
		across = schema.RowMajor
	}
	slabs, err := TileSlabs(s, box, across)
	if err != nil {
		return false, err
	}
	return len(slabs) <= 1, nil
}

// TileCoordsOfBox is a convenience wrapper combining TileDomain and
// EnumerateTiles for the common "every tile this box touches" query.
func TileCoordsOfBox(s *schema.Schema, box Box, order schema.Order) ([]TileCoord, error) {
	lo, hi, err := TileDomain(s, box)
	if err != nil {
		return nil, err
	}
	return EnumerateTiles(lo, hi, order)
}

// UniqueTileKeys deduplicates a slice of tile coordinates by key,
// preserving first-seen order — used when merging tile coordinates
// contributed by multiple sparse fragments (spec §4.3 step 1).
func UniqueTileKeys(tcs []TileCoord) []TileCoord {
	return lo.UniqBy(tcs, func(t TileCoord) string { return t.Key() })
}
