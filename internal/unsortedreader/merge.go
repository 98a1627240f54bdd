package unsortedreader

import (
	"encoding/binary"
	"math"
	"sort"

	"github.com/RoaringBitmap/roaring"
	"github.com/cespare/xxhash/v2"

	"github.com/sixy6e/tdbcore/fragment"
	"github.com/sixy6e/tdbcore/internal/domain"
	"github.com/sixy6e/tdbcore/schema"
)

// loadNextTile builds r.state.curWork for the next tile (or the single
// sparse pseudo-tile), implementing spec §4.3's per-tile algorithm:
// newest-fragment-wins precedence resolution followed by a global-cell-
// order sort of the survivors, plus dense hole enumeration. Returns
// more=false once every tile has been produced.
func (r *Reader) loadNextTile() (more bool, err error) {
	if r.schema.Dense {
		return r.loadNextDenseTile()
	}
	if r.state.sparseDone {
		return false, nil
	}
	r.state.sparseDone = true
	work, err := r.mergeSparse()
	if err != nil {
		return false, err
	}
	r.state.curWork = work
	r.state.curWorkIdx = 0
	return true, nil
}

func (r *Reader) loadNextDenseTile() (bool, error) {
	for r.state.tileIdx < len(r.state.tiles) {
		tile := r.state.tiles[r.state.tileIdx]
		r.state.tileIdx++
		work, err := r.mergeDenseTile(tile)
		if err != nil {
			return false, err
		}
		if len(work) == 0 {
			continue
		}
		r.state.curWork = work
		r.state.curWorkIdx = 0
		return true, nil
	}
	return false, nil
}

type denseSurvivor struct {
	view    *fragment.View
	fragPos fragment.PosRange
	coordLo []int64
}

// mergeDenseTile resolves newest-fragment-wins precedence over tile
// using a tile-local claimed-position bitmap (spec §4.3 steps 1-3),
// then sorts survivors into the schema's cell order and appends any
// dense holes as fill work items (step 4's "invoke empty_fill for each
// hole before advancing to the next tile").
func (r *Reader) mergeDenseTile(tile domain.TileCoord) ([]workItem, error) {
	dt := r.schema.CoordDType()
	tileBounds := domain.TileBounds(r.schema, tile)
	tileLo, tileHi := tileBounds.LoInts(), tileBounds.HiInts()
	tileCells := int64(1)
	for i := range tileLo {
		tileCells *= tileHi[i] - tileLo[i] + 1
	}

	claimed := roaring.New()
	var survivors []denseSurvivor

	// Newest fragment first: every cell it successfully claims is
	// unavailable to every older fragment processed afterward.
	for i := len(r.fragments) - 1; i >= 0; i-- {
		v := r.fragments[i]
		if !v.Dense {
			continue
		}
		ranges, err := v.NextCellRangesDense(r.sub, tile)
		if err != nil {
			return nil, err
		}
		fragLo, fragHi := v.BBox.LoInts(), v.BBox.HiInts()

		for _, cr := range ranges {
			coordLo := delinearize(r.schema.CellOrder, cr.Pos.First, fragLo, fragHi)
			coordHi := delinearize(r.schema.CellOrder, cr.Pos.Last, fragLo, fragHi)
			tileFirst := linearizeInts(r.schema.CellOrder, coordLo, tileLo, tileHi)
			tileLast := linearizeInts(r.schema.CellOrder, coordHi, tileLo, tileHi)

			for _, free := range freeRanges(claimed, uint64(tileFirst), uint64(tileLast)) {
				c0 := delinearize(r.schema.CellOrder, int64(free[0]), tileLo, tileHi)
				c1 := delinearize(r.schema.CellOrder, int64(free[1]), tileLo, tileHi)
				fp0 := linearizeInts(r.schema.CellOrder, c0, fragLo, fragHi)
				fp1 := linearizeInts(r.schema.CellOrder, c1, fragLo, fragHi)
				survivors = append(survivors, denseSurvivor{
					view:    v,
					fragPos: fragment.PosRange{First: fp0, Last: fp1},
					coordLo: c0,
				})
				claimed.AddRange(free[0], free[1]+1)
			}
		}
	}

	sort.Slice(survivors, func(i, j int) bool {
		return domain.Less(dt, r.schema.CellOrder, intsToCoords(survivors[i].coordLo), intsToCoords(survivors[j].coordLo))
	})

	work := make([]workItem, 0, len(survivors))
	for _, s := range survivors {
		work = append(work, workItem{view: s.view, pos: s.fragPos, tile: tile})
	}

	// Cells of the tile outside the subarray are not part of the query:
	// mark them claimed so they are never reported as holes.
	if inSub, ok := domain.Intersect(dt, tileBounds, r.sub); ok {
		for p := int64(0); p < tileCells; p++ {
			c := delinearize(r.schema.CellOrder, p, tileLo, tileHi)
			if !domain.Contains(dt, inSub, intsToCoords(c)) {
				claimed.Add(uint32(p))
			}
		}
	}

	// Holes are appended after survivors rather than interleaved by cell
	// order: a dense hole only arises from a query region no fragment
	// ever wrote, which this core treats as a terminal per-tile fill
	// rather than reordering the whole tile's output — see DESIGN.md.
	// pos here is tile-local (there is no fragment to be local to).
	holes := holeRuns(claimed, tileCells)
	for _, h := range holes {
		work = append(work, workItem{hole: true, tile: tile, pos: fragment.PosRange{First: int64(h[0]), Last: int64(h[1])}})
	}
	return work, nil
}

// freeRanges returns the sub-ranges of [lo,hi] (inclusive) not already
// set in claimed.
func freeRanges(claimed *roaring.Bitmap, lo, hi uint64) [][2]uint64 {
	var out [][2]uint64
	inFree := false
	var start uint64
	for p := lo; p <= hi; p++ {
		set := claimed.Contains(uint32(p))
		if !set && !inFree {
			inFree, start = true, p
		}
		if set && inFree {
			out = append(out, [2]uint64{start, p - 1})
			inFree = false
		}
		if p == hi && inFree {
			out = append(out, [2]uint64{start, p})
		}
	}
	return out
}

// holeRuns returns the maximal unset runs of [0,tileCells).
func holeRuns(claimed *roaring.Bitmap, tileCells int64) [][2]uint64 {
	if tileCells == 0 {
		return nil
	}
	return freeRanges(claimed, 0, uint64(tileCells-1))
}

func delinearize(order schema.Order, pos int64, lo, hi []int64) []int64 {
	if order == schema.ColMajor {
		return schema.DelinearizeColMajor(pos, lo, hi)
	}
	return schema.DelinearizeRowMajor(pos, lo, hi)
}

func linearizeInts(order schema.Order, coord, lo, hi []int64) int64 {
	if order == schema.ColMajor {
		return schema.LinearizeColMajor(coord, lo, hi)
	}
	return schema.LinearizeRowMajor(coord, lo, hi)
}

func intsToCoords(ints []int64) []schema.Coord {
	out := make([]schema.Coord, len(ints))
	for i, v := range ints {
		out[i] = schema.IntCoord(v)
	}
	return out
}

// mergeSparse resolves newest-fragment-wins precedence cell-by-cell
// using a coordinate hash map rather than a tile-local bitmap, since
// sparse fragments share no common tile grid (see the doc of
// fragment.View.NextCellRangesSparse). Duplicate coordinates within
// a single fragment all survive, in that fragment's stored order
// (spec P9), because the claim check only rejects a cell already
// claimed by a STRICTLY newer fragment.
func (r *Reader) mergeSparse() ([]workItem, error) {
	dt := r.schema.CoordDType()
	claim := make(map[uint64]uint64, r.mergeHeapHint) // xxhash(coord bytes) -> winning fragment id

	type survivor struct {
		view  *fragment.View
		pos   int64
		coord []schema.Coord
	}
	var survivors []survivor

	for i := len(r.fragments) - 1; i >= 0; i-- {
		v := r.fragments[i]
		if v.Dense {
			continue
		}
		ranges, err := v.NextCellRangesSparse(r.sub)
		if err != nil {
			return nil, err
		}
		for _, cr := range ranges {
			for pos := cr.Pos.First; pos <= cr.Pos.Last; pos++ {
				coord := v.Coords[pos]
				h := hashCoord(dt, coord)
				if winner, ok := claim[h]; ok && winner > v.ID {
					continue
				}
				claim[h] = v.ID
				survivors = append(survivors, survivor{view: v, pos: pos, coord: coord})
			}
		}
	}

	sort.SliceStable(survivors, func(i, j int) bool {
		return domain.Less(dt, r.schema.CellOrder, survivors[i].coord, survivors[j].coord)
	})

	work := make([]workItem, 0, len(survivors))
	for _, s := range survivors {
		work = append(work, workItem{view: s.view, pos: fragment.PosRange{First: s.pos, Last: s.pos}})
	}
	return work, nil
}

func hashCoord(dt schema.DType, coord []schema.Coord) uint64 {
	buf := make([]byte, 0, len(coord)*8)
	for _, c := range coord {
		var b [8]byte
		if dt.IsFloat() {
			binary.LittleEndian.PutUint64(b[:], math.Float64bits(c.F))
		} else {
			binary.LittleEndian.PutUint64(b[:], uint64(c.I))
		}
		buf = append(buf, b[:]...)
	}
	return xxhash.Sum64(buf)
}
