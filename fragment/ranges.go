package fragment

import (
	"sort"

	"github.com/sixy6e/tdbcore/internal/domain"
	"github.com/sixy6e/tdbcore/internal/tdberr"
	"github.com/sixy6e/tdbcore/schema"
)

// NextCellRangesDense returns the fragment-local position ranges of this
// dense fragment's cells that lie in tile ∩ sub ∩ fragment.BBox, split
// into contiguous runs (spec §4.2). A tile that the fragment or the
// subarray does not touch yields a nil, nil result — that is not an
// error, it just contributes nothing to the current merge tile.
func (v *View) NextCellRangesDense(sub domain.Box, tile domain.TileCoord) ([]CellRange, error) {
	if !v.Dense {
		return nil, tdberr.New(tdberr.QueryMisuse, errSparseView)
	}
	dt := v.Schema.CoordDType()
	tileBounds := domain.TileBounds(v.Schema, tile)

	region, ok := domain.Intersect(dt, tileBounds, sub)
	if !ok {
		return nil, nil
	}
	region, ok = domain.Intersect(dt, region, v.BBox)
	if !ok {
		return nil, nil
	}

	runs := decomposeRuns(v.Schema.CellOrder, region)
	positions := make([]posPair, len(runs))
	for i, r := range runs {
		positions[i] = posPair{
			first: linearize(v.Schema, v.BBox, r.lo),
			last:  linearize(v.Schema, v.BBox, r.hi),
		}
	}
	merged := mergeAdjacent(positions)

	overlap := OverlapPartialContig
	if len(merged) > 1 {
		overlap = OverlapPartialNonContig
	} else if len(merged) == 1 && boxEqual(dt, region, tileBounds) {
		overlap = OverlapFull
	}

	out := make([]CellRange, 0, len(merged))
	for _, p := range merged {
		out = append(out, CellRange{
			FragmentID: v.ID,
			Pos:        PosRange{First: p.first, Last: p.last},
			Tile:       tile,
			Overlap:    overlap,
		})
	}
	return out, nil
}

type posPair struct{ first, last int64 }

// mergeAdjacent sorts position runs by start and coalesces any whose
// end directly abuts the next run's start, producing the minimal
// contiguous decomposition rather than one run per held-fixed
// coordinate combination (adjacent full-width rows, for instance,
// linearize to abutting ranges and collapse into one).
func mergeAdjacent(pairs []posPair) []posPair {
	if len(pairs) <= 1 {
		return pairs
	}
	sort.Slice(pairs, func(i, j int) bool { return pairs[i].first < pairs[j].first })
	out := pairs[:1]
	for _, p := range pairs[1:] {
		last := &out[len(out)-1]
		if p.first == last.last+1 {
			last.last = p.last
			continue
		}
		out = append(out, p)
	}
	return out
}

// NextCellRangesSparse returns the fragment-local position ranges of
// this sparse fragment's cells that lie in sub, scanning the fragment's
// pre-sorted coordinate list for maximal contiguous index runs.
//
// Real per-tile grouping for sparse fragments is a physical on-disk
// packing/indexing concern, explicitly out of scope for this core (spec
// §1 excludes "on-disk byte layout of individual tiles"); see
// DESIGN.md's fragment/ entry on sparse tiling. This
// method therefore treats the whole subarray overlap as one region: the
// merge, precedence, and duplicate-order behavior the unsorted reader
// needs are unaffected, since sparse arrays have no tile-order or
// empty-fill requirement in the first place.
func (v *View) NextCellRangesSparse(sub domain.Box) ([]CellRange, error) {
	if v.Dense {
		return nil, tdberr.New(tdberr.QueryMisuse, errDenseView)
	}
	dt := v.Schema.CoordDType()

	var out []CellRange
	inRun := false
	var start int64
	flush := func(end int64) {
		out = append(out, CellRange{
			FragmentID: v.ID,
			Pos:        PosRange{First: start, Last: end},
		})
	}
	for i := int64(0); i < v.NCells; i++ {
		in := domain.Contains(dt, sub, v.Coords[i])
		switch {
		case in && !inRun:
			inRun, start = true, i
		case !in && inRun:
			flush(i - 1)
			inRun = false
		}
	}
	if inRun {
		flush(v.NCells - 1)
	}

	overlap := OverlapPartialContig
	if len(out) > 1 {
		overlap = OverlapPartialNonContig
	}
	for i := range out {
		out[i].Overlap = overlap
	}
	return out, nil
}

type run struct {
	lo, hi []int64
}

// decomposeRuns splits region into maximal contiguous runs along the
// order's fastest-varying dimension, holding every other dimension
// fixed per run. Since region is always clipped to at most a single
// schema tile by the caller, the cartesian product of the held-fixed
// dimensions is bounded by that tile's cell count.
func decomposeRuns(order schema.Order, region domain.Box) []run {
	d := region.NDim()
	fastest := d - 1
	if order == schema.ColMajor {
		fastest = 0
	}

	outer := make([]int, 0, d-1)
	for i := 0; i < d; i++ {
		if i != fastest {
			outer = append(outer, i)
		}
	}

	var runs []run
	fixed := make([]int64, d)
	for i := range fixed {
		fixed[i] = region.Lo[i].I
	}

	var walk func(k int)
	walk = func(k int) {
		if k == len(outer) {
			lo := make([]int64, d)
			hi := make([]int64, d)
			copy(lo, fixed)
			copy(hi, fixed)
			lo[fastest] = region.Lo[fastest].I
			hi[fastest] = region.Hi[fastest].I
			runs = append(runs, run{lo: lo, hi: hi})
			return
		}
		dim := outer[k]
		for v := region.Lo[dim].I; v <= region.Hi[dim].I; v++ {
			fixed[dim] = v
			walk(k + 1)
		}
	}
	walk(0)
	return runs
}

func linearize(s *schema.Schema, bbox domain.Box, coord []int64) int64 {
	lo := make([]int64, len(bbox.Lo))
	hi := make([]int64, len(bbox.Hi))
	for i := range bbox.Lo {
		lo[i] = bbox.Lo[i].I
		hi[i] = bbox.Hi[i].I
	}
	if s.CellOrder == schema.ColMajor {
		return schema.LinearizeColMajor(coord, lo, hi)
	}
	return schema.LinearizeRowMajor(coord, lo, hi)
}

func boxEqual(dt schema.DType, a, b domain.Box) bool {
	if a.NDim() != b.NDim() {
		return false
	}
	return domain.Equal(dt, a.Lo, b.Lo) && domain.Equal(dt, a.Hi, b.Hi)
}

var (
	errSparseView = tdErr("dense cell ranges requested on a sparse fragment")
	errDenseView  = tdErr("sparse cell ranges requested on a dense fragment")
)
