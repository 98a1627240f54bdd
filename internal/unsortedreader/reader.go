// Package unsortedreader implements ArrayReadState (spec §4.3): the
// merge of per-fragment cell ranges into the array's GLOBAL cell order,
// with newest-fragment-wins precedence and dense empty-cell fill. This
// is the component the sorted reader (internal/sortedreader) delegates
// to per tile slab.
package unsortedreader

import (
	"encoding/binary"

	"github.com/sixy6e/tdbcore/fragment"
	"github.com/sixy6e/tdbcore/internal/domain"
	"github.com/sixy6e/tdbcore/internal/obslog"
	"github.com/sixy6e/tdbcore/internal/tdberr"
	"github.com/sixy6e/tdbcore/schema"
)

// AttrBuffers is one attribute's caller-supplied output buffers. For a
// VAR attribute, Offsets holds one fixed-width uint64 per cell and Values
// holds the value bytes; Fixed holds the raw cell bytes for a fixed-width
// attribute. Exactly one of the two forms is populated, matching the
// attribute's schema.Attribute.IsVar().
type AttrBuffers struct {
	Fixed   []byte
	Offsets []byte
	Values  []byte
}

// Result reports, per requested attribute, how many bytes this Read
// call wrote and whether it overflowed. Completed is true only once
// every tile in the subarray has been fully emitted.
type Result struct {
	FixedBytes   map[string]int
	OffsetsBytes map[string]int
	ValuesBytes  map[string]int
	Overflowed   map[string]bool
	Completed    bool
}

// queryState is the reader's resumable position: which tile is current,
// its merged work items and the cursor into them, and whether the
// (sparse) single pseudo-tile or (dense) tile list has been exhausted.
// Keeping this as one struct rather than loose fields on Reader gives
// overflow-resume (spec §8 P7) a single snapshot to reason about — a
// Read call that overflows returns with queryState recording the
// position reached (including itemProgress below), and the next call
// resumes from exactly where it left off.
type queryState struct {
	tiles      []domain.TileCoord // dense only; nil for sparse (single pseudo-tile)
	tileIdx    int
	sparseDone bool

	curWork    []workItem
	curWorkIdx int
	done       bool

	// itemProgress tracks, for the work item at curWorkIdx only, how
	// many cells of it have already been copied into a caller buffer per
	// requested attribute/dimension name. A Read call that overflows
	// returns with the item's bytes-so-far genuinely delivered to the
	// caller (fragment.CopyValues et al. write a real partial prefix
	// before signaling overflow); the next call must resume copying this
	// item from that offset, never from w.pos.First again, or the
	// already-delivered leading cells get duplicated (spec §8 P7).
	// Cleared whenever curWorkIdx advances to a new item.
	itemProgress map[string]int64
}

// Reader merges an array's overlapping fragments over a subarray into
// global cell order, one tile at a time.
type Reader struct {
	schema     *schema.Schema
	fragments  []*fragment.View // ascending id: smaller index = older (spec I4)
	sub        domain.Box
	attrs      []string
	fillValues map[string][]byte

	state queryState

	dimID map[string]int // coordinate pseudo-attribute name -> dimension index

	// mergeHeapHint presizes the per-tile/per-query precedence-claim
	// structures (query.WithMergeHeapHint): the roaring bitmap in
	// mergeDenseTile needs no hint, but mergeSparse's coordinate claim
	// map benefits from an expected-cardinality hint when the caller
	// knows roughly how many cells a subarray will touch.
	mergeHeapHint int
}

// SetMergeHeapHint presizes the sparse precedence-claim map (see
// mergeSparse) to n buckets. A zero or negative hint is ignored.
func (r *Reader) SetMergeHeapHint(n int) {
	if n > 0 {
		r.mergeHeapHint = n
	}
}

type workItem struct {
	hole bool
	view *fragment.View
	// pos is fragment-local for a survivor, tile-local for a hole (there
	// is no fragment to be local to).
	pos  fragment.PosRange
	tile domain.TileCoord // set for dense items; nil for sparse
}

// New constructs a reader over the given fragments (already filtered to
// those overlapping sub), returning query_misuse if the subarray does
// not validate against sch, or if attrs names an unknown attribute.
func New(sch *schema.Schema, fragments []*fragment.View, sub domain.Box, attrs []string, fillValues map[string][]byte) (*Reader, error) {
	if err := domain.ValidateSubarray(sch, sub); err != nil {
		return nil, err
	}
	if len(attrs) == 0 {
		return nil, tdberr.New(tdberr.QueryMisuse, tdberr.ErrNoAttributes)
	}
	seen := make(map[string]bool, len(attrs))
	for _, a := range attrs {
		if seen[a] {
			return nil, tdberr.New(tdberr.QueryMisuse, tdberr.ErrDuplicateAttrID)
		}
		seen[a] = true
		if _, err := sch.AttributeID(a); err != nil {
			return nil, err
		}
	}

	r := &Reader{
		schema:     sch,
		fragments:  fragments,
		sub:        sub,
		attrs:      attrs,
		fillValues: fillValues,
	}

	if sch.Dense {
		tiles, err := domain.TileCoordsOfBox(sch, sub, sch.TileOrder)
		if err != nil {
			return nil, err
		}
		r.state.tiles = tiles
	}
	return r, nil
}

// WithCoordAttrs additionally requests each named dimension's
// coordinate value as a pseudo-attribute: copyWorkItem fills its buffer
// with the dimension's value for every emitted cell, recovered
// analytically for dense fragments and read directly off Coords for
// sparse ones (fragment.View.CopyCoord). Must be called before the
// first Read. This is how the sorted reader recovers each cell's true
// coordinate for requested-order rearrangement.
func (r *Reader) WithCoordAttrs(dims []string) error {
	if r.dimID == nil {
		r.dimID = make(map[string]int, len(dims))
	}
	for _, d := range dims {
		id, err := r.schema.DimensionID(d)
		if err != nil {
			return err
		}
		r.dimID[d] = id
		r.attrs = append(r.attrs, d)
	}
	return nil
}

// Read fills bufs with up to as many cells as they can hold, advancing
// the reader's position. Call repeatedly, growing or re-supplying
// buffers between calls, until Result.Completed is true.
func (r *Reader) Read(bufs map[string]*AttrBuffers) (Result, error) {
	res := Result{
		FixedBytes:   make(map[string]int),
		OffsetsBytes: make(map[string]int),
		ValuesBytes:  make(map[string]int),
		Overflowed:   make(map[string]bool),
	}
	for _, a := range r.attrs {
		if _, ok := bufs[a]; !ok {
			return res, tdberr.New(tdberr.QueryMisuse, tdberr.ErrMissingBuffer).WithAttr(a)
		}
	}

	cursors := make(map[string]*int, len(r.attrs))
	for _, a := range r.attrs {
		o := 0
		cursors[a] = &o
	}
	offCursors := make(map[string]*int, len(r.attrs))
	for _, a := range r.attrs {
		o := 0
		offCursors[a] = &o
	}

	for {
		if r.state.done {
			res.Completed = true
			return res, nil
		}
		if r.state.curWork == nil {
			more, err := r.loadNextTile()
			if err != nil {
				return res, err
			}
			if !more {
				r.state.done = true
				res.Completed = true
				return res, nil
			}
		}

		for r.state.curWorkIdx < len(r.state.curWork) {
			w := r.state.curWork[r.state.curWorkIdx]
			overflowed, err := r.copyWorkItem(w, bufs, cursors, offCursors, &res)
			if err != nil {
				return res, err
			}
			if overflowed {
				return res, nil
			}
			r.state.itemProgress = nil
			r.state.curWorkIdx++
		}
		r.state.curWork = nil
	}
}

// copyWorkItem attempts w against every requested attribute in order,
// stopping at the first overflow (spec §4.3 step 5: any overflow ends
// the call). An attribute already fully delivered for w in an earlier
// call (tracked in r.state.itemProgress) is skipped entirely rather
// than recopied — its bytes already reached the caller in that earlier
// call's buffer, so copying them again here would duplicate them in
// this call's (fresh) buffer. An attribute partway through w resumes
// from exactly the cell position it reached, not from w.pos.First.
func (r *Reader) copyWorkItem(w workItem, bufs map[string]*AttrBuffers, cursors, offCursors map[string]*int, res *Result) (overflowed bool, err error) {
	if r.state.itemProgress == nil {
		r.state.itemProgress = make(map[string]int64, len(r.attrs))
	}
	progress := r.state.itemProgress

	for _, a := range r.attrs {
		done := progress[a]
		if done >= w.pos.Len() {
			continue // already fully delivered for this item in an earlier call
		}
		pos := fragment.PosRange{First: w.pos.First + done, Last: w.pos.Last}

		if dimID, ok := r.dimID[a]; ok {
			before := *cursors[a]
			cerr := r.copyCoordAttr(dimID, w, pos, bufs[a], cursors[a])
			res.FixedBytes[a] = *cursors[a]
			progress[a] += int64(*cursors[a]-before) / int64(r.schema.CoordDType().Width())
			if cerr == fragment.ErrOverflow {
				res.Overflowed[a] = true
				return true, nil
			}
			if cerr != nil {
				return false, cerr
			}
			continue
		}
		id, aerr := r.schema.AttributeID(a)
		if aerr != nil {
			return false, aerr
		}
		attr, aerr := r.schema.Attribute(id)
		if aerr != nil {
			return false, aerr
		}
		buf := bufs[a]

		if w.hole {
			fill := r.fillValues[a]
			if fill == nil {
				fill = make([]byte, attr.CellSize())
			}
			if attr.IsVar() {
				n, cerr := emptyFillVar(fill, pos.Len(), buf.Offsets, offCursors[a], buf.Values, cursors[a])
				res.OffsetsBytes[a] = *offCursors[a]
				res.ValuesBytes[a] = *cursors[a]
				progress[a] += n
				if cerr == fragment.ErrOverflow {
					res.Overflowed[a] = true
					return true, nil
				}
				if cerr != nil {
					return false, cerr
				}
				continue
			}
			n, cerr := fragment.EmptyFill(r.schema, a, fill, pos.Len(), buf.Fixed, cursors[a])
			res.FixedBytes[a] = *cursors[a]
			progress[a] += n
			if cerr == fragment.ErrOverflow {
				res.Overflowed[a] = true
				return true, nil
			}
			if cerr != nil {
				return false, cerr
			}
			continue
		}

		if attr.IsVar() {
			before := *offCursors[a]
			cerr := w.view.CopyValuesVar(a, pos, buf.Offsets, offCursors[a], buf.Values, cursors[a])
			res.OffsetsBytes[a] = *offCursors[a]
			res.ValuesBytes[a] = *cursors[a]
			progress[a] += int64(*offCursors[a]-before) / 8
			if cerr == fragment.ErrOverflow {
				res.Overflowed[a] = true
				return true, nil
			}
			if cerr != nil {
				return false, cerr
			}
			continue
		}
		before := *cursors[a]
		cerr := w.view.CopyValues(a, pos, buf.Fixed, cursors[a])
		res.FixedBytes[a] = *cursors[a]
		progress[a] += int64(*cursors[a]-before) / int64(attr.CellSize())
		if cerr == fragment.ErrOverflow {
			res.Overflowed[a] = true
			return true, nil
		}
		if cerr != nil {
			return false, cerr
		}
	}
	obslog.Debugw("work item copied", "hole", w.hole, "pos", w.pos)
	return false, nil
}

// copyCoordAttr fills a coordinate pseudo-attribute's buffer for the
// (possibly progress-adjusted) range pos of w. A survivor delegates to
// its fragment (CopyCoord knows how to recover a dense fragment's
// coordinate analytically or read a sparse fragment's stored one); a
// hole has no fragment, so its coordinates are delinearized directly
// from the hole's tile-local position range.
func (r *Reader) copyCoordAttr(dimID int, w workItem, pos fragment.PosRange, buf *AttrBuffers, outOff *int) error {
	if !w.hole {
		return w.view.CopyCoord(dimID, pos, buf.Fixed, outOff)
	}
	width := int(r.schema.CoordDType().Width())
	tileBounds := domain.TileBounds(r.schema, w.tile)
	lo, hi := tileBounds.LoInts(), tileBounds.HiInts()
	avail := len(buf.Fixed) - *outOff
	need := int(pos.Len()) * width
	last := pos.Last
	if avail < need {
		last = pos.First + int64(avail/width) - 1
	}
	for p := pos.First; p <= last; p++ {
		coord := delinearize(r.schema.CellOrder, p, lo, hi)
		writeCoordValue(buf.Fixed, *outOff, r.schema.CoordDType(), coord[dimID])
		*outOff += width
	}
	if avail < need {
		return fragment.ErrOverflow
	}
	return nil
}

func writeCoordValue(out []byte, off int, dt schema.DType, v int64) {
	b := make([]byte, dt.Width())
	for i := range b {
		b[i] = byte(v >> (8 * i))
	}
	copy(out[off:], b)
}

// emptyFillVar writes n zero-length-value cells: an offset entry per
// cell, no bytes in the values buffer. VAR attributes have no declared
// fill value in this core (spec is silent on VAR fill); an empty string
// is the only fill that needs no caller-declared default.
func emptyFillVar(_ []byte, n int64, offsOut []byte, offOutOff *int, valsOut []byte, valOutOff *int) (int64, error) {
	_ = valsOut
	for i := int64(0); i < n; i++ {
		if *offOutOff+8 > len(offsOut) {
			return i, fragment.ErrOverflow
		}
		binary.LittleEndian.PutUint64(offsOut[*offOutOff:], uint64(*valOutOff))
		*offOutOff += 8
	}
	return n, nil
}
