// Package sortedreader implements ArraySortedReadState (spec §4.4): it
// wraps internal/unsortedreader and presents cells in the SUBARRAY's
// requested row- or column-major order, pipelining prefetch of the
// next tile slab against rearrangement/copy of the current one.
package sortedreader

import (
	"sort"

	"github.com/alitto/pond"

	"github.com/sixy6e/tdbcore/fragment"
	"github.com/sixy6e/tdbcore/internal/domain"
	"github.com/sixy6e/tdbcore/internal/obslog"
	"github.com/sixy6e/tdbcore/internal/tdberr"
	"github.com/sixy6e/tdbcore/internal/unsortedreader"
	"github.com/sixy6e/tdbcore/schema"
)

// AttrBuffers and Result are re-exported from unsortedreader: the
// caller-facing buffer/result shape is identical at this layer, only
// the cell order differs.
type AttrBuffers = unsortedreader.AttrBuffers
type Result = unsortedreader.Result

// Reader presents an array's fragments in requested row/col order over
// a subarray.
type Reader struct {
	schema     *schema.Schema
	fragments  []*fragment.View
	sub        domain.Box
	attrs      []string
	order      schema.Order
	fillValues map[string][]byte

	// fastPath is non-nil when sub fits within a single tile row (col
	// order) or column (row order): the requested order already
	// coincides with the array's cell order, so the call delegates
	// straight through (spec §4.4 "fast-path").
	fastPath *unsortedreader.Reader

	slabs   []domain.Box // one entry for dense; a single sub-spanning entry for sparse
	slabIdx int

	pool        *pond.WorkerPool
	banks       [2]*cellBank
	active      int
	prefetchErr error
	prefetched  bool
	done        bool
	closed      bool

	// chunkCells, maxBankBytes and mergeHeapHint are query.Options knobs
	// threaded down by the caller; zero means "use the built-in default".
	chunkCells    int
	maxBankBytes  int64
	mergeHeapHint int
}

const defaultChunkCells = 4096

// SetChunkCells overrides the number of cells drained from the internal
// unsorted reader per resumed call while materializing a slab (spec
// §4.4's bank-fill chunking, query.WithInitialBankCapacity).
func (r *Reader) SetChunkCells(n int) {
	if n > 0 {
		r.chunkCells = n
	}
}

// SetMaxBankBytes sets a soft ceiling on one slab's materialized size
// (query.WithMaxBankBytes). Crossing it does not fail or truncate the
// read — correctness never depends on it — it only emits a diagnostic
// so a caller sizing subarrays against available memory has a signal.
func (r *Reader) SetMaxBankBytes(n int64) {
	if n > 0 {
		r.maxBankBytes = n
	}
}

// SetMergeHeapHint forwards query.WithMergeHeapHint to each internal
// unsorted reader built per slab, and to the fast-path reader if this
// subarray delegates straight through.
func (r *Reader) SetMergeHeapHint(n int) {
	if n > 0 {
		r.mergeHeapHint = n
		if r.fastPath != nil {
			r.fastPath.SetMergeHeapHint(n)
		}
	}
}

// New constructs a reader presenting fragments (already filtered to
// those overlapping sub) in order O over sub.
func New(sch *schema.Schema, fragments []*fragment.View, sub domain.Box, attrs []string, order schema.Order, fillValues map[string][]byte) (*Reader, error) {
	if order == schema.Hilbert {
		return nil, tdberr.New(tdberr.QueryMisuse, tdberr.ErrUnsupportedOrder)
	}
	if err := domain.ValidateSubarray(sch, sub); err != nil {
		return nil, err
	}

	r := &Reader{
		schema:     sch,
		fragments:  fragments,
		sub:        sub,
		attrs:      attrs,
		order:      order,
		fillValues: fillValues,
	}

	fast, err := domain.SingleTileRowOrCol(sch, sub, order)
	if err != nil && sch.Dense {
		return nil, err
	}
	if sch.Dense && fast && sch.CellOrder == order {
		fr, ferr := unsortedreader.New(sch, fragments, sub, attrs, fillValues)
		if ferr != nil {
			return nil, ferr
		}
		r.fastPath = fr
		return r, nil
	}

	if sch.Dense {
		slabs, serr := domain.TileSlabs(sch, sub, order)
		if serr != nil {
			return nil, serr
		}
		r.slabs = slabs
	} else {
		r.slabs = []domain.Box{sub}
	}

	r.pool = pond.New(1, 1)
	r.banks[0] = newCellBank()
	r.banks[1] = newCellBank()
	return r, nil
}

// Close releases the reader's background worker. Safe to call more
// than once. It stops the pool and waits for an already-submitted
// prefetch to finish; a prefetch in flight is not cancelled.
func (r *Reader) Close() {
	if r.pool != nil && !r.closed {
		r.closed = true
		r.pool.StopAndWait()
	}
}

// Read fills bufs with up to as many cells, in requested order, as
// they can hold. Call repeatedly until Result.Completed.
func (r *Reader) Read(bufs map[string]*AttrBuffers) (Result, error) {
	if r.fastPath != nil {
		return r.fastPath.Read(bufs)
	}

	res := Result{
		FixedBytes:   make(map[string]int),
		OffsetsBytes: make(map[string]int),
		ValuesBytes:  make(map[string]int),
		Overflowed:   make(map[string]bool),
	}
	cursors := make(map[string]int, len(r.attrs))
	offCursors := make(map[string]int, len(r.attrs))

	for {
		if r.done {
			res.Completed = true
			return res, nil
		}
		bank := r.banks[r.active]
		if loaded, _ := bank.status(); !loaded {
			if err := r.loadSlab(r.active); err != nil {
				return res, err
			}
		}
		r.maybePrefetchNext()

		copyDone := bank.copyInto(r.schema, r.attrs, bufs, cursors, offCursors, &res)
		if copyDone {
			bank.reset()
			r.slabIdx++
			if r.slabIdx >= len(r.slabs) {
				r.done = true
				res.Completed = true
				return res, nil
			}
			r.swapActive()
			continue
		}
		return res, nil
	}
}

func (r *Reader) swapActive() { r.active = 1 - r.active }

// maybePrefetchNext submits a background fill of the other bank for
// the next slab, if there is one and it is not already loaded or in
// flight (spec §4.4 phase A, spec §5's single background worker).
func (r *Reader) maybePrefetchNext() {
	next := r.slabIdx + 1
	if next >= len(r.slabs) {
		return
	}
	other := 1 - r.active
	bank := r.banks[other]
	if loaded, prefetching := bank.status(); loaded || prefetching {
		return
	}
	bank.markPrefetching()
	slab := r.slabs[next]
	r.pool.Submit(func() {
		records, err := r.buildRecords(slab)
		bank.fillResult(records, err)
	})
}

// loadSlab synchronously fills bank idx for the current slab, used for
// the very first slab (nothing to prefetch it yet) and as a fallback
// if the background fill hasn't finished by the time it's needed.
func (r *Reader) loadSlab(idx int) error {
	bank := r.banks[idx]
	if _, prefetching := bank.status(); prefetching {
		bank.wait()
		bank.mu.Lock()
		err := bank.err
		bank.mu.Unlock()
		return err
	}
	records, err := r.buildRecords(r.slabs[r.slabIdx])
	if err != nil {
		return err
	}
	bank.fillResult(records, nil)
	return nil
}

// buildRecords drains an internal unsortedreader.Reader over slab
// completely, decodes each emitted cell's coordinate from the
// coordinate pseudo-attributes it additionally requests, and returns
// the cells sorted into the requested order. See DESIGN.md for why
// this record-and-sort approach replaces the spec's precomputed
// stride-table walk: it reuses the same comparator the unsorted
// reader's own precedence sort already uses, instead of a second
// offset-bookkeeping scheme that would have to account for this core's
// hole-placement simplification.
func (r *Reader) buildRecords(slab domain.Box) ([]cellRecord, error) {
	dims := r.schema.Dimensions()
	dimNames := make([]string, len(dims))
	for i, d := range dims {
		dimNames[i] = d.Name
	}

	inner, err := unsortedreader.New(r.schema, r.fragments, slab, r.attrs, r.fillValues)
	if err != nil {
		return nil, err
	}
	inner.SetMergeHeapHint(r.mergeHeapHint)
	if err := inner.WithCoordAttrs(dimNames); err != nil {
		return nil, err
	}

	chunkCells := r.chunkCells
	if chunkCells <= 0 {
		chunkCells = defaultChunkCells
	}

	acc := newAccumulator(r.schema, r.attrs, dimNames)
	warned := false
	for {
		bufs := acc.chunkBuffers(chunkCells)
		res, err := inner.Read(bufs)
		if err != nil {
			return nil, err
		}
		acc.append(bufs, res)
		if !warned && r.maxBankBytes > 0 && acc.approxBytes() > r.maxBankBytes {
			obslog.Warnw("slab materialization exceeded configured bank size", "bytes", acc.approxBytes(), "limit", r.maxBankBytes)
			warned = true
		}
		if res.Completed {
			break
		}
	}

	records := acc.records(r.schema.CoordDType(), dimNames)
	dt := r.schema.CoordDType()
	order := r.order
	sort.SliceStable(records, func(i, j int) bool {
		return domain.Less(dt, order, records[i].coord, records[j].coord)
	})
	obslog.Debugw("slab materialized", "cells", len(records))
	return records, nil
}
