// Package query exposes the public read entrypoint of the core (spec
// §3's Query tuple, restricted to the read modes this core implements:
// read_global, read_sorted_row, read_sorted_col). It wires
// internal/unsortedreader and internal/sortedreader behind one type so
// callers never import either internal package directly.
package query

import (
	"github.com/sixy6e/tdbcore/fragment"
	"github.com/sixy6e/tdbcore/internal/domain"
	"github.com/sixy6e/tdbcore/internal/sortedreader"
	"github.com/sixy6e/tdbcore/internal/unsortedreader"
	"github.com/sixy6e/tdbcore/schema"
)

// Mode selects the cell order a Read produces.
type Mode int

const (
	// ModeGlobal presents cells in the array's own tile-then-cell order
	// (UnsortedReader, spec §4.3).
	ModeGlobal Mode = iota
	// ModeSortedRow presents cells in row-major subarray order
	// (SortedReader, spec §4.4).
	ModeSortedRow
	// ModeSortedCol presents cells in column-major subarray order.
	ModeSortedCol
)

func (m Mode) String() string {
	switch m {
	case ModeGlobal:
		return "read_global"
	case ModeSortedRow:
		return "read_sorted_row"
	case ModeSortedCol:
		return "read_sorted_col"
	default:
		return "unknown"
	}
}

// AttrBuffers and Result are re-exported from the reader layer: the
// shape a caller fills and receives is identical regardless of Mode.
type AttrBuffers = unsortedreader.AttrBuffers
type Result = unsortedreader.Result

// Options configures per-query tunables that govern reader internals —
// prefetch chunk size, a soft materialized-size ceiling, precedence-map
// presizing — without affecting what a query returns. Spec.md is silent
// on these; see SPEC_FULL.md's Configuration section.
type Options struct {
	initialBankCapacity int
	maxBankBytes        int64
	mergeHeapHint       int
}

// Option configures a Query at construction, matching the options-struct
// idiom described in SPEC_FULL.md's Configuration section.
type Option func(*Options)

// WithInitialBankCapacity sets how many cells the sorted reader drains
// from its internal unsorted reader per resumed call while materializing
// one tile slab (spec §4.4's bank fill). Ignored in ModeGlobal, which has
// no slab to materialize.
func WithInitialBankCapacity(cells int) Option {
	return func(o *Options) { o.initialBankCapacity = cells }
}

// WithMaxBankBytes sets a soft ceiling on one sorted-reader slab's
// materialized size. Crossing it never fails or truncates a read; it
// only logs a diagnostic (internal/obslog) so a caller sizing subarrays
// against available memory gets a signal. Ignored in ModeGlobal.
func WithMaxBankBytes(n int64) Option {
	return func(o *Options) { o.maxBankBytes = n }
}

// WithMergeHeapHint presizes the sparse precedence-claim map the merge
// stage uses (internal/unsortedreader's mergeSparse) when the caller has
// an estimate of how many cells a subarray will touch.
func WithMergeHeapHint(n int) Option {
	return func(o *Options) { o.mergeHeapHint = n }
}

// cellReader is satisfied by both internal readers: sortedreader's
// AttrBuffers/Result are type aliases of unsortedreader's, so their
// Read methods share one method set.
type cellReader interface {
	Read(bufs map[string]*AttrBuffers) (Result, error)
}

// Query is one bound read over a set of already-overlap-filtered
// fragments (fragment.Manifest.Overlapping does the filtering; see
// cmd/tdbcore for the end-to-end wiring from an array root).
type Query struct {
	reader cellReader
	closer func()
}

// New opens a query. fragments must already be filtered to those
// overlapping sub, strictly ordered by id (spec I4). mode selects which
// internal reader backs the query; fillValues supplies per-attribute
// dense empty-cell fill (nil values default to zero bytes).
func New(sch *schema.Schema, fragments []*fragment.View, sub domain.Box, attrs []string, mode Mode, fillValues map[string][]byte, opts ...Option) (*Query, error) {
	o := Options{initialBankCapacity: 4096}
	for _, f := range opts {
		f(&o)
	}

	if mode == ModeGlobal {
		r, err := unsortedreader.New(sch, fragments, sub, attrs, fillValues)
		if err != nil {
			return nil, err
		}
		r.SetMergeHeapHint(o.mergeHeapHint)
		return &Query{reader: r, closer: func() {}}, nil
	}

	order := schema.RowMajor
	if mode == ModeSortedCol {
		order = schema.ColMajor
	}
	r, err := sortedreader.New(sch, fragments, sub, attrs, order, fillValues)
	if err != nil {
		return nil, err
	}
	r.SetChunkCells(o.initialBankCapacity)
	r.SetMaxBankBytes(o.maxBankBytes)
	r.SetMergeHeapHint(o.mergeHeapHint)
	return &Query{reader: r, closer: r.Close}, nil
}

// Read fills bufs with up to as many cells as they hold. Call
// repeatedly, growing or re-supplying buffers between calls, until
// Result.Completed is true (spec §5's resumable-read contract).
func (q *Query) Read(bufs map[string]*AttrBuffers) (Result, error) {
	return q.reader.Read(bufs)
}

// Close releases the query's background resources — the sorted
// reader's single-worker prefetch pool, if any. Safe to call on a
// ModeGlobal query, which owns none, and safe to call more than once.
func (q *Query) Close() {
	if q.closer != nil {
		q.closer()
	}
}

// Status coarsens a Result into the three outcomes a caller loop
// typically branches on.
type Status int

const (
	StatusInProgress Status = iota
	StatusOverflowed
	StatusCompleted
)

func (s Status) String() string {
	switch s {
	case StatusInProgress:
		return "in_progress"
	case StatusOverflowed:
		return "overflowed"
	case StatusCompleted:
		return "completed"
	default:
		return "unknown"
	}
}

// StatusOf classifies res. Completed takes priority: a call cannot both
// finish the query and report an attribute overflow, since finishing
// means every remaining cell fit.
func StatusOf(res Result) Status {
	if res.Completed {
		return StatusCompleted
	}
	for _, overflowed := range res.Overflowed {
		if overflowed {
			return StatusOverflowed
		}
	}
	return StatusInProgress
}

// NewAttrBuffers allocates caller buffers for attrs sized for capacity
// cells each: a fixed-width attribute gets capacity*CellSize() bytes, a
// VAR attribute gets capacity*8 offset bytes plus a valueBytes-sized
// value buffer. Mirrors the teacher's setStructFieldBuffers, which sizes
// one buffer per attribute by its element's byte width before handing it
// to the query layer.
func NewAttrBuffers(sch *schema.Schema, attrs []string, capacity, valueBytes int) (map[string]*AttrBuffers, error) {
	out := make(map[string]*AttrBuffers, len(attrs))
	for _, name := range attrs {
		id, err := sch.AttributeID(name)
		if err != nil {
			return nil, err
		}
		attr, err := sch.Attribute(id)
		if err != nil {
			return nil, err
		}
		if attr.IsVar() {
			out[name] = &AttrBuffers{
				Offsets: make([]byte, capacity*8),
				Values:  make([]byte, valueBytes),
			}
			continue
		}
		out[name] = &AttrBuffers{Fixed: make([]byte, capacity*int(attr.CellSize()))}
	}
	return out, nil
}
