package sortedreader

import (
	"encoding/binary"
	"sync"

	"github.com/sixy6e/tdbcore/fragment"
	"github.com/sixy6e/tdbcore/schema"
)

// cellRecord is one fully-materialized cell: its coordinate (decoded
// from the coordinate pseudo-attributes) plus each requested
// attribute's bytes, ready to be copied into a caller buffer in
// whatever order the bank sorts records into.
type cellRecord struct {
	coord []schema.Coord
	fixed map[string][]byte // attribute name -> exactly CellSize() bytes
	value map[string][]byte // VAR attribute name -> this cell's value bytes
}

// cellBank holds one slab's worth of sorted records and a cursor into
// them, standing in for spec §4.4's internal buffer bank plus its
// tile_slab_state cursor. mu guards loaded/prefetching/err/records,
// which the background prefetch goroutine and the caller's copy side
// both touch; doneCh is the "fill complete" condition of spec §5,
// implemented as a channel close rather than sync.Cond since it only
// ever needs one signal per slab.
type cellBank struct {
	mu          sync.Mutex
	records     []cellRecord
	cursor      int
	loaded      bool
	prefetching bool
	err         error
	doneCh      chan struct{}
}

// slabState names the bank's position in the per-slab copy pipeline
// (spec §4.4's NEW_SLAB -> COPYING <-> OVERFLOWED -> RESUMED -> ... ->
// SLAB_DONE). A bank never stores this directly; State derives it from
// the loaded/prefetching/cursor/err fields it already tracks, since
// those fields are what the prefetch goroutine and copy side actually
// synchronize on.
type slabState uint8

const (
	slabNew slabState = iota
	slabPrefetching
	slabCopying
	slabDone
	slabErrored
)

// State reports the bank's current slabState.
func (b *cellBank) State() slabState {
	b.mu.Lock()
	defer b.mu.Unlock()
	switch {
	case b.err != nil:
		return slabErrored
	case !b.loaded && b.prefetching:
		return slabPrefetching
	case !b.loaded:
		return slabNew
	case b.cursor >= len(b.records):
		return slabDone
	default:
		return slabCopying
	}
}

func newCellBank() *cellBank { return &cellBank{doneCh: make(chan struct{})} }

func (b *cellBank) reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.records = nil
	b.cursor = 0
	b.loaded = false
	b.prefetching = false
	b.err = nil
	b.doneCh = make(chan struct{})
}

func (b *cellBank) markPrefetching() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.prefetching = true
}

func (b *cellBank) status() (loaded, prefetching bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.loaded, b.prefetching
}

func (b *cellBank) fillResult(records []cellRecord, err error) {
	b.mu.Lock()
	b.records = records
	b.err = err
	b.loaded = true
	b.prefetching = false
	ch := b.doneCh
	b.mu.Unlock()
	close(ch)
}

// wait blocks the caller until the background fill submitted for this
// bank completes, used only when the copy side catches up to prefetch
// before the prefetch finishes.
func (b *cellBank) wait() {
	b.mu.Lock()
	loaded, ch := b.loaded, b.doneCh
	b.mu.Unlock()
	if loaded {
		return
	}
	<-ch
}

// copyInto walks records from cursor, copying each requested
// attribute's bytes into bufs until a caller buffer can't hold the
// next cell (an overflow, frozen at the cursor for the next call per
// spec §4.4's COPYING ⇌ OVERFLOWED ⇌ RESUMED state machine) or every
// record has been copied (copyDone). cursors/offCursors and res are
// owned by the caller: a single Read call can span multiple slabs
// (multiple banks), and the caller buffer's write position must carry
// over from one bank's records to the next's rather than restart at
// byte zero.
func (b *cellBank) copyInto(sch *schema.Schema, attrs []string, bufs map[string]*AttrBuffers, cursors, offCursors map[string]int, res *Result) bool {
	for b.cursor < len(b.records) {
		rec := b.records[b.cursor]
		if overflowed := copyRecord(sch, attrs, rec, bufs, cursors, offCursors, res); overflowed {
			return false
		}
		b.cursor++
	}
	return true
}

func copyRecord(sch *schema.Schema, attrs []string, rec cellRecord, bufs map[string]*AttrBuffers, cursors, offCursors map[string]int, res *Result) bool {
	for _, a := range attrs {
		id, err := sch.AttributeID(a)
		if err != nil {
			continue
		}
		attr, err := sch.Attribute(id)
		if err != nil {
			continue
		}
		buf := bufs[a]
		if attr.IsVar() {
			v := rec.value[a]
			oc, vc := offCursors[a], cursors[a]
			if oc+8 > len(buf.Offsets) || vc+len(v) > len(buf.Values) {
				res.Overflowed[a] = true
				return true
			}
			binary.LittleEndian.PutUint64(buf.Offsets[oc:], uint64(vc))
			copy(buf.Values[vc:vc+len(v)], v)
			offCursors[a] = oc + 8
			cursors[a] = vc + len(v)
			res.OffsetsBytes[a] = offCursors[a]
			res.ValuesBytes[a] = cursors[a]
			continue
		}
		fv := rec.fixed[a]
		c := cursors[a]
		if c+len(fv) > len(buf.Fixed) {
			res.Overflowed[a] = true
			return true
		}
		copy(buf.Fixed[c:c+len(fv)], fv)
		cursors[a] = c + len(fv)
		res.FixedBytes[a] = cursors[a]
	}
	return false
}

// accumulator collects a slab's cells across however many resumed
// unsortedreader.Read calls it takes to drain it, keyed by attribute
// or dimension name, then slices the accumulated bytes back into
// per-cell cellRecords.
type accumulator struct {
	sch      *schema.Schema
	attrs    []string
	dimNames []string

	fixed map[string][]byte   // attribute or dimension name -> all bytes so far
	offs  map[string][]uint64 // VAR attribute name -> cumulative value-start offsets
	vals  map[string][]byte   // VAR attribute name -> concatenated value bytes
}

func newAccumulator(sch *schema.Schema, attrs, dimNames []string) *accumulator {
	return &accumulator{
		sch: sch, attrs: attrs, dimNames: dimNames,
		fixed: make(map[string][]byte),
		offs:  make(map[string][]uint64),
		vals:  make(map[string][]byte),
	}
}

func (a *accumulator) chunkBuffers(chunkCells int) map[string]*AttrBuffers {
	bufs := make(map[string]*AttrBuffers, len(a.attrs)+len(a.dimNames))
	for _, name := range a.dimNames {
		bufs[name] = &AttrBuffers{Fixed: make([]byte, chunkCells*int(a.sch.CoordDType().Width()))}
	}
	for _, name := range a.attrs {
		id, err := a.sch.AttributeID(name)
		if err != nil {
			continue
		}
		attr, _ := a.sch.Attribute(id)
		if attr.IsVar() {
			bufs[name] = &AttrBuffers{
				Offsets: make([]byte, chunkCells*8),
				Values:  make([]byte, chunkCells*64),
			}
			continue
		}
		bufs[name] = &AttrBuffers{Fixed: make([]byte, chunkCells*int(attr.CellSize()))}
	}
	return bufs
}

// approxBytes sums the bytes accumulated so far across every attribute
// and dimension, for the query.WithMaxBankBytes diagnostic.
func (a *accumulator) approxBytes() int64 {
	var n int64
	for _, b := range a.fixed {
		n += int64(len(b))
	}
	for _, b := range a.vals {
		n += int64(len(b))
	}
	for _, o := range a.offs {
		n += int64(len(o)) * 8
	}
	return n
}

func (a *accumulator) append(bufs map[string]*AttrBuffers, res Result) {
	for _, name := range a.dimNames {
		n := res.FixedBytes[name]
		a.fixed[name] = append(a.fixed[name], bufs[name].Fixed[:n]...)
	}
	for _, name := range a.attrs {
		id, err := a.sch.AttributeID(name)
		if err != nil {
			continue
		}
		attr, _ := a.sch.Attribute(id)
		if attr.IsVar() {
			nOff := res.OffsetsBytes[name] / 8
			base := uint64(len(a.vals[name]))
			for i := 0; i < nOff; i++ {
				start := binary.LittleEndian.Uint64(bufs[name].Offsets[i*8:])
				a.offs[name] = append(a.offs[name], base+start)
			}
			a.vals[name] = append(a.vals[name], bufs[name].Values[:res.ValuesBytes[name]]...)
			continue
		}
		n := res.FixedBytes[name]
		a.fixed[name] = append(a.fixed[name], bufs[name].Fixed[:n]...)
	}
}

// records slices the accumulated byte runs back into one cellRecord
// per cell, decoding coordinates with fragment.ReadCoord.
func (a *accumulator) records(dt schema.DType, dimNames []string) []cellRecord {
	width := int(dt.Width())
	if len(dimNames) == 0 || width == 0 {
		return nil
	}
	ncells := len(a.fixed[dimNames[0]]) / width

	out := make([]cellRecord, ncells)
	for i := 0; i < ncells; i++ {
		coord := make([]schema.Coord, len(dimNames))
		for d, name := range dimNames {
			coord[d] = fragment.ReadCoord(a.fixed[name], i*width, dt)
		}
		out[i] = cellRecord{coord: coord, fixed: make(map[string][]byte), value: make(map[string][]byte)}
	}

	for _, name := range a.attrs {
		id, err := a.sch.AttributeID(name)
		if err != nil {
			continue
		}
		attr, _ := a.sch.Attribute(id)
		if attr.IsVar() {
			offs := a.offs[name]
			vals := a.vals[name]
			for i := 0; i < ncells && i < len(offs); i++ {
				start := offs[i]
				end := uint64(len(vals))
				if i+1 < len(offs) {
					end = offs[i+1]
				}
				out[i].value[name] = vals[start:end]
			}
			continue
		}
		cs := int(attr.CellSize())
		buf := a.fixed[name]
		for i := 0; i < ncells; i++ {
			if (i+1)*cs > len(buf) {
				break
			}
			out[i].fixed[name] = buf[i*cs : (i+1)*cs]
		}
	}
	return out
}
