package fragment

import (
	"encoding/binary"
	"errors"

	"github.com/sixy6e/tdbcore/internal/tdberr"
	"github.com/sixy6e/tdbcore/schema"
)

// ErrOverflow signals that a caller-supplied buffer could not hold the
// full requested range. It is deliberately a plain sentinel, not a
// tdberr.Error: overflow is a resumable signal on the copy path, never
// one of the core's error kinds (spec §7).
var ErrOverflow = errors.New("caller buffer overflow")

// CopyValues appends the fixed-width bytes for pos from attr's buffer
// into out starting at *outOff, advancing *outOff by the number of
// bytes written. If out cannot hold the whole range it writes as much
// as fits at a cell boundary and returns ErrOverflow; *outOff still
// reflects the partial write so a resumed call can pick the cell
// boundary that was actually reached from its own bookkeeping.
func (v *View) CopyValues(attr string, pos PosRange, out []byte, outOff *int) error {
	ab, id, cellSize, err := v.attrBuf(attr, wantFixed)
	if err != nil {
		return err
	}
	_ = id
	start := pos.First * int64(cellSize)
	end := (pos.Last + 1) * int64(cellSize)
	if end > int64(len(ab.Fixed)) {
		return tdberr.New(tdberr.FragmentCorrupt, errRangeOOB).WithAttr(attr)
	}

	avail := len(out) - *outOff
	need := int(end - start)
	if avail < need {
		wholeCells := avail / int(cellSize)
		n := wholeCells * int(cellSize)
		copy(out[*outOff:*outOff+n], ab.Fixed[start:start+int64(n)])
		*outOff += n
		return ErrOverflow
	}
	copy(out[*outOff:*outOff+need], ab.Fixed[start:end])
	*outOff += need
	return nil
}

// CopyValuesVar appends pos's variable-length cells to offsOut/valsOut,
// translating each fragment-local value offset into valOutOff's own
// coordinate space. Overflow is checked per-cell so neither buffer is
// left holding a partial cell's bytes.
func (v *View) CopyValuesVar(attr string, pos PosRange, offsOut []byte, offOutOff *int, valsOut []byte, valOutOff *int) error {
	ab, _, _, err := v.attrBuf(attr, wantVar)
	if err != nil {
		return err
	}
	for c := pos.First; c <= pos.Last; c++ {
		valStart := ab.Offsets[c]
		valEnd := ab.Offsets[c+1]
		n := int(valEnd - valStart)

		if *offOutOff+8 > len(offsOut) || *valOutOff+n > len(valsOut) {
			return ErrOverflow
		}
		binary.LittleEndian.PutUint64(offsOut[*offOutOff:], uint64(*valOutOff))
		*offOutOff += 8
		copy(valsOut[*valOutOff:*valOutOff+n], ab.Values[valStart:valEnd])
		*valOutOff += n
	}
	return nil
}

// EmptyFill appends n copies of attr's fill value to out, for the dense
// empty-cell fill path (spec §4.3). Overflow truncates to a whole
// number of cells, same as CopyValues. It is schema-level, not
// fragment-level — a hole belongs to no fragment — but lives on View
// as a convenience for callers that already have one in hand.
func (v *View) EmptyFill(attr string, fill []byte, n int64, out []byte, outOff *int) (int64, error) {
	return EmptyFill(v.Schema, attr, fill, n, out, outOff)
}

// EmptyFill is the schema-level empty-cell fill path, usable by the
// unsorted reader without needing to reach through an arbitrary
// fragment for schema metadata.
func EmptyFill(sch *schema.Schema, attr string, fill []byte, n int64, out []byte, outOff *int) (int64, error) {
	id, err := sch.AttributeID(attr)
	if err != nil {
		return 0, err
	}
	a, err := sch.Attribute(id)
	if err != nil {
		return 0, err
	}
	cellSize := int(a.CellSize())
	if len(fill) != cellSize {
		return 0, tdberr.New(tdberr.Internal, errFillSize).WithAttr(attr)
	}

	avail := len(out) - *outOff
	maxCells := int64(avail / cellSize)
	wrote := n
	overflowed := false
	if wrote > maxCells {
		wrote = maxCells
		overflowed = true
	}
	for i := int64(0); i < wrote; i++ {
		copy(out[*outOff:*outOff+cellSize], fill)
		*outOff += cellSize
	}
	if overflowed {
		return wrote, ErrOverflow
	}
	return wrote, nil
}

type bufWant uint8

const (
	wantFixed bufWant = iota
	wantVar
)

func (v *View) attrBuf(attr string, want bufWant) (AttrBuffer, int, uint32, error) {
	id, err := v.Schema.AttributeID(attr)
	if err != nil {
		return AttrBuffer{}, 0, 0, err
	}
	a, err := v.Schema.Attribute(id)
	if err != nil {
		return AttrBuffer{}, 0, 0, err
	}
	if a.IsVar() != (want == wantVar) {
		return AttrBuffer{}, 0, 0, tdberr.New(tdberr.QueryMisuse, errVarMismatch).WithAttr(attr)
	}
	ab, ok := v.Attrs[attr]
	if !ok {
		return AttrBuffer{}, 0, 0, tdberr.New(tdberr.FragmentCorrupt, errNoAttrBuf).WithAttr(attr)
	}
	return ab, id, a.CellSize(), nil
}

var (
	errRangeOOB    = tdErr("requested cell position range exceeds fragment attribute buffer")
	errVarMismatch = tdErr("attribute var-length-ness does not match the requested copy path")
	errNoAttrBuf   = tdErr("fragment has no buffer for the requested attribute")
	errFillSize    = tdErr("fill value size does not match attribute cell size")
)
