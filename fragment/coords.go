package fragment

import (
	"encoding/binary"
	"math"

	"github.com/sixy6e/tdbcore/internal/tdberr"
	"github.com/sixy6e/tdbcore/schema"
)

// CopyCoord appends the dimID'th coordinate value of each cell in pos
// into out, in the fragment's own coordinate DType width. Dense
// fragments store no per-cell coordinates (spec §1 excludes physical
// tile layout), so their coordinates are recovered analytically from
// the fragment-local position via the same delinearization the merge
// path already uses; sparse fragments read them directly off Coords.
//
// This exists for the sorted reader, which requests dimension values
// as a pseudo-attribute to recover each emitted cell's true coordinate
// for requested-order rearrangement (generalizing spec §4.4's
// sparse-only "request coords internally to sort positions" to dense
// arrays too — see DESIGN.md).
func (v *View) CopyCoord(dimID int, pos PosRange, out []byte, outOff *int) error {
	width := int(v.Schema.CoordDType().Width())
	need := int(pos.Len()) * width
	avail := len(out) - *outOff
	if avail < need {
		wholeCells := avail / width
		for i := int64(0); i < int64(wholeCells); i++ {
			c, err := v.coordAt(dimID, pos.First+i)
			if err != nil {
				return err
			}
			writeCoord(out, *outOff, v.Schema.CoordDType(), c)
			*outOff += width
		}
		return ErrOverflow
	}
	for i := pos.First; i <= pos.Last; i++ {
		c, err := v.coordAt(dimID, i)
		if err != nil {
			return err
		}
		writeCoord(out, *outOff, v.Schema.CoordDType(), c)
		*outOff += width
	}
	return nil
}

func (v *View) coordAt(dimID int, pos int64) (schema.Coord, error) {
	if !v.Dense {
		if pos < 0 || pos >= int64(len(v.Coords)) {
			return schema.Coord{}, tdberr.New(tdberr.FragmentCorrupt, errRangeOOB)
		}
		return v.Coords[pos][dimID], nil
	}
	lo, hi := v.BBox.LoInts(), v.BBox.HiInts()
	var full []int64
	if v.Schema.CellOrder == schema.ColMajor {
		full = schema.DelinearizeColMajor(pos, lo, hi)
	} else {
		full = schema.DelinearizeRowMajor(pos, lo, hi)
	}
	return schema.IntCoord(full[dimID]), nil
}

// writeCoord encodes a single coordinate value at out[off:] in dt's
// native width, little-endian.
func writeCoord(out []byte, off int, dt schema.DType, c schema.Coord) {
	switch dt {
	case schema.Float32:
		binary.LittleEndian.PutUint32(out[off:], math.Float32bits(float32(c.F)))
	case schema.Float64:
		binary.LittleEndian.PutUint64(out[off:], math.Float64bits(c.F))
	case schema.Int8, schema.Uint8, schema.Byte:
		out[off] = byte(c.I)
	case schema.Int16, schema.Uint16:
		binary.LittleEndian.PutUint16(out[off:], uint16(c.I))
	case schema.Int32, schema.Uint32:
		binary.LittleEndian.PutUint32(out[off:], uint32(c.I))
	default:
		binary.LittleEndian.PutUint64(out[off:], uint64(c.I))
	}
}

// readCoord decodes a single coordinate value from buf[off:], the
// inverse of writeCoord.
func readCoord(buf []byte, off int, dt schema.DType) schema.Coord {
	switch dt {
	case schema.Float32:
		return schema.FloatCoord(float64(math.Float32frombits(binary.LittleEndian.Uint32(buf[off:]))))
	case schema.Float64:
		return schema.FloatCoord(math.Float64frombits(binary.LittleEndian.Uint64(buf[off:])))
	case schema.Int8:
		return schema.IntCoord(int64(int8(buf[off])))
	case schema.Uint8, schema.Byte:
		return schema.IntCoord(int64(buf[off]))
	case schema.Int16:
		return schema.IntCoord(int64(int16(binary.LittleEndian.Uint16(buf[off:]))))
	case schema.Uint16:
		return schema.IntCoord(int64(binary.LittleEndian.Uint16(buf[off:])))
	case schema.Int32:
		return schema.IntCoord(int64(int32(binary.LittleEndian.Uint32(buf[off:]))))
	case schema.Uint32:
		return schema.IntCoord(int64(binary.LittleEndian.Uint32(buf[off:])))
	default:
		return schema.IntCoord(int64(binary.LittleEndian.Uint64(buf[off:])))
	}
}

// ReadCoord decodes a single coordinate of dt's width from buf[off:].
// Exported for callers (the sorted reader) that requested a dimension
// as a pseudo-attribute and need to decode the bytes CopyCoord wrote.
func ReadCoord(buf []byte, off int, dt schema.DType) schema.Coord {
	return readCoord(buf, off, dt)
}
