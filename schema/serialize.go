package schema

import (
	"bytes"
	"encoding/binary"
	"errors"
	"io"
	"math"

	"github.com/cespare/xxhash/v2"

	"github.com/sixy6e/tdbcore/internal/tdberr"
)

// Binary form per spec §6:
//
//	magic "TDBS" (4 bytes)
//	version u32 LE
//	array_name: length-prefixed UTF-8 (u32 length)
//	attribute_count u32; per attribute: length-prefixed name, dtype tag
//	  (u8), values-per-cell (u32; VAR encoded as UINT32_MAX)
//	dim_count u32; per dimension: length-prefixed name
//	coord_dtype tag (u8)
//	domain: 2*dim_count values of coord_dtype
//	has_tile_extents (u8); if 1, dim_count values of coord_dtype
//	cell_order, tile_order: u8 each (0=row,1=col,2=hilbert)
//	capacity u64; consolidation_step u32; dense u8
//
// A trailing 8-byte xxhash64 fingerprint of everything above is appended
// (a SPEC_FULL.md supplement, not part of the original spec's wire
// format) so fragment.View can cheaply assert a fragment was written
// against the schema version the array handle has open.
var magic = [4]byte{'T', 'D', 'B', 'S'}

const formatVersion uint32 = 1

func writeU32(buf *bytes.Buffer, v uint32) { _ = binary.Write(buf, binary.LittleEndian, v) }
func writeU64(buf *bytes.Buffer, v uint64) { _ = binary.Write(buf, binary.LittleEndian, v) }
func writeU8(buf *bytes.Buffer, v uint8)   { buf.WriteByte(v) }

func writeString(buf *bytes.Buffer, s string) {
	writeU32(buf, uint32(len(s)))
	buf.WriteString(s)
}

func writeCoord(buf *bytes.Buffer, dt DType, c Coord) {
	if dt.IsFloat() {
		_ = binary.Write(buf, binary.LittleEndian, c.AsFloat(dt))
		return
	}
	_ = binary.Write(buf, binary.LittleEndian, c.I)
}

// Serialize produces the binary round-trip form of the schema.
func (s *Schema) Serialize() ([]byte, error) {
	var buf bytes.Buffer
	buf.Write(magic[:])
	writeU32(&buf, formatVersion)
	writeString(&buf, s.Name)

	writeU32(&buf, uint32(len(s.attributes)))
	for _, a := range s.attributes {
		writeString(&buf, a.Name)
		writeU8(&buf, uint8(a.DType))
		if a.IsVar() {
			writeU32(&buf, math.MaxUint32)
		} else {
			writeU32(&buf, uint32(a.ValuesPerCell))
		}
	}

	writeU32(&buf, uint32(len(s.dimensions)))
	for _, d := range s.dimensions {
		writeString(&buf, d.Name)
	}

	writeU8(&buf, uint8(s.coordDType))
	for _, d := range s.dimensions {
		writeCoord(&buf, s.coordDType, d.Lo)
		writeCoord(&buf, s.coordDType, d.Hi)
	}

	if s.Dense {
		writeU8(&buf, 1)
		for _, d := range s.dimensions {
			writeCoord(&buf, s.coordDType, IntCoord(int64(d.TileExtent)))
		}
	} else {
		writeU8(&buf, 0)
	}

	writeU8(&buf, uint8(s.CellOrder))
	writeU8(&buf, uint8(s.TileOrder))
	writeU64(&buf, s.Capacity)
	writeU32(&buf, s.ConsolidationStep)
	if s.Dense {
		writeU8(&buf, 1)
	} else {
		writeU8(&buf, 0)
	}

	sum := xxhash.Sum64(buf.Bytes())
	writeU64(&buf, sum)

	return buf.Bytes(), nil
}

// Fingerprint returns the xxhash64 fingerprint that would be embedded by
// Serialize, without allocating the full encoded form twice.
func (s *Schema) Fingerprint() (uint64, error) {
	data, err := s.Serialize()
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint64(data[len(data)-8:]), nil
}

type byteReader struct {
	r   *bytes.Reader
	err error
}

func (b *byteReader) u8() uint8 {
	v, err := b.r.ReadByte()
	if err != nil && b.err == nil {
		b.err = err
	}
	return v
}

func (b *byteReader) u32() uint32 {
	var v uint32
	if err := binary.Read(b.r, binary.LittleEndian, &v); err != nil && b.err == nil {
		b.err = err
	}
	return v
}

func (b *byteReader) u64() uint64 {
	var v uint64
	if err := binary.Read(b.r, binary.LittleEndian, &v); err != nil && b.err == nil {
		b.err = err
	}
	return v
}

func (b *byteReader) i64() int64 {
	var v int64
	if err := binary.Read(b.r, binary.LittleEndian, &v); err != nil && b.err == nil {
		b.err = err
	}
	return v
}

func (b *byteReader) f64() float64 {
	var v float64
	if err := binary.Read(b.r, binary.LittleEndian, &v); err != nil && b.err == nil {
		b.err = err
	}
	return v
}

func (b *byteReader) str() string {
	n := b.u32()
	buf := make([]byte, n)
	if _, err := io.ReadFull(b.r, buf); err != nil && b.err == nil {
		b.err = err
	}
	return string(buf)
}

func (b *byteReader) coord(dt DType) Coord {
	if dt.IsFloat() {
		return FloatCoord(b.f64())
	}
	return IntCoord(b.i64())
}

// Deserialize reconstructs a Schema from its binary form, validating the
// magic, version, and trailing fingerprint.
func Deserialize(data []byte) (*Schema, error) {
	if len(data) < 4+4+8 {
		return nil, tdberr.New(tdberr.SchemaMisuse, tdberr.ErrBadMagic)
	}
	body, trailer := data[:len(data)-8], data[len(data)-8:]
	if xxhash.Sum64(body) != binary.LittleEndian.Uint64(trailer) {
		return nil, tdberr.New(tdberr.SchemaMisuse, errors.New("schema fingerprint mismatch"))
	}

	br := &byteReader{r: bytes.NewReader(data)}
	var gotMagic [4]byte
	if _, err := io.ReadFull(br.r, gotMagic[:]); err != nil {
		return nil, tdberr.New(tdberr.SchemaMisuse, err)
	}
	if gotMagic != magic {
		return nil, tdberr.New(tdberr.SchemaMisuse, tdberr.ErrBadMagic)
	}
	version := br.u32()
	if version != formatVersion {
		return nil, tdberr.New(tdberr.SchemaMisuse, tdberr.ErrUnsupportedVersion)
	}

	s := New(br.str())

	nattr := br.u32()
	attrs := make([]Attribute, 0, nattr)
	for i := uint32(0); i < nattr; i++ {
		name := br.str()
		dt := DType(br.u8())
		vpc := br.u32()
		a := Attribute{Name: name, DType: dt, ValuesPerCell: int64(vpc)}
		if vpc == math.MaxUint32 {
			a.ValuesPerCell = VarNum
		}
		attrs = append(attrs, a)
	}

	ndim := br.u32()
	names := make([]string, 0, ndim)
	for i := uint32(0); i < ndim; i++ {
		names = append(names, br.str())
	}

	coordDType := DType(br.u8())
	los := make([]Coord, ndim)
	his := make([]Coord, ndim)
	for i := range los {
		los[i] = br.coord(coordDType)
		his[i] = br.coord(coordDType)
	}

	hasExtents := br.u8() == 1
	extents := make([]uint64, ndim)
	if hasExtents {
		for i := range extents {
			c := br.coord(coordDType)
			extents[i] = uint64(c.I)
		}
	}

	cellOrder := Order(br.u8())
	tileOrder := Order(br.u8())
	capacity := br.u64()
	consolidation := br.u32()
	dense := br.u8() == 1

	if br.err != nil {
		return nil, tdberr.New(tdberr.SchemaMisuse, br.err)
	}

	s.SetDense(dense)
	s.SetCellOrder(cellOrder)
	s.SetTileOrder(tileOrder)
	s.SetCapacity(capacity)
	s.SetConsolidationStep(consolidation)

	for i := uint32(0); i < ndim; i++ {
		d := Dimension{
			Name:  names[i],
			DType: coordDType,
			Lo:    los[i],
			Hi:    his[i],
		}
		if hasExtents {
			d.HasTileExtent = true
			d.TileExtent = extents[i]
		}
		if err := s.AddDimension(d); err != nil {
			return nil, err
		}
	}

	for _, a := range attrs {
		if err := s.AddAttribute(a); err != nil {
			return nil, err
		}
	}

	return s, nil
}
