package fragment

import (
	"bytes"
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"math"

	"github.com/sixy6e/tdbcore/internal/domain"
	"github.com/sixy6e/tdbcore/internal/obslog"
	"github.com/sixy6e/tdbcore/internal/tdberr"
	"github.com/sixy6e/tdbcore/schema"
	"github.com/sixy6e/tdbcore/vfs"
)

// manifestName is the one small file each fragment directory carries
// describing its shape; attribute payloads live alongside it as
// separate files so a reader can byte-range a single attribute without
// touching the others (spec §4.2's per-attribute buffer model).
const manifestName = "manifest.bin"

func attrFixedName(name string) string   { return "attr_" + name + ".fixed" }
func attrOffsetsName(name string) string { return "attr_" + name + ".offsets" }
func attrValuesName(name string) string  { return "attr_" + name + ".values" }

// Write serializes v's manifest and attribute buffers under dir,
// exercising the vfs.FS.Write byte-sink contract. It does not implement
// tile compression or the real on-disk tile layout (out of scope, spec
// §1) — this is the minimal persistence a Fragment view in this core
// needs to round-trip through Open.
func Write(ctx context.Context, fs vfs.FS, dir string, v *View) error {
	var buf bytes.Buffer
	writeManifestHeader(&buf, v)
	if err := fs.Write(ctx, dir+"/"+manifestName, buf.Bytes()); err != nil {
		return tdberr.New(tdberr.FragmentIO, err)
	}

	for _, a := range v.Schema.Attributes() {
		ab, ok := v.Attrs[a.Name]
		if !ok {
			return tdberr.New(tdberr.FragmentCorrupt, fmt.Errorf("missing attribute buffer %q", a.Name)).WithAttr(a.Name)
		}
		if a.IsVar() {
			var offBuf bytes.Buffer
			for _, o := range ab.Offsets {
				_ = binary.Write(&offBuf, binary.LittleEndian, o)
			}
			if err := fs.Write(ctx, dir+"/"+attrOffsetsName(a.Name), offBuf.Bytes()); err != nil {
				return tdberr.New(tdberr.FragmentIO, err).WithAttr(a.Name)
			}
			if err := fs.Write(ctx, dir+"/"+attrValuesName(a.Name), ab.Values); err != nil {
				return tdberr.New(tdberr.FragmentIO, err).WithAttr(a.Name)
			}
			continue
		}
		if err := fs.Write(ctx, dir+"/"+attrFixedName(a.Name), ab.Fixed); err != nil {
			return tdberr.New(tdberr.FragmentIO, err).WithAttr(a.Name)
		}
	}

	obslog.Infow("fragment written", "id", v.ID, "dir", dir, "cells", v.NCells)
	return nil
}

// Open loads a fragment previously written by Write, validating it
// against sch's fingerprint so a schema/fragment version mismatch is
// caught as schema_misuse rather than silently misreading bytes.
func Open(ctx context.Context, fs vfs.FS, dir string, sch *schema.Schema) (*View, error) {
	stream, err := fs.Open(ctx, dir+"/"+manifestName)
	if err != nil {
		return nil, tdberr.New(tdberr.FragmentIO, err)
	}
	raw, err := io.ReadAll(stream)
	if err != nil {
		return nil, tdberr.New(tdberr.FragmentIO, err)
	}

	id, dense, bbox, ncells, coords, fp, err := readManifestHeader(sch, raw)
	if err != nil {
		return nil, tdberr.New(tdberr.FragmentCorrupt, err)
	}
	wantFP, err := sch.Fingerprint()
	if err != nil {
		return nil, err
	}
	if fp != wantFP {
		return nil, tdberr.New(tdberr.SchemaMisuse, errFingerprintMismatch)
	}

	attrs := make(map[string]AttrBuffer, len(sch.Attributes()))
	for _, a := range sch.Attributes() {
		if a.IsVar() {
			offRaw, err := fs.ReadRange(ctx, dir+"/"+attrOffsetsName(a.Name), 0, int64((ncells+1)*8))
			if err != nil {
				return nil, tdberr.New(tdberr.FragmentIO, err).WithAttr(a.Name)
			}
			offsets := make([]uint64, ncells+1)
			for i := range offsets {
				offsets[i] = binary.LittleEndian.Uint64(offRaw[i*8:])
			}
			valLen := int64(offsets[ncells])
			values, err := fs.ReadRange(ctx, dir+"/"+attrValuesName(a.Name), 0, valLen)
			if err != nil {
				return nil, tdberr.New(tdberr.FragmentIO, err).WithAttr(a.Name)
			}
			attrs[a.Name] = AttrBuffer{Offsets: offsets, Values: values}
			continue
		}
		fixed, err := fs.ReadRange(ctx, dir+"/"+attrFixedName(a.Name), 0, ncells*int64(a.CellSize()))
		if err != nil {
			return nil, tdberr.New(tdberr.FragmentIO, err).WithAttr(a.Name)
		}
		attrs[a.Name] = AttrBuffer{Fixed: fixed}
	}

	return New(id, dense, sch, bbox, ncells, coords, attrs)
}

func writeManifestHeader(buf *bytes.Buffer, v *View) {
	_ = binary.Write(buf, binary.LittleEndian, v.ID)
	if v.Dense {
		buf.WriteByte(1)
	} else {
		buf.WriteByte(0)
	}
	_ = binary.Write(buf, binary.LittleEndian, uint32(v.BBox.NDim()))
	for i := 0; i < v.BBox.NDim(); i++ {
		writeManifestCoord(buf, v.Schema.CoordDType(), v.BBox.Lo[i])
		writeManifestCoord(buf, v.Schema.CoordDType(), v.BBox.Hi[i])
	}
	_ = binary.Write(buf, binary.LittleEndian, v.NCells)
	if !v.Dense {
		for _, c := range v.Coords {
			for _, d := range c {
				writeManifestCoord(buf, v.Schema.CoordDType(), d)
			}
		}
	}
	fp, _ := v.Schema.Fingerprint()
	_ = binary.Write(buf, binary.LittleEndian, fp)
}

func writeManifestCoord(buf *bytes.Buffer, dt schema.DType, c schema.Coord) {
	if dt.IsFloat() {
		_ = binary.Write(buf, binary.LittleEndian, math.Float64bits(c.AsFloat(dt)))
		return
	}
	_ = binary.Write(buf, binary.LittleEndian, c.I)
}

func readManifestHeader(sch *schema.Schema, raw []byte) (id uint64, dense bool, bbox domain.Box, ncells int64, coords [][]schema.Coord, fp uint64, err error) {
	r := bytes.NewReader(raw)
	if err = binary.Read(r, binary.LittleEndian, &id); err != nil {
		return
	}
	var denseByte byte
	if denseByte, err = r.ReadByte(); err != nil {
		return
	}
	dense = denseByte == 1

	var ndim uint32
	if err = binary.Read(r, binary.LittleEndian, &ndim); err != nil {
		return
	}
	dt := sch.CoordDType()
	bbox = domain.Box{Lo: make([]schema.Coord, ndim), Hi: make([]schema.Coord, ndim)}
	for i := uint32(0); i < ndim; i++ {
		bbox.Lo[i], err = readManifestCoord(r, dt)
		if err != nil {
			return
		}
		bbox.Hi[i], err = readManifestCoord(r, dt)
		if err != nil {
			return
		}
	}

	if err = binary.Read(r, binary.LittleEndian, &ncells); err != nil {
		return
	}
	if !dense {
		coords = make([][]schema.Coord, ncells)
		for i := range coords {
			row := make([]schema.Coord, ndim)
			for j := range row {
				row[j], err = readManifestCoord(r, dt)
				if err != nil {
					return
				}
			}
			coords[i] = row
		}
	}

	err = binary.Read(r, binary.LittleEndian, &fp)
	return
}

func readManifestCoord(r *bytes.Reader, dt schema.DType) (schema.Coord, error) {
	if dt.IsFloat() {
		var bits uint64
		if err := binary.Read(r, binary.LittleEndian, &bits); err != nil {
			return schema.Coord{}, err
		}
		return schema.FloatCoord(math.Float64frombits(bits)), nil
	}
	var v int64
	if err := binary.Read(r, binary.LittleEndian, &v); err != nil {
		return schema.Coord{}, err
	}
	return schema.IntCoord(v), nil
}

var errFingerprintMismatch = tdErr("fragment was written against a different schema version")
