// Package structschema builds a *schema.Schema's attributes from an
// annotated Go struct, adapted from the teacher's stagparser-driven
// schemaAttrs/CreateAttr (tiledb.go, schema.go): a struct field tagged
// `tdbcore:"dtype=...,ftype=attr"` becomes a schema.Attribute, a field
// tagged `ftype=dim` is skipped (dimensions are built programmatically
// and passed to Build, exactly as the teacher's NewDimension calls build them
// outside of any struct tag), and an untagged field is ignored.
//
// Tags recognized under the "tdbcore" key: dtype, ftype, var.
//   dtype names a schema.DType: int8, uint8, int16, uint16, int32,
//     uint32, int64, uint64, float32, float64, byte.
//   ftype is dim or attr.
//   var, if present, marks the attribute variable-length
//     (schema.VarNum values per cell); its absence means one value
//     per cell.
//
// An example tag: `tdbcore:"dtype=float32,ftype=attr"`, or for a
// variable-length attribute, `tdbcore:"dtype=float32,ftype=attr,var"`.
package structschema

import (
	"errors"
	"reflect"

	stgpsr "github.com/yuin/stagparser"

	"github.com/sixy6e/tdbcore/internal/tdberr"
	"github.com/sixy6e/tdbcore/schema"
)

const tagKey = "tdbcore"

var (
	ErrNotStruct    = errors.New("structschema: t must be a pointer to a struct")
	ErrMissingFtype = errors.New("structschema: tdbcore tag missing ftype")
	ErrBadFtype     = errors.New("structschema: ftype must be dim or attr")
	ErrMissingDtype = errors.New("structschema: tdbcore tag missing dtype")
	ErrUnknownDtype = errors.New("structschema: tdbcore tag names an unrecognized dtype")
)

// Build constructs a *schema.Schema named name, dense as given, with
// dims added first (in the order given), then one schema.Attribute
// per tdbcore-tagged, ftype=attr field of t. t must be a pointer to a
// struct, matching stagparser's own requirement.
func Build(name string, dense bool, dims []schema.Dimension, t any) (*schema.Schema, error) {
	v := reflect.ValueOf(t)
	if v.Kind() != reflect.Ptr || v.Elem().Kind() != reflect.Struct {
		return nil, tdberr.New(tdberr.SchemaMisuse, ErrNotStruct)
	}

	s := schema.New(name).SetDense(dense)
	for _, d := range dims {
		if err := s.AddDimension(d); err != nil {
			return nil, err
		}
	}

	defs, err := stgpsr.ParseStruct(t, tagKey)
	if err != nil {
		return nil, tdberr.New(tdberr.SchemaMisuse, err)
	}

	types := v.Elem().Type()
	for i := 0; i < types.NumField(); i++ {
		field := types.Field(i)
		if field.PkgPath != "" { // unexported
			continue
		}
		fieldDefs := indexDefs(defs[field.Name])
		if len(fieldDefs) == 0 {
			continue
		}

		ftypeDef, ok := fieldDefs["ftype"]
		if !ok {
			return nil, tdberr.New(tdberr.SchemaMisuse, ErrMissingFtype).WithAttr(field.Name)
		}
		ftype, _ := ftypeDef.Attribute("ftype")
		switch ftype {
		case "dim":
			continue
		case "attr":
			attr, err := buildAttribute(field.Name, fieldDefs)
			if err != nil {
				return nil, err
			}
			if err := s.AddAttribute(attr); err != nil {
				return nil, err
			}
		default:
			return nil, tdberr.New(tdberr.SchemaMisuse, ErrBadFtype).WithAttr(field.Name)
		}
	}

	return s, nil
}

// indexDefs mirrors schemaAttrs's "a mapping just seemed easier to pull
// required defs" re-keying of stagparser's per-field definition slice
// by each definition's own name.
func indexDefs(defs []stgpsr.Definition) map[string]stgpsr.Definition {
	out := make(map[string]stgpsr.Definition, len(defs))
	for _, d := range defs {
		out[d.Name()] = d
	}
	return out
}

func buildAttribute(fieldName string, defs map[string]stgpsr.Definition) (schema.Attribute, error) {
	dt, err := dtypeOf(fieldName, defs)
	if err != nil {
		return schema.Attribute{}, err
	}
	a := schema.Attribute{Name: fieldName, DType: dt, ValuesPerCell: 1}
	if _, ok := defs["var"]; ok {
		a.ValuesPerCell = schema.VarNum
	}
	return a, nil
}

func dtypeOf(fieldName string, defs map[string]stgpsr.Definition) (schema.DType, error) {
	def, ok := defs["dtype"]
	if !ok {
		return 0, tdberr.New(tdberr.SchemaMisuse, ErrMissingDtype).WithAttr(fieldName)
	}
	v, _ := def.Attribute("dtype")
	name, _ := v.(string)
	switch name {
	case "int8":
		return schema.Int8, nil
	case "uint8":
		return schema.Uint8, nil
	case "int16":
		return schema.Int16, nil
	case "uint16":
		return schema.Uint16, nil
	case "int32":
		return schema.Int32, nil
	case "uint32":
		return schema.Uint32, nil
	case "int64":
		return schema.Int64, nil
	case "uint64":
		return schema.Uint64, nil
	case "float32":
		return schema.Float32, nil
	case "float64":
		return schema.Float64, nil
	case "byte":
		return schema.Byte, nil
	default:
		return 0, tdberr.New(tdberr.SchemaMisuse, ErrUnknownDtype).WithAttr(fieldName)
	}
}
