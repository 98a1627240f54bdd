// Package schema describes an array's dimensions, attributes, cell/tile
// order, tile extents, density, and per-attribute value counts (spec
// §3/§4.1). It is a pure, I/O-free description: every other component
// depends on a *Schema and never mutates it.
package schema

import (
	"errors"

	"github.com/samber/lo"

	"github.com/sixy6e/tdbcore/internal/tdberr"
)

// Coord is a single coordinate value in a dimension's domain. Exactly
// one of I or F is meaningful, selected by the owning Dimension's DType
// (IsFloat). This mirrors the schema's "all dimensions share one
// coordinate DType" invariant (I1) — the union-like representation
// avoids a generic/any value on every hot-loop coordinate comparison.
type Coord struct {
	I int64
	F float64
}

// IntCoord constructs a Coord for an integral dtype.
func IntCoord(i int64) Coord { return Coord{I: i} }

// FloatCoord constructs a Coord for a floating point dtype.
func FloatCoord(f float64) Coord { return Coord{F: f} }

// AsFloat returns the coordinate's value as a float64, interpreting the
// union according to dt.
func (c Coord) AsFloat(dt DType) float64 {
	if dt.IsFloat() {
		return c.F
	}
	return float64(c.I)
}

// Dimension describes one axis of the array's domain: name, coordinate
// dtype, inclusive bounds [Lo,Hi], and (for regular/dense tiling) a
// tile extent that must divide the axis extent of a tile.
type Dimension struct {
	Name          string
	DType         DType
	Lo, Hi        Coord
	TileExtent    uint64
	HasTileExtent bool
}

// Extent returns Hi-Lo+1 for an integral dimension, the number of
// distinct integral coordinates in the domain.
func (d Dimension) Extent() uint64 {
	return uint64(d.Hi.I-d.Lo.I) + 1
}

// Attribute is a named per-cell value: a dtype and a values-per-cell
// count, which is either a positive fixed count or the VarNum sentinel
// for variable-length attributes (spec §3).
type Attribute struct {
	Name          string
	DType         DType
	ValuesPerCell int64
}

// IsVar reports whether a is variable-length.
func (a Attribute) IsVar() bool { return a.ValuesPerCell == VarNum }

// CellSize returns the fixed byte width of one cell's worth of this
// attribute. For a VAR attribute this is the offset width, not the
// value width, per spec §4.1.
func (a Attribute) CellSize() uint32 {
	if a.IsVar() {
		return offsetWidth
	}
	return uint32(a.ValuesPerCell) * a.DType.Width()
}

// Schema is the immutable-once-built description of an array.
type Schema struct {
	Name              string
	attributes        []Attribute
	dimensions        []Dimension
	attrIndex         map[string]int
	dimIndex          map[string]int
	denseSet          bool
	Dense             bool
	CellOrder         Order
	TileOrder         Order
	Capacity          uint64
	ConsolidationStep uint32
	coordDType        DType
	coordDTypeSet     bool
}

// New constructs an empty schema named name. Dense must be configured
// with SetDense before any dimension is added (spec §4.1: "setting...
// tile extents before dense flag fails with schema_misuse").
func New(name string) *Schema {
	return &Schema{
		Name:      name,
		attrIndex: make(map[string]int),
		dimIndex:  make(map[string]int),
		CellOrder: RowMajor,
		TileOrder: RowMajor,
		Capacity:  10000,
	}
}

// SetDense fixes whether the array is dense or sparse. Must be called
// before AddDimension.
func (s *Schema) SetDense(dense bool) *Schema {
	s.Dense = dense
	s.denseSet = true
	return s
}

// SetCellOrder sets the global within-tile cell order.
func (s *Schema) SetCellOrder(o Order) *Schema { s.CellOrder = o; return s }

// SetTileOrder sets the order tiles are enumerated in.
func (s *Schema) SetTileOrder(o Order) *Schema { s.TileOrder = o; return s }

// SetCapacity sets the sparse tile packing capacity (cells per tile).
func (s *Schema) SetCapacity(c uint64) *Schema { s.Capacity = c; return s }

// SetConsolidationStep records the declarative consolidation step.
// Carried for round-tripping only; no consolidation algorithm is
// implemented by this module (Non-goal).
func (s *Schema) SetConsolidationStep(n uint32) *Schema { s.ConsolidationStep = n; return s }

// AddDimension appends a dimension, enforcing: dense must already be
// configured; all dimensions share one coordinate dtype; dense
// dimensions carry a tile extent and an integral dtype, sparse
// dimensions carry none; dimension names are unique and disjoint from
// attribute names.
func (s *Schema) AddDimension(d Dimension) error {
	if !s.denseSet {
		return tdberr.New(tdberr.SchemaMisuse, tdberr.ErrDenseNotSet)
	}
	if _, exists := s.dimIndex[d.Name]; exists {
		return tdberr.New(tdberr.SchemaMisuse, errors.Join(tdberr.ErrDuplicateName, errNamed(d.Name)))
	}
	if _, exists := s.attrIndex[d.Name]; exists {
		return tdberr.New(tdberr.SchemaMisuse, errors.Join(tdberr.ErrDuplicateName, errNamed(d.Name)))
	}
	if !s.coordDTypeSet {
		s.coordDType = d.DType
		s.coordDTypeSet = true
	} else if d.DType != s.coordDType {
		return tdberr.New(tdberr.SchemaMisuse, tdberr.ErrCoordDTypeMismatch)
	}
	if s.Dense {
		if !d.DType.IsIntegral() {
			return tdberr.New(tdberr.SchemaMisuse, tdberr.ErrNonIntegralDense)
		}
		if !d.HasTileExtent || d.TileExtent == 0 {
			return tdberr.New(tdberr.SchemaMisuse, tdberr.ErrTileExtentMissing)
		}
	} else if d.HasTileExtent {
		return tdberr.New(tdberr.SchemaMisuse, tdberr.ErrTileExtentPresent)
	}

	s.dimIndex[d.Name] = len(s.dimensions)
	s.dimensions = append(s.dimensions, d)
	return nil
}

// AddAttribute appends an attribute, enforcing name uniqueness against
// both attributes and dimensions.
func (s *Schema) AddAttribute(a Attribute) error {
	if _, exists := s.attrIndex[a.Name]; exists {
		return tdberr.New(tdberr.SchemaMisuse, errors.Join(tdberr.ErrDuplicateName, errNamed(a.Name)))
	}
	if _, exists := s.dimIndex[a.Name]; exists {
		return tdberr.New(tdberr.SchemaMisuse, errors.Join(tdberr.ErrDuplicateName, errNamed(a.Name)))
	}
	s.attrIndex[a.Name] = len(s.attributes)
	s.attributes = append(s.attributes, a)
	return nil
}

func errNamed(name string) error { return errors.New(name) }

// Attributes returns the ordered list of attributes.
func (s *Schema) Attributes() []Attribute { return s.attributes }

// Dimensions returns the ordered list of dimensions.
func (s *Schema) Dimensions() []Dimension { return s.dimensions }

// NDim returns the number of dimensions (D in spec notation).
func (s *Schema) NDim() int { return len(s.dimensions) }

// CoordDType returns the coordinate dtype shared by every dimension.
func (s *Schema) CoordDType() DType { return s.coordDType }

// AttributeNames returns every attribute's name, in schema order.
func (s *Schema) AttributeNames() []string {
	return lo.Map(s.attributes, func(a Attribute, _ int) string { return a.Name })
}

// AttributeID returns the index of the named attribute.
func (s *Schema) AttributeID(name string) (int, error) {
	id, ok := s.attrIndex[name]
	if !ok {
		return 0, tdberr.New(tdberr.QueryMisuse, errors.Join(tdberr.ErrUnknownAttribute, errNamed(name)))
	}
	return id, nil
}

// Attribute returns the attribute with the given id.
func (s *Schema) Attribute(id int) (Attribute, error) {
	if id < 0 || id >= len(s.attributes) {
		return Attribute{}, tdberr.New(tdberr.QueryMisuse, tdberr.ErrUnknownAttribute)
	}
	return s.attributes[id], nil
}

// DimensionID returns the index of the named dimension.
func (s *Schema) DimensionID(name string) (int, error) {
	id, ok := s.dimIndex[name]
	if !ok {
		return 0, tdberr.New(tdberr.QueryMisuse, errors.Join(tdberr.ErrUnknownDimension, errNamed(name)))
	}
	return id, nil
}

// IsVar reports whether the attribute with the given id is variable
// length.
func (s *Schema) IsVar(id int) bool {
	return s.attributes[id].IsVar()
}

// CellSize returns the fixed byte width of one cell of the given
// attribute (the offset width for VAR attributes).
func (s *Schema) CellSize(id int) uint32 {
	return s.attributes[id].CellSize()
}

// CoordsSize returns D*width(coord_dtype), the byte size of one
// coordinate tuple.
func (s *Schema) CoordsSize() uint32 {
	return uint32(len(s.dimensions)) * s.coordDType.Width()
}

// CellsPerTile returns the product of tile extents. Dense only.
func (s *Schema) CellsPerTile() (uint64, error) {
	if !s.Dense {
		return 0, tdberr.New(tdberr.SchemaMisuse, errors.New("cells_per_tile is only defined for dense schemas"))
	}
	product := uint64(1)
	for _, d := range s.dimensions {
		product *= d.TileExtent
	}
	return product, nil
}

// TileCoordOf returns the tile coordinate (integer tile index along
// each dimension) that contains coord. Dense only.
func (s *Schema) TileCoordOf(coord []Coord) ([]int64, error) {
	if !s.Dense {
		return nil, tdberr.New(tdberr.SchemaMisuse, errors.New("tile_coord_of is only defined for dense schemas"))
	}
	if len(coord) != len(s.dimensions) {
		return nil, tdberr.New(tdberr.QueryMisuse, tdberr.ErrSubarrayShape)
	}
	out := make([]int64, len(s.dimensions))
	for i, d := range s.dimensions {
		rel := coord[i].I - d.Lo.I
		out[i] = rel / int64(d.TileExtent)
	}
	return out, nil
}

// TileOffsetOf returns coord's position within its own tile, per
// dimension. Dense only.
func (s *Schema) TileOffsetOf(coord []Coord) ([]int64, error) {
	if !s.Dense {
		return nil, tdberr.New(tdberr.SchemaMisuse, errors.New("tile_offset_of is only defined for dense schemas"))
	}
	out := make([]int64, len(s.dimensions))
	for i, d := range s.dimensions {
		rel := coord[i].I - d.Lo.I
		out[i] = rel % int64(d.TileExtent)
	}
	return out, nil
}

// LinearizeRowMajor maps coord to an integer position within bounds
// (inclusive [lo,hi] per dimension), the last dimension varying
// fastest.
func LinearizeRowMajor(coord []int64, lo_, hi []int64) int64 {
	pos := int64(0)
	for i := 0; i < len(coord); i++ {
		extent := hi[i] - lo_[i] + 1
		pos = pos*extent + (coord[i] - lo_[i])
	}
	return pos
}

// LinearizeColMajor maps coord to an integer position within bounds,
// the first dimension varying fastest.
func LinearizeColMajor(coord []int64, lo_, hi []int64) int64 {
	pos := int64(0)
	for i := len(coord) - 1; i >= 0; i-- {
		extent := hi[i] - lo_[i] + 1
		pos = pos*extent + (coord[i] - lo_[i])
	}
	return pos
}

// DelinearizeRowMajor inverts LinearizeRowMajor: given a position
// computed with the same bounds, recovers the coordinate.
func DelinearizeRowMajor(pos int64, lo_, hi []int64) []int64 {
	d := len(lo_)
	coord := make([]int64, d)
	for i := d - 1; i >= 0; i-- {
		extent := hi[i] - lo_[i] + 1
		coord[i] = lo_[i] + pos%extent
		pos /= extent
	}
	return coord
}

// DelinearizeColMajor inverts LinearizeColMajor.
func DelinearizeColMajor(pos int64, lo_, hi []int64) []int64 {
	d := len(lo_)
	coord := make([]int64, d)
	for i := 0; i < d; i++ {
		extent := hi[i] - lo_[i] + 1
		coord[i] = lo_[i] + pos%extent
		pos /= extent
	}
	return coord
}
