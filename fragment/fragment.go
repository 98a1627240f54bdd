// Package fragment implements the read-only Fragment view of spec §4.2:
// one immutable, timestamped append, exposing its bounding coordinates,
// cell ranges overlapping a query subarray in the array's global order,
// and attribute value materialization for a position range.
//
// On-disk tile byte layout and compression codecs are explicitly out of
// scope (spec §1); a View holds already-decoded, flat per-attribute
// byte buffers in the fragment's own global cell order, which is all
// the contract in §4.2 actually requires a Fragment to expose. Loading
// those buffers from storage is the job of Open/Write below, which
// exercise the vfs.FS byte-range contract without reimplementing tile
// compression.
package fragment

import (
	"sort"

	"github.com/sixy6e/tdbcore/internal/domain"
	"github.com/sixy6e/tdbcore/internal/tdberr"
	"github.com/sixy6e/tdbcore/schema"
)

// AttrBuffer holds one attribute's materialized values for every cell
// of a fragment, in the fragment's own global cell order (spec I5).
type AttrBuffer struct {
	// Fixed holds the raw bytes for a fixed-width attribute, NCells *
	// CellSize() bytes long.
	Fixed []byte
	// Offsets holds, for a VAR attribute, NCells+1 uint64 byte offsets
	// into Values (offsets[i] is the start of cell i; offsets[NCells]
	// is len(Values)).
	Offsets []uint64
	// Values holds the concatenated raw bytes of a VAR attribute.
	Values []byte
}

// PosRange is an inclusive range of fragment-local cell positions.
type PosRange struct {
	First, Last int64
}

// Len returns the number of cells covered by the range.
func (p PosRange) Len() int64 { return p.Last - p.First + 1 }

// OverlapType classifies how a CellRange's positions relate to the tile
// they were computed against (spec §4.2).
type OverlapType uint8

const (
	OverlapNone OverlapType = iota
	// OverlapFull means pos_range covers an entire fragment tile.
	OverlapFull
	// OverlapPartialContig means a single contiguous run within a tile.
	OverlapPartialContig
	// OverlapPartialNonContig tags every run in a group produced when a
	// single tile's overlap with the subarray could not be expressed
	// as one contiguous run and had to be decomposed (spec §4.2: "the
	// caller must split further"). This port performs that split
	// inside Fragment itself (see NextCellRangesDense), so callers
	// always receive already-contiguous PosRanges; the tag survives as
	// diagnostic metadata distinguishing a decomposed group from a
	// naturally single-run overlap.
	OverlapPartialNonContig
)

// CellRange is one fragment-contributed candidate range for the current
// merge tile: fragment-local positions, the tile they were computed
// against (nil for sparse — see NextCellRangesSparse), and an
// overlap classification.
type CellRange struct {
	FragmentID uint64
	Pos        PosRange
	Tile       domain.TileCoord
	Overlap    OverlapType
}

// View is one open, read-only fragment.
type View struct {
	ID     uint64
	Dense  bool
	Schema *schema.Schema
	// BBox is the tile-aligned covered region for a dense fragment, or
	// the minimum bounding rectangle of a sparse fragment's coordinates.
	BBox   domain.Box
	NCells int64
	// Coords holds one D-tuple per cell for a sparse fragment, pre-sorted
	// by the schema's cell order with stable relative order for
	// coordinate duplicates (spec P9). Empty for dense fragments.
	Coords [][]schema.Coord
	Attrs  map[string]AttrBuffer
	closed bool
}

// New constructs an in-memory fragment view directly — the common path
// for tests and for the minimal Write/Open round trip below, since the
// physical tile/compression format a real write path would produce is
// out of this core's scope.
func New(id uint64, dense bool, sch *schema.Schema, bbox domain.Box, ncells int64, coords [][]schema.Coord, attrs map[string]AttrBuffer) (*View, error) {
	if dense && len(coords) != 0 {
		return nil, tdberr.New(tdberr.FragmentCorrupt, errNotSparse)
	}
	if !dense {
		if int64(len(coords)) != ncells {
			return nil, tdberr.New(tdberr.FragmentCorrupt, errCoordCount)
		}
		if !sort.SliceIsSorted(coords, func(i, j int) bool {
			return domain.Less(sch.CoordDType(), sch.CellOrder, coords[i], coords[j])
		}) {
			return nil, tdberr.New(tdberr.FragmentCorrupt, errCoordsUnsorted)
		}
	}
	return &View{
		ID:     id,
		Dense:  dense,
		Schema: sch,
		BBox:   bbox,
		NCells: ncells,
		Coords: coords,
		Attrs:  attrs,
	}, nil
}

// BoundingCoords returns the fragment's first and last cell coordinate
// in its own global order.
func (v *View) BoundingCoords() (first, last []schema.Coord, err error) {
	if v.closed {
		return nil, nil, tdberr.New(tdberr.QueryMisuse, errClosed)
	}
	if v.Dense {
		return v.BBox.Lo, v.BBox.Hi, nil
	}
	if v.NCells == 0 {
		return nil, nil, nil
	}
	return v.Coords[0], v.Coords[v.NCells-1], nil
}

// Close releases the view. It is safe to call more than once.
func (v *View) Close() { v.closed = true }

var (
	errNotSparse      = tdErr("dense fragment must not carry sparse coordinates")
	errCoordCount     = tdErr("sparse coordinate count does not match cell count")
	errCoordsUnsorted = tdErr("sparse fragment coordinates are not sorted in cell order")
	errClosed         = tdErr("fragment view is closed")
)

type tdErr string

func (e tdErr) Error() string { return string(e) }
