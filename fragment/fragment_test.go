package fragment_test

import (
	"context"
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sixy6e/tdbcore/fragment"
	"github.com/sixy6e/tdbcore/internal/domain"
	"github.com/sixy6e/tdbcore/schema"
	"github.com/sixy6e/tdbcore/vfs"
)

func denseSchema(t *testing.T) *schema.Schema {
	t.Helper()
	s := schema.New("dense4x4").SetDense(true)
	require.NoError(t, s.AddDimension(schema.Dimension{
		Name: "row", DType: schema.Int64,
		Lo: schema.IntCoord(1), Hi: schema.IntCoord(4),
		TileExtent: 4, HasTileExtent: true,
	}))
	require.NoError(t, s.AddDimension(schema.Dimension{
		Name: "col", DType: schema.Int64,
		Lo: schema.IntCoord(1), Hi: schema.IntCoord(4),
		TileExtent: 4, HasTileExtent: true,
	}))
	require.NoError(t, s.AddAttribute(schema.Attribute{Name: "a", DType: schema.Int32, ValuesPerCell: 1}))
	return s
}

// denseFixture writes a[row,col] = (row-1)*4 + (col-1) across the whole
// 4x4 tile, matching spec §8 scenario A.
func denseFixture(t *testing.T) *fragment.View {
	t.Helper()
	s := denseSchema(t)
	bbox := domain.BoxFromInts([]int64{1, 1}, []int64{4, 4})

	buf := make([]byte, 16*4)
	i := 0
	for row := int64(1); row <= 4; row++ {
		for col := int64(1); col <= 4; col++ {
			v := int32((row-1)*4 + (col - 1))
			binary.LittleEndian.PutUint32(buf[i*4:], uint32(v))
			i++
		}
	}

	v, err := fragment.New(1, true, s, bbox, 16, nil, map[string]fragment.AttrBuffer{
		"a": {Fixed: buf},
	})
	require.NoError(t, err)
	return v
}

func TestBoundingCoordsDense(t *testing.T) {
	v := denseFixture(t)
	first, last, err := v.BoundingCoords()
	require.NoError(t, err)
	assert.Equal(t, int64(1), first[0].I)
	assert.Equal(t, int64(4), last[1].I)
}

func TestNextCellRangesDenseFullTile(t *testing.T) {
	v := denseFixture(t)
	sub := domain.BoxFromInts([]int64{1, 1}, []int64{4, 4})
	ranges, err := v.NextCellRangesDense(sub, domain.TileCoord{0, 0})
	require.NoError(t, err)
	require.Len(t, ranges, 1)
	assert.Equal(t, fragment.OverlapFull, ranges[0].Overlap)
	assert.Equal(t, int64(0), ranges[0].Pos.First)
	assert.Equal(t, int64(15), ranges[0].Pos.Last)
}

func TestNextCellRangesDensePartialContig(t *testing.T) {
	v := denseFixture(t)
	// rows 2..3, all columns: full-width on the fastest (col) dimension,
	// a single fixed-prefix run per row — but across two row values this
	// is two distinct rows, i.e. non-contiguous unless rows are adjacent
	// AND span the full column width, which they do here, so the whole
	// thing collapses to one run (positions 4..11).
	sub := domain.BoxFromInts([]int64{2, 1}, []int64{3, 4})
	ranges, err := v.NextCellRangesDense(sub, domain.TileCoord{0, 0})
	require.NoError(t, err)
	require.Len(t, ranges, 1)
	assert.Equal(t, fragment.OverlapPartialContig, ranges[0].Overlap)
	assert.Equal(t, int64(4), ranges[0].Pos.First)
	assert.Equal(t, int64(11), ranges[0].Pos.Last)
}

func TestNextCellRangesDenseNonContig(t *testing.T) {
	v := denseFixture(t)
	// A single row's partial column slice: cols 2..3 for every row is
	// NOT full-width, and there are 4 distinct row values, so this
	// decomposes into 4 separate runs.
	sub := domain.BoxFromInts([]int64{1, 2}, []int64{4, 3})
	ranges, err := v.NextCellRangesDense(sub, domain.TileCoord{0, 0})
	require.NoError(t, err)
	require.Len(t, ranges, 4)
	for _, r := range ranges {
		assert.Equal(t, fragment.OverlapPartialNonContig, r.Overlap)
		assert.Equal(t, int64(2), r.Pos.Len())
	}
}

func TestCopyValuesOverflow(t *testing.T) {
	v := denseFixture(t)
	out := make([]byte, 4*2) // room for 2 cells only
	off := 0
	err := v.CopyValues("a", fragment.PosRange{First: 0, Last: 3}, out, &off)
	assert.ErrorIs(t, err, fragment.ErrOverflow)
	assert.Equal(t, 8, off)
}

func TestCopyValuesExact(t *testing.T) {
	v := denseFixture(t)
	out := make([]byte, 4*4)
	off := 0
	err := v.CopyValues("a", fragment.PosRange{First: 0, Last: 3}, out, &off)
	require.NoError(t, err)
	assert.Equal(t, int32(0), int32(binary.LittleEndian.Uint32(out[0:])))
	assert.Equal(t, int32(3), int32(binary.LittleEndian.Uint32(out[12:])))
}

func TestEmptyFill(t *testing.T) {
	v := denseFixture(t)
	fill := make([]byte, 4)
	out := make([]byte, 4*3)
	off := 0
	n, err := v.EmptyFill("a", fill, 5, out, &off)
	assert.ErrorIs(t, err, fragment.ErrOverflow)
	assert.Equal(t, int64(3), n)
}

func sparseSchema(t *testing.T) *schema.Schema {
	t.Helper()
	s := schema.New("sparse2d").SetDense(false)
	require.NoError(t, s.AddDimension(schema.Dimension{Name: "x", DType: schema.Int64, Lo: schema.IntCoord(0), Hi: schema.IntCoord(100)}))
	require.NoError(t, s.AddDimension(schema.Dimension{Name: "y", DType: schema.Int64, Lo: schema.IntCoord(0), Hi: schema.IntCoord(100)}))
	require.NoError(t, s.AddAttribute(schema.Attribute{Name: "v", DType: schema.Int32, ValuesPerCell: 1}))
	return s
}

func TestNextCellRangesSparse(t *testing.T) {
	s := sparseSchema(t)
	coords := [][]schema.Coord{
		{schema.IntCoord(1), schema.IntCoord(1)},
		{schema.IntCoord(1), schema.IntCoord(2)},
		{schema.IntCoord(5), schema.IntCoord(5)},
		{schema.IntCoord(5), schema.IntCoord(5)}, // duplicate, stored order preserved
	}
	bbox := domain.Box{Lo: coords[0], Hi: coords[3]}
	buf := make([]byte, 4*4)
	v, err := fragment.New(1, false, s, bbox, 4, coords, map[string]fragment.AttrBuffer{
		"v": {Fixed: buf},
	})
	require.NoError(t, err)

	sub := domain.BoxFromInts([]int64{0, 0}, []int64{2, 2})
	ranges, err := v.NextCellRangesSparse(sub)
	require.NoError(t, err)
	require.Len(t, ranges, 1)
	assert.Equal(t, int64(0), ranges[0].Pos.First)
	assert.Equal(t, int64(1), ranges[0].Pos.Last)

	subDup := domain.BoxFromInts([]int64{5, 5}, []int64{5, 5})
	rangesDup, err := v.NextCellRangesSparse(subDup)
	require.NoError(t, err)
	require.Len(t, rangesDup, 1)
	assert.Equal(t, int64(2), rangesDup[0].Pos.First)
	assert.Equal(t, int64(3), rangesDup[0].Pos.Last)
}

func TestWriteOpenRoundTrip(t *testing.T) {
	v := denseFixture(t)
	fs := vfs.NewMemory()
	ctx := context.Background()
	require.NoError(t, fragment.Write(ctx, fs, "/arr/__1_1000", v))

	reopened, err := fragment.Open(ctx, fs, "/arr/__1_1000", v.Schema)
	require.NoError(t, err)
	first, last, err := reopened.BoundingCoords()
	require.NoError(t, err)
	assert.Equal(t, v.BBox.Lo[0].I, first[0].I)
	assert.Equal(t, v.BBox.Hi[1].I, last[1].I)
	assert.Equal(t, v.NCells, reopened.NCells)
}

func TestDiscoverIgnoresInProgress(t *testing.T) {
	fs := vfs.NewMemory()
	ctx := context.Background()
	s := denseSchema(t)
	v := denseFixture(t)
	require.NoError(t, fragment.Write(ctx, fs, "/arr/__1_1000", v))
	require.NoError(t, fragment.Write(ctx, fs, "/arr/.__2_2000", v))

	dirs, err := fragment.Discover(ctx, fs, "/arr")
	require.NoError(t, err)
	require.Len(t, dirs, 1)
	assert.Equal(t, "/arr/__1_1000", dirs[0])

	m, err := fragment.OpenAll(ctx, fs, "/arr", s)
	require.NoError(t, err)
	require.Len(t, m.Views, 1)
}
