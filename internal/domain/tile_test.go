package domain_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/sixy6e/tdbcore/internal/domain"
	"github.com/sixy6e/tdbcore/schema"
)

func TestTileDomainAndBounds(t *testing.T) {
	s := denseSchema(t)
	box := domain.BoxFromInts([]int64{1, 1}, []int64{4, 4})
	lo, hi, err := domain.TileDomain(s, box)
	require.NoError(t, err)
	require.Equal(t, domain.TileCoord{0, 0}, lo)
	require.Equal(t, domain.TileCoord{1, 1}, hi)

	bounds := domain.TileBounds(s, domain.TileCoord{1, 0})
	require.Equal(t, []int64{3, 1}, bounds.LoInts())
	require.Equal(t, []int64{4, 2}, bounds.HiInts())
}

func TestTileBoundsClipsPartialTrailingTile(t *testing.T) {
	s := schema.New("d").SetDense(true)
	require.NoError(t, s.AddDimension(schema.Dimension{
		Name: "x", DType: schema.Int64,
		Lo: schema.IntCoord(1), Hi: schema.IntCoord(5),
		TileExtent: 4, HasTileExtent: true,
	}))
	bounds := domain.TileBounds(s, domain.TileCoord{1})
	require.Equal(t, []int64{5}, bounds.LoInts())
	require.Equal(t, []int64{5}, bounds.HiInts())
}

func TestEnumerateTilesRowMajor(t *testing.T) {
	tiles, err := domain.EnumerateTiles(domain.TileCoord{0, 0}, domain.TileCoord{1, 1}, schema.RowMajor)
	require.NoError(t, err)
	want := []domain.TileCoord{{0, 0}, {0, 1}, {1, 0}, {1, 1}}
	require.Equal(t, want, tiles)
}

func TestEnumerateTilesColMajor(t *testing.T) {
	tiles, err := domain.EnumerateTiles(domain.TileCoord{0, 0}, domain.TileCoord{1, 1}, schema.ColMajor)
	require.NoError(t, err)
	want := []domain.TileCoord{{0, 0}, {1, 0}, {0, 1}, {1, 1}}
	require.Equal(t, want, tiles)
}

func TestEnumerateTilesRejectsHilbert(t *testing.T) {
	_, err := domain.EnumerateTiles(domain.TileCoord{0}, domain.TileCoord{1}, schema.Hilbert)
	require.Error(t, err)
}

func TestTileSlabsRowMajorOneTileThickOnFirstDim(t *testing.T) {
	s := denseSchema(t)
	box := domain.BoxFromInts([]int64{1, 1}, []int64{4, 4})
	slabs, err := domain.TileSlabs(s, box, schema.RowMajor)
	require.NoError(t, err)
	require.Len(t, slabs, 2)
	require.Equal(t, []int64{1, 1}, slabs[0].LoInts())
	require.Equal(t, []int64{2, 4}, slabs[0].HiInts())
	require.Equal(t, []int64{3, 1}, slabs[1].LoInts())
	require.Equal(t, []int64{4, 4}, slabs[1].HiInts())
}

func TestTileSlabsColMajorOneTileThickOnLastDim(t *testing.T) {
	s := denseSchema(t)
	box := domain.BoxFromInts([]int64{1, 1}, []int64{4, 4})
	slabs, err := domain.TileSlabs(s, box, schema.ColMajor)
	require.NoError(t, err)
	require.Len(t, slabs, 2)
	require.Equal(t, []int64{1, 1}, slabs[0].LoInts())
	require.Equal(t, []int64{4, 2}, slabs[0].HiInts())
}

func TestTileSlabsAlignsToTileGridNotBoxLo(t *testing.T) {
	s := denseSchema(t)
	box := domain.BoxFromInts([]int64{2, 1}, []int64{4, 4})
	slabs, err := domain.TileSlabs(s, box, schema.RowMajor)
	require.NoError(t, err)
	require.Len(t, slabs, 2)
	require.Equal(t, []int64{2, 1}, slabs[0].LoInts())
	require.Equal(t, []int64{2, 4}, slabs[0].HiInts())
	require.Equal(t, []int64{3, 1}, slabs[1].LoInts())
	require.Equal(t, []int64{4, 4}, slabs[1].HiInts())
}

func TestSingleTileRowOrCol(t *testing.T) {
	s := denseSchema(t)
	single := domain.BoxFromInts([]int64{1, 1}, []int64{4, 2})
	ok, err := domain.SingleTileRowOrCol(s, single, schema.RowMajor)
	require.NoError(t, err)
	require.True(t, ok)

	multi := domain.BoxFromInts([]int64{1, 1}, []int64{4, 4})
	ok, err = domain.SingleTileRowOrCol(s, multi, schema.RowMajor)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestUniqueTileKeysPreservesFirstSeenOrder(t *testing.T) {
	in := []domain.TileCoord{{0, 0}, {0, 1}, {0, 0}, {1, 0}}
	got := domain.UniqueTileKeys(in)
	require.Equal(t, []domain.TileCoord{{0, 0}, {0, 1}, {1, 0}}, got)
}

func TestTileCoordKeyDistinguishesCoords(t *testing.T) {
	require.NotEqual(t, domain.TileCoord{1, 2}.Key(), domain.TileCoord{2, 1}.Key())
	require.Equal(t, domain.TileCoord{1, 2}.Key(), domain.TileCoord{1, 2}.Key())
}
