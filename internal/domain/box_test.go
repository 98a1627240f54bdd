package domain_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/sixy6e/tdbcore/internal/domain"
	"github.com/sixy6e/tdbcore/schema"
)

func denseSchema(t *testing.T) *schema.Schema {
	t.Helper()
	s := schema.New("d").SetDense(true)
	for _, name := range []string{"row", "col"} {
		require.NoError(t, s.AddDimension(schema.Dimension{
			Name: name, DType: schema.Int64,
			Lo: schema.IntCoord(1), Hi: schema.IntCoord(4),
			TileExtent: 2, HasTileExtent: true,
		}))
	}
	return s
}

func TestBoxFromIntsRoundTrip(t *testing.T) {
	b := domain.BoxFromInts([]int64{1, 2}, []int64{3, 4})
	require.Equal(t, []int64{1, 2}, b.LoInts())
	require.Equal(t, []int64{3, 4}, b.HiInts())
	require.Equal(t, 2, b.NDim())
}

func TestCloneIsIndependent(t *testing.T) {
	b := domain.BoxFromInts([]int64{1, 1}, []int64{4, 4})
	clone := b.Clone()
	clone.Lo[0] = schema.IntCoord(2)
	require.Equal(t, int64(1), b.Lo[0].I)
	require.Equal(t, int64(2), clone.Lo[0].I)
}

func TestEmpty(t *testing.T) {
	require.False(t, domain.Empty(schema.Int64, domain.BoxFromInts([]int64{1, 1}, []int64{4, 4})))
	require.True(t, domain.Empty(schema.Int64, domain.BoxFromInts([]int64{4, 1}, []int64{1, 4})))
}

func TestIntersect(t *testing.T) {
	a := domain.BoxFromInts([]int64{1, 1}, []int64{4, 4})
	b := domain.BoxFromInts([]int64{3, 0}, []int64{6, 2})
	got, ok := domain.Intersect(schema.Int64, a, b)
	require.True(t, ok)
	require.Equal(t, []int64{3, 1}, got.LoInts())
	require.Equal(t, []int64{4, 2}, got.HiInts())

	_, ok = domain.Intersect(schema.Int64, a, domain.BoxFromInts([]int64{10, 10}, []int64{20, 20}))
	require.False(t, ok)
}

func TestContains(t *testing.T) {
	b := domain.BoxFromInts([]int64{1, 1}, []int64{4, 4})
	require.True(t, domain.Contains(schema.Int64, b, []schema.Coord{schema.IntCoord(2), schema.IntCoord(3)}))
	require.False(t, domain.Contains(schema.Int64, b, []schema.Coord{schema.IntCoord(5), schema.IntCoord(3)}))
}

func TestValidateSubarray(t *testing.T) {
	s := denseSchema(t)
	require.NoError(t, domain.ValidateSubarray(s, domain.BoxFromInts([]int64{1, 1}, []int64{4, 4})))
	require.Error(t, domain.ValidateSubarray(s, domain.BoxFromInts([]int64{1, 1}, []int64{5, 4})))
	require.Error(t, domain.ValidateSubarray(s, domain.BoxFromInts([]int64{4, 1}, []int64{1, 4})))
	require.Error(t, domain.ValidateSubarray(s, domain.Box{Lo: []schema.Coord{schema.IntCoord(1)}, Hi: []schema.Coord{schema.IntCoord(4)}}))
}

func TestNormalizeToOrigin(t *testing.T) {
	b := domain.BoxFromInts([]int64{3, 5}, []int64{6, 9})
	got := domain.NormalizeToOrigin(b, []int64{2, 4})
	require.Equal(t, []int64{1, 1}, got.LoInts())
	require.Equal(t, []int64{4, 5}, got.HiInts())
}
