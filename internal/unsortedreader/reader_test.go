package unsortedreader_test

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/sixy6e/tdbcore/fragment"
	"github.com/sixy6e/tdbcore/internal/domain"
	"github.com/sixy6e/tdbcore/internal/unsortedreader"
	"github.com/sixy6e/tdbcore/schema"
)

// These tests exercise the reader's own GLOBAL order: tiles visited in
// schema.TileOrder, cells within a tile in schema.CellOrder. The
// concrete scenarios named in spec.md's §8 ("Scenario A", "Scenario C",
// etc.) describe read_sorted_row/read_sorted_col output, which is the
// SortedReader's rearrangement of this same data (covered by
// internal/sortedreader's tests) — what's checked here is the
// tile-grouped order this package actually produces before that
// rearrangement happens.

func denseSchema2x2(t *testing.T) *schema.Schema {
	t.Helper()
	s := schema.New("d").SetDense(true)
	for _, name := range []string{"row", "col"} {
		require.NoError(t, s.AddDimension(schema.Dimension{
			Name: name, DType: schema.Int64,
			Lo: schema.IntCoord(1), Hi: schema.IntCoord(4),
			TileExtent: 2, HasTileExtent: true,
		}))
	}
	require.NoError(t, s.AddAttribute(schema.Attribute{Name: "a", DType: schema.Int32, ValuesPerCell: 1}))
	return s
}

func int32Buf(vals ...int32) []byte {
	buf := make([]byte, len(vals)*4)
	for i, v := range vals {
		binary.LittleEndian.PutUint32(buf[i*4:], uint32(v))
	}
	return buf
}

func readAllInt32(t *testing.T, r *unsortedreader.Reader, cellsPerCall int) []int32 {
	t.Helper()
	var out []int32
	for {
		buf := make([]byte, cellsPerCall*4)
		res, err := r.Read(map[string]*unsortedreader.AttrBuffers{"a": {Fixed: buf}})
		require.NoError(t, err)
		n := res.FixedBytes["a"] / 4
		for i := 0; i < n; i++ {
			out = append(out, int32(binary.LittleEndian.Uint32(buf[i*4:])))
		}
		if res.Completed {
			break
		}
	}
	return out
}

func TestGlobalOrderSingleDenseFragment(t *testing.T) {
	s := denseSchema2x2(t)
	bbox := domain.BoxFromInts([]int64{1, 1}, []int64{4, 4})
	vals := make([]int32, 16)
	for row := int64(1); row <= 4; row++ {
		for col := int64(1); col <= 4; col++ {
			vals[(row-1)*4+(col-1)] = int32((row-1)*4 + (col - 1))
		}
	}
	fixed := make([]byte, 64)
	for i, v := range vals {
		binary.LittleEndian.PutUint32(fixed[i*4:], uint32(v))
	}
	f1, err := fragment.New(0, true, s, bbox, 16, nil, map[string]fragment.AttrBuffer{"a": {Fixed: fixed}})
	require.NoError(t, err)

	sub := domain.BoxFromInts([]int64{1, 1}, []int64{4, 4})
	r, err := unsortedreader.New(s, []*fragment.View{f1}, sub, []string{"a"}, nil)
	require.NoError(t, err)

	got := readAllInt32(t, r, 64)
	want := []int32{0, 1, 4, 5, 2, 3, 6, 7, 8, 9, 12, 13, 10, 11, 14, 15}
	require.Equal(t, want, got)
}

func TestOverflowResumeChunking(t *testing.T) {
	s := denseSchema2x2(t)
	bbox := domain.BoxFromInts([]int64{1, 1}, []int64{4, 4})
	fixed := make([]byte, 64)
	for row := int64(1); row <= 4; row++ {
		for col := int64(1); col <= 4; col++ {
			pos := (row - 1) * 4 * 4 / 4 // unused, kept explicit below
			_ = pos
		}
	}
	for row := int64(1); row <= 4; row++ {
		for col := int64(1); col <= 4; col++ {
			v := int32((row-1)*4 + (col - 1))
			idx := (row-1)*4 + (col - 1)
			binary.LittleEndian.PutUint32(fixed[idx*4:], uint32(v))
		}
	}
	f1, err := fragment.New(0, true, s, bbox, 16, nil, map[string]fragment.AttrBuffer{"a": {Fixed: fixed}})
	require.NoError(t, err)

	sub := domain.BoxFromInts([]int64{1, 1}, []int64{4, 4})
	r, err := unsortedreader.New(s, []*fragment.View{f1}, sub, []string{"a"}, nil)
	require.NoError(t, err)

	buf := make([]byte, 6*4)
	res1, err := r.Read(map[string]*unsortedreader.AttrBuffers{"a": {Fixed: buf}})
	require.NoError(t, err)
	require.True(t, res1.Overflowed["a"])
	require.False(t, res1.Completed)
	require.Equal(t, []int32{0, 1, 4, 5, 2, 3}, decodeInt32(buf[:res1.FixedBytes["a"]]))

	buf2 := make([]byte, 6*4)
	res2, err := r.Read(map[string]*unsortedreader.AttrBuffers{"a": {Fixed: buf2}})
	require.NoError(t, err)
	require.True(t, res2.Overflowed["a"])
	require.False(t, res2.Completed)
	require.Equal(t, []int32{6, 7, 8, 9, 12, 13}, decodeInt32(buf2[:res2.FixedBytes["a"]]))

	buf3 := make([]byte, 6*4)
	res3, err := r.Read(map[string]*unsortedreader.AttrBuffers{"a": {Fixed: buf3}})
	require.NoError(t, err)
	require.False(t, res3.Overflowed["a"])
	require.True(t, res3.Completed)
	require.Equal(t, []int32{10, 11, 14, 15}, decodeInt32(buf3[:res3.FixedBytes["a"]]))
}

func decodeInt32(b []byte) []int32 {
	out := make([]int32, len(b)/4)
	for i := range out {
		out[i] = int32(binary.LittleEndian.Uint32(b[i*4:]))
	}
	return out
}

func TestNewestWins(t *testing.T) {
	s := denseSchema2x2(t)
	f1, err := fragment.New(1, true, s,
		domain.BoxFromInts([]int64{1, 1}, []int64{2, 4}), 8, nil,
		map[string]fragment.AttrBuffer{"a": {Fixed: int32Buf(1, 1, 1, 1, 1, 1, 1, 1)}})
	require.NoError(t, err)
	f2, err := fragment.New(2, true, s,
		domain.BoxFromInts([]int64{1, 1}, []int64{1, 4}), 4, nil,
		map[string]fragment.AttrBuffer{"a": {Fixed: int32Buf(2, 2, 2, 2)}})
	require.NoError(t, err)

	sub := domain.BoxFromInts([]int64{1, 1}, []int64{2, 4})
	r, err := unsortedreader.New(s, []*fragment.View{f1, f2}, sub, []string{"a"}, nil)
	require.NoError(t, err)

	got := readAllInt32(t, r, 64)
	require.Equal(t, []int32{2, 2, 1, 1, 2, 2, 1, 1}, got)
}

func TestDenseHoleFill(t *testing.T) {
	s := denseSchema2x2(t)
	f1, err := fragment.New(1, true, s,
		domain.BoxFromInts([]int64{1, 1}, []int64{2, 2}), 4, nil,
		map[string]fragment.AttrBuffer{"a": {Fixed: int32Buf(7, 7, 7, 7)}})
	require.NoError(t, err)

	sub := domain.BoxFromInts([]int64{1, 1}, []int64{4, 4})
	r, err := unsortedreader.New(s, []*fragment.View{f1}, sub, []string{"a"},
		map[string][]byte{"a": int32Buf(0)})
	require.NoError(t, err)

	got := readAllInt32(t, r, 64)
	want := []int32{7, 7, 7, 7, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0}
	require.Equal(t, want, got)
}

func sparseSchema(t *testing.T) *schema.Schema {
	t.Helper()
	s := schema.New("sp").SetDense(false)
	require.NoError(t, s.AddDimension(schema.Dimension{Name: "x", DType: schema.Int64, Lo: schema.IntCoord(1), Hi: schema.IntCoord(4)}))
	require.NoError(t, s.AddDimension(schema.Dimension{Name: "y", DType: schema.Int64, Lo: schema.IntCoord(1), Hi: schema.IntCoord(4)}))
	require.NoError(t, s.AddAttribute(schema.Attribute{Name: "a", DType: schema.Int32, ValuesPerCell: 1}))
	return s
}

func TestSparseDuplicatesPreserveStoredOrder(t *testing.T) {
	s := sparseSchema(t)
	coords := [][]schema.Coord{
		{schema.IntCoord(2), schema.IntCoord(2)},
		{schema.IntCoord(2), schema.IntCoord(2)},
		{schema.IntCoord(3), schema.IntCoord(3)},
	}
	bbox := domain.Box{Lo: coords[0], Hi: coords[2]}
	f1, err := fragment.New(1, false, s, bbox, 3, coords,
		map[string]fragment.AttrBuffer{"a": {Fixed: int32Buf(10, 11, 12)}})
	require.NoError(t, err)

	sub := domain.BoxFromInts([]int64{1, 1}, []int64{4, 4})
	r, err := unsortedreader.New(s, []*fragment.View{f1}, sub, []string{"a"}, nil)
	require.NoError(t, err)

	got := readAllInt32(t, r, 64)
	require.Equal(t, []int32{10, 11, 12}, got)
}
