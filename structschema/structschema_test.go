package structschema_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/sixy6e/tdbcore/schema"
	"github.com/sixy6e/tdbcore/structschema"
)

type pingRecord struct {
	PingID    int64   `tdbcore:"dtype=int64,ftype=dim"`
	Depth     float32 `tdbcore:"dtype=float32,ftype=attr"`
	Intensity uint16  `tdbcore:"dtype=uint16,ftype=attr"`
	Samples   float32 `tdbcore:"dtype=float32,ftype=attr,var"`
	notes     string  // unexported, untagged: ignored either way
	Scratch   string  // exported but untagged: ignored
}

func pingDim() schema.Dimension {
	return schema.Dimension{
		Name: "PingID", DType: schema.Int64,
		Lo: schema.IntCoord(0), Hi: schema.IntCoord(999),
		TileExtent: 100, HasTileExtent: true,
	}
}

func TestBuildSkipsDimFieldsAndUntagged(t *testing.T) {
	s, err := structschema.Build("pings", true, []schema.Dimension{pingDim()}, &pingRecord{})
	require.NoError(t, err)

	require.Equal(t, []string{"PingID"}, []string{s.Dimensions()[0].Name})
	require.ElementsMatch(t, []string{"Depth", "Intensity", "Samples"}, s.AttributeNames())

	id, err := s.AttributeID("Depth")
	require.NoError(t, err)
	attr, err := s.Attribute(id)
	require.NoError(t, err)
	require.Equal(t, schema.Float32, attr.DType)
	require.False(t, attr.IsVar())

	id, err = s.AttributeID("Samples")
	require.NoError(t, err)
	attr, err = s.Attribute(id)
	require.NoError(t, err)
	require.True(t, attr.IsVar())
}

type badDtypeRecord struct {
	X float32 `tdbcore:"dtype=imaginary,ftype=attr"`
}

func TestBuildRejectsUnknownDtype(t *testing.T) {
	_, err := structschema.Build("bad", true, []schema.Dimension{pingDim()}, &badDtypeRecord{})
	require.Error(t, err)
}

type missingFtypeRecord struct {
	X float32 `tdbcore:"dtype=float32"`
}

func TestBuildRejectsMissingFtype(t *testing.T) {
	_, err := structschema.Build("bad", true, []schema.Dimension{pingDim()}, &missingFtypeRecord{})
	require.Error(t, err)
}

func TestBuildRejectsNonPointer(t *testing.T) {
	_, err := structschema.Build("bad", true, []schema.Dimension{pingDim()}, pingRecord{})
	require.Error(t, err)
}

func TestBuildSparseNoTileExtent(t *testing.T) {
	type sparseRecord struct {
		X     float64 `tdbcore:"dtype=float64,ftype=dim"`
		Y     float64 `tdbcore:"dtype=float64,ftype=dim"`
		Value float64 `tdbcore:"dtype=float64,ftype=attr"`
	}
	dims := []schema.Dimension{
		{Name: "X", DType: schema.Float64, Lo: schema.FloatCoord(0), Hi: schema.FloatCoord(100)},
		{Name: "Y", DType: schema.Float64, Lo: schema.FloatCoord(0), Hi: schema.FloatCoord(100)},
	}
	s, err := structschema.Build("points", false, dims, &sparseRecord{})
	require.NoError(t, err)
	require.False(t, s.Dense)
	require.ElementsMatch(t, []string{"Value"}, s.AttributeNames())
}
