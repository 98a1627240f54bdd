package vfs_test

import (
	"context"
	"io"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/sixy6e/tdbcore/vfs"
)

func TestMemoryWriteReadRangeRoundTrip(t *testing.T) {
	m := vfs.NewMemory()
	ctx := context.Background()
	require.NoError(t, m.Write(ctx, "a/fragment.bin", []byte("hello world")))

	got, err := m.ReadRange(ctx, "a/fragment.bin", 6, 5)
	require.NoError(t, err)
	require.Equal(t, []byte("world"), got)
}

func TestMemoryReadRangeClampsToEOF(t *testing.T) {
	m := vfs.NewMemory()
	ctx := context.Background()
	require.NoError(t, m.Write(ctx, "f", []byte("abc")))

	got, err := m.ReadRange(ctx, "f", 1, 100)
	require.NoError(t, err)
	require.Equal(t, []byte("bc"), got)
}

func TestMemoryReadRangeMissingPath(t *testing.T) {
	m := vfs.NewMemory()
	_, err := m.ReadRange(context.Background(), "nope", 0, 1)
	require.ErrorIs(t, err, vfs.ErrNotFound)
}

func TestMemoryOpenReturnsIndependentCopy(t *testing.T) {
	m := vfs.NewMemory()
	ctx := context.Background()
	require.NoError(t, m.Write(ctx, "f", []byte("abc")))

	stream, err := m.Open(ctx, "f")
	require.NoError(t, err)
	raw, err := io.ReadAll(stream)
	require.NoError(t, err)
	require.Equal(t, []byte("abc"), raw)

	raw[0] = 'z'
	stream2, err := m.Open(ctx, "f")
	require.NoError(t, err)
	raw2, err := io.ReadAll(stream2)
	require.NoError(t, err)
	require.Equal(t, []byte("abc"), raw2)
}

func TestMemoryListSeparatesFilesAndDirs(t *testing.T) {
	m := vfs.NewMemory()
	ctx := context.Background()
	require.NoError(t, m.Write(ctx, "root/a.bin", []byte("x")))
	require.NoError(t, m.Write(ctx, "root/b.bin", []byte("y")))
	require.NoError(t, m.Write(ctx, "root/__fragments/frag1/manifest.json", []byte("z")))

	files, dirs, err := m.List(ctx, "root")
	require.NoError(t, err)
	require.Equal(t, []string{"root/a.bin", "root/b.bin"}, files)
	require.Equal(t, []string{"root/__fragments"}, dirs)
}

func TestMemoryListTrimsTrailingSlash(t *testing.T) {
	m := vfs.NewMemory()
	ctx := context.Background()
	require.NoError(t, m.Write(ctx, "root/a.bin", []byte("x")))

	files, _, err := m.List(ctx, "root/")
	require.NoError(t, err)
	require.Equal(t, []string{"root/a.bin"}, files)
}
