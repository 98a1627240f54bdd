// Package vfs defines the core's minimal collaborator contract with
// durable storage: a byte-range read interface (spec §6, "the core is
// agnostic to the VFS used; it only requires byte-range(f, offset,
// length)"). Cloud object store adapters, compression, and the group/
// directory facade are all out of scope here (spec §1) — this package
// only carries what fragment.View and schema (de)serialization need to
// exercise that boundary in tests.
package vfs

import (
	"context"
	"errors"
)

// ErrNotFound is returned by Memory's ReadRange/Open when path does not
// exist.
var ErrNotFound = errors.New("vfs: path not found")

// ByteRangeReader is the core's sole durability contract: read length
// bytes of path starting at offset. Fragment readers never assume
// anything about the backing medium beyond this.
type ByteRangeReader interface {
	ReadRange(ctx context.Context, path string, offset, length int64) ([]byte, error)
}

// Stream is a generic seekable reader, used for whole-object decode
// paths such as schema (de)serialization, mirroring the teacher's own
// Stream interface (sixy6e-go-gsf/reader.go) that abstracts over a
// *tiledb.VFSfh or an in-memory *bytes.Reader.
type Stream interface {
	Read(p []byte) (int, error)
	Seek(offset int64, whence int) (int64, error)
}

// Lister enumerates directory entries, used to discover fragments under
// an array's storage root. Readers MUST ignore entries whose name
// begins with a single '.' (spec §6, in-progress fragments).
type Lister interface {
	List(ctx context.Context, dir string) (files []string, dirs []string, err error)
}

// FS composes the minimal set of capabilities the core's fragment
// manifest needs: list fragments, then byte-range or stream-read them.
type FS interface {
	ByteRangeReader
	Lister
	Open(ctx context.Context, path string) (Stream, error)
	Write(ctx context.Context, path string, data []byte) error
}
