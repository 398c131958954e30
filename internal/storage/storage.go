// Package storage defines the backend contract for file blobs.
// Two variants exist: Local (filesystem) and Minio (any S3-compatible provider).
// Swap implementations by changing the concrete type injected at startup.
package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
)

// Mode identifies which backend owns a file's bytes.
type Mode string

const (
	ModeLocalDisk   Mode = "LOCAL_DISK"
	ModeObjectStore Mode = "OBJECT_STORE"
)

// ErrNotFound is returned when a location does not resolve to existing content.
var ErrNotFound = errors.New("object not found")

// Object describes a blob to be written.
type Object struct {
	// Dir is the derived path prefix, e.g. "PUBLIC/t1/DOCS/2024/03/07/".
	Dir string
	// Name is the leaf name inside Dir.
	Name string
	// Image routes the blob into the image subtree on local disk.
	Image bool
	// Size is the exact byte count, or -1 when unknown.
	Size        int64
	ContentType string
}

// Key returns the backend-neutral object key.
func (o Object) Key() string {
	return o.Dir + o.Name
}

// Location is the backend-specific address of a stored blob.
type Location struct {
	Bucket string // empty for local disk
	Path   string
}

// Result is returned by a successful write.
type Result struct {
	Location Location
	ETag     string
}

// Backend is the capability every storage variant provides.
type Backend interface {
	// Mode reports which storage mode the backend serves.
	Mode() Mode
	// Write streams r to the backend, creating missing directories or buckets.
	Write(ctx context.Context, obj Object, r io.Reader) (Result, error)
	// Read opens the blob at loc. The caller must close the reader.
	Read(ctx context.Context, loc Location) (io.ReadCloser, error)
}

// WriteError wraps a backend failure during Write.
type WriteError struct {
	Key string
	Err error
}

func (e *WriteError) Error() string {
	return fmt.Sprintf("storage write %q: %v", e.Key, e.Err)
}

func (e *WriteError) Unwrap() error { return e.Err }

// ReadError wraps a backend failure during Read. ErrNotFound is wrapped too,
// so errors.Is(err, ErrNotFound) distinguishes missing content.
type ReadError struct {
	Path string
	Err  error
}

func (e *ReadError) Error() string {
	return fmt.Sprintf("storage read %q: %v", e.Path, e.Err)
}

func (e *ReadError) Unwrap() error { return e.Err }
