package storage

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

const (
	imagesDir = "images"
	filesDir  = "files"
)

// LocalStorage implements Backend on the local filesystem.
// Images (jpg, jpeg, png) live under <root>/images, everything else under <root>/files.
type LocalStorage struct {
	root string
}

// NewLocalStorage creates the root directory if needed and returns a ready LocalStorage.
func NewLocalStorage(root string) (*LocalStorage, error) {
	if err := os.MkdirAll(root, 0o750); err != nil {
		return nil, fmt.Errorf("create storage root %s: %w", root, err)
	}
	return &LocalStorage{root: root}, nil
}

// Mode implements Backend.
func (s *LocalStorage) Mode() Mode { return ModeLocalDisk }

// Write streams r into a temp file next to the destination, computing an MD5
// checksum on the fly, then renames it into place. The returned location path
// is relative to the storage root.
func (s *LocalStorage) Write(ctx context.Context, obj Object, r io.Reader) (Result, error) {
	sub := filesDir
	if obj.Image {
		sub = imagesDir
	}
	rel := filepath.ToSlash(filepath.Join(sub, filepath.FromSlash(obj.Key())))

	full, err := s.resolve(rel)
	if err != nil {
		return Result{}, &WriteError{Key: obj.Key(), Err: err}
	}

	if err := os.MkdirAll(filepath.Dir(full), 0o750); err != nil {
		return Result{}, &WriteError{Key: obj.Key(), Err: fmt.Errorf("create directory: %w", err)}
	}

	tmp := full + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return Result{}, &WriteError{Key: obj.Key(), Err: fmt.Errorf("create temp file: %w", err)}
	}

	hasher := md5.New()
	_, err = io.Copy(f, io.TeeReader(contextReader{ctx: ctx, r: r}, hasher))
	if err == nil {
		err = f.Sync()
	}
	if closeErr := f.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		_ = os.Remove(tmp)
		return Result{}, &WriteError{Key: obj.Key(), Err: err}
	}

	if err := os.Rename(tmp, full); err != nil {
		_ = os.Remove(tmp)
		return Result{}, &WriteError{Key: obj.Key(), Err: fmt.Errorf("rename: %w", err)}
	}

	return Result{
		Location: Location{Path: rel},
		ETag:     hex.EncodeToString(hasher.Sum(nil)),
	}, nil
}

// Read opens the file at loc.Path, relative to the storage root.
func (s *LocalStorage) Read(_ context.Context, loc Location) (io.ReadCloser, error) {
	full, err := s.resolve(loc.Path)
	if err != nil {
		return nil, &ReadError{Path: loc.Path, Err: err}
	}

	f, err := os.Open(full)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, &ReadError{Path: loc.Path, Err: ErrNotFound}
		}
		return nil, &ReadError{Path: loc.Path, Err: err}
	}
	return f, nil
}

// Exists reports whether a blob is present at loc.
func (s *LocalStorage) Exists(loc Location) bool {
	full, err := s.resolve(loc.Path)
	if err != nil {
		return false
	}
	_, err = os.Stat(full)
	return err == nil
}

// resolve maps a root-relative path to an absolute one that stays inside root.
func (s *LocalStorage) resolve(rel string) (string, error) {
	if rel == "" {
		return "", fmt.Errorf("empty path")
	}
	full := filepath.Join(s.root, filepath.FromSlash(rel))
	back, err := filepath.Rel(s.root, full)
	if err != nil || back == ".." || strings.HasPrefix(back, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("path escapes storage root")
	}
	return full, nil
}

// contextReader stops a copy once ctx is done.
type contextReader struct {
	ctx context.Context
	r   io.Reader
}

func (c contextReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	return c.r.Read(p)
}
