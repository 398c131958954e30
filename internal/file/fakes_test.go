package file

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/stretchr/testify/require"

	"github.com/radif/filestore/internal/filekey"
	"github.com/radif/filestore/internal/imaging"
	"github.com/radif/filestore/internal/storage"
)

// memStore is an in-memory MetadataStore.
type memStore struct {
	mu      sync.Mutex
	records map[string]Record
	lookups int
	// failCreate makes every Create return this error when set.
	failCreate error
}

func newMemStore() *memStore {
	return &memStore{records: make(map[string]Record)}
}

func (m *memStore) Create(ctx context.Context, rec *Record) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failCreate != nil {
		return m.failCreate
	}
	now := time.Now().UTC()
	rec.CreatedAt, rec.UpdatedAt = now, now
	m.records[rec.ID] = clone(rec)
	return nil
}

func (m *memStore) Update(ctx context.Context, rec *Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.records[rec.ID]; !ok {
		return ErrRecordNotFound
	}
	if rec.UniqueKey != nil {
		for id, other := range m.records {
			if id != rec.ID && other.UniqueKey != nil && *other.UniqueKey == *rec.UniqueKey {
				return ErrDuplicateKey
			}
		}
	}
	rec.UpdatedAt = time.Now().UTC()
	m.records[rec.ID] = clone(rec)
	return nil
}

func (m *memStore) GetByID(_ context.Context, id string) (*Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lookups++
	rec, ok := m.records[id]
	if !ok {
		return nil, ErrRecordNotFound
	}
	out := clone(&rec)
	return &out, nil
}

func (m *memStore) FindByUniqueKey(_ context.Context, key string) (*Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lookups++
	for _, rec := range m.records {
		if rec.UniqueKey != nil && *rec.UniqueKey == key {
			out := clone(&rec)
			return &out, nil
		}
	}
	return nil, ErrRecordNotFound
}

func (m *memStore) FindByDeleted(_ context.Context, deleted bool) ([]*Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*Record
	for _, rec := range m.records {
		if rec.Deleted == deleted {
			c := clone(&rec)
			out = append(out, &c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *memStore) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.records)
}

func (m *memStore) get(t *testing.T, id string) Record {
	t.Helper()
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.records[id]
	require.True(t, ok, "record %s not stored", id)
	return rec
}

func clone(rec *Record) Record {
	out := *rec
	out.LocationPath = cloneStr(rec.LocationPath)
	out.Bucket = cloneStr(rec.Bucket)
	out.UniqueKey = cloneStr(rec.UniqueKey)
	out.ETag = cloneStr(rec.ETag)
	if rec.DeletedAt != nil {
		at := *rec.DeletedAt
		out.DeletedAt = &at
	}
	return out
}

func cloneStr(s *string) *string {
	if s == nil {
		return nil
	}
	v := *s
	return &v
}

// flakyBackend wraps a Backend and fails writes on demand.
type flakyBackend struct {
	storage.Backend
	mu       sync.Mutex
	writes   int
	failOn   func(obj storage.Object) bool
	writeErr error
}

func (f *flakyBackend) Write(ctx context.Context, obj storage.Object, r io.Reader) (storage.Result, error) {
	f.mu.Lock()
	f.writes++
	fail := f.failOn != nil && f.failOn(obj)
	f.mu.Unlock()
	if fail {
		return storage.Result{}, &storage.WriteError{Key: obj.Key(), Err: f.writeErr}
	}
	return f.Backend.Write(ctx, obj, r)
}

func (f *flakyBackend) writeCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.writes
}

// memObjectClient is an in-memory storage.ObjectClient.
type memObjectClient struct {
	mu      sync.Mutex
	objects map[string][]byte
}

func newMemObjectClient() *memObjectClient {
	return &memObjectClient{objects: make(map[string][]byte)}
}

func (c *memObjectClient) BucketExists(context.Context, string) (bool, error) { return true, nil }

func (c *memObjectClient) MakeBucket(context.Context, string) error { return nil }

func (c *memObjectClient) PutObject(ctx context.Context, bucket, key string, r io.Reader, _ int64, _ string) error {
	b, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.objects[bucket+"/"+key] = b
	return nil
}

func (c *memObjectClient) StatObject(_ context.Context, bucket, key string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.objects[bucket+"/"+key]; !ok {
		return "", minio.ErrorResponse{Code: "NoSuchKey"}
	}
	return "etag-" + key, nil
}

func (c *memObjectClient) GetObject(_ context.Context, bucket, key string) (io.ReadCloser, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	b, ok := c.objects[bucket+"/"+key]
	if !ok {
		return nil, minio.ErrorResponse{Code: "NoSuchKey", Message: "The specified key does not exist."}
	}
	return io.NopCloser(bytes.NewReader(b)), nil
}

var fixedNow = time.Date(2024, 3, 7, 10, 30, 0, 0, time.UTC)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fixture struct {
	svc     *Service
	store   *memStore
	local   *storage.LocalStorage
	backend *flakyBackend
	root    string
}

func newFixture(t *testing.T, opts ...Option) *fixture {
	t.Helper()
	root := t.TempDir()
	local, err := storage.NewLocalStorage(root)
	require.NoError(t, err)

	store := newMemStore()
	backend := &flakyBackend{Backend: local}
	keys := filekey.New(filekey.DefaultTemplate, func() time.Time { return fixedNow })
	resizer := imaging.NewResizer(nil, discardLogger())

	opts = append([]Option{WithClock(func() time.Time { return fixedNow })}, opts...)
	svc := NewService(store, backend, nil, keys, resizer, discardLogger(), opts...)
	return &fixture{svc: svc, store: store, local: local, backend: backend, root: root}
}

func bytesUpload(name, contentType string, body []byte) Upload {
	return Upload{
		Filename:    name,
		Size:        int64(len(body)),
		ContentType: contentType,
		Open: func() (io.ReadCloser, error) {
			return io.NopCloser(bytes.NewReader(body)), nil
		},
	}
}

func readAll(t *testing.T, d *Download) []byte {
	t.Helper()
	defer d.Body.Close()
	b, err := io.ReadAll(d.Body)
	require.NoError(t, err)
	return b
}
