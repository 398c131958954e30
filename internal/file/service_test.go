package file

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/radif/filestore/internal/filekey"
	"github.com/radif/filestore/internal/imaging"
	"github.com/radif/filestore/internal/storage"
)

var (
	publicTarget  = Target{Visibility: Public, TenantID: "t1", Module: "gallery"}
	privateTarget = Target{Visibility: Private, TenantID: "t1", Module: "docs"}
)

func pngBytes(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y += 10 {
		img.Set(0, y, color.RGBA{G: 180, A: 255})
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func TestSaveFile_RoundTrip(t *testing.T) {
	f := newFixture(t)
	body := []byte("%PDF-1.4 quarterly report")

	d, err := f.svc.SaveFile(context.Background(), bytesUpload("report.pdf", "application/pdf", body), privateTarget)
	require.NoError(t, err)

	assert.Equal(t, "report", d.Name)
	assert.Equal(t, ".pdf", d.Extension)
	assert.Equal(t, int64(len(body)), d.Size)
	assert.Equal(t, "application/pdf", d.ContentType)
	require.NotNil(t, d.URL)

	key := filekey.UniqueKey(d.ID, ".pdf")
	assert.Equal(t, "/file/view/private/"+key, *d.URL)

	rec := f.store.get(t, d.ID)
	assert.Equal(t, StateCommitted, rec.State)
	assert.Equal(t, storage.ModeLocalDisk, rec.StorageMode)
	require.NotNil(t, rec.LocationPath)
	assert.Equal(t, "files/PRIVATE/t1/DOCS/2024/03/07/"+key, *rec.LocationPath)
	require.NotNil(t, rec.ETag)
	assert.NotEmpty(t, *rec.ETag)

	dl, err := f.svc.Retrieve(context.Background(), d.ID)
	require.NoError(t, err)
	assert.Equal(t, body, readAll(t, dl))
	assert.Equal(t, "report.pdf", dl.FileName)
	assert.Equal(t, "application/pdf", dl.ContentType)
}

func TestSaveFile_ImagesGoToImageSubtree(t *testing.T) {
	f := newFixture(t)

	d, err := f.svc.SaveFile(context.Background(), bytesUpload("cat.PNG", "image/png", pngBytes(t, 20, 10)), publicTarget)
	require.NoError(t, err)

	rec := f.store.get(t, d.ID)
	require.NotNil(t, rec.LocationPath)
	assert.True(t, strings.HasPrefix(*rec.LocationPath, "images/PUBLIC/t1/GALLERY/2024/03/07/"))

	_, err = os.Stat(filepath.Join(f.root, filepath.FromSlash(*rec.LocationPath)))
	assert.NoError(t, err)
}

func TestSaveFile_DefaultsContentType(t *testing.T) {
	f := newFixture(t)

	d, err := f.svc.SaveFile(context.Background(), bytesUpload("blob", "", []byte("x")), privateTarget)
	require.NoError(t, err)
	assert.Equal(t, defaultContentType, d.ContentType)
	assert.Equal(t, "", d.Extension)
}

func TestSaveFile_RejectsEmptyFile(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.SaveFile(context.Background(), bytesUpload("empty.txt", "text/plain", nil), privateTarget)
	require.ErrorIs(t, err, ErrEmptyFile)
	assert.Zero(t, f.store.count())
	assert.Zero(t, f.backend.writeCount())
}

func TestSaveFile_RejectsTraversal(t *testing.T) {
	tests := []struct {
		name   string
		target Target
	}{
		{"tenant parent dir", Target{Visibility: Public, TenantID: "../etc", Module: "docs"}},
		{"module parent dir", Target{Visibility: Public, TenantID: "t1", Module: "docs/../../x"}},
		{"backslash", Target{Visibility: Public, TenantID: `t1\x`, Module: "docs"}},
		{"missing tenant", Target{Visibility: Public, Module: "docs"}},
		{"missing module", Target{Visibility: Public, TenantID: "t1"}},
		{"unknown visibility", Target{Visibility: "SHARED", TenantID: "t1", Module: "docs"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)

			_, err := f.svc.SaveFile(context.Background(), bytesUpload("a.txt", "text/plain", []byte("a")), tt.target)
			require.ErrorIs(t, err, ErrValidation)
			assert.Zero(t, f.store.count())
			assert.Zero(t, f.backend.writeCount())
		})
	}
}

func TestSaveFile_RejectsMissingName(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.SaveFile(context.Background(), bytesUpload("uploads/", "image/png", []byte("x")), publicTarget)
	require.ErrorIs(t, err, ErrValidation)
}

func TestSaveFile_WriteFailureLeavesPendingRecord(t *testing.T) {
	f := newFixture(t)
	f.backend.failOn = func(storage.Object) bool { return true }
	f.backend.writeErr = errors.New("disk full")

	_, err := f.svc.SaveFile(context.Background(), bytesUpload("a.txt", "text/plain", []byte("a")), privateTarget)

	var se *StorageError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, "could not store file a.txt, please try again", se.Message)
	assert.NotContains(t, se.Message, "disk full")

	recs, err := f.store.FindByDeleted(context.Background(), false)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, StatePending, recs[0].State)
	assert.Nil(t, recs[0].UniqueKey)

	_, err = f.svc.Retrieve(context.Background(), recs[0].ID)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSaveFile_MetadataFailure(t *testing.T) {
	f := newFixture(t)
	f.store.failCreate = errors.New("connection refused")

	_, err := f.svc.SaveFile(context.Background(), bytesUpload("a.txt", "text/plain", []byte("a")), privateTarget)

	var se *StorageError
	require.ErrorAs(t, err, &se)
	assert.Zero(t, f.backend.writeCount())
}

func TestSaveFile_Canceled(t *testing.T) {
	f := newFixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := f.svc.SaveFile(ctx, bytesUpload("a.txt", "text/plain", []byte("a")), privateTarget)
	require.ErrorIs(t, err, ErrCanceled)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, f.store.count())
}

func TestSaveMultiple_KeepsOrder(t *testing.T) {
	f := newFixture(t, WithBatchConcurrency(3))
	names := []string{"a.txt", "b.txt", "c.txt", "d.txt", "e.txt"}

	uploads := make([]Upload, len(names))
	for i, n := range names {
		uploads[i] = bytesUpload(n, "text/plain", []byte(n))
	}

	ds, err := f.svc.SaveMultiple(context.Background(), uploads, privateTarget)
	require.NoError(t, err)
	require.Len(t, ds, len(names))
	for i, d := range ds {
		assert.Equal(t, strings.TrimSuffix(names[i], ".txt"), d.Name)

		dl, err := f.svc.Retrieve(context.Background(), d.ID)
		require.NoError(t, err)
		assert.Equal(t, []byte(names[i]), readAll(t, dl))
	}
}

func TestSaveMultiple_InvalidInputStoresNothing(t *testing.T) {
	f := newFixture(t)
	uploads := []Upload{
		bytesUpload("a.txt", "text/plain", []byte("a")),
		bytesUpload("b.txt", "text/plain", nil),
		bytesUpload("c.txt", "text/plain", []byte("c")),
	}

	_, err := f.svc.SaveMultiple(context.Background(), uploads, privateTarget)
	require.ErrorIs(t, err, ErrEmptyFile)
	assert.Contains(t, err.Error(), "b.txt")
	assert.Zero(t, f.store.count())
	assert.Zero(t, f.backend.writeCount())
}

func TestSaveMultiple_WriteFailureFailsBatch(t *testing.T) {
	f := newFixture(t)
	f.backend.failOn = func(obj storage.Object) bool { return obj.ContentType == "text/csv" }
	f.backend.writeErr = errors.New("bucket unreachable")

	uploads := []Upload{
		bytesUpload("a.txt", "text/plain", []byte("a")),
		bytesUpload("b.csv", "text/csv", []byte("b")),
		bytesUpload("c.txt", "text/plain", []byte("c")),
	}

	ds, err := f.svc.SaveMultiple(context.Background(), uploads, privateTarget)
	assert.Nil(t, ds)

	var se *StorageError
	require.ErrorAs(t, err, &se)
	assert.Contains(t, se.Message, "b.csv")
}

func TestRetrieveByUniqueKey_Visibility(t *testing.T) {
	f := newFixture(t)
	body := []byte("hello")

	d, err := f.svc.SaveFile(context.Background(), bytesUpload("note.txt", "text/plain", body), publicTarget)
	require.NoError(t, err)
	key := filekey.UniqueKey(d.ID, ".txt")

	dl, err := f.svc.RetrieveByUniqueKey(context.Background(), Public, key, nil)
	require.NoError(t, err)
	assert.Equal(t, body, readAll(t, dl))

	_, err = f.svc.RetrieveByUniqueKey(context.Background(), Private, key, nil)
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = f.svc.RetrieveByUniqueKey(context.Background(), Public, "deadbeef.txt", nil)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRetrieveByUniqueKey_Resizes(t *testing.T) {
	f := newFixture(t)

	d, err := f.svc.SaveFile(context.Background(), bytesUpload("wide.png", "image/png", pngBytes(t, 800, 400)), publicTarget)
	require.NoError(t, err)
	key := filekey.UniqueKey(d.ID, ".png")

	spec, err := imaging.ParseSpec("400x", "")
	require.NoError(t, err)

	dl, err := f.svc.RetrieveByUniqueKey(context.Background(), Public, key, spec)
	require.NoError(t, err)
	out := readAll(t, dl)
	assert.Equal(t, int64(len(out)), dl.Size)

	cfg, err := png.DecodeConfig(bytes.NewReader(out))
	require.NoError(t, err)
	assert.Equal(t, 400, cfg.Width)
	assert.Equal(t, 200, cfg.Height)
}

func TestRetrieveByUniqueKey_UnsupportedImageFormat(t *testing.T) {
	f := newFixture(t)
	body := []byte("RIFF....WEBPVP8 ")

	d, err := f.svc.SaveFile(context.Background(), bytesUpload("pic.webp", "image/webp", body), publicTarget)
	require.NoError(t, err)
	key := filekey.UniqueKey(d.ID, ".webp")

	spec := &imaging.Spec{Mode: imaging.ModePercent, Percent: 50}
	_, err = f.svc.RetrieveByUniqueKey(context.Background(), Public, key, spec)
	require.ErrorIs(t, err, imaging.ErrUnsupportedFormat)

	dl, err := f.svc.RetrieveByUniqueKey(context.Background(), Public, key, nil)
	require.NoError(t, err)
	assert.Equal(t, body, readAll(t, dl))
}

func TestRetrieveByUniqueKey_NonImageIgnoresSpec(t *testing.T) {
	f := newFixture(t)
	body := []byte("a,b\n1,2\n")

	d, err := f.svc.SaveFile(context.Background(), bytesUpload("data.csv", "text/csv", body), publicTarget)
	require.NoError(t, err)

	spec := &imaging.Spec{Mode: imaging.ModeWidth, Width: 10}
	dl, err := f.svc.RetrieveByUniqueKey(context.Background(), Public, filekey.UniqueKey(d.ID, ".csv"), spec)
	require.NoError(t, err)
	assert.Equal(t, body, readAll(t, dl))
}

func TestRetrieve_MissingBlob(t *testing.T) {
	f := newFixture(t)

	d, err := f.svc.SaveFile(context.Background(), bytesUpload("a.txt", "text/plain", []byte("a")), privateTarget)
	require.NoError(t, err)

	rec := f.store.get(t, d.ID)
	require.NoError(t, os.Remove(filepath.Join(f.root, filepath.FromSlash(*rec.LocationPath))))

	_, err = f.svc.Retrieve(context.Background(), d.ID)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSoftDelete(t *testing.T) {
	f := newFixture(t)

	d, err := f.svc.SaveFile(context.Background(), bytesUpload("a.txt", "text/plain", []byte("a")), publicTarget)
	require.NoError(t, err)

	ok, err := f.svc.SoftDelete(context.Background(), d.ID)
	require.NoError(t, err)
	assert.True(t, ok)

	rec := f.store.get(t, d.ID)
	assert.True(t, rec.Deleted)
	require.NotNil(t, rec.DeletedAt)
	assert.Equal(t, fixedNow, *rec.DeletedAt)
	assert.True(t, f.local.Exists(rec.Location()), "blob must survive a soft delete")

	_, err = f.svc.Retrieve(context.Background(), d.ID)
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = f.svc.RetrieveByUniqueKey(context.Background(), Public, *rec.UniqueKey, nil)
	assert.ErrorIs(t, err, ErrNotFound)

	ok, err = f.svc.SoftDelete(context.Background(), d.ID)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.False(t, ok)

	deleted, err := f.svc.ListDeleted(context.Background())
	require.NoError(t, err)
	require.Len(t, deleted, 1)
	assert.Equal(t, d.ID, deleted[0].ID)
}

func TestSoftDelete_Unknown(t *testing.T) {
	f := newFixture(t)

	ok, err := f.svc.SoftDelete(context.Background(), "4a4c7f1e-0000-0000-0000-000000000000")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.False(t, ok)
}

func TestService_ObjectStoreWriterReadsLocalFiles(t *testing.T) {
	f := newFixture(t)
	body := []byte("written before the switch")

	old, err := f.svc.SaveFile(context.Background(), bytesUpload("old.txt", "text/plain", body), privateTarget)
	require.NoError(t, err)

	client := newMemObjectClient()
	remote, err := storage.NewMinioStorageWithClient(client, "tenant-files", discardLogger())
	require.NoError(t, err)

	keys := filekey.New(filekey.DefaultTemplate, func() time.Time { return fixedNow })
	svc := NewService(f.store, remote, []storage.Backend{f.local}, keys, imaging.NewResizer(nil, discardLogger()), discardLogger())

	dl, err := svc.Retrieve(context.Background(), old.ID)
	require.NoError(t, err)
	assert.Equal(t, body, readAll(t, dl))

	fresh, err := svc.SaveFile(context.Background(), bytesUpload("new.txt", "text/plain", []byte("remote")), privateTarget)
	require.NoError(t, err)
	require.NotNil(t, fresh.URL)

	rec := f.store.get(t, fresh.ID)
	assert.Equal(t, storage.ModeObjectStore, rec.StorageMode)
	require.NotNil(t, rec.Bucket)
	assert.Equal(t, "tenant-files", *rec.Bucket)
	assert.Equal(t, "PRIVATE/t1/DOCS/2024/03/07/"+filekey.UniqueKey(fresh.ID, ".txt"), *rec.LocationPath)

	dl, err = svc.Retrieve(context.Background(), fresh.ID)
	require.NoError(t, err)
	assert.Equal(t, []byte("remote"), readAll(t, dl))

	// The local-only service cannot serve object-store files.
	_, err = f.svc.Retrieve(context.Background(), fresh.ID)
	var re *storage.ReadError
	assert.ErrorAs(t, err, &re)
}

func TestService_CachedStore(t *testing.T) {
	root := t.TempDir()
	local, err := storage.NewLocalStorage(root)
	require.NoError(t, err)

	mem := newMemStore()
	cached := NewCachedStore(mem, 16, time.Minute)
	keys := filekey.New(filekey.DefaultTemplate, func() time.Time { return fixedNow })
	svc := NewService(cached, local, nil, keys, imaging.NewResizer(nil, discardLogger()), discardLogger())

	d, err := svc.SaveFile(context.Background(), bytesUpload("a.txt", "text/plain", []byte("a")), publicTarget)
	require.NoError(t, err)

	for range 3 {
		dl, err := svc.RetrieveByUniqueKey(context.Background(), Public, filekey.UniqueKey(d.ID, ".txt"), nil)
		require.NoError(t, err)
		readAll(t, dl)
	}
	assert.Zero(t, mem.lookups, "committed records are served from cache")

	_, err = svc.SoftDelete(context.Background(), d.ID)
	require.NoError(t, err)

	_, err = svc.Retrieve(context.Background(), d.ID)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.Equal(t, 1, mem.lookups, "soft delete evicts the cached record")
}
