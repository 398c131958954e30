package file

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"golang.org/x/sync/errgroup"

	"github.com/radif/filestore/internal/filekey"
	"github.com/radif/filestore/internal/imaging"
	"github.com/radif/filestore/internal/storage"
)

// operationsTotal counts orchestrator operations by outcome.
var operationsTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "files_operations_total",
		Help: "File operations handled by the storage service.",
	},
	[]string{"operation", "result"},
)

const defaultContentType = "application/octet-stream"

// Download is an open blob plus the headers needed to serve it.
// The caller must close Body.
type Download struct {
	Body        io.ReadCloser
	ContentType string
	FileName    string
	Size        int64 // -1 when unknown
}

// Option configures a Service.
type Option func(*Service)

// WithBatchConcurrency bounds how many files SaveMultiple stores at once.
func WithBatchConcurrency(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.batchLimit = n
		}
	}
}

// WithClock overrides the time source used for timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// WithIDGenerator overrides record id generation.
func WithIDGenerator(newID func() string) Option {
	return func(s *Service) { s.newID = newID }
}

// Service validates uploads, places blobs on a storage backend and keeps
// their metadata in step.
type Service struct {
	store      MetadataStore
	writer     storage.Backend
	backends   map[storage.Mode]storage.Backend
	keys       *filekey.Deriver
	resizer    *imaging.Resizer
	logger     *slog.Logger
	batchLimit int
	now        func() time.Time
	newID      func() string
}

// NewService creates a Service. New uploads go to writer; reads are dispatched
// to writer or any of readers by the storage mode recorded on each file.
func NewService(
	store MetadataStore,
	writer storage.Backend,
	readers []storage.Backend,
	keys *filekey.Deriver,
	resizer *imaging.Resizer,
	logger *slog.Logger,
	opts ...Option,
) *Service {
	s := &Service{
		store:      store,
		writer:     writer,
		backends:   map[storage.Mode]storage.Backend{writer.Mode(): writer},
		keys:       keys,
		resizer:    resizer,
		logger:     logger.With(slog.String("component", "file_service")),
		batchLimit: 1,
		now:        time.Now,
		newID:      uuid.NewString,
	}
	for _, b := range readers {
		if _, ok := s.backends[b.Mode()]; !ok {
			s.backends[b.Mode()] = b
		}
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// plan is a validated upload, ready for I/O.
type plan struct {
	upload Upload
	target Target
	dir    string
	base   string
	ext    string
}

// validate runs every check that needs no I/O.
func (s *Service) validate(up Upload, target Target) (*plan, error) {
	if up.Size <= 0 {
		return nil, ErrEmptyFile
	}
	if target.Visibility != Public && target.Visibility != Private {
		return nil, fmt.Errorf("%w: unknown visibility %q", ErrValidation, target.Visibility)
	}

	base, ext := filekey.SplitName(up.Filename)
	if base == "" {
		return nil, fmt.Errorf("%w: missing file name", ErrValidation)
	}

	dir, err := s.keys.Path(string(target.Visibility), target.TenantID, target.Module)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrValidation, err)
	}

	return &plan{upload: up, target: target, dir: dir, base: base, ext: ext}, nil
}

// SaveFile stores one upload and returns its descriptor.
//
// Flow:
//  1. validate (no I/O)
//  2. create a pending record
//  3. write the blob
//  4. commit the record with location, etag and unique key
//
// A failure after step 2 leaves the pending record behind; it is never served.
func (s *Service) SaveFile(ctx context.Context, up Upload, target Target) (*Descriptor, error) {
	p, err := s.validate(up, target)
	if err != nil {
		operationsTotal.WithLabelValues("save", "invalid").Inc()
		return nil, err
	}
	return s.save(ctx, p)
}

// SaveMultiple stores every upload or fails as a whole. All inputs are
// validated before any record is created. Descriptors keep input order.
func (s *Service) SaveMultiple(ctx context.Context, uploads []Upload, target Target) ([]*Descriptor, error) {
	plans := make([]*plan, len(uploads))
	for i, up := range uploads {
		p, err := s.validate(up, target)
		if err != nil {
			operationsTotal.WithLabelValues("save", "invalid").Inc()
			return nil, fmt.Errorf("file %d (%s): %w", i+1, up.Filename, err)
		}
		plans[i] = p
	}

	out := make([]*Descriptor, len(plans))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.batchLimit)
	for i, p := range plans {
		g.Go(func() error {
			d, err := s.save(gctx, p)
			if err != nil {
				return err
			}
			out[i] = d
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

func (s *Service) save(ctx context.Context, p *plan) (*Descriptor, error) {
	if err := ctx.Err(); err != nil {
		return nil, s.saveFailed(ctx, p, err)
	}

	contentType := p.upload.ContentType
	if contentType == "" {
		contentType = defaultContentType
	}

	rec := &Record{
		ID:          s.newID(),
		Name:        p.base,
		Extension:   p.ext,
		Size:        p.upload.Size,
		ContentType: contentType,
		Visibility:  p.target.Visibility,
		TenantID:    p.target.TenantID,
		Module:      p.target.Module,
		StorageMode: s.writer.Mode(),
		State:       StatePending,
	}
	if err := s.store.Create(ctx, rec); err != nil {
		return nil, s.saveFailed(ctx, p, err)
	}

	uniqueKey := filekey.UniqueKey(rec.ID, rec.Extension)
	obj := storage.Object{
		Dir:         p.dir,
		Name:        uniqueKey,
		Image:       filekey.IsImageExt(rec.Extension),
		Size:        rec.Size,
		ContentType: contentType,
	}

	res, err := s.write(ctx, obj, p.upload)
	if err != nil {
		return nil, s.saveFailed(ctx, p, err)
	}

	rec.State = StateCommitted
	rec.LocationPath = &res.Location.Path
	if res.Location.Bucket != "" {
		rec.Bucket = &res.Location.Bucket
	}
	rec.ETag = &res.ETag
	rec.UniqueKey = &uniqueKey

	if err := s.store.Update(ctx, rec); err != nil {
		return nil, s.saveFailed(ctx, p, err)
	}

	operationsTotal.WithLabelValues("save", "success").Inc()
	s.logger.Info("file stored",
		slog.String("file_id", rec.ID),
		slog.String("tenant_id", rec.TenantID),
		slog.String("module", rec.Module),
		slog.String("storage_mode", string(rec.StorageMode)),
		slog.Int64("size", rec.Size),
	)

	return s.describe(rec), nil
}

func (s *Service) write(ctx context.Context, obj storage.Object, up Upload) (storage.Result, error) {
	if up.Open == nil {
		return storage.Result{}, errors.New("upload has no content")
	}
	rc, err := up.Open()
	if err != nil {
		return storage.Result{}, fmt.Errorf("open upload: %w", err)
	}
	defer rc.Close()

	return s.writer.Write(ctx, obj, rc)
}

// saveFailed logs the full cause and returns the error the caller should see.
func (s *Service) saveFailed(ctx context.Context, p *plan, err error) error {
	if canceled(ctx, err) {
		operationsTotal.WithLabelValues("save", "canceled").Inc()
		s.logger.Warn("file store canceled",
			slog.String("filename", p.upload.Filename),
			slog.String("error", err.Error()),
		)
		return fmt.Errorf("%w: %w", ErrCanceled, cause(ctx, err))
	}

	operationsTotal.WithLabelValues("save", "error").Inc()
	s.logger.Error("could not store file",
		slog.String("filename", p.upload.Filename),
		slog.String("tenant_id", p.target.TenantID),
		slog.String("module", p.target.Module),
		slog.String("error", err.Error()),
	)
	return storeFailed(p.upload.Filename, err)
}

func (s *Service) describe(rec *Record) *Descriptor {
	d := &Descriptor{
		ID:          rec.ID,
		Name:        rec.Name,
		Size:        rec.Size,
		Extension:   rec.Extension,
		ContentType: rec.ContentType,
		CreatedAt:   rec.CreatedAt.UTC().Format(time.RFC3339Nano),
	}
	if rec.UniqueKey != nil {
		url := ViewURL(rec.Visibility, *rec.UniqueKey)
		d.URL = &url
	}
	return d
}

// ViewURL is the public path a unique key resolves under.
func ViewURL(v Visibility, uniqueKey string) string {
	return "/file/view/" + v.URLSegment() + "/" + uniqueKey
}

// Retrieve opens a stored file by id for download.
func (s *Service) Retrieve(ctx context.Context, id string) (*Download, error) {
	rec, err := s.lookup(ctx, "retrieve", func() (*Record, error) { return s.store.GetByID(ctx, id) })
	if err != nil {
		return nil, err
	}

	body, err := s.open(ctx, "retrieve", rec)
	if err != nil {
		return nil, err
	}

	operationsTotal.WithLabelValues("retrieve", "success").Inc()
	return &Download{
		Body:        body,
		ContentType: rec.ContentType,
		FileName:    rec.FileName(),
		Size:        rec.Size,
	}, nil
}

// RetrieveByUniqueKey opens a stored file by its public key within the given
// visibility namespace. Images are resized when spec is non-nil.
func (s *Service) RetrieveByUniqueKey(ctx context.Context, v Visibility, key string, spec *imaging.Spec) (*Download, error) {
	rec, err := s.lookup(ctx, "view", func() (*Record, error) { return s.store.FindByUniqueKey(ctx, key) })
	if err != nil {
		return nil, err
	}
	if rec.Visibility != v {
		operationsTotal.WithLabelValues("view", "not_found").Inc()
		return nil, ErrNotFound
	}

	body, err := s.open(ctx, "view", rec)
	if err != nil {
		return nil, err
	}

	d := &Download{
		Body:        body,
		ContentType: rec.ContentType,
		FileName:    rec.FileName(),
		Size:        rec.Size,
	}
	if spec == nil || !isImage(rec.ContentType) {
		operationsTotal.WithLabelValues("view", "success").Inc()
		return d, nil
	}

	defer body.Close()
	out, err := s.resizer.Resize(body, rec.Extension, *spec)
	if err != nil {
		operationsTotal.WithLabelValues("view", "resize_error").Inc()
		if canceled(ctx, err) {
			return nil, fmt.Errorf("%w: %w", ErrCanceled, cause(ctx, err))
		}
		return nil, err
	}

	operationsTotal.WithLabelValues("view", "success").Inc()
	d.Body = io.NopCloser(bytes.NewReader(out))
	d.Size = int64(len(out))
	return d, nil
}

// SoftDelete marks a file deleted. The blob is kept.
func (s *Service) SoftDelete(ctx context.Context, id string) (bool, error) {
	rec, err := s.store.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, ErrRecordNotFound) {
			return false, ErrNotFound
		}
		return false, s.lookupFailed(ctx, "delete", err)
	}
	if rec.Deleted {
		return false, ErrNotFound
	}

	now := s.now().UTC()
	rec.Deleted = true
	rec.DeletedAt = &now
	if err := s.store.Update(ctx, rec); err != nil {
		return false, s.lookupFailed(ctx, "delete", err)
	}

	operationsTotal.WithLabelValues("delete", "success").Inc()
	s.logger.Info("file soft-deleted", slog.String("file_id", id))
	return true, nil
}

// ListDeleted returns soft-deleted records for maintenance flows.
func (s *Service) ListDeleted(ctx context.Context) ([]*Record, error) {
	recs, err := s.store.FindByDeleted(ctx, true)
	if err != nil {
		return nil, s.lookupFailed(ctx, "list_deleted", err)
	}
	return recs, nil
}

// lookup fetches a record and hides anything not servable.
func (s *Service) lookup(ctx context.Context, op string, find func() (*Record, error)) (*Record, error) {
	rec, err := find()
	if err != nil {
		if errors.Is(err, ErrRecordNotFound) {
			operationsTotal.WithLabelValues(op, "not_found").Inc()
			return nil, ErrNotFound
		}
		return nil, s.lookupFailed(ctx, op, err)
	}
	if !rec.Servable() {
		operationsTotal.WithLabelValues(op, "not_found").Inc()
		return nil, ErrNotFound
	}
	return rec, nil
}

func (s *Service) open(ctx context.Context, op string, rec *Record) (io.ReadCloser, error) {
	backend, ok := s.backends[rec.StorageMode]
	if !ok {
		operationsTotal.WithLabelValues(op, "error").Inc()
		s.logger.Error("no backend for storage mode",
			slog.String("file_id", rec.ID),
			slog.String("storage_mode", string(rec.StorageMode)),
		)
		return nil, &storage.ReadError{Path: rec.Location().Path, Err: fmt.Errorf("storage mode %s not configured", rec.StorageMode)}
	}

	body, err := backend.Read(ctx, rec.Location())
	if err == nil {
		return body, nil
	}

	switch {
	case canceled(ctx, err):
		operationsTotal.WithLabelValues(op, "canceled").Inc()
		return nil, fmt.Errorf("%w: %w", ErrCanceled, cause(ctx, err))
	case errors.Is(err, storage.ErrNotFound):
		operationsTotal.WithLabelValues(op, "not_found").Inc()
		s.logger.Warn("blob missing for committed file",
			slog.String("file_id", rec.ID),
			slog.String("error", err.Error()),
		)
		return nil, ErrNotFound
	}

	operationsTotal.WithLabelValues(op, "error").Inc()
	s.logger.Error("could not read file",
		slog.String("file_id", rec.ID),
		slog.String("error", err.Error()),
	)
	return nil, err
}

func (s *Service) lookupFailed(ctx context.Context, op string, err error) error {
	if canceled(ctx, err) {
		operationsTotal.WithLabelValues(op, "canceled").Inc()
		return fmt.Errorf("%w: %w", ErrCanceled, cause(ctx, err))
	}
	operationsTotal.WithLabelValues(op, "error").Inc()
	s.logger.Error("metadata lookup failed", slog.String("operation", op), slog.String("error", err.Error()))
	return fmt.Errorf("%s: %w", op, err)
}

func canceled(ctx context.Context, err error) bool {
	return ctx.Err() != nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}

func cause(ctx context.Context, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	return err
}

func isImage(contentType string) bool {
	return strings.HasPrefix(strings.ToLower(contentType), "image/")
}
