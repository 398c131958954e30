package file

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"mime/multipart"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/radif/filestore/internal/imaging"
	"github.com/radif/filestore/internal/response"
	"github.com/radif/filestore/internal/storage"
)

// multipartMemory is how much of a multipart body is kept in memory; the rest
// spills to temp files.
const multipartMemory = 8 << 20

// Handler holds HTTP handlers for file endpoints.
type Handler struct {
	svc           *Service
	maxUploadSize int64
	logger        *slog.Logger
}

// NewHandler creates a new file Handler.
func NewHandler(svc *Service, maxUploadSize int64, logger *slog.Logger) *Handler {
	return &Handler{
		svc:           svc,
		maxUploadSize: maxUploadSize,
		logger:        logger.With(slog.String("component", "file_handler")),
	}
}

// Routes mounts the file endpoints on r.
func (h *Handler) Routes(r chi.Router) {
	r.Post("/upload/{visibility}", h.Upload)
	r.Post("/multiple-upload/{visibility}", h.UploadMultiple)
	r.Get("/download/{fileId}", h.Download)
	r.Get("/view/{visibility}/{uniqueKey}", h.View)
	r.Delete("/{fileId}", h.Delete)
}

type deleteData struct {
	Deleted bool `json:"deleted" example:"true"`
}

// Upload godoc
//
//	@Summary		Upload a file
//	@Description	Store a single file for a tenant/module under the public or private namespace.
//	@Tags			files
//	@Accept			multipart/form-data
//	@Produce		json
//	@Param			visibility	path		string	true	"public or private"
//	@Param			tenantId	query		string	true	"Tenant identifier"
//	@Param			module		query		string	true	"Owning module"
//	@Param			file		formData	file	true	"File to upload"
//	@Success		201			{object}	response.Envelope{data=Descriptor}
//	@Failure		400			{object}	response.Envelope
//	@Failure		413			{object}	response.Envelope
//	@Failure		500			{object}	response.Envelope
//	@Router			/file/upload/{visibility} [post]
func (h *Handler) Upload(w http.ResponseWriter, r *http.Request) {
	target, ok := h.target(w, r)
	if !ok {
		return
	}
	form, ok := h.parseForm(w, r)
	if !ok {
		return
	}

	headers := form.File["file"]
	if len(headers) != 1 {
		response.BadRequest(w, "exactly one file is required in field \"file\"")
		return
	}

	d, err := h.svc.SaveFile(r.Context(), toUpload(headers[0]), target)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	response.Created(w, d)
}

// UploadMultiple godoc
//
//	@Summary		Upload several files
//	@Description	Store every file or none of the descriptors are returned. Descriptors keep request order.
//	@Tags			files
//	@Accept			multipart/form-data
//	@Produce		json
//	@Param			visibility	path		string	true	"public or private"
//	@Param			tenantId	query		string	true	"Tenant identifier"
//	@Param			module		query		string	true	"Owning module"
//	@Param			files		formData	file	true	"Files to upload"
//	@Success		201			{object}	response.Envelope{data=[]Descriptor}
//	@Failure		400			{object}	response.Envelope
//	@Failure		413			{object}	response.Envelope
//	@Failure		500			{object}	response.Envelope
//	@Router			/file/multiple-upload/{visibility} [post]
func (h *Handler) UploadMultiple(w http.ResponseWriter, r *http.Request) {
	target, ok := h.target(w, r)
	if !ok {
		return
	}
	form, ok := h.parseForm(w, r)
	if !ok {
		return
	}

	headers := form.File["files"]
	if len(headers) == 0 {
		response.BadRequest(w, "at least one file is required in field \"files\"")
		return
	}

	uploads := make([]Upload, len(headers))
	for i, fh := range headers {
		uploads[i] = toUpload(fh)
	}

	ds, err := h.svc.SaveMultiple(r.Context(), uploads, target)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	response.Created(w, ds)
}

// Download godoc
//
//	@Summary		Download a file
//	@Description	Stream a stored file by id as an attachment.
//	@Tags			files
//	@Produce		octet-stream
//	@Param			fileId	path		string	true	"File id"
//	@Success		200		{file}		binary
//	@Failure		404		{object}	response.Envelope
//	@Failure		500		{object}	response.Envelope
//	@Router			/file/download/{fileId} [get]
func (h *Handler) Download(w http.ResponseWriter, r *http.Request) {
	d, err := h.svc.Retrieve(r.Context(), chi.URLParam(r, "fileId"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	defer d.Body.Close()

	w.Header().Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": d.FileName}))
	h.stream(w, r, d)
}

// View godoc
//
//	@Summary		View a file by unique key
//	@Description	Stream a file by its public key. Images can be resized with dimensions (800x600, 800x, x600, w:800,h:600) or scale (percent).
//	@Tags			files
//	@Produce		octet-stream
//	@Param			visibility	path		string	true	"public or private"
//	@Param			uniqueKey	path		string	true	"Unique key from the upload descriptor"
//	@Param			dimensions	query		string	false	"Target size"
//	@Param			scale		query		string	false	"Percent"
//	@Success		200			{file}		binary
//	@Failure		400			{object}	response.Envelope
//	@Failure		404			{object}	response.Envelope
//	@Failure		415			{object}	response.Envelope
//	@Failure		422			{object}	response.Envelope
//	@Router			/file/view/{visibility}/{uniqueKey} [get]
func (h *Handler) View(w http.ResponseWriter, r *http.Request) {
	v, ok := ParseVisibility(chi.URLParam(r, "visibility"))
	if !ok {
		response.NotFound(w, "file not found")
		return
	}

	q := r.URL.Query()
	spec, err := imaging.ParseSpec(q.Get("dimensions"), q.Get("scale"))
	if err != nil {
		response.BadRequest(w, err.Error())
		return
	}

	d, err := h.svc.RetrieveByUniqueKey(r.Context(), v, chi.URLParam(r, "uniqueKey"), spec)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	defer d.Body.Close()

	w.Header().Set("Content-Disposition", mime.FormatMediaType("inline", map[string]string{"filename": d.FileName}))
	h.stream(w, r, d)
}

// Delete godoc
//
//	@Summary		Delete a file
//	@Description	Soft-delete a file. The stored bytes are kept; the file stops resolving.
//	@Tags			files
//	@Produce		json
//	@Param			fileId	path		string	true	"File id"
//	@Success		200		{object}	response.Envelope{data=deleteData}
//	@Failure		404		{object}	response.Envelope
//	@Failure		500		{object}	response.Envelope
//	@Router			/file/{fileId} [delete]
func (h *Handler) Delete(w http.ResponseWriter, r *http.Request) {
	ok, err := h.svc.SoftDelete(r.Context(), chi.URLParam(r, "fileId"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	response.OK(w, deleteData{Deleted: ok})
}

func (h *Handler) target(w http.ResponseWriter, r *http.Request) (Target, bool) {
	v, ok := ParseVisibility(chi.URLParam(r, "visibility"))
	if !ok {
		response.BadRequest(w, "visibility must be public or private")
		return Target{}, false
	}

	q := r.URL.Query()
	t := Target{Visibility: v, TenantID: q.Get("tenantId"), Module: q.Get("module")}
	if t.TenantID == "" || t.Module == "" {
		response.BadRequest(w, "tenantId and module are required")
		return Target{}, false
	}
	return t, true
}

func (h *Handler) parseForm(w http.ResponseWriter, r *http.Request) (*multipart.Form, bool) {
	r.Body = http.MaxBytesReader(w, r.Body, h.maxUploadSize)
	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			response.RequestTooLarge(w, fmt.Sprintf("request exceeds %d bytes", h.maxUploadSize))
			return nil, false
		}
		response.BadRequest(w, "invalid multipart form")
		return nil, false
	}
	return r.MultipartForm, true
}

func (h *Handler) stream(w http.ResponseWriter, r *http.Request, d *Download) {
	w.Header().Set("Content-Type", d.ContentType)
	if d.Size >= 0 {
		w.Header().Set("Content-Length", strconv.FormatInt(d.Size, 10))
	}
	w.WriteHeader(http.StatusOK)

	if _, err := io.Copy(w, d.Body); err != nil {
		h.logger.Warn("stream interrupted",
			slog.String("path", r.URL.Path),
			slog.String("error", err.Error()),
		)
	}
}

// writeError maps service errors to HTTP responses without leaking internals.
func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	var (
		storeErr  *StorageError
		decodeErr *imaging.DecodeError
		readErr   *storage.ReadError
	)

	switch {
	case errors.Is(err, ErrEmptyFile):
		response.BadRequest(w, "file is empty")
	case errors.Is(err, ErrValidation):
		response.BadRequest(w, "invalid tenant, module or file name")
	case errors.Is(err, imaging.ErrInvalidSpec):
		response.BadRequest(w, err.Error())
	case errors.Is(err, ErrNotFound):
		response.NotFound(w, "file not found")
	case errors.Is(err, ErrCanceled):
		response.RequestTimeout(w, "request canceled")
	case errors.Is(err, imaging.ErrUnsupportedFormat):
		response.UnsupportedMediaType(w, "image format not supported for resizing")
	case errors.As(err, &decodeErr):
		response.UnprocessableEntity(w, "stored image could not be decoded")
	case errors.As(err, &storeErr):
		response.InternalError(w, storeErr.Message)
	case errors.As(err, &readErr):
		response.InternalError(w, "could not read file, please try again")
	default:
		h.logger.Error("unhandled error",
			slog.String("path", r.URL.Path),
			slog.String("error", err.Error()),
		)
		response.InternalError(w, "internal server error")
	}
}

func toUpload(fh *multipart.FileHeader) Upload {
	return Upload{
		Filename:    fh.Filename,
		Size:        fh.Size,
		ContentType: fh.Header.Get("Content-Type"),
		Open: func() (io.ReadCloser, error) {
			return fh.Open()
		},
	}
}
