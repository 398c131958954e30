// Package file stores, serves and soft-deletes uploaded files.
package file

import (
	"io"
	"strings"
	"time"

	"github.com/radif/filestore/internal/storage"
)

// Visibility controls which URL namespace a file is exposed under.
type Visibility string

const (
	Public  Visibility = "PUBLIC"
	Private Visibility = "PRIVATE"
)

// ParseVisibility accepts "public"/"private" in any case.
func ParseVisibility(s string) (Visibility, bool) {
	switch Visibility(strings.ToUpper(s)) {
	case Public:
		return Public, true
	case Private:
		return Private, true
	}
	return "", false
}

// URLSegment is the lower-case form used in view URLs.
func (v Visibility) URLSegment() string {
	return strings.ToLower(string(v))
}

// State tracks the two-phase write of a record.
type State string

const (
	// StatePending marks a placeholder whose blob is not confirmed yet. Never served.
	StatePending State = "pending"
	// StateCommitted marks a record whose blob write succeeded.
	StateCommitted State = "committed"
)

// Record is the durable metadata of an uploaded file.
type Record struct {
	ID          string
	Name        string
	Extension   string
	Size        int64
	ContentType string
	Visibility  Visibility
	TenantID    string
	Module      string

	StorageMode  storage.Mode
	State        State
	LocationPath *string
	Bucket       *string
	UniqueKey    *string
	ETag         *string

	Deleted   bool
	DeletedAt *time.Time
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Servable reports whether the record may be returned by retrieval paths.
func (r *Record) Servable() bool {
	return r.State == StateCommitted && !r.Deleted && r.LocationPath != nil
}

// Location returns the backend address of the record's blob.
func (r *Record) Location() storage.Location {
	var loc storage.Location
	if r.LocationPath != nil {
		loc.Path = *r.LocationPath
	}
	if r.Bucket != nil {
		loc.Bucket = *r.Bucket
	}
	return loc
}

// FileName is the download name: base name plus extension.
func (r *Record) FileName() string {
	return r.Name + r.Extension
}

// Descriptor is returned to clients after a successful upload.
type Descriptor struct {
	ID          string  `json:"id"          example:"e7eedc79-0707-4fe4-8734-526b7ef13a7b"`
	Name        string  `json:"name"        example:"invoice"`
	Size        int64   `json:"size"        example:"48213"`
	Extension   string  `json:"extension"   example:".pdf"`
	ContentType string  `json:"contentType" example:"application/pdf"`
	CreatedAt   string  `json:"createdAt"   example:"2026-02-27T14:48:34Z"`
	URL         *string `json:"url,omitempty" example:"/file/view/public/0cc175b9c0f1b6a831c399e269772661.pdf"`
}

// Upload is a single incoming file.
type Upload struct {
	Filename    string
	Size        int64
	ContentType string
	// Open returns the payload stream. It is called at most once.
	Open func() (io.ReadCloser, error)
}

// Target identifies where uploads go.
type Target struct {
	Visibility Visibility
	TenantID   string
	Module     string
}
