// Package filekey derives storage paths and public unique keys for uploaded files.
package filekey

import (
	"crypto/md5"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"
)

// DefaultTemplate groups uploads by UTC upload date.
const DefaultTemplate = "{YYYY}/{MM}/{DD}/"

// ErrInvalidPath is returned when a derived path is unsafe or malformed.
var ErrInvalidPath = errors.New("invalid storage path")

// Deriver turns tenant/module/date context into storage paths.
type Deriver struct {
	template string
	now      func() time.Time
}

// New creates a Deriver for template. An empty template falls back to DefaultTemplate.
// now may be nil, in which case time.Now is used.
func New(template string, now func() time.Time) *Deriver {
	if template == "" {
		template = DefaultTemplate
	}
	if now == nil {
		now = time.Now
	}
	return &Deriver{template: template, now: now}
}

// Path composes "<visibility>/<tenantID>/<MODULE>/<expanded template>" using the current UTC date.
func (d *Deriver) Path(visibility, tenantID, module string) (string, error) {
	return DerivePath(visibility, tenantID, module, d.now(), d.template)
}

// DerivePath composes "<visibility>/<tenantID>/<MODULE>/<expanded template>".
// The result never contains "..".
func DerivePath(visibility, tenantID, module string, when time.Time, template string) (string, error) {
	if tenantID == "" || module == "" {
		return "", fmt.Errorf("%w: tenant and module are required", ErrInvalidPath)
	}
	if template == "" {
		template = DefaultTemplate
	}

	var b strings.Builder
	b.WriteString(visibility)
	b.WriteByte('/')
	b.WriteString(tenantID)
	b.WriteByte('/')
	b.WriteString(strings.ToUpper(module))
	b.WriteByte('/')
	b.WriteString(ExpandTemplate(template, when))

	p := b.String()
	if strings.Contains(p, "..") {
		return "", fmt.Errorf("%w: path contains parent directory sequence", ErrInvalidPath)
	}
	if strings.ContainsRune(p, '\\') || strings.ContainsRune(p, 0) {
		return "", fmt.Errorf("%w: path contains forbidden characters", ErrInvalidPath)
	}
	return p, nil
}

// ExpandTemplate substitutes {YYYY}, {MM} and {DD} with the UTC date of when.
func ExpandTemplate(template string, when time.Time) string {
	when = when.UTC()
	r := strings.NewReplacer(
		"{YYYY}", fmt.Sprintf("%04d", when.Year()),
		"{MM}", fmt.Sprintf("%02d", int(when.Month())),
		"{DD}", fmt.Sprintf("%02d", when.Day()),
	)
	return r.Replace(template)
}

// UniqueKey returns the public token for a file: hex MD5 of id followed by ext.
// ext is expected to carry its leading dot (".png"); a missing dot is added.
func UniqueKey(id, ext string) string {
	sum := md5.Sum([]byte(id))
	key := hex.EncodeToString(sum[:])
	if ext == "" {
		return key
	}
	if !strings.HasPrefix(ext, ".") {
		ext = "." + ext
	}
	return key + ext
}

// SplitName splits filename into base name and extension (with dot).
// Directory components are dropped.
func SplitName(filename string) (base, ext string) {
	if i := strings.LastIndexAny(filename, `/\`); i >= 0 {
		filename = filename[i+1:]
	}
	i := strings.LastIndexByte(filename, '.')
	if i <= 0 {
		return filename, ""
	}
	return filename[:i], filename[i:]
}

// IsImageExt reports whether ext belongs to the image subtree on local disk.
func IsImageExt(ext string) bool {
	switch strings.ToLower(strings.TrimPrefix(ext, ".")) {
	case "jpg", "jpeg", "png":
		return true
	}
	return false
}
