// Package imaging resizes stored images on the way out.
package imaging

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/gif"
	"image/jpeg"
	"image/png"
	"io"
	"log/slog"
	"strings"

	"golang.org/x/image/bmp"
	"golang.org/x/image/draw"
	"golang.org/x/image/tiff"
)

// ErrUnsupportedFormat is returned when the output format is not in the allow-list.
var ErrUnsupportedFormat = errors.New("unsupported image format")

// DecodeError reports a corrupt or unreadable source image.
type DecodeError struct {
	Err error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("decode image: %v", e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }

// Format is a supported image encoding.
type Format string

const (
	PNG  Format = "png"
	JPEG Format = "jpeg"
	GIF  Format = "gif"
	BMP  Format = "bmp"
	TIFF Format = "tiff"
)

// FormatFromExt maps a file extension (with or without dot) to a Format.
func FormatFromExt(ext string) (Format, error) {
	switch strings.ToLower(strings.TrimPrefix(ext, ".")) {
	case "png":
		return PNG, nil
	case "jpg", "jpeg":
		return JPEG, nil
	case "gif":
		return GIF, nil
	case "bmp":
		return BMP, nil
	case "tif", "tiff":
		return TIFF, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnsupportedFormat, ext)
}

// Codec decodes and encodes bitmaps.
type Codec interface {
	Decode(r io.Reader) (image.Image, error)
	Encode(w io.Writer, img image.Image, f Format) error
}

// StdCodec implements Codec with the standard library and golang.org/x/image.
type StdCodec struct{}

// Decode implements Codec. Formats are detected from the stream header.
func (StdCodec) Decode(r io.Reader) (image.Image, error) {
	img, _, err := image.Decode(r)
	return img, err
}

// Encode implements Codec.
func (StdCodec) Encode(w io.Writer, img image.Image, f Format) error {
	switch f {
	case PNG:
		return png.Encode(w, img)
	case JPEG:
		return jpeg.Encode(w, img, &jpeg.Options{Quality: 90})
	case GIF:
		return gif.Encode(w, img, nil)
	case BMP:
		return bmp.Encode(w, img)
	case TIFF:
		return tiff.Encode(w, img, &tiff.Options{Compression: tiff.Deflate})
	}
	return fmt.Errorf("%w: %q", ErrUnsupportedFormat, f)
}

// Resizer decodes, scales and re-encodes images.
type Resizer struct {
	codec  Codec
	scaler draw.Scaler
	logger *slog.Logger
}

// NewResizer creates a Resizer. A nil codec selects StdCodec.
func NewResizer(codec Codec, logger *slog.Logger) *Resizer {
	if codec == nil {
		codec = StdCodec{}
	}
	return &Resizer{
		codec:  codec,
		scaler: draw.CatmullRom,
		logger: logger.With(slog.String("component", "image_resizer")),
	}
}

// Resize reads an image from r and returns it scaled per spec, encoded in the
// format that ext names. The format is checked before any decoding work.
func (z *Resizer) Resize(r io.Reader, ext string, spec Spec) ([]byte, error) {
	format, err := FormatFromExt(ext)
	if err != nil {
		return nil, err
	}

	src, err := z.codec.Decode(r)
	if err != nil {
		return nil, &DecodeError{Err: err}
	}

	b := src.Bounds()
	if b.Dx() == 0 || b.Dy() == 0 {
		return nil, &DecodeError{Err: errors.New("image has no pixels")}
	}

	w, h, err := spec.Target(b.Dx(), b.Dy())
	if err != nil {
		return nil, err
	}
	dst := image.NewRGBA(image.Rect(0, 0, w, h))
	z.scaler.Scale(dst, dst.Bounds(), src, b, draw.Over, nil)

	var buf bytes.Buffer
	if err := z.codec.Encode(&buf, dst, format); err != nil {
		return nil, fmt.Errorf("encode %s: %w", format, err)
	}

	z.logger.Debug("image resized",
		slog.Int("src_width", b.Dx()),
		slog.Int("src_height", b.Dy()),
		slog.Int("width", w),
		slog.Int("height", h),
		slog.String("format", string(format)),
	)

	return buf.Bytes(), nil
}
