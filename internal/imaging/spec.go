package imaging

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// ErrInvalidSpec is returned for malformed resize parameters.
var ErrInvalidSpec = errors.New("invalid resize parameters")

const (
	maxPercent = 1000
	// MaxSide bounds each output side in pixels.
	MaxSide = 10000
	// MaxPixels bounds the output area, keeping the RGBA buffer under ~160 MiB.
	MaxPixels = 40_000_000
)

// Mode selects how a Spec is applied.
type Mode int

const (
	// ModeExact scales to Width x Height, ignoring aspect ratio.
	ModeExact Mode = iota
	// ModeWidth scales to Width, height follows the aspect ratio.
	ModeWidth
	// ModeHeight scales to Height, width follows the aspect ratio.
	ModeHeight
	// ModeFit scales so the longer source side matches its bound.
	ModeFit
	// ModePercent scales both sides by Percent.
	ModePercent
)

// Spec is a resize request.
type Spec struct {
	Mode    Mode
	Width   int
	Height  int
	Percent int
}

// ParseSpec builds a Spec from the view endpoint's query parameters.
//
//	dimensions=800x600    exact
//	dimensions=800x       width only
//	dimensions=x600       height only
//	dimensions=w:800,h:600  fit within the box
//	scale=50              percent
//
// It returns nil when both parameters are empty. Supplying both is an error.
func ParseSpec(dimensions, scale string) (*Spec, error) {
	dimensions = strings.TrimSpace(dimensions)
	scale = strings.TrimSpace(scale)

	switch {
	case dimensions == "" && scale == "":
		return nil, nil
	case dimensions != "" && scale != "":
		return nil, fmt.Errorf("%w: dimensions and scale are mutually exclusive", ErrInvalidSpec)
	case scale != "":
		p, err := positive(strings.TrimPrefix(strings.TrimSuffix(scale, "%"), "p:"))
		if err != nil {
			return nil, fmt.Errorf("%w: scale: %v", ErrInvalidSpec, err)
		}
		if p > maxPercent {
			return nil, fmt.Errorf("%w: scale must not exceed %d", ErrInvalidSpec, maxPercent)
		}
		return &Spec{Mode: ModePercent, Percent: p}, nil
	}

	if strings.Contains(dimensions, ":") {
		return parseUnits(dimensions)
	}

	w, h, ok := strings.Cut(strings.ToLower(dimensions), "x")
	if !ok {
		return nil, fmt.Errorf("%w: dimensions %q", ErrInvalidSpec, dimensions)
	}

	s := &Spec{}
	var err error
	switch {
	case w != "" && h != "":
		s.Mode = ModeExact
		if s.Width, err = positive(w); err == nil {
			s.Height, err = positive(h)
		}
	case w != "":
		s.Mode = ModeWidth
		s.Width, err = positive(w)
	case h != "":
		s.Mode = ModeHeight
		s.Height, err = positive(h)
	default:
		err = errors.New("empty")
	}
	if err != nil {
		return nil, fmt.Errorf("%w: dimensions %q: %v", ErrInvalidSpec, dimensions, err)
	}
	return s, nil
}

// parseUnits handles the "w:800,h:600" form; unit keys are w, h and p.
func parseUnits(dimensions string) (*Spec, error) {
	s := &Spec{}
	for _, part := range strings.Split(dimensions, ",") {
		unit, val, ok := strings.Cut(strings.TrimSpace(part), ":")
		if !ok {
			return nil, fmt.Errorf("%w: dimensions %q", ErrInvalidSpec, dimensions)
		}
		n, err := positive(val)
		if err != nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrInvalidSpec, unit, err)
		}
		switch strings.ToLower(unit) {
		case "w":
			s.Width = n
		case "h":
			s.Height = n
		case "p":
			if n > maxPercent {
				return nil, fmt.Errorf("%w: percent must not exceed %d", ErrInvalidSpec, maxPercent)
			}
			s.Percent = n
		default:
			return nil, fmt.Errorf("%w: unknown unit %q", ErrInvalidSpec, unit)
		}
	}

	switch {
	case s.Percent > 0 && (s.Width > 0 || s.Height > 0):
		return nil, fmt.Errorf("%w: percent cannot be combined with width or height", ErrInvalidSpec)
	case s.Percent > 0:
		s.Mode = ModePercent
	case s.Width > 0 && s.Height > 0:
		s.Mode = ModeFit
	case s.Width > 0:
		s.Mode = ModeWidth
	default:
		s.Mode = ModeHeight
	}
	return s, nil
}

// Target computes output dimensions for a srcW x srcH image. Derived sides are
// truncated toward zero but never drop below one pixel. It fails with
// ErrInvalidSpec when a side exceeds MaxSide or the area exceeds MaxPixels.
func (s Spec) Target(srcW, srcH int) (int, int, error) {
	sw, sh := int64(srcW), int64(srcH)
	if sw <= 0 || sh <= 0 {
		return 0, 0, fmt.Errorf("%w: source is %dx%d", ErrInvalidSpec, srcW, srcH)
	}

	var w, h int64
	switch s.Mode {
	case ModeExact:
		w, h = int64(s.Width), int64(s.Height)
	case ModeWidth:
		w, h = int64(s.Width), sh*int64(s.Width)/sw
	case ModeHeight:
		w, h = sw*int64(s.Height)/sh, int64(s.Height)
	case ModeFit:
		if sh > sw {
			w, h = sw*int64(s.Height)/sh, int64(s.Height)
		} else {
			w, h = int64(s.Width), sh*int64(s.Width)/sw
		}
	case ModePercent:
		w, h = sw*int64(s.Percent)/100, sh*int64(s.Percent)/100
	}
	w, h = max(w, 1), max(h, 1)

	if w > MaxSide || h > MaxSide {
		return 0, 0, fmt.Errorf("%w: %dx%d exceeds %d pixels per side", ErrInvalidSpec, w, h, MaxSide)
	}
	if w*h > MaxPixels {
		return 0, 0, fmt.Errorf("%w: %dx%d exceeds %d pixels", ErrInvalidSpec, w, h, MaxPixels)
	}
	return int(w), int(h), nil
}

// positive parses a side length in 1..MaxSide or a percent.
func positive(s string) (int, error) {
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return 0, fmt.Errorf("not a number: %q", s)
	}
	if n <= 0 {
		return 0, fmt.Errorf("must be positive: %d", n)
	}
	if n > MaxSide {
		return 0, fmt.Errorf("must not exceed %d: %d", MaxSide, n)
	}
	return n, nil
}
