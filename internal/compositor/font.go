package compositor

import (
	"fmt"

	"golang.org/x/image/font"
	"golang.org/x/image/font/gofont/goregular"
	"golang.org/x/image/font/opentype"
)

// DefaultFontSize matches the caption size used for rendered memes.
const DefaultFontSize = 45

// FaceMetrics adapts a font.Face to layout.Metrics.
type FaceMetrics struct {
	Face font.Face
}

// Measure returns the advance width of s rounded up to whole pixels.
func (m FaceMetrics) Measure(s string) int {
	return font.MeasureString(m.Face, s).Ceil()
}

// LineHeight returns ascent plus descent rounded up to whole pixels.
func (m FaceMetrics) LineHeight() int {
	metrics := m.Face.Metrics()
	return (metrics.Ascent + metrics.Descent).Ceil()
}

// Ascent returns the distance from the top of a line to its baseline.
func (m FaceMetrics) Ascent() int {
	return m.Face.Metrics().Ascent.Ceil()
}

// FaceFunc returns a face owned by a single caller.
type FaceFunc func() (font.Face, error)

// GoRegularFaces parses the bundled Go Regular font once and returns a
// FaceFunc that builds a fresh face at size pixels on every call. The parsed
// font is shared; each face carries its own glyph buffers.
func GoRegularFaces(size float64) (FaceFunc, error) {
	if size <= 0 {
		size = DefaultFontSize
	}
	parsed, err := opentype.Parse(goregular.TTF)
	if err != nil {
		return nil, fmt.Errorf("compositor: parse font: %w", err)
	}
	opts := &opentype.FaceOptions{
		Size:    size,
		DPI:     72,
		Hinting: font.HintingNone,
	}
	faces := func() (font.Face, error) {
		face, err := opentype.NewFace(parsed, opts)
		if err != nil {
			return nil, fmt.Errorf("compositor: new face: %w", err)
		}
		return face, nil
	}
	if _, err := faces(); err != nil {
		return nil, err
	}
	return faces, nil
}

// NewGoRegularFace loads the bundled Go Regular font at size pixels.
func NewGoRegularFace(size float64) (font.Face, error) {
	faces, err := GoRegularFaces(size)
	if err != nil {
		return nil, err
	}
	return faces()
}
