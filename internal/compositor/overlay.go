// Package compositor renders wrapped captions onto images.
package compositor

import (
	"fmt"
	"image"
	"image/color"
	"image/draw"

	"golang.org/x/image/font"
	"golang.org/x/image/math/fixed"

	"memegen/internal/domain"
	"memegen/internal/layout"
)

// Padding is the gap in pixels between the text block and the edge of the
// backing rectangle.
const Padding = 10

var (
	backingColor = color.NRGBA{R: 0, G: 0, B: 0, A: 128}
	textColor    = color.NRGBA{R: 255, G: 255, B: 255, A: 255}
)

// Compositor draws captions. Each Overlay call works on its own face, so
// concurrent jobs render in parallel.
type Compositor struct {
	faces FaceFunc
}

// New shares face across all Overlay calls. face must be safe for concurrent
// use, as the fixed bitmap faces in basicfont are.
func New(face font.Face) *Compositor {
	return &Compositor{faces: func() (font.Face, error) { return face, nil }}
}

// NewWithFaces builds a compositor that asks faces for a new face per call.
func NewWithFaces(faces FaceFunc) *Compositor {
	return &Compositor{faces: faces}
}

// NewDefault builds a compositor using Go Regular at size pixels.
func NewDefault(size float64) (*Compositor, error) {
	faces, err := GoRegularFaces(size)
	if err != nil {
		return nil, err
	}
	return NewWithFaces(faces), nil
}

// Overlay returns a new opaque image with text wrapped to the width of src,
// centered on a translucent backing rectangle. src is not modified.
func (c *Compositor) Overlay(src image.Image, text string) (*image.RGBA, error) {
	if src == nil {
		return nil, fmt.Errorf("compositor: %w: nil image", domain.ErrInvalidImage)
	}
	bounds := src.Bounds()
	if bounds.Empty() {
		return nil, fmt.Errorf("compositor: %w: empty bounds", domain.ErrInvalidImage)
	}

	face, err := c.faces()
	if err != nil {
		return nil, err
	}
	metrics := FaceMetrics{Face: face}

	canvas := copyNRGBA(src)
	size := canvas.Bounds().Size()
	block := layout.Wrap(text, size.X, metrics)
	origin := Place(size, block)

	draw.Draw(canvas, Backing(origin, block), image.NewUniform(backingColor), image.Point{}, draw.Over)

	drawer := &font.Drawer{Dst: canvas, Src: image.NewUniform(textColor), Face: face}
	lineHeight := metrics.LineHeight()
	ascent := metrics.Ascent()
	for i, line := range block.Lines {
		if line == "" {
			continue
		}
		x := origin.X + (block.Width-metrics.Measure(line))/2
		y := origin.Y + i*(lineHeight+layout.LineSpacing) + ascent
		drawer.Dot = fixed.P(x, y)
		drawer.DrawString(line)
	}

	return flatten(canvas), nil
}

// Place returns the top-left corner that centers block within size.
func Place(size image.Point, block layout.Result) image.Point {
	return image.Point{
		X: floorDiv(size.X-block.Width, 2),
		Y: floorDiv(size.Y-block.Height, 2),
	}
}

// Backing returns the rectangle drawn behind a block placed at origin. Both
// padded corners are covered.
func Backing(origin image.Point, block layout.Result) image.Rectangle {
	return image.Rect(
		origin.X-Padding,
		origin.Y-Padding,
		origin.X+block.Width+Padding+1,
		origin.Y+block.Height+Padding+1,
	)
}

func floorDiv(a, b int) int {
	q := a / b
	if (a%b != 0) && ((a < 0) != (b < 0)) {
		q--
	}
	return q
}

// copyNRGBA keeps color channels intact under zero alpha so flatten can
// reveal them.
func copyNRGBA(src image.Image) *image.NRGBA {
	b := src.Bounds()
	dst := image.NewNRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	if s, ok := src.(*image.NRGBA); ok {
		for y := 0; y < b.Dy(); y++ {
			from := s.PixOffset(b.Min.X, b.Min.Y+y)
			copy(dst.Pix[y*dst.Stride:y*dst.Stride+b.Dx()*4], s.Pix[from:from+b.Dx()*4])
		}
		return dst
	}
	for y := 0; y < b.Dy(); y++ {
		for x := 0; x < b.Dx(); x++ {
			dst.Set(x, y, src.At(b.Min.X+x, b.Min.Y+y))
		}
	}
	return dst
}

// flatten drops the alpha channel, keeping straight color values.
func flatten(src *image.NRGBA) *image.RGBA {
	dst := image.NewRGBA(src.Bounds())
	for i := 0; i+3 < len(src.Pix); i += 4 {
		dst.Pix[i] = src.Pix[i]
		dst.Pix[i+1] = src.Pix[i+1]
		dst.Pix[i+2] = src.Pix[i+2]
		dst.Pix[i+3] = 0xff
	}
	return dst
}
