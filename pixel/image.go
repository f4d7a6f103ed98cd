package pixel

import (
	"image"
	"image/color"
)

// Image is an RGB image stored as one Color per pixel.
//
// Rows are contiguous so that a full-width region can be pushed to the
// display without copying.
type Image struct {
	Pix    []Color         // Pixel data, row major
	Stride int             // Colors per row
	Rect   image.Rectangle // Image bounds
}

// NewImage creates a new Image with the specified bounds.
func NewImage(r image.Rectangle) *Image {
	w, h := r.Dx(), r.Dy()
	if w <= 0 || h <= 0 {
		return &Image{Rect: r}
	}
	return &Image{
		Pix:    make([]Color, w*h),
		Stride: w,
		Rect:   r,
	}
}

// ColorModel returns the color model of the image.
func (p *Image) ColorModel() color.Model {
	return Model
}

// Bounds returns the image bounds.
func (p *Image) Bounds() image.Rectangle {
	return p.Rect
}

// At implements image.Image.
func (p *Image) At(x, y int) color.Color {
	return p.ColorAt(x, y)
}

// ColorAt returns the Color of the pixel at (x, y).
func (p *Image) ColorAt(x, y int) Color {
	if !(image.Point{X: x, Y: y}.In(p.Rect)) {
		return Color{}
	}
	return p.Pix[p.PixOffset(x, y)]
}

// Set implements draw.Image.
func (p *Image) Set(x, y int, c color.Color) {
	p.SetColor(x, y, Model.Convert(c).(Color))
}

// SetColor sets the pixel at (x, y) without color conversion.
func (p *Image) SetColor(x, y int, c Color) {
	if !(image.Point{X: x, Y: y}.In(p.Rect)) {
		return
	}
	p.Pix[p.PixOffset(x, y)] = c
}

// PixOffset returns the index of the pixel at (x, y) in Pix.
func (p *Image) PixOffset(x, y int) int {
	return (y-p.Rect.Min.Y)*p.Stride + (x - p.Rect.Min.X)
}

// Row returns the pixels of row y between x0 (inclusive) and x1 (exclusive).
// The returned slice aliases Pix.
func (p *Image) Row(y, x0, x1 int) []Color {
	start := p.PixOffset(x0, y)
	return p.Pix[start : start+(x1-x0)]
}
