package vision

import (
	"fmt"
	"image"
	"image/color"
	"image/draw"

	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
)

// Renderer draws detector overlays onto a frame in place.
type Renderer interface {
	Render(dst *image.RGBA, dets []Detection)
}

// classColors is the overlay palette, indexed by class id.
var classColors = []color.RGBA{
	{R: 255, G: 56, B: 56, A: 255},
	{R: 255, G: 157, B: 151, A: 255},
	{R: 255, G: 112, B: 31, A: 255},
	{R: 255, G: 178, B: 29, A: 255},
	{R: 207, G: 210, B: 49, A: 255},
	{R: 72, G: 249, B: 10, A: 255},
	{R: 0, G: 212, B: 187, A: 255},
	{R: 0, G: 194, B: 255, A: 255},
}

// BoxRenderer draws a rectangle and a "<label> <conf>" tag for each detection.
type BoxRenderer struct {
	Thickness int
	Face      font.Face
}

// NewBoxRenderer returns a renderer using the built-in 7x13 bitmap font.
func NewBoxRenderer() *BoxRenderer {
	return &BoxRenderer{Thickness: 3, Face: basicfont.Face7x13}
}

func (r *BoxRenderer) Render(dst *image.RGBA, dets []Detection) {
	thickness := r.Thickness
	if thickness <= 0 {
		thickness = 1
	}
	face := r.Face
	if face == nil {
		face = basicfont.Face7x13
	}
	bounds := dst.Bounds()

	type tag struct {
		rect image.Rectangle
		clr  color.RGBA
		text string
		dot  fixed.Point26_6
	}
	tags := make([]tag, 0, len(dets))

	for _, d := range dets {
		clr := classColors[colorIndex(d.ClassID)]
		box := image.Rect(int(d.BBox[0]), int(d.BBox[1]), int(d.BBox[2]), int(d.BBox[3])).Intersect(bounds)
		if box.Empty() {
			continue
		}
		strokeRect(dst, box, clr, thickness)

		text := fmt.Sprintf("%s %.2f", d.Label, d.Confidence)
		metrics := face.Metrics()
		textW := font.MeasureString(face, text).Ceil()
		textH := (metrics.Ascent + metrics.Descent).Ceil()

		top := box.Min.Y - textH - 4
		if top < bounds.Min.Y {
			top = box.Min.Y
		}
		rect := image.Rect(box.Min.X, top, box.Min.X+textW+6, top+textH+4)
		tags = append(tags, tag{
			rect: rect,
			clr:  clr,
			text: text,
			dot:  fixed.P(rect.Min.X+3, rect.Min.Y+2+metrics.Ascent.Ceil()),
		})
	}

	// labels go last so boxes never cover them
	for _, t := range tags {
		draw.Draw(dst, t.rect.Intersect(bounds), image.NewUniform(t.clr), image.Point{}, draw.Src)
		d := font.Drawer{
			Dst:  dst,
			Src:  image.NewUniform(color.White),
			Face: face,
			Dot:  t.dot,
		}
		d.DrawString(t.text)
	}
}

func colorIndex(classID int) int {
	if classID < 0 {
		classID = -classID
	}
	return classID % len(classColors)
}

func strokeRect(dst *image.RGBA, r image.Rectangle, clr color.RGBA, thickness int) {
	src := image.NewUniform(clr)
	edges := []image.Rectangle{
		image.Rect(r.Min.X, r.Min.Y, r.Max.X, r.Min.Y+thickness),
		image.Rect(r.Min.X, r.Max.Y-thickness, r.Max.X, r.Max.Y),
		image.Rect(r.Min.X, r.Min.Y, r.Min.X+thickness, r.Max.Y),
		image.Rect(r.Max.X-thickness, r.Min.Y, r.Max.X, r.Max.Y),
	}
	for _, e := range edges {
		draw.Draw(dst, e.Intersect(r), src, image.Point{}, draw.Src)
	}
}
