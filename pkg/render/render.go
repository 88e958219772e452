// Package render draws recognition results onto frames and streams them as
// raw BGR24 video for a downstream player.
package render

import (
	"bufio"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"io"

	"github.com/xanthein/cvservice/pkg/recognition"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
)

// Overlay colors.
var (
	BoxColor   = color.RGBA{255, 255, 255, 255}
	LabelColor = color.RGBA{0, 255, 0, 255}
)

const boxThickness = 2

// Annotation is one face to draw.
type Annotation struct {
	Box image.Rectangle
	ID  int32
}

// Label returns the overlay text for a face.
func (a Annotation) Label() string {
	if a.ID > 0 {
		return fmt.Sprintf("Person: %d", a.ID)
	}
	return recognition.UnknownLabel
}

// Renderer writes annotated frames to an output stream.
type Renderer struct {
	w    *bufio.Writer
	face font.Face
	row  []byte
}

// NewRenderer streams frames to w (normally stdout).
func NewRenderer(w io.Writer) *Renderer {
	return &Renderer{
		w:    bufio.NewWriter(w),
		face: basicfont.Face7x13,
	}
}

// Render draws faces onto a copy of frame and writes it as headerless BGR24
// rows, flushing once the frame is complete.
func (r *Renderer) Render(frame *image.RGBA, faces []Annotation) error {
	out := Annotate(frame, faces, r.face)
	return r.writeBGR(out)
}

// Annotate returns a copy of frame with boxes and labels drawn in.
func Annotate(frame *image.RGBA, faces []Annotation, face font.Face) *image.RGBA {
	b := frame.Bounds()
	out := image.NewRGBA(b)
	draw.Draw(out, b, frame, b.Min, draw.Src)

	for _, f := range faces {
		box := f.Box.Intersect(b)
		if box.Empty() {
			continue
		}
		drawBox(out, box)
		drawLabel(out, box, f.Label(), face)
	}
	return out
}

func drawBox(img *image.RGBA, box image.Rectangle) {
	c := image.NewUniform(BoxColor)
	t := boxThickness
	edges := []image.Rectangle{
		image.Rect(box.Min.X, box.Min.Y, box.Max.X, box.Min.Y+t),
		image.Rect(box.Min.X, box.Max.Y-t, box.Max.X, box.Max.Y),
		image.Rect(box.Min.X, box.Min.Y, box.Min.X+t, box.Max.Y),
		image.Rect(box.Max.X-t, box.Min.Y, box.Max.X, box.Max.Y),
	}
	for _, e := range edges {
		draw.Draw(img, e.Intersect(box), c, image.Point{}, draw.Src)
	}
}

// drawLabel centres text horizontally over the box with its baseline just
// above the top edge.
func drawLabel(img *image.RGBA, box image.Rectangle, text string, face font.Face) {
	d := &font.Drawer{
		Dst:  img,
		Src:  image.NewUniform(LabelColor),
		Face: face,
	}
	width := d.MeasureString(text).Ceil()
	x := box.Min.X + box.Dx()/2 - width/2
	d.Dot = fixed.P(x, box.Min.Y-2)
	d.DrawString(text)
}

func (r *Renderer) writeBGR(img *image.RGBA) error {
	b := img.Bounds()
	if need := b.Dx() * 3; cap(r.row) < need {
		r.row = make([]byte, need)
	}
	row := r.row[:b.Dx()*3]

	for y := b.Min.Y; y < b.Max.Y; y++ {
		off := img.PixOffset(b.Min.X, y)
		for x := 0; x < b.Dx(); x++ {
			p := img.Pix[off+4*x : off+4*x+3]
			row[3*x] = p[2]
			row[3*x+1] = p[1]
			row[3*x+2] = p[0]
		}
		if _, err := r.w.Write(row); err != nil {
			return fmt.Errorf("write frame: %w", err)
		}
	}
	return r.w.Flush()
}
