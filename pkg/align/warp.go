package align

import (
	"errors"
	"fmt"
	"image"
	"image/draw"

	xdraw "golang.org/x/image/draw"
	"golang.org/x/image/math/f64"
)

// Canonical 96x112 face layout the reference points were measured on.
const (
	templateWidth  = 96.0
	templateHeight = 112.0
)

// referenceNormalized is the template in the unit square.
var referenceNormalized = Landmarks{
	{X: 30.2946 / templateWidth, Y: 51.6963 / templateHeight},
	{X: 65.5318 / templateWidth, Y: 51.5014 / templateHeight},
	{X: 48.0252 / templateWidth, Y: 71.7366 / templateHeight},
	{X: 33.5493 / templateWidth, Y: 92.3655 / templateHeight},
	{X: 62.7299 / templateWidth, Y: 92.2041 / templateHeight},
}

// ErrEmptyImage is returned when an empty image is passed for alignment.
var ErrEmptyImage = errors.New("empty image")

// ReferenceLandmarks returns the template scaled to a width x height crop.
func ReferenceLandmarks(width, height int) Landmarks {
	return Denormalize(referenceNormalized, width, height)
}

// Denormalize scales unit-square points to a width x height pixel grid.
func Denormalize(pts Landmarks, width, height int) Landmarks {
	var out Landmarks
	for i, p := range pts {
		out[i] = Point{X: p.X * float64(width), Y: p.Y * float64(height)}
	}
	return out
}

// ApplyTransform resamples img into a size.X x size.Y image. t maps output
// (canonical) coordinates to img coordinates relative to img's origin, so
// output pixel p is sampled bilinearly at t(p). Output pixels that map outside
// img are left black.
func ApplyTransform(img image.Image, t Transform, size image.Point) (*image.RGBA, error) {
	out := image.NewRGBA(image.Rect(0, 0, size.X, size.Y))
	sr := img.Bounds()
	if sr.Empty() || size.X <= 0 || size.Y <= 0 {
		return out, ErrEmptyImage
	}

	// x/image/draw samples at pixel centres (k+0.5); shift so that integer
	// output coordinates land on integer source coordinates.
	d2s := t
	d2s[0][2] += 0.5 - 0.5*(t[0][0]+t[0][1]) + float64(sr.Min.X)
	d2s[1][2] += 0.5 - 0.5*(t[1][0]+t[1][1]) + float64(sr.Min.Y)

	s2d, err := d2s.Invert()
	if err != nil {
		return out, fmt.Errorf("warp: %w", err)
	}

	draw.Draw(out, out.Bounds(), image.Black, image.Point{}, draw.Src)
	xdraw.BiLinear.Transform(out, f64.Aff3{
		s2d[0][0], s2d[0][1], s2d[0][2],
		s2d[1][0], s2d[1][1], s2d[1][2],
	}, img, sr, xdraw.Src, nil)
	return out, nil
}

// AlignFace warps a face crop into canonical pose. landmarks are normalized
// to the crop (0..1); the output has the crop's size.
func AlignFace(crop image.Image, landmarks Landmarks) (*image.RGBA, error) {
	b := crop.Bounds()
	if b.Empty() {
		return nil, ErrEmptyImage
	}
	w, h := b.Dx(), b.Dy()

	t := ComputeSimilarityTransform(ReferenceLandmarks(w, h), Denormalize(landmarks, w, h))
	return ApplyTransform(crop, t, image.Pt(w, h))
}
