// Package align normalizes face crops into a canonical pose.
//
// A similarity transform (rotation, uniform scale, translation) is fitted
// between a fixed five-point reference template and the landmarks detected on
// a crop, and the crop is then resampled through that transform so the eyes,
// nose and mouth corners land on the template positions.
package align

import (
	"errors"
	"math"

	"gonum.org/v1/gonum/mat"
)

// NumLandmarks is the number of facial keypoints used for alignment.
const NumLandmarks = 5

// float32 machine epsilon, the floor applied to point-set spread.
const spreadFloor = 1.1920928955078125e-07

// Point is a 2D point in pixel (or normalized) coordinates.
type Point struct {
	X, Y float64
}

// Landmarks holds the five ordered keypoints: left eye, right eye, nose tip,
// left mouth corner, right mouth corner.
type Landmarks [NumLandmarks]Point

// Transform is a 2x3 affine matrix [A | t] mapping p to A·p + t.
type Transform [2][3]float64

// ErrSingularTransform is returned when a transform has no inverse.
var ErrSingularTransform = errors.New("transform is not invertible")

// Identity returns the identity transform.
func Identity() Transform {
	return Transform{{1, 0, 0}, {0, 1, 0}}
}

// Apply maps p through the transform.
func (t Transform) Apply(p Point) Point {
	return Point{
		X: t[0][0]*p.X + t[0][1]*p.Y + t[0][2],
		Y: t[1][0]*p.X + t[1][1]*p.Y + t[1][2],
	}
}

// Invert returns the inverse transform.
func (t Transform) Invert() (Transform, error) {
	det := t[0][0]*t[1][1] - t[0][1]*t[1][0]
	if det == 0 || math.IsNaN(det) {
		return Transform{}, ErrSingularTransform
	}
	a := t[1][1] / det
	b := -t[0][1] / det
	c := -t[1][0] / det
	d := t[0][0] / det
	return Transform{
		{a, b, -(a*t[0][2] + b*t[1][2])},
		{c, d, -(c*t[0][2] + d*t[1][2])},
	}, nil
}

// ComputeSimilarityTransform returns the least-squares similarity transform
// mapping src onto dst (orthogonal Procrustes). It is exact when dst is a
// similarity image of src.
func ComputeSimilarityTransform(src, dst Landmarks) Transform {
	srcCentered, srcMean := center(src)
	dstCentered, dstMean := center(dst)

	srcStd := math.Max(spreadFloor, spread(srcCentered))
	dstStd := math.Max(spreadFloor, spread(dstCentered))

	s := mat.NewDense(NumLandmarks, 2, nil)
	d := mat.NewDense(NumLandmarks, 2, nil)
	for i := 0; i < NumLandmarks; i++ {
		s.Set(i, 0, srcCentered[i].X/srcStd)
		s.Set(i, 1, srcCentered[i].Y/srcStd)
		d.Set(i, 0, dstCentered[i].X/dstStd)
		d.Set(i, 1, dstCentered[i].Y/dstStd)
	}

	var cov mat.Dense
	cov.Mul(s.T(), d)

	rot := rotationFromCovariance(&cov)
	scale := dstStd / srcStd

	var t Transform
	for r := 0; r < 2; r++ {
		t[r][0] = rot.At(r, 0) * scale
		t[r][1] = rot.At(r, 1) * scale
	}
	t[0][2] = dstMean.X - (t[0][0]*srcMean.X + t[0][1]*srcMean.Y)
	t[1][2] = dstMean.Y - (t[1][0]*srcMean.X + t[1][1]*srcMean.Y)
	return t
}

// rotationFromCovariance returns (U·Vᵀ)ᵀ for cov = U·Σ·Vᵀ.
func rotationFromCovariance(cov *mat.Dense) *mat.Dense {
	var svd mat.SVD
	if !svd.Factorize(cov, mat.SVDFull) {
		// Only NaN input gets here; keep the pose unrotated.
		return mat.NewDense(2, 2, []float64{1, 0, 0, 1})
	}
	var u, v mat.Dense
	svd.UTo(&u)
	svd.VTo(&v)

	var rot mat.Dense
	rot.Mul(&v, u.T())
	return &rot
}

func center(pts Landmarks) (Landmarks, Point) {
	var mean Point
	for _, p := range pts {
		mean.X += p.X
		mean.Y += p.Y
	}
	mean.X /= NumLandmarks
	mean.Y /= NumLandmarks

	var out Landmarks
	for i, p := range pts {
		out[i] = Point{X: p.X - mean.X, Y: p.Y - mean.Y}
	}
	return out, mean
}

// spread is the population standard deviation over both coordinates pooled.
func spread(pts Landmarks) float64 {
	const n = 2 * NumLandmarks
	var sum float64
	for _, p := range pts {
		sum += p.X + p.Y
	}
	mean := sum / n

	var sq float64
	for _, p := range pts {
		sq += (p.X-mean)*(p.X-mean) + (p.Y-mean)*(p.Y-mean)
	}
	return math.Sqrt(sq / n)
}
