// Package inference defines the contracts between the pipeline and the neural
// network models that detect faces, locate landmarks and compute embeddings.
//
// A Model follows a prepare/run/fetch cycle; decoders in this package turn its
// output Tensor into typed results. Concrete models live in pkg/opencv and
// pkg/dlib.
package inference

import (
	"errors"
	"fmt"
)

// ErrOutOfBounds is returned for an index outside a tensor's shape.
var ErrOutOfBounds = errors.New("tensor index out of bounds")

// ErrShape is returned when a tensor does not have the expected shape.
var ErrShape = errors.New("unexpected tensor shape")

// Tensor is an owned, row-major float32 buffer with a shape.
type Tensor struct {
	shape []int
	data  []float32
}

// NewTensor copies data into a tensor of the given shape.
func NewTensor(shape []int, data []float32) (*Tensor, error) {
	n := 1
	for _, d := range shape {
		if d < 0 {
			return nil, fmt.Errorf("%w: negative dimension in %v", ErrShape, shape)
		}
		n *= d
	}
	if n != len(data) {
		return nil, fmt.Errorf("%w: shape %v needs %d values, got %d", ErrShape, shape, n, len(data))
	}

	t := &Tensor{
		shape: append([]int(nil), shape...),
		data:  make([]float32, len(data)),
	}
	copy(t.data, data)
	return t, nil
}

// Shape returns a copy of the tensor's dimensions.
func (t *Tensor) Shape() []int {
	return append([]int(nil), t.shape...)
}

// Len returns the number of elements.
func (t *Tensor) Len() int {
	return len(t.data)
}

func (t *Tensor) offset(idx []int) (int, error) {
	if len(idx) != len(t.shape) {
		return 0, fmt.Errorf("%w: %d indices for rank %d", ErrOutOfBounds, len(idx), len(t.shape))
	}
	off := 0
	for i, v := range idx {
		if v < 0 || v >= t.shape[i] {
			return 0, fmt.Errorf("%w: index %v in shape %v", ErrOutOfBounds, idx, t.shape)
		}
		off = off*t.shape[i] + v
	}
	return off, nil
}

// At returns the element at idx.
func (t *Tensor) At(idx ...int) (float32, error) {
	off, err := t.offset(idx)
	if err != nil {
		return 0, err
	}
	return t.data[off], nil
}

// Flat returns a copy of elements [start, start+n) in row-major order.
func (t *Tensor) Flat(start, n int) ([]float32, error) {
	if start < 0 || n < 0 || start+n > len(t.data) {
		return nil, fmt.Errorf("%w: range [%d,%d) of %d", ErrOutOfBounds, start, start+n, len(t.data))
	}
	out := make([]float32, n)
	copy(out, t.data[start:start+n])
	return out, nil
}
