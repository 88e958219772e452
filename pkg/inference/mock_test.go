package inference

import (
	"errors"
	"image"
)

// MockModel is a Model returning a fixed tensor.
type MockModel struct {
	Output *Tensor

	PrepareErr error
	RunErr     error
	FetchErr   error

	Prepared []image.Rectangle
	Runs     int
	Closed   bool
}

func (m *MockModel) Prepare(img image.Image) error {
	if m.PrepareErr != nil {
		return m.PrepareErr
	}
	m.Prepared = append(m.Prepared, img.Bounds())
	return nil
}

func (m *MockModel) Run() error {
	m.Runs++
	return m.RunErr
}

func (m *MockModel) FetchOutput() (*Tensor, error) {
	if m.FetchErr != nil {
		return nil, m.FetchErr
	}
	if m.Output == nil {
		return nil, errors.New("no output")
	}
	return m.Output, nil
}

func (m *MockModel) Close() error {
	m.Closed = true
	return nil
}

func mustTensor(shape []int, data []float32) *Tensor {
	t, err := NewTensor(shape, data)
	if err != nil {
		panic(err)
	}
	return t
}
