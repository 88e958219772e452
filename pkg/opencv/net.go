// Package opencv implements the inference and capture contracts on top of
// gocv: DNN networks loaded from OpenVINO IR files and a V4L2 webcam.
package opencv

import (
	"errors"
	"fmt"
	"image"

	"github.com/xanthein/cvservice/pkg/acceleration"
	"github.com/xanthein/cvservice/pkg/inference"
	"github.com/xanthein/cvservice/pkg/logging"
	"gocv.io/x/gocv"
)

// Network input sizes of the IR models.
var (
	DetectorInput  = image.Pt(672, 384)
	LandmarksInput = image.Pt(48, 48)
	ReidInput      = image.Pt(128, 128)
)

// ErrNotPrepared is returned by Run before Prepare succeeded.
var ErrNotPrepared = errors.New("network input not prepared")

// ErrNoOutput is returned by FetchOutput before Run succeeded.
var ErrNoOutput = errors.New("network has no output")

// NetConfig describes one network to load.
type NetConfig struct {
	Name      string
	Model     string // weights (.bin for IR)
	Config    string // topology (.xml for IR), may be empty
	InputSize image.Point
	Backend   string // OpenCV DNN backend name, see acceleration.DNNNames
	Target    string
}

// NetModel is an inference.Model backed by a gocv.Net.
type NetModel struct {
	name string
	net  gocv.Net
	size image.Point

	blob gocv.Mat
	out  gocv.Mat
}

// LoadNet reads the network and applies the preferred backend and target.
func LoadNet(cfg NetConfig) (*NetModel, error) {
	net := gocv.ReadNet(cfg.Model, cfg.Config)
	if net.Empty() {
		return nil, fmt.Errorf("failed to load %s from %s", cfg.Name, cfg.Model)
	}

	if err := net.SetPreferableBackend(gocv.ParseNetBackend(cfg.Backend)); err != nil {
		net.Close()
		return nil, fmt.Errorf("set backend %s: %w", cfg.Backend, err)
	}
	if err := net.SetPreferableTarget(gocv.ParseNetTarget(cfg.Target)); err != nil {
		net.Close()
		return nil, fmt.Errorf("set target %s: %w", cfg.Target, err)
	}

	logging.WithFields(logging.Fields{
		"model":   cfg.Name,
		"backend": cfg.Backend,
		"target":  cfg.Target,
	}).Info("Network loaded")

	return &NetModel{
		name: cfg.Name,
		net:  net,
		size: cfg.InputSize,
		blob: gocv.NewMat(),
		out:  gocv.NewMat(),
	}, nil
}

// LoadIR loads the named IR model from dir.
func LoadIR(dir, name string, size image.Point, backend, target string) (*NetModel, error) {
	xml, bin := acceleration.IRPaths(dir, name)
	return LoadNet(NetConfig{
		Name:      name,
		Model:     bin,
		Config:    xml,
		InputSize: size,
		Backend:   backend,
		Target:    target,
	})
}

// Prepare resizes img into a planar BGR blob of the network's input size.
func (m *NetModel) Prepare(img image.Image) error {
	mat, err := gocv.ImageToMatRGB(img)
	if err != nil {
		return fmt.Errorf("%s: convert input: %w", m.name, err)
	}
	defer mat.Close()

	m.blob.Close()
	// IR models take raw 0..255 BGR values.
	m.blob = gocv.BlobFromImage(mat, 1.0, m.size, gocv.NewScalar(0, 0, 0, 0), false, false)
	if m.blob.Empty() {
		return fmt.Errorf("%s: empty input blob", m.name)
	}
	return nil
}

// Run performs a synchronous forward pass.
func (m *NetModel) Run() error {
	if m.blob.Empty() {
		return ErrNotPrepared
	}
	m.net.SetInput(m.blob, "")

	m.out.Close()
	m.out = m.net.Forward("")
	if m.out.Empty() {
		return fmt.Errorf("%s: %w", m.name, ErrNoOutput)
	}
	return nil
}

// FetchOutput copies the last forward result into a tensor.
func (m *NetModel) FetchOutput() (*inference.Tensor, error) {
	if m.out.Empty() {
		return nil, ErrNoOutput
	}

	data, err := m.out.DataPtrFloat32()
	if err != nil {
		return nil, fmt.Errorf("%s: read output: %w", m.name, err)
	}
	return inference.NewTensor(m.out.Size(), data)
}

// Close releases the network and its buffers.
func (m *NetModel) Close() error {
	m.blob.Close()
	m.out.Close()
	return m.net.Close()
}
