// Package dlib provides a face detector backed by dlib via go-face. It is an
// alternative to the SSD network for hosts without OpenVINO models.
package dlib

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/jpeg"
	"sync"

	"github.com/Kagami/go-face"
	"github.com/xanthein/cvservice/pkg/inference"
	"github.com/xanthein/cvservice/pkg/logging"
)

// ErrModelNotLoaded is returned when models are not loaded.
var ErrModelNotLoaded = errors.New("dlib models not loaded")

// FaceEngine is the part of go-face the detector uses.
type FaceEngine interface {
	Recognize(imgData []byte) ([]face.Face, error)
	Close()
}

// Detector implements inference.FaceDetector using dlib.
type Detector struct {
	engine    FaceEngine
	factory   func(modelPath string) (FaceEngine, error)
	modelPath string
	quality   int
	loaded    bool
	mu        sync.RWMutex
}

// NewDetector creates a detector; call LoadModels before Detect.
func NewDetector() *Detector {
	return &Detector{
		quality: 95,
		factory: func(path string) (FaceEngine, error) {
			return face.NewRecognizer(path)
		},
	}
}

// LoadModels loads the dlib models from modelPath. The directory must hold
// shape_predictor_5_face_landmarks.dat, dlib_face_recognition_resnet_model_v1.dat
// and mmod_human_face_detector.dat.
func (d *Detector) LoadModels(modelPath string) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.loaded {
		return nil
	}

	logging.Infof("Loading dlib models from: %s", modelPath)

	engine, err := d.factory(modelPath)
	if err != nil {
		return fmt.Errorf("failed to load models: %w", err)
	}

	d.engine = engine
	d.modelPath = modelPath
	d.loaded = true
	return nil
}

// IsLoaded returns true if models are loaded.
func (d *Detector) IsLoaded() bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.loaded
}

// Close releases the detector resources.
func (d *Detector) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.engine != nil {
		d.engine.Close()
		d.engine = nil
	}
	d.loaded = false
	return nil
}

// Detect returns the faces dlib finds in frame. dlib gives no score, so every
// box has confidence 1.
func (d *Detector) Detect(frame image.Image) ([]inference.Detection, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	if !d.loaded {
		return nil, ErrModelNotLoaded
	}

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, frame, &jpeg.Options{Quality: d.quality}); err != nil {
		return nil, fmt.Errorf("encode frame: %w", err)
	}

	faces, err := d.engine.Recognize(buf.Bytes())
	if err != nil {
		return nil, fmt.Errorf("face detection failed: %w", err)
	}

	bounds := frame.Bounds()
	dets := make([]inference.Detection, 0, len(faces))
	for _, f := range faces {
		// go-face reports boxes relative to the encoded image origin.
		box := f.Rectangle.Add(bounds.Min).Intersect(bounds)
		if box.Empty() {
			continue
		}
		dets = append(dets, inference.Detection{Box: box, Confidence: 1.0})
	}

	logging.Debugf("Detected %d face(s) in frame", len(dets))
	return dets, nil
}
