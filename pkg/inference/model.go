package inference

import (
	"errors"
	"fmt"
	"image"

	"github.com/xanthein/cvservice/pkg/align"
	"github.com/xanthein/cvservice/pkg/recognition"
)

// DefaultConfidence is the minimum detector score for a usable face box.
const DefaultConfidence = 0.5

// ErrEmptyInput is returned when a model is handed an empty image.
var ErrEmptyInput = errors.New("empty model input")

// Model is one network behind a prepare/run/fetch cycle. Run blocks until
// inference completes; there is no timeout.
type Model interface {
	Prepare(img image.Image) error
	Run() error
	FetchOutput() (*Tensor, error)
	Close() error
}

// Infer runs a full cycle on img.
func Infer(m Model, img image.Image) (*Tensor, error) {
	if img == nil || img.Bounds().Empty() {
		return nil, ErrEmptyInput
	}
	if err := m.Prepare(img); err != nil {
		return nil, fmt.Errorf("prepare: %w", err)
	}
	if err := m.Run(); err != nil {
		return nil, fmt.Errorf("run: %w", err)
	}
	out, err := m.FetchOutput()
	if err != nil {
		return nil, fmt.Errorf("fetch output: %w", err)
	}
	return out, nil
}

// Detection is a face box in frame pixels.
type Detection struct {
	Box        image.Rectangle
	Confidence float32
}

// FaceDetector finds faces in a frame.
type FaceDetector interface {
	Detect(frame image.Image) ([]Detection, error)
}

// LandmarkDetector locates the five alignment keypoints on a face crop,
// normalized to the crop (0..1).
type LandmarkDetector interface {
	Landmarks(crop image.Image) (align.Landmarks, error)
}

// Embedder computes the appearance descriptor of an aligned face crop.
type Embedder interface {
	Embed(face image.Image) (recognition.Embedding, error)
}

// SSDDetector decodes single-shot detector output laid out as [1,1,N,7]
// rows of (image_id, label, confidence, x_min, y_min, x_max, y_max), with
// coordinates normalized to the input frame.
type SSDDetector struct {
	model      Model
	confidence float32
}

// NewSSDDetector wraps model. A non-positive confidence selects DefaultConfidence.
func NewSSDDetector(model Model, confidence float32) *SSDDetector {
	if confidence <= 0 {
		confidence = DefaultConfidence
	}
	return &SSDDetector{model: model, confidence: confidence}
}

// Detect returns boxes scoring above the confidence threshold, clipped to the
// frame, in the model's output order.
func (d *SSDDetector) Detect(frame image.Image) ([]Detection, error) {
	out, err := Infer(d.model, frame)
	if err != nil {
		return nil, fmt.Errorf("face detection: %w", err)
	}
	return DecodeSSD(out, frame.Bounds(), d.confidence)
}

// DecodeSSD converts an SSD output tensor into detections within bounds.
func DecodeSSD(out *Tensor, bounds image.Rectangle, confidence float32) ([]Detection, error) {
	shape := out.Shape()
	if len(shape) != 4 || shape[3] != 7 {
		return nil, fmt.Errorf("%w: detector output %v", ErrShape, shape)
	}

	w, h := float32(bounds.Dx()), float32(bounds.Dy())
	var dets []Detection
	for i := 0; i < shape[2]; i++ {
		row, err := out.Flat(i*7, 7)
		if err != nil {
			return nil, err
		}
		if row[0] < 0 {
			// Negative image id terminates the list.
			break
		}
		if row[2] <= confidence {
			continue
		}

		x := int(row[3] * w)
		y := int(row[4] * h)
		box := image.Rect(x, y, x+int(row[5]*w-float32(x)), y+int(row[6]*h-float32(y))).
			Add(bounds.Min).
			Intersect(bounds)
		if box.Empty() {
			continue
		}
		dets = append(dets, Detection{Box: box, Confidence: row[2]})
	}
	return dets, nil
}

// LandmarkRegressor decodes ten normalized values (x0, y0, ... x4, y4).
type LandmarkRegressor struct {
	model Model
}

// NewLandmarkRegressor wraps model.
func NewLandmarkRegressor(model Model) *LandmarkRegressor {
	return &LandmarkRegressor{model: model}
}

// Landmarks runs the model on crop.
func (l *LandmarkRegressor) Landmarks(crop image.Image) (align.Landmarks, error) {
	out, err := Infer(l.model, crop)
	if err != nil {
		return align.Landmarks{}, fmt.Errorf("landmark regression: %w", err)
	}
	return DecodeLandmarks(out)
}

// DecodeLandmarks reads the first five (x, y) pairs of out.
func DecodeLandmarks(out *Tensor) (align.Landmarks, error) {
	var lm align.Landmarks
	vals, err := out.Flat(0, 2*align.NumLandmarks)
	if err != nil {
		return lm, fmt.Errorf("%w: landmark output %v", ErrShape, out.Shape())
	}
	for i := range lm {
		lm[i] = align.Point{X: float64(vals[2*i]), Y: float64(vals[2*i+1])}
	}
	return lm, nil
}

// ReidEmbedder decodes a re-identification descriptor.
type ReidEmbedder struct {
	model Model
}

// NewReidEmbedder wraps model.
func NewReidEmbedder(model Model) *ReidEmbedder {
	return &ReidEmbedder{model: model}
}

// Embed runs the model on an aligned face.
func (r *ReidEmbedder) Embed(face image.Image) (recognition.Embedding, error) {
	out, err := Infer(r.model, face)
	if err != nil {
		return recognition.Embedding{}, fmt.Errorf("embedding: %w", err)
	}
	return DecodeEmbedding(out)
}

// DecodeEmbedding requires exactly EmbeddingSize values.
func DecodeEmbedding(out *Tensor) (recognition.Embedding, error) {
	var e recognition.Embedding
	if out.Len() != recognition.EmbeddingSize {
		return e, fmt.Errorf("%w: embedding output %v", ErrShape, out.Shape())
	}
	vals, err := out.Flat(0, recognition.EmbeddingSize)
	if err != nil {
		return e, err
	}
	copy(e[:], vals)
	return e, nil
}
