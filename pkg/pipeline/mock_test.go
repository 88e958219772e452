package pipeline

import (
	"errors"
	"image"
	"sync"

	"github.com/xanthein/cvservice/pkg/align"
	"github.com/xanthein/cvservice/pkg/camera"
	"github.com/xanthein/cvservice/pkg/inference"
	"github.com/xanthein/cvservice/pkg/recognition"
	"github.com/xanthein/cvservice/pkg/render"
)

// MockDetector returns Frames[i] on the i-th call and nothing afterwards.
type MockDetector struct {
	Frames [][]image.Rectangle
	Err    error
	calls  int
}

func (m *MockDetector) Detect(frame image.Image) ([]inference.Detection, error) {
	if m.Err != nil {
		return nil, m.Err
	}
	i := m.calls
	m.calls++
	if i >= len(m.Frames) {
		return nil, nil
	}
	dets := make([]inference.Detection, len(m.Frames[i]))
	for j, box := range m.Frames[i] {
		dets[j] = inference.Detection{Box: box, Confidence: 0.9}
	}
	return dets, nil
}

// MockLandmarks places the keypoints exactly on the reference template.
type MockLandmarks struct {
	Err error
}

func (m *MockLandmarks) Landmarks(crop image.Image) (align.Landmarks, error) {
	if m.Err != nil {
		return align.Landmarks{}, m.Err
	}
	return align.ReferenceLandmarks(1, 1), nil
}

// MockEmbedder returns Embeddings in turn, repeating the last one.
type MockEmbedder struct {
	Embeddings []recognition.Embedding
	calls      int
}

func (m *MockEmbedder) Embed(face image.Image) (recognition.Embedding, error) {
	if len(m.Embeddings) == 0 {
		return recognition.Embedding{}, errors.New("no embedding configured")
	}
	i := m.calls
	if i >= len(m.Embeddings) {
		i = len(m.Embeddings) - 1
	}
	m.calls++
	return m.Embeddings[i], nil
}

type sentMessage struct {
	Topic   string
	Payload string
}

// MockSender records published messages.
type MockSender struct {
	mu   sync.Mutex
	Sent []sentMessage
	Err  error
}

func (m *MockSender) Publish(topic string, payload []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return m.Err
	}
	m.Sent = append(m.Sent, sentMessage{Topic: topic, Payload: string(payload)})
	return nil
}

// MockRenderer records the annotations of every rendered frame.
type MockRenderer struct {
	Frames [][]render.Annotation
}

func (m *MockRenderer) Render(frame *image.RGBA, faces []render.Annotation) error {
	m.Frames = append(m.Frames, faces)
	return nil
}

// MockSnapshots records snapshot writes.
type MockSnapshots struct {
	IDs []int32
	Err error
}

func (m *MockSnapshots) Write(id int32, img image.Image) (string, error) {
	if m.Err != nil {
		return "", m.Err
	}
	m.IDs = append(m.IDs, id)
	return "", nil
}

// MockCamera yields frames, failing on the indices listed in FailAt, and
// calls OnFrame after every capture attempt.
type MockCamera struct {
	Size    image.Point
	FailAt  map[int]error
	OnFrame func(n int)
	n       int
}

func (m *MockCamera) Capture() (camera.Frame, error) {
	n := m.n
	m.n++
	if m.OnFrame != nil {
		defer m.OnFrame(m.n)
	}
	if err, ok := m.FailAt[n]; ok {
		return camera.Frame{}, err
	}
	return camera.Frame{
		Image: image.NewRGBA(image.Rectangle{Max: m.Size}),
		Index: uint64(n + 1),
	}, nil
}

func (m *MockCamera) Close() error { return nil }
