// Package pipeline runs the per-frame recognition loop: detect faces, align
// and describe them, match against the identity store, enroll on request,
// track presence, publish events and render the annotated frame.
//
// A Pipeline is owned by a single goroutine. The only state shared with other
// goroutines is the registration trigger, armed from the message bus.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"image"
	"time"

	"github.com/xanthein/cvservice/pkg/align"
	"github.com/xanthein/cvservice/pkg/camera"
	"github.com/xanthein/cvservice/pkg/events"
	"github.com/xanthein/cvservice/pkg/inference"
	"github.com/xanthein/cvservice/pkg/logging"
	"github.com/xanthein/cvservice/pkg/recognition"
	"github.com/xanthein/cvservice/pkg/registration"
	"github.com/xanthein/cvservice/pkg/render"
	"github.com/xanthein/cvservice/pkg/storage"
	"github.com/xanthein/cvservice/pkg/tracker"
)

// ErrEmptyCrop is returned when a detection does not overlap the frame.
var ErrEmptyCrop = errors.New("face crop is empty")

// Capture retry backoff bounds.
const (
	DefaultCaptureRetryDelay = 50 * time.Millisecond
	MaxCaptureRetryDelay     = time.Second
)

// ErrMissingCollaborator is returned by New when a required part is nil.
var ErrMissingCollaborator = errors.New("pipeline collaborator missing")

// SnapshotWriter stores the enrollment image of a new identity.
type SnapshotWriter interface {
	Write(id int32, img image.Image) (string, error)
}

// FrameRenderer outputs an annotated frame.
type FrameRenderer interface {
	Render(frame *image.RGBA, faces []render.Annotation) error
}

// Config wires a Pipeline. Snapshots and Renderer are optional.
type Config struct {
	Detector  inference.FaceDetector
	Landmarks inference.LandmarkDetector
	Embedder  inference.Embedder

	Store   *storage.IdentityStore
	Sender  events.Sender
	Trigger *registration.Trigger

	Snapshots SnapshotWriter
	Renderer  FrameRenderer

	Threshold  float64
	TrackerTTL int

	// CaptureRetryDelay is the first wait after a failed capture. It doubles
	// on consecutive failures up to MaxCaptureRetryDelay. Zero selects
	// DefaultCaptureRetryDelay.
	CaptureRetryDelay time.Duration
}

// Pipeline is the context object of the processing loop.
type Pipeline struct {
	detector  inference.FaceDetector
	landmarks inference.LandmarkDetector
	embedder  inference.Embedder

	store      *storage.IdentityStore
	matcher    *recognition.Matcher
	tracker    *tracker.SeenFaces
	trigger    *registration.Trigger
	controller *registration.Controller
	publisher  *events.Publisher
	snapshots  SnapshotWriter
	renderer   FrameRenderer

	retryDelay time.Duration

	log *logging.Entry
}

// face is the per-detection working set of one frame.
type face struct {
	box       image.Rectangle
	embedding recognition.Embedding
	match     recognition.Result
	id        int32
}

// New validates cfg and builds a pipeline.
func New(cfg Config) (*Pipeline, error) {
	switch {
	case cfg.Detector == nil:
		return nil, fmt.Errorf("%w: face detector", ErrMissingCollaborator)
	case cfg.Landmarks == nil:
		return nil, fmt.Errorf("%w: landmark detector", ErrMissingCollaborator)
	case cfg.Embedder == nil:
		return nil, fmt.Errorf("%w: embedder", ErrMissingCollaborator)
	case cfg.Store == nil:
		return nil, fmt.Errorf("%w: identity store", ErrMissingCollaborator)
	case cfg.Sender == nil:
		return nil, fmt.Errorf("%w: event sender", ErrMissingCollaborator)
	}

	trigger := cfg.Trigger
	if trigger == nil {
		trigger = &registration.Trigger{}
	}
	retryDelay := cfg.CaptureRetryDelay
	if retryDelay <= 0 {
		retryDelay = DefaultCaptureRetryDelay
	}

	return &Pipeline{
		detector:   cfg.Detector,
		landmarks:  cfg.Landmarks,
		embedder:   cfg.Embedder,
		store:      cfg.Store,
		matcher:    recognition.NewMatcher(cfg.Threshold),
		tracker:    tracker.New(cfg.TrackerTTL),
		trigger:    trigger,
		controller: registration.NewController(trigger),
		publisher:  events.NewPublisher(cfg.Sender),
		snapshots:  cfg.Snapshots,
		renderer:   cfg.Renderer,
		retryDelay: retryDelay,
		log:        logging.Component("pipeline"),
	}, nil
}

// Trigger returns the registration trigger armed by register commands.
func (p *Pipeline) Trigger() *registration.Trigger {
	return p.trigger
}

// Tracker exposes the presence registry.
func (p *Pipeline) Tracker() *tracker.SeenFaces {
	return p.tracker
}

// OnRegisterCommand arms enrollment of the next unknown face. It is a
// messaging handler and may run on any goroutine.
func (p *Pipeline) OnRegisterCommand(topic string, payload []byte) {
	p.log.WithField("topic", topic).Info("Registration requested")
	p.trigger.Arm()
}

// ProcessFrame runs one frame through the pipeline.
func (p *Pipeline) ProcessFrame(img *image.RGBA) error {
	dets, err := p.detector.Detect(img)
	if err != nil {
		return fmt.Errorf("detect faces: %w", err)
	}

	if len(dets) == 0 {
		p.publisher.Reset()
		p.tracker.Update(nil)
		return p.render(img, nil)
	}

	p.controller.BeginFrame()

	records := p.store.Records()
	faces := make([]face, len(dets))
	for i, d := range dets {
		emb, err := p.describe(img, d.Box)
		if err != nil {
			return err
		}
		match := p.matcher.Match(emb, records)
		faces[i] = face{box: d.Box, embedding: emb, match: match, id: match.ID}
	}

	var known []int32
	for i := range faces {
		f := &faces[i]
		switch p.controller.Decide(f.match) {
		case registration.DecisionEnroll:
			id, err := p.enroll(img, f.embedding)
			if err != nil {
				return err
			}
			f.id = id
		case registration.DecisionUnknown:
			p.publish(events.TopicSeen, recognition.UnknownID)
		case registration.DecisionPresent:
			p.publish(events.TopicSeen, f.match.ID)
			known = append(known, f.match.ID)
		}
	}

	p.tracker.Update(known)

	annotations := make([]render.Annotation, len(faces))
	for i, f := range faces {
		annotations[i] = render.Annotation{Box: f.box, ID: f.id}
	}
	return p.render(img, annotations)
}

// describe crops, aligns and embeds one detection.
func (p *Pipeline) describe(img *image.RGBA, box image.Rectangle) (recognition.Embedding, error) {
	roi := box.Intersect(img.Bounds())
	if roi.Empty() {
		return recognition.Embedding{}, fmt.Errorf("%w: %v", ErrEmptyCrop, box)
	}
	crop := img.SubImage(roi)

	lm, err := p.landmarks.Landmarks(crop)
	if err != nil {
		return recognition.Embedding{}, fmt.Errorf("landmarks: %w", err)
	}
	aligned, err := align.AlignFace(crop, lm)
	if err != nil {
		return recognition.Embedding{}, fmt.Errorf("align face: %w", err)
	}
	emb, err := p.embedder.Embed(aligned)
	if err != nil {
		return recognition.Embedding{}, fmt.Errorf("embed face: %w", err)
	}
	return emb, nil
}

// enroll stores a new identity, announces it and writes its snapshot.
func (p *Pipeline) enroll(img *image.RGBA, emb recognition.Embedding) (int32, error) {
	id := p.store.AllocateNewID()
	if err := p.store.Append(storage.Record{ID: id, Embedding: emb}); err != nil {
		return 0, fmt.Errorf("enroll %d: %w", id, err)
	}
	if err := p.store.Save(); err != nil {
		return 0, fmt.Errorf("enroll %d: %w", id, err)
	}

	p.log.WithField("id", id).Info("Registered new person")
	p.publish(events.TopicRegistered, id)

	if p.snapshots != nil {
		path, err := p.snapshots.Write(id, img)
		if err != nil {
			p.log.WithError(err).WithField("id", id).Error("Failed to write snapshot")
		} else {
			p.log.WithField("path", path).Debug("Snapshot written")
		}
	}
	return id, nil
}

// publish sends an event. Bus failures are logged; the loop keeps running.
func (p *Pipeline) publish(topic string, id int32) {
	if _, err := p.publisher.Publish(topic, recognition.Label(id)); err != nil {
		p.log.WithError(err).Warn("Failed to publish event")
	}
}

func (p *Pipeline) render(img *image.RGBA, faces []render.Annotation) error {
	if p.renderer == nil {
		return nil
	}
	if err := p.renderer.Render(img, faces); err != nil {
		return fmt.Errorf("render: %w", err)
	}
	return nil
}

// Run processes frames from cam until ctx is cancelled or a frame fails.
// Cancellation is observed between frames and during capture backoff.
func (p *Pipeline) Run(ctx context.Context, cam camera.Camera) error {
	p.log.Info("Processing started")
	failures := 0
	for {
		select {
		case <-ctx.Done():
			p.log.Info("Processing stopped")
			return nil
		default:
		}

		frame, err := cam.Capture()
		if err != nil {
			if errors.Is(err, camera.ErrCameraNotOpen) {
				return err
			}
			failures++
			entry := p.log.WithError(err).WithField("failures", failures)
			if failures == 1 {
				entry.Warn("Frame capture failed, skipping")
			} else {
				entry.Debug("Frame capture failed, skipping")
			}

			select {
			case <-ctx.Done():
				p.log.Info("Processing stopped")
				return nil
			case <-time.After(p.backoff(failures)):
			}
			continue
		}
		if failures > 0 {
			p.log.WithField("failures", failures).Info("Frame capture recovered")
			failures = 0
		}

		if err := p.ProcessFrame(frame.Image); err != nil {
			return fmt.Errorf("frame %d: %w", frame.Index, err)
		}
	}
}

// backoff returns the wait after the n-th consecutive capture failure.
func (p *Pipeline) backoff(n int) time.Duration {
	d := p.retryDelay
	for i := 1; i < n && d < MaxCaptureRetryDelay; i++ {
		d *= 2
	}
	if d > MaxCaptureRetryDelay {
		d = MaxCaptureRetryDelay
	}
	return d
}
