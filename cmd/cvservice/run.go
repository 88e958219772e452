package main

import (
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/xanthein/cvservice/pkg/acceleration"
	"github.com/xanthein/cvservice/pkg/config"
	"github.com/xanthein/cvservice/pkg/dlib"
	"github.com/xanthein/cvservice/pkg/events"
	"github.com/xanthein/cvservice/pkg/inference"
	"github.com/xanthein/cvservice/pkg/logging"
	"github.com/xanthein/cvservice/pkg/messaging"
	"github.com/xanthein/cvservice/pkg/opencv"
	"github.com/xanthein/cvservice/pkg/pipeline"
	"github.com/xanthein/cvservice/pkg/registration"
	"github.com/xanthein/cvservice/pkg/render"
	"github.com/xanthein/cvservice/pkg/snapshot"
)

func runService(cmd *cobra.Command, args []string) error {
	if len(args) == 1 {
		idx, err := parseCameraIndex(args[0])
		if err != nil {
			return err
		}
		cfg.Camera.Index = idx
	}

	log := logging.Component("main")
	if err := cfg.EnsureDirectories(); err != nil {
		return err
	}
	if err := acceleration.VerifyModels(cfg.Models.Path, requiredModels(cfg)); err != nil {
		return err
	}

	accel := acceleration.GetManager()
	if err := accel.Initialize(accelerationConfig(cfg)); err != nil {
		return fmt.Errorf("failed to initialize acceleration: %w", err)
	}
	backend, target := accel.DNN()
	log.WithFields(logging.Fields{
		"backend":     accel.GetActiveBackend(),
		"dnn":         backend,
		"target":      target,
		"accelerated": accel.IsAccelerated(),
		"detected":    len(accel.GetAllBackends()),
	}).Info("Inference backend selected")

	detector, closeDetector, err := buildDetector(backend, target)
	if err != nil {
		return err
	}
	defer closeDetector()

	landmarksNet, err := opencv.LoadIR(cfg.Models.Path, acceleration.LandmarksModel, opencv.LandmarksInput, backend, target)
	if err != nil {
		return err
	}
	defer func() { _ = landmarksNet.Close() }()

	reidNet, err := opencv.LoadIR(cfg.Models.Path, acceleration.ReidModel, opencv.ReidInput, backend, target)
	if err != nil {
		return err
	}
	defer func() { _ = reidNet.Close() }()

	store, err := openStore()
	if err != nil {
		return err
	}
	log.WithField("identities", store.Len()).Info("Identity store loaded")

	bus, err := messaging.Connect(messagingOptions(cfg))
	if err != nil {
		return fmt.Errorf("failed to connect message bus: %w", err)
	}
	defer func() { _ = bus.Close() }()

	pcfg := pipeline.Config{
		Detector:   detector,
		Landmarks:  inference.NewLandmarkRegressor(landmarksNet),
		Embedder:   inference.NewReidEmbedder(reidNet),
		Store:      store,
		Sender:     bus,
		Trigger:    &registration.Trigger{},
		Threshold:  cfg.Recognition.MatchThreshold,
		TrackerTTL: cfg.Recognition.TrackerTTL,
	}
	if cfg.Storage.ThumbnailDir != "" {
		pcfg.Snapshots = snapshot.NewWriter(cfg.Storage.ThumbnailDir, cfg.Storage.SnapshotMaxSize)
	}
	if cfg.Render.Enabled {
		pcfg.Renderer = render.NewRenderer(os.Stdout)
	}

	p, err := pipeline.New(pcfg)
	if err != nil {
		return err
	}
	if err := bus.Subscribe(events.TopicRegister, p.OnRegisterCommand); err != nil {
		return fmt.Errorf("failed to subscribe to %s: %w", events.TopicRegister, err)
	}

	cam, err := opencv.OpenWebcam(cfg.Camera.Index, cfg.Camera.Width, cfg.Camera.Height)
	if err != nil {
		return err
	}
	defer func() { _ = cam.Close() }()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	return p.Run(ctx, cam)
}

func parseCameraIndex(arg string) (int, error) {
	idx, err := strconv.Atoi(arg)
	if err != nil || idx < 0 {
		return 0, fmt.Errorf("invalid camera index %q", arg)
	}
	return idx, nil
}

// buildDetector returns the configured face detector and its release func.
func buildDetector(backend, target string) (inference.FaceDetector, func(), error) {
	switch cfg.Recognition.Detector {
	case config.DetectorDlib:
		d := dlib.NewDetector()
		if err := d.LoadModels(cfg.Models.Path); err != nil {
			return nil, nil, err
		}
		return d, func() { _ = d.Close() }, nil
	default:
		net, err := opencv.LoadIR(cfg.Models.Path, acceleration.DetectorModel, opencv.DetectorInput, backend, target)
		if err != nil {
			return nil, nil, err
		}
		det := inference.NewSSDDetector(net, float32(cfg.Recognition.ConfidenceThreshold))
		return det, func() { _ = net.Close() }, nil
	}
}

func accelerationConfig(c *config.Config) acceleration.Config {
	return acceleration.Config{
		PreferredBackend: acceleration.Backend(c.Acceleration.Backend),
		FallbackToCPU:    c.Acceleration.FallbackToCPU,
		Target:           c.Acceleration.Target,
	}
}

func messagingOptions(c *config.Config) messaging.Options {
	return messaging.Options{
		Transport:      c.Messaging.Transport,
		URL:            c.Messaging.URL,
		ClientID:       c.Messaging.ClientID,
		Username:       c.Messaging.Username,
		Password:       c.Messaging.Password,
		QoS:            byte(c.Messaging.QoS),
		ConnectTimeout: time.Duration(c.Messaging.ConnectTimeout) * time.Second,
	}
}
