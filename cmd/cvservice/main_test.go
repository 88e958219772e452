package main

import (
	"bytes"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/xanthein/cvservice/pkg/acceleration"
	"github.com/xanthein/cvservice/pkg/config"
	"github.com/xanthein/cvservice/pkg/logging"
	"github.com/xanthein/cvservice/pkg/recognition"
)

func TestParseCameraIndex(t *testing.T) {
	tests := []struct {
		arg     string
		want    int
		wantErr bool
	}{
		{"0", 0, false},
		{"2", 2, false},
		{"-1", 0, true},
		{"front", 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.arg, func(t *testing.T) {
			got, err := parseCameraIndex(tt.arg)
			if (err != nil) != tt.wantErr {
				t.Fatalf("parseCameraIndex(%q) error = %v, wantErr %v", tt.arg, err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("parseCameraIndex(%q) = %d, want %d", tt.arg, got, tt.want)
			}
		})
	}
}

func TestMessagingOptions(t *testing.T) {
	c := config.DefaultConfig()
	c.Messaging.Transport = "nats"
	c.Messaging.URL = "nats://broker:4222"
	c.Messaging.QoS = 1
	c.Messaging.ConnectTimeout = 5

	opts := messagingOptions(c)
	if opts.Transport != "nats" || opts.URL != "nats://broker:4222" {
		t.Errorf("unexpected transport options %+v", opts)
	}
	if opts.QoS != 1 {
		t.Errorf("expected QoS 1, got %d", opts.QoS)
	}
	if opts.ConnectTimeout != 5*time.Second {
		t.Errorf("expected 5s timeout, got %v", opts.ConnectTimeout)
	}
}

func TestAccelerationConfig(t *testing.T) {
	c := config.DefaultConfig()
	c.Acceleration.Backend = "openvino"
	c.Acceleration.Target = "fp16"
	c.Acceleration.FallbackToCPU = false

	ac := accelerationConfig(c)
	if ac.PreferredBackend != acceleration.BackendOpenVINO {
		t.Errorf("expected openvino, got %s", ac.PreferredBackend)
	}
	if ac.Target != "fp16" || ac.FallbackToCPU {
		t.Errorf("unexpected acceleration config %+v", ac)
	}
}

func TestEmbeddingNorm(t *testing.T) {
	var e recognition.Embedding
	e[0], e[1] = 3, 4

	if got := embeddingNorm(e); got != 5 {
		t.Errorf("expected norm 5, got %f", got)
	}
}

func TestOpenStore_Missing(t *testing.T) {
	cfg = config.DefaultConfig()
	cfg.Storage.DatabasePath = filepath.Join(t.TempDir(), "faces.bin")

	store, err := openStore()
	if err != nil {
		t.Fatalf("openStore failed: %v", err)
	}
	if store.Len() != 0 {
		t.Errorf("expected empty store, got %d records", store.Len())
	}
}

func TestDownloadModels(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		if r.URL.Path == "/missing.bin" {
			http.NotFound(w, r)
			return
		}
		_, _ = w.Write([]byte("model:" + r.URL.Path))
	}))
	defer srv.Close()

	specs := []acceleration.ModelSpec{{
		Name: "net",
		Files: []acceleration.ModelFile{
			{Name: "net.xml", URL: srv.URL + "/net.xml"},
			{Name: "net.bin", URL: srv.URL + "/net.bin"},
		},
	}}

	dir := filepath.Join(t.TempDir(), "models")
	if err := downloadModels(dir, specs); err != nil {
		t.Fatalf("downloadModels failed: %v", err)
	}

	data, err := os.ReadFile(filepath.Join(dir, "net.xml"))
	if err != nil {
		t.Fatalf("net.xml not written: %v", err)
	}
	if string(data) != "model:/net.xml" {
		t.Errorf("unexpected content %q", data)
	}
	if hits.Load() != 2 {
		t.Errorf("expected 2 requests, got %d", hits.Load())
	}

	// Existing files are not fetched again.
	if err := downloadModels(dir, specs); err != nil {
		t.Fatalf("second downloadModels failed: %v", err)
	}
	if hits.Load() != 2 {
		t.Errorf("expected no new requests, got %d", hits.Load())
	}

	bad := []acceleration.ModelSpec{{
		Name:  "missing",
		Files: []acceleration.ModelFile{{Name: "missing.bin", URL: srv.URL + "/missing.bin"}},
	}}
	if err := downloadModels(dir, bad); err == nil {
		t.Error("expected error for 404")
	}
	for _, name := range []string{"missing.bin", "missing.bin.part"} {
		if _, err := os.Stat(filepath.Join(dir, name)); err == nil {
			t.Errorf("%s should not exist after a failed download", name)
		}
	}
}

func TestRequiredModels(t *testing.T) {
	c := config.DefaultConfig()
	if got := len(requiredModels(c)); got != 3 {
		t.Errorf("ssd pipeline: expected 3 models, got %d", got)
	}

	c.Recognition.Detector = config.DetectorDlib
	if got := len(requiredModels(c)); got != 6 {
		t.Errorf("dlib pipeline: expected 6 models, got %d", got)
	}
}

func TestPrintBackends(t *testing.T) {
	m := acceleration.NewManager()
	if err := m.Initialize(acceleration.Config{
		PreferredBackend: acceleration.BackendCPU,
		FallbackToCPU:    true,
	}); err != nil {
		t.Fatalf("Initialize failed: %v", err)
	}

	var buf bytes.Buffer
	printBackends(&buf, m)
	out := buf.String()

	if !strings.Contains(out, "* cpu") {
		t.Errorf("expected active cpu backend to be marked, got:\n%s", out)
	}
	if !strings.Contains(out, "DNN backend: opencv, target: cpu, accelerated: false") {
		t.Errorf("expected DNN summary, got:\n%s", out)
	}
}

func TestReportFatal_Logs(t *testing.T) {
	var buf bytes.Buffer
	prev := logging.Logger.Out
	logging.Logger.SetOutput(&buf)
	defer logging.Logger.SetOutput(prev)

	reportFatal(errors.New("camera unavailable"))

	out := buf.String()
	if !strings.Contains(out, "camera unavailable") || !strings.Contains(out, "level=error") {
		t.Errorf("fatal error not logged, got %q", out)
	}
}
