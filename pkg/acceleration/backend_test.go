package acceleration

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"os/exec"
	"testing"
)

func fakeExecCommand(command string, args ...string) *exec.Cmd {
	cs := []string{"-test.run=TestHelperProcess", "--", command}
	cs = append(cs, args...)
	cmd := exec.Command(os.Args[0], cs...)
	cmd.Env = []string{"GO_WANT_HELPER_PROCESS=1"}
	return cmd
}

func failingExecCommand(command string, args ...string) *exec.Cmd {
	return exec.Command("/nonexistent/" + command)
}

func TestHelperProcess(t *testing.T) {
	if os.Getenv("GO_WANT_HELPER_PROCESS") != "1" {
		return
	}
	if len(os.Args) < 4 {
		os.Exit(1)
	}

	switch os.Args[3] {
	case "nvidia-smi":
		fmt.Println("NVIDIA GeForce RTX 3060, 535.54.03")
		os.Exit(0)
	}
	os.Exit(1)
}

// withProbes swaps the hardware probes for the duration of a test.
func withProbes(t *testing.T, cmd func(string, ...string) *exec.Cmd, env map[string]string, existing ...string) {
	t.Helper()
	oldExec, oldEnv, oldStat := execCommand, lookupEnv, statPath
	t.Cleanup(func() {
		execCommand, lookupEnv, statPath = oldExec, oldEnv, oldStat
	})

	execCommand = cmd
	lookupEnv = func(k string) string { return env[k] }
	statPath = func(p string) (os.FileInfo, error) {
		for _, e := range existing {
			if e == p {
				return nil, nil
			}
		}
		return nil, fs.ErrNotExist
	}
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.PreferredBackend != BackendAuto {
		t.Errorf("expected PreferredBackend Auto, got %s", cfg.PreferredBackend)
	}
	if !cfg.FallbackToCPU {
		t.Error("expected FallbackToCPU to be true")
	}
	if cfg.Target != "" {
		t.Errorf("expected empty Target, got %s", cfg.Target)
	}
}

func TestGetManager(t *testing.T) {
	manager := GetManager()
	if manager == nil {
		t.Fatal("GetManager returned nil")
	}

	if manager != GetManager() {
		t.Error("GetManager should return singleton")
	}
}

func TestManager_Initialize_CPUOnly(t *testing.T) {
	withProbes(t, failingExecCommand, nil)

	manager := NewManager()
	if err := manager.Initialize(DefaultConfig()); err != nil {
		t.Fatalf("Initialize failed: %v", err)
	}

	if !manager.initialized {
		t.Error("manager should be initialized")
	}
	if manager.GetActiveBackend() != BackendCPU {
		t.Errorf("expected CPU, got %s", manager.GetActiveBackend())
	}

	cpuInfo := manager.GetBackendInfo(BackendCPU)
	if cpuInfo == nil || !cpuInfo.Available {
		t.Fatal("CPU backend should be available")
	}
	if manager.GetBackendInfo(BackendCUDA) != nil {
		t.Error("CUDA should not be detected")
	}
}

func TestManager_Initialize_DetectsCUDA(t *testing.T) {
	withProbes(t, fakeExecCommand, nil)

	manager := NewManager()
	if err := manager.Initialize(DefaultConfig()); err != nil {
		t.Fatalf("Initialize failed: %v", err)
	}

	info := manager.GetBackendInfo(BackendCUDA)
	if info == nil {
		t.Fatal("CUDA should be detected")
	}
	if info.DeviceName != "NVIDIA GeForce RTX 3060" || info.Version != "535.54.03" {
		t.Errorf("unexpected CUDA info %+v", info)
	}
	if manager.GetActiveBackend() != BackendCUDA {
		t.Errorf("expected CUDA, got %s", manager.GetActiveBackend())
	}
}

func TestManager_Initialize_DetectsOpenVINO(t *testing.T) {
	withProbes(t, failingExecCommand, nil, "/opt/intel/openvino_2024")

	manager := NewManager()
	if err := manager.Initialize(DefaultConfig()); err != nil {
		t.Fatalf("Initialize failed: %v", err)
	}
	if manager.GetActiveBackend() != BackendOpenVINO {
		t.Errorf("expected OpenVINO, got %s", manager.GetActiveBackend())
	}
	if !manager.IsAccelerated() {
		t.Error("OpenVINO should count as accelerated")
	}
}

func TestManager_Initialize_NoFallback(t *testing.T) {
	withProbes(t, failingExecCommand, nil)

	manager := NewManager()
	err := manager.Initialize(Config{PreferredBackend: BackendCUDA})
	if !errors.Is(err, ErrBackendNotAvailable) {
		t.Errorf("expected ErrBackendNotAvailable, got %v", err)
	}
}

func TestManager_IsAccelerated(t *testing.T) {
	tests := []struct {
		name     string
		backend  Backend
		expected bool
	}{
		{"CPU", BackendCPU, false},
		{"CUDA", BackendCUDA, true},
		{"OpenVINO", BackendOpenVINO, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			manager := &Manager{
				activeBackend: tt.backend,
			}
			if manager.IsAccelerated() != tt.expected {
				t.Errorf("IsAccelerated for %s: expected %v", tt.name, tt.expected)
			}
		})
	}
}

func TestManager_GetAllBackends(t *testing.T) {
	manager := &Manager{
		availableBackends: map[Backend]*BackendInfo{
			BackendCPU: {Backend: BackendCPU, Available: true},
		},
	}

	backends := manager.GetAllBackends()
	if len(backends) != 1 {
		t.Errorf("expected 1 backend, got %d", len(backends))
	}
	if _, ok := backends[BackendCPU]; !ok {
		t.Error("CPU backend should be in map")
	}
}

func TestManager_selectBackend(t *testing.T) {
	tests := []struct {
		name      string
		preferred Backend
		available map[Backend]*BackendInfo
		fallback  bool
		expected  Backend
		wantErr   bool
	}{
		{
			name:      "auto with only CPU",
			preferred: BackendAuto,
			available: map[Backend]*BackendInfo{
				BackendCPU: {Backend: BackendCPU, Available: true},
			},
			fallback: true,
			expected: BackendCPU,
		},
		{
			name:      "empty means auto",
			preferred: "",
			available: map[Backend]*BackendInfo{
				BackendCPU: {Backend: BackendCPU, Available: true},
			},
			expected: BackendCPU,
		},
		{
			name:      "auto prefers OpenVINO over CUDA",
			preferred: BackendAuto,
			available: map[Backend]*BackendInfo{
				BackendCPU:      {Backend: BackendCPU, Available: true},
				BackendCUDA:     {Backend: BackendCUDA, Available: true},
				BackendOpenVINO: {Backend: BackendOpenVINO, Available: true},
			},
			fallback: true,
			expected: BackendOpenVINO,
		},
		{
			name:      "specific backend available",
			preferred: BackendCUDA,
			available: map[Backend]*BackendInfo{
				BackendCPU:  {Backend: BackendCPU, Available: true},
				BackendCUDA: {Backend: BackendCUDA, Available: true},
			},
			fallback: true,
			expected: BackendCUDA,
		},
		{
			name:      "specific backend not available with fallback",
			preferred: BackendCUDA,
			available: map[Backend]*BackendInfo{
				BackendCPU: {Backend: BackendCPU, Available: true},
			},
			fallback: true,
			expected: BackendCPU,
		},
		{
			name:      "specific backend not available without fallback",
			preferred: BackendCUDA,
			available: map[Backend]*BackendInfo{
				BackendCPU: {Backend: BackendCPU, Available: true},
			},
			fallback: false,
			wantErr:  true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			manager := &Manager{
				availableBackends: tt.available,
				config: Config{
					FallbackToCPU: tt.fallback,
				},
			}
			result, err := manager.selectBackend(tt.preferred)
			if (err != nil) != tt.wantErr {
				t.Fatalf("unexpected error state: %v", err)
			}
			if result != tt.expected {
				t.Errorf("expected %s, got %s", tt.expected, result)
			}
		})
	}
}

func TestDNNNames(t *testing.T) {
	tests := []struct {
		backend     Backend
		target      string
		wantBackend string
		wantTarget  string
	}{
		{BackendCPU, "", "opencv", "cpu"},
		{BackendCPU, "fp16", "opencv", "cpu"},
		{BackendOpenVINO, "", "openvino", "cpu"},
		{BackendOpenVINO, "fp16", "openvino", "fp16"},
		{BackendOpenVINO, "vpu", "openvino", "vpu"},
		{BackendCUDA, "", "cuda", "cuda"},
		{BackendCUDA, "fp16", "cuda", "cuda_fp16"},
	}

	for _, tt := range tests {
		t.Run(string(tt.backend)+"/"+tt.target, func(t *testing.T) {
			b, tg := DNNNames(tt.backend, tt.target)
			if b != tt.wantBackend || tg != tt.wantTarget {
				t.Errorf("got (%s, %s), want (%s, %s)", b, tg, tt.wantBackend, tt.wantTarget)
			}
		})
	}
}

func TestManager_DNN(t *testing.T) {
	manager := &Manager{activeBackend: BackendOpenVINO, config: Config{Target: TargetFP16}}
	b, tg := manager.DNN()
	if b != "openvino" || tg != "fp16" {
		t.Errorf("got (%s, %s)", b, tg)
	}
}

func TestGetCPUName(t *testing.T) {
	if getCPUName() == "" {
		t.Error("getCPUName returned empty string")
	}
}

func BenchmarkManager_GetActiveBackend(b *testing.B) {
	manager := &Manager{
		activeBackend: BackendCPU,
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		manager.GetActiveBackend()
	}
}
