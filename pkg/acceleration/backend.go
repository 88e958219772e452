// Package acceleration selects the inference backend for the DNN models.
// It supports plain CPU through OpenCV, Intel OpenVINO (CPU, GPU, VPU) and
// NVIDIA CUDA, and reports the choice as OpenCV DNN backend/target names.
package acceleration

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"
	"sync"

	"github.com/xanthein/cvservice/pkg/logging"
)

// Backend represents an acceleration backend type.
type Backend string

const (
	// BackendCPU runs the OpenCV reference implementation (always available).
	BackendCPU Backend = "cpu"

	// BackendOpenVINO is the Intel inference engine. IR models are built for it.
	BackendOpenVINO Backend = "openvino"

	// BackendCUDA is the OpenCV CUDA backend for NVIDIA GPUs.
	// OpenCV must be built with CUDA support for this to work.
	BackendCUDA Backend = "cuda"

	// BackendAuto automatically selects the best available backend.
	BackendAuto Backend = "auto"
)

// Device targets understood by OpenCV DNN.
const (
	TargetCPU      = "cpu"
	TargetFP16     = "fp16"
	TargetVPU      = "vpu"
	TargetCUDA     = "cuda"
	TargetCUDAFP16 = "cuda_fp16"
)

// BackendInfo contains information about an acceleration backend.
type BackendInfo struct {
	Backend     Backend
	Name        string
	Available   bool
	Version     string
	DeviceName  string
	DeviceCount int
}

// Config holds acceleration configuration.
type Config struct {
	PreferredBackend Backend
	FallbackToCPU    bool
	// Target is "cpu", "fp16" (GPU) or "vpu" for OpenVINO, and "fp16" for
	// half precision on CUDA. Empty selects the backend's default.
	Target string
}

// DefaultConfig returns default acceleration configuration.
func DefaultConfig() Config {
	return Config{
		PreferredBackend: BackendAuto,
		FallbackToCPU:    true,
	}
}

// Manager manages acceleration backends.
type Manager struct {
	config            Config
	activeBackend     Backend
	availableBackends map[Backend]*BackendInfo
	mu                sync.RWMutex
	initialized       bool
}

// Global manager instance
var (
	globalManager *Manager
	managerOnce   sync.Once
)

// Probes, swapped out in tests.
var (
	execCommand = exec.Command
	lookupEnv   = os.Getenv
	statPath    = os.Stat
)

// GetManager returns the global acceleration manager.
func GetManager() *Manager {
	managerOnce.Do(func() {
		globalManager = NewManager()
	})
	return globalManager
}

// NewManager returns an uninitialized manager with the default config.
func NewManager() *Manager {
	return &Manager{
		config:            DefaultConfig(),
		activeBackend:     BackendCPU,
		availableBackends: make(map[Backend]*BackendInfo),
	}
}

// Initialize detects the available backends and selects one.
func (m *Manager) Initialize(cfg Config) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.config = cfg
	m.detectBackends()

	backend, err := m.selectBackend(cfg.PreferredBackend)
	if err != nil {
		return err
	}
	m.activeBackend = backend
	m.initialized = true

	if info := m.availableBackends[backend]; info != nil {
		logging.Infof("Acceleration initialized: %s (%s)", info.Name, info.DeviceName)
	}
	return nil
}

// detectBackends detects all available acceleration backends.
func (m *Manager) detectBackends() {
	m.availableBackends[BackendCPU] = &BackendInfo{
		Backend:     BackendCPU,
		Name:        "CPU (OpenCV)",
		Available:   true,
		DeviceName:  getCPUName(),
		DeviceCount: runtime.NumCPU(),
	}

	if info := detectOpenVINO(); info != nil {
		m.availableBackends[BackendOpenVINO] = info
	}
	if info := detectCUDA(); info != nil {
		m.availableBackends[BackendCUDA] = info
	}
}

// selectBackend selects the best available backend.
func (m *Manager) selectBackend(preferred Backend) (Backend, error) {
	if preferred == "" {
		preferred = BackendAuto
	}

	if preferred != BackendAuto {
		if info, ok := m.availableBackends[preferred]; ok && info.Available {
			return preferred, nil
		}
		if !m.config.FallbackToCPU {
			return "", fmt.Errorf("%w: %s", ErrBackendNotAvailable, preferred)
		}
		logging.Warnf("Requested backend %s not available, falling back to CPU", preferred)
		return BackendCPU, nil
	}

	// IR models run best on their native engine.
	priorities := []Backend{BackendOpenVINO, BackendCUDA, BackendCPU}
	for _, backend := range priorities {
		if info, ok := m.availableBackends[backend]; ok && info.Available {
			return backend, nil
		}
	}
	return BackendCPU, nil
}

// GetActiveBackend returns the currently active backend.
func (m *Manager) GetActiveBackend() Backend {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.activeBackend
}

// GetBackendInfo returns information about a specific backend.
func (m *Manager) GetBackendInfo(backend Backend) *BackendInfo {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.availableBackends[backend]
}

// GetAllBackends returns information about all detected backends.
func (m *Manager) GetAllBackends() map[Backend]*BackendInfo {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make(map[Backend]*BackendInfo)
	for k, v := range m.availableBackends {
		result[k] = v
	}
	return result
}

// IsAccelerated returns true if inference runs off the OpenCV CPU path.
func (m *Manager) IsAccelerated() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.activeBackend != BackendCPU
}

// DNN returns the OpenCV DNN backend and target names for the active backend.
func (m *Manager) DNN() (backend, target string) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return DNNNames(m.activeBackend, m.config.Target)
}

// DNNNames maps a backend and requested target onto OpenCV DNN names.
func DNNNames(b Backend, target string) (string, string) {
	switch b {
	case BackendOpenVINO:
		switch target {
		case TargetFP16, TargetVPU:
			return "openvino", target
		}
		return "openvino", TargetCPU
	case BackendCUDA:
		if target == TargetFP16 {
			return "cuda", TargetCUDAFP16
		}
		return "cuda", TargetCUDA
	default:
		return "opencv", TargetCPU
	}
}

// detectCUDA detects NVIDIA CUDA availability.
func detectCUDA() *BackendInfo {
	output, err := execCommand("nvidia-smi", "--query-gpu=name,driver_version", "--format=csv,noheader").Output()
	if err != nil {
		return nil
	}

	lines := strings.Split(strings.TrimSpace(string(output)), "\n")
	if len(lines) == 0 || lines[0] == "" {
		return nil
	}

	info := &BackendInfo{
		Backend:     BackendCUDA,
		Name:        "NVIDIA CUDA",
		Available:   true,
		DeviceCount: len(lines),
	}
	parts := strings.Split(lines[0], ",")
	info.DeviceName = strings.TrimSpace(parts[0])
	if len(parts) >= 2 {
		info.Version = strings.TrimSpace(parts[1])
	}
	return info
}

// detectOpenVINO detects Intel OpenVINO availability.
func detectOpenVINO() *BackendInfo {
	openvinoPath := lookupEnv("INTEL_OPENVINO_DIR")
	if openvinoPath == "" {
		commonPaths := []string{
			"/opt/intel/openvino",
			"/opt/intel/openvino_2024",
			"/opt/intel/openvino_2023",
		}
		for _, p := range commonPaths {
			if _, err := statPath(p); err == nil {
				openvinoPath = p
				break
			}
		}
	}
	if openvinoPath == "" {
		return nil
	}

	info := &BackendInfo{
		Backend:     BackendOpenVINO,
		Name:        "Intel OpenVINO",
		Available:   true,
		Version:     getOpenVINOVersion(openvinoPath),
		DeviceName:  detectIntelDevice(),
		DeviceCount: 1,
	}
	return info
}

// getOpenVINOVersion gets the OpenVINO version.
func getOpenVINOVersion(path string) string {
	if data, err := os.ReadFile(filepath.Join(path, "version.txt")); err == nil {
		return strings.TrimSpace(string(data))
	}
	return "unknown"
}

// detectIntelDevice detects an Intel GPU or VPU.
func detectIntelDevice() string {
	devices, _ := filepath.Glob("/sys/class/drm/card*/device/vendor")
	for _, dev := range devices {
		vendor, _ := os.ReadFile(dev)
		if strings.TrimSpace(string(vendor)) == "0x8086" { // Intel vendor ID
			if nameData, err := os.ReadFile(filepath.Join(filepath.Dir(dev), "device")); err == nil {
				return fmt.Sprintf("Intel GPU (device: %s)", strings.TrimSpace(string(nameData)))
			}
			return "Intel GPU"
		}
	}

	if _, err := statPath("/dev/accel/accel0"); err == nil {
		return "Intel NPU"
	}
	return "Intel (CPU inference)"
}

// getCPUName returns the CPU name.
func getCPUName() string {
	data, err := os.ReadFile("/proc/cpuinfo")
	if err != nil {
		return "Unknown CPU"
	}

	for _, line := range strings.Split(string(data), "\n") {
		if strings.HasPrefix(line, "model name") {
			parts := strings.SplitN(line, ":", 2)
			if len(parts) == 2 {
				return strings.TrimSpace(parts[1])
			}
		}
	}
	return "Unknown CPU"
}

// ErrBackendNotAvailable is returned when a requested backend is not available.
var ErrBackendNotAvailable = errors.New("acceleration backend not available")
