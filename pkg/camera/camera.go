// Package camera provides frame acquisition types and V4L2 device discovery.
// The concrete webcam lives in pkg/opencv.
package camera

import (
	"errors"
	"fmt"
	"image"
	"os/exec"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"
)

// Frame represents a single camera frame.
type Frame struct {
	Image     *image.RGBA
	Timestamp time.Time
	Index     uint64
}

// DeviceInfo contains information about a camera device.
type DeviceInfo struct {
	Index  int
	Path   string
	Name   string
	Driver string
}

// Camera defines the interface for camera operations.
type Camera interface {
	// Capture blocks until the next frame is available.
	Capture() (Frame, error)
	Close() error
}

// ErrCameraNotFound is returned when the camera device is not found.
var ErrCameraNotFound = errors.New("camera device not found")

// ErrCameraNotOpen is returned when trying to capture from a closed camera.
var ErrCameraNotOpen = errors.New("camera not open")

// ErrNoFrame is returned when no frame could be captured.
var ErrNoFrame = errors.New("failed to capture frame")

// ErrFrameSize is returned when raw pixel data does not match the frame size.
var ErrFrameSize = errors.New("frame data size mismatch")

var (
	execCommand = exec.Command
	globDevices = filepath.Glob
)

// FromBGR converts packed 8-bit BGR pixels into an RGBA image.
func FromBGR(data []byte, width, height int) (*image.RGBA, error) {
	if width <= 0 || height <= 0 || len(data) != width*height*3 {
		return nil, fmt.Errorf("%w: %d bytes for %dx%d", ErrFrameSize, len(data), width, height)
	}

	img := image.NewRGBA(image.Rect(0, 0, width, height))
	for i, j := 0, 0; i < len(data); i, j = i+3, j+4 {
		img.Pix[j] = data[i+2]
		img.Pix[j+1] = data[i+1]
		img.Pix[j+2] = data[i]
		img.Pix[j+3] = 0xff
	}
	return img, nil
}

// ListCameras returns the V4L2 capture devices, ordered by index.
func ListCameras() ([]DeviceInfo, error) {
	paths, err := globDevices("/dev/video*")
	if err != nil {
		return nil, fmt.Errorf("list video devices: %w", err)
	}

	var devices []DeviceInfo
	for _, p := range paths {
		idx, err := strconv.Atoi(strings.TrimPrefix(filepath.Base(p), "video"))
		if err != nil {
			continue
		}
		info := DeviceInfo{Index: idx, Path: p, Name: filepath.Base(p)}
		if out, err := execCommand("v4l2-ctl", "-d", p, "--info").Output(); err == nil {
			parseV4L2Info(string(out), &info)
		}
		devices = append(devices, info)
	}

	sort.Slice(devices, func(i, j int) bool { return devices[i].Index < devices[j].Index })
	return devices, nil
}

func parseV4L2Info(out string, info *DeviceInfo) {
	for _, line := range strings.Split(out, "\n") {
		key, value, ok := strings.Cut(line, ":")
		if !ok {
			continue
		}
		switch strings.TrimSpace(key) {
		case "Driver name":
			info.Driver = strings.TrimSpace(value)
		case "Card type":
			info.Name = strings.TrimSpace(value)
		}
	}
}
