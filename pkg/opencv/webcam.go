package opencv

import (
	"fmt"
	"time"

	"github.com/xanthein/cvservice/pkg/camera"
	"github.com/xanthein/cvservice/pkg/logging"
	"gocv.io/x/gocv"
)

// Webcam is a camera.Camera over a gocv video capture.
type Webcam struct {
	capture *gocv.VideoCapture
	frame   gocv.Mat
	index   uint64
}

// OpenWebcam opens the capture device. A zero width or height keeps the
// driver's default resolution.
func OpenWebcam(device, width, height int) (*Webcam, error) {
	capture, err := gocv.OpenVideoCapture(device)
	if err != nil {
		return nil, fmt.Errorf("%w: %d: %v", camera.ErrCameraNotFound, device, err)
	}
	if !capture.IsOpened() {
		capture.Close()
		return nil, fmt.Errorf("%w: %d", camera.ErrCameraNotFound, device)
	}

	if width > 0 && height > 0 {
		capture.Set(gocv.VideoCaptureFrameWidth, float64(width))
		capture.Set(gocv.VideoCaptureFrameHeight, float64(height))
	}

	logging.WithFields(logging.Fields{
		"device": device,
		"width":  capture.Get(gocv.VideoCaptureFrameWidth),
		"height": capture.Get(gocv.VideoCaptureFrameHeight),
	}).Info("Camera opened")

	return &Webcam{capture: capture, frame: gocv.NewMat()}, nil
}

// Capture reads the next frame.
func (w *Webcam) Capture() (camera.Frame, error) {
	if w.capture == nil {
		return camera.Frame{}, camera.ErrCameraNotOpen
	}
	if ok := w.capture.Read(&w.frame); !ok || w.frame.Empty() {
		return camera.Frame{}, camera.ErrNoFrame
	}

	src := w.frame
	if src.Channels() != 3 {
		bgr := gocv.NewMat()
		defer bgr.Close()
		gocv.CvtColor(w.frame, &bgr, gocv.ColorGrayToBGR)
		src = bgr
	}

	img, err := camera.FromBGR(src.ToBytes(), src.Cols(), src.Rows())
	if err != nil {
		return camera.Frame{}, err
	}

	w.index++
	return camera.Frame{Image: img, Timestamp: time.Now(), Index: w.index}, nil
}

// Close releases the device.
func (w *Webcam) Close() error {
	if w.capture == nil {
		return nil
	}
	w.frame.Close()
	err := w.capture.Close()
	w.capture = nil
	return err
}
