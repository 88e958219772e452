// Package snapshot writes the enrollment thumbnail of a new identity.
package snapshot

import (
	"bytes"
	"fmt"
	"image"
	"image/jpeg"
	"os"
	"path/filepath"
	"strconv"

	"github.com/nfnt/resize"
)

// DefaultQuality is the JPEG quality of written snapshots.
const DefaultQuality = 90

// Writer stores one JPEG per identity as <dir>/<id>.jpg.
type Writer struct {
	dir     string
	maxSize uint
	quality int
}

// NewWriter returns a writer into dir. A non-zero maxSize bounds the longer
// side of the stored image; zero keeps the full frame.
func NewWriter(dir string, maxSize uint) *Writer {
	return &Writer{dir: dir, maxSize: maxSize, quality: DefaultQuality}
}

// Dir returns the snapshot directory.
func (w *Writer) Dir() string {
	return w.dir
}

// Path returns the file a snapshot for id is written to.
func (w *Writer) Path(id int32) string {
	return filepath.Join(w.dir, strconv.Itoa(int(id))+".jpg")
}

// Write encodes img and stores it for id, replacing any previous file.
func (w *Writer) Write(id int32, img image.Image) (string, error) {
	if w.maxSize > 0 {
		img = resize.Thumbnail(w.maxSize, w.maxSize, img, resize.Lanczos3)
	}

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: w.quality}); err != nil {
		return "", fmt.Errorf("encode snapshot: %w", err)
	}

	if err := os.MkdirAll(w.dir, 0755); err != nil {
		return "", fmt.Errorf("create snapshot directory: %w", err)
	}

	path := w.Path(id)
	if err := os.WriteFile(path, buf.Bytes(), 0644); err != nil {
		return "", fmt.Errorf("write snapshot: %w", err)
	}
	return path, nil
}
