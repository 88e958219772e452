package acceleration

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Model names of the OpenVINO IR networks used by the pipeline.
const (
	DetectorModel  = "face-detection-adas-0001"
	LandmarksModel = "landmarks-regression-retail-0009"
	ReidModel      = "face-reidentification-retail-0095"
)

// DefaultPrecision is the IR precision directory downloaded by default.
const DefaultPrecision = "FP32"

const openModelZoo = "https://storage.openvinotoolkit.org/repositories/open_model_zoo/2023.0/models_bin/1"

// ErrModelNotFound is returned when a required model file is missing.
var ErrModelNotFound = errors.New("required model not found")

// ModelFile is one downloadable file of a model.
type ModelFile struct {
	Name  string // file name inside the models directory
	URL   string
	Bzip2 bool // URL serves a .bz2 archive of the file
}

// ModelSpec groups the files that make up one network.
type ModelSpec struct {
	Name  string
	Files []ModelFile
}

// IRPaths returns the topology and weights paths of an IR model in dir.
func IRPaths(dir, name string) (xml, bin string) {
	return filepath.Join(dir, name+".xml"), filepath.Join(dir, name+".bin")
}

// OpenVINOModels returns the detector, landmark and re-identification IR
// models at the given precision (FP32, FP16 or FP16-INT8).
func OpenVINOModels(precision string) []ModelSpec {
	if precision == "" {
		precision = DefaultPrecision
	}

	names := []string{DetectorModel, LandmarksModel, ReidModel}
	specs := make([]ModelSpec, 0, len(names))
	for _, name := range names {
		base := fmt.Sprintf("%s/%s/%s/%s", openModelZoo, name, precision, name)
		specs = append(specs, ModelSpec{
			Name: name,
			Files: []ModelFile{
				{Name: name + ".xml", URL: base + ".xml"},
				{Name: name + ".bin", URL: base + ".bin"},
			},
		})
	}
	return specs
}

// DlibModels returns the models the dlib detector loads from its directory.
func DlibModels() []ModelSpec {
	return []ModelSpec{
		{
			Name: "shape_predictor_5_face_landmarks",
			Files: []ModelFile{{
				Name:  "shape_predictor_5_face_landmarks.dat",
				URL:   "http://dlib.net/files/shape_predictor_5_face_landmarks.dat.bz2",
				Bzip2: true,
			}},
		},
		{
			Name: "dlib_face_recognition_resnet_model_v1",
			Files: []ModelFile{{
				Name:  "dlib_face_recognition_resnet_model_v1.dat",
				URL:   "http://dlib.net/files/dlib_face_recognition_resnet_model_v1.dat.bz2",
				Bzip2: true,
			}},
		},
		{
			Name: "mmod_human_face_detector",
			Files: []ModelFile{{
				Name:  "mmod_human_face_detector.dat",
				URL:   "http://dlib.net/files/mmod_human_face_detector.dat.bz2",
				Bzip2: true,
			}},
		},
	}
}

// VerifyModels checks that every file of specs exists in dir.
func VerifyModels(dir string, specs []ModelSpec) error {
	var missing []string
	for _, spec := range specs {
		for _, f := range spec.Files {
			path := filepath.Join(dir, f.Name)
			if _, err := statPath(path); err != nil {
				if os.IsNotExist(err) {
					missing = append(missing, f.Name)
					continue
				}
				return fmt.Errorf("stat %s: %w", path, err)
			}
		}
	}

	if len(missing) > 0 {
		return fmt.Errorf("%w in %s: %s (run 'cvservice download-models' to download)",
			ErrModelNotFound, dir, strings.Join(missing, ", "))
	}
	return nil
}
