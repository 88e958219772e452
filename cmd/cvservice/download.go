package main

import (
	"compress/bzip2"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"
	"github.com/xanthein/cvservice/pkg/acceleration"
	"github.com/xanthein/cvservice/pkg/config"
	"github.com/xanthein/cvservice/pkg/logging"
)

var downloadCmd = &cobra.Command{
	Use:   "download-models [dir]",
	Short: "Download the detection, landmark and re-identification models",
	Long: `Downloads the OpenVINO IR networks at the configured precision, plus the
dlib models when the dlib detector is selected. Existing files are skipped.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		modelDir := cfg.Models.Path
		if len(args) > 0 {
			modelDir = config.ExpandPath(args[0])
		}

		return downloadModels(modelDir, requiredModels(cfg))
	},
}

func init() {
	rootCmd.AddCommand(downloadCmd)
}

// requiredModels lists the models the configured pipeline loads.
func requiredModels(c *config.Config) []acceleration.ModelSpec {
	specs := acceleration.OpenVINOModels(c.Models.Precision)
	if c.Recognition.Detector == config.DetectorDlib {
		specs = append(specs, acceleration.DlibModels()...)
	}
	return specs
}

func downloadModels(modelDir string, specs []acceleration.ModelSpec) error {
	logging.Infof("Downloading models to: %s", modelDir)

	if err := os.MkdirAll(modelDir, 0755); err != nil {
		return fmt.Errorf("failed to create model directory: %w", err)
	}

	client := &http.Client{Timeout: 10 * time.Minute}
	for _, spec := range specs {
		for _, f := range spec.Files {
			targetPath := filepath.Join(modelDir, f.Name)
			if _, err := os.Stat(targetPath); err == nil {
				logging.Infof("Model file %s already exists, skipping", f.Name)
				continue
			}

			if err := downloadFile(client, f, targetPath); err != nil {
				return fmt.Errorf("failed to download %s: %w", f.Name, err)
			}
			logging.Infof("Successfully downloaded %s", f.Name)
		}
	}

	if err := acceleration.VerifyModels(modelDir, specs); err != nil {
		return err
	}
	logging.Infof("All models downloaded successfully!")
	return nil
}

// downloadFile fetches f into targetPath through a temporary file, so an
// interrupted download never leaves a truncated model behind.
func downloadFile(client *http.Client, f acceleration.ModelFile, targetPath string) error {
	resp, err := client.Get(f.URL)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("bad status: %s", resp.Status)
	}

	tmp := targetPath + ".part"
	out, err := os.Create(tmp)
	if err != nil {
		return err
	}

	bar := progressbar.DefaultBytes(resp.ContentLength, f.Name)
	var src io.Reader = io.TeeReader(resp.Body, bar)
	if f.Bzip2 {
		src = bzip2.NewReader(src)
	}

	if _, err := io.Copy(out, src); err != nil {
		_ = out.Close()
		_ = os.Remove(tmp)
		return err
	}
	if err := out.Close(); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	return os.Rename(tmp, targetPath)
}
