package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/xanthein/cvservice/pkg/config"
	"github.com/xanthein/cvservice/pkg/logging"
)

var (
	cfgFile string
	debug   bool
	cfg     *config.Config
)

var rootCmd = &cobra.Command{
	Use:   "cvservice [camera-index]",
	Short: "Camera face recognition service",
	Long: `cvservice reads frames from a camera, detects and recognizes faces against
the identity database, and publishes person/seen and person/registered events.
A message on commands/register enrolls the next unknown face.

Annotated frames are written to stdout as raw BGR24 video unless rendering is
disabled; logs go to stderr.`,
	Args:          cobra.MaximumNArgs(1),
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return initConfig()
	},
	RunE: runService,
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		reportFatal(err)
		os.Exit(1)
	}
}

// reportFatal logs the error that ends the process, so it also reaches the
// log file and syslog when those are enabled.
func reportFatal(err error) {
	logging.WithError(err).Error("cvservice exited with error")
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "Path to configuration file")
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "Enable debug logging")
}

func initConfig() error {
	// .env is optional
	if err := config.LoadDotEnv(); err != nil {
		return err
	}

	var err error
	if cfgFile != "" {
		cfg, err = config.Load(cfgFile)
		if err != nil {
			return fmt.Errorf("failed to load config %s: %w", cfgFile, err)
		}
	} else {
		cfg, err = config.LoadDefault()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Warning: Could not load config: %v\n", err)
			cfg = config.DefaultConfig()
		}
	}

	if err := cfg.ApplyEnv(); err != nil {
		return err
	}
	cfg.ExpandPaths()
	if debug {
		cfg.Logging.Level = "debug"
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	if err := logging.Init(cfg.Logging.Level, cfg.Logging.File); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: Could not initialize file logging: %v\n", err)
	}
	if cfg.Logging.Syslog {
		if err := logging.EnableSyslog("cvservice"); err != nil {
			logging.Warnf("Syslog unavailable: %v", err)
		}
	}

	logging.Debugf("cvservice %s starting, database: %s", Version, cfg.Storage.DatabasePath)
	return nil
}
