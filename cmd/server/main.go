package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"talentgrid/backend/internal/config"
	"talentgrid/backend/internal/logging"
)

// Version is the current server version
const Version = "1.0.0"

var (
	cfgFile string
	debug   bool
)

var rootCmd = &cobra.Command{
	Use:           "server",
	Short:         "Multi-tenant workflow orchestration service",
	Version:       Version,
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE:          runServe,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "path to config.yaml")
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "enable debug logging")
	rootCmd.CompletionOptions.DisableDefaultCmd = true

	rootCmd.AddCommand(serveCmd, cleanupCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// loadConfig reads the configuration and builds the logger it describes.
func loadConfig() (*config.Config, *logging.Logger, error) {
	cfg, err := config.LoadConfig(cfgFile)
	if err != nil {
		return nil, nil, err
	}
	level := cfg.Log.Level
	if debug {
		level = "debug"
	}
	logger := logging.New(logging.Options{
		Level:      level,
		Format:     cfg.Log.Format,
		Output:     cfg.Log.Output,
		FilePath:   cfg.Log.FilePath,
		MaxSizeMB:  cfg.Log.MaxSizeMB,
		MaxBackups: cfg.Log.MaxBackups,
		MaxAgeDays: cfg.Log.MaxAgeDays,
	})
	return cfg, logger, nil
}
