package main

import (
	"github.com/spf13/cobra"

	"github.com/voicestream/voicestream/internal/config"
	"github.com/voicestream/voicestream/internal/logging"
)

var (
	envFiles []string
	logLevel string
)

var rootCmd = &cobra.Command{
	Use:           "voicestream",
	Short:         "Stream Opus audio into a Discord voice channel",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringSliceVar(&envFiles, "env", nil, "dotenv files to load (default .env)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level, overrides $LOG_LEVEL")

	rootCmd.AddCommand(playCmd)
	rootCmd.AddCommand(probeCmd)
}

// loadConfig loads the configuration and installs the logger.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	cfg, err := config.Load(cmd.Context(), envFiles...)
	if err != nil {
		return nil, err
	}

	level := cfg.LogLevel
	if logLevel != "" {
		level = logLevel
	}

	if _, err := logging.Init(level); err != nil {
		return nil, err
	}

	return cfg, nil
}
