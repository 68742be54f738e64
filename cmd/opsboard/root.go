package main

import (
	"errors"
	"fmt"
	"io/fs"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/opsboard/opsboard/internal/config"
	"github.com/opsboard/opsboard/internal/logging"
)

// Set at build time.
var (
	Version   = "0.1.0"
	BuildTime = "dev"
)

var (
	configPath string
	envFile    string
)

var rootCmd = &cobra.Command{
	Use:   "opsboard",
	Short: "Live operations dashboard",
	Long: `opsboard serves a live dashboard of server status, client sessions and
tool calls, streamed to browsers over WebSocket and Server-Sent Events.

Run 'opsboard serve' to start the server, or 'opsboard watch' to follow a
running server and act when it asks clients to reload.`,
	Version:       Version,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("load %s: %w", envFile, err)
		}
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "config.yaml", "Path to config file")
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", ".env", "Environment file loaded before the config")

	rootCmd.SetVersionTemplate(fmt.Sprintf("opsboard %s (%s)\n", Version, BuildTime))

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(watchCmd)
}

// loadConfig reads the config file, falling back to defaults when it does
// not exist.
func loadConfig() (*config.Config, error) {
	cfg, err := config.LoadOrDefault(configPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	return cfg, nil
}

func initLogging(cfg *config.Config) {
	logging.Init(logging.Config{
		Level:  logging.ParseLevel(cfg.Server.LogLevel),
		Pretty: cfg.Server.DevMode,
	})
}
