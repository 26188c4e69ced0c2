package main

import (
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/dokzlo13/quntisd/internal/config"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:   "quntisd",
	Short: "Quntis light bar bridge",
	Long: `quntisd controls a Quntis monitor light bar over 2.4 GHz by emulating
its XN297 remote with an nRF24L01 module.

The lamp never reports its state back. quntisd keeps a believed state,
nudges the lamp one step at a time toward what was requested, and exposes
it to Home Assistant over MQTT and to scripts over HTTP.`,
	SilenceUsage: true,
	Version:      version,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "config.yaml", "Path to configuration file")
}

// Execute runs the root command
func Execute() error {
	return rootCmd.Execute()
}

// loadConfig loads the configuration and sets up logging from it.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		log.Error().Err(err).Str("config", configPath).Msg("Failed to load configuration")
		return nil, err
	}
	setupLogging(cfg.Log.Level, cfg.Log.JSON, cfg.Log.Colors)
	return cfg, nil
}
