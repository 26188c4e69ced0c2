package main

import (
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/dokzlo13/quntisd/internal/app"
)

var resetState bool

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the bridge",
	Long: `Run the control loop with the MQTT and HTTP front ends enabled in the
configuration. The last settled lamp state is restored from the database
on start without sending anything.`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().BoolVar(&resetState, "reset-state", false, "Forget the stored lamp state on startup")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	log.Info().Str("config", configPath).Str("version", version).Msg("Starting quntisd")

	application, err := app.New(cfg, version)
	if err != nil {
		log.Error().Err(err).Msg("Failed to create application")
		return err
	}

	if resetState {
		log.Info().Msg("Clearing stored lamp state (--reset-state)")
		if err := application.ClearLampState(); err != nil {
			log.Warn().Err(err).Msg("Failed to clear lamp state")
		}
	}

	// Create context that cancels on shutdown signal
	ctx := app.SignalContext()

	if err := application.Start(ctx); err != nil {
		log.Error().Err(err).Msg("Failed to start application")
		application.Stop()
		return err
	}

	application.Wait()

	if err := application.Stop(); err != nil {
		log.Error().Err(err).Msg("Error during shutdown")
		return err
	}
	return nil
}
