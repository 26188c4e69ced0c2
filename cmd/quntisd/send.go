package main

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/dokzlo13/quntisd/internal/app"
	"github.com/dokzlo13/quntisd/internal/remote"
)

var (
	sendSteps  int
	sendSingle bool
)

var sendCmd = &cobra.Command{
	Use:   "send <on-off|dim-up|dim-down|warmer|colder>",
	Short: "Send raw remote commands",
	Long: `Send one remote command, or --steps nudges of it spaced by the configured
step delay. Useful for checking the pairing and counting the lamp's steps.
The believed state kept by serve is not touched.`,
	Args: cobra.ExactArgs(1),
	RunE: runSend,
}

func init() {
	sendCmd.Flags().IntVarP(&sendSteps, "steps", "n", 1, "Number of nudges to send")
	sendCmd.Flags().BoolVar(&sendSingle, "single", false, "Send one frame per nudge instead of a burst")
	rootCmd.AddCommand(sendCmd)
}

func runSend(cmd *cobra.Command, args []string) error {
	command, ok := remote.ParseCommand(args[0])
	if !ok {
		return fmt.Errorf("unknown command %q", args[0])
	}
	if sendSteps < 1 {
		return fmt.Errorf("--steps must be at least 1, got %d", sendSteps)
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	tx, err := app.OpenTransmitter(cfg)
	if err != nil {
		return err
	}
	defer tx.Close()

	enc := remote.NewEncoder(tx, app.PayloadPrefix(cfg))
	repeat := !sendSingle || command == remote.CmdOnOff

	sent, err := nudge(app.SignalContext(), sendSteps, cfg.Lamp.StepDelay.Duration(), func() {
		enc.SendCommand(command, repeat)
	})

	log.Info().
		Str("cmd", command.String()).
		Int("sent", sent).
		Uint64("packets", tx.Packets()).
		Msg("Done")
	return err
}

// nudge calls send n times, delay apart, and returns how many went out.
// Cancelling ctx stops between nudges.
func nudge(ctx context.Context, n int, delay time.Duration, send func()) (int, error) {
	for i := 0; i < n; i++ {
		if i > 0 {
			timer := time.NewTimer(delay)
			select {
			case <-ctx.Done():
				timer.Stop()
				return i, ctx.Err()
			case <-timer.C:
			}
		}
		send()
	}
	return n, nil
}
