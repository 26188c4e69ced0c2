package main

import (
	"encoding/hex"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/dokzlo13/quntisd/internal/app"
	"github.com/dokzlo13/quntisd/internal/remote"
	"github.com/dokzlo13/quntisd/internal/xn297"
)

var frameNoCRC bool

var frameCmd = &cobra.Command{
	Use:   "frame <index> <on-off|dim-up|dim-down|warmer|colder>",
	Short: "Print the on-air frame for a command",
	Long: `Print the payload and the XN297 on-air bytes the lamp would receive for
one command at the given rolling index. No radio is needed.`,
	Args: cobra.ExactArgs(2),
	RunE: runFrame,
}

func init() {
	frameCmd.Flags().BoolVar(&frameNoCRC, "no-crc", false, "Omit the trailing CRC")
	rootCmd.AddCommand(frameCmd)
}

func runFrame(cmd *cobra.Command, args []string) error {
	index, err := strconv.ParseUint(args[0], 0, 8)
	if err != nil {
		return fmt.Errorf("invalid index %q: %w", args[0], err)
	}
	command, ok := remote.ParseCommand(args[1])
	if !ok {
		return fmt.Errorf("unknown command %q", args[1])
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	payload := remote.NewEncoder(nil, app.PayloadPrefix(cfg)).Frame(uint8(index), command)
	settings := app.RadioSettings(cfg)
	onAir, err := xn297.EncodeFrame(settings.Address[:settings.AddressLength], payload, !frameNoCRC)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "payload: %s\n", hex.EncodeToString(payload))
	fmt.Fprintf(out, "on-air:  %s\n", hex.EncodeToString(onAir))
	return nil
}
