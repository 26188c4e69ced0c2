package main

import (
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/dokzlo13/quntisd/internal/remote"
	"github.com/dokzlo13/quntisd/internal/xn297"
)

var decodeAddressLength int

var decodeCmd = &cobra.Command{
	Use:   "decode <hex>",
	Short: "Decode a captured XN297 frame",
	Long: `Undo the XN297 whitening and bit order of a frame captured with an SDR or
a sniffing nRF24L01, and print the address, payload and CRC check. Use it
to find the address and payload prefix of a remote for the configuration.`,
	Args: cobra.ExactArgs(1),
	RunE: runDecode,
}

func init() {
	decodeCmd.Flags().IntVarP(&decodeAddressLength, "address-length", "a", 5, "Address length in bytes (3..5)")
	rootCmd.AddCommand(decodeCmd)
}

func runDecode(cmd *cobra.Command, args []string) error {
	raw, err := hex.DecodeString(strings.ReplaceAll(args[0], " ", ""))
	if err != nil {
		return fmt.Errorf("invalid hex: %w", err)
	}

	frame, err := xn297.DecodeFrame(raw, decodeAddressLength, remote.PayloadLength)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "address: %s\n", hex.EncodeToString(frame.Address))
	fmt.Fprintf(out, "payload: %s\n", hex.EncodeToString(frame.Payload))
	if len(frame.Payload) == remote.PayloadLength {
		c := remote.Command(frame.Payload[remote.PayloadLength-1])
		fmt.Fprintf(out, "prefix:  %s\n", hex.EncodeToString(frame.Payload[:remote.PrefixLength]))
		fmt.Fprintf(out, "index:   %d\n", frame.Payload[remote.PrefixLength])
		fmt.Fprintf(out, "command: %s (%#02x)\n", c, byte(c))
	}
	if frame.HasCRC {
		fmt.Fprintf(out, "crc:     %04x valid=%t\n", frame.CRC, frame.CRCValid)
	}
	return nil
}
