package cmd

import (
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/andrei-cloud/go_desfire/pkg/desfire"
)

// crcCmd represents the crc command.
var crcCmd = &cobra.Command{
	Use:   "crc [data-hex]",
	Short: "Calculate card checksums",
	Long: `Calculate the checksum the card appends to protected frames: the 16-bit
ISO 14443-A CRC used by the legacy ciphers, or the 32-bit CRC used by
3K3DES and AES. Both are emitted least significant byte first.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		data, err := hex.DecodeString(args[0])
		if err != nil {
			return fmt.Errorf("invalid data hex: %w", err)
		}

		wide, _ := cmd.Flags().GetBool("wide")
		if wide {
			crc := desfire.CRC32(data)
			fmt.Fprintf(cmd.OutOrStdout(), "crc32: %s\n",
				strings.ToUpper(hex.EncodeToString(crc[:])))

			return nil
		}

		crc := desfire.CRC16(data)
		fmt.Fprintf(cmd.OutOrStdout(), "crc16: %s\n",
			strings.ToUpper(hex.EncodeToString(crc[:])))

		return nil
	},
}

func init() {
	rootCmd.AddCommand(crcCmd)

	crcCmd.Flags().BoolP("wide", "w", false, "Calculate the 32-bit CRC instead of the 16-bit one")
}
