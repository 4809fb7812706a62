// Package cmd provides the CLI commands for the go_desfire application.
package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/andrei-cloud/go_desfire/internal/config"
	"github.com/andrei-cloud/go_desfire/internal/logging"
)

var (
	debug bool
	human bool
)

// rootCmd represents the base command when called without any subcommands.
var rootCmd = &cobra.Command{
	Use:   "go_desfire",
	Short: "DESFire card tooling and reader bridge",
	Long: `Utilities for working with MIFARE DESFire cards: key version inspection,
checksum calculation, card interrogation over a serial SL032 reader or a
PC/SC device, and a TCP bridge exposing a local reader to the network.`,
	PersistentPreRunE: func(_ *cobra.Command, _ []string) error {
		if err := config.Initialize(); err != nil {
			return fmt.Errorf("failed to initialize config: %w", err)
		}
		cfg := config.Get()
		logging.InitLogger(
			debug || cfg.Log.Level == "debug",
			human || cfg.Log.Format == "human",
		)

		return nil
	},
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "Enable debug logging")
	rootCmd.PersistentFlags().BoolVar(&human, "human", false, "Enable human-readable logs")
}
