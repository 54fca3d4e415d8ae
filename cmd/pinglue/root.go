package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	// Global flags
	cfgFile string
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "pinglue",
	Short: "Channel manager host with run analytics",
	Long: `pinglue hosts named channels that controllers glue handlers to.

Channels are declared in the config file or by controllers at startup.
Every run is recorded so its outcome can be inspected later.

Quick start:
  pinglue validate   # Check the configuration
  pinglue serve      # Start the host and diagnostics server

Inspection:
  pinglue channels   # Show declared channels and their settings
  pinglue stats      # Summarize recorded runs`,
	SilenceUsage: true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "pinglue.yaml", "config file path")
}
