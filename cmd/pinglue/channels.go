package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/pinglue/pg-repo-sub000/bootstrap"
	"github.com/pinglue/pg-repo-sub000/config"
	"github.com/pinglue/pg-repo-sub000/core/channel"
	"github.com/pinglue/pg-repo-sub000/core/formatter"
)

var (
	outputFormat string
	noHeader     bool
)

var channelsCmd = &cobra.Command{
	Use:   "channels [name]",
	Short: "Show declared channels",
	Long: `Show the channels declared in the configuration with their
effective settings.

Examples:
  pinglue channels
  pinglue channels orders.created --format yaml
  pinglue channels --format json`,
	Args: cobra.MaximumNArgs(1),
	RunE: runChannels,
}

func init() {
	rootCmd.AddCommand(channelsCmd)

	channelsCmd.Flags().StringVarP(&outputFormat, "format", "f", "table", "output format (table, json, yaml)")
	channelsCmd.Flags().BoolVar(&noHeader, "no-header", false, "omit the table header")
}

func runChannels(cmd *cobra.Command, args []string) error {
	f, err := lookupFormatter(outputFormat)
	if err != nil {
		return err
	}

	cfg, err := config.LoadWithFallback(cfgFile)
	if err != nil {
		return err
	}

	m := channel.NewManager()
	if err := bootstrap.DeclareChannels(context.Background(), m, cfg.Channels); err != nil {
		return err
	}

	opts := formatter.FormatOptions{NoHeader: noHeader}
	out := cmd.OutOrStdout()
	if len(args) == 1 {
		ch, ok := m.Channel(args[0])
		if !ok {
			return fmt.Errorf("channel %q is not declared", args[0])
		}
		return f.FormatReport(out, ch.Report(), opts)
	}
	return f.FormatReports(out, formatter.SortedReports(m.Report()), opts)
}

func lookupFormatter(name string) (formatter.Formatter, error) {
	f, ok := formatter.Get(name)
	if !ok {
		return nil, fmt.Errorf("unknown format %q (available: %v)", name, formatter.List())
	}
	return f, nil
}
