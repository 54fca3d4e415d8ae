package main

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/pinglue/pg-repo-sub000/adapters/sqlite"
	"github.com/pinglue/pg-repo-sub000/config"
	"github.com/pinglue/pg-repo-sub000/core/analytics"
	"github.com/pinglue/pg-repo-sub000/core/formatter"
)

var (
	statsSince   time.Duration
	statsGroupBy []string
	statsPeriod  string
	statsChannel string
)

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Summarize recorded runs",
	Long: `Summarize the runs recorded in the sqlite analytics database.

Examples:
  pinglue stats
  pinglue stats --since 1h --group-by channel,caller
  pinglue stats --channel orders.created --period hour --format json`,
	RunE: runStats,
}

func init() {
	rootCmd.AddCommand(statsCmd)

	statsCmd.Flags().DurationVar(&statsSince, "since", 24*time.Hour, "summarize runs newer than this")
	statsCmd.Flags().StringSliceVar(&statsGroupBy, "group-by", []string{"channel"}, "group by channel, mode or caller")
	statsCmd.Flags().StringVar(&statsPeriod, "period", "", "bucket by minute, hour or day")
	statsCmd.Flags().StringVar(&statsChannel, "channel", "", "only this channel")
	statsCmd.Flags().StringVarP(&outputFormat, "format", "f", "table", "output format (table, json, yaml)")
	statsCmd.Flags().BoolVar(&noHeader, "no-header", false, "omit the table header")
}

func runStats(cmd *cobra.Command, args []string) error {
	f, err := lookupFormatter(outputFormat)
	if err != nil {
		return err
	}

	cfg, err := config.LoadWithFallback(cfgFile)
	if err != nil {
		return err
	}
	if cfg.Analytics.Driver != "sqlite" {
		return errors.New("stats reads the sqlite analytics database; set analytics.driver: sqlite")
	}

	db, err := sqlite.Open(cfg.Analytics.DSN)
	if err != nil {
		return err
	}
	defer db.Close()
	if err := db.Migrate(); err != nil {
		return err
	}

	store := analytics.NewSQLiteStore(db.DB, analytics.SQLiteConfig{Logger: zerolog.Nop()})
	defer store.Close()

	now := time.Now().UTC()
	summaries, err := store.Aggregate(context.Background(), analytics.AggregateOptions{
		Start:   now.Add(-statsSince),
		End:     now,
		GroupBy: statsGroupBy,
		Period:  statsPeriod,
		Channel: statsChannel,
	})
	if err != nil {
		return err
	}
	return f.FormatSummaries(cmd.OutOrStdout(), summaries, formatter.FormatOptions{NoHeader: noHeader})
}
