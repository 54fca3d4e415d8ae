package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/pinglue/pg-repo-sub000/adapters/sqlite"
	"github.com/pinglue/pg-repo-sub000/config"
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate configuration before deployment",
	Long: `Validate the pinglue configuration file.

Checks:
  - YAML syntax is valid
  - Required fields are present and enumerations are known
  - Channel declarations are unique and their settings valid
  - The analytics database can be migrated (optional)

Examples:
  pinglue validate
  pinglue validate --config /etc/pinglue/config.yaml --check-database`,
	RunE: runValidate,
}

var (
	validateCheckDatabase bool
)

func init() {
	rootCmd.AddCommand(validateCmd)

	validateCmd.Flags().BoolVar(&validateCheckDatabase, "check-database", false, "check that the analytics database can be migrated")
}

func runValidate(cmd *cobra.Command, args []string) error {
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Validating %s...\n\n", cfgFile)

	if _, err := os.Stat(cfgFile); os.IsNotExist(err) {
		fmt.Fprintf(out, "  %s Config file exists\n", crossMark)
		return fmt.Errorf("config file not found: %s", cfgFile)
	}
	fmt.Fprintf(out, "  %s Config file exists\n", checkMark)

	cfg, err := config.Load(cfgFile)
	if err != nil {
		fmt.Fprintf(out, "  %s Config valid\n", crossMark)
		return fmt.Errorf("config error: %w", err)
	}
	fmt.Fprintf(out, "  %s Config valid\n", checkMark)

	fmt.Fprintf(out, "  %s Channels declared: %d\n", checkMark, len(cfg.Channels))
	if cfg.Server.Enabled {
		fmt.Fprintf(out, "  %s Diagnostics server: %s\n", checkMark, cfg.Server.Addr())
	}
	if cfg.Analytics.Enabled {
		fmt.Fprintf(out, "  %s Analytics: %s\n", checkMark, cfg.Analytics.Driver)
	}
	if cfg.Exporter.Enabled {
		fmt.Fprintf(out, "  %s Exporter: %s %v\n", checkMark, cfg.Exporter.Schedule, cfg.Exporter.Sinks)
	}

	if validateCheckDatabase && cfg.Analytics.Driver == "sqlite" {
		if err := checkDatabase(cfg.Analytics.DSN); err != nil {
			fmt.Fprintf(out, "  %s Database migrates\n", crossMark)
			fmt.Fprintf(out, "      Error: %v\n", err)
		} else {
			fmt.Fprintf(out, "  %s Database migrates\n", checkMark)
		}
	}

	fmt.Fprintln(out)
	fmt.Fprintln(out, "Configuration is valid.")
	return nil
}

func checkDatabase(dsn string) error {
	db, err := sqlite.Open(dsn)
	if err != nil {
		return err
	}
	defer db.Close()
	return db.Migrate()
}

const (
	checkMark = "\033[32m✓\033[0m"
	crossMark = "\033[31m✗\033[0m"
)
