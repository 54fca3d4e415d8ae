package main

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/pinglue/pg-repo-sub000/bootstrap"
)

var (
	watchConfig bool
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the channel host",
	Long: `Start the pinglue host.

The host will:
  - Load configuration from pinglue.yaml (or --config)
  - Declare the configured channels
  - Record every run when analytics is enabled
  - Push periodic run summaries when the exporter is enabled
  - Serve /healthz, /channels, /runs and /metrics when the server is enabled

Environment variables override the file:
  PINGLUE_SERVER_ENABLED     - Enable the diagnostics server
  PINGLUE_SERVER_PORT        - Server port (default: 9470)
  PINGLUE_LOG_LEVEL          - Log level: debug, info, warn, error
  PINGLUE_ANALYTICS_ENABLED  - Record runs
  PINGLUE_ANALYTICS_DRIVER   - memory or sqlite

Examples:
  pinglue serve
  pinglue serve --config /etc/pinglue/config.yaml
  pinglue serve --watch=false`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().BoolVar(&watchConfig, "watch", true, "reload configuration on file change and SIGHUP")
}

func runServe(cmd *cobra.Command, args []string) error {
	app, err := bootstrap.New(bootstrap.Options{
		ConfigPath: cfgFile,
		Watch:      watchConfig,
		LogOutput:  os.Stdout,
		Version:    version,
	})
	if err != nil {
		return err
	}
	return app.Run(cmd.Context())
}
