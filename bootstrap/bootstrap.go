// Package bootstrap wires all dependencies and runs the application:
// channel manager, controller host, run analytics, scheduled exports and
// the diagnostics server.
package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	"github.com/pinglue/pg-repo-sub000/adapters/metrics"
	"github.com/pinglue/pg-repo-sub000/adapters/sqlite"
	"github.com/pinglue/pg-repo-sub000/config"
	"github.com/pinglue/pg-repo-sub000/core/analytics"
	"github.com/pinglue/pg-repo-sub000/core/channel"
	"github.com/pinglue/pg-repo-sub000/core/exporter"
	"github.com/pinglue/pg-repo-sub000/core/host"
)

// App represents the running application.
type App struct {
	Config   *config.Holder
	Logger   zerolog.Logger
	Registry *prometheus.Registry
	Metrics  *metrics.Collector

	Manager *channel.Manager
	Host    *host.Container

	// Analytics is nil when analytics is disabled.
	Analytics analytics.Analytics
	// Exporter is nil when exports are disabled.
	Exporter *exporter.Scheduler
	// HTTPServer is nil when the diagnostics server is disabled.
	HTTPServer *http.Server

	db *sqlite.DB

	controllers []host.Controller
	watch       bool
	serverErr   chan error
}

// Options configures application initialization.
type Options struct {
	// ConfigPath is the YAML file to load. Missing files fall back to
	// defaults plus environment overrides.
	ConfigPath string

	// Config, when set, is used as is and ConfigPath is ignored.
	Config *config.Config

	// Watch reloads the config file on change and on SIGHUP.
	Watch bool

	// LogOutput receives log lines (default: stdout).
	LogOutput io.Writer

	// Version is reported by the diagnostics server.
	Version string

	// Controllers are loaded, in order, by Start.
	Controllers []host.Controller
}

// New loads configuration and wires the application. Nothing runs until
// Start.
func New(opts Options) (*App, error) {
	holder, err := newHolder(opts)
	if err != nil {
		return nil, err
	}

	a, err := build(holder, LogOutput(opts.LogOutput), Version(opts.Version))
	if err != nil {
		return nil, err
	}
	a.controllers = opts.Controllers
	a.watch = opts.Watch && holder.Path() != ""
	a.serverErr = make(chan error, 1)
	return a, nil
}

func newHolder(opts Options) (*config.Holder, error) {
	bootLogger := zerolog.Nop()
	if opts.Config != nil {
		if err := config.Validate(opts.Config); err != nil {
			return nil, fmt.Errorf("validate config: %w", err)
		}
		return config.NewStaticHolder(opts.Config, bootLogger), nil
	}
	if opts.ConfigPath != "" {
		if _, err := os.Stat(opts.ConfigPath); err == nil {
			return config.NewHolder(opts.ConfigPath, bootLogger)
		}
	}
	cfg, err := config.LoadWithFallback("")
	if err != nil {
		return nil, err
	}
	return config.NewStaticHolder(cfg, bootLogger), nil
}

// Start declares configured channels, loads controllers and starts the
// background services.
func (a *App) Start(ctx context.Context) error {
	cfg := a.Config.Get()

	if err := DeclareChannels(ctx, a.Manager, cfg.Channels); err != nil {
		return err
	}
	a.Logger.Info().Int("channels", len(cfg.Channels)).Msg("declared configured channels")

	for _, ctrl := range a.controllers {
		if err := a.Host.Load(ctx, ctrl); err != nil {
			return err
		}
	}

	a.Config.OnChange(a.applyConfig)
	if a.watch {
		if err := a.Config.WatchFile(); err != nil {
			a.Logger.Warn().Err(err).Msg("config file watch unavailable")
		}
		a.Config.WatchSignals()
	}

	if a.Exporter != nil {
		if err := a.Exporter.Start(); err != nil {
			return err
		}
	}

	if a.HTTPServer != nil {
		go func() {
			a.Logger.Info().Str("addr", a.HTTPServer.Addr).Msg("starting diagnostics server")
			if err := a.HTTPServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				a.serverErr <- err
			}
		}()
	}
	return nil
}

// applyConfig applies the reloadable parts of a new configuration.
func (a *App) applyConfig(cfg *config.Config) {
	SetLogLevel(cfg.Logging.Level)
	if err := DeclareChannels(context.Background(), a.Manager, cfg.Channels); err != nil {
		a.Logger.Error().Err(err).Msg("reapply channel declarations")
	}
}

// Run starts the application and blocks until ctx is done, SIGINT/SIGTERM
// arrives or the server fails, then shuts down.
func (a *App) Run(ctx context.Context) error {
	if err := a.Start(ctx); err != nil {
		a.shutdown()
		return err
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(quit)

	var runErr error
	select {
	case err := <-a.serverErr:
		runErr = fmt.Errorf("server error: %w", err)
	case sig := <-quit:
		a.Logger.Info().Str("signal", sig.String()).Msg("shutting down")
	case <-ctx.Done():
		a.Logger.Info().Msg("context done, shutting down")
	}

	if err := a.shutdown(); err != nil && runErr == nil {
		runErr = err
	}
	return runErr
}

func (a *App) shutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	return a.Shutdown(ctx)
}

// Shutdown stops every service in reverse start order and flushes pending
// analytics.
func (a *App) Shutdown(ctx context.Context) error {
	var errs []error

	a.Config.Stop()

	if a.HTTPServer != nil {
		if err := a.HTTPServer.Shutdown(ctx); err != nil {
			a.Logger.Error().Err(err).Msg("http server shutdown error")
			errs = append(errs, err)
		}
	}

	if a.Exporter != nil {
		if err := a.Exporter.Stop(ctx); err != nil {
			a.Logger.Error().Err(err).Msg("export scheduler stop error")
			errs = append(errs, err)
		}
	}

	if err := a.Host.Close(ctx); err != nil {
		a.Logger.Error().Err(err).Msg("controller shutdown error")
		errs = append(errs, err)
	}

	if a.Analytics != nil {
		if err := a.Analytics.Close(); err != nil {
			a.Logger.Error().Err(err).Msg("analytics close error")
			errs = append(errs, err)
		}
	}

	if a.db != nil {
		if err := a.db.Close(); err != nil {
			a.Logger.Error().Err(err).Msg("database close error")
			errs = append(errs, err)
		}
	}

	a.Logger.Info().Msg("shutdown complete")
	return errors.Join(errs...)
}
