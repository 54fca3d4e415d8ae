package bootstrap

import (
	"fmt"
	"io"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog"
	"go.uber.org/dig"

	"github.com/pinglue/pg-repo-sub000/adapters/clock"
	apihttp "github.com/pinglue/pg-repo-sub000/adapters/http"
	"github.com/pinglue/pg-repo-sub000/adapters/idgen"
	"github.com/pinglue/pg-repo-sub000/adapters/messenger"
	"github.com/pinglue/pg-repo-sub000/adapters/metrics"
	"github.com/pinglue/pg-repo-sub000/adapters/sqlite"
	"github.com/pinglue/pg-repo-sub000/config"
	"github.com/pinglue/pg-repo-sub000/core/analytics"
	"github.com/pinglue/pg-repo-sub000/core/channel"
	"github.com/pinglue/pg-repo-sub000/core/exporter"
	"github.com/pinglue/pg-repo-sub000/core/host"
	"github.com/pinglue/pg-repo-sub000/ports"
)

// LogOutput is where the process logger writes. It is a named type so dig
// can tell it apart from other writers.
type LogOutput io.Writer

// Version is the build version reported by the diagnostics server.
type Version string

// analyticsBackend is the run store and, for the sqlite driver, its
// database. store is nil when analytics is disabled.
type analyticsBackend struct {
	store analytics.Analytics
	db    *sqlite.DB
}

// exportBackend holds the scheduler; sched is nil when exports are disabled.
type exportBackend struct {
	sched *exporter.Scheduler
}

// diagnosticsServer holds the HTTP server; srv is nil when disabled.
type diagnosticsServer struct {
	srv *http.Server
}

// build wires every component from the config holder.
func build(holder *config.Holder, out LogOutput, version Version) (*App, error) {
	d := dig.New()

	if err := d.Provide(func() *config.Holder { return holder }); err != nil {
		return nil, err
	}
	if err := d.Provide(func() LogOutput { return out }); err != nil {
		return nil, err
	}
	if err := d.Provide(func() Version { return version }); err != nil {
		return nil, err
	}
	if err := d.Provide(newLogger); err != nil {
		return nil, err
	}
	if err := d.Provide(newRegistry); err != nil {
		return nil, err
	}
	if err := d.Provide(newMetrics); err != nil {
		return nil, err
	}
	if err := d.Provide(newMessenger); err != nil {
		return nil, err
	}
	if err := d.Provide(newAnalytics); err != nil {
		return nil, err
	}
	if err := d.Provide(newManager); err != nil {
		return nil, err
	}
	if err := d.Provide(newHost); err != nil {
		return nil, err
	}
	if err := d.Provide(newExporter); err != nil {
		return nil, err
	}
	if err := d.Provide(newDiagnosticsServer); err != nil {
		return nil, err
	}

	var app *App
	err := d.Invoke(func(
		logger zerolog.Logger,
		registry *prometheus.Registry,
		collector *metrics.Collector,
		backend *analyticsBackend,
		manager *channel.Manager,
		container *host.Container,
		export *exportBackend,
		server *diagnosticsServer,
	) {
		app = &App{
			Config:     holder,
			Logger:     logger,
			Registry:   registry,
			Metrics:    collector,
			Analytics:  backend.store,
			Manager:    manager,
			Host:       container,
			Exporter:   export.sched,
			HTTPServer: server.srv,
			db:         backend.db,
		}
	})
	if err != nil {
		return nil, fmt.Errorf("wire application: %w", err)
	}
	return app, nil
}

func newLogger(holder *config.Holder, out LogOutput) zerolog.Logger {
	return SetupLogger(holder.Get().Logging, out)
}

// newRegistry creates a private registry so several apps (and tests) can
// coexist in one process.
func newRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return reg
}

func newMetrics(reg *prometheus.Registry, holder *config.Holder) *metrics.Collector {
	c := metrics.NewWithRegistry(reg)
	holder.SetObserver(c)
	return c
}

func newMessenger(logger zerolog.Logger) ports.Messenger {
	return messenger.NewLogger(logger)
}

func newAnalytics(holder *config.Holder, logger zerolog.Logger) (*analyticsBackend, error) {
	cfg := holder.Get().Analytics
	if !cfg.Enabled {
		return &analyticsBackend{}, nil
	}

	switch cfg.Driver {
	case "sqlite":
		db, err := sqlite.Open(cfg.DSN)
		if err != nil {
			return nil, err
		}
		if err := db.Migrate(); err != nil {
			db.Close()
			return nil, fmt.Errorf("migrate analytics database: %w", err)
		}
		store := analytics.NewSQLiteStore(db.DB, analytics.SQLiteConfig{
			BatchSize:     cfg.BatchSize,
			FlushInterval: cfg.FlushInterval,
			BufferSize:    analytics.DefaultMaxEvents,
			Logger:        logger.With().Str("component", "analytics").Logger(),
		})
		logger.Info().Str("dsn", cfg.DSN).Msg("sqlite run analytics enabled")
		return &analyticsBackend{store: store, db: db}, nil
	default:
		logger.Info().Int("max_events", cfg.MaxEvents).Msg("in-memory run analytics enabled")
		return &analyticsBackend{store: analytics.NewMemoryStore(cfg.MaxEvents)}, nil
	}
}

func newManager(msgr ports.Messenger, collector *metrics.Collector, backend *analyticsBackend) *channel.Manager {
	observers := []ports.RunObserver{collector}
	if backend.store != nil {
		observers = append(observers, analytics.NewRunObserver(backend.store))
	}
	return channel.NewManager(
		channel.WithMessenger(msgr),
		channel.WithObservers(observers...),
		channel.WithClock(clock.Real{}),
		channel.WithIDGenerator(idgen.UUID{}),
	)
}

func newHost(m *channel.Manager, logger zerolog.Logger) *host.Container {
	return host.NewContainer(m, logger)
}

func newExporter(holder *config.Holder, backend *analyticsBackend, reg *prometheus.Registry, logger zerolog.Logger) (*exportBackend, error) {
	cfg := holder.Get()
	if !cfg.Exporter.Enabled || backend.store == nil {
		return &exportBackend{}, nil
	}

	var sinks []exporter.Exporter
	for _, name := range cfg.Exporter.Sinks {
		switch name {
		case "log":
			sinks = append(sinks, exporter.NewLogExporter(logger))
		case "prometheus":
			sinks = append(sinks, exporter.NewPrometheusExporter(exporter.PrometheusConfig{Registerer: reg}))
		}
	}

	sched, err := exporter.NewScheduler(backend.store, exporter.Config{
		Schedule:  cfg.Exporter.Schedule,
		Window:    cfg.Exporter.Window,
		Retention: cfg.Analytics.Retention,
	}, logger, sinks...)
	if err != nil {
		return nil, err
	}
	return &exportBackend{sched: sched}, nil
}

func newDiagnosticsServer(
	holder *config.Holder,
	m *channel.Manager,
	collector *metrics.Collector,
	reg *prometheus.Registry,
	backend *analyticsBackend,
	logger zerolog.Logger,
	version Version,
) *diagnosticsServer {
	cfg := holder.Get()
	if !cfg.Server.Enabled {
		return &diagnosticsServer{}
	}

	rc := apihttp.RouterConfig{
		Reporter: m,
		Logger:   logger,
		Version:  string(version),
	}
	if cfg.Metrics.Enabled {
		rc.Metrics = collector
		rc.Gatherer = reg
		rc.MetricsPath = cfg.Metrics.Path
	}
	if backend.store != nil {
		rc.Analytics = backend.store
	}

	return &diagnosticsServer{srv: &http.Server{
		Addr:         cfg.Server.Addr(),
		Handler:      apihttp.NewRouter(rc),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}}
}
