package bootstrap_test

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pinglue/pg-repo-sub000/bootstrap"
	"github.com/pinglue/pg-repo-sub000/config"
	"github.com/pinglue/pg-repo-sub000/core/analytics"
	"github.com/pinglue/pg-repo-sub000/core/channel"
	"github.com/pinglue/pg-repo-sub000/core/host"
)

type shopController struct {
	stopped bool
	initErr error
}

func (c *shopController) ID() string { return "shop" }

func (c *shopController) Init(ctx context.Context, hub *host.Hub) error {
	if c.initErr != nil {
		return c.initErr
	}
	_, err := hub.Glue(ctx, "orders.created", channel.Func("stamp", func(_ context.Context, _, _ any, _ channel.Meta) (any, error) {
		return map[string]any{"stamped": true}, nil
	}))
	return err
}

func (c *shopController) Stop(context.Context) error {
	c.stopped = true
	return nil
}

func testConfig() *config.Config {
	cfg := config.Default()
	cfg.Analytics.Enabled = true
	cfg.Analytics.Driver = "memory"
	cfg.Channels = []config.ChannelConfig{
		{
			Name:  "orders.created",
			Owner: "shop",
			Settings: channel.SettingsPatch{
				RunMode: channel.Ptr(channel.RunChain),
				Reducer: channel.Ptr(channel.ObjectMerge()),
			},
		},
		{
			Name: "users.lookup",
			Settings: channel.SettingsPatch{
				RunMode: channel.Ptr(channel.RunChainBreakable),
			},
		},
	}
	return cfg
}

func newApp(t *testing.T, cfg *config.Config, ctrls ...host.Controller) *bootstrap.App {
	t.Helper()
	app, err := bootstrap.New(bootstrap.Options{
		Config:      cfg,
		LogOutput:   io.Discard,
		Version:     "test",
		Controllers: ctrls,
	})
	require.NoError(t, err)
	return app
}

func TestNew_StaticConfig(t *testing.T) {
	app := newApp(t, testConfig())

	assert.NotNil(t, app.Manager)
	assert.NotNil(t, app.Host)
	assert.NotNil(t, app.Metrics)
	assert.NotNil(t, app.Analytics)
	assert.Nil(t, app.Exporter, "exporter is disabled by default")
	assert.Nil(t, app.HTTPServer, "server is disabled by default")
	assert.Equal(t, "", app.Config.Path())
}

func TestNew_InvalidConfig(t *testing.T) {
	cfg := testConfig()
	cfg.Logging.Level = "loud"

	_, err := bootstrap.New(bootstrap.Options{Config: cfg, LogOutput: io.Discard})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "validate config")
}

func TestNew_ExporterAndServer(t *testing.T) {
	cfg := testConfig()
	cfg.Exporter.Enabled = true
	cfg.Exporter.Sinks = []string{"log", "prometheus"}
	cfg.Server.Enabled = true
	cfg.Server.Port = 19470
	cfg.Metrics.Enabled = true

	app := newApp(t, cfg)
	require.NotNil(t, app.Exporter)
	require.NotNil(t, app.HTTPServer)
	assert.Equal(t, "127.0.0.1:19470", app.HTTPServer.Addr)
	assert.Equal(t, []string{"log", "prometheus"}, app.Exporter.Exporters())
}

func TestNew_ConfigFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pinglue.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
logging:
  level: debug
channels:
  - name: audit.log
    run_mode: no-value
`), 0o644))

	app, err := bootstrap.New(bootstrap.Options{ConfigPath: path, LogOutput: io.Discard})
	require.NoError(t, err)
	assert.NotEmpty(t, app.Config.Path())
	assert.Equal(t, "debug", app.Config.Get().Logging.Level)
	require.Len(t, app.Config.Get().Channels, 1)
}

func TestNew_MissingConfigFileFallsBack(t *testing.T) {
	app, err := bootstrap.New(bootstrap.Options{
		ConfigPath: filepath.Join(t.TempDir(), "absent.yaml"),
		LogOutput:  io.Discard,
	})
	require.NoError(t, err)
	assert.Equal(t, "", app.Config.Path())
	assert.Empty(t, app.Config.Get().Channels)
}

func TestNew_SQLiteAnalytics(t *testing.T) {
	cfg := testConfig()
	cfg.Analytics.Driver = "sqlite"
	cfg.Analytics.DSN = filepath.Join(t.TempDir(), "runs.db")

	app := newApp(t, cfg)
	require.NotNil(t, app.Analytics)

	ctx := context.Background()
	require.NoError(t, app.Start(ctx))
	_, err := app.Manager.RunS(ctx, "users.lookup", "tester", nil, "x")
	require.NoError(t, err)
	require.NoError(t, app.Shutdown(ctx))
}

func TestStart_DeclaresChannelsAndLoadsControllers(t *testing.T) {
	ctrl := &shopController{}
	app := newApp(t, testConfig(), ctrl)
	ctx := context.Background()

	require.NoError(t, app.Start(ctx))
	t.Cleanup(func() { app.Shutdown(context.Background()) })

	orders, ok := app.Manager.Channel("orders.created")
	require.True(t, ok)
	assert.Equal(t, "shop", orders.Owner())
	assert.Equal(t, channel.RunChain, orders.Settings().RunMode)
	assert.Equal(t, 1, orders.Len())

	users, ok := app.Manager.Channel("users.lookup")
	require.True(t, ok)
	assert.Equal(t, bootstrap.ConfigOwner, users.Owner())

	assert.Equal(t, []string{"shop"}, app.Host.Loaded())

	got, err := app.Manager.RunS(ctx, "orders.created", "tester", nil, map[string]any{"id": 7})
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"id": 7, "stamped": true}, got)

	events, total, err := app.Analytics.Query(ctx, analytics.QueryOptions{Channel: "orders.created"})
	require.NoError(t, err)
	assert.EqualValues(t, 1, total)
	require.Len(t, events, 1)
	assert.Equal(t, "tester", events[0].Caller)
	assert.Equal(t, "ok", events[0].Outcome)
}

func TestStart_ControllerInitFails(t *testing.T) {
	ctrl := &shopController{initErr: errors.New("boom")}
	app := newApp(t, testConfig(), ctrl)

	err := app.Start(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "boom")
	assert.Empty(t, app.Host.Loaded())
	require.NoError(t, app.Shutdown(context.Background()))
}

func TestShutdown_StopsControllers(t *testing.T) {
	ctrl := &shopController{}
	app := newApp(t, testConfig(), ctrl)
	ctx := context.Background()

	require.NoError(t, app.Start(ctx))
	require.NoError(t, app.Shutdown(ctx))

	assert.True(t, ctrl.stopped)
	assert.Empty(t, app.Host.Loaded())
	orders, ok := app.Manager.Channel("orders.created")
	require.True(t, ok)
	assert.Equal(t, 0, orders.Len())
}

func TestRun_StopsOnContextDone(t *testing.T) {
	app := newApp(t, testConfig())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- app.Run(ctx) }()

	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestDeclareChannels_Reapply(t *testing.T) {
	m := channel.NewManager()
	ctx := context.Background()

	decls := []config.ChannelConfig{{
		Name:     "orders.created",
		Owner:    "shop",
		Settings: channel.SettingsPatch{RunMode: channel.Ptr(channel.RunChain)},
	}}
	require.NoError(t, bootstrap.DeclareChannels(ctx, m, decls))

	decls[0].Settings = channel.SettingsPatch{SingleHandler: channel.Ptr(true)}
	require.NoError(t, bootstrap.DeclareChannels(ctx, m, decls))

	ch, ok := m.Channel("orders.created")
	require.True(t, ok)
	s := ch.Settings()
	assert.Equal(t, channel.RunChain, s.RunMode, "omitted fields keep their value")
	assert.True(t, s.SingleHandler)
}

func TestDeclareChannels_OwnerConflict(t *testing.T) {
	m := channel.NewManager()
	ctx := context.Background()
	require.NoError(t, m.RegChannel(ctx, "orders.created", "shop", nil))

	err := bootstrap.DeclareChannels(ctx, m, []config.ChannelConfig{
		{Name: "orders.created", Owner: "billing"},
		{Name: "users.lookup"},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), `declare channel "orders.created"`)

	_, ok := m.Channel("users.lookup")
	assert.True(t, ok, "later declarations still apply")
}

func TestSetupLogger(t *testing.T) {
	var buf bytes.Buffer
	logger := bootstrap.SetupLogger(config.LoggingConfig{Level: "info", Format: "json"}, &buf)
	logger.Info().Str("channel", "orders.created").Msg("hello")
	assert.True(t, strings.Contains(buf.String(), `"channel":"orders.created"`))

	buf.Reset()
	logger = bootstrap.SetupLogger(config.LoggingConfig{Level: "info", Format: "console"}, &buf)
	logger.Info().Msg("hello")
	assert.Contains(t, buf.String(), "hello")
	assert.NotContains(t, buf.String(), `"message"`)
}
