package bootstrap

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rebuybot/internal/config"
	"rebuybot/internal/core"
)

func testConfig() *Config {
	cfg := config.DefaultConfig()
	cfg.App.LogLevel = "ERROR"
	cfg.App.RecoverOnBoot = true
	cfg.Store.Driver = "memory"
	cfg.Store.DSN = ""
	cfg.Exchange.Name = "mock"
	cfg.API.Enabled = false
	cfg.Telemetry.Enabled = false
	cfg.Runner.PollInterval = 20 * time.Millisecond
	cfg.Runner.StopCheckInterval = 20 * time.Millisecond
	cfg.Runner.EntrySettleDelay = time.Millisecond
	cfg.Runner.BatchPacing = time.Millisecond
	cfg.Supervisor.RestartCooldown = 10 * time.Millisecond
	cfg.Supervisor.ShutdownTimeout = 2 * time.Second
	return cfg
}

// The default Prometheus registry allows a single exporter, so the whole
// lifecycle is exercised by one App.
func TestApp_RecoversAndShutsDown(t *testing.T) {
	ctx := context.Background()
	app, err := NewAppFromConfig(ctx, testConfig())
	require.NoError(t, err)

	require.NoError(t, app.Store.UpsertAccount(ctx, core.Credentials{AccountID: 1, APIKey: "key", APISecret: "secret"}))
	id, err := app.Store.CreateBot(ctx, &core.BotConfig{
		AccountID:         1,
		Symbol:            "BTCUSDT",
		StartSize:         decimal.NewFromInt(100),
		SizingMode:        core.SizingAbsolute,
		Leverage:          5,
		Multiplier:        decimal.NewFromInt(2),
		TakeProfitPercent: decimal.NewFromInt(2),
		RebuyPercent:      decimal.NewFromInt(1),
		MaxRebuys:         3,
	})
	require.NoError(t, err)
	ok, err := app.Store.TransitionStatus(ctx, id, []core.BotStatus{core.StatusIdle}, core.StatusRunning)
	require.NoError(t, err)
	require.True(t, ok)

	runCtx, cancel := context.WithCancel(ctx)
	errCh := make(chan error, 1)
	go func() { errCh <- app.RunContext(runCtx) }()

	require.Eventually(t, func() bool {
		state, err := app.Orchestrator.State(ctx, id)
		return err == nil && state.Alive
	}, 2*time.Second, 10*time.Millisecond)
	assert.True(t, app.Health.IsHealthy())

	cancel()
	select {
	case err := <-errCh:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("app did not shut down")
	}

	assert.Error(t, app.Orchestrator.Healthy())
}

func TestCheckPreFlight_SQLitePermissions(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "bots.db")
	require.NoError(t, os.WriteFile(path, nil, 0o644))

	cfg := config.DefaultConfig()
	cfg.Store.Driver = "sqlite"
	cfg.Store.DSN = core.Secret("file:" + path + "?cache=shared")

	err := checkPreFlight(cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "insecure permissions")

	require.NoError(t, os.Chmod(path, 0o600))
	assert.NoError(t, checkPreFlight(cfg))
}

func TestCheckPreFlight_MissingFileIsCreatedLater(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Store.Driver = "sqlite"
	cfg.Store.DSN = core.Secret(filepath.Join(t.TempDir(), "new.db"))
	assert.NoError(t, checkPreFlight(cfg))
}

func TestSQLitePath(t *testing.T) {
	assert.Equal(t, "bots.db", sqlitePath("bots.db"))
	assert.Equal(t, "/var/lib/bots.db", sqlitePath("file:/var/lib/bots.db?_busy_timeout=5000"))
	assert.Equal(t, ":memory:", sqlitePath(":memory:"))
}
