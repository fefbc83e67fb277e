// Package bootstrap wires configuration, telemetry, storage and the orchestrator into a running daemon
package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"golang.org/x/sync/errgroup"

	"rebuybot/internal/alert"
	"rebuybot/internal/api"
	"rebuybot/internal/core"
	"rebuybot/internal/credentials"
	"rebuybot/internal/exchange"
	"rebuybot/internal/infrastructure/health"
	"rebuybot/internal/store"
	"rebuybot/internal/trading/orchestrator"
	"rebuybot/pkg/logging"
	"rebuybot/pkg/telemetry"
)

// App holds the daemon's long-lived dependencies
type App struct {
	Cfg          *Config
	Logger       core.ILogger
	Store        store.Store
	Orchestrator *orchestrator.Orchestrator
	Health       *health.HealthManager

	zap       *logging.ZapLogger
	telemetry *telemetry.Telemetry
	meters    *sdkmetric.MeterProvider
}

// Runner is an interface for components that can be run and stopped gracefully.
type Runner interface {
	Run(ctx context.Context) error
}

// NewApp creates a new App instance by bootstrapping all dependencies.
func NewApp(ctx context.Context, configPath string) (*App, error) {
	// 1. Load Configuration
	cfg, err := LoadConfig(configPath)
	if err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	return NewAppFromConfig(ctx, cfg)
}

// NewAppFromConfig bootstraps from an already loaded configuration
func NewAppFromConfig(ctx context.Context, cfg *Config) (*App, error) {
	a := &App{Cfg: cfg}

	// 2. Telemetry before the logger so the OTel bridge sees the log provider
	if cfg.Telemetry.Enabled {
		tel, err := telemetry.Setup(cfg.Telemetry.ServiceName, telemetry.Options{
			StdoutTraces: cfg.Telemetry.StdoutTraces,
			StdoutLogs:   cfg.Telemetry.StdoutLogs,
		})
		if err != nil {
			return nil, fmt.Errorf("telemetry: %w", err)
		}
		a.telemetry = tel
	} else {
		// metrics only, so /metrics still serves the runner instruments
		mp, err := telemetry.InitMetrics()
		if err != nil {
			return nil, fmt.Errorf("metrics: %w", err)
		}
		a.meters = mp
	}

	// 3. Logger
	zl, err := InitLogger(cfg)
	if err != nil {
		a.shutdownTelemetry()
		return nil, fmt.Errorf("logger: %w", err)
	}
	a.zap = zl
	a.Logger = zl.WithField("app", cfg.App.Name)

	// 4. Store
	st, err := store.Open(ctx, cfg.Store.Driver, cfg.Store.DSN.Reveal(), cfg.Store.MaxOpenConns, cfg.Store.Migrate)
	if err != nil {
		a.shutdownTelemetry()
		return nil, fmt.Errorf("store: %w", err)
	}
	a.Store = st

	// 5. Exchange clients and credentials
	factory, err := exchange.NewClientFactory(cfg.Exchange, a.Logger)
	if err != nil {
		_ = st.Close()
		a.shutdownTelemetry()
		return nil, fmt.Errorf("exchange: %w", err)
	}
	cache := credentials.NewCache(cfg.Credentials.TTL)

	// 6. Orchestrator, with operator alerts when any channel is configured
	alerts := alert.NewFromConfig(cfg.Alerts, a.Logger)
	a.Orchestrator = orchestrator.NewOrchestrator(st, cache, factory, cfg.Runner, cfg.Supervisor, a.Logger,
		orchestrator.WithAlerts(alerts))

	// 7. Health
	a.Health = health.NewHealthManager(a.Logger)
	a.Health.Register("store", func() error {
		pctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		return st.Ping(pctx)
	})
	a.Health.Register("orchestrator", a.Orchestrator.Healthy)

	a.Logger.Info("Application bootstrapped",
		"store", cfg.Store.Driver,
		"exchange", cfg.Exchange.Name,
		"testnet", cfg.Exchange.Testnet,
		"api", cfg.API.Enabled,
		"alert_channels", alerts.Channels())
	return a, nil
}

// Runners returns the components Run drives: the orchestrator and, when
// enabled, the control API
func (a *App) Runners() []Runner {
	runners := []Runner{a.Orchestrator}
	if a.Cfg.API.Enabled {
		runners = append(runners, api.NewServer(a.Cfg.API, a.Orchestrator, a.Store, a.Health, nil, a.Logger))
	}
	return runners
}

// Run orchestrates the application lifecycle, including signal handling.
func (a *App) Run(runners ...Runner) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return a.RunContext(ctx, runners...)
}

// RunContext runs until ctx is cancelled or a runner fails
func (a *App) RunContext(ctx context.Context, runners ...Runner) error {
	defer a.close()

	if len(runners) == 0 {
		runners = a.Runners()
	}

	if a.Cfg.App.RecoverOnBoot {
		if err := a.Orchestrator.Recover(ctx); err != nil {
			a.Logger.Error("Recovery failed", "error", err)
			return err
		}
	}

	g, gctx := errgroup.WithContext(ctx)

	a.Logger.Info("Starting application", "runners", len(runners))

	for _, runner := range runners {
		r := runner
		g.Go(func() error {
			return r.Run(gctx)
		})
	}

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		a.Logger.Error("Application stopped with error", "error", err)
		return err
	}

	a.Logger.Info("Application shut down gracefully")
	return nil
}

func (a *App) close() {
	a.Orchestrator.Shutdown()
	if err := a.Store.Close(); err != nil {
		a.Logger.Warn("Failed to close store", "error", err)
	}
	a.shutdownTelemetry()
	if a.zap != nil {
		_ = a.zap.Sync()
	}
}

func (a *App) shutdownTelemetry() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var err error
	switch {
	case a.telemetry != nil:
		err = a.telemetry.Shutdown(ctx)
	case a.meters != nil:
		err = a.meters.Shutdown(ctx)
	}
	if err != nil && a.Logger != nil {
		a.Logger.Warn("Telemetry shutdown failed", "error", err)
	}
	a.telemetry = nil
	a.meters = nil
}
