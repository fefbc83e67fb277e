// Package orchestrator starts, stops, recovers and supervises bot runners
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"

	"rebuybot/internal/alert"
	"rebuybot/internal/config"
	"rebuybot/internal/core"
	"rebuybot/internal/trading/runner"
	apperrors "rebuybot/pkg/errors"
	"rebuybot/pkg/telemetry"
)

// Orchestrator owns the registry and supervisor shared by every runner in the process
type Orchestrator struct {
	store    core.IBotStore
	creds    core.ICredentialCache
	factory  core.IClientFactory
	settings config.RunnerConfig
	shutdown time.Duration

	registry   *Registry
	supervisor *Supervisor
	alerts     *alert.Manager
	logger     core.ILogger
	metrics    *telemetry.MetricsHolder

	// ctx is the parent of every worker; cancelled on Shutdown
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	shutdownOnce sync.Once
}

// Option configures an Orchestrator
type Option func(*Orchestrator)

// WithAlerts sends crash and restart-budget notifications through m
func WithAlerts(m *alert.Manager) Option {
	return func(o *Orchestrator) { o.alerts = m }
}

// NewOrchestrator wires the registry and supervisor. Runners may be started
// immediately; Run drives the supervisor and blocks until shutdown.
func NewOrchestrator(store core.IBotStore, creds core.ICredentialCache, factory core.IClientFactory,
	runnerCfg config.RunnerConfig, supervisorCfg config.SupervisorConfig, logger core.ILogger, opts ...Option) *Orchestrator {
	ctx, cancel := context.WithCancel(context.Background())
	o := &Orchestrator{
		store:    store,
		creds:    creds,
		factory:  factory,
		settings: runnerCfg,
		shutdown: supervisorCfg.ShutdownTimeout,
		registry: NewRegistry(),
		logger:   logger.WithField("component", "orchestrator"),
		metrics:  telemetry.GetGlobalMetrics(),
		ctx:      ctx,
		cancel:   cancel,
	}
	for _, opt := range opts {
		opt(o)
	}
	o.supervisor = newSupervisor(o, supervisorCfg, logger)
	return o
}

// Registry exposes the runner registry
func (o *Orchestrator) Registry() *Registry {
	return o.registry
}

// Run consumes supervisor events until ctx is done, then shuts down all runners
func (o *Orchestrator) Run(ctx context.Context) error {
	go o.supervisor.Run(o.ctx)

	select {
	case <-ctx.Done():
	case <-o.ctx.Done():
	}
	o.Shutdown()
	return nil
}

// Shutdown cancels every worker without touching persisted statuses and waits
// up to the shutdown timeout for them to return
func (o *Orchestrator) Shutdown() {
	o.shutdownOnce.Do(func() {
		o.logger.Info("Shutting down runners", "active", o.registry.Len())
		o.cancel()

		done := make(chan struct{})
		go func() {
			o.wg.Wait()
			close(done)
		}()

		timeout := o.shutdown
		if timeout <= 0 {
			timeout = 30 * time.Second
		}
		select {
		case <-done:
		case <-time.After(timeout):
			o.logger.Warn("Timed out waiting for runners", "remaining", o.registry.Len())
		}
		o.supervisor.stop(timeout)
		o.alerts.Wait()
	})
}

func (o *Orchestrator) newHandle(cfg *core.BotConfig) *Handle {
	generation := uuid.NewString()
	r := runner.New(cfg, o.settings, runner.Deps{
		Store:       o.store,
		Credentials: o.creds,
		Factory:     o.factory,
		Logger:      o.logger.WithField("generation", generation),
	})
	return newHandle(r, generation)
}

// Start launches a runner for an idle (or exhausted error) bot. The status
// transition and registration happen under the registry lock.
func (o *Orchestrator) Start(ctx context.Context, id int64) error {
	if o.ctx.Err() != nil {
		return errors.New("orchestrator is shutting down")
	}

	cfg, err := o.store.GetBot(ctx, id)
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	return o.registry.WithLock(func(tx RegistryTx) error {
		if h, ok := tx.Get(id); ok && h.Alive() {
			return fmt.Errorf("%w: bot %d", apperrors.ErrAlreadyRunning, id)
		}

		ok, err := o.store.TransitionStatus(ctx, id, []core.BotStatus{core.StatusIdle, core.StatusError}, core.StatusRunning)
		if err != nil {
			return err
		}
		if !ok {
			status, _ := o.store.GetStatus(ctx, id)
			return fmt.Errorf("%w: bot %d is %s", apperrors.ErrAlreadyRunning, id, status)
		}

		o.supervisor.ResetBudget(id)
		h := o.newHandle(cfg)
		if err := tx.Register(id, h); err != nil {
			return err
		}
		if err := o.launch(tx, h); err != nil {
			return err
		}

		o.logger.Info("Bot started", "bot_id", id, "symbol", cfg.Symbol, "generation", h.Generation)
		return nil
	})
}

// Stop moves a live bot to stopping and signals its runner. Without a runner
// in this process the bot goes straight to idle.
func (o *Orchestrator) Stop(ctx context.Context, id int64) error {
	return o.registry.WithLock(func(tx RegistryTx) error {
		ok, err := o.store.TransitionStatus(ctx, id, core.LiveStatuses, core.StatusStopping)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("%w: bot %d", apperrors.ErrNotRunning, id)
		}

		if h, ok := tx.Get(id); ok && h.Alive() {
			h.Runner.Stop()
			o.logger.Info("Stop signalled", "bot_id", id, "generation", h.Generation)
			return nil
		}

		if _, err := o.store.TransitionStatus(ctx, id, []core.BotStatus{core.StatusStopping}, core.StatusIdle); err != nil {
			return err
		}
		o.logger.Info("Bot stopped without a local runner", "bot_id", id)
		return nil
	})
}

// Recover resumes every bot persisted as running and settles stale stopping bots
func (o *Orchestrator) Recover(ctx context.Context) error {
	stale, err := o.store.ListBotsByStatus(ctx, core.StatusStopping)
	if err != nil {
		return fmt.Errorf("list stopping bots: %w", err)
	}
	for _, cfg := range stale {
		if _, err := o.store.TransitionStatus(ctx, cfg.ID, []core.BotStatus{core.StatusStopping}, core.StatusIdle); err != nil {
			o.logger.Warn("Failed to settle stopping bot", "bot_id", cfg.ID, "error", err)
		}
	}

	bots, err := o.store.ListBotsByStatus(ctx, core.StatusRunning)
	if err != nil {
		return fmt.Errorf("list running bots: %w", err)
	}

	resumed := 0
	for _, cfg := range bots {
		cfg := cfg
		err := o.registry.WithLock(func(tx RegistryTx) error {
			if h, ok := tx.Get(cfg.ID); ok && h.Alive() {
				return nil
			}
			if err := cfg.Validate(); err != nil {
				if _, serr := o.store.UpdateStatusIfLive(ctx, cfg.ID, core.StatusError); serr != nil {
					o.logger.Warn("Failed to mark invalid bot", "bot_id", cfg.ID, "error", serr)
				}
				return err
			}

			h := o.newHandle(cfg)
			if err := tx.Register(cfg.ID, h); err != nil {
				return err
			}
			if err := o.launch(tx, h); err != nil {
				return err
			}
			resumed++
			return nil
		})
		if err != nil {
			o.logger.Error("Failed to recover bot", "bot_id", cfg.ID, "error", err)
		}
	}

	o.logger.Info("Recovery complete", "running", len(bots), "resumed", resumed, "settled", len(stale))
	return nil
}

// BotState is a bot's persisted status plus whether a runner is alive here
type BotState struct {
	ID         int64          `json:"id"`
	Status     core.BotStatus `json:"status"`
	Alive      bool           `json:"alive"`
	Generation string         `json:"generation,omitempty"`
}

// State reports the persisted status and local runner of a bot
func (o *Orchestrator) State(ctx context.Context, id int64) (*BotState, error) {
	status, err := o.store.GetStatus(ctx, id)
	if err != nil {
		return nil, err
	}
	state := &BotState{ID: id, Status: status}
	if h, ok := o.registry.Get(id); ok && h.Alive() {
		state.Alive = true
		state.Generation = h.Generation
	}
	return state, nil
}

// InvalidateCredentials drops an account's cached credentials, e.g. after rotation.
// Running runners keep their client until they restart.
func (o *Orchestrator) InvalidateCredentials(accountID int64) {
	o.creds.Invalidate(accountID)
	o.logger.Info("Credentials invalidated", "account_id", accountID)
}

func botFields(id int64, generation string) map[string]string {
	return map[string]string{
		"bot_id":     strconv.FormatInt(id, 10),
		"generation": generation,
	}
}

// Healthy reports an error once shutdown has begun
func (o *Orchestrator) Healthy() error {
	if o.ctx.Err() != nil {
		return errors.New("orchestrator stopped")
	}
	return nil
}
