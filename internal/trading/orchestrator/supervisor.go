package orchestrator

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"rebuybot/internal/alert"
	"rebuybot/internal/config"
	"rebuybot/internal/core"
	"rebuybot/internal/risk"
	"rebuybot/pkg/concurrency"
	"rebuybot/pkg/telemetry"
)

// Supervisor restarts bots whose runner exited with an error. It consumes exit
// events on its own goroutine and runs each cooldown+restart on the pool.
type Supervisor struct {
	orch     *Orchestrator
	pool     *concurrency.WorkerPool
	budget   *risk.CircuitBreaker
	cooldown time.Duration
	events   chan exitEvent
	logger   core.ILogger
	metrics  *telemetry.MetricsHolder
}

func newSupervisor(orch *Orchestrator, cfg config.SupervisorConfig, logger core.ILogger) *Supervisor {
	log := logger.WithField("component", "supervisor")
	return &Supervisor{
		orch: orch,
		pool: concurrency.NewWorkerPool(concurrency.PoolConfig{
			Name:        "supervisor",
			MaxWorkers:  cfg.PoolSize,
			MaxCapacity: 1024,
		}, log),
		budget: risk.NewCircuitBreaker(risk.CircuitConfig{
			MaxCrashes: cfg.MaxRestarts,
			Window:     cfg.RestartWindow,
		}),
		cooldown: cfg.RestartCooldown,
		events:   make(chan exitEvent, 64),
		logger:   log,
		metrics:  telemetry.GetGlobalMetrics(),
	}
}

// Notify hands an abnormal exit to the supervisor
func (s *Supervisor) Notify(ctx context.Context, ev exitEvent) {
	select {
	case s.events <- ev:
	case <-ctx.Done():
	}
}

// Run consumes exit events until ctx is done
func (s *Supervisor) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-s.events:
			s.handle(ctx, ev)
		}
	}
}

func (s *Supervisor) handle(ctx context.Context, ev exitEvent) {
	logger := s.logger.WithFields(map[string]interface{}{
		"bot_id":     ev.BotID,
		"generation": ev.Generation,
	})

	if !s.budget.RecordCrash(ev.BotID) {
		logger.Error("Restart budget exhausted, bot stays in error until started again",
			"recent_crashes", s.budget.Recent(ev.BotID))
		s.orch.alerts.Alert(ctx, "Restart budget exhausted",
			fmt.Sprintf("bot %d crashed %d times and stays in error until started again", ev.BotID, s.budget.Recent(ev.BotID)),
			alert.Critical, botFields(ev.BotID, ev.Generation))
		return
	}

	err := s.pool.SubmitCtx(ctx, func(ctx context.Context) {
		s.restart(ctx, ev.BotID, logger)
	})
	if err != nil {
		logger.Error("Failed to schedule restart", "error", err)
	}
}

func (s *Supervisor) restart(ctx context.Context, id int64, logger core.ILogger) {
	if s.cooldown > 0 {
		timer := time.NewTimer(s.cooldown)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
		}
	}

	o := s.orch
	status, err := o.store.GetStatus(ctx, id)
	if err == nil && status != core.StatusError {
		logger.Info("Bot no longer in error, skipping restart", "status", string(status))
		return
	}

	// fresh configuration, read before taking the registry lock
	var cfg *core.BotConfig
	if err == nil {
		cfg, err = o.store.GetBot(ctx, id)
	}
	if err == nil {
		err = cfg.Validate()
	}
	if err == nil {
		err = o.registry.WithLock(func(tx RegistryTx) error {
			return s.relaunch(ctx, tx, cfg, logger)
		})
	}
	if err != nil {
		logger.Error("Restart failed", "error", err)
		o.alerts.Alert(ctx, "Bot restart failed", err.Error(), alert.Error, botFields(id, ""))
	}
}

// relaunch runs under the registry lock: the error -> running transition and
// the handle swap happen together so a concurrent Start or Stop sees either
// the old state or the new runner
func (s *Supervisor) relaunch(ctx context.Context, tx RegistryTx, cfg *core.BotConfig, logger core.ILogger) error {
	o := s.orch
	id := cfg.ID
	if h, ok := tx.Get(id); ok && h.Alive() {
		logger.Info("Bot already running again, skipping restart", "current_generation", h.Generation)
		return nil
	}

	ok, err := o.store.TransitionStatus(ctx, id, []core.BotStatus{core.StatusError}, core.StatusRunning)
	if err != nil {
		return err
	}
	if !ok {
		logger.Info("Bot no longer in error, skipping restart")
		return nil
	}

	h := o.newHandle(cfg)
	tx.Replace(id, h)
	if err := o.launch(tx, h); err != nil {
		return err
	}

	s.metrics.RestartsTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("symbol", cfg.Symbol)))
	logger.Info("Bot restarted", "new_generation", h.Generation, "symbol", cfg.Symbol)
	return nil
}

// ResetBudget forgets a bot's crash history
func (s *Supervisor) ResetBudget(id int64) {
	s.budget.Reset(id)
}

func (s *Supervisor) stop(timeout time.Duration) {
	s.pool.StopWithin(timeout)
}
