package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"time"

	"rebuybot/internal/alert"
	"rebuybot/internal/core"
	apperrors "rebuybot/pkg/errors"
	"rebuybot/pkg/retry"
)

var persistPolicy = retry.RetryPolicy{
	MaxAttempts:    4,
	InitialBackoff: 200 * time.Millisecond,
	MaxBackoff:     2 * time.Second,
}

// exitEvent reports a worker that ended in error
type exitEvent struct {
	BotID      int64
	Generation string
	Err        error
	Uptime     time.Duration
}

// launch starts h's worker goroutine; the caller has registered h under tx.
// After shutdown began h is deregistered instead.
func (o *Orchestrator) launch(tx RegistryTx, h *Handle) error {
	if o.ctx.Err() != nil {
		tx.RemoveIf(h.Runner.BotID(), h)
		h.finish()
		return errors.New("orchestrator is shutting down")
	}
	o.wg.Add(1)
	o.metrics.RunnersActive.Add(o.ctx, 1)
	go o.runWorker(o.ctx, h)
	return nil
}

func (o *Orchestrator) runWorker(ctx context.Context, h *Handle) {
	defer o.wg.Done()
	defer h.finish()

	r := h.Runner
	id := r.BotID()
	logger := o.logger.WithFields(map[string]interface{}{
		"bot_id":     id,
		"generation": h.Generation,
	})

	status, err := runSafely(ctx, h)
	shutdown := ctx.Err() != nil && errors.Is(err, context.Canceled)

	if shutdown {
		// status stays as persisted so the bot is recovered on next boot
		o.registry.RemoveIf(id, h)
		logger.Info("Runner halted for shutdown")
	} else {
		// ownership is decided under the registry lock; the write happens after
		// it is released and UpdateStatusIfLive keeps it from clobbering a stop
		if o.registry.Release(id, h) {
			// a stop requested while the runner was failing wins over the crash
			if status == core.StatusError && r.Stopped() {
				status = core.StatusIdle
			}
			o.persistExit(ctx, id, status, logger)
		} else {
			logger.Warn("Runner replaced before exit, leaving status to the new generation")
		}
	}

	o.metrics.RunnersActive.Add(context.Background(), -1)
	o.metrics.RecordExit(context.Background(), string(status))
	o.metrics.ClearBot(id)

	if shutdown {
		return
	}
	if status != core.StatusError {
		logger.Info("Runner exited", "status", string(status))
		return
	}

	logger.Error("Runner failed", "error", err, "uptime", time.Since(h.StartedAt).String())
	o.alerts.Alert(ctx, "Bot runner failed", fmt.Sprint(err), alert.Warning, botFields(id, h.Generation))
	o.supervisor.Notify(ctx, exitEvent{
		BotID:      id,
		Generation: h.Generation,
		Err:        err,
		Uptime:     time.Since(h.StartedAt),
	})
}

// runSafely turns a runner panic into an error exit
func runSafely(ctx context.Context, h *Handle) (status core.BotStatus, err error) {
	defer func() {
		if p := recover(); p != nil {
			status = core.StatusError
			err = fmt.Errorf("runner panic: %v\n%s", p, debug.Stack())
		}
	}()
	return h.Runner.Run(ctx)
}

func (o *Orchestrator) persistExit(ctx context.Context, id int64, status core.BotStatus, logger core.ILogger) {
	pctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()

	var updated bool
	err := retry.Do(pctx, persistPolicy, apperrors.IsRetryable, func() error {
		var err error
		updated, err = o.store.UpdateStatusIfLive(pctx, id, status)
		return err
	})
	switch {
	case err != nil:
		logger.Error("Failed to persist exit status", "status", string(status), "error", err)
	case !updated:
		logger.Info("Exit status not persisted, bot no longer live", "status", string(status))
	}
}
