// Package concurrency wraps alitto/pond with the pool settings used by the supervisor
package concurrency

import (
	"context"
	"fmt"
	"time"

	"github.com/alitto/pond"

	"rebuybot/internal/core"
)

// PoolConfig holds configuration for a worker pool
type PoolConfig struct {
	Name        string
	MaxWorkers  int
	MaxCapacity int
	IdleTimeout time.Duration
}

// WorkerPool runs short-lived background tasks such as delayed runner restarts
type WorkerPool struct {
	pool   *pond.WorkerPool
	config PoolConfig
	logger core.ILogger
}

// NewWorkerPool creates a new worker pool
func NewWorkerPool(cfg PoolConfig, logger core.ILogger) *WorkerPool {
	if cfg.MaxWorkers <= 0 {
		cfg.MaxWorkers = 10
	}
	if cfg.MaxCapacity <= 0 {
		cfg.MaxCapacity = 100
	}
	if cfg.IdleTimeout == 0 {
		cfg.IdleTimeout = 60 * time.Second
	}

	log := logger.WithField("component", "worker_pool").WithField("pool", cfg.Name)

	pool := pond.New(
		cfg.MaxWorkers,
		cfg.MaxCapacity,
		pond.MinWorkers(0),
		pond.IdleTimeout(cfg.IdleTimeout),
		pond.Strategy(pond.Balanced()),
		pond.PanicHandler(func(p interface{}) {
			log.Error("Worker pool panic recovered", "panic", p)
		}),
	)

	return &WorkerPool{
		pool:   pool,
		config: cfg,
		logger: log,
	}
}

// Submit adds a task to the pool
func (wp *WorkerPool) Submit(task func()) error {
	if wp.pool.Stopped() {
		return fmt.Errorf("worker pool '%s' is stopped", wp.config.Name)
	}
	wp.pool.Submit(task)
	return nil
}

// SubmitCtx submits a task that is skipped when ctx is already done by the time it runs
func (wp *WorkerPool) SubmitCtx(ctx context.Context, task func(ctx context.Context)) error {
	return wp.Submit(func() {
		if ctx.Err() != nil {
			return
		}
		task(ctx)
	})
}

// StopWithin waits at most d for running tasks; queued tasks beyond that are abandoned
func (wp *WorkerPool) StopWithin(d time.Duration) {
	wp.pool.StopAndWaitFor(d)
}
