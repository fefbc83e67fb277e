package runner

import (
	"context"
	"sync"
	"time"
)

// StopEvent is a one-way stop signal; once set it stays set
type StopEvent struct {
	once sync.Once
	ch   chan struct{}
}

// NewStopEvent creates an unset event
func NewStopEvent() *StopEvent {
	return &StopEvent{ch: make(chan struct{})}
}

// Set signals the event; repeated calls are no-ops
func (e *StopEvent) Set() {
	e.once.Do(func() { close(e.ch) })
}

// IsSet reports whether the event has been signalled
func (e *StopEvent) IsSet() bool {
	select {
	case <-e.ch:
		return true
	default:
		return false
	}
}

// Done returns a channel closed when the event is set
func (e *StopEvent) Done() <-chan struct{} {
	return e.ch
}

// Wait blocks for at most d and reports whether the event was set.
// It returns early with false when ctx is done.
func (e *StopEvent) Wait(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return e.IsSet()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-e.ch:
		return true
	case <-ctx.Done():
		return e.IsSet()
	case <-timer.C:
		return e.IsSet()
	}
}
