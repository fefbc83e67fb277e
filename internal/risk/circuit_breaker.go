// Package risk bounds how often a crashing bot is restarted
package risk

import (
	"sync"
	"time"
)

type CircuitState int

const (
	CircuitClosed CircuitState = iota
	CircuitOpen
)

func (s CircuitState) String() string {
	if s == CircuitOpen {
		return "open"
	}
	return "closed"
}

type CircuitConfig struct {
	// MaxCrashes is the number of restarts allowed within Window; zero disables the limit
	MaxCrashes int
	Window     time.Duration
}

// CircuitBreaker tracks crashes per bot. A bot trips once it crashes more than
// MaxCrashes times inside Window and stays tripped until Reset.
type CircuitBreaker struct {
	mu      sync.Mutex
	config  CircuitConfig
	crashes map[int64][]time.Time
	tripped map[int64]time.Time
	now     func() time.Time
}

func NewCircuitBreaker(config CircuitConfig) *CircuitBreaker {
	return &CircuitBreaker{
		config:  config,
		crashes: make(map[int64][]time.Time),
		tripped: make(map[int64]time.Time),
		now:     time.Now,
	}
}

// RecordCrash registers a crash and reports whether a restart is still allowed
func (cb *CircuitBreaker) RecordCrash(botID int64) bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if _, open := cb.tripped[botID]; open {
		return false
	}

	now := cb.now()
	recent := cb.prune(botID, now)
	recent = append(recent, now)
	cb.crashes[botID] = recent

	if cb.config.MaxCrashes > 0 && len(recent) > cb.config.MaxCrashes {
		cb.tripped[botID] = now
		return false
	}
	return true
}

// prune drops crashes older than the window; caller holds cb.mu
func (cb *CircuitBreaker) prune(botID int64, now time.Time) []time.Time {
	times := cb.crashes[botID]
	if cb.config.Window <= 0 {
		return times
	}
	cutoff := now.Add(-cb.config.Window)
	kept := times[:0]
	for _, t := range times {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	return kept
}

func (cb *CircuitBreaker) IsTripped(botID int64) bool {
	return cb.State(botID) == CircuitOpen
}

func (cb *CircuitBreaker) State(botID int64) CircuitState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	if _, open := cb.tripped[botID]; open {
		return CircuitOpen
	}
	return CircuitClosed
}

// Recent returns the crashes still inside the window
func (cb *CircuitBreaker) Recent(botID int64) int {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	recent := cb.prune(botID, cb.now())
	cb.crashes[botID] = recent
	return len(recent)
}

// Reset clears a bot's history, e.g. on an explicit start
func (cb *CircuitBreaker) Reset(botID int64) {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	delete(cb.crashes, botID)
	delete(cb.tripped, botID)
}
