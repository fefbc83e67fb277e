// Package health aggregates component checks for the control API
package health

import (
	"sort"
	"sync"
	"time"

	"rebuybot/internal/core"
)

const (
	StatusHealthy   = "healthy"
	StatusUnhealthy = "unhealthy"
)

// Report is the aggregated result of one check round
type Report struct {
	Status     string            `json:"status"`
	Components map[string]string `json:"components"`
	CheckedAt  time.Time         `json:"checked_at"`
}

// HealthManager aggregates health status from different components
type HealthManager struct {
	logger core.ILogger
	mu     sync.RWMutex
	checks map[string]func() error

	// last failure per component, used to log transitions only once
	failing map[string]bool
}

var _ core.IHealthMonitor = (*HealthManager)(nil)

// NewHealthManager creates a new health manager; logger may be nil
func NewHealthManager(logger core.ILogger) *HealthManager {
	hm := &HealthManager{
		checks:  make(map[string]func() error),
		failing: make(map[string]bool),
	}
	if logger != nil {
		hm.logger = logger.WithField("component", "health_manager")
	}
	return hm
}

// Register adds a new health check for a component
func (hm *HealthManager) Register(component string, check func() error) {
	hm.mu.Lock()
	defer hm.mu.Unlock()
	hm.checks[component] = check
}

// Check runs every registered check once
func (hm *HealthManager) Check() Report {
	hm.mu.Lock()
	defer hm.mu.Unlock()

	report := Report{
		Status:     StatusHealthy,
		Components: make(map[string]string, len(hm.checks)),
		CheckedAt:  time.Now().UTC(),
	}

	names := make([]string, 0, len(hm.checks))
	for name := range hm.checks {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		err := hm.checks[name]()
		if err != nil {
			report.Status = StatusUnhealthy
			report.Components[name] = StatusUnhealthy + ": " + err.Error()
		} else {
			report.Components[name] = StatusHealthy
		}
		hm.noteTransition(name, err)
	}
	return report
}

func (hm *HealthManager) noteTransition(name string, err error) {
	was := hm.failing[name]
	hm.failing[name] = err != nil
	if hm.logger == nil || was == (err != nil) {
		return
	}
	if err != nil {
		hm.logger.Warn("Component unhealthy", "check", name, "error", err)
	} else {
		hm.logger.Info("Component recovered", "check", name)
	}
}

// GetStatus returns the current status of all registered components
func (hm *HealthManager) GetStatus() map[string]string {
	return hm.Check().Components
}

// IsHealthy returns true if all components are healthy
func (hm *HealthManager) IsHealthy() bool {
	return hm.Check().Status == StatusHealthy
}
