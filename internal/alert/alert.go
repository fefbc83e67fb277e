// Package alert fans operator notifications out to chat webhooks
package alert

import (
	"context"
	"sort"
	"sync"
	"time"

	"rebuybot/internal/core"
)

type Level string

const (
	Info     Level = "INFO"
	Warning  Level = "WARNING"
	Error    Level = "ERROR"
	Critical Level = "CRITICAL"
)

type Payload struct {
	Level     Level
	Title     string
	Message   string
	Timestamp time.Time
	Fields    map[string]string
}

// sortedKeys gives channels a stable field order
func (p Payload) sortedKeys() []string {
	keys := make([]string, 0, len(p.Fields))
	for k := range p.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

type Channel interface {
	Send(ctx context.Context, alert Payload) error
	Name() string
}

// Manager delivers each alert to every channel asynchronously. A nil
// *Manager drops alerts.
type Manager struct {
	channels []Channel
	minLevel Level
	logger   core.ILogger
	mu       sync.RWMutex
	inflight sync.WaitGroup
	now      func() time.Time
}

func NewManager(logger core.ILogger) *Manager {
	return &Manager{
		channels: make([]Channel, 0),
		minLevel: Info,
		logger:   logger.WithField("component", "alert_manager"),
		now:      time.Now,
	}
}

func (m *Manager) AddChannel(ch Channel) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.channels = append(m.channels, ch)
	m.logger.Info("Added alert channel", "name", ch.Name())
}

// SetMinLevel drops alerts below level
func (m *Manager) SetMinLevel(level Level) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.minLevel = level
}

func (m *Manager) Channels() int {
	if m == nil {
		return 0
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.channels)
}

// Alert returns immediately; delivery runs on its own goroutines with a
// per-channel timeout and is not cancelled with ctx
func (m *Manager) Alert(ctx context.Context, title, message string, level Level, fields map[string]string) {
	if m == nil {
		return
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	if rank(level) < rank(m.minLevel) || len(m.channels) == 0 {
		return
	}

	payload := Payload{
		Level:     level,
		Title:     title,
		Message:   message,
		Timestamp: m.now(),
		Fields:    fields,
	}
	m.logger.Debug("Triggering alert", "title", title, "level", string(level))

	base := context.WithoutCancel(ctx)
	for _, ch := range m.channels {
		m.inflight.Add(1)
		go func(c Channel) {
			defer m.inflight.Done()
			sendCtx, cancel := context.WithTimeout(base, 10*time.Second)
			defer cancel()

			if err := c.Send(sendCtx, payload); err != nil {
				m.logger.Error("Failed to send alert", "channel", c.Name(), "error", err)
			}
		}(ch)
	}
}

// Wait blocks until in-flight deliveries finish
func (m *Manager) Wait() {
	if m == nil {
		return
	}
	m.inflight.Wait()
}

func rank(l Level) int {
	switch l {
	case Warning:
		return 1
	case Error:
		return 2
	case Critical:
		return 3
	default:
		return 0
	}
}
