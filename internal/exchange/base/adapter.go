// Package base provides common functionality for exchange adapters
package base

import (
	"context"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"rebuybot/internal/core"
	httpx "rebuybot/pkg/http"
	"rebuybot/pkg/telemetry"
)

// BaseAdapter provides common functionality for all exchange adapters
type BaseAdapter struct {
	Name    string
	Logger  core.ILogger
	HTTP    *httpx.Client
	metrics *telemetry.MetricsHolder
}

// NewBaseAdapter creates a new base adapter with common configuration
func NewBaseAdapter(name string, client *httpx.Client, logger core.ILogger) *BaseAdapter {
	return &BaseAdapter{
		Name:    name,
		Logger:  logger.WithField("exchange", name),
		HTTP:    client,
		metrics: telemetry.GetGlobalMetrics(),
	}
}

// GetName returns the exchange name
func (b *BaseAdapter) GetName() string {
	return b.Name
}

// GetLogger returns the logger instance
func (b *BaseAdapter) GetLogger() core.ILogger {
	return b.Logger
}

// Observe records the latency of one exchange call started at start
func (b *BaseAdapter) Observe(ctx context.Context, op string, start time.Time) {
	b.metrics.RecordExchangeLatency(ctx, b.Name, op, float64(time.Since(start).Microseconds())/1000)
}

// ParseDecimal safely parses a string to decimal; empty or malformed input is zero
func (b *BaseAdapter) ParseDecimal(s string) decimal.Decimal {
	s = strings.TrimSpace(s)
	if s == "" {
		return decimal.Zero
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		b.Logger.Warn("failed to parse decimal", "value", s, "error", err)
		return decimal.Zero
	}
	return d
}
