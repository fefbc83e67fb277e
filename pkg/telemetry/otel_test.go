package telemetry

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
)

func TestTelemetrySetup(t *testing.T) {
	reg := prometheus.NewRegistry()
	tel, err := Setup("test-service", Options{StdoutTraces: true, Registerer: reg})
	require.NoError(t, err)

	assert.NotNil(t, otel.GetTracerProvider())
	assert.NotNil(t, otel.GetMeterProvider())
	assert.NotNil(t, GetTracer("test-tracer"))
	assert.NotNil(t, GetMeter("test-meter"))

	m := GetGlobalMetrics()
	ctx := context.Background()
	m.RunnersActive.Add(ctx, 1)
	m.RecordExit(ctx, "idle")
	m.RecordOrders(ctx, "limit", 3)
	m.SetPosition(7, "BTCUSDT", 1.5, -2)

	families, err := reg.Gather()
	require.NoError(t, err)
	names := make([]string, 0, len(families))
	for _, f := range families {
		names = append(names, f.GetName())
	}
	joined := strings.Join(names, ",")
	assert.Contains(t, joined, "rebuybot_runner_exits")
	assert.Contains(t, joined, "rebuybot_position_size")

	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	assert.NoError(t, tel.Shutdown(ctx))
}

func TestMetricsHolder_NilSafeBeforeSetup(t *testing.T) {
	m := GetGlobalMetrics()
	assert.NotPanics(t, func() {
		m.RestartsTotal.Add(context.Background(), 1)
		m.RecordExchangeLatency(context.Background(), "bybit", "price", 12)
	})
}

func TestMetricsHolder_ClearBot(t *testing.T) {
	m := GetGlobalMetrics()
	m.SetPosition(41, "ETHUSDT", 2, 0)
	m.SetPosition(42, "ETHUSDT", 3, 0)
	m.ClearBot(41)

	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.positionSizeMap[botKey{botID: 41, symbol: "ETHUSDT"}]
	assert.False(t, ok)
	assert.Equal(t, 3.0, m.positionSizeMap[botKey{botID: 42, symbol: "ETHUSDT"}])
}
