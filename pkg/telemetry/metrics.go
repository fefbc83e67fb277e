package telemetry

import (
	"context"
	"strconv"
	"sync"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
)

// Metric names
const (
	MetricRunnersActive     = "rebuybot_runners_active"
	MetricRunnerExitsTotal  = "rebuybot_runner_exits_total"
	MetricRestartsTotal     = "rebuybot_runner_restarts_total"
	MetricPriceErrorsTotal  = "rebuybot_price_errors_total"
	MetricOrdersPlacedTotal = "rebuybot_orders_placed_total"
	MetricTPUpdatesTotal    = "rebuybot_take_profit_updates_total"
	MetricLatencyExchange   = "rebuybot_latency_exchange_ms"
	MetricPositionSize      = "rebuybot_position_size"
	MetricPnLUnrealized     = "rebuybot_pnl_unrealized"
)

type botKey struct {
	botID  int64
	symbol string
}

// MetricsHolder holds initialized instruments
type MetricsHolder struct {
	RunnersActive     metric.Int64UpDownCounter
	RunnerExitsTotal  metric.Int64Counter
	RestartsTotal     metric.Int64Counter
	PriceErrorsTotal  metric.Int64Counter
	OrdersPlacedTotal metric.Int64Counter
	TPUpdatesTotal    metric.Int64Counter
	LatencyExchange   metric.Float64Histogram
	PositionSize      metric.Float64ObservableGauge
	PnLUnrealized     metric.Float64ObservableGauge

	// State for observable gauges
	mu               sync.RWMutex
	positionSizeMap  map[botKey]float64
	unrealizedPnLMap map[botKey]float64
}

var (
	globalMetrics *MetricsHolder
	initOnce      sync.Once
)

// GetGlobalMetrics returns the singleton metrics holder.
// Instruments are backed by a noop meter until InitMetrics is called.
func GetGlobalMetrics() *MetricsHolder {
	initOnce.Do(func() {
		globalMetrics = &MetricsHolder{
			positionSizeMap:  make(map[botKey]float64),
			unrealizedPnLMap: make(map[botKey]float64),
		}
		_ = globalMetrics.InitMetrics(noop.NewMeterProvider().Meter("noop"))
	})
	return globalMetrics
}

// InitMetrics initializes instruments using the meter
func (m *MetricsHolder) InitMetrics(meter metric.Meter) error {
	var err error

	m.RunnersActive, err = meter.Int64UpDownCounter(MetricRunnersActive, metric.WithDescription("Runner goroutines currently alive"))
	if err != nil {
		return err
	}

	m.RunnerExitsTotal, err = meter.Int64Counter(MetricRunnerExitsTotal, metric.WithDescription("Runner exits by final status"))
	if err != nil {
		return err
	}

	m.RestartsTotal, err = meter.Int64Counter(MetricRestartsTotal, metric.WithDescription("Runners restarted after a crash"))
	if err != nil {
		return err
	}

	m.PriceErrorsTotal, err = meter.Int64Counter(MetricPriceErrorsTotal, metric.WithDescription("Failed price fetches"))
	if err != nil {
		return err
	}

	m.OrdersPlacedTotal, err = meter.Int64Counter(MetricOrdersPlacedTotal, metric.WithDescription("Orders accepted by the exchange"))
	if err != nil {
		return err
	}

	m.TPUpdatesTotal, err = meter.Int64Counter(MetricTPUpdatesTotal, metric.WithDescription("Take-profit updates applied"))
	if err != nil {
		return err
	}

	m.LatencyExchange, err = meter.Float64Histogram(MetricLatencyExchange, metric.WithDescription("Latency of exchange API calls"), metric.WithUnit("ms"))
	if err != nil {
		return err
	}

	// Observables
	m.PositionSize, err = meter.Float64ObservableGauge(MetricPositionSize, metric.WithDescription("Current position size"),
		metric.WithFloat64Callback(func(ctx context.Context, obs metric.Float64Observer) error {
			m.mu.RLock()
			defer m.mu.RUnlock()
			for k, val := range m.positionSizeMap {
				obs.Observe(val, metric.WithAttributes(botAttrs(k)...))
			}
			return nil
		}))
	if err != nil {
		return err
	}

	m.PnLUnrealized, err = meter.Float64ObservableGauge(MetricPnLUnrealized, metric.WithDescription("Current unrealized PnL"),
		metric.WithFloat64Callback(func(ctx context.Context, obs metric.Float64Observer) error {
			m.mu.RLock()
			defer m.mu.RUnlock()
			for k, val := range m.unrealizedPnLMap {
				obs.Observe(val, metric.WithAttributes(botAttrs(k)...))
			}
			return nil
		}))
	if err != nil {
		return err
	}

	return nil
}

func botAttrs(k botKey) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String("bot_id", strconv.FormatInt(k.botID, 10)),
		attribute.String("symbol", k.symbol),
	}
}

// SetPosition records the latest polled position of a bot
func (m *MetricsHolder) SetPosition(botID int64, symbol string, size, unrealizedPnL float64) {
	k := botKey{botID: botID, symbol: symbol}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.positionSizeMap[k] = size
	m.unrealizedPnLMap[k] = unrealizedPnL
}

// ClearBot drops gauge state of a bot whose runner has exited
func (m *MetricsHolder) ClearBot(botID int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for k := range m.positionSizeMap {
		if k.botID == botID {
			delete(m.positionSizeMap, k)
			delete(m.unrealizedPnLMap, k)
		}
	}
}

// RecordExit counts a runner exit under its final status
func (m *MetricsHolder) RecordExit(ctx context.Context, status string) {
	m.RunnerExitsTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("status", status)))
}

// RecordOrders counts accepted orders of one kind
func (m *MetricsHolder) RecordOrders(ctx context.Context, kind string, n int) {
	if n <= 0 {
		return
	}
	m.OrdersPlacedTotal.Add(ctx, int64(n), metric.WithAttributes(attribute.String("type", kind)))
}

// RecordExchangeLatency records the duration of one exchange call in milliseconds
func (m *MetricsHolder) RecordExchangeLatency(ctx context.Context, exchange, op string, ms float64) {
	m.LatencyExchange.Record(ctx, ms, metric.WithAttributes(
		attribute.String("exchange", exchange),
		attribute.String("op", op),
	))
}
