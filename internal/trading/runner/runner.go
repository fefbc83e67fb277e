// Package runner implements the per-bot position-building automaton
package runner

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"rebuybot/internal/config"
	"rebuybot/internal/core"
	"rebuybot/internal/trading/ladder"
	apperrors "rebuybot/pkg/errors"
	"rebuybot/pkg/retry"
	"rebuybot/pkg/telemetry"
)

// Deps are the collaborators shared by every runner in the process
type Deps struct {
	Store       core.IBotStore
	Credentials core.ICredentialCache
	Factory     core.IClientFactory
	Logger      core.ILogger
}

// Runner owns one bot's configuration and the transient state of a single run.
// A Runner is not reusable: the supervisor builds a fresh one for every restart.
type Runner struct {
	cfg      core.BotConfig
	settings config.RunnerConfig
	deps     Deps
	logger   core.ILogger
	metrics  *telemetry.MetricsHolder
	stop     *StopEvent

	// wait is the cancellable pause used for pacing and backoff
	wait func(ctx context.Context, d time.Duration) bool
	now  func() time.Time

	exchange core.IExchange
	filters  *core.InstrumentFilters

	lastTP          decimal.Decimal
	prevSize        decimal.Decimal
	tpDirty         bool
	priceErrors     int
	lastStatusCheck time.Time
}

// New creates a runner for cfg. The config is copied so later edits in the store
// only take effect on the next run.
func New(cfg *core.BotConfig, settings config.RunnerConfig, deps Deps) *Runner {
	r := &Runner{
		cfg:      *cfg,
		settings: settings,
		deps:     deps,
		logger: deps.Logger.WithFields(map[string]interface{}{
			"component": "runner",
			"bot_id":    cfg.ID,
			"symbol":    cfg.Symbol,
		}),
		metrics: telemetry.GetGlobalMetrics(),
		stop:    NewStopEvent(),
		now:     time.Now,
	}
	r.wait = r.stop.Wait
	return r
}

// BotID returns the bot this runner trades for
func (r *Runner) BotID() int64 {
	return r.cfg.ID
}

// Symbol returns the traded instrument
func (r *Runner) Symbol() string {
	return r.cfg.Symbol
}

// Stop requests a cooperative stop; the loop observes it within one wait
func (r *Runner) Stop() {
	r.stop.Set()
}

// Stopped reports whether a stop has been requested
func (r *Runner) Stopped() bool {
	return r.stop.IsSet()
}

// Run executes setup once and then polls until stopped, failed or cancelled.
// The returned status is the exit intention: idle after a requested stop,
// error when setup or an iteration failed. A cancelled ctx returns ctx.Err().
func (r *Runner) Run(ctx context.Context) (core.BotStatus, error) {
	if err := r.init(ctx); err != nil {
		return core.StatusError, err
	}
	if err := r.setup(ctx); err != nil {
		return core.StatusError, err
	}

	r.logger.Info("Runner started",
		"leverage", r.cfg.Leverage,
		"lot_step", r.filters.LotStep.String(),
		"tick_size", r.filters.TickSize.String())

	for {
		stopped, err := r.iterate(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return core.StatusIdle, ctx.Err()
			}
			return core.StatusError, err
		}
		if stopped {
			r.logger.Info("Runner stopping")
			return core.StatusIdle, nil
		}
	}
}

func (r *Runner) init(ctx context.Context) error {
	accountID := r.cfg.AccountID
	creds, err := r.deps.Credentials.GetOrFetch(ctx, accountID, func(ctx context.Context) (*core.Credentials, error) {
		return r.deps.Store.GetCredentials(ctx, accountID)
	})
	if err != nil {
		return fmt.Errorf("resolve credentials for account %d: %w", accountID, err)
	}

	ex, err := r.deps.Factory.NewClient(*creds)
	if err != nil {
		return fmt.Errorf("create exchange client: %w", err)
	}
	r.exchange = ex
	return nil
}

func (r *Runner) setup(ctx context.Context) error {
	current, err := r.exchange.GetLeverage(ctx, r.cfg.Symbol)
	if err != nil {
		return fmt.Errorf("get leverage: %w", err)
	}
	if current != r.cfg.Leverage {
		err := r.exchange.SetLeverage(ctx, r.cfg.Symbol, r.cfg.Leverage)
		if err != nil && !errors.Is(err, apperrors.ErrNotModified) {
			return fmt.Errorf("set leverage %d: %w", r.cfg.Leverage, err)
		}
		r.logger.Info("Leverage updated", "from", current, "to", r.cfg.Leverage)
	}

	filters, err := r.exchange.GetInstrumentFilters(ctx, r.cfg.Symbol)
	if err != nil {
		return fmt.Errorf("get instrument filters: %w", err)
	}
	r.filters = filters
	return nil
}

// pause waits d on the stop event and reports whether a stop was requested
func (r *Runner) pause(ctx context.Context, d time.Duration) (bool, error) {
	if r.wait(ctx, d) {
		return true, nil
	}
	return false, ctx.Err()
}

func (r *Runner) iterate(ctx context.Context) (bool, error) {
	if r.stop.IsSet() {
		return true, nil
	}
	if err := ctx.Err(); err != nil {
		return false, err
	}

	if r.statusCheckDue() && r.persistedStop(ctx) {
		r.stop.Set()
		return true, nil
	}

	price, err := r.exchange.GetPrice(ctx, r.cfg.Symbol)
	if err != nil {
		if ctx.Err() != nil {
			return false, ctx.Err()
		}
		r.priceErrors++
		delay := retry.Exponential(r.priceErrors, time.Second, r.settings.MaxBackoff)
		r.metrics.PriceErrorsTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("symbol", r.cfg.Symbol)))
		r.logger.Warn("Price fetch failed", "error", err, "consecutive", r.priceErrors, "retry_in", delay.String())
		return r.pause(ctx, delay)
	}
	r.priceErrors = 0

	pos, err := r.exchange.GetPosition(ctx, r.cfg.Symbol)
	if err != nil {
		if ctx.Err() != nil {
			return false, ctx.Err()
		}
		r.logger.Warn("Position fetch failed", "error", err)
		return r.pause(ctx, r.settings.PositionRetryDelay)
	}

	if pos.IsOpen() {
		r.manage(ctx, pos)
	} else {
		stopped, err := r.enter(ctx, price)
		if err != nil || stopped {
			return stopped, err
		}
	}

	return r.pause(ctx, r.settings.PollInterval)
}

func (r *Runner) statusCheckDue() bool {
	return r.lastStatusCheck.IsZero() || r.now().Sub(r.lastStatusCheck) >= r.settings.StopCheckInterval
}

// persistedStop reads the stored status; a failed read never stops the runner
// except when the bot no longer exists
func (r *Runner) persistedStop(ctx context.Context) bool {
	r.lastStatusCheck = r.now()

	status, err := r.deps.Store.GetStatus(ctx, r.cfg.ID)
	if err != nil {
		if errors.Is(err, apperrors.ErrBotNotFound) {
			r.logger.Warn("Bot no longer exists, stopping")
			return true
		}
		r.logger.Warn("Status check failed", "error", err)
		return false
	}

	switch status {
	case core.StatusStopping, core.StatusIdle:
		r.logger.Info("Stop requested via persisted status", "status", string(status))
		return true
	}
	return false
}

// enter opens a new cycle: market buy with attached take-profit, then the rebuy ladder
func (r *Runner) enter(ctx context.Context, price decimal.Decimal) (bool, error) {
	equity := decimal.Zero
	if r.cfg.SizingMode == core.SizingPercent {
		var err error
		equity, err = r.exchange.GetEquity(ctx)
		if err != nil {
			return false, fmt.Errorf("get equity: %w", err)
		}
	}

	plan, err := ladder.PlanEntry(&r.cfg, price, equity, r.filters)
	if err != nil {
		return false, err
	}

	if err := r.exchange.CancelAllOrders(ctx, r.cfg.Symbol); err != nil {
		return false, fmt.Errorf("cancel open orders: %w", err)
	}

	ack, err := r.exchange.PlaceMarketOrder(ctx, &core.MarketOrder{
		Symbol:        r.cfg.Symbol,
		Side:          core.SideBuy,
		Quantity:      plan.BaseQty,
		TakeProfit:    plan.TakeProfit,
		ClientOrderID: uuid.NewString(),
	})
	if err != nil {
		return false, fmt.Errorf("place entry order: %w", err)
	}
	r.metrics.RecordOrders(ctx, "market", 1)
	r.logger.Info("Entry order placed",
		"order_id", ack.OrderID,
		"price", price.String(),
		"qty", plan.BaseQty.String(),
		"take_profit", plan.TakeProfit.String())

	if stopped, err := r.pause(ctx, r.settings.EntrySettleDelay); stopped || err != nil {
		return stopped, err
	}

	pos, err := r.exchange.GetPosition(ctx, r.cfg.Symbol)
	if err != nil || !pos.IsOpen() {
		if ctx.Err() != nil {
			return false, ctx.Err()
		}
		r.logger.Warn("Entry not confirmed, skipping rebuy ladder", "error", err)
		return false, nil
	}
	r.prevSize = pos.Size
	r.lastTP = plan.TakeProfit
	r.tpDirty = false

	return r.placeLadder(ctx, plan.Rungs)
}

func (r *Runner) placeLadder(ctx context.Context, rungs []ladder.Rung) (bool, error) {
	orders := ladder.LimitOrders(rungs)
	for i := range orders {
		orders[i].ClientOrderID = uuid.NewString()
	}

	placed := 0
	for i, chunk := range ladder.Chunk(orders, r.settings.BatchSize) {
		if i > 0 {
			if stopped, err := r.pause(ctx, r.settings.BatchPacing); stopped || err != nil {
				return stopped, err
			}
		}

		acks, err := r.exchange.PlaceBatchLimitOrders(ctx, r.cfg.Symbol, chunk)
		if err != nil {
			if !errors.Is(err, apperrors.ErrOrderRejected) {
				return false, fmt.Errorf("place rebuy batch %d: %w", i+1, err)
			}
			r.logger.Warn("Rebuy batch partially rejected", "batch", i+1, "error", err)
		}
		placed += len(acks)
		r.metrics.RecordOrders(ctx, "limit", len(acks))
	}

	r.logger.Info("Rebuy ladder placed", "rungs", len(rungs), "orders", placed)
	return false, nil
}

// manage keeps the take-profit at avg*(1+tp%) as the position grows
func (r *Runner) manage(ctx context.Context, pos *core.Position) {
	if pos.Size.GreaterThan(r.prevSize) || r.tpDirty {
		tp := ladder.TakeProfit(pos.AvgPrice, r.cfg.TakeProfitPercent, r.filters.TickSize)
		if tp.Equal(r.lastTP) {
			r.tpDirty = false
		} else {
			err := r.exchange.SetTakeProfit(ctx, r.cfg.Symbol, tp)
			switch {
			case err == nil:
				r.metrics.TPUpdatesTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("symbol", r.cfg.Symbol)))
				r.logger.Info("Take-profit updated", "take_profit", tp.String(), "avg_price", pos.AvgPrice.String(), "size", pos.Size.String())
				r.lastTP, r.tpDirty = tp, false
			case errors.Is(err, apperrors.ErrNotModified):
				r.lastTP, r.tpDirty = tp, false
			default:
				r.logger.Warn("Take-profit update failed", "take_profit", tp.String(), "error", err)
				r.tpDirty = true
			}
		}
	}
	r.prevSize = pos.Size

	r.logger.Debug("Position",
		"size", pos.Size.String(),
		"avg_price", pos.AvgPrice.String(),
		"upnl", pos.UnrealizedPnL.String(),
		"take_profit", r.lastTP.String())
	r.metrics.SetPosition(r.cfg.ID, r.cfg.Symbol, pos.Size.InexactFloat64(), pos.UnrealizedPnL.InexactFloat64())
}
