// Package ladder computes entry sizing and the geometric rebuy ladder for a position cycle
package ladder

import (
	"fmt"

	"github.com/shopspring/decimal"

	"rebuybot/internal/core"
	apperrors "rebuybot/pkg/errors"
	"rebuybot/pkg/tradingutils"
)

// Rung is one contingent limit buy below the entry
type Rung struct {
	Index    int
	Price    decimal.Decimal
	Quantity decimal.Decimal
}

// EntryPlan is everything a runner submits when opening a new position cycle
type EntryPlan struct {
	Price      decimal.Decimal
	RawQty     decimal.Decimal
	BaseQty    decimal.Decimal
	TakeProfit decimal.Decimal
	Rungs      []Rung
}

// InitialQuantity converts the configured start size into an untruncated base quantity.
// equity is only consulted in percent sizing mode.
func InitialQuantity(cfg *core.BotConfig, price, equity decimal.Decimal) (decimal.Decimal, error) {
	if !price.IsPositive() {
		return decimal.Zero, fmt.Errorf("price must be positive, got %s", price)
	}

	switch cfg.SizingMode {
	case core.SizingAbsolute, "":
		return cfg.StartSize.Div(price), nil
	case core.SizingPercent:
		if !equity.IsPositive() {
			return decimal.Zero, fmt.Errorf("equity must be positive in percent mode, got %s", equity)
		}
		notional := equity.Mul(cfg.StartSize).Div(decimal.NewFromInt(100))
		return notional.Div(price), nil
	default:
		return decimal.Zero, fmt.Errorf("%w: sizing mode %q", apperrors.ErrInvalidBotConfig, cfg.SizingMode)
	}
}

// TakeProfit returns the truncated take-profit price for a reference price
func TakeProfit(reference, percent, tick decimal.Decimal) decimal.Decimal {
	return tradingutils.TruncateToStep(tradingutils.PercentUp(reference, percent), tick)
}

// Build generates rung n (1-indexed) at price*(1-r/100)^n with quantity qty*m^n,
// each truncated to the instrument filters. The powers are accumulated on
// untruncated values so truncation error never compounds across rungs.
func Build(entryPrice, initialQty, multiplier, rebuyPercent decimal.Decimal, maxRebuys int, filters *core.InstrumentFilters) []Rung {
	if maxRebuys <= 0 {
		return []Rung{}
	}

	factor := tradingutils.PercentDownFactor(rebuyPercent)
	rungs := make([]Rung, 0, maxRebuys)

	price := entryPrice
	qty := initialQty
	for n := 1; n <= maxRebuys; n++ {
		price = price.Mul(factor)
		qty = qty.Mul(multiplier)
		rungs = append(rungs, Rung{
			Index:    n,
			Price:    tradingutils.TruncateToStep(price, filters.TickSize),
			Quantity: tradingutils.TruncateToStep(qty, filters.LotStep),
		})
	}
	return rungs
}

// PlanEntry computes the base order, its take-profit and the ladder for a fresh cycle
func PlanEntry(cfg *core.BotConfig, price, equity decimal.Decimal, filters *core.InstrumentFilters) (*EntryPlan, error) {
	raw, err := InitialQuantity(cfg, price, equity)
	if err != nil {
		return nil, err
	}

	base := tradingutils.TruncateToStep(raw, filters.LotStep)
	if !base.IsPositive() {
		return nil, fmt.Errorf("%w: %s at price %s with lot step %s", apperrors.ErrEntryNotSized, raw, price, filters.LotStep)
	}

	return &EntryPlan{
		Price:      price,
		RawQty:     raw,
		BaseQty:    base,
		TakeProfit: TakeProfit(price, cfg.TakeProfitPercent, filters.TickSize),
		Rungs:      Build(price, raw, cfg.Multiplier, cfg.RebuyPercent, cfg.MaxRebuys, filters),
	}, nil
}

// LimitOrders converts rungs into buy limit orders, skipping rungs that truncated to nothing
func LimitOrders(rungs []Rung) []core.LimitOrder {
	orders := make([]core.LimitOrder, 0, len(rungs))
	for _, r := range rungs {
		if !r.Quantity.IsPositive() || !r.Price.IsPositive() {
			continue
		}
		orders = append(orders, core.LimitOrder{
			Side:     core.SideBuy,
			Quantity: r.Quantity,
			Price:    r.Price,
		})
	}
	return orders
}

// Chunk splits orders into batches of at most size elements
func Chunk(orders []core.LimitOrder, size int) [][]core.LimitOrder {
	if size <= 0 {
		size = len(orders)
	}
	var chunks [][]core.LimitOrder
	for start := 0; start < len(orders); start += size {
		end := start + size
		if end > len(orders) {
			end = len(orders)
		}
		chunks = append(chunks, orders[start:end])
	}
	return chunks
}
