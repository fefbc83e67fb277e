package core

import (
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	apperrors "rebuybot/pkg/errors"
)

// BotStatus is the persisted lifecycle status of a bot
type BotStatus string

const (
	StatusIdle     BotStatus = "idle"
	StatusRunning  BotStatus = "running"
	StatusStopping BotStatus = "stopping"
	StatusError    BotStatus = "error"
)

// LiveStatuses are the statuses a runner (or its supervisor) still owns
var LiveStatuses = []BotStatus{StatusRunning, StatusStopping, StatusError}

// IsLive reports whether the status belongs to an active or recovering bot
func (s BotStatus) IsLive() bool {
	for _, l := range LiveStatuses {
		if s == l {
			return true
		}
	}
	return false
}

// ParseBotStatus validates a raw status value read from storage
func ParseBotStatus(raw string) (BotStatus, error) {
	s := BotStatus(strings.ToLower(strings.TrimSpace(raw)))
	switch s {
	case StatusIdle, StatusRunning, StatusStopping, StatusError:
		return s, nil
	}
	return "", fmt.Errorf("unknown bot status %q", raw)
}

// SizingMode selects how the entry size is interpreted
type SizingMode string

const (
	// SizingAbsolute treats StartSize as a quote-currency amount
	SizingAbsolute SizingMode = "absolute"
	// SizingPercent treats StartSize as a percentage of account equity
	SizingPercent SizingMode = "percent"
)

// BotConfig is one bot's immutable configuration for a single run
type BotConfig struct {
	ID                int64           `json:"id" validate:"gt=0"`
	AccountID         int64           `json:"account_id" validate:"gt=0"`
	Symbol            string          `json:"symbol" validate:"required,uppercase"`
	StartSize         decimal.Decimal `json:"start_size"`
	SizingMode        SizingMode      `json:"sizing_mode" validate:"oneof=absolute percent"`
	Leverage          int             `json:"leverage" validate:"gt=0"`
	Multiplier        decimal.Decimal `json:"multiplier"`
	TakeProfitPercent decimal.Decimal `json:"take_profit_percent"`
	RebuyPercent      decimal.Decimal `json:"rebuy_percent"`
	MaxRebuys         int             `json:"max_rebuys" validate:"gte=0"`
}

var botValidator = validator.New()

// Validate checks the invariants a runner relies on
func (b *BotConfig) Validate() error {
	if b == nil {
		return fmt.Errorf("%w: nil config", apperrors.ErrInvalidBotConfig)
	}
	if err := botValidator.Struct(b); err != nil {
		return fmt.Errorf("%w: %v", apperrors.ErrInvalidBotConfig, err)
	}

	positive := map[string]decimal.Decimal{
		"start_size":          b.StartSize,
		"multiplier":          b.Multiplier,
		"take_profit_percent": b.TakeProfitPercent,
		"rebuy_percent":       b.RebuyPercent,
	}
	for field, v := range positive {
		if !v.IsPositive() {
			return fmt.Errorf("%w: %s must be positive, got %s", apperrors.ErrInvalidBotConfig, field, v)
		}
	}
	if b.RebuyPercent.GreaterThanOrEqual(decimal.NewFromInt(100)) {
		return fmt.Errorf("%w: rebuy_percent must be below 100, got %s", apperrors.ErrInvalidBotConfig, b.RebuyPercent)
	}
	return nil
}

// Credentials is an account's API key pair
type Credentials struct {
	AccountID int64
	APIKey    string
	APISecret Secret
}

// Complete reports whether both halves of the pair are present
func (c *Credentials) Complete() bool {
	return c != nil && c.APIKey != "" && c.APISecret != ""
}

// Position is a polled position snapshot; TakeProfit is zero when unset
type Position struct {
	Symbol        string
	Size          decimal.Decimal
	AvgPrice      decimal.Decimal
	UnrealizedPnL decimal.Decimal
	TakeProfit    decimal.Decimal
	Leverage      int
}

// IsOpen reports whether the position holds any size
func (p *Position) IsOpen() bool {
	return p != nil && p.Size.IsPositive()
}

// InstrumentFilters are the order granularities of a symbol
type InstrumentFilters struct {
	Symbol      string
	LotStep     decimal.Decimal
	MinOrderQty decimal.Decimal
	TickSize    decimal.Decimal
}

// Side is an order side in the exchange's vocabulary
type Side string

const (
	SideBuy  Side = "Buy"
	SideSell Side = "Sell"
)

// MarketOrder is a market order with an optional attached take-profit
type MarketOrder struct {
	Symbol        string
	Side          Side
	Quantity      decimal.Decimal
	TakeProfit    decimal.Decimal
	ClientOrderID string
}

// LimitOrder is one leg of a batch limit submission
type LimitOrder struct {
	Side          Side
	Quantity      decimal.Decimal
	Price         decimal.Decimal
	ClientOrderID string
}

// OrderAck is the exchange acknowledgement of an accepted order
type OrderAck struct {
	OrderID       string
	ClientOrderID string
}
