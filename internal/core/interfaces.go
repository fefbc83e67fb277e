// Package core defines the core interfaces for the bot runner system
package core

import (
	"context"

	"github.com/shopspring/decimal"
)

// IExchange is the capability surface a runner needs from one exchange account.
// Implementations validate raw payloads once and return fixed-shape results.
type IExchange interface {
	// Identity
	GetName() string

	// Market data
	GetPrice(ctx context.Context, symbol string) (decimal.Decimal, error)
	GetInstrumentFilters(ctx context.Context, symbol string) (*InstrumentFilters, error)

	// Account operations
	GetPosition(ctx context.Context, symbol string) (*Position, error)
	GetEquity(ctx context.Context) (decimal.Decimal, error)
	GetLeverage(ctx context.Context, symbol string) (int, error)
	SetLeverage(ctx context.Context, symbol string, leverage int) error

	// Order operations
	CancelAllOrders(ctx context.Context, symbol string) error
	PlaceMarketOrder(ctx context.Context, req *MarketOrder) (*OrderAck, error)
	PlaceBatchLimitOrders(ctx context.Context, symbol string, orders []LimitOrder) ([]OrderAck, error)
	SetTakeProfit(ctx context.Context, symbol string, price decimal.Decimal) error
}

// IClientFactory builds an exchange client bound to one account's credentials
type IClientFactory interface {
	NewClient(creds Credentials) (IExchange, error)
}

// IBotStore is the persistent source of truth for bot configuration, status and credentials
type IBotStore interface {
	GetBot(ctx context.Context, id int64) (*BotConfig, error)
	ListBotsByStatus(ctx context.Context, status BotStatus) ([]*BotConfig, error)

	GetStatus(ctx context.Context, id int64) (BotStatus, error)
	SetStatus(ctx context.Context, id int64, status BotStatus) error
	// TransitionStatus moves the bot to `to` only if its current status is one of `from`.
	TransitionStatus(ctx context.Context, id int64, from []BotStatus, to BotStatus) (bool, error)
	// UpdateStatusIfLive writes status only while the current one is running, stopping or error.
	UpdateStatusIfLive(ctx context.Context, id int64, status BotStatus) (bool, error)

	GetCredentials(ctx context.Context, accountID int64) (*Credentials, error)

	Ping(ctx context.Context) error
	Close() error
}

// ICredentialCache shields the store from repeated credential reads
type ICredentialCache interface {
	GetOrFetch(ctx context.Context, accountID int64, fetch func(ctx context.Context) (*Credentials, error)) (*Credentials, error)
	Invalidate(accountID int64)
}

// IHealthMonitor defines the interface for health monitoring
type IHealthMonitor interface {
	Register(component string, check func() error)
	GetStatus() map[string]string
	IsHealthy() bool
}

// ILogger defines the interface for logging
type ILogger interface {
	Debug(msg string, fields ...interface{})
	Info(msg string, fields ...interface{})
	Warn(msg string, fields ...interface{})
	Error(msg string, fields ...interface{})
	Fatal(msg string, fields ...interface{})
	WithField(key string, value interface{}) ILogger
	WithFields(fields map[string]interface{}) ILogger
}
