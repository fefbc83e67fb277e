// Package exchange builds per-account exchange clients
package exchange

import (
	"fmt"
	"strings"

	"rebuybot/internal/config"
	"rebuybot/internal/core"
	"rebuybot/internal/exchange/bybit"
	"rebuybot/internal/mock"
)

// ClientFactory creates an exchange client for an account's credentials
type ClientFactory struct {
	cfg    config.ExchangeConfig
	logger core.ILogger
	mock   *mock.Factory
}

var _ core.IClientFactory = (*ClientFactory)(nil)

// NewClientFactory validates the exchange name up front
func NewClientFactory(cfg config.ExchangeConfig, logger core.ILogger) (*ClientFactory, error) {
	f := &ClientFactory{cfg: cfg, logger: logger}
	switch strings.ToLower(cfg.Name) {
	case "bybit":
	case "mock":
		f.mock = mock.NewFactory()
	default:
		return nil, fmt.Errorf("unsupported exchange: %s", cfg.Name)
	}
	return f, nil
}

// NewClient returns a client bound to creds
func (f *ClientFactory) NewClient(creds core.Credentials) (core.IExchange, error) {
	if f.mock != nil {
		return f.mock.NewClient(creds)
	}
	if !creds.Complete() {
		return nil, fmt.Errorf("account %d: incomplete credentials", creds.AccountID)
	}
	return bybit.NewBybitExchange(&f.cfg, creds, f.logger), nil
}
