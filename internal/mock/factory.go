package mock

import (
	"sync"

	"rebuybot/internal/core"
)

// Factory hands out one MockExchange per account so runners restarted for
// the same account observe the same simulated position
type Factory struct {
	mu        sync.Mutex
	exchanges map[int64]*MockExchange
	created   int
}

var _ core.IClientFactory = (*Factory)(nil)

// NewFactory creates an empty factory
func NewFactory() *Factory {
	return &Factory{exchanges: make(map[int64]*MockExchange)}
}

// NewClient returns the account's exchange, creating it on first use
func (f *Factory) NewClient(creds core.Credentials) (core.IExchange, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.created++
	return f.exchangeLocked(creds.AccountID), nil
}

// Exchange returns the account's exchange for scripting
func (f *Factory) Exchange(accountID int64) *MockExchange {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.exchangeLocked(accountID)
}

// Created counts NewClient calls
func (f *Factory) Created() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.created
}

func (f *Factory) exchangeLocked(accountID int64) *MockExchange {
	ex, ok := f.exchanges[accountID]
	if !ok {
		ex = NewMockExchange("mock")
		f.exchanges[accountID] = ex
	}
	return ex
}
