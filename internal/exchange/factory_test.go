package exchange

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rebuybot/internal/config"
	"rebuybot/internal/core"
	"rebuybot/pkg/logging"
)

func TestClientFactory(t *testing.T) {
	logger := logging.NewNopLogger()

	_, err := NewClientFactory(config.ExchangeConfig{Name: "kraken"}, logger)
	assert.Error(t, err)

	f, err := NewClientFactory(config.ExchangeConfig{Name: "bybit"}, logger)
	require.NoError(t, err)

	_, err = f.NewClient(core.Credentials{AccountID: 1, APIKey: "k"})
	assert.Error(t, err)

	ex, err := f.NewClient(core.Credentials{AccountID: 1, APIKey: "k", APISecret: "s"})
	require.NoError(t, err)
	assert.Equal(t, "bybit", ex.GetName())

	m, err := NewClientFactory(config.ExchangeConfig{Name: "mock"}, logger)
	require.NoError(t, err)
	ex, err = m.NewClient(core.Credentials{AccountID: 1})
	require.NoError(t, err)
	assert.Equal(t, "mock", ex.GetName())
}
