package store

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rebuybot/internal/core"
	apperrors "rebuybot/pkg/errors"
)

func sampleBot() *core.BotConfig {
	return &core.BotConfig{
		AccountID:         1,
		Symbol:            "BTCUSDT",
		StartSize:         decimal.RequireFromString("100"),
		SizingMode:        core.SizingAbsolute,
		Leverage:          5,
		Multiplier:        decimal.RequireFromString("2"),
		TakeProfitPercent: decimal.RequireFromString("2"),
		RebuyPercent:      decimal.RequireFromString("1.25"),
		MaxRebuys:         3,
	}
}

func stores(t *testing.T) map[string]Store {
	t.Helper()
	ctx := context.Background()

	sqlite, err := Open(ctx, "sqlite", filepath.Join(t.TempDir(), "bots.db"), 0, true)
	require.NoError(t, err)
	t.Cleanup(func() { _ = sqlite.Close() })

	out := map[string]Store{
		"memory": NewMemoryStore(),
		"sqlite": sqlite,
	}

	if dsn := os.Getenv("TEST_POSTGRES_DSN"); dsn != "" {
		pg, err := Open(ctx, "postgres", dsn, 2, true)
		require.NoError(t, err)
		_, err = pg.(*SQLStore).DB().ExecContext(ctx, `TRUNCATE bots, accounts RESTART IDENTITY`)
		require.NoError(t, err)
		t.Cleanup(func() { _ = pg.Close() })
		out["postgres"] = pg
	}
	return out
}

func TestStore_BotRoundTrip(t *testing.T) {
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			require.NoError(t, s.UpsertAccount(ctx, core.Credentials{AccountID: 1, APIKey: "k", APISecret: "s"}))

			id, err := s.CreateBot(ctx, sampleBot())
			require.NoError(t, err)
			require.Positive(t, id)

			got, err := s.GetBot(ctx, id)
			require.NoError(t, err)
			assert.Equal(t, "BTCUSDT", got.Symbol)
			assert.Equal(t, core.SizingAbsolute, got.SizingMode)
			assert.True(t, got.RebuyPercent.Equal(decimal.RequireFromString("1.25")))
			assert.True(t, got.StartSize.Equal(decimal.NewFromInt(100)))
			assert.Equal(t, 3, got.MaxRebuys)

			status, err := s.GetStatus(ctx, id)
			require.NoError(t, err)
			assert.Equal(t, core.StatusIdle, status)

			_, err = s.GetBot(ctx, id+100)
			assert.ErrorIs(t, err, apperrors.ErrBotNotFound)
		})
	}
}

func TestStore_TransitionStatus(t *testing.T) {
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			require.NoError(t, s.UpsertAccount(ctx, core.Credentials{AccountID: 1, APIKey: "k", APISecret: "s"}))
			id, err := s.CreateBot(ctx, sampleBot())
			require.NoError(t, err)

			ok, err := s.TransitionStatus(ctx, id, []core.BotStatus{core.StatusIdle, core.StatusError}, core.StatusRunning)
			require.NoError(t, err)
			assert.True(t, ok)

			ok, err = s.TransitionStatus(ctx, id, []core.BotStatus{core.StatusIdle}, core.StatusRunning)
			require.NoError(t, err)
			assert.False(t, ok, "second start must not win")

			_, err = s.TransitionStatus(ctx, id+100, []core.BotStatus{core.StatusIdle}, core.StatusRunning)
			assert.ErrorIs(t, err, apperrors.ErrBotNotFound)

			running, err := s.ListBotsByStatus(ctx, core.StatusRunning)
			require.NoError(t, err)
			require.Len(t, running, 1)
			assert.Equal(t, id, running[0].ID)
		})
	}
}

func TestStore_UpdateStatusIfLive(t *testing.T) {
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			require.NoError(t, s.UpsertAccount(ctx, core.Credentials{AccountID: 1, APIKey: "k", APISecret: "s"}))
			id, err := s.CreateBot(ctx, sampleBot())
			require.NoError(t, err)

			// idle is not live: a late cleanup must not resurrect the bot
			ok, err := s.UpdateStatusIfLive(ctx, id, core.StatusError)
			require.NoError(t, err)
			assert.False(t, ok)
			st, _ := s.GetStatus(ctx, id)
			assert.Equal(t, core.StatusIdle, st)

			require.NoError(t, s.SetStatus(ctx, id, core.StatusStopping))
			ok, err = s.UpdateStatusIfLive(ctx, id, core.StatusIdle)
			require.NoError(t, err)
			assert.True(t, ok)
			st, _ = s.GetStatus(ctx, id)
			assert.Equal(t, core.StatusIdle, st)
		})
	}
}

func TestStore_Credentials(t *testing.T) {
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			require.NoError(t, s.UpsertAccount(ctx, core.Credentials{AccountID: 9, APIKey: "old", APISecret: "s1"}))
			require.NoError(t, s.UpsertAccount(ctx, core.Credentials{AccountID: 9, APIKey: "new", APISecret: "s2"}))

			creds, err := s.GetCredentials(ctx, 9)
			require.NoError(t, err)
			assert.Equal(t, "new", creds.APIKey)
			assert.Equal(t, "s2", creds.APISecret.Reveal())
			assert.True(t, creds.Complete())

			_, err = s.GetCredentials(ctx, 10)
			assert.ErrorIs(t, err, apperrors.ErrAccountNotFound)
		})
	}
}

func TestStore_ListBots(t *testing.T) {
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			require.NoError(t, s.UpsertAccount(ctx, core.Credentials{AccountID: 1, APIKey: "k", APISecret: "s"}))
			a, _ := s.CreateBot(ctx, sampleBot())
			b, _ := s.CreateBot(ctx, sampleBot())
			require.NoError(t, s.SetStatus(ctx, b, core.StatusError))

			recs, err := s.ListBots(ctx)
			require.NoError(t, err)
			require.Len(t, recs, 2)
			assert.Equal(t, a, recs[0].Config.ID)
			assert.Equal(t, core.StatusIdle, recs[0].Status)
			assert.Equal(t, core.StatusError, recs[1].Status)
		})
	}
}

func TestRebind(t *testing.T) {
	assert.Equal(t, "UPDATE bots SET status = $1 WHERE id = $2 AND status IN ($3, $4)",
		rebind("UPDATE bots SET status = ? WHERE id = ? AND status IN (?, ?)"))
}

func TestOpen_UnknownDriver(t *testing.T) {
	_, err := Open(context.Background(), "mongo", "", 0, false)
	assert.Error(t, err)
}
