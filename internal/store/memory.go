package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"rebuybot/internal/core"
	apperrors "rebuybot/pkg/errors"
)

// MemoryStore is an in-process IBotStore for tests and the memory driver
type MemoryStore struct {
	mu       sync.Mutex
	bots     map[int64]*BotRecord
	accounts map[int64]core.Credentials
	nextID   int64
	closed   bool
}

var _ core.IBotStore = (*MemoryStore)(nil)

// NewMemoryStore creates an empty store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		bots:     make(map[int64]*BotRecord),
		accounts: make(map[int64]core.Credentials),
		nextID:   1,
	}
}

// CreateBot inserts a bot in idle status; a preset ID is kept
func (m *MemoryStore) CreateBot(_ context.Context, bot *core.BotConfig) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if bot.ID == 0 {
		bot.ID = m.nextID
	}
	if bot.ID >= m.nextID {
		m.nextID = bot.ID + 1
	}
	if bot.SizingMode == "" {
		bot.SizingMode = core.SizingAbsolute
	}
	m.bots[bot.ID] = &BotRecord{Config: *bot, Status: core.StatusIdle, UpdatedAt: time.Now()}
	return bot.ID, nil
}

// UpdateBot replaces a bot's configuration, keeping its status
func (m *MemoryStore) UpdateBot(_ context.Context, bot *core.BotConfig) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec, ok := m.bots[bot.ID]
	if !ok {
		return fmt.Errorf("%w: %d", apperrors.ErrBotNotFound, bot.ID)
	}
	rec.Config = *bot
	return nil
}

func (m *MemoryStore) GetBot(_ context.Context, id int64) (*core.BotConfig, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec, ok := m.bots[id]
	if !ok {
		return nil, fmt.Errorf("%w: %d", apperrors.ErrBotNotFound, id)
	}
	cfg := rec.Config
	return &cfg, nil
}

func (m *MemoryStore) ListBotsByStatus(_ context.Context, status core.BotStatus) ([]*core.BotConfig, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []*core.BotConfig
	for _, rec := range m.bots {
		if rec.Status == status {
			cfg := rec.Config
			out = append(out, &cfg)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// ListBots returns all bots with their statuses
func (m *MemoryStore) ListBots(_ context.Context) ([]BotRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]BotRecord, 0, len(m.bots))
	for _, rec := range m.bots {
		out = append(out, *rec)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Config.ID < out[j].Config.ID })
	return out, nil
}

func (m *MemoryStore) GetStatus(_ context.Context, id int64) (core.BotStatus, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec, ok := m.bots[id]
	if !ok {
		return "", fmt.Errorf("%w: %d", apperrors.ErrBotNotFound, id)
	}
	return rec.Status, nil
}

func (m *MemoryStore) SetStatus(_ context.Context, id int64, status core.BotStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec, ok := m.bots[id]
	if !ok {
		return fmt.Errorf("%w: %d", apperrors.ErrBotNotFound, id)
	}
	rec.Status = status
	rec.UpdatedAt = time.Now()
	return nil
}

func (m *MemoryStore) TransitionStatus(_ context.Context, id int64, from []core.BotStatus, to core.BotStatus) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec, ok := m.bots[id]
	if !ok {
		return false, fmt.Errorf("%w: %d", apperrors.ErrBotNotFound, id)
	}
	for _, f := range from {
		if rec.Status == f {
			rec.Status = to
			rec.UpdatedAt = time.Now()
			return true, nil
		}
	}
	return false, nil
}

func (m *MemoryStore) UpdateStatusIfLive(ctx context.Context, id int64, status core.BotStatus) (bool, error) {
	return m.TransitionStatus(ctx, id, core.LiveStatuses, status)
}

// UpsertAccount stores an account's API key pair
func (m *MemoryStore) UpsertAccount(_ context.Context, creds core.Credentials) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.accounts[creds.AccountID] = creds
	return nil
}

func (m *MemoryStore) GetCredentials(_ context.Context, accountID int64) (*core.Credentials, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	creds, ok := m.accounts[accountID]
	if !ok {
		return nil, fmt.Errorf("%w: %d", apperrors.ErrAccountNotFound, accountID)
	}
	return &creds, nil
}

func (m *MemoryStore) Ping(context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return fmt.Errorf("memory store closed")
	}
	return nil
}

func (m *MemoryStore) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}
