package store

import (
	"context"
	"fmt"

	"rebuybot/internal/core"
)

// Store is what the daemon needs beyond core.IBotStore: seeding, listing and lifecycle
type Store interface {
	core.IBotStore
	CreateBot(ctx context.Context, bot *core.BotConfig) (int64, error)
	ListBots(ctx context.Context) ([]BotRecord, error)
	UpsertAccount(ctx context.Context, creds core.Credentials) error
	Ping(ctx context.Context) error
	Close() error
}

var (
	_ Store = (*SQLStore)(nil)
	_ Store = (*MemoryStore)(nil)
)

// Open builds the store selected by driver and optionally creates the schema
func Open(ctx context.Context, driver, dsn string, maxOpenConns int, migrate bool) (Store, error) {
	var s *SQLStore
	var err error

	switch driver {
	case "memory":
		return NewMemoryStore(), nil
	case "sqlite":
		s, err = NewSQLiteStore(dsn)
	case "postgres":
		s, err = NewPostgresStore(dsn, maxOpenConns)
	default:
		return nil, fmt.Errorf("unknown store driver: %s", driver)
	}
	if err != nil {
		return nil, err
	}

	if migrate {
		if err := s.Migrate(ctx); err != nil {
			_ = s.Close()
			return nil, err
		}
	}
	return s, nil
}
