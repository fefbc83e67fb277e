// Package store persists bot configuration, lifecycle status and account credentials
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"rebuybot/internal/core"
	apperrors "rebuybot/pkg/errors"
)

// Dialect selects placeholder style and DDL
type Dialect string

const (
	DialectSQLite   Dialect = "sqlite"
	DialectPostgres Dialect = "postgres"
)

// BotRecord is a bot row with its status, as listed by the control API
type BotRecord struct {
	Config    core.BotConfig
	Status    core.BotStatus
	UpdatedAt time.Time
}

// SQLStore implements core.IBotStore on database/sql. Queries are written with ?
// placeholders and rebound for Postgres.
type SQLStore struct {
	db      *sql.DB
	dialect Dialect
	now     func() time.Time
}

var _ core.IBotStore = (*SQLStore)(nil)

func newSQLStore(db *sql.DB, dialect Dialect) *SQLStore {
	return &SQLStore{db: db, dialect: dialect, now: time.Now}
}

// DB exposes the pool for migrations and tests
func (s *SQLStore) DB() *sql.DB { return s.db }

// Dialect returns the SQL flavour in use
func (s *SQLStore) Dialect() Dialect { return s.dialect }

func (s *SQLStore) q(query string) string {
	if s.dialect != DialectPostgres {
		return query
	}
	return rebind(query)
}

// rebind rewrites ? placeholders into $1..$n
func rebind(query string) string {
	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteByte(query[i])
	}
	return b.String()
}

const botColumns = `id, account_id, symbol, start_size, sizing_mode, leverage, multiplier,
	take_profit_percent, rebuy_percent, max_rebuys`

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanBot(row rowScanner, extra ...interface{}) (*core.BotConfig, error) {
	var (
		b    core.BotConfig
		mode string
	)
	dest := []interface{}{
		&b.ID, &b.AccountID, &b.Symbol, &b.StartSize, &mode, &b.Leverage, &b.Multiplier,
		&b.TakeProfitPercent, &b.RebuyPercent, &b.MaxRebuys,
	}
	if err := row.Scan(append(dest, extra...)...); err != nil {
		return nil, err
	}
	b.SizingMode = core.SizingMode(mode)
	return &b, nil
}

// GetBot loads a bot's configuration
func (s *SQLStore) GetBot(ctx context.Context, id int64) (*core.BotConfig, error) {
	row := s.db.QueryRowContext(ctx, s.q(`SELECT `+botColumns+` FROM bots WHERE id = ?`), id)
	bot, err := scanBot(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %d", apperrors.ErrBotNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load bot %d: %w", id, err)
	}
	return bot, nil
}

// ListBotsByStatus returns every bot currently in status
func (s *SQLStore) ListBotsByStatus(ctx context.Context, status core.BotStatus) ([]*core.BotConfig, error) {
	rows, err := s.db.QueryContext(ctx, s.q(`SELECT `+botColumns+` FROM bots WHERE status = ? ORDER BY id`), string(status))
	if err != nil {
		return nil, fmt.Errorf("failed to list bots: %w", err)
	}
	defer rows.Close()

	var bots []*core.BotConfig
	for rows.Next() {
		bot, err := scanBot(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan bot: %w", err)
		}
		bots = append(bots, bot)
	}
	return bots, rows.Err()
}

// ListBots returns all bots with their statuses
func (s *SQLStore) ListBots(ctx context.Context) ([]BotRecord, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+botColumns+`, status, updated_at FROM bots ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list bots: %w", err)
	}
	defer rows.Close()

	var out []BotRecord
	for rows.Next() {
		var (
			status  string
			updated int64
		)
		bot, err := scanBot(rows, &status, &updated)
		if err != nil {
			return nil, fmt.Errorf("failed to scan bot: %w", err)
		}
		st, err := core.ParseBotStatus(status)
		if err != nil {
			return nil, err
		}
		out = append(out, BotRecord{Config: *bot, Status: st, UpdatedAt: time.Unix(0, updated)})
	}
	return out, rows.Err()
}

// CreateBot inserts a bot in idle status and returns its id
func (s *SQLStore) CreateBot(ctx context.Context, bot *core.BotConfig) (int64, error) {
	if bot.SizingMode == "" {
		bot.SizingMode = core.SizingAbsolute
	}
	args := []interface{}{
		bot.AccountID, bot.Symbol, bot.StartSize, string(bot.SizingMode), bot.Leverage, bot.Multiplier,
		bot.TakeProfitPercent, bot.RebuyPercent, bot.MaxRebuys, string(core.StatusIdle), s.now().UnixNano(),
	}
	const insert = `INSERT INTO bots (account_id, symbol, start_size, sizing_mode, leverage, multiplier,
		take_profit_percent, rebuy_percent, max_rebuys, status, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	if s.dialect == DialectPostgres {
		var id int64
		if err := s.db.QueryRowContext(ctx, s.q(insert+` RETURNING id`), args...).Scan(&id); err != nil {
			return 0, fmt.Errorf("failed to insert bot: %w", err)
		}
		bot.ID = id
		return id, nil
	}

	res, err := s.db.ExecContext(ctx, insert, args...)
	if err != nil {
		return 0, fmt.Errorf("failed to insert bot: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, err
	}
	bot.ID = id
	return id, nil
}

// GetStatus reads a bot's persisted status
func (s *SQLStore) GetStatus(ctx context.Context, id int64) (core.BotStatus, error) {
	var raw string
	err := s.db.QueryRowContext(ctx, s.q(`SELECT status FROM bots WHERE id = ?`), id).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return "", fmt.Errorf("%w: %d", apperrors.ErrBotNotFound, id)
	}
	if err != nil {
		return "", fmt.Errorf("failed to read status of bot %d: %w", id, err)
	}
	return core.ParseBotStatus(raw)
}

// SetStatus writes a status unconditionally
func (s *SQLStore) SetStatus(ctx context.Context, id int64, status core.BotStatus) error {
	res, err := s.db.ExecContext(ctx, s.q(`UPDATE bots SET status = ?, updated_at = ? WHERE id = ?`),
		string(status), s.now().UnixNano(), id)
	if err != nil {
		return fmt.Errorf("failed to set status of bot %d: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%w: %d", apperrors.ErrBotNotFound, id)
	}
	return nil
}

// TransitionStatus is a compare-and-set on the status column
func (s *SQLStore) TransitionStatus(ctx context.Context, id int64, from []core.BotStatus, to core.BotStatus) (bool, error) {
	if len(from) == 0 {
		return false, nil
	}

	placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(from)), ", ")
	args := []interface{}{string(to), s.now().UnixNano(), id}
	for _, f := range from {
		args = append(args, string(f))
	}

	query := `UPDATE bots SET status = ?, updated_at = ? WHERE id = ? AND status IN (` + placeholders + `)`
	res, err := s.db.ExecContext(ctx, s.q(query), args...)
	if err != nil {
		return false, fmt.Errorf("failed to transition bot %d to %s: %w", id, to, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	if n > 0 {
		return true, nil
	}

	// distinguish a status mismatch from a missing row
	if _, err := s.GetStatus(ctx, id); err != nil {
		return false, err
	}
	return false, nil
}

// UpdateStatusIfLive writes status only while the bot is running, stopping or error
func (s *SQLStore) UpdateStatusIfLive(ctx context.Context, id int64, status core.BotStatus) (bool, error) {
	return s.TransitionStatus(ctx, id, core.LiveStatuses, status)
}

// UpsertAccount stores an account's API key pair
func (s *SQLStore) UpsertAccount(ctx context.Context, creds core.Credentials) error {
	_, err := s.db.ExecContext(ctx, s.q(`INSERT INTO accounts (id, api_key, api_secret) VALUES (?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET api_key = excluded.api_key, api_secret = excluded.api_secret`),
		creds.AccountID, creds.APIKey, creds.APISecret.Reveal())
	if err != nil {
		return fmt.Errorf("failed to upsert account %d: %w", creds.AccountID, err)
	}
	return nil
}

// GetCredentials loads an account's API key pair
func (s *SQLStore) GetCredentials(ctx context.Context, accountID int64) (*core.Credentials, error) {
	var key, secret sql.NullString
	err := s.db.QueryRowContext(ctx, s.q(`SELECT api_key, api_secret FROM accounts WHERE id = ?`), accountID).Scan(&key, &secret)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %d", apperrors.ErrAccountNotFound, accountID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load credentials for account %d: %w", accountID, err)
	}
	return &core.Credentials{
		AccountID: accountID,
		APIKey:    key.String,
		APISecret: core.Secret(secret.String),
	}, nil
}

// Ping checks the connection
func (s *SQLStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close releases the pool
func (s *SQLStore) Close() error {
	return s.db.Close()
}
