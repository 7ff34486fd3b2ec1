// Package store persists account credentials and strategy configs in SQLite.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite" // SQLite driver

	"mirror-core/internal/errs"
	"mirror-core/internal/gateway"
	"mirror-core/internal/strategy"
)

const schema = `
PRAGMA journal_mode=WAL;

CREATE TABLE IF NOT EXISTS accounts (
    id TEXT PRIMARY KEY,
    venue TEXT NOT NULL,
    api_key TEXT NOT NULL,
    api_secret TEXT NOT NULL,
    created_at DATETIME DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS strategy_configs (
    id TEXT PRIMARY KEY,
    account_id TEXT NOT NULL,
    type TEXT NOT NULL,
    market_id TEXT NOT NULL,
    options TEXT NOT NULL,
    created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
    FOREIGN KEY(account_id) REFERENCES accounts(id)
);
`

// Store wraps the SQL handle for easier swapping/testing.
type Store struct {
	DB *sql.DB
}

// Open opens (and creates if needed) the SQLite database at path and applies
// the schema.
func Open(path string) (*Store, error) {
	if path == "" {
		return nil, errors.New("database path is empty")
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1) // SQLite prefers single writer.
	db.SetConnMaxLifetime(time.Hour)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}

	return &Store{DB: db}, nil
}

// Close releases the underlying DB handle.
func (s *Store) Close() error {
	if s == nil || s.DB == nil {
		return nil
	}
	return s.DB.Close()
}

// ----------------------------------------
// Accounts
// ----------------------------------------

// ListAccounts returns every stored account's credentials.
func (s *Store) ListAccounts(ctx context.Context) ([]gateway.Credentials, error) {
	rows, err := s.DB.QueryContext(ctx, `
		SELECT id, venue, api_key, api_secret
		FROM accounts
		ORDER BY created_at
	`)
	if err != nil {
		return nil, fmt.Errorf("query accounts: %w", err)
	}
	defer rows.Close()

	var accounts []gateway.Credentials
	for rows.Next() {
		var c gateway.Credentials
		if err := rows.Scan(&c.AccountID, &c.Venue, &c.APIKey, &c.APISecret); err != nil {
			return nil, fmt.Errorf("scan account: %w", err)
		}
		accounts = append(accounts, c)
	}
	return accounts, rows.Err()
}

// SaveAccount inserts or replaces an account's credentials.
func (s *Store) SaveAccount(ctx context.Context, creds gateway.Credentials) error {
	if creds.AccountID == "" {
		return errs.InvalidConfig("account id is required")
	}
	_, err := s.DB.ExecContext(ctx, `
		INSERT INTO accounts (id, venue, api_key, api_secret)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			venue = excluded.venue,
			api_key = excluded.api_key,
			api_secret = excluded.api_secret
	`, creds.AccountID, creds.Venue, creds.APIKey, creds.APISecret)
	if err != nil {
		return fmt.Errorf("save account: %w", err)
	}
	return nil
}

// DeleteAccount removes an account and its strategy configs.
func (s *Store) DeleteAccount(ctx context.Context, accountID string) error {
	if _, err := s.DB.ExecContext(ctx, `DELETE FROM strategy_configs WHERE account_id = ?`, accountID); err != nil {
		return fmt.Errorf("delete account strategies: %w", err)
	}
	res, err := s.DB.ExecContext(ctx, `DELETE FROM accounts WHERE id = ?`, accountID)
	if err != nil {
		return fmt.Errorf("delete account: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return errs.NotFound("account", accountID)
	}
	return nil
}

// ----------------------------------------
// Strategy configs
// ----------------------------------------

// ListStrategies returns every stored strategy config.
func (s *Store) ListStrategies(ctx context.Context) ([]*strategy.Config, error) {
	rows, err := s.DB.QueryContext(ctx, `
		SELECT id, account_id, type, market_id, options
		FROM strategy_configs
		ORDER BY created_at
	`)
	if err != nil {
		return nil, fmt.Errorf("query strategies: %w", err)
	}
	defer rows.Close()

	var configs []*strategy.Config
	for rows.Next() {
		var (
			cfg     strategy.Config
			typ     string
			options string
		)
		if err := rows.Scan(&cfg.ID, &cfg.AccountID, &typ, &cfg.MarketID, &options); err != nil {
			return nil, fmt.Errorf("scan strategy: %w", err)
		}
		cfg.Type = strategy.Type(typ)
		cfg.Options = json.RawMessage(options)
		configs = append(configs, &cfg)
	}
	return configs, rows.Err()
}

// SaveStrategy inserts or replaces a strategy config.
func (s *Store) SaveStrategy(ctx context.Context, cfg *strategy.Config) error {
	if cfg.ID == "" {
		return errs.InvalidConfig("strategy id is required")
	}
	view := cfg.Snapshot()
	_, err := s.DB.ExecContext(ctx, `
		INSERT INTO strategy_configs (id, account_id, type, market_id, options)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			account_id = excluded.account_id,
			type = excluded.type,
			market_id = excluded.market_id,
			options = excluded.options
	`, view.ID, view.AccountID, string(view.Type), view.MarketID, string(view.Options))
	if err != nil {
		return fmt.Errorf("save strategy: %w", err)
	}
	return nil
}

// DeleteStrategy removes a strategy config.
func (s *Store) DeleteStrategy(ctx context.Context, strategyID string) error {
	res, err := s.DB.ExecContext(ctx, `DELETE FROM strategy_configs WHERE id = ?`, strategyID)
	if err != nil {
		return fmt.Errorf("delete strategy: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return errs.NotFound("strategy", strategyID)
	}
	return nil
}
