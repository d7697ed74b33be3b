package session

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"
)

// SQLiteStore keeps the session in a two-row key/value table.
type SQLiteStore struct {
	db     *sql.DB
	schema uint
}

var _ Store = (*SQLiteStore)(nil)

func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}
	// A single writer keeps SQLITE_BUSY away from concurrent refreshes.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	version, err := migrateSessionSchema(dbPath)
	if err != nil {
		db.Close()
		return nil, err
	}

	return &SQLiteStore{db: db, schema: version}, nil
}

// SchemaVersion is the migration version the database was brought to.
func (s *SQLiteStore) SchemaVersion() uint { return s.schema }

func (s *SQLiteStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

func (s *SQLiteStore) Get(ctx context.Context) (Pair, bool, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT key, value FROM session_tokens WHERE key IN (?, ?)`, KeyAccess, KeyRefresh)
	if err != nil {
		return Pair{}, false, fmt.Errorf("query session: %w", err)
	}
	defer rows.Close()

	var (
		pair  Pair
		found bool
	)
	for rows.Next() {
		var key, value string
		if err := rows.Scan(&key, &value); err != nil {
			return Pair{}, false, fmt.Errorf("scan session row: %w", err)
		}
		found = true
		switch key {
		case KeyAccess:
			pair.Access = value
		case KeyRefresh:
			pair.Refresh = value
		}
	}
	if err := rows.Err(); err != nil {
		return Pair{}, false, fmt.Errorf("iterate session rows: %w", err)
	}
	return pair, found, nil
}

func (s *SQLiteStore) Set(ctx context.Context, pair Pair) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		if err := upsert(ctx, tx, KeyAccess, pair.Access); err != nil {
			return err
		}
		return upsert(ctx, tx, KeyRefresh, pair.Refresh)
	})
}

func (s *SQLiteStore) SetAccess(ctx context.Context, access string) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		var n int
		err := tx.QueryRowContext(ctx,
			`SELECT COUNT(*) FROM session_tokens WHERE key = ?`, KeyRefresh).Scan(&n)
		if err != nil {
			return fmt.Errorf("check session: %w", err)
		}
		if n == 0 {
			return ErrNoSession
		}
		return upsert(ctx, tx, KeyAccess, access)
	})
}

func (s *SQLiteStore) Clear(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM session_tokens WHERE key IN (?, ?)`, KeyAccess, KeyRefresh)
	if err != nil {
		return fmt.Errorf("clear session: %w", err)
	}
	return nil
}

func (s *SQLiteStore) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
			return fmt.Errorf("%w (rollback: %v)", err, rbErr)
		}
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

func upsert(ctx context.Context, tx *sql.Tx, key, value string) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO session_tokens (key, value, updated_at) VALUES (?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		key, value)
	if err != nil {
		return fmt.Errorf("store %s token: %w", key, err)
	}
	return nil
}
