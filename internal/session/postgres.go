package session

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// pgUndefinedTable is the SQLSTATE for a missing relation.
const pgUndefinedTable = "42P01"

// PostgresBackend is the durable backend: session fields live in a small
// key-value table and survive restarts until cleared.
type PostgresBackend struct {
	pool *pgxpool.Pool
}

// NewPostgresBackend constructs a PostgresBackend over the given pool.
func NewPostgresBackend(pool *pgxpool.Pool) *PostgresBackend {
	return &PostgresBackend{pool: pool}
}

// EnsureSchema creates the backing table when missing.
func (b *PostgresBackend) EnsureSchema(ctx context.Context) error {
	const ddl = `CREATE TABLE IF NOT EXISTS session_kv (
		key   TEXT PRIMARY KEY,
		value TEXT NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`
	if _, err := b.pool.Exec(ctx, ddl); err != nil {
		return fmt.Errorf("session: ensure schema: %w", err)
	}
	return nil
}

func (b *PostgresBackend) Set(ctx context.Context, key, value string) error {
	const query = `INSERT INTO session_kv (key, value, updated_at)
		VALUES ($1, $2, now())
		ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value, updated_at = now()`
	if _, err := b.pool.Exec(ctx, query, key, value); err != nil {
		return fmt.Errorf("session: pg set %s: %w", key, describeSchemaError(err))
	}
	return nil
}

func (b *PostgresBackend) Get(ctx context.Context, key string) (string, bool, error) {
	const query = `SELECT value FROM session_kv WHERE key = $1`
	var value string
	err := b.pool.QueryRow(ctx, query, key).Scan(&value)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("session: pg get %s: %w", key, describeSchemaError(err))
	}
	return value, true, nil
}

func (b *PostgresBackend) Delete(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	const query = `DELETE FROM session_kv WHERE key = ANY($1)`
	if _, err := b.pool.Exec(ctx, query, keys); err != nil {
		return fmt.Errorf("session: pg delete: %w", describeSchemaError(err))
	}
	return nil
}

// describeSchemaError annotates the undefined-table case so operators know
// EnsureSchema has not run against this database yet.
func describeSchemaError(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == pgUndefinedTable {
		return fmt.Errorf("%w (session_kv missing, run EnsureSchema)", err)
	}
	return err
}
