package platform

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"trainhooks/internal/util/jsonutil"
)

// PostgresClient stores run metadata in a run_metadata table, one row per key.
type PostgresClient struct {
	db         *sql.DB
	schemaOnce sync.Once
	schemaErr  error
}

func NewPostgresClient(dsn string) (*PostgresClient, error) {
	db, err := sql.Open("pgx", strings.TrimSpace(dsn))
	if err != nil {
		return nil, err
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &PostgresClient{db: db}, nil
}

func NewPostgresClientFromDB(db *sql.DB) *PostgresClient {
	return &PostgresClient{db: db}
}

func (c *PostgresClient) Close() error {
	if c == nil || c.db == nil {
		return nil
	}
	return c.db.Close()
}

func (c *PostgresClient) ensureSchema(ctx context.Context) error {
	if c == nil || c.db == nil {
		return fmt.Errorf("db is nil")
	}
	c.schemaOnce.Do(func() {
		_, c.schemaErr = c.db.ExecContext(ctx, `
CREATE TABLE IF NOT EXISTS run_metadata (
    run_name TEXT NOT NULL,
    key TEXT NOT NULL,
    value JSONB NOT NULL,
    updated_at TIMESTAMP WITH TIME ZONE DEFAULT NOW(),
    PRIMARY KEY (run_name, key)
);
`)
	})
	return c.schemaErr
}

func (c *PostgresClient) UpdateRunMetadata(ctx context.Context, runName string, metadata map[string]any) error {
	runName = strings.TrimSpace(runName)
	if runName == "" {
		return fmt.Errorf("run name is required")
	}
	if err := c.ensureSchema(ctx); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	now := time.Now()
	for key, val := range metadata {
		raw, err := jsonutil.MarshalNoEscape(val)
		if err != nil {
			return fmt.Errorf("encode %s: %w", key, err)
		}
		if _, err := tx.ExecContext(ctx, `
INSERT INTO run_metadata (run_name, key, value, updated_at)
VALUES ($1, $2, $3::jsonb, $4)
ON CONFLICT (run_name, key)
DO UPDATE SET value=EXCLUDED.value, updated_at=EXCLUDED.updated_at
`, runName, key, string(raw), now); err != nil {
			return fmt.Errorf("upsert %s: %w", key, err)
		}
	}
	return tx.Commit()
}

// Metadata returns the stored metadata of a run.
func (c *PostgresClient) Metadata(ctx context.Context, runName string) (map[string]string, error) {
	if err := c.ensureSchema(ctx); err != nil {
		return nil, err
	}
	rows, err := c.db.QueryContext(ctx, `SELECT key, value::text FROM run_metadata WHERE run_name=$1 ORDER BY key`, runName)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[string]string)
	for rows.Next() {
		var k, v string
		if err := rows.Scan(&k, &v); err != nil {
			return nil, err
		}
		out[k] = v
	}
	return out, rows.Err()
}
