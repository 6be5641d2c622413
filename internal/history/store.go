// Package history persists settled inference calls, serves dashboard queries
// and exports, and compacts old rows into daily aggregates.
package history

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	_ "modernc.org/sqlite"
)

var (
	ErrRecordWriteFailed = errors.New("record write failed")
	ErrQueryFailed       = errors.New("query failed")
	ErrModelNotFound     = errors.New("model not found")
)

const (
	MaxPreviewLength     = 500
	DefaultQueryLimit    = 20
	MaxQueryLimit        = 100
	DefaultExportLimit   = 1000
	MaxExportLimit       = 10_000
	DefaultRetentionDays = 90
	DefaultChainID       = 43113
)

// Store is the SQLite-backed inference history.
type Store struct {
	db  *sql.DB
	log *zap.Logger
	now func() time.Time
}

// NewDB opens (or creates) a SQLite database at path and runs migrations.
func NewDB(path string) (*sql.DB, error) {
	dsn := path + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping db: %w", err)
	}
	if err := migrate(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return db, nil
}

// Open is NewDB plus NewStore.
func Open(path string, log *zap.Logger) (*Store, error) {
	db, err := NewDB(path)
	if err != nil {
		return nil, err
	}
	return NewStore(db, log), nil
}

func NewStore(db *sql.DB, log *zap.Logger) *Store {
	return &Store{db: db, log: log, now: time.Now}
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

func migrate(db *sql.DB) error {
	schema := `
CREATE TABLE IF NOT EXISTS inference_history (
    id TEXT PRIMARY KEY,
    model_id TEXT NOT NULL,
    model_name TEXT NOT NULL DEFAULT '',
    agent_id INTEGER NOT NULL DEFAULT 0,
    payer_wallet TEXT NOT NULL,
    tx_hash TEXT,
    amount_usdc INTEGER NOT NULL,
    chain_id INTEGER NOT NULL,
    input_preview TEXT NOT NULL DEFAULT '',
    output_preview TEXT NOT NULL DEFAULT '',
    latency_ms INTEGER,
    created_at INTEGER NOT NULL,
    aggregated_at INTEGER
);

CREATE INDEX IF NOT EXISTS idx_history_model_created ON inference_history(model_id, created_at);
CREATE INDEX IF NOT EXISTS idx_history_payer_created ON inference_history(payer_wallet, created_at);
CREATE INDEX IF NOT EXISTS idx_history_created ON inference_history(created_at);

CREATE TABLE IF NOT EXISTS inference_aggregates (
    model_id TEXT NOT NULL,
    agent_id INTEGER NOT NULL DEFAULT 0,
    date TEXT NOT NULL,
    inference_count INTEGER NOT NULL,
    total_revenue INTEGER NOT NULL,
    unique_users INTEGER NOT NULL,
    avg_latency_ms REAL NOT NULL DEFAULT 0,
    UNIQUE(model_id, date)
);

CREATE TABLE IF NOT EXISTS models (
    model_id TEXT PRIMARY KEY,
    name TEXT NOT NULL,
    owner TEXT NOT NULL,
    creator TEXT NOT NULL,
    royalty_bps INTEGER NOT NULL DEFAULT 0,
    agent_id INTEGER NOT NULL DEFAULT 0,
    price_usdc INTEGER
);
`
	_, err := db.Exec(schema)
	return err
}

func queryErr(op string, err error) error {
	return fmt.Errorf("%w: %s: %v", ErrQueryFailed, op, err)
}

// inClause renders "(?,?,?)" and the matching args for ids.
func inClause(ids []string) (string, []any) {
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	return "(" + strings.TrimSuffix(strings.Repeat("?,", len(ids)), ",") + ")", args
}

func toMillis(t time.Time) int64 { return t.UnixMilli() }

func fromMillis(ms int64) time.Time { return time.UnixMilli(ms).UTC() }

// dateExpr buckets created_at (unix millis) into a UTC YYYY-MM-DD string.
const dateExpr = "date(created_at / 1000, 'unixepoch')"
