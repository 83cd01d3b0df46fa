package journal

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Compile-time interface check.
var _ Store = (*PostgresStore)(nil)

const ddlDetections = `
CREATE TABLE IF NOT EXISTS detections (
    id           BIGSERIAL    PRIMARY KEY,
    session_id   TEXT         NOT NULL,
    source       TEXT         NOT NULL DEFAULT '',
    keyword_idx  INTEGER      NOT NULL,
    keyword      TEXT         NOT NULL,
    offset_ns    BIGINT       NOT NULL DEFAULT 0,
    detected_at  TIMESTAMPTZ  NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_detections_session_id
    ON detections (session_id);

CREATE INDEX IF NOT EXISTS idx_detections_detected_at
    ON detections (detected_at);
`

// PostgresStore records detections in a PostgreSQL detections table.
// All methods are safe for concurrent use.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore connects to the database at dsn and runs [Migrate].
func NewPostgresStore(ctx context.Context, dsn string) (*PostgresStore, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("journal: parse dsn: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("journal: create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("journal: ping: %w", err)
	}

	if err := Migrate(ctx, pool); err != nil {
		pool.Close()
		return nil, err
	}

	return &PostgresStore{pool: pool}, nil
}

// Migrate creates the detections table and its indexes. It is idempotent
// and safe to call on every start.
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	if _, err := pool.Exec(ctx, ddlDetections); err != nil {
		return fmt.Errorf("journal: migrate: %w", err)
	}
	return nil
}

// Record inserts e.
func (s *PostgresStore) Record(ctx context.Context, e Entry) error {
	const q = `
		INSERT INTO detections
		    (session_id, source, keyword_idx, keyword, offset_ns, detected_at)
		VALUES ($1, $2, $3, $4, $5, $6)`

	_, err := s.pool.Exec(ctx, q,
		e.SessionID,
		e.Source,
		e.Index,
		e.Keyword,
		e.Offset.Nanoseconds(),
		e.Time,
	)
	if err != nil {
		return fmt.Errorf("journal: record: %w", err)
	}
	return nil
}

// Recent returns up to limit entries ordered by detection time, newest first.
func (s *PostgresStore) Recent(ctx context.Context, limit int) ([]Entry, error) {
	q := `
		SELECT session_id, source, keyword_idx, keyword, offset_ns, detected_at
		FROM   detections
		ORDER  BY detected_at DESC, id DESC`
	var args []any
	if limit > 0 {
		q += "\n\t\tLIMIT $1"
		args = append(args, limit)
	}

	rows, err := s.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("journal: recent: %w", err)
	}
	entries, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (Entry, error) {
		var (
			e        Entry
			offsetNS int64
		)
		if err := row.Scan(&e.SessionID, &e.Source, &e.Index, &e.Keyword, &offsetNS, &e.Time); err != nil {
			return Entry{}, err
		}
		e.Offset = time.Duration(offsetNS)
		return e, nil
	})
	if err != nil {
		return nil, fmt.Errorf("journal: scan rows: %w", err)
	}
	if entries == nil {
		entries = []Entry{}
	}
	return entries, nil
}

// Ping checks connectivity to the database.
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Close releases all pooled connections.
func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}
