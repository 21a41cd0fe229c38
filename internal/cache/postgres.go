package cache

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"sync"

	"github.com/cockroachdb/errors"
	_ "github.com/jackc/pgx/v5/stdlib"
)

var identPattern = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// PostgresStore keeps entries in a single table, one row per hash.
type PostgresStore struct {
	db    *sql.DB
	table string

	schemaOnce sync.Once
	schemaErr  error
}

// OpenPostgres opens a pgx-backed connection pool and verifies it.
func OpenPostgres(ctx context.Context, dsn, table string) (*PostgresStore, error) {
	db, err := sql.Open("pgx", strings.TrimSpace(dsn))
	if err != nil {
		return nil, errors.Wrap(err, "opening postgres")
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, errors.Wrap(err, "connecting to postgres")
	}
	s, err := NewPostgresStore(db, table)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// NewPostgresStore uses an existing database handle.
func NewPostgresStore(db *sql.DB, table string) (*PostgresStore, error) {
	if table == "" {
		table = "farm_type_cache"
	}
	if !identPattern.MatchString(table) {
		return nil, errors.Newf("invalid table name %q", table)
	}
	return &PostgresStore{db: db, table: table}, nil
}

func (s *PostgresStore) Name() string { return "postgres" }

func (s *PostgresStore) ensureSchema(ctx context.Context) error {
	s.schemaOnce.Do(func() {
		_, s.schemaErr = s.db.ExecContext(ctx, fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
  hash TEXT PRIMARY KEY,
  entry JSONB NOT NULL,
  created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW()
)`, s.table))
	})
	return s.schemaErr
}

func (s *PostgresStore) Load(ctx context.Context, hash string) (*Entry, error) {
	if err := s.ensureSchema(ctx); err != nil {
		return nil, err
	}

	var data []byte
	row := s.db.QueryRowContext(ctx, fmt.Sprintf(`SELECT entry FROM %s WHERE hash = $1`, s.table), hash)
	if err := row.Scan(&data); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}

	var e Entry
	if err := json.Unmarshal(data, &e); err != nil {
		return nil, errors.Wrap(err, "decoding entry")
	}
	return &e, nil
}

func (s *PostgresStore) Save(ctx context.Context, e *Entry) error {
	if err := s.ensureSchema(ctx); err != nil {
		return err
	}
	data, err := json.Marshal(e)
	if err != nil {
		return errors.Wrap(err, "encoding entry")
	}
	_, err = s.db.ExecContext(ctx, fmt.Sprintf(`
INSERT INTO %s (hash, entry, created_at)
VALUES ($1, $2, $3)
ON CONFLICT (hash)
DO UPDATE SET entry = EXCLUDED.entry, created_at = EXCLUDED.created_at`, s.table),
		e.Hash, data, e.CreatedAt)
	return err
}

func (s *PostgresStore) Clear(ctx context.Context) (int, error) {
	if err := s.ensureSchema(ctx); err != nil {
		return 0, err
	}
	res, err := s.db.ExecContext(ctx, fmt.Sprintf(`DELETE FROM %s`, s.table))
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	return int(n), err
}

func (s *PostgresStore) Count(ctx context.Context) (int, error) {
	if err := s.ensureSchema(ctx); err != nil {
		return 0, err
	}
	var n int
	err := s.db.QueryRowContext(ctx, fmt.Sprintf(`SELECT COUNT(*) FROM %s`, s.table)).Scan(&n)
	return n, err
}

// SaveLatest bumps the entry's created_at so it sorts first.
func (s *PostgresStore) SaveLatest(ctx context.Context, hash string) error {
	if err := s.ensureSchema(ctx); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx, fmt.Sprintf(`UPDATE %s SET created_at = NOW() WHERE hash = $1`, s.table), hash)
	return err
}

func (s *PostgresStore) LoadLatest(ctx context.Context) (string, error) {
	if err := s.ensureSchema(ctx); err != nil {
		return "", err
	}
	var hash string
	err := s.db.QueryRowContext(ctx, fmt.Sprintf(`SELECT hash FROM %s ORDER BY created_at DESC LIMIT 1`, s.table)).Scan(&hash)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrNotFound
	}
	return hash, err
}

func (s *PostgresStore) Close() error {
	return s.db.Close()
}
