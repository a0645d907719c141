package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"bulksender/internal/dispatch"
	logx "bulksender/pkg/logx"
)

const postgresSchema = `
CREATE TABLE IF NOT EXISTS dispatches (
  id         TEXT PRIMARY KEY,
  kind       TEXT NOT NULL,
  message    TEXT NOT NULL,
  attachment TEXT,
  created_at BIGINT NOT NULL,
  sent       INTEGER NOT NULL,
  failed     INTEGER NOT NULL,
  results    JSONB NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_dispatches_created_at ON dispatches(created_at);
`

type postgresStore struct {
	pool *pgxpool.Pool
	log  logx.Logger
}

func openPostgres(cfg Config, log logx.Logger) (Store, error) {
	dsn := strings.TrimSpace(cfg.DSN)
	if dsn == "" {
		return nil, errors.New("storage.dsn is required for postgres driver")
	}
	pcfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres config: %w", err)
	}
	// One relay writes at a time; a handful of connections covers the history API.
	pcfg.MaxConns = 4
	pcfg.MaxConnLifetime = time.Hour
	pcfg.MaxConnIdleTime = 5 * time.Minute

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(ctx, pcfg)
	if err != nil {
		return nil, fmt.Errorf("postgres pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres ping: %w", err)
	}
	if _, err := pool.Exec(ctx, postgresSchema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres migrate: %w", err)
	}
	log.Debug("postgres history opened", logx.String("host", pcfg.ConnConfig.Host), logx.String("db", pcfg.ConnConfig.Database))
	return &postgresStore{pool: pool, log: log}, nil
}

func (s *postgresStore) Close() error {
	if s == nil || s.pool == nil {
		return nil
	}
	s.pool.Close()
	return nil
}

func (s *postgresStore) Record(ctx context.Context, rec dispatch.Record) error {
	if s == nil || s.pool == nil {
		return ErrDisabled
	}
	r, err := toRow(rec)
	if err != nil {
		return err
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO dispatches(id, kind, message, attachment, created_at, sent, failed, results)
		 VALUES($1,$2,$3,$4,$5,$6,$7,$8::jsonb)`,
		r.id, r.kind, r.message, r.attachment, r.createdAt, r.sent, r.failed, r.results,
	)
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return fmt.Errorf("dispatch %s already recorded: %w", r.id, err)
	}
	return err
}

func (s *postgresStore) Recent(ctx context.Context, limit int) ([]dispatch.Record, error) {
	if s == nil || s.pool == nil {
		return nil, ErrDisabled
	}
	rows, err := s.pool.Query(ctx,
		`SELECT id, kind, message, attachment, created_at, sent, failed, results::text
		 FROM dispatches ORDER BY created_at DESC LIMIT $1`, clampLimit(limit))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []dispatch.Record{}
	for rows.Next() {
		rec, err := scanRow(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (s *postgresStore) Get(ctx context.Context, id string) (dispatch.Record, error) {
	if s == nil || s.pool == nil {
		return dispatch.Record{}, ErrDisabled
	}
	rec, err := scanRow(s.pool.QueryRow(ctx,
		`SELECT id, kind, message, attachment, created_at, sent, failed, results::text
		 FROM dispatches WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return dispatch.Record{}, ErrNotFound
	}
	return rec, err
}

func (s *postgresStore) Prune(ctx context.Context, before time.Time) (int, error) {
	if s == nil || s.pool == nil {
		return 0, ErrDisabled
	}
	tag, err := s.pool.Exec(ctx, `DELETE FROM dispatches WHERE created_at < $1`, before.UnixMilli())
	if err != nil {
		return 0, err
	}
	return int(tag.RowsAffected()), nil
}
