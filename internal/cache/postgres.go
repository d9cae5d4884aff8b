package cache

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore persists synthesized segments in PostgreSQL so cached audio
// survives restarts and is shared across replicas.
type PostgresStore struct {
	pool   *pgxpool.Pool
	ttl    time.Duration
	hits   atomic.Int64
	misses atomic.Int64
}

func NewPostgresStore(ctx context.Context, databaseURL string, ttl time.Duration) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}

	if err := initSchema(ctx, pool); err != nil {
		pool.Close()
		return nil, err
	}

	if ttl == 0 {
		ttl = defaultTTL
	}
	return &PostgresStore{pool: pool, ttl: ttl}, nil
}

func initSchema(ctx context.Context, pool *pgxpool.Pool) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS synth_segments (
			key TEXT PRIMARY KEY,
			pcm BYTEA NOT NULL,
			sample_rate INTEGER NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		);`,
		`CREATE INDEX IF NOT EXISTS idx_synth_segments_created ON synth_segments (created_at);`,
	}

	for _, stmt := range stmts {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("init schema failed on %q: %w", stmt, err)
		}
	}
	return nil
}

func (s *PostgresStore) Get(ctx context.Context, key string) (Entry, bool, error) {
	var e Entry
	row := s.pool.QueryRow(ctx,
		`SELECT key, pcm, sample_rate, created_at FROM synth_segments
		 WHERE key=$1 AND ($2::interval IS NULL OR created_at > now() - $2::interval)`,
		key, s.ttlInterval(),
	)
	if err := row.Scan(&e.Key, &e.PCM, &e.SampleRate, &e.CreatedAt); err != nil {
		if err == pgx.ErrNoRows {
			s.misses.Add(1)
			return Entry{}, false, nil
		}
		return Entry{}, false, fmt.Errorf("get segment: %w", err)
	}
	s.hits.Add(1)
	return e, true, nil
}

func (s *PostgresStore) Put(ctx context.Context, e Entry) error {
	if len(e.PCM) == 0 {
		return nil
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO synth_segments (key, pcm, sample_rate, created_at)
		 VALUES ($1, $2, $3, $4)
		 ON CONFLICT (key) DO UPDATE SET pcm=EXCLUDED.pcm, sample_rate=EXCLUDED.sample_rate, created_at=EXCLUDED.created_at`,
		e.Key, e.PCM, e.SampleRate, e.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("put segment: %w", err)
	}
	return nil
}

// Prune deletes rows older than the TTL.
func (s *PostgresStore) Prune(ctx context.Context) error {
	if s.ttl <= 0 {
		return nil
	}
	_, err := s.pool.Exec(ctx,
		`DELETE FROM synth_segments WHERE created_at <= now() - $1::interval`,
		s.ttlInterval(),
	)
	if err != nil {
		return fmt.Errorf("prune segments: %w", err)
	}
	return nil
}

func (s *PostgresStore) Stats() Stats {
	return Stats{
		Hits:   s.hits.Load(),
		Misses: s.misses.Load(),
	}
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

func (s *PostgresStore) ttlInterval() *string {
	if s.ttl <= 0 {
		return nil
	}
	iv := fmt.Sprintf("%d seconds", int(s.ttl.Seconds()))
	return &iv
}
