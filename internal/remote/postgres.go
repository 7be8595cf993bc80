package remote

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/pavelanni/examprep/internal/model"
)

// DBTX is the subset of pgxpool.Pool used by Postgres.
type DBTX interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

// PoolConfig tunes the pgx connection pool.
type PoolConfig struct {
	MaxConns        int32
	MaxConnLifetime time.Duration
}

// Postgres stores progress snapshots as JSONB rows keyed by identity and test.
type Postgres struct {
	db   DBTX
	pool *pgxpool.Pool
}

// NewPostgres connects to PostgreSQL, verifies the connection and creates
// the snapshot table if needed.
func NewPostgres(ctx context.Context, dsn string, cfg PoolConfig) (*Postgres, error) {
	poolConfig, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolConfig.MaxConns = cfg.MaxConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolConfig.MaxConnLifetime = cfg.MaxConnLifetime
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("new pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	p := &Postgres{db: pool, pool: pool}
	if err := p.Migrate(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return p, nil
}

// NewPostgresWithDB wraps an existing connection or transaction.
func NewPostgresWithDB(db DBTX) *Postgres {
	return &Postgres{db: db}
}

// Migrate creates the snapshot table.
func (p *Postgres) Migrate(ctx context.Context) error {
	_, err := p.db.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS progress_snapshots (
			identity   TEXT        NOT NULL,
			test_id    TEXT        NOT NULL,
			snapshot   JSONB       NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			PRIMARY KEY (identity, test_id)
		)`)
	if err != nil {
		return fmt.Errorf("migrate progress_snapshots: %w", err)
	}
	return nil
}

// Save upserts the snapshot for identity.
func (p *Postgres) Save(ctx context.Context, identity string, snap model.ProgressSnapshot) error {
	data, err := encodeSnapshot(identity, snap)
	if err != nil {
		return err
	}
	query := `
		INSERT INTO progress_snapshots (identity, test_id, snapshot, updated_at)
		VALUES ($1, $2, $3::jsonb, now())
		ON CONFLICT (identity, test_id) DO UPDATE SET
			snapshot = EXCLUDED.snapshot,
			updated_at = EXCLUDED.updated_at
	`
	if _, err := p.db.Exec(ctx, query, identity, snap.TestID, string(data)); err != nil {
		return fmt.Errorf("upsert snapshot: %w", err)
	}
	return nil
}

// Load returns the snapshot for identity and test, or nil if none exists.
func (p *Postgres) Load(ctx context.Context, identity, testID string) (*model.ProgressSnapshot, error) {
	var data []byte
	err := p.db.QueryRow(ctx,
		`SELECT snapshot FROM progress_snapshots WHERE identity = $1 AND test_id = $2`,
		identity, testID,
	).Scan(&data)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get snapshot: %w", err)
	}
	return decodeSnapshot(data)
}

// LoadAll returns every snapshot stored for identity.
func (p *Postgres) LoadAll(ctx context.Context, identity string) ([]model.ProgressSnapshot, error) {
	rows, err := p.db.Query(ctx,
		`SELECT snapshot FROM progress_snapshots WHERE identity = $1 ORDER BY test_id`,
		identity,
	)
	if err != nil {
		return nil, fmt.Errorf("list snapshots: %w", err)
	}
	defer rows.Close()

	var snaps []model.ProgressSnapshot
	for rows.Next() {
		var data []byte
		if err := rows.Scan(&data); err != nil {
			return nil, fmt.Errorf("scan snapshot: %w", err)
		}
		snap, err := decodeSnapshot(data)
		if err != nil {
			return nil, err
		}
		snaps = append(snaps, *snap)
	}
	return snaps, rows.Err()
}

// Close releases the pool when Postgres owns it.
func (p *Postgres) Close() error {
	if p.pool != nil {
		p.pool.Close()
	}
	return nil
}
