package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"rangepilot/internal/model"
)

// stateName keys the agent's last-run row in agent_state.
const stateName = "last_cycle_ts"

// Store provides Postgres persistence for rebalance history.
type Store struct {
	pool *pgxpool.Pool
}

func NewStore(ctx context.Context, dsn string) (*Store, error) {
	if dsn == "" {
		return nil, fmt.Errorf("pg dsn is required")
	}
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, err
	}
	return &Store{pool: pool}, nil
}

func (s *Store) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

// PutCycleRecords inserts cycle records and advances the agent-state row.
func (s *Store) PutCycleRecords(ctx context.Context, records []model.CycleRecord) error {
	if len(records) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	for _, rec := range records {
		batch.Queue(`
			INSERT INTO rebalance_cycles (
				pool_address, started_at, finished_at, no_op, success,
				digest, message, old_lower, old_upper, new_lower, new_upper, created_at
			) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,now())
		`,
			rec.PoolAddress,
			rec.StartedAt,
			rec.FinishedAt,
			rec.NoOp,
			rec.Success,
			rec.Digest,
			rec.Message,
			rec.OldLower,
			rec.OldUpper,
			rec.NewLower,
			rec.NewUpper,
		)
	}

	br := s.pool.SendBatch(ctx, batch)
	defer br.Close()

	for range records {
		if _, err := br.Exec(); err != nil {
			return err
		}
	}

	return s.saveState(ctx, uint64(time.Now().Unix()))
}

// LoadState returns the last recorded cycle timestamp.
func (s *Store) LoadState(ctx context.Context) (uint64, bool, error) {
	var ts uint64
	row := s.pool.QueryRow(ctx, `SELECT last_processed_ts FROM agent_state WHERE name=$1`, stateName)
	if err := row.Scan(&ts); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, false, nil
		}
		return 0, false, err
	}
	return ts, true, nil
}

func (s *Store) saveState(ctx context.Context, ts uint64) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO agent_state (name, last_processed_ts, updated_at)
		VALUES ($1, $2, now())
		ON CONFLICT (name) DO UPDATE
		SET last_processed_ts = EXCLUDED.last_processed_ts, updated_at = now()
	`, stateName, ts)
	return err
}
