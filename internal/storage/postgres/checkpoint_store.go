package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"qx-indexer/internal/domain"
	"qx-indexer/internal/storage"
)

// CheckpointStore implements storage.CheckpointStore using PostgreSQL.
type CheckpointStore struct {
	pool *Pool
}

// NewCheckpointStore creates a new CheckpointStore.
func NewCheckpointStore(pool *Pool) *CheckpointStore {
	return &CheckpointStore{pool: pool}
}

var _ storage.CheckpointStore = (*CheckpointStore)(nil)

// Put records a fully handled tick. Returns ErrDuplicateKey if present.
func (s *CheckpointStore) Put(ctx context.Context, cp *domain.TickCheckpoint) error {
	if cp == nil {
		return storage.ErrInvalidInput
	}

	query := `
		INSERT INTO indexed_ticks (tick, processed_at, tx_count, matched_count)
		VALUES ($1, $2, $3, $4)
	`
	_, err := s.pool.Exec(ctx, query, int64(cp.Tick), cp.ProcessedAt, cp.TxCount, cp.MatchedCount)
	if err != nil {
		if isDuplicateKeyError(err) {
			return storage.ErrDuplicateKey
		}
		return fmt.Errorf("insert checkpoint: %w", err)
	}
	return nil
}

// Get retrieves the checkpoint for a tick.
func (s *CheckpointStore) Get(ctx context.Context, tick uint32) (*domain.TickCheckpoint, error) {
	query := `
		SELECT tick, processed_at, tx_count, matched_count
		FROM indexed_ticks
		WHERE tick = $1
	`
	cp, err := scanCheckpoint(s.pool.QueryRow(ctx, query, int64(tick)))
	if err != nil {
		if isNotFoundError(err) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("get checkpoint: %w", err)
	}
	return cp, nil
}

// Last returns the highest checkpointed tick.
func (s *CheckpointStore) Last(ctx context.Context) (*domain.TickCheckpoint, error) {
	query := `
		SELECT tick, processed_at, tx_count, matched_count
		FROM indexed_ticks
		ORDER BY tick DESC
		LIMIT 1
	`
	cp, err := scanCheckpoint(s.pool.QueryRow(ctx, query))
	if err != nil {
		if isNotFoundError(err) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("get last checkpoint: %w", err)
	}
	return cp, nil
}

// Range retrieves checkpoints within [from, to] inclusive, ascending.
func (s *CheckpointStore) Range(ctx context.Context, from, to uint32) ([]*domain.TickCheckpoint, error) {
	query := `
		SELECT tick, processed_at, tx_count, matched_count
		FROM indexed_ticks
		WHERE tick >= $1 AND tick <= $2
		ORDER BY tick ASC
	`
	rows, err := s.pool.Query(ctx, query, int64(from), int64(to))
	if err != nil {
		return nil, fmt.Errorf("get checkpoint range: %w", err)
	}
	defer rows.Close()

	var result []*domain.TickCheckpoint
	for rows.Next() {
		cp, err := scanCheckpoint(rows)
		if err != nil {
			return nil, fmt.Errorf("scan checkpoint row: %w", err)
		}
		result = append(result, cp)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate checkpoint rows: %w", err)
	}
	return result, nil
}

func scanCheckpoint(row pgx.Row) (*domain.TickCheckpoint, error) {
	var cp domain.TickCheckpoint
	var tick int64
	if err := row.Scan(&tick, &cp.ProcessedAt, &cp.TxCount, &cp.MatchedCount); err != nil {
		return nil, err
	}
	cp.Tick = uint32(tick)
	return &cp, nil
}
