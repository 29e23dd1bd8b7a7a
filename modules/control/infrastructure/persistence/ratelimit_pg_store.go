package persistence

import (
	"context"
	"time"
)

// RateLimitPGStore implements the sliding-window slot reservation. The count
// and insert run in one transaction holding the asset row lock, so the check
// is an atomic increment-and-check rather than read-then-write.
type RateLimitPGStore struct {
	pool pgBeginner
}

func NewRateLimitPGStore(pool pgBeginner) *RateLimitPGStore {
	return &RateLimitPGStore{pool: pool}
}

func (s *RateLimitPGStore) ReserveSlot(ctx context.Context, assetID string, limit int, window time.Duration, now time.Time) (bool, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return false, err
	}
	defer func() { _ = tx.Rollback(context.Background()) }()

	if _, err := tx.Exec(ctx, `
	SELECT 1 FROM control.asset WHERE asset_id = $1::uuid FOR UPDATE
	`, assetID); err != nil {
		return false, err
	}

	cutoff := now.Add(-window)

	if _, err := tx.Exec(ctx, `
	DELETE FROM control.command_slot WHERE asset_id = $1::uuid AND accepted_at <= $2
	`, assetID, cutoff); err != nil {
		return false, err
	}

	var count int
	if err := tx.QueryRow(ctx, `
	SELECT count(*) FROM control.command_slot WHERE asset_id = $1::uuid AND accepted_at > $2
	`, assetID, cutoff).Scan(&count); err != nil {
		return false, err
	}
	if count >= limit {
		return false, tx.Commit(ctx)
	}

	if _, err := tx.Exec(ctx, `
	INSERT INTO control.command_slot (asset_id, accepted_at) VALUES ($1::uuid, $2)
	`, assetID, now); err != nil {
		return false, err
	}
	return true, tx.Commit(ctx)
}
