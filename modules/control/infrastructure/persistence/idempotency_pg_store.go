package persistence

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/gridlume/gridlume/modules/control/domain/ports"
	"github.com/gridlume/gridlume/modules/control/domain/types"
)

// IdempotencyPGStore backs the command ledger with a uniqueness constraint on
// (asset_id, idempotency_key): the conditional insert is what makes exactly
// one concurrent submission observe Fresh.
type IdempotencyPGStore struct {
	pool         pgBeginner
	replayWindow time.Duration
}

func NewIdempotencyPGStore(pool pgBeginner, replayWindow time.Duration) *IdempotencyPGStore {
	if replayWindow <= 0 {
		replayWindow = 24 * time.Hour
	}
	return &IdempotencyPGStore{pool: pool, replayWindow: replayWindow}
}

func (s *IdempotencyPGStore) CheckAndReserve(ctx context.Context, assetID string, key string, payloadFingerprint string, now time.Time) (ports.Reservation, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return ports.Reservation{}, err
	}
	defer func() { _ = tx.Rollback(context.Background()) }()

	// Expired records fall out of the replay window and behave as unseen.
	if _, err := tx.Exec(ctx, `
	DELETE FROM control.command_ledger
	WHERE asset_id = $1::uuid AND idempotency_key = $2 AND first_seen_at < $3
	`, assetID, key, now.Add(-s.replayWindow)); err != nil {
		return ports.Reservation{}, err
	}

	tag, err := tx.Exec(ctx, `
	INSERT INTO control.command_ledger (asset_id, idempotency_key, payload_fingerprint, decision, first_seen_at)
	VALUES ($1::uuid, $2, $3, NULL, $4)
	ON CONFLICT (asset_id, idempotency_key) DO NOTHING
	`, assetID, key, payloadFingerprint, now)
	if err != nil {
		return ports.Reservation{}, err
	}
	if tag.RowsAffected() == 1 {
		if err := tx.Commit(ctx); err != nil {
			return ports.Reservation{}, err
		}
		return ports.Reservation{State: ports.ReservationFresh}, nil
	}

	var storedFingerprint string
	var rawDecision []byte
	err = tx.QueryRow(ctx, `
	SELECT payload_fingerprint, decision
	FROM control.command_ledger
	WHERE asset_id = $1::uuid AND idempotency_key = $2
	`, assetID, key).Scan(&storedFingerprint, &rawDecision)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			// The row vanished between insert and select (concurrent
			// release); tell the caller to retry fresh.
			return ports.Reservation{State: ports.ReservationPending}, tx.Commit(ctx)
		}
		return ports.Reservation{}, err
	}
	if err := tx.Commit(ctx); err != nil {
		return ports.Reservation{}, err
	}

	if storedFingerprint != payloadFingerprint {
		return ports.Reservation{State: ports.ReservationConflict}, nil
	}
	if len(rawDecision) == 0 {
		return ports.Reservation{State: ports.ReservationPending}, nil
	}
	var decision types.Decision
	if err := json.Unmarshal(rawDecision, &decision); err != nil {
		return ports.Reservation{}, err
	}
	return ports.Reservation{State: ports.ReservationReplay, CachedDecision: decision}, nil
}

func (s *IdempotencyPGStore) Commit(ctx context.Context, assetID string, key string, decision types.Decision) error {
	raw, err := json.Marshal(decision)
	if err != nil {
		return err
	}
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(context.Background()) }()

	if _, err := tx.Exec(ctx, `
	UPDATE control.command_ledger
	SET decision = $3::jsonb
	WHERE asset_id = $1::uuid AND idempotency_key = $2
	`, assetID, key, raw); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func (s *IdempotencyPGStore) Release(ctx context.Context, assetID string, key string) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(context.Background()) }()

	if _, err := tx.Exec(ctx, `
	DELETE FROM control.command_ledger
	WHERE asset_id = $1::uuid AND idempotency_key = $2 AND decision IS NULL
	`, assetID, key); err != nil {
		return err
	}
	return tx.Commit(ctx)
}
