package persistence

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/gridlume/gridlume/modules/control/domain/types"
)

type KillSwitchPGStore struct {
	pool pgBeginner
}

func NewKillSwitchPGStore(pool pgBeginner) *KillSwitchPGStore {
	return &KillSwitchPGStore{pool: pool}
}

func (s *KillSwitchPGStore) State(ctx context.Context, projectID string) (types.KillSwitchState, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return types.KillSwitchState{}, err
	}
	defer func() { _ = tx.Rollback(context.Background()) }()

	if _, err := tx.Exec(ctx, `SELECT set_config('app.current_tenant', $1, true);`, projectID); err != nil {
		return types.KillSwitchState{}, err
	}

	state := types.KillSwitchState{ProjectID: projectID}
	var activatedAt sql.NullTime
	err = tx.QueryRow(ctx, `
	SELECT active, coalesce(activated_by, ''), activated_at, coalesce(reason, '')
	FROM control.kill_switch
	WHERE project_id = $1::uuid
	`, projectID).Scan(&state.Active, &state.ActivatedBy, &activatedAt, &state.Reason)
	if err != nil && !errors.Is(err, pgx.ErrNoRows) {
		return types.KillSwitchState{}, err
	}
	if activatedAt.Valid {
		state.ActivatedAt = activatedAt.Time
	}
	if err := tx.Commit(ctx); err != nil {
		return types.KillSwitchState{}, err
	}
	return state, nil
}

// Toggle upserts the one row per project; the conflict target row-locks it so
// concurrent toggles serialize and the last committed write wins.
func (s *KillSwitchPGStore) Toggle(ctx context.Context, projectID string, active bool, actor string, reason string, at time.Time) (types.KillSwitchState, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return types.KillSwitchState{}, err
	}
	defer func() { _ = tx.Rollback(context.Background()) }()

	if _, err := tx.Exec(ctx, `SELECT set_config('app.current_tenant', $1, true);`, projectID); err != nil {
		return types.KillSwitchState{}, err
	}

	if _, err := tx.Exec(ctx, `
	INSERT INTO control.kill_switch (project_id, active, activated_by, activated_at, reason)
	VALUES ($1::uuid, $2, $3, $4, $5)
	ON CONFLICT (project_id) DO UPDATE SET
	  active = EXCLUDED.active,
	  activated_by = EXCLUDED.activated_by,
	  activated_at = EXCLUDED.activated_at,
	  reason = EXCLUDED.reason
	`, projectID, active, actor, at, reason); err != nil {
		return types.KillSwitchState{}, err
	}
	if err := tx.Commit(ctx); err != nil {
		return types.KillSwitchState{}, err
	}

	return types.KillSwitchState{
		ProjectID:   projectID,
		Active:      active,
		ActivatedBy: actor,
		ActivatedAt: at,
		Reason:      reason,
	}, nil
}
