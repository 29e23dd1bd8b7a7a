package persistence

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/gridlume/gridlume/modules/control/domain/types"
)

type SchedulePGStore struct {
	pool pgBeginner
}

func NewSchedulePGStore(pool pgBeginner) *SchedulePGStore {
	return &SchedulePGStore{pool: pool}
}

// Activate supersedes the asset's active schedule and inserts the new one in
// the same transaction, so readers never observe two active schedules.
func (s *SchedulePGStore) Activate(ctx context.Context, projectID string, assetID string, commandID string, steps []types.ScheduleStep, at time.Time) (types.Schedule, error) {
	rawSteps, err := json.Marshal(steps)
	if err != nil {
		return types.Schedule{}, err
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return types.Schedule{}, err
	}
	defer func() { _ = tx.Rollback(context.Background()) }()

	if _, err := tx.Exec(ctx, `SELECT set_config('app.current_tenant', $1, true);`, projectID); err != nil {
		return types.Schedule{}, err
	}

	if _, err := tx.Exec(ctx, `
	UPDATE control.schedule
	SET status = 'superseded', superseded_at = $2
	WHERE asset_id = $1::uuid AND status = 'active'
	`, assetID, at); err != nil {
		return types.Schedule{}, err
	}

	scheduleID := uuid.NewString()
	if _, err := tx.Exec(ctx, `
	INSERT INTO control.schedule (schedule_id, project_id, asset_id, command_id, steps, status, activated_at)
	VALUES ($1::uuid, $2::uuid, $3::uuid, $4::uuid, $5::jsonb, 'active', $6)
	`, scheduleID, projectID, assetID, commandID, rawSteps, at); err != nil {
		return types.Schedule{}, err
	}
	if err := tx.Commit(ctx); err != nil {
		return types.Schedule{}, err
	}

	return types.Schedule{
		ScheduleID:  scheduleID,
		ProjectID:   projectID,
		AssetID:     assetID,
		CommandID:   commandID,
		Steps:       steps,
		Status:      types.ScheduleActive,
		ActivatedAt: at,
	}, nil
}

func (s *SchedulePGStore) ActiveSchedule(ctx context.Context, projectID string, assetID string) (types.Schedule, bool, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return types.Schedule{}, false, err
	}
	defer func() { _ = tx.Rollback(context.Background()) }()

	if _, err := tx.Exec(ctx, `SELECT set_config('app.current_tenant', $1, true);`, projectID); err != nil {
		return types.Schedule{}, false, err
	}

	var sched types.Schedule
	var rawSteps []byte
	err = tx.QueryRow(ctx, `
	SELECT schedule_id::text, project_id::text, asset_id::text, command_id::text, steps, activated_at
	FROM control.schedule
	WHERE asset_id = $1::uuid AND status = 'active'
	`, assetID).Scan(&sched.ScheduleID, &sched.ProjectID, &sched.AssetID, &sched.CommandID, &rawSteps, &sched.ActivatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return types.Schedule{}, false, tx.Commit(ctx)
		}
		return types.Schedule{}, false, err
	}
	if err := json.Unmarshal(rawSteps, &sched.Steps); err != nil {
		return types.Schedule{}, false, err
	}
	sched.Status = types.ScheduleActive
	if err := tx.Commit(ctx); err != nil {
		return types.Schedule{}, false, err
	}
	return sched, true, nil
}
