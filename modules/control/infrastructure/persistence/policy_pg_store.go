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

type PolicyPGStore struct {
	pool pgBeginner
}

func NewPolicyPGStore(pool pgBeginner) *PolicyPGStore {
	return &PolicyPGStore{pool: pool}
}

func (s *PolicyPGStore) CurrentPolicy(ctx context.Context, projectID string) (types.Policy, bool, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return types.Policy{}, false, err
	}
	defer func() { _ = tx.Rollback(context.Background()) }()

	if _, err := tx.Exec(ctx, `SELECT set_config('app.current_tenant', $1, true);`, projectID); err != nil {
		return types.Policy{}, false, err
	}

	var p types.Policy
	var rawBody []byte
	err = tx.QueryRow(ctx, `
	SELECT policy_id::text, project_id::text, version, body, active_from
	FROM control.policy
	WHERE project_id = $1::uuid
	ORDER BY active_from DESC
	LIMIT 1
	`, projectID).Scan(&p.PolicyID, &p.ProjectID, &p.Version, &rawBody, &p.ActiveFrom)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return types.Policy{}, false, tx.Commit(ctx)
		}
		return types.Policy{}, false, err
	}
	if err := json.Unmarshal(rawBody, &p.Body); err != nil {
		return types.Policy{}, false, err
	}
	if err := tx.Commit(ctx); err != nil {
		return types.Policy{}, false, err
	}
	return p, true, nil
}

func (s *PolicyPGStore) PutPolicy(ctx context.Context, projectID string, version string, body types.PolicyBody, activeFrom time.Time) (types.Policy, error) {
	rawBody, err := json.Marshal(body)
	if err != nil {
		return types.Policy{}, err
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return types.Policy{}, err
	}
	defer func() { _ = tx.Rollback(context.Background()) }()

	if _, err := tx.Exec(ctx, `SELECT set_config('app.current_tenant', $1, true);`, projectID); err != nil {
		return types.Policy{}, err
	}

	policyID := uuid.NewString()
	if _, err := tx.Exec(ctx, `
	INSERT INTO control.policy (policy_id, project_id, version, body, active_from)
	VALUES ($1::uuid, $2::uuid, $3, $4::jsonb, $5)
	`, policyID, projectID, version, rawBody, activeFrom); err != nil {
		return types.Policy{}, err
	}
	if err := tx.Commit(ctx); err != nil {
		return types.Policy{}, err
	}

	return types.Policy{
		PolicyID:   policyID,
		ProjectID:  projectID,
		Version:    version,
		Body:       body,
		ActiveFrom: activeFrom,
	}, nil
}
