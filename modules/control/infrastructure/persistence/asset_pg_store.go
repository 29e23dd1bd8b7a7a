package persistence

import (
	"context"
	"errors"
	"strings"

	"github.com/jackc/pgx/v5"

	"github.com/gridlume/gridlume/modules/control/domain/types"
)

type pgBeginner interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

type AssetPGStore struct {
	pool pgBeginner
}

func NewAssetPGStore(pool pgBeginner) *AssetPGStore {
	return &AssetPGStore{pool: pool}
}

func (s *AssetPGStore) GetAsset(ctx context.Context, projectID string, externalID string) (types.Asset, error) {
	externalID = strings.TrimSpace(externalID)
	if externalID == "" {
		return types.Asset{}, types.NewAssetNotFound(externalID)
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return types.Asset{}, err
	}
	defer func() { _ = tx.Rollback(context.Background()) }()

	if _, err := tx.Exec(ctx, `SELECT set_config('app.current_tenant', $1, true);`, projectID); err != nil {
		return types.Asset{}, err
	}

	var a types.Asset
	var mode string
	err = tx.QueryRow(ctx, `
	SELECT asset_id::text, project_id::text, external_id, coalesce(name, ''), control_mode
	FROM control.asset
	WHERE project_id = $1::uuid AND external_id = $2
	`, projectID, externalID).Scan(&a.AssetID, &a.ProjectID, &a.ExternalID, &a.Name, &mode)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return types.Asset{}, types.NewAssetNotFound(externalID)
		}
		return types.Asset{}, err
	}
	a.Mode = types.ControlMode(mode)

	if err := tx.Commit(ctx); err != nil {
		return types.Asset{}, err
	}
	return a, nil
}

func (s *AssetPGStore) SetControlMode(ctx context.Context, projectID string, externalID string, mode types.ControlMode) (types.Asset, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return types.Asset{}, err
	}
	defer func() { _ = tx.Rollback(context.Background()) }()

	if _, err := tx.Exec(ctx, `SELECT set_config('app.current_tenant', $1, true);`, projectID); err != nil {
		return types.Asset{}, err
	}

	// Row lock serializes concurrent mode changes per asset; commands
	// evaluated meanwhile read committed state and may see either mode.
	var assetID string
	err = tx.QueryRow(ctx, `
	SELECT asset_id::text
	FROM control.asset
	WHERE project_id = $1::uuid AND external_id = $2
	FOR UPDATE
	`, projectID, externalID).Scan(&assetID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return types.Asset{}, types.NewAssetNotFound(externalID)
		}
		return types.Asset{}, err
	}

	var a types.Asset
	var rawMode string
	err = tx.QueryRow(ctx, `
	UPDATE control.asset
	SET control_mode = $2
	WHERE asset_id = $1::uuid
	RETURNING asset_id::text, project_id::text, external_id, coalesce(name, ''), control_mode
	`, assetID, string(mode)).Scan(&a.AssetID, &a.ProjectID, &a.ExternalID, &a.Name, &rawMode)
	if err != nil {
		return types.Asset{}, err
	}
	a.Mode = types.ControlMode(rawMode)

	if err := tx.Commit(ctx); err != nil {
		return types.Asset{}, err
	}
	return a, nil
}
