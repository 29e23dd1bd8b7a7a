package services

import (
	"context"

	"github.com/gridlume/gridlume/modules/control/domain/ports"
	"github.com/gridlume/gridlume/modules/control/domain/types"
)

// ControlModeRegistry reads and switches asset control modes. A mode change
// is atomic and takes effect for every command evaluated after it commits;
// a command racing the change may observe either mode (accepted eventual
// consistency at the boundary, no cross-request locking).
type ControlModeRegistry struct {
	assets ports.AssetStore
}

func NewControlModeRegistry(assets ports.AssetStore) ControlModeRegistry {
	return ControlModeRegistry{assets: assets}
}

func (r ControlModeRegistry) GetMode(ctx context.Context, projectID string, externalID string) (types.ControlMode, error) {
	asset, err := r.assets.GetAsset(ctx, projectID, externalID)
	if err != nil {
		return "", err
	}
	return asset.Mode, nil
}

func (r ControlModeRegistry) SetMode(ctx context.Context, projectID string, externalID string, mode types.ControlMode) (types.Asset, error) {
	return r.assets.SetControlMode(ctx, projectID, externalID, mode)
}
