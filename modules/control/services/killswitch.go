package services

import (
	"context"
	"time"

	"github.com/gridlume/gridlume/modules/control/domain/ports"
	"github.com/gridlume/gridlume/modules/control/domain/types"
)

// KillSwitch is the per-project emergency flag. It only protects the
// automated path: optimize-mode commands are short-circuited while active,
// passthrough commands are unaffected.
type KillSwitch struct {
	store ports.KillSwitchStore
	now   func() time.Time
}

func NewKillSwitch(store ports.KillSwitchStore, now func() time.Time) KillSwitch {
	if now == nil {
		now = time.Now
	}
	return KillSwitch{store: store, now: now}
}

func (k KillSwitch) IsActive(ctx context.Context, projectID string) (bool, error) {
	state, err := k.store.State(ctx, projectID)
	if err != nil {
		return false, err
	}
	return state.Active, nil
}

func (k KillSwitch) State(ctx context.Context, projectID string) (types.KillSwitchState, error) {
	return k.store.State(ctx, projectID)
}

func (k KillSwitch) Toggle(ctx context.Context, projectID string, active bool, actor string, reason string) (types.KillSwitchState, error) {
	return k.store.Toggle(ctx, projectID, active, actor, reason, k.now())
}
