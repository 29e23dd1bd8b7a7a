package services

import (
	"context"
	"encoding/json"

	"github.com/gridlume/gridlume/modules/control/domain/types"
	"github.com/gridlume/gridlume/pkg/authz"
)

// Administrative operations share the gate's scope checks and audit trail.
// Unlike command submissions they report expected failures as errors from the
// engine's taxonomy; the HTTP layer maps them to statuses.

func (g *CommandGate) SetAssetMode(ctx context.Context, projectID string, credential string, externalID string, rawMode string) (types.Asset, error) {
	principal, err := g.scopes.Authorize(ctx, credential, projectID, authz.CapAssetSetMode)
	if err != nil {
		return types.Asset{}, err
	}
	mode, err := types.ParseControlMode(rawMode)
	if err != nil {
		return types.Asset{}, types.NewValidation("mode", err.Error())
	}
	before, err := g.assets.GetAsset(ctx, projectID, externalID)
	if err != nil {
		return types.Asset{}, err
	}
	asset, err := g.modes.SetMode(ctx, projectID, externalID, mode)
	if err != nil {
		return types.Asset{}, err
	}
	g.recordAdmin(ctx, principal.Actor(), projectID, asset.AssetID, actionSetMode, map[string]any{
		"asset_external_id": externalID,
		"old_mode":          string(before.Mode),
		"new_mode":          string(mode),
	})
	return asset, nil
}

func (g *CommandGate) ToggleKillSwitch(ctx context.Context, projectID string, credential string, active bool, reason string) (types.KillSwitchState, error) {
	principal, err := g.scopes.Authorize(ctx, credential, projectID, authz.CapKillSwitchWrite)
	if err != nil {
		return types.KillSwitchState{}, err
	}
	state, err := g.killswitch.Toggle(ctx, projectID, active, principal.Actor(), reason)
	if err != nil {
		return types.KillSwitchState{}, err
	}
	g.recordAdmin(ctx, principal.Actor(), projectID, "", actionKillSwitch, map[string]any{
		"active": active,
		"reason": reason,
	})
	return state, nil
}

func (g *CommandGate) KillSwitchState(ctx context.Context, projectID string, credential string) (types.KillSwitchState, error) {
	if _, err := g.scopes.Authorize(ctx, credential, projectID, authz.CapKillSwitchRead); err != nil {
		return types.KillSwitchState{}, err
	}
	return g.killswitch.State(ctx, projectID)
}

func (g *CommandGate) PutPolicy(ctx context.Context, projectID string, credential string, version string, rawBody json.RawMessage) (types.Policy, error) {
	principal, err := g.scopes.Authorize(ctx, credential, projectID, authz.CapPolicyWrite)
	if err != nil {
		return types.Policy{}, err
	}
	body, err := types.ParsePolicyBody(rawBody)
	if err != nil {
		return types.Policy{}, types.NewValidation("body", err.Error())
	}
	if body.GuardExpr != "" {
		if err := CompileGuardExpr(body.GuardExpr); err != nil {
			return types.Policy{}, types.NewValidation("body.guard_expr", err.Error())
		}
	}
	policy, err := g.policies.PutPolicy(ctx, projectID, version, body, g.now())
	if err != nil {
		return types.Policy{}, err
	}
	g.recordAdmin(ctx, principal.Actor(), projectID, "", actionPolicyUpdate, map[string]any{
		"version":   version,
		"policy_id": policy.PolicyID,
	})
	return policy, nil
}

func (g *CommandGate) CurrentPolicy(ctx context.Context, projectID string, credential string) (types.Policy, bool, error) {
	if _, err := g.scopes.Authorize(ctx, credential, projectID, authz.CapPolicyRead); err != nil {
		return types.Policy{}, false, err
	}
	return g.policies.CurrentPolicy(ctx, projectID)
}

func (g *CommandGate) QueryAudit(ctx context.Context, projectID string, credential string, filter types.AuditFilter, cursor string, pageSize int) (types.AuditPage, error) {
	if _, err := g.scopes.Authorize(ctx, credential, projectID, authz.CapAuditRead); err != nil {
		return types.AuditPage{}, err
	}
	return g.audit.Query(ctx, projectID, filter, cursor, pageSize)
}

func (g *CommandGate) recordAdmin(ctx context.Context, actor string, projectID string, assetID string, action string, details map[string]any) {
	raw, _ := json.Marshal(details)
	_, _ = g.audit.Record(ctx, types.AuditEntry{
		Actor:       actor,
		ProjectID:   projectID,
		AssetID:     assetID,
		Action:      action,
		Decision:    types.OutcomeAllowed,
		UserMessage: action + " applied",
		Details:     raw,
	})
}
