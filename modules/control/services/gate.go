package services

import (
	"context"
	"encoding/json"
	"time"

	"github.com/gridlume/gridlume/modules/control/domain/ports"
	"github.com/gridlume/gridlume/modules/control/domain/types"
	"github.com/gridlume/gridlume/pkg/authz"
	"github.com/gridlume/gridlume/pkg/uuidv7"
)

// CommandGate is the only entry point external callers use. It composes the
// scope check, idempotency ledger, kill switch, mode read, guardrail
// evaluation, and audit emission into a single evaluate-and-record operation
// per submission.
type CommandGate struct {
	scopes     ScopeAuthorizer
	assets     ports.AssetStore
	modes      ControlModeRegistry
	killswitch KillSwitch
	guardrails *GuardrailEvaluator
	ledger     ports.IdempotencyStore
	policies   ports.PolicyStore
	schedules  ports.ScheduleStore
	audit      *AuditRecorder
	relay      ports.RelaySink
	now        func() time.Time
}

type GateDeps struct {
	Scopes     ScopeAuthorizer
	Assets     ports.AssetStore
	KillSwitch KillSwitch
	Guardrails *GuardrailEvaluator
	Ledger     ports.IdempotencyStore
	Policies   ports.PolicyStore
	Schedules  ports.ScheduleStore
	Audit      *AuditRecorder
	Relay      ports.RelaySink
	Now        func() time.Time
}

func NewCommandGate(deps GateDeps) *CommandGate {
	now := deps.Now
	if now == nil {
		now = time.Now
	}
	return &CommandGate{
		scopes:     deps.Scopes,
		assets:     deps.Assets,
		modes:      NewControlModeRegistry(deps.Assets),
		killswitch: deps.KillSwitch,
		guardrails: deps.Guardrails,
		ledger:     deps.Ledger,
		policies:   deps.Policies,
		schedules:  deps.Schedules,
		audit:      deps.Audit,
		relay:      deps.Relay,
		now:        now,
	}
}

const (
	actionRealtimeCommand = "realtime_command"
	actionScheduleCommand = "schedule_command"
	actionSetMode         = "set_mode"
	actionKillSwitch      = "kill_switch_toggle"
	actionPolicyUpdate    = "policy_update"
)

func commandAction(kind types.CommandKind) string {
	if kind == types.CommandSchedule {
		return actionScheduleCommand
	}
	return actionRealtimeCommand
}

// Submit runs the full state machine for one command submission. The
// returned error is non-nil only for internal failures; every expected
// business outcome, including denials, comes back as a Decision. One audit
// entry is recorded per submission regardless of outcome.
func (g *CommandGate) Submit(ctx context.Context, projectID string, credential string, cmd types.Command) (types.Decision, error) {
	if cmd.SubmittedAt.IsZero() {
		cmd.SubmittedAt = g.now()
	}
	action := commandAction(cmd.Kind)

	requiredCap := authz.CapCommandExecute
	if cmd.Kind == types.CommandSchedule {
		requiredCap = authz.CapCommandSchedule
	}

	principal, err := g.scopes.Authorize(ctx, credential, projectID, requiredCap)
	if err != nil {
		// Authorize returns the resolved principal alongside capability and
		// project denials, so the audit trail names who was refused. Unknown
		// credentials leave it empty and fall back to the generic actor.
		actor := "api"
		if principal.ClientID != "" {
			actor = principal.Actor()
		}
		if types.IsScopeDenied(err) {
			decision := types.Denied(types.RuleScope, "credential is not authorized for this operation", err.Error())
			g.recordCommand(ctx, actor, projectID, "", action, cmd, decision)
			return decision, nil
		}
		return g.internalFailure(ctx, actor, projectID, "", action, cmd, err)
	}
	actor := principal.Actor()

	asset, err := g.assets.GetAsset(ctx, projectID, cmd.AssetExternalID)
	if err != nil {
		if types.IsAssetNotFound(err) {
			decision := types.Denied(types.RuleAssetNotFound, "asset not found in this project", err.Error())
			g.recordCommand(ctx, actor, projectID, "", action, cmd, decision)
			return decision, nil
		}
		return g.internalFailure(ctx, actor, projectID, "", action, cmd, err)
	}

	holdsReservation := false
	if cmd.IdempotencyKey != "" {
		reservation, err := g.ledger.CheckAndReserve(ctx, asset.AssetID, cmd.IdempotencyKey, CommandFingerprint(cmd), cmd.SubmittedAt)
		if err != nil {
			return g.internalFailure(ctx, actor, projectID, asset.AssetID, action, cmd, err)
		}
		switch reservation.State {
		case ports.ReservationReplay:
			// Cached decision is returned verbatim; only the audit entry
			// is marked as a replay.
			cached := reservation.CachedDecision
			entry := types.AuditEntry{
				Actor:         actor,
				ProjectID:     projectID,
				AssetID:       asset.AssetID,
				Action:        action,
				Decision:      types.OutcomeReplayed,
				RuleTriggered: cached.RuleTriggered,
				UserMessage:   cached.UserMessage,
				Details:       commandDetails(cmd, cached),
			}
			_, _ = g.audit.Record(ctx, entry)
			return cached, nil
		case ports.ReservationConflict:
			decision := types.Denied(types.RuleIdempotency,
				"idempotency key was already used with a different payload",
				"payload fingerprint mismatch")
			g.recordCommand(ctx, actor, projectID, asset.AssetID, action, cmd, decision)
			return decision, nil
		case ports.ReservationPending:
			decision := types.Denied(types.RuleIdempotency,
				"a submission with this idempotency key is still in progress",
				"reservation pending")
			g.recordCommand(ctx, actor, projectID, asset.AssetID, action, cmd, decision)
			return decision, nil
		}
		holdsReservation = true
	}

	// Mode is read once; a concurrent mode change may land before or after
	// this read, both orders are accepted.
	mode := asset.Mode

	if mode == types.ModeOptimize {
		active, err := g.killswitch.IsActive(ctx, projectID)
		if err != nil {
			return g.failHolding(ctx, holdsReservation, actor, projectID, asset.AssetID, action, cmd, err)
		}
		if active {
			decision := types.Denied(types.RuleKillSwitch,
				"commands are suspended: the project kill switch is active", "")
			return g.finishDenied(ctx, holdsReservation, actor, projectID, asset, action, cmd, decision)
		}
	}

	skipWindows := false
	if mode == types.ModeOptimize {
		skipWindows, err = g.scopes.HasCapability(principal, projectID, authz.CapCommandOverride)
		if err != nil {
			return g.failHolding(ctx, holdsReservation, actor, projectID, asset.AssetID, action, cmd, err)
		}
	}

	verdict, err := g.guardrails.Evaluate(ctx, GuardrailInput{
		Asset:           asset,
		Command:         cmd,
		Mode:            mode,
		SkipTimeWindows: skipWindows,
	})
	if err != nil {
		return g.failHolding(ctx, holdsReservation, actor, projectID, asset.AssetID, action, cmd, err)
	}
	if !verdict.Allowed {
		decision := types.Denied(verdict.Rule, verdict.UserMessage, verdict.Detail)
		return g.finishDenied(ctx, holdsReservation, actor, projectID, asset, action, cmd, decision)
	}

	commandID, err := uuidv7.NewString()
	if err != nil {
		return g.failHolding(ctx, holdsReservation, actor, projectID, asset.AssetID, action, cmd, err)
	}
	decision := types.Allowed(commandID)
	decision.OverrideApplied = verdict.OverrideApplied

	// An accepted schedule becomes the asset's active one, superseding the
	// previous schedule before the decision commits: a failure here releases
	// the reservation so the retry re-activates instead of replaying a
	// decision whose schedule never landed.
	if cmd.Kind == types.CommandSchedule {
		if _, err := g.schedules.Activate(ctx, projectID, asset.AssetID, commandID, cmd.Steps, cmd.SubmittedAt); err != nil {
			return g.failHolding(ctx, holdsReservation, actor, projectID, asset.AssetID, action, cmd, err)
		}
	}

	if holdsReservation {
		if err := g.ledger.Commit(ctx, asset.AssetID, cmd.IdempotencyKey, decision); err != nil {
			return g.failHolding(ctx, holdsReservation, actor, projectID, asset.AssetID, action, cmd, err)
		}
	}
	g.recordCommand(ctx, actor, projectID, asset.AssetID, action, cmd, decision)

	// Hand-off to the relay is fire-and-forget: delivery, retries and
	// failure logging are the sink's concern, never part of the decision.
	_ = g.relay.Dispatch(ctx, asset, cmd, commandID)

	return decision, nil
}

func (g *CommandGate) finishDenied(ctx context.Context, holdsReservation bool, actor string, projectID string, asset types.Asset, action string, cmd types.Command, decision types.Decision) (types.Decision, error) {
	if holdsReservation {
		if err := g.ledger.Commit(ctx, asset.AssetID, cmd.IdempotencyKey, decision); err != nil {
			return g.failHolding(ctx, holdsReservation, actor, projectID, asset.AssetID, action, cmd, err)
		}
	}
	g.recordCommand(ctx, actor, projectID, asset.AssetID, action, cmd, decision)
	return decision, nil
}

// failHolding releases any pending reservation before reporting the internal
// failure, so the caller's retry runs fresh instead of replaying a fluke.
func (g *CommandGate) failHolding(ctx context.Context, holdsReservation bool, actor string, projectID string, assetID string, action string, cmd types.Command, cause error) (types.Decision, error) {
	if holdsReservation {
		_ = g.ledger.Release(ctx, assetID, cmd.IdempotencyKey)
	}
	return g.internalFailure(ctx, actor, projectID, assetID, action, cmd, cause)
}

func (g *CommandGate) internalFailure(ctx context.Context, actor string, projectID string, assetID string, action string, cmd types.Command, cause error) (types.Decision, error) {
	decision := types.Denied(types.RuleInternal,
		"the command could not be processed, try again later",
		cause.Error())
	g.recordCommand(ctx, actor, projectID, assetID, action, cmd, decision)
	return decision, cause
}

func (g *CommandGate) recordCommand(ctx context.Context, actor string, projectID string, assetID string, action string, cmd types.Command, decision types.Decision) {
	entry := types.AuditEntry{
		Actor:           actor,
		ProjectID:       projectID,
		AssetID:         assetID,
		Action:          action,
		Decision:        decision.Outcome,
		RuleTriggered:   decision.RuleTriggered,
		TechnicalDetail: decision.TechnicalDetail,
		UserMessage:     decision.UserMessage,
		Details:         commandDetails(cmd, decision),
	}
	// Audit emission must never turn a recorded business outcome into a
	// failure; the append error is surfaced through the store's own
	// monitoring, not the caller.
	_, _ = g.audit.Record(ctx, entry)
}

func commandDetails(cmd types.Command, decision types.Decision) json.RawMessage {
	details := map[string]any{
		"asset_external_id": cmd.AssetExternalID,
		"kind":              string(cmd.Kind),
	}
	switch cmd.Kind {
	case types.CommandRealtime:
		details["dim_percent"] = cmd.DimPercent
	case types.CommandSchedule:
		details["step_count"] = len(cmd.Steps)
	}
	if cmd.IdempotencyKey != "" {
		details["idempotency_key"] = cmd.IdempotencyKey
	}
	if cmd.Note != "" {
		details["note"] = cmd.Note
	}
	if decision.OverrideApplied {
		details["time_window_override"] = true
	}
	raw, _ := json.Marshal(details)
	return raw
}
