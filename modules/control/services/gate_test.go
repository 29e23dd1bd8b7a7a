package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/gridlume/gridlume/modules/control/domain/ports"
	"github.com/gridlume/gridlume/modules/control/domain/types"
	"github.com/gridlume/gridlume/modules/control/infrastructure/persistence"
	"github.com/gridlume/gridlume/modules/control/infrastructure/relay"
	"github.com/gridlume/gridlume/pkg/authz"
)

const (
	projectID = "11111111-1111-7111-8111-111111111111"
	keyFull   = "key-full"
	keyAdmin  = "key-admin"
	keyNone   = "key-none"
)

type gateFixture struct {
	gate       *CommandGate
	resolver   *persistence.MemoryCredentialResolver
	assets     *persistence.MemoryAssetStore
	policies   *persistence.MemoryPolicyStore
	killswitch *persistence.MemoryKillSwitchStore
	ledger     *persistence.MemoryIdempotencyStore
	schedules  *persistence.MemoryScheduleStore
	audit      *persistence.MemoryAuditStore
	relay      *relay.CaptureSink
	now        time.Time
}

func newGateFixture(t *testing.T) *gateFixture {
	t.Helper()
	f := &gateFixture{
		resolver:   persistence.NewMemoryCredentialResolver(),
		assets:     persistence.NewMemoryAssetStore(),
		policies:   persistence.NewMemoryPolicyStore(),
		killswitch: persistence.NewMemoryKillSwitchStore(),
		ledger:     persistence.NewMemoryIdempotencyStore(0),
		schedules:  persistence.NewMemoryScheduleStore(),
		audit:      persistence.NewMemoryAuditStore(),
		relay:      relay.NewCaptureSink(),
		now:        time.Date(2026, 6, 15, 12, 0, 0, 0, time.UTC),
	}

	f.resolver.Register(keyFull, types.Principal{
		ClientID: "c-full", ClientName: "dimming-engine", ProjectID: projectID,
		Scopes: []string{authz.ScopeAssetCommand, authz.ScopeAssetOverride, authz.ScopeAssetWrite},
	})
	f.resolver.Register(keyAdmin, types.Principal{
		ClientID: "c-admin", ClientName: "ops-console", ProjectID: projectID,
		Scopes: []string{authz.ScopeAdminKillSwitch, authz.ScopeAdminPolicyWrite, authz.ScopeAdminAuditRead},
	})
	f.resolver.Register(keyNone, types.Principal{
		ClientID: "c-none", ProjectID: projectID, Scopes: nil,
	})

	f.assets.Put(types.Asset{AssetID: "a-opt", ProjectID: projectID, ExternalID: "lum-opt", Mode: types.ModeOptimize})
	f.assets.Put(types.Asset{AssetID: "a-pass", ProjectID: projectID, ExternalID: "lum-pass", Mode: types.ModePassthrough})

	f.gate = f.buildGate(f.policies)
	return f
}

func (f *gateFixture) buildGate(policies ports.PolicyStore) *CommandGate {
	grants, err := authz.NewStaticAuthorizer(authz.ModeEnforce)
	if err != nil {
		panic(err)
	}
	now := func() time.Time { return f.now }
	return NewCommandGate(GateDeps{
		Scopes:     NewScopeAuthorizer(f.resolver, grants),
		Assets:     f.assets,
		KillSwitch: NewKillSwitch(f.killswitch, now),
		Guardrails: NewGuardrailEvaluator(policies, persistence.NewMemoryRateLimiter(), now),
		Ledger:     f.ledger,
		Policies:   policies,
		Schedules:  f.schedules,
		Audit:      NewAuditRecorder(f.audit, now),
		Relay:      f.relay,
		Now:        now,
	})
}

func (f *gateFixture) submit(t *testing.T, credential string, cmd types.Command) types.Decision {
	t.Helper()
	d, err := f.gate.Submit(context.Background(), projectID, credential, cmd)
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	return d
}

func cmdFor(asset string, dim int) types.Command {
	return types.Command{Kind: types.CommandRealtime, AssetExternalID: asset, DimPercent: dim}
}

func TestGate_ScopeDenials(t *testing.T) {
	f := newGateFixture(t)

	cases := []struct {
		name       string
		credential string
		actor      string
	}{
		// Only a resolved credential can be attributed; unknown keys fall
		// back to the generic actor.
		{"unknown credential", "no-such-key", "api"},
		{"missing scope", keyNone, "c-none"},
		{"admin scopes cannot execute", keyAdmin, "ops-console"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			d := f.submit(t, tc.credential, cmdFor("lum-opt", 50))
			if d.Outcome != types.OutcomeDenied || d.RuleTriggered != types.RuleScope {
				t.Fatalf("decision=%+v", d)
			}
		})
	}

	entries := f.audit.Entries()
	if len(entries) != len(cases) {
		t.Fatalf("audit entries=%d", len(entries))
	}
	for i, e := range entries {
		if e.Decision != types.OutcomeDenied || e.RuleTriggered != types.RuleScope {
			t.Fatalf("entry=%+v", e)
		}
		if e.Actor != cases[i].actor {
			t.Fatalf("entry %d: actor=%q want=%q", i, e.Actor, cases[i].actor)
		}
	}
}

func TestGate_WrongProjectCredential(t *testing.T) {
	f := newGateFixture(t)
	f.resolver.Register("other-key", types.Principal{ClientID: "c-x", ProjectID: "other-project", Scopes: []string{authz.ScopeAssetCommand}})

	d := f.submit(t, "other-key", cmdFor("lum-opt", 50))
	if d.RuleTriggered != types.RuleScope {
		t.Fatalf("decision=%+v", d)
	}
}

func TestGate_AssetNotFound(t *testing.T) {
	f := newGateFixture(t)
	d := f.submit(t, keyFull, cmdFor("lum-missing", 50))
	if d.Outcome != types.OutcomeDenied || d.RuleTriggered != types.RuleAssetNotFound {
		t.Fatalf("decision=%+v", d)
	}
	if n := len(f.audit.Entries()); n != 1 {
		t.Fatalf("audit entries=%d", n)
	}
}

func TestGate_AllowedDispatchesAndAudits(t *testing.T) {
	f := newGateFixture(t)

	d := f.submit(t, keyFull, cmdFor("lum-opt", 50))
	if d.Outcome != types.OutcomeAllowed || d.CommandID == "" {
		t.Fatalf("decision=%+v", d)
	}

	dispatched := f.relay.Dispatched()
	if len(dispatched) != 1 || dispatched[0].CommandID != d.CommandID {
		t.Fatalf("dispatched=%+v", dispatched)
	}

	entries := f.audit.Entries()
	if len(entries) != 1 {
		t.Fatalf("audit entries=%d", len(entries))
	}
	e := entries[0]
	if e.Decision != types.OutcomeAllowed || e.Actor != "dimming-engine" || e.Action != "realtime_command" {
		t.Fatalf("entry=%+v", e)
	}
	if e.AuditID == "" || e.Timestamp.IsZero() {
		t.Fatalf("entry missing id or timestamp: %+v", e)
	}
}

func TestGate_KillSwitchBlocksOptimizeOnly(t *testing.T) {
	f := newGateFixture(t)
	if _, err := f.gate.ToggleKillSwitch(context.Background(), projectID, keyAdmin, true, "storm damage"); err != nil {
		t.Fatal(err)
	}

	d := f.submit(t, keyFull, cmdFor("lum-opt", 50))
	if d.Outcome != types.OutcomeDenied || d.RuleTriggered != types.RuleKillSwitch {
		t.Fatalf("decision=%+v", d)
	}

	// Passthrough path stays open for manual intervention.
	d = f.submit(t, keyFull, cmdFor("lum-pass", 50))
	if d.Outcome != types.OutcomeAllowed {
		t.Fatalf("decision=%+v", d)
	}

	if _, err := f.gate.ToggleKillSwitch(context.Background(), projectID, keyAdmin, false, ""); err != nil {
		t.Fatal(err)
	}
	d = f.submit(t, keyFull, cmdFor("lum-opt", 50))
	if d.Outcome != types.OutcomeAllowed {
		t.Fatalf("decision=%+v", d)
	}
}

func TestGate_KillSwitchRequiresScope(t *testing.T) {
	f := newGateFixture(t)
	if _, err := f.gate.ToggleKillSwitch(context.Background(), projectID, keyFull, true, "nope"); !types.IsScopeDenied(err) {
		t.Fatalf("err=%v", err)
	}
	if _, err := f.gate.KillSwitchState(context.Background(), projectID, keyFull); !types.IsScopeDenied(err) {
		t.Fatalf("err=%v", err)
	}
}

func TestGate_IdempotentReplay(t *testing.T) {
	f := newGateFixture(t)
	cmd := cmdFor("lum-opt", 50)
	cmd.IdempotencyKey = "k-1"

	first := f.submit(t, keyFull, cmd)
	if first.Outcome != types.OutcomeAllowed {
		t.Fatalf("first=%+v", first)
	}

	second := f.submit(t, keyFull, cmd)
	if second.Outcome != types.OutcomeAllowed || second.CommandID != first.CommandID {
		t.Fatalf("first=%+v second=%+v", first, second)
	}

	// Exactly one dispatch, two audit entries, the second marked replayed.
	if n := len(f.relay.Dispatched()); n != 1 {
		t.Fatalf("dispatched=%d", n)
	}
	entries := f.audit.Entries()
	if len(entries) != 2 {
		t.Fatalf("audit entries=%d", len(entries))
	}
	if entries[0].Decision != types.OutcomeAllowed || entries[1].Decision != types.OutcomeReplayed {
		t.Fatalf("entries=%+v", entries)
	}
}

func TestGate_IdempotentReplayOfDenial(t *testing.T) {
	f := newGateFixture(t)
	if _, err := f.policies.PutPolicy(context.Background(), projectID, "v1",
		types.PolicyBody{MinDim: intp(20), MaxDim: intp(80)}, f.now.Add(-time.Hour)); err != nil {
		t.Fatal(err)
	}

	cmd := cmdFor("lum-opt", 5)
	cmd.IdempotencyKey = "k-deny"

	first := f.submit(t, keyFull, cmd)
	if first.RuleTriggered != types.RuleBounds {
		t.Fatalf("first=%+v", first)
	}
	second := f.submit(t, keyFull, cmd)
	if second.Outcome != types.OutcomeDenied || second.RuleTriggered != types.RuleBounds {
		t.Fatalf("second=%+v", second)
	}
	if n := len(f.relay.Dispatched()); n != 0 {
		t.Fatalf("dispatched=%d", n)
	}
}

func scheduleCmd(asset string, steps ...types.ScheduleStep) types.Command {
	return types.Command{Kind: types.CommandSchedule, AssetExternalID: asset, Steps: steps}
}

func TestGate_ScheduleSupersedesPrevious(t *testing.T) {
	f := newGateFixture(t)
	ctx := context.Background()

	first := f.submit(t, keyFull, scheduleCmd("lum-opt", types.ScheduleStep{Time: "20:00", Dim: 60}))
	if first.Outcome != types.OutcomeAllowed {
		t.Fatalf("first=%+v", first)
	}
	active, ok, err := f.schedules.ActiveSchedule(ctx, projectID, "a-opt")
	if err != nil || !ok || active.CommandID != first.CommandID {
		t.Fatalf("active=%+v ok=%v err=%v", active, ok, err)
	}

	second := f.submit(t, keyFull, scheduleCmd("lum-opt", types.ScheduleStep{Time: "21:00", Dim: 40}))
	if second.Outcome != types.OutcomeAllowed {
		t.Fatalf("second=%+v", second)
	}
	active, ok, err = f.schedules.ActiveSchedule(ctx, projectID, "a-opt")
	if err != nil || !ok {
		t.Fatalf("ok=%v err=%v", ok, err)
	}
	if active.CommandID != second.CommandID || active.Steps[0].Time != "21:00" {
		t.Fatalf("active=%+v", active)
	}

	history := f.schedules.History("a-opt")
	if len(history) != 2 {
		t.Fatalf("history=%d", len(history))
	}
	if history[0].Status != types.ScheduleSuperseded || history[0].SupersededAt.IsZero() {
		t.Fatalf("first schedule=%+v", history[0])
	}

	// A denied schedule must not touch the active one.
	denied := f.submit(t, keyFull, scheduleCmd("lum-opt", types.ScheduleStep{Time: "22:00", Dim: 150}))
	if denied.Outcome != types.OutcomeDenied || denied.RuleTriggered != types.RuleHygiene {
		t.Fatalf("denied=%+v", denied)
	}
	if got := f.schedules.History("a-opt"); len(got) != 2 {
		t.Fatalf("history after denial=%d", len(got))
	}
}

func TestGate_IdempotencyConflict(t *testing.T) {
	f := newGateFixture(t)
	cmd := cmdFor("lum-opt", 50)
	cmd.IdempotencyKey = "k-2"
	f.submit(t, keyFull, cmd)

	changed := cmdFor("lum-opt", 60)
	changed.IdempotencyKey = "k-2"
	d := f.submit(t, keyFull, changed)
	if d.Outcome != types.OutcomeDenied || d.RuleTriggered != types.RuleIdempotency {
		t.Fatalf("decision=%+v", d)
	}
}

func TestGate_PendingReservationDenied(t *testing.T) {
	f := newGateFixture(t)
	cmd := cmdFor("lum-opt", 50)
	cmd.IdempotencyKey = "k-3"

	// Simulate an in-flight submission holding the reservation.
	res, err := f.ledger.CheckAndReserve(context.Background(), "a-opt", "k-3", CommandFingerprint(cmd), f.now)
	if err != nil || res.State != ports.ReservationFresh {
		t.Fatalf("res=%+v err=%v", res, err)
	}

	d := f.submit(t, keyFull, cmd)
	if d.Outcome != types.OutcomeDenied || d.RuleTriggered != types.RuleIdempotency {
		t.Fatalf("decision=%+v", d)
	}
}

type failingPolicyStore struct{}

func (failingPolicyStore) CurrentPolicy(context.Context, string) (types.Policy, bool, error) {
	return types.Policy{}, false, errors.New("policy store down")
}

func (failingPolicyStore) PutPolicy(context.Context, string, string, types.PolicyBody, time.Time) (types.Policy, error) {
	return types.Policy{}, errors.New("policy store down")
}

func TestGate_InternalErrorReleasesReservation(t *testing.T) {
	f := newGateFixture(t)
	broken := f.buildGate(failingPolicyStore{})

	cmd := cmdFor("lum-opt", 50)
	cmd.IdempotencyKey = "k-4"

	d, err := broken.Submit(context.Background(), projectID, keyFull, cmd)
	if err == nil {
		t.Fatal("expected internal error")
	}
	if d.Outcome != types.OutcomeDenied || d.RuleTriggered != types.RuleInternal {
		t.Fatalf("decision=%+v", d)
	}

	// The failure is not a decision: a retry against a healthy gate runs
	// fresh instead of replaying the fluke.
	d = f.submit(t, keyFull, cmd)
	if d.Outcome != types.OutcomeAllowed {
		t.Fatalf("retry=%+v", d)
	}
}

func TestGate_ModeChangeTakesEffectImmediately(t *testing.T) {
	f := newGateFixture(t)
	if _, err := f.gate.ToggleKillSwitch(context.Background(), projectID, keyAdmin, true, "maintenance"); err != nil {
		t.Fatal(err)
	}

	d := f.submit(t, keyFull, cmdFor("lum-opt", 50))
	if d.RuleTriggered != types.RuleKillSwitch {
		t.Fatalf("decision=%+v", d)
	}

	if _, err := f.gate.SetAssetMode(context.Background(), projectID, keyFull, "lum-opt", "passthrough"); err != nil {
		t.Fatal(err)
	}
	d = f.submit(t, keyFull, cmdFor("lum-opt", 50))
	if d.Outcome != types.OutcomeAllowed {
		t.Fatalf("decision=%+v", d)
	}
}

func TestGate_SetAssetMode(t *testing.T) {
	f := newGateFixture(t)

	asset, err := f.gate.SetAssetMode(context.Background(), projectID, keyFull, "lum-opt", "passthrough")
	if err != nil {
		t.Fatal(err)
	}
	if asset.Mode != types.ModePassthrough {
		t.Fatalf("mode=%q", asset.Mode)
	}

	if _, err := f.gate.SetAssetMode(context.Background(), projectID, keyFull, "lum-opt", "manual"); !types.IsValidation(err) {
		t.Fatalf("err=%v", err)
	}
	if _, err := f.gate.SetAssetMode(context.Background(), projectID, keyFull, "lum-missing", "optimize"); !types.IsAssetNotFound(err) {
		t.Fatalf("err=%v", err)
	}
	if _, err := f.gate.SetAssetMode(context.Background(), projectID, keyAdmin, "lum-opt", "optimize"); !types.IsScopeDenied(err) {
		t.Fatalf("err=%v", err)
	}
}

func TestGate_TimeWindowOverride(t *testing.T) {
	f := newGateFixture(t)
	if _, err := f.policies.PutPolicy(context.Background(), projectID, "v1",
		types.PolicyBody{AllowedWindows: []types.TimeWindow{{Start: "22:00", End: "05:00"}}}, f.now.Add(-time.Hour)); err != nil {
		t.Fatal(err)
	}

	// keyFull holds asset:override, so noon submissions pass with the
	// override recorded on the decision.
	d := f.submit(t, keyFull, cmdFor("lum-opt", 50))
	if d.Outcome != types.OutcomeAllowed || !d.OverrideApplied {
		t.Fatalf("decision=%+v", d)
	}

	f.resolver.Register("key-plain", types.Principal{
		ClientID: "c-plain", ProjectID: projectID, Scopes: []string{authz.ScopeAssetCommand},
	})
	d = f.submit(t, "key-plain", cmdFor("lum-opt", 50))
	if d.Outcome != types.OutcomeDenied || d.RuleTriggered != types.RuleTimeWindow {
		t.Fatalf("decision=%+v", d)
	}
}

func TestGate_PolicyLifecycle(t *testing.T) {
	f := newGateFixture(t)

	if _, _, err := f.gate.CurrentPolicy(context.Background(), projectID, keyFull); !types.IsScopeDenied(err) {
		t.Fatalf("err=%v", err)
	}

	_, found, err := f.gate.CurrentPolicy(context.Background(), projectID, keyAdmin)
	if err != nil {
		t.Fatal(err)
	}
	if found {
		t.Fatal("no policy should exist yet")
	}

	policy, err := f.gate.PutPolicy(context.Background(), projectID, keyAdmin, "v1",
		[]byte(`{"min_dim": 10, "max_dim": 90, "guard_expr": "cmd.dim <= 90"}`))
	if err != nil {
		t.Fatal(err)
	}
	if policy.Version != "v1" || policy.PolicyID == "" {
		t.Fatalf("policy=%+v", policy)
	}

	got, found, err := f.gate.CurrentPolicy(context.Background(), projectID, keyAdmin)
	if err != nil {
		t.Fatal(err)
	}
	if !found || got.PolicyID != policy.PolicyID {
		t.Fatalf("got=%+v", got)
	}

	if _, err := f.gate.PutPolicy(context.Background(), projectID, keyAdmin, "v2",
		[]byte(`{"min_dim": 90, "max_dim": 10}`)); !types.IsValidation(err) {
		t.Fatalf("err=%v", err)
	}
	if _, err := f.gate.PutPolicy(context.Background(), projectID, keyAdmin, "v2",
		[]byte(`{"guard_expr": "cmd.dim +"}`)); !types.IsValidation(err) {
		t.Fatalf("err=%v", err)
	}
}

func TestGate_AuditQueryRequiresScope(t *testing.T) {
	f := newGateFixture(t)
	f.submit(t, keyFull, cmdFor("lum-opt", 50))

	if _, err := f.gate.QueryAudit(context.Background(), projectID, keyFull, types.AuditFilter{}, "", 0); !types.IsScopeDenied(err) {
		t.Fatalf("err=%v", err)
	}

	page, err := f.gate.QueryAudit(context.Background(), projectID, keyAdmin, types.AuditFilter{}, "", 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(page.Entries) != 1 {
		t.Fatalf("entries=%d", len(page.Entries))
	}
}
