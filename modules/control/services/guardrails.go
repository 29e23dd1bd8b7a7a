package services

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/cel-go/cel"

	"github.com/gridlume/gridlume/modules/control/domain/ports"
	"github.com/gridlume/gridlume/modules/control/domain/types"
)

// GuardrailEvaluator applies the two rule tiers to a proposed command:
// hygiene always, policy rules only in optimize mode. Rules run in a fixed
// order and the first failure wins; there is no partial application.
type GuardrailEvaluator struct {
	policies ports.PolicyStore
	limiter  ports.RateLimiter
	now      func() time.Time
}

func NewGuardrailEvaluator(policies ports.PolicyStore, limiter ports.RateLimiter, now func() time.Time) *GuardrailEvaluator {
	if now == nil {
		now = time.Now
	}
	return &GuardrailEvaluator{policies: policies, limiter: limiter, now: now}
}

type GuardrailInput struct {
	Asset   types.Asset
	Command types.Command
	Mode    types.ControlMode
	// SkipTimeWindows is set when the caller holds the override capability;
	// the time restriction is skipped and the skip is recorded.
	SkipTimeWindows bool
}

// Verdict is the evaluator's result. Allowed is false exactly when Rule
// names the first failing check.
type Verdict struct {
	Allowed         bool
	Rule            types.Rule
	UserMessage     string
	Detail          string
	OverrideApplied bool
}

func pass() Verdict { return Verdict{Allowed: true} }

func fail(rule types.Rule, userMessage string, detail string) Verdict {
	return Verdict{Rule: rule, UserMessage: userMessage, Detail: detail}
}

func (e *GuardrailEvaluator) Evaluate(ctx context.Context, in GuardrailInput) (Verdict, error) {
	if v := hygiene(in.Command); !v.Allowed {
		return v, nil
	}
	if in.Mode != types.ModeOptimize {
		return pass(), nil
	}
	return e.policyTier(ctx, in)
}

// hygiene is the unconditional tier: value ranges and formats only. Asset
// existence and project membership are checked by the gate before evaluation
// since the evaluator already receives a resolved asset.
func hygiene(cmd types.Command) Verdict {
	switch cmd.Kind {
	case types.CommandRealtime:
		if cmd.DimPercent < 0 || cmd.DimPercent > 100 {
			return fail(types.RuleHygiene,
				"dimming percentage must be between 0 and 100",
				fmt.Sprintf("dim_percent=%d", cmd.DimPercent))
		}
	case types.CommandSchedule:
		if len(cmd.Steps) == 0 {
			return fail(types.RuleHygiene, "schedule must have at least one step", "")
		}
		for i, step := range cmd.Steps {
			if _, err := types.MinuteOfDay(step.Time); err != nil {
				return fail(types.RuleHygiene,
					fmt.Sprintf("invalid time format: %s, use HH:MM", step.Time),
					fmt.Sprintf("steps[%d].time=%q", i, step.Time))
			}
			if step.Dim < 0 || step.Dim > 100 {
				return fail(types.RuleHygiene,
					fmt.Sprintf("invalid dim percentage: %d, must be 0-100", step.Dim),
					fmt.Sprintf("steps[%d].dim=%d", i, step.Dim))
			}
		}
	default:
		return fail(types.RuleHygiene, "unknown command kind", fmt.Sprintf("kind=%q", cmd.Kind))
	}
	return pass()
}

// policyTier runs the optimize-only rules: bounds, time restriction, custom
// guard, then rate limit. The rate limit goes last so a slot is only consumed
// by commands that every other rule already admitted.
func (e *GuardrailEvaluator) policyTier(ctx context.Context, in GuardrailInput) (Verdict, error) {
	policy, ok, err := e.policies.CurrentPolicy(ctx, in.Asset.ProjectID)
	if err != nil {
		return Verdict{}, err
	}
	if !ok {
		return pass(), nil
	}
	body := policy.Body

	if body.HasBounds() {
		if v := checkBounds(in.Command, *body.MinDim, *body.MaxDim); !v.Allowed {
			return v, nil
		}
	}

	overrideApplied := false
	if len(body.AllowedWindows) > 0 {
		if in.SkipTimeWindows {
			overrideApplied = true
		} else {
			now := e.now()
			inWindow := false
			for _, w := range body.AllowedWindows {
				okW, err := w.Contains(now)
				if err != nil {
					return Verdict{}, err
				}
				if okW {
					inWindow = true
					break
				}
			}
			if !inWindow {
				return fail(types.RuleTimeWindow,
					"commands are not allowed at this time of day",
					fmt.Sprintf("now=%s", now.Format("15:04"))), nil
			}
		}
	}

	if body.GuardExpr != "" {
		okG, err := evalGuardExpr(body.GuardExpr, in)
		if err != nil {
			return Verdict{}, err
		}
		if !okG {
			return fail(types.RuleCustomGuard,
				"command rejected by project guard expression",
				fmt.Sprintf("guard_expr=%q", body.GuardExpr)), nil
		}
	}

	if body.RateLimit != nil && body.RateLimit.Enabled() {
		okR, err := e.limiter.ReserveSlot(ctx, in.Asset.AssetID, body.RateLimit.MaxCount, body.RateLimit.Window(), e.now())
		if err != nil {
			return Verdict{}, err
		}
		if !okR {
			return fail(types.RuleRateLimit,
				fmt.Sprintf("rate limit exceeded: at most %d commands per %ds", body.RateLimit.MaxCount, body.RateLimit.WindowSeconds),
				""), nil
		}
	}

	v := pass()
	v.OverrideApplied = overrideApplied
	return v, nil
}

func checkBounds(cmd types.Command, minDim int, maxDim int) Verdict {
	check := func(dim int, where string) Verdict {
		if dim < minDim {
			return fail(types.RuleBounds,
				fmt.Sprintf("dimming below policy minimum: %d%%", minDim),
				fmt.Sprintf("%s=%d min=%d", where, dim, minDim))
		}
		if dim > maxDim {
			return fail(types.RuleBounds,
				fmt.Sprintf("dimming above policy maximum: %d%%", maxDim),
				fmt.Sprintf("%s=%d max=%d", where, dim, maxDim))
		}
		return pass()
	}
	switch cmd.Kind {
	case types.CommandRealtime:
		return check(cmd.DimPercent, "dim_percent")
	case types.CommandSchedule:
		for i, step := range cmd.Steps {
			if v := check(step.Dim, fmt.Sprintf("steps[%d].dim", i)); !v.Allowed {
				return v
			}
		}
	}
	return pass()
}

var guardCELEnv = sync.OnceValues(func() (*cel.Env, error) {
	return cel.NewEnv(cel.Variable("cmd", cel.MapType(cel.StringType, cel.DynType)))
})

var guardProgramCache sync.Map

// CompileGuardExpr checks a guard expression at policy-write time so broken
// expressions never reach evaluation.
func CompileGuardExpr(expr string) error {
	_, err := guardProgram(expr)
	return err
}

func guardProgram(expr string) (cel.Program, error) {
	if cached, ok := guardProgramCache.Load(expr); ok {
		return cached.(cel.Program), nil
	}
	env, err := guardCELEnv()
	if err != nil {
		return nil, err
	}
	ast, issues := env.Compile(expr)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("guard_expr: %w", issues.Err())
	}
	if !ast.OutputType().IsExactType(cel.BoolType) {
		return nil, fmt.Errorf("guard_expr: must evaluate to bool, got %s", ast.OutputType())
	}
	prg, err := env.Program(ast)
	if err != nil {
		return nil, err
	}
	guardProgramCache.Store(expr, prg)
	return prg, nil
}

func evalGuardExpr(expr string, in GuardrailInput) (bool, error) {
	prg, err := guardProgram(expr)
	if err != nil {
		return false, err
	}
	cmdVars := map[string]any{
		"kind":  string(in.Command.Kind),
		"asset": in.Asset.ExternalID,
		"mode":  string(in.Mode),
		"dim":   in.Command.DimPercent,
		"steps": len(in.Command.Steps),
	}
	out, _, err := prg.Eval(map[string]any{"cmd": cmdVars})
	if err != nil {
		return false, fmt.Errorf("guard_expr eval: %w", err)
	}
	b, ok := out.Value().(bool)
	if !ok {
		return false, fmt.Errorf("guard_expr: non-bool result %v", out.Value())
	}
	return b, nil
}
