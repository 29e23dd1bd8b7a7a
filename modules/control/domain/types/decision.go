package types

import "strings"

// Outcome is the terminal state of one submission.
type Outcome string

const (
	OutcomeAllowed  Outcome = "allowed"
	OutcomeDenied   Outcome = "denied"
	OutcomeReplayed Outcome = "replayed"
)

// Rule identifies which check produced a denial.
type Rule string

const (
	RuleScope         Rule = "scope"
	RuleAssetNotFound Rule = "asset_not_found"
	RuleHygiene       Rule = "hygiene"
	RuleBounds        Rule = "bounds"
	RuleRateLimit     Rule = "rate_limit"
	RuleTimeWindow    Rule = "time_window"
	RuleCustomGuard   Rule = "custom_guard"
	RuleKillSwitch    Rule = "kill_switch"
	RuleIdempotency   Rule = "idempotency_conflict"
	RuleInternal      Rule = "internal_error"
)

// Decision is what every submission returns, allowed or not. UserMessage is
// safe to show to callers; TechnicalDetail is operator-facing and may be
// empty.
type Decision struct {
	Outcome         Outcome `json:"outcome"`
	RuleTriggered   Rule    `json:"rule_triggered,omitempty"`
	UserMessage     string  `json:"user_message"`
	TechnicalDetail string  `json:"technical_detail,omitempty"`
	CommandID       string  `json:"command_id,omitempty"`
	OverrideApplied bool    `json:"override_applied,omitempty"`
}

func Allowed(commandID string) Decision {
	return Decision{Outcome: OutcomeAllowed, UserMessage: "command accepted", CommandID: commandID}
}

func Denied(rule Rule, userMessage string, technicalDetail string) Decision {
	return Decision{
		Outcome:         OutcomeDenied,
		RuleTriggered:   rule,
		UserMessage:     userMessage,
		TechnicalDetail: technicalDetail,
	}
}

func ParseOutcome(raw string) (Outcome, bool) {
	switch Outcome(strings.ToLower(strings.TrimSpace(raw))) {
	case OutcomeAllowed:
		return OutcomeAllowed, true
	case OutcomeDenied:
		return OutcomeDenied, true
	case OutcomeReplayed:
		return OutcomeReplayed, true
	default:
		return "", false
	}
}
