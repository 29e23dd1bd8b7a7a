package types

import (
	"errors"
	"strings"
)

// ControlMode selects which guardrail tiers apply to an asset's commands.
// Optimize commands come from the dimming algorithm and are subject to the
// project policy; passthrough commands are operator-issued and only pass
// hygiene validation.
type ControlMode string

const (
	ModeOptimize    ControlMode = "optimize"
	ModePassthrough ControlMode = "passthrough"
)

func ParseControlMode(raw string) (ControlMode, error) {
	switch ControlMode(strings.ToLower(strings.TrimSpace(raw))) {
	case ModeOptimize:
		return ModeOptimize, nil
	case ModePassthrough:
		return ModePassthrough, nil
	default:
		return "", errors.New("control_mode must be optimize|passthrough")
	}
}

type Asset struct {
	AssetID    string      `json:"asset_id"`
	ProjectID  string      `json:"project_id"`
	ExternalID string      `json:"external_id"`
	Name       string      `json:"name,omitempty"`
	Mode       ControlMode `json:"control_mode"`
}
