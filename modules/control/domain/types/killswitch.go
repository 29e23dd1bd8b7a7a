package types

import "time"

// KillSwitchState is the per-project emergency flag. While active, every
// optimize-mode command is denied before guardrails run; passthrough commands
// are unaffected.
type KillSwitchState struct {
	ProjectID   string    `json:"project_id"`
	Active      bool      `json:"active"`
	ActivatedBy string    `json:"activated_by,omitempty"`
	ActivatedAt time.Time `json:"activated_at,omitzero"`
	Reason      string    `json:"reason,omitempty"`
}
