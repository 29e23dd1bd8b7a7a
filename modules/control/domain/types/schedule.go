package types

import "time"

type ScheduleStatus string

const (
	ScheduleActive     ScheduleStatus = "active"
	ScheduleSuperseded ScheduleStatus = "superseded"
)

// Schedule is a stored schedule change accepted by the gate. At most one
// schedule per asset is active; accepting a new one supersedes it.
type Schedule struct {
	ScheduleID   string         `json:"schedule_id"`
	ProjectID    string         `json:"project_id"`
	AssetID      string         `json:"asset_id"`
	CommandID    string         `json:"command_id"`
	Steps        []ScheduleStep `json:"steps"`
	Status       ScheduleStatus `json:"status"`
	ActivatedAt  time.Time      `json:"activated_at"`
	SupersededAt time.Time      `json:"superseded_at,omitzero"`
}
