package types

import (
	"errors"
	"strings"
	"time"
)

type CommandKind string

const (
	CommandRealtime CommandKind = "realtime"
	CommandSchedule CommandKind = "schedule"
)

func ParseCommandKind(raw string) (CommandKind, error) {
	switch CommandKind(strings.ToLower(strings.TrimSpace(raw))) {
	case CommandRealtime:
		return CommandRealtime, nil
	case CommandSchedule:
		return CommandSchedule, nil
	default:
		return "", errors.New("kind must be realtime|schedule")
	}
}

// ScheduleStep is one entry of a schedule-change command. Time is a 24-hour
// "HH:MM" time of day.
type ScheduleStep struct {
	Time string `json:"time"`
	Dim  int    `json:"dim"`
}

// Command is a proposed dimming or schedule change, before any evaluation.
// DimPercent is meaningful for realtime commands, Steps for schedule commands.
type Command struct {
	Kind            CommandKind    `json:"kind"`
	AssetExternalID string         `json:"asset_external_id"`
	DimPercent      int            `json:"dim_percent,omitempty"`
	Steps           []ScheduleStep `json:"steps,omitempty"`
	Note            string         `json:"note,omitempty"`
	IdempotencyKey  string         `json:"idempotency_key,omitempty"`
	SubmittedAt     time.Time      `json:"submitted_at"`
}
