package types

import (
	"encoding/json"
	"time"
)

// AuditEntry is one immutable decision record. Entries are append-only: the
// store interface has no update or delete path.
type AuditEntry struct {
	AuditID         string          `json:"audit_id"`
	Timestamp       time.Time       `json:"timestamp"`
	Actor           string          `json:"actor"`
	ProjectID       string          `json:"project_id"`
	AssetID         string          `json:"asset_id,omitempty"`
	Action          string          `json:"action"`
	Decision        Outcome         `json:"decision"`
	RuleTriggered   Rule            `json:"rule_triggered,omitempty"`
	TechnicalDetail string          `json:"technical_detail,omitempty"`
	UserMessage     string          `json:"user_message"`
	Details         json.RawMessage `json:"details,omitempty"`
}

// AuditFilter narrows an audit query. Zero fields match everything.
type AuditFilter struct {
	Actor    string
	AssetID  string
	Decision Outcome
	From     time.Time
	To       time.Time
}

// AuditPage is one page of entries, newest first. NextCursor is empty when
// the page is the last one.
type AuditPage struct {
	Entries    []AuditEntry `json:"entries"`
	NextCursor string       `json:"next_cursor,omitempty"`
}
