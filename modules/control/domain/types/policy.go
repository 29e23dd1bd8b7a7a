package types

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// RateLimit caps accepted commands per asset within a sliding window measured
// back from the submission time.
type RateLimit struct {
	MaxCount      int `json:"max_count"`
	WindowSeconds int `json:"window_seconds"`
}

func (r RateLimit) Window() time.Duration {
	return time.Duration(r.WindowSeconds) * time.Second
}

func (r RateLimit) Enabled() bool {
	return r.MaxCount > 0 && r.WindowSeconds > 0
}

// TimeWindow is a time-of-day range. Windows may wrap midnight
// (street lighting policies usually do: 22:00-05:00).
type TimeWindow struct {
	Start string `json:"start"`
	End   string `json:"end"`
}

// Contains reports whether the wall-clock time of t falls inside the window.
// Start == End denotes the full day.
func (w TimeWindow) Contains(t time.Time) (bool, error) {
	start, err := MinuteOfDay(w.Start)
	if err != nil {
		return false, err
	}
	end, err := MinuteOfDay(w.End)
	if err != nil {
		return false, err
	}
	now := t.Hour()*60 + t.Minute()
	switch {
	case start == end:
		return true, nil
	case start < end:
		return now >= start && now < end, nil
	default:
		// Wraps midnight.
		return now >= start || now < end, nil
	}
}

// MinuteOfDay parses a 24-hour "HH:MM" string into minutes since midnight.
func MinuteOfDay(hhmm string) (int, error) {
	if len(hhmm) != 5 || hhmm[2] != ':' {
		return 0, fmt.Errorf("invalid time %q: use HH:MM", hhmm)
	}
	hh, mm := hhmm[:2], hhmm[3:]
	h, err := atoi2(hh)
	if err != nil || h > 23 {
		return 0, fmt.Errorf("invalid time %q: use HH:MM", hhmm)
	}
	m, err := atoi2(mm)
	if err != nil || m > 59 {
		return 0, fmt.Errorf("invalid time %q: use HH:MM", hhmm)
	}
	return h*60 + m, nil
}

func atoi2(s string) (int, error) {
	if len(s) != 2 || s[0] < '0' || s[0] > '9' || s[1] < '0' || s[1] > '9' {
		return 0, errors.New("not a 2-digit number")
	}
	return int(s[0]-'0')*10 + int(s[1]-'0'), nil
}

// PolicyBody is the project policy configuration applied to optimize-mode
// commands. A zero MinDim/MaxDim pair of (0, 0) means bounds are not
// configured; configured bounds must be tighter than or equal to [0,100].
type PolicyBody struct {
	MinDim         *int         `json:"min_dim,omitempty"`
	MaxDim         *int         `json:"max_dim,omitempty"`
	RateLimit      *RateLimit   `json:"rate_limit,omitempty"`
	AllowedWindows []TimeWindow `json:"allowed_windows,omitempty"`
	GuardExpr      string       `json:"guard_expr,omitempty"`
}

func (b PolicyBody) HasBounds() bool { return b.MinDim != nil && b.MaxDim != nil }

// Validate checks structural soundness of a policy body before it is stored.
func (b PolicyBody) Validate() error {
	if (b.MinDim == nil) != (b.MaxDim == nil) {
		return errors.New("min_dim and max_dim must be set together")
	}
	if b.HasBounds() {
		if *b.MinDim < 0 || *b.MaxDim > 100 {
			return errors.New("dimming bounds must be between 0 and 100")
		}
		if *b.MinDim >= *b.MaxDim {
			return errors.New("min_dim must be less than max_dim")
		}
	}
	if b.RateLimit != nil {
		if b.RateLimit.MaxCount <= 0 {
			return errors.New("rate_limit.max_count must be positive")
		}
		if b.RateLimit.WindowSeconds <= 0 {
			return errors.New("rate_limit.window_seconds must be positive")
		}
	}
	for _, w := range b.AllowedWindows {
		if _, err := MinuteOfDay(w.Start); err != nil {
			return err
		}
		if _, err := MinuteOfDay(w.End); err != nil {
			return err
		}
	}
	return nil
}

func ParsePolicyBody(raw json.RawMessage) (PolicyBody, error) {
	var b PolicyBody
	if err := json.Unmarshal(raw, &b); err != nil {
		return PolicyBody{}, errors.New("invalid policy body json")
	}
	if err := b.Validate(); err != nil {
		return PolicyBody{}, err
	}
	return b, nil
}

// Policy is one stored policy version; the newest ActiveFrom per project wins.
type Policy struct {
	PolicyID   string     `json:"policy_id"`
	ProjectID  string     `json:"project_id"`
	Version    string     `json:"version"`
	Body       PolicyBody `json:"body"`
	ActiveFrom time.Time  `json:"active_from"`
}
