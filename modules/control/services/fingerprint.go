package services

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sort"
	"strings"

	"github.com/gridlume/gridlume/modules/control/domain/types"
)

// CommandFingerprint computes a stable hash of the command payload so retried
// submissions with the same idempotency key can be told apart from key reuse.
// The submission timestamp is deliberately excluded: a retry carries a new
// timestamp but is still the same command.
func CommandFingerprint(cmd types.Command) string {
	payload := map[string]any{
		"kind":  string(cmd.Kind),
		"asset": cmd.AssetExternalID,
	}
	switch cmd.Kind {
	case types.CommandRealtime:
		payload["dim"] = cmd.DimPercent
	case types.CommandSchedule:
		steps := make([]any, 0, len(cmd.Steps))
		for _, s := range cmd.Steps {
			steps = append(steps, map[string]any{"time": s.Time, "dim": s.Dim})
		}
		payload["steps"] = steps
	}
	if cmd.Note != "" {
		payload["note"] = cmd.Note
	}

	var b strings.Builder
	canonicalJSON(&b, payload)
	sum := sha256.Sum256([]byte(b.String()))
	return hex.EncodeToString(sum[:])
}

// canonicalJSON renders v with object keys sorted so equal payloads hash
// equal regardless of map iteration order.
func canonicalJSON(b *strings.Builder, v any) {
	switch t := v.(type) {
	case map[string]any:
		keys := make([]string, 0, len(t))
		for k := range t {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		b.WriteByte('{')
		for i, k := range keys {
			if i > 0 {
				b.WriteByte(',')
			}
			ks, _ := json.Marshal(k)
			b.Write(ks)
			b.WriteByte(':')
			canonicalJSON(b, t[k])
		}
		b.WriteByte('}')
	case []any:
		b.WriteByte('[')
		for i := range t {
			if i > 0 {
				b.WriteByte(',')
			}
			canonicalJSON(b, t[i])
		}
		b.WriteByte(']')
	default:
		bb, _ := json.Marshal(t)
		b.Write(bb)
	}
}
