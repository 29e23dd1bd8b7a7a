package persistence

import (
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"

	"github.com/gridlume/gridlume/modules/control/domain/types"
	"github.com/gridlume/gridlume/pkg/httperr"
)

// auditCursor is the decoded pagination state for audit queries. Audit IDs
// are UUIDv7, so their string order is chronological and keyset pagination
// can walk audit_id alone.
type auditCursor struct {
	// LastID is the audit_id of the last entry on the previous page.
	LastID string `json:"last"`
	// FilterHash invalidates the token if the caller changes filters
	// between pages.
	FilterHash string `json:"fh,omitempty"`
}

func encodeAuditCursor(c auditCursor) string {
	data, _ := json.Marshal(c)
	return base64.URLEncoding.EncodeToString(data)
}

// decodeAuditCursor reports every rejection as a bad request attributed to the
// cursor parameter, so the HTTP layer can classify it with a typed probe.
func decodeAuditCursor(token string, filter types.AuditFilter) (auditCursor, error) {
	data, err := base64.URLEncoding.DecodeString(token)
	if err != nil {
		return auditCursor{}, httperr.NewBadParam("cursor", "malformed token")
	}
	var c auditCursor
	if err := json.Unmarshal(data, &c); err != nil {
		return auditCursor{}, httperr.NewBadParam("cursor", "malformed token")
	}
	if c.LastID == "" {
		return auditCursor{}, httperr.NewBadParam("cursor", "empty position")
	}
	if c.FilterHash != hashAuditFilter(filter) {
		return auditCursor{}, httperr.NewBadParam("cursor", "filters changed since the cursor was issued")
	}
	return c, nil
}

func hashAuditFilter(f types.AuditFilter) string {
	key := fmt.Sprintf("%s|%s|%s|%d|%d", f.Actor, f.AssetID, f.Decision, f.From.UnixNano(), f.To.UnixNano())
	sum := sha256.Sum256([]byte(key))
	return hex.EncodeToString(sum[:8])
}
