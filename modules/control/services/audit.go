package services

import (
	"context"
	"time"

	"github.com/gridlume/gridlume/modules/control/domain/ports"
	"github.com/gridlume/gridlume/modules/control/domain/types"
	"github.com/gridlume/gridlume/pkg/uuidv7"
)

const (
	auditDefaultPageSize = 50
	auditMaxPageSize     = 200
)

// AuditRecorder appends immutable decision records and serves the filtered,
// cursor-paginated read path. It is constructed and injected explicitly;
// nothing in the engine writes audit entries through a package global.
type AuditRecorder struct {
	store ports.AuditStore
	now   func() time.Time
}

func NewAuditRecorder(store ports.AuditStore, now func() time.Time) *AuditRecorder {
	if now == nil {
		now = time.Now
	}
	return &AuditRecorder{store: store, now: now}
}

// Record fills in the entry ID and timestamp when absent and appends. The
// returned entry is what was stored.
func (r *AuditRecorder) Record(ctx context.Context, entry types.AuditEntry) (types.AuditEntry, error) {
	if entry.AuditID == "" {
		id, err := uuidv7.NewString()
		if err != nil {
			return types.AuditEntry{}, err
		}
		entry.AuditID = id
	}
	if entry.Timestamp.IsZero() {
		entry.Timestamp = r.now()
	}
	if err := r.store.Append(ctx, entry); err != nil {
		return types.AuditEntry{}, err
	}
	return entry, nil
}

// Query returns one page of entries for the project, newest first.
func (r *AuditRecorder) Query(ctx context.Context, projectID string, filter types.AuditFilter, cursor string, pageSize int) (types.AuditPage, error) {
	if pageSize <= 0 {
		pageSize = auditDefaultPageSize
	}
	if pageSize > auditMaxPageSize {
		pageSize = auditMaxPageSize
	}
	return r.store.Query(ctx, projectID, filter, cursor, pageSize)
}
