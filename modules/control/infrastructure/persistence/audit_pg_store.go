package persistence

import (
	"context"
	"fmt"
	"strings"

	"github.com/gridlume/gridlume/modules/control/domain/types"
)

// AuditPGStore is append-only by construction: the type exposes Append and
// Query, nothing else, and the audit_log table carries no update path in the
// schema.
type AuditPGStore struct {
	pool pgBeginner
}

func NewAuditPGStore(pool pgBeginner) *AuditPGStore {
	return &AuditPGStore{pool: pool}
}

func (s *AuditPGStore) Append(ctx context.Context, entry types.AuditEntry) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(context.Background()) }()

	if _, err := tx.Exec(ctx, `SELECT set_config('app.current_tenant', $1, true);`, entry.ProjectID); err != nil {
		return err
	}

	details := entry.Details
	if len(details) == 0 {
		details = []byte(`{}`)
	}
	if _, err := tx.Exec(ctx, `
	INSERT INTO control.audit_log (
	  audit_id, ts, actor, project_id, asset_id, action, decision,
	  rule_triggered, technical_detail, user_message, details
	)
	VALUES ($1::uuid, $2, $3, $4::uuid, NULLIF($5, '')::uuid, $6, $7, NULLIF($8, ''), NULLIF($9, ''), $10, $11::jsonb)
	`, entry.AuditID, entry.Timestamp, entry.Actor, entry.ProjectID, entry.AssetID,
		entry.Action, string(entry.Decision), string(entry.RuleTriggered),
		entry.TechnicalDetail, entry.UserMessage, []byte(details)); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func (s *AuditPGStore) Query(ctx context.Context, projectID string, filter types.AuditFilter, cursor string, pageSize int) (types.AuditPage, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return types.AuditPage{}, err
	}
	defer func() { _ = tx.Rollback(context.Background()) }()

	if _, err := tx.Exec(ctx, `SELECT set_config('app.current_tenant', $1, true);`, projectID); err != nil {
		return types.AuditPage{}, err
	}

	where := []string{"project_id = $1::uuid"}
	args := []any{projectID}
	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}
	if filter.Actor != "" {
		where = append(where, "lower(actor) = lower("+arg(filter.Actor)+")")
	}
	if filter.AssetID != "" {
		where = append(where, "asset_id = "+arg(filter.AssetID)+"::uuid")
	}
	if filter.Decision != "" {
		where = append(where, "decision = "+arg(string(filter.Decision)))
	}
	if !filter.From.IsZero() {
		where = append(where, "ts >= "+arg(filter.From))
	}
	if !filter.To.IsZero() {
		where = append(where, "ts <= "+arg(filter.To))
	}
	if cursor != "" {
		c, err := decodeAuditCursor(cursor, filter)
		if err != nil {
			return types.AuditPage{}, err
		}
		where = append(where, "audit_id::text < "+arg(c.LastID))
	}

	// One extra row decides whether a next page exists.
	query := `
	SELECT audit_id::text, ts, actor, project_id::text, coalesce(asset_id::text, ''), action,
	       decision, coalesce(rule_triggered, ''), coalesce(technical_detail, ''), user_message, details
	FROM control.audit_log
	WHERE ` + strings.Join(where, " AND ") + `
	ORDER BY audit_id::text DESC
	LIMIT ` + arg(pageSize+1)

	rows, err := tx.Query(ctx, query, args...)
	if err != nil {
		return types.AuditPage{}, err
	}
	defer rows.Close()

	var entries []types.AuditEntry
	for rows.Next() {
		var e types.AuditEntry
		var decision, rule string
		var details []byte
		if err := rows.Scan(&e.AuditID, &e.Timestamp, &e.Actor, &e.ProjectID, &e.AssetID,
			&e.Action, &decision, &rule, &e.TechnicalDetail, &e.UserMessage, &details); err != nil {
			return types.AuditPage{}, err
		}
		e.Decision = types.Outcome(decision)
		e.RuleTriggered = types.Rule(rule)
		e.Details = details
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return types.AuditPage{}, err
	}
	if err := tx.Commit(ctx); err != nil {
		return types.AuditPage{}, err
	}

	page := types.AuditPage{}
	if len(entries) > pageSize {
		entries = entries[:pageSize]
		page.NextCursor = encodeAuditCursor(auditCursor{
			LastID:     entries[len(entries)-1].AuditID,
			FilterHash: hashAuditFilter(filter),
		})
	}
	page.Entries = entries
	return page, nil
}
