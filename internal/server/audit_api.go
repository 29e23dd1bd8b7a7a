package server

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gridlume/gridlume/internal/routing"
	"github.com/gridlume/gridlume/modules/control/domain/types"
	"github.com/gridlume/gridlume/modules/control/services"
	"github.com/gridlume/gridlume/pkg/httperr"
)

func handleAuditQuery(gate *services.CommandGate, resolve resolveProject) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		projectID, ok := resolveOrReject(w, r, resolve)
		if !ok {
			return
		}

		filter, pageSize, err := parseAuditQuery(r)
		if err != nil {
			if httperr.IsBadRequest(err) {
				routing.WriteError(w, r, routing.RouteClassPublicAPI, http.StatusBadRequest, "invalid_query", err.Error())
				return
			}
			routing.WriteError(w, r, routing.RouteClassPublicAPI, http.StatusInternalServerError, "internal_error", "internal error")
			return
		}

		page, err := gate.QueryAudit(r.Context(), projectID, bearerCredential(r), filter, r.URL.Query().Get("cursor"), pageSize)
		if err != nil {
			if httperr.IsBadRequest(err) {
				routing.WriteError(w, r, routing.RouteClassPublicAPI, http.StatusBadRequest, "invalid_cursor", err.Error())
				return
			}
			writeAdminError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, page)
	})
}

func parseAuditQuery(r *http.Request) (types.AuditFilter, int, error) {
	q := r.URL.Query()
	filter := types.AuditFilter{
		Actor:   strings.TrimSpace(q.Get("actor")),
		AssetID: strings.TrimSpace(q.Get("asset_id")),
	}

	if raw := strings.TrimSpace(q.Get("decision")); raw != "" {
		outcome, ok := types.ParseOutcome(raw)
		if !ok {
			return types.AuditFilter{}, 0, httperr.NewBadParam("decision", "must be allowed|denied|replayed")
		}
		filter.Decision = outcome
	}
	if raw := strings.TrimSpace(q.Get("from")); raw != "" {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return types.AuditFilter{}, 0, httperr.NewBadParam("from", "must be RFC 3339")
		}
		filter.From = t
	}
	if raw := strings.TrimSpace(q.Get("to")); raw != "" {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return types.AuditFilter{}, 0, httperr.NewBadParam("to", "must be RFC 3339")
		}
		filter.To = t
	}

	pageSize := 0
	if raw := strings.TrimSpace(q.Get("page_size")); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			return types.AuditFilter{}, 0, httperr.NewBadParam("page_size", "must be a positive integer")
		}
		pageSize = n
	}
	return filter, pageSize, nil
}
