package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/gridlume/gridlume/internal/routing"
	"github.com/gridlume/gridlume/modules/control/domain/ports"
	"github.com/gridlume/gridlume/modules/control/domain/types"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// bearerCredential extracts the API key. The empty string resolves to an
// unknown credential downstream, so missing auth becomes a scope denial.
func bearerCredential(r *http.Request) string {
	auth := strings.TrimSpace(r.Header.Get("Authorization"))
	if rest, ok := strings.CutPrefix(auth, "Bearer "); ok {
		return strings.TrimSpace(rest)
	}
	return strings.TrimSpace(r.Header.Get("X-API-Key"))
}

type resolveProject func(ctx context.Context, code string) (string, error)

func projectResolver(dir ports.ProjectDirectory) resolveProject {
	return dir.ProjectIDByCode
}

func resolveOrReject(w http.ResponseWriter, r *http.Request, resolve resolveProject) (string, bool) {
	projectID, err := resolve(r.Context(), routing.Param(r, "code"))
	if err != nil {
		if errors.Is(err, ports.ErrProjectNotFound) {
			routing.WriteError(w, r, routing.RouteClassPublicAPI, http.StatusNotFound, "project_not_found", "project not found")
			return "", false
		}
		routing.WriteError(w, r, routing.RouteClassPublicAPI, http.StatusInternalServerError, "project_resolve_error", "project resolve error")
		return "", false
	}
	return projectID, true
}

// statusForDecision maps the engine's decision taxonomy onto HTTP statuses.
// The body is always the decision itself, whatever the status.
func statusForDecision(d types.Decision) int {
	if d.Outcome == types.OutcomeAllowed {
		return http.StatusAccepted
	}
	switch d.RuleTriggered {
	case types.RuleScope:
		return http.StatusForbidden
	case types.RuleAssetNotFound:
		return http.StatusNotFound
	case types.RuleKillSwitch:
		return http.StatusServiceUnavailable
	case types.RuleIdempotency:
		return http.StatusConflict
	case types.RuleInternal:
		return http.StatusInternalServerError
	default:
		return http.StatusUnprocessableEntity
	}
}

// writeAdminError maps the engine's error taxonomy for the administrative
// operations, which report failures as errors instead of decisions.
func writeAdminError(w http.ResponseWriter, r *http.Request, err error) {
	rc := routing.RouteClassPublicAPI
	switch {
	case types.IsScopeDenied(err):
		routing.WriteError(w, r, rc, http.StatusForbidden, "scope_denied", err.Error())
	case types.IsAssetNotFound(err):
		routing.WriteError(w, r, rc, http.StatusNotFound, "asset_not_found", err.Error())
	case types.IsValidation(err):
		routing.WriteError(w, r, rc, http.StatusUnprocessableEntity, "validation_failed", err.Error())
	default:
		routing.WriteError(w, r, rc, http.StatusInternalServerError, "internal_error", "internal error")
	}
}
