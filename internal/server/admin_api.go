package server

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/gridlume/gridlume/internal/routing"
	"github.com/gridlume/gridlume/modules/control/services"
)

func handleSetAssetMode(gate *services.CommandGate, resolve resolveProject) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		projectID, ok := resolveOrReject(w, r, resolve)
		if !ok {
			return
		}

		var req struct {
			Mode string `json:"mode"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			routing.WriteError(w, r, routing.RouteClassPublicAPI, http.StatusBadRequest, "invalid_json", "invalid json")
			return
		}

		asset, err := gate.SetAssetMode(r.Context(), projectID, bearerCredential(r), routing.Param(r, "external_id"), req.Mode)
		if err != nil {
			writeAdminError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, asset)
	})
}

func handleKillSwitchRead(gate *services.CommandGate, resolve resolveProject) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		projectID, ok := resolveOrReject(w, r, resolve)
		if !ok {
			return
		}
		state, err := gate.KillSwitchState(r.Context(), projectID, bearerCredential(r))
		if err != nil {
			writeAdminError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, state)
	})
}

func handleKillSwitchToggle(gate *services.CommandGate, resolve resolveProject) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		projectID, ok := resolveOrReject(w, r, resolve)
		if !ok {
			return
		}

		var req struct {
			Active bool   `json:"active"`
			Reason string `json:"reason"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			routing.WriteError(w, r, routing.RouteClassPublicAPI, http.StatusBadRequest, "invalid_json", "invalid json")
			return
		}

		state, err := gate.ToggleKillSwitch(r.Context(), projectID, bearerCredential(r), req.Active, strings.TrimSpace(req.Reason))
		if err != nil {
			writeAdminError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, state)
	})
}

func handlePolicyRead(gate *services.CommandGate, resolve resolveProject) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		projectID, ok := resolveOrReject(w, r, resolve)
		if !ok {
			return
		}
		policy, found, err := gate.CurrentPolicy(r.Context(), projectID, bearerCredential(r))
		if err != nil {
			writeAdminError(w, r, err)
			return
		}
		if !found {
			routing.WriteError(w, r, routing.RouteClassPublicAPI, http.StatusNotFound, "policy_not_found", "no policy configured for this project")
			return
		}
		writeJSON(w, http.StatusOK, policy)
	})
}

func handlePolicyWrite(gate *services.CommandGate, resolve resolveProject) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		projectID, ok := resolveOrReject(w, r, resolve)
		if !ok {
			return
		}

		var req struct {
			Version string          `json:"version"`
			Body    json.RawMessage `json:"body"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			routing.WriteError(w, r, routing.RouteClassPublicAPI, http.StatusBadRequest, "invalid_json", "invalid json")
			return
		}
		if strings.TrimSpace(req.Version) == "" {
			routing.WriteError(w, r, routing.RouteClassPublicAPI, http.StatusBadRequest, "missing_version", "version required")
			return
		}
		if len(req.Body) == 0 {
			routing.WriteError(w, r, routing.RouteClassPublicAPI, http.StatusBadRequest, "missing_body", "body required")
			return
		}

		policy, err := gate.PutPolicy(r.Context(), projectID, bearerCredential(r), strings.TrimSpace(req.Version), req.Body)
		if err != nil {
			writeAdminError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, policy)
	})
}
