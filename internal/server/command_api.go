package server

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/gridlume/gridlume/internal/routing"
	"github.com/gridlume/gridlume/modules/control/domain/types"
	"github.com/gridlume/gridlume/modules/control/services"
)

type commandRequest struct {
	AssetExternalID string               `json:"asset_external_id"`
	DimPercent      int                  `json:"dim_percent"`
	Steps           []types.ScheduleStep `json:"steps"`
	Note            string               `json:"note"`
	IdempotencyKey  string               `json:"idempotency_key"`
}

// handleSubmitCommand serves both command routes; the route fixes the kind so
// a caller cannot smuggle a schedule through the realtime endpoint.
func handleSubmitCommand(gate *services.CommandGate, resolve resolveProject, kind types.CommandKind) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		projectID, ok := resolveOrReject(w, r, resolve)
		if !ok {
			return
		}

		var req commandRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			routing.WriteError(w, r, routing.RouteClassPublicAPI, http.StatusBadRequest, "invalid_json", "invalid json")
			return
		}
		if strings.TrimSpace(req.AssetExternalID) == "" {
			routing.WriteError(w, r, routing.RouteClassPublicAPI, http.StatusBadRequest, "missing_asset", "asset_external_id required")
			return
		}

		idempotencyKey := strings.TrimSpace(r.Header.Get("Idempotency-Key"))
		if idempotencyKey == "" {
			idempotencyKey = strings.TrimSpace(req.IdempotencyKey)
		}

		cmd := types.Command{
			Kind:            kind,
			AssetExternalID: strings.TrimSpace(req.AssetExternalID),
			DimPercent:      req.DimPercent,
			Steps:           req.Steps,
			Note:            req.Note,
			IdempotencyKey:  idempotencyKey,
		}

		decision, _ := gate.Submit(r.Context(), projectID, bearerCredential(r), cmd)
		writeJSON(w, statusForDecision(decision), decision)
	})
}
