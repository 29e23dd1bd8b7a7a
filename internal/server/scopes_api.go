package server

import (
	"net/http"

	"github.com/gridlume/gridlume/pkg/authz"
)

// handleScopeCatalogue lists the grantable scopes so operator tooling can
// render key provisioning screens without hardcoding the set.
func handleScopeCatalogue(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, struct {
		Scopes []authz.ScopeDefinition `json:"scopes"`
	}{Scopes: authz.ScopeCatalogue})
}
