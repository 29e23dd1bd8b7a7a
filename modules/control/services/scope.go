package services

import (
	"context"
	"errors"

	"github.com/gridlume/gridlume/modules/control/domain/ports"
	"github.com/gridlume/gridlume/modules/control/domain/types"
	"github.com/gridlume/gridlume/pkg/authz"
)

// ScopeAuthorizer resolves a credential and checks it grants a capability
// within the target project. It is a pure lookup: resolution and grant
// evaluation, no side effects.
type ScopeAuthorizer struct {
	resolver ports.CredentialResolver
	grants   *authz.Authorizer
}

func NewScopeAuthorizer(resolver ports.CredentialResolver, grants *authz.Authorizer) ScopeAuthorizer {
	return ScopeAuthorizer{resolver: resolver, grants: grants}
}

// Authorize fails closed: unknown credentials, project mismatches and missing
// capabilities all come back as types.ScopeDeniedError. When the credential
// did resolve, the principal accompanies the denial so callers can attribute
// the refused attempt.
func (s ScopeAuthorizer) Authorize(ctx context.Context, credential string, projectID string, capability authz.Capability) (types.Principal, error) {
	principal, err := s.resolver.Resolve(ctx, credential)
	if err != nil {
		if errors.Is(err, ports.ErrUnknownCredential) {
			return types.Principal{}, types.NewScopeDenied("invalid credentials")
		}
		return types.Principal{}, err
	}
	if principal.ProjectID != projectID {
		return principal, types.NewScopeDenied("credential does not belong to this project")
	}
	allowed, enforced, err := s.grants.Allows(principal.Scopes, projectID, capability)
	if err != nil {
		return principal, err
	}
	if !allowed && enforced {
		return principal, types.NewScopeDenied("missing required scope for " + capability.String())
	}
	return principal, nil
}

// HasCapability reports whether an already-resolved principal holds an extra
// capability (the time-window override). Absence is not an error here.
func (s ScopeAuthorizer) HasCapability(principal types.Principal, projectID string, capability authz.Capability) (bool, error) {
	allowed, _, err := s.grants.Allows(principal.Scopes, projectID, capability)
	if err != nil {
		return false, err
	}
	return allowed, nil
}
