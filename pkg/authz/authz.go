package authz

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/casbin/casbin/v2"
	casbinmodel "github.com/casbin/casbin/v2/model"
	fileadapter "github.com/casbin/casbin/v2/persist/file-adapter"
)

type Mode string

const (
	ModeEnforce  Mode = "enforce"
	ModeShadow   Mode = "shadow"
	ModeDisabled Mode = "disabled"
)

func ModeFromEnv() (Mode, error) {
	raw := strings.TrimSpace(strings.ToLower(os.Getenv("AUTHZ_MODE")))
	if raw == "" {
		return ModeEnforce, nil
	}
	switch Mode(raw) {
	case ModeEnforce, ModeShadow:
		return Mode(raw), nil
	case ModeDisabled:
		if os.Getenv("AUTHZ_UNSAFE_ALLOW_DISABLED") != "1" {
			return "", errors.New("authz: AUTHZ_MODE=disabled requires AUTHZ_UNSAFE_ALLOW_DISABLED=1")
		}
		return ModeDisabled, nil
	default:
		return "", errors.New("authz: invalid AUTHZ_MODE (expected enforce|shadow|disabled)")
	}
}

// Capability is one thing a caller may be allowed to do, expressed as the
// casbin (object, action) pair. The set is closed: operations name the
// capability they require and the enforcer decides by set containment, never
// by ad hoc string probes.
type Capability struct {
	Object string
	Action string
}

func (c Capability) String() string { return c.Object + ":" + c.Action }

// Authorizer answers whether any of a credential's scopes grants a capability
// within a project. Grants live in a casbin policy; the model is fixed.
type Authorizer struct {
	enforcer *casbin.Enforcer
	mode     Mode
}

// Model is the casbin model every grant policy is evaluated under: a scope is
// the subject, the project is the domain ("*" grants apply to all projects).
const Model = `
[request_definition]
r = sub, dom, obj, act

[policy_definition]
p = sub, dom, obj, act

[policy_effect]
e = some(where (p.eft == allow))

[matchers]
m = r.sub == p.sub && keyMatch(r.dom, p.dom) && r.obj == p.obj && r.act == p.act
`

// NewAuthorizer loads grants from a casbin CSV policy file.
func NewAuthorizer(policyPath string, mode Mode) (*Authorizer, error) {
	m, err := casbinmodel.NewModelFromString(Model)
	if err != nil {
		return nil, err
	}
	enforcer, err := casbin.NewEnforcer(m, fileadapter.NewAdapter(policyPath))
	if err != nil {
		return nil, err
	}
	return &Authorizer{enforcer: enforcer, mode: mode}, nil
}

// NewStaticAuthorizer builds an authorizer from the default scope grants in
// the registry. Used by tests and by deployments without a policy file.
func NewStaticAuthorizer(mode Mode) (*Authorizer, error) {
	m, err := casbinmodel.NewModelFromString(Model)
	if err != nil {
		return nil, err
	}
	enforcer, err := casbin.NewEnforcer(m)
	if err != nil {
		return nil, err
	}
	for scope, caps := range DefaultGrants {
		for _, c := range caps {
			if _, err := enforcer.AddPolicy(SubjectFromScope(scope), "*", c.Object, c.Action); err != nil {
				return nil, err
			}
		}
	}
	return &Authorizer{enforcer: enforcer, mode: mode}, nil
}

func SubjectFromScope(scope string) string {
	return "scope:" + strings.ToLower(strings.TrimSpace(scope))
}

func DomainFromProjectID(projectID string) string {
	return strings.ToLower(strings.TrimSpace(projectID))
}

// Allows reports whether any scope in the set grants the capability in the
// project. enforced is false in shadow and disabled modes: callers log the
// verdict but do not act on it.
func (a *Authorizer) Allows(scopes []string, projectID string, capability Capability) (allowed bool, enforced bool, err error) {
	if a.mode == ModeDisabled {
		return true, false, nil
	}
	domain := DomainFromProjectID(projectID)
	for _, scope := range scopes {
		ok, err := a.enforcer.Enforce(SubjectFromScope(scope), domain, capability.Object, capability.Action)
		if err != nil {
			return false, a.mode == ModeEnforce, fmt.Errorf("authz: enforce %s: %w", capability, err)
		}
		if ok {
			return true, a.mode == ModeEnforce, nil
		}
	}
	return false, a.mode == ModeEnforce, nil
}
