package server

import (
	"os"
	"path/filepath"

	"github.com/gridlume/gridlume/pkg/authz"
)

// loadAuthorizer builds the grant enforcer for the process. A policy CSV, if
// present, replaces the built-in scope grants wholesale.
func loadAuthorizer() (*authz.Authorizer, error) {
	mode, err := authz.ModeFromEnv()
	if err != nil {
		return nil, err
	}

	policyPath := os.Getenv("AUTHZ_POLICY_PATH")
	if policyPath == "" {
		policyPath = defaultAuthzPolicyPath()
	}
	if policyPath != "" {
		return authz.NewAuthorizer(policyPath, mode)
	}
	return authz.NewStaticAuthorizer(mode)
}

func defaultAuthzPolicyPath() string {
	path := "config/access/policy.csv"
	for i := 0; i < 8; i++ {
		if _, err := os.Stat(path); err == nil {
			return path
		}
		path = filepath.Join("..", path)
	}
	return ""
}
