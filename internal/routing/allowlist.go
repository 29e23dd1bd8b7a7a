package routing

import (
	"errors"
	"os"

	"gopkg.in/yaml.v3"
)

// Allowlist is the declared route surface of an entrypoint. Anything the
// allowlist does not name is served a 404 by the router, so the YAML file is
// the single place to review what the process exposes.
type Allowlist struct {
	Version     int                   `yaml:"version"`
	Entrypoints map[string]Entrypoint `yaml:"entrypoints"`
}

type Entrypoint struct {
	Routes []Route `yaml:"routes"`
}

type Route struct {
	Path       string   `yaml:"path"`
	Methods    []string `yaml:"methods"`
	RouteClass string   `yaml:"route_class"`
}

func ParseAllowlistYAML(b []byte) (Allowlist, error) {
	var a Allowlist
	if err := yaml.Unmarshal(b, &a); err != nil {
		return Allowlist{}, err
	}
	if a.Version != 1 {
		return Allowlist{}, errors.New("allowlist: unsupported version")
	}
	if a.Entrypoints == nil {
		return Allowlist{}, errors.New("allowlist: missing entrypoints")
	}
	for name, ep := range a.Entrypoints {
		for _, r := range ep.Routes {
			if r.Path == "" || r.RouteClass == "" {
				return Allowlist{}, errors.New("allowlist: invalid route in entrypoint " + name)
			}
			if len(r.Methods) == 0 {
				return Allowlist{}, errors.New("allowlist: route without methods: " + r.Path)
			}
			if !knownRouteClass(RouteClass(r.RouteClass)) {
				return Allowlist{}, errors.New("allowlist: unknown route_class for " + r.Path)
			}
		}
	}
	return a, nil
}

func LoadAllowlist(path string) (Allowlist, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return Allowlist{}, err
	}
	return ParseAllowlistYAML(b)
}
