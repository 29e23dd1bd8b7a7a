package routing

import (
	"strings"
	"testing"
)

const sampleAllowlist = `
version: 1
entrypoints:
  server:
    routes:
      - path: /healthz
        methods: [GET]
        route_class: ops
      - path: /v1/projects/{code}/commands/realtime
        methods: [POST]
        route_class: public_api
`

func TestParseAllowlistYAML(t *testing.T) {
	t.Parallel()

	a, err := ParseAllowlistYAML([]byte(sampleAllowlist))
	if err != nil {
		t.Fatal(err)
	}
	ep, ok := a.Entrypoints["server"]
	if !ok {
		t.Fatal("missing server entrypoint")
	}
	if len(ep.Routes) != 2 {
		t.Fatalf("routes=%d", len(ep.Routes))
	}
	if ep.Routes[1].RouteClass != "public_api" {
		t.Fatalf("route_class=%q", ep.Routes[1].RouteClass)
	}
}

func TestParseAllowlistYAML_Rejects(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		yaml string
	}{
		{"bad version", `{version: 2, entrypoints: {server: {routes: [{path: /x, methods: [GET], route_class: ops}]}}}`},
		{"no entrypoints", `{version: 1}`},
		{"route without methods", `{version: 1, entrypoints: {server: {routes: [{path: /x, route_class: ops}]}}}`},
		{"unknown route class", `{version: 1, entrypoints: {server: {routes: [{path: /x, methods: [GET], route_class: webhook}]}}}`},
		{"route without path", `{version: 1, entrypoints: {server: {routes: [{methods: [GET], route_class: ops}]}}}`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := ParseAllowlistYAML([]byte(tc.yaml)); err == nil {
				t.Fatalf("expected error for %s", tc.name)
			} else if !strings.HasPrefix(err.Error(), "allowlist:") && !strings.Contains(err.Error(), "yaml") {
				t.Fatalf("unexpected error: %v", err)
			}
		})
	}
}
