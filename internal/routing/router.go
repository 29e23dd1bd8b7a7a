package routing

import (
	"context"
	"net/http"
	"runtime/debug"
)

// Router dispatches on exact paths first, then on registered path patterns.
// Captured pattern params are exposed to handlers via Param. Every handler
// runs under a panic guard that responds with a 500 envelope.
type Router struct {
	classifier *Classifier
	exact      map[string]map[string]routeEntry
	patterns   []patternEntry
}

type routeEntry struct {
	rc      RouteClass
	handler http.Handler
}

type patternEntry struct {
	pattern PathPattern
	methods map[string]routeEntry
}

func NewRouter(classifier *Classifier) *Router {
	return &Router{
		classifier: classifier,
		exact:      make(map[string]map[string]routeEntry),
	}
}

func (r *Router) Handle(rc RouteClass, method string, path string, h http.Handler) {
	entry := routeEntry{rc: rc, handler: guarded(rc, h)}

	if p, ok := parsePathPattern(path); ok {
		for i := range r.patterns {
			if r.patterns[i].pattern.raw == p.raw {
				r.patterns[i].methods[method] = entry
				return
			}
		}
		r.patterns = append(r.patterns, patternEntry{
			pattern: p,
			methods: map[string]routeEntry{method: entry},
		})
		return
	}

	if r.exact[path] == nil {
		r.exact[path] = make(map[string]routeEntry)
	}
	r.exact[path][method] = entry
}

func (r *Router) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	if methods, ok := r.exact[req.URL.Path]; ok {
		r.dispatch(w, req, methods)
		return
	}
	for _, pe := range r.patterns {
		params, ok := pe.pattern.Match(req.URL.Path)
		if !ok {
			continue
		}
		if len(params) > 0 {
			req = req.WithContext(withParams(req.Context(), params))
		}
		r.dispatch(w, req, pe.methods)
		return
	}
	WriteError(w, req, r.classifier.Classify(req.URL.Path), http.StatusNotFound, "not_found", "not found")
}

func (r *Router) dispatch(w http.ResponseWriter, req *http.Request, methods map[string]routeEntry) {
	entry, ok := methods[req.Method]
	if !ok {
		WriteError(w, req, anyClass(methods), http.StatusMethodNotAllowed, "method_not_allowed", "method not allowed")
		return
	}
	entry.handler.ServeHTTP(w, req)
}

func guarded(rc RouteClass, h http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				_ = debug.Stack()
				WriteError(w, req, rc, http.StatusInternalServerError, "internal_error", "internal error")
			}
		}()
		h.ServeHTTP(w, req)
	})
}

func anyClass(methods map[string]routeEntry) RouteClass {
	for _, e := range methods {
		return e.rc
	}
	return RouteClassOps
}

type paramsKey struct{}

func withParams(ctx context.Context, params map[string]string) context.Context {
	return context.WithValue(ctx, paramsKey{}, params)
}

// Param returns the value captured for a {name} pattern segment, or "" when
// the route carries no such segment.
func Param(r *http.Request, name string) string {
	params, _ := r.Context().Value(paramsKey{}).(map[string]string)
	return params[name]
}
