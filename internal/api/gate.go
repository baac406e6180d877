package api

import (
	"fmt"
	"net/http"
	"sort"
	"strings"

	"gatekeeper/internal/models"
	"gatekeeper/internal/ratelimit"
)

type routeEntry struct {
	prefix  string
	methods map[string]struct{}
	policy  string
}

// matches reports whether path lies under the entry prefix on a segment
// boundary and the method is allowed.
func (e routeEntry) matches(method, path string) bool {
	if len(e.methods) > 0 {
		if _, ok := e.methods[method]; !ok {
			return false
		}
	}
	if e.prefix == "/" || path == e.prefix {
		return true
	}
	if strings.HasSuffix(e.prefix, "/") {
		return strings.HasPrefix(path, e.prefix)
	}
	return strings.HasPrefix(path, e.prefix+"/")
}

// RouteTable maps requests to rate limit policy names. The longest matching
// path prefix wins; entries with equal prefixes keep configuration order.
type RouteTable struct {
	entries       []routeEntry
	defaultPolicy string
}

// NewRouteTable builds a table from configured routes.
func NewRouteTable(routes []models.RouteConfig, defaultPolicy string) *RouteTable {
	entries := make([]routeEntry, 0, len(routes))
	for _, rc := range routes {
		e := routeEntry{prefix: rc.PathPrefix, policy: rc.Policy}
		if len(rc.Methods) > 0 {
			e.methods = make(map[string]struct{}, len(rc.Methods))
			for _, m := range rc.Methods {
				e.methods[strings.ToUpper(strings.TrimSpace(m))] = struct{}{}
			}
		}
		entries = append(entries, e)
	}

	sort.SliceStable(entries, func(i, j int) bool {
		return len(entries[i].prefix) > len(entries[j].prefix)
	})

	return &RouteTable{entries: entries, defaultPolicy: defaultPolicy}
}

// Resolve returns the policy name for a request method and path.
func (t *RouteTable) Resolve(method, path string) string {
	for _, e := range t.entries {
		if e.matches(method, path) {
			return e.policy
		}
	}
	return t.defaultPolicy
}

// Policies returns every policy name the table can resolve to.
func (t *RouteTable) Policies() []string {
	seen := map[string]struct{}{t.defaultPolicy: {}}
	names := []string{t.defaultPolicy}
	for _, e := range t.entries {
		if _, ok := seen[e.policy]; !ok {
			seen[e.policy] = struct{}{}
			names = append(names, e.policy)
		}
	}
	return names
}

// NewGate returns a handler that admits each request through the policy its
// route resolves to before handing it to next. Middleware chains are built
// once per policy.
func NewGate(table *RouteTable, registry *ratelimit.Registry, keyFunc ratelimit.KeyFunc, next http.Handler, opts ...ratelimit.MiddlewareOption) (http.Handler, error) {
	chains := make(map[string]http.Handler)
	for _, name := range table.Policies() {
		limiter, ok := registry.Get(name)
		if !ok {
			return nil, fmt.Errorf("route table references undefined policy: %s", name)
		}
		chains[name] = ratelimit.Middleware(limiter, keyFunc, opts...)(next)
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		chains[table.Resolve(r.Method, r.URL.Path)].ServeHTTP(w, r)
	}), nil
}
