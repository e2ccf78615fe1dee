package registry

import (
	"sort"
	"strings"
	"sync"

	"github.com/angeloszaimis/discovery-proxy/internal/apperror"
)

// RegisterOutcome reports the state of a route after a registration.
type RegisterOutcome struct {
	Path     string
	Endpoint Endpoint
	// Added is false when the endpoint was already registered for Path.
	Added bool
	// Count is the number of endpoints registered for Path.
	Count int
}

// RouteSnapshot is a point-in-time copy of one route.
type RouteSnapshot struct {
	Path      string     `json:"path"`
	Endpoints []Endpoint `json:"endpoints"`
	Cursor    int        `json:"cursor"`
}

type route struct {
	mutex     sync.Mutex
	endpoints []Endpoint
	index     map[Endpoint]struct{}
	cursor    int
}

type Registry struct {
	mutex  sync.RWMutex
	routes map[string]*route
}

func New() *Registry {
	return &Registry{
		routes: make(map[string]*route),
	}
}

// Register adds endpoint to path. Registering an endpoint that is already
// present is a successful no-op. New endpoints go to the end of the rotation
// and the cursor is left where it is.
func (r *Registry) Register(path string, endpoint Endpoint) (RegisterOutcome, error) {
	if err := validatePath(path); err != nil {
		return RegisterOutcome{}, err
	}
	if endpoint.IsZero() {
		return RegisterOutcome{}, apperror.InvalidArgument("endpoint is required")
	}

	rt := r.getOrCreate(path)

	rt.mutex.Lock()
	defer rt.mutex.Unlock()

	outcome := RegisterOutcome{Path: path, Endpoint: endpoint}
	if _, exists := rt.index[endpoint]; !exists {
		rt.endpoints = append(rt.endpoints, endpoint)
		rt.index[endpoint] = struct{}{}
		outcome.Added = true
	}
	outcome.Count = len(rt.endpoints)

	return outcome, nil
}

// Select returns the endpoint under the route's cursor and advances the
// cursor, as one step. Concurrent callers never see the same cursor value.
func (r *Registry) Select(path string) (Endpoint, error) {
	if path == "" {
		return Endpoint{}, apperror.InvalidArgument("path is required")
	}

	rt := r.lookup(path)
	if rt == nil {
		return Endpoint{}, apperror.UnknownRoute(path)
	}

	rt.mutex.Lock()
	defer rt.mutex.Unlock()

	n := len(rt.endpoints)
	if n == 0 {
		return Endpoint{}, apperror.UnknownRoute(path)
	}

	if rt.cursor < 0 || rt.cursor >= n {
		bad := rt.cursor
		rt.cursor = 0
		return Endpoint{}, apperror.Newf(apperror.CodeInternal, nil,
			"route %s has cursor %d outside [0,%d)", path, bad, n)
	}

	chosen := rt.endpoints[rt.cursor]
	rt.cursor = (rt.cursor + 1) % n

	return chosen, nil
}

// Endpoints returns a copy of the endpoints registered for path, in
// rotation order, or nil if the path is unknown.
func (r *Registry) Endpoints(path string) []Endpoint {
	rt := r.lookup(path)
	if rt == nil {
		return nil
	}

	rt.mutex.Lock()
	defer rt.mutex.Unlock()

	out := make([]Endpoint, len(rt.endpoints))
	copy(out, rt.endpoints)
	return out
}

// Routes returns a snapshot of every route, sorted by path.
func (r *Registry) Routes() []RouteSnapshot {
	r.mutex.RLock()
	paths := make([]string, 0, len(r.routes))
	for path := range r.routes {
		paths = append(paths, path)
	}
	r.mutex.RUnlock()

	sort.Strings(paths)

	snapshots := make([]RouteSnapshot, 0, len(paths))
	for _, path := range paths {
		rt := r.lookup(path)

		rt.mutex.Lock()
		eps := make([]Endpoint, len(rt.endpoints))
		copy(eps, rt.endpoints)
		snapshots = append(snapshots, RouteSnapshot{Path: path, Endpoints: eps, Cursor: rt.cursor})
		rt.mutex.Unlock()
	}

	return snapshots
}

// Len returns the number of known routes.
func (r *Registry) Len() int {
	r.mutex.RLock()
	defer r.mutex.RUnlock()
	return len(r.routes)
}

func (r *Registry) lookup(path string) *route {
	r.mutex.RLock()
	defer r.mutex.RUnlock()
	return r.routes[path]
}

func (r *Registry) getOrCreate(path string) *route {
	if rt := r.lookup(path); rt != nil {
		return rt
	}

	r.mutex.Lock()
	defer r.mutex.Unlock()

	// Another goroutine may have created it between the two locks.
	if rt, exists := r.routes[path]; exists {
		return rt
	}

	rt := &route{index: make(map[Endpoint]struct{})}
	r.routes[path] = rt
	return rt
}

func validatePath(path string) error {
	if path == "" {
		return apperror.InvalidArgument("path is required")
	}
	if !strings.HasPrefix(path, "/") {
		return apperror.Newf(apperror.CodeInvalidArgument, nil, "path %q must start with /", path)
	}

	return nil
}
