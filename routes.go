package authgate

// maxRedirects caps redirect chains during resolution.
const maxRedirects = 8

// Router maps navigation paths to guards. Unknown paths fall back to the
// public-only gate.
type Router struct {
	routes   map[string]Guard
	fallback Guard
}

// NewRouter builds a router with the given fallback guard.
func NewRouter(fallback Guard) *Router {
	return &Router{routes: make(map[string]Guard), fallback: fallback}
}

// Handle registers a guard for an exact path.
func (r *Router) Handle(path string, g Guard) *Router {
	r.routes[path] = g
	return r
}

// DefaultRouter returns the application's route table.
func DefaultRouter() *Router {
	r := NewRouter(GuardFunc(PublicOnly))
	r.Handle(PathGate, GuardFunc(PublicOnly))
	r.Handle(PathBuyerDashboard, RoleRestricted(RoleBuyerAdmin))
	r.Handle(PathEmployeeDashboard, RoleRestricted(RoleEmployee))
	r.Handle(PathDashboard, RoleRestricted(RoleBuyerAdmin, RoleEmployee))
	r.Handle(PathUnauthorized, r.UnauthorizedGuard())
	return r
}

// Guard returns the guard for path and whether it was an exact match.
func (r *Router) Guard(path string) (Guard, bool) {
	if g, ok := r.routes[path]; ok {
		return g, true
	}
	return r.fallback, false
}

// UnauthorizedGuard sends a misrouted user back to their own home. Users
// whose home would reject them see the unauthorized page instead of looping.
func (r *Router) UnauthorizedGuard() Guard {
	return GuardFunc(func(s State) Decision {
		if s.Loading {
			return waitDecision()
		}
		if s.Identity == nil {
			return redirectTo(PathGate)
		}
		home := DestinationForRole(s.Identity.Role)
		if g, _ := r.Guard(home); Admits(g, s.Identity.Role) {
			return redirectTo(home)
		}
		return renderDecision()
	})
}

// Resolution is where a navigation ends up after following redirects.
type Resolution struct {
	// Path is the route that rendered or is waiting.
	Path     string
	Decision Decision
	// Replace is true if any hop asked for the history entry to be replaced.
	Replace bool
	Hops    int
}

// Resolve evaluates path against s and follows redirects until a route
// renders or waits. Redirect loops stop at the unauthorized page.
func (r *Router) Resolve(path string, s State) Resolution {
	res := Resolution{Path: path}
	for res.Hops = 0; res.Hops <= maxRedirects; res.Hops++ {
		g, _ := r.Guard(res.Path)
		d := g.Decide(s)
		if d.Kind != Redirect {
			res.Decision = d
			return res
		}
		res.Replace = res.Replace || d.Replace
		res.Path = d.Location
	}
	res.Path = PathUnauthorized
	res.Decision = renderDecision()
	return res
}
