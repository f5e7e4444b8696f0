package authgate

import "slices"

// DecisionKind is what a guard tells the front-end to do.
type DecisionKind int

const (
	// Wait renders a neutral loading indicator. Never redirect while waiting.
	Wait DecisionKind = iota
	Render
	Redirect
)

func (k DecisionKind) String() string {
	switch k {
	case Wait:
		return "wait"
	case Render:
		return "render"
	case Redirect:
		return "redirect"
	default:
		return "unknown"
	}
}

// Decision is the outcome of evaluating a guard against a session state.
type Decision struct {
	Kind     DecisionKind
	Location string
	// Replace asks for the current history entry to be overwritten.
	Replace bool
}

func waitDecision() Decision   { return Decision{Kind: Wait} }
func renderDecision() Decision { return Decision{Kind: Render} }

func redirectTo(path string) Decision {
	return Decision{Kind: Redirect, Location: path, Replace: true}
}

// Guard decides what to do with a route given the session state.
type Guard interface {
	Decide(s State) Decision
}

// GuardFunc adapts a function to Guard.
type GuardFunc func(s State) Decision

func (f GuardFunc) Decide(s State) Decision { return f(s) }

// PublicOnly renders only for settled, unauthenticated sessions and sends
// signed-in users to their role's home.
func PublicOnly(s State) Decision {
	if s.Loading {
		return waitDecision()
	}
	if s.Identity != nil {
		return redirectTo(DestinationForRole(s.Identity.Role))
	}
	return renderDecision()
}

// RoleRestricted returns a guard admitting only the given roles.
func RoleRestricted(allowed ...Role) Guard {
	roles := slices.Clone(allowed)
	return GuardFunc(func(s State) Decision {
		if s.Loading {
			return waitDecision()
		}
		if s.Identity == nil {
			return redirectTo(PathSignIn)
		}
		if !slices.Contains(roles, s.Identity.Role) {
			return redirectTo(PathUnauthorized)
		}
		return renderDecision()
	})
}

// Admits reports whether the guard would render for an identity with role.
func Admits(g Guard, role Role) bool {
	return g.Decide(State{Identity: &Identity{Role: role}}).Kind == Render
}
