package authgate_test

import (
	"testing"

	ag "github.com/panyam/authgate"
)

func TestDestinationForRole(t *testing.T) {
	tests := []struct {
		role ag.Role
		want string
	}{
		{ag.RoleBuyerAdmin, ag.PathBuyerDashboard},
		{ag.RoleEmployee, ag.PathEmployeeDashboard},
		{"auditor", ag.PathDashboard},
		{"", ag.PathDashboard},
	}
	for _, tt := range tests {
		if got := ag.DestinationForRole(tt.role); got != tt.want {
			t.Errorf("DestinationForRole(%q) = %v, want %v", tt.role, got, tt.want)
		}
	}
}

func TestPublicOnly(t *testing.T) {
	tests := []struct {
		name  string
		state ag.State
		want  ag.Decision
	}{
		{"loading", ag.State{Loading: true}, ag.Decision{Kind: ag.Wait}},
		{"loading with identity", ag.State{Loading: true, Identity: identity("u", ag.RoleEmployee)}, ag.Decision{Kind: ag.Wait}},
		{"anonymous", ag.State{}, ag.Decision{Kind: ag.Render}},
		{"buyer admin", ag.State{Identity: identity("u", ag.RoleBuyerAdmin)},
			ag.Decision{Kind: ag.Redirect, Location: ag.PathBuyerDashboard, Replace: true}},
		{"employee", ag.State{Identity: identity("u", ag.RoleEmployee)},
			ag.Decision{Kind: ag.Redirect, Location: ag.PathEmployeeDashboard, Replace: true}},
		{"other role", ag.State{Identity: identity("u", "auditor")},
			ag.Decision{Kind: ag.Redirect, Location: ag.PathDashboard, Replace: true}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ag.PublicOnly(tt.state); got != tt.want {
				t.Errorf("PublicOnly() = %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestRoleRestricted(t *testing.T) {
	buyerOnly := ag.RoleRestricted(ag.RoleBuyerAdmin)
	tests := []struct {
		name  string
		state ag.State
		want  ag.Decision
	}{
		{"loading", ag.State{Loading: true}, ag.Decision{Kind: ag.Wait}},
		{"anonymous", ag.State{}, ag.Decision{Kind: ag.Redirect, Location: ag.PathSignIn, Replace: true}},
		{"allowed", ag.State{Identity: identity("u", ag.RoleBuyerAdmin)}, ag.Decision{Kind: ag.Render}},
		{"other role", ag.State{Identity: identity("u", ag.RoleEmployee)},
			ag.Decision{Kind: ag.Redirect, Location: ag.PathUnauthorized, Replace: true}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := buyerOnly.Decide(tt.state); got != tt.want {
				t.Errorf("Decide() = %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestRoleRestricted_AllRoles(t *testing.T) {
	const auditor ag.Role = "auditor"
	roles := []ag.Role{ag.RoleBuyerAdmin, ag.RoleEmployee, auditor}
	allowedSets := [][]ag.Role{
		{ag.RoleBuyerAdmin},
		{ag.RoleEmployee},
		{auditor},
		{ag.RoleBuyerAdmin, ag.RoleEmployee},
		{ag.RoleEmployee, auditor},
		{ag.RoleBuyerAdmin, ag.RoleEmployee, auditor},
	}

	for _, allowed := range allowedSets {
		g := ag.RoleRestricted(allowed...)
		for _, role := range roles {
			got := g.Decide(ag.State{Identity: identity("u", role)})

			want := ag.Decision{Kind: ag.Redirect, Location: ag.PathUnauthorized, Replace: true}
			for _, a := range allowed {
				if a == role {
					want = ag.Decision{Kind: ag.Render}
				}
			}
			if got != want {
				t.Errorf("RoleRestricted(%v).Decide(%s) = %+v, want %+v", allowed, role, got, want)
			}
		}
	}
}

func TestRoleRestricted_CopiesAllowedRoles(t *testing.T) {
	roles := []ag.Role{ag.RoleEmployee}
	g := ag.RoleRestricted(roles...)
	roles[0] = ag.RoleBuyerAdmin

	if !ag.Admits(g, ag.RoleEmployee) {
		t.Error("guard changed after the caller's slice was modified")
	}
}

func TestGuards_NeverRedirectWhileLoading(t *testing.T) {
	r := ag.DefaultRouter()
	paths := []string{ag.PathGate, ag.PathBuyerDashboard, ag.PathEmployeeDashboard, ag.PathDashboard, ag.PathUnauthorized, "/nowhere"}
	identities := []*ag.Identity{nil, identity("u", ag.RoleBuyerAdmin), identity("u", ag.RoleEmployee), identity("u", "auditor")}

	for _, p := range paths {
		g, _ := r.Guard(p)
		for _, id := range identities {
			if d := g.Decide(ag.State{Loading: true, Identity: id}); d.Kind != ag.Wait {
				t.Errorf("guard(%s) with loading and identity %+v = %v, want wait", p, id, d.Kind)
			}
		}
	}
}

func TestDefaultRouter_Resolve(t *testing.T) {
	r := ag.DefaultRouter()
	tests := []struct {
		name     string
		path     string
		identity *ag.Identity
		wantPath string
		wantKind ag.DecisionKind
		replace  bool
	}{
		{"anonymous at gate", ag.PathGate, nil, ag.PathGate, ag.Render, false},
		{"anonymous at dashboard", ag.PathBuyerDashboard, nil, ag.PathGate, ag.Render, true},
		{"anonymous at unauthorized", ag.PathUnauthorized, nil, ag.PathGate, ag.Render, true},
		{"unknown path", "/nope", nil, "/nope", ag.Render, false},
		{"buyer at gate", ag.PathGate, identity("u", ag.RoleBuyerAdmin), ag.PathBuyerDashboard, ag.Render, true},
		{"employee at gate", ag.PathGate, identity("u", ag.RoleEmployee), ag.PathEmployeeDashboard, ag.Render, true},
		{"employee at buyer dashboard", ag.PathBuyerDashboard, identity("u", ag.RoleEmployee), ag.PathEmployeeDashboard, ag.Render, true},
		{"buyer at employee dashboard", ag.PathEmployeeDashboard, identity("u", ag.RoleBuyerAdmin), ag.PathBuyerDashboard, ag.Render, true},
		{"buyer at generic dashboard", ag.PathDashboard, identity("u", ag.RoleBuyerAdmin), ag.PathDashboard, ag.Render, false},
		{"other role at gate", ag.PathGate, identity("u", "auditor"), ag.PathUnauthorized, ag.Render, true},
		{"other role at buyer dashboard", ag.PathBuyerDashboard, identity("u", "auditor"), ag.PathUnauthorized, ag.Render, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := r.Resolve(tt.path, ag.State{Identity: tt.identity})
			if res.Path != tt.wantPath {
				t.Errorf("Path = %v, want %v", res.Path, tt.wantPath)
			}
			if res.Decision.Kind != tt.wantKind {
				t.Errorf("Kind = %v, want %v", res.Decision.Kind, tt.wantKind)
			}
			if res.Replace != tt.replace {
				t.Errorf("Replace = %v, want %v", res.Replace, tt.replace)
			}
		})
	}
}

func TestRouter_ResolveStopsLoops(t *testing.T) {
	r := ag.NewRouter(ag.GuardFunc(ag.PublicOnly))
	r.Handle("/a", ag.GuardFunc(func(ag.State) ag.Decision {
		return ag.Decision{Kind: ag.Redirect, Location: "/b"}
	}))
	r.Handle("/b", ag.GuardFunc(func(ag.State) ag.Decision {
		return ag.Decision{Kind: ag.Redirect, Location: "/a"}
	}))

	res := r.Resolve("/a", ag.State{})
	if res.Path != ag.PathUnauthorized || res.Decision.Kind != ag.Render {
		t.Errorf("Resolve() = %+v, want render at %s", res, ag.PathUnauthorized)
	}
}

func TestRouter_Guard(t *testing.T) {
	r := ag.DefaultRouter()
	if _, ok := r.Guard(ag.PathBuyerDashboard); !ok {
		t.Error("Guard(buyer dashboard) should be an exact match")
	}
	g, ok := r.Guard("/missing")
	if ok {
		t.Error("Guard(/missing) should not be an exact match")
	}
	if d := g.Decide(ag.State{}); d.Kind != ag.Render {
		t.Errorf("fallback for anonymous = %v, want render", d.Kind)
	}
}

func TestDecisionKind_String(t *testing.T) {
	for kind, want := range map[ag.DecisionKind]string{ag.Wait: "wait", ag.Render: "render", ag.Redirect: "redirect", 42: "unknown"} {
		if got := kind.String(); got != want {
			t.Errorf("String() = %v, want %v", got, want)
		}
	}
}

func TestHistory(t *testing.T) {
	h := ag.NewHistory("")
	if h.Current() != ag.PathGate {
		t.Fatalf("Current() = %v, want %v", h.Current(), ag.PathGate)
	}

	var seen []string
	h.Subscribe(func(p string) { seen = append(seen, p) })

	h.Navigate(ag.PathBuyerDashboard, false)
	h.Navigate(ag.PathUnauthorized, true)

	entries := h.Entries()
	if len(entries) != 2 || entries[0] != ag.PathGate || entries[1] != ag.PathUnauthorized {
		t.Errorf("Entries() = %v, want [/ /unauthorized]", entries)
	}

	if p, ok := h.Back(); !ok || p != ag.PathGate {
		t.Errorf("Back() = %v, %v, want /, true", p, ok)
	}
	if _, ok := h.Back(); ok {
		t.Error("Back() at the first entry should report false")
	}
	if len(seen) != 3 {
		t.Errorf("listener saw %v, want 3 navigations", seen)
	}
}
