package authgate

// Role is the server-asserted role of an authenticated principal.
type Role string

const (
	RoleBuyerAdmin Role = "buyer_admin"
	RoleEmployee   Role = "employee"
)

// Navigation paths exposed by the front-end.
const (
	PathGate              = "/"
	PathBuyerDashboard    = "/buyer-dashboard"
	PathEmployeeDashboard = "/employee-dashboard"
	PathDashboard         = "/dashboard"
	PathUnauthorized      = "/unauthorized"

	// PathSignIn is where unauthenticated users are sent by role-restricted routes.
	PathSignIn = PathGate
)

// Identity is the authenticated principal returned by the server.
// It is replaced wholesale on every login and never mutated in place.
type Identity struct {
	ID             string `json:"userId"`
	Role           Role   `json:"role"`
	OrganizationID string `json:"companyId,omitempty"`
	Email          string `json:"email,omitempty"`
}

// DestinationForRole returns the home path for a role. Every call site that
// routes a freshly authenticated user goes through here.
func DestinationForRole(role Role) string {
	switch role {
	case RoleBuyerAdmin:
		return PathBuyerDashboard
	case RoleEmployee:
		return PathEmployeeDashboard
	default:
		return PathDashboard
	}
}

func sameIdentity(a, b *Identity) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

func cloneIdentity(id *Identity) *Identity {
	if id == nil {
		return nil
	}
	out := *id
	return &out
}
