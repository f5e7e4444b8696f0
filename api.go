package authgate

import "context"

// LoginRequest is the password login body.
type LoginRequest struct {
	Email      string `json:"email"`
	Password   string `json:"password"`
	RememberMe bool   `json:"rememberMe"`
}

// LoginResponse is the password login reply. Role duplicates User.Role on
// servers that send it at the top level.
type LoginResponse struct {
	User *Identity `json:"user"`
	Role Role      `json:"role,omitempty"`
}

// SignupRequest triggers OTP dispatch for a new business account.
type SignupRequest struct {
	Email        string `json:"email"`
	Password     string `json:"password"`
	BusinessName string `json:"businessName"`
}

// VerifyRequest exchanges an emailed OTP for a session.
type VerifyRequest struct {
	Email string `json:"email"`
	OTP   string `json:"otp"`
}

// VerifyResponse is the signup verification reply. User may be absent.
type VerifyResponse struct {
	User       *Identity `json:"user"`
	StatusCode int       `json:"-"`
}

// API is the fixed request contract with the session server.
// Implementations return *ServerError for non-2xx replies and wrap
// ErrTransport for network failures.
type API interface {
	// Me discovers the current session. A nil identity means no session.
	Me(ctx context.Context) (*Identity, error)

	Login(ctx context.Context, req LoginRequest) (*LoginResponse, error)

	// ExchangeCredential trades an opaque federated credential for a session.
	ExchangeCredential(ctx context.Context, credential string) (*Identity, error)

	SignupInitiate(ctx context.Context, req SignupRequest) error

	SignupVerify(ctx context.Context, req VerifyRequest) (*VerifyResponse, error)

	Logout(ctx context.Context) error
}
