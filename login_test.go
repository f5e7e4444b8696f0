package authgate_test

import (
	"context"
	"errors"
	"testing"

	ag "github.com/panyam/authgate"
)

func TestLogin_EmployeeLandsOnEmployeeDashboard(t *testing.T) {
	env := setupEnv(t)
	env.Bootstrap(t)
	if _, err := env.Server.AddUser("worker@b.co", "pw", ag.RoleEmployee); err != nil {
		t.Fatalf("AddUser() error = %v", err)
	}

	flow := &ag.LoginFlow{Store: env.Store, API: env.Client, Logger: quietLogger}
	dest, err := flow.Login(t.Context(), "worker@b.co", "pw", true)
	if err != nil {
		t.Fatalf("Login() error = %v", err)
	}
	if dest != ag.PathEmployeeDashboard {
		t.Errorf("destination = %v, want %v", dest, ag.PathEmployeeDashboard)
	}

	env.History.Navigate(dest, false)
	if res := env.Visit(env.History.Current()); res.Path != ag.PathEmployeeDashboard || res.Decision.Kind != ag.Render {
		t.Errorf("employee dashboard resolution = %+v, want render", res)
	}
	if res := env.Visit(ag.PathBuyerDashboard); res.Path != ag.PathEmployeeDashboard {
		t.Errorf("buyer dashboard resolves to %v, want employee dashboard", res.Path)
	}
}

func TestLogin_UnknownUserSuggestsSignup(t *testing.T) {
	env := setupEnv(t)
	env.Bootstrap(t)

	flow := &ag.LoginFlow{Store: env.Store, API: env.Client, Logger: quietLogger}
	_, err := flow.Login(t.Context(), "ghost@b.co", "pw", false)

	var ae *ag.AuthError
	if !errors.As(err, &ae) {
		t.Fatalf("Login() error = %v, want *AuthError", err)
	}
	if ae.Code != ag.ErrCodeAccountNotFound || ae.Message != ag.MsgAccountNotFound {
		t.Errorf("AuthError = %+v, want account not found", ae)
	}
	if env.Store.Get().Identity != nil {
		t.Error("identity installed after a failed login")
	}
}

func TestLogin_ErrorMessages(t *testing.T) {
	tests := []struct {
		name     string
		login    func(context.Context, ag.LoginRequest) (*ag.LoginResponse, error)
		wantCode string
		wantMsg  string
	}{
		{
			name: "server message passes through",
			login: func(context.Context, ag.LoginRequest) (*ag.LoginResponse, error) {
				return nil, &ag.ServerError{StatusCode: 401, Message: "Invalid credentials"}
			},
			wantCode: ag.ErrCodeLoginFailed,
			wantMsg:  "Invalid credentials",
		},
		{
			name: "no server message",
			login: func(context.Context, ag.LoginRequest) (*ag.LoginResponse, error) {
				return nil, &ag.ServerError{StatusCode: 500}
			},
			wantCode: ag.ErrCodeLoginFailed,
			wantMsg:  ag.MsgLoginFailed,
		},
		{
			name: "transport failure",
			login: func(context.Context, ag.LoginRequest) (*ag.LoginResponse, error) {
				return nil, ag.ErrTransport
			},
			wantCode: ag.ErrCodeLoginFailed,
			wantMsg:  ag.MsgLoginFailed,
		},
		{
			name: "response without user",
			login: func(context.Context, ag.LoginRequest) (*ag.LoginResponse, error) {
				return &ag.LoginResponse{Role: ag.RoleEmployee}, nil
			},
			wantCode: ag.ErrCodeLoginFailed,
			wantMsg:  ag.MsgLoginFailed,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			api := &fakeAPI{login: tt.login}
			store := ag.NewSessionStore(api)
			flow := &ag.LoginFlow{Store: store, API: api, Logger: quietLogger}

			_, err := flow.Login(t.Context(), "a@b.co", "pw", false)
			var ae *ag.AuthError
			if !errors.As(err, &ae) {
				t.Fatalf("Login() error = %v, want *AuthError", err)
			}
			if ae.Code != tt.wantCode || ae.Message != tt.wantMsg {
				t.Errorf("AuthError = %s/%q, want %s/%q", ae.Code, ae.Message, tt.wantCode, tt.wantMsg)
			}
			if ag.UserMessage(err) != tt.wantMsg {
				t.Errorf("UserMessage() = %q, want %q", ag.UserMessage(err), tt.wantMsg)
			}
		})
	}
}

func TestLogin_RoleFallsBackToUserRole(t *testing.T) {
	api := &fakeAPI{login: func(context.Context, ag.LoginRequest) (*ag.LoginResponse, error) {
		return &ag.LoginResponse{User: identity("u1", ag.RoleBuyerAdmin)}, nil
	}}
	flow := &ag.LoginFlow{Store: ag.NewSessionStore(api), API: api, Logger: quietLogger}

	dest, err := flow.Login(t.Context(), "a@b.co", "pw", false)
	if err != nil {
		t.Fatalf("Login() error = %v", err)
	}
	if dest != ag.PathBuyerDashboard {
		t.Errorf("destination = %v, want buyer dashboard", dest)
	}
}

func TestLogin_SendsRememberMe(t *testing.T) {
	var got ag.LoginRequest
	api := &fakeAPI{login: func(_ context.Context, req ag.LoginRequest) (*ag.LoginResponse, error) {
		got = req
		return &ag.LoginResponse{User: identity("u1", ag.RoleEmployee), Role: ag.RoleEmployee}, nil
	}}
	flow := &ag.LoginFlow{Store: ag.NewSessionStore(api), API: api}

	flow.Login(t.Context(), "a@b.co", "secret", true)
	if got != (ag.LoginRequest{Email: "a@b.co", Password: "secret", RememberMe: true}) {
		t.Errorf("request = %+v", got)
	}
}

func TestLogin_FederatedCredential(t *testing.T) {
	env := setupEnv(t)
	env.Bootstrap(t)
	flow := &ag.LoginFlow{Store: env.Store, API: env.Client, Logger: quietLogger}

	cred, _ := env.Server.IssueCredential("boss@b.co", ag.RoleBuyerAdmin)
	dest, err := flow.LoginWithFederatedCredential(t.Context(), cred)
	if err != nil {
		t.Fatalf("LoginWithFederatedCredential() error = %v", err)
	}
	if dest != ag.PathBuyerDashboard {
		t.Errorf("destination = %v, want buyer dashboard", dest)
	}

	_, err = flow.LoginWithFederatedCredential(t.Context(), "garbage")
	var ae *ag.AuthError
	if !errors.As(err, &ae) || ae.Message != ag.MsgGoogleLoginFailed {
		t.Errorf("bad credential error = %v, want %q", err, ag.MsgGoogleLoginFailed)
	}
}

func TestLogout_EndsServerSession(t *testing.T) {
	env := setupEnv(t)
	env.Bootstrap(t)
	env.Server.AddUser("a@b.co", "pw", ag.RoleBuyerAdmin)

	flow := &ag.LoginFlow{Store: env.Store, API: env.Client, Logger: quietLogger}
	if _, err := flow.Login(t.Context(), "a@b.co", "pw", false); err != nil {
		t.Fatalf("Login() error = %v", err)
	}

	env.Store.Logout(t.Context())
	if res := env.Visit(ag.PathBuyerDashboard); res.Path != ag.PathGate {
		t.Errorf("dashboard after logout resolves to %v, want gate", res.Path)
	}
	env.Store.Wait()

	if env.Server.Calls("/auth/logout") != 1 {
		t.Errorf("logout reached server %d times, want 1", env.Server.Calls("/auth/logout"))
	}
	if err := env.Store.Refresh(t.Context()); err != nil {
		t.Fatalf("Refresh() error = %v", err)
	}
	if env.Store.Get().Identity != nil {
		t.Error("server session survived logout")
	}
}

func TestLogout_OfflineStillSignsOut(t *testing.T) {
	env := setupEnv(t)
	env.Bootstrap(t)
	env.Server.AddUser("a@b.co", "pw", ag.RoleEmployee)
	flow := &ag.LoginFlow{Store: env.Store, API: env.Client, Logger: quietLogger}
	flow.Login(t.Context(), "a@b.co", "pw", false)

	env.HTTP.Close()
	env.Store.Logout(t.Context())
	env.Store.Wait()

	if env.Store.Get().Identity != nil {
		t.Error("identity survived an offline logout")
	}
	if res := env.Visit(ag.PathEmployeeDashboard); res.Path != ag.PathGate {
		t.Errorf("dashboard after offline logout resolves to %v, want gate", res.Path)
	}
}
