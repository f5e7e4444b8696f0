package authgate

import (
	"context"
	"errors"
	"log/slog"
)

// LoginFlow signs users in with a password or a federated credential and
// installs the resulting identity.
type LoginFlow struct {
	Store  *SessionStore
	API    API
	Logger *slog.Logger
}

func (f *LoginFlow) logger() *slog.Logger {
	if f.Logger != nil {
		return f.Logger
	}
	return slog.Default()
}

// Login submits credentials and returns the role's destination path.
func (f *LoginFlow) Login(ctx context.Context, email, password string, rememberMe bool) (string, error) {
	resp, err := f.API.Login(ctx, LoginRequest{Email: email, Password: password, RememberMe: rememberMe})
	if err != nil {
		f.logger().Info("login rejected", "email", email, "error", err)
		if ServerMessage(err) == serverUserNotFound {
			return "", NewAuthError(ErrCodeAccountNotFound, MsgAccountNotFound, "email").wrap(err)
		}
		return "", NewAuthError(ErrCodeLoginFailed, messageOr(err, MsgLoginFailed), "").wrap(err)
	}
	if resp == nil || resp.User == nil {
		return "", NewAuthError(ErrCodeLoginFailed, MsgLoginFailed, "").wrap(errors.New("login response has no user"))
	}

	f.Store.SetIdentity(resp.User)
	role := resp.Role
	if role == "" {
		role = resp.User.Role
	}
	return DestinationForRole(role), nil
}

// LoginWithFederatedCredential exchanges an identity provider credential.
func (f *LoginFlow) LoginWithFederatedCredential(ctx context.Context, credential string) (string, error) {
	return exchangeFederated(ctx, f.API, f.Store, f.logger(), credential, MsgGoogleLoginFailed)
}

// exchangeFederated is shared by login and signup; only the failure message differs.
func exchangeFederated(ctx context.Context, api API, store *SessionStore, logger *slog.Logger, credential, failure string) (string, error) {
	id, err := api.ExchangeCredential(ctx, credential)
	if err == nil && id == nil {
		err = errors.New("exchange returned no user")
	}
	if err != nil {
		logger.Warn("federated login failed", "error", err)
		return "", NewAuthError(ErrCodeFederatedFailed, failure, "").wrap(err)
	}
	store.SetIdentity(id)
	return DestinationForRole(id.Role), nil
}
