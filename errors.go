package authgate

import (
	"errors"
	"fmt"
)

// Error codes carried by AuthError
const (
	ErrCodePasswordMismatch = "password_mismatch"
	ErrCodeInvalidOTP       = "invalid_otp"
	ErrCodeCooldownActive   = "cooldown_active"
	ErrCodeAccountNotFound  = "account_not_found"
	ErrCodeLoginFailed      = "login_failed"
	ErrCodeFederatedFailed  = "federated_failed"
	ErrCodeSignupFailed     = "signup_failed"
	ErrCodeVerifyFailed     = "verify_failed"
	ErrCodeResendFailed     = "resend_failed"
	ErrCodeUnexpected       = "unexpected_response"
)

// User facing messages
const (
	MsgPasswordMismatch  = "Passwords do not match"
	MsgInvalidOTP        = "Enter 6-digit OTP"
	MsgAccountNotFound   = "Account not found. Please sign up instead."
	MsgLoginFailed       = "Login failed"
	MsgGoogleLoginFailed = "Google login failed"
	MsgGoogleSignupFail  = "Google signup failed"
	MsgSignupFailed      = "Signup failed"
	MsgVerifyFailed      = "OTP verification failed"
	MsgResendFailed      = "Failed to resend OTP"
	MsgUnexpected        = "Unexpected response from server."
	MsgCooldownActive    = "Please wait before requesting another code"

	// serverUserNotFound is the server message that maps to MsgAccountNotFound.
	serverUserNotFound = "User not found"
)

// ErrTransport marks failures where the request never got a server answer.
var ErrTransport = errors.New("transport failure")

// AuthError is a flow-scoped error whose Message is safe to show to the user.
type AuthError struct {
	Code    string
	Message string
	Field   string
	Err     error
}

func NewAuthError(code, message, field string) *AuthError {
	return &AuthError{Code: code, Message: message, Field: field}
}

func (e *AuthError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *AuthError) Unwrap() error { return e.Err }

func (e *AuthError) wrap(err error) *AuthError {
	e.Err = err
	return e
}

// ServerError is a request the server answered with a non-2xx status.
type ServerError struct {
	StatusCode int
	Message    string
}

func (e *ServerError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("server returned HTTP %d", e.StatusCode)
	}
	return fmt.Sprintf("server returned HTTP %d: %s", e.StatusCode, e.Message)
}

// ServerMessage returns the server-provided message in err, if any.
func ServerMessage(err error) string {
	var se *ServerError
	if errors.As(err, &se) {
		return se.Message
	}
	return ""
}

// messageOr returns the server message in err or the fallback.
func messageOr(err error, fallback string) string {
	if msg := ServerMessage(err); msg != "" {
		return msg
	}
	return fallback
}

// UserMessage extracts the user-facing message from a flow error.
func UserMessage(err error) string {
	if err == nil {
		return ""
	}
	var ae *AuthError
	if errors.As(err, &ae) {
		return ae.Message
	}
	return err.Error()
}
