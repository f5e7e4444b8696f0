// Package authtest provides an in-process implementation of the session
// server authgate talks to, and a scripted federated provider. Tests use it
// with httptest; the devserver command serves it for manual runs.
package authtest

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/alexedwards/scs/v2"
	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/panyam/authgate"
	"golang.org/x/crypto/bcrypt"
	"golang.org/x/time/rate"
)

// Server messages the client reacts to
const (
	MsgUserNotFound       = "User not found"
	MsgInvalidCredentials = "Invalid credentials"
	MsgInvalidOTP         = "Invalid or expired OTP"
	MsgUserExists         = "User already exists"
	MsgTooManyRequests    = "Too many OTP requests. Try again later."
)

const sessionUserKey = "userId"

type rejection struct {
	status  int
	message string
}

// Server is a fake session server. The zero value is not usable; call New.
type Server struct {
	Users     UserStore
	Sessions  *scs.SessionManager
	OTPSender OTPSender

	// Verifier validates federated credentials. Defaults to HS256 with Secret.
	Verifier CredentialVerifier
	Secret   []byte

	// Role given to accounts first seen through a federated credential
	DefaultFederatedRole authgate.Role

	// OTP dispatch limit per email
	OTPLimit rate.Limit
	OTPBurst int

	Logger *slog.Logger

	mu                sync.Mutex
	pending           map[string]*pendingSignup
	limiters          map[string]*rate.Limiter
	lastOTP           map[string]string
	rejects           map[string]rejection
	gates             map[string]chan struct{}
	calls             map[string]int
	verifyWithoutUser bool

	routerOnce sync.Once
	handler    http.Handler
}

// New creates a Server with in-memory users and sessions
func New() *Server {
	return (&Server{}).EnsureDefaults()
}

func (s *Server) EnsureDefaults() *Server {
	if s.Users == nil {
		s.Users = NewMemoryUserStore()
	}
	if s.Sessions == nil {
		s.Sessions = scs.New()
		s.Sessions.Lifetime = 24 * time.Hour
		s.Sessions.Cookie.Name = "authtest_session"
		s.Sessions.Cookie.Persist = false
	}
	if s.OTPSender == nil {
		s.OTPSender = &ConsoleOTPSender{}
	}
	if len(s.Secret) == 0 {
		s.Secret = []byte("authtest-credential-secret")
	}
	if s.Verifier == nil {
		s.Verifier = HS256CredentialVerifier(s.Secret)
	}
	if s.DefaultFederatedRole == "" {
		s.DefaultFederatedRole = authgate.RoleBuyerAdmin
	}
	if s.OTPLimit == 0 {
		s.OTPLimit = rate.Every(6 * time.Second)
	}
	if s.OTPBurst <= 0 {
		s.OTPBurst = 5
	}
	if s.Logger == nil {
		s.Logger = slog.Default()
	}
	if s.pending == nil {
		s.pending = make(map[string]*pendingSignup)
		s.limiters = make(map[string]*rate.Limiter)
		s.lastOTP = make(map[string]string)
		s.rejects = make(map[string]rejection)
		s.gates = make(map[string]chan struct{})
		s.calls = make(map[string]int)
	}
	return s
}

// Handler returns the HTTP handler serving the auth endpoints
func (s *Server) Handler() http.Handler {
	s.routerOnce.Do(func() {
		r := mux.NewRouter()
		r.Use(s.intercept, s.ExtractUser)
		r.HandleFunc("/auth/me", s.handleMe).Methods(http.MethodGet)
		r.HandleFunc("/auth/login", s.handleLogin).Methods(http.MethodPost)
		r.HandleFunc("/auth/google", s.handleGoogle).Methods(http.MethodPost)
		r.HandleFunc("/auth/signup/initiate", s.handleSignupInitiate).Methods(http.MethodPost)
		r.HandleFunc("/auth/signup/verify", s.handleSignupVerify).Methods(http.MethodPost)
		r.HandleFunc("/auth/logout", s.handleLogout).Methods(http.MethodPost)
		s.handler = s.Sessions.LoadAndSave(r)
	})
	return s.handler
}

// AddUser creates an account that can log in with a password
func (s *Server) AddUser(email, password string, role authgate.Role) (*User, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, err
	}
	user := newUser(email, role)
	user.PasswordHash = string(hash)
	if err := s.Users.SaveUser(user); err != nil {
		return nil, err
	}
	return user, nil
}

func newUser(email string, role authgate.Role) *User {
	u := &User{
		ID:        uuid.NewString(),
		Email:     normalizeEmail(email),
		Role:      role,
		CreatedAt: time.Now(),
	}
	if role == authgate.RoleBuyerAdmin {
		u.CompanyID = uuid.NewString()
	}
	return u
}

// IssueCredential mints a federated credential the default verifier accepts
func (s *Server) IssueCredential(email string, role authgate.Role) (string, error) {
	return IssueCredential(s.Secret, email, role)
}

// LastOTP returns the most recent code sent to email
func (s *Server) LastOTP(email string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastOTP[normalizeEmail(email)]
}

// Reject makes every later request to path fail with status and message
func (s *Server) Reject(path string, status int, message string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rejects[path] = rejection{status: status, message: message}
}

// ClearRejections undoes every Reject
func (s *Server) ClearRejections() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rejects = make(map[string]rejection)
}

// Block holds requests to path until the returned release is called
func (s *Server) Block(path string) (release func()) {
	gate := make(chan struct{})
	s.mu.Lock()
	s.gates[path] = gate
	s.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			if s.gates[path] == gate {
				delete(s.gates, path)
			}
			s.mu.Unlock()
			close(gate)
		})
	}
}

// Calls returns how many requests reached path
func (s *Server) Calls(path string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[path]
}

// SetVerifyWithoutUser makes verify succeed with 200 and no user in the body
func (s *Server) SetVerifyWithoutUser(v bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.verifyWithoutUser = v
}

func (s *Server) intercept(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path := r.URL.Path
		s.mu.Lock()
		s.calls[path]++
		gate := s.gates[path]
		rej, rejected := s.rejects[path]
		s.mu.Unlock()

		if gate != nil {
			select {
			case <-gate:
			case <-r.Context().Done():
				return
			}
		}
		if rejected {
			writeError(w, rej.status, rej.message)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleMe(w http.ResponseWriter, r *http.Request) {
	var identity *authgate.Identity
	if user := LoggedInUser(r); user != nil {
		identity = user.Identity()
	}
	writeJSON(w, http.StatusOK, map[string]any{"user": identity})
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req authgate.LoginRequest
	if !decode(w, r, &req) {
		return
	}

	user, err := s.Users.GetUserByEmail(req.Email)
	if errors.Is(err, ErrUserNotFound) {
		writeError(w, http.StatusNotFound, MsgUserNotFound)
		return
	}
	if err != nil {
		s.Logger.Error("user lookup failed", "error", err)
		writeError(w, http.StatusInternalServerError, "Internal error")
		return
	}
	if user.PasswordHash == "" || bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(req.Password)) != nil {
		writeError(w, http.StatusUnauthorized, MsgInvalidCredentials)
		return
	}

	if !s.startSession(w, r, user, req.RememberMe) {
		return
	}
	writeJSON(w, http.StatusOK, authgate.LoginResponse{User: user.Identity(), Role: user.Role})
}

func (s *Server) handleGoogle(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Credential string `json:"credential"`
	}
	if !decode(w, r, &req) {
		return
	}
	if req.Credential == "" {
		writeError(w, http.StatusBadRequest, "Missing credential")
		return
	}

	claims, err := s.Verifier(r.Context(), req.Credential)
	if err != nil {
		s.Logger.Info("federated credential rejected", "error", err)
		writeError(w, http.StatusUnauthorized, "Invalid Google credential")
		return
	}

	user, err := s.Users.GetUserByEmail(claims.Email)
	if errors.Is(err, ErrUserNotFound) {
		role := claims.Role
		if role == "" {
			role = s.DefaultFederatedRole
		}
		user = newUser(claims.Email, role)
		err = s.Users.SaveUser(user)
	}
	if err != nil {
		s.Logger.Error("federated user lookup failed", "error", err)
		writeError(w, http.StatusInternalServerError, "Internal error")
		return
	}

	if !s.startSession(w, r, user, true) {
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"user": user.Identity()})
}

func (s *Server) handleSignupInitiate(w http.ResponseWriter, r *http.Request) {
	var req authgate.SignupRequest
	if !decode(w, r, &req) {
		return
	}
	if req.Email == "" || req.Password == "" || req.BusinessName == "" {
		writeError(w, http.StatusBadRequest, "Email, password and business name are required")
		return
	}
	if _, err := s.Users.GetUserByEmail(req.Email); err == nil {
		writeError(w, http.StatusConflict, MsgUserExists)
		return
	}

	email := normalizeEmail(req.Email)
	if !s.allowOTP(email) {
		writeError(w, http.StatusTooManyRequests, MsgTooManyRequests)
		return
	}

	otp, err := GenerateOTP(authgate.OTPLength)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Internal error")
		return
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Internal error")
		return
	}

	if err := s.OTPSender.SendSignupOTP(email, req.BusinessName, otp); err != nil {
		s.Logger.Error("failed to send signup otp", "email", email, "error", err)
		writeError(w, http.StatusBadGateway, "Failed to send OTP")
		return
	}

	s.mu.Lock()
	s.pending[email] = &pendingSignup{
		Email:        email,
		PasswordHash: string(hash),
		BusinessName: req.BusinessName,
		OTP:          otp,
		ExpiresAt:    time.Now().Add(OTPExpiry),
	}
	s.lastOTP[email] = otp
	s.mu.Unlock()

	writeJSON(w, http.StatusOK, map[string]string{"message": "OTP sent"})
}

func (s *Server) allowOTP(email string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.limiters[email]
	if !ok {
		l = rate.NewLimiter(s.OTPLimit, s.OTPBurst)
		s.limiters[email] = l
	}
	return l.Allow()
}

func (s *Server) handleSignupVerify(w http.ResponseWriter, r *http.Request) {
	var req authgate.VerifyRequest
	if !decode(w, r, &req) {
		return
	}

	email := normalizeEmail(req.Email)
	s.mu.Lock()
	p, ok := s.pending[email]
	valid := ok && !p.IsExpired(time.Now()) && p.OTP == req.OTP
	if valid {
		delete(s.pending, email)
	}
	withoutUser := s.verifyWithoutUser
	s.mu.Unlock()

	if !valid {
		writeError(w, http.StatusBadRequest, MsgInvalidOTP)
		return
	}

	user := newUser(email, authgate.RoleBuyerAdmin)
	user.PasswordHash = p.PasswordHash
	user.BusinessName = p.BusinessName
	if err := s.Users.SaveUser(user); err != nil {
		s.Logger.Error("failed to save user", "error", err)
		writeError(w, http.StatusInternalServerError, "Internal error")
		return
	}

	if !s.startSession(w, r, user, false) {
		return
	}
	if withoutUser {
		writeJSON(w, http.StatusOK, map[string]string{"message": "Verified"})
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"user": user.Identity()})
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	if err := s.Sessions.Destroy(r.Context()); err != nil {
		s.Logger.Warn("error destroying session", "error", err)
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "Logged out"})
}

func (s *Server) startSession(w http.ResponseWriter, r *http.Request, user *User, rememberMe bool) bool {
	ctx := r.Context()
	if err := s.Sessions.RenewToken(ctx); err != nil {
		s.Logger.Error("failed to renew session token", "error", err)
		writeError(w, http.StatusInternalServerError, "Internal error")
		return false
	}
	s.Sessions.Put(ctx, sessionUserKey, user.ID)
	s.Sessions.RememberMe(ctx, rememberMe)
	return true
}

func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"message": message})
}
