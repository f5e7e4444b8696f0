package authgate

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/jonboulle/clockwork"
)

// SignupPhase is the position of a signup in its state machine.
type SignupPhase int

const (
	PhaseCollectingCredentials SignupPhase = iota
	PhaseOTPPending
	PhaseVerified
)

func (p SignupPhase) String() string {
	switch p {
	case PhaseCollectingCredentials:
		return "collecting-credentials"
	case PhaseOTPPending:
		return "otp-pending"
	case PhaseVerified:
		return "verified"
	default:
		return "unknown"
	}
}

const (
	// OTPLength is the number of characters in a signup code.
	OTPLength = 6

	// ResendCooldownSeconds is how long resend stays disabled after a dispatch.
	ResendCooldownSeconds = 30

	// DefaultNavigateDelay lets the session update reach subscribers before
	// navigation after verification.
	DefaultNavigateDelay = 100 * time.Millisecond
)

var (
	ErrWrongPhase = errors.New("operation not allowed in current signup phase")
	ErrBusy       = errors.New("a signup request is already in flight")
)

// Navigator moves the front-end to a path. replace overwrites the current
// history entry instead of pushing a new one.
type Navigator interface {
	Navigate(path string, replace bool)
}

// SignupDraft holds what the user typed in the credentials phase.
type SignupDraft struct {
	BusinessName    string
	Email           string
	Password        string
	ConfirmPassword string
}

// SignupState is a snapshot of a SignupFlow.
type SignupState struct {
	Phase    SignupPhase
	Draft    SignupDraft
	Code     string
	Cooldown int
	Error    string
	OTPError string
	Busy     bool
}

// CanResend reports whether the resend action is enabled.
func (s SignupState) CanResend() bool {
	return s.Phase == PhaseOTPPending && s.Cooldown == 0
}

// SignupFlow is the two-phase signup state machine: credentials, then OTP.
type SignupFlow struct {
	store         *SessionStore
	api           API
	nav           Navigator
	clock         clockwork.Clock
	logger        *slog.Logger
	navigateDelay time.Duration

	mu        sync.Mutex
	state     SignupState
	resending bool
	closed    bool
	stopTick  chan struct{}
	navTimer  clockwork.Timer
	listeners []func(SignupState)
}

// SignupOption configures a SignupFlow
type SignupOption func(*SignupFlow)

// WithClock replaces the wall clock driving the cooldown and navigation delay
func WithClock(clock clockwork.Clock) SignupOption {
	return func(f *SignupFlow) {
		f.clock = clock
	}
}

// WithNavigateDelay overrides DefaultNavigateDelay
func WithNavigateDelay(d time.Duration) SignupOption {
	return func(f *SignupFlow) {
		f.navigateDelay = d
	}
}

// WithSignupLogger sets the flow's logger
func WithSignupLogger(logger *slog.Logger) SignupOption {
	return func(f *SignupFlow) {
		if logger != nil {
			f.logger = logger
		}
	}
}

// NewSignupFlow creates a flow in the collecting-credentials phase.
func NewSignupFlow(store *SessionStore, api API, nav Navigator, opts ...SignupOption) *SignupFlow {
	f := &SignupFlow{
		store:         store,
		api:           api,
		nav:           nav,
		clock:         clockwork.NewRealClock(),
		logger:        slog.Default(),
		navigateDelay: DefaultNavigateDelay,
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// State returns the current snapshot.
func (f *SignupFlow) State() SignupState {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

// Subscribe registers fn for every state change. Listeners are never
// removed; the flow is short-lived and discarded on Close.
func (f *SignupFlow) Subscribe(fn func(SignupState)) {
	f.mu.Lock()
	f.listeners = append(f.listeners, fn)
	f.mu.Unlock()
}

// Submit validates the draft locally and asks the server to send an OTP.
func (f *SignupFlow) Submit(ctx context.Context, draft SignupDraft) error {
	f.mu.Lock()
	if f.state.Phase != PhaseCollectingCredentials {
		f.mu.Unlock()
		return ErrWrongPhase
	}
	if f.state.Busy {
		f.mu.Unlock()
		return ErrBusy
	}
	f.state.Draft = draft
	if draft.Password != draft.ConfirmPassword {
		f.state.Error = MsgPasswordMismatch
		f.commitLocked()
		return NewAuthError(ErrCodePasswordMismatch, MsgPasswordMismatch, "confirmPassword")
	}
	f.state.Error = ""
	f.state.Busy = true
	f.commitLocked()

	err := f.api.SignupInitiate(ctx, signupRequest(draft))

	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return err
	}
	f.state.Busy = false
	if err != nil {
		f.logger.Info("signup dispatch failed", "email", draft.Email, "error", err)
		msg := messageOr(err, MsgSignupFailed)
		f.state.Error = msg
		f.commitLocked()
		return NewAuthError(ErrCodeSignupFailed, msg, "").wrap(err)
	}
	f.state.Phase = PhaseOTPPending
	f.state.Cooldown = ResendCooldownSeconds
	f.startTickerLocked()
	f.commitLocked()
	return nil
}

// Verify exchanges the OTP for a session. On success with an identity it
// schedules navigation to the buyer dashboard.
func (f *SignupFlow) Verify(ctx context.Context, code string) error {
	f.mu.Lock()
	if f.state.Phase != PhaseOTPPending {
		f.mu.Unlock()
		return ErrWrongPhase
	}
	if f.state.Busy {
		f.mu.Unlock()
		return ErrBusy
	}
	f.state.Code = code
	if utf8.RuneCountInString(code) != OTPLength {
		f.state.OTPError = MsgInvalidOTP
		f.commitLocked()
		return NewAuthError(ErrCodeInvalidOTP, MsgInvalidOTP, "otp")
	}
	f.state.OTPError = ""
	f.state.Busy = true
	email := f.state.Draft.Email
	f.commitLocked()

	resp, err := f.api.SignupVerify(ctx, VerifyRequest{Email: email, OTP: code})
	if err == nil && resp == nil {
		resp = &VerifyResponse{StatusCode: http.StatusOK}
	}
	if err != nil {
		f.logger.Info("otp verification failed", "email", email, "error", err)
		msg := messageOr(err, MsgVerifyFailed)
		f.finish(func() { f.state.OTPError = msg })
		return NewAuthError(ErrCodeVerifyFailed, msg, "otp").wrap(err)
	}

	if resp.User == nil {
		// No identity in the reply: fall back to a full refresh and let the
		// route guards react. No navigation is scheduled on this path.
		if rerr := f.store.Refresh(ctx); rerr != nil {
			f.logger.Info("session refresh after verification failed", "error", rerr)
		}
		verified := f.store.Get().Identity != nil
		f.finish(func() {
			if verified {
				f.state.Phase = PhaseVerified
				f.stopTickerLocked()
			}
		})
		return nil
	}

	f.store.SetIdentity(resp.User)

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		f.finish(func() { f.state.OTPError = MsgUnexpected })
		return NewAuthError(ErrCodeUnexpected, MsgUnexpected, "")
	}

	f.finish(func() {
		f.state.Phase = PhaseVerified
		f.stopTickerLocked()
		f.navTimer = f.clock.AfterFunc(f.navigateDelay, f.navigateAfterVerify)
	})
	return nil
}

// Resend re-dispatches the OTP with the same draft. It is refused while the
// cooldown is running.
func (f *SignupFlow) Resend(ctx context.Context) error {
	f.mu.Lock()
	if f.state.Phase != PhaseOTPPending {
		f.mu.Unlock()
		return ErrWrongPhase
	}
	if f.state.Cooldown > 0 || f.resending {
		f.mu.Unlock()
		return NewAuthError(ErrCodeCooldownActive, MsgCooldownActive, "")
	}
	f.resending = true
	draft := f.state.Draft
	f.mu.Unlock()

	err := f.api.SignupInitiate(ctx, signupRequest(draft))

	f.mu.Lock()
	f.resending = false
	if f.closed {
		f.mu.Unlock()
		return err
	}
	if err != nil {
		f.logger.Info("otp resend failed", "email", draft.Email, "error", err)
		msg := messageOr(err, MsgResendFailed)
		f.state.OTPError = msg
		f.commitLocked()
		return NewAuthError(ErrCodeResendFailed, msg, "").wrap(err)
	}
	f.state.Cooldown = ResendCooldownSeconds
	f.startTickerLocked()
	f.commitLocked()
	return nil
}

// SignupWithFederatedCredential is the federated alternative to the OTP
// path. It returns the role's destination like LoginFlow does.
func (f *SignupFlow) SignupWithFederatedCredential(ctx context.Context, credential string) (string, error) {
	dest, err := exchangeFederated(ctx, f.api, f.store, f.logger, credential, MsgGoogleSignupFail)

	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return dest, err
	}
	if err != nil {
		f.state.Error = MsgGoogleSignupFail
	} else {
		f.state.Phase = PhaseVerified
		f.stopTickerLocked()
	}
	f.commitLocked()
	return dest, err
}

// Tick advances the resend cooldown by one second and returns what is left.
func (f *SignupFlow) Tick() int {
	f.mu.Lock()
	return f.tickLocked()
}

// tickFor is Tick for the ticker goroutine owning stop. A superseded ticker
// gets -1 and must exit without touching the cooldown.
func (f *SignupFlow) tickFor(stop chan struct{}) int {
	f.mu.Lock()
	if f.stopTick != stop {
		f.mu.Unlock()
		return -1
	}
	return f.tickLocked()
}

func (f *SignupFlow) tickLocked() int {
	if f.closed || f.state.Cooldown == 0 {
		left := f.state.Cooldown
		f.mu.Unlock()
		return left
	}
	f.state.Cooldown--
	left := f.state.Cooldown
	f.commitLocked()
	return left
}

// Close stops the cooldown ticker and any pending navigation. Later
// completions leave the flow untouched.
func (f *SignupFlow) Close() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	f.stopTickerLocked()
	if f.navTimer != nil {
		f.navTimer.Stop()
		f.navTimer = nil
	}
}

func (f *SignupFlow) navigateAfterVerify() {
	f.mu.Lock()
	closed := f.closed
	f.navTimer = nil
	f.mu.Unlock()
	if !closed && f.nav != nil {
		f.nav.Navigate(PathBuyerDashboard, false)
	}
}

// finish clears Busy and applies update unless the flow was closed.
func (f *SignupFlow) finish(update func()) {
	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return
	}
	f.state.Busy = false
	update()
	f.commitLocked()
}

// startTickerLocked (re)starts the one-second cooldown ticker.
func (f *SignupFlow) startTickerLocked() {
	f.stopTickerLocked()
	stop := make(chan struct{})
	f.stopTick = stop
	ticker := f.clock.NewTicker(time.Second)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ticker.Chan():
				if f.tickFor(stop) <= 0 {
					return
				}
			case <-stop:
				return
			}
		}
	}()
}

func (f *SignupFlow) stopTickerLocked() {
	if f.stopTick != nil {
		close(f.stopTick)
		f.stopTick = nil
	}
}

// commitLocked releases the lock and notifies listeners with a snapshot.
func (f *SignupFlow) commitLocked() {
	snap := f.state
	fns := append([]func(SignupState){}, f.listeners...)
	f.mu.Unlock()
	for _, fn := range fns {
		fn(snap)
	}
}

func signupRequest(d SignupDraft) SignupRequest {
	return SignupRequest{Email: d.Email, Password: d.Password, BusinessName: d.BusinessName}
}
