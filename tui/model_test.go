package tui

import (
	"io"
	"log/slog"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/panyam/authgate"
	"github.com/panyam/authgate/authtest"
	"github.com/panyam/authgate/client"
)

var quietLogger = slog.New(slog.NewTextHandler(io.Discard, nil))

type harness struct {
	server  *authtest.Server
	store   *authgate.SessionStore
	history *authgate.History
	model   *Model
}

func newHarness(t *testing.T, start string, configure func(*Options)) *harness {
	t.Helper()
	srv := authtest.New()
	srv.Logger = quietLogger
	srv.OTPSender = authtest.OTPSenderFunc(func(to, businessName, otp string) error { return nil })
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)

	c := client.NewAPIClient(ts.URL, client.WithLogger(quietLogger))
	store := authgate.NewSessionStore(c, authgate.WithStoreLogger(quietLogger))
	t.Cleanup(store.Wait)

	h := &harness{server: srv, store: store, history: authgate.NewHistory(start)}
	opts := Options{
		Store:   store,
		API:     c,
		History: h.history,
		Logger:  quietLogger,
		SignupOptions: []authgate.SignupOption{
			authgate.WithNavigateDelay(time.Millisecond),
			authgate.WithSignupLogger(quietLogger),
		},
	}
	if configure != nil {
		configure(&opts)
	}
	h.model = New(opts)
	t.Cleanup(h.model.Close)
	return h
}

// ready ends the loading phase with the given identity
func (h *harness) ready(id *authgate.Identity) {
	h.store.SetIdentity(id)
	h.store.SetLoading(false)
	h.model.Update(changedMsg{})
}

func (h *harness) key(k tea.KeyType) tea.Cmd {
	_, cmd := h.model.Update(tea.KeyMsg{Type: k})
	return cmd
}

func (h *harness) typeText(s string) {
	for _, r := range s {
		h.model.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune{r}})
	}
}

// run executes a single command and feeds its message back to the model
func (h *harness) run(t *testing.T, cmd tea.Cmd) {
	t.Helper()
	if cmd == nil {
		t.Fatal("expected a command, got nil")
	}
	h.model.Update(cmd())
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(time.Millisecond)
	}
}

func assertView(t *testing.T, m *Model, want ...string) {
	t.Helper()
	view := m.View()
	for _, w := range want {
		if !strings.Contains(view, w) {
			t.Errorf("View() missing %q:\n%s", w, view)
		}
	}
}

func TestModel_WaitsUntilSessionKnown(t *testing.T) {
	h := newHarness(t, authgate.PathGate, nil)

	if got := h.model.Resolution().Decision.Kind; got != authgate.Wait {
		t.Fatalf("Decision.Kind = %v, want wait", got)
	}
	assertView(t, h.model, "Checking your session...")

	h.ready(nil)
	if got := h.model.Resolution().Path; got != authgate.PathGate {
		t.Errorf("Path = %q, want %q", got, authgate.PathGate)
	}
	assertView(t, h.model, "Sign up", "Business name", "Confirm password")
}

func TestModel_BootstrapDiscoversSession(t *testing.T) {
	h := newHarness(t, authgate.PathGate, func(o *Options) {
		o.Bootstrapper = &authgate.Bootstrapper{Store: o.Store, API: o.API, Logger: quietLogger}
	})

	b := h.model.opts.Bootstrapper
	h.model.Update(bootDoneMsg{err: b.Run(t.Context())})

	if h.store.Get().Loading {
		t.Fatal("store still loading after bootstrap")
	}
	if got := h.model.Resolution().Path; got != authgate.PathGate {
		t.Errorf("Path = %q, want %q", got, authgate.PathGate)
	}
}

func TestModel_LoginNavigatesToRoleHome(t *testing.T) {
	tests := []struct {
		name string
		role authgate.Role
		want string
		view []string
	}{
		{"buyer admin", authgate.RoleBuyerAdmin, authgate.PathBuyerDashboard, []string{"Buyer dashboard", "pat@example.com", "buyer_admin"}},
		{"employee", authgate.RoleEmployee, authgate.PathEmployeeDashboard, []string{"Employee dashboard", "pat@example.com", "employee"}},
		{"role without a home", authgate.Role("auditor"), authgate.PathUnauthorized, []string{"You do not have access"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, authgate.PathGate, nil)
			if _, err := h.server.AddUser("pat@example.com", "hunter22", tt.role); err != nil {
				t.Fatalf("AddUser() error = %v", err)
			}
			h.ready(nil)

			h.key(tea.KeyCtrlT)
			assertView(t, h.model, "Remember me")
			h.typeText("pat@example.com")
			h.key(tea.KeyTab)
			h.typeText("hunter22")
			h.run(t, h.key(tea.KeyEnter))

			if got := h.model.Resolution().Path; got != tt.want {
				t.Errorf("Path = %q, want %q", got, tt.want)
			}
			if got := h.history.Current(); got != tt.want {
				t.Errorf("history.Current() = %q, want %q", got, tt.want)
			}
			assertView(t, h.model, tt.view...)
		})
	}
}

func TestModel_LoginAfterGuardRedirectAddsOneEntry(t *testing.T) {
	h := newHarness(t, authgate.PathGate, nil)
	if _, err := h.server.AddUser("pat@example.com", "hunter22", authgate.RoleBuyerAdmin); err != nil {
		t.Fatalf("AddUser() error = %v", err)
	}
	h.ready(nil)

	h.key(tea.KeyCtrlT)
	h.typeText("pat@example.com")
	h.key(tea.KeyTab)
	h.typeText("hunter22")
	cmd := h.key(tea.KeyEnter)
	if cmd == nil {
		t.Fatal("enter returned no command")
	}
	done := cmd()

	// The session change lands before the login result
	h.model.Update(changedMsg{})
	h.model.Update(done)

	want := []string{authgate.PathBuyerDashboard}
	got := h.history.Entries()
	if len(got) != len(want) || got[0] != want[0] {
		t.Errorf("history.Entries() = %v, want %v", got, want)
	}
	if got := h.model.Resolution().Path; got != authgate.PathBuyerDashboard {
		t.Errorf("Path = %q, want %q", got, authgate.PathBuyerDashboard)
	}
}

func TestModel_LoginErrorsAreShown(t *testing.T) {
	h := newHarness(t, authgate.PathGate, nil)
	if _, err := h.server.AddUser("pat@example.com", "hunter22", authgate.RoleBuyerAdmin); err != nil {
		t.Fatalf("AddUser() error = %v", err)
	}
	h.ready(nil)
	h.key(tea.KeyCtrlT)

	h.typeText("nobody@example.com")
	h.key(tea.KeyTab)
	h.typeText("whatever")
	h.run(t, h.key(tea.KeyEnter))

	if got := h.model.Resolution().Path; got != authgate.PathGate {
		t.Errorf("Path = %q, want %q", got, authgate.PathGate)
	}
	assertView(t, h.model, authgate.MsgAccountNotFound)

	// Switching forms clears the error
	h.key(tea.KeyCtrlT)
	if strings.Contains(h.model.View(), authgate.MsgAccountNotFound) {
		t.Error("error still shown after switching to signup")
	}
}

func TestModel_RememberMeToggle(t *testing.T) {
	h := newHarness(t, authgate.PathGate, nil)
	h.ready(nil)
	h.key(tea.KeyCtrlT)

	assertView(t, h.model, "[ ] Remember me")
	h.key(tea.KeyCtrlR)
	if !h.model.rememberMe {
		t.Error("rememberMe = false after ctrl+r")
	}
	assertView(t, h.model, "[x] Remember me")
}

func fillSignup(h *harness, password, confirm string) {
	h.typeText("Acme")
	h.key(tea.KeyTab)
	h.typeText("owner@acme.test")
	h.key(tea.KeyTab)
	h.typeText(password)
	h.key(tea.KeyTab)
	h.typeText(confirm)
}

func TestModel_SignupWithOTP(t *testing.T) {
	h := newHarness(t, authgate.PathGate, nil)
	h.ready(nil)

	fillSignup(h, "s3cret!", "s3cret!")
	h.run(t, h.key(tea.KeyEnter))

	if got := h.model.signup.State().Phase; got != authgate.PhaseOTPPending {
		t.Fatalf("Phase = %v, want otp pending", got)
	}
	assertView(t, h.model, "We sent a code to owner@acme.test", "Resend in")

	otp := h.server.LastOTP("owner@acme.test")
	if otp == "" {
		t.Fatal("server recorded no OTP")
	}
	h.typeText(otp)
	h.run(t, h.key(tea.KeyEnter))

	waitFor(t, "navigation after verification", func() bool {
		return h.history.Current() == authgate.PathBuyerDashboard
	})
	h.model.Update(changedMsg{})

	if got := h.model.Resolution().Path; got != authgate.PathBuyerDashboard {
		t.Errorf("Path = %q, want %q", got, authgate.PathBuyerDashboard)
	}
	if h.model.signup != nil {
		t.Error("signup flow still open after leaving the gate")
	}
	assertView(t, h.model, "Buyer dashboard", "owner@acme.test")
}

func TestModel_SignupValidation(t *testing.T) {
	h := newHarness(t, authgate.PathGate, nil)
	h.ready(nil)

	fillSignup(h, "s3cret!", "different")
	h.run(t, h.key(tea.KeyEnter))

	if got := h.model.signup.State().Phase; got != authgate.PhaseCollectingCredentials {
		t.Errorf("Phase = %v, want collecting credentials", got)
	}
	assertView(t, h.model, authgate.MsgPasswordMismatch)
	if n := h.server.Calls("/auth/signup/initiate"); n != 0 {
		t.Errorf("initiate calls = %d, want 0", n)
	}
}

func TestModel_ShortOTPRejectedLocally(t *testing.T) {
	h := newHarness(t, authgate.PathGate, nil)
	h.ready(nil)

	fillSignup(h, "s3cret!", "s3cret!")
	h.run(t, h.key(tea.KeyEnter))

	h.typeText("123")
	h.run(t, h.key(tea.KeyEnter))

	assertView(t, h.model, authgate.MsgInvalidOTP)

	// Resend is disabled during the cooldown
	if cmd := h.key(tea.KeyCtrlR); cmd != nil {
		t.Error("ctrl+r returned a command while cooling down")
	}
}

func TestModel_WrongOTPKeepsEnteredCode(t *testing.T) {
	h := newHarness(t, authgate.PathGate, nil)
	h.ready(nil)

	fillSignup(h, "s3cret!", "s3cret!")
	h.run(t, h.key(tea.KeyEnter))

	wrong := "000000"
	if h.server.LastOTP("owner@acme.test") == wrong {
		wrong = "111111"
	}
	h.typeText(wrong)
	h.run(t, h.key(tea.KeyEnter))

	if got := h.model.signup.State().Phase; got != authgate.PhaseOTPPending {
		t.Errorf("Phase = %v, want otp pending", got)
	}
	if got := h.model.otp.Value(); got != wrong {
		t.Errorf("otp.Value() = %q, want %q", got, wrong)
	}
	assertView(t, h.model, authtest.MsgInvalidOTP, wrong)
}

func TestModel_RoleGuards(t *testing.T) {
	tests := []struct {
		name  string
		start string
		role  authgate.Role
		want  string
	}{
		{"buyer on gate", authgate.PathGate, authgate.RoleBuyerAdmin, authgate.PathBuyerDashboard},
		{"employee on buyer page", authgate.PathBuyerDashboard, authgate.RoleEmployee, authgate.PathEmployeeDashboard},
		{"buyer on employee page", authgate.PathEmployeeDashboard, authgate.RoleBuyerAdmin, authgate.PathBuyerDashboard},
		{"buyer on unauthorized", authgate.PathUnauthorized, authgate.RoleBuyerAdmin, authgate.PathBuyerDashboard},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, tt.start, nil)
			h.ready(&authgate.Identity{ID: "u1", Role: tt.role})

			if got := h.model.Resolution().Path; got != tt.want {
				t.Errorf("Path = %q, want %q", got, tt.want)
			}
			if got := h.history.Current(); got != tt.want {
				t.Errorf("history.Current() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestModel_SignedOutVisitorIsSentToGate(t *testing.T) {
	h := newHarness(t, authgate.PathEmployeeDashboard, nil)
	h.ready(nil)

	if got := h.model.Resolution().Path; got != authgate.PathGate {
		t.Errorf("Path = %q, want %q", got, authgate.PathGate)
	}
	if got := h.history.Entries(); len(got) != 1 {
		t.Errorf("history.Entries() = %v, want a single replaced entry", got)
	}
}

func TestModel_Logout(t *testing.T) {
	h := newHarness(t, authgate.PathGate, nil)
	h.ready(&authgate.Identity{ID: "u1", Role: authgate.RoleBuyerAdmin, Email: "pat@example.com"})
	assertView(t, h.model, "Buyer dashboard", "l logout")

	h.model.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("l")})

	if id := h.store.Get().Identity; id != nil {
		t.Errorf("Identity = %+v, want nil", id)
	}
	if got := h.model.Resolution().Path; got != authgate.PathGate {
		t.Errorf("Path = %q, want %q", got, authgate.PathGate)
	}
	h.store.Wait()
	if n := h.server.Calls("/auth/logout"); n != 1 {
		t.Errorf("logout calls = %d, want 1", n)
	}
}

func TestModel_FederatedLogin(t *testing.T) {
	provider := &authtest.FakeProvider{}
	h := newHarness(t, authgate.PathGate, func(o *Options) {
		o.Provider = provider
		o.ProviderConfig = authgate.ProviderConfig{ClientID: "test-client"}
	})
	cred, err := h.server.IssueCredential("fed@example.com", authgate.RoleEmployee)
	if err != nil {
		t.Fatalf("IssueCredential() error = %v", err)
	}
	provider.Credential = cred
	h.ready(nil)
	h.key(tea.KeyCtrlT)
	assertView(t, h.model, "continue with Google")

	h.run(t, h.key(tea.KeyCtrlG))

	if got := h.model.Resolution().Path; got != authgate.PathEmployeeDashboard {
		t.Errorf("Path = %q, want %q", got, authgate.PathEmployeeDashboard)
	}
	if _, _, cancels, unloads := provider.Counts(); cancels != 1 || unloads != 1 {
		t.Errorf("cancels, unloads = %d, %d, want 1, 1", cancels, unloads)
	}
}

func TestModel_ShowsConsentURL(t *testing.T) {
	const url = "https://accounts.google.com/o/oauth2/auth?client_id=test-client"
	h := newHarness(t, authgate.PathGate, func(o *Options) {
		o.Provider = &authtest.FakeProvider{}
	})

	h.model.Update(ConsentURLMsg{URL: url})
	assertView(t, h.model, "Checking your session...", "Open this URL in your browser", url)

	// The startup prompt stays open after discovery settles
	h.ready(nil)
	assertView(t, h.model, "continue with Google", url)

	h.model.Update(bootDoneMsg{})
	if strings.Contains(h.model.View(), url) {
		t.Error("consent URL still shown after the startup prompt finished")
	}

	h.model.Update(ConsentURLMsg{URL: url})
	assertView(t, h.model, "continue with Google", url)

	h.model.Update(loginDoneMsg{err: authgate.ErrPromptDismissed})
	if strings.Contains(h.model.View(), url) {
		t.Error("consent URL still shown after the prompt finished")
	}
}

func TestModel_FederatedActionStopsStartupPrompt(t *testing.T) {
	provider := &authtest.FakeProvider{}
	h := newHarness(t, authgate.PathGate, func(o *Options) {
		o.Provider = provider
		o.ProviderConfig = authgate.ProviderConfig{ClientID: "test-client"}
		o.Bootstrapper = &authgate.Bootstrapper{
			Store: o.Store, API: o.API, Provider: provider,
			ProviderConfig: o.ProviderConfig, Logger: quietLogger,
		}
	})
	cred, err := h.server.IssueCredential("fed@example.com", authgate.RoleEmployee)
	if err != nil {
		t.Fatalf("IssueCredential() error = %v", err)
	}

	// Run the startup sign-in the way Bubble Tea would
	batch, ok := h.model.Init()().(tea.BatchMsg)
	if !ok {
		t.Fatal("Init() did not return a batch")
	}
	boot := make(chan tea.Msg, 1)
	go func() { boot <- batch[len(batch)-1]() }()
	waitFor(t, "startup prompt", func() bool {
		_, prompts, _, _ := provider.Counts()
		return prompts == 1
	})
	h.model.Update(changedMsg{})
	h.key(tea.KeyCtrlT)

	provider.Credential = cred
	h.run(t, h.key(tea.KeyCtrlG))

	if got := h.model.Resolution().Path; got != authgate.PathEmployeeDashboard {
		t.Errorf("Path = %q, want %q", got, authgate.PathEmployeeDashboard)
	}
	select {
	case msg := <-boot:
		if _, ok := msg.(bootDoneMsg); !ok {
			t.Errorf("startup command returned %T, want bootDoneMsg", msg)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("startup sign-in still running")
	}
	if _, prompts, _, _ := provider.Counts(); prompts != 2 {
		t.Errorf("prompts = %d, want 2", prompts)
	}
}

func TestModel_FederatedPromptFailure(t *testing.T) {
	provider := &authtest.FakeProvider{PromptErr: authgate.ErrPromptDismissed}
	h := newHarness(t, authgate.PathGate, func(o *Options) { o.Provider = provider })
	h.ready(nil)

	h.run(t, h.key(tea.KeyCtrlG))

	if got := h.model.Resolution().Path; got != authgate.PathGate {
		t.Errorf("Path = %q, want %q", got, authgate.PathGate)
	}
	assertView(t, h.model, authgate.MsgGoogleSignupFail)
}

func TestModel_Quit(t *testing.T) {
	h := newHarness(t, authgate.PathGate, nil)
	h.ready(nil)
	h.typeText("A")

	cmd := h.key(tea.KeyCtrlC)
	if cmd == nil {
		t.Fatal("ctrl+c returned no command")
	}
	if _, ok := cmd().(tea.QuitMsg); !ok {
		t.Error("ctrl+c did not quit")
	}
	if h.model.signup != nil {
		t.Error("signup flow not closed on quit")
	}
	if v := h.model.View(); v != "" {
		t.Errorf("View() after quit = %q, want empty", v)
	}
}
