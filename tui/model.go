// Package tui is a Bubble Tea front-end for authgate. Every screen is the
// route the router resolves for the current history entry and session.
package tui

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/panyam/authgate"
)

// gateMode is which form the gate page shows
type gateMode int

const (
	modeSignup gateMode = iota
	modeLogin
)

// Options wires the model to the session layer
type Options struct {
	Store *authgate.SessionStore
	API   authgate.API

	// Router defaults to authgate.DefaultRouter
	Router *authgate.Router

	// History defaults to a history starting at the gate
	History *authgate.History

	// Bootstrapper runs once from Init when set
	Bootstrapper *authgate.Bootstrapper

	// Provider enables the explicit "continue with Google" action
	Provider       authgate.FederatedProvider
	ProviderConfig authgate.ProviderConfig

	SignupOptions []authgate.SignupOption
	Logger        *slog.Logger
}

// Model is the TUI application state
type Model struct {
	opts   Options
	ctx    context.Context
	cancel context.CancelFunc
	events chan struct{}
	unsub  func()

	bootCancel context.CancelFunc
	bootDone   chan struct{}

	login  *authgate.LoginFlow
	signup *authgate.SignupFlow

	res        authgate.Resolution
	mode       gateMode
	loginForm  form
	signupForm form
	otp        textinput.Model
	rememberMe bool
	busy       bool
	err        string
	consentURL string

	spinner  spinner.Model
	styles   Styles
	width    int
	quitting bool
}

const (
	loginEmail = iota
	loginPassword
)

const (
	signupBusiness = iota
	signupEmail
	signupPassword
	signupConfirm
)

// New creates the model and subscribes it to session and history changes
func New(opts Options) *Model {
	if opts.Router == nil {
		opts.Router = authgate.DefaultRouter()
	}
	if opts.History == nil {
		opts.History = authgate.NewHistory(authgate.PathGate)
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	ctx, cancel := context.WithCancel(context.Background())
	sp := spinner.New()
	sp.Spinner = spinner.Dot

	otp := newInput("6-digit code", false)
	otp.CharLimit = authgate.OTPLength

	m := &Model{
		opts:   opts,
		ctx:    ctx,
		cancel: cancel,
		events: make(chan struct{}, 1),
		login:  &authgate.LoginFlow{Store: opts.Store, API: opts.API, Logger: opts.Logger},
		mode:   modeSignup,
		loginForm: newForm(
			field{"Email", newInput("you@company.com", false)},
			field{"Password", newInput("password", true)},
		),
		signupForm: newForm(
			field{"Business name", newInput("Acme Inc.", false)},
			field{"Email", newInput("you@company.com", false)},
			field{"Password", newInput("password", true)},
			field{"Confirm password", newInput("password again", true)},
		),
		otp:     otp,
		spinner: sp,
		styles:  DefaultStyles(),
	}

	m.unsub = opts.Store.Subscribe(func(authgate.State) { m.notify() })
	opts.History.Subscribe(func(string) { m.notify() })
	m.resolve()
	return m
}

// notify coalesces change notifications; the model re-reads everything on
// each changedMsg.
func (m *Model) notify() {
	select {
	case m.events <- struct{}{}:
	default:
	}
}

func (m *Model) waitForChange() tea.Cmd {
	return func() tea.Msg {
		<-m.events
		return changedMsg{}
	}
}

// Init starts session discovery (required by Bubble Tea)
func (m *Model) Init() tea.Cmd {
	cmds := []tea.Cmd{m.waitForChange(), m.spinner.Tick, textinput.Blink}
	if b := m.opts.Bootstrapper; b != nil && m.bootDone == nil {
		ctx, cancel := context.WithCancel(m.ctx)
		done := make(chan struct{})
		m.bootCancel, m.bootDone = cancel, done
		cmds = append(cmds, func() tea.Msg {
			defer close(done)
			return bootDoneMsg{err: b.Run(ctx)}
		})
	}
	return tea.Batch(cmds...)
}

// Close cancels outstanding work and stops the signup flow
func (m *Model) Close() {
	m.cancel()
	m.unsub()
	if m.signup != nil {
		m.signup.Close()
		m.signup = nil
	}
}

// Resolution returns the route currently on screen
func (m *Model) Resolution() authgate.Resolution {
	return m.res
}

// resolve follows the guards from the current history entry and applies
// any redirect to the history.
func (m *Model) resolve() {
	cur := m.opts.History.Current()
	res := m.opts.Router.Resolve(cur, m.opts.Store.Get())
	if res.Path != cur {
		m.opts.History.Navigate(res.Path, res.Replace)
	}
	if res.Path != m.res.Path {
		m.err = ""
		m.consentURL = ""
	}
	m.res = res

	// Leaving the gate dismisses the signup flow
	if !m.onGate() && m.signup != nil {
		m.signup.Close()
		m.signup = nil
	}
}

func (m *Model) onGate() bool {
	if m.res.Decision.Kind != authgate.Render {
		return false
	}
	switch m.res.Path {
	case authgate.PathBuyerDashboard, authgate.PathEmployeeDashboard, authgate.PathDashboard, authgate.PathUnauthorized:
		return false
	}
	return true
}

func (m *Model) signupFlow() *authgate.SignupFlow {
	if m.signup == nil {
		m.signup = authgate.NewSignupFlow(m.opts.Store, m.opts.API, m.opts.History, m.opts.SignupOptions...)
		m.signup.Subscribe(func(authgate.SignupState) { m.notify() })
	}
	return m.signup
}

// Update handles messages and updates the model state (required by Bubble Tea)
func (m *Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		return m, nil

	case changedMsg:
		m.resolve()
		return m, m.waitForChange()

	case ConsentURLMsg:
		m.consentURL = msg.URL
		return m, nil

	case bootDoneMsg:
		m.consentURL = ""
		if msg.err != nil {
			m.opts.Logger.Debug("silent sign-in did not complete", "error", msg.err)
		}
		m.resolve()
		return m, nil

	case loginDoneMsg:
		m.busy = false
		m.consentURL = ""
		if msg.err != nil {
			m.err = authgate.UserMessage(msg.err)
			return m, nil
		}
		m.loginForm.reset()
		// The guards may already have redirected here on the session change
		if m.opts.History.Current() != msg.dest {
			m.opts.History.Navigate(msg.dest, false)
		}
		m.resolve()
		return m, nil

	case signupDoneMsg:
		if msg.err != nil {
			m.opts.Logger.Debug("signup step failed", "op", msg.op, "error", msg.err)
		}
		m.resolve()
		return m, nil

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd

	case tea.KeyMsg:
		if key.Matches(msg, keys.Quit) {
			return m.quit()
		}
		return m.handleKey(msg)
	}

	return m, nil
}

func (m *Model) quit() (tea.Model, tea.Cmd) {
	m.quitting = true
	m.Close()
	return m, tea.Quit
}

func (m *Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	if m.res.Decision.Kind == authgate.Wait {
		if key.Matches(msg, keys.Leave) {
			return m.quit()
		}
		return m, nil
	}
	if !m.onGate() {
		switch {
		case key.Matches(msg, keys.Logout) && m.opts.Store.Get().Identity != nil:
			m.opts.Store.Logout(m.ctx)
			m.resolve()
			return m, nil
		case key.Matches(msg, keys.Leave):
			return m.quit()
		}
		return m, nil
	}

	if key.Matches(msg, keys.ToggleMode) && !m.busy && !m.signupBusy() {
		if m.mode == modeSignup {
			m.mode = modeLogin
		} else {
			m.mode = modeSignup
		}
		m.err = ""
		return m, nil
	}
	if key.Matches(msg, keys.Federated) && m.opts.Provider != nil && !m.busy {
		m.busy = true
		m.err = ""
		return m, m.federatedCmd(m.mode)
	}

	if m.mode == modeLogin {
		return m.handleLoginKey(msg)
	}
	return m.handleSignupKey(msg)
}

func (m *Model) handleLoginKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch {
	case key.Matches(msg, keys.Next):
		return m, m.loginForm.next()
	case key.Matches(msg, keys.Prev):
		return m, m.loginForm.prev()
	case key.Matches(msg, keys.Remember):
		m.rememberMe = !m.rememberMe
		return m, nil
	case key.Matches(msg, keys.Submit):
		if !m.loginForm.onLast() {
			return m, m.loginForm.next()
		}
		if m.busy {
			return m, nil
		}
		m.busy = true
		m.err = ""
		return m, m.loginCmd(m.loginForm.value(loginEmail), m.loginForm.rawValue(loginPassword), m.rememberMe)
	}
	return m, m.loginForm.update(msg)
}

func (m *Model) handleSignupKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	flow := m.signupFlow()
	st := flow.State()

	switch st.Phase {
	case authgate.PhaseCollectingCredentials:
		switch {
		case key.Matches(msg, keys.Next):
			return m, m.signupForm.next()
		case key.Matches(msg, keys.Prev):
			return m, m.signupForm.prev()
		case key.Matches(msg, keys.Submit):
			if !m.signupForm.onLast() {
				return m, m.signupForm.next()
			}
			if st.Busy {
				return m, nil
			}
			draft := authgate.SignupDraft{
				BusinessName:    m.signupForm.value(signupBusiness),
				Email:           m.signupForm.value(signupEmail),
				Password:        m.signupForm.rawValue(signupPassword),
				ConfirmPassword: m.signupForm.rawValue(signupConfirm),
			}
			return m, m.signupCmd("submit", func(ctx context.Context) error { return flow.Submit(ctx, draft) })
		}
		return m, m.signupForm.update(msg)

	case authgate.PhaseOTPPending:
		switch {
		case key.Matches(msg, keys.Resend):
			if !st.CanResend() {
				return m, nil
			}
			return m, m.signupCmd("resend", flow.Resend)
		case key.Matches(msg, keys.Submit):
			if st.Busy {
				return m, nil
			}
			code := strings.TrimSpace(m.otp.Value())
			return m, m.signupCmd("verify", func(ctx context.Context) error { return flow.Verify(ctx, code) })
		}
		if !m.otp.Focused() {
			m.otp.Focus()
		}
		var cmd tea.Cmd
		m.otp, cmd = m.otp.Update(msg)
		return m, cmd
	}
	return m, nil
}

func (m *Model) signupBusy() bool {
	return m.signup != nil && m.signup.State().Busy
}

func (m *Model) loginCmd(email, password string, rememberMe bool) tea.Cmd {
	ctx, flow := m.ctx, m.login
	return func() tea.Msg {
		dest, err := flow.Login(ctx, email, password, rememberMe)
		return loginDoneMsg{dest: dest, err: err}
	}
}

func (m *Model) signupCmd(op string, run func(ctx context.Context) error) tea.Cmd {
	ctx := m.ctx
	return func() tea.Msg {
		return signupDoneMsg{op: op, err: run(ctx)}
	}
}

// stopSilentPrompt dismisses a startup prompt still waiting for an account
// and waits until it has released the provider.
func (m *Model) stopSilentPrompt() func() {
	cancel, done := m.bootCancel, m.bootDone
	return func() {
		if done == nil {
			return
		}
		cancel()
		<-done
	}
}

func (m *Model) federatedCmd(mode gateMode) tea.Cmd {
	ctx, provider, cfg := m.ctx, m.opts.Provider, m.opts.ProviderConfig
	login := m.login
	stopSilent := m.stopSilentPrompt()
	var signup *authgate.SignupFlow
	if mode == modeSignup {
		signup = m.signupFlow()
	}
	return func() tea.Msg {
		stopSilent()
		cred, err := authgate.RequestCredential(ctx, provider, cfg)
		if err != nil {
			msg := authgate.MsgGoogleLoginFailed
			if signup != nil {
				msg = authgate.MsgGoogleSignupFail
			}
			return loginDoneMsg{err: authgate.NewAuthError(authgate.ErrCodeFederatedFailed, msg, "")}
		}
		var dest string
		if signup != nil {
			dest, err = signup.SignupWithFederatedCredential(ctx, cred)
		} else {
			dest, err = login.LoginWithFederatedCredential(ctx, cred)
		}
		return loginDoneMsg{dest: dest, err: err}
	}
}

// View renders the TUI (required by Bubble Tea)
func (m *Model) View() string {
	if m.quitting {
		return ""
	}

	var body string
	switch {
	case m.res.Decision.Kind == authgate.Wait:
		body = m.spinner.View() + " " + m.styles.Muted.Render("Checking your session...")
		if m.consentURL != "" {
			body += "\n\n" + m.consentView()
		}
	case m.res.Path == authgate.PathBuyerDashboard:
		body = m.dashboardView("Buyer dashboard")
	case m.res.Path == authgate.PathEmployeeDashboard:
		body = m.dashboardView("Employee dashboard")
	case m.res.Path == authgate.PathDashboard:
		body = m.dashboardView("Dashboard")
	case m.res.Path == authgate.PathUnauthorized:
		body = m.unauthorizedView()
	default:
		body = m.gateView()
	}

	return m.styles.Border.Render(m.styles.Title.Render("authgate") + "\n" + body)
}

func (m *Model) dashboardView(title string) string {
	var b strings.Builder
	b.WriteString(m.styles.Subtitle.Render(title) + "\n")
	if id := m.opts.Store.Get().Identity; id != nil {
		fmt.Fprintf(&b, "User:         %s\n", id.ID)
		if id.Email != "" {
			fmt.Fprintf(&b, "Email:        %s\n", id.Email)
		}
		fmt.Fprintf(&b, "Role:         %s\n", id.Role)
		if id.OrganizationID != "" {
			fmt.Fprintf(&b, "Organization: %s\n", id.OrganizationID)
		}
	}
	b.WriteString(m.styles.Help.Render(helpLine(keys.Logout, keys.Leave)))
	return b.String()
}

func (m *Model) unauthorizedView() string {
	return m.styles.Subtitle.Render("Unauthorized") + "\n" +
		m.styles.Error.Render("You do not have access to this page.") + "\n" +
		m.styles.Help.Render(helpLine(keys.Logout, keys.Leave))
}

func (m *Model) gateView() string {
	var b strings.Builder
	loginTab, signupTab := m.styles.Tab, m.styles.TabOn
	if m.mode == modeLogin {
		loginTab, signupTab = m.styles.TabOn, m.styles.Tab
	}
	b.WriteString(signupTab.Render("Sign up") + " " + loginTab.Render("Log in") + "\n\n")

	help := []key.Binding{keys.Submit, keys.Next, keys.ToggleMode}
	if m.mode == modeLogin {
		b.WriteString(m.loginForm.view(m.styles))
		check := "[ ]"
		if m.rememberMe {
			check = "[x]"
		}
		b.WriteString(check + " Remember me\n")
		help = append(help, keys.Remember)
		if m.busy {
			b.WriteString(m.styles.Muted.Render("Please wait...") + "\n")
		}
	} else {
		b.WriteString(m.signupView())
		if m.signup != nil && m.signup.State().Phase == authgate.PhaseOTPPending {
			help = []key.Binding{keys.Submit, keys.Resend}
		}
	}

	if m.err != "" {
		b.WriteString(m.styles.Error.Render(m.err) + "\n")
	}
	if m.consentURL != "" {
		b.WriteString("\n" + m.consentView())
	}
	if m.opts.Provider != nil {
		help = append(help, keys.Federated)
	}
	help = append(help, keys.Quit)
	b.WriteString(m.styles.Help.Render(helpLine(help...)))
	return b.String()
}

func (m *Model) consentView() string {
	return m.styles.Label.Render("Open this URL in your browser to continue with Google:") + "\n" + m.consentURL + "\n"
}

func (m *Model) signupView() string {
	var st authgate.SignupState
	if m.signup != nil {
		st = m.signup.State()
	}

	var b strings.Builder
	switch st.Phase {
	case authgate.PhaseCollectingCredentials:
		b.WriteString(m.signupForm.view(m.styles))
		if st.Error != "" {
			b.WriteString(m.styles.Error.Render(st.Error) + "\n")
		}
	case authgate.PhaseOTPPending:
		fmt.Fprintf(&b, "We sent a code to %s\n\n", st.Draft.Email)
		b.WriteString(m.styles.Focused.Render("Verification code") + "\n" + m.otp.View() + "\n\n")
		if st.OTPError != "" {
			b.WriteString(m.styles.Error.Render(st.OTPError) + "\n")
		}
		if st.Cooldown > 0 {
			b.WriteString(m.styles.Muted.Render(fmt.Sprintf("Resend in %ds", st.Cooldown)) + "\n")
		} else {
			b.WriteString(m.styles.Muted.Render("You can request a new code") + "\n")
		}
	case authgate.PhaseVerified:
		b.WriteString(m.styles.Success.Render("Verified! Redirecting...") + "\n")
	}
	if st.Busy {
		b.WriteString(m.styles.Muted.Render("Please wait...") + "\n")
	}
	return b.String()
}
