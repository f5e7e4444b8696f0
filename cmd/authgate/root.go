package main

import (
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/panyam/authgate"
	"github.com/panyam/authgate/client"
	"github.com/panyam/authgate/client/stores/fs"
	"github.com/panyam/authgate/oauth2"
	"github.com/spf13/cobra"
)

var (
	flagServer     string
	flagCookieFile string
	flagClientID   string
	flagVerbose    bool
)

var rootCmd = &cobra.Command{
	Use:   "authgate",
	Short: "Sign in, sign up and inspect sessions against an authgate server",
	Long: `authgate is a terminal front-end for a cookie-session auth server.

Run "authgate ui" for the interactive gate, or use the login, signup,
whoami and logout commands from scripts. Settings come from AUTHGATE_*
environment variables and can be overridden with flags.`,
	SilenceUsage: true,
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVar(&flagServer, "server", "", "Session server URL (env AUTHGATE_SERVER_URL)")
	pf.StringVar(&flagCookieFile, "cookie-file", "", `Cookie file, "-" to keep cookies in memory (env AUTHGATE_COOKIE_FILE)`)
	pf.StringVar(&flagClientID, "google-client-id", "", "Google client ID (env AUTHGATE_GOOGLE_CLIENT_ID)")
	pf.BoolVarP(&flagVerbose, "verbose", "v", false, "Enable debug logging")
}

// app is everything a command needs to talk to the server
type app struct {
	cfg      *authgate.Config
	logger   *slog.Logger
	client   *client.APIClient
	store    *authgate.SessionStore
	provider authgate.FederatedProvider

	// cookies is nil when cookies are kept in memory
	cookies *fs.FSCookieStore
}

func loadConfig() (*authgate.Config, error) {
	cfg, err := authgate.LoadConfig()
	if err != nil {
		return nil, err
	}
	if flagServer != "" {
		cfg.ServerURL = strings.TrimSuffix(flagServer, "/")
	}
	if flagCookieFile != "" {
		cfg.CookieFile = flagCookieFile
	}
	if flagClientID != "" {
		cfg.GoogleClientID = flagClientID
	}
	if flagVerbose {
		cfg.LogLevel = "debug"
	}
	return cfg, nil
}

func newLogger(cfg *authgate.Config, w io.Writer) (*slog.Logger, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.LogLevel)); err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", cfg.LogLevel, err)
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level})), nil
}

// newApp builds the client stack. Logs go to logOut.
func newApp(logOut io.Writer) (*app, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	logger, err := newLogger(cfg, logOut)
	if err != nil {
		return nil, err
	}

	a := &app{cfg: cfg, logger: logger}
	if cfg.PersistCookies() {
		a.cookies, err = fs.NewFSCookieStore(cfg.CookieFile, "authgate")
		if err != nil {
			return nil, fmt.Errorf("failed to open cookie file: %w", err)
		}
	}
	a.client = a.newClient(cfg.ServerURL)
	a.store = authgate.NewSessionStore(a.client,
		authgate.WithStoreLogger(logger),
		authgate.WithLogoutTimeout(cfg.LogoutTimeout))
	if cfg.FederatedEnabled() {
		p := oauth2.NewLoopbackProvider(cfg.GoogleClientSecret)
		p.Logger = logger
		a.provider = p
	}
	return a, nil
}

// newClient returns a client for serverURL sharing the app's cookie file
func (a *app) newClient(serverURL string) *client.APIClient {
	opts := []client.ClientOption{
		client.WithLogger(a.logger),
		client.WithTimeout(a.cfg.RequestTimeout),
	}
	if a.cookies != nil {
		opts = append(opts, client.WithCookieStore(a.cookies))
	}
	return client.NewAPIClient(serverURL, opts...)
}

func (a *app) signupOptions() []authgate.SignupOption {
	return []authgate.SignupOption{
		authgate.WithNavigateDelay(a.cfg.NavigateDelay),
		authgate.WithSignupLogger(a.logger),
	}
}

func (a *app) requireProvider() error {
	if a.provider == nil {
		return fmt.Errorf("google sign-in is not configured: set AUTHGATE_GOOGLE_CLIENT_ID or --google-client-id")
	}
	return nil
}

func printIdentity(w io.Writer, id *authgate.Identity) {
	if id == nil {
		fmt.Fprintln(w, "Not signed in")
		return
	}
	fmt.Fprintf(w, "User:         %s\n", id.ID)
	if id.Email != "" {
		fmt.Fprintf(w, "Email:        %s\n", id.Email)
	}
	fmt.Fprintf(w, "Role:         %s\n", id.Role)
	if id.OrganizationID != "" {
		fmt.Fprintf(w, "Organization: %s\n", id.OrganizationID)
	}
	fmt.Fprintf(w, "Home:         %s\n", authgate.DestinationForRole(id.Role))
}
