// Package oauth2 provides a federated identity provider for terminal and
// desktop clients. It runs the OAuth2 authorization code flow with PKCE
// against Google and hands the resulting ID token to authgate as the
// opaque federated credential.
package oauth2

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/panyam/authgate"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
)

// CallbackPath is where the loopback server receives the redirect
const CallbackPath = "/callback"

// ErrNotLoaded is returned by Prompt before Load and Initialize succeeded
var ErrNotLoaded = errors.New("oauth2: provider not loaded")

// DefaultScopes are requested when LoopbackProvider.Scopes is empty
var DefaultScopes = []string{"openid", "email", "profile"}

// LoopbackProvider implements authgate.FederatedProvider with a short-lived
// HTTP server on the loopback interface as the redirect target.
type LoopbackProvider struct {
	ClientSecret string

	// Endpoint defaults to google.Endpoint. Overridden in tests.
	Endpoint oauth2.Endpoint

	// Scopes defaults to DefaultScopes
	Scopes []string

	// Addr is the listen address. Defaults to an ephemeral loopback port.
	Addr string

	// OpenURL shows the consent URL to the user. Defaults to printing it on stderr.
	OpenURL func(url string) error

	// HTTPClient is used for the token exchange
	HTTPClient *http.Client

	Logger *slog.Logger

	mu       sync.Mutex
	listener net.Listener
	server   *http.Server
	config   *oauth2.Config
	callback func(authgate.CredentialResponse)
	state    string
	verifier string
	extra    []oauth2.AuthCodeOption
}

var _ authgate.FederatedProvider = (*LoopbackProvider)(nil)

// NewLoopbackProvider creates a provider for Google with the given client secret
func NewLoopbackProvider(clientSecret string) *LoopbackProvider {
	return &LoopbackProvider{
		ClientSecret: clientSecret,
		Endpoint:     google.Endpoint,
	}
}

func (p *LoopbackProvider) logger() *slog.Logger {
	if p.Logger != nil {
		return p.Logger
	}
	return slog.Default()
}

// Load starts the redirect listener
func (p *LoopbackProvider) Load(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.listener != nil {
		return nil
	}

	addr := p.Addr
	if addr == "" {
		addr = "127.0.0.1:0"
	}
	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("oauth2: failed to listen on %s: %w", addr, err)
	}

	mux := http.NewServeMux()
	mux.HandleFunc(CallbackPath, p.handleCallback)
	p.listener = ln
	p.server = &http.Server{Handler: mux, ReadHeaderTimeout: 10 * time.Second}

	go func(srv *http.Server, ln net.Listener) {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			p.logger().Warn("oauth2 callback server stopped", "error", err)
		}
	}(p.server, ln)

	return nil
}

// RedirectURL returns the callback URL, or "" before Load
func (p *LoopbackProvider) RedirectURL() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.redirectURLLocked()
}

func (p *LoopbackProvider) redirectURLLocked() string {
	if p.listener == nil {
		return ""
	}
	return "http://" + p.listener.Addr().String() + CallbackPath
}

// Initialize records the client configuration and the credential callback.
// AutoSelect skips the account chooser. CancelOnTapOutside has no loopback
// equivalent.
func (p *LoopbackProvider) Initialize(cfg authgate.ProviderConfig, callback func(authgate.CredentialResponse)) {
	p.mu.Lock()
	defer p.mu.Unlock()

	scopes := p.Scopes
	if len(scopes) == 0 {
		scopes = DefaultScopes
	}
	endpoint := p.Endpoint
	if endpoint.AuthURL == "" {
		endpoint = google.Endpoint
	}

	p.config = &oauth2.Config{
		ClientID:     cfg.ClientID,
		ClientSecret: p.ClientSecret,
		RedirectURL:  p.redirectURLLocked(),
		Scopes:       scopes,
		Endpoint:     endpoint,
	}
	p.callback = callback
	p.extra = nil
	if !cfg.AutoSelect {
		p.extra = append(p.extra, oauth2.SetAuthURLParam("prompt", "select_account"))
	}
}

// Prompt generates a fresh state and PKCE verifier and shows the consent URL
func (p *LoopbackProvider) Prompt() error {
	p.mu.Lock()
	if p.config == nil || p.listener == nil {
		p.mu.Unlock()
		return ErrNotLoaded
	}
	state, err := randomState()
	if err != nil {
		p.mu.Unlock()
		return err
	}
	p.state = state
	p.verifier = oauth2.GenerateVerifier()
	opts := append([]oauth2.AuthCodeOption{oauth2.S256ChallengeOption(p.verifier)}, p.extra...)
	authURL := p.config.AuthCodeURL(state, opts...)
	open := p.OpenURL
	p.mu.Unlock()

	if open == nil {
		open = printURL
	}
	if err := open(authURL); err != nil {
		return fmt.Errorf("oauth2: failed to open consent page: %w", err)
	}
	return nil
}

func printURL(url string) error {
	_, err := fmt.Fprintf(os.Stderr, "Open this URL in your browser to continue:\n\n  %s\n\n", url)
	return err
}

// Cancel drops the pending prompt. A late redirect is then rejected.
func (p *LoopbackProvider) Cancel() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.state = ""
	p.verifier = ""
}

// Unload stops the listener and forgets the callback
func (p *LoopbackProvider) Unload() {
	p.mu.Lock()
	srv := p.server
	p.server = nil
	p.listener = nil
	p.callback = nil
	p.state = ""
	p.verifier = ""
	p.mu.Unlock()

	if srv == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		srv.Close()
	}
}

func (p *LoopbackProvider) handleCallback(w http.ResponseWriter, r *http.Request) {
	p.mu.Lock()
	state, verifier, config, callback := p.state, p.verifier, p.config, p.callback
	// A state is good for one redirect only
	if state != "" && r.FormValue("state") == state {
		p.state, p.verifier = "", ""
	}
	p.mu.Unlock()

	if state == "" || r.FormValue("state") != state {
		writePage(w, http.StatusBadRequest, "Sign-in failed", "This sign-in link is no longer valid.")
		return
	}
	if e := r.FormValue("error"); e != "" {
		p.logger().Info("oauth2 consent declined", "error", e)
		writePage(w, http.StatusOK, "Sign-in cancelled", "You can close this window.")
		return
	}

	ctx := r.Context()
	if p.HTTPClient != nil {
		ctx = context.WithValue(ctx, oauth2.HTTPClient, p.HTTPClient)
	}
	tok, err := config.Exchange(ctx, r.FormValue("code"), oauth2.VerifierOption(verifier))
	if err != nil {
		p.logger().Warn("oauth2 code exchange failed", "error", err)
		writePage(w, http.StatusBadGateway, "Sign-in failed", "Could not complete sign-in with the provider.")
		return
	}
	idToken, _ := tok.Extra("id_token").(string)
	if idToken == "" {
		p.logger().Warn("oauth2 token response has no id_token")
		writePage(w, http.StatusBadGateway, "Sign-in failed", "The provider did not return an identity.")
		return
	}

	writePage(w, http.StatusOK, "Signed in", "You can close this window and return to the terminal.")
	_ = http.NewResponseController(w).Flush()
	if callback != nil {
		callback(authgate.CredentialResponse{Credential: idToken})
	}
}
