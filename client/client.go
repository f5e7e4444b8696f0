package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/panyam/authgate"
)

// maxResponseBytes caps how much of a response body is read
const maxResponseBytes = 1 << 20

// DefaultUserAgent is sent on every request unless overridden
const DefaultUserAgent = "authgate-client"

// Endpoints are the server paths of the request contract
type Endpoints struct {
	Me             string
	Login          string
	Google         string
	SignupInitiate string
	SignupVerify   string
	Logout         string
}

// DefaultEndpoints returns the standard contract paths
func DefaultEndpoints() Endpoints {
	return Endpoints{
		Me:             "/auth/me",
		Login:          "/auth/login",
		Google:         "/auth/google",
		SignupInitiate: "/auth/signup/initiate",
		SignupVerify:   "/auth/signup/verify",
		Logout:         "/auth/logout",
	}
}

// APIClient talks to the session server. Cookies are sent on every call.
type APIClient struct {
	serverURL     *url.URL
	httpClient    *http.Client
	baseTransport http.RoundTripper
	endpoints     Endpoints
	store         CookieStore
	jar           *persistentJar
	userAgent     string
	logger        *slog.Logger
}

var _ authgate.API = (*APIClient)(nil)

// errorBody is the server's rejection payload
type errorBody struct {
	Message string `json:"message"`
	Error   string `json:"error"`
}

type userBody struct {
	User *authgate.Identity `json:"user"`
}

type credentialBody struct {
	Credential string `json:"credential"`
}

// ClientOption configures an APIClient
type ClientOption func(*APIClient)

// WithEndpoints overrides the contract paths
func WithEndpoints(e Endpoints) ClientOption {
	return func(c *APIClient) {
		c.endpoints = e
	}
}

// WithHTTPClient sets a custom base HTTP client (for timeouts, TLS config, etc.)
// The transport from this client will be wrapped with header handling and
// the client's own cookie jar is replaced.
func WithHTTPClient(client *http.Client) ClientOption {
	return func(c *APIClient) {
		if client != nil && client.Transport != nil {
			c.baseTransport = client.Transport
		}
		if client != nil {
			c.httpClient.Timeout = client.Timeout
			c.httpClient.CheckRedirect = client.CheckRedirect
		}
	}
}

// WithTransport sets a custom base transport (for connection pooling, proxies, etc.)
func WithTransport(transport http.RoundTripper) ClientOption {
	return func(c *APIClient) {
		c.baseTransport = transport
	}
}

// WithTimeout bounds every request
func WithTimeout(d time.Duration) ClientOption {
	return func(c *APIClient) {
		c.httpClient.Timeout = d
	}
}

// WithCookieStore persists session cookies across client instances
func WithCookieStore(store CookieStore) ClientOption {
	return func(c *APIClient) {
		c.store = store
	}
}

// WithLogger sets the logger for persistence warnings
func WithLogger(logger *slog.Logger) ClientOption {
	return func(c *APIClient) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithUserAgent overrides DefaultUserAgent
func WithUserAgent(ua string) ClientOption {
	return func(c *APIClient) {
		c.userAgent = ua
	}
}

// NewAPIClient creates a client for the server at serverURL
func NewAPIClient(serverURL string, opts ...ClientOption) *APIClient {
	u, err := url.Parse(strings.TrimSuffix(serverURL, "/"))
	if err != nil || u.Scheme == "" || u.Host == "" {
		u = &url.URL{Scheme: "https", Host: serverURL}
	}
	u.RawQuery, u.Fragment = "", ""

	c := &APIClient{
		serverURL:     u,
		httpClient:    &http.Client{},
		baseTransport: http.DefaultTransport,
		endpoints:     DefaultEndpoints(),
		userAgent:     DefaultUserAgent,
		logger:        slog.Default(),
	}

	for _, opt := range opts {
		opt(c)
	}

	c.jar = newPersistentJar(c.serverURL, c.store, c.logger)
	c.httpClient.Jar = c.jar
	c.httpClient.Transport = NewHeaderTransport(c.baseTransport, c.userAgent)

	return c
}

// HTTPClient returns the underlying HTTP client with the session jar
func (c *APIClient) HTTPClient() *http.Client {
	return c.httpClient
}

// ServerURL returns the server URL this client is configured for
func (c *APIClient) ServerURL() string {
	return c.serverURL.String()
}

// HasSessionCookie returns true if the jar holds any cookie for the server
func (c *APIClient) HasSessionCookie() bool {
	return len(c.jar.Cookies(c.serverURL)) > 0
}

// Me fetches the current session's identity
func (c *APIClient) Me(ctx context.Context) (*authgate.Identity, error) {
	var out userBody
	if _, err := c.do(ctx, http.MethodGet, c.endpoints.Me, nil, &out); err != nil {
		return nil, err
	}
	return out.User, nil
}

// Login authenticates with email and password
func (c *APIClient) Login(ctx context.Context, req authgate.LoginRequest) (*authgate.LoginResponse, error) {
	var out authgate.LoginResponse
	if _, err := c.do(ctx, http.MethodPost, c.endpoints.Login, req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// ExchangeCredential trades a federated credential for a session
func (c *APIClient) ExchangeCredential(ctx context.Context, credential string) (*authgate.Identity, error) {
	var out userBody
	if _, err := c.do(ctx, http.MethodPost, c.endpoints.Google, credentialBody{Credential: credential}, &out); err != nil {
		return nil, err
	}
	return out.User, nil
}

// SignupInitiate asks the server to email an OTP
func (c *APIClient) SignupInitiate(ctx context.Context, req authgate.SignupRequest) error {
	_, err := c.do(ctx, http.MethodPost, c.endpoints.SignupInitiate, req, nil)
	return err
}

// SignupVerify exchanges an OTP for a session
func (c *APIClient) SignupVerify(ctx context.Context, req authgate.VerifyRequest) (*authgate.VerifyResponse, error) {
	var out authgate.VerifyResponse
	status, err := c.do(ctx, http.MethodPost, c.endpoints.SignupVerify, req, &out)
	if err != nil {
		return nil, err
	}
	out.StatusCode = status
	return &out, nil
}

// Logout ends the server session. Local cookies are dropped whatever the
// server answers.
func (c *APIClient) Logout(ctx context.Context) error {
	defer c.jar.clear()
	_, err := c.do(ctx, http.MethodPost, c.endpoints.Logout, nil, nil)
	return err
}

// do performs a JSON request and decodes a 2xx body into out
func (c *APIClient) do(ctx context.Context, method, path string, body, out any) (int, error) {
	var reader io.Reader
	if body != nil {
		jsonBody, err := json.Marshal(body)
		if err != nil {
			return 0, fmt.Errorf("failed to encode request: %w", err)
		}
		reader = bytes.NewReader(jsonBody)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.serverURL.String()+path, reader)
	if err != nil {
		return 0, fmt.Errorf("failed to build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, fmt.Errorf("%s %s: %w: %w", method, path, authgate.ErrTransport, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return resp.StatusCode, fmt.Errorf("%s %s: %w: failed to read response: %w", method, path, authgate.ErrTransport, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var eb errorBody
		_ = json.Unmarshal(data, &eb)
		msg := eb.Message
		if msg == "" {
			msg = eb.Error
		}
		return resp.StatusCode, &authgate.ServerError{StatusCode: resp.StatusCode, Message: msg}
	}

	if out != nil && len(bytes.TrimSpace(data)) > 0 {
		if err := json.Unmarshal(data, out); err != nil {
			return resp.StatusCode, fmt.Errorf("invalid response from server: %w", err)
		}
	}
	return resp.StatusCode, nil
}
