package authgate_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	ag "github.com/panyam/authgate"
	"github.com/panyam/authgate/authtest"
	"github.com/panyam/authgate/client"
)

// quietLogger keeps flow logs out of test output
var quietLogger = slog.New(slog.NewTextHandler(io.Discard, nil))

var errOffline = errors.New("offline")

// fakeAPI is a scripted ag.API. Unscripted calls fail.
type fakeAPI struct {
	mu    sync.Mutex
	calls map[string]int

	me       func(ctx context.Context) (*ag.Identity, error)
	login    func(ctx context.Context, req ag.LoginRequest) (*ag.LoginResponse, error)
	exchange func(ctx context.Context, credential string) (*ag.Identity, error)
	initiate func(ctx context.Context, req ag.SignupRequest) error
	verify   func(ctx context.Context, req ag.VerifyRequest) (*ag.VerifyResponse, error)
	logout   func(ctx context.Context) error
}

var errNotScripted = errors.New("not scripted")

func (f *fakeAPI) record(op string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.calls == nil {
		f.calls = make(map[string]int)
	}
	f.calls[op]++
}

func (f *fakeAPI) Calls(op string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[op]
}

func (f *fakeAPI) Me(ctx context.Context) (*ag.Identity, error) {
	f.record("me")
	if f.me == nil {
		return nil, nil
	}
	return f.me(ctx)
}

func (f *fakeAPI) Login(ctx context.Context, req ag.LoginRequest) (*ag.LoginResponse, error) {
	f.record("login")
	if f.login == nil {
		return nil, errNotScripted
	}
	return f.login(ctx, req)
}

func (f *fakeAPI) ExchangeCredential(ctx context.Context, credential string) (*ag.Identity, error) {
	f.record("exchange")
	if f.exchange == nil {
		return nil, errNotScripted
	}
	return f.exchange(ctx, credential)
}

func (f *fakeAPI) SignupInitiate(ctx context.Context, req ag.SignupRequest) error {
	f.record("initiate")
	if f.initiate == nil {
		return errNotScripted
	}
	return f.initiate(ctx, req)
}

func (f *fakeAPI) SignupVerify(ctx context.Context, req ag.VerifyRequest) (*ag.VerifyResponse, error) {
	f.record("verify")
	if f.verify == nil {
		return nil, errNotScripted
	}
	return f.verify(ctx, req)
}

func (f *fakeAPI) Logout(ctx context.Context) error {
	f.record("logout")
	if f.logout == nil {
		return nil
	}
	return f.logout(ctx)
}

// TestEnv wires a session store to the fake server over real HTTP
type TestEnv struct {
	Server  *authtest.Server
	HTTP    *httptest.Server
	Client  *client.APIClient
	Store   *ag.SessionStore
	History *ag.History
	Router  *ag.Router
}

func setupEnv(t *testing.T) *TestEnv {
	t.Helper()
	srv := authtest.New()
	srv.Logger = quietLogger
	srv.OTPSender = authtest.OTPSenderFunc(func(to, businessName, otp string) error { return nil })
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)

	c := client.NewAPIClient(ts.URL, client.WithLogger(quietLogger))
	store := ag.NewSessionStore(c, ag.WithStoreLogger(quietLogger))
	t.Cleanup(store.Wait)

	return &TestEnv{
		Server:  srv,
		HTTP:    ts,
		Client:  c,
		Store:   store,
		History: ag.NewHistory(ag.PathGate),
		Router:  ag.DefaultRouter(),
	}
}

// Bootstrap runs discovery without a federated provider
func (e *TestEnv) Bootstrap(t *testing.T) {
	t.Helper()
	b := &ag.Bootstrapper{Store: e.Store, API: e.Client, Logger: quietLogger}
	if err := b.Run(t.Context()); err != nil {
		t.Fatalf("Bootstrap Run() error = %v", err)
	}
}

// Visit resolves path against the current session and records where it lands
func (e *TestEnv) Visit(path string) ag.Resolution {
	res := e.Router.Resolve(path, e.Store.Get())
	e.History.Navigate(res.Path, res.Replace)
	return res
}

// waitFor polls cond until it holds or the deadline passes
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

func identity(id string, role ag.Role) *ag.Identity {
	return &ag.Identity{ID: id, Role: role}
}
