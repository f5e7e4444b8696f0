// Package fs keeps authgate session cookies in a JSON file so a session
// survives restarts of the CLI.
package fs

import (
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/url"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"

	"github.com/jonboulle/clockwork"
	"github.com/panyam/authgate/client"
)

// FileVersion is the layout written by Save
const FileVersion = 1

// ErrUnsupportedVersion is returned for cookie files written by a newer release
var ErrUnsupportedVersion = errors.New("unsupported cookies file version")

// FSCookieStore holds cookies per server in memory and writes them on Save.
// Expired cookies are dropped when the file is read and never handed out.
type FSCookieStore struct {
	mu      sync.Mutex
	path    string
	clock   clockwork.Clock
	servers map[string]*client.ServerCookies
	dirty   bool
}

var _ client.CookieStore = (*FSCookieStore)(nil)

type cookieFile struct {
	Version int                              `json:"version"`
	Servers map[string]*client.ServerCookies `json:"servers"`
}

// Option configures an FSCookieStore
type Option func(*FSCookieStore)

// WithClock sets the clock used for cookie expiry
func WithClock(clock clockwork.Clock) Option {
	return func(s *FSCookieStore) {
		s.clock = clock
	}
}

// DefaultPath returns ~/.config/<appName>/cookies.json, or the platform's
// config directory equivalent.
func DefaultPath(appName string) (string, error) {
	dir, err := os.UserConfigDir()
	if err != nil {
		home, herr := os.UserHomeDir()
		if herr != nil {
			return "", fmt.Errorf("could not determine config directory: %w", err)
		}
		dir = filepath.Join(home, ".config")
	}
	if appName == "" {
		appName = "authgate"
	}
	return filepath.Join(dir, appName, "cookies.json"), nil
}

// NewFSCookieStore opens the cookie file at path, or at DefaultPath(appName)
// when path is empty. A missing file is an empty store.
func NewFSCookieStore(path, appName string, opts ...Option) (*FSCookieStore, error) {
	if path == "" {
		p, err := DefaultPath(appName)
		if err != nil {
			return nil, err
		}
		path = p
	}

	s := &FSCookieStore{
		path:    path,
		clock:   clockwork.NewRealClock(),
		servers: make(map[string]*client.ServerCookies),
	}
	for _, opt := range opts {
		opt(s)
	}

	if err := s.load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, err
	}
	return s, nil
}

func (s *FSCookieStore) load() error {
	data, err := os.ReadFile(s.path)
	if err != nil {
		return err
	}

	var file cookieFile
	if err := json.Unmarshal(data, &file); err != nil {
		return fmt.Errorf("failed to parse cookies file: %w", err)
	}
	if file.Version > FileVersion {
		return fmt.Errorf("%s: %w %d", s.path, ErrUnsupportedVersion, file.Version)
	}

	now := s.clock.Now()
	for raw, saved := range file.Servers {
		key, err := serverKey(raw)
		if err != nil {
			s.dirty = true
			continue
		}
		live := saved.Live(now)
		if live == nil || len(live.Cookies) != len(saved.Cookies) || key != raw {
			s.dirty = true
		}
		if live != nil {
			s.servers[key] = live
		}
	}
	return nil
}

// serverKey reduces a server URL to a lowercase scheme://host[:port] with
// the scheme's default port removed. A missing scheme means https.
func serverKey(serverURL string) (string, error) {
	u, err := url.Parse(serverURL)
	if err != nil {
		return "", fmt.Errorf("invalid server URL: %w", err)
	}
	if u.Host == "" {
		return "", fmt.Errorf("invalid server URL %q: missing host", serverURL)
	}
	scheme := strings.ToLower(u.Scheme)
	if scheme == "" {
		scheme = "https"
	}
	host := strings.ToLower(u.Hostname())
	port := u.Port()
	if (scheme == "http" && port == "80") || (scheme == "https" && port == "443") {
		port = ""
	}
	if port != "" {
		host = net.JoinHostPort(host, port)
	} else if strings.Contains(host, ":") {
		host = "[" + host + "]"
	}
	return scheme + "://" + host, nil
}

// GetCookies returns the unexpired cookies for serverURL, or nil
func (s *FSCookieStore) GetCookies(serverURL string) (*client.ServerCookies, error) {
	key, err := serverKey(serverURL)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	return s.servers[key].Live(s.clock.Now()), nil
}

// SetCookies replaces the cookies for serverURL. Expired cookies are not
// kept, and a set with none left removes the server.
func (s *FSCookieStore) SetCookies(serverURL string, cookies *client.ServerCookies) error {
	key, err := serverKey(serverURL)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	live := cookies.Live(s.clock.Now())
	if live == nil {
		s.removeLocked(key)
		return nil
	}
	s.servers[key] = live
	s.dirty = true
	return nil
}

// RemoveCookies forgets serverURL
func (s *FSCookieStore) RemoveCookies(serverURL string) error {
	key, err := serverKey(serverURL)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.removeLocked(key)
	return nil
}

func (s *FSCookieStore) removeLocked(key string) {
	if _, ok := s.servers[key]; ok {
		delete(s.servers, key)
		s.dirty = true
	}
}

// ListServers returns, sorted, the servers that still hold unexpired cookies
func (s *FSCookieStore) ListServers() ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.clock.Now()
	var servers []string
	for key, saved := range s.servers {
		if saved.Live(now) != nil {
			servers = append(servers, key)
		}
	}
	slices.Sort(servers)
	return servers, nil
}

// Save writes the store when it changed since it was read or last saved.
// Cookies that expired in the meantime are left out of the file.
func (s *FSCookieStore) Save() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.clock.Now()
	for key, saved := range s.servers {
		live := saved.Live(now)
		switch {
		case live == nil:
			delete(s.servers, key)
			s.dirty = true
		case len(live.Cookies) != len(saved.Cookies):
			s.servers[key] = live
			s.dirty = true
		}
	}
	if !s.dirty {
		return nil
	}

	// Session cookies are bearer secrets: owner-only directory and file
	if err := os.MkdirAll(filepath.Dir(s.path), 0o700); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	data, err := json.MarshalIndent(cookieFile{Version: FileVersion, Servers: s.servers}, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to serialize cookies: %w", err)
	}
	if err := writeAtomicFile(s.path, data, 0o600); err != nil {
		return fmt.Errorf("failed to write cookies: %w", err)
	}

	s.dirty = false
	return nil
}

// Path returns the cookie file location
func (s *FSCookieStore) Path() string {
	return s.path
}
