// Package client provides the HTTP implementation of the authgate request
// contract. It includes cookie persistence so a session survives restarts.
package client

import (
	"log/slog"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"sync"
	"time"

	"golang.org/x/net/publicsuffix"
)

// StoredCookie is a session cookie as the server set it. A zero Expires
// marks a browser-session cookie, which is kept until the server replaces or
// clears it.
type StoredCookie struct {
	Name     string    `json:"name"`
	Value    string    `json:"value"`
	Path     string    `json:"path,omitempty"`
	Expires  time.Time `json:"expires,omitzero"`
	Secure   bool      `json:"secure,omitempty"`
	HttpOnly bool      `json:"http_only,omitempty"`
}

// Expired reports whether the cookie's expiry has passed at now
func (c StoredCookie) Expired(now time.Time) bool {
	return !c.Expires.IsZero() && !now.Before(c.Expires)
}

// HTTPCookie converts the stored cookie back for a cookie jar
func (c StoredCookie) HTTPCookie() *http.Cookie {
	path := c.Path
	if path == "" {
		path = "/"
	}
	return &http.Cookie{
		Name:     c.Name,
		Value:    c.Value,
		Path:     path,
		Expires:  c.Expires,
		Secure:   c.Secure,
		HttpOnly: c.HttpOnly,
	}
}

// storedCookie captures the attributes of a Set-Cookie received at now.
// Max-Age wins over Expires.
func storedCookie(c *http.Cookie, now time.Time) StoredCookie {
	sc := StoredCookie{
		Name:     c.Name,
		Value:    c.Value,
		Path:     c.Path,
		Expires:  c.Expires,
		Secure:   c.Secure,
		HttpOnly: c.HttpOnly,
	}
	switch {
	case c.MaxAge > 0:
		sc.Expires = now.Add(time.Duration(c.MaxAge) * time.Second)
	case c.MaxAge < 0:
		sc.Expires = now
	}
	if sc.Path == "" {
		sc.Path = "/"
	}
	return sc
}

// ServerCookies holds the session cookies saved for a single server
type ServerCookies struct {
	Cookies []StoredCookie `json:"cookies"`
	SavedAt time.Time      `json:"saved_at"`
}

// IsEmpty returns true if there is nothing worth persisting
func (c *ServerCookies) IsEmpty() bool {
	return c == nil || len(c.Cookies) == 0
}

// Live returns a copy without the cookies expired at now, or nil when none
// are left.
func (c *ServerCookies) Live(now time.Time) *ServerCookies {
	if c.IsEmpty() {
		return nil
	}
	live := &ServerCookies{SavedAt: c.SavedAt}
	for _, sc := range c.Cookies {
		if !sc.Expired(now) {
			live.Cookies = append(live.Cookies, sc)
		}
	}
	if live.IsEmpty() {
		return nil
	}
	return live
}

// CookieStore defines the interface for persisting session cookies
type CookieStore interface {
	// GetCookies retrieves the cookies for a server URL
	// Returns nil, nil if nothing is stored for the server
	GetCookies(serverURL string) (*ServerCookies, error)

	// SetCookies stores the cookies for a server URL
	SetCookies(serverURL string, cookies *ServerCookies) error

	// RemoveCookies removes the cookies for a server URL
	RemoveCookies(serverURL string) error

	// ListServers returns the server URLs that still hold unexpired cookies
	ListServers() ([]string, error)

	// Save persists any pending changes (for stores that batch writes)
	Save() error
}

// persistentJar is a public-suffix aware cookie jar that mirrors the
// session server's cookies into a CookieStore. The jar only reports names
// and values, so the Set-Cookie attributes are tracked alongside it.
type persistentJar struct {
	mu        sync.Mutex
	jar       *cookiejar.Jar
	serverURL *url.URL
	store     CookieStore
	attrs     map[string]StoredCookie
	logger    *slog.Logger
}

func newPersistentJar(serverURL *url.URL, store CookieStore, logger *slog.Logger) *persistentJar {
	// cookiejar.New only fails on bad options
	jar, _ := cookiejar.New(&cookiejar.Options{PublicSuffixList: publicsuffix.List})
	j := &persistentJar{
		jar:       jar,
		serverURL: serverURL,
		store:     store,
		attrs:     make(map[string]StoredCookie),
		logger:    logger,
	}
	j.load()
	return j
}

func (j *persistentJar) load() {
	if j.store == nil {
		return
	}
	saved, err := j.store.GetCookies(j.serverURL.String())
	if err != nil {
		j.logger.Warn("could not load saved session cookies", "error", err)
		return
	}
	saved = saved.Live(time.Now())
	if saved == nil {
		return
	}
	cookies := make([]*http.Cookie, 0, len(saved.Cookies))
	j.mu.Lock()
	for _, sc := range saved.Cookies {
		j.attrs[sc.Name] = sc
		cookies = append(cookies, sc.HTTPCookie())
	}
	j.mu.Unlock()
	j.jar.SetCookies(j.serverURL, cookies)
}

// SetCookies implements http.CookieJar
func (j *persistentJar) SetCookies(u *url.URL, cookies []*http.Cookie) {
	j.jar.SetCookies(u, cookies)
	if u.Host != j.serverURL.Host {
		return
	}
	now := time.Now()
	j.mu.Lock()
	for _, c := range cookies {
		j.attrs[c.Name] = storedCookie(c, now)
	}
	j.mu.Unlock()
	j.persist()
}

// Cookies implements http.CookieJar
func (j *persistentJar) Cookies(u *url.URL) []*http.Cookie {
	return j.jar.Cookies(u)
}

// clear expires every cookie held for the session server.
func (j *persistentJar) clear() {
	current := j.jar.Cookies(j.serverURL)
	if len(current) == 0 {
		return
	}
	expired := make([]*http.Cookie, 0, len(current))
	for _, c := range current {
		expired = append(expired, &http.Cookie{Name: c.Name, Path: "/", MaxAge: -1})
	}
	j.jar.SetCookies(j.serverURL, expired)
	j.persist()
}

func (j *persistentJar) persist() {
	if j.store == nil {
		return
	}
	j.mu.Lock()
	defer j.mu.Unlock()

	key := j.serverURL.String()
	current := j.jar.Cookies(j.serverURL)
	var err error
	if len(current) == 0 {
		clear(j.attrs)
		err = j.store.RemoveCookies(key)
	} else {
		saved := &ServerCookies{SavedAt: time.Now()}
		for _, c := range current {
			sc, ok := j.attrs[c.Name]
			if !ok {
				sc = StoredCookie{Name: c.Name, Path: "/"}
			}
			sc.Value = c.Value
			saved.Cookies = append(saved.Cookies, sc)
		}
		err = j.store.SetCookies(key, saved)
	}
	if err == nil {
		err = j.store.Save()
	}
	if err != nil {
		j.logger.Warn("could not persist session cookies", "error", err)
	}
}
