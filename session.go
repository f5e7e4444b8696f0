package authgate

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

const (
	// DefaultLogoutTimeout bounds the background logout notification.
	DefaultLogoutTimeout = 10 * time.Second

	// DefaultRefreshTimeout bounds a shared session refresh.
	DefaultRefreshTimeout = 15 * time.Second
)

// State is a snapshot of the session. While Loading is true Identity is not
// authoritative and consumers must not act on it.
type State struct {
	Identity *Identity
	Loading  bool
}

// Authenticated reports whether the state settled with an identity.
func (s State) Authenticated() bool {
	return !s.Loading && s.Identity != nil
}

// SessionStore owns the process-wide session state. All mutation goes
// through its methods; subscribers are notified after every change.
type SessionStore struct {
	mu        sync.Mutex
	api       API
	state     State
	seq       uint64
	listeners map[int]func(State)
	nextID    int

	refreshes      singleflight.Group
	background     sync.WaitGroup
	logger         *slog.Logger
	logoutTimeout  time.Duration
	refreshTimeout time.Duration
}

// StoreOption configures a SessionStore
type StoreOption func(*SessionStore)

// WithStoreLogger sets the logger used for background failures
func WithStoreLogger(logger *slog.Logger) StoreOption {
	return func(s *SessionStore) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithLogoutTimeout bounds how long the fire-and-forget logout call may run
func WithLogoutTimeout(d time.Duration) StoreOption {
	return func(s *SessionStore) {
		if d > 0 {
			s.logoutTimeout = d
		}
	}
}

// WithRefreshTimeout bounds the server call shared by concurrent refreshes
func WithRefreshTimeout(d time.Duration) StoreOption {
	return func(s *SessionStore) {
		if d > 0 {
			s.refreshTimeout = d
		}
	}
}

// NewSessionStore creates a store in the loading state with no identity.
func NewSessionStore(api API, opts ...StoreOption) *SessionStore {
	s := &SessionStore{
		api:            api,
		state:          State{Loading: true},
		listeners:      make(map[int]func(State)),
		logger:         slog.Default(),
		logoutTimeout:  DefaultLogoutTimeout,
		refreshTimeout: DefaultRefreshTimeout,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Get returns a read-only snapshot of the current state.
func (s *SessionStore) Get() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

// SetIdentity overwrites the identity. Loading is left untouched.
func (s *SessionStore) SetIdentity(id *Identity) {
	s.mu.Lock()
	s.seq++
	changed := !sameIdentity(s.state.Identity, id)
	s.state.Identity = cloneIdentity(id)
	snap := s.snapshotLocked()
	s.mu.Unlock()

	if changed {
		s.notify(snap)
	}
}

// SetLoading sets the bootstrap loading flag.
func (s *SessionStore) SetLoading(loading bool) {
	s.mu.Lock()
	changed := s.state.Loading != loading
	s.state.Loading = loading
	snap := s.snapshotLocked()
	s.mu.Unlock()

	if changed {
		s.notify(snap)
	}
}

// Logout clears the identity immediately and notifies the server in the
// background. Connectivity failures never keep the user signed in.
func (s *SessionStore) Logout(ctx context.Context) {
	s.SetIdentity(nil)

	s.background.Add(1)
	go func() {
		defer s.background.Done()
		ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.logoutTimeout)
		defer cancel()
		if err := s.api.Logout(ctx); err != nil {
			s.logger.Warn("server logout failed", "error", err)
		}
	}()
}

// Refresh re-queries the server and overwrites the identity. Any failure
// clears the identity. A result is dropped if the identity was written by
// someone else while the request was in flight.
//
// Concurrent callers share one request. It runs detached from any single
// caller's context, so a caller that gives up gets ctx.Err() while the
// others still receive the server's answer.
func (s *SessionStore) Refresh(ctx context.Context) error {
	ch := s.refreshes.DoChan("me", func() (any, error) {
		callCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.refreshTimeout)
		defer cancel()

		seq := s.beginWrite()
		id, err := s.api.Me(callCtx)
		if err != nil {
			s.logger.Debug("session refresh failed", "error", err)
			id = nil
		}
		if !s.setIdentityIfCurrent(seq, id) {
			s.logger.Debug("discarding stale session refresh")
		}
		return nil, err
	})

	select {
	case res := <-ch:
		return res.Err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Subscribe registers fn for state changes and returns a function that
// removes it.
func (s *SessionStore) Subscribe(fn func(State)) (unsubscribe func()) {
	s.mu.Lock()
	id := s.nextID
	s.nextID++
	s.listeners[id] = fn
	s.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			delete(s.listeners, id)
			s.mu.Unlock()
		})
	}
}

// Wait blocks until background server notifications have finished.
func (s *SessionStore) Wait() {
	s.background.Wait()
}

// beginWrite returns the sequence a later conditional write must match.
func (s *SessionStore) beginWrite() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.seq
}

// setIdentityIfCurrent applies id only if no identity write happened since
// seq was taken. It reports whether the write was applied.
func (s *SessionStore) setIdentityIfCurrent(seq uint64, id *Identity) bool {
	s.mu.Lock()
	if s.seq != seq {
		s.mu.Unlock()
		return false
	}
	s.seq++
	changed := !sameIdentity(s.state.Identity, id)
	s.state.Identity = cloneIdentity(id)
	snap := s.snapshotLocked()
	s.mu.Unlock()

	if changed {
		s.notify(snap)
	}
	return true
}

func (s *SessionStore) snapshotLocked() State {
	return State{Identity: cloneIdentity(s.state.Identity), Loading: s.state.Loading}
}

func (s *SessionStore) notify(snap State) {
	s.mu.Lock()
	fns := make([]func(State), 0, len(s.listeners))
	for _, fn := range s.listeners {
		fns = append(fns, fn)
	}
	s.mu.Unlock()

	for _, fn := range fns {
		fn(State{Identity: cloneIdentity(snap.Identity), Loading: snap.Loading})
	}
}
