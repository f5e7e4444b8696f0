package authgate

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
)

// Bootstrapper discovers an existing session at startup and, when there is
// none, makes a single silent federated sign-in attempt.
type Bootstrapper struct {
	Store *SessionStore
	API   API

	// Optional provider for the silent prompt
	Provider       FederatedProvider
	ProviderConfig ProviderConfig

	Logger *slog.Logger

	mu           sync.Mutex
	prompted     bool
	federatedErr error
}

func (b *Bootstrapper) logger() *slog.Logger {
	if b.Logger != nil {
		return b.Logger
	}
	return slog.Default()
}

// Run performs session discovery and then the silent prompt if applicable.
// It returns once the prompt settles or ctx ends; either way the provider is
// cancelled and unloaded before returning. Discovery failures are not
// returned: they leave the session empty.
func (b *Bootstrapper) Run(ctx context.Context) error {
	b.discover(ctx)

	if b.Provider == nil || b.Store.Get().Identity != nil {
		return nil
	}

	b.mu.Lock()
	if b.prompted {
		b.mu.Unlock()
		return nil
	}
	b.prompted = true
	b.mu.Unlock()

	return b.silentPrompt(ctx)
}

// FederatedError returns the last silent prompt failure, if any.
func (b *Bootstrapper) FederatedError() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.federatedErr
}

func (b *Bootstrapper) discover(ctx context.Context) {
	defer b.Store.SetLoading(false)

	seq := b.Store.beginWrite()
	id, err := b.API.Me(ctx)
	if err != nil {
		b.logger().Info("session discovery failed", "error", err)
		id = nil
	}
	b.Store.setIdentityIfCurrent(seq, id)
}

func (b *Bootstrapper) silentPrompt(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	provider := b.Provider
	defer func() {
		provider.Cancel()
		provider.Unload()
	}()

	if err := provider.Load(ctx); err != nil {
		return b.federatedFailure("load identity provider", err)
	}
	if ctx.Err() != nil {
		return nil
	}

	// Any identity written after this point, such as a password login
	// finished while the prompt is open, wins over the silent result.
	seq := b.Store.beginWrite()

	settled := make(chan struct{})
	var once sync.Once
	provider.Initialize(b.ProviderConfig, func(resp CredentialResponse) {
		if ctx.Err() != nil {
			return
		}
		defer once.Do(func() { close(settled) })
		b.exchange(ctx, seq, resp.Credential)
	})

	if err := provider.Prompt(); err != nil {
		return b.federatedFailure("prompt identity provider", err)
	}

	select {
	case <-settled:
	case <-ctx.Done():
	}
	return nil
}

func (b *Bootstrapper) exchange(ctx context.Context, seq uint64, credential string) {
	id, err := b.API.ExchangeCredential(ctx, credential)
	if err != nil || id == nil {
		if err == nil {
			err = fmt.Errorf("exchange returned no user")
		}
		b.federatedFailure("silent federated login", err)
		return
	}
	if !b.Store.setIdentityIfCurrent(seq, id) {
		b.logger().Info("discarding silent sign-in: identity changed while the prompt was open")
	}
}

func (b *Bootstrapper) federatedFailure(op string, err error) error {
	err = fmt.Errorf("%s: %w", op, err)
	b.logger().Warn("federated sign-in failed", "error", err)
	b.mu.Lock()
	b.federatedErr = err
	b.mu.Unlock()
	return err
}
