package authtest

import (
	"context"
	"sync"

	"github.com/panyam/authgate"
)

// FakeProvider is a scripted authgate.FederatedProvider.
//
// When Credential is set, Prompt delivers it to the callback from a new
// goroutine, the way a real provider answers asynchronously. Otherwise the
// prompt stays open until Deliver is called.
type FakeProvider struct {
	LoadErr    error
	PromptErr  error
	Credential string

	mu       sync.Mutex
	cfg      authgate.ProviderConfig
	callback func(authgate.CredentialResponse)
	loaded   bool
	loads    int
	prompts  int
	cancels  int
	unloads  int
}

var _ authgate.FederatedProvider = (*FakeProvider)(nil)

func (p *FakeProvider) Load(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.loads++
	if p.LoadErr != nil {
		return p.LoadErr
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	p.loaded = true
	return nil
}

func (p *FakeProvider) Initialize(cfg authgate.ProviderConfig, callback func(authgate.CredentialResponse)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.cfg = cfg
	p.callback = callback
}

func (p *FakeProvider) Prompt() error {
	p.mu.Lock()
	p.prompts++
	err, cred := p.PromptErr, p.Credential
	p.mu.Unlock()

	if err != nil {
		return err
	}
	if cred != "" {
		go p.Deliver(cred)
	}
	return nil
}

// Deliver invokes the registered callback as the user picking an account.
// It returns false when no callback is registered or the provider is unloaded.
func (p *FakeProvider) Deliver(credential string) bool {
	p.mu.Lock()
	cb := p.callback
	ok := cb != nil && p.loaded
	p.mu.Unlock()

	if !ok {
		return false
	}
	cb(authgate.CredentialResponse{Credential: credential})
	return true
}

func (p *FakeProvider) Cancel() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.cancels++
}

func (p *FakeProvider) Unload() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.unloads++
	p.loaded = false
	p.callback = nil
}

// Config returns the configuration passed to Initialize
func (p *FakeProvider) Config() authgate.ProviderConfig {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.cfg
}

// Loaded reports whether the provider is loaded and not yet unloaded
func (p *FakeProvider) Loaded() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.loaded
}

// Counts returns how often each lifecycle method was called
func (p *FakeProvider) Counts() (loads, prompts, cancels, unloads int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.loads, p.prompts, p.cancels, p.unloads
}
