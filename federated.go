package authgate

import (
	"context"
	"errors"
	"fmt"
)

// ProviderConfig is the fixed client configuration handed to the identity
// provider before prompting.
type ProviderConfig struct {
	ClientID           string
	AutoSelect         bool
	CancelOnTapOutside bool
}

// CredentialResponse is the provider callback payload. Only Credential is
// read, and it is never parsed.
type CredentialResponse struct {
	Credential string
}

// FederatedProvider is the identity provider collaborator.
//
// Load brings the provider's resources up (the equivalent of injecting its
// script), Initialize registers the configuration and callback, and Prompt
// asks the provider to show its sign-in prompt. Cancel dismisses a pending
// prompt and Unload releases everything Load acquired. Cancel and Unload must
// be safe to call in any state, including before Load succeeded.
type FederatedProvider interface {
	Load(ctx context.Context) error
	Initialize(cfg ProviderConfig, callback func(CredentialResponse))
	Prompt() error
	Cancel()
	Unload()
}

// ErrPromptDismissed is returned by RequestCredential when ctx ends before
// the provider answers.
var ErrPromptDismissed = errors.New("federated prompt dismissed")

// RequestCredential runs one explicit prompt and returns the credential the
// user picked. The provider is always cancelled and unloaded before return.
func RequestCredential(ctx context.Context, p FederatedProvider, cfg ProviderConfig) (string, error) {
	defer func() {
		p.Cancel()
		p.Unload()
	}()

	if err := p.Load(ctx); err != nil {
		return "", fmt.Errorf("load identity provider: %w", err)
	}

	got := make(chan string, 1)
	p.Initialize(cfg, func(resp CredentialResponse) {
		select {
		case got <- resp.Credential:
		default:
		}
	})
	if err := p.Prompt(); err != nil {
		return "", fmt.Errorf("prompt identity provider: %w", err)
	}

	select {
	case cred := <-got:
		return cred, nil
	case <-ctx.Done():
		return "", fmt.Errorf("%w: %w", ErrPromptDismissed, ctx.Err())
	}
}
