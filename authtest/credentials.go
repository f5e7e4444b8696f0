package authtest

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/panyam/authgate"
	"google.golang.org/api/idtoken"
)

// CredentialAudience is the audience of credentials minted by IssueCredential
const CredentialAudience = "authtest"

// FederatedClaims is what the server learns from a federated credential
type FederatedClaims struct {
	Subject string
	Email   string
	// Role is only honoured for credentials minted by this package
	Role authgate.Role
}

// CredentialVerifier validates an opaque federated credential
type CredentialVerifier func(ctx context.Context, credential string) (*FederatedClaims, error)

type credentialClaims struct {
	Email string        `json:"email"`
	Role  authgate.Role `json:"role,omitempty"`
	jwt.RegisteredClaims
}

// IssueCredential mints an HS256 credential standing in for a provider ID token
func IssueCredential(secret []byte, email string, role authgate.Role) (string, error) {
	now := time.Now()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, credentialClaims{
		Email: email,
		Role:  role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   email,
			Issuer:    "authtest-idp",
			Audience:  jwt.ClaimStrings{CredentialAudience},
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(5 * time.Minute)),
		},
	})
	signed, err := token.SignedString(secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign credential: %w", err)
	}
	return signed, nil
}

// HS256CredentialVerifier accepts credentials minted by IssueCredential
func HS256CredentialVerifier(secret []byte) CredentialVerifier {
	return func(ctx context.Context, credential string) (*FederatedClaims, error) {
		var claims credentialClaims
		_, err := jwt.ParseWithClaims(credential, &claims, func(t *jwt.Token) (any, error) {
			return secret, nil
		},
			jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
			jwt.WithAudience(CredentialAudience),
			jwt.WithExpirationRequired(),
		)
		if err != nil {
			return nil, fmt.Errorf("invalid credential: %w", err)
		}
		if claims.Email == "" {
			return nil, errors.New("invalid credential: no email claim")
		}
		return &FederatedClaims{Subject: claims.Subject, Email: claims.Email, Role: claims.Role}, nil
	}
}

// GoogleCredentialVerifier accepts real Google ID tokens issued to clientID
func GoogleCredentialVerifier(clientID string) CredentialVerifier {
	return func(ctx context.Context, credential string) (*FederatedClaims, error) {
		payload, err := idtoken.Validate(ctx, credential, clientID)
		if err != nil {
			return nil, fmt.Errorf("invalid google credential: %w", err)
		}
		email, _ := payload.Claims["email"].(string)
		if email == "" {
			return nil, errors.New("invalid google credential: no email claim")
		}
		return &FederatedClaims{Subject: payload.Subject, Email: email}, nil
	}
}

// AnyCredentialVerifier tries each verifier in order and returns the first success
func AnyCredentialVerifier(verifiers ...CredentialVerifier) CredentialVerifier {
	return func(ctx context.Context, credential string) (*FederatedClaims, error) {
		var errs []error
		for _, v := range verifiers {
			claims, err := v(ctx, credential)
			if err == nil {
				return claims, nil
			}
			errs = append(errs, err)
		}
		return nil, errors.Join(errs...)
	}
}
