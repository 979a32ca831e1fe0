package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/coreos/go-oidc/v3/oidc"
)

const firebaseIssuerPrefix = "https://securetoken.google.com/"

// IdentityProvider verifies ID tokens minted by an external identity
// provider. It is constructed once per process and injected where needed.
type IdentityProvider interface {
	Verify(ctx context.Context, rawToken string) (ProviderClaims, error)
	// RevokeSessions invalidates every token issued to subject so far.
	RevokeSessions(ctx context.Context, subject string) error
}

// RevocationStore keeps a per-subject revocation watermark.
type RevocationStore interface {
	Revoke(ctx context.Context, subject string, at time.Time) error
	RevokedAt(ctx context.Context, subject string) (time.Time, bool, error)
}

// NopRevocations never revokes anything.
type NopRevocations struct{}

func (NopRevocations) Revoke(context.Context, string, time.Time) error { return nil }

func (NopRevocations) RevokedAt(context.Context, string) (time.Time, bool, error) {
	return time.Time{}, false, nil
}

// OIDCProvider verifies provider ID tokens through OpenID Connect discovery.
type OIDCProvider struct {
	verifier    *oidc.IDTokenVerifier
	revocations RevocationStore
	now         func() time.Time
}

type providerTokenClaims struct {
	Email         string `json:"email"`
	EmailVerified bool   `json:"email_verified"`
	Name          string `json:"name"`
	Picture       string `json:"picture"`
	PhoneNumber   string `json:"phone_number"`
}

// NewFirebaseProvider discovers the Firebase issuer for projectID and builds
// a verifier whose audience is the project id.
func NewFirebaseProvider(ctx context.Context, projectID string, revocations RevocationStore) (*OIDCProvider, error) {
	projectID = strings.TrimSpace(projectID)
	if projectID == "" {
		return nil, errors.New("firebase project id is required")
	}
	provider, err := oidc.NewProvider(ctx, firebaseIssuerPrefix+projectID)
	if err != nil {
		return nil, fmt.Errorf("failed to discover identity provider: %w", err)
	}
	verifier := provider.Verifier(&oidc.Config{ClientID: projectID})
	return NewOIDCProvider(verifier, revocations), nil
}

// NewOIDCProvider wraps an existing verifier. A nil revocations store
// disables session revocation.
func NewOIDCProvider(verifier *oidc.IDTokenVerifier, revocations RevocationStore) *OIDCProvider {
	if revocations == nil {
		revocations = NopRevocations{}
	}
	return &OIDCProvider{verifier: verifier, revocations: revocations, now: time.Now}
}

// Verify checks the token signature, audience, issuer and expiry, then
// rejects tokens issued before the subject's revocation watermark.
func (p *OIDCProvider) Verify(ctx context.Context, rawToken string) (ProviderClaims, error) {
	idToken, err := p.verifier.Verify(ctx, rawToken)
	if err != nil {
		return ProviderClaims{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	var claims providerTokenClaims
	if err := idToken.Claims(&claims); err != nil {
		return ProviderClaims{}, fmt.Errorf("%w: decode claims: %v", ErrInvalidToken, err)
	}
	if strings.TrimSpace(idToken.Subject) == "" {
		return ProviderClaims{}, fmt.Errorf("%w: subject missing", ErrInvalidToken)
	}
	revokedAt, revoked, err := p.revocations.RevokedAt(ctx, idToken.Subject)
	if err != nil {
		return ProviderClaims{}, fmt.Errorf("check revocation: %w", err)
	}
	if revoked && idToken.IssuedAt.Before(revokedAt) {
		return ProviderClaims{}, ErrSessionRevoked
	}
	return ProviderClaims{
		Subject:       idToken.Subject,
		Email:         strings.ToLower(strings.TrimSpace(claims.Email)),
		EmailVerified: claims.EmailVerified,
		Name:          strings.TrimSpace(claims.Name),
		Picture:       claims.Picture,
		Phone:         claims.PhoneNumber,
		IssuedAt:      idToken.IssuedAt,
	}, nil
}

// RevokeSessions moves the subject's revocation watermark to now.
func (p *OIDCProvider) RevokeSessions(ctx context.Context, subject string) error {
	subject = strings.TrimSpace(subject)
	if subject == "" {
		return fmt.Errorf("%w: subject is required", ErrInvalidInput)
	}
	return p.revocations.Revoke(ctx, subject, p.now().UTC())
}
