package authn

import (
	"context"
	"fmt"
	"time"
)

// IdentityClaims are the non registered claims of an access token.
type IdentityClaims struct {
	Name   string   `json:"name"`
	Email  string   `json:"email"`
	Scopes []string `json:"scopes"`
}

// Identity is the authenticated caller.
type Identity struct {
	Subject  string
	Name     string
	Email    string
	Scopes   []string
	Audience []string
	Expiry   time.Time
}

func newIdentity(c *Claims[IdentityClaims]) *Identity {
	id := &Identity{
		Subject:  c.Subject,
		Name:     c.Rest.Name,
		Email:    c.Rest.Email,
		Scopes:   c.Rest.Scopes,
		Audience: c.Audience,
	}
	if c.Expiry != nil {
		id.Expiry = c.Expiry.Time()
	}
	return id
}

// Authenticator is used to authenticate request using the provided TokenProvider.
type Authenticator interface {
	Authenticate(ctx context.Context, provider TokenProvider) (*Identity, error)
}

var _ Authenticator = (*AccessTokenAuthenticator)(nil)

func NewAccessTokenAuthenticator(v Verifier[IdentityClaims]) *AccessTokenAuthenticator {
	return &AccessTokenAuthenticator{v}
}

// NewAuthenticator builds an AccessTokenAuthenticator verifying tokens against the configured jwks endpoint.
func NewAuthenticator(cfg VerifierConfig, opts ...KeyServiceOption) (*AccessTokenAuthenticator, error) {
	if cfg.SigningKeysURL == "" {
		return nil, fmt.Errorf("missing signing keys URL: %w", ErrMissingConfig)
	}
	keys := NewKeyService(cfg.SigningKeysURL, opts...)
	return NewAccessTokenAuthenticator(NewVerifier[IdentityClaims](cfg, keys)), nil
}

// AccessTokenAuthenticator authenticates using the access token.
type AccessTokenAuthenticator struct {
	v Verifier[IdentityClaims]
}

func (a *AccessTokenAuthenticator) Authenticate(ctx context.Context, provider TokenProvider) (*Identity, error) {
	token, ok := provider.AccessToken(ctx)
	if !ok {
		return nil, ErrMissingRequiredToken
	}

	claims, err := a.v.Verify(ctx, token)
	if err != nil {
		return nil, fmt.Errorf("failed to verify access token: %w", err)
	}
	if claims.Subject == "" {
		return nil, ErrMissingSubject
	}

	return newIdentity(claims), nil
}
