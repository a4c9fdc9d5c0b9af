package authn

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-jose/go-jose/v4"
	"github.com/go-jose/go-jose/v4/jwt"
)

var signatureAlgorithms = []jose.SignatureAlgorithm{
	jose.ES256, jose.ES384, jose.ES512,
	jose.RS256, jose.RS384, jose.RS512,
	jose.PS256, jose.PS384, jose.PS512,
	jose.EdDSA,
}

type Verifier[T any] interface {
	Verify(ctx context.Context, token string) (*Claims[T], error)
}

type Claims[T any] struct {
	jwt.Claims
	Rest T
}

var _ Verifier[struct{}] = (*VerifierBase[struct{}])(nil)

func NewVerifier[T any](cfg VerifierConfig, keys KeyRetriever) *VerifierBase[T] {
	return &VerifierBase[T]{cfg: cfg, keys: keys, now: time.Now}
}

// VerifierBase verifies the signature, expiry and audience of a jwt.
type VerifierBase[T any] struct {
	cfg  VerifierConfig
	keys KeyRetriever
	now  func() time.Time
}

func (v *VerifierBase[T]) Verify(ctx context.Context, token string) (*Claims[T], error) {
	parsed, err := jwt.ParseSigned(token, signatureAlgorithms)
	if err != nil {
		return nil, ErrParseToken
	}

	keyID, err := getKeyID(parsed.Headers)
	if err != nil {
		return nil, err
	}

	jwk, err := v.keys.Get(ctx, keyID)
	if err != nil {
		return nil, err
	}

	claims := Claims[T]{}
	if err := parsed.Claims(jwk, &claims.Claims, &claims.Rest); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSigningKey, err)
	}

	if err := claims.Validate(jwt.Expected{Time: v.now()}); err != nil {
		if errors.Is(err, jwt.ErrExpired) {
			return nil, ErrExpiredToken
		}
		return nil, fmt.Errorf("%w: %v", errInvalidToken, err)
	}

	if len(v.cfg.AllowedAudiences) > 0 {
		for _, allowed := range v.cfg.AllowedAudiences {
			if claims.Audience.Contains(allowed) {
				return &claims, nil
			}
		}
		return nil, ErrInvalidAudience
	}

	return &claims, nil
}

func getKeyID(headers []jose.Header) (string, error) {
	for _, h := range headers {
		if h.KeyID != "" {
			return h.KeyID, nil
		}
	}
	return "", ErrInvalidSigningKey
}
