package authn

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/go-jose/go-jose/v4"
	"golang.org/x/sync/singleflight"

	"github.com/kompo/authlib/cache"
)

const (
	cacheTTL             = 10 * time.Minute
	cacheCleanupInterval = 10 * time.Minute
)

// KeyRetriever returns the public key a token was signed with.
type KeyRetriever interface {
	Get(ctx context.Context, keyID string) (*jose.JSONWebKey, error)
}

type KeyServiceOption func(*KeyService)

func WithHTTPClientKeyServiceOpt(client *http.Client) KeyServiceOption {
	return func(s *KeyService) {
		s.client = client
	}
}

func WithCacheKeyServiceOpt(c cache.Cache) KeyServiceOption {
	return func(s *KeyService) {
		s.c = c
	}
}

var _ KeyRetriever = (*KeyService)(nil)

// KeyService fetches signing keys from a jwks endpoint and caches them by key id.
type KeyService struct {
	url    string
	client *http.Client
	s      singleflight.Group
	c      cache.Cache
}

func NewKeyService(jwksURL string, opts ...KeyServiceOption) *KeyService {
	s := &KeyService{
		url:    jwksURL,
		client: http.DefaultClient,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.c == nil {
		s.c = cache.NewLocalCache(cache.Config{
			Expiry:          cacheTTL,
			CleanupInterval: cacheCleanupInterval,
		})
	}
	return s
}

func (s *KeyService) Get(ctx context.Context, keyID string) (*jose.JSONWebKey, error) {
	jwk, ok := s.getCachedItem(ctx, keyID)
	if !ok {
		_, err, _ := s.s.Do("fetch", func() (any, error) {
			jwks, err := s.fetchJWKS(ctx)
			if err != nil {
				return nil, err
			}

			for i := range jwks.Keys {
				s.setCachedItem(ctx, jwks.Keys[i])
			}

			return nil, nil
		})

		if err != nil {
			return nil, err
		}

		jwk, ok = s.getCachedItem(ctx, keyID)
		if !ok {
			// Key still does not exist after a refetch.
			// Remember it so known invalid keys do not trigger a refetch.
			s.setEmptyCacheItem(ctx, keyID)
		}
	}

	if jwk == nil {
		return nil, ErrInvalidSigningKey
	}

	return jwk, nil
}

func (s *KeyService) fetchJWKS(ctx context.Context) (*jose.JSONWebKeySet, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.url, nil)
	if err != nil {
		return nil, err
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: request error", ErrFetchingSigningKey)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: unexpected status %d", ErrFetchingSigningKey, resp.StatusCode)
	}

	var jwks jose.JSONWebKeySet
	if err := json.NewDecoder(resp.Body).Decode(&jwks); err != nil {
		return nil, fmt.Errorf("%w: unable to decode response", ErrFetchingSigningKey)
	}

	return &jwks, nil
}

func (s *KeyService) getCachedItem(ctx context.Context, keyID string) (*jose.JSONWebKey, bool) {
	data, err := s.c.Get(ctx, keyID)
	if err != nil {
		return nil, false
	}

	// invalid keys are cached as an empty byte slice
	if len(data) == 0 {
		return nil, true
	}

	var jwk jose.JSONWebKey
	if err := json.NewDecoder(bytes.NewReader(data)).Decode(&jwk); err != nil {
		return nil, false
	}

	return &jwk, true
}

func (s *KeyService) setCachedItem(ctx context.Context, key jose.JSONWebKey) {
	buf := bytes.Buffer{}
	if err := json.NewEncoder(&buf).Encode(&key); err != nil {
		return
	}

	// Set cannot fail when using local cache
	_ = s.c.Set(ctx, key.KeyID, buf.Bytes(), cache.NoExpiration)
}

func (s *KeyService) setEmptyCacheItem(ctx context.Context, keyID string) {
	_ = s.c.Set(ctx, keyID, []byte{}, cacheTTL)
}
