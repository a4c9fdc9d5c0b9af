package authn

import (
	"context"
	"net/http"
	"strings"

	"google.golang.org/grpc/metadata"
)

const (
	DefaultHTTPHeader      = "Authorization"
	DefaultGRPCMetadataKey = "authorization"
	bearerPrefix           = "Bearer "
)

// TokenProvider is used to extract tokens.
type TokenProvider interface {
	AccessToken(ctx context.Context) (string, bool)
}

// BearerToken is the raw value of an authorization header, with or without the 'Bearer' prefix.
type BearerToken string

func (t BearerToken) AccessToken(_ context.Context) (string, bool) {
	token := strings.TrimSpace(strings.TrimPrefix(string(t), bearerPrefix))
	return token, len(token) > 0
}

func NewHTTPTokenProvider(r *http.Request) HTTPTokenProvider {
	return HTTPTokenProvider{r}
}

// HTTPTokenProvider extracts the access token from the `Authorization` header of a http.Request.
type HTTPTokenProvider struct {
	r *http.Request
}

func (p HTTPTokenProvider) AccessToken(ctx context.Context) (string, bool) {
	return BearerToken(p.r.Header.Get(DefaultHTTPHeader)).AccessToken(ctx)
}

func NewGRPCTokenProvider(md metadata.MD) GRPCTokenProvider {
	return GRPCTokenProvider{md}
}

// GRPCTokenProvider extracts the access token from the `authorization` key of grpc metadata.
type GRPCTokenProvider struct {
	md metadata.MD
}

func (p GRPCTokenProvider) AccessToken(ctx context.Context) (string, bool) {
	values := p.md.Get(DefaultGRPCMetadataKey)
	if len(values) == 0 {
		return "", false
	}
	return BearerToken(values[0]).AccessToken(ctx)
}
