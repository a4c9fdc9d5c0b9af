package remote

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/gob"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	goquery "github.com/google/go-querystring/query"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
	"golang.org/x/sync/singleflight"

	"github.com/kompo/authlib/cache"
	"github.com/kompo/authlib/types"
)

var _ types.PermissionChecker = (*Client)(nil)

var (
	ErrMissingURL       = errors.New("missing gate url")
	ErrInvalidToken     = errors.New("invalid token: cannot query server")
	ErrInvalidResponse  = errors.New("invalid response from server")
	ErrUnexpectedStatus = errors.New("unexpected response status")

	CacheExp = 5 * time.Minute

	CheckPath = "/api/v1/permissions/check"
)

// HTTPRequestDoer performs HTTP requests.
// The standard http.Client implements this interface.
type HTTPRequestDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// TokenFunc returns the bearer token forwarded to the gate for the caller in ctx.
type TokenFunc func(ctx context.Context) (string, bool)

type ClientCfg struct {
	Timeout time.Duration
	// URL of the service exposing the gate. Ex: "http://authgate:8080"
	URL string
	// Token is sent when no TokenFunc is configured or it finds no token.
	Token string
}

// CheckQuery is the query string of a remote permission check.
type CheckQuery struct {
	Key  string `json:"key" url:"key"`
	Type string `json:"type" url:"type"`
	Team string `json:"team,omitempty" url:"team,omitempty"`
}

type CheckResponse struct {
	Allowed bool   `json:"allowed"`
	Error   string `json:"error,omitempty"`
}

type ClientOption func(*Client)

func WithHTTPClientOption(doer HTTPRequestDoer) ClientOption {
	return func(c *Client) {
		c.client = doer
	}
}

func WithCacheOption(cache cache.Cache) ClientOption {
	return func(c *Client) {
		c.cache = cache
	}
}

func WithLoggerOption(logger log.Logger) ClientOption {
	return func(c *Client) {
		c.logger = logger
	}
}

func WithTracerOption(tracer trace.Tracer) ClientOption {
	return func(c *Client) {
		c.tracer = tracer
	}
}

func WithTokenFuncOption(fn TokenFunc) ClientOption {
	return func(c *Client) {
		c.token = fn
	}
}

// Client checks permissions against a remote gate.
type Client struct {
	singlef singleflight.Group
	client  HTTPRequestDoer
	cache   cache.Cache
	cfg     ClientCfg
	token   TokenFunc
	logger  log.Logger
	tracer  trace.Tracer
}

func NewClient(cfg ClientCfg, opts ...ClientOption) (*Client, error) {
	if cfg.URL == "" {
		return nil, ErrMissingURL
	}

	c := &Client{
		cfg:    cfg,
		logger: log.NewJSONLogger(log.NewSyncWriter(os.Stdout)),
		tracer: noop.Tracer{},
	}
	for _, opt := range opts {
		opt(c)
	}

	if c.client == nil {
		c.client = &http.Client{Timeout: cfg.Timeout}
	}
	if c.cache == nil {
		c.cache = cache.NewLocalCache(cache.Config{
			Expiry:          CacheExp,
			CleanupInterval: 10 * time.Minute,
		})
	}
	return c, nil
}

func (c *Client) bearer(ctx context.Context) string {
	if c.token != nil {
		if token, ok := c.token(ctx); ok {
			return token
		}
	}
	return c.cfg.Token
}

func checkCacheKey(token string, query CheckQuery) string {
	sum := sha256.Sum256([]byte(token))
	data, _ := json.Marshal(query)
	return hex.EncodeToString(sum[:8]) + "-" + string(data)
}

// CheckPermission implements types.PermissionChecker.
func (c *Client) CheckPermission(ctx context.Context, key string, typ types.PermissionType, team *types.TeamID) (bool, error) {
	ctx, span := c.tracer.Start(ctx, "remote.Client.CheckPermission")
	defer span.End()

	query := CheckQuery{Key: key, Type: typ.String()}
	if team != nil {
		query.Team = team.String()
	}
	span.SetAttributes(attribute.String("permission", key), attribute.String("type", query.Type))

	token := c.bearer(ctx)
	cacheKey := checkCacheKey(token, query)

	if allowed, ok := c.getCached(ctx, cacheKey); ok {
		level.Debug(c.logger).Log("msg", "retrieved check from cache", "key", cacheKey)
		return allowed, nil
	}

	res, err, _ := c.singlef.Do(cacheKey, func() (any, error) {
		return c.doCheck(ctx, token, query)
	})
	if err != nil {
		span.RecordError(err)
		level.Error(c.logger).Log("msg", "error sending request to gate", "permission", key, "err", err)
		return false, err
	}

	allowed := res.(bool)
	c.cacheNoFail(ctx, cacheKey, allowed)

	span.SetAttributes(attribute.Bool("allowed", allowed))
	return allowed, nil
}

func (c *Client) doCheck(ctx context.Context, token string, query CheckQuery) (bool, error) {
	v, err := goquery.Values(query)
	if err != nil {
		return false, err
	}

	url := strings.TrimSuffix(c.cfg.URL, "/") + CheckPath + "?" + v.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return false, err
	}

	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	req.Header.Set("Accept", "application/json")

	res, err := c.client.Do(req)
	if err != nil {
		return false, err
	}
	defer res.Body.Close()

	if res.StatusCode == http.StatusUnauthorized || res.StatusCode == http.StatusForbidden {
		return false, ErrInvalidToken
	}

	if res.StatusCode != http.StatusOK {
		return false, fmt.Errorf("%w: %s", ErrUnexpectedStatus, res.Status)
	}

	response := CheckResponse{}
	if err := json.NewDecoder(res.Body).Decode(&response); err != nil {
		return false, fmt.Errorf("%w: %s", ErrInvalidResponse, err)
	}
	return response.Allowed, nil
}

func (c *Client) getCached(ctx context.Context, key string) (bool, bool) {
	data, err := c.cache.Get(ctx, key)
	if err != nil {
		if !errors.Is(err, cache.ErrNotFound) {
			level.Warn(c.logger).Log("msg", "could not retrieve from cache", "err", err)
		}
		return false, false
	}

	var allowed bool
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&allowed); err != nil {
		level.Warn(c.logger).Log("msg", "could not decode data from cache", "err", err)
		return false, false
	}
	return allowed, true
}

func (c *Client) cacheNoFail(ctx context.Context, key string, allowed bool) {
	buf := bytes.Buffer{}
	if err := gob.NewEncoder(&buf).Encode(allowed); err != nil {
		level.Warn(c.logger).Log("msg", "error encoding result for cache", "err", err)
		return
	}

	if err := c.cache.Set(ctx, key, buf.Bytes(), CacheExp); err != nil {
		level.Warn(c.logger).Log("msg", "error caching result", "key", key, "err", err)
	}
}
