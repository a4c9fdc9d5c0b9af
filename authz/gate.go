package authz

import (
	"bytes"
	"context"
	"encoding/gob"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
	"golang.org/x/sync/singleflight"

	"github.com/kompo/authlib/cache"
	"github.com/kompo/authlib/types"
)

var (
	ErrForbidden       = errors.New("forbidden")
	ErrMissingRegistry = errors.New("missing permission registry")
)

const (
	cacheExp             = 5 * time.Minute
	cacheCleanupInterval = 10 * time.Minute
)

var _ types.PermissionChecker = (*Gate)(nil)

// Config holds the process wide switches of the gate.
type Config struct {
	// BypassSecurity allows every check without looking at permissions.
	BypassSecurity bool
	// CheckPermissionGlobally enables permission checks. Call sites can still opt out.
	CheckPermissionGlobally bool
}

// PermissionRegistry looks up registered permissions.
type PermissionRegistry interface {
	// FindByKey returns nil without error when no permission is registered under key.
	FindByKey(ctx context.Context, key string) (*types.Permission, error)
}

type GateOption func(*Gate)

// Gate checks permissions of the actor carried by the context.
type Gate struct {
	cfg      Config
	registry PermissionRegistry
	cache    cache.Cache
	tracer   trace.Tracer
	logger   log.Logger
	singlef  singleflight.Group
}

// -----
// Options
// -----

func WithCacheOption(c cache.Cache) GateOption {
	return func(g *Gate) {
		g.cache = c
	}
}

func WithTracerOption(tracer trace.Tracer) GateOption {
	return func(g *Gate) {
		g.tracer = tracer
	}
}

func WithLoggerOption(logger log.Logger) GateOption {
	return func(g *Gate) {
		g.logger = logger
	}
}

// -----
// Initialization
// -----

func NewGate(cfg Config, registry PermissionRegistry, opts ...GateOption) (*Gate, error) {
	if registry == nil {
		return nil, ErrMissingRegistry
	}

	g := &Gate{
		cfg:      cfg,
		registry: registry,
		tracer:   noop.Tracer{},
		logger:   log.NewJSONLogger(log.NewSyncWriter(os.Stdout)),
	}

	for _, opt := range opts {
		opt(g)
	}

	if g.cache == nil {
		g.cache = cache.NewLocalCache(cache.Config{
			Expiry:          cacheExp,
			CleanupInterval: cacheCleanupInterval,
		})
	}

	return g, nil
}

// -----
// Implementation
// -----

// CheckPermission checks whether the actor in ctx holds at least typ on key, optionally within team.
// Keys without a registered permission are not gated.
func (g *Gate) CheckPermission(ctx context.Context, key string, typ types.PermissionType, team *types.TeamID) (bool, error) {
	return g.check(ctx, key, typ, team, true)
}

func (g *Gate) check(ctx context.Context, key string, typ types.PermissionType, team *types.TeamID, siteEnabled bool) (bool, error) {
	ctx, span := g.tracer.Start(ctx, "Gate.CheckPermission")
	defer span.End()

	span.SetAttributes(attribute.String("permission", key))
	span.SetAttributes(attribute.String("type", typ.String()))
	if team != nil {
		span.SetAttributes(attribute.Int64("team", int64(*team)))
	}

	if g.cfg.BypassSecurity {
		span.SetAttributes(attribute.Bool("bypass", true))
		return true, nil
	}

	if !g.cfg.CheckPermissionGlobally || !siteEnabled {
		span.SetAttributes(attribute.Bool("check_enabled", false))
		return true, nil
	}

	if !typ.Valid() {
		err := fmt.Errorf("%w: %d", types.ErrInvalidPermissionType, typ)
		span.RecordError(err)
		return false, err
	}

	registered, err := g.isRegistered(ctx, key)
	if err != nil {
		span.RecordError(err)
		return false, err
	}
	span.SetAttributes(attribute.Bool("registered", registered))
	if !registered {
		return true, nil
	}

	actor, ok := types.ActorFrom(ctx)
	if !ok {
		span.SetAttributes(attribute.Bool("allowed", false))
		return false, nil
	}
	span.SetAttributes(attribute.String("subject", actor.GetSubject()))

	allowed, err := g.hasPermission(ctx, actor, key, typ, team)
	if err != nil {
		span.RecordError(err)
		return false, err
	}

	span.SetAttributes(attribute.Bool("allowed", allowed))
	return allowed, nil
}

func (g *Gate) isRegistered(ctx context.Context, key string) (bool, error) {
	cacheKey := "permission-" + key
	if registered, err := g.getCachedBool(ctx, cacheKey); err == nil {
		return registered, nil
	}

	res, err, _ := g.singlef.Do(cacheKey, func() (any, error) {
		perm, err := g.registry.FindByKey(ctx, key)
		if err != nil {
			return false, err
		}
		return perm != nil, nil
	})
	if err != nil {
		level.Error(g.logger).Log("msg", "could not look up permission", "permission", key, "err", err)
		return false, err
	}

	registered := res.(bool)
	g.cacheBool(ctx, cacheKey, registered)
	return registered, nil
}

func (g *Gate) hasPermission(ctx context.Context, actor types.Actor, key string, typ types.PermissionType, team *types.TeamID) (bool, error) {
	subject := actor.GetSubject()
	if subject == "" {
		// Answers for actors without a subject are not cached.
		return actor.HasPermission(ctx, key, typ, team)
	}

	cacheKey := checkCacheKey(subject, key, typ, team)
	if allowed, err := g.getCachedBool(ctx, cacheKey); err == nil {
		return allowed, nil
	}

	allowed, err := actor.HasPermission(ctx, key, typ, team)
	if err != nil {
		level.Error(g.logger).Log("msg", "could not check actor permission", "subject", subject, "permission", key, "err", err)
		return false, err
	}

	g.cacheBool(ctx, cacheKey, allowed)
	return allowed, nil
}

// -----
// CACHE
// -----

func checkCacheKey(subject, key string, typ types.PermissionType, team *types.TeamID) string {
	scope := "*"
	if team != nil {
		scope = team.String()
	}
	return fmt.Sprintf("check-%q-%q-%d-%q", subject, key, typ, scope)
}

func (g *Gate) cacheBool(ctx context.Context, key string, value bool) {
	buf := bytes.Buffer{}
	if err := gob.NewEncoder(&buf).Encode(value); err != nil {
		level.Warn(g.logger).Log("msg", "error encoding result for cache", "key", key, "err", err)
		return
	}

	if err := g.cache.Set(ctx, key, buf.Bytes(), cache.DefaultExpiration); err != nil {
		level.Warn(g.logger).Log("msg", "error caching result", "key", key, "err", err)
	}
}

func (g *Gate) getCachedBool(ctx context.Context, key string) (bool, error) {
	data, err := g.cache.Get(ctx, key)
	if err != nil {
		if !errors.Is(err, cache.ErrNotFound) {
			level.Warn(g.logger).Log("msg", "could not retrieve from cache", "key", key, "err", err)
		}
		return false, err
	}

	var value bool
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&value); err != nil {
		level.Warn(g.logger).Log("msg", "could not decode data from cache", "key", key, "err", err)
		return false, err
	}
	return value, nil
}
