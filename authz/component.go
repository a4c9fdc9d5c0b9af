package authz

import (
	"context"
	"fmt"
	"reflect"

	"github.com/go-kit/log/level"

	"github.com/kompo/authlib/types"
)

// KeyResolver returns the permission key guarding a component.
type KeyResolver func(ctx context.Context) string

// TeamResolver returns the team a component check is scoped to, nil for no scope.
type TeamResolver func(ctx context.Context) *types.TeamID

type ComponentOption func(*ComponentGate)

// WithKeyResolver replaces the default key, the component name, by a computed one.
func WithKeyResolver(resolver KeyResolver) ComponentOption {
	return func(c *ComponentGate) {
		c.resolveKey = resolver
	}
}

// WithPermissionCheck enables or disables permission checks for this component only.
// It cannot enable checks that are disabled globally.
func WithPermissionCheck(enabled bool) ComponentOption {
	return func(c *ComponentGate) {
		c.checkEnabled = enabled
	}
}

func WithTeamScope(resolver TeamResolver) ComponentOption {
	return func(c *ComponentGate) {
		c.resolveTeam = resolver
	}
}

// ComponentGate guards a single component: reads when it boots, writes before it mutates.
type ComponentGate struct {
	gate         *Gate
	name         string
	resolveKey   KeyResolver
	resolveTeam  TeamResolver
	checkEnabled bool
}

// Component returns the gate of the component called name.
func (g *Gate) Component(name string, opts ...ComponentOption) *ComponentGate {
	c := &ComponentGate{
		gate:         g,
		name:         name,
		checkEnabled: true,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *ComponentGate) Name() string {
	return c.name
}

func (c *ComponentGate) PermissionKey(ctx context.Context) string {
	if c.resolveKey != nil {
		return c.resolveKey(ctx)
	}
	return c.name
}

func (c *ComponentGate) team(ctx context.Context) *types.TeamID {
	if c.resolveTeam == nil {
		return nil
	}
	return c.resolveTeam(ctx)
}

// Check runs the permission check of the component for the given type.
func (c *ComponentGate) Check(ctx context.Context, typ types.PermissionType) (bool, error) {
	return c.gate.check(ctx, c.PermissionKey(ctx), typ, c.team(ctx), c.checkEnabled)
}

// OnBoot is the read gate. A denial returns an error wrapping ErrForbidden and must end the request.
func (c *ComponentGate) OnBoot(ctx context.Context) error {
	key := c.PermissionKey(ctx)
	allowed, err := c.gate.check(ctx, key, types.PermissionRead, c.team(ctx), c.checkEnabled)
	if err != nil {
		return fmt.Errorf("read gate %s: %w", c.name, err)
	}
	if !allowed {
		return fmt.Errorf("%w: missing read permission %s", ErrForbidden, key)
	}
	return nil
}

// Authorize is the write gate. Errors are logged and deny.
func (c *ComponentGate) Authorize(ctx context.Context) bool {
	key := c.PermissionKey(ctx)
	allowed, err := c.gate.check(ctx, key, types.PermissionWrite, c.team(ctx), c.checkEnabled)
	if err != nil {
		level.Error(c.gate.logger).Log("msg", "write gate failed", "component", c.name, "permission", key, "err", err)
		return false
	}
	return allowed
}

// ComponentName returns the short type name of v, ex: "TeamsTable" for a *forms.TeamsTable.
func ComponentName(v any) string {
	t := reflect.TypeOf(v)
	if t == nil {
		return ""
	}
	for t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	return t.Name()
}
