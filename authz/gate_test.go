package authz

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/go-kit/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/kompo/authlib/authz/testutils"
	"github.com/kompo/authlib/cache"
	"github.com/kompo/authlib/types"
)

var errRegistryDown = errors.New("registry down")

func teamPtr(id types.TeamID) *types.TeamID {
	return &id
}

func newTestGate(t *testing.T, cfg Config, registry PermissionRegistry) (*Gate, *cacheWrap) {
	t.Helper()
	cw := &cacheWrap{cache: cache.NewLocalCache(cache.Config{Expiry: time.Minute, CleanupInterval: time.Minute})}
	g, err := NewGate(cfg, registry, WithCacheOption(cw), WithLoggerOption(log.NewNopLogger()))
	require.NoError(t, err)
	return g, cw
}

func registered(key string) *testutils.MockRegistry {
	r := &testutils.MockRegistry{}
	r.On("FindByKey", mock.Anything, key).Return(&types.Permission{ID: "1", Key: key}, nil)
	return r
}

func unregistered(key string) *testutils.MockRegistry {
	r := &testutils.MockRegistry{}
	r.On("FindByKey", mock.Anything, key).Return(nil, nil)
	return r
}

func TestNewGate_MissingRegistry(t *testing.T) {
	_, err := NewGate(Config{}, nil)
	require.ErrorIs(t, err, ErrMissingRegistry)
}

func TestGate_CheckPermission(t *testing.T) {
	enabled := Config{CheckPermissionGlobally: true}

	tests := []struct {
		name     string
		cfg      Config
		registry *testutils.MockRegistry
		actor    func() *testutils.MockActor
		typ      types.PermissionType
		team     *types.TeamID
		want     bool
		wantErr  error
	}{
		{
			name:     "bypass allows without consulting the registry",
			cfg:      Config{BypassSecurity: true, CheckPermissionGlobally: true},
			registry: &testutils.MockRegistry{},
			typ:      types.PermissionWrite,
			want:     true,
		},
		{
			name:     "bypass allows even with an invalid type",
			cfg:      Config{BypassSecurity: true},
			registry: &testutils.MockRegistry{},
			typ:      0,
			want:     true,
		},
		{
			name:     "globally disabled checks allow",
			cfg:      Config{},
			registry: &testutils.MockRegistry{},
			typ:      types.PermissionRead,
			want:     true,
		},
		{
			name:     "unregistered key allows without actor",
			cfg:      enabled,
			registry: unregistered("Dashboard"),
			typ:      types.PermissionWrite,
			want:     true,
		},
		{
			name:     "unregistered key allows with an actor lacking grants",
			cfg:      enabled,
			registry: unregistered("Dashboard"),
			actor: func() *testutils.MockActor {
				return &testutils.MockActor{Subject: "user:1"}
			},
			typ:  types.PermissionRead,
			want: true,
		},
		{
			name:     "registered key without actor denies",
			cfg:      enabled,
			registry: registered("Dashboard"),
			typ:      types.PermissionRead,
			want:     false,
		},
		{
			name:     "registered key with granted actor allows",
			cfg:      enabled,
			registry: registered("Dashboard"),
			actor: func() *testutils.MockActor {
				a := &testutils.MockActor{Subject: "user:1"}
				a.On("HasPermission", mock.Anything, "Dashboard", types.PermissionRead, (*types.TeamID)(nil)).Return(true, nil)
				return a
			},
			typ:  types.PermissionRead,
			want: true,
		},
		{
			name:     "registered key with refused actor denies",
			cfg:      enabled,
			registry: registered("Dashboard"),
			actor: func() *testutils.MockActor {
				a := &testutils.MockActor{Subject: "user:1"}
				a.On("HasPermission", mock.Anything, "Dashboard", types.PermissionWrite, teamPtr(3)).Return(false, nil)
				return a
			},
			typ:  types.PermissionWrite,
			team: teamPtr(3),
			want: false,
		},
		{
			name: "registry error denies",
			cfg:  enabled,
			registry: func() *testutils.MockRegistry {
				r := &testutils.MockRegistry{}
				r.On("FindByKey", mock.Anything, "Dashboard").Return(nil, errRegistryDown)
				return r
			}(),
			typ:     types.PermissionRead,
			want:    false,
			wantErr: errRegistryDown,
		},
		{
			name:     "actor error denies",
			cfg:      enabled,
			registry: registered("Dashboard"),
			actor: func() *testutils.MockActor {
				a := &testutils.MockActor{Subject: "user:1"}
				a.On("HasPermission", mock.Anything, "Dashboard", types.PermissionRead, (*types.TeamID)(nil)).Return(false, errRegistryDown)
				return a
			},
			typ:     types.PermissionRead,
			want:    false,
			wantErr: errRegistryDown,
		},
		{
			name:     "invalid type is rejected",
			cfg:      enabled,
			registry: &testutils.MockRegistry{},
			typ:      7,
			want:     false,
			wantErr:  types.ErrInvalidPermissionType,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g, _ := newTestGate(t, tt.cfg, tt.registry)

			ctx := context.Background()
			var actor *testutils.MockActor
			if tt.actor != nil {
				actor = tt.actor()
				ctx = types.WithActor(ctx, actor)
			}

			got, err := g.CheckPermission(ctx, "Dashboard", tt.typ, tt.team)
			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)
			} else {
				require.NoError(t, err)
			}
			require.Equal(t, tt.want, got)

			tt.registry.AssertExpectations(t)
			if actor != nil {
				actor.AssertExpectations(t)
			}
		})
	}
}

func TestGate_CheckPermission_AllGrantCoversReadAndWrite(t *testing.T) {
	g, _ := newTestGate(t, Config{CheckPermissionGlobally: true}, registered("TeamsTable"))

	grants := map[string]types.PermissionType{"TeamsTable": types.PermissionAll}
	actor := &testutils.MockActor{Subject: "user:7"}
	actor.On("HasPermission", mock.Anything, "TeamsTable", mock.Anything, mock.Anything).Return(
		func(_ context.Context, key string, typ types.PermissionType, _ *types.TeamID) (bool, error) {
			return grants[key].Satisfies(typ), nil
		},
	)
	ctx := types.WithActor(context.Background(), actor)

	for _, typ := range []types.PermissionType{types.PermissionRead, types.PermissionWrite, types.PermissionAll} {
		allowed, err := g.CheckPermission(ctx, "TeamsTable", typ, nil)
		require.NoError(t, err)
		assert.True(t, allowed, typ.String())
	}
}

func TestGate_CheckPermission_Cache(t *testing.T) {
	registry := registered("Dashboard")
	g, cw := newTestGate(t, Config{CheckPermissionGlobally: true}, registry)

	actor := &testutils.MockActor{Subject: "user:1"}
	actor.On("HasPermission", mock.Anything, "Dashboard", types.PermissionRead, (*types.TeamID)(nil)).Return(true, nil).Once()
	ctx := types.WithActor(context.Background(), actor)

	for i := 0; i < 3; i++ {
		allowed, err := g.CheckPermission(ctx, "Dashboard", types.PermissionRead, nil)
		require.NoError(t, err)
		require.True(t, allowed)
	}

	registry.AssertNumberOfCalls(t, "FindByKey", 1)
	actor.AssertNumberOfCalls(t, "HasPermission", 1)
	// one registry entry and one decision
	require.Equal(t, 2, cw.successWriteCnt)
	require.Equal(t, 4, cw.successReadCnt)
}

func TestGate_CheckPermission_TeamScopedCacheKeys(t *testing.T) {
	g, _ := newTestGate(t, Config{CheckPermissionGlobally: true}, registered("Dashboard"))

	actor := &testutils.MockActor{Subject: "user:1"}
	actor.On("HasPermission", mock.Anything, "Dashboard", types.PermissionRead, teamPtr(1)).Return(true, nil)
	actor.On("HasPermission", mock.Anything, "Dashboard", types.PermissionRead, teamPtr(2)).Return(false, nil)
	ctx := types.WithActor(context.Background(), actor)

	allowed, err := g.CheckPermission(ctx, "Dashboard", types.PermissionRead, teamPtr(1))
	require.NoError(t, err)
	require.True(t, allowed)

	allowed, err = g.CheckPermission(ctx, "Dashboard", types.PermissionRead, teamPtr(2))
	require.NoError(t, err)
	require.False(t, allowed)
}

func TestGate_CheckPermission_AnonymousActorNotCached(t *testing.T) {
	g, cw := newTestGate(t, Config{CheckPermissionGlobally: true}, registered("Dashboard"))

	actor := &testutils.MockActor{}
	actor.On("HasPermission", mock.Anything, "Dashboard", types.PermissionRead, (*types.TeamID)(nil)).Return(true, nil)
	ctx := types.WithActor(context.Background(), actor)

	for i := 0; i < 2; i++ {
		allowed, err := g.CheckPermission(ctx, "Dashboard", types.PermissionRead, nil)
		require.NoError(t, err)
		require.True(t, allowed)
	}

	actor.AssertNumberOfCalls(t, "HasPermission", 2)
	require.Equal(t, 1, cw.successWriteCnt)
}

func TestGate_CheckPermission_CacheKeysDoNotCollide(t *testing.T) {
	registry := &testutils.MockRegistry{}
	registry.On("FindByKey", mock.Anything, "c").Return(&types.Permission{ID: "1", Key: "c"}, nil)
	registry.On("FindByKey", mock.Anything, "b-c").Return(&types.Permission{ID: "2", Key: "b-c"}, nil)
	g, _ := newTestGate(t, Config{CheckPermissionGlobally: true}, registry)

	first := &testutils.MockActor{Subject: "a-b"}
	first.On("HasPermission", mock.Anything, "c", types.PermissionRead, (*types.TeamID)(nil)).Return(true, nil)
	second := &testutils.MockActor{Subject: "a"}
	second.On("HasPermission", mock.Anything, "b-c", types.PermissionRead, (*types.TeamID)(nil)).Return(false, nil)

	allowed, err := g.CheckPermission(types.WithActor(context.Background(), first), "c", types.PermissionRead, nil)
	require.NoError(t, err)
	require.True(t, allowed)

	allowed, err = g.CheckPermission(types.WithActor(context.Background(), second), "b-c", types.PermissionRead, nil)
	require.NoError(t, err)
	require.False(t, allowed)
	second.AssertNumberOfCalls(t, "HasPermission", 1)

	assert.NotEqual(t,
		checkCacheKey("a-b", "c", types.PermissionRead, nil),
		checkCacheKey("a", "b-c", types.PermissionRead, nil),
	)
}
