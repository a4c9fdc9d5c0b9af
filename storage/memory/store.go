// Package memory holds in-process implementations of the permission registry,
// the grant store and the template group store.
package memory

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/kompo/authlib/communication"
	"github.com/kompo/authlib/types"
)

type Registry struct {
	mu          sync.RWMutex
	permissions map[string]types.Permission
}

func NewRegistry(permissions ...types.Permission) *Registry {
	r := &Registry{permissions: make(map[string]types.Permission, len(permissions))}
	for _, p := range permissions {
		p.Key = strings.TrimSpace(p.Key)
		r.permissions[p.Key] = p
	}
	return r
}

func (r *Registry) Register(p types.Permission) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p.Key = strings.TrimSpace(p.Key)
	r.permissions[p.Key] = p
}

func (r *Registry) FindByKey(_ context.Context, key string) (*types.Permission, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	p, ok := r.permissions[strings.TrimSpace(key)]
	if !ok {
		return nil, nil
	}
	return &p, nil
}

// Grant gives Subject access of Type to PermissionKey. A nil Team is a global grant.
type Grant struct {
	Subject       string
	PermissionKey string
	Type          types.PermissionType
	Team          *types.TeamID
}

type Grants struct {
	mu     sync.RWMutex
	grants []Grant
}

func NewGrants(grants ...Grant) *Grants {
	return &Grants{grants: append([]Grant(nil), grants...)}
}

func (g *Grants) Grant(grant Grant) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.grants = append(g.grants, grant)
}

func (g *Grants) HasPermission(_ context.Context, subject, key string, typ types.PermissionType, team *types.TeamID) (bool, error) {
	if !typ.Valid() {
		return false, fmt.Errorf("%w: %d", types.ErrInvalidPermissionType, typ)
	}

	g.mu.RLock()
	defer g.mu.RUnlock()

	for _, grant := range g.grants {
		if grant.Subject != subject || grant.PermissionKey != key || !grant.Type.Satisfies(typ) {
			continue
		}
		if team == nil || grant.Team == nil || *grant.Team == *team {
			return true, nil
		}
	}
	return false, nil
}

// Actor returns the actor of subject backed by these grants.
func (g *Grants) Actor(subject string) types.Actor {
	return actor{subject: subject, grants: g}
}

type actor struct {
	subject string
	grants  *Grants
}

func (a actor) GetSubject() string {
	return a.subject
}

func (a actor) HasPermission(ctx context.Context, key string, typ types.PermissionType, team *types.TeamID) (bool, error) {
	return a.grants.HasPermission(ctx, a.subject, key, typ, team)
}

var _ communication.TemplateGroupStore = (*TemplateGroups)(nil)

type TemplateGroups struct {
	mu     sync.RWMutex
	groups map[string]communication.TemplateGroup
}

func NewTemplateGroups(groups ...communication.TemplateGroup) *TemplateGroups {
	s := &TemplateGroups{groups: make(map[string]communication.TemplateGroup, len(groups))}
	for _, g := range groups {
		s.groups[g.ID] = g
	}
	return s
}

func (s *TemplateGroups) Save(group communication.TemplateGroup) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.groups[group.ID] = group
}

func (s *TemplateGroups) ForTrigger(_ context.Context, trigger string, now time.Time) ([]communication.TemplateGroup, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var res []communication.TemplateGroup
	for _, g := range s.groups {
		if g.Trigger == trigger && g.IsValid(now) {
			res = append(res, g)
		}
	}
	sort.Slice(res, func(i, j int) bool { return res[i].ID < res[j].ID })
	return res, nil
}
