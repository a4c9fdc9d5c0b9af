package memory

import (
	"fmt"
	"time"

	"github.com/spf13/viper"

	"github.com/kompo/authlib/communication"
	"github.com/kompo/authlib/types"
)

// Seed is the initial content of the in-memory backend, read from a json or yaml file.
type Seed struct {
	Permissions []struct {
		Key  string `mapstructure:"key"`
		Name string `mapstructure:"name"`
	} `mapstructure:"permissions"`
	Grants []struct {
		Subject    string `mapstructure:"subject"`
		Permission string `mapstructure:"permission"`
		Type       string `mapstructure:"type"`
		Team       string `mapstructure:"team"`
	} `mapstructure:"grants"`
	TemplateGroups []struct {
		ID         string `mapstructure:"id"`
		Title      string `mapstructure:"title"`
		Trigger    string `mapstructure:"trigger"`
		ValidFrom  string `mapstructure:"valid_from"`
		ValidUntil string `mapstructure:"valid_until"`
		Templates  []struct {
			ID      string `mapstructure:"id"`
			Channel string `mapstructure:"channel"`
			Subject string `mapstructure:"subject"`
			Body    string `mapstructure:"body"`
			Active  bool   `mapstructure:"active"`
		} `mapstructure:"templates"`
	} `mapstructure:"template_groups"`
}

func ReadSeed(path string) (*Seed, error) {
	v := viper.New()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read seed file %s: %w", path, err)
	}

	var seed Seed
	if err := v.Unmarshal(&seed); err != nil {
		return nil, fmt.Errorf("decode seed file %s: %w", path, err)
	}
	return &seed, nil
}

// Apply loads the seed into the given stores. Nothing is stored when an entry is invalid.
func (s *Seed) Apply(registry *Registry, grants *Grants, groups *TemplateGroups) error {
	perms := make([]types.Permission, 0, len(s.Permissions))
	for _, p := range s.Permissions {
		if p.Key == "" {
			return fmt.Errorf("seed permission %q: empty key", p.Name)
		}
		perms = append(perms, types.Permission{ID: p.Key, Key: p.Key, Name: p.Name})
	}

	gs := make([]Grant, 0, len(s.Grants))
	for _, g := range s.Grants {
		typ, err := types.ParsePermissionType(g.Type)
		if err != nil {
			return fmt.Errorf("seed grant %s on %s: %w", g.Subject, g.Permission, err)
		}
		team, err := types.ParseTeamID(g.Team)
		if err != nil {
			return fmt.Errorf("seed grant %s on %s: %w", g.Subject, g.Permission, err)
		}
		gs = append(gs, Grant{Subject: g.Subject, PermissionKey: g.Permission, Type: typ, Team: team})
	}

	tgs := make([]communication.TemplateGroup, 0, len(s.TemplateGroups))
	for _, g := range s.TemplateGroups {
		group := communication.TemplateGroup{ID: g.ID, Title: g.Title, Trigger: g.Trigger}
		var err error
		if group.ValidFrom, err = parseBound(g.ValidFrom); err != nil {
			return fmt.Errorf("seed template group %s: %w", g.ID, err)
		}
		if group.ValidUntil, err = parseBound(g.ValidUntil); err != nil {
			return fmt.Errorf("seed template group %s: %w", g.ID, err)
		}
		for _, t := range g.Templates {
			ch, err := communication.ParseChannel(t.Channel)
			if err != nil {
				return fmt.Errorf("seed template group %s: %w", g.ID, err)
			}
			group.Templates = append(group.Templates, communication.Template{
				ID:      t.ID,
				Channel: ch,
				Subject: t.Subject,
				Body:    t.Body,
				Active:  t.Active,
			})
		}
		tgs = append(tgs, group)
	}

	for _, p := range perms {
		registry.Register(p)
	}
	for _, g := range gs {
		grants.Grant(g)
	}
	for _, g := range tgs {
		groups.Save(g)
	}
	return nil
}

func parseBound(s string) (*time.Time, error) {
	if s == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return nil, err
	}
	return &t, nil
}
