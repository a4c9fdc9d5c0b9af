package gormstore

import (
	"time"

	"github.com/kompo/authlib/communication"
	"github.com/kompo/authlib/types"
)

type permissionModel struct {
	ID        string    `gorm:"column:permission_id;primaryKey"`
	Key       string    `gorm:"column:permission_key;uniqueIndex"`
	Name      string    `gorm:"column:name"`
	CreatedAt time.Time `gorm:"column:created_at"`
}

func (permissionModel) TableName() string { return "permissions" }

func (m permissionModel) toEntity() *types.Permission {
	return &types.Permission{ID: m.ID, Key: m.Key, Name: m.Name}
}

type grantModel struct {
	ID            string    `gorm:"column:grant_id;primaryKey"`
	Subject       string    `gorm:"column:subject;index:idx_grant_lookup"`
	PermissionKey string    `gorm:"column:permission_key;index:idx_grant_lookup"`
	Type          int       `gorm:"column:permission_type"`
	TeamID        *int64    `gorm:"column:team_id"`
	CreatedAt     time.Time `gorm:"column:created_at"`
}

func (grantModel) TableName() string { return "permission_grants" }

type templateGroupModel struct {
	ID         string          `gorm:"column:group_id;primaryKey"`
	Title      string          `gorm:"column:title"`
	Trigger    string          `gorm:"column:trigger_name;index"`
	ValidFrom  *time.Time      `gorm:"column:valid_from"`
	ValidUntil *time.Time      `gorm:"column:valid_until"`
	Templates  []templateModel `gorm:"foreignKey:GroupID;references:ID"`
	CreatedAt  time.Time       `gorm:"column:created_at"`
	UpdatedAt  time.Time       `gorm:"column:updated_at"`
}

func (templateGroupModel) TableName() string { return "communication_template_groups" }

type templateModel struct {
	ID      string `gorm:"column:template_id;primaryKey"`
	GroupID string `gorm:"column:group_id;index"`
	Channel string `gorm:"column:channel"`
	Subject string `gorm:"column:subject"`
	Body    string `gorm:"column:body"`
	Active  bool   `gorm:"column:active"`
}

func (templateModel) TableName() string { return "communication_templates" }

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	u := t.UTC()
	return &u
}

func templateGroupModelFromEntity(g communication.TemplateGroup) templateGroupModel {
	return templateGroupModel{
		ID:         g.ID,
		Title:      g.Title,
		Trigger:    g.Trigger,
		ValidFrom:  utcPtr(g.ValidFrom),
		ValidUntil: utcPtr(g.ValidUntil),
	}
}

func (m templateGroupModel) toEntity() communication.TemplateGroup {
	g := communication.TemplateGroup{
		ID:         m.ID,
		Title:      m.Title,
		Trigger:    m.Trigger,
		ValidFrom:  utcPtr(m.ValidFrom),
		ValidUntil: utcPtr(m.ValidUntil),
		Templates:  make([]communication.Template, 0, len(m.Templates)),
	}
	for _, t := range m.Templates {
		g.Templates = append(g.Templates, communication.Template{
			ID:      t.ID,
			Channel: communication.Channel(t.Channel),
			Subject: t.Subject,
			Body:    t.Body,
			Active:  t.Active,
		})
	}
	return g
}
