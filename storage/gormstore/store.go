package gormstore

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/google/uuid"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/kompo/authlib/communication"
	"github.com/kompo/authlib/types"
)

var (
	ErrMissingDSN        = errors.New("postgres dsn is required")
	ErrInvalidPermission = errors.New("invalid permission")
	ErrInvalidGrant      = errors.New("invalid grant")
	ErrInvalidTrigger    = errors.New("template group trigger is required")
)

var _ communication.TemplateGroupStore = (*Store)(nil)

// Store persists permissions, grants and communication template groups.
type Store struct {
	db     *gorm.DB
	logger log.Logger
}

func New(db *gorm.DB, logger log.Logger) *Store {
	if logger == nil {
		logger = log.NewJSONLogger(log.NewSyncWriter(os.Stdout))
	}
	return &Store{db: db, logger: logger}
}

// Open connects to postgres and checks the connection.
func Open(ctx context.Context, dsn string, logger log.Logger) (*Store, error) {
	if dsn == "" {
		return nil, ErrMissingDSN
	}

	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{})
	if err != nil {
		return nil, fmt.Errorf("open gorm postgres: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("resolve postgres sql db handle: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := sqlDB.PingContext(pingCtx); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return New(db, logger), nil
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func (s *Store) AutoMigrate(ctx context.Context) error {
	return s.db.WithContext(ctx).AutoMigrate(
		&permissionModel{},
		&grantModel{},
		&templateGroupModel{},
		&templateModel{},
	)
}

// -----
// Permissions
// -----

// RegisterPermission creates the permission or renames the existing one with the same key.
func (s *Store) RegisterPermission(ctx context.Context, p types.Permission) (*types.Permission, error) {
	key := strings.TrimSpace(p.Key)
	if key == "" {
		return nil, fmt.Errorf("%w: empty key", ErrInvalidPermission)
	}

	row := permissionModel{ID: p.ID, Key: key, Name: p.Name}
	if row.ID == "" {
		row.ID = uuid.NewString()
	}

	err := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "permission_key"}},
			DoUpdates: clause.AssignmentColumns([]string{"name"}),
		}).
		Create(&row).
		Error
	if err != nil {
		return nil, err
	}
	return s.FindByKey(ctx, key)
}

func (s *Store) FindByKey(ctx context.Context, key string) (*types.Permission, error) {
	var row permissionModel
	err := s.db.WithContext(ctx).
		Where("permission_key = ?", strings.TrimSpace(key)).
		First(&row).
		Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return row.toEntity(), nil
}

// -----
// Grants
// -----

// Grant gives subject access of typ to key. A nil team is a global grant.
func (s *Store) Grant(ctx context.Context, subject, key string, typ types.PermissionType, team *types.TeamID) error {
	if subject == "" || key == "" || !typ.Valid() {
		return fmt.Errorf("%w: subject=%q key=%q type=%s", ErrInvalidGrant, subject, key, typ)
	}

	row := grantModel{
		ID:            uuid.NewString(),
		Subject:       subject,
		PermissionKey: key,
		Type:          int(typ),
	}
	if team != nil {
		id := int64(*team)
		row.TeamID = &id
	}
	return s.db.WithContext(ctx).Create(&row).Error
}

// HasPermission reports whether subject holds a grant covering typ on key.
// With a team, only global grants and grants of that team count.
func (s *Store) HasPermission(ctx context.Context, subject, key string, typ types.PermissionType, team *types.TeamID) (bool, error) {
	if !typ.Valid() {
		return false, fmt.Errorf("%w: %d", types.ErrInvalidPermissionType, typ)
	}

	tx := s.db.WithContext(ctx).
		Model(&grantModel{}).
		Where("subject = ? AND permission_key = ?", subject, key).
		Where("(permission_type & ?) = ?", int(typ), int(typ))
	if team != nil {
		tx = tx.Where("(team_id IS NULL OR team_id = ?)", int64(*team))
	}

	var count int64
	if err := tx.Count(&count).Error; err != nil {
		level.Error(s.logger).Log("msg", "grant lookup failed", "subject", subject, "permission", key, "err", err)
		return false, err
	}
	return count > 0, nil
}

// Actor returns the actor of subject backed by the stored grants.
func (s *Store) Actor(subject string) types.Actor {
	return actor{subject: subject, store: s}
}

type actor struct {
	subject string
	store   *Store
}

func (a actor) GetSubject() string {
	return a.subject
}

func (a actor) HasPermission(ctx context.Context, key string, typ types.PermissionType, team *types.TeamID) (bool, error) {
	return a.store.HasPermission(ctx, a.subject, key, typ, team)
}

// -----
// Template groups
// -----

// SaveTemplateGroup creates or replaces a group and its templates.
func (s *Store) SaveTemplateGroup(ctx context.Context, group communication.TemplateGroup) (communication.TemplateGroup, error) {
	if strings.TrimSpace(group.Trigger) == "" {
		return communication.TemplateGroup{}, ErrInvalidTrigger
	}
	if group.ID == "" {
		group.ID = uuid.NewString()
	}
	group.Templates = append([]communication.Template(nil), group.Templates...)

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		row := templateGroupModelFromEntity(group)
		if err := tx.Omit(clause.Associations).Save(&row).Error; err != nil {
			return err
		}

		if err := tx.Where("group_id = ?", group.ID).Delete(&templateModel{}).Error; err != nil {
			return err
		}

		templates := make([]templateModel, 0, len(group.Templates))
		for i, t := range group.Templates {
			if t.ID == "" {
				t.ID = uuid.NewString()
				group.Templates[i].ID = t.ID
			}
			templates = append(templates, templateModel{
				ID:      t.ID,
				GroupID: group.ID,
				Channel: string(t.Channel),
				Subject: t.Subject,
				Body:    t.Body,
				Active:  t.Active,
			})
		}
		if len(templates) == 0 {
			return nil
		}
		return tx.Create(&templates).Error
	})
	if err != nil {
		return communication.TemplateGroup{}, err
	}
	return group, nil
}

func (s *Store) ForTrigger(ctx context.Context, trigger string, now time.Time) ([]communication.TemplateGroup, error) {
	now = now.UTC()

	var rows []templateGroupModel
	err := s.db.WithContext(ctx).
		Preload("Templates", func(db *gorm.DB) *gorm.DB {
			return db.Order("template_id")
		}).
		Where("trigger_name = ?", trigger).
		Where("(valid_from IS NULL OR valid_from <= ?)", now).
		Where("(valid_until IS NULL OR valid_until > ?)", now).
		Order("group_id").
		Find(&rows).
		Error
	if err != nil {
		return nil, err
	}

	groups := make([]communication.TemplateGroup, 0, len(rows))
	for _, row := range rows {
		g := row.toEntity()
		if !g.IsValid(now) {
			continue
		}
		groups = append(groups, g)
	}
	return groups, nil
}
