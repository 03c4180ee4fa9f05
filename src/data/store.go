package data

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/stake-plus/reactionroles/src/roles"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Store implements roles.Store on gorm.
type Store struct {
	db *gorm.DB
}

var _ roles.Store = (*Store)(nil)

// NewStore wraps an open, migrated database.
func NewStore(db *gorm.DB) *Store {
	return &Store{db: db}
}

// DB exposes the underlying handle for settings and health checks.
func (s *Store) DB() *gorm.DB { return s.db }

// Ping checks the database connection.
func (s *Store) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return wrap("ping", err)
	}
	return wrap("ping", sqlDB.PingContext(ctx))
}

func wrap(op string, err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, gorm.ErrRecordNotFound):
		return roles.ErrNotFound
	default:
		return fmt.Errorf("data: %s: %w", op, err)
	}
}

func toBindingSet(m ReactionMessage) roles.BindingSet {
	set := roles.BindingSet{
		MessageRef: roles.MessageRef{MessageID: m.MessageID, ChannelID: m.ChannelID, GuildID: m.GuildID},
		Unique:     m.Unique,
		CreatedAt:  m.CreatedAt,
		Bindings:   make([]roles.Binding, 0, len(m.Bindings)),
	}
	for _, b := range m.Bindings {
		set.Bindings = append(set.Bindings, roles.Binding{Token: roles.Token(b.Reaction), RoleID: b.RoleID})
	}
	return set
}

func orderedBindings(db *gorm.DB) *gorm.DB { return db.Order("id") }

func (s *Store) BindingSet(ctx context.Context, messageID string) (*roles.BindingSet, error) {
	var m ReactionMessage
	err := s.db.WithContext(ctx).
		Preload("Bindings", orderedBindings).
		Where("message_id = ?", messageID).
		First(&m).Error
	if err != nil {
		return nil, wrap("binding set", err)
	}
	set := toBindingSet(m)
	return &set, nil
}

func (s *Store) BindingSetExists(ctx context.Context, messageID string) (bool, error) {
	var n int64
	err := s.db.WithContext(ctx).Model(&ReactionMessage{}).Where("message_id = ?", messageID).Count(&n).Error
	return n > 0, wrap("binding set exists", err)
}

// CreateBindingSet persists the message and its bindings atomically.
func (s *Store) CreateBindingSet(ctx context.Context, set roles.BindingSet) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var n int64
		if err := tx.Model(&ReactionMessage{}).Where("message_id = ?", set.MessageID).Count(&n).Error; err != nil {
			return wrap("create binding set", err)
		}
		if n > 0 {
			return roles.ErrDuplicateBinding
		}

		reactions := make([]string, 0, len(set.Bindings))
		for _, b := range set.Bindings {
			reactions = append(reactions, string(b.Token))
		}
		if len(reactions) > 0 {
			if err := tx.Model(&ReactionBinding{}).Where("reaction IN ?", reactions).Count(&n).Error; err != nil {
				return wrap("create binding set", err)
			}
			if n > 0 {
				return roles.ErrTokenInUse
			}
		}

		head := ReactionMessage{
			MessageID: set.MessageID,
			ChannelID: set.ChannelID,
			GuildID:   set.GuildID,
			Unique:    set.Unique,
		}
		if err := tx.Omit("Bindings").Create(&head).Error; err != nil {
			if errors.Is(err, gorm.ErrDuplicatedKey) {
				return roles.ErrDuplicateBinding
			}
			return wrap("create binding set", err)
		}

		rows := make([]ReactionBinding, 0, len(set.Bindings))
		for _, b := range set.Bindings {
			rows = append(rows, ReactionBinding{MessageID: set.MessageID, Reaction: string(b.Token), RoleID: b.RoleID})
		}
		if len(rows) == 0 {
			return nil
		}
		if err := tx.Create(&rows).Error; err != nil {
			if errors.Is(err, gorm.ErrDuplicatedKey) {
				return roles.ErrTokenInUse
			}
			return wrap("create bindings", err)
		}
		return nil
	})
}

func (s *Store) DeleteBindingSet(ctx context.Context, messageID string) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("message_id = ?", messageID).Delete(&ReactionBinding{}).Error; err != nil {
			return wrap("delete bindings", err)
		}
		res := tx.Where("message_id = ?", messageID).Delete(&ReactionMessage{})
		if res.Error != nil {
			return wrap("delete binding set", res.Error)
		}
		if res.RowsAffected == 0 {
			return roles.ErrNotFound
		}
		return nil
	})
}

func (s *Store) findSets(ctx context.Context, scope func(*gorm.DB) *gorm.DB) ([]roles.BindingSet, error) {
	var rows []ReactionMessage
	q := s.db.WithContext(ctx).Preload("Bindings", orderedBindings).Order("created_at, message_id")
	if scope != nil {
		q = scope(q)
	}
	if err := q.Find(&rows).Error; err != nil {
		return nil, wrap("binding sets", err)
	}
	out := make([]roles.BindingSet, 0, len(rows))
	for _, m := range rows {
		out = append(out, toBindingSet(m))
	}
	return out, nil
}

func (s *Store) BindingSets(ctx context.Context) ([]roles.BindingSet, error) {
	return s.findSets(ctx, nil)
}

func (s *Store) BindingSetsByChannel(ctx context.Context, channelID string) ([]roles.BindingSet, error) {
	return s.findSets(ctx, func(q *gorm.DB) *gorm.DB { return q.Where("channel_id = ?", channelID) })
}

func (s *Store) AddBinding(ctx context.Context, messageID string, binding roles.Binding) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var n int64
		if err := tx.Model(&ReactionMessage{}).Where("message_id = ?", messageID).Count(&n).Error; err != nil {
			return wrap("add binding", err)
		}
		if n == 0 {
			return roles.ErrNotFound
		}
		if err := tx.Model(&ReactionBinding{}).Where("reaction = ?", string(binding.Token)).Count(&n).Error; err != nil {
			return wrap("add binding", err)
		}
		if n > 0 {
			return roles.ErrTokenInUse
		}
		row := ReactionBinding{MessageID: messageID, Reaction: string(binding.Token), RoleID: binding.RoleID}
		if err := tx.Create(&row).Error; err != nil {
			if errors.Is(err, gorm.ErrDuplicatedKey) {
				return roles.ErrTokenInUse
			}
			return wrap("add binding", err)
		}
		return nil
	})
}

func (s *Store) RemoveBinding(ctx context.Context, messageID string, token roles.Token) error {
	res := s.db.WithContext(ctx).
		Where("message_id = ? AND reaction = ?", messageID, string(token)).
		Delete(&ReactionBinding{})
	if res.Error != nil {
		return wrap("remove binding", res.Error)
	}
	if res.RowsAffected == 0 {
		return roles.ErrNotFound
	}
	return nil
}

func (s *Store) TokenInUse(ctx context.Context, token roles.Token) (bool, error) {
	var n int64
	err := s.db.WithContext(ctx).Model(&ReactionBinding{}).Where("reaction = ?", string(token)).Count(&n).Error
	return n > 0, wrap("token in use", err)
}

func (s *Store) AdminRoles(ctx context.Context, guildID string) ([]string, error) {
	var ids []string
	err := s.db.WithContext(ctx).Model(&AdminRole{}).
		Where("guild_id = ?", guildID).
		Order("created_at, role_id").
		Pluck("role_id", &ids).Error
	if err != nil {
		return nil, wrap("admin roles", err)
	}
	return ids, nil
}

func (s *Store) AddAdminRole(ctx context.Context, guildID, roleID string) error {
	err := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(&AdminRole{GuildID: guildID, RoleID: roleID}).Error
	return wrap("add admin role", err)
}

func (s *Store) RemoveAdminRole(ctx context.Context, guildID, roleID string) error {
	res := s.db.WithContext(ctx).Where("guild_id = ? AND role_id = ?", guildID, roleID).Delete(&AdminRole{})
	if res.Error != nil {
		return wrap("remove admin role", res.Error)
	}
	if res.RowsAffected == 0 {
		return roles.ErrNotFound
	}
	return nil
}

func (s *Store) SystemChannel(ctx context.Context, guildID string) (string, error) {
	var row SystemChannel
	if err := s.db.WithContext(ctx).Where("guild_id = ?", guildID).First(&row).Error; err != nil {
		return "", wrap("system channel", err)
	}
	return row.ChannelID, nil
}

func (s *Store) SetSystemChannel(ctx context.Context, guildID, channelID string) error {
	err := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "guild_id"}},
			DoUpdates: clause.AssignmentColumns([]string{"channel_id"}),
		}).
		Create(&SystemChannel{GuildID: guildID, ChannelID: channelID}).Error
	return wrap("set system channel", err)
}

// Notify reports the guild's notify flag; guilds without a row are off.
func (s *Store) Notify(ctx context.Context, guildID string) (bool, error) {
	var row GuildSetting
	err := s.db.WithContext(ctx).Where("guild_id = ?", guildID).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return false, nil
	}
	if err != nil {
		return false, wrap("notify", err)
	}
	return row.Notify, nil
}

func (s *Store) ToggleNotify(ctx context.Context, guildID string) (bool, error) {
	var enabled bool
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var row GuildSetting
		err := tx.Where("guild_id = ?", guildID).First(&row).Error
		switch {
		case errors.Is(err, gorm.ErrRecordNotFound):
			enabled = true
			return tx.Create(&GuildSetting{GuildID: guildID, Notify: true}).Error
		case err != nil:
			return err
		}
		enabled = !row.Notify
		return tx.Model(&GuildSetting{}).Where("guild_id = ?", guildID).Update("notify", enabled).Error
	})
	if err != nil {
		return false, wrap("toggle notify", err)
	}
	return enabled, nil
}

func (s *Store) AddGuild(ctx context.Context, guildID string) error {
	err := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(&TrackedGuild{GuildID: guildID}).Error
	return wrap("add guild", err)
}

func (s *Store) Guilds(ctx context.Context) ([]string, error) {
	var ids []string
	if err := s.db.WithContext(ctx).Model(&TrackedGuild{}).Order("guild_id").Pluck("guild_id", &ids).Error; err != nil {
		return nil, wrap("guilds", err)
	}
	return ids, nil
}

// PurgeGuild deletes every record held for the guild in one transaction.
func (s *Store) PurgeGuild(ctx context.Context, guildID string) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var messageIDs []string
		if err := tx.Model(&ReactionMessage{}).Where("guild_id = ?", guildID).Pluck("message_id", &messageIDs).Error; err != nil {
			return wrap("purge guild", err)
		}
		if len(messageIDs) > 0 {
			if err := tx.Where("message_id IN ?", messageIDs).Delete(&ReactionBinding{}).Error; err != nil {
				return wrap("purge guild bindings", err)
			}
		}
		for _, model := range []any{&ReactionMessage{}, &AdminRole{}, &SystemChannel{}, &GuildSetting{}, &TrackedGuild{}, &CleanupGuild{}} {
			if err := tx.Where("guild_id = ?", guildID).Delete(model).Error; err != nil {
				return wrap("purge guild", err)
			}
		}
		return nil
	})
}

func (s *Store) CleanupQueue(ctx context.Context) ([]roles.CleanupEntry, error) {
	var rows []CleanupGuild
	if err := s.db.WithContext(ctx).Order("first_failure, guild_id").Find(&rows).Error; err != nil {
		return nil, wrap("cleanup queue", err)
	}
	out := make([]roles.CleanupEntry, 0, len(rows))
	for _, r := range rows {
		out = append(out, roles.CleanupEntry{GuildID: r.GuildID, FirstFailure: r.FirstFailure})
	}
	return out, nil
}

// EnqueueCleanup records the first failure time; re-enqueueing keeps it.
func (s *Store) EnqueueCleanup(ctx context.Context, guildID string, at time.Time) error {
	err := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(&CleanupGuild{GuildID: guildID, FirstFailure: at.UTC()}).Error
	return wrap("enqueue cleanup", err)
}

func (s *Store) DequeueCleanup(ctx context.Context, guildID string) error {
	err := s.db.WithContext(ctx).Where("guild_id = ?", guildID).Delete(&CleanupGuild{}).Error
	return wrap("dequeue cleanup", err)
}
