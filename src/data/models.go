package data

import "time"

// ReactionMessage is the persisted head of a Binding Set.
type ReactionMessage struct {
	MessageID string `gorm:"primaryKey;size:32"`
	ChannelID string `gorm:"size:32;index;not null"`
	GuildID   string `gorm:"size:32;index;not null"`
	Unique    bool   `gorm:"column:limit_to_one;not null;default:false"`
	CreatedAt time.Time

	Bindings []ReactionBinding `gorm:"foreignKey:MessageID;references:MessageID"`
}

func (ReactionMessage) TableName() string { return "reaction_messages" }

// ReactionBinding maps one reaction to one role. A reaction is bound at most
// once across all messages.
type ReactionBinding struct {
	ID        uint64 `gorm:"primaryKey;autoIncrement"`
	MessageID string `gorm:"size:32;index;not null"`
	Reaction  string `gorm:"size:128;uniqueIndex;not null"`
	RoleID    string `gorm:"size:32;not null"`
}

func (ReactionBinding) TableName() string { return "reaction_bindings" }

type AdminRole struct {
	GuildID   string `gorm:"primaryKey;size:32"`
	RoleID    string `gorm:"primaryKey;size:32"`
	CreatedAt time.Time
}

func (AdminRole) TableName() string { return "admin_roles" }

type SystemChannel struct {
	GuildID   string `gorm:"primaryKey;size:32"`
	ChannelID string `gorm:"size:32;not null"`
}

func (SystemChannel) TableName() string { return "system_channels" }

type GuildSetting struct {
	GuildID string `gorm:"primaryKey;size:32"`
	Notify  bool   `gorm:"not null;default:false"`
}

func (GuildSetting) TableName() string { return "guild_settings" }

// TrackedGuild is a guild the bot has created Binding Sets in.
type TrackedGuild struct {
	GuildID   string `gorm:"primaryKey;size:32"`
	CreatedAt time.Time
}

func (TrackedGuild) TableName() string { return "guilds" }

// CleanupGuild is a Cleanup Queue entry.
type CleanupGuild struct {
	GuildID      string    `gorm:"primaryKey;size:32"`
	FirstFailure time.Time `gorm:"not null"`
}

func (CleanupGuild) TableName() string { return "cleanup_queue_guilds" }

func allModels() []any {
	return []any{
		&Setting{},
		&ReactionMessage{},
		&ReactionBinding{},
		&AdminRole{},
		&SystemChannel{},
		&GuildSetting{},
		&TrackedGuild{},
		&CleanupGuild{},
	}
}
