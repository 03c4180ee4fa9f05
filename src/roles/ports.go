package roles

import (
	"context"
	"time"
)

// Store is the persistence port. Implementations return ErrNotFound for
// absent records and wrap every other failure; callers never receive a
// partially filled value together with an error.
type Store interface {
	BindingSet(ctx context.Context, messageID string) (*BindingSet, error)
	BindingSetExists(ctx context.Context, messageID string) (bool, error)
	CreateBindingSet(ctx context.Context, set BindingSet) error
	DeleteBindingSet(ctx context.Context, messageID string) error
	BindingSets(ctx context.Context) ([]BindingSet, error)
	BindingSetsByChannel(ctx context.Context, channelID string) ([]BindingSet, error)

	AddBinding(ctx context.Context, messageID string, binding Binding) error
	RemoveBinding(ctx context.Context, messageID string, token Token) error
	TokenInUse(ctx context.Context, token Token) (bool, error)

	AdminRoles(ctx context.Context, guildID string) ([]string, error)
	AddAdminRole(ctx context.Context, guildID, roleID string) error
	RemoveAdminRole(ctx context.Context, guildID, roleID string) error

	SystemChannel(ctx context.Context, guildID string) (string, error)
	SetSystemChannel(ctx context.Context, guildID, channelID string) error

	Notify(ctx context.Context, guildID string) (bool, error)
	ToggleNotify(ctx context.Context, guildID string) (bool, error)

	AddGuild(ctx context.Context, guildID string) error
	Guilds(ctx context.Context) ([]string, error)
	// PurgeGuild removes every record held for the guild, queue entry included.
	PurgeGuild(ctx context.Context, guildID string) error

	CleanupQueue(ctx context.Context) ([]CleanupEntry, error)
	EnqueueCleanup(ctx context.Context, guildID string, at time.Time) error
	DequeueCleanup(ctx context.Context, guildID string) error
}

// Embed is the optional embed part of an outgoing message.
type Embed struct {
	Title       string
	Description string
}

// OutgoingMessage is a message the engine sends or edits.
type OutgoingMessage struct {
	Content string
	Embed   *Embed
}

// Empty reports whether the message has nothing to render.
func (m OutgoingMessage) Empty() bool {
	return m.Content == "" && (m.Embed == nil || (m.Embed.Title == "" && m.Embed.Description == ""))
}

// Message is a platform message as observed by the engine.
type Message struct {
	MessageRef
	AuthorID   string
	Content    string
	EmbedTitle string
}

// Summary returns the embed title when present, the content otherwise.
func (m *Message) Summary() string {
	if m.EmbedTitle != "" {
		return m.EmbedTitle
	}
	return m.Content
}

// Platform is the chat platform surface the engine consumes. Implementations
// classify failures into ErrNotFound and ErrForbidden where they apply.
type Platform interface {
	SelfID() string

	SendMessage(ctx context.Context, channelID string, msg OutgoingMessage) (*Message, error)
	EditMessage(ctx context.Context, channelID, messageID string, msg OutgoingMessage) error
	DeleteMessage(ctx context.Context, channelID, messageID string) error
	FetchMessage(ctx context.Context, channelID, messageID string) (*Message, error)
	SendDirect(ctx context.Context, userID, content string) error

	AddReaction(ctx context.Context, channelID, messageID string, token Token) error
	RemoveReaction(ctx context.Context, channelID, messageID string, token Token, userID string) error
	ClearReaction(ctx context.Context, channelID, messageID string, token Token) error
	ReactionUsers(ctx context.Context, channelID, messageID string, token Token) ([]string, error)

	// FetchGuild re-observes a guild; it fails when the bot can no longer see it.
	FetchGuild(ctx context.Context, guildID string) error
	ChannelGuild(ctx context.Context, channelID string) (string, error)
	CanSend(ctx context.Context, channelID string) (bool, error)

	AddRole(ctx context.Context, guildID, userID, roleID string) error
	RemoveRole(ctx context.Context, guildID, userID, roleID string) error
	RoleName(ctx context.Context, guildID, roleID string) (string, error)
	MemberRoles(ctx context.Context, guildID, userID string) ([]string, error)
	IsAdministrator(ctx context.Context, guildID, channelID, userID string) (bool, error)
}

// MessageEvent is a message created in a guild channel.
type MessageEvent struct {
	MessageRef
	AuthorID string
	IsBot    bool
	Content  string
	// RoleMentions and ChannelMentions hold ids in mention order.
	RoleMentions    []string
	ChannelMentions []string
}

// ReactionEvent is a reaction added to or removed from a message.
type ReactionEvent struct {
	MessageRef
	UserID string
	Token  Token
}
