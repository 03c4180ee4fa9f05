package roles

import (
	"errors"
	"sort"
	"time"
)

var (
	// ErrNotFound reports that a message, channel, guild, member or record no longer exists.
	ErrNotFound = errors.New("roles: not found")
	// ErrForbidden reports that the bot lacks access or permissions for an operation.
	ErrForbidden = errors.New("roles: forbidden")
	// ErrDuplicateBinding is returned when a message already has a Binding Set.
	ErrDuplicateBinding = errors.New("roles: message already has a reaction-role binding")
	// ErrTokenInUse is returned when a reaction token is already bound by another Binding Set.
	ErrTokenInUse = errors.New("roles: reaction already bound")
	// ErrTimeout is returned when a wizard prompt received no answer in time.
	ErrTimeout = errors.New("roles: prompt timed out")
	// ErrCancelled is returned when a wizard session was cancelled.
	ErrCancelled = errors.New("roles: session cancelled")
	// ErrUnauthorized is returned when a member lacks a configured admin role.
	ErrUnauthorized = errors.New("roles: member is not a bot admin")
	// ErrSessionActive is returned when the operator already runs a wizard in the channel.
	ErrSessionActive = errors.New("roles: wizard session already active")
)

// MessageRef identifies one message on the platform.
type MessageRef struct {
	MessageID string `json:"messageId"`
	ChannelID string `json:"channelId"`
	GuildID   string `json:"guildId"`
}

// Binding maps one reaction token to the role it grants.
type Binding struct {
	Token  Token  `json:"reaction"`
	RoleID string `json:"roleId"`
}

// BindingSet is the persisted association between a message and its reaction roles.
type BindingSet struct {
	MessageRef
	Bindings  []Binding `json:"bindings"`
	Unique    bool      `json:"unique"`
	CreatedAt time.Time `json:"createdAt"`
}

// RoleFor returns the role bound to token, if any.
func (b *BindingSet) RoleFor(token Token) (string, bool) {
	if b == nil {
		return "", false
	}
	token = ParseToken(string(token))
	for _, binding := range b.Bindings {
		if ParseToken(string(binding.Token)) == token {
			return binding.RoleID, true
		}
	}
	return "", false
}

// Tokens returns the bound tokens in a stable order.
func (b *BindingSet) Tokens() []Token {
	if b == nil {
		return nil
	}
	out := make([]Token, 0, len(b.Bindings))
	for _, binding := range b.Bindings {
		out = append(out, binding.Token)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// CleanupEntry is a guild believed unreachable since FirstFailure.
type CleanupEntry struct {
	GuildID      string    `json:"guildId"`
	FirstFailure time.Time `json:"firstFailure"`
}

// Age reports how long the guild has been queued relative to now.
func (e CleanupEntry) Age(now time.Time) time.Duration {
	return now.Sub(e.FirstFailure)
}
