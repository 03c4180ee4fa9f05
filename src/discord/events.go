package discord

import (
	"github.com/bwmarrin/discordgo"

	"github.com/stake-plus/reactionroles/src/roles"
)

func toMessage(m *discordgo.Message) *roles.Message {
	msg := &roles.Message{
		MessageRef: roles.MessageRef{MessageID: m.ID, ChannelID: m.ChannelID, GuildID: m.GuildID},
		Content:    m.Content,
	}
	if m.Author != nil {
		msg.AuthorID = m.Author.ID
	}
	if len(m.Embeds) > 0 && m.Embeds[0] != nil {
		msg.EmbedTitle = m.Embeds[0].Title
	}
	return msg
}

// MessageEvent converts a gateway message into the engine's event. Mentions
// are read from the content so their order is preserved.
func MessageEvent(m *discordgo.Message) roles.MessageEvent {
	ev := roles.MessageEvent{
		MessageRef:      roles.MessageRef{MessageID: m.ID, ChannelID: m.ChannelID, GuildID: m.GuildID},
		Content:         m.Content,
		RoleMentions:    roles.RoleMentions(m.Content),
		ChannelMentions: roles.ChannelMentions(m.Content),
	}
	if m.Author != nil {
		ev.AuthorID = m.Author.ID
		ev.IsBot = m.Author.Bot
	}
	return ev
}

// ReactionEvent converts a gateway reaction into the engine's event.
func ReactionEvent(r *discordgo.MessageReaction) roles.ReactionEvent {
	return roles.ReactionEvent{
		MessageRef: roles.MessageRef{MessageID: r.MessageID, ChannelID: r.ChannelID, GuildID: r.GuildID},
		UserID:     r.UserID,
		Token:      roles.ParseToken(r.Emoji.APIName()),
	}
}
