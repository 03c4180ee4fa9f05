package discord

import (
	"context"
	"math/rand"
	"time"

	"github.com/bwmarrin/discordgo"

	"github.com/stake-plus/reactionroles/src/roles"
	"github.com/stake-plus/reactionroles/src/webclient"
)

const (
	reactionPageSize = 100
	sendPermissions  = discordgo.PermissionViewChannel | discordgo.PermissionSendMessages
)

// Platform implements roles.Platform on top of a discordgo session.
type Platform struct {
	s          *discordgo.Session
	attempts   int
	retryDelay time.Duration
}

var _ roles.Platform = (*Platform)(nil)

// NewPlatform wraps s. Transient REST failures are retried attempts times.
func NewPlatform(s *discordgo.Session, attempts int, retryDelay time.Duration) *Platform {
	if attempts <= 0 {
		attempts = 3
	}
	if retryDelay <= 0 {
		retryDelay = 500 * time.Millisecond
	}
	return &Platform{s: s, attempts: attempts, retryDelay: retryDelay}
}

// do runs one REST call with retries and classifies the final error.
func (p *Platform) do(ctx context.Context, op string, fn func(opt discordgo.RequestOption) error) error {
	err := webclient.Retry(ctx, p.attempts, p.retryDelay, transient, func() error {
		return fn(discordgo.WithContext(ctx))
	})
	return classify(op, err)
}

func (p *Platform) SelfID() string {
	if p.s.State == nil || p.s.State.User == nil {
		return ""
	}
	return p.s.State.User.ID
}

func (p *Platform) SendMessage(ctx context.Context, channelID string, msg roles.OutgoingMessage) (*roles.Message, error) {
	send := &discordgo.MessageSend{Content: msg.Content}
	if msg.Embed != nil {
		send.Embeds = []*discordgo.MessageEmbed{p.embed(msg.Embed)}
	}
	var sent *discordgo.Message
	err := p.do(ctx, "send message", func(opt discordgo.RequestOption) (err error) {
		sent, err = p.s.ChannelMessageSendComplex(channelID, send, opt)
		return err
	})
	if err != nil {
		return nil, err
	}
	out := toMessage(sent)
	if out.GuildID == "" {
		out.GuildID, _ = p.ChannelGuild(ctx, channelID)
	}
	return out, nil
}

func (p *Platform) EditMessage(ctx context.Context, channelID, messageID string, msg roles.OutgoingMessage) error {
	content := msg.Content
	embeds := []*discordgo.MessageEmbed{}
	if msg.Embed != nil {
		embeds = append(embeds, p.embed(msg.Embed))
	}
	edit := &discordgo.MessageEdit{ID: messageID, Channel: channelID, Content: &content, Embeds: &embeds}
	return p.do(ctx, "edit message", func(opt discordgo.RequestOption) error {
		_, err := p.s.ChannelMessageEditComplex(edit, opt)
		return err
	})
}

// embed renders an engine embed with a random color and the bot as footer.
func (p *Platform) embed(e *roles.Embed) *discordgo.MessageEmbed {
	out := &discordgo.MessageEmbed{
		Title:       e.Title,
		Description: e.Description,
		Color:       rand.Intn(0xFFFFFF + 1),
	}
	if p.s.State != nil && p.s.State.User != nil {
		out.Footer = &discordgo.MessageEmbedFooter{
			Text:    p.s.State.User.Username,
			IconURL: p.s.State.User.AvatarURL(""),
		}
	}
	return out
}

func (p *Platform) DeleteMessage(ctx context.Context, channelID, messageID string) error {
	return p.do(ctx, "delete message", func(opt discordgo.RequestOption) error {
		return p.s.ChannelMessageDelete(channelID, messageID, opt)
	})
}

func (p *Platform) FetchMessage(ctx context.Context, channelID, messageID string) (*roles.Message, error) {
	var m *discordgo.Message
	err := p.do(ctx, "fetch message", func(opt discordgo.RequestOption) (err error) {
		m, err = p.s.ChannelMessage(channelID, messageID, opt)
		return err
	})
	if err != nil {
		return nil, err
	}
	msg := toMessage(m)
	if msg.GuildID == "" {
		msg.GuildID, _ = p.ChannelGuild(ctx, channelID)
	}
	return msg, nil
}

func (p *Platform) SendDirect(ctx context.Context, userID, content string) error {
	var ch *discordgo.Channel
	if err := p.do(ctx, "open dm", func(opt discordgo.RequestOption) (err error) {
		ch, err = p.s.UserChannelCreate(userID, opt)
		return err
	}); err != nil {
		return err
	}
	return p.do(ctx, "send dm", func(opt discordgo.RequestOption) error {
		_, err := p.s.ChannelMessageSend(ch.ID, content, opt)
		return err
	})
}

func (p *Platform) AddReaction(ctx context.Context, channelID, messageID string, token roles.Token) error {
	return p.do(ctx, "add reaction", func(opt discordgo.RequestOption) error {
		return p.s.MessageReactionAdd(channelID, messageID, token.String(), opt)
	})
}

func (p *Platform) RemoveReaction(ctx context.Context, channelID, messageID string, token roles.Token, userID string) error {
	return p.do(ctx, "remove reaction", func(opt discordgo.RequestOption) error {
		return p.s.MessageReactionRemove(channelID, messageID, token.String(), userID, opt)
	})
}

func (p *Platform) ClearReaction(ctx context.Context, channelID, messageID string, token roles.Token) error {
	return p.do(ctx, "clear reaction", func(opt discordgo.RequestOption) error {
		return p.s.MessageReactionsRemoveEmoji(channelID, messageID, token.String(), opt)
	})
}

// ReactionUsers pages through every user holding token on the message.
func (p *Platform) ReactionUsers(ctx context.Context, channelID, messageID string, token roles.Token) ([]string, error) {
	var ids []string
	after := ""
	for {
		var page []*discordgo.User
		err := p.do(ctx, "list reactions", func(opt discordgo.RequestOption) (err error) {
			page, err = p.s.MessageReactions(channelID, messageID, token.String(), reactionPageSize, "", after, opt)
			return err
		})
		if err != nil {
			return nil, err
		}
		for _, u := range page {
			ids = append(ids, u.ID)
		}
		if len(page) < reactionPageSize {
			return ids, nil
		}
		after = page[len(page)-1].ID
	}
}

// FetchGuild always goes to the REST API; state can lag behind a removal.
func (p *Platform) FetchGuild(ctx context.Context, guildID string) error {
	return p.do(ctx, "fetch guild", func(opt discordgo.RequestOption) error {
		_, err := p.s.Guild(guildID, opt)
		return err
	})
}

func (p *Platform) ChannelGuild(ctx context.Context, channelID string) (string, error) {
	if p.s.State != nil {
		if ch, err := p.s.State.Channel(channelID); err == nil {
			return ch.GuildID, nil
		}
	}
	var ch *discordgo.Channel
	err := p.do(ctx, "fetch channel", func(opt discordgo.RequestOption) (err error) {
		ch, err = p.s.Channel(channelID, opt)
		return err
	})
	if err != nil {
		return "", err
	}
	return ch.GuildID, nil
}

func (p *Platform) CanSend(ctx context.Context, channelID string) (bool, error) {
	perms, err := p.permissions(ctx, p.SelfID(), channelID)
	if err != nil {
		return false, err
	}
	if perms&discordgo.PermissionAdministrator != 0 {
		return true, nil
	}
	return perms&sendPermissions == sendPermissions, nil
}

func (p *Platform) permissions(ctx context.Context, userID, channelID string) (int64, error) {
	var perms int64
	err := p.do(ctx, "channel permissions", func(opt discordgo.RequestOption) (err error) {
		perms, err = p.s.UserChannelPermissions(userID, channelID, opt)
		return err
	})
	return perms, err
}

func (p *Platform) AddRole(ctx context.Context, guildID, userID, roleID string) error {
	return p.do(ctx, "add role", func(opt discordgo.RequestOption) error {
		return p.s.GuildMemberRoleAdd(guildID, userID, roleID, opt)
	})
}

func (p *Platform) RemoveRole(ctx context.Context, guildID, userID, roleID string) error {
	return p.do(ctx, "remove role", func(opt discordgo.RequestOption) error {
		return p.s.GuildMemberRoleRemove(guildID, userID, roleID, opt)
	})
}

func (p *Platform) RoleName(ctx context.Context, guildID, roleID string) (string, error) {
	if p.s.State != nil {
		if role, err := p.s.State.Role(guildID, roleID); err == nil {
			return role.Name, nil
		}
	}
	var list []*discordgo.Role
	err := p.do(ctx, "list roles", func(opt discordgo.RequestOption) (err error) {
		list, err = p.s.GuildRoles(guildID, opt)
		return err
	})
	if err != nil {
		return "", err
	}
	for _, role := range list {
		if role.ID == roleID {
			return role.Name, nil
		}
	}
	return "", classify("role name", discordgo.ErrStateNotFound)
}

func (p *Platform) MemberRoles(ctx context.Context, guildID, userID string) ([]string, error) {
	member, err := p.member(ctx, guildID, userID)
	if err != nil {
		return nil, err
	}
	return member.Roles, nil
}

func (p *Platform) member(ctx context.Context, guildID, userID string) (*discordgo.Member, error) {
	if p.s.State != nil {
		if m, err := p.s.State.Member(guildID, userID); err == nil {
			return m, nil
		}
	}
	var m *discordgo.Member
	err := p.do(ctx, "fetch member", func(opt discordgo.RequestOption) (err error) {
		m, err = p.s.GuildMember(guildID, userID, opt)
		return err
	})
	return m, err
}

// IsAdministrator reports whether the member holds the Administrator
// permission in channelID; guild owners always do.
func (p *Platform) IsAdministrator(ctx context.Context, guildID, channelID, userID string) (bool, error) {
	perms, err := p.permissions(ctx, userID, channelID)
	if err != nil {
		return false, err
	}
	return perms&discordgo.PermissionAdministrator != 0, nil
}
