package roles

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sort"
	"strconv"
	"strings"
)

const notAdminReply = "You do not have an admin role."

// Commands parses prefixed text commands and runs them.
type Commands struct {
	store    Store
	platform Platform
	router   *Router
	auth     *Authorizer
	wizard   *Wizard
	prefixes []string
	display  string
	logger   *log.Logger
}

// NewCommands builds the command surface. The first prefix is the one shown
// in usage text.
func NewCommands(store Store, platform Platform, router *Router, wizard *Wizard, prefixes []string, logger *log.Logger) *Commands {
	if logger == nil {
		logger = log.Default()
	}
	display := ""
	if len(prefixes) > 0 {
		display = prefixes[0]
	}
	sorted := append([]string(nil), prefixes...)
	sort.SliceStable(sorted, func(i, j int) bool { return len(sorted[i]) > len(sorted[j]) })
	return &Commands{
		store:    store,
		platform: platform,
		router:   router,
		auth:     NewAuthorizer(store, platform),
		wizard:   wizard,
		prefixes: sorted,
		display:  display,
		logger:   logger,
	}
}

func (c *Commands) displayPrefix() string { return c.display }

// invocation is one parsed command.
type invocation struct {
	ev   MessageEvent
	name string
	// rest is the raw text after the command name.
	rest string
	args []string
}

// Parse strips a configured prefix or a bot mention and splits the command.
func (c *Commands) Parse(ev MessageEvent) (name, rest string, ok bool) {
	content := strings.TrimSpace(ev.Content)
	body, matched := "", false

	self := c.platform.SelfID()
	for _, mention := range []string{"<@" + self + ">", "<@!" + self + ">"} {
		if self != "" && strings.HasPrefix(content, mention) {
			body, matched = strings.TrimSpace(content[len(mention):]), true
			break
		}
	}
	if !matched {
		for _, prefix := range c.prefixes {
			if prefix != "" && strings.HasPrefix(content, prefix) {
				body, matched = content[len(prefix):], true
				break
			}
		}
	}
	if !matched || body == "" {
		return "", "", false
	}

	name, rest, _ = strings.Cut(body, " ")
	return strings.ToLower(name), strings.TrimSpace(rest), true
}

// Handle runs the command in ev, if any, and reports whether it was one.
func (c *Commands) Handle(ctx context.Context, ev MessageEvent) bool {
	if ev.IsBot || ev.GuildID == "" {
		return false
	}
	name, rest, ok := c.Parse(ev)
	if !ok {
		return false
	}
	inv := invocation{ev: ev, name: name, rest: rest, args: strings.Fields(rest)}

	switch name {
	case "new", "create":
		c.runWizard(ctx, inv)
	case "edit":
		c.gated(ctx, inv, c.edit)
	case "reaction":
		c.gated(ctx, inv, c.reaction)
	case "systemchannel":
		c.gated(ctx, inv, c.systemChannel)
	case "notify":
		c.gated(ctx, inv, c.toggleNotify)
	case "admin":
		c.administrator(ctx, inv, c.addAdmin)
	case "rm-admin":
		c.administrator(ctx, inv, c.removeAdmin)
	case "adminlist":
		c.administrator(ctx, inv, c.listAdmins)
	default:
		return false
	}
	return true
}

func (c *Commands) reply(ctx context.Context, inv invocation, format string, args ...any) {
	text := format
	if len(args) > 0 {
		text = fmt.Sprintf(format, args...)
	}
	for _, chunk := range SplitContent(text, safeChunkLen) {
		if _, err := c.platform.SendMessage(ctx, inv.ev.ChannelID, OutgoingMessage{Content: chunk}); err != nil {
			c.logger.Printf("commands: reply to %s in %s failed: %v", inv.name, inv.ev.ChannelID, err)
			return
		}
	}
}

func (c *Commands) gated(ctx context.Context, inv invocation, run func(context.Context, invocation)) {
	ok, err := c.auth.IsAdmin(ctx, inv.ev.GuildID, inv.ev.AuthorID)
	if err != nil {
		c.router.Notifyf(ctx, inv.ev.GuildID, "Database error when checking bot admins:\n```\n%v\n```", err)
		return
	}
	if !ok {
		c.reply(ctx, inv, notAdminReply)
		return
	}
	run(ctx, inv)
}

func (c *Commands) administrator(ctx context.Context, inv invocation, run func(context.Context, invocation)) {
	ok, err := c.platform.IsAdministrator(ctx, inv.ev.GuildID, inv.ev.ChannelID, inv.ev.AuthorID)
	if err != nil {
		c.logger.Printf("commands: permission check for %s in guild %s: %v", inv.ev.AuthorID, inv.ev.GuildID, err)
	}
	if !ok {
		c.reply(ctx, inv, "You need the Administrator permission on this server to use this command.")
		return
	}
	run(ctx, inv)
}

func (c *Commands) runWizard(ctx context.Context, inv invocation) {
	if c.wizard == nil {
		return
	}
	_, err := c.wizard.Run(ctx, Invocation{MessageRef: inv.ev.MessageRef, OperatorID: inv.ev.AuthorID})
	switch {
	case err == nil:
	case errors.Is(err, ErrUnauthorized):
		c.reply(ctx, inv, notAdminReply)
	case errors.Is(err, ErrSessionActive):
		c.reply(ctx, inv, "You are already creating a reaction-role message in this channel.")
	case errors.Is(err, ErrTimeout), errors.Is(err, ErrCancelled), errors.Is(err, ErrDuplicateBinding), errors.Is(err, ErrTokenInUse):
	default:
		c.logger.Printf("commands: wizard for %s in %s: %v", inv.ev.AuthorID, inv.ev.ChannelID, err)
	}
}

// listedSet is a Binding Set the bot can still read, numbered from 1.
type listedSet struct {
	set     BindingSet
	message *Message
}

// channelSets returns the readable Binding Sets of a channel in creation
// order. Numbers shown to operators index into this slice.
func (c *Commands) channelSets(ctx context.Context, guildID, channelID string) ([]listedSet, error) {
	sets, err := c.store.BindingSetsByChannel(ctx, channelID)
	if err != nil {
		c.router.Notifyf(ctx, guildID, "Database error when fetching messages:\n```\n%v\n```", err)
		return nil, err
	}

	var out []listedSet
	for _, set := range sets {
		msg, err := c.platform.FetchMessage(ctx, set.ChannelID, set.MessageID)
		switch {
		case err == nil:
			out = append(out, listedSet{set: set, message: msg})
		case errors.Is(err, ErrNotFound):
			// Left for the consistency sweep.
		case errors.Is(err, ErrForbidden):
			c.router.Notifyf(ctx, guildID, "I do not have permissions to edit a reaction-role message"+
				" that I previously created.\n\nID: %s in <#%s>", set.MessageID, set.ChannelID)
		default:
			c.logger.Printf("commands: fetch message %s: %v", set.MessageID, err)
		}
	}
	return out, nil
}

func formatList(listed []listedSet) string {
	lines := make([]string, 0, len(listed))
	for i, entry := range listed {
		lines = append(lines, fmt.Sprintf("`%d` %s", i+1, entry.message.Summary()))
	}
	return strings.Join(lines, "\n")
}

func pick(listed []listedSet, number string) (listedSet, bool) {
	n, err := strconv.Atoi(strings.TrimSpace(number))
	if err != nil || n < 1 || n > len(listed) {
		return listedSet{}, false
	}
	return listed[n-1], true
}

const invalidNumberReply = "Select a valid reaction-role message number (i.e. the number to the left" +
	" of the reaction-role message content in the list above)."

// mentionedChannel returns the first mentioned channel when it belongs to the
// invoking guild.
func (c *Commands) mentionedChannel(ctx context.Context, inv invocation) (string, bool) {
	if len(inv.ev.ChannelMentions) == 0 {
		return "", false
	}
	channelID := inv.ev.ChannelMentions[0]
	guildID, err := c.platform.ChannelGuild(ctx, channelID)
	if err != nil || guildID != inv.ev.GuildID {
		return "", false
	}
	return channelID, true
}

func (c *Commands) edit(ctx context.Context, inv invocation) {
	p := c.displayPrefix()
	if len(inv.args) == 0 {
		c.reply(ctx, inv, "**Type** `%sedit #channelname` to get started. Replace `#channelname` with the"+
			" channel where the reaction-role message you wish to edit is located.", p)
		return
	}
	if len(inv.ev.ChannelMentions) == 0 {
		c.reply(ctx, inv, "You need to mention a channel.")
		return
	}
	channelID, ok := c.mentionedChannel(ctx, inv)
	if !ok {
		c.reply(ctx, inv, "The channel you mentioned is invalid.")
		return
	}

	listed, err := c.channelSets(ctx, inv.ev.GuildID, channelID)
	if err != nil {
		return
	}

	fields := strings.Split(inv.rest, compositionSeparator)
	if len(fields) < 3 {
		switch len(listed) {
		case 0:
			c.reply(ctx, inv, "There are no reaction-role messages in that channel.")
		case 1:
			c.reply(ctx, inv, "There is only one reaction-role message in this channel. **Type**:\n```\n"+
				"%sedit <#%s> // 1 // New Message // New Embed Title (Optional) // New Embed Description (Optional)\n```\n"+
				"to edit the reaction-role message. You can type `none` in any of the argument fields above"+
				" (e.g. `New Message`) to make the bot ignore it.", p, channelID)
		default:
			c.reply(ctx, inv, "There are **%d** reaction-role messages in this channel. **Type**:\n```\n"+
				"%sedit <#%s> // MESSAGE_NUMBER // New Message // New Embed Title (Optional) // New Embed Description (Optional)\n```\n"+
				"to edit the desired one. You can type `none` in any of the argument fields above (e.g. `New Message`)"+
				" to make the bot ignore it. The list of the current reaction-role messages is:\n\n%s",
				len(listed), p, channelID, formatList(listed))
		}
		return
	}

	if len(listed) == 0 {
		c.reply(ctx, inv, "You selected a reaction-role message that does not exist.")
		return
	}
	entry, ok := pick(listed, fields[1])
	if !ok {
		c.reply(ctx, inv, invalidNumberReply)
		return
	}

	out := compositionFromFields(fields[2:])
	if out.Empty() {
		c.reply(ctx, inv, "You can't use an empty message as role-reaction message.")
		return
	}
	if entry.message.AuthorID != c.platform.SelfID() {
		c.reply(ctx, inv, "I can only edit messages that are created by me, please edit the message in some other way.")
		return
	}

	err = c.platform.EditMessage(ctx, entry.set.ChannelID, entry.set.MessageID, out)
	switch {
	case err == nil:
		c.reply(ctx, inv, "Message edited.")
	case errors.Is(err, ErrForbidden):
		c.reply(ctx, inv, "I do not have permissions to edit the message.")
	default:
		c.router.Notifyf(ctx, inv.ev.GuildID, "I could not edit the reaction-role message %s in <#%s>:\n```\n%v\n```",
			entry.set.MessageID, entry.set.ChannelID, err)
	}
}

func (c *Commands) reaction(ctx context.Context, inv invocation) {
	p := c.displayPrefix()
	if len(inv.args) < 4 {
		if len(inv.ev.ChannelMentions) == 0 {
			c.reply(ctx, inv, "To get started, type:\n```\n%sreaction add #channelname\n```or\n```\n%sreaction remove #channelname\n```", p, p)
			return
		}
		channelID, ok := c.mentionedChannel(ctx, inv)
		if !ok {
			c.reply(ctx, inv, "The channel you mentioned is invalid.")
			return
		}
		listed, err := c.channelSets(ctx, inv.ev.GuildID, channelID)
		if err != nil {
			return
		}
		switch len(listed) {
		case 0:
			c.reply(ctx, inv, "There are no reaction-role messages in that channel.")
		case 1:
			c.reply(ctx, inv, "There is only one reaction-role message in this channel. **Type**:\n```\n"+
				"%sreaction add <#%s> 1 :reaction: @rolename\n```or\n```\n%sreaction remove <#%s> 1 :reaction:\n```",
				p, channelID, p, channelID)
		default:
			c.reply(ctx, inv, "There are **%d** reaction-role messages in this channel. **Type**:\n```\n"+
				"%sreaction add <#%s> MESSAGE_NUMBER :reaction: @rolename\n```or\n```\n"+
				"%sreaction remove <#%s> MESSAGE_NUMBER :reaction:\n```\nThe list of the current reaction-role messages is:\n\n%s",
				len(listed), p, channelID, p, channelID, formatList(listed))
		}
		return
	}

	action := strings.ToLower(inv.args[0])
	if action != "add" && action != "remove" {
		c.reply(ctx, inv, "To get started, type:\n```\n%sreaction add #channelname\n```or\n```\n%sreaction remove #channelname\n```", p, p)
		return
	}
	channelID, ok := c.mentionedChannel(ctx, inv)
	if !ok {
		c.reply(ctx, inv, "The channel you mentioned is invalid.")
		return
	}
	if action == "add" && len(inv.ev.RoleMentions) == 0 {
		c.reply(ctx, inv, "You need to mention a role to attach to the reaction.")
		return
	}

	listed, err := c.channelSets(ctx, inv.ev.GuildID, channelID)
	if err != nil {
		return
	}
	if len(listed) == 0 {
		c.reply(ctx, inv, "You selected a reaction-role message that does not exist.")
		return
	}
	entry, ok := pick(listed, inv.args[2])
	if !ok {
		c.reply(ctx, inv, invalidNumberReply)
		return
	}
	token := ParseToken(inv.args[3])

	if action == "add" {
		c.addReaction(ctx, inv, entry.set, token, inv.ev.RoleMentions[0])
		return
	}
	c.removeReaction(ctx, inv, entry.set, token)
}

func (c *Commands) addReaction(ctx context.Context, inv invocation, set BindingSet, token Token, roleID string) {
	if _, bound := set.RoleFor(token); bound {
		c.reply(ctx, inv, "That message already has a reaction-role combination with that reaction.")
		return
	}
	inUse, err := c.store.TokenInUse(ctx, token)
	if err != nil {
		c.router.Notifyf(ctx, inv.ev.GuildID, "Database error when checking reactions:\n```\n%v\n```", err)
		return
	}
	if inUse {
		c.reply(ctx, inv, "That reaction is already bound to another reaction-role message.")
		return
	}

	if err := c.platform.AddReaction(ctx, set.ChannelID, set.MessageID, token); err != nil {
		c.reply(ctx, inv, "You can only use reactions uploaded to servers the bot has access to or standard emojis.")
		return
	}

	err = c.store.AddBinding(ctx, set.MessageID, Binding{Token: token, RoleID: roleID})
	switch {
	case err == nil:
		c.reply(ctx, inv, "Reaction added.")
	case errors.Is(err, ErrTokenInUse):
		if err := c.platform.RemoveReaction(ctx, set.ChannelID, set.MessageID, token, c.platform.SelfID()); err != nil {
			c.logger.Printf("commands: roll back reaction %s on %s: %v", token, set.MessageID, err)
		}
		c.reply(ctx, inv, "That reaction is already bound to another reaction-role message.")
	default:
		c.router.Notifyf(ctx, inv.ev.GuildID, "Database error when adding a reaction to a message in <#%s>:\n```\n%v\n```", set.ChannelID, err)
	}
}

func (c *Commands) removeReaction(ctx context.Context, inv invocation, set BindingSet, token Token) {
	if _, bound := set.RoleFor(token); !bound {
		c.reply(ctx, inv, "Invalid reaction.")
		return
	}
	if err := c.platform.ClearReaction(ctx, set.ChannelID, set.MessageID, token); err != nil && !errors.Is(err, ErrNotFound) {
		c.reply(ctx, inv, "Invalid reaction.")
		return
	}

	var err error
	if len(set.Bindings) == 1 {
		err = c.store.DeleteBindingSet(ctx, set.MessageID)
	} else {
		err = c.store.RemoveBinding(ctx, set.MessageID, token)
	}
	if err != nil && !errors.Is(err, ErrNotFound) {
		c.router.Notifyf(ctx, inv.ev.GuildID, "Database error when removing a reaction from a message in <#%s>:\n```\n%v\n```", set.ChannelID, err)
		return
	}
	c.reply(ctx, inv, "Reaction removed.")
}

func (c *Commands) systemChannel(ctx context.Context, inv invocation) {
	kind := ""
	if len(inv.args) > 0 {
		kind = strings.ToLower(inv.args[0])
	}
	if len(inv.args) < 2 || len(inv.ev.ChannelMentions) == 0 || (kind != "main" && kind != "server") {
		current, err := c.store.SystemChannel(ctx, inv.ev.GuildID)
		if err != nil && !errors.Is(err, ErrNotFound) {
			c.router.Notifyf(ctx, "", "Database error when fetching guild system channels:\n```\n%v\n```", err)
			return
		}
		currentText := "none"
		if current != "" {
			currentText = "<#" + current + ">"
		}
		c.reply(ctx, inv, "Define if you are setting up a server or main system channel and mention the target channel.\n```\n"+
			"%ssystemchannel <main/server> #channelname\n```\nThe server system channel reports errors and notifications"+
			" related to this server only, while the main system channel is used as a fall-back and for bot-wide errors"+
			" and notifications.\n\nThe current channels are:\n**Server:** %s", c.displayPrefix(), currentText)
		return
	}

	if kind == "main" {
		c.reply(ctx, inv, "The main system channel is part of the bot configuration and cannot be changed from a server.")
		return
	}

	channelID, ok := c.mentionedChannel(ctx, inv)
	if !ok {
		c.reply(ctx, inv, "The channel you mentioned is invalid.")
		return
	}
	writable, err := c.platform.CanSend(ctx, channelID)
	if err != nil || !writable {
		c.reply(ctx, inv, "I cannot read or send messages in that channel.")
		return
	}
	if err := c.store.SetSystemChannel(ctx, inv.ev.GuildID, channelID); err != nil {
		c.router.Notifyf(ctx, inv.ev.GuildID, "Database error when adding a new system channel:\n```\n%v\n```", err)
		return
	}
	c.reply(ctx, inv, "System channel updated.")
}

func (c *Commands) toggleNotify(ctx context.Context, inv invocation) {
	enabled, err := c.store.ToggleNotify(ctx, inv.ev.GuildID)
	if err != nil {
		c.router.Notifyf(ctx, inv.ev.GuildID, "Database error when toggling notifications:\n```\n%v\n```", err)
		return
	}
	if enabled {
		c.reply(ctx, inv, "Notifications have been set to **ON** for this server.\nUse this command again to turn them off.")
		return
	}
	c.reply(ctx, inv, "Notifications have been set to **OFF** for this server.\nUse this command again to turn them on.")
}

// roleArgument resolves the role named by the first argument in the guild.
func (c *Commands) roleArgument(ctx context.Context, inv invocation) (string, bool) {
	if len(inv.args) == 0 {
		return "", false
	}
	roleID, ok := ParseRoleArgument(inv.args[0])
	if !ok {
		return "", false
	}
	if _, err := c.platform.RoleName(ctx, inv.ev.GuildID, roleID); err != nil {
		return "", false
	}
	return roleID, true
}

func (c *Commands) addAdmin(ctx context.Context, inv invocation) {
	roleID, ok := c.roleArgument(ctx, inv)
	if !ok {
		c.reply(ctx, inv, "Please mention a valid @Role or role ID.")
		return
	}
	if err := c.store.AddAdminRole(ctx, inv.ev.GuildID, roleID); err != nil {
		c.router.Notifyf(ctx, inv.ev.GuildID, "Database error when adding a new admin:\n```\n%v\n```", err)
		return
	}
	c.reply(ctx, inv, "Added the role to my admin list.")
}

func (c *Commands) removeAdmin(ctx context.Context, inv invocation) {
	if len(inv.args) == 0 {
		c.reply(ctx, inv, "Please mention a valid @Role or role ID.")
		return
	}
	// Deleted roles can still be removed by id.
	roleID, ok := ParseRoleArgument(inv.args[0])
	if !ok {
		c.reply(ctx, inv, "Please mention a valid @Role or role ID.")
		return
	}
	if err := c.store.RemoveAdminRole(ctx, inv.ev.GuildID, roleID); err != nil && !errors.Is(err, ErrNotFound) {
		c.router.Notifyf(ctx, inv.ev.GuildID, "Database error when removing an admin:\n```\n%v\n```", err)
		return
	}
	c.reply(ctx, inv, "Removed the role from my admin list.")
}

func (c *Commands) listAdmins(ctx context.Context, inv invocation) {
	roles, err := c.store.AdminRoles(ctx, inv.ev.GuildID)
	if err != nil {
		c.router.Notifyf(ctx, inv.ev.GuildID, "Database error when fetching admins:\n```\n%v\n```", err)
		return
	}
	if len(roles) == 0 {
		c.reply(ctx, inv, "There are no bot admins registered in this server.")
		return
	}
	mentions := make([]string, 0, len(roles))
	for _, roleID := range roles {
		mentions = append(mentions, "<@&"+roleID+">")
	}
	c.reply(ctx, inv, "The bot admins on this server are:\n- %s", strings.Join(mentions, "\n- "))
}
