package roles

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// DefaultPromptTimeout bounds every wizard prompt.
const DefaultPromptTimeout = 120 * time.Second

const (
	tokenLimitOne   = Token("\U0001F512")
	tokenUnlimited  = Token("\u267E\uFE0F")
	tokenExisting   = Token("\U0001F5E8\uFE0F")
	tokenCreate     = Token("\U0001F916")
	tokenMark       = Token("\U0001F527")
	tokenAccess     = Token("\U0001F44C")
	tokenSucceeded  = Token("\u2705")
	tokenCancelled  = Token("\u274C")
	cleanupDeadline = 15 * time.Second
)

// Invocation is the operator command that opened a wizard session.
type Invocation struct {
	MessageRef
	OperatorID string
}

// WizardConfig tunes the wizard.
type WizardConfig struct {
	Timeout time.Duration
	Prefix  string
}

// Wizard walks an operator through creating a Binding Set.
type Wizard struct {
	store    Store
	platform Platform
	router   *Router
	conv     *Conversations
	auth     *Authorizer
	timeout  time.Duration
	prefix   string
	logger   *log.Logger

	mu     sync.Mutex
	active map[string]string
}

// NewWizard builds a wizard. Prompts wait cfg.Timeout (DefaultPromptTimeout
// when zero) for each answer.
func NewWizard(store Store, platform Platform, router *Router, conv *Conversations, cfg WizardConfig, logger *log.Logger) *Wizard {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultPromptTimeout
	}
	if logger == nil {
		logger = log.Default()
	}
	return &Wizard{
		store:    store,
		platform: platform,
		router:   router,
		conv:     conv,
		auth:     NewAuthorizer(store, platform),
		timeout:  cfg.Timeout,
		prefix:   cfg.Prefix,
		logger:   logger,
		active:   make(map[string]string),
	}
}

// Run executes one session to completion. It returns ErrUnauthorized without
// side effects when the operator is not a bot admin.
func (w *Wizard) Run(ctx context.Context, inv Invocation) (*BindingSet, error) {
	ok, err := w.auth.IsAdmin(ctx, inv.GuildID, inv.OperatorID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrUnauthorized
	}

	key := inv.OperatorID + ":" + inv.ChannelID
	id := uuid.NewString()
	if !w.claim(key, id) {
		return nil, ErrSessionActive
	}
	defer w.release(key)

	s := &session{w: w, inv: inv, id: id}
	w.logger.Printf("wizard: session %s started by %s in channel %s", id, inv.OperatorID, inv.ChannelID)

	set, err := s.run(ctx)
	if err != nil {
		s.cancel(ctx, err)
		w.logger.Printf("wizard: session %s cancelled: %v", id, err)
		return nil, err
	}
	w.logger.Printf("wizard: session %s bound message %s with %d reaction(s)", id, set.MessageID, len(set.Bindings))
	return set, nil
}

func (w *Wizard) claim(key, id string) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	if _, busy := w.active[key]; busy {
		return false
	}
	w.active[key] = id
	return true
}

func (w *Wizard) release(key string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	delete(w.active, key)
}

// messageSource is the operator's answer to "existing or new message".
type messageSource int

const (
	sourceExisting messageSource = iota + 1
	sourceNew
)

// bindTarget is the message a draft binds to. Exactly one of the two variants is
// set once the draft leaves the message-source step.
type bindTarget interface {
	ref() MessageRef
}

type existingTarget struct{ message MessageRef }

func (t existingTarget) ref() MessageRef { return t.message }

type composedTarget struct {
	channelID string
	message   MessageRef
}

func (t composedTarget) ref() MessageRef { return t.message }

// draft accumulates answers. Each with* method returns a copy with one more
// field filled; nothing is ever cleared.
type draft struct {
	bindings []Binding
	unique   bool
	source   messageSource
	target   bindTarget
}

func (d draft) withBindings(b []Binding) draft {
	d.bindings = append([]Binding(nil), b...)
	return d
}

func (d draft) withUnique(unique bool) draft {
	d.unique = unique
	return d
}

func (d draft) withSource(src messageSource) draft {
	d.source = src
	return d
}

func (d draft) withTarget(t bindTarget) draft {
	d.target = t
	return d
}

func (d draft) bindingSet() BindingSet {
	return BindingSet{
		MessageRef: d.target.ref(),
		Bindings:   append([]Binding(nil), d.bindings...),
		Unique:     d.unique,
	}
}

// session holds the artifacts of one wizard run.
type session struct {
	w   *Wizard
	inv Invocation
	id  string

	mu        sync.Mutex
	artifacts []MessageRef
}

func (s *session) run(ctx context.Context) (*BindingSet, error) {
	welcome, err := s.say(ctx, "Welcome to the reaction-role creation program. Please provide the required"+
		" information once requested. If you would like to abort the creation, do not respond and the"+
		" program will time out.")
	if err != nil {
		return nil, err
	}

	var d draft
	bindings, err := s.collectBindings(ctx)
	if err != nil {
		return nil, err
	}
	d = d.withBindings(bindings)

	choice, err := s.choose(ctx,
		fmt.Sprintf("Would you like to limit users to select only have one of the roles at a given time?"+
			" Please react with a %s to limit users or with a %s to allow users to select multiple roles.",
			tokenLimitOne, tokenUnlimited),
		tokenLimitOne, tokenUnlimited)
	if err != nil {
		return nil, err
	}
	d = d.withUnique(sameEmoji(choice, tokenLimitOne))

	choice, err = s.choose(ctx,
		fmt.Sprintf("Would you like to use an existing message or create one using <@%s>? Please react"+
			" with a %s to use an existing message or a %s to create one.",
			s.w.platform.SelfID(), tokenExisting, tokenCreate),
		tokenExisting, tokenCreate)
	if err != nil {
		return nil, err
	}
	if sameEmoji(choice, tokenExisting) {
		d = d.withSource(sourceExisting)
	} else {
		d = d.withSource(sourceNew)
	}

	var t bindTarget
	switch d.source {
	case sourceExisting:
		t, err = s.resolveExisting(ctx)
	default:
		t, err = s.composeNew(ctx)
	}
	if err != nil {
		return nil, err
	}
	d = d.withTarget(t)

	set, err := s.persist(ctx, d)
	if err != nil {
		return nil, err
	}

	s.finalize(ctx, set)
	s.discard(ctx, welcome)
	return set, nil
}

// collectBindings accepts "<emoji> @Role" lines until "done".
func (s *session) collectBindings(ctx context.Context) ([]Binding, error) {
	sub := s.w.conv.SubscribeMessages(s.fromOperator)
	defer sub.Close()

	prompt, err := s.say(ctx, "Attach roles and emojis separated by one space (one combination"+
		" per message). When you are done type `done`. Example:\n:smile: `@Role`")
	if err != nil {
		return nil, err
	}
	step := []MessageRef{prompt}
	defer func() { s.discard(ctx, step...) }()

	reject := func(text string) error {
		msg, err := s.say(ctx, text)
		if err != nil {
			return err
		}
		step = append(step, msg)
		return nil
	}

	var bindings []Binding
	seen := make(map[Token]bool)
	for {
		msg, err := s.nextMessage(ctx, sub)
		if err != nil {
			return nil, err
		}
		s.track(msg.MessageRef)
		step = append(step, msg.MessageRef)

		content := strings.TrimSpace(msg.Content)
		if strings.EqualFold(content, "done") {
			if len(bindings) == 0 {
				if err := reject("Attach at least one emoji and role before typing `done`."); err != nil {
					return nil, err
				}
				continue
			}
			return bindings, nil
		}

		fields := strings.Fields(content)
		if len(fields) == 0 {
			continue
		}
		token := ParseToken(fields[0])

		if len(msg.RoleMentions) == 0 {
			if err := reject("Mention a role after the reaction. Example:\n:smile: `@Role`"); err != nil {
				return nil, err
			}
			continue
		}
		if seen[token] {
			if err := reject("You have already used that reaction for another role. Please choose another reaction"); err != nil {
				return nil, err
			}
			continue
		}

		inUse, err := s.w.store.TokenInUse(ctx, token)
		if err != nil {
			s.w.router.Notifyf(ctx, s.inv.GuildID, "Database error when checking reactions:\n```\n%v\n```", err)
			return nil, err
		}
		if inUse {
			if err := reject("That reaction is already bound to another reaction-role message. Please choose another reaction"); err != nil {
				return nil, err
			}
			continue
		}

		if err := s.w.platform.AddReaction(ctx, msg.ChannelID, msg.MessageID, token); err != nil {
			if err := reject("You can only use reactions uploaded to servers the bot has access to or standard emojis."); err != nil {
				return nil, err
			}
			continue
		}

		seen[token] = true
		bindings = append(bindings, Binding{Token: token, RoleID: msg.RoleMentions[0]})
	}
}

// choose renders a question with one reaction per option and returns the
// option the operator picked.
func (s *session) choose(ctx context.Context, question string, options ...Token) (Token, error) {
	sub := s.w.conv.SubscribeReactions(func(ev ReactionEvent) bool {
		if ev.UserID != s.inv.OperatorID || ev.ChannelID != s.inv.ChannelID {
			return false
		}
		for _, opt := range options {
			if sameEmoji(ev.Token, opt) {
				return true
			}
		}
		return false
	})
	defer sub.Close()

	prompt, err := s.say(ctx, question)
	if err != nil {
		return "", err
	}
	defer s.discard(ctx, prompt)

	for _, opt := range options {
		if err := s.w.platform.AddReaction(ctx, prompt.ChannelID, prompt.MessageID, opt); err != nil {
			return "", fmt.Errorf("add option %s: %w", opt, err)
		}
	}

	for {
		ev, err := s.nextReaction(ctx, sub)
		if err != nil {
			return "", err
		}
		if ev.MessageID != prompt.MessageID {
			continue
		}
		for _, opt := range options {
			if sameEmoji(ev.Token, opt) {
				return opt, nil
			}
		}
	}
}

// resolveExisting adopts the message the operator marks with the wrench.
func (s *session) resolveExisting(ctx context.Context) (bindTarget, error) {
	sub := s.w.conv.SubscribeReactions(func(ev ReactionEvent) bool {
		return ev.UserID == s.inv.OperatorID && ev.GuildID == s.inv.GuildID && sameEmoji(ev.Token, tokenMark)
	})
	defer sub.Close()

	prompt, err := s.say(ctx, fmt.Sprintf("Which message would you like to use? Please react with a %s on the message you would like to use.", tokenMark))
	if err != nil {
		return nil, err
	}
	step := []MessageRef{prompt}
	defer func() { s.discard(ctx, step...) }()

	reject := func(text string) error {
		msg, err := s.say(ctx, text)
		if err != nil {
			return err
		}
		step = append(step, msg)
		return nil
	}

	for {
		ev, err := s.nextReaction(ctx, sub)
		if err != nil {
			return nil, err
		}

		// Bound messages are rejected before the access check reacts on them.
		exists, err := s.w.store.BindingSetExists(ctx, ev.MessageID)
		if err != nil {
			s.w.router.Notifyf(ctx, s.inv.GuildID, "Database error when checking for existing reaction-role messages:\n```\n%v\n```", err)
			return nil, err
		}
		if exists {
			if err := reject(s.duplicateText("This message")); err != nil {
				return nil, err
			}
			continue
		}

		if err := s.checkAccess(ctx, ev); err != nil {
			s.w.logger.Printf("wizard: session %s cannot use message %s: %v", s.id, ev.MessageID, err)
			if err := reject("I can not access or add reactions to the requested message. Do I have sufficent permissions?"); err != nil {
				return nil, err
			}
			continue
		}

		return existingTarget{message: ev.MessageRef}, nil
	}
}

// checkAccess verifies read and react access on a candidate message.
func (s *session) checkAccess(ctx context.Context, ev ReactionEvent) error {
	if _, err := s.w.platform.FetchMessage(ctx, ev.ChannelID, ev.MessageID); err != nil {
		return err
	}
	if err := s.w.platform.AddReaction(ctx, ev.ChannelID, ev.MessageID, tokenAccess); err != nil {
		return err
	}
	if err := s.w.platform.RemoveReaction(ctx, ev.ChannelID, ev.MessageID, tokenAccess, s.w.platform.SelfID()); err != nil {
		return err
	}
	if err := s.w.platform.RemoveReaction(ctx, ev.ChannelID, ev.MessageID, ev.Token, s.inv.OperatorID); err != nil {
		return err
	}
	return nil
}

var errChannelRejected = errors.New("target channel rejected the message")

// composeNew collects a channel and content and sends the new message.
func (s *session) composeNew(ctx context.Context) (bindTarget, error) {
	for {
		channelID, err := s.collectChannel(ctx)
		if err != nil {
			return nil, err
		}
		msg, err := s.collectContent(ctx, channelID)
		if errors.Is(err, errChannelRejected) {
			continue
		}
		if err != nil {
			return nil, err
		}
		// REST message objects carry no guild id; collectChannel already
		// checked that the channel belongs to the invoking guild.
		ref := msg.MessageRef
		ref.GuildID = s.inv.GuildID
		return composedTarget{channelID: channelID, message: ref}, nil
	}
}

func (s *session) collectChannel(ctx context.Context) (string, error) {
	sub := s.w.conv.SubscribeMessages(s.fromOperator)
	defer sub.Close()

	prompt, err := s.say(ctx, "Mention the #channel where to send the auto-role message.")
	if err != nil {
		return "", err
	}
	step := []MessageRef{prompt}
	defer func() { s.discard(ctx, step...) }()

	for {
		msg, err := s.nextMessage(ctx, sub)
		if err != nil {
			return "", err
		}
		s.track(msg.MessageRef)

		if len(msg.ChannelMentions) > 0 {
			channelID := msg.ChannelMentions[0]
			guildID, err := s.w.platform.ChannelGuild(ctx, channelID)
			if err == nil && guildID == s.inv.GuildID {
				return channelID, nil
			}
		}
		reply, err := s.say(ctx, "The channel you mentioned is invalid.")
		if err != nil {
			return "", err
		}
		step = append(step, reply)
	}
}

func (s *session) collectContent(ctx context.Context, channelID string) (*Message, error) {
	sub := s.w.conv.SubscribeMessages(s.fromOperator)
	defer sub.Close()

	prompt, err := s.say(ctx, "What would you like the message to say?\nFormatting is:"+
		" `Message // Embed_title // Embed_content`.\n\n`Embed_title`"+
		" and `Embed_content` are optional. You can type `none` in any"+
		" of the argument fields above (e.g. `Embed_title`) to make the"+
		" bot ignore it.\n\n\nMessage")
	if err != nil {
		return nil, err
	}
	step := []MessageRef{prompt}
	defer func() { s.discard(ctx, step...) }()

	for {
		input, err := s.nextMessage(ctx, sub)
		if err != nil {
			return nil, err
		}
		// The operator's format line stays on success so it can be reused for edits.
		s.track(input.MessageRef)

		out := ParseComposition(input.Content)
		if out.Empty() {
			reply, err := s.say(ctx, "You can't use an empty message as role-reaction message.")
			if err != nil {
				return nil, err
			}
			step = append(step, reply)
			continue
		}

		sent, err := s.w.platform.SendMessage(ctx, channelID, out)
		if errors.Is(err, ErrForbidden) || errors.Is(err, ErrNotFound) {
			reply, sayErr := s.say(ctx, fmt.Sprintf("I don't have permission to send messages to"+
				" the channel <#%s>. Please check my permissions and try again.", channelID))
			if sayErr != nil {
				return nil, sayErr
			}
			step = append(step, reply)
			return nil, errChannelRejected
		}
		if err != nil {
			return nil, fmt.Errorf("send reaction-role message: %w", err)
		}
		return sent, nil
	}
}

// persist writes the Binding Set. A composed message is deleted again when
// the write fails.
func (s *session) persist(ctx context.Context, d draft) (*BindingSet, error) {
	set := d.bindingSet()
	err := s.w.store.CreateBindingSet(ctx, set)
	if err != nil {
		if composed, ok := d.target.(composedTarget); ok {
			if delErr := s.w.platform.DeleteMessage(ctx, composed.channelID, composed.message.MessageID); delErr != nil {
				s.w.logger.Printf("wizard: session %s could not delete unbound message %s: %v", s.id, composed.message.MessageID, delErr)
			}
		}
		switch {
		case errors.Is(err, ErrDuplicateBinding):
			s.sayUntracked(ctx, s.duplicateText("The requested message"))
		case errors.Is(err, ErrTokenInUse):
			s.sayUntracked(ctx, "One of the reactions is already bound to another reaction-role message."+
				" Remove it there first or choose another reaction.")
		default:
			s.w.router.Notifyf(ctx, s.inv.GuildID, "Database error when creating reaction-role instance:\n```\n%v\n```", err)
		}
		return nil, err
	}

	if err := s.w.store.AddGuild(ctx, set.GuildID); err != nil {
		s.w.router.Notifyf(ctx, set.GuildID, "Database error when tracking guild %s:\n```\n%v\n```", set.GuildID, err)
	}
	return &set, nil
}

func (s *session) finalize(ctx context.Context, set *BindingSet) {
	for _, binding := range set.Bindings {
		if err := s.w.platform.AddReaction(ctx, set.ChannelID, set.MessageID, binding.Token); err != nil {
			s.w.router.Notifyf(ctx, set.GuildID, "I could not add the reaction %s to the reaction-role message %s in <#%s>: %v",
				binding.Token.Mention(), set.MessageID, set.ChannelID, err)
		}
	}
	if err := s.w.platform.AddReaction(ctx, s.inv.ChannelID, s.inv.MessageID, tokenSucceeded); err != nil {
		s.w.logger.Printf("wizard: session %s could not mark command message: %v", s.id, err)
	}
}

// cancel removes every artifact still on the platform and tells the
// operator why by direct message.
func (s *session) cancel(ctx context.Context, cause error) {
	cleanupCtx, stop := context.WithTimeout(context.WithoutCancel(ctx), cleanupDeadline)
	defer stop()

	s.mu.Lock()
	leftovers := append([]MessageRef(nil), s.artifacts...)
	s.mu.Unlock()
	s.discard(cleanupCtx, leftovers...)

	if err := s.w.platform.AddReaction(cleanupCtx, s.inv.ChannelID, s.inv.MessageID, tokenCancelled); err != nil {
		s.w.logger.Printf("wizard: session %s could not mark command message: %v", s.id, err)
	}

	if err := s.w.platform.SendDirect(cleanupCtx, s.inv.OperatorID, cancellationText(cause, s.w.prefix)); err != nil {
		s.w.logger.Printf("wizard: session %s could not notify operator %s: %v", s.id, s.inv.OperatorID, err)
	}
}

func cancellationText(cause error, prefix string) string {
	switch {
	case errors.Is(cause, ErrTimeout):
		return "Reaction-role creation failed, you took too long to provide the requested information."
	case errors.Is(cause, ErrDuplicateBinding):
		return fmt.Sprintf("Reaction-role creation cancelled: the message already has reaction roles. Use `%sedit` or `%sreaction` instead.", prefix, prefix)
	case errors.Is(cause, ErrTokenInUse):
		return "Reaction-role creation cancelled: one of the reactions is already bound to another message."
	case errors.Is(cause, ErrCancelled):
		return "Reaction-role creation was cancelled."
	default:
		return fmt.Sprintf("Reaction-role creation failed: %v", cause)
	}
}

func (s *session) duplicateText(subject string) string {
	return fmt.Sprintf("%s already got a reaction-role instance attached to it, consider running `%sedit` instead.", subject, s.w.prefix)
}

func (s *session) fromOperator(ev MessageEvent) bool {
	return ev.AuthorID == s.inv.OperatorID && ev.ChannelID == s.inv.ChannelID && ev.MessageID != s.inv.MessageID && strings.TrimSpace(ev.Content) != ""
}

func (s *session) nextMessage(ctx context.Context, sub *Subscription) (MessageEvent, error) {
	waitCtx, cancel := context.WithTimeout(ctx, s.w.timeout)
	defer cancel()
	return sub.NextMessage(waitCtx)
}

func (s *session) nextReaction(ctx context.Context, sub *Subscription) (ReactionEvent, error) {
	waitCtx, cancel := context.WithTimeout(ctx, s.w.timeout)
	defer cancel()
	return sub.NextReaction(waitCtx)
}

// say sends a tracked message in the invocation channel.
func (s *session) say(ctx context.Context, text string) (MessageRef, error) {
	msg, err := s.w.platform.SendMessage(ctx, s.inv.ChannelID, OutgoingMessage{Content: text})
	if err != nil {
		return MessageRef{}, fmt.Errorf("send prompt: %w", err)
	}
	s.track(msg.MessageRef)
	return msg.MessageRef, nil
}

func (s *session) sayUntracked(ctx context.Context, text string) {
	if _, err := s.w.platform.SendMessage(ctx, s.inv.ChannelID, OutgoingMessage{Content: text}); err != nil {
		s.w.logger.Printf("wizard: session %s reply failed: %v", s.id, err)
	}
}

func (s *session) track(ref MessageRef) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.artifacts = append(s.artifacts, ref)
}

// discard deletes the given artifacts and forgets them.
func (s *session) discard(ctx context.Context, refs ...MessageRef) {
	if len(refs) == 0 {
		return
	}
	drop := make(map[string]bool, len(refs))
	for _, ref := range refs {
		if ref.MessageID == "" || drop[ref.MessageID] {
			continue
		}
		drop[ref.MessageID] = true
		if err := s.w.platform.DeleteMessage(ctx, ref.ChannelID, ref.MessageID); err != nil && !errors.Is(err, ErrNotFound) {
			s.w.logger.Printf("wizard: session %s could not delete message %s: %v", s.id, ref.MessageID, err)
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	kept := s.artifacts[:0]
	for _, ref := range s.artifacts {
		if !drop[ref.MessageID] {
			kept = append(kept, ref)
		}
	}
	s.artifacts = kept
}

func sameEmoji(a, b Token) bool {
	return ParseToken(string(a)) == ParseToken(string(b))
}
