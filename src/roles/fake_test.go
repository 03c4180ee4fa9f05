package roles

import (
	"context"
	"fmt"
	"io"
	"log"
	"sort"
	"sync"
	"time"
)

func quietLogger() *log.Logger { return log.New(io.Discard, "", 0) }

// memoryStore is an in-memory Store with per-method error injection.
type memoryStore struct {
	mu       sync.Mutex
	sets     map[string]BindingSet
	order    []string
	admins   map[string][]string
	channels map[string]string
	notify   map[string]bool
	guilds   map[string]bool
	queue    map[string]time.Time
	fail     map[string]error
}

func newMemoryStore() *memoryStore {
	return &memoryStore{
		sets:     make(map[string]BindingSet),
		admins:   make(map[string][]string),
		channels: make(map[string]string),
		notify:   make(map[string]bool),
		guilds:   make(map[string]bool),
		queue:    make(map[string]time.Time),
		fail:     make(map[string]error),
	}
}

func (s *memoryStore) failWith(method string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fail[method] = err
}

func (s *memoryStore) injected(method string) error {
	return s.fail[method]
}

func (s *memoryStore) BindingSet(_ context.Context, messageID string) (*BindingSet, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.injected("BindingSet"); err != nil {
		return nil, err
	}
	set, ok := s.sets[messageID]
	if !ok {
		return nil, ErrNotFound
	}
	set.Bindings = append([]Binding(nil), set.Bindings...)
	return &set, nil
}

func (s *memoryStore) BindingSetExists(_ context.Context, messageID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.sets[messageID]
	return ok, s.injected("BindingSetExists")
}

func (s *memoryStore) tokenInUseLocked(token Token) bool {
	for _, set := range s.sets {
		if _, ok := set.RoleFor(token); ok {
			return true
		}
	}
	return false
}

func (s *memoryStore) CreateBindingSet(_ context.Context, set BindingSet) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.injected("CreateBindingSet"); err != nil {
		return err
	}
	if _, ok := s.sets[set.MessageID]; ok {
		return ErrDuplicateBinding
	}
	for _, b := range set.Bindings {
		if s.tokenInUseLocked(b.Token) {
			return ErrTokenInUse
		}
	}
	set.CreatedAt = time.Now()
	s.sets[set.MessageID] = set
	s.order = append(s.order, set.MessageID)
	return nil
}

func (s *memoryStore) DeleteBindingSet(_ context.Context, messageID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.sets[messageID]; !ok {
		return ErrNotFound
	}
	delete(s.sets, messageID)
	return nil
}

func (s *memoryStore) collect(keep func(BindingSet) bool) []BindingSet {
	var out []BindingSet
	for _, id := range s.order {
		set, ok := s.sets[id]
		if ok && keep(set) {
			out = append(out, set)
		}
	}
	return out
}

func (s *memoryStore) BindingSets(context.Context) ([]BindingSet, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.injected("BindingSets"); err != nil {
		return nil, err
	}
	return s.collect(func(BindingSet) bool { return true }), nil
}

func (s *memoryStore) BindingSetsByChannel(_ context.Context, channelID string) ([]BindingSet, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.collect(func(set BindingSet) bool { return set.ChannelID == channelID }), nil
}

func (s *memoryStore) AddBinding(_ context.Context, messageID string, binding Binding) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.injected("AddBinding"); err != nil {
		return err
	}
	set, ok := s.sets[messageID]
	if !ok {
		return ErrNotFound
	}
	if s.tokenInUseLocked(binding.Token) {
		return ErrTokenInUse
	}
	set.Bindings = append(append([]Binding(nil), set.Bindings...), binding)
	s.sets[messageID] = set
	return nil
}

func (s *memoryStore) RemoveBinding(_ context.Context, messageID string, token Token) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	set, ok := s.sets[messageID]
	if !ok {
		return ErrNotFound
	}
	var kept []Binding
	for _, b := range set.Bindings {
		if b.Token != token {
			kept = append(kept, b)
		}
	}
	set.Bindings = kept
	s.sets[messageID] = set
	return nil
}

func (s *memoryStore) TokenInUse(_ context.Context, token Token) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tokenInUseLocked(token), s.injected("TokenInUse")
}

func (s *memoryStore) AdminRoles(_ context.Context, guildID string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.admins[guildID]...), s.injected("AdminRoles")
}

func (s *memoryStore) AddAdminRole(_ context.Context, guildID, roleID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !containsString(s.admins[guildID], roleID) {
		s.admins[guildID] = append(s.admins[guildID], roleID)
	}
	return nil
}

func (s *memoryStore) RemoveAdminRole(_ context.Context, guildID, roleID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	var kept []string
	for _, id := range s.admins[guildID] {
		if id != roleID {
			kept = append(kept, id)
		}
	}
	s.admins[guildID] = kept
	return nil
}

func (s *memoryStore) SystemChannel(_ context.Context, guildID string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.injected("SystemChannel"); err != nil {
		return "", err
	}
	channelID, ok := s.channels[guildID]
	if !ok {
		return "", ErrNotFound
	}
	return channelID, nil
}

func (s *memoryStore) SetSystemChannel(_ context.Context, guildID, channelID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.channels[guildID] = channelID
	return nil
}

func (s *memoryStore) Notify(_ context.Context, guildID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.notify[guildID], s.injected("Notify")
}

func (s *memoryStore) ToggleNotify(_ context.Context, guildID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.notify[guildID] = !s.notify[guildID]
	return s.notify[guildID], nil
}

func (s *memoryStore) AddGuild(_ context.Context, guildID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.guilds[guildID] = true
	return nil
}

func (s *memoryStore) Guilds(context.Context) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.guilds))
	for id := range s.guilds {
		out = append(out, id)
	}
	sort.Strings(out)
	return out, nil
}

func (s *memoryStore) PurgeGuild(_ context.Context, guildID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, set := range s.sets {
		if set.GuildID == guildID {
			delete(s.sets, id)
		}
	}
	delete(s.admins, guildID)
	delete(s.channels, guildID)
	delete(s.notify, guildID)
	delete(s.guilds, guildID)
	delete(s.queue, guildID)
	return nil
}

func (s *memoryStore) CleanupQueue(context.Context) ([]CleanupEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]CleanupEntry, 0, len(s.queue))
	for id, at := range s.queue {
		out = append(out, CleanupEntry{GuildID: id, FirstFailure: at})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].GuildID < out[j].GuildID })
	return out, nil
}

func (s *memoryStore) EnqueueCleanup(_ context.Context, guildID string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.queue[guildID]; !ok {
		s.queue[guildID] = at
	}
	return nil
}

func (s *memoryStore) DequeueCleanup(_ context.Context, guildID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.queue, guildID)
	return nil
}

// fakePlatform records every side effect and lets tests script failures.
type fakePlatform struct {
	mu     sync.Mutex
	selfID string
	nextID int

	messages     map[string]*Message
	deleted      []string
	reactions    map[string]map[Token][]string
	removed      []ReactionEvent
	sent         chan *Message
	dms          map[string][]string
	roles        map[string]map[string]bool
	memberRoles  map[string][]string
	channelGuild map[string]string
	roleNames    map[string]string
	admins       map[string]bool

	sendErr        map[string]error
	fetchErr       map[string]error
	guildErr       map[string]error
	reactErr       map[Token]error
	roleErr        error
	reactionsDelay time.Duration
	removeErr      error
	// omitGuild makes sent messages look like REST responses, which carry no guild id.
	omitGuild bool
}

func newFakePlatform() *fakePlatform {
	return &fakePlatform{
		selfID:       "bot",
		messages:     make(map[string]*Message),
		reactions:    make(map[string]map[Token][]string),
		sent:         make(chan *Message, 256),
		dms:          make(map[string][]string),
		roles:        make(map[string]map[string]bool),
		memberRoles:  make(map[string][]string),
		channelGuild: make(map[string]string),
		roleNames:    make(map[string]string),
		admins:       make(map[string]bool),
		sendErr:      make(map[string]error),
		fetchErr:     make(map[string]error),
		guildErr:     make(map[string]error),
		reactErr:     make(map[Token]error),
	}
}

func memberKey(guildID, userID string) string { return guildID + "/" + userID }

// post stores a message as if a user had written it.
func (p *fakePlatform) post(ref MessageRef, authorID, content string) *Message {
	p.mu.Lock()
	defer p.mu.Unlock()
	msg := &Message{MessageRef: ref, AuthorID: authorID, Content: content}
	p.messages[ref.MessageID] = msg
	return msg
}

func (p *fakePlatform) SelfID() string { return p.selfID }

func (p *fakePlatform) SendMessage(_ context.Context, channelID string, out OutgoingMessage) (*Message, error) {
	p.mu.Lock()
	if err := p.sendErr[channelID]; err != nil {
		p.mu.Unlock()
		return nil, err
	}
	p.nextID++
	msg := &Message{
		MessageRef: MessageRef{MessageID: fmt.Sprintf("m%d", p.nextID), ChannelID: channelID, GuildID: p.channelGuild[channelID]},
		AuthorID:   p.selfID,
		Content:    out.Content,
	}
	if out.Embed != nil {
		msg.EmbedTitle = out.Embed.Title
	}
	if p.omitGuild {
		msg.GuildID = ""
	}
	p.messages[msg.MessageID] = msg
	p.mu.Unlock()

	copied := *msg
	p.sent <- &copied
	return msg, nil
}

func (p *fakePlatform) EditMessage(_ context.Context, _ string, messageID string, out OutgoingMessage) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	msg, ok := p.messages[messageID]
	if !ok {
		return ErrNotFound
	}
	msg.Content = out.Content
	msg.EmbedTitle = ""
	if out.Embed != nil {
		msg.EmbedTitle = out.Embed.Title
	}
	return nil
}

func (p *fakePlatform) DeleteMessage(_ context.Context, _ string, messageID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.messages[messageID]; !ok {
		return ErrNotFound
	}
	delete(p.messages, messageID)
	p.deleted = append(p.deleted, messageID)
	return nil
}

func (p *fakePlatform) FetchMessage(_ context.Context, _ string, messageID string) (*Message, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.fetchErr[messageID]; err != nil {
		return nil, err
	}
	msg, ok := p.messages[messageID]
	if !ok {
		return nil, ErrNotFound
	}
	copied := *msg
	return &copied, nil
}

func (p *fakePlatform) SendDirect(_ context.Context, userID, content string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.dms[userID] = append(p.dms[userID], content)
	return nil
}

func (p *fakePlatform) AddReaction(_ context.Context, _ string, messageID string, token Token) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.reactErr[token]; err != nil {
		return err
	}
	return p.addReactionLocked(messageID, token, p.selfID)
}

func (p *fakePlatform) addReactionLocked(messageID string, token Token, userID string) error {
	if _, ok := p.messages[messageID]; !ok {
		return ErrNotFound
	}
	if p.reactions[messageID] == nil {
		p.reactions[messageID] = make(map[Token][]string)
	}
	if !containsString(p.reactions[messageID][token], userID) {
		p.reactions[messageID][token] = append(p.reactions[messageID][token], userID)
	}
	return nil
}

// react records a user reaction and returns the matching add event.
func (p *fakePlatform) react(ref MessageRef, userID string, token Token) ReactionEvent {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.reactions[ref.MessageID] == nil {
		p.reactions[ref.MessageID] = make(map[Token][]string)
	}
	if !containsString(p.reactions[ref.MessageID][token], userID) {
		p.reactions[ref.MessageID][token] = append(p.reactions[ref.MessageID][token], userID)
	}
	return ReactionEvent{MessageRef: ref, UserID: userID, Token: token}
}

func (p *fakePlatform) RemoveReaction(_ context.Context, channelID, messageID string, token Token, userID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.removeErr != nil {
		return p.removeErr
	}
	users := p.reactions[messageID][token]
	var kept []string
	for _, u := range users {
		if u != userID {
			kept = append(kept, u)
		}
	}
	if p.reactions[messageID] != nil {
		p.reactions[messageID][token] = kept
	}
	if len(kept) != len(users) {
		guildID := ""
		if msg, ok := p.messages[messageID]; ok {
			guildID = msg.GuildID
		}
		p.removed = append(p.removed, ReactionEvent{
			MessageRef: MessageRef{MessageID: messageID, ChannelID: channelID, GuildID: guildID},
			UserID:     userID,
			Token:      token,
		})
	}
	return nil
}

// drainRemoved returns the remove events produced by RemoveReaction so far.
func (p *fakePlatform) drainRemoved() []ReactionEvent {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := p.removed
	p.removed = nil
	return out
}

func (p *fakePlatform) ClearReaction(_ context.Context, _ string, messageID string, token Token) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.reactions[messageID] != nil {
		delete(p.reactions[messageID], token)
	}
	return nil
}

func (p *fakePlatform) ReactionUsers(_ context.Context, _ string, messageID string, token Token) ([]string, error) {
	if p.reactionsDelay > 0 {
		time.Sleep(p.reactionsDelay)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.reactions[messageID][token]...), nil
}

func (p *fakePlatform) hasReaction(messageID string, token Token, userID string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return containsString(p.reactions[messageID][token], userID)
}

func (p *fakePlatform) FetchGuild(_ context.Context, guildID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.guildErr[guildID]
}

func (p *fakePlatform) setGuildErr(guildID string, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.guildErr[guildID] = err
}

func (p *fakePlatform) ChannelGuild(_ context.Context, channelID string) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	guildID, ok := p.channelGuild[channelID]
	if !ok {
		return "", ErrNotFound
	}
	return guildID, nil
}

func (p *fakePlatform) CanSend(_ context.Context, channelID string) (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.sendErr[channelID] == nil, nil
}

func (p *fakePlatform) AddRole(_ context.Context, guildID, userID, roleID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.roleErr != nil {
		return p.roleErr
	}
	key := memberKey(guildID, userID)
	if p.roles[key] == nil {
		p.roles[key] = make(map[string]bool)
	}
	p.roles[key][roleID] = true
	return nil
}

func (p *fakePlatform) RemoveRole(_ context.Context, guildID, userID, roleID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.roleErr != nil {
		return p.roleErr
	}
	delete(p.roles[memberKey(guildID, userID)], roleID)
	return nil
}

func (p *fakePlatform) heldRoles(guildID, userID string) []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []string
	for roleID := range p.roles[memberKey(guildID, userID)] {
		out = append(out, roleID)
	}
	sort.Strings(out)
	return out
}

func (p *fakePlatform) RoleName(_ context.Context, _ string, roleID string) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	name, ok := p.roleNames[roleID]
	if !ok {
		return "", ErrNotFound
	}
	return name, nil
}

func (p *fakePlatform) MemberRoles(_ context.Context, guildID, userID string) ([]string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.memberRoles[memberKey(guildID, userID)]...), nil
}

func (p *fakePlatform) IsAdministrator(_ context.Context, guildID, _ string, userID string) (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.admins[memberKey(guildID, userID)], nil
}

func (p *fakePlatform) directMessages(userID string) []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.dms[userID]...)
}

func (p *fakePlatform) exists(messageID string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, ok := p.messages[messageID]
	return ok
}

func (p *fakePlatform) contentsIn(channelID string) []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	var ids []string
	for id, msg := range p.messages {
		if msg.ChannelID == channelID {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		out = append(out, p.messages[id].Content)
	}
	return out
}
