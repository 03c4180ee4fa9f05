package roles

import (
	"context"
	"errors"
	"sync"
)

const subscriptionBuffer = 16

// Conversations fans platform events out to wizard prompts waiting on them.
type Conversations struct {
	mu   sync.Mutex
	next uint64
	subs map[uint64]*Subscription
}

// NewConversations returns an empty dispatcher.
func NewConversations() *Conversations {
	return &Conversations{subs: make(map[uint64]*Subscription)}
}

// Subscription buffers events accepted by its filter until Close.
type Subscription struct {
	id    uint64
	owner *Conversations

	matchMessage  func(MessageEvent) bool
	matchReaction func(ReactionEvent) bool
	messages      chan MessageEvent
	reactions     chan ReactionEvent
}

// SubscribeMessages registers interest in messages accepted by match.
// Subscribe before sending the prompt so no reply can be missed.
func (c *Conversations) SubscribeMessages(match func(MessageEvent) bool) *Subscription {
	return c.add(&Subscription{
		matchMessage: match,
		messages:     make(chan MessageEvent, subscriptionBuffer),
	})
}

// SubscribeReactions registers interest in reaction-adds accepted by match.
func (c *Conversations) SubscribeReactions(match func(ReactionEvent) bool) *Subscription {
	return c.add(&Subscription{
		matchReaction: match,
		reactions:     make(chan ReactionEvent, subscriptionBuffer),
	})
}

func (c *Conversations) add(sub *Subscription) *Subscription {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.next++
	sub.id = c.next
	sub.owner = c
	c.subs[sub.id] = sub
	return sub
}

// DispatchMessage delivers ev to matching subscriptions and reports whether
// any of them took it.
func (c *Conversations) DispatchMessage(ev MessageEvent) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	taken := false
	for _, sub := range c.subs {
		if sub.matchMessage == nil || !sub.matchMessage(ev) {
			continue
		}
		select {
		case sub.messages <- ev:
			taken = true
		default:
		}
	}
	return taken
}

// DispatchReaction delivers ev to matching subscriptions.
func (c *Conversations) DispatchReaction(ev ReactionEvent) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	taken := false
	for _, sub := range c.subs {
		if sub.matchReaction == nil || !sub.matchReaction(ev) {
			continue
		}
		select {
		case sub.reactions <- ev:
			taken = true
		default:
		}
	}
	return taken
}

// Active reports the number of open subscriptions.
func (c *Conversations) Active() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.subs)
}

// Close unregisters the subscription. It is safe to call more than once.
func (s *Subscription) Close() {
	s.owner.mu.Lock()
	defer s.owner.mu.Unlock()
	delete(s.owner.subs, s.id)
}

// NextMessage waits for the next accepted message.
func (s *Subscription) NextMessage(ctx context.Context) (MessageEvent, error) {
	select {
	case ev := <-s.messages:
		return ev, nil
	case <-ctx.Done():
		return MessageEvent{}, waitError(ctx)
	}
}

// NextReaction waits for the next accepted reaction.
func (s *Subscription) NextReaction(ctx context.Context) (ReactionEvent, error) {
	select {
	case ev := <-s.reactions:
		return ev, nil
	case <-ctx.Done():
		return ReactionEvent{}, waitError(ctx)
	}
}

func waitError(ctx context.Context) error {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return ErrTimeout
	}
	return ErrCancelled
}
