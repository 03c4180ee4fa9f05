package roles

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
)

const safeChunkLen = 1900

// Delivery tells where an operational notice ended up.
type Delivery int

const (
	DeliveredLog Delivery = iota
	DeliveredGuild
	DeliveredFallback
)

func (d Delivery) String() string {
	switch d {
	case DeliveredGuild:
		return "guild"
	case DeliveredFallback:
		return "fallback"
	default:
		return "log"
	}
}

// Router delivers operational notices to the guild system channel, then the
// global fallback channel, then the process log.
type Router struct {
	store           Store
	platform        Platform
	fallbackChannel string
	logger          *log.Logger
}

// NewRouter builds a router. An empty fallbackChannel skips the global step.
func NewRouter(store Store, platform Platform, fallbackChannel string, logger *log.Logger) *Router {
	if logger == nil {
		logger = log.Default()
	}
	return &Router{
		store:           store,
		platform:        platform,
		fallbackChannel: fallbackChannel,
		logger:          logger,
	}
}

type target struct {
	channelID string
	kind      Delivery
}

// Notify sends text for guildID (empty for bot-wide notices). It never fails;
// the returned Delivery reports which target accepted the notice.
func (r *Router) Notify(ctx context.Context, guildID, text string) Delivery {
	targets, text := r.targets(ctx, guildID, text)
	for _, t := range targets {
		if err := r.send(ctx, t.channelID, text); err != nil {
			r.logger.Printf("notify: %s channel %s rejected notice: %v", t.kind, t.channelID, err)
			continue
		}
		return t.kind
	}
	r.logger.Printf("notify: guild=%s %s", guildID, text)
	return DeliveredLog
}

// Notifyf is Notify with fmt formatting.
func (r *Router) Notifyf(ctx context.Context, guildID, format string, args ...any) Delivery {
	return r.Notify(ctx, guildID, fmt.Sprintf(format, args...))
}

func (r *Router) targets(ctx context.Context, guildID, text string) ([]target, string) {
	var out []target
	if guildID != "" && r.store != nil {
		channelID, err := r.store.SystemChannel(ctx, guildID)
		switch {
		case err != nil && !errors.Is(err, ErrNotFound):
			text = fmt.Sprintf("Database error when fetching guild system channels:\n```\n%v\n```\n\n%s", err, text)
		case channelID != "":
			out = append(out, target{channelID: channelID, kind: DeliveredGuild})
		}
	}
	if r.fallbackChannel != "" && (len(out) == 0 || out[0].channelID != r.fallbackChannel) {
		out = append(out, target{channelID: r.fallbackChannel, kind: DeliveredFallback})
	}
	return out, text
}

func (r *Router) send(ctx context.Context, channelID, text string) error {
	if r.platform == nil {
		return fmt.Errorf("no platform configured")
	}
	for _, chunk := range SplitContent(text, safeChunkLen) {
		if _, err := r.platform.SendMessage(ctx, channelID, OutgoingMessage{Content: chunk}); err != nil {
			return err
		}
	}
	return nil
}

// SplitContent breaks text into chunks no longer than limit bytes, preferring
// line boundaries.
func SplitContent(text string, limit int) []string {
	if limit <= 0 || len(text) <= limit {
		return []string{text}
	}
	var chunks []string
	var current strings.Builder
	flush := func() {
		if current.Len() > 0 {
			chunks = append(chunks, current.String())
			current.Reset()
		}
	}
	for _, line := range strings.SplitAfter(text, "\n") {
		for len(line) > limit {
			flush()
			cut := limit
			for cut > 0 && !isRuneStart(line[cut]) {
				cut--
			}
			if cut == 0 {
				cut = limit
			}
			chunks = append(chunks, line[:cut])
			line = line[cut:]
		}
		if current.Len()+len(line) > limit {
			flush()
		}
		current.WriteString(line)
	}
	flush()
	return chunks
}

func isRuneStart(b byte) bool { return b&0xC0 != 0x80 }
