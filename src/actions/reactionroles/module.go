package reactionroles

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/bwmarrin/discordgo"

	"github.com/stake-plus/reactionroles/src/actions/core"
	"github.com/stake-plus/reactionroles/src/config"
	"github.com/stake-plus/reactionroles/src/discord"
	"github.com/stake-plus/reactionroles/src/roles"
)

var _ core.Module = (*Module)(nil)

// Module connects the engine to the discord gateway.
type Module struct {
	config  *config.RolesConfig
	session *discordgo.Session
	engine  *Engine

	mu         sync.Mutex
	runtimeCtx context.Context
	cancel     context.CancelFunc
	inflight   sync.WaitGroup
}

// NewModule creates the gateway session and the engine behind it.
func NewModule(cfg *config.RolesConfig, store roles.Store, locker roles.DistributedLocker) (*Module, error) {
	session, err := discord.NewSession(cfg.Token, 30*time.Second)
	if err != nil {
		return nil, fmt.Errorf("reactionroles: %w", err)
	}
	platform := discord.NewPlatform(session, 3, 500*time.Millisecond)

	module := &Module{
		config:  cfg,
		session: session,
		engine:  NewEngine(cfg, store, platform, locker),
	}
	module.initHandlers()
	return module, nil
}

// Name implements core.Module.
func (m *Module) Name() string { return "reactionroles" }

// Engine exposes the wired components to the status API.
func (m *Module) Engine() *Engine { return m.engine }

func (m *Module) initHandlers() {
	m.session.AddHandler(m.onReady)
	m.session.AddHandler(m.onMessageCreate)
	m.session.AddHandler(m.onReactionAdd)
	m.session.AddHandler(m.onReactionRemove)
	m.session.AddHandler(m.onGuildDelete)
}

func (m *Module) Start(ctx context.Context) error {
	runtimeCtx, cancel := context.WithCancel(ctx)
	m.mu.Lock()
	m.runtimeCtx, m.cancel = runtimeCtx, cancel
	m.mu.Unlock()

	if err := m.session.Open(); err != nil {
		cancel()
		return fmt.Errorf("reactionroles: open discord connection: %w", err)
	}
	return nil
}

func (m *Module) Stop(ctx context.Context) {
	m.mu.Lock()
	cancel := m.cancel
	m.runtimeCtx, m.cancel = nil, nil
	m.mu.Unlock()
	if cancel != nil {
		cancel()
	}

	done := make(chan struct{})
	go func() {
		m.inflight.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		log.Printf("reactionroles: stop deadline hit with handlers still running")
	}

	if err := m.session.Close(); err != nil {
		log.Printf("reactionroles: close session: %v", err)
	}
}

// begin returns the runtime context for an event handler, or false once
// the module is stopping.
func (m *Module) begin() (context.Context, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.runtimeCtx == nil || m.runtimeCtx.Err() != nil {
		return nil, false
	}
	m.inflight.Add(1)
	return m.runtimeCtx, true
}

func (m *Module) onReady(s *discordgo.Session, r *discordgo.Ready) {
	log.Printf("reactionroles: logged in as %s (%d guilds)", r.User.Username, len(r.Guilds))
}

func (m *Module) onMessageCreate(s *discordgo.Session, mc *discordgo.MessageCreate) {
	if mc.Message == nil || mc.Author == nil || mc.GuildID == "" {
		return
	}
	ctx, ok := m.begin()
	if !ok {
		return
	}
	defer m.inflight.Done()

	ev := discord.MessageEvent(mc.Message)
	if m.engine.Conversations.DispatchMessage(ev) {
		return
	}
	m.engine.Commands.Handle(ctx, ev)
}

func (m *Module) onReactionAdd(s *discordgo.Session, r *discordgo.MessageReactionAdd) {
	if r.MessageReaction == nil || r.GuildID == "" {
		return
	}
	ctx, ok := m.begin()
	if !ok {
		return
	}
	defer m.inflight.Done()

	ev := discord.ReactionEvent(r.MessageReaction)
	if m.engine.Conversations.DispatchReaction(ev) {
		return
	}
	m.engine.Reconciler.HandleReactionAdd(ctx, ev)
}

func (m *Module) onReactionRemove(s *discordgo.Session, r *discordgo.MessageReactionRemove) {
	if r.MessageReaction == nil || r.GuildID == "" {
		return
	}
	ctx, ok := m.begin()
	if !ok {
		return
	}
	defer m.inflight.Done()

	m.engine.Reconciler.HandleReactionRemove(ctx, discord.ReactionEvent(r.MessageReaction))
}

func (m *Module) onGuildDelete(s *discordgo.Session, g *discordgo.GuildDelete) {
	if g.Guild == nil || g.Unavailable {
		return
	}
	ctx, ok := m.begin()
	if !ok {
		return
	}
	defer m.inflight.Done()

	if err := m.engine.Sweeper.GuildRemoved(ctx, g.ID); err != nil {
		log.Printf("reactionroles: guild %s removed: %v", g.ID, err)
	}
}
