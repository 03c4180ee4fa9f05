package discord

import (
	"fmt"
	"time"

	"github.com/bwmarrin/discordgo"

	"github.com/stake-plus/reactionroles/src/webclient"
)

// Intents needed to follow messages and reactions in guild channels.
const Intents = discordgo.IntentsGuilds |
	discordgo.IntentsGuildMessages |
	discordgo.IntentsGuildMessageReactions |
	discordgo.IntentsMessageContent

// NewSession builds an unopened bot session.
func NewSession(token string, httpTimeout time.Duration) (*discordgo.Session, error) {
	if token == "" {
		return nil, fmt.Errorf("discord: bot token is empty")
	}
	s, err := discordgo.New("Bot " + token)
	if err != nil {
		return nil, fmt.Errorf("discord: new session: %w", err)
	}
	s.Identify.Intents = Intents
	s.Client = webclient.NewDefault(httpTimeout)
	s.StateEnabled = true
	return s, nil
}
