package discord

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stake-plus/reactionroles/src/roles"
)

// restSession points the channel endpoints at srv and seeds channel 42 into guild G1.
func restSession(t *testing.T, srv *httptest.Server) *discordgo.Session {
	t.Helper()
	prev := discordgo.EndpointChannels
	discordgo.EndpointChannels = srv.URL + "/channels/"
	t.Cleanup(func() { discordgo.EndpointChannels = prev })

	s, err := discordgo.New("Bot test")
	require.NoError(t, err)
	s.Client = srv.Client()
	require.NoError(t, s.State.GuildAdd(&discordgo.Guild{ID: "G1"}))
	require.NoError(t, s.State.ChannelAdd(&discordgo.Channel{ID: "42", GuildID: "G1"}))
	return s
}

func TestSendMessageFillsGuildFromChannel(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/channels/42/messages" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"900","channel_id":"42","content":"hi"}`))
	}))
	defer srv.Close()

	p := NewPlatform(restSession(t, srv), 1, time.Millisecond)
	msg, err := p.SendMessage(context.Background(), "42", roles.OutgoingMessage{Content: "hi"})
	require.NoError(t, err)
	assert.Equal(t, "900", msg.MessageID)
	assert.Equal(t, "42", msg.ChannelID)
	assert.Equal(t, "G1", msg.GuildID)
}
