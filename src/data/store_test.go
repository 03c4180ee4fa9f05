package data

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stake-plus/reactionroles/src/roles"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	db, err := OpenSQLite(filepath.Join(t.TempDir(), "roles.db"))
	require.NoError(t, err)
	require.NoError(t, Migrate(db))
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})
	return NewStore(db)
}

func sampleSet(messageID, guildID string, tokens ...string) roles.BindingSet {
	set := roles.BindingSet{MessageRef: roles.MessageRef{MessageID: messageID, ChannelID: "c-" + guildID, GuildID: guildID}}
	for i, tok := range tokens {
		set.Bindings = append(set.Bindings, roles.Binding{Token: roles.Token(tok), RoleID: messageID + "-role-" + string(rune('a'+i))})
	}
	return set
}

func TestBindingSetRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	set := sampleSet("m1", "g1", "⭐", "party:42")
	set.Unique = true
	require.NoError(t, s.CreateBindingSet(ctx, set))

	got, err := s.BindingSet(ctx, "m1")
	require.NoError(t, err)
	assert.Equal(t, set.MessageRef, got.MessageRef)
	assert.True(t, got.Unique)
	assert.Equal(t, set.Bindings, got.Bindings)
	assert.False(t, got.CreatedAt.IsZero())

	exists, err := s.BindingSetExists(ctx, "m1")
	require.NoError(t, err)
	assert.True(t, exists)

	_, err = s.BindingSet(ctx, "missing")
	assert.True(t, errors.Is(err, roles.ErrNotFound))
}

func TestCreateBindingSetRejectsDuplicates(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.CreateBindingSet(ctx, sampleSet("m1", "g1", "⭐")))

	err := s.CreateBindingSet(ctx, sampleSet("m1", "g1", "\U0001F3B2"))
	assert.True(t, errors.Is(err, roles.ErrDuplicateBinding))

	err = s.CreateBindingSet(ctx, sampleSet("m2", "g1", "\U0001F3B2", "⭐"))
	assert.True(t, errors.Is(err, roles.ErrTokenInUse))

	exists, err := s.BindingSetExists(ctx, "m2")
	require.NoError(t, err)
	assert.False(t, exists, "failed create leaves nothing behind")
}

func TestAddAndRemoveBinding(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.CreateBindingSet(ctx, sampleSet("m1", "g1", "⭐")))
	require.NoError(t, s.CreateBindingSet(ctx, sampleSet("m2", "g1", "\U0001F512")))

	require.NoError(t, s.AddBinding(ctx, "m1", roles.Binding{Token: "\U0001F3B2", RoleID: "r2"}))
	assert.True(t, errors.Is(s.AddBinding(ctx, "m1", roles.Binding{Token: "\U0001F512", RoleID: "r3"}), roles.ErrTokenInUse))
	assert.True(t, errors.Is(s.AddBinding(ctx, "nope", roles.Binding{Token: "x", RoleID: "r"}), roles.ErrNotFound))

	inUse, err := s.TokenInUse(ctx, "\U0001F3B2")
	require.NoError(t, err)
	assert.True(t, inUse)

	require.NoError(t, s.RemoveBinding(ctx, "m1", "\U0001F3B2"))
	assert.True(t, errors.Is(s.RemoveBinding(ctx, "m1", "\U0001F3B2"), roles.ErrNotFound))

	got, err := s.BindingSet(ctx, "m1")
	require.NoError(t, err)
	assert.Len(t, got.Bindings, 1)
}

func TestDeleteBindingSetFreesTokens(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.CreateBindingSet(ctx, sampleSet("m1", "g1", "⭐")))
	require.NoError(t, s.DeleteBindingSet(ctx, "m1"))
	assert.True(t, errors.Is(s.DeleteBindingSet(ctx, "m1"), roles.ErrNotFound))

	inUse, err := s.TokenInUse(ctx, "⭐")
	require.NoError(t, err)
	assert.False(t, inUse)
	require.NoError(t, s.CreateBindingSet(ctx, sampleSet("m2", "g1", "⭐")))
}

func TestBindingSetsByChannel(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.CreateBindingSet(ctx, sampleSet("m1", "g1", "a")))
	require.NoError(t, s.CreateBindingSet(ctx, sampleSet("m2", "g1", "b")))
	require.NoError(t, s.CreateBindingSet(ctx, sampleSet("m3", "g2", "c")))

	all, err := s.BindingSets(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 3)

	inChannel, err := s.BindingSetsByChannel(ctx, "c-g1")
	require.NoError(t, err)
	require.Len(t, inChannel, 2)
	assert.Equal(t, "m1", inChannel[0].MessageID)
	assert.Equal(t, "m2", inChannel[1].MessageID)
}

func TestGuildConfiguration(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.AddAdminRole(ctx, "g1", "r1"))
	require.NoError(t, s.AddAdminRole(ctx, "g1", "r1"))
	require.NoError(t, s.AddAdminRole(ctx, "g1", "r2"))
	admins, err := s.AdminRoles(ctx, "g1")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"r1", "r2"}, admins)
	require.NoError(t, s.RemoveAdminRole(ctx, "g1", "r1"))
	assert.True(t, errors.Is(s.RemoveAdminRole(ctx, "g1", "r1"), roles.ErrNotFound))

	_, err = s.SystemChannel(ctx, "g1")
	assert.True(t, errors.Is(err, roles.ErrNotFound))
	require.NoError(t, s.SetSystemChannel(ctx, "g1", "sys1"))
	require.NoError(t, s.SetSystemChannel(ctx, "g1", "sys2"))
	channelID, err := s.SystemChannel(ctx, "g1")
	require.NoError(t, err)
	assert.Equal(t, "sys2", channelID)

	on, err := s.Notify(ctx, "g1")
	require.NoError(t, err)
	assert.False(t, on)
	on, err = s.ToggleNotify(ctx, "g1")
	require.NoError(t, err)
	assert.True(t, on)
	on, err = s.ToggleNotify(ctx, "g1")
	require.NoError(t, err)
	assert.False(t, on)
}

func TestCleanupQueueKeepsFirstFailure(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	first := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

	require.NoError(t, s.EnqueueCleanup(ctx, "g1", first))
	require.NoError(t, s.EnqueueCleanup(ctx, "g1", first.Add(time.Hour)))

	queue, err := s.CleanupQueue(ctx)
	require.NoError(t, err)
	require.Len(t, queue, 1)
	assert.True(t, first.Equal(queue[0].FirstFailure), "got %v", queue[0].FirstFailure)

	require.NoError(t, s.DequeueCleanup(ctx, "g1"))
	queue, err = s.CleanupQueue(ctx)
	require.NoError(t, err)
	assert.Empty(t, queue)
}

func TestPurgeGuildRemovesEverything(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.CreateBindingSet(ctx, sampleSet("m1", "g1", "⭐")))
	require.NoError(t, s.CreateBindingSet(ctx, sampleSet("m2", "g2", "\U0001F3B2")))
	require.NoError(t, s.AddGuild(ctx, "g1"))
	require.NoError(t, s.AddGuild(ctx, "g2"))
	require.NoError(t, s.AddAdminRole(ctx, "g1", "r1"))
	require.NoError(t, s.SetSystemChannel(ctx, "g1", "sys"))
	_, err := s.ToggleNotify(ctx, "g1")
	require.NoError(t, err)
	require.NoError(t, s.EnqueueCleanup(ctx, "g1", time.Now()))

	require.NoError(t, s.PurgeGuild(ctx, "g1"))

	_, err = s.BindingSet(ctx, "m1")
	assert.True(t, errors.Is(err, roles.ErrNotFound))
	inUse, err := s.TokenInUse(ctx, "⭐")
	require.NoError(t, err)
	assert.False(t, inUse)
	admins, err := s.AdminRoles(ctx, "g1")
	require.NoError(t, err)
	assert.Empty(t, admins)
	_, err = s.SystemChannel(ctx, "g1")
	assert.True(t, errors.Is(err, roles.ErrNotFound))
	on, err := s.Notify(ctx, "g1")
	require.NoError(t, err)
	assert.False(t, on)
	queue, err := s.CleanupQueue(ctx)
	require.NoError(t, err)
	assert.Empty(t, queue)

	guilds, err := s.Guilds(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"g2"}, guilds)
	_, err = s.BindingSet(ctx, "m2")
	assert.NoError(t, err)
}

func TestSettingsCache(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, PutSetting(s.DB(), "command_prefixes", "!"))
	require.NoError(t, PutSetting(s.DB(), "command_prefixes", "s!"))
	require.NoError(t, LoadSettings(s.DB()))
	assert.Equal(t, "s!", GetSetting("command_prefixes"))
	assert.Empty(t, GetSetting("missing"))
}

func TestOpenSelectsDriver(t *testing.T) {
	db, err := Open("sqlite://" + filepath.Join(t.TempDir(), "open.db"))
	require.NoError(t, err)
	assert.Equal(t, "sqlite", db.Dialector.Name())
	assert.Equal(t, "a?b=1&c=2", ensureParam("a?b=1", "c", "2"))
	assert.Equal(t, "a?b=1", ensureParam("a?b=1", "b", "9"))
}
