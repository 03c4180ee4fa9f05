package roles

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"
)

// DefaultGracePeriod is how long a guild may stay unreachable before purge.
const DefaultGracePeriod = 24 * time.Hour

// Sweeper detects and resolves drift between persisted bindings and what the
// platform still exposes.
type Sweeper struct {
	store    Store
	platform Platform
	router   *Router
	grace    time.Duration
	now      func() time.Time
	logger   *log.Logger
}

// SweepReport describes one full consistency sweep.
type SweepReport struct {
	StartedAt      time.Time `json:"startedAt"`
	Checked        int       `json:"checked"`
	Deleted        []string  `json:"deleted"`
	Enqueued       []string  `json:"enqueued"`
	Dequeued       []string  `json:"dequeued"`
	Purged         []string  `json:"purged"`
	TransientFails int       `json:"transientFailures"`
}

// NewSweeper builds a sweeper. grace <= 0 selects DefaultGracePeriod.
func NewSweeper(store Store, platform Platform, router *Router, grace time.Duration, logger *log.Logger) *Sweeper {
	if grace <= 0 {
		grace = DefaultGracePeriod
	}
	if logger == nil {
		logger = log.Default()
	}
	return &Sweeper{
		store:    store,
		platform: platform,
		router:   router,
		grace:    grace,
		now:      time.Now,
		logger:   logger,
	}
}

// SetClock overrides the time source.
func (s *Sweeper) SetClock(now func() time.Time) {
	if now != nil {
		s.now = now
	}
}

// unreachable reports whether err means the guild can no longer be observed.
func unreachable(err error) bool {
	return errors.Is(err, ErrForbidden) || errors.Is(err, ErrNotFound)
}

// RecheckQueued re-observes every queued guild and dequeues the reachable ones.
func (s *Sweeper) RecheckQueued(ctx context.Context) ([]string, error) {
	entries, err := s.store.CleanupQueue(ctx)
	if err != nil {
		s.router.Notifyf(ctx, "", "Database error when fetching cleanup guilds:\n```\n%v\n```", err)
		return nil, err
	}

	var dequeued []string
	for _, entry := range entries {
		if err := ctx.Err(); err != nil {
			return dequeued, err
		}
		err := s.platform.FetchGuild(ctx, entry.GuildID)
		if err != nil {
			if !unreachable(err) {
				s.logger.Printf("sweep: recheck guild %s: %v", entry.GuildID, err)
			}
			continue
		}
		if err := s.store.DequeueCleanup(ctx, entry.GuildID); err != nil {
			s.router.Notifyf(ctx, "", "Database error when removing a guild from the cleanup queue:\n```\n%v\n```", err)
			return dequeued, err
		}
		dequeued = append(dequeued, entry.GuildID)
	}
	return dequeued, nil
}

// FullSweep verifies every Binding Set, tracks unreachable guilds and purges
// guilds whose grace period has elapsed.
func (s *Sweeper) FullSweep(ctx context.Context) (*SweepReport, error) {
	report := &SweepReport{StartedAt: s.now()}

	sets, err := s.store.BindingSets(ctx)
	if err != nil {
		s.router.Notifyf(ctx, "", "Database error when fetching messages during database cleaning:\n```\n%v\n```", err)
		return report, err
	}
	queuedEntries, err := s.store.CleanupQueue(ctx)
	if err != nil {
		s.router.Notifyf(ctx, "", "Database error when fetching cleanup guilds during cleaning:\n```\n%v\n```", err)
		return report, err
	}
	queued := make(map[string]bool, len(queuedEntries))
	for _, entry := range queuedEntries {
		queued[entry.GuildID] = true
	}

	for _, set := range sets {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		report.Checked++
		if err := s.checkBindingSet(ctx, set, queued, report); err != nil {
			return report, err
		}
	}

	if err := s.observeGuilds(ctx, queued, report); err != nil {
		return report, err
	}

	if err := s.purgeExpired(ctx, report); err != nil {
		return report, err
	}

	s.logger.Printf("sweep: checked=%d deleted=%d enqueued=%d dequeued=%d purged=%d transient=%d",
		report.Checked, len(report.Deleted), len(report.Enqueued), len(report.Dequeued), len(report.Purged), report.TransientFails)
	return report, nil
}

func (s *Sweeper) checkBindingSet(ctx context.Context, set BindingSet, queued map[string]bool, report *SweepReport) error {
	_, err := s.platform.FetchMessage(ctx, set.ChannelID, set.MessageID)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, ErrNotFound):
		if err := s.store.DeleteBindingSet(ctx, set.MessageID); err != nil && !errors.Is(err, ErrNotFound) {
			s.router.Notifyf(ctx, set.GuildID, "Database error when deleting messages during database cleaning:\n```\n%v\n```", err)
			return err
		}
		report.Deleted = append(report.Deleted, set.MessageID)
		s.router.Notifyf(ctx, set.GuildID,
			"I deleted the database entries of a message that was removed.\n\nID: %s in <#%s>", set.MessageID, set.ChannelID)
		return nil
	case errors.Is(err, ErrForbidden):
		if queued[set.GuildID] {
			return nil
		}
		if err := s.enqueue(ctx, set.GuildID, report); err != nil {
			return err
		}
		queued[set.GuildID] = true
		s.router.Notifyf(ctx, set.GuildID,
			"I do not have access to a message I have created anymore. "+
				"I cannot manage the roles of users reacting to it.\n\nID: %s in channel %s", set.MessageID, set.ChannelID)
		return nil
	default:
		report.TransientFails++
		s.logger.Printf("sweep: fetch message %s in %s: %v", set.MessageID, set.ChannelID, err)
		return nil
	}
}

func (s *Sweeper) observeGuilds(ctx context.Context, queued map[string]bool, report *SweepReport) error {
	guilds, err := s.store.Guilds(ctx)
	if err != nil {
		s.router.Notifyf(ctx, "", "Database error when fetching guilds during database cleaning:\n```\n%v\n```", err)
		return err
	}

	for _, guildID := range guilds {
		if err := ctx.Err(); err != nil {
			return err
		}
		err := s.platform.FetchGuild(ctx, guildID)
		switch {
		case err == nil:
			if !queued[guildID] {
				continue
			}
			if err := s.store.DequeueCleanup(ctx, guildID); err != nil {
				s.router.Notifyf(ctx, "", "Database error when removing a guild from the cleanup queue:\n```\n%v\n```", err)
				return err
			}
			delete(queued, guildID)
			report.Dequeued = append(report.Dequeued, guildID)
		case unreachable(err):
			if queued[guildID] {
				continue
			}
			if err := s.enqueue(ctx, guildID, report); err != nil {
				return err
			}
			queued[guildID] = true
		default:
			report.TransientFails++
			s.logger.Printf("sweep: fetch guild %s: %v", guildID, err)
		}
	}
	return nil
}

func (s *Sweeper) purgeExpired(ctx context.Context, report *SweepReport) error {
	entries, err := s.store.CleanupQueue(ctx)
	if err != nil {
		s.router.Notifyf(ctx, "", "Database error when fetching cleanup guilds during cleaning:\n```\n%v\n```", err)
		return err
	}

	now := s.now()
	for _, entry := range entries {
		if entry.Age(now) < s.grace {
			continue
		}
		err := s.platform.FetchGuild(ctx, entry.GuildID)
		switch {
		case err == nil:
			if err := s.store.DequeueCleanup(ctx, entry.GuildID); err != nil {
				s.router.Notifyf(ctx, "", "Database error when removing a guild from the cleanup queue:\n```\n%v\n```", err)
				return err
			}
			report.Dequeued = append(report.Dequeued, entry.GuildID)
		case unreachable(err):
			if err := s.store.PurgeGuild(ctx, entry.GuildID); err != nil {
				s.router.Notifyf(ctx, "", "Database error when deleting a guild's database entries during database cleaning:\n```\n%v\n```", err)
				return err
			}
			report.Purged = append(report.Purged, entry.GuildID)
			s.logger.Printf("sweep: purged guild %s, unreachable since %s", entry.GuildID, entry.FirstFailure.UTC().Format(time.RFC3339))
		default:
			report.TransientFails++
			s.logger.Printf("sweep: final recheck of guild %s: %v", entry.GuildID, err)
		}
	}
	return nil
}

func (s *Sweeper) enqueue(ctx context.Context, guildID string, report *SweepReport) error {
	if err := s.store.EnqueueCleanup(ctx, guildID, s.now()); err != nil {
		s.router.Notifyf(ctx, "", "Database error when queueing guild %s for cleanup:\n```\n%v\n```", guildID, err)
		return fmt.Errorf("enqueue cleanup %s: %w", guildID, err)
	}
	report.Enqueued = append(report.Enqueued, guildID)
	return nil
}

// GuildRemoved queues a guild the bot was removed from. The purge itself is
// left to the grace-period protocol.
func (s *Sweeper) GuildRemoved(ctx context.Context, guildID string) error {
	entries, err := s.store.CleanupQueue(ctx)
	if err != nil {
		return fmt.Errorf("read cleanup queue: %w", err)
	}
	for _, entry := range entries {
		if entry.GuildID == guildID {
			return nil
		}
	}
	if err := s.store.EnqueueCleanup(ctx, guildID, s.now()); err != nil {
		return fmt.Errorf("enqueue cleanup %s: %w", guildID, err)
	}
	s.logger.Printf("sweep: guild %s removed, queued for cleanup", guildID)
	return nil
}
