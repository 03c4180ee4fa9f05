package roles

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"
)

// Outcome summarises what the reconciler did with one reaction event.
type Outcome int

const (
	OutcomeIgnored Outcome = iota
	OutcomeStripped
	OutcomeGranted
	OutcomeRevoked
	OutcomeFailed
)

func (o Outcome) String() string {
	switch o {
	case OutcomeStripped:
		return "stripped"
	case OutcomeGranted:
		return "granted"
	case OutcomeRevoked:
		return "revoked"
	case OutcomeFailed:
		return "failed"
	default:
		return "ignored"
	}
}

const (
	grantForbiddenNotice = "Someone tried to add a role to themselves but I do not have" +
		" permissions to add it. Ensure that I have a role that is" +
		" hierarchically higher than the role I have to assign, and" +
		" that I have the `Manage Roles` permission."
	revokeForbiddenNotice = "Someone tried to remove a role from themselves but I do not have" +
		" permissions to remove it. Ensure that I have a role that is" +
		" hierarchically higher than the role I have to remove, and that I" +
		" have the `Manage Roles` permission."
)

// Reconciler applies live reaction events to role membership.
type Reconciler struct {
	store    Store
	platform Platform
	router   *Router
	locks    *LockManager
	logger   *log.Logger

	distributed    DistributedLocker
	distributedTTL time.Duration
}

// NewReconciler wires a reconciler. locks may be shared with other users of
// the per-user serialisation domain.
func NewReconciler(store Store, platform Platform, router *Router, locks *LockManager, logger *log.Logger) *Reconciler {
	if locks == nil {
		locks = NewLockManager()
	}
	if logger == nil {
		logger = log.Default()
	}
	return &Reconciler{
		store:    store,
		platform: platform,
		router:   router,
		locks:    locks,
		logger:   logger,
	}
}

// UseDistributedLocker makes unique-set handling also hold a cross-replica
// lock on (message, user) for at most ttl.
func (r *Reconciler) UseDistributedLocker(locker DistributedLocker, ttl time.Duration) {
	if ttl <= 0 {
		ttl = 15 * time.Second
	}
	r.distributed = locker
	r.distributedTTL = ttl
}

// HandleReactionAdd processes a reaction-add notification under the
// reacting user's lock.
func (r *Reconciler) HandleReactionAdd(ctx context.Context, ev ReactionEvent) Outcome {
	release, err := r.locks.Acquire(ctx, ev.UserID)
	if err != nil {
		r.logger.Printf("reconcile: lock for user %s: %v", ev.UserID, err)
		return OutcomeFailed
	}
	defer release()

	set, err := r.store.BindingSet(ctx, ev.MessageID)
	if errors.Is(err, ErrNotFound) {
		return OutcomeIgnored
	}
	if err != nil {
		r.router.Notifyf(ctx, ev.GuildID, "Database error after a user added a reaction:\n```\n%v\n```", err)
		return OutcomeFailed
	}

	roleID, bound := set.RoleFor(ev.Token)
	if !bound {
		if err := r.platform.RemoveReaction(ctx, ev.ChannelID, ev.MessageID, ev.Token, ev.UserID); err != nil && !errors.Is(err, ErrNotFound) {
			r.logger.Printf("reconcile: strip unbound reaction %s on %s: %v", ev.Token, ev.MessageID, err)
		}
		return OutcomeStripped
	}

	if ev.UserID == r.platform.SelfID() {
		return OutcomeIgnored
	}

	if set.Unique {
		if r.distributed != nil {
			key := fmt.Sprintf("reactionroles:unique:%s:%s", ev.MessageID, ev.UserID)
			unlock, err := r.distributed.Lock(ctx, key, r.distributedTTL)
			if err != nil {
				r.logger.Printf("reconcile: cross-replica lock %s: %v", key, err)
			} else {
				defer unlock()
			}
		}
		r.stripOtherReactions(ctx, set, ev)
	}

	if err := r.platform.AddRole(ctx, ev.GuildID, ev.UserID, roleID); err != nil {
		return r.roleFailure(ctx, ev, roleID, err, grantForbiddenNotice)
	}

	r.notifyMember(ctx, ev, roleID, "You now have the following role: **%s**")
	return OutcomeGranted
}

// stripOtherReactions removes the first other bound reaction the user holds
// on the message. The resulting reaction-remove event revokes that role.
func (r *Reconciler) stripOtherReactions(ctx context.Context, set *BindingSet, ev ReactionEvent) {
	for _, token := range set.Tokens() {
		if token == ev.Token {
			continue
		}
		users, err := r.platform.ReactionUsers(ctx, ev.ChannelID, ev.MessageID, token)
		if err != nil {
			r.logger.Printf("reconcile: list reactors of %s on %s: %v", token, ev.MessageID, err)
			continue
		}
		if !containsString(users, ev.UserID) {
			continue
		}
		if err := r.platform.RemoveReaction(ctx, ev.ChannelID, ev.MessageID, token, ev.UserID); err != nil && !errors.Is(err, ErrNotFound) {
			r.logger.Printf("reconcile: strip %s for user %s on %s: %v", token, ev.UserID, ev.MessageID, err)
		}
		return
	}
}

// HandleReactionRemove revokes the bound role, if any. Revoking a role the
// member does not hold is not an error.
func (r *Reconciler) HandleReactionRemove(ctx context.Context, ev ReactionEvent) Outcome {
	if ev.UserID == r.platform.SelfID() {
		return OutcomeIgnored
	}

	set, err := r.store.BindingSet(ctx, ev.MessageID)
	if errors.Is(err, ErrNotFound) {
		return OutcomeIgnored
	}
	if err != nil {
		r.router.Notifyf(ctx, ev.GuildID, "Database error after a user removed a reaction:\n```\n%v\n```", err)
		return OutcomeFailed
	}

	roleID, bound := set.RoleFor(ev.Token)
	if !bound {
		return OutcomeIgnored
	}

	if err := r.platform.RemoveRole(ctx, ev.GuildID, ev.UserID, roleID); err != nil {
		return r.roleFailure(ctx, ev, roleID, err, revokeForbiddenNotice)
	}

	r.notifyMember(ctx, ev, roleID, "You do not have the following role anymore: **%s**")
	return OutcomeRevoked
}

func (r *Reconciler) roleFailure(ctx context.Context, ev ReactionEvent, roleID string, err error, forbiddenNotice string) Outcome {
	switch {
	case errors.Is(err, ErrForbidden):
		r.router.Notify(ctx, ev.GuildID, forbiddenNotice)
	case errors.Is(err, ErrNotFound):
		// Member left or role was deleted concurrently.
		r.logger.Printf("reconcile: role %s or member %s gone in guild %s: %v", roleID, ev.UserID, ev.GuildID, err)
	default:
		r.router.Notifyf(ctx, ev.GuildID, "I could not update role <@&%s> for <@%s>:\n```\n%v\n```", roleID, ev.UserID, err)
	}
	return OutcomeFailed
}

func (r *Reconciler) notifyMember(ctx context.Context, ev ReactionEvent, roleID, format string) {
	enabled, err := r.store.Notify(ctx, ev.GuildID)
	if err != nil {
		r.router.Notifyf(ctx, ev.GuildID, "Database error when checking if role notifications are turned on:\n```\n%v\n```", err)
		return
	}
	if !enabled {
		return
	}
	name, err := r.platform.RoleName(ctx, ev.GuildID, roleID)
	if err != nil || name == "" {
		name = roleID
	}
	if err := r.platform.SendDirect(ctx, ev.UserID, fmt.Sprintf(format, name)); err != nil {
		r.logger.Printf("reconcile: direct message to %s skipped: %v", ev.UserID, err)
	}
}

func containsString(values []string, want string) bool {
	for _, v := range values {
		if v == want {
			return true
		}
	}
	return false
}
