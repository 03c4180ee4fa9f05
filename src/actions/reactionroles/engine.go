package reactionroles

import (
	"log"

	"github.com/stake-plus/reactionroles/src/config"
	"github.com/stake-plus/reactionroles/src/roles"
)

// Engine bundles the reaction-role components sharing one store and platform.
type Engine struct {
	Store         roles.Store
	Platform      roles.Platform
	Router        *roles.Router
	Reconciler    *roles.Reconciler
	Sweeper       *roles.Sweeper
	Conversations *roles.Conversations
	Wizard        *roles.Wizard
	Commands      *roles.Commands
}

// NewEngine wires the components. locker may be nil for single-replica
// deployments.
func NewEngine(cfg *config.RolesConfig, store roles.Store, platform roles.Platform, locker roles.DistributedLocker) *Engine {
	logger := log.Default()
	router := roles.NewRouter(store, platform, cfg.FallbackChannel, logger)
	conv := roles.NewConversations()

	display := ""
	if len(cfg.Prefixes) > 0 {
		display = cfg.Prefixes[0]
	}
	wizard := roles.NewWizard(store, platform, router, conv, roles.WizardConfig{
		Timeout: cfg.WizardTimeout,
		Prefix:  display,
	}, logger)

	reconciler := roles.NewReconciler(store, platform, router, roles.NewLockManager(), logger)
	if locker != nil {
		reconciler.UseDistributedLocker(locker, 0)
	}

	return &Engine{
		Store:         store,
		Platform:      platform,
		Router:        router,
		Reconciler:    reconciler,
		Sweeper:       roles.NewSweeper(store, platform, router, cfg.CleanupGrace, logger),
		Conversations: conv,
		Wizard:        wizard,
		Commands:      roles.NewCommands(store, platform, router, wizard, cfg.Prefixes, logger),
	}
}

// Jobs returns the periodic guild recheck and consistency sweep.
func (e *Engine) Jobs(cfg *config.RolesConfig) []*roles.PeriodicJob {
	return []*roles.PeriodicJob{
		roles.GuildRecheckJob(e.Sweeper, cfg.GuildRecheck),
		roles.ConsistencySweepJob(e.Sweeper, cfg.SweepInterval),
	}
}
