package actions

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/stake-plus/reactionroles/src/actions/core"
	"github.com/stake-plus/reactionroles/src/actions/reactionroles"
	"github.com/stake-plus/reactionroles/src/api/webserver"
	"github.com/stake-plus/reactionroles/src/config"
	"github.com/stake-plus/reactionroles/src/data"
	"github.com/stake-plus/reactionroles/src/discord"
	"github.com/stake-plus/reactionroles/src/roles"
	"gorm.io/gorm"
)

// StartAll wires up enabled modules and starts the manager.
func StartAll(ctx context.Context, db *gorm.DB) (*core.Manager, error) {
	mgr := core.NewManager()
	store := data.NewStore(db)

	rolesCfg := config.LoadRolesConfig(db)
	if !rolesCfg.Enabled {
		log.Printf("actions: reaction roles disabled via configuration")
		return mgr, mgr.Start(ctx)
	}

	var locker roles.DistributedLocker
	if rolesCfg.RedisURL != "" {
		rdb, err := data.ConnectRedis(rolesCfg.RedisURL)
		if err != nil {
			return nil, fmt.Errorf("actions: redis: %w", err)
		}
		locker = data.NewRedisLocker(rdb)
		log.Printf("actions: unique bindings guarded by redis locks")
	}

	mod, err := reactionroles.NewModule(&rolesCfg, store, locker)
	if err != nil {
		return nil, fmt.Errorf("actions: init reaction roles: %w", err)
	}
	if err := mgr.Add(mod); err != nil {
		return nil, err
	}
	for _, job := range mod.Engine().Jobs(&rolesCfg) {
		if err := mgr.Add(job); err != nil {
			return nil, err
		}
	}

	statusCfg := config.LoadStatusConfig(nil)
	if statusCfg.Enabled {
		srv, err := webserver.New(statusCfg, store, mod.Engine().Sweeper)
		if err != nil {
			return nil, fmt.Errorf("actions: init status api: %w", err)
		}
		if err := mgr.Add(srv); err != nil {
			return nil, err
		}
	} else {
		log.Printf("actions: status api disabled via configuration")
	}

	if err := mgr.Start(ctx); err != nil {
		return nil, err
	}
	log.Printf("actions: started %v", mgr.Names())
	return mgr, nil
}

// SweepOnce runs a single consistency sweep over the REST API without
// opening a gateway connection.
func SweepOnce(ctx context.Context, db *gorm.DB) (*roles.SweepReport, error) {
	cfg := config.LoadRolesConfig(db)
	session, err := discord.NewSession(cfg.Token, 30*time.Second)
	if err != nil {
		return nil, err
	}
	self, err := session.User("@me")
	if err != nil {
		return nil, fmt.Errorf("actions: identify bot user: %w", err)
	}
	session.State.User = self

	engine := reactionroles.NewEngine(&cfg, data.NewStore(db), discord.NewPlatform(session, 3, time.Second), nil)
	return engine.Sweeper.FullSweep(ctx)
}
