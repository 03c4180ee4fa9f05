package config

import (
	"time"

	"gorm.io/gorm"
)

// RolesConfig configures the reaction-role module.
type RolesConfig struct {
	Base
	Enabled         bool
	Prefixes        []string
	FallbackChannel string
	WizardTimeout   time.Duration
	GuildRecheck    time.Duration
	SweepInterval   time.Duration
	CleanupGrace    time.Duration
}

// DefaultPrefixes are used when command_prefixes is unset.
var DefaultPrefixes = []string{"s!", "?", "s?"}

// LoadRolesConfig loads the reaction-role module settings.
func LoadRolesConfig(db *gorm.DB) RolesConfig {
	base := LoadBase(db)
	prefixes := parseCSV(GetSetting("command_prefixes", "COMMAND_PREFIXES", ""))
	if len(prefixes) == 0 {
		prefixes = append([]string(nil), DefaultPrefixes...)
	}
	return RolesConfig{
		Base:            base,
		Enabled:         getBoolSetting("enable_reaction_roles", "ENABLE_REACTION_ROLES", true),
		Prefixes:        prefixes,
		FallbackChannel: GetSetting("fallback_channel_id", "FALLBACK_CHANNEL_ID", ""),
		WizardTimeout:   getDurationSetting("wizard_timeout_seconds", "WIZARD_TIMEOUT_SECONDS", time.Second, 120),
		GuildRecheck:    getDurationSetting("guild_recheck_minutes", "GUILD_RECHECK_MINUTES", time.Minute, 360),
		SweepInterval:   getDurationSetting("sweep_interval_minutes", "SWEEP_INTERVAL_MINUTES", time.Minute, 1440),
		CleanupGrace:    getDurationSetting("cleanup_grace_hours", "CLEANUP_GRACE_HOURS", time.Hour, 24),
	}
}
