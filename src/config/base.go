package config

import (
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/stake-plus/reactionroles/src/data"
	"gorm.io/gorm"
)

// Base contains common configuration fields
type Base struct {
	Token    string
	RedisURL string
}

// LoadBase refreshes the settings cache and loads the discord token and
// optional redis url.
func LoadBase(db *gorm.DB) Base {
	if db != nil {
		if err := data.LoadSettings(db); err != nil {
			log.Printf("config: load settings: %v (env fallbacks apply)", err)
		}
	}
	return Base{
		Token:    GetSetting("discord_token", "DISCORD_TOKEN", ""),
		RedisURL: GetSetting("redis_url", "REDIS_URL", ""),
	}
}

// GetSetting retrieves a setting with env fallback
func GetSetting(name, envKey, defaultValue string) string {
	val := data.GetSetting(name)
	if val == "" && envKey != "" {
		val = os.Getenv(envKey)
	}
	if val == "" {
		val = defaultValue
	}
	return val
}

func getBoolSetting(settingKey, envKey string, defaultValue bool) bool {
	return parseBoolDefault(GetSetting(settingKey, envKey, ""), defaultValue)
}

func parseBoolDefault(value string, fallback bool) bool {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return fallback
	}
}

// getDurationSetting reads a positive integer count of unit.
func getDurationSetting(settingKey, envKey string, unit time.Duration, defaultCount int) time.Duration {
	raw := strings.TrimSpace(GetSetting(settingKey, envKey, ""))
	if raw == "" {
		return time.Duration(defaultCount) * unit
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		log.Printf("config: %s=%q is not a positive integer, using %d", settingKey, raw, defaultCount)
		return time.Duration(defaultCount) * unit
	}
	return time.Duration(n) * unit
}

func parseCSV(raw string) []string {
	fields := strings.FieldsFunc(raw, func(r rune) bool {
		return r == ',' || r == ';' || r == '|' || r == ' '
	})
	out := make([]string, 0, len(fields))
	for _, f := range fields {
		if trimmed := strings.TrimSpace(f); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
