package config

import "gorm.io/gorm"

// StatusConfig configures the optional status API.
type StatusConfig struct {
	Enabled        bool
	ListenAddr     string
	JWTSecret      string
	AllowedOrigins []string
}

// LoadStatusConfig loads the status API settings. The settings cache is
// expected to be loaded already when db is nil.
func LoadStatusConfig(db *gorm.DB) StatusConfig {
	LoadBase(db)
	return StatusConfig{
		Enabled:        getBoolSetting("enable_status_api", "ENABLE_STATUS_API", false),
		ListenAddr:     GetSetting("status_listen_addr", "STATUS_LISTEN_ADDR", "127.0.0.1:7082"),
		JWTSecret:      GetSetting("status_jwt_secret", "STATUS_JWT_SECRET", ""),
		AllowedOrigins: parseCSV(GetSetting("status_allowed_origins", "STATUS_ALLOWED_ORIGINS", "")),
	}
}
