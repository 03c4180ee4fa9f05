package data

import (
	"sync"

	"gorm.io/gorm"
)

// Setting is one operator-managed configuration row.
type Setting struct {
	ID     uint32 `gorm:"primaryKey;autoIncrement"`
	Name   string `gorm:"size:64;uniqueIndex;not null"`
	Value  string `gorm:"type:text;not null"`
	Active uint8  `gorm:"not null;default:1"`
}

var (
	settingsCache map[string]string
	settingsMu    sync.RWMutex
)

// LoadSettings loads all active settings from the database into cache
func LoadSettings(db *gorm.DB) error {
	var settings []Setting
	if err := db.Where("active = ?", 1).Find(&settings).Error; err != nil {
		return err
	}

	settingsMu.Lock()
	defer settingsMu.Unlock()

	settingsCache = make(map[string]string, len(settings))
	for _, s := range settings {
		settingsCache[s.Name] = s.Value
	}

	return nil
}

// GetSetting retrieves a setting value from cache (call LoadSettings first)
func GetSetting(name string) string {
	settingsMu.RLock()
	defer settingsMu.RUnlock()
	return settingsCache[name]
}

// PutSetting upserts a setting row. It does not refresh the cache.
func PutSetting(db *gorm.DB, name, value string) error {
	return db.Where(Setting{Name: name}).
		Assign(Setting{Value: value, Active: 1}).
		FirstOrCreate(&Setting{}).Error
}
