// Package cache implements the on-device profile cache: a single-slot
// key-value store used for fast, offline-tolerant reads. It is never
// authoritative; the remote profile store always wins once reachable.
package cache

import (
	"encoding/json"
	"errors"
	"fmt"

	sqlite "github.com/glebarez/sqlite"
	"github.com/minimartlab/minimart/backend/internal/profile"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	keyUserProfile = "user_profile"
	keyLoginStatus = "login_status"

	loginStatusTrue = "true"
)

// entry is one row of the cache table. The cache holds exactly one
// logical slot (the current user), so keys are a tiny fixed set.
type entry struct {
	Key   string `gorm:"column:key;primaryKey;size:64;not null"`
	Value string `gorm:"column:value;not null"`
}

func (entry) TableName() string {
	return "profile_cache"
}

// Store persists the last known profile and login flag across process
// restarts. Every method is best-effort: persistence failures are logged
// and degrade to a no-op or absent result, never an error to the caller.
type Store struct {
	db     *gorm.DB
	logger *zap.Logger
}

// Open establishes the SQLite-backed cache at the given path and ensures
// the schema is present.
func Open(path string, logger *zap.Logger) (*Store, error) {
	if path == "" {
		return nil, fmt.Errorf("cache: database path is required")
	}
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{})
	if err != nil {
		return nil, err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	sqlDB.SetMaxOpenConns(1)

	return NewStore(db, logger)
}

// NewStore wraps an existing connection, used by tests with in-memory SQLite.
func NewStore(db *gorm.DB, logger *zap.Logger) (*Store, error) {
	if db == nil {
		return nil, fmt.Errorf("cache: database connection required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if err := db.AutoMigrate(&entry{}); err != nil {
		return nil, err
	}
	return &Store{db: db, logger: logger}, nil
}

// SaveProfile overwrites the cached profile slot and raises the login flag.
func (s *Store) SaveProfile(user *profile.UserProfile) {
	if user == nil {
		return
	}
	serialized, err := json.Marshal(user)
	if err != nil {
		s.logger.Warn("failed to serialize profile for cache", zap.Error(err))
		return
	}
	s.set(keyUserProfile, string(serialized))
	s.set(keyLoginStatus, loginStatusTrue)
}

// LoadProfile returns the cached profile, or nil when the slot is empty
// or unreadable. A corrupt slot is treated the same as an absent one.
func (s *Store) LoadProfile() *profile.UserProfile {
	raw, ok := s.get(keyUserProfile)
	if !ok {
		return nil
	}
	var user profile.UserProfile
	if err := json.Unmarshal([]byte(raw), &user); err != nil {
		s.logger.Warn("discarding unreadable cached profile", zap.Error(err))
		return nil
	}
	return &user
}

// IsLoggedIn reports the persisted login flag, independent of whether a
// profile record is present.
func (s *Store) IsLoggedIn() bool {
	raw, ok := s.get(keyLoginStatus)
	return ok && raw == loginStatusTrue
}

// Clear drops the cached profile and login flag.
func (s *Store) Clear() {
	if err := s.db.Where("key IN ?", []string{keyUserProfile, keyLoginStatus}).Delete(&entry{}).Error; err != nil {
		s.logger.Warn("failed to clear profile cache", zap.Error(err))
	}
}

func (s *Store) set(key, value string) {
	record := entry{Key: key, Value: value}
	err := s.db.Save(&record).Error
	if err != nil {
		s.logger.Warn("failed to write cache entry", zap.String("key", key), zap.Error(err))
	}
}

func (s *Store) get(key string) (string, bool) {
	var record entry
	err := s.db.Where("key = ?", key).Take(&record).Error
	if err != nil {
		if !isNotFound(err) {
			s.logger.Warn("failed to read cache entry", zap.String("key", key), zap.Error(err))
		}
		return "", false
	}
	return record.Value, true
}

func isNotFound(err error) bool {
	return errors.Is(err, gorm.ErrRecordNotFound)
}
