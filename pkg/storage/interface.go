package storage

import (
	"errors"
	"time"
)

// ErrNotFound is returned by Load when no state exists for a key
var ErrNotFound = errors.New("badge state not found")

// BadgeStateData represents the persistable badge state of one identity
type BadgeStateData struct {
	Key           string    `json:"key"`
	Count         int       `json:"count"`
	LastCheckedAt time.Time `json:"last_checked_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// Storage defines the interface for badge state persistence
type Storage interface {
	// Save persists the state under its key
	Save(state *BadgeStateData) error

	// Load retrieves the state for a key
	Load(key string) (*BadgeStateData, error)

	// Delete removes the state for a key
	Delete(key string) error

	// Close cleans up any resources
	Close() error
}

// StorageConfig holds configuration for storage backends
type StorageConfig struct {
	Type string `json:"type" mapstructure:"type"` // "memory", "file", "redis"

	// File storage config
	FilePath string `json:"file_path,omitempty" mapstructure:"file_path"`

	// Redis storage config
	RedisAddr     string        `json:"redis_addr,omitempty" mapstructure:"redis_addr"`
	RedisPassword string        `json:"-" mapstructure:"redis_password"`
	RedisDB       int           `json:"redis_db,omitempty" mapstructure:"redis_db"`
	KeyPrefix     string        `json:"key_prefix,omitempty" mapstructure:"key_prefix"`
	TTL           time.Duration `json:"ttl,omitempty" mapstructure:"ttl"`
	Timeout       time.Duration `json:"timeout,omitempty" mapstructure:"timeout"`
}
