package storage

import (
	"fmt"
)

// NewStorage creates a storage instance based on the configuration
func NewStorage(config *StorageConfig) (Storage, error) {
	switch config.Type {
	case "memory", "":
		return NewMemoryStorage(), nil

	case "file":
		if config.FilePath == "" {
			config.FilePath = "./badge_state.json"
		}
		return NewFileStorage(config.FilePath)

	case "redis":
		if config.RedisAddr == "" {
			return nil, fmt.Errorf("redis storage requires redis_addr")
		}
		return NewRedisStorage(config)

	default:
		return nil, fmt.Errorf("unknown storage type: %s", config.Type)
	}
}
