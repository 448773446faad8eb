package client

import (
	"fmt"
	"time"

	"github.com/treservi/notify-engine/pkg/utils"
)

// Config holds the client configuration
type Config struct {
	BaseURL string        `json:"base_url" mapstructure:"base_url"`
	APIKey  string        `json:"api_key" mapstructure:"api_key"`
	Timeout time.Duration `json:"timeout" mapstructure:"timeout"`
}

// NewFromConfig creates a client from configuration
func NewFromConfig(config Config) (*Client, error) {
	if config.BaseURL == "" {
		return nil, fmt.Errorf("backend base URL is required")
	}
	opts := []Option{WithAPIKey(config.APIKey)}
	if config.Timeout > 0 {
		opts = append(opts, WithHTTPClient(utils.NewHTTPClient(utils.HTTPClientConfig{Timeout: config.Timeout})))
	}
	return NewClient(config.BaseURL, opts...), nil
}
