package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/treservi/notify-engine/pkg/storage"
)

// EnvPrefix prefixes every environment override, e.g. NOTIFY_DATABASE_URL
const EnvPrefix = "NOTIFY"

// ServerConfig configures the backend API
type ServerConfig struct {
	Address string `json:"address" mapstructure:"address"`
	// APIKey protects /api routes; empty leaves them open
	APIKey string `json:"-" mapstructure:"api_key"`
	// StoreAppointments inserts posted appointment events into the appointments table.
	// Disable it when the booking backend owns the table and only calls the webhook.
	StoreAppointments bool `json:"store_appointments" mapstructure:"store_appointments"`
}

// LogConfig configures pkg/logger
type LogConfig struct {
	Level  string `json:"level" mapstructure:"level"`
	Format string `json:"format" mapstructure:"format"` // "text" or "json"
}

// DatabaseConfig configures the Postgres pool
type DatabaseConfig struct {
	URL             string        `json:"-" mapstructure:"url"`
	MaxConns        int32         `json:"max_conns" mapstructure:"max_conns"`
	MinConns        int32         `json:"min_conns" mapstructure:"min_conns"`
	MaxConnIdleTime time.Duration `json:"max_conn_idle_time" mapstructure:"max_conn_idle_time"`
	MaxConnLifetime time.Duration `json:"max_conn_lifetime" mapstructure:"max_conn_lifetime"`
}

// NATSConfig configures the NATS connection of the change feed
type NATSConfig struct {
	URL           string        `json:"url" mapstructure:"url"`
	Name          string        `json:"name" mapstructure:"name"`
	SubjectPrefix string        `json:"subject_prefix" mapstructure:"subject_prefix"`
	ReconnectWait time.Duration `json:"reconnect_wait" mapstructure:"reconnect_wait"`
	MaxReconnects int           `json:"max_reconnects" mapstructure:"max_reconnects"`
}

// RedisConfig is shared by every Redis backed component
type RedisConfig struct {
	Addr     string `json:"addr" mapstructure:"addr"`
	Password string `json:"-" mapstructure:"password"`
	DB       int    `json:"db" mapstructure:"db"`
}

// VAPIDConfig holds the application server key pair
type VAPIDConfig struct {
	PublicKey  string        `json:"public_key" mapstructure:"public_key"`
	PrivateKey string        `json:"-" mapstructure:"private_key"`
	Subject    string        `json:"subject" mapstructure:"subject"`
	TTL        time.Duration `json:"ttl" mapstructure:"ttl"`
	Urgency    string        `json:"urgency" mapstructure:"urgency"`
}

// LocalStateConfig selects where a device keeps its badge state
type LocalStateConfig struct {
	Type      string        `json:"type" mapstructure:"type"` // "memory", "file", "redis"
	FilePath  string        `json:"file_path" mapstructure:"file_path"`
	KeyPrefix string        `json:"key_prefix" mapstructure:"key_prefix"`
	TTL       time.Duration `json:"ttl" mapstructure:"ttl"`
	Timeout   time.Duration `json:"timeout" mapstructure:"timeout"`
}

// FeedConfig selects the live change feed
type FeedConfig struct {
	Type              string        `json:"type" mapstructure:"type"` // "nats", "postgres", "memory"
	InsertChannel     string        `json:"insert_channel" mapstructure:"insert_channel"`
	BroadcastChannel  string        `json:"broadcast_channel" mapstructure:"broadcast_channel"`
	ReconnectInterval time.Duration `json:"reconnect_interval" mapstructure:"reconnect_interval"`
}

// DeviceConfig describes the device the agent runs on
type DeviceConfig struct {
	UserAgent          string `json:"user_agent" mapstructure:"user_agent"`
	Standalone         bool   `json:"standalone" mapstructure:"standalone"`
	HasServiceWorker   bool   `json:"has_service_worker" mapstructure:"has_service_worker"`
	HasPushManager     bool   `json:"has_push_manager" mapstructure:"has_push_manager"`
	HasNotificationAPI bool   `json:"has_notification_api" mapstructure:"has_notification_api"`
	HasBadgeAPI        bool   `json:"has_badge_api" mapstructure:"has_badge_api"`
	// Permission is the answer to the notification prompt: granted, denied, default or prompt
	Permission string `json:"permission" mapstructure:"permission"`
	// EndpointURL is where push services reach the agent's push receiver
	EndpointURL string `json:"endpoint_url" mapstructure:"endpoint_url"`
	Sound       bool   `json:"sound" mapstructure:"sound"`
}

// SessionConfig tunes the device engine
type SessionConfig struct {
	RefreshSchedule string        `json:"refresh_schedule" mapstructure:"refresh_schedule"`
	RecentLimit     int           `json:"recent_limit" mapstructure:"recent_limit"`
	FetchTimeout    time.Duration `json:"fetch_timeout" mapstructure:"fetch_timeout"`
	SeenCapacity    int           `json:"seen_capacity" mapstructure:"seen_capacity"`
	SeenWindow      time.Duration `json:"seen_window" mapstructure:"seen_window"`
}

// BadgeConfig selects the badge surfaces of the agent
type BadgeConfig struct {
	// Log renders the badge into the log
	Log bool `json:"log" mapstructure:"log"`
	// Sync mirrors the badge onto the user's other devices through the backend
	Sync bool `json:"sync" mapstructure:"sync"`
}

// MetricsConfig toggles the /metrics endpoint
type MetricsConfig struct {
	Enabled bool `json:"enabled" mapstructure:"enabled"`
}

// BackendConfig points the agent at the backend API
type BackendConfig struct {
	URL     string        `json:"url" mapstructure:"url"`
	APIKey  string        `json:"-" mapstructure:"api_key"`
	Timeout time.Duration `json:"timeout" mapstructure:"timeout"`
}

// IdentityConfig is the signed-in user of the agent
type IdentityConfig struct {
	UserID  string `json:"user_id" mapstructure:"user_id"`
	Role    string `json:"role" mapstructure:"role"`
	SalonID string `json:"salon_id" mapstructure:"salon_id"`
	StaffID string `json:"staff_id" mapstructure:"staff_id"`
}

// AgentConfig configures the agent's local API
type AgentConfig struct {
	Address string `json:"address" mapstructure:"address"`
}

// Config is the complete notify-engine configuration
type Config struct {
	Server     ServerConfig     `json:"server" mapstructure:"server"`
	Log        LogConfig        `json:"log" mapstructure:"log"`
	Database   DatabaseConfig   `json:"database" mapstructure:"database"`
	NATS       NATSConfig       `json:"nats" mapstructure:"nats"`
	Redis      RedisConfig      `json:"redis" mapstructure:"redis"`
	VAPID      VAPIDConfig      `json:"vapid" mapstructure:"vapid"`
	LocalState LocalStateConfig `json:"local_state" mapstructure:"local_state"`
	Feed       FeedConfig       `json:"feed" mapstructure:"feed"`
	Device     DeviceConfig     `json:"device" mapstructure:"device"`
	Session    SessionConfig    `json:"session" mapstructure:"session"`
	Badge      BadgeConfig      `json:"badge" mapstructure:"badge"`
	Metrics    MetricsConfig    `json:"metrics" mapstructure:"metrics"`
	Backend    BackendConfig    `json:"backend" mapstructure:"backend"`
	Identity   IdentityConfig   `json:"identity" mapstructure:"identity"`
	Agent      AgentConfig      `json:"agent" mapstructure:"agent"`
}

// SetDefaults registers a default for every key. Environment overrides only apply to
// keys viper knows about, so every key needs one.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("server.address", ":8080")
	v.SetDefault("server.api_key", "")
	v.SetDefault("server.store_appointments", true)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")

	v.SetDefault("database.url", "")
	v.SetDefault("database.max_conns", 10)
	v.SetDefault("database.min_conns", 0)
	v.SetDefault("database.max_conn_idle_time", 5*time.Minute)
	v.SetDefault("database.max_conn_lifetime", time.Hour)

	v.SetDefault("nats.url", "nats://127.0.0.1:4222")
	v.SetDefault("nats.name", "notify-engine")
	v.SetDefault("nats.subject_prefix", "notify")
	v.SetDefault("nats.reconnect_wait", 2*time.Second)
	v.SetDefault("nats.max_reconnects", -1)

	v.SetDefault("redis.addr", "127.0.0.1:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)

	v.SetDefault("vapid.public_key", "")
	v.SetDefault("vapid.private_key", "")
	v.SetDefault("vapid.subject", "mailto:notifications@example.com")
	v.SetDefault("vapid.ttl", 24*time.Hour)
	v.SetDefault("vapid.urgency", "")

	v.SetDefault("local_state.type", "file")
	v.SetDefault("local_state.file_path", "./data/badge_state.json")
	v.SetDefault("local_state.key_prefix", "notify:badge:")
	v.SetDefault("local_state.ttl", time.Duration(0))
	v.SetDefault("local_state.timeout", 2*time.Second)

	v.SetDefault("feed.type", "nats")
	v.SetDefault("feed.insert_channel", "appointment_inserts")
	v.SetDefault("feed.broadcast_channel", "user_notifications")
	v.SetDefault("feed.reconnect_interval", 2*time.Second)

	v.SetDefault("device.user_agent", "notify-engine-agent")
	v.SetDefault("device.standalone", true)
	v.SetDefault("device.has_service_worker", true)
	v.SetDefault("device.has_push_manager", true)
	v.SetDefault("device.has_notification_api", true)
	v.SetDefault("device.has_badge_api", true)
	v.SetDefault("device.permission", "prompt")
	v.SetDefault("device.endpoint_url", "")
	v.SetDefault("device.sound", true)

	v.SetDefault("session.refresh_schedule", "@every 1m")
	v.SetDefault("session.recent_limit", 10)
	v.SetDefault("session.fetch_timeout", 10*time.Second)
	v.SetDefault("session.seen_capacity", 1024)
	v.SetDefault("session.seen_window", 10*time.Minute)

	v.SetDefault("badge.log", true)
	v.SetDefault("badge.sync", false)

	v.SetDefault("metrics.enabled", true)

	v.SetDefault("backend.url", "http://127.0.0.1:8080")
	v.SetDefault("backend.api_key", "")
	v.SetDefault("backend.timeout", 30*time.Second)

	v.SetDefault("identity.user_id", "")
	v.SetDefault("identity.role", "")
	v.SetDefault("identity.salon_id", "")
	v.SetDefault("identity.staff_id", "")

	v.SetDefault("agent.address", "127.0.0.1:8090")
}

// New returns a viper instance with defaults and NOTIFY_ environment overrides
func New() *viper.Viper {
	v := viper.New()
	SetDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

// Load reads the optional config file at path into v and decodes the result
func Load(v *viper.Viper, path string) (*Config, error) {
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// DefaultConfig returns the configuration with every default applied
func DefaultConfig() *Config {
	v := viper.New()
	SetDefaults(v)
	var cfg Config
	_ = v.Unmarshal(&cfg)
	return &cfg
}

// Validate checks settings shared by every command
func (c *Config) Validate() error {
	switch c.Feed.Type {
	case "nats", "postgres", "memory":
	default:
		return fmt.Errorf("unknown feed type %q", c.Feed.Type)
	}
	switch c.LocalState.Type {
	case "memory", "file", "redis":
	default:
		return fmt.Errorf("unknown local state type %q", c.LocalState.Type)
	}
	switch c.Log.Format {
	case "text", "json":
	default:
		return fmt.Errorf("unknown log format %q", c.Log.Format)
	}
	if c.Session.RecentLimit < 0 {
		return errors.New("session.recent_limit cannot be negative")
	}
	return nil
}

// ValidateAgent checks the settings the device agent needs
func (c *Config) ValidateAgent() error {
	if c.Identity.UserID == "" {
		return errors.New("identity.user_id is required")
	}
	switch c.Identity.Role {
	case "owner":
		if c.Identity.SalonID == "" {
			return errors.New("identity.salon_id is required for owners")
		}
	case "staff":
		if c.Identity.StaffID == "" {
			return errors.New("identity.staff_id is required for staff")
		}
	default:
		return fmt.Errorf("identity.role must be owner or staff, got %q", c.Identity.Role)
	}
	if c.Backend.URL == "" {
		return errors.New("backend.url is required")
	}
	return nil
}

// ValidateServe checks the settings the backend API needs
func (c *Config) ValidateServe() error {
	if c.Feed.Type == "postgres" && c.Database.URL == "" {
		return errors.New("database.url is required for the postgres feed")
	}
	if (c.VAPID.PublicKey == "") != (c.VAPID.PrivateKey == "") {
		return errors.New("vapid.public_key and vapid.private_key must be set together")
	}
	return nil
}

// PushEnabled reports whether a VAPID key pair is configured
func (c *Config) PushEnabled() bool {
	return c.VAPID.PublicKey != "" && c.VAPID.PrivateKey != ""
}

// StorageConfig maps the local state settings onto pkg/storage
func (c *Config) StorageConfig() *storage.StorageConfig {
	return &storage.StorageConfig{
		Type:          c.LocalState.Type,
		FilePath:      c.LocalState.FilePath,
		RedisAddr:     c.Redis.Addr,
		RedisPassword: c.Redis.Password,
		RedisDB:       c.Redis.DB,
		KeyPrefix:     c.LocalState.KeyPrefix,
		TTL:           c.LocalState.TTL,
		Timeout:       c.LocalState.Timeout,
	}
}
