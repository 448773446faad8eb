package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.Equal(t, ":8080", cfg.Server.Address)
	assert.Equal(t, "nats", cfg.Feed.Type)
	assert.Equal(t, "file", cfg.LocalState.Type)
	assert.Equal(t, "@every 1m", cfg.Session.RefreshSchedule)
	assert.Equal(t, 10, cfg.Session.RecentLimit)
	assert.Equal(t, 10*time.Minute, cfg.Session.SeenWindow)
	assert.Equal(t, 24*time.Hour, cfg.VAPID.TTL)
	assert.Equal(t, int32(10), cfg.Database.MaxConns)
	assert.Equal(t, -1, cfg.NATS.MaxReconnects)
	assert.True(t, cfg.Device.HasPushManager)
	assert.NoError(t, cfg.Validate())
	assert.False(t, cfg.PushEnabled())
}

func TestLoad_EnvironmentOverrides(t *testing.T) {
	t.Setenv("NOTIFY_FEED_TYPE", "postgres")
	t.Setenv("NOTIFY_DATABASE_URL", "postgres://localhost/notify")
	t.Setenv("NOTIFY_SESSION_RECENT_LIMIT", "3")
	t.Setenv("NOTIFY_SESSION_FETCH_TIMEOUT", "250ms")
	t.Setenv("NOTIFY_DEVICE_HAS_BADGE_API", "false")
	t.Setenv("NOTIFY_IDENTITY_SALON_ID", "salon-1")

	cfg, err := Load(New(), "")
	require.NoError(t, err)

	assert.Equal(t, "postgres", cfg.Feed.Type)
	assert.Equal(t, "postgres://localhost/notify", cfg.Database.URL)
	assert.Equal(t, 3, cfg.Session.RecentLimit)
	assert.Equal(t, 250*time.Millisecond, cfg.Session.FetchTimeout)
	assert.False(t, cfg.Device.HasBadgeAPI)
	assert.Equal(t, "salon-1", cfg.Identity.SalonID)
}

func TestLoad_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "notify.yaml")
	content := `
server:
  address: ":9999"
feed:
  type: memory
identity:
  user_id: owner-1
  role: owner
  salon_id: salon-1
vapid:
  public_key: BPublic
  private_key: private
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	cfg, err := Load(New(), path)
	require.NoError(t, err)

	assert.Equal(t, ":9999", cfg.Server.Address)
	assert.Equal(t, "memory", cfg.Feed.Type)
	assert.Equal(t, "nats://127.0.0.1:4222", cfg.NATS.URL, "unset keys keep their default")
	assert.NoError(t, cfg.ValidateAgent())
	assert.NoError(t, cfg.ValidateServe())
	assert.True(t, cfg.PushEnabled())
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(New(), filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"unknown feed", func(c *Config) { c.Feed.Type = "kafka" }},
		{"unknown local state", func(c *Config) { c.LocalState.Type = "sqlite" }},
		{"unknown log format", func(c *Config) { c.Log.Format = "xml" }},
		{"negative recent limit", func(c *Config) { c.Session.RecentLimit = -1 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestValidateAgent(t *testing.T) {
	tests := []struct {
		name     string
		identity IdentityConfig
		wantErr  bool
	}{
		{"owner", IdentityConfig{UserID: "owner-1", Role: "owner", SalonID: "salon-1"}, false},
		{"staff", IdentityConfig{UserID: "staff-a", Role: "staff", SalonID: "salon-1", StaffID: "staff-a"}, false},
		{"missing user", IdentityConfig{Role: "owner", SalonID: "salon-1"}, true},
		{"owner without salon", IdentityConfig{UserID: "owner-1", Role: "owner"}, true},
		{"staff without staff id", IdentityConfig{UserID: "staff-a", Role: "staff", SalonID: "salon-1"}, true},
		{"unknown role", IdentityConfig{UserID: "u", Role: "guest", SalonID: "salon-1"}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			cfg.Identity = tt.identity
			if tt.wantErr {
				assert.Error(t, cfg.ValidateAgent())
			} else {
				assert.NoError(t, cfg.ValidateAgent())
			}
		})
	}
}

func TestValidateServe(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Feed.Type = "postgres"
	assert.Error(t, cfg.ValidateServe(), "postgres feed needs a database")

	cfg = DefaultConfig()
	cfg.VAPID.PublicKey = "BPublic"
	assert.Error(t, cfg.ValidateServe(), "half a key pair")
}

func TestStorageConfig(t *testing.T) {
	cfg := DefaultConfig()
	cfg.LocalState.Type = "redis"
	cfg.Redis.Addr = "redis:6379"
	cfg.Redis.DB = 2

	sc := cfg.StorageConfig()
	assert.Equal(t, "redis", sc.Type)
	assert.Equal(t, "redis:6379", sc.RedisAddr)
	assert.Equal(t, 2, sc.RedisDB)
	assert.Equal(t, "notify:badge:", sc.KeyPrefix)
}

func TestLoadDotEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ".env")
	require.NoError(t, os.WriteFile(path, []byte("NOTIFY_TEST_DOTENV_A=from-file\nNOTIFY_TEST_DOTENV_B=from-file\n"), 0o600))
	t.Setenv("NOTIFY_TEST_DOTENV_B", "from-env")
	t.Cleanup(func() { _ = os.Unsetenv("NOTIFY_TEST_DOTENV_A") })

	loaded, err := LoadDotEnv(filepath.Join(dir, "missing.env"), path, "")
	require.NoError(t, err)
	assert.Equal(t, []string{path}, loaded)
	assert.Equal(t, "from-file", os.Getenv("NOTIFY_TEST_DOTENV_A"))
	assert.Equal(t, "from-env", os.Getenv("NOTIFY_TEST_DOTENV_B"), "existing variables win")
}
