package di

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/treservi/notify-engine/internal/domain/entities"
	"github.com/treservi/notify-engine/pkg/client"
	"github.com/treservi/notify-engine/pkg/config"
	"github.com/treservi/notify-engine/pkg/utils"
)

func memoryConfig() *config.Config {
	cfg := config.DefaultConfig()
	cfg.Feed.Type = "memory"
	cfg.LocalState.Type = "memory"
	cfg.Device.Sound = false
	cfg.Session.RefreshSchedule = "@every 1h"
	return cfg
}

func TestNewBackendContainer(t *testing.T) {
	c, err := NewBackendContainer(context.Background(), memoryConfig(), nil)
	require.NoError(t, err)
	defer c.Close()

	assert.NotNil(t, c.SubscriptionRepo)
	assert.NotNil(t, c.UnreadRepo)
	assert.NotNil(t, c.Publisher)
	assert.Nil(t, c.PushSender, "no VAPID keys, no push")
	assert.NotNil(t, c.Dispatcher)
	assert.NotNil(t, c.HTTPServer)
	assert.NotNil(t, c.Registry)

	rec := httptest.NewRecorder()
	c.HTTPServer.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestNewBackendContainer_RejectsHalfKeyPair(t *testing.T) {
	cfg := memoryConfig()
	cfg.VAPID.PublicKey = "BPublic"
	_, err := NewBackendContainer(context.Background(), cfg, nil)
	assert.Error(t, err)
}

func TestNewAgentContainer_RequiresIdentity(t *testing.T) {
	_, err := NewAgentContainer(context.Background(), memoryConfig(), nil)
	assert.Error(t, err)
}

func TestNewAgentContainer_CorruptLocalStateRunsInMemory(t *testing.T) {
	path := filepath.Join(t.TempDir(), "badge_state.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o600))

	cfg := memoryConfig()
	cfg.LocalState.Type = "file"
	cfg.LocalState.FilePath = path
	cfg.VAPID.PublicKey = "BPublic"
	cfg.Identity = config.IdentityConfig{UserID: "owner-1", Role: "owner", SalonID: "salon-1"}

	c, err := NewAgentContainer(context.Background(), cfg, nil)
	require.NoError(t, err)
	defer c.Close()

	assert.Nil(t, c.Storage)
	assert.True(t, c.Store.Degraded())
	assert.ErrorIs(t, c.Store.LastError(), entities.ErrStorage)

	c.Store.Set("owner-1", entities.LocalBadgeState{Count: 2})
	assert.Equal(t, 2, c.Store.Get("owner-1").Count)

	snap := c.Session.Snapshot()
	assert.True(t, snap.StorageDegraded)
	assert.Equal(t, entities.FailureStorage, snap.ErrorKind)
}

func TestAgentAgainstBackend(t *testing.T) {
	ctx := context.Background()

	backendCfg := memoryConfig()
	backendCfg.Server.APIKey = "secret"
	backendCfg.Metrics.Enabled = false
	backend, err := NewBackendContainer(ctx, backendCfg, nil)
	require.NoError(t, err)
	defer backend.Close()
	server := httptest.NewServer(backend.HTTPServer.Handler())
	defer server.Close()

	agentCfg := memoryConfig()
	agentCfg.Backend.URL = server.URL
	agentCfg.Backend.APIKey = "secret"
	agentCfg.Identity = config.IdentityConfig{UserID: "owner-1", Role: "owner", SalonID: "salon-1"}
	agent, err := NewAgentContainer(ctx, agentCfg, nil)
	require.NoError(t, err)
	defer agent.Close()

	assert.Equal(t, entities.OwnerScope("salon-1"), agent.Identity.Scope)
	require.NoError(t, agent.Session.Start(ctx, agent.Identity))
	assert.Equal(t, 0, agent.Session.Count())

	api := client.NewClient(server.URL, client.WithAPIKey("secret"))
	_, err = api.PostAppointment(ctx, map[string]any{
		"id": "appt-1", "salon_id": "salon-1", "owner_user_id": "owner-1", "status": "Pending",
	})
	require.NoError(t, err)

	assert.Equal(t, 1, agent.Session.Refresh(ctx))

	rec := httptest.NewRecorder()
	agent.HTTPServer.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/status", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"count":1`)

	_, err = client.NewClient(server.URL).UnreadCount(ctx, client.UnreadQuery{Role: "owner", SalonID: "salon-1"})
	assert.Equal(t, http.StatusUnauthorized, utils.StatusCode(err))
}
