package cmd

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func execute(t *testing.T, ctx context.Context, args ...string) (string, error) {
	t.Helper()
	root := NewRootCommand()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(append(args, "--env-file="+filepath.Join(t.TempDir(), "missing.env")))
	err := root.ExecuteContext(ctx)
	return out.String(), err
}

func TestRootCommand_Subcommands(t *testing.T) {
	root := NewRootCommand()
	var names []string
	for _, c := range root.Commands() {
		names = append(names, c.Name())
	}
	assert.Subset(t, names, []string{"serve", "agent", "migrate", "vapid"})

	for _, name := range []string{"config", "env-file", "log-level", "log-format"} {
		assert.NotNil(t, root.PersistentFlags().Lookup(name), name)
	}
}

func TestVAPIDGenerate(t *testing.T) {
	out, err := execute(t, context.Background(), "vapid", "generate")
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 2)
	assert.True(t, strings.HasPrefix(lines[0], "NOTIFY_VAPID_PUBLIC_KEY="))
	assert.True(t, strings.HasPrefix(lines[1], "NOTIFY_VAPID_PRIVATE_KEY="))

	out, err = execute(t, context.Background(), "vapid", "generate", "--format", "json")
	require.NoError(t, err)
	var keys vapidKeys
	require.NoError(t, json.Unmarshal([]byte(out), &keys))
	assert.NotEmpty(t, keys.PublicKey)
	assert.NotEmpty(t, keys.PrivateKey)
	assert.NotEqual(t, keys.PublicKey, keys.PrivateKey)

	_, err = execute(t, context.Background(), "vapid", "generate", "--format", "xml")
	assert.ErrorContains(t, err, `unknown format "xml"`)
}

func TestAgentCommand_RequiresIdentity(t *testing.T) {
	t.Setenv("NOTIFY_IDENTITY_USER_ID", "")

	_, err := execute(t, context.Background(), "agent")
	assert.ErrorContains(t, err, "identity.user_id is required")

	_, err = execute(t, context.Background(), "agent", "--user-id", "staff-1", "--role", "staff")
	assert.ErrorContains(t, err, "identity.staff_id is required")
}

func TestServeCommand_FlagOverridesDefault(t *testing.T) {
	_, err := execute(t, context.Background(), "serve", "--feed", "kafka")
	assert.ErrorContains(t, err, `unknown feed type "kafka"`)
}

func TestMigrateCommand_RequiresDatabase(t *testing.T) {
	t.Setenv("NOTIFY_DATABASE_URL", "")

	for _, sub := range []string{"up", "status", "down"} {
		_, err := execute(t, context.Background(), "migrate", sub)
		assert.ErrorContains(t, err, "database url is required", sub)
	}
}

func TestServeCommand_RunsUntilCancelled(t *testing.T) {
	path := filepath.Join(t.TempDir(), "notify.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
server:
  address: 127.0.0.1:0
feed:
  type: memory
metrics:
  enabled: false
`), 0o600))
	t.Setenv("NOTIFY_DATABASE_URL", "")
	t.Setenv("NOTIFY_VAPID_PUBLIC_KEY", "")
	t.Setenv("NOTIFY_VAPID_PRIVATE_KEY", "")

	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()

	_, err := execute(t, ctx, "serve", "--config", path)
	assert.NoError(t, err)
}
