package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaultsWithoutFile(t *testing.T) {
	t.Setenv("CONFIG_PATH", filepath.Join(t.TempDir(), "nope.yaml"))

	c, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 8080, c.Server.Port)
	assert.Equal(t, "workspace", c.Workspace.Root)
	assert.Equal(t, "sqlite3", c.Schedules.Driver)
	assert.Equal(t, "UTC", c.Schedules.Timezone)
	assert.Equal(t, 30*time.Second, c.Permissions.ApprovalTimeout)
	assert.False(t, c.Permissions.FailClosed)
	assert.Equal(t, 10, c.Orchestrator.MaxToolRounds)
	assert.Equal(t, 60*time.Second, c.Orchestrator.MaxWallClock)
	assert.Equal(t, "http://localhost:8000", c.Model.ServiceURL)
	assert.Equal(t, 50, c.Background.HistorySize)
	assert.Equal(t, "helmsman:notify", c.Notifications.RedisChannel)
	assert.True(t, c.Workflows.Watch)
}

func TestLoadFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "helmsman.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
server:
  port: 9999
  webhook_secret: filesecret
permissions:
  approval_timeout: 5s
  fail_closed: true
orchestrator:
  max_tool_rounds: 3
`), 0o644))
	t.Setenv("CONFIG_PATH", path)

	c, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 9999, c.Server.Port)
	assert.Equal(t, "filesecret", c.Server.WebhookSecret)
	assert.Equal(t, 5*time.Second, c.Permissions.ApprovalTimeout)
	assert.True(t, c.Permissions.FailClosed)
	assert.Equal(t, 3, c.Orchestrator.MaxToolRounds)
	// Untouched sections keep their defaults.
	assert.Equal(t, "sqlite3", c.Schedules.Driver)
}

func TestLoadBrokenFileFails(t *testing.T) {
	path := filepath.Join(t.TempDir(), "helmsman.yaml")
	require.NoError(t, os.WriteFile(path, []byte("server: ["), 0o644))
	t.Setenv("CONFIG_PATH", path)

	_, err := Load()
	assert.Error(t, err)
}

func TestEnvOverridesBeatFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "helmsman.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
server:
  port: 9000
  webhook_secret: filesecret
`), 0o644))
	t.Setenv("CONFIG_PATH", path)
	t.Setenv("HELMSMAN_PORT", "9001")
	t.Setenv("WEBHOOK_SECRET", "envsecret")
	t.Setenv("WORKSPACE_ROOT", "/srv/work")
	t.Setenv("SCHEDULES_DSN", "host=db dbname=jobs")
	t.Setenv("SCHEDULES_DRIVER", "postgres")
	t.Setenv("REDIS_ADDR", "redis:6379")
	t.Setenv("MODEL_SERVICE_URL", "http://model:8000")

	c, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 9001, c.Server.Port)
	assert.Equal(t, "envsecret", c.Server.WebhookSecret)
	assert.Equal(t, "/srv/work", c.Workspace.Root)
	assert.Equal(t, "host=db dbname=jobs", c.Schedules.DSN)
	assert.Equal(t, "postgres", c.Schedules.Driver)
	assert.Equal(t, "redis:6379", c.Notifications.RedisAddr)
	assert.Equal(t, "http://model:8000", c.Model.ServiceURL)
}

func TestBadPortEnvIgnored(t *testing.T) {
	t.Setenv("CONFIG_PATH", filepath.Join(t.TempDir(), "nope.yaml"))
	t.Setenv("HELMSMAN_PORT", "not-a-port")

	c, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 8080, c.Server.Port)
}
