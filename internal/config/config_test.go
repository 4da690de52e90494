package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.HTTPPort)
	assert.Equal(t, 8081, cfg.InternalPort)
	assert.Equal(t, 60*time.Second, cfg.VerificationWindow)
	assert.Equal(t, 15*time.Second, cfg.HeartbeatInterval)
	assert.Equal(t, 5, cfg.MaxRunningAgents)
	assert.Equal(t, "admin", cfg.DefaultOperatorRole)
	assert.NotContains(t, cfg.DatabaseURL, "cache=shared")
	assert.Contains(t, cfg.DatabaseURL, "_busy_timeout=")
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("CONTROLPLANE_HTTP_PORT", "9000")
	t.Setenv("CONTROLPLANE_VERIFICATION_WINDOW", "90s")
	t.Setenv("CONTROLPLANE_HISTORY_RETENTION", "1000")
	t.Setenv("CONTROLPLANE_AGENTS_FILE", "/etc/controlplane/agents.yaml")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 9000, cfg.HTTPPort)
	assert.Equal(t, 90*time.Second, cfg.VerificationWindow)
	assert.Equal(t, 1000, cfg.HistoryRetention)
	assert.Equal(t, "/etc/controlplane/agents.yaml", cfg.AgentsFile)
}

func TestLoadRejectsInvalid(t *testing.T) {
	t.Setenv("CONTROLPLANE_INTERNAL_PORT", "8080")
	_, err := Load()
	assert.Error(t, err)

	t.Setenv("CONTROLPLANE_INTERNAL_PORT", "8081")
	t.Setenv("CONTROLPLANE_VERIFICATION_WINDOW", "0s")
	_, err = Load()
	assert.Error(t, err)

	t.Setenv("CONTROLPLANE_VERIFICATION_WINDOW", "soon")
	_, err = Load()
	assert.Error(t, err)
}

func TestDefaultIsValid(t *testing.T) {
	assert.NoError(t, Default().Validate())
}
