package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoadConfig(t *testing.T) {
	t.Setenv("MONGODB_URI", "mongodb://localhost:27017/testdb")
	t.Setenv("MONGODB_DATABASE", "signdesk_test")
	t.Setenv("REDIS_HOST", "localhost")
	t.Setenv("REDIS_PORT", "6379")
	t.Setenv("AGENT_MODE", "simulated")
	t.Setenv("AGENT_INTERACTION_TIMEOUT_SECONDS", "90")

	cfg, err := LoadConfig()
	require.NoError(t, err)
	require.Equal(t, "mongodb://localhost:27017/testdb", cfg.MongoDB.URI)
	require.Equal(t, "signdesk_test", cfg.MongoDB.Database)
	require.Equal(t, "localhost:6379", cfg.RedisAddr())
	require.Equal(t, "simulated", cfg.Agent.Mode)
	require.Equal(t, 90*time.Second, cfg.Agent.InteractionTimeout)
}

func TestLoadConfigDefaults(t *testing.T) {
	t.Setenv("MONGODB_URI", "")
	t.Setenv("REDIS_HOST", "")
	t.Setenv("AGENT_MODE", "")
	t.Setenv("AGENT_URL", "")

	cfg, err := LoadConfig()
	require.NoError(t, err)
	require.Equal(t, "websocket", cfg.Agent.Mode)
	require.Equal(t, "ws://127.0.0.1:9774", cfg.Agent.URL)
	require.Equal(t, 30*time.Second, cfg.Agent.StepTimeout)
	require.Equal(t, "", cfg.RedisAddr())
	require.Equal(t, int64(25<<20), cfg.Storage.MaxUploadSize)
}

func TestLoadConfigRejectsUnknownAgentMode(t *testing.T) {
	t.Setenv("AGENT_MODE", "carrier-pigeon")
	_, err := LoadConfig()
	require.Error(t, err)
}

func TestLoadConfigRejectsShortLockTTL(t *testing.T) {
	t.Setenv("AGENT_MODE", "simulated")
	t.Setenv("AGENT_STEP_TIMEOUT_SECONDS", "30")
	t.Setenv("AGENT_INTERACTION_TIMEOUT_SECONDS", "300")

	t.Setenv("SIGNING_LOCK_TTL_SECONDS", "389")
	_, err := LoadConfig()
	require.ErrorContains(t, err, "SIGNING_LOCK_TTL_SECONDS")

	t.Setenv("SIGNING_LOCK_TTL_SECONDS", "0")
	_, err = LoadConfig()
	require.Error(t, err)

	t.Setenv("SIGNING_LOCK_TTL_SECONDS", "390")
	cfg, err := LoadConfig()
	require.NoError(t, err)
	require.Equal(t, 390*time.Second, cfg.Signing.LockTTL)
}
