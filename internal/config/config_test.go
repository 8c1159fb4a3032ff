package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfig_MissingFileUsesDefaults(t *testing.T) {
	t.Setenv("ACPBRIDGE_RELAY_TOKEN", "")
	t.Setenv("ACPBRIDGE_AGENT_COMMAND", "")

	cfg, err := LoadConfig(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)

	assert.NotEmpty(t, cfg.Agent.Command)
	assert.Equal(t, 500*time.Millisecond, cfg.Agent.StartupGrace())
	assert.Equal(t, "auto", cfg.Paths.Mode)
	assert.Equal(t, 30*time.Second, cfg.Hooks.Timeout())
	require.NotNil(t, cfg.Hooks.FeedbackBudget)
	assert.Equal(t, 1, *cfg.Hooks.FeedbackBudget)
	assert.Equal(t, 1<<20, cfg.Terminal.OutputLimit)
	assert.Equal(t, 50000, cfg.Storage.OutboundQueueMax)
	assert.Equal(t, []time.Duration{250 * time.Millisecond, 500 * time.Millisecond, time.Second, 2 * time.Second, 5 * time.Second}, cfg.Relay.Backoff())
}

func TestLoadConfig_File(t *testing.T) {
	t.Setenv("ACPBRIDGE_RELAY_TOKEN", "")
	t.Setenv("ACPBRIDGE_AGENT_COMMAND", "")

	path := filepath.Join(t.TempDir(), "acpbridge.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
agent:
  command: my-agent
  args: [--acp]
  env:
    AGENT_MODE: quiet
paths:
  mode: wsl
  mount_prefix: /media
hooks:
  files: [ci-hooks.json]
  timeout_ms: 5000
  feedback_budget: 0
  watch: true
relay:
  ws_url: ws://localhost:9000/relay
  token: secret
log:
  level: debug
  format: json
`), 0o644))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "my-agent", cfg.Agent.Command)
	assert.Equal(t, []string{"--acp"}, cfg.Agent.Args)
	assert.Equal(t, map[string]string{"AGENT_MODE": "quiet"}, cfg.Agent.Env)
	assert.Equal(t, "wsl", cfg.Paths.Mode)
	assert.Equal(t, "/media", cfg.Paths.MountPrefix)
	assert.Equal(t, []string{"ci-hooks.json"}, cfg.Hooks.Files)
	assert.Equal(t, 5*time.Second, cfg.Hooks.Timeout())
	require.NotNil(t, cfg.Hooks.FeedbackBudget)
	assert.Equal(t, 0, *cfg.Hooks.FeedbackBudget)
	assert.True(t, cfg.Hooks.Watch)
	assert.Equal(t, "secret", cfg.Relay.Token)
	assert.Equal(t, "json", cfg.Log.Format)
}

func TestLoadConfig_EnvOverrides(t *testing.T) {
	t.Setenv("ACPBRIDGE_RELAY_TOKEN", "from-env")
	t.Setenv("ACPBRIDGE_AGENT_COMMAND", "other-agent")

	path := filepath.Join(t.TempDir(), "acpbridge.yaml")
	require.NoError(t, os.WriteFile(path, []byte("relay:\n  ws_url: ws://x\n  token: file\n"), 0o644))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "from-env", cfg.Relay.Token)
	assert.Equal(t, "other-agent", cfg.Agent.Command)
	assert.Empty(t, cfg.Agent.Args)
}

func TestLoadConfig_Invalid(t *testing.T) {
	t.Setenv("ACPBRIDGE_RELAY_TOKEN", "")
	t.Setenv("ACPBRIDGE_AGENT_COMMAND", "")

	cases := map[string]string{
		"bad yaml":        "agent: [",
		"bad path mode":   "paths:\n  mode: cygwin\n",
		"negative budget": "hooks:\n  feedback_budget: -1\n",
		"relay no token":  "relay:\n  ws_url: ws://x\n",
		"bad log format":  "log:\n  format: xml\n",
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "acpbridge.yaml")
			require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
			_, err := LoadConfig(path)
			assert.Error(t, err)
		})
	}
}
