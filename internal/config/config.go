package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"runtime"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultPath is the config file looked up when none is given.
const DefaultPath = "acpbridge.yaml"

type Config struct {
	Agent    AgentConfig    `yaml:"agent"`
	Paths    PathsConfig    `yaml:"paths"`
	Hooks    HooksConfig    `yaml:"hooks"`
	Terminal TerminalConfig `yaml:"terminal"`
	Relay    RelayConfig    `yaml:"relay"`
	Storage  StorageConfig  `yaml:"storage"`
	Metrics  MetricsConfig  `yaml:"metrics"`
	Log      LogConfig      `yaml:"log"`
}

type AgentConfig struct {
	Command        string            `yaml:"command"`
	Args           []string          `yaml:"args"`
	Env            map[string]string `yaml:"env"`
	Cwd            string            `yaml:"cwd"`
	StartupGraceMs int               `yaml:"startup_grace_ms"`
	MaxLineBytes   int               `yaml:"max_line_bytes"`
	ClientName     string            `yaml:"client_name"`
}

type PathsConfig struct {
	// Mode is auto, wsl or none.
	Mode        string `yaml:"mode"`
	MountPrefix string `yaml:"mount_prefix"`
}

type HooksConfig struct {
	Files     []string `yaml:"files"`
	TimeoutMs int      `yaml:"timeout_ms"`
	// FeedbackBudget is the number of feedback resubmissions per prompt.
	// Zero disables resubmission; nil means the default.
	FeedbackBudget *int `yaml:"feedback_budget"`
	Watch          bool `yaml:"watch"`
	DebounceMs     int  `yaml:"debounce_ms"`
}

type TerminalConfig struct {
	Shell       string `yaml:"shell"`
	OutputLimit int    `yaml:"output_limit"`
	PTY         bool   `yaml:"pty"`
}

type RelayConfig struct {
	WSURL              string `yaml:"ws_url"`
	Token              string `yaml:"token"`
	HostID             string `yaml:"host_id"`
	ReconnectBackoffMs []int  `yaml:"reconnect_backoff_ms"`
}

type StorageConfig struct {
	StateDir         string `yaml:"state_dir"`
	OutboundQueueMax int    `yaml:"outbound_queue_max"`
}

type MetricsConfig struct {
	// Listen enables the /metrics endpoint when set.
	Listen string `yaml:"listen"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	File   string `yaml:"file"`
}

// Default returns the configuration used when no file exists.
func Default() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}

// LoadConfig reads path. A missing file yields the defaults; environment
// overrides apply either way.
func LoadConfig(path string) (*Config, error) {
	if path == "" {
		path = DefaultPath
	}
	var cfg Config
	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
	case err != nil:
		return nil, fmt.Errorf("failed to read config: %w", err)
	default:
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
		}
	}

	cfg.applyDefaults()

	// Optional environment overrides for secrets and the agent.
	if envToken := os.Getenv("ACPBRIDGE_RELAY_TOKEN"); envToken != "" {
		cfg.Relay.Token = envToken
	}
	if envCommand := os.Getenv("ACPBRIDGE_AGENT_COMMAND"); envCommand != "" {
		cfg.Agent.Command = envCommand
		cfg.Agent.Args = nil
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (cfg *Config) applyDefaults() {
	if cfg.Agent.Command == "" {
		if runtime.GOOS == "windows" {
			cfg.Agent.Command = "wsl"
			cfg.Agent.Args = []string{"kiro-cli", "acp"}
		} else {
			cfg.Agent.Command = "kiro-cli"
			cfg.Agent.Args = []string{"acp"}
		}
	}
	if cfg.Agent.StartupGraceMs == 0 {
		cfg.Agent.StartupGraceMs = 500
	}
	if cfg.Agent.MaxLineBytes == 0 {
		cfg.Agent.MaxLineBytes = 64 << 20
	}
	if cfg.Agent.ClientName == "" {
		cfg.Agent.ClientName = "acpbridge"
	}
	if cfg.Paths.Mode == "" {
		cfg.Paths.Mode = "auto"
	}
	if cfg.Paths.MountPrefix == "" {
		cfg.Paths.MountPrefix = "/mnt"
	}
	if cfg.Hooks.TimeoutMs == 0 {
		cfg.Hooks.TimeoutMs = 30000
	}
	if cfg.Hooks.FeedbackBudget == nil {
		budget := 1
		cfg.Hooks.FeedbackBudget = &budget
	}
	if cfg.Hooks.DebounceMs == 0 {
		cfg.Hooks.DebounceMs = 500
	}
	if cfg.Terminal.OutputLimit == 0 {
		cfg.Terminal.OutputLimit = 1 << 20
	}
	if len(cfg.Relay.ReconnectBackoffMs) == 0 {
		cfg.Relay.ReconnectBackoffMs = []int{250, 500, 1000, 2000, 5000}
	}
	if cfg.Storage.StateDir == "" {
		cfg.Storage.StateDir = defaultStateDir()
	}
	if cfg.Storage.OutboundQueueMax == 0 {
		cfg.Storage.OutboundQueueMax = 50000
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "text"
	}
}

func defaultStateDir() string {
	if dir, err := os.UserCacheDir(); err == nil {
		return dir + string(os.PathSeparator) + "acpbridge"
	}
	return ".acpbridge"
}

// Validate rejects values the bridge cannot run with.
func (cfg *Config) Validate() error {
	switch cfg.Paths.Mode {
	case "auto", "wsl", "none":
	default:
		return fmt.Errorf("paths.mode must be auto, wsl or none, got %q", cfg.Paths.Mode)
	}
	switch cfg.Log.Format {
	case "text", "json":
	default:
		return fmt.Errorf("log.format must be text or json, got %q", cfg.Log.Format)
	}
	if cfg.Hooks.FeedbackBudget != nil && *cfg.Hooks.FeedbackBudget < 0 {
		return fmt.Errorf("hooks.feedback_budget must not be negative")
	}
	if cfg.Relay.WSURL != "" && cfg.Relay.Token == "" {
		return fmt.Errorf("relay.token is required when relay.ws_url is set")
	}
	return nil
}

func (a AgentConfig) StartupGrace() time.Duration {
	return time.Duration(a.StartupGraceMs) * time.Millisecond
}

func (h HooksConfig) Timeout() time.Duration {
	return time.Duration(h.TimeoutMs) * time.Millisecond
}

func (h HooksConfig) Debounce() time.Duration {
	return time.Duration(h.DebounceMs) * time.Millisecond
}

func (r RelayConfig) Backoff() []time.Duration {
	out := make([]time.Duration, len(r.ReconnectBackoffMs))
	for i, ms := range r.ReconnectBackoffMs {
		out[i] = time.Duration(ms) * time.Millisecond
	}
	return out
}
