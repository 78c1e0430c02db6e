package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/titanous/json5"
)

// Default returns a Config with sensible defaults.
func Default() *Config {
	return &Config{
		Database: DatabaseConfig{
			Path:          "~/.cairn/cairn.db",
			BusyTimeoutMS: 5000,
		},
		Server: ServerConfig{
			Host: "127.0.0.1",
			Port: 8741,
		},
		Agents: AgentsConfig{
			DefaultProvider: "anthropic",
			DefaultModel:    "claude-sonnet-4-5-20250929",
			MaxTokens:       4096,
			Temperature:     0.7,
			MaxIterations:   40,
			MaxCallStack:    3,
			SettingsDir:     "~/.cairn",
		},
		Manager: ManagerConfig{
			LogDir:            "~/.cairn/run-logs",
			MonitorIntervalMS: 1000,
			JanitorSchedule:   "*/5 * * * *",
			DebugRingSize:     500,
		},
	}
}

// Load reads config from a JSON5 file, then overlays env vars.
// A missing file is not an error; defaults plus env apply.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			cfg.applyEnvOverrides()
			return cfg, nil
		}
		return nil, fmt.Errorf("read config: %w", err)
	}

	if err := json5.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	cfg.applyEnvOverrides()
	return cfg, nil
}

// applyEnvOverrides overlays env vars onto the config.
// Env vars take precedence over file values.
func (c *Config) applyEnvOverrides() {
	envStr := func(key string, dst *string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}
	envStr("CAIRN_DB_PATH", &c.Database.Path)
	envStr("CAIRN_ANTHROPIC_API_KEY", &c.Providers.Anthropic.APIKey)
	envStr("CAIRN_OPENAI_API_KEY", &c.Providers.OpenAI.APIKey)
	envStr("CAIRN_GITHUB_TOKEN", &c.GitHost.Token)
	envStr("CAIRN_GITHOST_BASE_URL", &c.GitHost.BaseURL)
	envStr("CAIRN_PROVIDER", &c.Agents.DefaultProvider)
	envStr("CAIRN_MODEL", &c.Agents.DefaultModel)
	envStr("CAIRN_LOG_DIR", &c.Manager.LogDir)
	envStr("CAIRN_SETTINGS_DIR", &c.Agents.SettingsDir)

	envStr("CAIRN_HOST", &c.Server.Host)
	if v := os.Getenv("CAIRN_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil && port > 0 {
			c.Server.Port = port
		}
	}

	// Connected repos from env (comma-separated owner/repo pairs).
	if v := os.Getenv("CAIRN_CONNECTED_REPOS"); v != "" {
		var repos []string
		for _, r := range strings.Split(v, ",") {
			if r = strings.TrimSpace(r); r != "" {
				repos = append(repos, r)
			}
		}
		c.GitHost.Repos = repos
	}

	envStr("CAIRN_TELEMETRY_ENDPOINT", &c.Telemetry.Endpoint)
	envStr("CAIRN_TELEMETRY_SERVICE_NAME", &c.Telemetry.ServiceName)
	if v := os.Getenv("CAIRN_TELEMETRY_ENABLED"); v != "" {
		c.Telemetry.Enabled = v == "true" || v == "1"
	}
	if v := os.Getenv("CAIRN_TELEMETRY_INSECURE"); v != "" {
		c.Telemetry.Insecure = v == "true" || v == "1"
	}
}

const secretMask = "***"

// MaskedCopy returns a deep copy of the config with secret fields masked.
// Used by the doctor command so output is safe to paste into bug reports.
func (c *Config) MaskedCopy() *Config {
	c.mu.RLock()
	defer c.mu.RUnlock()

	data, err := json.Marshal(c)
	if err != nil {
		return &Config{}
	}
	cp := Default()
	if err := json.Unmarshal(data, cp); err != nil {
		return &Config{}
	}

	maskNonEmpty(&cp.Providers.Anthropic.APIKey)
	maskNonEmpty(&cp.Providers.OpenAI.APIKey)
	maskNonEmpty(&cp.GitHost.Token)

	return cp
}

func maskNonEmpty(s *string) {
	if *s != "" {
		*s = secretMask
	}
}

// DBPath returns the expanded database path.
func (c *Config) DBPath() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return ExpandHome(c.Database.Path)
}

// ExpandHome replaces leading ~ with the user home directory.
func ExpandHome(path string) string {
	if path == "" || path[0] != '~' {
		return path
	}
	home, _ := os.UserHomeDir()
	if len(path) > 1 && path[1] == '/' {
		return home + path[1:]
	}
	return home
}
