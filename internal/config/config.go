package config

import "sync"

// Config is the root configuration for the cairn orchestrator and its
// worker processes. Loaded from a JSON5 file with env-var overlays.
type Config struct {
	mu sync.RWMutex `json:"-"`

	Database  DatabaseConfig  `json:"database"`
	Server    ServerConfig    `json:"server"`
	Providers ProvidersConfig `json:"providers"`
	GitHost   GitHostConfig   `json:"githost"`
	Agents    AgentsConfig    `json:"agents"`
	Manager   ManagerConfig   `json:"manager"`
	Telemetry TelemetryConfig `json:"telemetry"`
}

// DatabaseConfig locates the shared SQLite database used by the manager,
// the HTTP surface, and every worker child.
type DatabaseConfig struct {
	Path          string `json:"path"`
	BusyTimeoutMS int    `json:"busy_timeout_ms"`
}

type ServerConfig struct {
	Host string `json:"host"`
	Port int    `json:"port"`
}

type ProvidersConfig struct {
	Anthropic ProviderConfig `json:"anthropic"`
	OpenAI    ProviderConfig `json:"openai"`
}

type ProviderConfig struct {
	APIKey  string `json:"api_key,omitempty"`
	BaseURL string `json:"base_url,omitempty"`
}

// GitHostConfig carries repo-host credentials and the set of repositories
// tasks may operate on.
type GitHostConfig struct {
	Token   string   `json:"token,omitempty"`
	BaseURL string   `json:"base_url,omitempty"`
	Repos   []string `json:"repos"` // "owner/repo" pairs
}

type AgentsConfig struct {
	DefaultProvider string  `json:"default_provider"`
	DefaultModel    string  `json:"default_model"`
	MaxTokens       int     `json:"max_tokens"`
	Temperature     float64 `json:"temperature"`
	MaxIterations   int     `json:"max_iterations"`
	MaxCallStack    int     `json:"max_call_stack"`
	SettingsDir     string  `json:"settings_dir"` // the .cairn directory
}

type ManagerConfig struct {
	LogDir            string `json:"log_dir"`
	MonitorIntervalMS int    `json:"monitor_interval_ms"`
	JanitorSchedule   string `json:"janitor_schedule"` // cron expression
	DebugRingSize     int    `json:"debug_ring_size"`
}

type TelemetryConfig struct {
	Enabled     bool   `json:"enabled"`
	Endpoint    string `json:"endpoint,omitempty"`
	ServiceName string `json:"service_name,omitempty"`
	Insecure    bool   `json:"insecure,omitempty"`
}

// ConnectedRepos splits the configured "owner/repo" pairs. Malformed
// entries are skipped.
func (c *Config) ConnectedRepos() [][2]string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	var out [][2]string
	for _, r := range c.GitHost.Repos {
		owner, repo, ok := splitRepo(r)
		if !ok {
			continue
		}
		out = append(out, [2]string{owner, repo})
	}
	return out
}

// RepoNames returns just the repo halves of the connected pairs, in order.
func (c *Config) RepoNames() []string {
	var names []string
	for _, p := range c.ConnectedRepos() {
		names = append(names, p[1])
	}
	return names
}

func splitRepo(s string) (owner, repo string, ok bool) {
	for i := 0; i < len(s); i++ {
		if s[i] == '/' {
			if i == 0 || i == len(s)-1 {
				return "", "", false
			}
			return s[:i], s[i+1:], true
		}
	}
	return "", "", false
}
