package config

import (
	"os"
	"path/filepath"
	"reflect"
	"testing"
)

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.json"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.Port != 8741 {
		t.Fatalf("port = %d, want default", cfg.Server.Port)
	}
	if cfg.Agents.MaxCallStack != 3 || cfg.Agents.MaxIterations != 40 {
		t.Fatalf("agent defaults = %+v", cfg.Agents)
	}
}

func TestLoadJSON5WithComments(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cairn.json")
	content := `{
		// local overrides
		server: { port: 9000 },
		githost: { repos: ["acme/api", "acme/web"] },
	}`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.Port != 9000 {
		t.Fatalf("port = %d", cfg.Server.Port)
	}
	if !reflect.DeepEqual(cfg.RepoNames(), []string{"api", "web"}) {
		t.Fatalf("repos = %v", cfg.RepoNames())
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("CAIRN_DB_PATH", "/tmp/override.db")
	t.Setenv("CAIRN_ANTHROPIC_API_KEY", "sk-test-123")
	t.Setenv("CAIRN_CONNECTED_REPOS", "acme/api, acme/web ,")
	t.Setenv("CAIRN_PORT", "1234")

	cfg, err := Load(filepath.Join(t.TempDir(), "nope.json"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Database.Path != "/tmp/override.db" {
		t.Fatalf("db path = %q", cfg.Database.Path)
	}
	if cfg.Providers.Anthropic.APIKey != "sk-test-123" {
		t.Fatalf("api key = %q", cfg.Providers.Anthropic.APIKey)
	}
	if cfg.Server.Port != 1234 {
		t.Fatalf("port = %d", cfg.Server.Port)
	}
	want := [][2]string{{"acme", "api"}, {"acme", "web"}}
	if !reflect.DeepEqual(cfg.ConnectedRepos(), want) {
		t.Fatalf("repos = %v", cfg.ConnectedRepos())
	}
}

func TestConnectedReposSkipsMalformed(t *testing.T) {
	cfg := Default()
	cfg.GitHost.Repos = []string{"acme/api", "noslash", "/leading", "trailing/"}
	got := cfg.ConnectedRepos()
	if len(got) != 1 || got[0] != [2]string{"acme", "api"} {
		t.Fatalf("repos = %v", got)
	}
}

func TestMaskedCopy(t *testing.T) {
	cfg := Default()
	cfg.Providers.Anthropic.APIKey = "sk-secret"
	cfg.GitHost.Token = "ghp_secret"

	masked := cfg.MaskedCopy()
	if masked.Providers.Anthropic.APIKey != "***" || masked.GitHost.Token != "***" {
		t.Fatalf("masked = %+v", masked)
	}
	// Empty secrets stay empty rather than masked.
	if masked.Providers.OpenAI.APIKey != "" {
		t.Fatalf("empty key masked: %q", masked.Providers.OpenAI.APIKey)
	}
	// The original is untouched.
	if cfg.Providers.Anthropic.APIKey != "sk-secret" {
		t.Fatal("original mutated")
	}
}

func TestExpandHome(t *testing.T) {
	home, _ := os.UserHomeDir()
	tests := []struct {
		in, want string
	}{
		{"~/x/y.db", home + "/x/y.db"},
		{"~", home},
		{"/abs/path", "/abs/path"},
		{"", ""},
	}
	for _, tt := range tests {
		if got := ExpandHome(tt.in); got != tt.want {
			t.Errorf("ExpandHome(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
