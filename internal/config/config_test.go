package config

import (
	"os"
	"path/filepath"
	"testing"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{
		"GEMINI_API_KEY", "OPENAI_API_KEY", "ANTHROPIC_API_KEY",
		"RELAYBOT_WEBHOOK_SECRET", "RELAYBOT_ALLOWED_USERS",
		"GOOGLE_API_KEY", "GOOGLE_SEARCH_ENGINE_ID",
	} {
		t.Setenv(key, "")
	}
}

func writeFile(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadJSONAppliesDefaults(t *testing.T) {
	clearEnv(t)
	path := writeFile(t, "config.json", `{
		"auth": {"allowed_users": ["42"]},
		"database": "sqlite3",
		"databases": {"sqlite3": {"dsn": "relay.db"}}
	}`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.BasicConfig.ServerAddress != ":8090" || cfg.BasicConfig.MaxWorkers != 32 {
		t.Fatalf("defaults not applied: %+v", cfg.BasicConfig)
	}
	if cfg.Session.IdleTimeout != 60 || cfg.Session.MaxHistory != 40 {
		t.Fatalf("session defaults not applied: %+v", cfg.Session)
	}
	if cfg.AI.Provider != "gemini" || cfg.AI.Providers["gemini"].Model != "gemini-2.0-flash" {
		t.Fatalf("ai defaults not applied: %+v", cfg.AI)
	}
	if !cfg.Auth.GroupCommandsBypass() {
		t.Fatalf("group commands should bypass the allow-list by default")
	}
	want := filepath.Join(filepath.Dir(path), "relay.db")
	if got := cfg.Databases["sqlite3"].DSN; got != want {
		t.Fatalf("sqlite dsn = %q, want %q", got, want)
	}
	if cfg.RedisEnabled() {
		t.Fatalf("redis should be off without a host")
	}
}

func TestLoadYAML(t *testing.T) {
	clearEnv(t)
	path := writeFile(t, "config.yaml", `
basic_config:
  server_address: ":9000"
auth:
  allowed_users: ["7", "8"]
  group_commands_open: false
ai:
  provider: openai
  providers:
    openai:
      model: gpt-4o-mini
redis:
  host: localhost
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.BasicConfig.ServerAddress != ":9000" || len(cfg.Auth.AllowedUsers) != 2 {
		t.Fatalf("yaml not decoded: %+v", cfg)
	}
	if cfg.Auth.GroupCommandsBypass() {
		t.Fatalf("explicit false should close group commands")
	}
	if cfg.AI.Providers["openai"].Model != "gpt-4o-mini" {
		t.Fatalf("provider not decoded: %+v", cfg.AI.Providers)
	}
	if !cfg.RedisEnabled() || cfg.Redis.Port != 6379 {
		t.Fatalf("redis defaults not applied: %+v", cfg.Redis)
	}
}

func TestLoadEnvOverrides(t *testing.T) {
	clearEnv(t)
	t.Setenv("GEMINI_API_KEY", "g-key")
	t.Setenv("RELAYBOT_WEBHOOK_SECRET", "hook")
	t.Setenv("RELAYBOT_ALLOWED_USERS", " 1, 2 ,,3")
	t.Setenv("GOOGLE_API_KEY", "search-key")
	path := writeFile(t, "config.json", `{"auth": {"allowed_users": ["0"]}}`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.AI.Providers["gemini"].APIKey != "g-key" {
		t.Fatalf("api key not taken from env: %+v", cfg.AI.Providers["gemini"])
	}
	if cfg.AI.Providers["gemini"].Model != "gemini-2.0-flash" {
		t.Fatalf("env key must not drop the default model")
	}
	if cfg.BasicConfig.WebhookSecret != "hook" {
		t.Fatalf("webhook secret not taken from env")
	}
	if cfg.AI.Search.GoogleAPIKey != "search-key" || cfg.AI.Search.MaxResults != 3 {
		t.Fatalf("search config not applied: %+v", cfg.AI.Search)
	}
	if len(cfg.Auth.AllowedUsers) != 4 {
		t.Fatalf("expected config and env users merged, got %v", cfg.Auth.AllowedUsers)
	}
}

func TestLoadValidation(t *testing.T) {
	clearEnv(t)
	cases := map[string]string{
		"unknown provider":  `{"ai": {"provider": "mistral"}}`,
		"workers inverted":  `{"basic_config": {"min_workers": 8, "max_workers": 4}}`,
		"missing database":  `{"database": "mysql"}`,
		"malformed content": `{"basic_config": `,
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			if _, err := Load(writeFile(t, "config.json", body)); err == nil {
				t.Fatalf("expected error")
			}
		})
	}
	if _, err := Load(filepath.Join(t.TempDir(), "missing.json")); err == nil {
		t.Fatalf("expected error for missing file")
	}
}

func TestDefault(t *testing.T) {
	cfg := Default()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config should validate: %v", err)
	}
	if cfg.Logging.Level != "info" || cfg.Logging.Format != "json" {
		t.Fatalf("logging defaults not applied: %+v", cfg.Logging)
	}
}
