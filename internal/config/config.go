package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config represents runtime configuration for the bot.
type Config struct {
	BasicConfig BasicConfig               `json:"basic_config" yaml:"basic_config"`
	Auth        AuthConfig                `json:"auth" yaml:"auth"`
	Session     SessionConfig             `json:"session" yaml:"session"`
	AI          AIConfig                  `json:"ai" yaml:"ai"`
	Redis       RedisConfig               `json:"redis" yaml:"redis"`
	Database    string                    `json:"database" yaml:"database"`
	Databases   map[string]DatabaseConfig `json:"databases" yaml:"databases"`
	Logging     LoggingConfig             `json:"logging" yaml:"logging"`
}

type BasicConfig struct {
	ServerAddress     string `json:"server_address" yaml:"server_address"`
	WebhookSecret     string `json:"webhook_secret" yaml:"webhook_secret"`
	MinWorkers        int    `json:"min_workers" yaml:"min_workers"`
	MaxWorkers        int    `json:"max_workers" yaml:"max_workers"`
	QueueSize         int    `json:"queue_size" yaml:"queue_size"`
	MaxPending        int    `json:"max_pending" yaml:"max_pending"`
	WorkerIdleTimeout int    `json:"worker_idle_timeout" yaml:"worker_idle_timeout"` // seconds
}

type AuthConfig struct {
	AllowedUsers      []string `json:"allowed_users" yaml:"allowed_users"`
	AllowAll          bool     `json:"allow_all" yaml:"allow_all"`
	GroupCommandsOpen *bool    `json:"group_commands_open" yaml:"group_commands_open"`
}

type SessionConfig struct {
	IdleTimeout   int `json:"idle_timeout" yaml:"idle_timeout"`     // minutes
	EvictInterval int `json:"evict_interval" yaml:"evict_interval"` // minutes
	MaxHistory    int `json:"max_history" yaml:"max_history"`
}

type AIConfig struct {
	Provider       string                    `json:"provider" yaml:"provider"`
	Providers      map[string]ProviderConfig `json:"providers" yaml:"providers"`
	VisionModel    string                    `json:"vision_model" yaml:"vision_model"`
	SystemPrompt   string                    `json:"system_prompt" yaml:"system_prompt"`
	TimeoutSeconds int                       `json:"timeout_seconds" yaml:"timeout_seconds"`
	WebSearch      bool                      `json:"web_search" yaml:"web_search"`
	Search         SearchConfig              `json:"search" yaml:"search"`
}

// SearchConfig configures the web_search tool. Google is used when both
// credentials are present; duckduckgo needs none.
type SearchConfig struct {
	GoogleAPIKey   string `json:"google_api_key" yaml:"google_api_key"`
	GoogleEngineID string `json:"google_search_engine_id" yaml:"google_search_engine_id"`
	MaxResults     int    `json:"max_results" yaml:"max_results"`
}

type ProviderConfig struct {
	BaseURL string `json:"base_url" yaml:"base_url"`
	Model   string `json:"model" yaml:"model"`
	APIKey  string `json:"api_key" yaml:"api_key"`
}

type RedisConfig struct {
	Host     string `json:"host" yaml:"host"`
	Port     int    `json:"port" yaml:"port"`
	Username string `json:"username" yaml:"username"`
	Password string `json:"password" yaml:"password"`
	DB       int    `json:"db" yaml:"db"`
}

type DatabaseConfig struct {
	DSN      string `json:"dsn" yaml:"dsn"`
	Host     string `json:"host" yaml:"host"`
	Port     int    `json:"port" yaml:"port"`
	Username string `json:"username" yaml:"username"`
	Password string `json:"password" yaml:"password"`
	DBName   string `json:"db_name" yaml:"db_name"`
	Params   string `json:"params" yaml:"params"`
}

type LoggingConfig struct {
	Level  string `json:"level" yaml:"level"`
	Format string `json:"format" yaml:"format"`
}

const (
	defaultServerAddress = ":8090"
	defaultProvider      = "gemini"
	defaultGeminiModel   = "gemini-2.0-flash"
)

// providerKeyEnv maps providers to the environment variable holding their API key.
var providerKeyEnv = map[string]string{
	"gemini": "GEMINI_API_KEY",
	"openai": "OPENAI_API_KEY",
	"claude": "ANTHROPIC_API_KEY",
}

// Load reads configuration from the provided path (defaults to config.json).
// Files ending in .yaml or .yml are decoded as YAML, everything else as JSON.
func Load(path string) (*Config, error) {
	if path == "" {
		path = "config.json"
	}

	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve config path: %w", err)
	}

	raw, err := os.ReadFile(absPath)
	if err != nil {
		return nil, fmt.Errorf("open config %s: %w", absPath, err)
	}

	var cfg Config
	switch strings.ToLower(filepath.Ext(absPath)) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(raw, &cfg); err != nil {
			return nil, fmt.Errorf("decode config: %w", err)
		}
	default:
		if err := json.Unmarshal(raw, &cfg); err != nil {
			return nil, fmt.Errorf("decode config: %w", err)
		}
	}

	cfg.applyEnv()
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	if dbCfg, ok := cfg.Databases["sqlite3"]; ok && dbCfg.DSN != "" && dbCfg.DSN != ":memory:" && !filepath.IsAbs(dbCfg.DSN) {
		dbCfg.DSN = filepath.Join(filepath.Dir(absPath), dbCfg.DSN)
		cfg.Databases["sqlite3"] = dbCfg
	}
	return &cfg, nil
}

// Default returns a configuration with every default applied and no file behind it.
func Default() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}

// Validate reports configuration that cannot be served.
func (c *Config) Validate() error {
	if _, ok := c.AI.Providers[c.AI.Provider]; !ok {
		return fmt.Errorf("provider %s not configured", c.AI.Provider)
	}
	if c.BasicConfig.MaxWorkers < c.BasicConfig.MinWorkers {
		return fmt.Errorf("max_workers (%d) must be >= min_workers (%d)", c.BasicConfig.MaxWorkers, c.BasicConfig.MinWorkers)
	}
	if c.Database != "" {
		if _, ok := c.Databases[c.Database]; !ok {
			return fmt.Errorf("database config for %s not found", c.Database)
		}
	}
	return nil
}

// GroupCommandsBypass reports whether group /chat and /vision skip the allow-list.
func (a AuthConfig) GroupCommandsBypass() bool {
	if a.GroupCommandsOpen == nil {
		return true
	}
	return *a.GroupCommandsOpen
}

// RedisEnabled reports whether a redis endpoint is configured.
func (c *Config) RedisEnabled() bool {
	return c.Redis.Host != ""
}

func (c *Config) applyEnv() {
	if v := strings.TrimSpace(os.Getenv("RELAYBOT_WEBHOOK_SECRET")); v != "" {
		c.BasicConfig.WebhookSecret = v
	}
	if v := strings.TrimSpace(os.Getenv("RELAYBOT_ALLOWED_USERS")); v != "" {
		for _, id := range strings.Split(v, ",") {
			if id = strings.TrimSpace(id); id != "" {
				c.Auth.AllowedUsers = append(c.Auth.AllowedUsers, id)
			}
		}
	}
	if v := strings.TrimSpace(os.Getenv("GOOGLE_API_KEY")); v != "" && c.AI.Search.GoogleAPIKey == "" {
		c.AI.Search.GoogleAPIKey = v
	}
	if v := strings.TrimSpace(os.Getenv("GOOGLE_SEARCH_ENGINE_ID")); v != "" && c.AI.Search.GoogleEngineID == "" {
		c.AI.Search.GoogleEngineID = v
	}
	for name, env := range providerKeyEnv {
		key := strings.TrimSpace(os.Getenv(env))
		if key == "" {
			continue
		}
		if c.AI.Providers == nil {
			c.AI.Providers = make(map[string]ProviderConfig)
		}
		prov := c.AI.Providers[name]
		if prov.APIKey == "" {
			prov.APIKey = key
		}
		c.AI.Providers[name] = prov
	}
}

func (c *Config) applyDefaults() {
	b := &c.BasicConfig
	if b.ServerAddress == "" {
		b.ServerAddress = defaultServerAddress
	}
	if b.MinWorkers <= 0 {
		b.MinWorkers = 2
	}
	if b.MaxWorkers <= 0 {
		b.MaxWorkers = 32
	}
	if b.QueueSize <= 0 {
		b.QueueSize = 256
	}
	if b.MaxPending <= 0 {
		b.MaxPending = 1024
	}
	if b.WorkerIdleTimeout <= 0 {
		b.WorkerIdleTimeout = 30
	}

	s := &c.Session
	if s.IdleTimeout <= 0 {
		s.IdleTimeout = 60
	}
	if s.EvictInterval <= 0 {
		s.EvictInterval = 5
	}
	if s.MaxHistory <= 0 {
		s.MaxHistory = 40
	}

	a := &c.AI
	if a.Provider == "" {
		a.Provider = defaultProvider
	}
	if a.Providers == nil {
		a.Providers = make(map[string]ProviderConfig)
	}
	// an env-only api key creates the entry without a model
	if a.Provider == defaultProvider {
		if p := a.Providers[defaultProvider]; p.Model == "" {
			p.Model = defaultGeminiModel
			a.Providers[defaultProvider] = p
		}
	}
	if a.VisionModel == "" {
		a.VisionModel = defaultGeminiModel
	}
	if a.TimeoutSeconds <= 0 {
		a.TimeoutSeconds = 60
	}
	if a.Search.MaxResults <= 0 {
		a.Search.MaxResults = 3
	}

	if c.Redis.Host != "" && c.Redis.Port == 0 {
		c.Redis.Port = 6379
	}

	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "json"
	}
}
