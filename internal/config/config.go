package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// EnvPrefix is prepended to every environment override.
const EnvPrefix = "DYNCMD_"

// Config holds all dyncmd configuration.
type Config struct {
	// Commands configures the registry.
	Commands CommandsConfig `yaml:"commands" envPrefix:"COMMANDS_"`

	// Audit configures the invocation log.
	Audit AuditConfig `yaml:"audit" envPrefix:"AUDIT_"`

	// Watch configures hot reload of the commands directory.
	Watch WatchConfig `yaml:"watch" envPrefix:"WATCH_"`

	// Fetch configures retrieval of scripts from paste links.
	Fetch FetchConfig `yaml:"fetch" envPrefix:"FETCH_"`

	// Console configures the local caller.
	Console ConsoleConfig `yaml:"console" envPrefix:"CONSOLE_"`

	// Discord configures the chat transport.
	Discord DiscordConfig `yaml:"discord" envPrefix:"DISCORD_"`

	// Logging
	Logging LoggingConfig `yaml:"logging" envPrefix:"LOG_"`
}

// CommandsConfig configures the registry.
type CommandsConfig struct {
	Dir              string `yaml:"dir" env:"DIR"`
	Delimiter        string `yaml:"delimiter" env:"DELIMITER"`
	IgnorePermission bool   `yaml:"ignore_permission" env:"IGNORE_PERMISSION"`
	Unrestricted     bool   `yaml:"unrestricted" env:"UNRESTRICTED"`
	ScriptTimeout    string `yaml:"script_timeout" env:"SCRIPT_TIMEOUT"`
}

// AuditConfig configures the SQLite invocation log.
type AuditConfig struct {
	Enabled bool   `yaml:"enabled" env:"ENABLED"`
	Path    string `yaml:"path" env:"PATH"`
}

// WatchConfig configures the directory watcher.
type WatchConfig struct {
	Enabled  bool   `yaml:"enabled" env:"ENABLED"`
	Debounce string `yaml:"debounce" env:"DEBOUNCE"`
}

// FetchConfig configures the HTTP fetcher.
type FetchConfig struct {
	Timeout  string `yaml:"timeout" env:"TIMEOUT"`
	MaxBytes int64  `yaml:"max_bytes" env:"MAX_BYTES"`
}

// ConsoleConfig configures the caller used by the CLI and console.
type ConsoleConfig struct {
	Name       string `yaml:"name" env:"NAME"`
	Permission int    `yaml:"permission" env:"PERMISSION"`
}

// DiscordConfig configures the Discord transport.
type DiscordConfig struct {
	Token string `yaml:"token" env:"TOKEN"`

	// DefaultPermission is the level of users without an explicit entry.
	DefaultPermission int `yaml:"default_permission" env:"DEFAULT_PERMISSION"`
	// AdminPermission is granted to guild administrators.
	AdminPermission int `yaml:"admin_permission" env:"ADMIN_PERMISSION"`
	// UserPermissions maps user IDs to levels ("id:level,id:level" in env).
	UserPermissions map[string]int `yaml:"user_permissions" env:"USER_PERMISSIONS"`

	// RateLimit is commands per second per user; Burst is the bucket size.
	RateLimit float64 `yaml:"rate_limit" env:"RATE_LIMIT"`
	Burst     int     `yaml:"burst" env:"BURST"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Commands: CommandsConfig{
			Dir:           "commands",
			Delimiter:     " ",
			ScriptTimeout: "5s",
		},

		Audit: AuditConfig{
			Enabled: true,
			Path:    "data/audit.db",
		},

		Watch: WatchConfig{
			Enabled:  true,
			Debounce: "500ms",
		},

		Fetch: FetchConfig{
			Timeout:  "15s",
			MaxBytes: 1 << 20,
		},

		Console: ConsoleConfig{
			Name:       "console",
			Permission: 1000,
		},

		Discord: DiscordConfig{
			DefaultPermission: 0,
			AdminPermission:   1000,
			RateLimit:         1,
			Burst:             3,
		},

		Logging: LoggingConfig{
			Level:  "info",
			Format: "console",
		},
	}
}

// Load loads configuration from a YAML file, then applies environment
// overrides. A missing file yields the defaults.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}
	if err == nil {
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config: %w", err)
		}
	}

	if err := cfg.ApplyEnv(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyEnv overlays DYNCMD_* variables onto c. Files in dotenv are loaded
// first (".env" when none are given); missing files are skipped and
// variables already set in the process win.
func (c *Config) ApplyEnv(dotenv ...string) error {
	if len(dotenv) == 0 {
		dotenv = []string{".env"}
	}
	for _, p := range dotenv {
		if err := godotenv.Load(p); err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("failed to load %s: %w", p, err)
		}
	}

	if err := env.ParseWithOptions(c, env.Options{Prefix: EnvPrefix}); err != nil {
		return fmt.Errorf("failed to parse environment: %w", err)
	}

	// The bare variable most Discord bots use.
	if c.Discord.Token == "" {
		c.Discord.Token = os.Getenv("DISCORD_TOKEN")
	}
	return nil
}

// Save saves configuration to a YAML file.
func (c *Config) Save(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}

	return nil
}

// GetScriptTimeout returns the per-invocation script timeout.
func (c *Config) GetScriptTimeout() time.Duration {
	return parseDuration(c.Commands.ScriptTimeout, 5*time.Second)
}

// GetWatchDebounce returns the watcher's quiet period.
func (c *Config) GetWatchDebounce() time.Duration {
	return parseDuration(c.Watch.Debounce, 500*time.Millisecond)
}

// GetFetchTimeout returns the HTTP fetch timeout.
func (c *Config) GetFetchTimeout() time.Duration {
	return parseDuration(c.Fetch.Timeout, 15*time.Second)
}

func parseDuration(s string, def time.Duration) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil {
		return def
	}
	return d
}

// DiscordEnabled reports whether a bot token is configured.
func (c *Config) DiscordEnabled() bool {
	return c.Discord.Token != ""
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.Commands.Dir == "" {
		return fmt.Errorf("commands.dir must be set")
	}
	if c.Commands.Delimiter == "" {
		return fmt.Errorf("commands.delimiter must not be empty")
	}

	durations := map[string]string{
		"commands.script_timeout": c.Commands.ScriptTimeout,
		"watch.debounce":          c.Watch.Debounce,
		"fetch.timeout":           c.Fetch.Timeout,
	}
	for name, v := range durations {
		if v == "" {
			continue
		}
		if _, err := time.ParseDuration(v); err != nil {
			return fmt.Errorf("invalid %s %q: %w", name, v, err)
		}
	}

	if c.Audit.Enabled && c.Audit.Path == "" {
		return fmt.Errorf("audit.path must be set when audit is enabled")
	}
	if c.Discord.RateLimit < 0 || c.Discord.Burst < 0 {
		return fmt.Errorf("discord rate limit and burst must not be negative")
	}
	for id, level := range c.Discord.UserPermissions {
		if level < 0 {
			return fmt.Errorf("discord user %s has negative permission %d", id, level)
		}
	}

	return c.Logging.Validate()
}
