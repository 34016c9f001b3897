package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
	"github.com/tidwall/jsonc"
)

const (
	LockBestEffort = "best-effort"
	LockRequired   = "required"
)

type Config struct {
	Enabled          bool   `json:"enabled" toml:"enabled"`
	StateDir         string `json:"state_dir" toml:"state_dir"`
	MaxChars         int    `json:"max_chars" toml:"max_chars"`
	MaxMessageEvents int    `json:"max_message_events" toml:"max_message_events"`
	LogLevel         string `json:"log_level" toml:"log_level"`
	Debug            bool   `json:"debug" toml:"debug"`
	LockMode         string `json:"lock_mode" toml:"lock_mode"`
	HTMLToMarkdown   bool   `json:"html_to_markdown" toml:"html_to_markdown"`
	EstimateTokens   bool   `json:"estimate_tokens" toml:"estimate_tokens"`
	Langfuse         struct {
		PublicKey   string `json:"public_key" toml:"public_key"`
		SecretKey   string `json:"secret_key" toml:"secret_key"`
		BaseURL     string `json:"base_url" toml:"base_url"`
		UserID      string `json:"user_id" toml:"user_id"`
		Timeout     string `json:"timeout" toml:"timeout"`
		MaxAttempts int    `json:"max_attempts" toml:"max_attempts"`
	} `json:"langfuse" toml:"langfuse"`

	// Source is the config file that was read, empty when none.
	Source string `json:"-" toml:"-"`
}

// LookupFunc reads one environment variable.
type LookupFunc func(key string) (string, bool)

// Default returns the built-in configuration for the given home directory.
func Default(home string) *Config {
	cfg := &Config{
		StateDir:         filepath.Join(home, ".config", "opencode", "state", "langfuse"),
		MaxChars:         20000,
		MaxMessageEvents: 30,
		LogLevel:         "info",
		LockMode:         LockBestEffort,
		HTMLToMarkdown:   true,
		EstimateTokens:   true,
	}
	cfg.Langfuse.BaseURL = "https://cloud.langfuse.com"
	cfg.Langfuse.UserID = "opencode-user"
	cfg.Langfuse.Timeout = "0"
	cfg.Langfuse.MaxAttempts = 2
	return cfg
}

// Load builds the configuration from the process environment.
func Load(path string) (*Config, error) {
	return LoadWith(path, os.LookupEnv)
}

// LoadWith resolves defaults, then the config file, then ~/.config/opencode/.env,
// then the environment read through lookup. Values from .env apply only to
// keys the environment does not set.
func LoadWith(path string, lookup LookupFunc) (*Config, error) {
	home, _ := lookup("HOME")
	if home == "" {
		home, _ = os.UserHomeDir()
	}

	dotenv, err := ReadDotenv(filepath.Join(home, ".config", "opencode", ".env"))
	if err != nil {
		return nil, err
	}
	env := func(key string) (string, bool) {
		if v, ok := lookup(key); ok {
			return v, true
		}
		v, ok := dotenv[key]
		return v, ok
	}

	cfg := Default(home)

	if path == "" {
		path, _ = env("OPENCODE_LANGFUSE_CONFIG")
	}
	explicit := path != ""
	if !explicit {
		path = findConfigFile(filepath.Join(home, ".config", "opencode"))
	}
	if path != "" {
		if err := readFile(path, cfg); err != nil {
			if explicit || !os.IsNotExist(err) {
				return nil, err
			}
		} else {
			cfg.Source = path
		}
	}

	if err := applyEnv(cfg, env); err != nil {
		return nil, err
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func findConfigFile(dir string) string {
	for _, name := range []string{"langfuse.toml", "langfuse.jsonc", "langfuse.json"} {
		p := filepath.Join(dir, name)
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	return ""
}

func readFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	if strings.EqualFold(filepath.Ext(path), ".toml") {
		if err := toml.Unmarshal(data, cfg); err != nil {
			return fmt.Errorf("parse config %s: %w", path, err)
		}
		return nil
	}
	if err := json.Unmarshal(jsonc.ToJSON(data), cfg); err != nil {
		return fmt.Errorf("parse config %s: %w", path, err)
	}
	return nil
}

// envBinding maps one environment variable onto a config field.
type envBinding struct {
	keys []string
	set  func(cfg *Config, v string) error
}

var envBindings = []envBinding{
	{[]string{"TRACE_TO_LANGFUSE"}, boolField(func(c *Config) *bool { return &c.Enabled })},
	{[]string{"LANGFUSE_PUBLIC_KEY"}, stringField(func(c *Config) *string { return &c.Langfuse.PublicKey })},
	{[]string{"LANGFUSE_SECRET_KEY"}, stringField(func(c *Config) *string { return &c.Langfuse.SecretKey })},
	{[]string{"LANGFUSE_BASE_URL", "LANGFUSE_HOST"}, stringField(func(c *Config) *string { return &c.Langfuse.BaseURL })},
	{[]string{"LANGFUSE_USER_ID"}, stringField(func(c *Config) *string { return &c.Langfuse.UserID })},
	{[]string{"OPENCODE_LANGFUSE_TIMEOUT"}, stringField(func(c *Config) *string { return &c.Langfuse.Timeout })},
	{[]string{"OPENCODE_LANGFUSE_MAX_ATTEMPTS"}, intField(func(c *Config) *int { return &c.Langfuse.MaxAttempts })},
	{[]string{"OPENCODE_LANGFUSE_STATE_DIR"}, stringField(func(c *Config) *string { return &c.StateDir })},
	{[]string{"OPENCODE_LANGFUSE_MAX_CHARS"}, intField(func(c *Config) *int { return &c.MaxChars })},
	{[]string{"OPENCODE_LANGFUSE_MAX_MESSAGE_EVENTS_PER_MESSAGE"}, intField(func(c *Config) *int { return &c.MaxMessageEvents })},
	{[]string{"OPENCODE_LANGFUSE_LOG_LEVEL"}, stringField(func(c *Config) *string { return &c.LogLevel })},
	{[]string{"OPENCODE_LANGFUSE_DEBUG"}, boolField(func(c *Config) *bool { return &c.Debug })},
	{[]string{"OPENCODE_LANGFUSE_LOCK_MODE"}, stringField(func(c *Config) *string { return &c.LockMode })},
	{[]string{"OPENCODE_LANGFUSE_HTML_TO_MARKDOWN"}, boolField(func(c *Config) *bool { return &c.HTMLToMarkdown })},
	{[]string{"OPENCODE_LANGFUSE_ESTIMATE_TOKENS"}, boolField(func(c *Config) *bool { return &c.EstimateTokens })},
}

func applyEnv(cfg *Config, env LookupFunc) error {
	for _, b := range envBindings {
		for _, key := range b.keys {
			v, ok := env(key)
			if !ok || strings.TrimSpace(v) == "" {
				continue
			}
			if err := b.set(cfg, strings.TrimSpace(v)); err != nil {
				return fmt.Errorf("parse %s: %w", key, err)
			}
			break
		}
	}
	return nil
}

func stringField(field func(*Config) *string) func(*Config, string) error {
	return func(c *Config, v string) error {
		*field(c) = v
		return nil
	}
}

func intField(field func(*Config) *int) func(*Config, string) error {
	return func(c *Config, v string) error {
		n, err := strconv.Atoi(v)
		if err != nil {
			return err
		}
		*field(c) = n
		return nil
	}
}

func boolField(field func(*Config) *bool) func(*Config, string) error {
	return func(c *Config, v string) error {
		*field(c) = ParseBool(v)
		return nil
	}
}

// ParseBool treats 1, true, yes and on (any case) as true.
func ParseBool(v string) bool {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "1", "true", "yes", "on":
		return true
	}
	return false
}

func (c *Config) validate() error {
	switch c.LockMode {
	case LockBestEffort, LockRequired:
	default:
		return fmt.Errorf("invalid lock_mode %q: want %s or %s", c.LockMode, LockBestEffort, LockRequired)
	}
	if _, err := c.Timeout(); err != nil {
		return err
	}
	if c.MaxMessageEvents < 1 {
		return fmt.Errorf("invalid max_message_events %d: must be positive", c.MaxMessageEvents)
	}
	return nil
}

// Timeout parses langfuse.timeout. "0" and "" mean no timeout; a bare
// number is taken as seconds.
func (c *Config) Timeout() (time.Duration, error) {
	v := strings.TrimSpace(c.Langfuse.Timeout)
	if v == "" || v == "0" {
		return 0, nil
	}
	if secs, err := strconv.ParseFloat(v, 64); err == nil {
		return time.Duration(secs * float64(time.Second)), nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("invalid langfuse.timeout %q: %w", v, err)
	}
	return d, nil
}

// Active reports whether tracing is enabled and credentials are present.
func (c *Config) Active() bool {
	return c.Enabled && c.Langfuse.PublicKey != "" && c.Langfuse.SecretKey != ""
}

// LogPath is the append-only hook log.
func (c *Config) LogPath() string {
	return filepath.Join(c.StateDir, "langfuse_hook.log")
}

// ListValues returns the configuration as a flat map with dot-separated
// keys. If mask is true, secret values are masked.
func ListValues(cfg *Config, mask bool) (map[string]any, error) {
	data, err := json.Marshal(cfg)
	if err != nil {
		return nil, fmt.Errorf("marshal config: %w", err)
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	flat := Flatten(m)
	if mask {
		flat = MaskSecrets(flat)
	}
	return flat, nil
}

// GetValue returns one dot-separated key, masked when it is a secret.
func GetValue(cfg *Config, key string) (any, error) {
	flat, err := ListValues(cfg, true)
	if err != nil {
		return nil, err
	}
	v, ok := flat[key]
	if !ok {
		return nil, fmt.Errorf("unknown config key: %s", key)
	}
	return v, nil
}
