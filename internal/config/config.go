// Package config loads the YAML service configuration.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/user/parley/internal/texts"
	"github.com/user/parley/internal/types"
)

// ConfigurationConfig is a configuration plus the extension values its users
// saved, keyed by user id then extension id.
type ConfigurationConfig struct {
	types.Configuration `yaml:",inline"`
	UserValues          map[string]map[string]map[string]any `yaml:"user_values,omitempty"`
}

type Config struct {
	DataDir   string `yaml:"data_dir"`
	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"`

	HTTP struct {
		Listen string `yaml:"listen"`
	} `yaml:"http"`

	Callbacks struct {
		Timeout       time.Duration `yaml:"timeout"`
		SweepInterval time.Duration `yaml:"sweep_interval"`
	} `yaml:"callbacks"`

	Cache struct {
		TTL time.Duration `yaml:"ttl"`
	} `yaml:"cache"`

	Summary struct {
		Timeout time.Duration `yaml:"timeout"`
	} `yaml:"summary"`

	Prompt struct {
		Tokenizer     string `yaml:"tokenizer"`
		ContextLimit  int    `yaml:"context_limit"`
		OutputReserve int    `yaml:"output_reserve"`
	} `yaml:"prompt"`

	Execution struct {
		MaxConcurrent      int  `yaml:"max_concurrent"`
		MaxToolRounds      int  `yaml:"max_tool_rounds"`
		LogRetrievalChunks bool `yaml:"log_retrieval_chunks"`
	} `yaml:"execution"`

	Usage struct {
		Database string `yaml:"database"`
	} `yaml:"usage"`

	Metrics struct {
		Enabled bool `yaml:"enabled"`
	} `yaml:"metrics"`

	Tracing struct {
		Endpoint     string  `yaml:"endpoint"`
		Insecure     bool    `yaml:"insecure"`
		SamplingRate float64 `yaml:"sampling_rate"`
	} `yaml:"tracing"`

	// OpenAI holds fallbacks for openai extensions that set no key or URL.
	OpenAI struct {
		APIKey  string `yaml:"api_key"`
		BaseURL string `yaml:"base_url"`
	} `yaml:"openai"`

	Telegram struct {
		Token           string `yaml:"token"`
		ConfigurationID int64  `yaml:"configuration_id"`
		Group           string `yaml:"group"`
	} `yaml:"telegram"`

	Users          []types.User          `yaml:"users"`
	Groups         []types.UserGroup     `yaml:"groups"`
	Configurations []ConfigurationConfig `yaml:"configurations"`
	Texts          texts.Texts           `yaml:"texts"`
}

// DefaultPath returns ~/.parley/config.yaml.
func DefaultPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		home = os.Getenv("HOME")
	}
	return filepath.Join(home, ".parley", "config.yaml")
}

// Default returns a configuration with every field at its default.
func Default() *Config {
	home, _ := os.UserHomeDir()
	cfg := &Config{
		DataDir:   filepath.Join(home, ".parley"),
		LogLevel:  "info",
		LogFormat: "text",
	}
	cfg.HTTP.Listen = "127.0.0.1:8080"
	cfg.Callbacks.Timeout = 5 * time.Minute
	cfg.Callbacks.SweepInterval = 10 * time.Second
	cfg.Cache.TTL = 10 * time.Minute
	cfg.Summary.Timeout = 10 * time.Second
	cfg.Prompt.Tokenizer = "gpt-4o"
	cfg.Prompt.ContextLimit = 128000
	cfg.Prompt.OutputReserve = 4096
	cfg.Execution.MaxConcurrent = 8
	cfg.Execution.MaxToolRounds = 8
	cfg.Metrics.Enabled = true
	cfg.Tracing.SamplingRate = 1.0
	cfg.Telegram.ConfigurationID = 1
	cfg.Telegram.Group = types.GroupDefault
	cfg.Texts = texts.Default()
	return cfg
}

// Load reads path over the defaults, writing the defaults first when the file
// does not exist. Environment variables take precedence over the file.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	case errors.Is(err, os.ErrNotExist):
		if err := Save(path, cfg); err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("read config: %w", err)
	}

	applyEnv(cfg)
	cfg.Texts = cfg.Texts.WithDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyEnv(cfg *Config) {
	set := func(dst *string, name string) {
		if v := os.Getenv(name); v != "" {
			*dst = v
		}
	}
	set(&cfg.DataDir, "PARLEY_DATA_DIR")
	set(&cfg.LogLevel, "PARLEY_LOG_LEVEL")
	set(&cfg.HTTP.Listen, "PARLEY_HTTP_LISTEN")
	set(&cfg.Telegram.Token, "TELEGRAM_BOT_TOKEN")
	set(&cfg.OpenAI.APIKey, "OPENAI_API_KEY")
	set(&cfg.Tracing.Endpoint, "OTEL_EXPORTER_OTLP_ENDPOINT")
}

// UsageDatabase returns the usage database path, defaulting into DataDir.
func (c *Config) UsageDatabase() string {
	if c.Usage.Database != "" {
		return c.Usage.Database
	}
	return filepath.Join(c.DataDir, "usage.db")
}

// Validate checks field ranges and cross references.
func (c *Config) Validate() error {
	var errs []error
	if !slices.Contains([]string{"debug", "info", "warn", "error"}, c.LogLevel) {
		errs = append(errs, fmt.Errorf("log_level %q must be debug, info, warn or error", c.LogLevel))
	}
	if c.LogFormat != "" && c.LogFormat != "text" && c.LogFormat != "json" {
		errs = append(errs, fmt.Errorf("log_format %q must be text or json", c.LogFormat))
	}
	if c.DataDir == "" {
		errs = append(errs, errors.New("data_dir is required"))
	}
	if c.Execution.MaxConcurrent < 0 || c.Execution.MaxToolRounds < 0 {
		errs = append(errs, errors.New("execution limits must not be negative"))
	}
	if c.Prompt.ContextLimit > 0 && c.Prompt.OutputReserve >= c.Prompt.ContextLimit {
		errs = append(errs, errors.New("prompt.output_reserve must be below prompt.context_limit"))
	}
	if c.Tracing.SamplingRate < 0 || c.Tracing.SamplingRate > 1 {
		errs = append(errs, errors.New("tracing.sampling_rate must be between 0 and 1"))
	}

	groups := map[string]bool{types.GroupAdmin: true, types.GroupDefault: true, "": true}
	for _, g := range c.Groups {
		if g.ID == "" {
			errs = append(errs, errors.New("group without id"))
		}
		groups[g.ID] = true
	}
	users := make(map[string]bool)
	for _, u := range c.Users {
		if u.ID == "" || users[u.ID] {
			errs = append(errs, fmt.Errorf("user id %q is empty or duplicated", u.ID))
		}
		users[u.ID] = true
		if !groups[u.Group] {
			errs = append(errs, fmt.Errorf("user %s: unknown group %q", u.ID, u.Group))
		}
	}

	ids := make(map[int64]bool)
	for _, cc := range c.Configurations {
		if cc.ID <= 0 || ids[cc.ID] {
			errs = append(errs, fmt.Errorf("configuration id %d is invalid or duplicated", cc.ID))
		}
		ids[cc.ID] = true
		extIDs := make(map[string]bool)
		for _, ext := range cc.Extensions {
			if ext.ID == "" || ext.Type == "" || extIDs[ext.ID] {
				errs = append(errs, fmt.Errorf("configuration %d: extension %q needs a unique id and a type", cc.ID, ext.ID))
			}
			extIDs[ext.ID] = true
		}
	}
	if c.Telegram.Token != "" && !ids[c.Telegram.ConfigurationID] {
		errs = append(errs, fmt.Errorf("telegram.configuration_id %d does not exist", c.Telegram.ConfigurationID))
	}
	return errors.Join(errs...)
}

// ExtensionValidator checks extension values against their type's schema.
type ExtensionValidator interface {
	Validate(extensionType string, values map[string]any) error
}

// ValidateExtensions checks the values of every configured extension.
func (c *Config) ValidateExtensions(v ExtensionValidator) error {
	var errs []error
	for _, cc := range c.Configurations {
		for _, ext := range cc.Extensions {
			if err := v.Validate(ext.Type, ext.Values); err != nil {
				errs = append(errs, fmt.Errorf("configuration %d extension %s: %w", cc.ID, ext.ID, err))
			}
		}
	}
	return errors.Join(errs...)
}

// Save writes cfg to path atomically, creating the directory if needed.
func Save(path string, cfg *Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	return writeFile(path, data)
}

func writeFile(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}
	tmpPath := path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0o600); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("rename config: %w", err)
	}
	return nil
}

// ToMap converts cfg to its generic YAML form.
func ToMap(cfg *Config) (map[string]any, error) {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return nil, fmt.Errorf("marshal config: %w", err)
	}
	m := make(map[string]any)
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	return m, nil
}

// ListValues returns every setting as a flat dotted map.
func ListValues(cfg *Config, mask bool) (map[string]any, error) {
	m, err := ToMap(cfg)
	if err != nil {
		return nil, err
	}
	flat := Flatten(m)
	if mask {
		flat = MaskSecrets(flat)
	}
	return flat, nil
}

// GetValue loads path and returns the value at the dotted key.
func GetValue(path, key string) (any, error) {
	cfg, err := Load(path)
	if err != nil {
		return nil, err
	}
	flat, err := ListValues(cfg, false)
	if err != nil {
		return nil, err
	}
	v, ok := flat[key]
	if !ok {
		return nil, fmt.Errorf("unknown config key: %s", key)
	}
	return v, nil
}

// SetValue sets the dotted key in the file at path. raw is parsed as a YAML
// scalar, so "16" becomes a number and "true" a boolean. The result must still
// load as a valid configuration.
func SetValue(path, key, raw string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config: %w", err)
	}
	m := make(map[string]any)
	if err := yaml.Unmarshal(data, &m); err != nil {
		return fmt.Errorf("parse config: %w", err)
	}

	var value any
	if err := yaml.Unmarshal([]byte(raw), &value); err != nil || value == nil {
		value = raw
	}
	flat := Flatten(m)
	flat[key] = value

	out, err := yaml.Marshal(Unflatten(flat))
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	check := Default()
	if err := yaml.Unmarshal(out, check); err != nil {
		return fmt.Errorf("invalid value for %s: %w", key, err)
	}
	if err := check.Validate(); err != nil {
		return fmt.Errorf("invalid value for %s: %w", key, err)
	}
	return writeFile(path, out)
}
