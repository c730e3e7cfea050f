// Package runtimeconfig is the engine's configuration loader: env vars
// layered over an optional YAML file, with typed defaults for everything
// the daemon and its subsystems need at startup.
package runtimeconfig

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config is the fully-resolved runtime configuration for cmd/conductor.
type Config struct {
	LLMAPIKey     string `yaml:"llm_api_key"`
	LLMAPIVersion string `yaml:"llm_api_version"`

	DBURL          string `yaml:"db_url"`
	DBUser         string `yaml:"db_user"`
	DBPassword     string `yaml:"db_password"`
	DBPoolMaxConns int    `yaml:"db_pool_max_conns"`

	SchedulerEnabled bool `yaml:"scheduler_enabled"`
	Port             int  `yaml:"port"`

	StepDefaultTimeoutSeconds int `yaml:"step_default_timeout_seconds"`

	LogLevel        string `yaml:"log_level"`
	LogFormat       string `yaml:"log_format"`
	OTelMetricsAddr string `yaml:"otel_metrics_addr"`
}

// defaults mirrors the struct defaults a fresh Config should have before any
// env/file layer is applied.
func defaults() Config {
	return Config{
		LLMAPIVersion:             "2023-06-01",
		DBPoolMaxConns:            10,
		SchedulerEnabled:          true,
		Port:                      8080,
		StepDefaultTimeoutSeconds: 300,
		LogLevel:                 "info",
		LogFormat:                "json",
	}
}

// EnvLookup abstracts os.LookupEnv so tests can inject a fake environment.
type EnvLookup func(key string) (string, bool)

// DefaultEnvLookup delegates to os.LookupEnv.
func DefaultEnvLookup(key string) (string, bool) {
	return os.LookupEnv(key)
}

// Option customizes Load's behavior.
type Option func(*loadOptions)

type loadOptions struct {
	env        EnvLookup
	readFile   func(string) ([]byte, error)
	configPath string
}

// WithEnv supplies a custom environment lookup, used primarily for tests.
func WithEnv(env EnvLookup) Option {
	return func(o *loadOptions) { o.env = env }
}

// WithFileReader injects a custom file reader, used primarily for tests.
func WithFileReader(reader func(string) ([]byte, error)) Option {
	return func(o *loadOptions) { o.readFile = reader }
}

// WithConfigPath forces Load to read a specific YAML file instead of
// consulting CONDUCTOR_CONFIG_FILE.
func WithConfigPath(path string) Option {
	return func(o *loadOptions) { o.configPath = path }
}

// Load resolves configuration by merging defaults, an optional YAML file,
// and environment variables, in that order of increasing precedence.
func Load(opts ...Option) (Config, error) {
	options := loadOptions{env: DefaultEnvLookup, readFile: os.ReadFile}
	for _, opt := range opts {
		opt(&options)
	}

	cfg := defaults()

	path := options.configPath
	if path == "" {
		path, _ = options.env("CONDUCTOR_CONFIG_FILE")
	}
	if path != "" {
		if err := applyFile(&cfg, path, options.readFile); err != nil {
			return Config{}, err
		}
	}

	applyEnv(&cfg, options.env)
	return cfg, nil
}

func applyFile(cfg *Config, path string, readFile func(string) ([]byte, error)) error {
	data, err := readFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("read config file %q: %w", path, err)
	}
	if len(strings.TrimSpace(string(data))) == 0 {
		return nil
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parse config file %q: %w", path, err)
	}
	return nil
}

func applyEnv(cfg *Config, env EnvLookup) {
	setString(env, "LLM_API_KEY", &cfg.LLMAPIKey)
	setString(env, "LLM_API_VERSION", &cfg.LLMAPIVersion)
	setString(env, "DB_URL", &cfg.DBURL)
	setString(env, "DB_USER", &cfg.DBUser)
	setString(env, "DB_PASSWORD", &cfg.DBPassword)
	setInt(env, "DB_POOL_MAX_CONNS", &cfg.DBPoolMaxConns)
	setBool(env, "SCHEDULER_ENABLED", &cfg.SchedulerEnabled)
	setInt(env, "PORT", &cfg.Port)
	setInt(env, "STEP_DEFAULT_TIMEOUT_SECONDS", &cfg.StepDefaultTimeoutSeconds)
	setString(env, "LOG_LEVEL", &cfg.LogLevel)
	setString(env, "LOG_FORMAT", &cfg.LogFormat)
	setString(env, "OTEL_METRICS_ADDR", &cfg.OTelMetricsAddr)
}

func setString(env EnvLookup, key string, dst *string) {
	if v, ok := env(key); ok && v != "" {
		*dst = v
	}
}

func setInt(env EnvLookup, key string, dst *int) {
	v, ok := env(key)
	if !ok || v == "" {
		return
	}
	if n, err := strconv.Atoi(v); err == nil {
		*dst = n
	}
}

func setBool(env EnvLookup, key string, dst *bool) {
	v, ok := env(key)
	if !ok || v == "" {
		return
	}
	if b, err := strconv.ParseBool(v); err == nil {
		*dst = b
	}
}

// Validate checks the invariants cmd/conductor needs before it will start:
// a database target and an LLM credential must be present.
func (c Config) Validate() error {
	if c.DBURL == "" {
		return fmt.Errorf("DB_URL is required")
	}
	if c.LLMAPIKey == "" {
		return fmt.Errorf("LLM_API_KEY is required")
	}
	return nil
}
