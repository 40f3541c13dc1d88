// Package config loads tillsync configuration from YAML, applies
// TILLSYNC_* environment overrides, and validates the result against an
// embedded CUE schema.
package config

import (
	"bytes"
	_ "embed"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	cueerrors "cuelang.org/go/cue/errors"
	"gopkg.in/yaml.v3"
)

//go:embed schema.cue
var schemaSource string

// Config is the complete runtime configuration.
type Config struct {
	HTTP     HTTPConfig     `yaml:"http"`
	Store    StoreConfig    `yaml:"store"`
	Realtime RealtimeConfig `yaml:"realtime"`
	Auth     AuthConfig     `yaml:"auth"`
	Checkout CheckoutConfig `yaml:"checkout"`
	Log      LogConfig      `yaml:"log"`
}

type HTTPConfig struct {
	Addr            string        `yaml:"addr"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

type StoreConfig struct {
	// Driver is "sqlite" or "postgres".
	Driver string `yaml:"driver"`
	Path   string `yaml:"path"`
	DSN    string `yaml:"dsn"`
}

type RealtimeConfig struct {
	// Driver is "memory" or "redis".
	Driver         string        `yaml:"driver"`
	RedisAddr      string        `yaml:"redis_addr"`
	KeyPrefix      string        `yaml:"key_prefix"`
	ValueTTL       time.Duration `yaml:"value_ttl"`
	PublishTimeout time.Duration `yaml:"publish_timeout"`
}

type AuthConfig struct {
	JWTSecret string `yaml:"jwt_secret"`
}

type CheckoutConfig struct {
	PollInterval   time.Duration `yaml:"poll_interval"`
	ReaperInterval time.Duration `yaml:"reaper_interval"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// SlogLevel converts Level to a slog.Level. Unknown values map to info.
func (l LogConfig) SlogLevel() slog.Level {
	switch l.Level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	}
	return slog.LevelInfo
}

// Default returns the configuration used when no file is given.
func Default() Config {
	return Config{
		HTTP: HTTPConfig{
			Addr:            ":8080",
			ShutdownTimeout: 10 * time.Second,
		},
		Store: StoreConfig{
			Driver: "sqlite",
			Path:   "tillsync.db",
		},
		Realtime: RealtimeConfig{
			Driver:         "memory",
			KeyPrefix:      "tillsync:",
			ValueTTL:       24 * time.Hour,
			PublishTimeout: 2 * time.Second,
		},
		Checkout: CheckoutConfig{
			PollInterval:   2 * time.Second,
			ReaperInterval: 15 * time.Second,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Load reads path (optional), applies environment overrides from the
// process environment and validates the result.
func Load(path string) (Config, error) {
	return LoadWithEnv(path, os.LookupEnv)
}

// LoadWithEnv is Load with an explicit environment lookup.
func LoadWithEnv(path string, lookup func(string) (string, bool)) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := decode(data, &cfg); err != nil {
			return Config{}, err
		}
	}

	if err := applyEnv(&cfg, lookup); err != nil {
		return Config{}, err
	}
	if err := Validate(cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func decode(data []byte, cfg *Config) error {
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("failed to parse config YAML: %w", err)
	}
	return nil
}

type envBinding struct {
	name string
	set  func(*Config, string) error
}

func stringVar(fn func(*Config) *string) func(*Config, string) error {
	return func(c *Config, v string) error {
		*fn(c) = v
		return nil
	}
}

func durationVar(fn func(*Config) *time.Duration) func(*Config, string) error {
	return func(c *Config, v string) error {
		d, err := time.ParseDuration(v)
		if err != nil {
			return err
		}
		*fn(c) = d
		return nil
	}
}

var envBindings = []envBinding{
	{"TILLSYNC_HTTP_ADDR", stringVar(func(c *Config) *string { return &c.HTTP.Addr })},
	{"TILLSYNC_HTTP_SHUTDOWN_TIMEOUT", durationVar(func(c *Config) *time.Duration { return &c.HTTP.ShutdownTimeout })},
	{"TILLSYNC_STORE_DRIVER", stringVar(func(c *Config) *string { return &c.Store.Driver })},
	{"TILLSYNC_STORE_PATH", stringVar(func(c *Config) *string { return &c.Store.Path })},
	{"TILLSYNC_STORE_DSN", stringVar(func(c *Config) *string { return &c.Store.DSN })},
	{"TILLSYNC_REALTIME_DRIVER", stringVar(func(c *Config) *string { return &c.Realtime.Driver })},
	{"TILLSYNC_REDIS_ADDR", stringVar(func(c *Config) *string { return &c.Realtime.RedisAddr })},
	{"TILLSYNC_REALTIME_KEY_PREFIX", stringVar(func(c *Config) *string { return &c.Realtime.KeyPrefix })},
	{"TILLSYNC_REALTIME_VALUE_TTL", durationVar(func(c *Config) *time.Duration { return &c.Realtime.ValueTTL })},
	{"TILLSYNC_REALTIME_PUBLISH_TIMEOUT", durationVar(func(c *Config) *time.Duration { return &c.Realtime.PublishTimeout })},
	{"TILLSYNC_JWT_SECRET", stringVar(func(c *Config) *string { return &c.Auth.JWTSecret })},
	{"TILLSYNC_CHECKOUT_POLL_INTERVAL", durationVar(func(c *Config) *time.Duration { return &c.Checkout.PollInterval })},
	{"TILLSYNC_CHECKOUT_REAPER_INTERVAL", durationVar(func(c *Config) *time.Duration { return &c.Checkout.ReaperInterval })},
	{"TILLSYNC_LOG_LEVEL", stringVar(func(c *Config) *string { return &c.Log.Level })},
	{"TILLSYNC_LOG_FORMAT", stringVar(func(c *Config) *string { return &c.Log.Format })},
}

func applyEnv(cfg *Config, lookup func(string) (string, bool)) error {
	for _, b := range envBindings {
		v, ok := lookup(b.name)
		if !ok || v == "" {
			continue
		}
		if err := b.set(cfg, v); err != nil {
			return fmt.Errorf("invalid %s: %w", b.name, err)
		}
	}
	return nil
}

// Validate checks cfg against the embedded CUE schema.
func Validate(cfg Config) error {
	ctx := cuecontext.New()
	schema := ctx.CompileString(schemaSource, cue.Filename("schema.cue"))
	if err := schema.Err(); err != nil {
		return fmt.Errorf("compiling config schema: %w", err)
	}
	def := schema.LookupPath(cue.ParsePath("#Config"))

	value := ctx.Encode(cfg.view())
	if err := value.Err(); err != nil {
		return fmt.Errorf("encoding config: %w", err)
	}

	unified := def.Unify(value)
	if err := unified.Validate(cue.Concrete(true)); err != nil {
		return &ValidationError{Details: strings.TrimSpace(cueerrors.Details(err, nil))}
	}
	return nil
}

// ValidationError reports a configuration rejected by the schema.
type ValidationError struct {
	Details string
}

func (e *ValidationError) Error() string {
	return "invalid configuration: " + e.Details
}

// view flattens cfg into the shape the schema describes. Durations are
// nanoseconds.
func (c Config) view() map[string]any {
	return map[string]any{
		"http": map[string]any{
			"addr":             c.HTTP.Addr,
			"shutdown_timeout": int64(c.HTTP.ShutdownTimeout),
		},
		"store": map[string]any{
			"driver": c.Store.Driver,
			"path":   c.Store.Path,
			"dsn":    c.Store.DSN,
		},
		"realtime": map[string]any{
			"driver":          c.Realtime.Driver,
			"redis_addr":      c.Realtime.RedisAddr,
			"key_prefix":      c.Realtime.KeyPrefix,
			"value_ttl":       int64(c.Realtime.ValueTTL),
			"publish_timeout": int64(c.Realtime.PublishTimeout),
		},
		"auth": map[string]any{
			"jwt_secret": c.Auth.JWTSecret,
		},
		"checkout": map[string]any{
			"poll_interval":   int64(c.Checkout.PollInterval),
			"reaper_interval": int64(c.Checkout.ReaperInterval),
		},
		"log": map[string]any{
			"level":  c.Log.Level,
			"format": c.Log.Format,
		},
	}
}
