package config

import (
	"errors"
	"fmt"
	"time"
)

// Defaults applied when neither the config file nor a flag sets a value.
const (
	DefaultListen             = ":8085"
	DefaultMaxConnections     = 64
	DefaultIdleTimeout        = 10 * time.Minute
	DefaultWriteTimeout       = 10 * time.Second
	DefaultStreamStallTimeout = 60 * time.Second
	DefaultStorageBackend     = "file"
	DefaultStoragePath        = "./sessions"
	DefaultLogLevel           = "info"
	DefaultProvider           = "openai"
)

// Config represents an llmer.yaml configuration file.
// All values are optional. CLI flags always override config values.
type Config struct {
	Listen             string        `yaml:"listen"`
	MaxConnections     int64         `yaml:"max_connections"`
	RejectWhenFull     bool          `yaml:"reject_when_full"`
	IdleTimeout        Duration      `yaml:"idle_timeout"`
	WriteTimeout       Duration      `yaml:"write_timeout"`
	StreamStallTimeout Duration      `yaml:"stream_stall_timeout"`
	Log                LogConfig     `yaml:"log"`
	Backend            BackendConfig `yaml:"backend"`
	Tokens             TokensConfig  `yaml:"tokens"`
	Storage            StorageConfig `yaml:"storage"`
	Adapter            AdapterConfig `yaml:"adapter"`
	Metrics            MetricsConfig `yaml:"metrics"`
}

// LogConfig holds logging settings.
type LogConfig struct {
	Level string `yaml:"level"`
}

// BackendConfig selects and configures the generative-text backend.
type BackendConfig struct {
	// Provider is "openai" or "scripted".
	Provider string   `yaml:"provider"`
	Model    string   `yaml:"model"`
	APIKey   string   `yaml:"api_key"`
	BaseURL  string   `yaml:"base_url"`
	Timeout  Duration `yaml:"timeout"`
}

// TokensConfig selects the tokenizer model.
type TokensConfig struct {
	Model string `yaml:"model"`
}

// StorageConfig holds stats and image storage settings.
type StorageConfig struct {
	// Backend is "file", "fs" or "s3".
	Backend     string `yaml:"backend"`
	Path        string `yaml:"path"`
	Dataset     string `yaml:"dataset"`
	Region      string `yaml:"region"`
	Endpoint    string `yaml:"endpoint"`
	S3PathStyle bool   `yaml:"s3_path_style"`
}

// AdapterConfig holds cycle notification settings.
type AdapterConfig struct {
	// Type is "", "webhook" or "redis".
	Type     string            `yaml:"type"`
	URL      string            `yaml:"url"`
	Channel  string            `yaml:"channel,omitempty"`
	Encoding string            `yaml:"encoding,omitempty"`
	Headers  map[string]string `yaml:"headers,omitempty"`
	Timeout  Duration          `yaml:"timeout,omitempty"`
	Retries  *int              `yaml:"retries,omitempty"`
}

// MetricsConfig holds the Prometheus exporter settings.
type MetricsConfig struct {
	// Listen is the exporter address. Empty disables the exporter.
	Listen string `yaml:"listen"`
}

// Duration wraps time.Duration for YAML string parsing (e.g. "10s", "5m").
type Duration struct {
	time.Duration
}

// UnmarshalYAML parses a duration string like "10s" or "5m30s".
func (d *Duration) UnmarshalYAML(unmarshal func(any) error) error {
	var s string
	if err := unmarshal(&s); err != nil {
		return err
	}
	if s == "" {
		return nil
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	if parsed < 0 {
		return fmt.Errorf("duration %q must not be negative", s)
	}
	d.Duration = parsed
	return nil
}

// Default returns a Config with every default applied.
func Default() *Config {
	cfg := &Config{}
	cfg.ApplyDefaults()
	return cfg
}

// ApplyDefaults fills unset fields with their defaults.
// Zero durations keep their meaning as "disabled" only when set explicitly
// through flags; an absent YAML key gets the default.
func (c *Config) ApplyDefaults() {
	if c.Listen == "" {
		c.Listen = DefaultListen
	}
	if c.MaxConnections == 0 {
		c.MaxConnections = DefaultMaxConnections
	}
	if c.IdleTimeout.Duration == 0 {
		c.IdleTimeout.Duration = DefaultIdleTimeout
	}
	if c.WriteTimeout.Duration == 0 {
		c.WriteTimeout.Duration = DefaultWriteTimeout
	}
	if c.StreamStallTimeout.Duration == 0 {
		c.StreamStallTimeout.Duration = DefaultStreamStallTimeout
	}
	if c.Log.Level == "" {
		c.Log.Level = DefaultLogLevel
	}
	if c.Backend.Provider == "" {
		c.Backend.Provider = DefaultProvider
	}
	if c.Storage.Backend == "" {
		c.Storage.Backend = DefaultStorageBackend
	}
	if c.Storage.Path == "" && c.Storage.Backend != "s3" {
		c.Storage.Path = DefaultStoragePath
	}
}

// Validate rejects values and combinations serve cannot run with.
func (c *Config) Validate() error {
	var errs []error

	if c.MaxConnections < 1 {
		errs = append(errs, fmt.Errorf("max_connections must be >= 1, got %d", c.MaxConnections))
	}

	switch c.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Errorf("log.level must be debug, info, warn or error, got %q", c.Log.Level))
	}

	switch c.Backend.Provider {
	case "openai":
		if c.Backend.APIKey == "" {
			errs = append(errs, errors.New("backend.api_key is required for the openai provider (set OPENAI_API_KEY)"))
		}
	case "scripted":
	default:
		errs = append(errs, fmt.Errorf("backend.provider must be openai or scripted, got %q", c.Backend.Provider))
	}

	switch c.Storage.Backend {
	case "file", "fs":
		if c.Storage.Path == "" {
			errs = append(errs, fmt.Errorf("storage.path is required for the %s backend", c.Storage.Backend))
		}
	case "s3":
		if c.Storage.Path == "" {
			errs = append(errs, errors.New("storage.path (bucket[/prefix]) is required for the s3 backend"))
		}
	default:
		errs = append(errs, fmt.Errorf("storage.backend must be file, fs or s3, got %q", c.Storage.Backend))
	}
	if c.Storage.Backend != "s3" && (c.Storage.Region != "" || c.Storage.Endpoint != "" || c.Storage.S3PathStyle) {
		errs = append(errs, errors.New("storage.region, storage.endpoint and storage.s3_path_style apply only to the s3 backend"))
	}

	switch c.Adapter.Type {
	case "":
		if c.Adapter.URL != "" {
			errs = append(errs, errors.New("adapter.url is set but adapter.type is empty"))
		}
	case "webhook", "redis":
		if c.Adapter.URL == "" {
			errs = append(errs, fmt.Errorf("adapter.url is required for the %s adapter", c.Adapter.Type))
		}
	default:
		errs = append(errs, fmt.Errorf("adapter.type must be webhook or redis, got %q", c.Adapter.Type))
	}
	if c.Adapter.Retries != nil && *c.Adapter.Retries < 0 {
		errs = append(errs, fmt.Errorf("adapter.retries must be >= 0, got %d", *c.Adapter.Retries))
	}
	switch c.Adapter.Encoding {
	case "", "json":
	case "msgpack":
		if c.Adapter.Type != "redis" {
			errs = append(errs, errors.New("adapter.encoding msgpack requires the redis adapter"))
		}
	default:
		errs = append(errs, fmt.Errorf("adapter.encoding must be json or msgpack, got %q", c.Adapter.Encoding))
	}

	return errors.Join(errs...)
}
