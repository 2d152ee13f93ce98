package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// EnvPrefix prefixes environment overrides, e.g. WORLDPING_PROBE_BINARY
const EnvPrefix = "WORLDPING"

// ErrInvalidCount means the requested number of reported worlds is negative
var ErrInvalidCount = errors.New("count must be a non-negative integer")

type Config struct {
	Probe   ProbeConfig   `mapstructure:"probe"`
	Report  ReportConfig  `mapstructure:"report"`
	API     APIConfig     `mapstructure:"api"`
	Export  ExportConfig  `mapstructure:"export"`
	Metrics MetricsConfig `mapstructure:"metrics"`
	Logging LoggingConfig `mapstructure:"logging"`
}

type ProbeConfig struct {
	Binary         string `mapstructure:"binary"`
	Domain         string `mapstructure:"domain"`
	TimeoutSeconds int    `mapstructure:"timeout_seconds"` // 0 waits forever
	IntervalMs     int    `mapstructure:"interval_ms"`
	Concurrency    int    `mapstructure:"concurrency"`
	Native         bool   `mapstructure:"native"`     // in-process ICMP instead of the ping binary
	Privileged     bool   `mapstructure:"privileged"` // raw sockets for the native prober
}

type ReportConfig struct {
	Count int `mapstructure:"count"`
}

type APIConfig struct {
	Addr               string `mapstructure:"addr"` // empty disables the status server
	RateLimitPerMinute int    `mapstructure:"rate_limit_per_minute"`
}

type ExportConfig struct {
	Type string `mapstructure:"type"` // "", "file", "sqlite", "redis"
	Path string `mapstructure:"path"`
}

type MetricsConfig struct {
	Namespace string `mapstructure:"namespace"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"` // "text" or "json"
}

// flagKeys maps command line flags onto config keys
var flagKeys = map[string]string{
	"count":       "report.count",
	"concurrency": "probe.concurrency",
	"native":      "probe.native",
	"serve":       "api.addr",
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("probe.binary", "ping")
	v.SetDefault("probe.domain", "runescape.com")
	v.SetDefault("probe.timeout_seconds", 30)
	v.SetDefault("probe.interval_ms", 0)
	v.SetDefault("probe.concurrency", 1)
	v.SetDefault("probe.native", false)
	v.SetDefault("probe.privileged", false)
	v.SetDefault("report.count", 5)
	v.SetDefault("api.addr", "")
	v.SetDefault("api.rate_limit_per_minute", 1200)
	v.SetDefault("export.type", "")
	v.SetDefault("export.path", "")
	v.SetDefault("metrics.namespace", "worldping")
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "text")
}

// Load builds the configuration from defaults, an optional config file,
// WORLDPING_* environment variables and the changed flags in flags, in
// increasing order of precedence.
func Load(filePath string, flags *pflag.FlagSet) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if filePath != "" {
		v.SetConfigFile(filePath)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
	}

	if flags != nil {
		for name, key := range flagKeys {
			if flag := flags.Lookup(name); flag != nil {
				if err := v.BindPFlag(key, flag); err != nil {
					return nil, fmt.Errorf("bind flag %s: %w", name, err)
				}
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &cfg, nil
}

// Validate checks configuration validity
func (c *Config) Validate() error {
	if c.Report.Count < 0 {
		return fmt.Errorf("%w: got %d", ErrInvalidCount, c.Report.Count)
	}
	if c.Probe.Concurrency < 1 || c.Probe.Concurrency > 256 {
		return fmt.Errorf("probe concurrency must be between 1 and 256")
	}
	if c.Probe.TimeoutSeconds < 0 {
		return fmt.Errorf("probe timeout_seconds must not be negative")
	}
	if c.Probe.IntervalMs < 0 {
		return fmt.Errorf("probe interval_ms must not be negative")
	}
	if c.Probe.Domain == "" {
		return fmt.Errorf("probe domain must not be empty")
	}
	if !c.Probe.Native && c.Probe.Binary == "" {
		return fmt.Errorf("probe binary must not be empty")
	}
	switch c.Export.Type {
	case "":
	case "file", "sqlite", "redis":
		if c.Export.Path == "" {
			return fmt.Errorf("export path is required for export type %q", c.Export.Type)
		}
	default:
		return fmt.Errorf("export type must be 'file', 'sqlite', or 'redis'")
	}
	if c.Logging.Format != "text" && c.Logging.Format != "json" {
		return fmt.Errorf("logging format must be 'text' or 'json'")
	}
	return nil
}

// ParseExport splits an export target of the form "<type>:<path>". Redis
// addresses keep their own colons: "redis:localhost:6379".
func ParseExport(target string) (ExportConfig, error) {
	kind, path, ok := strings.Cut(target, ":")
	if !ok || kind == "" || path == "" {
		return ExportConfig{}, fmt.Errorf("export target %q must look like <type>:<path>", target)
	}
	return ExportConfig{Type: kind, Path: path}, nil
}
