package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testFlags() *pflag.FlagSet {
	flags := pflag.NewFlagSet("worldping", pflag.ContinueOnError)
	flags.IntP("count", "c", 5, "")
	flags.Int("concurrency", 1, "")
	flags.Bool("native", false, "")
	flags.String("serve", "", "")
	return flags
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("", nil)
	require.NoError(t, err)

	assert.Equal(t, "ping", cfg.Probe.Binary)
	assert.Equal(t, "runescape.com", cfg.Probe.Domain)
	assert.Equal(t, 30, cfg.Probe.TimeoutSeconds)
	assert.Equal(t, 1, cfg.Probe.Concurrency)
	assert.False(t, cfg.Probe.Native)
	assert.Equal(t, 5, cfg.Report.Count)
	assert.Empty(t, cfg.API.Addr)
	assert.Equal(t, 1200, cfg.API.RateLimitPerMinute)
	assert.Empty(t, cfg.Export.Type)
	assert.Equal(t, "worldping", cfg.Metrics.Namespace)
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.Equal(t, "text", cfg.Logging.Format)
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "worldping.yaml")
	content := `
probe:
  binary: /usr/bin/ping
  timeout_seconds: 10
  concurrency: 4
report:
  count: 3
logging:
  format: json
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))

	cfg, err := Load(path, nil)
	require.NoError(t, err)
	assert.Equal(t, "/usr/bin/ping", cfg.Probe.Binary)
	assert.Equal(t, 10, cfg.Probe.TimeoutSeconds)
	assert.Equal(t, 4, cfg.Probe.Concurrency)
	assert.Equal(t, 3, cfg.Report.Count)
	assert.Equal(t, "json", cfg.Logging.Format)
	assert.Equal(t, "runescape.com", cfg.Probe.Domain, "unset keys keep defaults")
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"), nil)
	require.Error(t, err)
}

func TestLoadEnv(t *testing.T) {
	t.Setenv("WORLDPING_PROBE_DOMAIN", "example.org")
	t.Setenv("WORLDPING_REPORT_COUNT", "9")

	cfg, err := Load("", nil)
	require.NoError(t, err)
	assert.Equal(t, "example.org", cfg.Probe.Domain)
	assert.Equal(t, 9, cfg.Report.Count)
}

func TestLoadFlagsOverride(t *testing.T) {
	t.Setenv("WORLDPING_REPORT_COUNT", "9")

	flags := testFlags()
	require.NoError(t, flags.Parse([]string{"-c", "2", "--serve", ":8090", "--native"}))

	cfg, err := Load("", flags)
	require.NoError(t, err)
	assert.Equal(t, 2, cfg.Report.Count, "flag wins over env")
	assert.Equal(t, ":8090", cfg.API.Addr)
	assert.True(t, cfg.Probe.Native)
	assert.Equal(t, 1, cfg.Probe.Concurrency)
}

func TestLoadUnchangedFlagsKeepDefaults(t *testing.T) {
	flags := testFlags()
	require.NoError(t, flags.Parse(nil))

	cfg, err := Load("", flags)
	require.NoError(t, err)
	assert.Equal(t, 5, cfg.Report.Count)
}

func TestLoadNegativeCount(t *testing.T) {
	flags := testFlags()
	require.NoError(t, flags.Parse([]string{"--count=-1"}))

	_, err := Load("", flags)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrInvalidCount))
}

func TestValidate(t *testing.T) {
	base := func() Config {
		return Config{
			Probe:   ProbeConfig{Binary: "ping", Domain: "runescape.com", TimeoutSeconds: 30, Concurrency: 1},
			Report:  ReportConfig{Count: 5},
			Logging: LoggingConfig{Level: "info", Format: "text"},
		}
	}

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"valid", func(c *Config) {}, false},
		{"zero count", func(c *Config) { c.Report.Count = 0 }, false},
		{"negative count", func(c *Config) { c.Report.Count = -3 }, true},
		{"zero concurrency", func(c *Config) { c.Probe.Concurrency = 0 }, true},
		{"negative timeout", func(c *Config) { c.Probe.TimeoutSeconds = -1 }, true},
		{"negative interval", func(c *Config) { c.Probe.IntervalMs = -5 }, true},
		{"empty domain", func(c *Config) { c.Probe.Domain = "" }, true},
		{"empty binary", func(c *Config) { c.Probe.Binary = "" }, true},
		{"empty binary native", func(c *Config) { c.Probe.Binary = ""; c.Probe.Native = true }, false},
		{"file export", func(c *Config) { c.Export = ExportConfig{Type: "file", Path: "out.json"} }, false},
		{"export without path", func(c *Config) { c.Export = ExportConfig{Type: "sqlite"} }, true},
		{"unknown export", func(c *Config) { c.Export = ExportConfig{Type: "s3", Path: "bucket"} }, true},
		{"bad log format", func(c *Config) { c.Logging.Format = "xml" }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := base()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestParseExport(t *testing.T) {
	exp, err := ParseExport("file:/tmp/ranking.json")
	require.NoError(t, err)
	assert.Equal(t, ExportConfig{Type: "file", Path: "/tmp/ranking.json"}, exp)

	exp, err = ParseExport("redis:localhost:6379")
	require.NoError(t, err)
	assert.Equal(t, ExportConfig{Type: "redis", Path: "localhost:6379"}, exp)

	for _, bad := range []string{"", "file", "file:", ":path"} {
		_, err := ParseExport(bad)
		assert.Error(t, err, bad)
	}
}
