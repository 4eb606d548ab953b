package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "0.0.0.0", cfg.Server.Host)
	assert.Equal(t, 5004, cfg.Server.Port)
	assert.Equal(t, "sqlite", cfg.Database.Driver)
	assert.Equal(t, "airwave.db", cfg.Database.DSN)
	assert.Equal(t, 4, cfg.HDHomeRun.TunerCount)
	assert.Equal(t, 2, cfg.Playout.BuildDays)
	assert.Equal(t, 8, cfg.ProcessPool.MaxProcesses)
	assert.Equal(t, int64(2<<30), cfg.ProcessPool.MemoryBudgetBytes.Bytes())
	assert.Equal(t, 15*time.Second, cfg.FFmpeg.StartupTimeout)
	assert.Equal(t, 10*time.Second, cfg.FFmpeg.StallTimeout)
	assert.Equal(t, 30*time.Second, cfg.Sessions.IdleTimeout)
	assert.Equal(t, 5*time.Second, cfg.Sessions.ChannelIdleGrace)
	assert.True(t, cfg.SelfHeal.Enabled)
	assert.False(t, cfg.Backup.Enabled)
}

func TestLoadFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := `
server:
  port: 9090
  public_url: "http://tv.example.com:9090"
hdhomerun:
  friendly_name: "Living Room"
  tuner_count: 2
process_pool:
  max_processes: 3
  memory_budget_bytes: "512MB"
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, "http://tv.example.com:9090", cfg.Server.PublicURL)
	assert.Equal(t, "Living Room", cfg.HDHomeRun.FriendlyName)
	assert.Equal(t, 2, cfg.HDHomeRun.TunerCount)
	assert.Equal(t, 3, cfg.ProcessPool.MaxProcesses)
	assert.Equal(t, int64(512<<20), cfg.ProcessPool.MemoryBudgetBytes.Bytes())
}

func TestValidateRejectsBadValues(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"bad port", func(c *Config) { c.Server.Port = 0 }},
		{"bad driver", func(c *Config) { c.Database.Driver = "mongodb" }},
		{"empty dsn", func(c *Config) { c.Database.DSN = "" }},
		{"bad log level", func(c *Config) { c.Logging.Level = "verbose" }},
		{"zero tuners", func(c *Config) { c.HDHomeRun.TunerCount = 0 }},
		{"zero build days", func(c *Config) { c.Playout.BuildDays = 0 }},
		{"zero pool", func(c *Config) { c.ProcessPool.MaxProcesses = 0 }},
		{"zero memory", func(c *Config) { c.ProcessPool.MemoryBudgetBytes = 0 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := viper.New()
			SetDefaults(v)
			var cfg Config
			require.NoError(t, v.Unmarshal(&cfg))
			require.NoError(t, cfg.Validate())

			tt.mutate(&cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestParseByteSize(t *testing.T) {
	tests := []struct {
		in   string
		want int64
	}{
		{"5MB", 5 << 20},
		{"1.5 GB", 3 << 29},
		{"500KB", 500 << 10},
		{"5242880", 5242880},
		{"0", 0},
		{"2tb", 2 << 40},
	}
	for _, tt := range tests {
		got, err := ParseByteSize(tt.in)
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.want, got.Bytes(), tt.in)
	}

	for _, bad := range []string{"", "lots", "-5MB", "MB"} {
		_, err := ParseByteSize(bad)
		assert.Error(t, err, bad)
	}
}

func TestByteSizeString(t *testing.T) {
	assert.Equal(t, "5MB", ByteSize(5<<20).String())
	assert.Equal(t, "2GB", ByteSize(2<<30).String())
	assert.Equal(t, "100B", ByteSize(100).String())
}

func TestAddress(t *testing.T) {
	sc := ServerConfig{Host: "127.0.0.1", Port: 5004}
	assert.Equal(t, "127.0.0.1:5004", sc.Address())
}
