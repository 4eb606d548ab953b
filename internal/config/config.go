// Package config provides configuration management for airwave using Viper.
// It supports configuration from files, environment variables, and defaults.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"
)

// Default configuration values.
const (
	defaultServerPort           = 5004
	defaultServerTimeout        = 30 * time.Second
	defaultShutdownTimeout      = 10 * time.Second
	defaultMaxOpenConns         = 25
	defaultMaxIdleConns         = 10
	defaultConnMaxIdleTime      = 30 * time.Minute
	defaultTunerCount           = 4
	defaultBuildDays            = 2
	defaultStartupTimeout       = 15 * time.Second
	defaultStallTimeout         = 10 * time.Second
	defaultMaxProcesses         = 8
	defaultMemoryBudget         = ByteSize(2 << 30) // 2GB
	defaultFDBudget             = 128
	defaultProcessMaxAge        = 6 * time.Hour
	defaultMaxSessionsPerChan   = 20
	defaultSessionIdleTimeout   = 30 * time.Second
	defaultChannelIdleGrace     = 5 * time.Second
	defaultMaxAutoFixesPerHour  = 12
	defaultMaxConsecutiveFails  = 3
	defaultApprovalRiskLevel    = 3
	defaultBackupIntervalHours  = 24
	defaultBackupKeepCount      = 7
	defaultBackupKeepDays       = 30
	defaultRingBufferSize       = ByteSize(8 << 20) // 8MB per channel
	defaultRingBufferChunks     = 512
)

// Config holds all configuration for the application.
type Config struct {
	Server      ServerConfig      `mapstructure:"server"`
	Database    DatabaseConfig    `mapstructure:"database"`
	Logging     LoggingConfig     `mapstructure:"logging"`
	HDHomeRun   HDHomeRunConfig   `mapstructure:"hdhomerun"`
	Playout     PlayoutConfig     `mapstructure:"playout"`
	FFmpeg      FFmpegConfig      `mapstructure:"ffmpeg"`
	ProcessPool ProcessPoolConfig `mapstructure:"process_pool"`
	Sessions    SessionConfig     `mapstructure:"session_manager"`
	SelfHeal    SelfHealConfig    `mapstructure:"self_heal"`
	Backup      BackupConfig      `mapstructure:"database_backup"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	PublicURL       string        `mapstructure:"public_url"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// DatabaseConfig holds database connection configuration.
type DatabaseConfig struct {
	Driver          string        `mapstructure:"driver"` // sqlite, postgres, mysql
	DSN             string        `mapstructure:"dsn"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `mapstructure:"conn_max_idle_time"`
	LogLevel        string        `mapstructure:"log_level"` // silent, error, warn, info
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level      string `mapstructure:"level"`  // debug, info, warn, error
	Format     string `mapstructure:"format"` // json, text
	AddSource  bool   `mapstructure:"add_source"`
	TimeFormat string `mapstructure:"time_format"`
}

// HDHomeRunConfig holds the tuner emulation configuration.
type HDHomeRunConfig struct {
	Enabled      bool   `mapstructure:"enabled"`
	DeviceID     string `mapstructure:"device_id"`
	FriendlyName string `mapstructure:"friendly_name"`
	TunerCount   int    `mapstructure:"tuner_count"`
	EnableSSDP   bool   `mapstructure:"enable_ssdp"`
}

// PlayoutConfig holds playout engine configuration.
type PlayoutConfig struct {
	// BuildDays is the EPG/timeline materialization horizon in days.
	BuildDays int `mapstructure:"build_days"`
	// PreWarmChannels are channel numbers started eagerly at boot.
	PreWarmChannels []string `mapstructure:"pre_warm_channels"`
	// RingBufferSize is the per-channel ring buffer capacity.
	RingBufferSize ByteSize `mapstructure:"ring_buffer_size"`
	// RingBufferChunks is the maximum chunk count kept per channel.
	RingBufferChunks int `mapstructure:"ring_buffer_chunks"`
}

// FFmpegConfig holds FFmpeg binary configuration.
type FFmpegConfig struct {
	Path           string        `mapstructure:"path"`            // Path to ffmpeg binary (empty = auto-detect)
	DefaultHWAccel string        `mapstructure:"default_hwaccel"` // none, vaapi, cuda, qsv, videotoolbox
	StartupTimeout time.Duration `mapstructure:"startup_timeout"`
	StallTimeout   time.Duration `mapstructure:"stall_timeout"`
}

// ProcessPoolConfig holds FFmpeg process pool budgets.
type ProcessPoolConfig struct {
	MaxProcesses      int           `mapstructure:"max_processes"`
	MemoryBudgetBytes ByteSize      `mapstructure:"memory_budget_bytes"`
	FDBudget          int           `mapstructure:"fd_budget"`
	MaxAge            time.Duration `mapstructure:"max_age_seconds"`
	QueueTimeout      time.Duration `mapstructure:"queue_timeout"`
	MonitorInterval   time.Duration `mapstructure:"monitor_interval"`
}

// SessionConfig holds client session management configuration.
type SessionConfig struct {
	MaxSessionsPerChannel int           `mapstructure:"max_sessions_per_channel"`
	IdleTimeout           time.Duration `mapstructure:"idle_timeout_seconds"`
	ChannelIdleGrace      time.Duration `mapstructure:"channel_idle_grace_seconds"`
}

// SelfHealConfig holds the self-healing loop configuration.
type SelfHealConfig struct {
	Enabled                  bool `mapstructure:"enabled"`
	MaxAutoFixesPerHour      int  `mapstructure:"max_auto_fixes_per_hour"`
	MaxConsecutiveFailures   int  `mapstructure:"max_consecutive_failures"`
	RequireApprovalAboveRisk int  `mapstructure:"require_approval_above_risk"`
	UseErrorScreenFallback   bool `mapstructure:"use_error_screen_fallback"`
}

// BackupConfig holds scheduled database backup configuration.
type BackupConfig struct {
	Enabled       bool   `mapstructure:"enabled"`
	IntervalHours int    `mapstructure:"interval_hours"`
	KeepCount     int    `mapstructure:"keep_count"`
	KeepDays      int    `mapstructure:"keep_days"`
	Compress      bool   `mapstructure:"compress"`
	Directory     string `mapstructure:"directory"` // empty = alongside the database file
}

// Load reads configuration from file and environment variables.
// Environment variables take precedence over file configuration.
// Environment variables are prefixed with AIRWAVE_ and use underscores for
// nesting. Example: AIRWAVE_SERVER_PORT=5004.
func Load(configPath string) (*Config, error) {
	v := viper.New()

	SetDefaults(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./configs")
		v.AddConfigPath("/etc/airwave")
		v.AddConfigPath("$HOME/.airwave")
	}

	v.SetEnvPrefix("AIRWAVE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var configFileNotFoundError viper.ConfigFileNotFoundError
		if !errors.As(err, &configFileNotFoundError) {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		// Config file not found is OK - we'll use defaults and env vars
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		mapstructure.TextUnmarshallerHookFunc(),
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
	))); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

// SetDefaults configures default values for all configuration options.
// This should be called before reading the config file so defaults are in place.
func SetDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", defaultServerPort)
	v.SetDefault("server.public_url", "")
	v.SetDefault("server.read_timeout", defaultServerTimeout)
	// Write timeout must be zero: stream responses are unbounded.
	v.SetDefault("server.write_timeout", time.Duration(0))
	v.SetDefault("server.shutdown_timeout", defaultShutdownTimeout)

	// Database defaults
	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.dsn", "airwave.db")
	v.SetDefault("database.max_open_conns", defaultMaxOpenConns)
	v.SetDefault("database.max_idle_conns", defaultMaxIdleConns)
	v.SetDefault("database.conn_max_lifetime", time.Hour)
	v.SetDefault("database.conn_max_idle_time", defaultConnMaxIdleTime)
	v.SetDefault("database.log_level", "warn")

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.add_source", false)
	v.SetDefault("logging.time_format", time.RFC3339)

	// Tuner emulation defaults
	v.SetDefault("hdhomerun.enabled", true)
	v.SetDefault("hdhomerun.device_id", "")
	v.SetDefault("hdhomerun.friendly_name", "airwave")
	v.SetDefault("hdhomerun.tuner_count", defaultTunerCount)
	v.SetDefault("hdhomerun.enable_ssdp", false)

	// Playout defaults
	v.SetDefault("playout.build_days", defaultBuildDays)
	v.SetDefault("playout.pre_warm_channels", []string{})
	v.SetDefault("playout.ring_buffer_size", int64(defaultRingBufferSize))
	v.SetDefault("playout.ring_buffer_chunks", defaultRingBufferChunks)

	// FFmpeg defaults
	v.SetDefault("ffmpeg.path", "")
	v.SetDefault("ffmpeg.default_hwaccel", "none")
	v.SetDefault("ffmpeg.startup_timeout", defaultStartupTimeout)
	v.SetDefault("ffmpeg.stall_timeout", defaultStallTimeout)

	// Process pool defaults
	v.SetDefault("process_pool.max_processes", defaultMaxProcesses)
	v.SetDefault("process_pool.memory_budget_bytes", int64(defaultMemoryBudget))
	v.SetDefault("process_pool.fd_budget", defaultFDBudget)
	v.SetDefault("process_pool.max_age_seconds", defaultProcessMaxAge)
	v.SetDefault("process_pool.queue_timeout", 10*time.Second)
	v.SetDefault("process_pool.monitor_interval", 5*time.Second)

	// Session manager defaults
	v.SetDefault("session_manager.max_sessions_per_channel", defaultMaxSessionsPerChan)
	v.SetDefault("session_manager.idle_timeout_seconds", defaultSessionIdleTimeout)
	v.SetDefault("session_manager.channel_idle_grace_seconds", defaultChannelIdleGrace)

	// Self-heal defaults
	v.SetDefault("self_heal.enabled", true)
	v.SetDefault("self_heal.max_auto_fixes_per_hour", defaultMaxAutoFixesPerHour)
	v.SetDefault("self_heal.max_consecutive_failures", defaultMaxConsecutiveFails)
	v.SetDefault("self_heal.require_approval_above_risk", defaultApprovalRiskLevel)
	v.SetDefault("self_heal.use_error_screen_fallback", true)

	// Backup defaults
	v.SetDefault("database_backup.enabled", false)
	v.SetDefault("database_backup.interval_hours", defaultBackupIntervalHours)
	v.SetDefault("database_backup.keep_count", defaultBackupKeepCount)
	v.SetDefault("database_backup.keep_days", defaultBackupKeepDays)
	v.SetDefault("database_backup.compress", true)
	v.SetDefault("database_backup.directory", "")
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	const maxPort = 65535
	if c.Server.Port < 1 || c.Server.Port > maxPort {
		return fmt.Errorf("server.port must be between 1 and %d", maxPort)
	}

	validDrivers := map[string]bool{"sqlite": true, "postgres": true, "mysql": true}
	if !validDrivers[c.Database.Driver] {
		return fmt.Errorf("database.driver must be one of: sqlite, postgres, mysql")
	}
	if c.Database.DSN == "" {
		return fmt.Errorf("database.dsn is required")
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[c.Logging.Level] {
		return fmt.Errorf("logging.level must be one of: debug, info, warn, error")
	}
	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[c.Logging.Format] {
		return fmt.Errorf("logging.format must be one of: json, text")
	}

	if c.HDHomeRun.TunerCount < 1 {
		return fmt.Errorf("hdhomerun.tuner_count must be at least 1")
	}
	if c.Playout.BuildDays < 1 {
		return fmt.Errorf("playout.build_days must be at least 1")
	}
	if c.ProcessPool.MaxProcesses < 1 {
		return fmt.Errorf("process_pool.max_processes must be at least 1")
	}
	if c.ProcessPool.MemoryBudgetBytes <= 0 {
		return fmt.Errorf("process_pool.memory_budget_bytes must be positive")
	}
	if c.Sessions.MaxSessionsPerChannel < 1 {
		return fmt.Errorf("session_manager.max_sessions_per_channel must be at least 1")
	}

	return nil
}

// Address returns the server address in host:port format.
func (c *ServerConfig) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}
