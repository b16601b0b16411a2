// Package config loads and validates service configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/spf13/viper"

	"github.com/JakeFAU/pricewise/internal/orchestrator"
	"github.com/JakeFAU/pricewise/internal/progress"
	"github.com/JakeFAU/pricewise/internal/scheduler"
	"github.com/JakeFAU/pricewise/internal/staleness"
)

// EnvPrefix scopes environment overrides, e.g. PRICEWISE_SERVER_PORT.
const EnvPrefix = "PRICEWISE"

// Storage backends accepted by storage.backend.
const (
	BackendNone   = "none"
	BackendMemory = "memory"
	BackendLocal  = "local"
	BackendGCS    = "gcs"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Auth      AuthConfig      `mapstructure:"auth"`
	Data      DataConfig      `mapstructure:"data"`
	Scraper   ScraperConfig   `mapstructure:"scraper"`
	Staleness StalenessConfig `mapstructure:"staleness"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
	Storage   StorageConfig   `mapstructure:"storage"`
	DB        DBConfig        `mapstructure:"db"`
	PubSub    PubSubConfig    `mapstructure:"pubsub"`
	Progress  ProgressConfig  `mapstructure:"progress"`
	Logging   LoggingConfig   `mapstructure:"logging"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port            int           `mapstructure:"port"`
	RequestTimeout  time.Duration `mapstructure:"request_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	// ControlRPS throttles mutating control requests per client; 0 disables.
	ControlRPS   float64 `mapstructure:"control_rps"`
	ControlBurst int     `mapstructure:"control_burst"`
}

// AuthConfig defines API authentication toggles.
type AuthConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	APIKey  string `mapstructure:"api_key"`
}

// DataConfig locates the on-disk state.
type DataConfig struct {
	Dir string `mapstructure:"dir"`
}

// ScraperConfig describes how the external scraper is launched and supervised.
type ScraperConfig struct {
	Command      string        `mapstructure:"command"`
	Args         []string      `mapstructure:"args"`
	WorkDir      string        `mapstructure:"workdir"`
	Env          []string      `mapstructure:"env"`
	GracePeriod  time.Duration `mapstructure:"grace_period"`
	KillTimeout  time.Duration `mapstructure:"kill_timeout"`
	PollInterval time.Duration `mapstructure:"poll_interval"`
	HistoryLimit int           `mapstructure:"history_limit"`
	LogTailLines int           `mapstructure:"log_tail_lines"`
	KeepStaging  bool          `mapstructure:"keep_staging"`
}

// StalenessConfig tunes when an analysis is considered outdated.
type StalenessConfig struct {
	MaxAge   time.Duration `mapstructure:"max_age"`
	Timezone string        `mapstructure:"timezone"`
}

// SchedulerConfig holds optional cron expressions. Empty disables a job.
type SchedulerConfig struct {
	RefreshCron string `mapstructure:"refresh_cron"`
	RunCron     string `mapstructure:"run_cron"`
}

// StorageConfig selects where committed snapshots are mirrored.
type StorageConfig struct {
	Backend   string `mapstructure:"backend"`
	LocalDir  string `mapstructure:"local_dir"`
	GCSBucket string `mapstructure:"gcs_bucket"`
	Prefix    string `mapstructure:"prefix"`
}

// DBConfig controls access to the optional Postgres run ledger.
type DBConfig struct {
	DSN             string        `mapstructure:"dsn"`
	Table           string        `mapstructure:"table"`
	MaxConns        int32         `mapstructure:"max_conns"`
	MinConns        int32         `mapstructure:"min_conns"`
	MaxConnLifetime time.Duration `mapstructure:"max_conn_lifetime"`
}

// PubSubConfig holds metadata for run completion notifications.
type PubSubConfig struct {
	ProjectID string `mapstructure:"project_id"`
	TopicName string `mapstructure:"topic_name"`
}

// ProgressConfig sizes the lifecycle event hub.
type ProgressConfig struct {
	BufferSize    int           `mapstructure:"buffer_size"`
	BatchMaxItems int           `mapstructure:"batch_max_events"`
	BatchMaxWait  time.Duration `mapstructure:"batch_max_wait"`
	SinkTimeout   time.Duration `mapstructure:"sink_timeout"`
	LogEnabled    bool          `mapstructure:"log_enabled"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool   `mapstructure:"development"`
	Level       string `mapstructure:"level"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.request_timeout", 60*time.Second)
	v.SetDefault("server.shutdown_timeout", 20*time.Second)
	v.SetDefault("server.control_rps", 1.0)
	v.SetDefault("server.control_burst", 5)
	v.SetDefault("auth.enabled", false)
	v.SetDefault("auth.api_key", "")
	v.SetDefault("data.dir", "data")
	v.SetDefault("scraper.command", "")
	v.SetDefault("scraper.workdir", "")
	v.SetDefault("scraper.grace_period", 10*time.Second)
	v.SetDefault("scraper.kill_timeout", 5*time.Second)
	v.SetDefault("scraper.poll_interval", time.Second)
	v.SetDefault("scraper.history_limit", 20)
	v.SetDefault("scraper.log_tail_lines", 50)
	v.SetDefault("scraper.keep_staging", false)
	v.SetDefault("staleness.max_age", 24*time.Hour)
	v.SetDefault("staleness.timezone", "UTC")
	v.SetDefault("scheduler.refresh_cron", "")
	v.SetDefault("scheduler.run_cron", "")
	v.SetDefault("storage.backend", BackendNone)
	v.SetDefault("storage.local_dir", "")
	v.SetDefault("storage.gcs_bucket", "")
	v.SetDefault("storage.prefix", "snapshots")
	v.SetDefault("db.dsn", "")
	v.SetDefault("db.table", "pricewise_runs")
	v.SetDefault("db.max_conns", 4)
	v.SetDefault("db.min_conns", 0)
	v.SetDefault("db.max_conn_lifetime", 30*time.Minute)
	v.SetDefault("pubsub.project_id", "")
	v.SetDefault("pubsub.topic_name", "")
	v.SetDefault("progress.buffer_size", 256)
	v.SetDefault("progress.batch_max_events", 16)
	v.SetDefault("progress.batch_max_wait", 250*time.Millisecond)
	v.SetDefault("progress.sink_timeout", 10*time.Second)
	v.SetDefault("progress.log_enabled", true)
	v.SetDefault("logging.development", true)
	v.SetDefault("logging.level", "info")
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Server.ControlRPS < 0 || c.Server.ControlBurst < 0 {
		return fmt.Errorf("server.control_rps and server.control_burst must be >= 0")
	}
	if c.Auth.Enabled && c.Auth.APIKey == "" {
		return fmt.Errorf("auth.api_key must be set when auth is enabled")
	}
	if strings.TrimSpace(c.Data.Dir) == "" {
		return fmt.Errorf("data.dir is required")
	}
	if c.Scraper.GracePeriod < 0 || c.Scraper.KillTimeout < 0 {
		return fmt.Errorf("scraper.grace_period and scraper.kill_timeout must be >= 0")
	}
	if c.Staleness.MaxAge <= 0 {
		return fmt.Errorf("staleness.max_age must be > 0")
	}
	if _, err := c.Location(); err != nil {
		return err
	}
	for key, expr := range map[string]string{
		"scheduler.refresh_cron": c.Scheduler.RefreshCron,
		"scheduler.run_cron":     c.Scheduler.RunCron,
	} {
		if expr == "" {
			continue
		}
		if _, err := cron.ParseStandard(expr); err != nil {
			return fmt.Errorf("%s: %w", key, err)
		}
	}
	switch c.Storage.Backend {
	case "", BackendNone, BackendMemory:
	case BackendLocal:
		if c.Storage.LocalDir == "" {
			return fmt.Errorf("storage.local_dir must be set for the local backend")
		}
	case BackendGCS:
		if c.Storage.GCSBucket == "" {
			return fmt.Errorf("storage.gcs_bucket must be set for the gcs backend")
		}
	default:
		return fmt.Errorf("storage.backend %q is not supported", c.Storage.Backend)
	}
	if (c.PubSub.ProjectID == "") != (c.PubSub.TopicName == "") {
		return fmt.Errorf("pubsub.project_id and pubsub.topic_name must be set together")
	}
	return nil
}

// Location resolves staleness.timezone.
func (c Config) Location() (*time.Location, error) {
	if c.Staleness.Timezone == "" {
		return time.UTC, nil
	}
	loc, err := time.LoadLocation(c.Staleness.Timezone)
	if err != nil {
		return nil, fmt.Errorf("staleness.timezone: %w", err)
	}
	return loc, nil
}

// OrchestratorConfig maps the scraper section onto the orchestrator.
func (c Config) OrchestratorConfig() orchestrator.Config {
	return orchestrator.Config{
		DataDir:      c.Data.Dir,
		Command:      c.Scraper.Command,
		Args:         append([]string(nil), c.Scraper.Args...),
		Dir:          c.Scraper.WorkDir,
		Env:          append([]string(nil), c.Scraper.Env...),
		GracePeriod:  c.Scraper.GracePeriod,
		KillTimeout:  c.Scraper.KillTimeout,
		PollInterval: c.Scraper.PollInterval,
		HistoryLimit: c.Scraper.HistoryLimit,
		LogTailLines: c.Scraper.LogTailLines,
		KeepStaging:  c.Scraper.KeepStaging,
	}
}

// StalenessConfig maps the staleness section. Validate must have passed.
func (c Config) StalenessConfig() staleness.Config {
	loc, err := c.Location()
	if err != nil {
		loc = time.UTC
	}
	return staleness.Config{MaxAge: c.Staleness.MaxAge, Location: loc}
}

// SchedulerConfig maps the scheduler section.
func (c Config) SchedulerConfig() scheduler.Config {
	loc, err := c.Location()
	if err != nil {
		loc = time.UTC
	}
	return scheduler.Config{
		RefreshCron: c.Scheduler.RefreshCron,
		RunCron:     c.Scheduler.RunCron,
		Location:    loc,
	}
}

// HubConfig maps the progress section; the caller supplies context and logger.
func (c Config) HubConfig() progress.Config {
	return progress.Config{
		BufferSize:     c.Progress.BufferSize,
		MaxBatchEvents: c.Progress.BatchMaxItems,
		MaxBatchWait:   c.Progress.BatchMaxWait,
		SinkTimeout:    c.Progress.SinkTimeout,
	}
}
