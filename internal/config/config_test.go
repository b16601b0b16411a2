package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLoadWithFileOverrides(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	configYAML := `
server:
  port: 9090
auth:
  enabled: true
  api_key: secret
data:
  dir: /var/lib/pricewise
scraper:
  command: /usr/bin/node
  args: ["scraper.js", "--headless"]
  grace_period: 3s
  kill_timeout: 2s
  history_limit: 5
staleness:
  max_age: 12h
  timezone: Africa/Johannesburg
scheduler:
  refresh_cron: "*/15 * * * *"
storage:
  backend: local
  local_dir: /tmp/mirror
logging:
  development: false
  level: debug
`
	if err := os.WriteFile(path, []byte(configYAML), 0o600); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Server.Port != 9090 {
		t.Fatalf("expected port 9090, got %d", cfg.Server.Port)
	}
	if !cfg.Auth.Enabled || cfg.Auth.APIKey != "secret" {
		t.Fatalf("expected auth enabled with secret key")
	}
	if cfg.Scraper.Command != "/usr/bin/node" || len(cfg.Scraper.Args) != 2 {
		t.Fatalf("expected scraper overrides to apply: %+v", cfg.Scraper)
	}
	if cfg.Scraper.GracePeriod != 3*time.Second || cfg.Scraper.KillTimeout != 2*time.Second {
		t.Fatalf("expected durations to parse: %+v", cfg.Scraper)
	}
	if cfg.Scraper.PollInterval != time.Second {
		t.Fatalf("expected default poll interval, got %v", cfg.Scraper.PollInterval)
	}

	orch := cfg.OrchestratorConfig()
	if orch.DataDir != "/var/lib/pricewise" || orch.HistoryLimit != 5 || orch.Args[1] != "--headless" {
		t.Fatalf("unexpected orchestrator config: %+v", orch)
	}
	st := cfg.StalenessConfig()
	if st.MaxAge != 12*time.Hour || st.Location.String() != "Africa/Johannesburg" {
		t.Fatalf("unexpected staleness config: %+v", st)
	}
	sched := cfg.SchedulerConfig()
	if sched.RefreshCron != "*/15 * * * *" || sched.RunCron != "" {
		t.Fatalf("unexpected scheduler config: %+v", sched)
	}
	if cfg.Logging.Development || cfg.Logging.Level != "debug" {
		t.Fatalf("expected logging overrides: %+v", cfg.Logging)
	}
}

func TestLoadDefaults(t *testing.T) {
	t.Parallel()

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Server.Port != 8080 {
		t.Fatalf("expected default port, got %d", cfg.Server.Port)
	}
	if cfg.Storage.Backend != BackendNone {
		t.Fatalf("expected mirror disabled by default, got %q", cfg.Storage.Backend)
	}
	if cfg.DB.Table != "pricewise_runs" {
		t.Fatalf("expected default ledger table, got %q", cfg.DB.Table)
	}
	hub := cfg.HubConfig()
	if hub.BufferSize != 256 || hub.MaxBatchWait != 250*time.Millisecond {
		t.Fatalf("unexpected hub config: %+v", hub)
	}
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("PRICEWISE_SERVER_PORT", "7070")
	t.Setenv("PRICEWISE_DATA_DIR", "/srv/pw")
	t.Setenv("PRICEWISE_STALENESS_MAX_AGE", "90m")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Server.Port != 7070 {
		t.Fatalf("expected env port, got %d", cfg.Server.Port)
	}
	if cfg.Data.Dir != "/srv/pw" {
		t.Fatalf("expected env data dir, got %q", cfg.Data.Dir)
	}
	if cfg.Staleness.MaxAge != 90*time.Minute {
		t.Fatalf("expected env max age, got %v", cfg.Staleness.MaxAge)
	}
}

func TestLoadMissingFile(t *testing.T) {
	t.Parallel()

	if _, err := Load(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Fatal("expected error for missing config file")
	}
}

func TestConfigValidateErrors(t *testing.T) {
	t.Parallel()

	base := Config{
		Server:    ServerConfig{Port: 8080},
		Data:      DataConfig{Dir: "data"},
		Staleness: StalenessConfig{MaxAge: time.Hour},
	}

	tests := []struct {
		name string
		cfg  Config
		want string
	}{
		{
			name: "invalid port",
			cfg: func() Config {
				c := base
				c.Server.Port = 0
				return c
			}(),
			want: "server.port",
		},
		{
			name: "auth missing api key",
			cfg: func() Config {
				c := base
				c.Auth.Enabled = true
				return c
			}(),
			want: "auth.api_key",
		},
		{
			name: "missing data dir",
			cfg: func() Config {
				c := base
				c.Data.Dir = " "
				return c
			}(),
			want: "data.dir",
		},
		{
			name: "invalid max age",
			cfg: func() Config {
				c := base
				c.Staleness.MaxAge = 0
				return c
			}(),
			want: "staleness.max_age",
		},
		{
			name: "unknown timezone",
			cfg: func() Config {
				c := base
				c.Staleness.Timezone = "Mars/Olympus"
				return c
			}(),
			want: "staleness.timezone",
		},
		{
			name: "bad cron",
			cfg: func() Config {
				c := base
				c.Scheduler.RunCron = "every day"
				return c
			}(),
			want: "scheduler.run_cron",
		},
		{
			name: "gcs without bucket",
			cfg: func() Config {
				c := base
				c.Storage.Backend = BackendGCS
				return c
			}(),
			want: "storage.gcs_bucket",
		},
		{
			name: "unknown backend",
			cfg: func() Config {
				c := base
				c.Storage.Backend = "s3"
				return c
			}(),
			want: "storage.backend",
		},
		{
			name: "pubsub half configured",
			cfg: func() Config {
				c := base
				c.PubSub.TopicName = "runs"
				return c
			}(),
			want: "pubsub.project_id",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			err := tt.cfg.Validate()
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("expected error containing %q, got %v", tt.want, err)
			}
		})
	}
}
