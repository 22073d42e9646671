// Package config provides YAML-based configuration loading for sheetsync.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"regexp"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/zulandar/sheetsync/internal/changes"
	"github.com/zulandar/sheetsync/internal/dialect"
)

// Environment variables that override file values.
const (
	EnvDatabaseURL  = "SHEETSYNC_DATABASE_URL"
	EnvSheetsAPIKey = "SHEETSYNC_SHEETS_API_KEY"
	EnvSlackToken   = "SHEETSYNC_SLACK_TOKEN"
	EnvDiscordToken = "SHEETSYNC_DISCORD_TOKEN"
)

// DefaultPath is the config file read when no --config flag is given.
const DefaultPath = "sheetsync.yaml"

// Config is the top-level sheetsync configuration, loaded from sheetsync.yaml.
type Config struct {
	Database DatabaseConfig `yaml:"database"`
	// Targets maps connection names to target database URLs. The "default"
	// connection falls back to database.url.
	Targets   map[string]string `yaml:"targets"`
	Sheets    SheetsConfig      `yaml:"sheets"`
	CSVDir    string            `yaml:"csv_dir"`
	Scheduler SchedulerConfig   `yaml:"scheduler"`
	Reconcile ReconcileConfig   `yaml:"reconcile"`
	API       APIConfig         `yaml:"api"`
	Log       LogConfig         `yaml:"log"`
	Notify    NotifyConfig      `yaml:"notify"`
	Jobs      []JobConfig       `yaml:"jobs"`
}

// DatabaseConfig locates the job store.
type DatabaseConfig struct {
	URL string `yaml:"url"`
}

// SheetsConfig holds Google Sheets API settings.
type SheetsConfig struct {
	CredentialsFile string        `yaml:"credentials_file"`
	APIKey          string        `yaml:"api_key"`
	BaseURL         string        `yaml:"base_url"`
	Timeout         time.Duration `yaml:"timeout"`
}

// SchedulerConfig tunes execution and recovery.
type SchedulerConfig struct {
	Timeout       time.Duration `yaml:"timeout"`
	FanOut        int           `yaml:"fan_out"`
	WaveDelay     time.Duration `yaml:"wave_delay"`
	SweepInterval time.Duration `yaml:"sweep_interval"`
	StaleGrace    time.Duration `yaml:"stale_grace"`
	// StartupRecovery resets every running job at startup (default true).
	// Disable it when several instances share one job store.
	StartupRecovery *bool `yaml:"startup_recovery"`
	// Timezone evaluates windows and cron expressions; empty means local.
	Timezone string `yaml:"timezone"`
}

// RecoverOnStartup reports whether startup recovery is enabled.
func (s SchedulerConfig) RecoverOnStartup() bool {
	return s.StartupRecovery == nil || *s.StartupRecovery
}

// Location resolves Timezone.
func (s SchedulerConfig) Location() (*time.Location, error) {
	if s.Timezone == "" {
		return time.Local, nil
	}
	return time.LoadLocation(s.Timezone)
}

// ReconcileConfig tunes the change-detection and apply stages.
type ReconcileConfig struct {
	BatchSize    int           `yaml:"batch_size"`
	BatchDelay   time.Duration `yaml:"batch_delay"`
	EmptySource  string        `yaml:"empty_source"`
	VerifyValues bool          `yaml:"verify_values"`
	PurgeOrphans bool          `yaml:"purge_orphans"`
}

// APIConfig holds HTTP server settings.
type APIConfig struct {
	Port int `yaml:"port"`
}

// LogConfig controls the zap logger.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	// File enables rotated file output.
	File       string `yaml:"file"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
}

// NotifyConfig holds chat notification settings. Empty tokens disable
// the platform.
type NotifyConfig struct {
	Slack   ChannelConfig `yaml:"slack"`
	Discord ChannelConfig `yaml:"discord"`
}

// ChannelConfig names a bot token and the channel it posts to.
type ChannelConfig struct {
	Token   string `yaml:"token"`
	Channel string `yaml:"channel"`
}

// JobConfig declares a sync job seeded into the store by `db init`.
type JobConfig struct {
	Name          string            `yaml:"name"`
	SpreadsheetID string            `yaml:"spreadsheet_id"`
	Sheet         string            `yaml:"sheet"`
	Range         string            `yaml:"range"`
	Table         string            `yaml:"table"`
	Connection    string            `yaml:"connection"`
	Columns       []changes.Mapping `yaml:"columns"`
	HasHeader     *bool             `yaml:"has_header"`
	Enabled       *bool             `yaml:"enabled"`
	Schedule      string            `yaml:"schedule"`
	WindowStart   string            `yaml:"window_start"`
	WindowEnd     string            `yaml:"window_end"`
}

// Header reports whether the first row is a header (default true).
func (j JobConfig) Header() bool { return j.HasHeader == nil || *j.HasHeader }

// IsEnabled reports whether the job is scheduled (default true).
func (j JobConfig) IsEnabled() bool { return j.Enabled == nil || *j.Enabled }

// Load reads .env (if present) and a YAML config file from path, applies
// environment overrides, and returns a validated Config.
func Load(path string) (*Config, error) {
	if err := LoadDotEnv(".env"); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	return Parse(data)
}

// LoadDotEnv loads path into the environment without overriding variables
// that are already set. A missing file is not an error.
func LoadDotEnv(path string) error {
	if err := godotenv.Load(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("config: load %s: %w", path, err)
	}
	return nil
}

// Parse unmarshals YAML bytes into a validated Config.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: parse: %w", err)
	}
	cfg.applyEnv(os.Getenv)
	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// applyEnv overrides secrets and the store URL from the environment.
func (c *Config) applyEnv(getenv func(string) string) {
	if v := getenv(EnvDatabaseURL); v != "" {
		c.Database.URL = v
	}
	if v := getenv(EnvSheetsAPIKey); v != "" {
		c.Sheets.APIKey = v
	}
	if v := getenv(EnvSlackToken); v != "" {
		c.Notify.Slack.Token = v
	}
	if v := getenv(EnvDiscordToken); v != "" {
		c.Notify.Discord.Token = v
	}
}

// applyDefaults fills in derived and default values.
func (c *Config) applyDefaults() {
	if c.Database.URL == "" {
		c.Database.URL = "sqlite://sheetsync.db"
	}
	if c.Targets == nil {
		c.Targets = make(map[string]string)
	}
	if _, ok := c.Targets[dialect.DefaultConnection]; !ok {
		c.Targets[dialect.DefaultConnection] = c.Database.URL
	}
	if c.Scheduler.Timeout == 0 {
		c.Scheduler.Timeout = 10 * time.Minute
	}
	if c.Scheduler.FanOut == 0 {
		c.Scheduler.FanOut = 3
	}
	if c.Scheduler.WaveDelay == 0 {
		c.Scheduler.WaveDelay = 2 * time.Second
	}
	if c.Scheduler.SweepInterval == 0 {
		c.Scheduler.SweepInterval = time.Minute
	}
	if c.Scheduler.StaleGrace == 0 {
		c.Scheduler.StaleGrace = 5 * time.Minute
	}
	if c.Reconcile.BatchSize == 0 {
		c.Reconcile.BatchSize = 500
	}
	if c.Reconcile.EmptySource == "" {
		c.Reconcile.EmptySource = string(changes.EmptyKeep)
	}
	if c.API.Port == 0 {
		c.API.Port = 8080
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "console"
	}
}

var clockRe = regexp.MustCompile(`^([01]\d|2[0-3]):[0-5]\d$`)

// ValidClock reports whether s is an HH:MM time of day.
func ValidClock(s string) bool { return clockRe.MatchString(s) }

// validate checks that all required fields are present and consistent.
func (c *Config) validate() error {
	var errs []string
	if _, err := dialect.ParseURL(c.Database.URL); err != nil {
		errs = append(errs, fmt.Sprintf("database.url: %v", err))
	}
	for name, u := range c.Targets {
		if _, err := dialect.ParseURL(u); err != nil {
			errs = append(errs, fmt.Sprintf("targets.%s: %v", name, err))
		}
	}
	if _, err := changes.ParseEmptySourcePolicy(c.Reconcile.EmptySource); err != nil {
		errs = append(errs, "reconcile.empty_source must be keep or purge")
	}
	if c.Reconcile.BatchSize < 0 {
		errs = append(errs, "reconcile.batch_size must be positive")
	}
	if c.Scheduler.FanOut < 0 {
		errs = append(errs, "scheduler.fan_out must be positive")
	}
	if c.Scheduler.Timeout < 0 {
		errs = append(errs, "scheduler.timeout must be positive")
	}
	if _, err := c.Scheduler.Location(); err != nil {
		errs = append(errs, fmt.Sprintf("scheduler.timezone: %v", err))
	}
	switch c.Log.Format {
	case "console", "json":
	default:
		errs = append(errs, "log.format must be console or json")
	}

	names := make(map[string]bool, len(c.Jobs))
	owners := make(map[string]string, len(c.Jobs))
	for i, j := range c.Jobs {
		prefix := fmt.Sprintf("jobs[%d]", i)
		if j.Name == "" {
			errs = append(errs, prefix+".name is required")
		} else if names[j.Name] {
			errs = append(errs, fmt.Sprintf("%s.name %q is duplicated", prefix, j.Name))
		}
		names[j.Name] = true
		if j.SpreadsheetID == "" {
			errs = append(errs, prefix+".spreadsheet_id is required")
		}
		if j.Sheet == "" {
			errs = append(errs, prefix+".sheet is required")
		}
		if !changes.ValidIdentifier(j.Table) {
			errs = append(errs, fmt.Sprintf("%s.table %q is not a valid identifier", prefix, j.Table))
		}
		target := dialect.ConnectionName(j.Connection) + "/" + j.Table
		if owner, ok := owners[target]; ok {
			errs = append(errs, fmt.Sprintf("%s.table %q is already synced by job %q", prefix, j.Table, owner))
		} else {
			owners[target] = j.Name
		}
		if j.Connection != "" {
			if _, ok := c.Targets[j.Connection]; !ok {
				errs = append(errs, fmt.Sprintf("%s.connection %q is not a configured target", prefix, j.Connection))
			}
		}
		if _, err := changes.Normalize(j.Columns); err != nil {
			errs = append(errs, fmt.Sprintf("%s.columns: %v", prefix, err))
		}
		if (j.WindowStart == "") != (j.WindowEnd == "") {
			errs = append(errs, prefix+": window_start and window_end must be set together")
		}
		for _, w := range []string{j.WindowStart, j.WindowEnd} {
			if w != "" && !ValidClock(w) {
				errs = append(errs, fmt.Sprintf("%s: window time %q must be HH:MM", prefix, w))
			}
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("config: validation failed: %s", strings.Join(errs, "; "))
	}
	return nil
}
