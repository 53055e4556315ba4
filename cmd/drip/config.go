package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/urfave/cli/v3"

	"github.com/reputul/drip/internal/scheduler"
)

// Duration is a time.Duration that reads "90s"-style strings from settings.json.
type Duration time.Duration

func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

func (d *Duration) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		var n int64
		if err := json.Unmarshal(b, &n); err != nil {
			return fmt.Errorf("duration must be a string like \"90s\": %w", err)
		}
		*d = Duration(n)
		return nil
	}
	v, err := time.ParseDuration(s)
	if err != nil {
		return err
	}
	*d = Duration(v)
	return nil
}

// Config holds all drip configuration.
// Priority: flags > DRIP_* env vars > .env > settings.json > defaults.
type Config struct {
	DBDriver    string `json:"db_driver" validate:"oneof=libsql postgres memory"`
	DBPath      string `json:"db_path" validate:"required_if=DBDriver libsql"`
	DatabaseURL string `json:"database_url" validate:"required_if=DBDriver postgres"`

	LogLevel  string `json:"log_level" validate:"oneof=debug info warn error"`
	LogFormat string `json:"log_format" validate:"oneof=json text"`

	PoolSize          int      `json:"pool_size" validate:"min=1,max=1024"`
	PollInterval      Duration `json:"poll_interval" validate:"gt=0"`
	PollBatch         int      `json:"poll_batch" validate:"min=1"`
	PerTenant         bool     `json:"per_tenant"`
	ImmediateWindow   Duration `json:"immediate_window" validate:"gte=0"`
	StuckTimeout      Duration `json:"stuck_timeout" validate:"gt=0"`
	WatchdogInterval  Duration `json:"watchdog_interval" validate:"gt=0"`
	RetentionDays     int      `json:"retention_days" validate:"min=1"`
	RetentionSchedule string   `json:"retention_schedule" validate:"required,cron"`

	BusinessHoursStart int `json:"business_hours_start" validate:"min=0,max=23"`
	BusinessHoursEnd   int `json:"business_hours_end" validate:"max=24,gtfield=BusinessHoursStart"`

	CatalogPath string `json:"catalog_path" validate:"omitempty,file"`

	RedisURL string   `json:"redis_url" validate:"omitempty,url"`
	LeaseTTL Duration `json:"lease_ttl" validate:"gt=0"`

	WebhookTimeout Duration `json:"webhook_timeout" validate:"gt=0"`
	EmailRelayURL  string   `json:"email_relay_url" validate:"omitempty,http_url"`
	SMSRelayURL    string   `json:"sms_relay_url" validate:"omitempty,http_url"`
	SMSMaxRetries  int      `json:"sms_max_retries" validate:"min=0,max=10"`

	MCP bool `json:"mcp"`
}

func defaultConfig() Config {
	bh := scheduler.DefaultBusinessHours()
	return Config{
		DBDriver:           "libsql",
		DBPath:             filepath.Join(dripDir(), "drip.db"),
		LogLevel:           "info",
		LogFormat:          "text",
		PoolSize:           10,
		PollInterval:       Duration(time.Minute),
		PollBatch:          scheduler.DefaultPollBatch,
		ImmediateWindow:    Duration(scheduler.DefaultImmediateWindow),
		StuckTimeout:       Duration(scheduler.DefaultStuckTimeout),
		WatchdogInterval:   Duration(5 * time.Minute),
		RetentionDays:      scheduler.DefaultRetentionDays,
		RetentionSchedule:  scheduler.DefaultRetentionSchedule,
		BusinessHoursStart: bh.StartHour,
		BusinessHoursEnd:   bh.EndHour,
		LeaseTTL:           Duration(scheduler.DefaultLeaseTTL),
		WebhookTimeout:     Duration(10 * time.Second),
		SMSMaxRetries:      3,
	}
}

func dripDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".drip"
	}
	return filepath.Join(home, ".drip")
}

func settingsPath() string {
	return filepath.Join(dripDir(), "settings.json")
}

// dotEnvPath is the .env file loaded before flags are parsed.
func dotEnvPath() string {
	if p := os.Getenv("DRIP_ENV_FILE"); p != "" {
		return p
	}
	return ".env"
}

// loadDotEnv loads a .env file into the process environment. Variables already set
// win over the file, and a missing file is not an error.
func loadDotEnv(path string) error {
	if err := godotenv.Load(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("load %s: %w", path, err)
	}
	return nil
}

// loadSettings layers settings.json at path over the defaults. A missing file
// leaves the defaults untouched.
func loadSettings(path string) (Config, error) {
	cfg := defaultConfig()
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return cfg, nil
	}
	if err != nil {
		return cfg, fmt.Errorf("read settings: %w", err)
	}
	if err := json.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse %s: %w", path, err)
	}
	return cfg, nil
}

// configFlags are the global flags; each can also come from its DRIP_* variable.
func configFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{Name: "config", Usage: "Path to settings.json", Value: settingsPath(), Sources: cli.EnvVars("DRIP_CONFIG")},
		&cli.StringFlag{Name: "db-driver", Usage: "Store driver (libsql, postgres, memory)", Sources: cli.EnvVars("DRIP_DB_DRIVER")},
		&cli.StringFlag{Name: "db-path", Usage: "libSQL database file", Sources: cli.EnvVars("DRIP_DB_PATH")},
		&cli.StringFlag{Name: "database-url", Usage: "PostgreSQL connection URL", Sources: cli.EnvVars("DRIP_DATABASE_URL", "DATABASE_URL")},
		&cli.StringFlag{Name: "log-level", Usage: "Log level (debug, info, warn, error)", Sources: cli.EnvVars("DRIP_LOG_LEVEL")},
		&cli.StringFlag{Name: "log-format", Usage: "Log format (json, text)", Sources: cli.EnvVars("DRIP_LOG_FORMAT")},
		&cli.IntFlag{Name: "pool-size", Usage: "Concurrent executions", Sources: cli.EnvVars("DRIP_POOL_SIZE")},
		&cli.DurationFlag{Name: "poll-interval", Usage: "How often due executions are dispatched", Sources: cli.EnvVars("DRIP_POLL_INTERVAL")},
		&cli.IntFlag{Name: "poll-batch", Usage: "Maximum due executions per poll", Sources: cli.EnvVars("DRIP_POLL_BATCH")},
		&cli.BoolFlag{Name: "per-tenant", Usage: "Poll one tenant at a time", Sources: cli.EnvVars("DRIP_PER_TENANT")},
		&cli.DurationFlag{Name: "immediate-window", Usage: "Dispatch right away when due within this window", Sources: cli.EnvVars("DRIP_IMMEDIATE_WINDOW")},
		&cli.DurationFlag{Name: "stuck-timeout", Usage: "Fail executions running longer than this", Sources: cli.EnvVars("DRIP_STUCK_TIMEOUT")},
		&cli.DurationFlag{Name: "watchdog-interval", Usage: "How often stuck executions are checked", Sources: cli.EnvVars("DRIP_WATCHDOG_INTERVAL")},
		&cli.IntFlag{Name: "retention-days", Usage: "Days completed executions are kept", Sources: cli.EnvVars("DRIP_RETENTION_DAYS")},
		&cli.StringFlag{Name: "retention-schedule", Usage: "Cron schedule of the retention sweep", Sources: cli.EnvVars("DRIP_RETENTION_SCHEDULE")},
		&cli.IntFlag{Name: "business-hours-start", Usage: "First business hour (0-23)", Sources: cli.EnvVars("DRIP_BUSINESS_HOURS_START")},
		&cli.IntFlag{Name: "business-hours-end", Usage: "Business hours end, exclusive (1-24)", Sources: cli.EnvVars("DRIP_BUSINESS_HOURS_END")},
		&cli.StringFlag{Name: "catalog", Usage: "YAML file of workflows and entities", Sources: cli.EnvVars("DRIP_CATALOG_PATH")},
		&cli.StringFlag{Name: "redis-url", Usage: "Redis URL for the leader lease and event fan-out", Sources: cli.EnvVars("DRIP_REDIS_URL")},
		&cli.DurationFlag{Name: "lease-ttl", Usage: "Leader lease TTL", Sources: cli.EnvVars("DRIP_LEASE_TTL")},
		&cli.DurationFlag{Name: "webhook-timeout", Usage: "Outbound webhook timeout", Sources: cli.EnvVars("DRIP_WEBHOOK_TIMEOUT")},
		&cli.StringFlag{Name: "email-relay-url", Usage: "HTTP relay for email sends", Sources: cli.EnvVars("DRIP_EMAIL_RELAY_URL")},
		&cli.StringFlag{Name: "sms-relay-url", Usage: "HTTP relay for SMS sends", Sources: cli.EnvVars("DRIP_SMS_RELAY_URL")},
		&cli.IntFlag{Name: "sms-max-retries", Usage: "Retries for transient SMS errors", Sources: cli.EnvVars("DRIP_SMS_MAX_RETRIES")},
	}
}

// applyFlags overrides cfg with every flag set on the command line or via its
// environment variable.
func applyFlags(cfg *Config, cmd *cli.Command) {
	str := func(name string, dst *string) {
		if cmd.IsSet(name) {
			*dst = cmd.String(name)
		}
	}
	num := func(name string, dst *int) {
		if cmd.IsSet(name) {
			*dst = int(cmd.Int(name))
		}
	}
	dur := func(name string, dst *Duration) {
		if cmd.IsSet(name) {
			*dst = Duration(cmd.Duration(name))
		}
	}
	flag := func(name string, dst *bool) {
		if cmd.IsSet(name) {
			*dst = cmd.Bool(name)
		}
	}

	str("db-driver", &cfg.DBDriver)
	str("db-path", &cfg.DBPath)
	str("database-url", &cfg.DatabaseURL)
	str("log-level", &cfg.LogLevel)
	str("log-format", &cfg.LogFormat)
	num("pool-size", &cfg.PoolSize)
	dur("poll-interval", &cfg.PollInterval)
	num("poll-batch", &cfg.PollBatch)
	flag("per-tenant", &cfg.PerTenant)
	dur("immediate-window", &cfg.ImmediateWindow)
	dur("stuck-timeout", &cfg.StuckTimeout)
	dur("watchdog-interval", &cfg.WatchdogInterval)
	num("retention-days", &cfg.RetentionDays)
	str("retention-schedule", &cfg.RetentionSchedule)
	num("business-hours-start", &cfg.BusinessHoursStart)
	num("business-hours-end", &cfg.BusinessHoursEnd)
	str("catalog", &cfg.CatalogPath)
	str("redis-url", &cfg.RedisURL)
	dur("lease-ttl", &cfg.LeaseTTL)
	dur("webhook-timeout", &cfg.WebhookTimeout)
	str("email-relay-url", &cfg.EmailRelayURL)
	str("sms-relay-url", &cfg.SMSRelayURL)
	num("sms-max-retries", &cfg.SMSMaxRetries)
	flag("mcp", &cfg.MCP)
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks cfg and reports every invalid field at once.
func (c Config) Validate() error {
	err := validate.Struct(c)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		msgs = append(msgs, fmt.Sprintf("%s: failed %q (value %v)", fe.Namespace(), fe.Tag(), fe.Value()))
	}
	return fmt.Errorf("invalid configuration: %s", strings.Join(msgs, "; "))
}

// resolveConfig builds the effective configuration for cmd. The .env file
// must already be loaded so its DRIP_* values reach the flag sources.
func resolveConfig(cmd *cli.Command) (Config, error) {
	cfg, err := loadSettings(cmd.String("config"))
	if err != nil {
		return cfg, err
	}
	applyFlags(&cfg, cmd)
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}
