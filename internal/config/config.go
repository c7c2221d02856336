package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Log        LoggingConfig    `yaml:"log"`
	Telegram   TelegramConfig   `yaml:"telegram"`
	Freqtrade  FreqtradeConfig  `yaml:"freqtrade"`
	Defaults   DefaultsConfig   `yaml:"defaults"`
	State      StateConfig      `yaml:"state"`
	Metrics    MetricsConfig    `yaml:"metrics"`
	Audit      AuditConfig      `yaml:"audit"`
	AutoToggle AutoToggleConfig `yaml:"auto_toggle"`
}

type LoggingConfig struct {
	Level string `yaml:"level"`
}

type TelegramConfig struct {
	Token         string        `yaml:"token"`
	ChatID        int64         `yaml:"chat_id"`
	TopicID       int64         `yaml:"topic_id"`
	Admins        []int64       `yaml:"admins"`
	RequireArm    *bool         `yaml:"require_arm"`
	ArmTTLMinutes int           `yaml:"arm_ttl_minutes"`
	PollInterval  time.Duration `yaml:"poll_interval"`
}

func (t TelegramConfig) RequireArmValue() bool {
	if t.RequireArm == nil {
		return true
	}
	return *t.RequireArm
}

func (t TelegramConfig) ArmTTL() time.Duration {
	return time.Duration(t.ArmTTLMinutes) * time.Minute
}

type InstanceConfig struct {
	BaseURL string        `yaml:"base_url"`
	User    string        `yaml:"user"`
	Pass    string        `yaml:"pass"`
	WSToken string        `yaml:"ws_token"`
	Timeout time.Duration `yaml:"timeout"`
}

type FreqtradeConfig struct {
	Long  InstanceConfig `yaml:"long"`
	Short InstanceConfig `yaml:"short"`
}

type DefaultsConfig struct {
	Stake           float64 `yaml:"stake"`
	DelayMS         int     `yaml:"delay_ms"`
	PollTimeoutSec  int     `yaml:"poll_timeout_sec"`
	PollIntervalSec int     `yaml:"poll_interval_sec"`
}

func (d DefaultsConfig) Delay() time.Duration {
	return time.Duration(d.DelayMS) * time.Millisecond
}

func (d DefaultsConfig) PollTimeout() time.Duration {
	return time.Duration(d.PollTimeoutSec) * time.Second
}

func (d DefaultsConfig) PollInterval() time.Duration {
	return time.Duration(d.PollIntervalSec) * time.Second
}

type StateConfig struct {
	SQLitePath string `yaml:"sqlite_path"`
}

type MetricsConfig struct {
	Enabled *bool  `yaml:"enabled"`
	Address string `yaml:"address"`
	Path    string `yaml:"path"`
}

func (m MetricsConfig) EnabledValue() bool {
	if m.Enabled == nil {
		return false
	}
	return *m.Enabled
}

type AuditConfig struct {
	Enabled         bool          `yaml:"enabled"`
	DSN             string        `yaml:"dsn"`
	Schema          string        `yaml:"schema"`
	QueueSize       int           `yaml:"queue_size"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
}

type AutoToggleConfig struct {
	Enabled   bool          `yaml:"enabled"`
	Venue     string        `yaml:"venue"`
	Interval  time.Duration `yaml:"interval"`
	Threshold float64       `yaml:"threshold"`
	Trail     float64       `yaml:"trail"`
}

func Load(path string) (*Config, error) {
	if path == "" {
		return nil, errors.New("config path is required")
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	applyDefaults(&cfg)
	applyEnvOverrides(&cfg)
	return &cfg, validate(&cfg)
}

func applyDefaults(cfg *Config) {
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Telegram.ArmTTLMinutes == 0 {
		cfg.Telegram.ArmTTLMinutes = 15
	}
	if cfg.Telegram.PollInterval == 0 {
		cfg.Telegram.PollInterval = 3 * time.Second
	}
	if cfg.Telegram.RequireArm == nil {
		enabled := true
		cfg.Telegram.RequireArm = &enabled
	}
	if cfg.Freqtrade.Long.Timeout == 0 {
		cfg.Freqtrade.Long.Timeout = 10 * time.Second
	}
	if cfg.Freqtrade.Short.Timeout == 0 {
		cfg.Freqtrade.Short.Timeout = 10 * time.Second
	}
	if cfg.Defaults.Stake == 0 {
		cfg.Defaults.Stake = 100
	}
	if cfg.Defaults.DelayMS == 0 {
		cfg.Defaults.DelayMS = 500
	}
	if cfg.Defaults.PollTimeoutSec == 0 {
		cfg.Defaults.PollTimeoutSec = 60
	}
	if cfg.Defaults.PollIntervalSec == 0 {
		cfg.Defaults.PollIntervalSec = 2
	}
	if cfg.State.SQLitePath == "" {
		cfg.State.SQLitePath = "data/control-bot.db"
	}
	if cfg.Metrics.Enabled == nil {
		enabled := true
		cfg.Metrics.Enabled = &enabled
	}
	if cfg.Metrics.Address == "" {
		cfg.Metrics.Address = "127.0.0.1:9011"
	}
	if cfg.Metrics.Path == "" {
		cfg.Metrics.Path = "/metrics"
	}
	if cfg.Audit.Schema == "" {
		cfg.Audit.Schema = "public"
	}
	if cfg.Audit.QueueSize == 0 {
		cfg.Audit.QueueSize = 256
	}
	if cfg.AutoToggle.Venue == "" {
		cfg.AutoToggle.Venue = "long"
	}
	if cfg.AutoToggle.Interval == 0 {
		cfg.AutoToggle.Interval = 30 * time.Second
	}
	if cfg.AutoToggle.Threshold == 0 {
		cfg.AutoToggle.Threshold = 400
	}
	if cfg.AutoToggle.Trail == 0 {
		cfg.AutoToggle.Trail = 500
	}
}

func applyEnvOverrides(cfg *Config) {
	if token := strings.TrimSpace(os.Getenv("CS_TELEGRAM_TOKEN")); token != "" {
		cfg.Telegram.Token = token
	}
	if raw := strings.TrimSpace(os.Getenv("CS_TELEGRAM_CHAT_ID")); raw != "" {
		if id, err := strconv.ParseInt(raw, 10, 64); err == nil {
			cfg.Telegram.ChatID = id
		}
	}
	if user := strings.TrimSpace(os.Getenv("CS_LONG_USER")); user != "" {
		cfg.Freqtrade.Long.User = user
	}
	if pass := strings.TrimSpace(os.Getenv("CS_LONG_PASS")); pass != "" {
		cfg.Freqtrade.Long.Pass = pass
	}
	if user := strings.TrimSpace(os.Getenv("CS_SHORT_USER")); user != "" {
		cfg.Freqtrade.Short.User = user
	}
	if pass := strings.TrimSpace(os.Getenv("CS_SHORT_PASS")); pass != "" {
		cfg.Freqtrade.Short.Pass = pass
	}
	if dsn := strings.TrimSpace(os.Getenv("CS_AUDIT_DSN")); dsn != "" {
		cfg.Audit.DSN = dsn
	}
}

func validate(cfg *Config) error {
	if strings.TrimSpace(cfg.Telegram.Token) == "" {
		return errors.New("telegram.token is required")
	}
	if cfg.Telegram.ChatID == 0 {
		return errors.New("telegram.chat_id is required")
	}
	if len(cfg.Telegram.Admins) == 0 {
		return errors.New("telegram.admins must not be empty")
	}
	if cfg.Telegram.ArmTTLMinutes <= 0 {
		return errors.New("telegram.arm_ttl_minutes must be > 0")
	}
	if strings.TrimSpace(cfg.Freqtrade.Long.BaseURL) == "" {
		return errors.New("freqtrade.long.base_url is required")
	}
	if strings.TrimSpace(cfg.Freqtrade.Short.BaseURL) == "" {
		return errors.New("freqtrade.short.base_url is required")
	}
	if cfg.Defaults.Stake <= 0 {
		return errors.New("defaults.stake must be > 0")
	}
	if cfg.Defaults.DelayMS < 0 {
		return errors.New("defaults.delay_ms must be >= 0")
	}
	if cfg.Defaults.PollTimeoutSec <= 0 {
		return errors.New("defaults.poll_timeout_sec must be > 0")
	}
	if cfg.Defaults.PollIntervalSec <= 0 {
		return errors.New("defaults.poll_interval_sec must be > 0")
	}
	if cfg.Defaults.PollIntervalSec > cfg.Defaults.PollTimeoutSec {
		return errors.New("defaults.poll_interval_sec must not exceed poll_timeout_sec")
	}
	if cfg.Metrics.Path != "" && !strings.HasPrefix(cfg.Metrics.Path, "/") {
		return errors.New("metrics.path must start with /")
	}
	if cfg.Audit.Enabled && strings.TrimSpace(cfg.Audit.DSN) == "" {
		return errors.New("audit.dsn is required when audit is enabled")
	}
	if cfg.AutoToggle.Enabled {
		if cfg.AutoToggle.Venue != "long" && cfg.AutoToggle.Venue != "short" {
			return fmt.Errorf("auto_toggle.venue must be long or short, got %q", cfg.AutoToggle.Venue)
		}
		if cfg.AutoToggle.Threshold <= 0 {
			return errors.New("auto_toggle.threshold must be > 0")
		}
		if cfg.AutoToggle.Trail <= 0 {
			return errors.New("auto_toggle.trail must be > 0")
		}
	}
	return nil
}
