package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server    ServerConfig
	Database  DatabaseConfig
	Redis     RedisConfig
	Scheduler SchedulerConfig
	Delivery  DeliveryConfig
	Telegram  TelegramConfig
	Funnels   FunnelsConfig
	Log       LogConfig
}

type ServerConfig struct {
	Address string
}

type DatabaseConfig struct {
	Driver string
	URL    string
}

type RedisConfig struct {
	Enabled  bool
	Address  string
	Password string
	DB       int
	TTL      time.Duration
}

type SchedulerConfig struct {
	Timezone        string
	Location        *time.Location
	Workers         int
	RatePerSec      float64
	DeliveryTimeout time.Duration
}

type DeliveryConfig struct {
	Driver     string
	WebhookURL string
}

type TelegramConfig struct {
	Token       string
	AdminIDs    []int64
	PollTimeout time.Duration
}

type FunnelsConfig struct {
	File string
}

type LogConfig struct {
	Level   string
	Console bool
}

type Options struct {
	// EnvFile is read when present. Real environment variables win.
	EnvFile string
}

func LoadAll() (*Config, error) {
	return LoadWithOptions(Options{EnvFile: ".env"})
}

func LoadWithOptions(opts Options) (*Config, error) {
	v := viper.New()
	v.AutomaticEnv()

	if opts.EnvFile != "" {
		if _, err := os.Stat(opts.EnvFile); err == nil {
			v.SetConfigFile(opts.EnvFile)
			v.SetConfigType("env")
			if err := v.ReadInConfig(); err != nil {
				return nil, fmt.Errorf("read %s: %w", opts.EnvFile, err)
			}
		}
	}

	l := &loader{v: v}

	cfg := &Config{
		Server: ServerConfig{
			Address: l.strOr("SERVER_ADDRESS", ":8080"),
		},
		Database: DatabaseConfig{
			Driver: strings.ToLower(l.strOr("DB_DRIVER", "postgres")),
			URL:    l.required("DATABASE_URL"),
		},
		Scheduler: SchedulerConfig{
			Timezone:        l.strOr("SCHED_TIMEZONE", "Asia/Almaty"),
			Workers:         l.intOr("SCHED_WORKERS", 4),
			RatePerSec:      l.floatOr("SCHED_RATE_PER_SEC", 25),
			DeliveryTimeout: time.Duration(l.intOr("SCHED_DELIVERY_TIMEOUT_SECONDS", 10)) * time.Second,
		},
		Delivery: DeliveryConfig{
			Driver:     strings.ToLower(l.strOr("DELIVERY_DRIVER", "telegram")),
			WebhookURL: l.strOr("WEBHOOK_URL", ""),
		},
		Telegram: TelegramConfig{
			Token:       l.strOr("TELEGRAM_BOT_TOKEN", ""),
			AdminIDs:    l.int64s("ADMIN_IDS"),
			PollTimeout: time.Duration(l.intOr("TELEGRAM_POLL_TIMEOUT_SECONDS", 10)) * time.Second,
		},
		Funnels: FunnelsConfig{
			File: l.strOr("FUNNELS_FILE", "funnels.yaml"),
		},
		Log: LogConfig{
			Level:   l.strOr("LOG_LEVEL", "info"),
			Console: l.boolOr("LOG_CONSOLE", false),
		},
		Redis: l.redis(),
	}

	l.validate(cfg)
	if err := joinErrors(l.errs); err != nil {
		return nil, err
	}
	return cfg, nil
}

// RequireDelivery checks the settings needed to actually send messages.
// Commands that only touch the database skip it.
func (c *Config) RequireDelivery() error {
	switch c.Delivery.Driver {
	case "telegram":
		if c.Telegram.Token == "" {
			return errors.New("missing required env var: TELEGRAM_BOT_TOKEN")
		}
	case "webhook":
		if c.Delivery.WebhookURL == "" {
			return errors.New("missing required env var: WEBHOOK_URL")
		}
	default:
		return fmt.Errorf("DELIVERY_DRIVER must be telegram or webhook, got %q", c.Delivery.Driver)
	}
	return nil
}

func (c *Config) IsAdmin(id int64) bool {
	for _, a := range c.Telegram.AdminIDs {
		if a == id {
			return true
		}
	}
	return false
}

type loader struct {
	v    *viper.Viper
	errs []error
}

func (l *loader) redis() RedisConfig {
	addr := l.strOr("REDIS_ADDR", "")
	if addr == "" {
		return RedisConfig{Enabled: false}
	}

	return RedisConfig{
		Enabled:  true,
		Address:  addr,
		Password: l.strOr("REDIS_PASSWORD", ""),
		DB:       l.intOr("REDIS_DB", 0),
		TTL:      time.Duration(l.intOr("REDIS_TTL_SECONDS", 86400)) * time.Second,
	}
}

func (l *loader) validate(cfg *Config) {
	switch cfg.Database.Driver {
	case "postgres", "sqlite":
	default:
		l.errs = append(l.errs, fmt.Errorf("DB_DRIVER must be postgres or sqlite, got %q", cfg.Database.Driver))
	}
	if cfg.Scheduler.Workers <= 0 {
		l.errs = append(l.errs, errors.New("SCHED_WORKERS must be > 0"))
	}
	if cfg.Scheduler.RatePerSec <= 0 {
		l.errs = append(l.errs, errors.New("SCHED_RATE_PER_SEC must be > 0"))
	}
	if cfg.Scheduler.DeliveryTimeout <= 0 {
		l.errs = append(l.errs, errors.New("SCHED_DELIVERY_TIMEOUT_SECONDS must be > 0"))
	}
	loc, err := time.LoadLocation(cfg.Scheduler.Timezone)
	if err != nil {
		l.errs = append(l.errs, fmt.Errorf("SCHED_TIMEZONE: %w", err))
	}
	cfg.Scheduler.Location = loc
}

func (l *loader) strOr(key, def string) string {
	return getEnv(l.v, key, def)
}

func (l *loader) required(key string) string {
	val, err := requireEnv(l.v, key)
	if err != nil {
		l.errs = append(l.errs, err)
	}
	return val
}

func (l *loader) intOr(key string, def int) int {
	i, err := getEnvInt(l.v, key, def)
	if err != nil {
		l.errs = append(l.errs, err)
	}
	return i
}

func (l *loader) floatOr(key string, def float64) float64 {
	raw := getEnv(l.v, key, "")
	if raw == "" {
		return def
	}
	f, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		l.errs = append(l.errs, fmt.Errorf("invalid number for env %s: %s", key, raw))
		return def
	}
	return f
}

func (l *loader) boolOr(key string, def bool) bool {
	raw := getEnv(l.v, key, "")
	if raw == "" {
		return def
	}
	b, err := strconv.ParseBool(raw)
	if err != nil {
		l.errs = append(l.errs, fmt.Errorf("invalid bool for env %s: %s", key, raw))
		return def
	}
	return b
}

// int64s reads a comma separated id list.
func (l *loader) int64s(key string) []int64 {
	raw := getEnv(l.v, key, "")
	if raw == "" {
		return nil
	}
	var out []int64
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		id, err := strconv.ParseInt(part, 10, 64)
		if err != nil {
			l.errs = append(l.errs, fmt.Errorf("invalid id in env %s: %s", key, part))
			continue
		}
		out = append(out, id)
	}
	return out
}

func requireEnv(v *viper.Viper, key string) (string, error) {
	val := strings.TrimSpace(v.GetString(key))
	if val == "" {
		return "", fmt.Errorf("missing required env var: %s", key)
	}
	return val, nil
}

func getEnv(v *viper.Viper, key, def string) string {
	if val := strings.TrimSpace(v.GetString(key)); val != "" {
		return val
	}
	return def
}

func getEnvInt(v *viper.Viper, key string, def int) (int, error) {
	raw := getEnv(v, key, "")
	if raw == "" {
		return def, nil
	}
	i, err := strconv.Atoi(raw)
	if err != nil {
		return def, fmt.Errorf("invalid int for env %s: %s", key, raw)
	}
	return i, nil
}

func joinErrors(errs []error) error {
	if len(errs) == 0 {
		return nil
	}
	return errors.Join(errs...)
}
