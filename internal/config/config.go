// Package config loads settings from the environment, an optional .env file
// and command-line flags, in increasing order of precedence.
package config

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
	_ "time/tzdata"

	"github.com/joho/godotenv"
)

const DefaultWebhookURL = "https://qyapi.weixin.qq.com/cgi-bin/webhook/send"

type Config struct {
	Addr            string
	WebhookURL      string
	WebhookKey      string
	TimeZone        string
	Location        *time.Location
	StoreDriver     string
	DataDir         string
	DispatchTimeout time.Duration
	Workers         int
	RatePerMinute   int
	LogRetention    int
	LogLevel        string
	LogFormat       string
}

// Load reads .env (when present), the environment, then args.
func Load(args []string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}
	return parse(args, os.Getenv)
}

func parse(args []string, getenv func(string) string) (*Config, error) {
	env := func(key, def string) string {
		if v := strings.TrimSpace(getenv(key)); v != "" {
			return v
		}
		return def
	}

	addr := env("ADDR", "")
	if addr == "" {
		addr = ":" + env("PORT", "3000")
	}
	timeout, err := time.ParseDuration(env("DISPATCH_TIMEOUT", "5s"))
	if err != nil {
		return nil, fmt.Errorf("invalid DISPATCH_TIMEOUT: %w", err)
	}
	workers, err := strconv.Atoi(env("DISPATCH_WORKERS", "8"))
	if err != nil {
		return nil, fmt.Errorf("invalid DISPATCH_WORKERS: %w", err)
	}
	perMinute, err := strconv.Atoi(env("WEBHOOK_RATE_PER_MINUTE", "20"))
	if err != nil {
		return nil, fmt.Errorf("invalid WEBHOOK_RATE_PER_MINUTE: %w", err)
	}
	retention, err := strconv.Atoi(env("LOG_RETENTION", "10000"))
	if err != nil {
		return nil, fmt.Errorf("invalid LOG_RETENTION: %w", err)
	}

	cfg := &Config{}
	fs := flag.NewFlagSet("chatreminder", flag.ContinueOnError)
	fs.StringVar(&cfg.Addr, "addr", addr, "HTTP bind address")
	fs.StringVar(&cfg.WebhookURL, "webhook-url", env("WECHAT_WEBHOOK_URL", DefaultWebhookURL), "group chat webhook URL")
	fs.StringVar(&cfg.WebhookKey, "webhook-key", env("WECHAT_WEBHOOK_KEY", ""), "group chat webhook key")
	fs.StringVar(&cfg.TimeZone, "tz", env("TZ", "Asia/Shanghai"), "IANA time zone for schedules")
	fs.StringVar(&cfg.StoreDriver, "store", env("STORE_DRIVER", "file"), "store driver: file or sqlite")
	fs.StringVar(&cfg.DataDir, "data", env("DATA_DIR", "."), "data directory")
	fs.DurationVar(&cfg.DispatchTimeout, "timeout", timeout, "webhook request timeout")
	fs.IntVar(&cfg.Workers, "workers", workers, "max concurrent dispatches")
	fs.IntVar(&cfg.RatePerMinute, "rate", perMinute, "max webhook messages per minute (0 = unlimited)")
	fs.IntVar(&cfg.LogRetention, "log-retention", retention, "max dispatch log entries kept")
	fs.StringVar(&cfg.LogLevel, "log-level", env("LOG_LEVEL", "info"), "log level")
	fs.StringVar(&cfg.LogFormat, "log-format", env("LOG_FORMAT", "console"), "log format: console or json")
	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if strings.TrimSpace(c.WebhookKey) == "" {
		return errors.New("WECHAT_WEBHOOK_KEY is required")
	}
	loc, err := time.LoadLocation(c.TimeZone)
	if err != nil {
		return fmt.Errorf("invalid TZ %q: %w", c.TimeZone, err)
	}
	c.Location = loc
	switch c.StoreDriver {
	case "file", "sqlite":
	default:
		return fmt.Errorf("invalid STORE_DRIVER %q", c.StoreDriver)
	}
	if c.DispatchTimeout <= 0 {
		return errors.New("DISPATCH_TIMEOUT must be positive")
	}
	if c.Workers <= 0 {
		return errors.New("DISPATCH_WORKERS must be positive")
	}
	if c.RatePerMinute < 0 {
		return errors.New("WEBHOOK_RATE_PER_MINUTE must not be negative")
	}
	if c.LogRetention <= 0 {
		return errors.New("LOG_RETENTION must be positive")
	}
	return nil
}
