// Package config loads application configuration from defaults, an optional
// YAML file and INCIDENT_PAGER_* environment variables, in that order.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/bissquit/incident-pager/internal/notifications"
	"github.com/bissquit/incident-pager/internal/notifications/email"
	"github.com/bissquit/incident-pager/internal/notifications/mattermost"
	"github.com/bissquit/incident-pager/internal/notifications/slack"
	"github.com/bissquit/incident-pager/internal/notifications/sms"
	"github.com/bissquit/incident-pager/internal/pkg/schedule"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// EnvPrefix prefixes every environment override. Nested keys are joined
// with a double underscore: INCIDENT_PAGER_DATABASE__URL sets database.url.
const EnvPrefix = "INCIDENT_PAGER_"

// Backends.
const (
	BackendMemory   = "memory"
	BackendPostgres = "postgres"
	BackendRedis    = "redis"
)

// Chat providers.
const (
	ChatLog        = "log"
	ChatSlack      = "slack"
	ChatMattermost = "mattermost"
)

// Config is the application configuration.
type Config struct {
	Server        ServerConfig        `koanf:"server"`
	Database      DatabaseConfig      `koanf:"database"`
	Log           LogConfig           `koanf:"log"`
	Auth          AuthConfig          `koanf:"auth"`
	CORS          CORSConfig          `koanf:"cors"`
	Cache         CacheConfig         `koanf:"cache"`
	Events        EventsConfig        `koanf:"events"`
	Notifications NotificationsConfig `koanf:"notifications"`
	SLA           SLAConfig           `koanf:"sla"`
}

// ServerConfig configures the HTTP listeners.
type ServerConfig struct {
	Host              string        `koanf:"host"`
	Port              string        `koanf:"port"`
	MetricsPort       string        `koanf:"metrics_port"`
	ReadTimeout       time.Duration `koanf:"read_timeout"`
	ReadHeaderTimeout time.Duration `koanf:"read_header_timeout"`
	WriteTimeout      time.Duration `koanf:"write_timeout"`
	IdleTimeout       time.Duration `koanf:"idle_timeout"`
	ShutdownTimeout   time.Duration `koanf:"shutdown_timeout"`
}

// DatabaseConfig configures PostgreSQL. An empty URL runs everything in memory.
type DatabaseConfig struct {
	URL             string        `koanf:"url"`
	MaxOpenConns    int           `koanf:"max_open_conns"`
	MaxIdleConns    int           `koanf:"max_idle_conns"`
	ConnMaxLifetime time.Duration `koanf:"conn_max_lifetime"`
	ConnectAttempts int           `koanf:"connect_attempts"`
	ConnectTimeout  time.Duration `koanf:"connect_timeout"`
}

// InMemory reports whether no database is configured.
func (d DatabaseConfig) InMemory() bool {
	return d.URL == ""
}

// LogConfig configures the logger.
type LogConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
}

// AuthConfig configures bearer token validation.
type AuthConfig struct {
	Secret string `koanf:"secret"`
	Issuer string `koanf:"issuer"`
}

// CORSConfig configures allowed browser origins.
type CORSConfig struct {
	AllowedOrigins []string `koanf:"allowed_origins"`
}

// CacheConfig configures the incident cache.
type CacheConfig struct {
	Backend string        `koanf:"backend"`
	TTL     time.Duration `koanf:"ttl"`
	Size    int           `koanf:"size"`
	Redis   RedisConfig   `koanf:"redis"`
}

// RedisConfig configures the redis cache backend.
type RedisConfig struct {
	Addr     string `koanf:"addr"`
	Password string `koanf:"password"`
	DB       int    `koanf:"db"`
}

// EventsConfig configures the event bus.
type EventsConfig struct {
	Topic         string        `koanf:"topic"`
	Group         string        `koanf:"group"`
	Partitions    int           `koanf:"partitions"`
	BatchSize     int           `koanf:"batch_size"`
	PollInterval  time.Duration `koanf:"poll_interval"`
	RetryInitial  time.Duration `koanf:"retry_initial"`
	RetryMax      time.Duration `koanf:"retry_max"`
	Retention     time.Duration `koanf:"retention"`
	PruneSchedule string        `koanf:"prune_schedule"`
}

// NotificationsConfig configures the dispatcher and its sinks.
type NotificationsConfig struct {
	SinkTimeout time.Duration                                      `koanf:"sink_timeout"`
	Targets     map[notifications.Audience]notifications.Recipient `koanf:"targets"`
	Email       email.Config                                       `koanf:"email"`
	SMS         sms.Config                                         `koanf:"sms"`
	Chat        ChatConfig                                         `koanf:"chat"`
}

// ChatConfig selects and configures the chat sink.
type ChatConfig struct {
	Provider   string            `koanf:"provider"`
	Slack      slack.Config      `koanf:"slack"`
	Mattermost mattermost.Config `koanf:"mattermost"`
}

// SLAConfig configures the SLA watcher.
type SLAConfig struct {
	Enabled  bool   `koanf:"enabled"`
	Schedule string `koanf:"schedule"`
}

// Default returns the configuration used when nothing overrides it.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host:              "0.0.0.0",
			Port:              "8080",
			MetricsPort:       "9090",
			ReadTimeout:       15 * time.Second,
			ReadHeaderTimeout: 5 * time.Second,
			WriteTimeout:      15 * time.Second,
			IdleTimeout:       60 * time.Second,
			ShutdownTimeout:   30 * time.Second,
		},
		Database: DatabaseConfig{
			MaxOpenConns:    25,
			MaxIdleConns:    5,
			ConnMaxLifetime: 5 * time.Minute,
			ConnectAttempts: 5,
			ConnectTimeout:  30 * time.Second,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
		Cache: CacheConfig{
			Backend: BackendMemory,
			TTL:     30 * time.Minute,
			Size:    10000,
		},
		Events: EventsConfig{
			Topic:         "incident-events",
			Group:         notifications.DefaultGroup,
			Partitions:    8,
			BatchSize:     100,
			PollInterval:  time.Second,
			RetryInitial:  100 * time.Millisecond,
			RetryMax:      30 * time.Second,
			Retention:     7 * 24 * time.Hour,
			PruneSchedule: "@every 1h",
		},
		Notifications: NotificationsConfig{
			SinkTimeout: notifications.DefaultSinkTimeout,
			Targets:     notifications.DefaultTargets(),
			Chat:        ChatConfig{Provider: ChatLog},
		},
		SLA: SLAConfig{
			Enabled:  false,
			Schedule: "@every 1m",
		},
	}
}

// Load builds the configuration from defaults, the YAML file at path (if
// path is not empty) and the environment. The result is validated.
func Load(path string) (*Config, error) {
	cfg, err := Read(path)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Read is Load without validation, for commands that only need part of the
// configuration.
func Read(path string) (*Config, error) {
	k := koanf.New(".")

	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("load config file %s: %w", path, err)
		}
	}

	if err := k.Load(env.Provider(EnvPrefix, ".", envKey), nil); err != nil {
		return nil, fmt.Errorf("load environment: %w", err)
	}

	cfg := Default()
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	return cfg, nil
}

// envKey maps INCIDENT_PAGER_CACHE__REDIS__ADDR to cache.redis.addr.
func envKey(s string) string {
	s = strings.TrimPrefix(s, EnvPrefix)
	return strings.ReplaceAll(strings.ToLower(s), "__", ".")
}

// Validate reports every configuration problem at once.
func (c *Config) Validate() error {
	var errs []error

	if c.Server.Port == "" {
		errs = append(errs, errors.New("server.port is required"))
	}
	if c.Server.MetricsPort == c.Server.Port {
		errs = append(errs, errors.New("server.metrics_port must differ from server.port"))
	}

	if !c.Database.InMemory() && c.Database.MaxOpenConns <= 0 {
		errs = append(errs, errors.New("database.max_open_conns must be positive"))
	}

	switch c.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Errorf("log.level %q is not one of debug, info, warn, error", c.Log.Level))
	}
	switch c.Log.Format {
	case "json", "text":
	default:
		errs = append(errs, fmt.Errorf("log.format %q is not one of json, text", c.Log.Format))
	}

	if c.Auth.Secret == "" {
		errs = append(errs, errors.New("auth.secret is required"))
	} else if len(c.Auth.Secret) < 32 {
		errs = append(errs, errors.New("auth.secret must be at least 32 bytes"))
	}

	switch c.Cache.Backend {
	case BackendMemory:
	case BackendRedis:
		if c.Cache.Redis.Addr == "" {
			errs = append(errs, errors.New("cache.redis.addr is required for the redis backend"))
		}
	default:
		errs = append(errs, fmt.Errorf("cache.backend %q is not one of memory, redis", c.Cache.Backend))
	}

	if c.Events.Topic == "" {
		errs = append(errs, errors.New("events.topic is required"))
	}
	if c.Events.Partitions <= 0 {
		errs = append(errs, errors.New("events.partitions must be positive"))
	}
	if err := schedule.Validate(c.Events.PruneSchedule); err != nil {
		errs = append(errs, fmt.Errorf("events.prune_schedule: %w", err))
	}

	if c.Notifications.SinkTimeout <= 0 {
		errs = append(errs, errors.New("notifications.sink_timeout must be positive"))
	}
	if err := c.Notifications.Email.Validate(); err != nil {
		errs = append(errs, err)
	}
	if err := c.Notifications.SMS.Validate(); err != nil {
		errs = append(errs, err)
	}
	switch c.Notifications.Chat.Provider {
	case ChatLog:
	case ChatSlack:
		if c.Notifications.Chat.Slack.BotToken == "" {
			errs = append(errs, errors.New("notifications.chat.slack.bot_token is required for the slack provider"))
		}
	case ChatMattermost:
		if c.Notifications.Chat.Mattermost.WebhookURL == "" {
			errs = append(errs, errors.New("notifications.chat.mattermost.webhook_url is required for the mattermost provider"))
		}
	default:
		errs = append(errs, fmt.Errorf("notifications.chat.provider %q is not one of log, slack, mattermost", c.Notifications.Chat.Provider))
	}

	if c.SLA.Enabled {
		if err := schedule.Validate(c.SLA.Schedule); err != nil {
			errs = append(errs, fmt.Errorf("sla.schedule: %w", err))
		}
	}

	return errors.Join(errs...)
}
