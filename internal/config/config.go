package config

import (
	"fmt"
	"time"
)

// Config holds every tunable of the engine and its HTTP surface. It is built
// once at startup and handed to constructors; nothing below cmd/ reads the
// environment directly.
type Config struct {
	App       AppConfig       `mapstructure:"app"`
	HTTP      HTTPConfig      `mapstructure:"http"`
	Source    SourceConfig    `mapstructure:"source"`
	Push      PushConfig      `mapstructure:"push"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Kafka     KafkaConfig     `mapstructure:"kafka"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	Searches  []SearchSeed    `mapstructure:"searches"`
}

type AppConfig struct {
	Name        string `mapstructure:"name"`
	Environment string `mapstructure:"environment"`
}

type HTTPConfig struct {
	Addr            string        `mapstructure:"addr"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	IdleTimeout     time.Duration `mapstructure:"idle_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// SourceConfig points at the upstream listings feed.
type SourceConfig struct {
	BaseURL string        `mapstructure:"base_url"`
	Country string        `mapstructure:"country"`
	Timeout time.Duration `mapstructure:"timeout"`
}

// Endpoint is the full listings URL for the configured country.
func (s SourceConfig) Endpoint() string {
	return fmt.Sprintf("%s/api/transport-routes/?country=%s", s.BaseURL, s.Country)
}

type PushConfig struct {
	Provider string        `mapstructure:"provider"`
	Endpoint string        `mapstructure:"endpoint"`
	Token    string        `mapstructure:"token"`
	User     string        `mapstructure:"user"`
	Title    string        `mapstructure:"title"`
	Priority int           `mapstructure:"priority"`
	HTML     bool          `mapstructure:"html"`
	LinkURL  string        `mapstructure:"link_url"`
	LinkText string        `mapstructure:"link_text"`
	Timeout  time.Duration `mapstructure:"timeout"`
	SNS      SNSConfig     `mapstructure:"sns"`
}

type SNSConfig struct {
	Region   string `mapstructure:"region"`
	TopicARN string `mapstructure:"topic_arn"`
}

type SchedulerConfig struct {
	Interval      time.Duration `mapstructure:"interval"`
	Workers       int           `mapstructure:"workers"`
	MatchPolicy   string        `mapstructure:"match_policy"`
	LedgerTimeout time.Duration `mapstructure:"ledger_timeout"`
}

type DatabaseConfig struct {
	Postgres PostgresConfig `mapstructure:"postgres"`
	Redis    RedisConfig    `mapstructure:"redis"`
	Migrate  bool           `mapstructure:"migrate"`
}

type PostgresConfig struct {
	DSN            string `mapstructure:"dsn"`
	MaxConnections int    `mapstructure:"max_connections"`
	MaxIdle        int    `mapstructure:"max_idle"`
}

type RedisConfig struct {
	Address  string        `mapstructure:"address"`
	Password string        `mapstructure:"password"`
	DB       int           `mapstructure:"db"`
	KeyTTL   time.Duration `mapstructure:"key_ttl"`
}

type KafkaConfig struct {
	Brokers []string `mapstructure:"brokers"`
	Topic   string   `mapstructure:"topic"`
	GroupID string   `mapstructure:"group_id"`
}

// SearchSeed is a saved search declared in configuration, used when no
// database backs the criteria store. Dates are YYYY-MM-DD.
type SearchSeed struct {
	Owner       string `mapstructure:"owner"`
	Origin      string `mapstructure:"origin"`
	Destination string `mapstructure:"destination"`
	DateFrom    string `mapstructure:"date_from"`
	DateTo      string `mapstructure:"date_to"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

const (
	ProviderPushover = "pushover"
	ProviderSNS      = "sns"

	PolicyOverlap     = "overlap"
	PolicyContainment = "containment"
)

// Defaults are the production settings:
// a two minute beat and ten second upstream/push timeouts.
func Defaults() Config {
	return Config{
		App: AppConfig{Name: "route-watch", Environment: "development"},
		HTTP: HTTPConfig{
			Addr:            ":8080",
			ReadTimeout:     5 * time.Second,
			WriteTimeout:    10 * time.Second,
			IdleTimeout:     120 * time.Second,
			ShutdownTimeout: 15 * time.Second,
		},
		Source: SourceConfig{
			BaseURL: "https://www.hertzfreerider.se",
			Country: "SWEDEN",
			Timeout: 10 * time.Second,
		},
		Push: PushConfig{
			Provider: ProviderPushover,
			Endpoint: "https://api.pushover.net/1/messages.json",
			Title:    "Hertz Freerider",
			LinkURL:  "https://www.hertzfreerider.se/sv-se/",
			Timeout:  10 * time.Second,
		},
		Scheduler: SchedulerConfig{
			Interval:      120 * time.Second,
			Workers:       4,
			MatchPolicy:   PolicyOverlap,
			LedgerTimeout: 5 * time.Second,
		},
		Database: DatabaseConfig{
			Postgres: PostgresConfig{MaxConnections: 10, MaxIdle: 2},
			Redis:    RedisConfig{KeyTTL: 30 * 24 * time.Hour},
		},
		Kafka:   KafkaConfig{Topic: "route-notifications", GroupID: "route-watch-cache"},
		Logging: LoggingConfig{Level: "info", Format: "json"},
	}
}

// PushConfigured reports whether outbound notifications can be sent.
func (c Config) PushConfigured() bool {
	switch c.Push.Provider {
	case ProviderSNS:
		return c.Push.SNS.TopicARN != ""
	default:
		return c.Push.Token != "" && c.Push.User != ""
	}
}
