package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// legacyEnv lists environment names kept from earlier deployments, bound in
// addition to the automatic SECTION_KEY form.
var legacyEnv = map[string][]string{
	"push.token":              {"PUSH_TOKEN", "PUSHOVER_TOKEN"},
	"push.user":               {"PUSH_USER", "PUSHOVER_USER"},
	"database.postgres.dsn":   {"DATABASE_POSTGRES_DSN", "PG_DSN"},
	"database.redis.address":  {"DATABASE_REDIS_ADDRESS", "REDIS_ADDR"},
	"database.redis.password": {"DATABASE_REDIS_PASSWORD", "REDIS_PASSWORD"},
	"database.migrate":        {"DATABASE_MIGRATE", "MIGRATE"},
	"logging.level":           {"LOGGING_LEVEL", "LOG_LEVEL"},
	"scheduler.interval":      {"SCHEDULER_INTERVAL", "CHECK_INTERVAL"},
	"push.sns.topic_arn":      {"PUSH_SNS_TOPIC_ARN", "SNS_TOPIC_ARN"},
	"push.sns.region":         {"PUSH_SNS_REGION", "AWS_REGION"},
	"source.base_url":         {"SOURCE_BASE_URL", "PROVIDER_BASE_URL"},
	"kafka.brokers":           {"KAFKA_BROKERS", "KAFKA_BROKER"},
}

// Load reads configuration from an optional YAML file, a .env file if one
// exists, and the process environment, in increasing order of precedence.
// An empty path searches ./configs and the working directory for config.yaml.
func Load(path string) (Config, error) {
	if _, err := os.Stat(".env"); err == nil {
		_ = godotenv.Load(".env")
	}

	v := viper.New()
	v.SetConfigType("yaml")
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.AddConfigPath("./configs")
		v.AddConfigPath(".")
	}

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()
	setDefaults(v, Defaults())
	for key, names := range legacyEnv {
		args := append([]string{key}, names...)
		if err := v.BindEnv(args...); err != nil {
			return Config{}, fmt.Errorf("bind env %s: %w", key, err)
		}
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}
	cfg.Kafka.Brokers = splitAndTrim(strings.Join(cfg.Kafka.Brokers, ","))
	cfg.Push.Provider = strings.ToLower(strings.TrimSpace(cfg.Push.Provider))
	cfg.Scheduler.MatchPolicy = strings.ToLower(strings.TrimSpace(cfg.Scheduler.MatchPolicy))
	cfg.Logging.Level = strings.ToLower(cfg.Logging.Level)

	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper, d Config) {
	v.SetDefault("app.name", d.App.Name)
	v.SetDefault("app.environment", d.App.Environment)

	v.SetDefault("http.addr", d.HTTP.Addr)
	v.SetDefault("http.read_timeout", d.HTTP.ReadTimeout)
	v.SetDefault("http.write_timeout", d.HTTP.WriteTimeout)
	v.SetDefault("http.idle_timeout", d.HTTP.IdleTimeout)
	v.SetDefault("http.shutdown_timeout", d.HTTP.ShutdownTimeout)

	v.SetDefault("source.base_url", d.Source.BaseURL)
	v.SetDefault("source.country", d.Source.Country)
	v.SetDefault("source.timeout", d.Source.Timeout)

	v.SetDefault("push.provider", d.Push.Provider)
	v.SetDefault("push.endpoint", d.Push.Endpoint)
	v.SetDefault("push.token", "")
	v.SetDefault("push.user", "")
	v.SetDefault("push.title", d.Push.Title)
	v.SetDefault("push.priority", d.Push.Priority)
	v.SetDefault("push.html", d.Push.HTML)
	v.SetDefault("push.link_url", d.Push.LinkURL)
	v.SetDefault("push.link_text", d.Push.LinkText)
	v.SetDefault("push.timeout", d.Push.Timeout)
	v.SetDefault("push.sns.region", d.Push.SNS.Region)
	v.SetDefault("push.sns.topic_arn", d.Push.SNS.TopicARN)

	v.SetDefault("scheduler.interval", d.Scheduler.Interval)
	v.SetDefault("scheduler.workers", d.Scheduler.Workers)
	v.SetDefault("scheduler.match_policy", d.Scheduler.MatchPolicy)
	v.SetDefault("scheduler.ledger_timeout", d.Scheduler.LedgerTimeout)

	v.SetDefault("database.postgres.dsn", d.Database.Postgres.DSN)
	v.SetDefault("database.postgres.max_connections", d.Database.Postgres.MaxConnections)
	v.SetDefault("database.postgres.max_idle", d.Database.Postgres.MaxIdle)
	v.SetDefault("database.redis.address", d.Database.Redis.Address)
	v.SetDefault("database.redis.password", d.Database.Redis.Password)
	v.SetDefault("database.redis.db", d.Database.Redis.DB)
	v.SetDefault("database.redis.key_ttl", d.Database.Redis.KeyTTL)
	v.SetDefault("database.migrate", d.Database.Migrate)

	v.SetDefault("kafka.brokers", d.Kafka.Brokers)
	v.SetDefault("kafka.topic", d.Kafka.Topic)
	v.SetDefault("kafka.group_id", d.Kafka.GroupID)

	v.SetDefault("logging.level", d.Logging.Level)
	v.SetDefault("logging.format", d.Logging.Format)
}

// Validate reports every problem at once rather than stopping at the first.
func (c Config) Validate() error {
	var errs []error

	if c.Scheduler.Interval <= 0 {
		errs = append(errs, fmt.Errorf("scheduler.interval must be > 0"))
	}
	if c.Scheduler.Workers <= 0 {
		errs = append(errs, fmt.Errorf("scheduler.workers must be > 0"))
	}
	if c.Scheduler.LedgerTimeout <= 0 {
		errs = append(errs, fmt.Errorf("scheduler.ledger_timeout must be > 0"))
	}
	switch c.Scheduler.MatchPolicy {
	case PolicyOverlap, PolicyContainment:
	default:
		errs = append(errs, fmt.Errorf("scheduler.match_policy %q is not one of overlap, containment", c.Scheduler.MatchPolicy))
	}
	if c.Source.BaseURL == "" {
		errs = append(errs, fmt.Errorf("source.base_url is required"))
	}
	if c.Source.Timeout <= 0 {
		errs = append(errs, fmt.Errorf("source.timeout must be > 0"))
	}
	if c.Push.Timeout <= 0 {
		errs = append(errs, fmt.Errorf("push.timeout must be > 0"))
	}
	switch c.Push.Provider {
	case ProviderPushover, ProviderSNS:
	default:
		errs = append(errs, fmt.Errorf("push.provider %q is not one of pushover, sns", c.Push.Provider))
	}

	return errors.Join(errs...)
}

func splitAndTrim(v string) []string {
	raw := strings.Split(v, ",")
	out := make([]string, 0, len(raw))
	for _, r := range raw {
		r = strings.TrimSpace(r)
		if r == "" {
			continue
		}
		out = append(out, r)
	}
	return out
}
