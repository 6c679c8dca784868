// Package config loads the coverage service configuration from a YAML file and
// COVERAGE_* environment variables.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"

	"github.com/telhawk-systems/telhawk-coverage/internal/alertstore"
	"github.com/telhawk-systems/telhawk-coverage/internal/correlation"
	"github.com/telhawk-systems/telhawk-coverage/internal/query"
)

// Config contains runtime configuration for the coverage service.
type Config struct {
	Server      ServerConfig      `yaml:"server" mapstructure:"server"`
	Logging     LoggingConfig     `yaml:"logging" mapstructure:"logging"`
	OpenSearch  OpenSearchConfig  `yaml:"opensearch" mapstructure:"opensearch"`
	Match       MatchConfig       `yaml:"match" mapstructure:"match"`
	Correlation CorrelationConfig `yaml:"correlation" mapstructure:"correlation"`
	Rules       RulesConfig       `yaml:"rules" mapstructure:"rules"`
	Caldera     CalderaConfig     `yaml:"caldera" mapstructure:"caldera"`
	NATS        NATSConfig        `yaml:"nats" mapstructure:"nats"`
	Kafka       KafkaConfig       `yaml:"kafka" mapstructure:"kafka"`
	RateLimit   RateLimitConfig   `yaml:"ratelimit" mapstructure:"ratelimit"`
	Auth        AuthConfig        `yaml:"auth" mapstructure:"auth"`
	DatabaseURL string            `yaml:"database_url" mapstructure:"database_url" validate:"omitempty,url"`
}

// ServerConfig captures HTTP server settings.
type ServerConfig struct {
	Port                int      `yaml:"port" mapstructure:"port" validate:"min=1,max=65535"`
	ReadTimeoutSeconds  int      `yaml:"read_timeout_seconds" mapstructure:"read_timeout_seconds" validate:"min=1"`
	WriteTimeoutSeconds int      `yaml:"write_timeout_seconds" mapstructure:"write_timeout_seconds" validate:"min=1"`
	IdleTimeoutSeconds  int      `yaml:"idle_timeout_seconds" mapstructure:"idle_timeout_seconds" validate:"min=1"`
	AllowedOrigins      []string `yaml:"allowed_origins" mapstructure:"allowed_origins"`
}

// ReadTimeout returns the configured read timeout as a duration.
func (s ServerConfig) ReadTimeout() time.Duration {
	return time.Duration(s.ReadTimeoutSeconds) * time.Second
}

// WriteTimeout returns the configured write timeout as a duration.
func (s ServerConfig) WriteTimeout() time.Duration {
	return time.Duration(s.WriteTimeoutSeconds) * time.Second
}

// IdleTimeout returns the configured idle timeout as a duration.
func (s ServerConfig) IdleTimeout() time.Duration {
	return time.Duration(s.IdleTimeoutSeconds) * time.Second
}

// LoggingConfig captures logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level" mapstructure:"level" validate:"omitempty,oneof=debug info warn warning error"`
	Format string `yaml:"format" mapstructure:"format" validate:"omitempty,oneof=json text"`
}

// OpenSearchConfig captures Wazuh indexer connection settings.
type OpenSearchConfig struct {
	URL                   string `yaml:"url" mapstructure:"url" validate:"required,url"`
	Username              string `yaml:"username" mapstructure:"username"`
	Password              string `yaml:"password" mapstructure:"password"`
	Insecure              bool   `yaml:"insecure" mapstructure:"insecure"`
	Index                 string `yaml:"index" mapstructure:"index"`
	RequestTimeoutSeconds int    `yaml:"request_timeout_seconds" mapstructure:"request_timeout_seconds" validate:"min=1"`
}

// MatchConfig controls how step searches are built.
type MatchConfig struct {
	TimeWindowSeconds int      `yaml:"time_window_seconds" mapstructure:"time_window_seconds" validate:"min=1"`
	MaxAlerts         int      `yaml:"max_alerts" mapstructure:"max_alerts" validate:"min=1,max=10000"`
	TechniqueFields   []string `yaml:"technique_fields" mapstructure:"technique_fields"`
	WildcardFields    []string `yaml:"wildcard_fields" mapstructure:"wildcard_fields"`
	MessageFields     []string `yaml:"message_fields" mapstructure:"message_fields"`
	TimestampFields   []string `yaml:"timestamp_fields" mapstructure:"timestamp_fields"`
	RuleIDFields      []string `yaml:"rule_id_fields" mapstructure:"rule_id_fields"`
}

// CorrelationConfig tunes the two-tier engine.
type CorrelationConfig struct {
	MaxConcurrency    int           `yaml:"max_concurrency" mapstructure:"max_concurrency" validate:"min=1,max=64"`
	SearchTimeout     time.Duration `yaml:"search_timeout" mapstructure:"search_timeout" validate:"gt=0"`
	OperationTimeout  time.Duration `yaml:"operation_timeout" mapstructure:"operation_timeout" validate:"gt=0"`
	DefaultWindow     time.Duration `yaml:"default_window" mapstructure:"default_window" validate:"gt=0"`
	FallbackWindow    time.Duration `yaml:"fallback_window" mapstructure:"fallback_window" validate:"gt=0"`
	FallbackHintSize  int           `yaml:"fallback_hint_size" mapstructure:"fallback_hint_size" validate:"min=1,max=10000"`
	FallbackRangeSize int           `yaml:"fallback_range_size" mapstructure:"fallback_range_size" validate:"min=1,max=10000"`
}

// RulesConfig points at an optional rule-to-technique mapping file.
type RulesConfig struct {
	MappingFile string `yaml:"mapping_file" mapstructure:"mapping_file"`
}

// CalderaConfig configures chain loading from the emulation server.
type CalderaConfig struct {
	URL    string `yaml:"url" mapstructure:"url" validate:"omitempty,url"`
	APIKey string `yaml:"api_key" mapstructure:"api_key"`
}

// NATSConfig captures NATS message broker connection settings.
type NATSConfig struct {
	URL           string `yaml:"url" mapstructure:"url" validate:"required_if=Enabled true"`
	Enabled       bool   `yaml:"enabled" mapstructure:"enabled"`
	Jobs          bool   `yaml:"jobs" mapstructure:"jobs"`
	MaxReconnects int    `yaml:"max_reconnects" mapstructure:"max_reconnects"`
	ReconnectWait int    `yaml:"reconnect_wait_seconds" mapstructure:"reconnect_wait_seconds"`
}

// ReconnectWaitDuration returns the reconnect wait as a time.Duration.
func (n NATSConfig) ReconnectWaitDuration() time.Duration {
	return time.Duration(n.ReconnectWait) * time.Second
}

// KafkaConfig configures report publication to Kafka.
type KafkaConfig struct {
	Enabled bool     `yaml:"enabled" mapstructure:"enabled"`
	Brokers []string `yaml:"brokers" mapstructure:"brokers" validate:"required_if=Enabled true,dive,hostname_port"`
	Topic   string   `yaml:"topic" mapstructure:"topic" validate:"required_if=Enabled true"`
}

// RateLimitConfig configures the per-client request limiter.
type RateLimitConfig struct {
	Enabled       bool   `yaml:"enabled" mapstructure:"enabled"`
	RedisURL      string `yaml:"redis_url" mapstructure:"redis_url" validate:"required_if=Enabled true"`
	Requests      int    `yaml:"requests" mapstructure:"requests" validate:"min=1"`
	WindowSeconds int    `yaml:"window_seconds" mapstructure:"window_seconds" validate:"min=1"`
}

// Window returns the limiter window as a duration.
func (r RateLimitConfig) Window() time.Duration {
	return time.Duration(r.WindowSeconds) * time.Second
}

// AuthConfig enables bearer token validation when JWTSecret is set.
type AuthConfig struct {
	JWTSecret string `yaml:"jwt_secret" mapstructure:"jwt_secret"`
}

// Load reads configuration from the provided path and environment variables.
func Load(configPath string) (*Config, error) {
	v := viper.New()

	v.SetDefault("server.port", 8090)
	v.SetDefault("server.read_timeout_seconds", 15)
	v.SetDefault("server.write_timeout_seconds", 330)
	v.SetDefault("server.idle_timeout_seconds", 60)
	v.SetDefault("server.allowed_origins", []string{})

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")

	def := correlation.DefaultConfig()
	fields := query.DefaultFields()

	v.SetDefault("opensearch.url", "https://localhost:9200")
	v.SetDefault("opensearch.username", "admin")
	v.SetDefault("opensearch.password", "admin")
	v.SetDefault("opensearch.insecure", true)
	v.SetDefault("opensearch.index", def.Index)
	v.SetDefault("opensearch.request_timeout_seconds", 30)

	v.SetDefault("match.time_window_seconds", int(def.StepWindow/time.Second))
	v.SetDefault("match.max_alerts", query.DefaultMaxHits)
	v.SetDefault("match.technique_fields", fields.Technique)
	v.SetDefault("match.wildcard_fields", fields.Wildcard)
	v.SetDefault("match.message_fields", []string{})
	v.SetDefault("match.timestamp_fields", fields.Timestamp)
	v.SetDefault("match.rule_id_fields", fields.RuleID)

	v.SetDefault("correlation.max_concurrency", def.MaxConcurrency)
	v.SetDefault("correlation.search_timeout", def.SearchTimeout)
	v.SetDefault("correlation.operation_timeout", def.OperationTimeout)
	v.SetDefault("correlation.default_window", def.DefaultWindow)
	v.SetDefault("correlation.fallback_window", def.FallbackWindow)
	v.SetDefault("correlation.fallback_hint_size", def.FallbackHintSize)
	v.SetDefault("correlation.fallback_range_size", def.FallbackRangeSize)

	v.SetDefault("rules.mapping_file", "")

	v.SetDefault("caldera.url", "")
	v.SetDefault("caldera.api_key", "")

	v.SetDefault("nats.url", "nats://nats:4222")
	v.SetDefault("nats.enabled", false)
	v.SetDefault("nats.jobs", true)
	v.SetDefault("nats.max_reconnects", -1)
	v.SetDefault("nats.reconnect_wait_seconds", 2)

	v.SetDefault("kafka.enabled", false)
	v.SetDefault("kafka.brokers", []string{"localhost:9092"})
	v.SetDefault("kafka.topic", "coverage-reports")

	v.SetDefault("ratelimit.enabled", false)
	v.SetDefault("ratelimit.redis_url", "redis://localhost:6379/0")
	v.SetDefault("ratelimit.requests", 60)
	v.SetDefault("ratelimit.window_seconds", 60)

	v.SetDefault("auth.jwt_secret", "")
	v.SetDefault("database_url", "")

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("/etc/telhawk/coverage")
	}

	v.SetEnvPrefix("COVERAGE")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

var validate = validator.New()

// Validate checks the struct constraints of the configuration.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			msgs := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				msgs = append(msgs, fmt.Sprintf("%s failed %q", fe.Namespace(), fe.Tag()))
			}
			return fmt.Errorf("invalid config: %s", strings.Join(msgs, "; "))
		}
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

// QueryFields returns the field layout for the query builder.
func (c *Config) QueryFields() query.Fields {
	return query.Fields{
		Technique: c.Match.TechniqueFields,
		Wildcard:  c.Match.WildcardFields,
		Message:   c.Match.MessageFields,
		Timestamp: c.Match.TimestampFields,
		RuleID:    c.Match.RuleIDFields,
	}
}

// CorrelationSettings returns the engine configuration.
func (c *Config) CorrelationSettings() correlation.Config {
	return correlation.Config{
		Index:             c.OpenSearch.Index,
		StepWindow:        time.Duration(c.Match.TimeWindowSeconds) * time.Second,
		MaxConcurrency:    c.Correlation.MaxConcurrency,
		SearchTimeout:     c.Correlation.SearchTimeout,
		OperationTimeout:  c.Correlation.OperationTimeout,
		DefaultWindow:     c.Correlation.DefaultWindow,
		FallbackWindow:    c.Correlation.FallbackWindow,
		FallbackHintSize:  c.Correlation.FallbackHintSize,
		FallbackRangeSize: c.Correlation.FallbackRangeSize,
	}
}

// AlertStore returns the alert store connection settings.
func (c *Config) AlertStore() alertstore.Config {
	return alertstore.Config{
		URL:            c.OpenSearch.URL,
		Username:       c.OpenSearch.Username,
		Password:       c.OpenSearch.Password,
		Insecure:       c.OpenSearch.Insecure,
		RequestTimeout: time.Duration(c.OpenSearch.RequestTimeoutSeconds) * time.Second,
	}
}
