package config

import (
	"time"
)

type Config struct {
	Server         ServerConfig
	Database       DatabaseConfig
	Broker         BrokerConfig
	Logging        LoggingConfig
	Webhook        WebhookConfig
	Queue          QueueConfig
	CRM            CRMConfig
	CircuitBreaker CircuitBreakerConfig
	RateLimit      RateLimitConfig
}

type ServerConfig struct {
	Port                int           `mapstructure:"port"`
	ReadTimeoutSeconds  time.Duration `mapstructure:"read_timeout_seconds"`
	WriteTimeoutSeconds time.Duration `mapstructure:"write_timeout_seconds"`
}

type DatabaseConfig struct {
	Redis   RedisConfig
	MongoDB MongoDBConfig
}

type RedisConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

type MongoDBConfig struct {
	URI      string `mapstructure:"uri"`
	Database string `mapstructure:"database"`
}

type BrokerConfig struct {
	Enabled bool        `mapstructure:"enabled"`
	Kafka   KafkaConfig `mapstructure:"kafka"`
}

type KafkaConfig struct {
	Brokers        []string `mapstructure:"brokers"`
	ProcessedTopic string   `mapstructure:"processed_topic"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// WebhookConfig covers the ingestion side: signature verification, replay
// protection and fingerprint retention.
type WebhookConfig struct {
	PublicKeyPEM         string        `mapstructure:"public_key_pem"`
	ReplayWindow         time.Duration `mapstructure:"replay_window"`
	MessageDedupTTL      time.Duration `mapstructure:"message_dedup_ttl"`
	GeneralDedupTTL      time.Duration `mapstructure:"general_dedup_ttl"`
	DisableRedisPrecheck bool          `mapstructure:"disable_redis_precheck"`
}

type QueueConfig struct {
	DrainToken     string        `mapstructure:"drain_token"`
	BatchSize      int           `mapstructure:"batch_size"`
	MaxAttempts    int           `mapstructure:"max_attempts"`
	ReclaimAfter   time.Duration `mapstructure:"reclaim_after"`
	HandlerTimeout time.Duration `mapstructure:"handler_timeout"`
	Retry          RetryConfig   `mapstructure:"retry"`
	Health         HealthConfig  `mapstructure:"health"`
}

type RetryConfig struct {
	InitialInterval time.Duration `mapstructure:"initial_interval"`
	MaxInterval     time.Duration `mapstructure:"max_interval"`
	Multiplier      float64       `mapstructure:"multiplier"`
}

// HealthConfig tunes the load-shedding annotations, not acceptance. Ingestion
// is never rejected on a degraded signal.
type HealthConfig struct {
	MaxBacklog       int64         `mapstructure:"max_backlog"`
	MaxRecentFailed  int64         `mapstructure:"max_recent_failed"`
	FailureWindow    time.Duration `mapstructure:"failure_window"`
	DegradedDelay    time.Duration `mapstructure:"degraded_delay"`
	DegradedPriority int           `mapstructure:"degraded_priority"`
}

type CRMConfig struct {
	BaseURL        string        `mapstructure:"base_url"`
	APIKey         string        `mapstructure:"api_key"`
	TimeoutSeconds time.Duration `mapstructure:"timeout_seconds"`
	Retry          RetryConfig   `mapstructure:"retry"`
	MaxAttempts    int           `mapstructure:"max_attempts"`
}

type CircuitBreakerConfig struct {
	Enabled      bool          `mapstructure:"enabled"`
	MaxRequests  uint32        `mapstructure:"max_requests"`
	Interval     time.Duration `mapstructure:"interval"`
	Timeout      time.Duration `mapstructure:"timeout"`
	FailureRatio float64       `mapstructure:"failure_ratio"`
	MinRequests  uint32        `mapstructure:"min_requests"`
}

type RateLimitConfig struct {
	Enabled bool    `mapstructure:"enabled"`
	RPS     float64 `mapstructure:"rps"`
	Burst   int     `mapstructure:"burst"`
}

func Load(configFile string) (*Config, error) {
	return LoadConfig(configFile)
}
