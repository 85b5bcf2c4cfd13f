package config

import (
	"fmt"

	"ibex/internal/constants"
)

type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error for field '%s': %s", e.Field, e.Message)
}

func applyDefaults(cfg *Config) {
	if cfg.Webhook.ReplayWindow <= 0 {
		cfg.Webhook.ReplayWindow = constants.ReplayWindow
	}
	if cfg.Webhook.MessageDedupTTL <= 0 {
		cfg.Webhook.MessageDedupTTL = constants.DefaultMessageDedupTTL
	}
	if cfg.Webhook.GeneralDedupTTL <= 0 {
		cfg.Webhook.GeneralDedupTTL = constants.DefaultGeneralDedupTTL
	}
	if cfg.Queue.BatchSize <= 0 {
		cfg.Queue.BatchSize = constants.DefaultBatchSize
	}
	if cfg.Queue.MaxAttempts <= 0 {
		cfg.Queue.MaxAttempts = constants.DefaultMaxAttempts
	}
	if cfg.Queue.ReclaimAfter <= 0 {
		cfg.Queue.ReclaimAfter = constants.DefaultReclaimAfter
	}
	if cfg.Queue.HandlerTimeout <= 0 {
		cfg.Queue.HandlerTimeout = constants.DefaultHandlerTimeout
	}
	if cfg.Queue.Retry.InitialInterval <= 0 {
		cfg.Queue.Retry.InitialInterval = constants.DefaultRetryInitialInterval
	}
	if cfg.Queue.Retry.MaxInterval <= 0 {
		cfg.Queue.Retry.MaxInterval = constants.DefaultRetryMaxInterval
	}
	if cfg.Queue.Retry.Multiplier <= 0 {
		cfg.Queue.Retry.Multiplier = constants.DefaultRetryMultiplier
	}
	if cfg.Queue.Health.MaxBacklog <= 0 {
		cfg.Queue.Health.MaxBacklog = constants.DefaultMaxBacklog
	}
	if cfg.Queue.Health.MaxRecentFailed <= 0 {
		cfg.Queue.Health.MaxRecentFailed = constants.DefaultMaxRecentFailed
	}
	if cfg.Queue.Health.FailureWindow <= 0 {
		cfg.Queue.Health.FailureWindow = constants.DefaultFailureWindow
	}
	if cfg.Queue.Health.DegradedDelay <= 0 {
		cfg.Queue.Health.DegradedDelay = constants.DefaultDegradedDelay
	}
	if cfg.Queue.Health.DegradedPriority <= 0 {
		cfg.Queue.Health.DegradedPriority = 4
	}
	if cfg.Database.MongoDB.Database == "" {
		cfg.Database.MongoDB.Database = constants.DefaultMongoDBName
	}
	if cfg.CRM.TimeoutSeconds <= 0 {
		cfg.CRM.TimeoutSeconds = constants.DefaultHTTPTimeout
	}
}

func ValidateStatic(cfg *Config) error {
	var errors []error

	if err := validateServer(cfg.Server); err != nil {
		errors = append(errors, err)
	}

	if err := validateDatabase(cfg.Database); err != nil {
		errors = append(errors, err)
	}

	if err := validateBroker(cfg.Broker); err != nil {
		errors = append(errors, err)
	}

	if err := validateQueue(cfg.Queue); err != nil {
		errors = append(errors, err)
	}

	if len(errors) > 0 {
		return fmt.Errorf("configuration validation failed: %v", errors)
	}

	return nil
}

func validateServer(cfg ServerConfig) error {
	if cfg.Port < 1 || cfg.Port > 65535 {
		return &ValidationError{
			Field:   "server.port",
			Message: fmt.Sprintf("port must be between 1 and 65535, got %d", cfg.Port),
		}
	}

	if cfg.ReadTimeoutSeconds <= 0 {
		return &ValidationError{
			Field:   "server.read_timeout_seconds",
			Message: "read timeout must be positive",
		}
	}

	if cfg.WriteTimeoutSeconds <= 0 {
		return &ValidationError{
			Field:   "server.write_timeout_seconds",
			Message: "write timeout must be positive",
		}
	}

	return nil
}

func validateDatabase(cfg DatabaseConfig) error {
	if cfg.MongoDB.URI == "" {
		return &ValidationError{
			Field:   "database.mongodb.uri",
			Message: "mongodb uri is required",
		}
	}

	return nil
}

func validateBroker(cfg BrokerConfig) error {
	if !cfg.Enabled {
		return nil
	}

	if len(cfg.Kafka.Brokers) == 0 {
		return &ValidationError{
			Field:   "broker.kafka.brokers",
			Message: "at least one Kafka broker is required when the broker is enabled",
		}
	}

	for i, broker := range cfg.Kafka.Brokers {
		if broker == "" {
			return &ValidationError{
				Field:   fmt.Sprintf("broker.kafka.brokers[%d]", i),
				Message: "broker address cannot be empty",
			}
		}
	}

	if cfg.Kafka.ProcessedTopic == "" {
		return &ValidationError{
			Field:   "broker.kafka.processed_topic",
			Message: "processed topic is required when the broker is enabled",
		}
	}

	return nil
}

func validateQueue(cfg QueueConfig) error {
	if cfg.DrainToken == "" {
		return &ValidationError{
			Field:   "queue.drain_token",
			Message: "drain token is required",
		}
	}

	if cfg.Retry.Multiplier < 0 {
		return &ValidationError{
			Field:   "queue.retry.multiplier",
			Message: "multiplier must be non-negative",
		}
	}

	return nil
}
