package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"

	"netbrain/internal/constants"
)

type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error for field '%s': %s", e.Field, e.Message)
}

// ValidateStatic checks every section and joins all problems so an operator
// can fix a broken file in one pass.
func ValidateStatic(cfg *Config) error {
	var errs []error

	for _, err := range []error{
		validateStage(cfg.Stage),
		validateServer(cfg.Server),
		validateBroker(cfg.Broker),
		validateDatabase(cfg.Database),
		validateMessageBus(cfg.MessageBus),
		validatePolling(cfg.Polling),
		validateCorrelation(cfg.Correlation),
		validateNetBrain(cfg.NetBrain),
		validatePipeline(cfg.Pipeline),
		validateIngress(cfg.Ingress),
	} {
		if err != nil {
			errs = append(errs, err)
		}
	}

	return errors.Join(errs...)
}

func validateStage(stage string) error {
	switch stage {
	case "DEV", "TEST", "PROD":
		return nil
	default:
		return &ValidationError{
			Field:   "stage",
			Message: fmt.Sprintf("unknown stage %q (supported: DEV, TEST, PROD)", stage),
		}
	}
}

func validateServer(cfg ServerConfig) error {
	if cfg.Port < 1 || cfg.Port > 65535 {
		return &ValidationError{
			Field:   "server.port",
			Message: fmt.Sprintf("port must be between 1 and 65535, got %d", cfg.Port),
		}
	}

	if cfg.ReadTimeout <= 0 {
		return &ValidationError{
			Field:   "server.read_timeout",
			Message: "read timeout must be positive",
		}
	}

	if cfg.WriteTimeout <= 0 {
		return &ValidationError{
			Field:   "server.write_timeout",
			Message: "write timeout must be positive",
		}
	}

	return nil
}

func validateBroker(cfg BrokerConfig) error {
	switch cfg.Type {
	case constants.BrokerTypeInline:
		return nil
	case constants.BrokerTypeKafka:
		return validateKafka(cfg.Kafka)
	default:
		return &ValidationError{
			Field:   "broker.type",
			Message: fmt.Sprintf("unknown broker type: %s (supported: inline, kafka)", cfg.Type),
		}
	}
}

func validateKafka(cfg KafkaConfig) error {
	if len(cfg.Brokers) == 0 {
		return &ValidationError{
			Field:   "broker.kafka.brokers",
			Message: "at least one Kafka broker is required",
		}
	}

	for i, broker := range cfg.Brokers {
		if broker == "" {
			return &ValidationError{
				Field:   fmt.Sprintf("broker.kafka.brokers[%d]", i),
				Message: "broker address cannot be empty",
			}
		}
	}

	if cfg.GroupID == "" {
		return &ValidationError{
			Field:   "broker.kafka.group_id",
			Message: "Kafka consumer group ID is required",
		}
	}

	if cfg.CommandTopic == "" {
		return &ValidationError{
			Field:   "broker.kafka.command_topic",
			Message: "command topic is required",
		}
	}

	return validateRetry("broker.kafka.retry", cfg.Retry)
}

func validateRetry(prefix string, cfg RetryConfig) error {
	if cfg.MaxAttempts < 0 {
		return &ValidationError{
			Field:   prefix + ".max_attempts",
			Message: "max_attempts must be non-negative",
		}
	}

	if cfg.InitialInterval < 0 || cfg.MaxInterval < 0 {
		return &ValidationError{
			Field:   prefix + ".initial_interval",
			Message: "intervals must be non-negative",
		}
	}

	if cfg.MaxInterval > 0 && cfg.InitialInterval > 0 && cfg.MaxInterval < cfg.InitialInterval {
		return &ValidationError{
			Field:   prefix + ".max_interval",
			Message: "max_interval must be greater than or equal to initial_interval",
		}
	}

	if cfg.Multiplier < 0 {
		return &ValidationError{
			Field:   prefix + ".multiplier",
			Message: "multiplier must be non-negative",
		}
	}

	return nil
}

func validateDatabase(cfg DatabaseConfig) error {
	if cfg.Redis.Host != "" {
		if cfg.Redis.Port < 1 || cfg.Redis.Port > 65535 {
			return &ValidationError{
				Field:   "database.redis.port",
				Message: fmt.Sprintf("port must be between 1 and 65535, got %d", cfg.Redis.Port),
			}
		}
	}

	if cfg.MongoDB.URI == "" {
		return &ValidationError{
			Field:   "database.mongodb.uri",
			Message: "MongoDB URI is required",
		}
	}

	if !strings.HasPrefix(cfg.MongoDB.URI, "mongodb://") && !strings.HasPrefix(cfg.MongoDB.URI, "mongodb+srv://") {
		return &ValidationError{
			Field:   "database.mongodb.uri",
			Message: "MongoDB URI must start with mongodb:// or mongodb+srv://",
		}
	}

	if cfg.MongoDB.Database == "" {
		return &ValidationError{
			Field:   "database.mongodb.database",
			Message: "MongoDB database name is required",
		}
	}

	return nil
}

func validateMessageBus(cfg MessageBusConfig) error {
	if cfg.Workers < 1 {
		return &ValidationError{
			Field:   "message_bus.workers",
			Message: fmt.Sprintf("at least one worker is required, got %d", cfg.Workers),
		}
	}

	if cfg.QueueCapacity < 0 {
		return &ValidationError{
			Field:   "message_bus.queue_capacity",
			Message: "queue capacity must be non-negative",
		}
	}

	return nil
}

func validatePolling(cfg PollingConfig) error {
	if !cfg.Enabled {
		return nil
	}

	if cfg.TickInterval <= 0 {
		return &ValidationError{
			Field:   "polling.tick_interval",
			Message: "tick interval must be positive",
		}
	}

	if cfg.SyncEvery < 1 {
		return &ValidationError{
			Field:   "polling.sync_every",
			Message: "sync_every must be at least 1",
		}
	}

	if cfg.DeadAlertThreshold < 0 || cfg.MaxDeadRetries < 0 {
		return &ValidationError{
			Field:   "polling.dead_alert_threshold",
			Message: "dead pile limits must be non-negative",
		}
	}

	return nil
}

func validateCorrelation(cfg CorrelationConfig) error {
	if cfg.IDLength < 1 {
		return &ValidationError{
			Field:   "correlation.id_length",
			Message: "correlation id length must be positive",
		}
	}
	return nil
}

func validateNetBrain(cfg NetBrainConfig) error {
	if cfg.BaseURL == "" {
		return &ValidationError{
			Field:   "netbrain.base_url",
			Message: "NetBrain base URL is required",
		}
	}

	if _, err := url.ParseRequestURI(cfg.BaseURL); err != nil {
		return &ValidationError{
			Field:   "netbrain.base_url",
			Message: fmt.Sprintf("invalid URL: %v", err),
		}
	}

	if cfg.Username == "" {
		return &ValidationError{
			Field:   "netbrain.username",
			Message: "NetBrain username is required",
		}
	}

	return validateRetry("netbrain.retry", cfg.Retry)
}

func validatePipeline(cfg PipelineConfig) error {
	if cfg.StatusPollMinutes < 1 {
		return &ValidationError{
			Field:   "pipeline.status_poll_minutes",
			Message: "status poll interval must be at least one minute",
		}
	}

	if len(cfg.CLICommands) == 0 {
		return &ValidationError{
			Field:   "pipeline.cli_commands",
			Message: "at least one CLI command is required",
		}
	}

	return nil
}

func validateIngress(cfg IngressConfig) error {
	rl := cfg.RateLimit
	if !rl.Enabled {
		return nil
	}

	if rl.RPS < 0 || rl.Burst < 0 {
		return &ValidationError{
			Field:   "ingress.rate_limit",
			Message: "rps and burst must be non-negative",
		}
	}

	if rl.CleanupInterval < 0 || rl.MaxAge < 0 {
		return &ValidationError{
			Field:   "ingress.rate_limit",
			Message: "cleanup_interval and max_age must be non-negative",
		}
	}

	return nil
}
