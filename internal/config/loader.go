package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"netbrain/internal/constants"
)

func LoadConfig(configFile string) (*Config, error) {
	viper.Reset()

	viper.SetConfigType("yaml")
	viper.SetConfigFile(configFile)

	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	setDefaults()
	bindEnvVariables()

	if err := viper.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", configFile, err)
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	applyEnvOverrides(&cfg)

	if err := ValidateStatic(&cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return &cfg, nil
}

func setDefaults() {
	viper.SetDefault("stage", "PROD")

	viper.SetDefault("server.port", 8080)
	viper.SetDefault("server.read_timeout", 10*time.Second)
	viper.SetDefault("server.write_timeout", 10*time.Second)

	viper.SetDefault("database.mongodb.database", constants.DefaultMongoDBName)
	viper.SetDefault("database.redis.port", 6379)

	viper.SetDefault("broker.type", constants.BrokerTypeInline)
	viper.SetDefault("broker.kafka.command_topic", constants.DefaultCommandTopic)

	viper.SetDefault("logging.level", "info")
	viper.SetDefault("logging.format", "json")

	viper.SetDefault("message_bus.workers", constants.DefaultWorkers)
	viper.SetDefault("message_bus.queue_capacity", 0)

	viper.SetDefault("polling.enabled", true)
	viper.SetDefault("polling.tick_interval", constants.DefaultTickInterval)
	viper.SetDefault("polling.sync_every", constants.DefaultSyncEvery)

	viper.SetDefault("correlation.id_length", constants.DefaultCorrelationIDLength)

	viper.SetDefault("netbrain.timeout", constants.DefaultHTTPTimeout)
	viper.SetDefault("netbrain.token_ttl", 30*time.Minute)
	viper.SetDefault("stackstorm.timeout", constants.DefaultHTTPTimeout)

	viper.SetDefault("ingress.rate_limit.rps", 10.0)
	viper.SetDefault("ingress.rate_limit.burst", 20)
	viper.SetDefault("ingress.rate_limit.cleanup_interval", 5*time.Minute)
	viper.SetDefault("ingress.rate_limit.max_age", 10*time.Minute)

	viper.SetDefault("pipeline.cli_commands", []string{"showversion", "showarp", "showinterface"})
	viper.SetDefault("pipeline.raw_data_command", constants.DefaultRawDataCommand)
	viper.SetDefault("pipeline.status_poll_minutes", constants.DefaultStatusPollMinutes)
}

func bindEnvVariables() {
	viper.BindEnv("stage", "STAGE")

	viper.BindEnv("broker.type", "BROKER_TYPE")
	viper.BindEnv("broker.kafka.brokers", "BROKER_KAFKA_BROKERS")
	viper.BindEnv("broker.kafka.group_id", "BROKER_KAFKA_GROUP_ID")
	viper.BindEnv("broker.kafka.command_topic", "BROKER_KAFKA_COMMAND_TOPIC")
	viper.BindEnv("broker.kafka.dlq_topic", "BROKER_KAFKA_DLQ_TOPIC")

	viper.BindEnv("database.redis.host", "DATABASE_REDIS_HOST")
	viper.BindEnv("database.redis.port", "DATABASE_REDIS_PORT")
	viper.BindEnv("database.redis.password", "DATABASE_REDIS_PASSWORD")
	viper.BindEnv("database.redis.db", "DATABASE_REDIS_DB")

	viper.BindEnv("database.mongodb.uri", "DATABASE_MONGODB_URI")
	viper.BindEnv("database.mongodb.database", "DATABASE_MONGODB_DATABASE")

	viper.BindEnv("server.port", "SERVER_PORT")

	viper.BindEnv("ingress.accept_expression", "INGRESS_ACCEPT_EXPRESSION")
	viper.BindEnv("ingress.rate_limit.enabled", "INGRESS_RATE_LIMIT_ENABLED")

	viper.BindEnv("logging.level", "LOGGING_LEVEL")
	viper.BindEnv("logging.format", "LOGGING_FORMAT")

	viper.BindEnv("netbrain.base_url", "NETBRAIN_BASE_URL")
	viper.BindEnv("netbrain.username", "NETBRAIN_USERNAME")
	viper.BindEnv("netbrain.password", "NETBRAIN_PASSWORD")

	viper.BindEnv("stackstorm.dev.base_url", "STACKSTORM_DEV_BASE_URL")
	viper.BindEnv("stackstorm.dev.api_key", "STACKSTORM_DEV_API_KEY")
	viper.BindEnv("stackstorm.dev.comment_api_key", "STACKSTORM_DEV_COMMENT_API_KEY")
	viper.BindEnv("stackstorm.prod.base_url", "STACKSTORM_PROD_BASE_URL")
	viper.BindEnv("stackstorm.prod.api_key", "STACKSTORM_PROD_API_KEY")
	viper.BindEnv("stackstorm.prod.comment_api_key", "STACKSTORM_PROD_COMMENT_API_KEY")

	viper.BindEnv("tracing.otlp.endpoint", "TRACING_OTLP_ENDPOINT")
	viper.BindEnv("tracing.otlp.insecure", "TRACING_OTLP_INSECURE")
	viper.BindEnv("tracing.enabled", "TRACING_ENABLED")
	viper.BindEnv("tracing.service_name", "TRACING_SERVICE_NAME")
}

// applyEnvOverrides handles values viper cannot split on its own.
func applyEnvOverrides(cfg *Config) {
	if brokersEnv := viper.GetString("BROKER_KAFKA_BROKERS"); brokersEnv != "" {
		brokers := strings.Split(brokersEnv, ",")
		for i := range brokers {
			brokers[i] = strings.TrimSpace(brokers[i])
		}
		if len(brokers) > 0 && brokers[0] != "" {
			cfg.Broker.Kafka.Brokers = brokers
		}
	}

	cfg.Stage = strings.ToUpper(strings.TrimSpace(cfg.Stage))
}
