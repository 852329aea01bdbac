package config

import (
	"time"
)

type Config struct {
	Stage          string               `mapstructure:"stage"`
	Server         ServerConfig         `mapstructure:"server"`
	Database       DatabaseConfig       `mapstructure:"database"`
	Broker         BrokerConfig         `mapstructure:"broker"`
	Logging        LoggingConfig        `mapstructure:"logging"`
	MessageBus     MessageBusConfig     `mapstructure:"message_bus"`
	Polling        PollingConfig        `mapstructure:"polling"`
	Correlation    CorrelationConfig    `mapstructure:"correlation"`
	NetBrain       NetBrainConfig       `mapstructure:"netbrain"`
	Stackstorm     StackstormConfig     `mapstructure:"stackstorm"`
	Pipeline       PipelineConfig       `mapstructure:"pipeline"`
	Ingress        IngressConfig        `mapstructure:"ingress"`
	CircuitBreaker CircuitBreakerConfig `mapstructure:"circuit_breaker"`
	Tracing        TracingConfig        `mapstructure:"tracing"`
}

type ServerConfig struct {
	Port         int           `mapstructure:"port"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

type DatabaseConfig struct {
	Redis   RedisConfig   `mapstructure:"redis"`
	MongoDB MongoDBConfig `mapstructure:"mongodb"`
}

// RedisConfig is optional; an empty host keeps the NetBrain session in memory.
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
	Type  string      `mapstructure:"type"`
	Kafka KafkaConfig `mapstructure:"kafka"`
}

type KafkaConfig struct {
	Brokers      []string    `mapstructure:"brokers"`
	GroupID      string      `mapstructure:"group_id"`
	CommandTopic string      `mapstructure:"command_topic"`
	DLQTopic     string      `mapstructure:"dlq_topic"`
	Retry        RetryConfig `mapstructure:"retry"`
}

type RetryConfig struct {
	MaxAttempts     int           `mapstructure:"max_attempts"`
	InitialInterval time.Duration `mapstructure:"initial_interval"`
	MaxInterval     time.Duration `mapstructure:"max_interval"`
	Multiplier      float64       `mapstructure:"multiplier"`
	MaxElapsedTime  time.Duration `mapstructure:"max_elapsed_time"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

type MessageBusConfig struct {
	Workers int `mapstructure:"workers"`
	// QueueCapacity of 0 leaves the queue unbounded.
	QueueCapacity int `mapstructure:"queue_capacity"`
}

type PollingConfig struct {
	Enabled            bool          `mapstructure:"enabled"`
	TickInterval       time.Duration `mapstructure:"tick_interval"`
	SyncEvery          int           `mapstructure:"sync_every"`
	DeadAlertThreshold int           `mapstructure:"dead_alert_threshold"`
	MaxDeadRetries     int           `mapstructure:"max_dead_retries"`
}

type CorrelationConfig struct {
	IDLength int `mapstructure:"id_length"`
}

type NetBrainConfig struct {
	BaseURL  string        `mapstructure:"base_url"`
	Username string        `mapstructure:"username"`
	Password string        `mapstructure:"password"`
	Timeout  time.Duration `mapstructure:"timeout"`
	TokenTTL time.Duration `mapstructure:"token_ttl"`
	Retry    RetryConfig   `mapstructure:"retry"`
}

type StackstormConfig struct {
	Dev          StackstormInstance `mapstructure:"dev"`
	Prod         StackstormInstance `mapstructure:"prod"`
	AlertWebhook string             `mapstructure:"alert_webhook"`
	// CommentWebhook receives benchmark results.
	CommentWebhook string        `mapstructure:"comment_webhook"`
	Timeout        time.Duration `mapstructure:"timeout"`
	Retry          RetryConfig   `mapstructure:"retry"`
}

type StackstormInstance struct {
	BaseURL       string `mapstructure:"base_url"`
	APIKey        string `mapstructure:"api_key"`
	CommentAPIKey string `mapstructure:"comment_api_key"`
}

type PipelineConfig struct {
	Domain            string            `mapstructure:"domain"`
	DeviceScopes      map[string]string `mapstructure:"device_scopes"`
	CLICommands       []string          `mapstructure:"cli_commands"`
	RawDataCommand    string            `mapstructure:"raw_data_command"`
	StatusPollMinutes int               `mapstructure:"status_poll_minutes"`
	SupportTicket     string            `mapstructure:"support_ticket"`
}

type IngressConfig struct {
	AcceptExpression string          `mapstructure:"accept_expression"`
	RateLimit        RateLimitConfig `mapstructure:"rate_limit"`
}

type RateLimitConfig struct {
	Enabled         bool          `mapstructure:"enabled"`
	RPS             float64       `mapstructure:"rps"`
	Burst           int           `mapstructure:"burst"`
	CleanupInterval time.Duration `mapstructure:"cleanup_interval"`
	MaxAge          time.Duration `mapstructure:"max_age"`
}

type CircuitBreakerConfig struct {
	Enabled      bool          `mapstructure:"enabled"`
	MaxRequests  uint32        `mapstructure:"max_requests"`
	Interval     time.Duration `mapstructure:"interval"`
	Timeout      time.Duration `mapstructure:"timeout"`
	FailureRatio float64       `mapstructure:"failure_ratio"`
	MinRequests  uint32        `mapstructure:"min_requests"`
}

type TracingConfig struct {
	Enabled     bool          `mapstructure:"enabled"`
	ServiceName string        `mapstructure:"service_name"`
	OTLP        OTLPConfig    `mapstructure:"otlp"`
	Sampler     SamplerConfig `mapstructure:"sampler"`
}

type OTLPConfig struct {
	Endpoint string `mapstructure:"endpoint"`
	Insecure bool   `mapstructure:"insecure"`
}

type SamplerConfig struct {
	Type  string  `mapstructure:"type"`
	Param float64 `mapstructure:"param"`
}

func Load(configFile string) (*Config, error) {
	return LoadConfig(configFile)
}
