package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config holds all application configuration
type Config struct {
	ServiceName string
	LogLevel    string
	HTTP        HTTPConfig
	Database    DatabaseConfig
	RabbitMQ    RabbitMQConfig
	Validation  ValidationConfig
	Anomaly     AnomalyConfig
	Reward      RewardConfig
	Archive     ArchiveConfig
	Expiry      ExpiryConfig
}

// HTTPConfig holds API server settings
type HTTPConfig struct {
	Port int
}

// DatabaseConfig holds database connection settings
type DatabaseConfig struct {
	URL         string
	MaxConns    int
	ApplySchema bool
}

// RabbitMQConfig holds RabbitMQ connection and queue settings
type RabbitMQConfig struct {
	URL                  string
	IngestExchange       string
	SubmissionQueue      string
	SubmissionRoutingKey string
	SubmissionDLQ        string
	CompletionQueue      string
	CompletionRoutingKey string
	CompletionDLQ        string
	EventsExchange       string
	SubmissionEventKey   string
	CompletedEventKey    string
	PrefetchCount        int
}

// ValidationConfig holds measurement validation settings
type ValidationConfig struct {
	TimestampToleranceMinutes int
}

// AnomalyConfig holds outlier flagging settings
type AnomalyConfig struct {
	Enabled                   bool
	SpikeThreshold            float64
	MinDataPointsForDetection int
	Window                    int
}

// RewardConfig holds reward distribution settings
type RewardConfig struct {
	Precision                   int
	CreditRequesterForAnonymous bool
}

// ArchiveConfig holds object storage settings; archiving is off without an endpoint
type ArchiveConfig struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	Secure    bool
}

// Enabled reports whether submissions should be archived
func (a ArchiveConfig) Enabled() bool {
	return a.Endpoint != ""
}

// ExpiryConfig holds the project expiry sweep settings
type ExpiryConfig struct {
	Enabled       bool
	SweepInterval time.Duration
}

// Load loads configuration from environment variables
func Load() (*Config, error) {
	cfg := &Config{
		ServiceName: getEnv("SERVICE_NAME", "crowdsense-worker"),
		LogLevel:    getEnv("LOG_LEVEL", "info"),
		HTTP: HTTPConfig{
			Port: getEnvAsInt("SERVICE_PORT", 8081),
		},
		Database: DatabaseConfig{
			URL:         getEnv("DATABASE_URL", ""),
			MaxConns:    getEnvAsInt("DATABASE_MAX_CONNS", 10),
			ApplySchema: getEnvAsBool("DATABASE_APPLY_SCHEMA", true),
		},
		RabbitMQ: RabbitMQConfig{
			URL:                  getEnv("RABBITMQ_URL", ""),
			IngestExchange:       getEnv("RABBITMQ_INGEST_EXCHANGE", "crowdsense.ingest.exchange"),
			SubmissionQueue:      getEnv("RABBITMQ_SUBMISSION_QUEUE", "crowdsense.submissions.queue"),
			SubmissionRoutingKey: getEnv("RABBITMQ_SUBMISSION_ROUTING_KEY", "project.submission.received"),
			SubmissionDLQ:        getEnv("RABBITMQ_SUBMISSION_DLQ", "crowdsense.submissions.dlq"),
			CompletionQueue:      getEnv("RABBITMQ_COMPLETION_QUEUE", "crowdsense.completions.queue"),
			CompletionRoutingKey: getEnv("RABBITMQ_COMPLETION_ROUTING_KEY", "project.completion.requested"),
			CompletionDLQ:        getEnv("RABBITMQ_COMPLETION_DLQ", "crowdsense.completions.dlq"),
			EventsExchange:       getEnv("RABBITMQ_EVENTS_EXCHANGE", "crowdsense.events.exchange"),
			SubmissionEventKey:   getEnv("RABBITMQ_SUBMISSION_EVENT_KEY", "project.submission.accepted"),
			CompletedEventKey:    getEnv("RABBITMQ_COMPLETED_EVENT_KEY", "project.completed"),
			PrefetchCount:        getEnvAsInt("RABBITMQ_PREFETCH", 10),
		},
		Validation: ValidationConfig{
			TimestampToleranceMinutes: getEnvAsInt("VALIDATION_TIMESTAMP_TOLERANCE_MINUTES", 10080),
		},
		Anomaly: AnomalyConfig{
			Enabled:                   getEnvAsBool("ANOMALY_FLAGGING_ENABLED", true),
			SpikeThreshold:            getEnvAsFloat("ANOMALY_SPIKE_THRESHOLD", 3.0),
			MinDataPointsForDetection: getEnvAsInt("ANOMALY_MIN_DATA_POINTS", 5),
			Window:                    getEnvAsInt("ANOMALY_WINDOW", 50),
		},
		Reward: RewardConfig{
			Precision:                   getEnvAsInt("REWARD_PRECISION", 6),
			CreditRequesterForAnonymous: getEnvAsBool("REWARD_CREDIT_REQUESTER_FOR_ANONYMOUS", false),
		},
		Archive: ArchiveConfig{
			Endpoint:  getEnv("ARCHIVE_ENDPOINT", ""),
			AccessKey: getEnv("ARCHIVE_ACCESS_KEY", ""),
			SecretKey: getEnv("ARCHIVE_SECRET_KEY", ""),
			Bucket:    getEnv("ARCHIVE_BUCKET", "crowdsense-submissions"),
			Secure:    getEnvAsBool("ARCHIVE_SECURE", true),
		},
		Expiry: ExpiryConfig{
			Enabled:       getEnvAsBool("EXPIRY_SWEEP_ENABLED", true),
			SweepInterval: getEnvAsDuration("EXPIRY_SWEEP_INTERVAL", time.Minute),
		},
	}

	// Validate required fields
	if cfg.Database.URL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required but not set in environment variables")
	}
	if cfg.RabbitMQ.URL == "" {
		return nil, fmt.Errorf("RABBITMQ_URL is required but not set in environment variables")
	}
	if cfg.Reward.Precision < 0 || cfg.Reward.Precision > 18 {
		return nil, fmt.Errorf("REWARD_PRECISION must be between 0 and 18, got %d", cfg.Reward.Precision)
	}
	if cfg.Expiry.Enabled && cfg.Expiry.SweepInterval <= 0 {
		return nil, fmt.Errorf("EXPIRY_SWEEP_INTERVAL must be positive")
	}

	return cfg, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseFloat(valueStr, 64)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseBool(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := time.ParseDuration(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}
