// pkg/config/config.go
package config

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all configuration for the agent
type Config struct {
	Socket SocketConfig
	Queue  QueueConfig
	Redis  RedisConfig
	Kafka  KafkaConfig
	Ops    OpsConfig
	Log    LogConfig
	Key    KeyConfig
}

// SocketConfig holds socket endpoint configuration
type SocketConfig struct {
	// Path is the unix socket path the endpoint binds.
	Path string
	// Format is the wire format for the socket ("text" or "cbor").
	Format string
}

// QueueConfig holds transaction queue configuration
type QueueConfig struct {
	// Depth caps pending submissions; 0 means unbounded.
	Depth int
	// TrackNonce enables optimistic local nonce tracking.
	TrackNonce bool
	// PollInterval is the confirmation polling interval.
	PollInterval time.Duration
	// PollMaxRetries bounds confirmation polling attempts.
	PollMaxRetries int
}

// RedisConfig holds Redis-related configuration
type RedisConfig struct {
	Address  string
	Password string
	DB       int
}

// KafkaConfig holds transaction event publishing configuration
type KafkaConfig struct {
	// Enabled turns on publishing of transaction lifecycle events.
	Enabled bool
	Brokers string
}

// OpsConfig holds the operational HTTP server configuration
type OpsConfig struct {
	// Addr is the listen address for health and metrics; empty disables it.
	Addr string
}

// LogConfig holds logging configuration
type LogConfig struct {
	Level       string
	Environment string
}

// KeyConfig holds signing key configuration
type KeyConfig struct {
	// File is the hex key file path; generated on first use if absent.
	File string
}

// Load loads configuration from environment variables. If envFile is
// non-empty it is read first (without overriding already-set variables).
func Load(envFile string) (*Config, error) {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil {
			return nil, err
		}
	}

	config := &Config{
		Socket: SocketConfig{
			Path:   getEnv("AGENT_SOCKET_PATH", "/tmp/agentd.sock"),
			Format: getEnv("AGENT_SOCKET_FORMAT", "cbor"),
		},
		Queue: QueueConfig{
			Depth:          getIntEnv("AGENT_TX_QUEUE_DEPTH", 1024),
			TrackNonce:     getBoolEnv("AGENT_TRACK_NONCE", true),
			PollInterval:   getDurationEnv("AGENT_TX_POLL_INTERVAL", 500*time.Millisecond),
			PollMaxRetries: getIntEnv("AGENT_TX_POLL_RETRIES", 20),
		},
		Redis: RedisConfig{
			Address:  getEnv("REDIS_ADDRESS", "localhost:6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getIntEnv("REDIS_DB", 0),
		},
		Kafka: KafkaConfig{
			Enabled: getBoolEnv("KAFKA_ENABLED", false),
			Brokers: getEnv("KAFKA_BROKERS", "localhost:9092"),
		},
		Ops: OpsConfig{
			Addr: getEnv("AGENT_OPS_ADDR", ""),
		},
		Log: LogConfig{
			Level:       getEnv("AGENT_LOG_LEVEL", "info"),
			Environment: getEnv("AGENT_ENVIRONMENT", "development"),
		},
		Key: KeyConfig{
			File: getEnv("AGENT_KEY_FILE", "agent.key"),
		},
	}

	return config, nil
}

// Helper functions for environment variables
func getEnv(key, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}

func getIntEnv(key string, defaultValue int) int {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	intValue, err := strconv.Atoi(value)
	if err != nil {
		return defaultValue
	}
	return intValue
}

func getBoolEnv(key string, defaultValue bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	boolValue, err := strconv.ParseBool(value)
	if err != nil {
		return defaultValue
	}
	return boolValue
}

func getDurationEnv(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return defaultValue
	}
	return d
}
