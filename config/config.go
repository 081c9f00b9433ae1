package config

import (
	"fmt"
	"os"

	"go.yaml.in/yaml/v4"
)

type Config struct {
	Database     DatabaseConfig     `yaml:"database"`
	Kafka        KafkaConfig        `yaml:"kafka"`
	Redis        RedisConfig        `yaml:"redis"`
	Backend      BackendConfig      `yaml:"backend"`
	BookingWatch BookingWatchConfig `yaml:"bookingwatch"`
}

type DatabaseConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	DBName   string `yaml:"name"`
	SSLMode  string `yaml:"ssl_mode"`
}

type KafkaConfig struct {
	Host                    string `yaml:"host"`
	Port                    int    `yaml:"port"`
	BookingUpdatedTopicName string `yaml:"booking_updated_topic_name"`
}

type RedisConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// BackendConfig points at the booking platform's tracking endpoints.
// If base_url is empty the agent falls back to the local fake backend.
type BackendConfig struct {
	BaseURL string `yaml:"base_url"`
	APIKey  string `yaml:"api_key"`
}

type BookingWatchConfig struct {
	AgentHTTPAddr      string `yaml:"agent_http_addr"`
	ArchiverHTTPAddr   string `yaml:"archiver_http_addr"`
	KafkaConsumerGroup string `yaml:"kafka_consumer_group"`

	SnapshotTTLSeconds int `yaml:"snapshot_ttl_seconds"`

	// Reconciler timings. If not set, defaults match the production tracker:
	// reconnect fixed 5s, payment poll 2s x 5 attempts.
	ReconnectDelaySeconds   int `yaml:"reconnect_delay_seconds"`
	PaymentPollDelaySeconds int `yaml:"payment_poll_delay_seconds"`
	PaymentPollAttempts     int `yaml:"payment_poll_attempts"`

	LookupRateLimitPerMinute int `yaml:"lookup_rate_limit_per_minute"`
}

func LoadConfig(filename string) (*Config, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config Config
	err = yaml.Unmarshal(data, &config)
	if err != nil {
		return nil, fmt.Errorf("failed to unmarshal YAML: %w", err)
	}

	return &config, nil
}
