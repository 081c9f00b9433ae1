package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLoadConfig(t *testing.T) {
	dir := t.TempDir()
	p := filepath.Join(dir, "cfg.yaml")
	require.NoError(t, os.WriteFile(p, []byte(`
database:
  host: "localhost"
  port: 5432
  username: "u"
  password: "p"
  name: "db"
kafka:
  host: "localhost"
  port: 9092
  booking_updated_topic_name: "booking.updated"
redis:
  host: "localhost"
  port: 6379
backend:
  base_url: "http://localhost:9000"
  api_key: "k"
bookingwatch:
  agent_http_addr: ":8082"
  archiver_http_addr: ":8080"
  kafka_consumer_group: "track-archiver"
  snapshot_ttl_seconds: 600
  reconnect_delay_seconds: 5
  payment_poll_delay_seconds: 2
  payment_poll_attempts: 5
`), 0o600))

	cfg, err := LoadConfig(p)
	require.NoError(t, err)
	require.Equal(t, "u", cfg.Database.Username)
	require.Equal(t, "booking.updated", cfg.Kafka.BookingUpdatedTopicName)
	require.Equal(t, 6379, cfg.Redis.Port)
	require.Equal(t, "http://localhost:9000", cfg.Backend.BaseURL)
	require.Equal(t, ":8082", cfg.BookingWatch.AgentHTTPAddr)
	require.Equal(t, 5, cfg.BookingWatch.PaymentPollAttempts)
}

func TestLoadConfig_MissingFile(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
}
