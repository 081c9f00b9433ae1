package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/shiftline/bookingwatch/config"
	"github.com/shiftline/bookingwatch/internal/broker/kafka"
	"github.com/shiftline/bookingwatch/internal/cache/rediscache"
	"github.com/shiftline/bookingwatch/internal/services/archive"
)

func main() {
	cfg, err := config.LoadConfig(os.Getenv("configPath"))
	if err != nil {
		panic(fmt.Sprintf("config parse error: %v", err))
	}

	httpAddr := cfg.BookingWatch.ArchiverHTTPAddr
	if httpAddr == "" {
		httpAddr = ":8081"
	}
	consumerGroup := cfg.BookingWatch.KafkaConsumerGroup
	if consumerGroup == "" {
		consumerGroup = "track-archiver"
	}
	topic := cfg.Kafka.BookingUpdatedTopicName
	if topic == "" {
		topic = "booking.updated"
	}
	cacheTTL := time.Duration(cfg.BookingWatch.SnapshotTTLSeconds) * time.Second
	if cacheTTL <= 0 {
		cacheTTL = 10 * time.Minute
	}

	sslMode := cfg.Database.SSLMode
	if sslMode == "" {
		sslMode = "disable"
	}
	connString := fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		cfg.Database.Username, cfg.Database.Password, cfg.Database.Host, cfg.Database.Port, cfg.Database.DBName, sslMode)
	st := mustOpenPostgresWithRetry(connString, 60*time.Second)
	defer st.Close()

	redisAddr := fmt.Sprintf("%s:%d", cfg.Redis.Host, cfg.Redis.Port)
	rc := rediscache.New(redisAddr)

	svc := archive.New(st, rc, cacheTTL)

	brokers := []string{fmt.Sprintf("%s:%d", cfg.Kafka.Host, cfg.Kafka.Port)}
	consumer := kafka.NewConsumer(brokers, topic, consumerGroup)
	defer func() { _ = consumer.Close() }()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := runTrackArchiver(ctx, archiverOpts{
		httpAddr:      httpAddr,
		topic:         topic,
		consumerGroup: consumerGroup,
	}, svc, consumer); err != nil && err != context.Canceled {
		panic(err)
	}
}
