package main

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/shiftline/bookingwatch/config"
	"github.com/shiftline/bookingwatch/internal/broker/kafka"
	"github.com/shiftline/bookingwatch/internal/cache/rediscache"
	"github.com/shiftline/bookingwatch/internal/credstore"
	"github.com/shiftline/bookingwatch/internal/credstore/rediscred"
	"github.com/shiftline/bookingwatch/internal/integrations/bookingapi"
	"github.com/shiftline/bookingwatch/internal/integrations/bookingapi/fake"
	"github.com/shiftline/bookingwatch/internal/integrations/bookingapi/trackhttp"
	"github.com/shiftline/bookingwatch/internal/metrics"
	"github.com/shiftline/bookingwatch/internal/reconciler"
	"github.com/shiftline/bookingwatch/internal/services/watcher"
)

type agentFactories struct {
	newBackend     func(cfg *config.Config) bookingapi.Backend
	newProducer    func(cfg *config.Config) watcher.Producer
	newRateLimiter func(cfg *config.Config) reconciler.RateLimiter
	newCredStore   func(cfg *config.Config) credstore.Store
}

func defaultAgentFactories() agentFactories {
	return agentFactories{
		newBackend: func(cfg *config.Config) bookingapi.Backend {
			// Real platform when base_url is set, local fake otherwise (demo).
			if cfg.Backend.BaseURL != "" {
				return trackhttp.New(cfg.Backend.BaseURL, cfg.Backend.APIKey)
			}
			return fake.New()
		},
		newProducer: func(cfg *config.Config) watcher.Producer {
			brokers := []string{fmt.Sprintf("%s:%d", cfg.Kafka.Host, cfg.Kafka.Port)}
			return kafka.NewProducer(brokers)
		},
		newRateLimiter: func(cfg *config.Config) reconciler.RateLimiter {
			redisAddr := fmt.Sprintf("%s:%d", cfg.Redis.Host, cfg.Redis.Port)
			return rediscache.NewRateLimiter(redisAddr)
		},
		newCredStore: func(cfg *config.Config) credstore.Store {
			redisAddr := fmt.Sprintf("%s:%d", cfg.Redis.Host, cfg.Redis.Port)
			return rediscred.New(redisAddr)
		},
	}
}

func RunTrackAgent(ctx context.Context, cfg *config.Config, f agentFactories) error {
	topic := cfg.Kafka.BookingUpdatedTopicName
	if topic == "" {
		topic = "booking.updated"
	}
	httpAddr := cfg.BookingWatch.AgentHTTPAddr
	if httpAddr == "" {
		httpAddr = ":8080"
	}

	reconnect := reconciler.DefaultReconnectPolicy()
	if cfg.BookingWatch.ReconnectDelaySeconds > 0 {
		reconnect.Delay = time.Duration(cfg.BookingWatch.ReconnectDelaySeconds) * time.Second
	}
	poll := reconciler.DefaultPollPolicy()
	if cfg.BookingWatch.PaymentPollDelaySeconds > 0 {
		poll.Interval = time.Duration(cfg.BookingWatch.PaymentPollDelaySeconds) * time.Second
	}
	if cfg.BookingWatch.PaymentPollAttempts > 0 {
		poll.Attempts = cfg.BookingWatch.PaymentPollAttempts
	}
	rlPerMin := int64(cfg.BookingWatch.LookupRateLimitPerMinute)
	if rlPerMin <= 0 {
		rlPerMin = 60
	}

	m := metrics.New()

	w := watcher.New(f.newBackend(cfg), f.newProducer(cfg), f.newCredStore(cfg), topic).
		WithPolicies(reconnect, poll).
		WithRateLimiter(f.newRateLimiter(cfg), rlPerMin).
		WithMetrics(m)
	defer w.Close()

	if err := w.Restore(ctx); err != nil {
		slog.Warn("restore watch sessions", "error", err.Error())
	}

	return runAgentHTTPServer(ctx, agentHTTPOpts{
		httpAddr: httpAddr,
		watcher:  w,
		metrics:  m,
	})
}
