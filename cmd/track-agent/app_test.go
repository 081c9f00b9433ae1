package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/shiftline/bookingwatch/config"
	"github.com/shiftline/bookingwatch/internal/credstore"
	"github.com/shiftline/bookingwatch/internal/integrations/bookingapi"
	"github.com/shiftline/bookingwatch/internal/integrations/bookingapi/fake"
	"github.com/shiftline/bookingwatch/internal/integrations/bookingapi/trackhttp"
	"github.com/shiftline/bookingwatch/internal/reconciler"
	"github.com/shiftline/bookingwatch/internal/services/watcher"
)

type noopProducer struct{}

func (noopProducer) Publish(ctx context.Context, topic string, key, value []byte) error { return nil }

func testFactories() agentFactories {
	return agentFactories{
		newBackend: func(cfg *config.Config) bookingapi.Backend {
			return fake.NewWithStep(time.Minute)
		},
		newProducer: func(cfg *config.Config) watcher.Producer {
			return noopProducer{}
		},
		newRateLimiter: func(cfg *config.Config) reconciler.RateLimiter {
			return nil
		},
		newCredStore: func(cfg *config.Config) credstore.Store {
			return credstore.NewMemory()
		},
	}
}

func TestDefaultAgentFactories_SelectBackend(t *testing.T) {
	f := defaultAgentFactories()

	cfgHTTP := &config.Config{
		Backend: config.BackendConfig{BaseURL: "http://localhost:9000", APIKey: "k"},
	}
	b1 := f.newBackend(cfgHTTP)
	_, ok := b1.(*trackhttp.Client)
	require.True(t, ok)

	cfgFallback := &config.Config{}
	b2 := f.newBackend(cfgFallback)
	_, ok = b2.(*fake.Backend)
	require.True(t, ok)
}

func TestDefaultAgentFactories_ProducerAndStores_NonNil(t *testing.T) {
	f := defaultAgentFactories()
	cfg := &config.Config{
		Kafka: config.KafkaConfig{Host: "localhost", Port: 9092},
		Redis: config.RedisConfig{Host: "localhost", Port: 6379},
	}
	require.NotNil(t, f.newProducer(cfg))
	require.NotNil(t, f.newRateLimiter(cfg))
	require.NotNil(t, f.newCredStore(cfg))
}

func TestRunTrackAgent_ContextCanceled(t *testing.T) {
	cfg := &config.Config{
		BookingWatch: config.BookingWatchConfig{AgentHTTPAddr: "127.0.0.1:0"},
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- RunTrackAgent(ctx, cfg, testFactories())
	}()

	time.Sleep(100 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		require.ErrorIs(t, err, context.Canceled)
	case <-time.After(5 * time.Second):
		t.Fatal("agent did not stop after cancel")
	}
}

func TestAgentHTTP_WatchFlow(t *testing.T) {
	w := watcher.New(fake.NewWithStep(time.Minute), noopProducer{}, credstore.NewMemory(), "booking.updated").
		WithPolicies(
			reconciler.ReconnectPolicy{Delay: 20 * time.Millisecond},
			reconciler.PollPolicy{Interval: 5 * time.Millisecond, Attempts: 5},
		)
	t.Cleanup(w.Close)

	addrCh := make(chan string, 1)
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go func() {
		_ = runAgentHTTPServer(ctx, agentHTTPOpts{
			httpAddr: "127.0.0.1:0",
			onListen: func(addr string) { addrCh <- addr },
			watcher:  w,
		})
	}()

	var base string
	select {
	case addr := <-addrCh:
		base = "http://" + addr
	case <-time.After(5 * time.Second):
		t.Fatal("http server did not start")
	}

	// Watch a booking.
	body := bytes.NewBufferString(`{"trackingCode":"TRK123","email":"jo@example.com","registration":"AB12CDE"}`)
	resp, err := http.Post(base+"/watch", "application/json", body)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var watched watchResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&watched))
	resp.Body.Close()
	require.NotEmpty(t, watched.SessionID)
	require.Equal(t, "BK-TRK123", watched.Snapshot.BookingID)

	// Empty tracking code is a client error.
	resp, err = http.Post(base+"/watch", "application/json", bytes.NewBufferString(`{}`))
	require.NoError(t, err)
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	resp.Body.Close()

	// Snapshot of the watched booking.
	resp, err = http.Get(base + "/snapshot/BK-TRK123")
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp.Body.Close()

	resp, err = http.Get(base + "/snapshot/unknown")
	require.NoError(t, err)
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
	resp.Body.Close()

	// Confirm payment (fake backend confirms immediately).
	req, err := http.NewRequest(http.MethodPost, base+"/watch/BK-TRK123/payment/confirm", nil)
	require.NoError(t, err)
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp.Body.Close()

	// Stats and health.
	resp, err = http.Get(base + "/stats")
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var st watcher.Stats
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&st))
	resp.Body.Close()
	require.Equal(t, 1, st.ActiveWatches)

	resp, err = http.Get(base + "/healthz")
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp.Body.Close()

	// Unwatch.
	req, err = http.NewRequest(http.MethodDelete, fmt.Sprintf("%s/watch/%s", base, "BK-TRK123"), nil)
	require.NoError(t, err)
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp.Body.Close()

	resp, err = http.Get(base + "/watch")
	require.NoError(t, err)
	var list []watcher.WatchInfo
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&list))
	resp.Body.Close()
	require.Empty(t, list)
}
