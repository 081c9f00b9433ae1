package watcher

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/pkg/errors"

	"github.com/shiftline/bookingwatch/internal/broker/messages"
	"github.com/shiftline/bookingwatch/internal/credstore"
	"github.com/shiftline/bookingwatch/internal/integrations/bookingapi"
	"github.com/shiftline/bookingwatch/internal/metrics"
	"github.com/shiftline/bookingwatch/internal/models"
	"github.com/shiftline/bookingwatch/internal/reconciler"
)

type Producer interface {
	Publish(ctx context.Context, topic string, key, value []byte) error
}

// Watcher supervises one reconciler per watched booking and relays every
// merged snapshot to Kafka. Credentials are persisted through the
// injected store so sessions resume across restarts.
type Watcher struct {
	backend  bookingapi.Backend
	producer Producer
	creds    credstore.Store
	topic    string

	reconnect    reconciler.ReconnectPolicy
	poll         reconciler.PollPolicy
	rl           reconciler.RateLimiter
	lookupPerMin int64

	m *metrics.Metrics

	mu      sync.Mutex
	watches map[string]*watch

	startedAtUnixNano int64
	published         atomic.Int64
	publishErrors     atomic.Int64
	lastErrorMu       sync.Mutex
	lastError         string
}

type watch struct {
	sessionID string
	creds     models.TrackingCredentials
	rec       *reconciler.Reconciler
}

func New(backend bookingapi.Backend, producer Producer, creds credstore.Store, topic string) *Watcher {
	return &Watcher{
		backend:           backend,
		producer:          producer,
		creds:             creds,
		topic:             topic,
		reconnect:         reconciler.DefaultReconnectPolicy(),
		poll:              reconciler.DefaultPollPolicy(),
		watches:           map[string]*watch{},
		startedAtUnixNano: time.Now().UTC().UnixNano(),
	}
}

func (w *Watcher) WithPolicies(reconnect reconciler.ReconnectPolicy, poll reconciler.PollPolicy) *Watcher {
	w.reconnect = reconnect
	w.poll = poll
	return w
}

func (w *Watcher) WithRateLimiter(rl reconciler.RateLimiter, lookupsPerMinute int64) *Watcher {
	w.rl = rl
	w.lookupPerMin = lookupsPerMinute
	return w
}

func (w *Watcher) WithMetrics(m *metrics.Metrics) *Watcher {
	w.m = m
	return w
}

// Watch opens a tracking session for the credential triple. The lookup
// runs first, so not-found/expired surface to the caller before any
// channel is opened.
func (w *Watcher) Watch(ctx context.Context, creds models.TrackingCredentials) (string, models.BookingSnapshot, error) {
	if creds.TrackingCode == "" {
		return "", models.BookingSnapshot{}, errors.New("trackingCode is required")
	}

	rec := reconciler.New(w.backend).
		WithReconnectPolicy(w.reconnect).
		WithPollPolicy(w.poll).
		WithRateLimiter(w.rl, w.lookupPerMin).
		WithOnChange(w.publish)

	snap, err := rec.Open(ctx, creds)
	if err != nil {
		return "", models.BookingSnapshot{}, err
	}

	w.mu.Lock()
	if _, ok := w.watches[snap.BookingID]; ok {
		w.mu.Unlock()
		rec.Close()
		return "", models.BookingSnapshot{}, errors.Errorf("booking %s is already watched", snap.BookingID)
	}
	sessionID := ulid.Make().String()
	w.watches[snap.BookingID] = &watch{sessionID: sessionID, creds: creds, rec: rec}
	w.mu.Unlock()

	if err := w.creds.Set(ctx, snap.BookingID, creds); err != nil {
		// Session resume is best-effort, the live watch still works.
		slog.Warn("persist credentials", "booking_id", snap.BookingID, "error", err.Error())
	}

	slog.Info("watch started", "booking_id", snap.BookingID, "session_id", sessionID)
	return sessionID, snap, nil
}

// Unwatch tears the session down synchronously and clears its stored
// credentials (the "new search" path).
func (w *Watcher) Unwatch(ctx context.Context, bookingID string) error {
	w.mu.Lock()
	wt, ok := w.watches[bookingID]
	if ok {
		delete(w.watches, bookingID)
	}
	w.mu.Unlock()
	if !ok {
		return errors.Errorf("booking %s is not watched", bookingID)
	}

	wt.rec.Close()
	if err := w.creds.Clear(ctx, bookingID); err != nil {
		slog.Warn("clear credentials", "booking_id", bookingID, "error", err.Error())
	}
	slog.Info("watch stopped", "booking_id", bookingID, "session_id", wt.sessionID)
	return nil
}

// Restore re-opens a session for every credential set in the store.
// Individual failures are logged and skipped so one dead booking does not
// block the rest.
func (w *Watcher) Restore(ctx context.Context) error {
	all, err := w.creds.List(ctx)
	if err != nil {
		return errors.Wrap(err, "list stored credentials")
	}
	for bookingID, creds := range all {
		w.mu.Lock()
		_, exists := w.watches[bookingID]
		w.mu.Unlock()
		if exists {
			continue
		}
		if _, _, err := w.Watch(ctx, creds); err != nil {
			slog.Warn("restore watch", "booking_id", bookingID, "error", err.Error())
			if errors.Is(err, bookingapi.ErrNotFound) || errors.Is(err, bookingapi.ErrExpired) {
				_ = w.creds.Clear(ctx, bookingID)
			}
		}
	}
	return nil
}

// ConfirmPayment runs the optimistic confirmation flow for a watched
// booking.
func (w *Watcher) ConfirmPayment(ctx context.Context, bookingID string) (models.BookingSnapshot, error) {
	w.mu.Lock()
	wt, ok := w.watches[bookingID]
	w.mu.Unlock()
	if !ok {
		return models.BookingSnapshot{}, errors.Errorf("booking %s is not watched", bookingID)
	}
	return wt.rec.ConfirmPaymentOptimistically(ctx)
}

// Snapshot returns the current snapshot for a watched booking.
func (w *Watcher) Snapshot(bookingID string) (models.BookingSnapshot, bool) {
	w.mu.Lock()
	wt, ok := w.watches[bookingID]
	w.mu.Unlock()
	if !ok {
		return models.BookingSnapshot{}, false
	}
	return wt.rec.Snapshot()
}

type WatchInfo struct {
	SessionID string                 `json:"sessionId"`
	BookingID string                 `json:"bookingId"`
	State     models.ConnectionState `json:"state"`
}

func (w *Watcher) List() []WatchInfo {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := make([]WatchInfo, 0, len(w.watches))
	for bookingID, wt := range w.watches {
		out = append(out, WatchInfo{
			SessionID: wt.sessionID,
			BookingID: bookingID,
			State:     wt.rec.State(),
		})
	}
	return out
}

type Stats struct {
	StartedAt     time.Time `json:"startedAt"`
	ActiveWatches int       `json:"activeWatches"`
	DeltasApplied int64     `json:"deltasApplied"`
	Reconnects    int64     `json:"reconnects"`
	Published     int64     `json:"published"`
	PublishErrors int64     `json:"publishErrors"`
	LastError     string    `json:"lastError,omitempty"`
}

func (w *Watcher) Stats() Stats {
	st := Stats{
		StartedAt:     time.Unix(0, w.startedAtUnixNano).UTC(),
		Published:     w.published.Load(),
		PublishErrors: w.publishErrors.Load(),
	}
	w.mu.Lock()
	st.ActiveWatches = len(w.watches)
	for _, wt := range w.watches {
		rs := wt.rec.Stats()
		st.DeltasApplied += rs.DeltasApplied
		st.Reconnects += rs.Reconnects
	}
	w.mu.Unlock()
	w.lastErrorMu.Lock()
	st.LastError = w.lastError
	w.lastErrorMu.Unlock()
	return st
}

// Close tears down every watch synchronously. Stored credentials are kept
// so the sessions resume on the next start.
func (w *Watcher) Close() {
	w.mu.Lock()
	watches := w.watches
	w.watches = map[string]*watch{}
	w.mu.Unlock()

	for _, wt := range watches {
		wt.rec.Close()
	}
}

func (w *Watcher) publish(snap models.BookingSnapshot) {
	if w.m != nil {
		w.m.IncDeltasApplied()
	}

	msg := messages.BookingUpdated{
		BookingID:     snap.BookingID,
		ObservedAt:    time.Now().UTC(),
		Stage:         snap.Stage,
		Progress:      snap.Progress,
		Status:        snap.Status,
		PaymentStatus: snap.ServicePaymentStatus,
		PaymentAmount: snap.ServicePaymentAmount,
		PaymentURL:    snap.ServicePaymentURL,
	}
	for _, u := range snap.Updates {
		msg.Updates = append(msg.Updates, messages.BookingUpdateEntry{
			Stage:     u.Stage,
			EntryTime: u.Timestamp,
			Message:   u.Message,
		})
	}

	b, err := json.Marshal(msg)
	if err != nil {
		w.noteError(err)
		return
	}

	// Kafka may not be ready right after startup; a short retry keeps the
	// relay from dropping early snapshots.
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	var pubErr error
	for i := 0; i < 5; i++ {
		if pubErr = w.producer.Publish(ctx, w.topic, []byte(snap.BookingID), b); pubErr == nil {
			break
		}
		time.Sleep(time.Duration(150*(i+1)) * time.Millisecond)
	}
	if pubErr != nil {
		w.publishErrors.Add(1)
		if w.m != nil {
			w.m.IncPublishErrors()
		}
		w.noteError(pubErr)
		return
	}
	w.published.Add(1)
	if w.m != nil {
		w.m.IncPublished()
	}
}

func (w *Watcher) noteError(err error) {
	slog.Error("publish booking update", "error", err.Error())
	w.lastErrorMu.Lock()
	w.lastError = err.Error()
	w.lastErrorMu.Unlock()
}
