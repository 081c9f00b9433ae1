package reconciler

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"

	"github.com/shiftline/bookingwatch/internal/integrations/bookingapi"
	"github.com/shiftline/bookingwatch/internal/models"
)

// RateLimiter caps poll-fallback lookups against the backend.
type RateLimiter interface {
	Allow(ctx context.Context, key string, limit int64, window time.Duration) (bool, int64, error)
}

// Reconciler owns the authoritative client-side BookingSnapshot for one
// booking: it merges push deltas, reconnects the channel on failure, and
// reconciles payment state through a one-shot confirmation with a bounded
// poll fallback. One reconciler, one booking, one channel.
type Reconciler struct {
	backend bookingapi.Backend

	reconnect ReconnectPolicy
	poll      PollPolicy

	rl           RateLimiter
	lookupPerMin int64

	onChange func(models.BookingSnapshot)

	mu        sync.Mutex
	snap      *models.BookingSnapshot
	connState models.ConnectionState
	closed    bool
	bookingID string
	creds     models.TrackingCredentials

	cancel   context.CancelFunc
	done     chan struct{}
	closedCh chan struct{}

	deltasApplied atomic.Int64
	reconnects    atomic.Int64
	lastErrorMu   sync.Mutex
	lastError     string
}

func New(backend bookingapi.Backend) *Reconciler {
	return &Reconciler{
		backend:   backend,
		reconnect: DefaultReconnectPolicy(),
		poll:      DefaultPollPolicy(),
		connState: models.ConnDisconnected,
		closedCh:  make(chan struct{}),
	}
}

func (r *Reconciler) WithReconnectPolicy(p ReconnectPolicy) *Reconciler {
	r.reconnect = p.withDefaults()
	return r
}

func (r *Reconciler) WithPollPolicy(p PollPolicy) *Reconciler {
	r.poll = p.withDefaults()
	return r
}

func (r *Reconciler) WithRateLimiter(rl RateLimiter, lookupsPerMinute int64) *Reconciler {
	r.rl = rl
	r.lookupPerMin = lookupsPerMinute
	return r
}

// WithOnChange registers a callback invoked with a snapshot copy after
// every applied change. Called without the internal lock held.
func (r *Reconciler) WithOnChange(fn func(models.BookingSnapshot)) *Reconciler {
	r.onChange = fn
	return r
}

// Open seeds the snapshot with a one-shot lookup and starts the push
// channel. At most one channel per reconciler: a second Open without a
// Close in between is an error. Lookup failures (bookingapi.ErrNotFound,
// bookingapi.ErrExpired) propagate to the caller; channel failures do not —
// the channel reconnects on the configured policy until Close.
func (r *Reconciler) Open(ctx context.Context, creds models.TrackingCredentials) (models.BookingSnapshot, error) {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return models.BookingSnapshot{}, errors.New("reconciler is closed")
	}
	if r.cancel != nil {
		r.mu.Unlock()
		return models.BookingSnapshot{}, errors.New("channel already open, close it first")
	}
	r.mu.Unlock()

	snap, err := r.backend.Lookup(ctx, creds)
	if err != nil {
		return models.BookingSnapshot{}, err
	}

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return models.BookingSnapshot{}, errors.New("reconciler is closed")
	}
	r.snap = snap
	r.bookingID = snap.BookingID
	r.creds = creds
	r.connState = models.ConnConnecting

	// Channel lifetime is owned by Close, not by the caller's ctx.
	runCtx, cancel := context.WithCancel(context.Background())
	r.cancel = cancel
	r.done = make(chan struct{})
	out := snap.Clone()
	r.mu.Unlock()

	go r.run(runCtx)
	r.notify(out)
	return out, nil
}

// Close tears the channel down synchronously and cancels every pending
// reconnect/poll timer. Idempotent. After Close returns no timer or
// late message may mutate the snapshot.
func (r *Reconciler) Close() {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.closed = true
	r.connState = models.ConnClosed
	cancel := r.cancel
	done := r.done
	close(r.closedCh)
	r.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if done != nil {
		<-done
	}
}

// State returns the current connection state.
func (r *Reconciler) State() models.ConnectionState {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.connState
}

// Snapshot returns a copy of the current snapshot.
func (r *Reconciler) Snapshot() (models.BookingSnapshot, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.snap == nil {
		return models.BookingSnapshot{}, false
	}
	return r.snap.Clone(), true
}

type Stats struct {
	BookingID     string                 `json:"bookingId"`
	State         models.ConnectionState `json:"state"`
	DeltasApplied int64                  `json:"deltasApplied"`
	Reconnects    int64                  `json:"reconnects"`
	LastError     string                 `json:"lastError,omitempty"`
}

func (r *Reconciler) Stats() Stats {
	r.mu.Lock()
	st := Stats{BookingID: r.bookingID, State: r.connState}
	r.mu.Unlock()
	st.DeltasApplied = r.deltasApplied.Load()
	st.Reconnects = r.reconnects.Load()
	r.lastErrorMu.Lock()
	st.LastError = r.lastError
	r.lastErrorMu.Unlock()
	return st
}

// run is the channel lifecycle loop: open stream, drain messages, and on
// any failure wait out the backoff and reconnect. Errors stay local: the
// UI gets a connectivity indicator, not a dialog.
func (r *Reconciler) run(ctx context.Context) {
	defer close(r.done)

	attempt := 0
	for {
		if ctx.Err() != nil {
			return
		}

		r.setState(models.ConnConnecting)
		stream, err := r.backend.OpenStream(ctx, r.bookingID, r.creds)
		if err != nil {
			r.noteError(err)
			r.setState(models.ConnError)
			attempt++
			if r.reconnect.Attempts > 0 && attempt >= r.reconnect.Attempts {
				slog.Warn("push channel gave up", "booking_id", r.bookingID, "attempts", attempt)
				r.setState(models.ConnDisconnected)
				return
			}
			if !r.sleep(ctx, r.reconnect.Delay) {
				return
			}
			r.reconnects.Add(1)
			continue
		}
		attempt = 0

		err = r.drain(ctx, stream)
		_ = stream.Close()
		if ctx.Err() != nil {
			return
		}
		if err != nil {
			r.noteError(err)
		}
		r.setState(models.ConnError)
		attempt++
		if r.reconnect.Attempts > 0 && attempt >= r.reconnect.Attempts {
			r.setState(models.ConnDisconnected)
			return
		}
		if !r.sleep(ctx, r.reconnect.Delay) {
			return
		}
		r.reconnects.Add(1)
	}
}

func (r *Reconciler) drain(ctx context.Context, stream bookingapi.Stream) error {
	for {
		ev, err := stream.Next()
		if err != nil {
			return err
		}
		switch ev.Type {
		case bookingapi.EventConnected:
			r.setState(models.ConnConnected)
			r.lastErrorMu.Lock()
			r.lastError = ""
			r.lastErrorMu.Unlock()
		case bookingapi.EventHeartbeat:
			// Keepalive, no state change.
		case bookingapi.EventUpdate:
			if ev.Delta != nil {
				r.applyDelta(ev.Delta)
			}
		default:
			slog.Debug("unknown stream event", "booking_id", r.bookingID, "type", ev.Type)
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
	}
}

// applyDelta merges one push delta. Scalars are overwritten
// unconditionally (the server is the source of truth, transport is
// ordered); the update log is a union keyed by timestamp so duplicate
// delivery is a no-op. A server-confirmed "paid" clears the optimistic
// flag.
func (r *Reconciler) applyDelta(d *models.Delta) {
	r.mu.Lock()
	if r.closed || r.snap == nil {
		r.mu.Unlock()
		return
	}

	if d.Stage != nil {
		r.snap.Stage = *d.Stage
	}
	if d.OverallProgress != nil {
		r.snap.Progress = *d.OverallProgress
		// A pushed value is an explicit server-confirmed level, even when
		// lower than what was displayed before.
		r.snap.DisplayProgress = *d.OverallProgress
	}
	if d.Status != nil {
		r.snap.Status = *d.Status
	}
	if d.ServicePaymentStatus != nil {
		r.snap.ServicePaymentStatus = *d.ServicePaymentStatus
		if *d.ServicePaymentStatus == models.PaymentStatusPaid {
			r.snap.PaymentJustConfirmed = false
		}
	}
	if d.ServicePaymentAmount != nil {
		r.snap.ServicePaymentAmount = *d.ServicePaymentAmount
	}
	if d.ServicePaymentURL != nil {
		r.snap.ServicePaymentURL = *d.ServicePaymentURL
	}
	if d.Update != nil && !r.snap.HasUpdateAt(d.Update.Timestamp) {
		r.snap.Updates = append(r.snap.Updates, *d.Update)
		sortUpdates(r.snap.Updates)
	}

	out := r.snap.Clone()
	r.mu.Unlock()

	r.deltasApplied.Add(1)
	r.notify(out)
}

// ConfirmPaymentOptimistically reconciles a client-side payment success
// before the push channel necessarily delivers it: one-shot confirmation
// first, bounded lookup polling as the redundant path. The returned
// snapshot carries the optimistic flag until a server push supersedes it.
func (r *Reconciler) ConfirmPaymentOptimistically(ctx context.Context) (models.BookingSnapshot, error) {
	r.mu.Lock()
	if r.closed || r.snap == nil {
		r.mu.Unlock()
		return models.BookingSnapshot{}, errors.New("no open tracking session")
	}
	bookingID := r.bookingID
	creds := r.creds
	r.mu.Unlock()

	snap, err := r.backend.ConfirmPayment(ctx, bookingID)
	if err == nil {
		out, applied := r.applyConfirmed(snap)
		if applied {
			return out, nil
		}
		return models.BookingSnapshot{}, errors.New("session closed during confirmation")
	}
	slog.Warn("payment confirm failed, falling back to polling",
		"booking_id", bookingID, "error", err.Error())

	// Bounded poll: Interval x Attempts, stop early the moment payment is
	// observed as paid. Exhausting the budget is not an error; the push
	// channel remains the primary path.
	for i := 0; i < r.poll.Attempts; i++ {
		select {
		case <-ctx.Done():
			return models.BookingSnapshot{}, ctx.Err()
		case <-r.closedCh:
			return models.BookingSnapshot{}, errors.New("reconciler closed")
		case <-time.After(r.poll.Interval):
		}

		r.allowLookup(ctx, bookingID)

		polled, err := r.backend.Lookup(ctx, creds)
		if err != nil {
			r.noteError(err)
			continue
		}
		out, applied := r.applyPolled(polled)
		if !applied {
			return models.BookingSnapshot{}, errors.New("reconciler closed")
		}
		if out.ServicePaymentStatus == models.PaymentStatusPaid {
			return out, nil
		}
	}

	snapNow, ok := r.Snapshot()
	if !ok {
		return models.BookingSnapshot{}, errors.New("no snapshot")
	}
	return snapNow, nil
}

// applyConfirmed applies a one-shot confirmation result directly,
// bypassing the channel, and marks the optimistic flag.
func (r *Reconciler) applyConfirmed(snap *models.BookingSnapshot) (models.BookingSnapshot, bool) {
	r.mu.Lock()
	if r.closed || r.snap == nil {
		r.mu.Unlock()
		return models.BookingSnapshot{}, false
	}
	merged := mergeSnapshots(r.snap, snap, true)
	merged.PaymentJustConfirmed = true
	r.snap = merged
	out := merged.Clone()
	r.mu.Unlock()

	r.notify(out)
	return out, true
}

// applyPolled is the arbitration gate for the poll side-channel: a poll
// result that would regress progress without flipping payment to paid is
// discarded as stale (the stream may have written a newer state in the
// meantime). Log entries are still merged, the union never loses rows.
func (r *Reconciler) applyPolled(snap *models.BookingSnapshot) (models.BookingSnapshot, bool) {
	r.mu.Lock()
	if r.closed || r.snap == nil {
		r.mu.Unlock()
		return models.BookingSnapshot{}, false
	}

	flipsToPaid := snap.ServicePaymentStatus == models.PaymentStatusPaid &&
		r.snap.ServicePaymentStatus != models.PaymentStatusPaid
	scalars := flipsToPaid || snap.Progress >= r.snap.Progress

	merged := mergeSnapshots(r.snap, snap, scalars)
	r.snap = merged
	out := merged.Clone()
	r.mu.Unlock()

	r.notify(out)
	return out, true
}

// mergeSnapshots unions the update logs and, when scalars is set,
// overwrites scalar fields from next. DisplayProgress never drops below
// its previous value on this path: only push deltas carry explicit
// server-confirmed decreases.
func mergeSnapshots(cur, next *models.BookingSnapshot, scalars bool) *models.BookingSnapshot {
	merged := cur.Clone()
	if scalars {
		merged.Stage = next.Stage
		merged.Progress = next.Progress
		merged.Status = next.Status
		merged.ServicePaymentStatus = next.ServicePaymentStatus
		merged.ServicePaymentAmount = next.ServicePaymentAmount
		merged.ServicePaymentURL = next.ServicePaymentURL
		if next.Progress > merged.DisplayProgress {
			merged.DisplayProgress = next.Progress
		}
		if merged.ServicePaymentStatus == models.PaymentStatusPaid {
			merged.PaymentJustConfirmed = false
		}
	}
	for _, u := range next.Updates {
		if !merged.HasUpdateAt(u.Timestamp) {
			merged.Updates = append(merged.Updates, u)
		}
	}
	sortUpdates(merged.Updates)
	return &merged
}

func sortUpdates(updates []models.UpdateEntry) {
	sort.Slice(updates, func(i, j int) bool {
		return updates[i].Timestamp.Before(updates[j].Timestamp)
	})
}

func (r *Reconciler) allowLookup(ctx context.Context, bookingID string) {
	if r.rl == nil || r.lookupPerMin <= 0 {
		return
	}
	key := "rl:lookup:" + bookingID + ":" + time.Now().UTC().Format("200601021504")
	allowed, n, err := r.rl.Allow(ctx, key, r.lookupPerMin, 70*time.Second)
	if err != nil {
		return
	}
	if !allowed {
		slog.Warn("lookup rate limit exceeded", "booking_id", bookingID, "count", n)
		time.Sleep(500 * time.Millisecond)
	}
}

func (r *Reconciler) setState(st models.ConnectionState) {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.connState = st
	r.mu.Unlock()
}

// sleep waits out a backoff delay; false means the reconciler was closed
// or the loop context was cancelled while waiting.
func (r *Reconciler) sleep(ctx context.Context, d time.Duration) bool {
	select {
	case <-ctx.Done():
		return false
	case <-r.closedCh:
		return false
	case <-time.After(d):
		return true
	}
}

func (r *Reconciler) notify(snap models.BookingSnapshot) {
	if r.onChange != nil {
		r.onChange(snap)
	}
}

func (r *Reconciler) noteError(err error) {
	slog.Error("tracking channel", "booking_id", r.bookingID, "error", err.Error())
	r.lastErrorMu.Lock()
	r.lastError = err.Error()
	r.lastErrorMu.Unlock()
}
