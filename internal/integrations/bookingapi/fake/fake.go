package fake

import (
	"context"
	"hash/fnv"
	"io"
	"sync"
	"time"

	"github.com/shiftline/bookingwatch/internal/integrations/bookingapi"
	"github.com/shiftline/bookingwatch/internal/models"
)

// Backend is a local stand-in for the booking platform (demo/tests).
// Snapshots are deterministic per tracking code; the stream walks the
// delivery stages forward on a fixed interval.
type Backend struct {
	stepEvery time.Duration
}

func New() *Backend {
	return &Backend{stepEvery: 2 * time.Second}
}

func NewWithStep(step time.Duration) *Backend {
	if step <= 0 {
		step = 2 * time.Second
	}
	return &Backend{stepEvery: step}
}

var stages = []string{
	models.StageBookingConfirmed,
	models.StageDriverAssigned,
	models.StageCarPickedUp,
	models.StageInTransit,
	models.StageAtGarage,
	models.StageServiceComplete,
	models.StageCarDelivered,
}

var stageProgress = map[string]int{
	models.StageBookingConfirmed: 10,
	models.StageDriverAssigned:   20,
	models.StageCarPickedUp:      35,
	models.StageInTransit:        55,
	models.StageAtGarage:         70,
	models.StageServiceComplete:  85,
	models.StageCarDelivered:     100,
}

func (b *Backend) Lookup(ctx context.Context, creds models.TrackingCredentials) (*models.BookingSnapshot, error) {
	if creds.TrackingCode == "" {
		return nil, bookingapi.ErrNotFound
	}

	idx := int(hashOf(creds.TrackingCode) % 3) // start somewhere early
	stage := stages[idx]
	now := time.Now().UTC()

	snap := &models.BookingSnapshot{
		BookingID:            "BK-" + creds.TrackingCode,
		Stage:                stage,
		Progress:             stageProgress[stage],
		DisplayProgress:      stageProgress[stage],
		Status:               models.BookingStatusInProgress,
		ServicePaymentStatus: models.PaymentStatusPending,
		ServicePaymentAmount: 4500,
		Updates: []models.UpdateEntry{
			{Stage: stage, Timestamp: now.Truncate(time.Second), Message: "fake backend update"},
		},
	}
	return snap, nil
}

func (b *Backend) ConfirmPayment(ctx context.Context, bookingID string) (*models.BookingSnapshot, error) {
	now := time.Now().UTC()
	return &models.BookingSnapshot{
		BookingID:            bookingID,
		Stage:                models.StageInTransit,
		Progress:             stageProgress[models.StageInTransit],
		DisplayProgress:      stageProgress[models.StageInTransit],
		Status:               models.BookingStatusInProgress,
		ServicePaymentStatus: models.PaymentStatusPaid,
		ServicePaymentAmount: 4500,
		Updates: []models.UpdateEntry{
			{Stage: models.StageInTransit, Timestamp: now.Truncate(time.Second), Message: "payment confirmed"},
		},
	}, nil
}

func (b *Backend) OpenStream(ctx context.Context, bookingID string, creds models.TrackingCredentials) (bookingapi.Stream, error) {
	idx := int(hashOf(creds.TrackingCode) % 3)
	return &fakeStream{
		ctx:       ctx,
		stageIdx:  idx,
		stepEvery: b.stepEvery,
	}, nil
}

type fakeStream struct {
	ctx       context.Context
	mu        sync.Mutex
	closed    bool
	sentHello bool
	stageIdx  int
	stepEvery time.Duration
}

func (s *fakeStream) Next() (bookingapi.Event, error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return bookingapi.Event{}, io.EOF
	}
	if !s.sentHello {
		s.sentHello = true
		s.mu.Unlock()
		return bookingapi.Event{Type: bookingapi.EventConnected}, nil
	}
	s.mu.Unlock()

	select {
	case <-s.ctx.Done():
		return bookingapi.Event{}, s.ctx.Err()
	case <-time.After(s.stepEvery):
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return bookingapi.Event{}, io.EOF
	}
	if s.stageIdx >= len(stages)-1 {
		return bookingapi.Event{Type: bookingapi.EventHeartbeat}, nil
	}

	s.stageIdx++
	stage := stages[s.stageIdx]
	progress := stageProgress[stage]
	now := time.Now().UTC().Truncate(time.Second)
	return bookingapi.Event{
		Type: bookingapi.EventUpdate,
		Delta: &models.Delta{
			Stage:           &stage,
			OverallProgress: &progress,
			Update: &models.UpdateEntry{
				Stage:     stage,
				Timestamp: now,
				Message:   "fake backend update",
			},
		},
	}, nil
}

func (s *fakeStream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func hashOf(s string) uint32 {
	h := fnv.New32a()
	_, _ = h.Write([]byte(s))
	return h.Sum32()
}
