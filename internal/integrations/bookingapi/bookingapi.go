package bookingapi

import (
	"context"

	"github.com/pkg/errors"

	"github.com/shiftline/bookingwatch/internal/models"
)

// Lookup failures the UI distinguishes. Neither is retried automatically.
var (
	// ErrNotFound: the credential triple matches no booking.
	ErrNotFound = errors.New("booking not found")
	// ErrExpired: the booking reached a terminal state and tracking is gone.
	ErrExpired = errors.New("booking expired")
)

// Event types emitted on the push channel.
const (
	EventConnected = "connected"
	EventHeartbeat = "heartbeat"
	EventUpdate    = "update"
)

// Event is one framed message from the push channel. Delta is set only for
// EventUpdate.
type Event struct {
	Type  string
	Delta *models.Delta
}

// Stream is an open push channel for a single booking. Next blocks until
// the next message or a transport error; Close tears the channel down.
type Stream interface {
	Next() (Event, error)
	Close() error
}

// Backend is the booking platform's tracking surface: one-shot lookup,
// one-shot payment confirmation and the per-booking push channel.
// The poll fallback reuses Lookup.
type Backend interface {
	Lookup(ctx context.Context, creds models.TrackingCredentials) (*models.BookingSnapshot, error)
	ConfirmPayment(ctx context.Context, bookingID string) (*models.BookingSnapshot, error)
	OpenStream(ctx context.Context, bookingID string, creds models.TrackingCredentials) (Stream, error)
}
