package models

import "time"

// Delivery stages in their fixed order. The server may correct a booking
// backwards out-of-band; the client never reorders on its own.
const (
	StageBookingConfirmed = "booking_confirmed"
	StageDriverAssigned   = "driver_assigned"
	StageCarPickedUp      = "car_picked_up"
	StageInTransit        = "in_transit"
	StageAtGarage         = "at_garage"
	StageServiceComplete  = "service_complete"
	StageCarDelivered     = "car_delivered"
)

var stageOrder = map[string]int{
	StageBookingConfirmed: 0,
	StageDriverAssigned:   1,
	StageCarPickedUp:      2,
	StageInTransit:        3,
	StageAtGarage:         4,
	StageServiceComplete:  5,
	StageCarDelivered:     6,
}

// StageIndex returns the position of a stage in the delivery order,
// or -1 for an unknown stage.
func StageIndex(stage string) int {
	if i, ok := stageOrder[stage]; ok {
		return i
	}
	return -1
}

// Lifecycle statuses.
const (
	BookingStatusPending    = "pending"
	BookingStatusInProgress = "in_progress"
	BookingStatusCompleted  = "completed"
	BookingStatusCancelled  = "cancelled"
)

// Payment side-channel statuses.
const (
	PaymentStatusPending = "pending"
	PaymentStatusPaid    = "paid"
)

// ConnectionState is the lifecycle of one push channel. Owned exclusively
// by a single reconciler instance.
type ConnectionState string

const (
	ConnDisconnected ConnectionState = "disconnected"
	ConnConnecting   ConnectionState = "connecting"
	ConnConnected    ConnectionState = "connected"
	ConnError        ConnectionState = "error"
	ConnClosed       ConnectionState = "closed"
)

// UpdateEntry is one row of the append-only update log.
// Entries are deduplicated by Timestamp.
type UpdateEntry struct {
	Stage     string    `json:"stage"`
	Timestamp time.Time `json:"timestamp"`
	Message   string    `json:"message,omitempty"`
}

// BookingSnapshot is the client-held view of one booking's delivery and
// payment progress. Progress is whatever the server last said;
// DisplayProgress is what the UI shows and only regresses when a push
// delta (server-confirmed) carries a lower value.
type BookingSnapshot struct {
	BookingID string `json:"bookingId"`

	Stage           string `json:"stage"`
	Progress        int    `json:"overallProgress"`
	DisplayProgress int    `json:"displayProgress"`
	Status          string `json:"status"`

	ServicePaymentStatus string `json:"servicePaymentStatus,omitempty"`
	ServicePaymentAmount int64  `json:"servicePaymentAmount,omitempty"`
	ServicePaymentURL    string `json:"servicePaymentUrl,omitempty"`

	// PaymentJustConfirmed is the local optimistic flag, always superseded
	// by a server-confirmed "paid".
	PaymentJustConfirmed bool `json:"paymentJustConfirmed,omitempty"`

	Updates []UpdateEntry `json:"updates,omitempty"`
}

// HasUpdateAt reports whether the log already holds an entry with this
// timestamp.
func (s *BookingSnapshot) HasUpdateAt(ts time.Time) bool {
	for _, u := range s.Updates {
		if u.Timestamp.Equal(ts) {
			return true
		}
	}
	return false
}

// Clone returns a deep copy safe to hand out across goroutines.
func (s *BookingSnapshot) Clone() BookingSnapshot {
	out := *s
	out.Updates = make([]UpdateEntry, len(s.Updates))
	copy(out.Updates, s.Updates)
	return out
}

// Delta is a partial update pushed over the channel. Nil fields were not
// included in the payload and leave the snapshot untouched.
type Delta struct {
	Stage           *string `json:"stage,omitempty"`
	OverallProgress *int    `json:"overallProgress,omitempty"`
	Status          *string `json:"status,omitempty"`

	ServicePaymentStatus *string `json:"servicePaymentStatus,omitempty"`
	ServicePaymentAmount *int64  `json:"servicePaymentAmount,omitempty"`
	ServicePaymentURL    *string `json:"servicePaymentUrl,omitempty"`

	Update *UpdateEntry `json:"update,omitempty"`
}

// TrackingCredentials identify a tracking session against the booking
// platform: the triple the lookup endpoint accepts.
type TrackingCredentials struct {
	TrackingCode string `json:"trackingCode"`
	Email        string `json:"email"`
	Registration string `json:"registration"`
}
