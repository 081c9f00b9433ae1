package models

import "time"

// ArchivedSnapshot is the server-side record of a booking's latest known
// state, built from the relayed update stream.
type ArchivedSnapshot struct {
	BookingID string `json:"bookingId"`

	Stage    string `json:"stage"`
	Progress int    `json:"overallProgress"`
	Status   string `json:"status"`

	PaymentStatus string `json:"paymentStatus,omitempty"`
	PaymentAmount int64  `json:"paymentAmount,omitempty"`
	PaymentURL    string `json:"paymentUrl,omitempty"`

	ObservedAt time.Time `json:"observedAt"`
	CreatedAt  time.Time `json:"createdAt"`
	UpdatedAt  time.Time `json:"updatedAt"`
}

// ArchivedUpdate is one persisted row of a booking's update log.
type ArchivedUpdate struct {
	ID        uint64    `json:"id"`
	BookingID string    `json:"bookingId"`
	Stage     string    `json:"stage"`
	EntryTime time.Time `json:"entryTime"`
	Message   string    `json:"message,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}
