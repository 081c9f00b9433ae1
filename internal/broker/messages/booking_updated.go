package messages

import "time"

// BookingUpdated is published by the agent on every merged snapshot change
// and consumed by the archiver.
type BookingUpdated struct {
	BookingID  string    `json:"booking_id"`
	ObservedAt time.Time `json:"observed_at"`

	Stage    string `json:"stage,omitempty"`
	Progress int    `json:"progress"`
	Status   string `json:"status,omitempty"`

	PaymentStatus string `json:"payment_status,omitempty"`
	PaymentAmount int64  `json:"payment_amount,omitempty"`
	PaymentURL    string `json:"payment_url,omitempty"`

	Updates []BookingUpdateEntry `json:"updates,omitempty"`
}

type BookingUpdateEntry struct {
	Stage     string    `json:"stage"`
	EntryTime time.Time `json:"entry_time"`
	Message   string    `json:"message,omitempty"`
}
