package pgarchive

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/pkg/errors"

	"github.com/shiftline/bookingwatch/internal/broker/messages"
	"github.com/shiftline/bookingwatch/internal/models"
)

var ErrSnapshotNotFound = errors.New("snapshot not found")

// ApplyBookingUpdate upserts the booking's current snapshot and appends
// any log entries the message carries. Entries are deduplicated by
// (booking_id, entry_time), so replaying a message is harmless.
func (s *Storage) ApplyBookingUpdate(ctx context.Context, msg messages.BookingUpdated) error {
	tx, err := s.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return errors.Wrap(err, "begin tx")
	}
	defer func() { _ = tx.Rollback(ctx) }()

	_, err = tx.Exec(ctx, `
INSERT INTO booking_snapshots (
  booking_id, stage, progress, status,
  payment_status, payment_amount, payment_url,
  observed_at, created_at, updated_at
)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8, now(), now())
ON CONFLICT (booking_id)
DO UPDATE SET
  stage = EXCLUDED.stage,
  progress = EXCLUDED.progress,
  status = EXCLUDED.status,
  payment_status = EXCLUDED.payment_status,
  payment_amount = EXCLUDED.payment_amount,
  payment_url = EXCLUDED.payment_url,
  observed_at = EXCLUDED.observed_at,
  updated_at = now()
WHERE booking_snapshots.observed_at <= EXCLUDED.observed_at
`, msg.BookingID, msg.Stage, msg.Progress, msg.Status,
		msg.PaymentStatus, msg.PaymentAmount, msg.PaymentURL,
		msg.ObservedAt.UTC())
	if err != nil {
		return errors.Wrap(err, "upsert snapshot")
	}

	for _, u := range msg.Updates {
		_, err := tx.Exec(ctx, `
INSERT INTO booking_updates (booking_id, stage, entry_time, message, created_at)
VALUES ($1,$2,$3,$4, now())
ON CONFLICT (booking_id, entry_time) DO NOTHING
`, msg.BookingID, u.Stage, u.EntryTime.UTC(), u.Message)
		if err != nil {
			return errors.Wrap(err, "insert booking update")
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return errors.Wrap(err, "commit tx")
	}
	return nil
}

func (s *Storage) GetSnapshot(ctx context.Context, bookingID string) (*models.ArchivedSnapshot, error) {
	var snap models.ArchivedSnapshot
	err := s.db.QueryRow(ctx, `
SELECT
  booking_id, stage, progress, status,
  payment_status, payment_amount, payment_url,
  observed_at, created_at, updated_at
FROM booking_snapshots
WHERE booking_id = $1
`, bookingID).Scan(
		&snap.BookingID, &snap.Stage, &snap.Progress, &snap.Status,
		&snap.PaymentStatus, &snap.PaymentAmount, &snap.PaymentURL,
		&snap.ObservedAt, &snap.CreatedAt, &snap.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrSnapshotNotFound
	}
	if err != nil {
		return nil, errors.Wrap(err, "select snapshot")
	}
	return &snap, nil
}
