package pgarchive

import (
	"context"

	"github.com/pkg/errors"

	"github.com/shiftline/bookingwatch/internal/models"
)

func (s *Storage) ListBookingUpdates(ctx context.Context, bookingID string, limit, offset int) ([]*models.ArchivedUpdate, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	if offset < 0 {
		offset = 0
	}

	rows, err := s.db.Query(ctx, `
SELECT id, booking_id, stage, entry_time, message, created_at
FROM booking_updates
WHERE booking_id = $1
ORDER BY entry_time DESC
LIMIT $2 OFFSET $3
`, bookingID, limit, offset)
	if err != nil {
		return nil, errors.Wrap(err, "select booking updates")
	}
	defer rows.Close()

	var out []*models.ArchivedUpdate
	for rows.Next() {
		var u models.ArchivedUpdate
		if err := rows.Scan(&u.ID, &u.BookingID, &u.Stage, &u.EntryTime, &u.Message, &u.CreatedAt); err != nil {
			return nil, errors.Wrap(err, "scan booking update")
		}
		out = append(out, &u)
	}
	if rows.Err() != nil {
		return nil, errors.Wrap(rows.Err(), "rows")
	}
	return out, nil
}
