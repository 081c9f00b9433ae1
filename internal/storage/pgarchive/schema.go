package pgarchive

import (
	"context"

	"github.com/pkg/errors"
)

func (s *Storage) initSchema(ctx context.Context) error {
	stmts := []string{
		`
CREATE TABLE IF NOT EXISTS booking_snapshots (
  booking_id TEXT PRIMARY KEY,
  stage TEXT NOT NULL DEFAULT '',
  progress INT NOT NULL DEFAULT 0,
  status TEXT NOT NULL DEFAULT '',
  payment_status TEXT NOT NULL DEFAULT '',
  payment_amount BIGINT NOT NULL DEFAULT 0,
  payment_url TEXT NOT NULL DEFAULT '',
  observed_at TIMESTAMPTZ NOT NULL,
  created_at TIMESTAMPTZ NOT NULL,
  updated_at TIMESTAMPTZ NOT NULL
)`,
		`
CREATE TABLE IF NOT EXISTS booking_updates (
  id BIGSERIAL PRIMARY KEY,
  booking_id TEXT NOT NULL REFERENCES booking_snapshots(booking_id) ON DELETE CASCADE,
  stage TEXT NOT NULL,
  entry_time TIMESTAMPTZ NOT NULL,
  message TEXT NOT NULL DEFAULT '',
  created_at TIMESTAMPTZ NOT NULL,
  UNIQUE (booking_id, entry_time)
)`,
		`CREATE INDEX IF NOT EXISTS idx_booking_updates_booking_id_entry_time ON booking_updates(booking_id, entry_time DESC)`,
	}

	for _, q := range stmts {
		if _, err := s.db.Exec(ctx, q); err != nil {
			return errors.Wrap(err, "init schema")
		}
	}
	return nil
}
