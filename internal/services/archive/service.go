package archive

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/pkg/errors"

	"github.com/shiftline/bookingwatch/internal/broker/messages"
	"github.com/shiftline/bookingwatch/internal/cache"
	"github.com/shiftline/bookingwatch/internal/models"
)

type Repository interface {
	ApplyBookingUpdate(ctx context.Context, msg messages.BookingUpdated) error
	GetSnapshot(ctx context.Context, bookingID string) (*models.ArchivedSnapshot, error)
	ListBookingUpdates(ctx context.Context, bookingID string, limit, offset int) ([]*models.ArchivedUpdate, error)
}

type Service struct {
	repo       Repository
	cache      cache.BytesCache
	currentTTL time.Duration
}

func New(repo Repository, c cache.BytesCache, currentTTL time.Duration) *Service {
	return &Service{repo: repo, cache: c, currentTTL: currentTTL}
}

// ApplyStreamUpdate persists a relayed booking update and refreshes the
// cached current snapshot. The cache is best effort.
func (s *Service) ApplyStreamUpdate(ctx context.Context, msg messages.BookingUpdated) error {
	if msg.BookingID == "" {
		return errors.New("booking_id is required")
	}
	if msg.ObservedAt.IsZero() {
		msg.ObservedAt = time.Now().UTC()
	}

	if err := s.repo.ApplyBookingUpdate(ctx, msg); err != nil {
		return err
	}

	if s.cache != nil && s.currentTTL > 0 {
		snap, err := s.repo.GetSnapshot(ctx, msg.BookingID)
		if err == nil {
			b, _ := json.Marshal(snap)
			_ = s.cache.Set(ctx, currentKey(msg.BookingID), b, s.currentTTL)
		}
	}

	return nil
}

// GetSnapshot returns the booking's latest archived state, cache-aside.
func (s *Service) GetSnapshot(ctx context.Context, bookingID string) (*models.ArchivedSnapshot, error) {
	if bookingID == "" {
		return nil, errors.New("bookingId is required")
	}

	if s.cache != nil && s.currentTTL > 0 {
		if b, ok, err := s.cache.Get(ctx, currentKey(bookingID)); err == nil && ok {
			var snap models.ArchivedSnapshot
			if json.Unmarshal(b, &snap) == nil {
				return &snap, nil
			}
		}
	}

	snap, err := s.repo.GetSnapshot(ctx, bookingID)
	if err != nil {
		return nil, err
	}

	if s.cache != nil && s.currentTTL > 0 {
		b, _ := json.Marshal(snap)
		_ = s.cache.Set(ctx, currentKey(bookingID), b, s.currentTTL)
	}

	return snap, nil
}

func (s *Service) ListBookingUpdates(ctx context.Context, bookingID string, limit, offset int) ([]*models.ArchivedUpdate, error) {
	if bookingID == "" {
		return nil, errors.New("bookingId is required")
	}
	return s.repo.ListBookingUpdates(ctx, bookingID, limit, offset)
}

func currentKey(bookingID string) string {
	return fmt.Sprintf("booking:%s:current", bookingID)
}
