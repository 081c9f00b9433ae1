package credstore

import (
	"context"
	"sync"

	"github.com/shiftline/bookingwatch/internal/models"
)

// KeyPrefix is the fixed key namespace tracking credentials live under.
const KeyPrefix = "bookingwatch:creds:"

// Store persists tracking credentials so a session can resume without
// re-entering the lookup triple. Injected, never ambient, so tests can
// fake it.
type Store interface {
	Get(ctx context.Context, bookingID string) (models.TrackingCredentials, bool, error)
	Set(ctx context.Context, bookingID string, creds models.TrackingCredentials) error
	Clear(ctx context.Context, bookingID string) error
	// List returns credentials for every stored session, keyed by booking ID.
	List(ctx context.Context) (map[string]models.TrackingCredentials, error)
}

// Memory is the in-process Store used in tests and single-run setups.
type Memory struct {
	mu sync.Mutex
	m  map[string]models.TrackingCredentials
}

func NewMemory() *Memory {
	return &Memory{m: map[string]models.TrackingCredentials{}}
}

func (s *Memory) Get(ctx context.Context, bookingID string) (models.TrackingCredentials, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.m[bookingID]
	return c, ok, nil
}

func (s *Memory) Set(ctx context.Context, bookingID string, creds models.TrackingCredentials) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.m[bookingID] = creds
	return nil
}

func (s *Memory) Clear(ctx context.Context, bookingID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.m, bookingID)
	return nil
}

func (s *Memory) List(ctx context.Context) (map[string]models.TrackingCredentials, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]models.TrackingCredentials, len(s.m))
	for k, v := range s.m {
		out[k] = v
	}
	return out, nil
}
