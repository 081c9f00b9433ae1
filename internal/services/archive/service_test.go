package archive

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"

	"github.com/shiftline/bookingwatch/internal/broker/messages"
	"github.com/shiftline/bookingwatch/internal/models"
)

type fakeRepo struct {
	applied  []messages.BookingUpdated
	applyErr error

	snapOut *models.ArchivedSnapshot
	snapErr error
	snapID  string

	listOut []*models.ArchivedUpdate
	listErr error
}

func (f *fakeRepo) ApplyBookingUpdate(ctx context.Context, msg messages.BookingUpdated) error {
	f.applied = append(f.applied, msg)
	return f.applyErr
}
func (f *fakeRepo) GetSnapshot(ctx context.Context, bookingID string) (*models.ArchivedSnapshot, error) {
	f.snapID = bookingID
	return f.snapOut, f.snapErr
}
func (f *fakeRepo) ListBookingUpdates(ctx context.Context, bookingID string, limit, offset int) ([]*models.ArchivedUpdate, error) {
	return f.listOut, f.listErr
}

type fakeCache struct {
	m map[string][]byte
}

func (c *fakeCache) Get(ctx context.Context, key string) ([]byte, bool, error) {
	b, ok := c.m[key]
	return b, ok, nil
}
func (c *fakeCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	c.m[key] = value
	return nil
}
func (c *fakeCache) Del(ctx context.Context, key string) error {
	delete(c.m, key)
	return nil
}

func TestService_ApplyStreamUpdate_validate(t *testing.T) {
	s := New(&fakeRepo{}, nil, 0)
	require.Error(t, s.ApplyStreamUpdate(context.Background(), messages.BookingUpdated{}))
}

func TestService_ApplyStreamUpdate_defaultsObservedAt(t *testing.T) {
	r := &fakeRepo{snapOut: &models.ArchivedSnapshot{BookingID: "B1"}}
	s := New(r, nil, 0)

	require.NoError(t, s.ApplyStreamUpdate(context.Background(), messages.BookingUpdated{BookingID: "B1"}))
	require.Len(t, r.applied, 1)
	require.False(t, r.applied[0].ObservedAt.IsZero())
}

func TestService_ApplyStreamUpdate_refreshesCache(t *testing.T) {
	r := &fakeRepo{snapOut: &models.ArchivedSnapshot{BookingID: "B1", Stage: models.StageInTransit, Progress: 55}}
	c := &fakeCache{m: map[string][]byte{}}
	s := New(r, c, 10*time.Minute)

	require.NoError(t, s.ApplyStreamUpdate(context.Background(), messages.BookingUpdated{
		BookingID:  "B1",
		ObservedAt: time.Now().UTC(),
		Stage:      models.StageInTransit,
		Progress:   55,
	}))

	b, ok := c.m["booking:B1:current"]
	require.True(t, ok)
	var snap models.ArchivedSnapshot
	require.NoError(t, json.Unmarshal(b, &snap))
	require.Equal(t, 55, snap.Progress)
}

func TestService_GetSnapshot_cacheHit(t *testing.T) {
	r := &fakeRepo{}
	c := &fakeCache{m: map[string][]byte{}}
	s := New(r, c, 10*time.Minute)

	want := &models.ArchivedSnapshot{BookingID: "B7", Stage: models.StageAtGarage, Progress: 70}
	b, _ := json.Marshal(want)
	c.m["booking:B7:current"] = b

	out, err := s.GetSnapshot(context.Background(), "B7")
	require.NoError(t, err)
	require.Equal(t, 70, out.Progress)
	require.Empty(t, r.snapID)
}

func TestService_GetSnapshot_cacheMissFillsCache(t *testing.T) {
	r := &fakeRepo{snapOut: &models.ArchivedSnapshot{BookingID: "B7", Progress: 70}}
	c := &fakeCache{m: map[string][]byte{}}
	s := New(r, c, 10*time.Minute)

	out, err := s.GetSnapshot(context.Background(), "B7")
	require.NoError(t, err)
	require.Equal(t, "B7", r.snapID)
	require.Equal(t, 70, out.Progress)

	_, ok := c.m["booking:B7:current"]
	require.True(t, ok)
}

func TestService_GetSnapshot_repoError(t *testing.T) {
	r := &fakeRepo{snapErr: errors.New("boom")}
	s := New(r, nil, 0)
	_, err := s.GetSnapshot(context.Background(), "B1")
	require.Error(t, err)

	_, err = s.GetSnapshot(context.Background(), "")
	require.Error(t, err)
}

func TestService_ListBookingUpdates(t *testing.T) {
	r := &fakeRepo{listOut: []*models.ArchivedUpdate{{BookingID: "B1", Stage: models.StageInTransit}}}
	s := New(r, nil, 0)

	out, err := s.ListBookingUpdates(context.Background(), "B1", 10, 0)
	require.NoError(t, err)
	require.Len(t, out, 1)

	_, err = s.ListBookingUpdates(context.Background(), "", 10, 0)
	require.Error(t, err)
}
