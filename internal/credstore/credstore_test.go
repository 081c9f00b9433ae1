package credstore

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/shiftline/bookingwatch/internal/models"
)

func TestMemory_RoundTrip(t *testing.T) {
	s := NewMemory()
	ctx := context.Background()

	_, ok, err := s.Get(ctx, "B1")
	require.NoError(t, err)
	require.False(t, ok)

	creds := models.TrackingCredentials{TrackingCode: "TRK-1", Email: "a@b.c"}
	require.NoError(t, s.Set(ctx, "B1", creds))

	got, ok, err := s.Get(ctx, "B1")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, creds, got)

	all, err := s.List(ctx)
	require.NoError(t, err)
	require.Len(t, all, 1)

	require.NoError(t, s.Clear(ctx, "B1"))
	_, ok, _ = s.Get(ctx, "B1")
	require.False(t, ok)
}
