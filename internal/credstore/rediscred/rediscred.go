package rediscred

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"

	"github.com/shiftline/bookingwatch/internal/credstore"
	"github.com/shiftline/bookingwatch/internal/models"
)

// Store keeps tracking credentials in redis so agent restarts resume
// their watch sessions.
type Store struct {
	c *redis.Client
}

func New(addr string) *Store {
	return &Store{c: redis.NewClient(&redis.Options{Addr: addr})}
}

func (s *Store) Get(ctx context.Context, bookingID string) (models.TrackingCredentials, bool, error) {
	b, err := s.c.Get(ctx, credstore.KeyPrefix+bookingID).Bytes()
	if err == redis.Nil {
		return models.TrackingCredentials{}, false, nil
	}
	if err != nil {
		return models.TrackingCredentials{}, false, errors.Wrap(err, "redis get creds")
	}
	var creds models.TrackingCredentials
	if err := json.Unmarshal(b, &creds); err != nil {
		return models.TrackingCredentials{}, false, errors.Wrap(err, "unmarshal creds")
	}
	return creds, true, nil
}

func (s *Store) Set(ctx context.Context, bookingID string, creds models.TrackingCredentials) error {
	b, err := json.Marshal(creds)
	if err != nil {
		return errors.Wrap(err, "marshal creds")
	}
	// No TTL: sessions are cleared explicitly when the user starts a new search.
	if err := s.c.Set(ctx, credstore.KeyPrefix+bookingID, b, 0).Err(); err != nil {
		return errors.Wrap(err, "redis set creds")
	}
	return nil
}

func (s *Store) Clear(ctx context.Context, bookingID string) error {
	if err := s.c.Del(ctx, credstore.KeyPrefix+bookingID).Err(); err != nil {
		return errors.Wrap(err, "redis del creds")
	}
	return nil
}

func (s *Store) List(ctx context.Context) (map[string]models.TrackingCredentials, error) {
	out := map[string]models.TrackingCredentials{}
	iter := s.c.Scan(ctx, 0, credstore.KeyPrefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		key := iter.Val()
		b, err := s.c.Get(ctx, key).Bytes()
		if err == redis.Nil {
			continue
		}
		if err != nil {
			return nil, errors.Wrap(err, "redis get creds")
		}
		var creds models.TrackingCredentials
		if err := json.Unmarshal(b, &creds); err != nil {
			// Skip unreadable entries, the agent should still start.
			continue
		}
		out[strings.TrimPrefix(key, credstore.KeyPrefix)] = creds
	}
	if err := iter.Err(); err != nil {
		return nil, errors.Wrap(err, "redis scan creds")
	}
	return out, nil
}
