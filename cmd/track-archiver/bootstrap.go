package main

import (
	"fmt"
	"time"

	"github.com/shiftline/bookingwatch/internal/storage/pgarchive"
)

// mustOpenPostgresWithRetry waits for postgres to accept connections.
// The archiver usually races the database on compose startup.
func mustOpenPostgresWithRetry(connString string, wait time.Duration) *pgarchive.Storage {
	deadline := time.Now().Add(wait)
	var lastErr error
	for time.Now().Before(deadline) {
		st, err := pgarchive.New(connString)
		if err == nil {
			return st
		}
		lastErr = err
		time.Sleep(1 * time.Second)
	}
	panic(fmt.Sprintf("postgres is not ready after %s: %v", wait, lastErr))
}
