package storage

import (
	"errors"

	"github.com/nats-io/nats.go/jetstream"
)

// Common storage errors.
var (
	// ErrNotFound is returned when a run record is not found.
	ErrNotFound = errors.New("run not found")

	// ErrInvalidID is returned for IDs that cannot be KV keys.
	ErrInvalidID = errors.New("invalid run ID")
)

func isNotFound(err error) bool {
	return errors.Is(err, jetstream.ErrKeyNotFound)
}
