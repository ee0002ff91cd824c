// Package ids generates identifiers for stored objects.
//
// Identifiers are version 1 UUIDs with a randomized clock sequence: the
// timestamp bits keep ids roughly time-ordered, which keeps btree inserts
// append-mostly, while the random clock sequence stops anyone from guessing
// neighboring ids.
package ids

import (
	"sync"

	"github.com/google/uuid"
)

var mu sync.Mutex

// New returns a fresh object identifier.
func New() uuid.UUID {
	mu.Lock()
	defer mu.Unlock()
	// SetClockSequence touches package state in the uuid library, so calls
	// are serialized here.
	uuid.SetClockSequence(-1)
	id, err := uuid.NewUUID()
	if err != nil {
		// NewUUID only fails when no hardware address and no randomness are
		// available; a random id keeps the caller going.
		return uuid.New()
	}
	return id
}
