package storage

import (
	"errors"
	"time"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("not found")

// CachedBoard describes one cached board view without its payload.
type CachedBoard struct {
	BoardID string
	Name    string
	Version uint64
	SavedAt time.Time
}
