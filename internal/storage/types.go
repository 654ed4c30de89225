package storage

import (
	"errors"
	"time"
)

var ErrDisabled = errors.New("storage disabled")

// Config configures storage.
//
// Driver values:
//   - "sqlite": SQLite database file (the normal choice)
//   - "memory": process-local backend (tests, throwaway installs)
//
// If Driver is empty or "none", storage is disabled; staging and rate
// limiting are then unavailable and mail is always sent inline.
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default
}

// StagedMessage is one deferred message row.
//
// Raw holds the fully serialized message text (headers + body); it must
// round-trip through the same parser used for immediate sends.
type StagedMessage struct {
	ID  int64
	Raw string
}
