package mail

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrRateLimited matches any rate-limit rejection via errors.Is.
var ErrRateLimited = errors.New("rate limit exceeded")

// RateLimitError reports which recipient hit which window. It is
// retriable later and must never be silently swallowed.
type RateLimitError struct {
	Recipient string
	Window    time.Duration
	Limit     int
	Count     int
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("rate limit exceeded for %s: %d sends in the last %s (limit %d)",
		e.Recipient, e.Count, e.Window, e.Limit)
}

func (e *RateLimitError) Is(target error) bool { return target == ErrRateLimited }

// TransportError carries both the failed message and the backend error,
// so upstream logging never has to re-serialize the message.
type TransportError struct {
	Message *Message
	Err     error
}

func (e *TransportError) Error() string {
	to := "<nobody>"
	if e.Message != nil {
		if rcpts := e.Message.Recipients(); len(rcpts) > 0 {
			to = strings.Join(rcpts, ", ")
		}
	}
	return fmt.Sprintf("deliver to %s: %v", to, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// StagingError wraps a persistence failure while staging a deferred
// message. A failed Stage never reports success to the caller.
type StagingError struct {
	Err error
}

func (e *StagingError) Error() string { return fmt.Sprintf("stage mail: %v", e.Err) }

func (e *StagingError) Unwrap() error { return e.Err }
