package mail

import (
	"context"
	"sync"
	"time"

	"github.com/deepayan/bugzilla/internal/storage"
	logx "github.com/deepayan/bugzilla/pkg/logx"
)

const (
	minuteWindow = time.Minute
	hourWindow   = time.Hour
)

// RateLimits bounds how often one recipient may be mailed. A zero value
// disables the corresponding window; both zero disables the limiter.
type RateLimits struct {
	PerMinute int
	PerHour   int
}

func (l RateLimits) enabled() bool { return l.PerMinute > 0 || l.PerHour > 0 }

// RateLimiter counts sends per recipient over sliding windows backed by
// the durable store. Counts are always re-derived from exact timestamp
// ranges, so pruning old records is storage hygiene, not correctness.
//
// Two concurrent Admit calls for the same recipient can both pass before
// either records its send; the limits are a best-effort bound, not a
// hard guarantee. No lock spans the check-then-record sequence.
type RateLimiter struct {
	store storage.Store
	log   logx.Logger

	mu     sync.Mutex
	limits RateLimits

	now func() time.Time
}

func NewRateLimiter(store storage.Store, limits RateLimits, log logx.Logger) *RateLimiter {
	return &RateLimiter{store: store, limits: limits, log: log, now: time.Now}
}

// Apply swaps the limits at runtime.
func (l *RateLimiter) Apply(limits RateLimits) {
	l.mu.Lock()
	l.limits = limits
	l.mu.Unlock()
}

func (l *RateLimiter) snapshot() RateLimits {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.limits
}

// Admit decides whether one more send to recipient fits the windows.
// Admission requires count < limit; exactly-at-limit is a rejection.
// A nil return admits.
func (l *RateLimiter) Admit(ctx context.Context, recipient string) error {
	limits := l.snapshot()
	if !limits.enabled() || l.store == nil {
		return nil
	}
	now := l.now()

	if limits.PerMinute > 0 {
		n, err := l.store.CountRate(ctx, recipient, now.Add(-minuteWindow))
		if err != nil {
			return err
		}
		if n >= limits.PerMinute {
			return &RateLimitError{Recipient: recipient, Window: minuteWindow, Limit: limits.PerMinute, Count: n}
		}
	}
	if limits.PerHour > 0 {
		n, err := l.store.CountRate(ctx, recipient, now.Add(-hourWindow))
		if err != nil {
			return err
		}
		if n >= limits.PerHour {
			return &RateLimitError{Recipient: recipient, Window: hourWindow, Limit: limits.PerHour, Count: n}
		}
	}
	return nil
}

// RecordSend appends one rate record. Call it only after a transport
// confirmed acceptance: a failed send must not consume rate budget.
func (l *RateLimiter) RecordSend(ctx context.Context, recipient string, at time.Time) error {
	if !l.snapshot().enabled() || l.store == nil {
		return nil
	}
	if at.IsZero() {
		at = l.now()
	}
	return l.store.InsertRate(ctx, recipient, at)
}

// Prune drops records older than the longest window. The store also
// prunes opportunistically; this is for callers that want it on a
// schedule.
func (l *RateLimiter) Prune(ctx context.Context) (int64, error) {
	if l.store == nil {
		return 0, nil
	}
	return l.store.PruneRate(ctx, l.now().Add(-hourWindow))
}
