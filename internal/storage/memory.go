package storage

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

// memoryStore is a process-local backend with the same transaction
// semantics as the sqlite driver (snapshot on begin, restore on error).
// It backs tests and throwaway installs.
type memoryStore struct {
	mu     sync.Mutex
	nextID int64
	staged []StagedMessage
	rates  []rateRow

	txMu sync.Mutex
	inTx atomic.Bool

	hookMu sync.Mutex
	hooks  []func(ctx context.Context)
}

type rateRow struct {
	recipient string
	sentAt    time.Time
}

// NewMemory returns an empty in-memory store.
func NewMemory() Store {
	return &memoryStore{nextID: 1}
}

func (s *memoryStore) Close() error { return nil }

func (s *memoryStore) InsertStaged(ctx context.Context, raw string) (int64, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	id := s.nextID
	s.nextID++
	s.staged = append(s.staged, StagedMessage{ID: id, Raw: raw})
	return id, nil
}

func (s *memoryStore) ListStaged(ctx context.Context) ([]StagedMessage, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]StagedMessage, len(s.staged))
	copy(out, s.staged)
	return out, nil
}

func (s *memoryStore) DeleteStaged(ctx context.Context, id int64) error {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, m := range s.staged {
		if m.ID == id {
			s.staged = append(s.staged[:i], s.staged[i+1:]...)
			return nil
		}
	}
	return nil
}

func (s *memoryStore) CountRate(ctx context.Context, recipient string, since time.Time) (int, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, r := range s.rates {
		if r.recipient == recipient && !r.sentAt.Before(since) {
			n++
		}
	}
	return n, nil
}

func (s *memoryStore) InsertRate(ctx context.Context, recipient string, at time.Time) error {
	_ = ctx
	if at.IsZero() {
		at = time.Now()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rates = append(s.rates, rateRow{recipient: recipient, sentAt: at})
	return nil
}

func (s *memoryStore) PruneRate(ctx context.Context, before time.Time) (int64, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	kept := s.rates[:0]
	var pruned int64
	for _, r := range s.rates {
		if r.sentAt.Before(before) {
			pruned++
			continue
		}
		kept = append(kept, r)
	}
	s.rates = kept
	return pruned, nil
}

func (s *memoryStore) InTransaction() bool { return s.inTx.Load() }

func (s *memoryStore) OnCommit(fn func(ctx context.Context)) {
	if fn == nil {
		return
	}
	s.hookMu.Lock()
	s.hooks = append(s.hooks, fn)
	s.hookMu.Unlock()
}

func (s *memoryStore) Transaction(ctx context.Context, fn func(ctx context.Context) error) error {
	s.txMu.Lock()
	defer s.txMu.Unlock()

	s.mu.Lock()
	stagedSnap := make([]StagedMessage, len(s.staged))
	copy(stagedSnap, s.staged)
	ratesSnap := make([]rateRow, len(s.rates))
	copy(ratesSnap, s.rates)
	idSnap := s.nextID
	s.mu.Unlock()

	s.inTx.Store(true)
	err := fn(ctx)
	s.inTx.Store(false)

	if err != nil {
		// Roll back to the snapshot.
		s.mu.Lock()
		s.staged = stagedSnap
		s.rates = ratesSnap
		s.nextID = idSnap
		s.mu.Unlock()
		return err
	}

	s.hookMu.Lock()
	hooks := append(([]func(ctx context.Context))(nil), s.hooks...)
	s.hookMu.Unlock()
	for _, h := range hooks {
		h(ctx)
	}
	return nil
}
