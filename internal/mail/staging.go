package mail

import (
	"context"
	"fmt"
	"sync"

	"github.com/deepayan/bugzilla/internal/storage"
	logx "github.com/deepayan/bugzilla/pkg/logx"
)

// Stager is the single authority for the defer-vs-send decision and the
// keeper of the staging table. No other component inspects transaction
// state.
type Stager struct {
	store storage.Store
	log   logx.Logger

	// drainMu keeps drains from overlapping. When two commits race, the
	// second drain simply finds fewer (or zero) rows.
	drainMu sync.Mutex
}

func NewStager(store storage.Store, log logx.Logger) *Stager {
	return &Stager{store: store, log: log}
}

// ShouldDefer reports whether a send must wait for the open transaction
// to commit. Forced sends (sendNow) never defer.
func (s *Stager) ShouldDefer(sendNow bool) bool {
	return !sendNow && s.store != nil && s.store.InTransaction()
}

// Stage serializes the message and persists it for a post-commit drain.
// It never sends. The returned id identifies the row for deletion.
func (s *Stager) Stage(ctx context.Context, msg *Message) (int64, error) {
	if s.store == nil {
		return 0, &StagingError{Err: storage.ErrDisabled}
	}
	id, err := s.store.InsertStaged(ctx, msg.String())
	if err != nil {
		return 0, &StagingError{Err: err}
	}
	return id, nil
}

// DrainFailure is one staged record that could not be replayed. The
// record stays staged for a future drain.
type DrainFailure struct {
	ID  int64
	Err error
}

// DrainResult summarizes one drain pass.
type DrainResult struct {
	Sent     int
	Failures []DrainFailure
}

// Drain replays every staged record in insertion order through send and
// deletes each record only after its replay succeeded. One record's
// failure does not stop later records; failures are aggregated in the
// result. Deletions already performed are never rolled back, so a
// partial drain leaves only the failed tail staged.
func (s *Stager) Drain(ctx context.Context, send func(ctx context.Context, msg *Message) error) (DrainResult, error) {
	s.drainMu.Lock()
	defer s.drainMu.Unlock()

	var res DrainResult
	if s.store == nil {
		return res, nil
	}

	staged, err := s.store.ListStaged(ctx)
	if err != nil {
		return res, fmt.Errorf("list staged mail: %w", err)
	}
	if len(staged) == 0 {
		return res, nil
	}

	for _, rec := range staged {
		msg, err := Parse(rec.Raw)
		if err != nil {
			// The row stays staged; deletion requires the replay to have
			// reached a transport.
			s.log.Error("staged mail is unparseable",
				logx.Int64("id", rec.ID), logx.Err(err))
			res.Failures = append(res.Failures, DrainFailure{ID: rec.ID, Err: err})
			continue
		}

		if err := send(ctx, msg); err != nil {
			res.Failures = append(res.Failures, DrainFailure{ID: rec.ID, Err: err})
			continue
		}

		if err := s.store.DeleteStaged(ctx, rec.ID); err != nil {
			// The mail went out; a lingering row means one duplicate on the
			// next drain at worst. Surface it.
			s.log.Warn("staged mail sent but not deleted",
				logx.Int64("id", rec.ID), logx.Err(err))
			res.Failures = append(res.Failures, DrainFailure{ID: rec.ID, Err: err})
			continue
		}
		res.Sent++
	}
	return res, nil
}
