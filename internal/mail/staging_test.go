package mail

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/deepayan/bugzilla/internal/storage"
	logx "github.com/deepayan/bugzilla/pkg/logx"
)

func stagedMsg(t *testing.T, to, subject string) *Message {
	t.Helper()
	m := NewMessage()
	m.SetHeader("To", to)
	m.SetHeader("Subject", subject)
	if err := m.SetText("body"); err != nil {
		t.Fatal(err)
	}
	return m
}

func TestShouldDefer(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemory()
	s := NewStager(store, logx.Nop())

	if s.ShouldDefer(false) {
		t.Fatal("deferred outside a transaction")
	}
	if s.ShouldDefer(true) {
		t.Fatal("deferred a forced send")
	}

	_ = store.Transaction(ctx, func(ctx context.Context) error {
		if !s.ShouldDefer(false) {
			t.Error("not deferred inside a transaction")
		}
		if s.ShouldDefer(true) {
			t.Error("deferred a forced send inside a transaction")
		}
		return nil
	})

	if NewStager(nil, logx.Nop()).ShouldDefer(false) {
		t.Fatal("deferred without a store")
	}
}

func TestDrainSendsInOrderAndDeletes(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemory()
	s := NewStager(store, logx.Nop())

	for i := 1; i <= 3; i++ {
		if _, err := s.Stage(ctx, stagedMsg(t, "dev@example.com", fmt.Sprintf("msg %d", i))); err != nil {
			t.Fatal(err)
		}
	}

	var subjects []string
	res, err := s.Drain(ctx, func(ctx context.Context, m *Message) error {
		subjects = append(subjects, m.Header("Subject"))
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
	if res.Sent != 3 || len(res.Failures) != 0 {
		t.Fatalf("result = %+v", res)
	}
	for i, subj := range subjects {
		if want := fmt.Sprintf("msg %d", i+1); subj != want {
			t.Fatalf("replay order: got %v", subjects)
		}
	}

	left, err := store.ListStaged(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(left) != 0 {
		t.Fatalf("%d rows left staged after a clean drain", len(left))
	}
}

func TestDrainFailureKeepsRecordAndContinues(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemory()
	s := NewStager(store, logx.Nop())

	for i := 1; i <= 3; i++ {
		if _, err := s.Stage(ctx, stagedMsg(t, "dev@example.com", fmt.Sprintf("msg %d", i))); err != nil {
			t.Fatal(err)
		}
	}

	boom := errors.New("relay down")
	res, err := s.Drain(ctx, func(ctx context.Context, m *Message) error {
		if m.Header("Subject") == "msg 2" {
			return boom
		}
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
	if res.Sent != 2 {
		t.Fatalf("sent %d, want 2", res.Sent)
	}
	if len(res.Failures) != 1 || !errors.Is(res.Failures[0].Err, boom) {
		t.Fatalf("failures = %+v", res.Failures)
	}

	// Only the failed record remains for the next drain.
	left, err := store.ListStaged(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(left) != 1 {
		t.Fatalf("%d rows staged, want 1", len(left))
	}
	m, err := Parse(left[0].Raw)
	if err != nil {
		t.Fatal(err)
	}
	if m.Header("Subject") != "msg 2" {
		t.Fatalf("wrong record kept: %q", m.Header("Subject"))
	}
}

func TestDrainKeepsUnparseableRows(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemory()
	s := NewStager(store, logx.Nop())

	if _, err := store.InsertStaged(ctx, ""); err != nil {
		t.Fatal(err)
	}
	if _, err := s.Stage(ctx, stagedMsg(t, "dev@example.com", "good")); err != nil {
		t.Fatal(err)
	}

	sent := 0
	res, err := s.Drain(ctx, func(ctx context.Context, m *Message) error {
		sent++
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
	if sent != 1 || res.Sent != 1 || len(res.Failures) != 1 {
		t.Fatalf("sent=%d result=%+v", sent, res)
	}

	// The bad row is still there; it never reached a transport.
	left, err := store.ListStaged(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(left) != 1 || left[0].Raw != "" {
		t.Fatalf("staged rows = %+v", left)
	}
}

func TestDrainWithoutStore(t *testing.T) {
	s := NewStager(nil, logx.Nop())
	res, err := s.Drain(context.Background(), func(ctx context.Context, m *Message) error {
		t.Fatal("send called with no store")
		return nil
	})
	if err != nil || res.Sent != 0 {
		t.Fatalf("res=%+v err=%v", res, err)
	}
}

func TestStageWithoutStore(t *testing.T) {
	s := NewStager(nil, logx.Nop())
	_, err := s.Stage(context.Background(), stagedMsg(t, "dev@example.com", "x"))
	if err == nil {
		t.Fatal("stage succeeded with no store")
	}
	var se *StagingError
	if !errors.As(err, &se) {
		t.Fatalf("error type %T", err)
	}
	if !errors.Is(err, storage.ErrDisabled) {
		t.Fatalf("got %v, want storage.ErrDisabled", err)
	}
}
