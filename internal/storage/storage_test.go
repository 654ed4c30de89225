package storage

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	logx "github.com/deepayan/bugzilla/pkg/logx"
)

func backends(t *testing.T) map[string]Store {
	t.Helper()
	sq, err := Open(Config{
		Driver: "sqlite",
		Path:   filepath.Join(t.TempDir(), "mailer.db"),
	}, logx.Nop())
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = sq.Close() })
	return map[string]Store{
		"memory": NewMemory(),
		"sqlite": sq,
	}
}

func TestStagedLifecycle(t *testing.T) {
	ctx := context.Background()
	for name, store := range backends(t) {
		t.Run(name, func(t *testing.T) {
			id1, err := store.InsertStaged(ctx, "raw one")
			if err != nil {
				t.Fatal(err)
			}
			id2, err := store.InsertStaged(ctx, "raw two")
			if err != nil {
				t.Fatal(err)
			}
			if id2 <= id1 {
				t.Fatalf("ids not increasing: %d then %d", id1, id2)
			}

			rows, err := store.ListStaged(ctx)
			if err != nil {
				t.Fatal(err)
			}
			if len(rows) != 2 || rows[0].Raw != "raw one" || rows[1].Raw != "raw two" {
				t.Fatalf("rows = %+v", rows)
			}

			if err := store.DeleteStaged(ctx, id1); err != nil {
				t.Fatal(err)
			}
			rows, err = store.ListStaged(ctx)
			if err != nil {
				t.Fatal(err)
			}
			if len(rows) != 1 || rows[0].ID != id2 {
				t.Fatalf("rows after delete = %+v", rows)
			}

			// Deleting a gone row is not an error.
			if err := store.DeleteStaged(ctx, id1); err != nil {
				t.Fatal(err)
			}
		})
	}
}

func TestRateCounting(t *testing.T) {
	ctx := context.Background()
	for name, store := range backends(t) {
		t.Run(name, func(t *testing.T) {
			now := time.Now()
			for _, at := range []time.Time{
				now.Add(-30 * time.Second),
				now.Add(-45 * time.Second),
				now.Add(-30 * time.Minute),
				now.Add(-2 * time.Hour),
			} {
				if err := store.InsertRate(ctx, "dev@example.com", at); err != nil {
					t.Fatal(err)
				}
			}
			if err := store.InsertRate(ctx, "other@example.com", now); err != nil {
				t.Fatal(err)
			}

			n, err := store.CountRate(ctx, "dev@example.com", now.Add(-time.Minute))
			if err != nil {
				t.Fatal(err)
			}
			if n != 2 {
				t.Fatalf("minute count = %d, want 2", n)
			}

			n, err = store.CountRate(ctx, "dev@example.com", now.Add(-time.Hour))
			if err != nil {
				t.Fatal(err)
			}
			if n != 3 {
				t.Fatalf("hour count = %d, want 3", n)
			}

			pruned, err := store.PruneRate(ctx, now.Add(-time.Hour))
			if err != nil {
				t.Fatal(err)
			}
			if pruned != 1 {
				t.Fatalf("pruned %d rows, want 1", pruned)
			}

			// Pruning never changes in-window counts.
			n, err = store.CountRate(ctx, "dev@example.com", now.Add(-time.Hour))
			if err != nil {
				t.Fatal(err)
			}
			if n != 3 {
				t.Fatalf("hour count after prune = %d, want 3", n)
			}
		})
	}
}

func TestTransactionCommitRunsHooks(t *testing.T) {
	ctx := context.Background()
	for name, store := range backends(t) {
		t.Run(name, func(t *testing.T) {
			var hookRuns int
			store.OnCommit(func(ctx context.Context) {
				hookRuns++
				if store.InTransaction() {
					t.Error("commit hook ran inside the transaction")
				}
			})

			err := store.Transaction(ctx, func(ctx context.Context) error {
				if !store.InTransaction() {
					t.Error("InTransaction false inside scope")
				}
				_, err := store.InsertStaged(ctx, "inside tx")
				return err
			})
			if err != nil {
				t.Fatal(err)
			}
			if hookRuns != 1 {
				t.Fatalf("hook ran %d times, want 1", hookRuns)
			}
			if store.InTransaction() {
				t.Fatal("InTransaction true after commit")
			}

			rows, err := store.ListStaged(ctx)
			if err != nil {
				t.Fatal(err)
			}
			if len(rows) != 1 {
				t.Fatalf("%d rows after commit, want 1", len(rows))
			}
		})
	}
}

func TestTransactionRollback(t *testing.T) {
	ctx := context.Background()
	boom := errors.New("boom")
	for name, store := range backends(t) {
		t.Run(name, func(t *testing.T) {
			var hookRuns int
			store.OnCommit(func(ctx context.Context) { hookRuns++ })

			err := store.Transaction(ctx, func(ctx context.Context) error {
				if _, err := store.InsertStaged(ctx, "doomed"); err != nil {
					return err
				}
				return boom
			})
			if !errors.Is(err, boom) {
				t.Fatalf("err = %v, want boom", err)
			}
			if hookRuns != 0 {
				t.Fatal("commit hook ran after rollback")
			}

			rows, err := store.ListStaged(ctx)
			if err != nil {
				t.Fatal(err)
			}
			if len(rows) != 0 {
				t.Fatalf("%d rows survived rollback", len(rows))
			}
		})
	}
}

func TestOpenDisabled(t *testing.T) {
	for _, driver := range []string{"", "none"} {
		st, err := Open(Config{Driver: driver}, logx.Nop())
		if err != nil || st != nil {
			t.Fatalf("Open(%q) = %v, %v; want nil, nil", driver, st, err)
		}
	}
	if _, err := Open(Config{Driver: "postgres"}, logx.Nop()); err == nil {
		t.Fatal("unknown driver accepted")
	}
	if _, err := Open(Config{Driver: "sqlite"}, logx.Nop()); err == nil {
		t.Fatal("sqlite without a path accepted")
	}
}
