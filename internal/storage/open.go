package storage

import (
	"context"
	"errors"
	"strings"
	"time"

	logx "github.com/deepayan/bugzilla/pkg/logx"
)

// Store is the persistence API used by the mail dispatcher.
//
// Staged rows are returned by ListStaged in ascending insertion order.
// Rate counts are derived from exact timestamp ranges, so pruning is a
// storage-growth concern only, never a correctness one.
type Store interface {
	InsertStaged(ctx context.Context, raw string) (int64, error)
	ListStaged(ctx context.Context) ([]StagedMessage, error)
	DeleteStaged(ctx context.Context, id int64) error

	CountRate(ctx context.Context, recipient string, since time.Time) (int, error)
	InsertRate(ctx context.Context, recipient string, at time.Time) error
	PruneRate(ctx context.Context, before time.Time) (int64, error)

	// InTransaction reports whether a Transaction scope is currently open
	// on this store. The flag is store-wide: the store runs at most one
	// transaction at a time and callers inside that scope share it.
	InTransaction() bool

	// Transaction runs fn inside a single transaction scope. On success the
	// scope commits and registered after-commit hooks run (outside the
	// transaction). On error the scope rolls back and staged work vanishes
	// with it.
	Transaction(ctx context.Context, fn func(ctx context.Context) error) error

	// OnCommit registers a hook invoked after every successful Transaction.
	OnCommit(fn func(ctx context.Context))

	Close() error
}

// Open initializes the configured store.
// It returns (nil, nil) if storage is disabled.
func Open(cfg Config, log logx.Logger) (Store, error) {
	driver := strings.ToLower(strings.TrimSpace(cfg.Driver))
	if driver == "" || driver == "none" {
		return nil, nil
	}
	if log.IsZero() {
		log = logx.Nop()
	}

	switch driver {
	case "sqlite", "sqlite3":
		return openSQLite(cfg, log)
	case "memory":
		return NewMemory(), nil
	default:
		return nil, errors.New("unknown storage driver: " + driver)
	}
}
