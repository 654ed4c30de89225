package storage

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	_ "modernc.org/sqlite"

	logx "github.com/deepayan/bugzilla/pkg/logx"
)

//go:embed migrations.sql
var migrationsFS embed.FS

type sqliteStore struct {
	db  *sql.DB
	log logx.Logger

	// txMu serializes Transaction scopes; the store runs one at a time.
	txMu sync.Mutex

	mu   sync.Mutex
	tx   *sql.Tx
	inTx atomic.Bool

	hookMu sync.Mutex
	hooks  []func(ctx context.Context)

	opCount    atomic.Uint64
	pruneEvery uint64
}

func openSQLite(cfg Config, log logx.Logger) (Store, error) {
	if strings.TrimSpace(cfg.Path) == "" {
		return nil, errors.New("sqlite path is required")
	}
	path := cfg.Path
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// SQLite prefers a small number of concurrent writers.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	st := &sqliteStore{db: db, log: log, pruneEvery: 500}

	// Basic pragmas.
	if cfg.BusyTimeout > 0 {
		ms := cfg.BusyTimeout.Milliseconds()
		_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", ms))
	}
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")

	if err := st.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return st, nil
}

func (s *sqliteStore) migrate(ctx context.Context) error {
	b, err := migrationsFS.ReadFile("migrations.sql")
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, string(b))
	return err
}

func (s *sqliteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// querier routes statements through the open transaction when one exists.
// With a single pooled connection, bypassing an open tx would deadlock.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (s *sqliteStore) q() querier {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.tx != nil {
		return s.tx
	}
	return s.db
}

func (s *sqliteStore) InsertStaged(ctx context.Context, raw string) (int64, error) {
	if s == nil || s.db == nil {
		return 0, ErrDisabled
	}
	res, err := s.q().ExecContext(ctx,
		`INSERT INTO mail_staging(message, created_at) VALUES(?,?)`,
		raw, time.Now().UnixMilli(),
	)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

func (s *sqliteStore) ListStaged(ctx context.Context) ([]StagedMessage, error) {
	if s == nil || s.db == nil {
		return nil, ErrDisabled
	}
	rows, err := s.q().QueryContext(ctx,
		`SELECT id, message FROM mail_staging ORDER BY id ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []StagedMessage
	for rows.Next() {
		var m StagedMessage
		if err := rows.Scan(&m.ID, &m.Raw); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func (s *sqliteStore) DeleteStaged(ctx context.Context, id int64) error {
	if s == nil || s.db == nil {
		return ErrDisabled
	}
	_, err := s.q().ExecContext(ctx, `DELETE FROM mail_staging WHERE id = ?`, id)
	return err
}

func (s *sqliteStore) CountRate(ctx context.Context, recipient string, since time.Time) (int, error) {
	if s == nil || s.db == nil {
		return 0, ErrDisabled
	}
	var n int
	err := s.q().QueryRowContext(ctx,
		`SELECT COUNT(*) FROM email_rates WHERE recipient = ? AND sent_at >= ?`,
		recipient, since.UnixMilli(),
	).Scan(&n)
	if err != nil {
		return 0, err
	}
	return n, nil
}

func (s *sqliteStore) InsertRate(ctx context.Context, recipient string, at time.Time) error {
	if s == nil || s.db == nil {
		return ErrDisabled
	}
	if at.IsZero() {
		at = time.Now()
	}
	_, err := s.q().ExecContext(ctx,
		`INSERT INTO email_rates(recipient, sent_at) VALUES(?,?)`,
		recipient, at.UnixMilli(),
	)
	if err == nil && s.opCount.Add(1)%s.pruneEvery == 0 {
		pctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
		_, _ = s.PruneRate(pctx, time.Now().Add(-time.Hour))
		cancel()
	}
	return err
}

func (s *sqliteStore) PruneRate(ctx context.Context, before time.Time) (int64, error) {
	if s == nil || s.db == nil {
		return 0, ErrDisabled
	}
	res, err := s.q().ExecContext(ctx,
		`DELETE FROM email_rates WHERE sent_at < ?`, before.UnixMilli())
	if err != nil {
		return 0, err
	}
	n, _ := res.RowsAffected()
	return n, nil
}

func (s *sqliteStore) InTransaction() bool {
	return s != nil && s.inTx.Load()
}

func (s *sqliteStore) OnCommit(fn func(ctx context.Context)) {
	if fn == nil {
		return
	}
	s.hookMu.Lock()
	s.hooks = append(s.hooks, fn)
	s.hookMu.Unlock()
}

func (s *sqliteStore) Transaction(ctx context.Context, fn func(ctx context.Context) error) error {
	if s == nil || s.db == nil {
		return ErrDisabled
	}
	s.txMu.Lock()
	defer s.txMu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}

	s.mu.Lock()
	s.tx = tx
	s.mu.Unlock()
	s.inTx.Store(true)

	clear := func() {
		s.mu.Lock()
		s.tx = nil
		s.mu.Unlock()
		s.inTx.Store(false)
	}

	if err := fn(ctx); err != nil {
		clear()
		if rbErr := tx.Rollback(); rbErr != nil {
			s.log.Warn("rollback failed", logx.Err(rbErr))
		}
		return err
	}

	clear()
	if err := tx.Commit(); err != nil {
		return err
	}
	s.runCommitHooks(ctx)
	return nil
}

func (s *sqliteStore) runCommitHooks(ctx context.Context) {
	s.hookMu.Lock()
	hooks := append(([]func(ctx context.Context))(nil), s.hooks...)
	s.hookMu.Unlock()
	for _, h := range hooks {
		h(ctx)
	}
}
