// Package jobqueue runs named background jobs on a fixed worker pool.
//
// The mail path uses it for non-urgent sends: the dispatcher enqueues a
// serialized message under the send job name and a worker delivers it
// outside the request path.
package jobqueue

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	logx "github.com/deepayan/bugzilla/pkg/logx"
)

var (
	ErrStopped    = errors.New("jobqueue: not running")
	ErrQueueFull  = errors.New("jobqueue: queue full")
	ErrUnknownJob = errors.New("jobqueue: unknown job")
)

// Handler executes one job payload. Returned errors are logged, not
// retried; jobs that need replay keep their own durable state.
type Handler func(ctx context.Context, payload string) error

type Config struct {
	Workers   int
	QueueSize int
}

type job struct {
	name       string
	payload    string
	enqueuedAt time.Time
}

type Service struct {
	log logx.Logger

	mu       sync.Mutex
	cfg      Config
	handlers map[string]Handler
	q        chan job
	stopCh   chan struct{}
	wg       sync.WaitGroup
}

func New(cfg Config, log logx.Logger) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Service{
		log:      log.With(logx.String("comp", "jobqueue")),
		cfg:      cfg,
		handlers: make(map[string]Handler),
	}
}

// Register binds a handler to a job name. Call before Start.
func (s *Service) Register(name string, h Handler) {
	s.mu.Lock()
	s.handlers[name] = h
	s.mu.Unlock()
}

// Start is idempotent.
func (s *Service) Start(ctx context.Context) {
	s.mu.Lock()
	if s.stopCh != nil {
		s.mu.Unlock()
		return
	}
	cfg := s.cfg
	if cfg.Workers <= 0 {
		cfg.Workers = 2
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 256
	}
	s.q = make(chan job, cfg.QueueSize)
	s.stopCh = make(chan struct{})
	queue := s.q
	stopCh := s.stopCh
	for i := 0; i < cfg.Workers; i++ {
		idx := i
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.worker(ctx, stopCh, queue, idx)
		}()
	}
	s.mu.Unlock()
	s.log.Info("job queue started", logx.Int("workers", cfg.Workers), logx.Int("queue", cfg.QueueSize))
}

// Stop drains nothing: workers finish the job in hand and exit. Jobs
// still queued are dropped. Queued mail was never staged, so a send
// that was accepted but not yet started is lost across a shutdown.
func (s *Service) Stop(ctx context.Context) {
	s.mu.Lock()
	if s.stopCh == nil {
		s.mu.Unlock()
		return
	}
	close(s.stopCh)
	s.stopCh = nil
	s.q = nil
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		s.log.Info("job queue stopped")
	case <-ctx.Done():
		s.log.Warn("job queue stop timed out", logx.Err(ctx.Err()))
	}
}

// Enqueue adds a job without blocking. A full queue is reported as
// ErrQueueFull so callers can fall back to inline execution.
func (s *Service) Enqueue(ctx context.Context, name string, payload string) error {
	s.mu.Lock()
	queue := s.q
	_, known := s.handlers[name]
	s.mu.Unlock()

	if !known {
		return fmt.Errorf("%w: %s", ErrUnknownJob, name)
	}
	if queue == nil {
		return ErrStopped
	}
	select {
	case queue <- job{name: name, payload: payload, enqueuedAt: time.Now()}:
		return nil
	default:
		return ErrQueueFull
	}
}

func (s *Service) worker(ctx context.Context, stopCh <-chan struct{}, queue <-chan job, idx int) {
	log := s.log.With(logx.Int("worker", idx))
	for {
		select {
		case <-ctx.Done():
			return
		case <-stopCh:
			return
		case j := <-queue:
			s.execOne(ctx, log, j)
		}
	}
}

func (s *Service) execOne(ctx context.Context, log logx.Logger, j job) {
	defer func() {
		if r := recover(); r != nil {
			log.Error("job panicked", logx.String("job", j.name), logx.Any("panic", r))
		}
	}()

	s.mu.Lock()
	h := s.handlers[j.name]
	s.mu.Unlock()
	if h == nil {
		log.Error("no handler for queued job", logx.String("job", j.name))
		return
	}

	start := time.Now()
	if err := h(ctx, j.payload); err != nil {
		log.Error("job failed",
			logx.String("job", j.name),
			logx.Duration("queued", start.Sub(j.enqueuedAt)),
			logx.Err(err))
		return
	}
	log.Debug("job done",
		logx.String("job", j.name),
		logx.Duration("took", time.Since(start)))
}
