// Package janitor trims aged rate-tracking rows on a schedule. Rows
// older than the widest rate window carry no information, so the only
// effect of pruning is keeping the table small.
package janitor

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/deepayan/bugzilla/internal/storage"
	logx "github.com/deepayan/bugzilla/pkg/logx"
)

const (
	defaultSchedule = "@hourly"

	// Widest rate window. Keeping rows at least this long is mandatory;
	// rows past it can never affect admission.
	minRetention = time.Hour
)

type Config struct {
	// Schedule is a cron expression; defaults to @hourly.
	Schedule string

	// Keep is how long rate rows are retained. Values under one hour
	// are raised to one hour so the hourly window stays accurate.
	Keep time.Duration
}

type Janitor struct {
	store storage.Store
	log   logx.Logger
	cron  *cron.Cron
	keep  time.Duration
}

func New(cfg Config, store storage.Store, log logx.Logger) (*Janitor, error) {
	if log.IsZero() {
		log = logx.Nop()
	}
	keep := cfg.Keep
	if keep < minRetention {
		keep = minRetention
	}
	j := &Janitor{
		store: store,
		log:   log.With(logx.String("comp", "janitor")),
		cron:  cron.New(),
		keep:  keep,
	}
	schedule := cfg.Schedule
	if schedule == "" {
		schedule = defaultSchedule
	}
	if _, err := j.cron.AddFunc(schedule, j.run); err != nil {
		return nil, err
	}
	return j, nil
}

func (j *Janitor) Start() {
	if j.store == nil {
		return
	}
	j.cron.Start()
	j.log.Info("janitor started")
}

func (j *Janitor) Stop(ctx context.Context) {
	done := j.cron.Stop().Done()
	select {
	case <-done:
	case <-ctx.Done():
		j.log.Warn("janitor stop timed out", logx.Err(ctx.Err()))
	}
}

func (j *Janitor) run() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	n, err := j.store.PruneRate(ctx, time.Now().Add(-j.keep))
	if err != nil {
		j.log.Warn("rate prune failed", logx.Err(err))
		return
	}
	if n > 0 {
		j.log.Debug("rate rows pruned", logx.Int64("rows", n))
	}
}
