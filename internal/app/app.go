// Package app assembles the mailer daemon: configuration with hot
// reload, logging, storage, the dispatcher, background send workers,
// and scheduled maintenance.
package app

import (
	"context"
	"fmt"
	"time"

	"github.com/deepayan/bugzilla/internal/config"
	"github.com/deepayan/bugzilla/internal/janitor"
	"github.com/deepayan/bugzilla/internal/jobqueue"
	"github.com/deepayan/bugzilla/internal/mail"
	"github.com/deepayan/bugzilla/internal/storage"
	"github.com/deepayan/bugzilla/internal/supervisor"
	"github.com/deepayan/bugzilla/internal/transport"
	logx "github.com/deepayan/bugzilla/pkg/logx"
)

type App struct {
	cfgPath string

	cfgm *config.Manager
	sup  *supervisor.Supervisor

	log   logx.Logger
	logs  *logx.Service
	store storage.Store

	// Storage config the process booted with; the layer does not reopen
	// on reload, so divergence only earns a warning.
	bootStorage storage.Config

	mailer *mail.Dispatcher
	queue  *jobqueue.Service
	jan    *janitor.Janitor
}

func New(cfgPath string) (*App, error) {
	cfgm := config.NewManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}

	logSvc, log := logx.New(logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
		ErrorLog: logx.ErrorLogConfig{
			Enabled:    cfg.Logging.ErrorLog.Enabled,
			Path:       cfg.Logging.ErrorLog.Path,
			MinLevel:   cfg.Logging.ErrorLog.MinLevel,
			RatePerSec: cfg.Logging.ErrorLog.RatePerSec,
		},
	})
	log = log.With(logx.String("comp", "app"))

	// Storage (optional)
	var store storage.Store
	var bootStorage storage.Config
	if sc, enabled, err := mapStorageConfig(cfg); err != nil {
		return nil, err
	} else if enabled {
		st, err := storage.Open(sc, log.With(logx.String("comp", "storage")))
		if err != nil {
			return nil, err
		}
		store = st
		bootStorage = sc
		log.Info("storage enabled", logx.String("driver", sc.Driver))
	}

	mailCfg, err := mapMailConfig(cfg)
	if err != nil {
		return nil, err
	}
	mailer := mail.NewDispatcher(mailCfg, store, log.With(logx.String("comp", "mail")))

	var queue *jobqueue.Service
	if cfg.Queue != nil && cfg.Queue.Enabled {
		queue = jobqueue.New(jobqueue.Config{
			Workers:   cfg.Queue.Workers,
			QueueSize: cfg.Queue.QueueSize,
		}, log)
		queue.Register(mail.JobSendMail, func(ctx context.Context, payload string) error {
			_, err := mailer.SendRaw(ctx, payload, true)
			return err
		})
		mailer.SetQueue(queue)
	}

	var jan *janitor.Janitor
	if cfg.Janitor != nil && cfg.Janitor.Enabled && store != nil {
		keep, err := config.ParseDurationField("janitor.keep", cfg.Janitor.Keep)
		if err != nil {
			return nil, err
		}
		jan, err = janitor.New(janitor.Config{
			Schedule: cfg.Janitor.Schedule,
			Keep:     keep,
		}, store, log)
		if err != nil {
			return nil, fmt.Errorf("janitor: %w", err)
		}
	}

	return &App{
		cfgPath:     cfgPath,
		cfgm:        cfgm,
		log:         log,
		logs:        logSvc,
		store:       store,
		bootStorage: bootStorage,
		mailer:      mailer,
		queue:       queue,
		jan:         jan,
	}, nil
}

// Mailer exposes the dispatcher for embedding callers.
func (a *App) Mailer() *mail.Dispatcher { return a.mailer }

// ThreadMarkers exposes the thread-correlation header builder derived
// from the configured base URL. It tracks config reloads.
func (a *App) ThreadMarkers() *mail.ThreadMarkerBuilder { return a.mailer.ThreadMarkers() }

// Store exposes the storage layer so callers can open transactions
// around their own writes and have deferred mail drain on commit.
func (a *App) Store() storage.Store { return a.store }

// Done is closed when the supervisor context ends (fatal error or Stop).
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

// Err returns the first fatal error observed by the supervisor, if any.
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

func (a *App) Start(ctx context.Context) error {
	a.sup = supervisor.New(ctx,
		supervisor.WithLogger(a.log),
		supervisor.WithCancelOnError(true))

	// Transactional config reload: validate before commit/publish.
	a.cfgm.SetLogger(a.log.With(logx.String("comp", "config")))
	a.cfgm.SetValidator(func(c context.Context, cfg *config.Config) error {
		// Structural validation already ran in Parse; reject mappings
		// that only fail at wiring time (unknown method and the like).
		if _, err := mapMailConfig(cfg); err != nil {
			return err
		}
		if _, _, err := mapStorageConfig(cfg); err != nil {
			return err
		}
		return nil
	})

	if a.queue != nil {
		a.queue.Start(a.sup.Context())
	}
	if a.jan != nil {
		a.jan.Start()
	}

	// Deferred mail drains as soon as the surrounding transaction lands.
	if a.store != nil {
		a.store.OnCommit(func(c context.Context) {
			res, err := a.mailer.Drain(c)
			if err != nil {
				a.log.Error("post-commit drain failed", logx.Err(err))
				return
			}
			if res.Sent > 0 || len(res.Failures) > 0 {
				a.log.Debug("post-commit drain",
					logx.Int("sent", res.Sent),
					logx.Int("failed", len(res.Failures)))
			}
		})
	}

	// Hot reload fan-out.
	sub := a.cfgm.Subscribe(8)
	a.sup.Go0("config.reload", func(c context.Context) {
		defer a.cfgm.Unsubscribe(sub)
		for {
			select {
			case <-c.Done():
				return
			case newCfg, ok := <-sub:
				if !ok {
					return
				}
				// Coalesce bursts: keep only the latest config.
				for {
					select {
					case newer := <-sub:
						if newer != nil {
							newCfg = newer
						}
					default:
						goto APPLY
					}
				}
			APPLY:
				a.applyConfig(newCfg)
			}
		}
	})

	a.sup.GoRestart("config.watch", func(c context.Context) error {
		return a.cfgm.Watch(c)
	})

	a.log.Info("mailer started")
	return nil
}

func (a *App) applyConfig(cfg *config.Config) {
	a.logs.Apply(logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
		ErrorLog: logx.ErrorLogConfig{
			Enabled:    cfg.Logging.ErrorLog.Enabled,
			Path:       cfg.Logging.ErrorLog.Path,
			MinLevel:   cfg.Logging.ErrorLog.MinLevel,
			RatePerSec: cfg.Logging.ErrorLog.RatePerSec,
		},
	})

	mailCfg, err := mapMailConfig(cfg)
	if err != nil {
		// The validator rejects these before publish; keep the previous
		// mail config if one slips through anyway.
		a.log.Warn("invalid mail config; keeping previous", logx.Err(err))
	} else {
		a.mailer.Apply(mailCfg)
	}

	if sc, enabled, err := mapStorageConfig(cfg); err == nil {
		if enabled != (a.store != nil) || (enabled && sc != a.bootStorage) {
			a.log.Warn("storage config changed; restart required for changes to take effect")
		}
	}

	a.log.Info("config reloaded")
}

func (a *App) Stop(ctx context.Context) error {
	if a.sup == nil {
		return nil
	}
	a.log.Info("stopping")

	// Cancel the run context first so background loops start unwinding.
	a.sup.Cancel()

	// Run each shutdown step with an upper bound so one component can't
	// stall the whole stop.
	step := func(name string, max time.Duration, fn func(context.Context) error) {
		stepCtx := ctx
		var cancel context.CancelFunc
		if max > 0 {
			if dl, ok := ctx.Deadline(); ok {
				if rem := time.Until(dl); rem > 0 && rem < max {
					max = rem
				}
			}
			stepCtx, cancel = context.WithTimeout(ctx, max)
			defer cancel()
		}

		done := make(chan error, 1)
		go func() {
			defer func() {
				if r := recover(); r != nil {
					done <- fmt.Errorf("panic in stop step %s: %v", name, r)
				}
			}()
			done <- fn(stepCtx)
		}()

		select {
		case err := <-done:
			if err != nil {
				a.log.Warn("stop step error", logx.String("name", name), logx.Err(err))
			}
		case <-stepCtx.Done():
			a.log.Warn("stop step deadline reached (continuing)",
				logx.String("name", name), logx.Err(stepCtx.Err()))
		}
	}

	step("janitor", 2*time.Second, func(c context.Context) error {
		if a.jan != nil {
			a.jan.Stop(c)
		}
		return nil
	})
	step("queue", 3*time.Second, func(c context.Context) error {
		if a.queue != nil {
			a.queue.Stop(c)
		}
		return nil
	})
	step("mailer", 2*time.Second, func(c context.Context) error {
		return a.mailer.Close()
	})
	step("storage", 1*time.Second, func(c context.Context) error {
		if a.store != nil {
			return a.store.Close()
		}
		return nil
	})
	step("supervisor", 2*time.Second, func(c context.Context) error {
		return a.sup.Wait(c)
	})

	a.log.Info("stopped")
	if a.logs != nil {
		_ = a.logs.Close()
	}
	return nil
}

func mapMailConfig(cfg *config.Config) (mail.Config, error) {
	method, err := transport.ParseMethod(cfg.Mail.Method)
	if err != nil {
		return mail.Config{}, err
	}
	return mail.Config{
		From:    cfg.Mail.From,
		URLBase: cfg.Mail.URLBase,
		Limits: mail.RateLimits{
			PerMinute: cfg.Mail.RateLimitPerMinute,
			PerHour:   cfg.Mail.RateLimitPerHour,
		},
		UseQueue: cfg.Mail.UseQueue,
		Transport: transport.Config{
			Method: method,
			Relay: transport.Relay{
				Host:     cfg.Mail.Relay.Host,
				Port:     cfg.Mail.Relay.Port,
				Username: cfg.Mail.Relay.Username,
				Password: cfg.Mail.Relay.Password,
				STARTTLS: cfg.Mail.Relay.TLS,
			},
			AgentPath: cfg.Mail.AgentPath,
			SinkPath:  cfg.Mail.SinkPath,
		},
	}, nil
}

func mapStorageConfig(cfg *config.Config) (storage.Config, bool, error) {
	if cfg.Storage == nil || cfg.Storage.Driver == "" || cfg.Storage.Driver == "none" {
		return storage.Config{}, false, nil
	}
	busy, err := config.ParseDurationField("storage.busy_timeout", cfg.Storage.BusyTimeout)
	if err != nil {
		return storage.Config{}, false, err
	}
	return storage.Config{
		Driver:      cfg.Storage.Driver,
		Path:        cfg.Storage.Path,
		BusyTimeout: busy,
	}, true, nil
}
