package mail

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/deepayan/bugzilla/internal/storage"
	"github.com/deepayan/bugzilla/internal/transport"
	logx "github.com/deepayan/bugzilla/pkg/logx"
)

// Outcome is the dispatcher's tri-state result. Errors travel on the
// separate error return; an Outcome is only meaningful when the error
// is nil.
type Outcome int

const (
	// OutcomeNone is the zero value reported alongside errors.
	OutcomeNone Outcome = iota
	// OutcomeSent means a transport accepted the message.
	OutcomeSent
	// OutcomeDeferred means the message was staged (open transaction) or
	// handed to the background queue; it will be sent later.
	OutcomeDeferred
	// OutcomeSuppressed means the message was intentionally not sent and
	// never will be (method disabled, or no recipient).
	OutcomeSuppressed
)

func (o Outcome) String() string {
	switch o {
	case OutcomeSent:
		return "sent"
	case OutcomeDeferred:
		return "deferred"
	case OutcomeSuppressed:
		return "suppressed"
	default:
		return "none"
	}
}

// JobSendMail names the queue job carrying one serialized message.
const JobSendMail = "send_mail"

// Enqueuer is the optional background-send collaborator.
type Enqueuer interface {
	Enqueue(ctx context.Context, job string, payload string) error
}

// Config is the dispatcher's runtime configuration snapshot.
type Config struct {
	// From is the default sender when the renderer left From empty.
	From string

	// URLBase is the installation's base URL; it shapes the sitespec in
	// thread-correlation Message-IDs.
	URLBase string

	Limits RateLimits

	// UseQueue hands non-urgent sends to the job queue when no
	// transaction is open. Mutually exclusive with staging.
	UseQueue bool

	Transport transport.Config
}

// Dispatcher is the single entry point for sending notification mail.
//
// Send sequences: disabled guard, recipient guard, staging decision,
// queue hand-off, rate admission, transport resolution, header
// normalization, delivery, rate recording. Constructed once at process
// start and shared; all methods are safe for concurrent use.
type Dispatcher struct {
	store    storage.Store
	resolver *transport.Resolver
	limiter  *RateLimiter
	stager   *Stager
	log      logx.Logger

	mu      sync.Mutex
	cfg     Config
	queue   Enqueuer
	markers *ThreadMarkerBuilder

	now func() time.Time
}

func NewDispatcher(cfg Config, store storage.Store, log logx.Logger) *Dispatcher {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Dispatcher{
		store:    store,
		resolver: transport.NewResolver(cfg.Transport),
		limiter:  NewRateLimiter(store, cfg.Limits, log),
		stager:   NewStager(store, log),
		log:      log,
		cfg:      cfg,
		markers:  NewThreadMarkerBuilder(cfg.URLBase),
		now:      time.Now,
	}
}

// SetQueue installs the background-send queue. Optional.
func (d *Dispatcher) SetQueue(q Enqueuer) {
	d.mu.Lock()
	d.queue = q
	d.mu.Unlock()
}

// Apply swaps the configuration at runtime (config hot-reload).
func (d *Dispatcher) Apply(cfg Config) {
	d.mu.Lock()
	if cfg.URLBase != d.cfg.URLBase {
		d.markers = NewThreadMarkerBuilder(cfg.URLBase)
	}
	d.cfg = cfg
	d.mu.Unlock()
	d.resolver.Apply(cfg.Transport)
	d.limiter.Apply(cfg.Limits)
}

// ThreadMarkers returns the builder for thread-correlation headers,
// kept in step with the configured base URL across reloads.
func (d *Dispatcher) ThreadMarkers() *ThreadMarkerBuilder {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.markers
}

func (d *Dispatcher) config() (Config, Enqueuer) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.cfg, d.queue
}

// Close releases transport resources (the cached relay connection).
func (d *Dispatcher) Close() error {
	return d.resolver.Close()
}

// SendRaw parses serialized message text and dispatches it. The parser
// is the same one the drain path uses, so staged records round-trip.
func (d *Dispatcher) SendRaw(ctx context.Context, raw string, sendNow bool) (Outcome, error) {
	msg, err := Parse(raw)
	if err != nil {
		return OutcomeNone, err
	}
	return d.Send(ctx, msg, sendNow)
}

// Send dispatches one finished message.
//
// With sendNow false and an open transaction, the message is staged and
// OutcomeDeferred returned; nothing reaches a transport until the
// post-commit drain replays it with sendNow forced. A sendNow send never
// re-enters the staging decision, which is what makes the drain safe.
func (d *Dispatcher) Send(ctx context.Context, msg *Message, sendNow bool) (Outcome, error) {
	cfg, queue := d.config()

	// Disabled method: stop before any side effect, staging included.
	if cfg.Transport.Method == transport.MethodDisabled {
		return OutcomeSuppressed, nil
	}

	// An empty To means the recipient was suppressed upstream. Not an
	// error: no send, no staged row, no rate record.
	recipient := strings.TrimSpace(msg.Header("To"))
	if recipient == "" {
		d.log.Debug("mail suppressed: no recipient")
		return OutcomeSuppressed, nil
	}

	if d.stager.ShouldDefer(sendNow) {
		id, err := d.stager.Stage(ctx, msg)
		if err != nil {
			return OutcomeNone, err
		}
		d.log.Debug("mail staged until commit",
			logx.Int64("id", id), logx.String("to", recipient))
		return OutcomeDeferred, nil
	}

	if !sendNow && cfg.UseQueue && queue != nil {
		if err := queue.Enqueue(ctx, JobSendMail, msg.String()); err == nil {
			d.log.Debug("mail handed to queue", logx.String("to", recipient))
			return OutcomeDeferred, nil
		} else {
			// Queue refused (full or stopped); fall through to the
			// inline path rather than lose the message.
			d.log.Warn("mail queue refused message, sending inline", logx.Err(err))
		}
	}

	if err := d.limiter.Admit(ctx, recipient); err != nil {
		return OutcomeNone, err
	}

	tr, err := d.resolver.Resolve()
	if err != nil {
		return OutcomeNone, err
	}

	d.normalize(msg, cfg)

	if err := tr.Send(ctx, msg); err != nil {
		return OutcomeNone, &TransportError{Message: msg, Err: err}
	}

	if err := d.limiter.RecordSend(ctx, recipient, d.now()); err != nil {
		// The mail is out; a lost rate record only loosens the bound.
		d.log.Warn("rate record not written", logx.String("to", recipient), logx.Err(err))
	}

	d.log.Info("mail sent",
		logx.String("to", recipient),
		logx.String("method", cfg.Transport.Method.String()))
	return OutcomeSent, nil
}

// Drain replays all staged messages after a transaction commit, oldest
// first, forcing immediate sends. Call it from the store's after-commit
// hook.
func (d *Dispatcher) Drain(ctx context.Context) (DrainResult, error) {
	return d.stager.Drain(ctx, func(ctx context.Context, msg *Message) error {
		_, err := d.Send(ctx, msg, true)
		return err
	})
}

// normalize fixes up headers the renderer leaves to the dispatcher.
// The local agent injects From/Date itself; the network relay does not,
// so those must be completed before the message hits the wire.
func (d *Dispatcher) normalize(msg *Message, cfg Config) {
	if strings.TrimSpace(msg.Header("From")) == "" && cfg.From != "" {
		msg.SetHeader("From", cfg.From)
	}

	if cfg.Transport.Method != transport.MethodNetworkRelay {
		return
	}
	if from := strings.TrimSpace(msg.Header("From")); from != "" && !strings.Contains(from, "@") {
		msg.SetHeader("From", from+"@"+cfg.Transport.Relay.Host)
	}
	if strings.TrimSpace(msg.Header("Date")) == "" {
		msg.SetHeader("Date", d.now().Format(DateLayout))
	}
}
