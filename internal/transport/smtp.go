package transport

import (
	"context"
	"crypto/tls"
	"fmt"
	"net/mail"
	"strings"
	"sync"

	"gopkg.in/gomail.v2"
)

// relay keeps one SMTP connection open and reuses it across dispatch
// calls. Access is serialized: the underlying client is not safe for
// concurrent use, and one shared handle is the point of the cache.
type relay struct {
	dialer *gomail.Dialer

	mu sync.Mutex
	sc gomail.SendCloser
}

func newRelay(cfg Relay) *relay {
	port := cfg.Port
	if port <= 0 {
		port = 25
	}
	d := gomail.NewDialer(cfg.Host, port, cfg.Username, cfg.Password)
	if cfg.STARTTLS {
		d.TLSConfig = &tls.Config{ServerName: cfg.Host}
	}
	return &relay{dialer: d}
}

// Host returns the relay host, used by the dispatcher to complete a
// bare (domain-less) From address before handing mail to this backend.
func (t *relay) Host() string { return t.dialer.Host }

func (t *relay) Send(ctx context.Context, msg Message) error {
	if err := ctx.Err(); err != nil {
		return &Error{Method: MethodNetworkRelay, Err: err}
	}

	from := envelopeAddress(msg.Header("From"))
	if from == "" {
		return &Error{Method: MethodNetworkRelay, Err: fmt.Errorf("no usable From address")}
	}
	to := msg.Recipients()
	if len(to) == 0 {
		return &Error{Method: MethodNetworkRelay, Err: fmt.Errorf("no envelope recipients")}
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if t.sc == nil {
		sc, err := t.dialer.Dial()
		if err != nil {
			return &Error{Method: MethodNetworkRelay, Err: fmt.Errorf("dial %s: %w", t.dialer.Host, err)}
		}
		t.sc = sc
	}

	err := t.sc.Send(from, to, msg)
	if err == nil {
		return nil
	}

	// The cached connection may simply have gone stale; reconnect once.
	_ = t.sc.Close()
	t.sc = nil
	sc, dialErr := t.dialer.Dial()
	if dialErr != nil {
		return &Error{Method: MethodNetworkRelay, Err: fmt.Errorf("send failed (%v), redial %s: %w", err, t.dialer.Host, dialErr)}
	}
	t.sc = sc
	if err := t.sc.Send(from, to, msg); err != nil {
		_ = t.sc.Close()
		t.sc = nil
		return &Error{Method: MethodNetworkRelay, Err: err}
	}
	return nil
}

func (t *relay) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.sc != nil {
		err := t.sc.Close()
		t.sc = nil
		return err
	}
	return nil
}

// envelopeAddress extracts the bare address from a From header value,
// tolerating display names ("Bugzilla <daemon@example.com>").
func envelopeAddress(v string) string {
	v = strings.TrimSpace(v)
	if v == "" {
		return ""
	}
	if a, err := mail.ParseAddress(v); err == nil {
		return a.Address
	}
	return v
}
