package transport

import (
	"fmt"
	"sync"
)

// Resolver maps the configured method to a concrete Transport.
//
// Cheap backends are built per call; the network-relay client is
// constructed once and cached so its SMTP connection survives across
// dispatches. Apply() swaps the configuration at runtime and discards
// the cached connection when the relay parameters changed.
type Resolver struct {
	mu    sync.Mutex
	cfg   Config
	relay *relay
	sink  *mboxSink
}

func NewResolver(cfg Config) *Resolver {
	return &Resolver{cfg: cfg}
}

// Apply replaces the configuration. It is safe to call concurrently
// with Resolve.
func (r *Resolver) Apply(cfg Config) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.relay != nil && cfg.Relay != r.cfg.Relay {
		_ = r.relay.Close()
		r.relay = nil
	}
	if r.sink != nil && (cfg.SinkPath != r.cfg.SinkPath || cfg.Method != r.cfg.Method) {
		r.sink = nil
	}
	r.cfg = cfg
}

// Method reports the currently configured method.
func (r *Resolver) Method() Method {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.cfg.Method
}

// RelayHost reports the configured relay host ("" unless network-relay).
func (r *Resolver) RelayHost() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.cfg.Method != MethodNetworkRelay {
		return ""
	}
	return r.cfg.Relay.Host
}

// Resolve returns the Transport for the current configuration.
func (r *Resolver) Resolve() (Transport, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	switch r.cfg.Method {
	case MethodDisabled:
		return noop{}, nil
	case MethodLocalAgent:
		return newLocalAgent(r.cfg.AgentPath), nil
	case MethodNetworkRelay:
		if r.relay == nil {
			r.relay = newRelay(r.cfg.Relay)
		}
		return r.relay, nil
	case MethodFileSink, MethodTestSink:
		if r.sink == nil {
			r.sink = newMboxSink(r.cfg.Method, r.cfg.SinkPath)
		}
		return r.sink, nil
	default:
		return nil, fmt.Errorf("%w: %v", ErrUnknownMethod, r.cfg.Method)
	}
}

// Close releases the cached relay connection, if any.
func (r *Resolver) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.relay != nil {
		err := r.relay.Close()
		r.relay = nil
		return err
	}
	return nil
}
