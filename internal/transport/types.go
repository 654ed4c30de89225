package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
)

// Method is the delivery backend selector.
type Method int

const (
	MethodDisabled Method = iota
	MethodLocalAgent
	MethodNetworkRelay
	MethodFileSink
	MethodTestSink
)

func (m Method) String() string {
	switch m {
	case MethodDisabled:
		return "disabled"
	case MethodLocalAgent:
		return "local-agent"
	case MethodNetworkRelay:
		return "network-relay"
	case MethodFileSink:
		return "file-sink"
	case MethodTestSink:
		return "test-sink"
	default:
		return fmt.Sprintf("method(%d)", int(m))
	}
}

var ErrUnknownMethod = errors.New("unknown delivery method")

func ParseMethod(s string) (Method, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "disabled", "none", "":
		return MethodDisabled, nil
	case "local-agent", "sendmail":
		return MethodLocalAgent, nil
	case "network-relay", "smtp":
		return MethodNetworkRelay, nil
	case "file-sink":
		return MethodFileSink, nil
	case "test-sink":
		return MethodTestSink, nil
	default:
		return MethodDisabled, fmt.Errorf("%w: %q", ErrUnknownMethod, s)
	}
}

// Message is what a transport needs from a message: its serialized wire
// text, individual header values, and the envelope recipient list.
type Message interface {
	io.WriterTo
	Header(key string) string
	Recipients() []string
}

// Transport delivers one message. Any delivery failure is reported as
// *Error; a nil return means the backend accepted the message.
type Transport interface {
	Send(ctx context.Context, msg Message) error
}

// Error wraps a backend failure with the method that produced it.
type Error struct {
	Method Method
	Err    error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s transport: %v", e.Method, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Config is an immutable snapshot of the selected method and its
// parameters. It is shared read-only by all dispatch calls.
type Config struct {
	Method Method

	Relay Relay

	// AgentPath is the local delivery executable. Empty means the
	// platform default (/usr/sbin/sendmail).
	AgentPath string

	// SinkPath is the mbox file used by file-sink and test-sink.
	SinkPath string
}

// Relay parameterizes the network-relay backend.
type Relay struct {
	Host     string
	Port     int // 0 means 25
	Username string
	Password string
	STARTTLS bool
}
