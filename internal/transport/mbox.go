package transport

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// mboxDateLayout is the RFC 2822 date used on the separator line.
const mboxDateLayout = "Mon, 02 Jan 2006 15:04:05 -0700"

// mboxSink appends each message to an append-only local file in mbox
// format: a blank line, a "From - <date>" separator, then the message.
// Used for offline capture (file-sink) and test assertions (test-sink).
type mboxSink struct {
	method Method
	path   string

	mu sync.Mutex

	now func() time.Time
}

func newMboxSink(method Method, path string) *mboxSink {
	return &mboxSink{method: method, path: path, now: time.Now}
}

func (t *mboxSink) Send(ctx context.Context, msg Message) error {
	if err := ctx.Err(); err != nil {
		return &Error{Method: t.method, Err: err}
	}

	var body bytes.Buffer
	if _, err := msg.WriteTo(&body); err != nil {
		return &Error{Method: t.method, Err: fmt.Errorf("serialize: %w", err)}
	}

	date := strings.TrimSpace(msg.Header("Date"))
	if date == "" {
		date = t.now().Format(mboxDateLayout)
	}

	var entry bytes.Buffer
	entry.WriteString("\nFrom - ")
	entry.WriteString(date)
	entry.WriteString("\n")
	// mbox is a LF format; the wire text uses CRLF.
	entry.Write(bytes.ReplaceAll(body.Bytes(), []byte("\r\n"), []byte("\n")))
	if !bytes.HasSuffix(entry.Bytes(), []byte("\n")) {
		entry.WriteString("\n")
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if dir := filepath.Dir(t.path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return &Error{Method: t.method, Err: err}
		}
	}
	f, err := os.OpenFile(t.path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return &Error{Method: t.method, Err: err}
	}
	defer f.Close()

	if _, err := f.Write(entry.Bytes()); err != nil {
		return &Error{Method: t.method, Err: err}
	}
	return nil
}
