package transport

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

// wireMsg is a minimal Message for transport tests.
type wireMsg struct {
	headers map[string]string
	body    string
	rcpts   []string
}

func (m *wireMsg) WriteTo(w io.Writer) (int64, error) {
	var b strings.Builder
	for k, v := range m.headers {
		b.WriteString(k + ": " + v + "\r\n")
	}
	b.WriteString("\r\n" + m.body)
	n, err := io.WriteString(w, b.String())
	return int64(n), err
}

func (m *wireMsg) Header(key string) string {
	for k, v := range m.headers {
		if strings.EqualFold(k, key) {
			return v
		}
	}
	return ""
}

func (m *wireMsg) Recipients() []string { return m.rcpts }

func TestParseMethod(t *testing.T) {
	cases := []struct {
		in   string
		want Method
		ok   bool
	}{
		{"disabled", MethodDisabled, true},
		{"none", MethodDisabled, true},
		{"", MethodDisabled, true},
		{"local-agent", MethodLocalAgent, true},
		{"Sendmail", MethodLocalAgent, true},
		{"network-relay", MethodNetworkRelay, true},
		{"SMTP", MethodNetworkRelay, true},
		{"file-sink", MethodFileSink, true},
		{"test-sink", MethodTestSink, true},
		{"carrier-pigeon", MethodDisabled, false},
	}
	for _, c := range cases {
		got, err := ParseMethod(c.in)
		if c.ok && (err != nil || got != c.want) {
			t.Errorf("ParseMethod(%q) = %v, %v; want %v", c.in, got, err, c.want)
		}
		if !c.ok && !errors.Is(err, ErrUnknownMethod) {
			t.Errorf("ParseMethod(%q) err = %v, want ErrUnknownMethod", c.in, err)
		}
	}
}

func TestMethodRoundTrip(t *testing.T) {
	for _, m := range []Method{MethodDisabled, MethodLocalAgent, MethodNetworkRelay, MethodFileSink, MethodTestSink} {
		got, err := ParseMethod(m.String())
		if err != nil || got != m {
			t.Errorf("ParseMethod(%q) = %v, %v", m.String(), got, err)
		}
	}
}

func TestMboxAppend(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "out.mbox")
	sink := newMboxSink(MethodTestSink, path)
	sink.now = func() time.Time {
		return time.Date(2006, 1, 2, 15, 4, 5, 0, time.UTC)
	}

	msg := &wireMsg{
		headers: map[string]string{"To": "dev@example.com"},
		body:    "line one\r\nline two\r\n",
		rcpts:   []string{"dev@example.com"},
	}
	if err := sink.Send(context.Background(), msg); err != nil {
		t.Fatal(err)
	}

	b, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	got := string(b)

	if !strings.HasPrefix(got, "\nFrom - Mon, 02 Jan 2006 15:04:05 +0000\n") {
		t.Fatalf("separator line wrong:\n%q", got)
	}
	if strings.Contains(got, "\r") {
		t.Fatalf("CR survived mbox conversion:\n%q", got)
	}
	if !strings.HasSuffix(got, "line two\n") {
		t.Fatalf("body mangled:\n%q", got)
	}

	// A second send appends rather than truncates.
	if err := sink.Send(context.Background(), msg); err != nil {
		t.Fatal(err)
	}
	b, err = os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if n := strings.Count(string(b), "\nFrom - "); n != 2 {
		t.Fatalf("%d separators after two sends", n)
	}
}

func TestMboxUsesMessageDate(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.mbox")
	sink := newMboxSink(MethodFileSink, path)

	msg := &wireMsg{
		headers: map[string]string{
			"To":   "dev@example.com",
			"Date": "Tue, 03 Jan 2006 10:00:00 -0500",
		},
		body: "x",
	}
	if err := sink.Send(context.Background(), msg); err != nil {
		t.Fatal(err)
	}
	b, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(string(b), "\nFrom - Tue, 03 Jan 2006 10:00:00 -0500\n") {
		t.Fatalf("Date header not used on separator:\n%q", string(b))
	}
}

func TestLocalAgentMissingBinary(t *testing.T) {
	agent := newLocalAgent(filepath.Join(t.TempDir(), "no-such-sendmail"))
	err := agent.Send(context.Background(), &wireMsg{
		headers: map[string]string{"To": "dev@example.com"},
		body:    "x",
	})
	if err == nil {
		t.Fatal("missing binary accepted")
	}
	var terr *Error
	if !errors.As(err, &terr) || terr.Method != MethodLocalAgent {
		t.Fatalf("error = %#v", err)
	}
}

func TestResolverCachesSink(t *testing.T) {
	r := NewResolver(Config{Method: MethodTestSink, SinkPath: filepath.Join(t.TempDir(), "a.mbox")})

	first, err := r.Resolve()
	if err != nil {
		t.Fatal(err)
	}
	second, err := r.Resolve()
	if err != nil {
		t.Fatal(err)
	}
	if first != second {
		t.Fatal("sink rebuilt between resolves")
	}

	// Changing the path discards the cached sink.
	cfg := Config{Method: MethodTestSink, SinkPath: filepath.Join(t.TempDir(), "b.mbox")}
	r.Apply(cfg)
	third, err := r.Resolve()
	if err != nil {
		t.Fatal(err)
	}
	if third == first {
		t.Fatal("stale sink kept after Apply")
	}
}

func TestResolverMethods(t *testing.T) {
	r := NewResolver(Config{Method: MethodDisabled})
	tr, err := r.Resolve()
	if err != nil {
		t.Fatal(err)
	}
	if err := tr.Send(context.Background(), &wireMsg{body: "x"}); err != nil {
		t.Fatalf("noop send: %v", err)
	}

	r.Apply(Config{Method: MethodNetworkRelay, Relay: Relay{Host: "smtp.example.com"}})
	if r.Method() != MethodNetworkRelay {
		t.Fatalf("Method() = %v", r.Method())
	}
	if r.RelayHost() != "smtp.example.com" {
		t.Fatalf("RelayHost() = %q", r.RelayHost())
	}

	r.Apply(Config{Method: MethodLocalAgent})
	if r.RelayHost() != "" {
		t.Fatal("RelayHost set outside network-relay")
	}
}

func TestEnvelopeAddress(t *testing.T) {
	cases := []struct{ in, want string }{
		{"daemon@example.com", "daemon@example.com"},
		{"Bugzilla <daemon@example.com>", "daemon@example.com"},
		{"  spaced@example.com  ", "spaced@example.com"},
		{"", ""},
	}
	for _, c := range cases {
		if got := envelopeAddress(c.in); got != c.want {
			t.Errorf("envelopeAddress(%q) = %q, want %q", c.in, got, c.want)
		}
	}
}
