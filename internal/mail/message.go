package mail

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	netmail "net/mail"
	"strings"

	"github.com/google/uuid"
)

// DateLayout is the RFC 2822 date format used in Date headers and mbox
// separator lines.
const DateLayout = "Mon, 02 Jan 2006 15:04:05 -0700"

// Header is one message header in insertion order.
type Header struct {
	Key   string
	Value string
}

// BodyPart is one rendering of the message body. A message carries one
// part (plain text) or two (plain text + HTML alternative).
type BodyPart struct {
	ContentType string // "text/plain" or "text/html"
	Charset     string // defaults to UTF-8
	Content     string
}

// Message is a finished notification message: ordered headers with
// case-insensitive keys, plus either structured body parts or the raw
// body text it was parsed from.
//
// Messages are constructed fresh per notification event and are not
// mutated after dispatch apart from the header normalization the
// dispatcher performs right before transport.
type Message struct {
	headers []Header

	parts   []BodyPart
	rawBody string
	hasRaw  bool

	// boundary is generated once per message so repeated serialization
	// is stable.
	boundary string
}

func NewMessage() *Message { return &Message{} }

// SetHeader replaces the first existing header with the same
// (case-insensitive) key, keeping its position, or appends a new one.
func (m *Message) SetHeader(key, value string) {
	for i := range m.headers {
		if strings.EqualFold(m.headers[i].Key, key) {
			m.headers[i].Value = value
			return
		}
	}
	m.headers = append(m.headers, Header{Key: key, Value: value})
}

// AddHeader appends a header even when the key already exists
// (References, Received and friends).
func (m *Message) AddHeader(key, value string) {
	m.headers = append(m.headers, Header{Key: key, Value: value})
}

// Header returns the first value for key (case-insensitive), or "".
func (m *Message) Header(key string) string {
	for i := range m.headers {
		if strings.EqualFold(m.headers[i].Key, key) {
			return m.headers[i].Value
		}
	}
	return ""
}

// DelHeader removes every header with the given key.
func (m *Message) DelHeader(key string) {
	kept := m.headers[:0]
	for _, h := range m.headers {
		if !strings.EqualFold(h.Key, key) {
			kept = append(kept, h)
		}
	}
	m.headers = kept
}

// Headers returns a copy of the headers in insertion order.
func (m *Message) Headers() []Header {
	out := make([]Header, len(m.headers))
	copy(out, m.headers)
	return out
}

// AddPart appends a body rendering. At most two are allowed: plain text
// and an HTML alternative.
func (m *Message) AddPart(contentType, charset, content string) error {
	if m.hasRaw {
		return errors.New("message already carries a raw body")
	}
	if len(m.parts) >= 2 {
		return errors.New("a message carries at most two body parts")
	}
	if charset == "" {
		charset = "UTF-8"
	}
	m.parts = append(m.parts, BodyPart{ContentType: contentType, Charset: charset, Content: content})
	return nil
}

// SetText is shorthand for a plain-text body part.
func (m *Message) SetText(content string) error {
	return m.AddPart("text/plain", "UTF-8", content)
}

// SetHTML adds the HTML alternative rendering.
func (m *Message) SetHTML(content string) error {
	return m.AddPart("text/html", "UTF-8", content)
}

// Parts returns the structured body parts, if any.
func (m *Message) Parts() []BodyPart {
	out := make([]BodyPart, len(m.parts))
	copy(out, m.parts)
	return out
}

// Recipients returns the envelope recipient addresses parsed from the
// To header. A malformed header falls back to comma-splitting so a
// message is never silently stripped of its recipients.
func (m *Message) Recipients() []string {
	to := strings.TrimSpace(m.Header("To"))
	if to == "" {
		return nil
	}
	if addrs, err := netmail.ParseAddressList(to); err == nil {
		out := make([]string, 0, len(addrs))
		for _, a := range addrs {
			out = append(out, a.Address)
		}
		return out
	}
	var out []string
	for _, p := range strings.Split(to, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func (m *Message) multipart() bool { return len(m.parts) > 1 }

func (m *Message) mimeBoundary() string {
	if m.boundary == "" {
		m.boundary = strings.ReplaceAll(uuid.NewString(), "-", "")
	}
	return m.boundary
}

// WriteTo serializes the message as RFC 2822 wire text (CRLF line
// endings). With two body parts the envelope gets a multipart content
// type with the shared charset; a single-part message is written with
// its headers untouched.
func (m *Message) WriteTo(w io.Writer) (int64, error) {
	var b strings.Builder

	for _, h := range m.headers {
		b.WriteString(h.Key)
		b.WriteString(": ")
		b.WriteString(h.Value)
		b.WriteString("\r\n")
	}

	switch {
	case m.multipart():
		charset := m.parts[0].Charset
		boundary := m.mimeBoundary()
		if m.Header("MIME-Version") == "" {
			b.WriteString("MIME-Version: 1.0\r\n")
		}
		fmt.Fprintf(&b, "Content-Type: multipart/alternative; charset=%q; boundary=%q\r\n", charset, boundary)
		b.WriteString("\r\n")
		for _, p := range m.parts {
			fmt.Fprintf(&b, "--%s\r\n", boundary)
			fmt.Fprintf(&b, "Content-Type: %s; charset=%q\r\n\r\n", p.ContentType, p.Charset)
			b.WriteString(toCRLF(p.Content))
			b.WriteString("\r\n")
		}
		fmt.Fprintf(&b, "--%s--\r\n", boundary)
	case len(m.parts) == 1:
		b.WriteString("\r\n")
		b.WriteString(toCRLF(m.parts[0].Content))
	default:
		b.WriteString("\r\n")
		b.WriteString(toCRLF(m.rawBody))
	}

	n, err := io.WriteString(w, b.String())
	return int64(n), err
}

// String returns the serialized wire text.
func (m *Message) String() string {
	var b strings.Builder
	_, _ = m.WriteTo(&b)
	return b.String()
}

func toCRLF(s string) string {
	s = strings.ReplaceAll(s, "\r\n", "\n")
	return strings.ReplaceAll(s, "\n", "\r\n")
}

// Parse reconstructs a Message from serialized wire text, preserving
// header order. The body is kept verbatim, so a staged message
// round-trips byte-compatibly modulo line endings.
func Parse(raw string) (*Message, error) {
	m := NewMessage()
	r := bufio.NewReader(strings.NewReader(raw))

	var lastKey string
	for {
		line, err := r.ReadString('\n')
		trimmed := strings.TrimRight(line, "\r\n")

		if trimmed == "" {
			if err == io.EOF && line == "" && lastKey == "" && len(m.headers) == 0 {
				return nil, errors.New("empty message")
			}
			break // blank line ends the header block
		}

		if line[0] == ' ' || line[0] == '\t' {
			// Folded continuation of the previous header.
			if lastKey == "" {
				return nil, errors.New("message starts with a continuation line")
			}
			i := len(m.headers) - 1
			m.headers[i].Value += " " + strings.TrimSpace(trimmed)
		} else {
			key, value, ok := strings.Cut(trimmed, ":")
			if !ok {
				return nil, fmt.Errorf("malformed header line %q", trimmed)
			}
			key = strings.TrimSpace(key)
			if key == "" {
				return nil, fmt.Errorf("malformed header line %q", trimmed)
			}
			m.headers = append(m.headers, Header{Key: key, Value: strings.TrimSpace(value)})
			lastKey = key
		}

		if err != nil {
			if err == io.EOF {
				break
			}
			return nil, err
		}
	}

	rest, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	m.rawBody = strings.ReplaceAll(string(rest), "\r\n", "\n")
	m.hasRaw = true
	return m, nil
}
