package mail

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/google/uuid"
)

// ThreadMarkerBuilder derives the Message-ID / In-Reply-To / References
// header set that groups all notifications about one bug into a single
// mail conversation.
//
// The root Message-ID for a bug/user pair is fully deterministic, so the
// first notification in a thread can be generated idempotently; every
// follow-up gets a unique Message-ID that references the same root.
type ThreadMarkerBuilder struct {
	sitespec string

	// token yields the random component for follow-up Message-IDs.
	// Overridable in tests.
	token func() string
}

func NewThreadMarkerBuilder(urlBase string) *ThreadMarkerBuilder {
	return &ThreadMarkerBuilder{
		sitespec: SiteSpec(urlBase),
		token:    randomToken,
	}
}

// SiteSpec reduces the installation's base URL to the site identity
// suffix of a thread marker: "[-port]@host[.rest]". The scheme is
// dropped, a non-default port moves in front of the "@", and any path
// segments trail the host joined by dots.
//
//	http://example.com            -> @example.com
//	http://example.com:8080       -> -8080@example.com
//	https://bugs.example.com/bz/  -> @bugs.example.com.bz
func SiteSpec(urlBase string) string {
	s := strings.TrimSpace(urlBase)
	if s == "" {
		return "@localhost"
	}
	if !strings.Contains(s, "://") {
		s = "http://" + s
	}
	u, err := url.Parse(s)
	if err != nil || u.Hostname() == "" {
		return "@localhost"
	}

	spec := "@" + u.Hostname()
	if rest := strings.Trim(u.Path, "/"); rest != "" {
		spec += "." + strings.ReplaceAll(rest, "/", ".")
	}
	if port := u.Port(); port != "" && !defaultPort(u.Scheme, port) {
		spec = "-" + port + spec
	}
	return spec
}

func defaultPort(scheme, port string) bool {
	switch strings.ToLower(scheme) {
	case "http":
		return port == "80"
	case "https":
		return port == "443"
	default:
		return false
	}
}

// Build returns the thread-marker header lines for a notification about
// bugID sent on behalf of userID.
//
// For the first message of a thread (isNew) the result is one
// deterministic Message-ID line. Follow-ups get a fresh unique
// Message-ID plus In-Reply-To and References lines pointing at the
// deterministic root, so mail clients thread them under the first
// message.
func (b *ThreadMarkerBuilder) Build(bugID, userID int64, isNew bool) string {
	root := fmt.Sprintf("<bug-%d-%d%s>", bugID, userID, b.sitespec)
	if isNew {
		return "Message-ID: " + root
	}
	unique := fmt.Sprintf("<bug-%d-%d-%s%s>", bugID, userID, b.token(), b.sitespec)
	return "Message-ID: " + unique +
		"\nIn-Reply-To: " + root +
		"\nReferences: " + root
}

// Apply stamps the thread-marker headers straight onto a message.
func (b *ThreadMarkerBuilder) Apply(m *Message, bugID, userID int64, isNew bool) {
	for _, line := range strings.Split(b.Build(bugID, userID, isNew), "\n") {
		key, value, ok := strings.Cut(line, ":")
		if !ok {
			continue
		}
		m.SetHeader(strings.TrimSpace(key), strings.TrimSpace(value))
	}
}

// randomToken returns 32 hex characters sourced from crypto/rand via
// uuid, comfortably past the unpredictability floor for Message-ID
// uniqueness over an installation's lifetime.
func randomToken() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")
}
