package mail

import (
	"strings"
	"testing"
)

func TestSiteSpec(t *testing.T) {
	cases := []struct {
		urlBase string
		want    string
	}{
		{"", "@localhost"},
		{"http://example.com", "@example.com"},
		{"example.com", "@example.com"},
		{"http://example.com/", "@example.com"},
		{"http://example.com:8080", "-8080@example.com"},
		{"http://example.com:80", "@example.com"},
		{"https://example.com:443", "@example.com"},
		{"https://example.com:8443", "-8443@example.com"},
		{"https://bugs.example.com/bz/", "@bugs.example.com.bz"},
		{"http://example.com/a/b/", "@example.com.a.b"},
		{"http://example.com:8080/bz", "-8080@example.com.bz"},
	}
	for _, c := range cases {
		if got := SiteSpec(c.urlBase); got != c.want {
			t.Errorf("SiteSpec(%q) = %q, want %q", c.urlBase, got, c.want)
		}
	}
}

func TestBuildNewThread(t *testing.T) {
	b := NewThreadMarkerBuilder("http://example.com")
	got := b.Build(42, 7, true)
	want := "Message-ID: <bug-42-7@example.com>"
	if got != want {
		t.Fatalf("Build new = %q, want %q", got, want)
	}
	// Deterministic: same inputs, same marker.
	if again := b.Build(42, 7, true); again != got {
		t.Fatalf("Build new is not deterministic: %q vs %q", again, got)
	}
}

func TestBuildFollowUp(t *testing.T) {
	b := NewThreadMarkerBuilder("http://example.com")
	b.token = func() string { return "cafe0123" }

	got := b.Build(42, 7, false)
	want := "Message-ID: <bug-42-7-cafe0123@example.com>\n" +
		"In-Reply-To: <bug-42-7@example.com>\n" +
		"References: <bug-42-7@example.com>"
	if got != want {
		t.Fatalf("Build follow-up = %q, want %q", got, want)
	}
}

func TestFollowUpsAreUnique(t *testing.T) {
	b := NewThreadMarkerBuilder("http://example.com")
	first := b.Build(42, 7, false)
	second := b.Build(42, 7, false)

	msgID := func(s string) string {
		line, _, _ := strings.Cut(s, "\n")
		return line
	}
	if msgID(first) == msgID(second) {
		t.Fatalf("follow-up Message-IDs collide: %q", msgID(first))
	}

	// Both reference the same deterministic root.
	root := "<bug-42-7@example.com>"
	for _, s := range []string{first, second} {
		if !strings.Contains(s, "In-Reply-To: "+root) || !strings.Contains(s, "References: "+root) {
			t.Fatalf("follow-up does not reference root %s:\n%s", root, s)
		}
	}
}

func TestApplyStampsHeaders(t *testing.T) {
	b := NewThreadMarkerBuilder("http://example.com:8080")
	b.token = func() string { return "deadbeef" }

	m := NewMessage()
	m.SetHeader("To", "dev@example.com")
	b.Apply(m, 99, 3, false)

	if got := m.Header("Message-ID"); got != "<bug-99-3-deadbeef-8080@example.com>" {
		t.Errorf("Message-ID = %q", got)
	}
	if got := m.Header("In-Reply-To"); got != "<bug-99-3-8080@example.com>" {
		t.Errorf("In-Reply-To = %q", got)
	}
	if got := m.Header("References"); got != "<bug-99-3-8080@example.com>" {
		t.Errorf("References = %q", got)
	}
}
