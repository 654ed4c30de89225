package app

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
)

func writeAppConfig(t *testing.T, dir string, v map[string]any) string {
	t.Helper()
	b, err := json.Marshal(v)
	if err != nil {
		t.Fatal(err)
	}
	path := filepath.Join(dir, "config.json")
	if err := os.WriteFile(path, b, 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestReloadUpdatesThreadMarkers(t *testing.T) {
	dir := t.TempDir()
	path := writeAppConfig(t, dir, map[string]any{
		"mail": map[string]any{
			"method":    "test-sink",
			"sink_path": filepath.Join(dir, "out.mbox"),
			"url_base":  "http://example.com",
		},
		"logging": map[string]any{"console": false},
	})

	a, err := New(path)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = a.logs.Close() })
	t.Cleanup(func() { _ = a.mailer.Close() })

	if got := a.ThreadMarkers().Build(42, 7, true); got != "Message-ID: <bug-42-7@example.com>" {
		t.Fatalf("root marker = %q", got)
	}

	next := *a.cfgm.Get()
	next.Mail.URLBase = "http://bugs.example.org:8080"
	a.applyConfig(&next)

	if got := a.ThreadMarkers().Build(42, 7, true); got != "Message-ID: <bug-42-7-8080@bugs.example.org>" {
		t.Fatalf("root marker after reload = %q", got)
	}
}
