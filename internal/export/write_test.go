package export

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/iksnae/sockdebug/internal"
	"github.com/iksnae/sockdebug/testutil"
)

func TestFileName(t *testing.T) {
	tests := []struct {
		name  string
		token string
		path  string
		ext   string
		want  string
	}{
		{"simple path", "abc", "/echo", "md", "session_echo_abc.md"},
		{"nested path", "abc", "/api/v1/feed", "jsonl", "session_api_v1_feed_abc.jsonl"},
		{"root path", "abc", "/", "json", "session_root_abc.json"},
		{"long token is cut", "0123456789abcdef", "/x", "yaml", "session_x_0123456789ab.yaml"},
		{"unsafe token chars", "a/b:c", "/x", "md", "session_x_a_b_c.md"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := &internal.Session{Token: tt.token, Path: tt.path}
			if got := FileName(s, tt.ext); got != tt.want {
				t.Errorf("FileName() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestWriteSessions(t *testing.T) {
	dir := filepath.Join(testutil.CreateTempDir(t), "exports")
	sessions := []*internal.Session{
		internal.CreateTestSession("one", "/echo"),
		nil,
		internal.CreateTestSession("two", "/chat"),
	}

	n, err := WriteSessions(dir, &MarkdownExporter{}, sessions)
	if err != nil {
		t.Fatalf("WriteSessions() error = %v", err)
	}
	if n != 2 {
		t.Errorf("WriteSessions() wrote %d, want 2", n)
	}

	data, err := os.ReadFile(filepath.Join(dir, "session_echo_one.md"))
	if err != nil {
		t.Fatalf("expected export file: %v", err)
	}
	if !strings.Contains(string(data), "**Token:** one") {
		t.Errorf("export content = %s", data)
	}
	if _, err := os.Stat(filepath.Join(dir, "session_chat_two.md")); err != nil {
		t.Errorf("second export missing: %v", err)
	}
}

func TestWriteSessions_BadDirectory(t *testing.T) {
	dir := testutil.CreateTempDir(t)
	blocker := filepath.Join(dir, "file")
	if err := os.WriteFile(blocker, []byte("x"), 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := WriteSessions(filepath.Join(blocker, "sub"), &JSONExporter{}, nil); err == nil {
		t.Error("WriteSessions() under a regular file should fail")
	}
}
