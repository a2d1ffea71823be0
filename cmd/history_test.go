package cmd

import (
	"bytes"
	"context"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/iksnae/sockdebug/internal"
	"github.com/iksnae/sockdebug/testutil"
)

func TestParseHistoryKind(t *testing.T) {
	tests := []struct {
		raw     string
		want    internal.HistoryKind
		wantErr bool
	}{
		{raw: "message", want: internal.KindMessage},
		{raw: "MOCKER", want: internal.KindMocker},
		{raw: "scripts", wantErr: true},
		{raw: "", wantErr: true},
	}
	for _, tt := range tests {
		got, err := parseHistoryKind(tt.raw)
		if (err != nil) != tt.wantErr {
			t.Errorf("parseHistoryKind(%q) error = %v, wantErr %v", tt.raw, err, tt.wantErr)
			continue
		}
		if got != tt.want {
			t.Errorf("parseHistoryKind(%q) = %q, want %q", tt.raw, got, tt.want)
		}
	}
}

func TestDisplayHistory(t *testing.T) {
	var buf bytes.Buffer
	displayHistory(&buf, "/echo", internal.KindMessage, nil)
	if !strings.Contains(buf.String(), "No message history for /echo") {
		t.Errorf("displayHistory(empty) = %q", buf.String())
	}

	buf.Reset()
	long := strings.Repeat("x", 80)
	displayHistory(&buf, "/echo", internal.KindMocker, []internal.HistoryEntry{
		{Type: internal.PayloadText, Timestamp: time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC).UnixMilli(), Content: "line one\nline two"},
		{Type: internal.PayloadText, Timestamp: 1, Content: long},
	})
	out := buf.String()
	for _, want := range []string{"2 mocker entr(ies) for /echo", "line one line two", strings.Repeat("x", 57) + "..."} {
		if !strings.Contains(out, want) {
			t.Errorf("displayHistory() missing %q:\n%s", want, out)
		}
	}
	if strings.Contains(out, long) {
		t.Error("long content should be cut")
	}
}

func seedHistory(t *testing.T, dbPath string, entries ...internal.HistoryEntry) {
	t.Helper()
	kv, err := internal.OpenSQLiteStore(dbPath)
	if err != nil {
		t.Fatalf("OpenSQLiteStore() error = %v", err)
	}
	defer func() { _ = kv.Close() }()
	history := internal.NewHistoryStore(kv)
	for _, e := range entries {
		if err := history.PushFront(context.Background(), "/echo", internal.KindMessage, e); err != nil {
			t.Fatalf("PushFront() error = %v", err)
		}
	}
}

func executeHistory(t *testing.T, args ...string) (string, error) {
	t.Helper()
	resetHelpFlag(rootCmd, historyCmd, historyShowCmd, historyClearCmd, historyExportCmd)
	var buf bytes.Buffer
	rootCmd.SetArgs(args)
	rootCmd.SetOut(&buf)
	rootCmd.SetErr(&bytes.Buffer{})
	err := rootCmd.Execute()
	return buf.String(), err
}

func TestHistoryCommands(t *testing.T) {
	dir := testutil.CreateTempDir(t)
	dbPath := filepath.Join(dir, "history.db")
	outDir := filepath.Join(dir, "exports")
	t.Cleanup(func() {
		storagePath = ""
		historyKind = string(internal.KindMessage)
	})

	seedHistory(t, dbPath,
		internal.HistoryEntry{Type: internal.PayloadText, Timestamp: 1000, Content: "first"},
		internal.HistoryEntry{Type: internal.PayloadJSON, Timestamp: 2000, Content: `{"n":2}`},
	)

	out, err := executeHistory(t, "--storage", dbPath, "history", "show", "/echo")
	if err != nil {
		t.Fatalf("history show error = %v", err)
	}
	if !strings.Contains(out, "2 message entr(ies) for /echo") {
		t.Errorf("history show output:\n%s", out)
	}
	if strings.Index(out, `{"n":2}`) > strings.Index(out, "first") {
		t.Error("history should list newest first")
	}

	if _, err := executeHistory(t, "--storage", dbPath, "history", "export", "/echo", "--format", "jsonl", "--out", outDir); err != nil {
		t.Fatalf("history export error = %v", err)
	}
	matches, _ := filepath.Glob(filepath.Join(outDir, "*.jsonl"))
	if len(matches) != 1 {
		t.Errorf("exported files = %v, want one jsonl transcript", matches)
	}

	if _, err := executeHistory(t, "--storage", dbPath, "history", "clear", "/echo"); err != nil {
		t.Fatalf("history clear error = %v", err)
	}
	out, err = executeHistory(t, "--storage", dbPath, "history", "show", "/echo")
	if err != nil {
		t.Fatalf("history show error = %v", err)
	}
	if !strings.Contains(out, "No message history for /echo") {
		t.Errorf("history after clear:\n%s", out)
	}

	if _, err := executeHistory(t, "--storage", dbPath, "history", "show", "/echo", "--kind", "bogus"); err == nil {
		t.Error("unknown --kind should fail")
	}
}
