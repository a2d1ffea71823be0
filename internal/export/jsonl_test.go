package export

import (
	"bufio"
	"bytes"
	"encoding/json"
	"testing"

	"github.com/iksnae/sockdebug/internal"
)

func TestJSONLExporter_Export(t *testing.T) {
	session := internal.CreateTestSession("tok-1", "/echo")
	exporter := &JSONLExporter{}

	var buf bytes.Buffer
	if err := exporter.Export(session, &buf); err != nil {
		t.Fatalf("JSONLExporter.Export() error = %v", err)
	}

	var records []jsonlRecord
	scanner := bufio.NewScanner(&buf)
	for scanner.Scan() {
		var rec jsonlRecord
		if err := json.Unmarshal(scanner.Bytes(), &rec); err != nil {
			t.Fatalf("line %d is not valid JSON: %v", len(records)+1, err)
		}
		records = append(records, rec)
	}

	if len(records) != len(session.Messages) {
		t.Fatalf("got %d lines, want one per message (%d)", len(records), len(session.Messages))
	}
	first := records[0]
	if first.Token != "tok-1" || first.Path != "/echo" || first.From != internal.FromState {
		t.Errorf("first record = %+v", first)
	}
	if first.Timestamp != "2024-05-01T10:00:00Z" {
		t.Errorf("timestamp = %q, want RFC3339", first.Timestamp)
	}
	last := records[2]
	if last.Type != internal.PayloadJSON || last.Content != `{"x":1}` || !last.Success {
		t.Errorf("last record = %+v", last)
	}
}

func TestJSONLExporter_NoHTMLEscaping(t *testing.T) {
	session := internal.CreateTestSessionWithMessages("t", "/p", []internal.Message{
		{Key: "1", Content: "<b>&</b>", Type: internal.PayloadText, From: internal.FromServer, Success: true},
	})
	var buf bytes.Buffer
	if err := (&JSONLExporter{}).Export(session, &buf); err != nil {
		t.Fatal(err)
	}
	if !bytes.Contains(buf.Bytes(), []byte(`"content":"<b>&</b>"`)) {
		t.Errorf("content should be written verbatim, got %s", buf.String())
	}
}

func TestJSONLExporter_EmptySession(t *testing.T) {
	var buf bytes.Buffer
	if err := (&JSONLExporter{}).Export(internal.CreateTestSessionWithMessages("t", "/p", nil), &buf); err != nil {
		t.Fatal(err)
	}
	if buf.Len() != 0 {
		t.Errorf("empty session should produce no lines, got %q", buf.String())
	}
}

func TestJSONLExporter_Extension(t *testing.T) {
	if got := (&JSONLExporter{}).Extension(); got != "jsonl" {
		t.Errorf("JSONLExporter.Extension() = %v, want jsonl", got)
	}
}
