package export

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"github.com/iksnae/sockdebug/internal"
)

func TestJSONExporter_Export(t *testing.T) {
	session := internal.CreateTestSession("tok-1", "/echo")
	session.Mocker = &internal.Mocker{Script: "secret"}

	var buf bytes.Buffer
	if err := (&JSONExporter{}).Export(session, &buf); err != nil {
		t.Fatalf("JSONExporter.Export() error = %v", err)
	}

	if !strings.Contains(buf.String(), "\n  \"token\"") {
		t.Errorf("output should be pretty-printed, got:\n%s", buf.String())
	}
	if strings.Contains(buf.String(), "secret") {
		t.Error("the mocker should not be exported")
	}

	var decoded internal.Session
	if err := json.Unmarshal(buf.Bytes(), &decoded); err != nil {
		t.Fatalf("output is not valid JSON: %v", err)
	}
	if decoded.Token != "tok-1" || len(decoded.Messages) != 3 {
		t.Errorf("decoded session = %+v", decoded)
	}
	if decoded.Messages[2].Type != internal.PayloadJSON || decoded.Messages[2].From != internal.FromServer {
		t.Errorf("decoded message = %+v", decoded.Messages[2])
	}
}

func TestJSONExporter_Extension(t *testing.T) {
	if got := (&JSONExporter{}).Extension(); got != "json" {
		t.Errorf("JSONExporter.Extension() = %v, want json", got)
	}
}
