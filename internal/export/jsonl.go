package export

import (
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/iksnae/sockdebug/internal"
)

// jsonlRecord is one transcript line
type jsonlRecord struct {
	Token     string               `json:"token"`
	Path      string               `json:"path"`
	Timestamp string               `json:"timestamp"`
	From      internal.Origin      `json:"from"`
	Type      internal.PayloadType `json:"type"`
	Success   bool                 `json:"success"`
	Content   string               `json:"content"`
}

// JSONLExporter exports sessions in JSONL format (one message per line)
type JSONLExporter struct{}

// Export exports a session to JSONL format
func (e *JSONLExporter) Export(session *internal.Session, w io.Writer) error {
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)

	for _, msg := range session.Messages {
		rec := jsonlRecord{
			Token:     session.Token,
			Path:      session.Path,
			Timestamp: msg.Timestamp.Format(time.RFC3339Nano),
			From:      msg.From,
			Type:      msg.Type,
			Success:   msg.Success,
			Content:   msg.Content,
		}
		if err := enc.Encode(rec); err != nil {
			return fmt.Errorf("failed to encode message: %w", err)
		}
	}

	return nil
}

// Extension returns the file extension for this format
func (e *JSONLExporter) Extension() string {
	return "jsonl"
}
