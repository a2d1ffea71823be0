package export

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/iksnae/sockdebug/internal"
	"github.com/tidwall/pretty"
)

// MarkdownExporter exports sessions in Markdown format
type MarkdownExporter struct{}

// Export exports a session to Markdown format
func (e *MarkdownExporter) Export(session *internal.Session, w io.Writer) error {
	title := session.Title
	if title == "" {
		title = session.Path
	}
	_, _ = fmt.Fprintf(w, "# Session %s\n\n", title)
	_, _ = fmt.Fprintf(w, "**Path:** %s  \n", session.Path)
	_, _ = fmt.Fprintf(w, "**Token:** %s  \n", session.Token)
	if session.Disconnected && session.CloseTimestamp != nil {
		_, _ = fmt.Fprintf(w, "**Closed:** %s  \n", session.CloseTimestamp.Format(time.RFC3339))
	}
	_, _ = fmt.Fprintf(w, "**Messages:** %d\n\n", len(session.Messages))

	_, _ = fmt.Fprintf(w, "---\n\n")
	_, _ = fmt.Fprintf(w, "## Messages\n\n")

	for _, msg := range session.Messages {
		if msg.From == internal.FromState {
			_, _ = fmt.Fprintf(w, "*%s*\n\n", escapeMarkdown(msg.Content))
			continue
		}

		status := ""
		if !msg.Success {
			status = " (failed)"
		}
		_, _ = fmt.Fprintf(w, "**%s** %s%s\n\n", msg.From, msg.Timestamp.Format("15:04:05"), status)

		if msg.Type == internal.PayloadText {
			_, _ = fmt.Fprintf(w, "%s\n\n", escapeMarkdown(msg.Content))
			continue
		}
		body := strings.TrimRight(string(pretty.Pretty([]byte(msg.Content))), "\n")
		_, _ = fmt.Fprintf(w, "```json\n%s\n```\n\n", body)
	}

	return nil
}

// escapeMarkdown escapes markdown special characters
func escapeMarkdown(text string) string {
	// Basic escaping - preserve code blocks
	lines := strings.Split(text, "\n")
	var result []string
	inCodeBlock := false

	for _, line := range lines {
		if strings.HasPrefix(line, "```") {
			inCodeBlock = !inCodeBlock
			result = append(result, line)
		} else if inCodeBlock {
			result = append(result, line)
		} else {
			line = strings.ReplaceAll(line, "**", "\\*\\*")
			line = strings.ReplaceAll(line, "__", "\\_\\_")
			result = append(result, line)
		}
	}

	return strings.Join(result, "\n")
}

// Extension returns the file extension for this format
func (e *MarkdownExporter) Extension() string {
	return "md"
}
