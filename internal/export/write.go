package export

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/iksnae/sockdebug/internal"
)

var unsafeFileChars = regexp.MustCompile(`[^A-Za-z0-9._-]+`)

// FileName returns the export file name for a session
func FileName(session *internal.Session, ext string) string {
	name := strings.Trim(unsafeFileChars.ReplaceAllString(session.Path, "_"), "_")
	if name == "" {
		name = "root"
	}
	token := session.Token
	if len(token) > 12 {
		token = token[:12]
	}
	token = unsafeFileChars.ReplaceAllString(token, "_")
	return fmt.Sprintf("session_%s_%s.%s", name, token, ext)
}

// WriteSessions exports each session to its own file under dir and returns
// the number written. Sessions that fail are logged and skipped.
func WriteSessions(dir string, exporter Exporter, sessions []*internal.Session) (int, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return 0, fmt.Errorf("failed to create output directory: %w", err)
	}

	written := 0
	for _, session := range sessions {
		if session == nil {
			internal.LogWarn("Skipping nil session")
			continue
		}
		path := filepath.Join(dir, FileName(session, exporter.Extension()))

		file, err := os.Create(path)
		if err != nil {
			internal.LogError("Failed to create file %s: %v", path, err)
			continue
		}

		if err := exporter.Export(session, file); err != nil {
			_ = file.Close()
			internal.LogError("Failed to export session %s: %v", session.Token, err)
			continue
		}

		if err := file.Close(); err != nil {
			internal.LogWarn("Failed to close file %s: %v", path, err)
			continue
		}
		written++
	}
	return written, nil
}
