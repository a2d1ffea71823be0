package export

import (
	"fmt"
	"io"

	"github.com/iksnae/sockdebug/internal"
	"gopkg.in/yaml.v3"
)

// YAMLExporter writes the session as a YAML document headed by a comment
// naming the session
type YAMLExporter struct{}

func (e *YAMLExporter) Export(session *internal.Session, w io.Writer) error {
	var body yaml.Node
	if err := body.Encode(session); err != nil {
		return fmt.Errorf("failed to encode session: %w", err)
	}
	doc := yaml.Node{
		Kind:        yaml.DocumentNode,
		HeadComment: fmt.Sprintf("%s (%s), %d message(s)", session.Title, session.Token, len(session.Messages)),
		Content:     []*yaml.Node{&body},
	}

	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(&doc); err != nil {
		_ = enc.Close()
		return fmt.Errorf("failed to write yaml: %w", err)
	}
	return enc.Close()
}

func (e *YAMLExporter) Extension() string {
	return "yaml"
}
