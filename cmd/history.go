package cmd

import (
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/iksnae/sockdebug/internal"
	"github.com/iksnae/sockdebug/internal/export"
	"github.com/spf13/cobra"
)

var (
	historyKind   string
	historyFormat string
	historyOutDir string
)

// historyCmd groups the persisted history subcommands
var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Inspect persisted message and mock script history",
	Long: `Inspect the history persisted per server path.

Two kinds of history are kept for every path: "message" holds client messages
that were sent successfully, "mocker" holds the mock scripts installed on
sessions of that path. Entries are listed newest first.`,
}

var historyShowCmd = &cobra.Command{
	Use:   "show <path>",
	Short: "Show history for a path",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		kind, err := parseHistoryKind(historyKind)
		if err != nil {
			return err
		}
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		ctx := cmd.Context()
		history, err := openHistory(ctx, cfg)
		if err != nil {
			return err
		}
		defer func() { _ = history.Backend().Close() }()

		entries, err := history.Get(ctx, args[0], kind)
		if err != nil {
			return err
		}
		displayHistory(cmd.OutOrStdout(), args[0], kind, entries)
		return nil
	},
}

var historyClearCmd = &cobra.Command{
	Use:   "clear <path>",
	Short: "Delete history for a path",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		kind, err := parseHistoryKind(historyKind)
		if err != nil {
			return err
		}
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		ctx := cmd.Context()
		history, err := openHistory(ctx, cfg)
		if err != nil {
			return err
		}
		defer func() { _ = history.Backend().Close() }()

		if err := history.Clear(ctx, args[0], kind); err != nil {
			return err
		}
		internal.PrintSuccess(fmt.Sprintf("Cleared %s history for %s", kind, args[0]))
		return nil
	},
}

var historyExportCmd = &cobra.Command{
	Use:   "export <path>",
	Short: "Export history for a path as a transcript",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		kind, err := parseHistoryKind(historyKind)
		if err != nil {
			return err
		}
		exporter, err := export.NewExporter(historyFormat)
		if err != nil {
			return err
		}
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		ctx := cmd.Context()
		history, err := openHistory(ctx, cfg)
		if err != nil {
			return err
		}
		defer func() { _ = history.Backend().Close() }()

		entries, err := history.Get(ctx, args[0], kind)
		if err != nil {
			return err
		}
		session := internal.SessionFromHistory(args[0], kind, entries)
		n, err := export.WriteSessions(historyOutDir, exporter, []*internal.Session{session})
		if err != nil {
			return err
		}
		if n == 0 {
			return fmt.Errorf("failed to export %s history for %s", kind, args[0])
		}
		internal.PrintSuccess(fmt.Sprintf("Exported %d %s entr(ies) for %s to %s", len(entries), kind, args[0], historyOutDir))
		return nil
	},
}

func init() {
	rootCmd.AddCommand(historyCmd)
	historyCmd.AddCommand(historyShowCmd, historyClearCmd, historyExportCmd)
	historyCmd.PersistentFlags().StringVarP(&historyKind, "kind", "k", string(internal.KindMessage), "History kind (message, mocker)")
	historyExportCmd.Flags().StringVarP(&historyFormat, "format", "f", "md", "Export format (jsonl, md, yaml, json)")
	historyExportCmd.Flags().StringVarP(&historyOutDir, "out", "o", "./exports", "Output directory")
}

func parseHistoryKind(raw string) (internal.HistoryKind, error) {
	switch internal.HistoryKind(strings.ToLower(raw)) {
	case internal.KindMessage:
		return internal.KindMessage, nil
	case internal.KindMocker:
		return internal.KindMocker, nil
	}
	return "", fmt.Errorf("unsupported history kind: %s (supported: message, mocker)", raw)
}

func displayHistory(out io.Writer, path string, kind internal.HistoryKind, entries []internal.HistoryEntry) {
	if len(entries) == 0 {
		_, _ = fmt.Fprintln(out, headerStyle.Render(fmt.Sprintf("No %s history for %s", kind, path)))
		return
	}
	_, _ = fmt.Fprintln(out, headerStyle.Render(fmt.Sprintf("%d %s entr(ies) for %s", len(entries), kind, path)))

	w := tabwriter.NewWriter(out, 0, 0, 3, ' ', 0)
	_, _ = fmt.Fprintln(w, titleStyle.Render("#")+"\t"+titleStyle.Render("Time")+"\t"+titleStyle.Render("Type")+"\t"+titleStyle.Render("Content")+"\t")
	for i, e := range entries {
		content := strings.ReplaceAll(e.Content, "\n", " ")
		if len(content) > 60 {
			content = content[:57] + "..."
		}
		_, _ = fmt.Fprintf(w, "%d\t%s\t%s\t%s\t\n", i+1, e.Time().Format(time.DateTime), e.Type, content)
	}
	_ = w.Flush()
}
