package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/iksnae/sockdebug/internal"
	"github.com/iksnae/sockdebug/internal/transport"
	"github.com/spf13/cobra"
)

var (
	healthcheckDetails bool
	healthcheckOffline bool
)

var (
	successStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("42")).
			Bold(true)

	warningStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("214")).
			Bold(true)

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("196")).
			Bold(true)

	infoStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("39"))

	sectionStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("62")).
			Bold(true).
			Underline(true)
)

const healthProbePath = "/.sockdebug/healthcheck"

// healthcheckCmd represents the healthcheck command
var healthcheckCmd = &cobra.Command{
	Use:   "healthcheck",
	Short: "Check configuration, history storage and server reachability",
	Long: `Check the health of sockdebug by verifying:
  • The configuration loads and validates
  • The history storage backend opens and round-trips an entry
  • The debug server accepts a websocket connection

Use --offline to skip the server check.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		out := cmd.OutOrStdout()
		ctx := cmd.Context()
		if ctx == nil {
			ctx = context.Background()
		}

		_, _ = fmt.Fprintln(out, sectionStyle.Render("sockdebug health check"))
		_, _ = fmt.Fprintln(out)

		// Step 1: Configuration
		_, _ = fmt.Fprintln(out, infoStyle.Render("Step 1: Loading configuration..."))
		cfg, err := loadConfig()
		if err != nil {
			_, _ = fmt.Fprintln(out, errorStyle.Render("❌ Configuration is invalid:"), err)
			return fmt.Errorf("health check failed: %w", err)
		}
		_, _ = fmt.Fprintln(out, successStyle.Render("✅ Configuration loaded"))
		if healthcheckDetails {
			_, _ = fmt.Fprintf(out, "   Server: %s\n", cfg.ServerURL())
			_, _ = fmt.Fprintf(out, "   Storage: %s\n", describeStorage(cfg.Storage))
			_, _ = fmt.Fprintf(out, "   History limit: %d\n", cfg.Storage.HistoryLimit)
		}
		_, _ = fmt.Fprintln(out)

		// Step 2: History storage
		_, _ = fmt.Fprintln(out, infoStyle.Render("Step 2: Testing history storage..."))
		keys, err := checkHistory(ctx, cfg)
		if err != nil {
			_, _ = fmt.Fprintln(out, errorStyle.Render("❌ History storage is not usable:"), err)
			return fmt.Errorf("health check failed: %w", err)
		}
		_, _ = fmt.Fprintln(out, successStyle.Render("✅ History storage round-trip succeeded"))
		if healthcheckDetails && keys >= 0 {
			_, _ = fmt.Fprintf(out, "   Stored history keys: %d\n", keys)
		}
		_, _ = fmt.Fprintln(out)

		// Step 3: Server
		serverOK := true
		if healthcheckOffline {
			_, _ = fmt.Fprintln(out, warningStyle.Render("⚠️  Skipping server check (--offline)"))
		} else {
			_, _ = fmt.Fprintln(out, infoStyle.Render("Step 3: Connecting to the debug server..."))
			dialCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
			conn, err := transport.Dial(dialCtx, transport.Config{URL: cfg.ServerURL()})
			cancel()
			if err != nil {
				serverOK = false
				_, _ = fmt.Fprintln(out, warningStyle.Render("⚠️  Server not reachable:"), err)
			} else {
				_ = conn.Close()
				_, _ = fmt.Fprintln(out, successStyle.Render("✅ Server accepted the connection"))
			}
		}
		_, _ = fmt.Fprintln(out)

		// Summary
		_, _ = fmt.Fprintln(out, sectionStyle.Render("Summary"))
		_, _ = fmt.Fprintln(out)
		if !serverOK {
			_, _ = fmt.Fprintln(out, warningStyle.Render("⚠️  Local setup is healthy but the server is unreachable"))
			return fmt.Errorf("health check failed: server %s unreachable", cfg.ServerURL())
		}
		_, _ = fmt.Fprintln(out, successStyle.Render("✅ Health check passed!"))
		return nil
	},
}

func init() {
	rootCmd.AddCommand(healthcheckCmd)
	healthcheckCmd.Flags().BoolVarP(&healthcheckDetails, "details", "d", false, "Show detailed diagnostic information")
	healthcheckCmd.Flags().BoolVar(&healthcheckOffline, "offline", false, "Skip the server connection check")
}

func describeStorage(s internal.StorageConfig) string {
	switch s.Driver {
	case internal.DriverRedis:
		return "redis " + s.RedisURL
	case internal.DriverMemory:
		return "memory"
	default:
		return "sqlite " + s.Path
	}
}

// checkHistory writes, reads and clears a test entry. It returns the number
// of history keys left in the backend, or -1 when the backend cannot list them.
func checkHistory(ctx context.Context, cfg internal.Config) (int, error) {
	history, err := openHistory(ctx, cfg)
	if err != nil {
		return -1, err
	}
	defer func() { _ = history.Backend().Close() }()

	entry := internal.HistoryEntry{
		Type:      internal.PayloadText,
		Timestamp: time.Now().UnixMilli(),
		Content:   "healthcheck",
	}
	if err := history.PushFront(ctx, healthProbePath, internal.KindMessage, entry); err != nil {
		return -1, err
	}
	entries, err := history.Get(ctx, healthProbePath, internal.KindMessage)
	if err != nil {
		return -1, err
	}
	if len(entries) == 0 || entries[0].Timestamp != entry.Timestamp {
		return -1, fmt.Errorf("test entry was not read back")
	}
	if err := history.Clear(ctx, healthProbePath, internal.KindMessage); err != nil {
		return -1, err
	}

	keys, ok, err := history.StoredKeys(ctx)
	if err != nil {
		return -1, err
	}
	if !ok {
		return -1, nil
	}
	return len(keys), nil
}
