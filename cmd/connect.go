package cmd

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/iksnae/sockdebug/internal"
	"github.com/iksnae/sockdebug/internal/status"
	"github.com/iksnae/sockdebug/internal/transport"
	"github.com/spf13/cobra"
)

var (
	connectAddress      string
	connectContext      string
	connectSecure       bool
	connectExportDir    string
	connectExportFormat string
	connectStatusAddr   string
)

// connectCmd represents the connect command
var connectCmd = &cobra.Command{
	Use:   "connect",
	Short: "Connect to a debug server and open an interactive console",
	Long: `Connect to a socket debug server and follow its sessions.

Every connection the server reports becomes a session with its own transcript.
Lines typed into the console are sent to the active session; lines starting
with / are commands (see /help).

Use --export-dir to write all transcripts when the console exits, and
--status-addr to serve /health, /metrics and /sessions over HTTP.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		if connectAddress != "" {
			cfg.Server.Address = connectAddress
		}
		if cmd.Flags().Changed("context") {
			cfg.Server.Context = connectContext
		}
		if connectSecure {
			cfg.Server.Secure = true
		}
		if connectStatusAddr != "" {
			cfg.Metrics.Addr = connectStatusAddr
		}
		return runConnect(cmd.Context(), cfg, os.Stdin, cmd.OutOrStdout())
	},
}

func init() {
	rootCmd.AddCommand(connectCmd)
	connectCmd.Flags().StringVar(&connectAddress, "address", "", "Server address host:port (overrides server.address)")
	connectCmd.Flags().StringVar(&connectContext, "context", "", "Server context path (overrides server.context)")
	connectCmd.Flags().BoolVar(&connectSecure, "secure", false, "Use wss://")
	connectCmd.Flags().StringVarP(&connectExportDir, "export-dir", "o", "", "Export all transcripts to this directory on exit")
	connectCmd.Flags().StringVarP(&connectExportFormat, "format", "f", "md", "Export format (jsonl, md, yaml, json)")
	connectCmd.Flags().StringVar(&connectStatusAddr, "status-addr", "", "Serve health, metrics and sessions on this address")
}

func runConnect(parent context.Context, cfg internal.Config, in io.Reader, out io.Writer) error {
	if parent == nil {
		parent = context.Background()
	}
	sigCtx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// The engine outlives the signal so transcripts can still be exported
	runCtx, cancelRun := context.WithCancel(context.Background())
	defer cancelRun()

	policy, err := cfg.SeparatorPolicy()
	if err != nil {
		return err
	}

	history, err := openHistory(runCtx, cfg)
	if err != nil {
		return err
	}
	defer func() {
		if err := history.Backend().Close(); err != nil {
			internal.LogWarn("Failed to close history storage: %v", err)
		}
	}()

	url := cfg.ServerURL()
	var conn *transport.Conn
	err = internal.ShowProgress(sigCtx, fmt.Sprintf("Connecting to %s", url), func() error {
		var dialErr error
		conn, dialErr = transport.Dial(sigCtx, transport.Config{URL: url, Retries: cfg.Server.DialRetries})
		return dialErr
	})
	if err != nil {
		return err
	}
	defer func() { _ = conn.Close() }()

	console := newConsole(out)
	console.exportFormat = connectExportFormat
	engine := internal.NewEngine(conn, history,
		internal.WithSeparatorPolicy(policy),
		internal.WithObserver(console.observe),
	)
	console.engine = engine

	runErr := make(chan error, 1)
	go func() { runErr <- engine.Run(runCtx) }()

	if cfg.Metrics.Addr != "" {
		internal.RegisterMetrics()
		router := status.NewRouter(engine, internal.Logger().With().Str("component", "status").Logger())
		go func() {
			if err := status.Serve(runCtx, cfg.Metrics.Addr, router); err != nil {
				internal.LogWarn("Status server stopped: %v", err)
			}
		}()
		internal.PrintInfo(fmt.Sprintf("Status on http://%s", cfg.Metrics.Addr))
	}

	internal.PrintSuccess(fmt.Sprintf("Connected to %s (type /help for commands)", url))

	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(in)
		scanner.Buffer(make([]byte, 64*1024), 1024*1024)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-runCtx.Done():
				return
			}
		}
	}()

	transportDone := engine.TransportDone()
loop:
	for {
		select {
		case <-sigCtx.Done():
			break loop
		case <-transportDone:
			transportDone = nil
			internal.PrintWarning("Connection to server lost; sessions remain available until you quit")
		case err := <-runErr:
			return err
		case line, ok := <-lines:
			if !ok {
				break loop
			}
			quit, err := console.handleLine(runCtx, line)
			if err != nil {
				internal.PrintError(err.Error())
			}
			if quit {
				break loop
			}
		}
	}

	if connectExportDir != "" {
		n, err := exportLiveSessions(runCtx, engine, connectExportDir, connectExportFormat)
		if err != nil {
			internal.PrintError(fmt.Sprintf("Export failed: %v", err))
		} else {
			internal.PrintSuccess(fmt.Sprintf("Exported %d session(s) to %s", n, connectExportDir))
		}
	}

	cancelRun()
	<-runErr
	return nil
}
