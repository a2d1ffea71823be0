package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"sync"
	"text/tabwriter"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/iksnae/sockdebug/internal"
	"github.com/iksnae/sockdebug/internal/export"
	"github.com/iksnae/sockdebug/internal/script"
)

var (
	headerStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("62")).
			Padding(0, 1)

	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("212"))

	tokenStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("240")).
			Italic(true)

	stateStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("243")).
			Italic(true)

	clientStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("42"))

	serverStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("39"))

	failedStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("196")).
			Bold(true)
)

const consoleHelp = `Commands:
  /sessions                 List sessions grouped by path
  /use <n|token|title>      Select the active session
  /show                     Print the active transcript
  /close                    Disconnect the active session
  /clear                    Clear the active transcript
  /remove [n|token|title]   Forget a session (default: active)
  /mock <script>            Reply to inbound data with a script or canned text
  /mock every <dur> <script> Run a script on an interval
  /mock file <path> [dur]   Load a script from a file
  /mock off                 Stop mocking
  /history [mocker]         Show persisted history for the active path
  /export <dir> [format]    Export all transcripts
  /help                     Show this help
  /quit                     Exit
Anything else is sent to the active session.`

// syncWriter serialises writes from the engine loop and the console
type syncWriter struct {
	mu sync.Mutex
	w  io.Writer
}

func (s *syncWriter) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.w.Write(p)
}

// console turns input lines into engine calls and renders engine events
type console struct {
	engine *internal.Engine
	out    io.Writer

	// exportFormat is the default for /export
	exportFormat string
}

func newConsole(out io.Writer) *console {
	return &console{out: &syncWriter{w: out}, exportFormat: "md"}
}

// observe renders ledger events; it runs on the engine loop
func (c *console) observe(ev internal.Event) {
	switch ev.Type {
	case internal.EventMessage:
		_, _ = fmt.Fprintln(c.out, renderMessage(sessionLabel(ev.Path, ev.Token), ev.Message))
	case internal.EventCleared:
		_, _ = fmt.Fprintln(c.out, stateStyle.Render(fmt.Sprintf("[%s] messages cleared", sessionLabel(ev.Path, ev.Token))))
	case internal.EventRemoved:
		_, _ = fmt.Fprintln(c.out, stateStyle.Render(fmt.Sprintf("[%s] session removed", sessionLabel(ev.Path, ev.Token))))
	}
}

func sessionLabel(path, token string) string {
	if len(token) > 6 {
		token = token[:6]
	}
	return path + " " + token
}

func renderMessage(label string, msg internal.Message) string {
	ts := msg.Timestamp.Format("15:04:05")
	switch msg.From {
	case internal.FromState:
		return stateStyle.Render(fmt.Sprintf("[%s] ── %s ──", label, msg.Content))
	case internal.FromClient:
		line := fmt.Sprintf("[%s] %s → %s", label, ts, msg.Content)
		if !msg.Success {
			return failedStyle.Render("✗ ") + clientStyle.Render(line)
		}
		return clientStyle.Render(line)
	default:
		return serverStyle.Render(fmt.Sprintf("[%s] %s ← %s", label, ts, msg.Content))
	}
}

// handleLine executes one line of input. It reports whether the user asked
// to quit.
func (c *console) handleLine(ctx context.Context, line string) (bool, error) {
	line = strings.TrimSpace(line)
	if line == "" {
		return false, nil
	}
	if !strings.HasPrefix(line, "/") {
		return false, c.send(ctx, line)
	}

	name, rest, _ := strings.Cut(line[1:], " ")
	rest = strings.TrimSpace(rest)
	switch name {
	case "quit", "exit", "q":
		return true, nil
	case "help", "h":
		_, _ = fmt.Fprintln(c.out, consoleHelp)
		return false, nil
	case "sessions", "ls":
		return false, c.listSessions(ctx)
	case "use":
		return false, c.use(ctx, rest)
	case "show":
		return false, c.show(ctx)
	case "close":
		return false, c.withActive(ctx, func(s *internal.Session) error {
			return c.engine.Disconnect(ctx, s.Token)
		})
	case "clear":
		return false, c.withActive(ctx, func(s *internal.Session) error {
			return c.engine.ClearMessages(ctx, s.Token)
		})
	case "remove", "rm":
		return false, c.remove(ctx, rest)
	case "mock":
		return false, c.mock(ctx, rest)
	case "history":
		return false, c.history(ctx, rest)
	case "export":
		return false, c.export(ctx, rest)
	default:
		return false, fmt.Errorf("unknown command: /%s (try /help)", name)
	}
}

func (c *console) send(ctx context.Context, text string) error {
	return c.withActive(ctx, func(s *internal.Session) error {
		if s.Disconnected {
			return fmt.Errorf("session %s is disconnected", sessionLabel(s.Path, s.Token))
		}
		if _, ok := c.engine.Send(ctx, s.Token, text); !ok {
			return fmt.Errorf("send to %s failed", sessionLabel(s.Path, s.Token))
		}
		return nil
	})
}

func (c *console) withActive(ctx context.Context, fn func(s *internal.Session) error) error {
	s, err := c.engine.ActiveSession(ctx)
	if err != nil {
		return err
	}
	if s == nil {
		return errors.New("no active session (use /sessions and /use)")
	}
	return fn(s)
}

// resolve finds a session by 1-based list index, token or title
func (c *console) resolve(ctx context.Context, ref string) (*internal.Session, error) {
	groups, err := c.engine.Groups(ctx)
	if err != nil {
		return nil, err
	}
	var all []*internal.Session
	for _, g := range groups {
		all = append(all, g.Sessions...)
	}
	if n, err := strconv.Atoi(ref); err == nil && n >= 1 && n <= len(all) {
		return all[n-1], nil
	}
	for _, s := range all {
		if s.Token == ref || s.Title == ref {
			return s, nil
		}
	}
	for _, s := range all {
		if strings.HasPrefix(s.Token, ref) {
			return s, nil
		}
	}
	return nil, fmt.Errorf("%w: %s", internal.ErrSessionNotFound, ref)
}

func (c *console) listSessions(ctx context.Context) error {
	groups, err := c.engine.Groups(ctx)
	if err != nil {
		return err
	}
	active, err := c.engine.ActiveSession(ctx)
	if err != nil {
		return err
	}
	displaySessions(c.out, groups, active)
	return nil
}

func displaySessions(out io.Writer, groups []internal.SessionGroup, active *internal.Session) {
	count := 0
	for _, g := range groups {
		count += len(g.Sessions)
	}
	if count == 0 {
		_, _ = fmt.Fprintln(out, headerStyle.Render("No sessions"))
		return
	}
	_, _ = fmt.Fprintln(out, headerStyle.Render(fmt.Sprintf("%d session(s)", count)))

	w := tabwriter.NewWriter(out, 0, 0, 3, ' ', 0)
	_, _ = fmt.Fprintln(w, titleStyle.Render("#")+"\t"+titleStyle.Render("Title")+"\t"+titleStyle.Render("Token")+"\t"+titleStyle.Render("Status")+"\t"+titleStyle.Render("Messages")+"\t")
	i := 0
	for _, g := range groups {
		for _, s := range g.Sessions {
			i++
			marker := " "
			if active != nil && active.Token == s.Token {
				marker = "*"
			}
			status := "open"
			if s.Disconnected {
				status = "closed"
			}
			if s.Mocking() {
				status += ", mock"
			}
			_, _ = fmt.Fprintf(w, "%s%d\t%s\t%s\t%s\t%d\t\n", marker, i, s.Title, tokenStyle.Render(s.Token), status, len(s.Messages))
		}
	}
	_ = w.Flush()
}

func (c *console) use(ctx context.Context, ref string) error {
	if ref == "" {
		return errors.New("usage: /use <n|token|title>")
	}
	s, err := c.resolve(ctx, ref)
	if err != nil {
		return err
	}
	if _, err := c.engine.SetActiveSession(ctx, s.Token); err != nil {
		return err
	}
	internal.PrintInfo(fmt.Sprintf("Active session: %s", s.Title))
	return nil
}

func (c *console) show(ctx context.Context) error {
	return c.withActive(ctx, func(s *internal.Session) error {
		label := sessionLabel(s.Path, s.Token)
		for _, msg := range s.Messages {
			_, _ = fmt.Fprintln(c.out, renderMessage(label, msg))
		}
		return nil
	})
}

func (c *console) remove(ctx context.Context, ref string) error {
	var s *internal.Session
	var err error
	if ref == "" {
		s, err = c.engine.ActiveSession(ctx)
		if err == nil && s == nil {
			err = errors.New("no active session")
		}
	} else {
		s, err = c.resolve(ctx, ref)
	}
	if err != nil {
		return err
	}
	_, err = c.engine.RemoveSession(ctx, s.Token)
	return err
}

func (c *console) mock(ctx context.Context, args string) error {
	if args == "" {
		return errors.New("usage: /mock <script> | /mock every <dur> <script> | /mock file <path> [dur] | /mock off")
	}
	return c.withActive(ctx, func(s *internal.Session) error {
		source, interval, err := parseMockArgs(args)
		if err != nil {
			return err
		}
		if source == "" {
			return c.engine.SetMocker(ctx, s.Token, internal.MockerSpec{})
		}
		return c.installMock(ctx, s.Token, source, interval)
	})
}

// parseMockArgs returns the script and interval for /mock. An empty script
// means mocking is being turned off.
func parseMockArgs(args string) (string, time.Duration, error) {
	verb, rest, _ := strings.Cut(args, " ")
	rest = strings.TrimSpace(rest)
	switch verb {
	case "off":
		return "", 0, nil
	case "every":
		durText, source, _ := strings.Cut(rest, " ")
		d, err := time.ParseDuration(durText)
		if err != nil || d <= 0 {
			return "", 0, fmt.Errorf("invalid interval %q", durText)
		}
		if strings.TrimSpace(source) == "" {
			return "", 0, errors.New("usage: /mock every <dur> <script>")
		}
		return source, d, nil
	case "file":
		path, durText, _ := strings.Cut(rest, " ")
		data, err := os.ReadFile(path)
		if err != nil {
			return "", 0, fmt.Errorf("failed to read script: %w", err)
		}
		var d time.Duration
		if durText = strings.TrimSpace(durText); durText != "" {
			d, err = time.ParseDuration(durText)
			if err != nil || d <= 0 {
				return "", 0, fmt.Errorf("invalid interval %q", durText)
			}
		}
		if strings.TrimSpace(string(data)) == "" {
			return "", 0, fmt.Errorf("script %s is empty", path)
		}
		return string(data), d, nil
	}
	return args, 0, nil
}

// installMock compiles source and installs it on the session. Replies go
// out through SendMock because callers run on the engine loop.
func (c *console) installMock(ctx context.Context, token, source string, interval time.Duration) error {
	m, err := script.Compile(source, func(data any) {
		c.engine.SendMock(token, data)
	})
	if err != nil {
		return err
	}
	err = c.engine.SetMocker(ctx, token, internal.MockerSpec{
		Script:   source,
		Interval: interval,
		Caller:   m.Caller(interval > 0),
		OnStop:   func() { _ = m.Close() },
	})
	var storageErr *internal.StorageError
	switch {
	case errors.As(err, &storageErr):
		internal.LogWarn("Mock installed but not saved to history: %v", err)
	case err != nil:
		_ = m.Close()
		return err
	}
	internal.PrintInfo(fmt.Sprintf("Mock installed (%s)", m.Mode()))
	return nil
}

func (c *console) history(ctx context.Context, args string) error {
	kind := internal.KindMessage
	if args == string(internal.KindMocker) {
		kind = internal.KindMocker
	}
	h := c.engine.History()
	if h == nil {
		return errors.New("history storage is not configured")
	}
	return c.withActive(ctx, func(s *internal.Session) error {
		entries, err := h.Get(ctx, s.Path, kind)
		if err != nil {
			return err
		}
		displayHistory(c.out, s.Path, kind, entries)
		return nil
	})
}

func (c *console) export(ctx context.Context, args string) error {
	fields := strings.Fields(args)
	if len(fields) == 0 {
		return errors.New("usage: /export <dir> [format]")
	}
	format := c.exportFormat
	if len(fields) > 1 {
		format = fields[1]
	}
	n, err := exportLiveSessions(ctx, c.engine, fields[0], format)
	if err != nil {
		return err
	}
	internal.PrintSuccess(fmt.Sprintf("Exported %d session(s) to %s", n, fields[0]))
	return nil
}

// exportLiveSessions writes every session the engine holds to dir
func exportLiveSessions(ctx context.Context, engine *internal.Engine, dir, format string) (int, error) {
	exporter, err := export.NewExporter(format)
	if err != nil {
		return 0, err
	}
	groups, err := engine.Groups(ctx)
	if err != nil {
		return 0, err
	}
	var sessions []*internal.Session
	for _, g := range groups {
		sessions = append(sessions, g.Sessions...)
	}
	return export.WriteSessions(dir, exporter, sessions)
}
