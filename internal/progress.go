package internal

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/charmbracelet/lipgloss"
)

var (
	progressStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("62")).
			Bold(true)

	successStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("42")).
			Bold(true)

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("196")).
			Bold(true)

	warningStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("214")).
			Bold(true)
)

var spinnerChars = []string{"⠋", "⠙", "⠹", "⠸", "⠼", "⠴", "⠦", "⠧", "⠇", "⠏"}

// Console streams used by the spinner and the Print helpers
var (
	consoleOut io.Writer = os.Stdout
	consoleErr io.Writer = os.Stderr
)

// SetConsoleOutput redirects the spinner and Print helpers. nil restores
// the process streams.
func SetConsoleOutput(out, errOut io.Writer) {
	if out == nil {
		out = os.Stdout
	}
	if errOut == nil {
		errOut = os.Stderr
	}
	consoleOut, consoleErr = out, errOut
}

// ShowProgress runs fn behind a spinner. Without a terminal the message is
// logged and fn runs plainly. Cancelling ctx abandons fn.
func ShowProgress(ctx context.Context, message string, fn func() error) error {
	w := consoleErr
	if !isTerminal(w) {
		LogInfo("%s", message)
		return fn()
	}

	done := make(chan error, 1)
	go func() { done <- fn() }()

	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()
	for frame := 0; ; frame++ {
		select {
		case err := <-done:
			finishSpinner(w, message, err)
			return err
		case <-ctx.Done():
			finishSpinner(w, message, ctx.Err())
			return ctx.Err()
		case <-ticker.C:
			_, _ = fmt.Fprintf(w, "\r%s %s", progressStyle.Render(spinnerChars[frame%len(spinnerChars)]), message)
		}
	}
}

func finishSpinner(w io.Writer, message string, err error) {
	mark := successStyle.Render("✓")
	if err != nil {
		mark = errorStyle.Render("✗")
	}
	_, _ = fmt.Fprintf(w, "\r%s %s\n", mark, message)
}

// isTerminal checks if the writer is a terminal
func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok || f == nil {
		return false
	}
	stat, err := f.Stat()
	if err != nil {
		return false
	}
	return stat.Mode()&os.ModeCharDevice != 0
}

// IsTerminal reports whether w is an interactive terminal
func IsTerminal(w io.Writer) bool {
	return isTerminal(w)
}

// printStatus writes a styled mark on terminals and a plain prefix otherwise
func printStatus(w io.Writer, style lipgloss.Style, mark, plain, message string) {
	if isTerminal(w) {
		_, _ = fmt.Fprintf(w, "%s %s\n", style.Render(mark), message)
		return
	}
	_, _ = fmt.Fprintf(w, "%s%s\n", plain, message)
}

// PrintSuccess prints a success message
func PrintSuccess(message string) {
	printStatus(consoleOut, successStyle, "✓", "", message)
}

// PrintError prints an error message
func PrintError(message string) {
	printStatus(consoleErr, errorStyle, "✗", "", message)
}

// PrintInfo prints an info message
func PrintInfo(message string) {
	printStatus(consoleOut, progressStyle, "ℹ", "", message)
}

// PrintWarning prints a warning message
func PrintWarning(message string) {
	printStatus(consoleErr, warningStyle, "⚠", "WARNING: ", message)
}
