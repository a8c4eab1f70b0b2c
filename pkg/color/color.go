// Package color provides terminal styling for pkgfsd CLI output.
// It respects the NO_COLOR environment variable (https://no-color.org/)
// and disables styling when stdout is not a terminal.
package color

import (
	"fmt"
	"os"
	"sync"
	"sync/atomic"

	"github.com/charmbracelet/lipgloss"
	"github.com/mattn/go-isatty"
)

var state struct {
	once       sync.Once
	enabled    atomic.Bool
	overridden atomic.Bool
}

// Init decides once whether output is styled. Enable and Disable override
// the decision.
func Init(noColorFlag bool) {
	state.once.Do(func() {
		if state.overridden.Load() {
			return
		}
		enabled := !noColorFlag && isatty.IsTerminal(os.Stdout.Fd())
		if _, exists := os.LookupEnv("NO_COLOR"); exists {
			enabled = false
		}
		if os.Getenv("TERM") == "dumb" {
			enabled = false
		}
		state.enabled.Store(enabled)
	})
}

// Enabled returns true if styled output is enabled.
func Enabled() bool {
	Init(false)
	return state.enabled.Load()
}

// Disable turns off styled output.
func Disable() {
	state.overridden.Store(true)
	state.enabled.Store(false)
}

// Enable turns on styled output.
func Enable() {
	state.overridden.Store(true)
	state.enabled.Store(true)
}

var (
	successStyle = lipgloss.NewStyle().Foreground(lipgloss.AdaptiveColor{Light: "#2E7D32", Dark: "#66BB6A"})
	errorStyle   = lipgloss.NewStyle().Foreground(lipgloss.AdaptiveColor{Light: "#C62828", Dark: "#EF5350"}).Bold(true)
	warningStyle = lipgloss.NewStyle().Foreground(lipgloss.AdaptiveColor{Light: "#EF6C00", Dark: "#FFCA28"})
	infoStyle    = lipgloss.NewStyle().Foreground(lipgloss.AdaptiveColor{Light: "#00838F", Dark: "#4DD0E1"})
	dimStyle     = lipgloss.NewStyle().Faint(true)
	headerStyle  = lipgloss.NewStyle().Bold(true).Underline(true)
	packageStyle = lipgloss.NewStyle().Foreground(lipgloss.AdaptiveColor{Light: "#1565C0", Dark: "#64B5F6"})
	codeStyle    = lipgloss.NewStyle().Bold(true).Faint(true)
)

func render(style lipgloss.Style, s string) string {
	if !Enabled() {
		return s
	}
	return style.Render(s)
}

// Success formats a success message.
func Success(s string) string { return render(successStyle, s) }

// Successf formats a success message with printf-style arguments.
func Successf(format string, args ...any) string { return Success(fmt.Sprintf(format, args...)) }

// Error formats an error message.
func Error(s string) string { return render(errorStyle, s) }

// Errorf formats an error message with printf-style arguments.
func Errorf(format string, args ...any) string { return Error(fmt.Sprintf(format, args...)) }

// Warning formats a warning message.
func Warning(s string) string { return render(warningStyle, s) }

// Warningf formats a warning message with printf-style arguments.
func Warningf(format string, args ...any) string { return Warning(fmt.Sprintf(format, args...)) }

// Info formats an informational message.
func Info(s string) string { return render(infoStyle, s) }

// Infof formats an informational message with printf-style arguments.
func Infof(format string, args ...any) string { return Info(fmt.Sprintf(format, args...)) }

// Package formats a package file name.
func Package(s string) string { return render(packageStyle, s) }

// Header formats a section header.
func Header(s string) string { return render(headerStyle, s) }

// Dim formats secondary information.
func Dim(s string) string { return render(dimStyle, s) }

// Code formats command strings.
func Code(s string) string { return render(codeStyle, s) }
