package ui

import (
	"fmt"
	"io"
	"os"

	"github.com/charmbracelet/lipgloss"
)

// Banner printed by the archive command
const Banner = `
  ┌─────────────────────────────────────────────┐
  │   ☁  bsky-archiver                          │
  │      liked posts and author feeds, on disk  │
  └─────────────────────────────────────────────┘
`

var (
	skyBlue = lipgloss.Color("#0085FF")
	amber   = lipgloss.Color("#FFB020")
	coral   = lipgloss.Color("#FF4D5A")
	mint    = lipgloss.Color("#3DDC97")
	lilac   = lipgloss.Color("#B48CFF")
	grey    = lipgloss.Color("#8A8F98")

	cyanStyle    = lipgloss.NewStyle().Foreground(skyBlue)
	yellowStyle  = lipgloss.NewStyle().Foreground(amber)
	redStyle     = lipgloss.NewStyle().Foreground(coral).Bold(true)
	greenStyle   = lipgloss.NewStyle().Foreground(mint)
	magentaStyle = lipgloss.NewStyle().Foreground(lilac).Bold(true)
	dimStyle     = lipgloss.NewStyle().Foreground(grey)

	bannerStyle = lipgloss.NewStyle().Foreground(skyBlue).Bold(true)
	labelStyle  = lipgloss.NewStyle().Foreground(skyBlue).Bold(true).Width(14)
)

// Color functions for terminal output
var (
	Cyan    = colorize(cyanStyle)
	Yellow  = colorize(yellowStyle)
	Red     = colorize(redStyle)
	Green   = colorize(greenStyle)
	Magenta = colorize(magentaStyle)
	Dim     = colorize(dimStyle)
)

// Out is where the Print helpers write
var Out io.Writer = os.Stdout

func colorize(style lipgloss.Style) func(string) string {
	return func(text string) string {
		return style.Render(text)
	}
}

// PrintLogo prints the banner
func PrintLogo() {
	fmt.Fprint(Out, bannerStyle.Render(Banner))
	fmt.Fprintln(Out)
}

// PrintError prints an error message, optionally followed by its cause
func PrintError(msg string, args ...interface{}) {
	if len(args) > 0 {
		fmt.Fprintln(Out, Red("✗ "+msg+": "+fmt.Sprintf("%v", args[0])))
	} else {
		fmt.Fprintln(Out, Red("✗ "+msg))
	}
}

// PrintSuccess prints a success message
func PrintSuccess(msg string) {
	fmt.Fprintln(Out, Green("✓ "+msg))
}

// PrintInfo prints a label/value pair
func PrintInfo(label string, value string) {
	fmt.Fprintf(Out, "%s %s\n", labelStyle.Render(label+":"), Yellow(value))
}

// PrintWarning prints a warning message, optionally followed by its cause
func PrintWarning(msg string, args ...interface{}) {
	if len(args) > 0 {
		fmt.Fprintln(Out, Yellow("⚠ "+msg+": "+fmt.Sprintf("%v", args[0])))
	} else {
		fmt.Fprintln(Out, Yellow("⚠ "+msg))
	}
}

// PrintHighlight prints a highlighted message
func PrintHighlight(msg string) {
	fmt.Fprintln(Out, Magenta(msg))
}

// FormatBytes renders a byte count with a binary unit
func FormatBytes(bytes int64) string {
	const unit = 1024
	if bytes < unit {
		return fmt.Sprintf("%d B", bytes)
	}
	div, exp := int64(unit), 0
	for n := bytes / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB", float64(bytes)/float64(div), "KMGTPE"[exp])
}
