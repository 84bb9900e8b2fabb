// Package printer renders the drey CLI's operator-facing output. The
// daemons log structured JSON; this package is the human surface the
// cobra commands write to.
package printer

import (
	"fmt"
	"os"

	"github.com/fatih/color"
)

func init() {
	// The CLI is usually run through scripts and CI pipes, so color is
	// forced on unless the user sets NO_COLOR.
	if os.Getenv("NO_COLOR") == "" {
		color.NoColor = false
	}
}

var (
	headline = color.New(color.FgCyan, color.Bold)
	okay     = color.New(color.FgGreen)
	caution  = color.New(color.FgYellow)
	failure  = color.New(color.FgRed, color.Bold)
)

// Header prints a bold cyan section heading.
func Header(format string, a ...any) {
	headline.Printf(format, a...)
}

// Info prints plain uncolored output.
func Info(format string, a ...any) {
	fmt.Printf(format, a...)
}

// Success prints a green confirmation line.
func Success(format string, a ...any) {
	okay.Print("ok ")
	okay.Printf(format, a...)
}

// Warning prints a yellow caution line.
func Warning(format string, a ...any) {
	caution.Print("warning: ")
	caution.Printf(format, a...)
}

// Error writes a titled failure report to stderr and returns a bare
// error carrying only the title. The root command runs with
// SilenceErrors, so cobra exits nonzero without printing the report a
// second time.
func Error(title, explanation string, suggestions []string) error {
	failure.Fprintf(os.Stderr, "error: %s\n", title)
	if explanation != "" {
		fmt.Fprintf(os.Stderr, "  %s\n", explanation)
	}
	for _, s := range suggestions {
		fmt.Fprintf(os.Stderr, "  - %s\n", s)
	}
	return fmt.Errorf("%s", title)
}
