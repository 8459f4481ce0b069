// Package diagnostics formats fatal runtime errors and configuration errors
// and prints them in a consistent way.
package diagnostics

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/mattn/go-colorable"
	"github.com/mattn/go-isatty"
)

// A single diagnostic.
type Diagnostic struct {
	Msg string

	// Hints tell the user how to avoid the error, details add context for
	// a developer. Both come from the cockroachdb/errors decorations of the
	// error chain.
	Hints   []string
	Details []string
}

// Report is the set of diagnostics of one failure. Joined errors produce one
// diagnostic each.
type Report []Diagnostic

// CreateDiagnostics reads the underlying errors in the error object and
// creates a set of diagnostics that can be readily printed.
func CreateDiagnostics(err error) Report {
	if err == nil {
		return nil
	}
	if multi, ok := err.(interface{ Unwrap() []error }); ok {
		var report Report
		for _, err := range multi.Unwrap() {
			report = append(report, CreateDiagnostics(err)...)
		}
		return report
	}
	return Report{{
		Msg:     err.Error(),
		Hints:   errors.GetAllHints(err),
		Details: errors.GetAllDetails(err),
	}}
}

// WriteTo writes every diagnostic, each message preceded by prefix.
func (r Report) WriteTo(w io.Writer, prefix string) {
	for _, diag := range r {
		diag.WriteTo(w, prefix)
	}
}

// WriteTo writes this diagnostic to w.
func (diag Diagnostic) WriteTo(w io.Writer, prefix string) {
	fmt.Fprintf(w, "%s%s\n", prefix, diag.Msg)
	for _, d := range diag.Details {
		fmt.Fprintf(w, "\t%s\n", strings.ReplaceAll(d, "\n", "\n\t"))
	}
	for _, h := range diag.Hints {
		fmt.Fprintf(w, "hint: %s\n", h)
	}
}

var (
	stderr   io.Writer = os.Stderr
	useColor           = false
	exit               = os.Exit
)

func init() {
	if (isatty.IsTerminal(os.Stderr.Fd()) || isatty.IsCygwinTerminal(os.Stderr.Fd())) && os.Getenv("TERM") != "dumb" {
		stderr = colorable.NewColorableStderr()
		useColor = true
	}
}

func emphasize(s string) string {
	if !useColor {
		return s
	}
	return "\x1b[1;31m" + s + "\x1b[0m"
}

// Fatal reports an unrecoverable runtime error, such as running out of heap
// memory, and exits with status 2.
func Fatal(err error) {
	var buf bytes.Buffer
	CreateDiagnostics(err).WriteTo(&buf, emphasize("fatal error: "))
	stderr.Write(buf.Bytes())
	exit(2)
}

// Exit reports an error found before the program started running, such as
// a malformed option, and exits with status 1.
func Exit(program string, err error) {
	var buf bytes.Buffer
	CreateDiagnostics(err).WriteTo(&buf, program+": ")
	stderr.Write(buf.Bytes())
	exit(1)
}
