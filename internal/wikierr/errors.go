// Package wikierr defines the closed error set surfaced by the revision
// core. Callers match these with errors.Is / errors.As rather than
// inspecting strings.
package wikierr

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrInvalidSlug means a slug was not in wikidot normal form.
	ErrInvalidSlug = errors.New("slug not in normal form")

	// ErrPageExists means an operation would overwrite an existing page.
	ErrPageExists = errors.New("page already exists")

	// ErrPageNotFound means the requested slug/commit combination has
	// no content. Distinct from a technical failure.
	ErrPageNotFound = errors.New("page not found")

	// ErrWikiNotFound means no revision store is registered for the wiki.
	ErrWikiNotFound = errors.New("wiki not found")

	// ErrRevisionMismatch means a revision does not belong to the page
	// it was supplied for.
	ErrRevisionMismatch = errors.New("revision does not match page")

	// ErrCommandTimeout means the backing tool exceeded its deadline.
	ErrCommandTimeout = errors.New("command timed out")
)

// CommandError reports a non-zero exit from the backing tool. Prefix holds
// the leading arguments (e.g. "git commit") for diagnosis.
type CommandError struct {
	Prefix   string
	ExitCode int
	Signal   int
	Stderr   string
}

func (e *CommandError) Error() string {
	var b strings.Builder
	b.WriteString(e.Prefix)
	b.WriteString(" command failed: ")
	b.WriteString(strings.TrimSpace(e.Stderr))
	if e.Signal != 0 {
		fmt.Fprintf(&b, " (killed by signal %d)", e.Signal)
	} else {
		fmt.Fprintf(&b, " (exit status %d)", e.ExitCode)
	}
	return b.String()
}

// NewCommandError builds a CommandError from the first arguments of the
// invocation and the captured stderr.
func NewCommandError(args []string, exitCode, signal int, stderr string) *CommandError {
	n := len(args)
	if n > 2 {
		n = 2
	}
	return &CommandError{
		Prefix:   strings.Join(args[:n], " "),
		ExitCode: exitCode,
		Signal:   signal,
		Stderr:   stderr,
	}
}

// ParseError reports that the backing tool's output did not match its
// documented format. Internal-consistency class: should not occur absent
// external tampering.
type ParseError struct {
	Msg string
}

func (e *ParseError) Error() string {
	return "parse error: " + e.Msg
}

// Parse builds a ParseError.
func Parse(msg string) *ParseError {
	return &ParseError{Msg: msg}
}
