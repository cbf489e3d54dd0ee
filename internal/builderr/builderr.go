// Package builderr holds the error taxonomy shared by the build pipeline.
//
// ResolutionError and StructuralError are always fatal. IOError and CommandError
// are handed to the runner's failure policy, which either swallows them (continue)
// or turns them into an AbortError.
package builderr

import (
	"errors"
	"fmt"
	"strings"
)

// ResolutionError reports that a version or download link could not be found
// on a library's index page.
type ResolutionError struct {
	Library string
	Page    string
	Pattern string
	Err     error
}

func (e *ResolutionError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s: download URL not found", e.Library)
	if e.Page != "" {
		fmt.Fprintf(&b, " on %s", e.Page)
	}
	if e.Pattern != "" {
		fmt.Fprintf(&b, " (pattern %q)", e.Pattern)
	}
	if e.Err != nil {
		fmt.Fprintf(&b, ": %v", e.Err)
	}
	return b.String()
}

func (e *ResolutionError) Unwrap() error { return e.Err }

// IOError is a download or extraction failure.
type IOError struct {
	Op   string
	Path string
	Err  error
}

func (e *IOError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Op, e.Path, e.Err)
}

func (e *IOError) Unwrap() error { return e.Err }

// CommandError is a shell command that exited non-zero (or could not start).
type CommandError struct {
	Command  string
	Dir      string
	ExitCode int
	Err      error
}

func (e *CommandError) Error() string {
	if e.ExitCode > 0 {
		return fmt.Sprintf("command %q exited with status %d", e.Command, e.ExitCode)
	}
	return fmt.Sprintf("command %q failed: %v", e.Command, e.Err)
}

func (e *CommandError) Unwrap() error { return e.Err }

// StructuralError means the run itself is malformed: nothing selected, or an
// extracted source directory that is not where the library expects it.
type StructuralError struct {
	Reason string
}

func (e *StructuralError) Error() string { return e.Reason }

// Structuralf builds a StructuralError from a format string.
func Structuralf(format string, a ...any) error {
	return &StructuralError{Reason: fmt.Sprintf(format, a...)}
}

// AbortError is returned once the operator (or the AlwaysAbort policy) has
// decided to stop the run because of Cause.
type AbortError struct {
	Step  string
	Cause error
}

func (e *AbortError) Error() string {
	return fmt.Sprintf("aborted at %s: %v", e.Step, e.Cause)
}

func (e *AbortError) Unwrap() error { return e.Cause }

// IsFatal reports whether err must end the run without consulting the
// failure policy.
func IsFatal(err error) bool {
	var (
		res *ResolutionError
		st  *StructuralError
		ab  *AbortError
	)
	return errors.As(err, &res) || errors.As(err, &st) || errors.As(err, &ab)
}
