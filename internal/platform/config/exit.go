package config

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
)

// Exit statuses used by the masquerade commands.
const (
	ExitOK      = 0
	ExitFailure = 1
	ExitUsage   = 2
)

// UsageError marks a failure caused by bad flags or environment rather than
// by the running service.
type UsageError struct {
	Err error
}

func (e *UsageError) Error() string { return e.Err.Error() }

func (e *UsageError) Unwrap() error { return e.Err }

// Usage wraps err as a UsageError. A nil err stays nil.
func Usage(err error) error {
	if err == nil {
		return nil
	}
	return &UsageError{Err: err}
}

// ExitCode maps a command error to a process exit status.
func ExitCode(err error) int {
	var usage *UsageError
	switch {
	case err == nil, errors.Is(err, flag.ErrHelp):
		return ExitOK
	case errors.As(err, &usage):
		return ExitUsage
	default:
		return ExitFailure
	}
}

// Report writes err to w prefixed by what failed and returns its exit status.
func Report(w io.Writer, what string, err error) int {
	code := ExitCode(err)
	if code != ExitOK {
		fmt.Fprintf(w, "%s: %v\n", what, err)
	}
	return code
}

// Exit reports err on stderr and terminates the process with its status.
func Exit(what string, err error) {
	os.Exit(Report(os.Stderr, what, err))
}
