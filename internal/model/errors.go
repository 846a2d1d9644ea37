package model

import (
	"errors"
	"fmt"
)

// ExitCode is both the process exit status and the error kind used by
// every collaborator. Callers branch on the kind (via CodeOf) to decide
// whether a failure is fatal.
type ExitCode int

const (
	// ExitSuccess indicates the release sequence completed.
	ExitSuccess ExitCode = 0

	// ExitGeneralError indicates an unspecified error occurred.
	ExitGeneralError ExitCode = 1

	// ExitInvalidInput indicates a bad flag value (release type, version).
	ExitInvalidInput ExitCode = 2

	// ExitConfigError indicates the config file is missing, unreadable,
	// or lacks a required key.
	ExitConfigError ExitCode = 3

	// ExitGitError indicates a git command exited non-zero or a
	// repository precondition failed.
	ExitGitError ExitCode = 4

	// ExitAPIError indicates the pipeline API answered with an unexpected
	// status or a body missing an expected field.
	ExitAPIError ExitCode = 5

	// ExitTransportError indicates the pipeline API could not be reached.
	ExitTransportError ExitCode = 6

	// ExitIOError indicates a local file could not be read or written.
	ExitIOError ExitCode = 7
)

// String names the error kind for logs.
func (c ExitCode) String() string {
	switch c {
	case ExitSuccess:
		return "success"
	case ExitGeneralError:
		return "general"
	case ExitInvalidInput:
		return "invalid-input"
	case ExitConfigError:
		return "config"
	case ExitGitError:
		return "git"
	case ExitAPIError:
		return "api"
	case ExitTransportError:
		return "transport"
	case ExitIOError:
		return "io"
	default:
		return fmt.Sprintf("exit-%d", int(c))
	}
}

// CLIError is a custom error type that carries an exit code.
type CLIError struct {
	// Code is the exit code to return to the OS.
	Code ExitCode

	// Message is the human-readable error description.
	Message string

	// Err is the underlying error, if any.
	Err error
}

// Error satisfies the error interface.
func (e *CLIError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

// Unwrap returns the underlying error for use with errors.Is/errors.As.
func (e *CLIError) Unwrap() error {
	return e.Err
}

// NewCLIError creates a new CLIError with the given exit code and message.
func NewCLIError(code ExitCode, message string) *CLIError {
	return &CLIError{Code: code, Message: message}
}

// WrapCLIError creates a new CLIError that wraps an existing error.
func WrapCLIError(code ExitCode, message string, err error) *CLIError {
	return &CLIError{Code: code, Message: message, Err: err}
}

// CodeOf returns the kind of the outermost CLIError in err's chain,
// ExitSuccess for nil, and ExitGeneralError for anything else.
func CodeOf(err error) ExitCode {
	if err == nil {
		return ExitSuccess
	}
	var cliErr *CLIError
	if errors.As(err, &cliErr) {
		return cliErr.Code
	}
	return ExitGeneralError
}
