//nolint:revive // package name conflicts with standard library
package errors

import (
	"fmt"
)

// Error is the single concrete error type of the taxonomy. Its kind and
// message are fixed at construction.
type Error struct {
	kind    Kind
	message string
	cause   error
}

// New creates an error of the given kind.
func New(kind Kind, message string) *Error {
	return &Error{kind: kind, message: message}
}

// Newf creates an error of the given kind with a formatted message.
func Newf(kind Kind, format string, args ...any) *Error {
	return &Error{kind: kind, message: fmt.Sprintf(format, args...)}
}

// Wrap creates an error of the given kind that chains cause. The cause stays
// reachable through errors.Unwrap, errors.Is and errors.As.
func Wrap(kind Kind, message string, cause error) *Error {
	return &Error{kind: kind, message: message, cause: cause}
}

// Kind returns the kind the error was constructed with.
func (e *Error) Kind() Kind {
	return e.kind
}

// Message returns the message the error was constructed with.
func (e *Error) Message() string {
	return e.message
}

// Error implements the error interface
func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.kind, e.message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.kind, e.message)
}

// Unwrap returns the chained cause, if any.
func (e *Error) Unwrap() error {
	return e.cause
}

// Is reports whether target is a Kind that e belongs to, or an *Error of a
// kind that e belongs to. Messages are not compared.
func (e *Error) Is(target error) bool {
	switch t := target.(type) {
	case Kind:
		return e.kind.IsA(t)
	case *Error:
		return t != nil && e.kind.IsA(t.kind)
	}
	return false
}

// Environment setup

// NewEnvError creates an environment error not covered by a more specific kind.
func NewEnvError(message string) *Error { return New(KindEnv, message) }

// NewNoEnvVarError reports a required configuration value that is absent.
func NewNoEnvVarError(message string) *Error { return New(KindNoEnvVar, message) }

// NewBadEnvVarError reports a configuration value that is present but invalid.
func NewBadEnvVarError(message string) *Error { return New(KindBadEnvVar, message) }

// NewBadInstallError reports a missing or malformed sandbox installation.
func NewBadInstallError(message string) *Error { return New(KindBadInstall, message) }

// NewMemError reports a failure to set up memory limits.
func NewMemError(message string) *Error { return New(KindMem, message) }

// NewDependencyError reports an unavailable or incompatible dependency.
func NewDependencyError(message string) *Error { return New(KindDependency, message) }

// Guest execution

// NewSandboxError reports an execution failure without a more specific kind.
func NewSandboxError(message string) *Error { return New(KindSandbox, message) }

// NewTimeoutError reports a guest that exceeded its time budget.
func NewTimeoutError(message string) *Error { return New(KindTimeout, message) }

// NewScriptSyntaxError reports a guest script that failed to parse.
func NewScriptSyntaxError(message string) *Error { return New(KindScriptSyntax, message) }

// Reporting

// NewReportError reports a failure to produce or deliver the run report.
func NewReportError(message string) *Error { return New(KindReport, message) }

// NewBaseError creates a root-kind error. Stages must not use it; it exists
// for last-resort conversion of foreign errors at the process boundary.
func NewBaseError(message string) *Error { return New(KindBase, message) }
