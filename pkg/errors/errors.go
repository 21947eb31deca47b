// Package errors defines the error kinds raised by the bundling pipeline.
//
// Every externally caused failure (missing file, failed subprocess, unreadable
// archive) is wrapped at its origin into an *Error carrying a Kind. The Kind
// decides the process exit status, so calling scripts can tell failure
// classes apart:
//
//	err := errors.Wrap(errors.KindFilesystem, cause, "failed to remove %s", path)
//	if errors.Is(err, errors.KindFilesystem) {
//	    // ...
//	}
//	os.Exit(errors.ExitCode(err))
package errors

import (
	"errors"
	"fmt"
)

// Kind classifies an error.
type Kind string

const (
	KindConfig       Kind = "config"
	KindEntrypoint   Kind = "entrypoint"
	KindRequirements Kind = "requirements"
	KindEnvironment  Kind = "environment"
	KindRuntime      Kind = "runtime"
	KindFilesystem   Kind = "filesystem"
	KindSubprocess   Kind = "subprocess"
	KindBuild        Kind = "build"
	KindBundleFormat Kind = "bundle-format"
	KindLaunch       Kind = "launch"
)

var exitCodes = map[Kind]int{
	KindConfig:       2,
	KindEntrypoint:   3,
	KindRequirements: 4,
	KindEnvironment:  10,
	KindRuntime:      11,
	KindFilesystem:   12,
	KindSubprocess:   13,
	KindBuild:        20,
	KindBundleFormat: 21,
	KindLaunch:       30,
}

// Error is a classified error with an optional offending path and cause.
type Error struct {
	Kind    Kind
	Message string
	Path    string
	Cause   error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

// Unwrap returns the underlying cause for errors.Is/As compatibility.
func (e *Error) Unwrap() error {
	return e.Cause
}

// ExitCode is the process exit status for this error's kind.
func (e *Error) ExitCode() int {
	if code, ok := exitCodes[e.Kind]; ok {
		return code
	}
	return 1
}

// New creates an Error with a formatted message.
func New(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap creates an Error around an existing cause.
func Wrap(kind Kind, cause error, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), Cause: cause}
}

// WithPath records the path the failure is about and returns e.
func (e *Error) WithPath(path string) *Error {
	e.Path = path
	return e
}

// Is reports whether any *Error in err's chain has the given kind.
func Is(err error, kind Kind) bool {
	for err != nil {
		var e *Error
		if !errors.As(err, &e) {
			return false
		}
		if e.Kind == kind {
			return true
		}
		err = e.Cause
	}
	return false
}

// KindOf returns the kind of the outermost *Error in err's chain, or "".
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// ExitCode maps err to a process exit status. nil maps to 0 and errors
// without a kind map to 1.
func ExitCode(err error) int {
	if err == nil {
		return 0
	}
	var e *Error
	if errors.As(err, &e) {
		return e.ExitCode()
	}
	return 1
}

// PathOf returns the first offending path recorded in err's chain.
func PathOf(err error) string {
	for err != nil {
		var e *Error
		if !errors.As(err, &e) {
			return ""
		}
		if e.Path != "" {
			return e.Path
		}
		err = e.Cause
	}
	return ""
}
