// Package cli implements the toolforge command line: validate a spec
// document, run it through the hard compile gate, and execute actions or
// workflows against an in-process development environment.
package cli

import "fmt"

// Exit codes for scripted callers.
const (
	exitValidation   = 2
	exitFileNotFound = 3
	exitRunFailed    = 4
)

// ExitError is an error that carries a specific process exit code.
// Cobra's RunE returns this to signal the desired exit code to main.
type ExitError struct {
	Code    int
	Message string
}

func (e *ExitError) Error() string {
	return e.Message
}

func exitError(code int, format string, args ...any) *ExitError {
	return &ExitError{
		Code:    code,
		Message: fmt.Sprintf(format, args...),
	}
}
