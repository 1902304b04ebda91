package spec

import "fmt"

// ValidationError is a compile-time spec defect. It is always fatal: the
// compiler never returns a partial artifact alongside one.
type ValidationError struct {
	// Code is a stable machine-readable check identifier (e.g. "TS-003").
	Code string

	// Message names the offending id.
	Message string

	// Path locates the defect within the spec document.
	Path string
}

func (e *ValidationError) Error() string {
	if e.Path != "" {
		return fmt.Sprintf("%s: %s (at %s)", e.Code, e.Message, e.Path)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func verr(code, path, format string, args ...any) *ValidationError {
	return &ValidationError{
		Code:    code,
		Message: fmt.Sprintf(format, args...),
		Path:    path,
	}
}

// Severity classifies an advisory diagnostic.
type Severity string

const (
	SeverityError   Severity = "error"
	SeverityWarning Severity = "warning"
)

// Diagnostic is one advisory finding. Unlike ValidationError, diagnostics
// accumulate: the advisory validator reports everything it can find and
// attaches a clarification prompt the surrounding layer can show the user.
type Diagnostic struct {
	Code     string   `json:"code"`
	Severity Severity `json:"severity"`
	Message  string   `json:"message"`
	Path     string   `json:"path"`

	// Prompt is a user-facing clarification question driving the
	// interactive completion flow. Empty for warnings that need no input.
	Prompt string `json:"prompt,omitempty"`
}

// HasErrors reports whether any diagnostic in the list is error severity.
func HasErrors(diags []Diagnostic) bool {
	for _, d := range diags {
		if d.Severity == SeverityError {
			return true
		}
	}
	return false
}
