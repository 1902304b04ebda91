package runtime

import (
	"regexp"
	"strings"
)

// MaskedValue replaces credential-like values in logged payloads.
const MaskedValue = "**********"

const (
	// sanitizeMaxDepth bounds recursion into nested payloads.
	sanitizeMaxDepth = 3

	// sanitizeArraySample bounds how many array items are kept in logs.
	sanitizeArraySample = 10
)

// credentialKeyPattern matches keys that commonly carry secrets.
var credentialKeyPattern = regexp.MustCompile(
	`(?i)(token|secret|password|passwd|credential|api[_-]?key|auth|bearer|private[_-]?key|access[_-]?key)`)

// Sanitize returns a copy of a payload safe for immutable log entries:
// credential-like keys are masked recursively to depth 3 and arrays are
// sampled to their first 10 items. Depth-exhausted branches collapse to a
// placeholder rather than leaking unredacted structure.
func Sanitize(payload any) any {
	return sanitizeValue(payload, 0)
}

func sanitizeValue(v any, depth int) any {
	switch typed := v.(type) {
	case map[string]any:
		if depth >= sanitizeMaxDepth {
			return "[truncated]"
		}
		out := make(map[string]any, len(typed))
		for key, val := range typed {
			if credentialKeyPattern.MatchString(key) {
				if s, ok := val.(string); !ok || strings.TrimSpace(s) != "" {
					out[key] = MaskedValue
					continue
				}
			}
			out[key] = sanitizeValue(val, depth+1)
		}
		return out

	case []any:
		if depth >= sanitizeMaxDepth {
			return "[truncated]"
		}
		n := len(typed)
		if n > sanitizeArraySample {
			n = sanitizeArraySample
		}
		out := make([]any, 0, n+1)
		for _, item := range typed[:n] {
			out = append(out, sanitizeValue(item, depth+1))
		}
		if len(typed) > sanitizeArraySample {
			out = append(out, map[string]any{"_sampled": len(typed) - sanitizeArraySample})
		}
		return out

	default:
		return v
	}
}
