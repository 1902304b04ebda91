package spec

import (
	"encoding/json"
	"fmt"

	"github.com/zeebo/blake3"
)

// Hash computes the content hash of a spec revision. The hash keys the
// compiled-artifact cache and lets the execution gate detect a compiled
// artifact that is stale relative to an edited spec.
//
// JSON marshaling sorts map keys, so the encoding is stable for equal specs.
func Hash(s *ToolSystemSpec) (string, error) {
	if s == nil {
		return "", fmt.Errorf("spec is nil")
	}
	raw, err := json.Marshal(s)
	if err != nil {
		return "", fmt.Errorf("marshal spec: %w", err)
	}
	sum := blake3.Sum256(raw)
	return fmt.Sprintf("%x", sum), nil
}
