package runtime

import (
	"fmt"

	"github.com/forgeworks-ai/toolforge/spec"
)

// ApplyReducer folds an action's output into tool state according to the
// declared reducer. The input state is never mutated; a new map is
// returned so snapshot history stays stable.
func ApplyReducer(r spec.Reducer, state map[string]any, output any) (map[string]any, error) {
	next := cloneState(state)

	switch r.Kind {
	case spec.ReducerSet:
		// Replace the whole state, or one field when declared.
		if r.Field == "" {
			m, ok := output.(map[string]any)
			if !ok {
				return nil, fmt.Errorf("reducer %q: set without field requires a map output, got %T", r.ID, output)
			}
			return cloneState(m), nil
		}
		next[r.Field] = output
		return next, nil

	case spec.ReducerMerge:
		patch, ok := output.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("reducer %q: merge requires a map output, got %T", r.ID, output)
		}
		if r.Field == "" {
			for k, v := range patch {
				next[k] = v
			}
			return next, nil
		}
		existing, _ := next[r.Field].(map[string]any)
		merged := cloneState(existing)
		for k, v := range patch {
			merged[k] = v
		}
		next[r.Field] = merged
		return next, nil

	case spec.ReducerAppend:
		if r.Field == "" {
			return nil, fmt.Errorf("reducer %q: append requires a field", r.ID)
		}
		list := toList(next[r.Field])
		switch v := output.(type) {
		case []any:
			list = append(list, v...)
		default:
			list = append(list, v)
		}
		next[r.Field] = list
		return next, nil

	case spec.ReducerRemove:
		if r.Field == "" {
			return nil, fmt.Errorf("reducer %q: remove requires a field", r.ID)
		}
		id := outputID(output)
		if id == "" {
			return nil, fmt.Errorf("reducer %q: remove requires an output with an id", r.ID)
		}
		list := toList(next[r.Field])
		filtered := make([]any, 0, len(list))
		for _, item := range list {
			if itemID(item) == id {
				continue
			}
			filtered = append(filtered, item)
		}
		next[r.Field] = filtered
		return next, nil

	default:
		return nil, fmt.Errorf("reducer %q: unknown kind %q", r.ID, r.Kind)
	}
}

func cloneState(state map[string]any) map[string]any {
	out := make(map[string]any, len(state))
	for k, v := range state {
		out[k] = v
	}
	return out
}

func toList(v any) []any {
	list, ok := v.([]any)
	if !ok {
		return make([]any, 0)
	}
	out := make([]any, len(list))
	copy(out, list)
	return out
}

func outputID(output any) string {
	switch v := output.(type) {
	case string:
		return v
	case map[string]any:
		return itemID(v)
	}
	return ""
}

func itemID(item any) string {
	m, ok := item.(map[string]any)
	if !ok {
		return ""
	}
	id, _ := m["id"].(string)
	return id
}
