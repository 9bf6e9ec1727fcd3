package core

// CloneVariables deep-copies a variable map. Nested maps and slices are
// copied; scalar values are shared.
func CloneVariables(vars map[string]any) map[string]any {
	if vars == nil {
		return nil
	}
	out := make(map[string]any, len(vars))
	for k, v := range vars {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v any) any {
	switch val := v.(type) {
	case map[string]any:
		return CloneVariables(val)
	case []any:
		cp := make([]any, len(val))
		for i, item := range val {
			cp[i] = cloneValue(item)
		}
		return cp
	case []byte:
		cp := make([]byte, len(val))
		copy(cp, val)
		return cp
	default:
		return v
	}
}

// MergeVariables returns a new map holding base overlaid with overrides.
// Keys present in overrides win. Neither input is modified.
func MergeVariables(base, overrides map[string]any) map[string]any {
	out := make(map[string]any, len(base)+len(overrides))
	for k, v := range base {
		out[k] = cloneValue(v)
	}
	for k, v := range overrides {
		out[k] = cloneValue(v)
	}
	return out
}
