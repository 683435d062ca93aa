package config

// Merge deep-merges configuration layers, lowest precedence first. Maps
// merge recursively; scalars and lists are replaced wholesale by higher
// layers. Input layers are never mutated and the result shares no mutable
// state with them.
func Merge(layers ...map[string]any) map[string]any {
	out := make(map[string]any)
	for _, layer := range layers {
		mergeInto(out, layer)
	}
	return out
}

func mergeInto(dst, src map[string]any) {
	for k, v := range src {
		if sv, ok := v.(map[string]any); ok {
			if dv, ok := dst[k].(map[string]any); ok {
				mergeInto(dv, sv)
				continue
			}
			next := make(map[string]any)
			mergeInto(next, sv)
			dst[k] = next
			continue
		}
		dst[k] = cloneValue(v)
	}
}

// Clone returns a deep copy of a configuration tree.
func Clone(tree map[string]any) map[string]any {
	if tree == nil {
		return nil
	}
	out := make(map[string]any, len(tree))
	mergeInto(out, tree)
	return out
}

func cloneValue(v any) any {
	switch tv := v.(type) {
	case map[string]any:
		return Clone(tv)
	case []any:
		out := make([]any, len(tv))
		for i, e := range tv {
			out[i] = cloneValue(e)
		}
		return out
	default:
		return v
	}
}
