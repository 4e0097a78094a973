// Package merge implements xronox's deep-merge-with-array-union engine
// (spec §4.6). It is pure: no I/O, no locking, safe to call concurrently
// on distinct inputs.
package merge

// Records deep-merges source into target and returns the result. It never
// mutates target or source; every map and slice in the result is a fresh
// copy.
//
// Rules, applied recursively:
//   - source == nil returns target unchanged (deep-copied).
//   - target == nil returns a deep copy of source.
//   - both maps: every key in source is merged in; keys present only in
//     target survive untouched.
//   - both slices: union, order-preserving (target items first, then new
//     items from source in source order). Primitives dedupe by equality.
//     Objects (map[string]any) dedupe/merge by an "id" or "_id" identity
//     key when present; two elements sharing an identity key are
//     recursively merged into one.
//   - anything else (a leaf, or a type mismatch): source wins.
func Records(target, source any) any {
	if source == nil {
		return deepCopy(target)
	}
	if target == nil {
		return deepCopy(source)
	}

	targetMap, targetIsMap := target.(map[string]any)
	sourceMap, sourceIsMap := source.(map[string]any)
	if targetIsMap && sourceIsMap {
		return mergeMaps(targetMap, sourceMap)
	}

	targetSlice, targetIsSlice := target.([]any)
	sourceSlice, sourceIsSlice := source.([]any)
	if targetIsSlice && sourceIsSlice {
		return mergeSlices(targetSlice, sourceSlice)
	}

	// Type mismatch or leaf: source overrides.
	return deepCopy(source)
}

func mergeMaps(target, source map[string]any) map[string]any {
	out := make(map[string]any, len(target)+len(source))
	for k, v := range target {
		out[k] = deepCopy(v)
	}
	for k, v := range source {
		out[k] = Records(out[k], v)
	}
	return out
}

func mergeSlices(target, source []any) []any {
	out := make([]any, 0, len(target)+len(source))
	// index of target position by identity key, for objects that carry one
	idIndex := make(map[any]int)

	appendOrMerge := func(item any) {
		if obj, ok := item.(map[string]any); ok {
			if key, hasID := identityKey(obj); hasID {
				if pos, seen := idIndex[key]; seen {
					out[pos] = Records(out[pos], obj)
					return
				}
				idIndex[key] = len(out)
				out = append(out, deepCopy(obj))
				return
			}
		}
		if !containsPrimitive(out, item) {
			out = append(out, deepCopy(item))
		}
	}

	for _, item := range target {
		appendOrMerge(item)
	}
	for _, item := range source {
		appendOrMerge(item)
	}
	return out
}

func identityKey(obj map[string]any) (any, bool) {
	if v, ok := obj["id"]; ok {
		return v, true
	}
	if v, ok := obj["_id"]; ok {
		return v, true
	}
	return nil, false
}

// containsPrimitive reports whether a primitive-equal value is already
// present in out. Only called for non-object items, so a linear scan is
// fine for the typical small-array case this engine targets. Uncomparable
// values (nested slices) are never considered duplicates.
func containsPrimitive(out []any, item any) (found bool) {
	if _, ok := item.([]any); ok {
		return false
	}
	defer func() {
		if recover() != nil {
			found = false
		}
	}()
	for _, existing := range out {
		if existing == item {
			return true
		}
	}
	return false
}

func deepCopy(v any) any {
	switch t := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, val := range t {
			out[k] = deepCopy(val)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, val := range t {
			out[i] = deepCopy(val)
		}
		return out
	default:
		return v
	}
}
