package analytics

import "strings"

// Eval evaluates a CounterRule's `when` predicate against a document
// (either the item's metaIndexed projection or its full payload,
// depending on the rule's Scope) and reports whether the rule matches.
//
// `when` is a subset of the doc-store's filter language (spec §4.8):
// each key is a dot-path into doc, and its value is either a literal
// (nested-path equality) or a single-key operator map: $in, $gte,
// $lte, $exists.
func Eval(when map[string]any, doc map[string]any) bool {
	for path, want := range when {
		actual, found := lookupPath(doc, path)
		if !evalField(want, actual, found) {
			return false
		}
	}
	return true
}

func evalField(want any, actual any, found bool) bool {
	op, ok := want.(map[string]any)
	if !ok {
		return found && actual == want
	}

	if v, ok := op["$exists"]; ok {
		want, _ := v.(bool)
		return found == want
	}
	if !found {
		return false
	}
	if v, ok := op["$in"]; ok {
		return inSet(v, actual)
	}
	if v, ok := op["$gte"]; ok {
		c, ok := compareNumeric(actual, v)
		return ok && c >= 0
	}
	if v, ok := op["$lte"]; ok {
		c, ok := compareNumeric(actual, v)
		return ok && c <= 0
	}
	return false
}

func inSet(set any, actual any) bool {
	items, ok := set.([]any)
	if !ok {
		return false
	}
	for _, v := range items {
		if v == actual {
			return true
		}
	}
	return false
}

// compareNumeric compares a and b as float64, returning -1/0/1 and true.
// Values that can't be coerced to a number report false, so a $gte/$lte
// against a non-numeric field never falsely matches on a parse error.
func compareNumeric(a, b any) (int, bool) {
	af, aok := toFloat(a)
	bf, bok := toFloat(b)
	if !aok || !bok {
		return 0, false
	}
	switch {
	case af < bf:
		return -1, true
	case af > bf:
		return 1, true
	default:
		return 0, true
	}
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	}
	return 0, false
}

func lookupPath(doc map[string]any, path string) (any, bool) {
	segments := strings.Split(path, ".")
	var cur any = doc
	for _, seg := range segments {
		m, ok := cur.(map[string]any)
		if !ok {
			return nil, false
		}
		v, ok := m[seg]
		if !ok {
			return nil, false
		}
		cur = v
	}
	return cur, true
}
