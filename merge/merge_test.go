package merge

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRecords_NilSource(t *testing.T) {
	target := map[string]any{"a": 1}
	got := Records(target, nil)
	assert.Equal(t, target, got)
}

func TestRecords_NilTarget(t *testing.T) {
	source := map[string]any{"a": 1}
	got := Records(nil, source)
	assert.Equal(t, source, got)
}

func TestRecords_MapMergeKeepsUntouchedKeys(t *testing.T) {
	target := map[string]any{"x": 1, "keep": "me"}
	source := map[string]any{"x": 2, "y": 3}
	got := Records(target, source)
	assert.Equal(t, map[string]any{"x": 2, "y": 3, "keep": "me"}, got)
}

func TestRecords_ArrayUnionOrderPreserving(t *testing.T) {
	target := []any{"a"}
	source := []any{"b", "a"}
	got := Records(target, source)
	assert.Equal(t, []any{"a", "b"}, got)
}

func TestRecords_ArrayUnionMergesByIdentityKey(t *testing.T) {
	target := []any{map[string]any{"id": "1", "name": "old"}}
	source := []any{map[string]any{"id": "1", "extra": true}}
	got := Records(target, source)
	want := []any{map[string]any{"id": "1", "name": "old", "extra": true}}
	assert.Equal(t, want, got)
}

func TestRecords_SpecExample(t *testing.T) {
	target := map[string]any{
		"tags": []any{"a"},
		"meta": map[string]any{"x": 1},
	}
	source := map[string]any{
		"tags": []any{"b", "a"},
		"meta": map[string]any{"y": 2},
	}
	got := Records(target, source)
	want := map[string]any{
		"tags": []any{"a", "b"},
		"meta": map[string]any{"x": 1, "y": 2},
	}
	assert.Equal(t, want, got)
}

func TestRecords_TypeMismatchSourceWins(t *testing.T) {
	got := Records("old", 42)
	assert.Equal(t, 42, got)
}

func TestRecords_DoesNotMutateInputs(t *testing.T) {
	target := map[string]any{"a": []any{1, 2}}
	source := map[string]any{"a": []any{3}}
	_ = Records(target, source)
	assert.Equal(t, map[string]any{"a": []any{1, 2}}, target)
	assert.Equal(t, map[string]any{"a": []any{3}}, source)
}
