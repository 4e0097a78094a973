// Package externalize implements the write path's blob extraction step
// (spec §4.5): pulling base64-encoded fields out of a payload into the
// object store and replacing them with a small reference object, then
// projecting the collection's indexed properties into a flat metaIndexed
// map.
package externalize

import (
	"context"
	"encoding/base64"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/nx-intelligence/xronox/config"
	"github.com/nx-intelligence/xronox/store"
	"github.com/nx-intelligence/xronox/xerrors"
)

// Result is the output of Externalize: the transformed payload with
// blob fields replaced by reference objects, the flat metaIndexed
// projection, and the list of object keys written (so the saga can roll
// them back on a later failure).
type Result struct {
	Transformed map[string]any
	MetaIndexed map[string]any
	Written     []store.ObjectRef
}

// Externalize extracts every base64Props field from payload, uploads it
// to objStore under the given bucket/keyPrefix, and projects indexedProps
// into a flat map.
func Externalize(ctx context.Context, objStore store.ObjectStore, bucket, keyPrefix string, payload map[string]any, spec config.CollectionMap) (Result, error) {
	transformed := deepCopyMap(payload)
	var written []store.ObjectRef
	// rollback best-effort deletes the blobs already uploaded in this call
	// before an error is returned, since Result{} carries no keys.
	rollback := func() {
		for _, ref := range written {
			_ = objStore.Delete(ctx, ref.Bucket, ref.Key)
		}
	}

	for prop, propSpec := range spec.Base64Props {
		raw, ok := lookupPath(transformed, prop)
		if !ok {
			continue
		}
		str, ok := raw.(string)
		if !ok {
			rollback()
			return Result{}, xerrors.NewExternalizationError(fmt.Sprintf("field %q is not a base64 string", prop), nil)
		}

		data, err := base64.StdEncoding.DecodeString(str)
		if err != nil {
			rollback()
			return Result{}, xerrors.NewExternalizationError(fmt.Sprintf("decoding base64 field %q", prop), err)
		}

		ext := "bin"
		contentType := "application/octet-stream"
		charset := propSpec.Charset
		if charset == "" {
			charset = "utf-8"
		}
		if propSpec.PreferredText && isValidCharset(data, charset) {
			ext = "txt"
			contentType = "text/plain; charset=" + charset
		}

		key := fmt.Sprintf("%s/%s/blob.%s", keyPrefix, prop, ext)
		size, sum, err := objStore.PutBytes(ctx, bucket, key, data, contentType)
		if err != nil {
			rollback()
			return Result{}, xerrors.NewExternalizationError(fmt.Sprintf("uploading blob for field %q", prop), err)
		}

		ref := store.ObjectRef{Bucket: bucket, Key: key, Size: size, ContentType: contentType, SHA256: sum}
		written = append(written, ref)

		setPath(transformed, prop, map[string]any{
			"bucket":      ref.Bucket,
			"key":         ref.Key,
			"size":        ref.Size,
			"contentType": ref.ContentType,
			"sha256":      ref.SHA256,
		})
	}

	metaIndexed := project(transformed, spec.IndexedProps)

	return Result{Transformed: transformed, MetaIndexed: metaIndexed, Written: written}, nil
}

// isValidCharset reports whether data decodes cleanly under charset.
// Only utf-8 is actually checked; other charset names are accepted
// as-is since Go's stdlib has no generic charset decoder.
func isValidCharset(data []byte, charset string) bool {
	if strings.EqualFold(charset, "utf-8") || strings.EqualFold(charset, "utf8") {
		return utf8.Valid(data)
	}
	return true
}

// project builds the flat metaIndexed map from dot-path property names.
func project(payload map[string]any, indexedProps []string) map[string]any {
	out := make(map[string]any, len(indexedProps))
	for _, prop := range indexedProps {
		if v, ok := lookupPath(payload, prop); ok {
			out[prop] = v
		}
	}
	return out
}

// lookupPath resolves a dot-separated path against nested maps.
func lookupPath(m map[string]any, path string) (any, bool) {
	parts := strings.Split(path, ".")
	var cur any = m
	for _, p := range parts {
		asMap, ok := cur.(map[string]any)
		if !ok {
			return nil, false
		}
		cur, ok = asMap[p]
		if !ok {
			return nil, false
		}
	}
	return cur, true
}

// setPath writes value at a dot-separated path, creating intermediate
// maps as needed.
func setPath(m map[string]any, path string, value any) {
	parts := strings.Split(path, ".")
	cur := m
	for i, p := range parts {
		if i == len(parts)-1 {
			cur[p] = value
			return
		}
		next, ok := cur[p].(map[string]any)
		if !ok {
			next = make(map[string]any)
			cur[p] = next
		}
		cur = next
	}
}

func deepCopyMap(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = deepCopyValue(v)
	}
	return out
}

func deepCopyValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		return deepCopyMap(t)
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = deepCopyValue(e)
		}
		return out
	default:
		return v
	}
}
