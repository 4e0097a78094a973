// Package read implements xronox's read path (spec §4.3): getItem with
// latest/ov/as-of modes, and query with latest/as-of modes, built
// directly over the store.DocumentStore / store.ObjectStore interfaces
// so it works against any adapter.
package read

import (
	"context"
	"fmt"
	"time"

	"github.com/nx-intelligence/xronox/store"
	"github.com/nx-intelligence/xronox/xerrors"
)

// GetItemOpts configures a single-item read.
type GetItemOpts struct {
	Ov             *int64
	At             *time.Time
	IncludeMeta    bool
	IncludeDeleted bool
	Projection     []string
}

// Meta is the `_meta` block returned when IncludeMeta is set.
type Meta struct {
	Ov          int64
	Cv          int64
	At          time.Time
	MetaIndexed map[string]any
}

// ItemView is the result of GetItem: the (optionally projected) payload
// plus an optional Meta block.
type ItemView struct {
	Payload map[string]any
	Meta    *Meta
}

// GetItem implements spec §4.3's getItem: latest by default, a specific
// ov, or the version active as-of a point in time.
func GetItem(ctx context.Context, docs store.DocumentStore, objs store.ObjectStore, collection, id string, opts GetItemOpts) (*ItemView, error) {
	switch {
	case opts.Ov != nil:
		return getByOv(ctx, docs, objs, collection, id, *opts.Ov, opts)
	case opts.At != nil:
		return getAsOf(ctx, docs, objs, collection, id, *opts.At, opts)
	default:
		return getLatest(ctx, docs, objs, collection, id, opts)
	}
}

func getLatest(ctx context.Context, docs store.DocumentStore, objs store.ObjectStore, collection, id string, opts GetItemOpts) (*ItemView, error) {
	head, err := docs.FindHead(ctx, collection, id)
	if err != nil {
		return nil, xerrors.NewStorageError("reading head", err)
	}
	if head == nil {
		return nil, nil
	}
	if head.System.Deleted && !opts.IncludeDeleted {
		return nil, nil
	}

	payload, err := loadHeadPayload(ctx, objs, head)
	if err != nil {
		return nil, err
	}
	return buildView(payload, head.Ov, head.Cv, head.UpdatedAt, head.MetaIndexed, opts), nil
}

func getByOv(ctx context.Context, docs store.DocumentStore, objs store.ObjectStore, collection, id string, ov int64, opts GetItemOpts) (*ItemView, error) {
	v, err := docs.FindVersionByOv(ctx, collection, id, ov)
	if err != nil {
		return nil, xerrors.NewStorageError("reading version", err)
	}
	if v == nil {
		return nil, nil
	}
	if v.System.Deleted && !opts.IncludeDeleted {
		return nil, nil
	}
	var payload map[string]any
	if err := objs.GetJSON(ctx, v.JSONBucket, v.JSONKey, &payload); err != nil {
		return nil, xerrors.NewStorageError("loading version payload", err)
	}
	return buildView(payload, v.Ov, v.Cv, v.At, v.MetaIndexed, opts), nil
}

func getAsOf(ctx context.Context, docs store.DocumentStore, objs store.ObjectStore, collection, id string, at time.Time, opts GetItemOpts) (*ItemView, error) {
	v, err := docs.FindVersionAsOf(ctx, collection, id, at)
	if err != nil {
		return nil, xerrors.NewStorageError("reading as-of version", err)
	}
	if v == nil {
		return nil, nil // at before item's earliest version
	}
	if v.System.Deleted && !opts.IncludeDeleted {
		return nil, nil
	}
	var payload map[string]any
	if err := objs.GetJSON(ctx, v.JSONBucket, v.JSONKey, &payload); err != nil {
		return nil, xerrors.NewStorageError("loading as-of payload", err)
	}
	return buildView(payload, v.Ov, v.Cv, v.At, v.MetaIndexed, opts), nil
}

func loadHeadPayload(ctx context.Context, objs store.ObjectStore, head *store.HeadRow) (map[string]any, error) {
	if head.FullShadow != nil {
		return head.FullShadow, nil
	}
	var payload map[string]any
	if err := objs.GetJSON(ctx, head.JSONBucket, head.JSONKey, &payload); err != nil {
		return nil, xerrors.NewStorageError("loading head payload", err)
	}
	return payload, nil
}

func buildView(payload map[string]any, ov, cv int64, at time.Time, metaIndexed map[string]any, opts GetItemOpts) *ItemView {
	if len(opts.Projection) > 0 {
		payload = project(payload, opts.Projection)
	}
	view := &ItemView{Payload: payload}
	if opts.IncludeMeta {
		view.Meta = &Meta{Ov: ov, Cv: cv, At: at, MetaIndexed: metaIndexed}
	}
	return view
}

func project(payload map[string]any, fields []string) map[string]any {
	out := make(map[string]any, len(fields))
	for _, f := range fields {
		if v, ok := payload[f]; ok {
			out[f] = v
		}
	}
	return out
}

// QueryOpts configures a multi-item query over a collection's
// MetaIndexed projection.
type QueryOpts struct {
	At             *time.Time
	Limit          int
	PageToken      string
	IncludeDeleted bool
}

// QueryResult is one page of item views plus the token for the next page.
type QueryResult struct {
	Items     []ItemView
	PageToken string
}

// Query implements spec §4.3's query: latest (filter over Head) or
// as-of (resolve each matched item's version active at the given time).
func Query(ctx context.Context, docs store.DocumentStore, objs store.ObjectStore, collection string, filter store.MetaFilter, opts QueryOpts) (QueryResult, error) {
	limit := opts.Limit
	if limit <= 0 {
		limit = 1000
	}
	if limit > 1000 {
		limit = 1000
	}

	if opts.At != nil {
		return queryAsOf(ctx, docs, objs, collection, filter, *opts.At, limit, opts)
	}
	return queryLatest(ctx, docs, objs, collection, filter, limit, opts)
}

func queryLatest(ctx context.Context, docs store.DocumentStore, objs store.ObjectStore, collection string, filter store.MetaFilter, limit int, opts QueryOpts) (QueryResult, error) {
	page, err := docs.QueryHead(ctx, collection, filter, []store.Sort{{Field: "cv", Dir: store.Ascending}, {Field: "id", Dir: store.Ascending}}, store.Page{Token: opts.PageToken, Limit: limit})
	if err != nil {
		return QueryResult{}, xerrors.NewStorageError("querying heads", err)
	}

	items := make([]ItemView, 0, len(page.Items))
	for _, head := range page.Items {
		if head.System.Deleted && !opts.IncludeDeleted {
			continue
		}
		payload, err := loadHeadPayload(ctx, objs, &head)
		if err != nil {
			return QueryResult{}, err
		}
		items = append(items, ItemView{
			Payload: payload,
			Meta:    &Meta{Ov: head.Ov, Cv: head.Cv, At: head.UpdatedAt, MetaIndexed: head.MetaIndexed},
		})
	}
	return QueryResult{Items: items, PageToken: page.NextToken}, nil
}

func queryAsOf(ctx context.Context, docs store.DocumentStore, objs store.ObjectStore, collection string, filter store.MetaFilter, at time.Time, limit int, opts QueryOpts) (QueryResult, error) {
	versions, next, err := docs.QueryVersionsAsOf(ctx, collection, filter, at, store.Page{Token: opts.PageToken, Limit: limit})
	if err != nil {
		return QueryResult{}, xerrors.NewStorageError("querying as-of versions", err)
	}

	items := make([]ItemView, 0, len(versions))
	for _, v := range versions {
		if v.System.Deleted && !opts.IncludeDeleted {
			continue
		}
		var payload map[string]any
		if err := objs.GetJSON(ctx, v.JSONBucket, v.JSONKey, &payload); err != nil {
			return QueryResult{}, fmt.Errorf("read: loading as-of payload for %s: %w", v.ItemID, err)
		}
		items = append(items, ItemView{
			Payload: payload,
			Meta:    &Meta{Ov: v.Ov, Cv: v.Cv, At: v.At, MetaIndexed: v.MetaIndexed},
		})
	}
	return QueryResult{Items: items, PageToken: next}, nil
}

// ValidateFilterFields rejects a filter that references a field outside
// the collection's indexedProps (spec §4.3 edge case).
func ValidateFilterFields(filter store.MetaFilter, indexedProps []string) error {
	allowed := make(map[string]bool, len(indexedProps))
	for _, p := range indexedProps {
		allowed[p] = true
	}
	for field := range filter.Eq {
		if !allowed[field] {
			return xerrors.NewValidationError(fmt.Sprintf("field %q is not indexed", field), nil)
		}
	}
	for field := range filter.In {
		if !allowed[field] {
			return xerrors.NewValidationError(fmt.Sprintf("field %q is not indexed", field), nil)
		}
	}
	for field := range filter.Gte {
		if !allowed[field] {
			return xerrors.NewValidationError(fmt.Sprintf("field %q is not indexed", field), nil)
		}
	}
	for field := range filter.Lte {
		if !allowed[field] {
			return xerrors.NewValidationError(fmt.Sprintf("field %q is not indexed", field), nil)
		}
	}
	for field := range filter.Exists {
		if !allowed[field] {
			return xerrors.NewValidationError(fmt.Sprintf("field %q is not indexed", field), nil)
		}
	}
	return nil
}
