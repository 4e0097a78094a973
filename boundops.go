package xronox

import (
	"context"
	"fmt"
	"time"

	"github.com/nx-intelligence/xronox/common"
	"github.com/nx-intelligence/xronox/config"
	"github.com/nx-intelligence/xronox/fallback"
	"github.com/nx-intelligence/xronox/idkit"
	"github.com/nx-intelligence/xronox/read"
	"github.com/nx-intelligence/xronox/router"
	"github.com/nx-intelligence/xronox/saga"
	"github.com/nx-intelligence/xronox/store"
	"github.com/nx-intelligence/xronox/xerrors"
)

// slowOpThreshold is the duration above which withRouteLogger's deferred
// LogDuration call logs at Warn instead of Debug.
const slowOpThreshold = 500 * time.Millisecond

// BoundOps is the per-request operation surface, bound to one
// (databaseType, tier, tenant/domain, collection) addressed by a
// RouteContext. Obtain one through Client.With; a BoundOps is cheap to
// build and safe to discard after a single call.
type BoundOps struct {
	client *Client
	rc     router.RouteContext
}

// With binds rc for every operation called on the returned BoundOps.
func (c *Client) With(rc router.RouteContext) *BoundOps {
	return &BoundOps{client: c, rc: rc}
}

// withRouteLogger returns ctx carrying a request-scoped ContextLogger for
// this BoundOps' route (tenant, database type, collection), plus that
// logger for the caller's own use (typically a deferred LogDuration call).
// Downstream code that wants it back out of ctx uses common.FromContext.
func (b *BoundOps) withRouteLogger(ctx context.Context, op string) (context.Context, *common.ContextLogger) {
	logger := common.NewContextLogger("boundops").
		WithFields(common.RouteFields(b.rc.TenantID, string(b.rc.DatabaseType), b.rc.Collection)).
		With("op", op)
	return common.WithContext(ctx, logger), logger
}

func (b *BoundOps) resolve(ctx context.Context) (store.DocumentStore, store.ObjectStore, router.Route, config.CollectionMap, error) {
	docs, objs, route, err := b.client.Resolve(ctx, b.rc)
	if err != nil {
		return nil, nil, router.Route{}, config.CollectionMap{}, err
	}
	return docs, objs, route, b.client.cfg.CollectionMaps[b.rc.Collection], nil
}

// maybeFallback is called after a saga run fails. Validation, not-found,
// and optimistic-lock failures are caller errors and are returned
// as-is; storage and transaction failures are durably queued (when
// fallback is configured) and reported back as a QueuedError instead of
// a hard failure.
func (b *BoundOps) maybeFallback(ctx context.Context, opKind saga.OpKind, in saga.Input, cause error) error {
	kind := xerrors.KindOf(cause)
	if kind != xerrors.KindStorage && kind != xerrors.KindTxn {
		return cause
	}
	if !b.client.cfg.Fallback.Enabled {
		return cause
	}

	docs, _, _, _, err := b.resolve(ctx)
	if err != nil {
		return cause
	}
	queue := fallback.NewQueue(docs)
	op := fallback.FallbackOp{
		OpKind: string(opKind),
		Context: fallback.OpContext{
			DatabaseType: string(b.rc.DatabaseType),
			Tier:         string(b.rc.Tier),
			TenantID:     b.rc.TenantID,
			Domain:       b.rc.Domain,
			DBName:       b.rc.DBName,
			Collection:   b.rc.Collection,
		},
		Payload: encodeFallbackPayload(in),
	}
	requestID, qerr := queue.Enqueue(ctx, op)
	if qerr != nil {
		log.WithError(qerr).WithField("collection", b.rc.Collection).Warn("enqueuing fallback op failed, surfacing original error")
		return cause
	}
	return xerrors.NewQueuedError(requestID, cause)
}

// ParentRef names the record a newly created item descends from.
type ParentRef struct {
	ID         string
	Collection string
}

// OriginRef names the external record a newly created item was imported
// from.
type OriginRef struct {
	ID         string
	Collection string
	System     string
}

// CreateOpts carries create's optional lineage.
type CreateOpts struct {
	ParentRecord *ParentRef
	Origin       *OriginRef
}

// Create implements create(data, actor?, reason?, opts?) (spec §4.2).
func (b *BoundOps) Create(ctx context.Context, data map[string]any, actor, reason string, opts CreateOpts) (saga.Output, error) {
	start := time.Now()
	var logger *common.ContextLogger
	ctx, logger = b.withRouteLogger(ctx, "create")
	defer logger.LogDuration("create", start, slowOpThreshold)

	docs, objs, route, spec, err := b.resolve(ctx)
	if err != nil {
		return saga.Output{}, err
	}
	in := saga.Input{Op: saga.OpCreate, Data: data, Actor: actor, Reason: reason}
	if opts.ParentRecord != nil {
		in.ParentID = opts.ParentRecord.ID
		in.ParentCollection = opts.ParentRecord.Collection
	}
	if opts.Origin != nil {
		in.OriginID = opts.Origin.ID
		in.OriginCollection = opts.Origin.Collection
		in.OriginSystem = opts.Origin.System
	}
	out, err := saga.New(b.client.sagaDeps(docs, objs, route, b.rc.Collection, spec)).Run(ctx, in)
	if err != nil {
		return out, b.maybeFallback(ctx, saga.OpCreate, in, err)
	}
	b.client.recordAnalytics(b.rc, "CREATE", data, out)
	return out, nil
}

// Update implements update(id, data, expectedOv?, actor?, reason?).
func (b *BoundOps) Update(ctx context.Context, id string, data map[string]any, expectedOv *int64, actor, reason string) (saga.Output, error) {
	start := time.Now()
	var logger *common.ContextLogger
	ctx, logger = b.withRouteLogger(ctx, "update")
	defer logger.LogDuration("update", start, slowOpThreshold)

	itemID, err := idkit.Parse(id)
	if err != nil {
		return saga.Output{}, xerrors.NewValidationError("invalid item id", err)
	}
	docs, objs, route, spec, err := b.resolve(ctx)
	if err != nil {
		return saga.Output{}, err
	}
	in := saga.Input{Op: saga.OpUpdate, ItemID: itemID, Data: data, ExpectedOv: expectedOv, Actor: actor, Reason: reason}
	out, err := saga.New(b.client.sagaDeps(docs, objs, route, b.rc.Collection, spec)).Run(ctx, in)
	if err != nil {
		return out, b.maybeFallback(ctx, saga.OpUpdate, in, err)
	}
	b.client.recordAnalytics(b.rc, "UPDATE", data, out)
	return out, nil
}

// Delete implements delete(id, expectedOv?, actor?, reason?). Whether
// this is a logical (soft) or hard delete is governed by
// config.LogicalDeleteConfig; HardDelete (admin.go) is a separate,
// explicit admin operation regardless of that setting.
func (b *BoundOps) Delete(ctx context.Context, id string, expectedOv *int64, actor, reason string) (saga.Output, error) {
	start := time.Now()
	var logger *common.ContextLogger
	ctx, logger = b.withRouteLogger(ctx, "delete")
	defer logger.LogDuration("delete", start, slowOpThreshold)

	itemID, err := idkit.Parse(id)
	if err != nil {
		return saga.Output{}, xerrors.NewValidationError("invalid item id", err)
	}
	docs, objs, route, spec, err := b.resolve(ctx)
	if err != nil {
		return saga.Output{}, err
	}
	in := saga.Input{Op: saga.OpDelete, ItemID: itemID, ExpectedOv: expectedOv, Actor: actor, Reason: reason}
	out, err := saga.New(b.client.sagaDeps(docs, objs, route, b.rc.Collection, spec)).Run(ctx, in)
	if err != nil {
		return out, b.maybeFallback(ctx, saga.OpDelete, in, err)
	}
	b.client.recordAnalytics(b.rc, "DELETE", nil, out)
	return out, nil
}

// EnrichOpts carries enrich's provenance option.
type EnrichOpts struct {
	FunctionID string
	Actor      string
	Reason     string
}

// Enrich implements enrich(id, enrichment, opts?): enrichment is one or
// more records, each deep-merged into the item in order via
// merge.Records (spec §4.6).
func (b *BoundOps) Enrich(ctx context.Context, id string, enrichments []map[string]any, opts EnrichOpts) (saga.Output, error) {
	start := time.Now()
	var logger *common.ContextLogger
	ctx, logger = b.withRouteLogger(ctx, "enrich")
	defer logger.LogDuration("enrich", start, slowOpThreshold)

	if len(enrichments) == 0 {
		return saga.Output{}, xerrors.NewValidationError("enrich requires at least one record", nil)
	}
	itemID, err := idkit.Parse(id)
	if err != nil {
		return saga.Output{}, xerrors.NewValidationError("invalid item id", err)
	}
	docs, objs, route, spec, err := b.resolve(ctx)
	if err != nil {
		return saga.Output{}, err
	}
	deps := b.client.sagaDeps(docs, objs, route, b.rc.Collection, spec)

	var out saga.Output
	for _, enrichment := range enrichments {
		in := saga.Input{Op: saga.OpEnrich, ItemID: itemID, Data: enrichment, FunctionID: opts.FunctionID, Actor: opts.Actor, Reason: opts.Reason}
		out, err = saga.New(deps).Run(ctx, in)
		if err != nil {
			return out, b.maybeFallback(ctx, saga.OpEnrich, in, err)
		}
	}
	b.client.recordAnalytics(b.rc, "UPDATE", enrichments[len(enrichments)-1], out)
	return out, nil
}

// SmartInsertOpts carries smartInsert's dedup and provenance options.
type SmartInsertOpts struct {
	UniqueKeys []string
	FunctionID string
	Actor      string
	Reason     string
}

// SmartInsert implements smartInsert(data, opts{uniqueKeys[], ...}): a
// record matching every uniqueKeys field against an existing item is
// merged into it (Output.Created = false); otherwise a new item is
// created (Output.Created = true).
func (b *BoundOps) SmartInsert(ctx context.Context, data map[string]any, opts SmartInsertOpts) (saga.Output, error) {
	start := time.Now()
	var logger *common.ContextLogger
	ctx, logger = b.withRouteLogger(ctx, "smartInsert")
	defer logger.LogDuration("smartInsert", start, slowOpThreshold)

	if len(opts.UniqueKeys) == 0 {
		return saga.Output{}, xerrors.NewValidationError("smartInsert requires at least one unique key", nil)
	}
	docs, objs, route, spec, err := b.resolve(ctx)
	if err != nil {
		return saga.Output{}, err
	}

	itemID, err := b.findByUniqueKeys(ctx, docs, opts.UniqueKeys, data)
	if err != nil {
		return saga.Output{}, err
	}

	in := saga.Input{
		Op:         saga.OpSmartInsert,
		ItemID:     itemID,
		Data:       data,
		UniqueKeys: opts.UniqueKeys,
		FunctionID: opts.FunctionID,
		Actor:      opts.Actor,
		Reason:     opts.Reason,
	}
	out, err := saga.New(b.client.sagaDeps(docs, objs, route, b.rc.Collection, spec)).Run(ctx, in)
	if err != nil {
		return out, b.maybeFallback(ctx, saga.OpSmartInsert, in, err)
	}
	opKind := "UPDATE"
	if out.Created {
		opKind = "CREATE"
	}
	b.client.recordAnalytics(b.rc, opKind, data, out)
	return out, nil
}

func (b *BoundOps) findByUniqueKeys(ctx context.Context, docs store.DocumentStore, uniqueKeys []string, data map[string]any) (idkit.ID, error) {
	eq := make(map[string]any, len(uniqueKeys))
	for _, k := range uniqueKeys {
		eq[k] = data[k]
	}
	page, err := docs.QueryHead(ctx, b.rc.Collection, store.MetaFilter{Eq: eq}, nil, store.Page{Limit: 1})
	if err != nil {
		return idkit.ID{}, xerrors.NewStorageError("looking up smartInsert unique keys", err)
	}
	if len(page.Items) == 0 {
		return idkit.ID{}, nil
	}
	return idkit.Parse(page.Items[0].ID)
}

// GetItemOpts mirrors read.GetItemOpts plus the presign toggle, which
// read doesn't know about since it has no concept of backend capability.
type GetItemOpts struct {
	Ov             *int64
	At             *time.Time
	IncludeMeta    bool
	IncludeDeleted bool
	Projection     []string
	Presign        bool
	PresignTTL     int
}

// GetItem implements getItem(id, opts?) (spec §4.3).
func (b *BoundOps) GetItem(ctx context.Context, id string, opts GetItemOpts) (*read.ItemView, error) {
	start := time.Now()
	var logger *common.ContextLogger
	ctx, logger = b.withRouteLogger(ctx, "getItem")
	defer logger.LogDuration("getItem", start, slowOpThreshold)

	docs, objs, _, _, err := b.resolve(ctx)
	if err != nil {
		return nil, err
	}
	view, err := read.GetItem(ctx, docs, objs, b.rc.Collection, id, read.GetItemOpts{
		Ov:             opts.Ov,
		At:             opts.At,
		IncludeMeta:    opts.IncludeMeta,
		IncludeDeleted: opts.IncludeDeleted,
		Projection:     opts.Projection,
	})
	if err != nil || view == nil {
		return view, err
	}
	if opts.Presign {
		presignBlobRefs(ctx, objs, view.Payload, opts.PresignTTL)
	}
	return view, nil
}

// presignBlobRefs walks payload for externalizer blob references
// ({bucket, key, ...}, see externalize.Result) and adds a presigned "url"
// field in place, recursing into nested maps. Failures are logged and
// skipped; a missing presign is not fatal to the read.
func presignBlobRefs(ctx context.Context, objs store.ObjectStore, payload map[string]any, ttl int) {
	if ttl <= 0 {
		ttl = 900
	}
	for _, v := range payload {
		ref, ok := v.(map[string]any)
		if !ok {
			continue
		}
		bucket, hasBucket := ref["bucket"].(string)
		key, hasKey := ref["key"].(string)
		if hasBucket && hasKey {
			url, err := objs.PresignGet(ctx, bucket, key, ttl)
			if err != nil {
				log.WithError(err).WithField("key", key).Warn("presigning blob reference failed")
				continue
			}
			ref["url"] = url
			continue
		}
		presignBlobRefs(ctx, objs, ref, ttl)
	}
}

// QueryOpts mirrors read.QueryOpts.
type QueryOpts struct {
	At             *time.Time
	Limit          int
	PageToken      string
	IncludeDeleted bool
}

// Query implements query(filter, opts?) (spec §4.3), rejecting any
// filter field outside the collection's configured indexedProps.
func (b *BoundOps) Query(ctx context.Context, filter store.MetaFilter, opts QueryOpts) (read.QueryResult, error) {
	start := time.Now()
	var logger *common.ContextLogger
	ctx, logger = b.withRouteLogger(ctx, "query")
	defer logger.LogDuration("query", start, slowOpThreshold)

	docs, objs, _, spec, err := b.resolve(ctx)
	if err != nil {
		return read.QueryResult{}, err
	}
	if err := read.ValidateFilterFields(filter, spec.IndexedProps); err != nil {
		return read.QueryResult{}, err
	}
	return read.Query(ctx, docs, objs, b.rc.Collection, filter, read.QueryOpts{
		At:             opts.At,
		Limit:          opts.Limit,
		PageToken:      opts.PageToken,
		IncludeDeleted: opts.IncludeDeleted,
	})
}

// RestoreTarget names a single item's restore point: exactly one of Ov
// or At must be set.
type RestoreTarget struct {
	Ov *int64
	At *time.Time
}

// RestoreObject implements restoreObject(id, to{ov} or {at}): the
// payload active at the target point becomes a new RESTORE version on
// top of the item's current head, clearing logical-delete state.
func (b *BoundOps) RestoreObject(ctx context.Context, id string, to RestoreTarget, actor, reason string) (saga.Output, error) {
	start := time.Now()
	var logger *common.ContextLogger
	ctx, logger = b.withRouteLogger(ctx, "restoreObject")
	defer logger.LogDuration("restoreObject", start, slowOpThreshold)

	itemID, err := idkit.Parse(id)
	if err != nil {
		return saga.Output{}, xerrors.NewValidationError("invalid item id", err)
	}
	docs, objs, route, spec, err := b.resolve(ctx)
	if err != nil {
		return saga.Output{}, err
	}

	var historical *store.VersionRow
	switch {
	case to.Ov != nil:
		historical, err = docs.FindVersionByOv(ctx, b.rc.Collection, id, *to.Ov)
	case to.At != nil:
		historical, err = docs.FindVersionAsOf(ctx, b.rc.Collection, id, *to.At)
	default:
		return saga.Output{}, xerrors.NewValidationError("restoreObject requires to.ov or to.at", nil)
	}
	if err != nil {
		return saga.Output{}, xerrors.NewStorageError("reading version to restore", err)
	}
	if historical == nil {
		return saga.Output{}, xerrors.NewNotFoundError(fmt.Sprintf("no version to restore for %s in %s", id, b.rc.Collection), nil)
	}

	var payload map[string]any
	if err := objs.GetJSON(ctx, historical.JSONBucket, historical.JSONKey, &payload); err != nil {
		return saga.Output{}, xerrors.NewStorageError("loading version payload to restore", err)
	}

	in := saga.Input{Op: saga.OpRestore, ItemID: itemID, Data: payload, Actor: actor, Reason: reason}
	out, err := saga.New(b.client.sagaDeps(docs, objs, route, b.rc.Collection, spec)).Run(ctx, in)
	if err != nil {
		return out, b.maybeFallback(ctx, saga.OpRestore, in, err)
	}
	b.client.recordAnalytics(b.rc, "RESTORE", payload, out)
	return out, nil
}

// RestoreCollectionTarget names a bulk restore point: exactly one of Cv
// or At must be set.
type RestoreCollectionTarget struct {
	Cv *int64
	At *time.Time
}

// RestoreItemResult is one item's outcome within a RestoreCollection run.
type RestoreItemResult struct {
	ID  string
	Err error
}

// RestoreCollection implements restoreCollection(to{cv} or {at}): every
// item in the bound collection is restored to its state as of the
// target point, streamed page by page so a failure on one item never
// aborts the rest.
func (b *BoundOps) RestoreCollection(ctx context.Context, to RestoreCollectionTarget, actor, reason string) ([]RestoreItemResult, error) {
	start := time.Now()
	var logger *common.ContextLogger
	ctx, logger = b.withRouteLogger(ctx, "restoreCollection")
	defer logger.LogDuration("restoreCollection", start, slowOpThreshold)

	docs, _, _, _, err := b.resolve(ctx)
	if err != nil {
		return nil, err
	}

	var at time.Time
	switch {
	case to.At != nil:
		at = *to.At
	case to.Cv != nil:
		boundary, found, err := docs.FindCvBoundary(ctx, b.rc.Collection, *to.Cv)
		if err != nil {
			return nil, xerrors.NewStorageError("resolving cv boundary", err)
		}
		if !found {
			return nil, xerrors.NewNotFoundError(fmt.Sprintf("no version with cv %d in %s", *to.Cv, b.rc.Collection), nil)
		}
		at = boundary
	default:
		return nil, xerrors.NewValidationError("restoreCollection requires to.cv or to.at", nil)
	}

	var results []RestoreItemResult
	pageToken := ""
	for {
		versions, next, err := docs.QueryVersionsAsOf(ctx, b.rc.Collection, store.MetaFilter{}, at, store.Page{Token: pageToken, Limit: 1000})
		if err != nil {
			return results, xerrors.NewStorageError("listing collection versions as of restore point", err)
		}
		for _, v := range versions {
			pinnedAt := at
			_, rerr := b.RestoreObject(ctx, v.ItemID, RestoreTarget{At: &pinnedAt}, actor, reason)
			results = append(results, RestoreItemResult{ID: v.ItemID, Err: rerr})
		}
		if next == "" {
			break
		}
		pageToken = next
	}
	return results, nil
}
