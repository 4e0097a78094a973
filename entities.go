package xronox

import (
	"context"

	"github.com/nx-intelligence/xronox/read"
	"github.com/nx-intelligence/xronox/router"
	"github.com/nx-intelligence/xronox/saga"
	"github.com/nx-intelligence/xronox/store"
	"github.com/nx-intelligence/xronox/xerrors"
)

// EntityMapping names one embedded entity kind to fan out on
// insertWithEntities/getWithEntities: Property is the field in the main
// record holding the embedded object (or array of objects), Collection
// is where each one is stored as its own item, and KeyProperty is the
// field within the embedded object that smartInsert dedups on.
type EntityMapping struct {
	Property    string
	Collection  string
	KeyProperty string
}

// InsertWithEntitiesOpts carries the mappings plus the usual create
// options for the main record.
type InsertWithEntitiesOpts struct {
	Mappings []EntityMapping
	Actor    string
	Reason   string
	Create   CreateOpts
}

// EntityResult is one fanned-out entity's outcome.
type EntityResult struct {
	Mapping EntityMapping
	Output  saga.Output
	Err     error
}

// InsertWithEntitiesOutput bundles the main record's saga.Output with the
// per-entity results of the fan-out.
type InsertWithEntitiesOutput struct {
	Main     saga.Output
	Entities []EntityResult
}

// InsertWithEntities splits data into a main record write plus one
// create/smartInsert per opts.Mappings entry, keyed by each mapping's
// KeyProperty (spec §5). Each embedded value (object or array of
// objects) is smartInserted into its own collection via the mapping's
// BoundOps, bound to the same RouteContext but a different Collection;
// the main record keeps only the entity's key value(s) under Property in
// place of the embedded object, so GetWithEntities can look the entity
// back up later.
func (b *BoundOps) InsertWithEntities(ctx context.Context, data map[string]any, opts InsertWithEntitiesOpts) (InsertWithEntitiesOutput, error) {
	main := make(map[string]any, len(data))
	for k, v := range data {
		main[k] = v
	}

	var entities []EntityResult
	for _, m := range opts.Mappings {
		raw, ok := data[m.Property]
		if !ok {
			continue
		}

		records := asEntityRecords(raw)
		entityOps := b.client.With(routeFor(b.rc, m.Collection))
		keyValues := make([]any, 0, len(records))
		for _, rec := range records {
			out, err := entityOps.SmartInsert(ctx, rec, SmartInsertOpts{
				UniqueKeys: []string{m.KeyProperty},
				Actor:      opts.Actor,
				Reason:     opts.Reason,
			})
			entities = append(entities, EntityResult{Mapping: m, Output: out, Err: err})
			if err == nil {
				keyValues = append(keyValues, rec[m.KeyProperty])
			}
		}
		if len(keyValues) == 1 {
			main[m.Property] = keyValues[0]
		} else if len(keyValues) > 1 {
			main[m.Property] = keyValues
		} else {
			delete(main, m.Property)
		}
	}

	mainOut, err := b.Create(ctx, main, opts.Actor, opts.Reason, opts.Create)
	return InsertWithEntitiesOutput{Main: mainOut, Entities: entities}, err
}

// GetWithEntitiesOutput bundles a main record's view with its resolved
// entity records, keyed by EntityMapping.Property.
type GetWithEntitiesOutput struct {
	Main     *read.ItemView
	Entities map[string]any
}

// GetWithEntities reassembles a record fanned out by InsertWithEntities:
// it reads the main record, then for each mapping looks up the key
// value(s) InsertWithEntities left under Property, reads the matching
// entity record(s) back by KeyProperty, and re-embeds them under
// Property, the inverse of the write-side split.
func (b *BoundOps) GetWithEntities(ctx context.Context, id string, mappings []EntityMapping, opts GetItemOpts) (GetWithEntitiesOutput, error) {
	view, err := b.GetItem(ctx, id, opts)
	if err != nil || view == nil {
		return GetWithEntitiesOutput{Main: view}, err
	}

	entities := make(map[string]any, len(mappings))
	for _, m := range mappings {
		ref, ok := view.Payload[m.Property]
		if !ok {
			continue
		}
		keyValues := entityKeyValues(ref)
		if len(keyValues) == 0 {
			continue
		}
		entityOps := b.client.With(routeFor(b.rc, m.Collection))
		page, qerr := entityOps.Query(ctx, store.MetaFilter{In: map[string][]any{m.KeyProperty: keyValues}}, QueryOpts{Limit: 100})
		if qerr != nil {
			return GetWithEntitiesOutput{Main: view}, xerrors.NewStorageError("resolving embedded entities", qerr)
		}
		switch len(page.Items) {
		case 0:
			continue
		case 1:
			entities[m.Property] = page.Items[0].Payload
		default:
			values := make([]map[string]any, 0, len(page.Items))
			for _, it := range page.Items {
				values = append(values, it.Payload)
			}
			entities[m.Property] = values
		}
	}
	return GetWithEntitiesOutput{Main: view, Entities: entities}, nil
}

// asEntityRecords normalizes an embedded entity field's value, which the
// spec allows to be either a single record or an array of records, into
// a uniform slice.
func asEntityRecords(raw any) []map[string]any {
	switch v := raw.(type) {
	case map[string]any:
		return []map[string]any{v}
	case []map[string]any:
		return v
	case []any:
		out := make([]map[string]any, 0, len(v))
		for _, item := range v {
			if m, ok := item.(map[string]any); ok {
				out = append(out, m)
			}
		}
		return out
	default:
		return nil
	}
}

func routeFor(rc router.RouteContext, collection string) router.RouteContext {
	rc.Collection = collection
	return rc
}

// entityKeyValues normalizes the key reference InsertWithEntities left
// on the main record (a single value, or a slice when the mapping was
// an array of entities) into a uniform slice for an In filter.
func entityKeyValues(ref any) []any {
	if values, ok := ref.([]any); ok {
		return values
	}
	return []any{ref}
}
