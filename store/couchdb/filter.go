package couchdb

import "github.com/nx-intelligence/xronox/store"

// buildSelector translates a backend-agnostic store.MetaFilter into a
// CouchDB Mango selector, always scoped to the owning collection since
// Head/Version rows for every collection share one physical database.
func buildSelector(collection string, filter store.MetaFilter) map[string]any {
	and := []map[string]any{
		{"collection": collection},
	}

	for field, val := range filter.Eq {
		and = append(and, map[string]any{"metaIndexed." + field: map[string]any{"$eq": val}})
	}
	for field, vals := range filter.In {
		and = append(and, map[string]any{"metaIndexed." + field: map[string]any{"$in": vals}})
	}
	for field, val := range filter.Gte {
		and = append(and, map[string]any{"metaIndexed." + field: map[string]any{"$gte": val}})
	}
	for field, val := range filter.Lte {
		and = append(and, map[string]any{"metaIndexed." + field: map[string]any{"$lte": val}})
	}
	for field, must := range filter.Exists {
		and = append(and, map[string]any{"metaIndexed." + field: map[string]any{"$exists": must}})
	}

	return map[string]any{"$and": toAnySlice(and)}
}

func toAnySlice(clauses []map[string]any) []any {
	out := make([]any, len(clauses))
	for i, c := range clauses {
		out[i] = c
	}
	return out
}

// buildSort translates a []store.Sort into the Mango sort array shape.
func buildSort(sort []store.Sort) []map[string]string {
	if len(sort) == 0 {
		return nil
	}
	out := make([]map[string]string, 0, len(sort))
	for _, s := range sort {
		dir := "asc"
		if s.Dir == store.Descending {
			dir = "desc"
		}
		out = append(out, map[string]string{s.Field: dir})
	}
	return out
}
