// Package store defines the DocumentStore and ObjectStore adapter
// contracts xronox's core is written against (spec §6.1, §6.2), plus the
// row shapes persisted through them (spec §6.3).
package store

import "time"

// SystemEnvelope is the `_system` block carried on every Head/Version row
// (spec invariant I8). Lineage fields (Parent*/Origin*) are set once at
// create time and carried forward unchanged by every later write to the
// same item; FunctionIDs accumulates provenance across every enrich/update
// that named a functionId, oldest first.
type SystemEnvelope struct {
	State       string     `json:"state"` // "new-not-synched" until commit, "synced" after
	InsertedAt  time.Time  `json:"insertedAt"`
	Deleted     bool       `json:"deleted"`
	DeletedAt   *time.Time `json:"deletedAt,omitempty"`
	Actor       string     `json:"actor,omitempty"`
	Reason      string     `json:"reason,omitempty"`
	FunctionIDs []string   `json:"functionIds,omitempty"`

	ParentID         string `json:"parentId,omitempty"`
	ParentCollection string `json:"parentCollection,omitempty"`
	OriginID         string `json:"originId,omitempty"`
	OriginCollection string `json:"originCollection,omitempty"`
	OriginSystem     string `json:"originSystem,omitempty"`
}

// HeadRow is the mutable current-state row for an item.
type HeadRow struct {
	Rev         string         `json:"-"` // document-store revision, used for CAS
	ID          string         `json:"_id"`
	Collection  string         `json:"collection"`
	Ov          int64          `json:"ov"`
	Cv          int64          `json:"cv"`
	JSONBucket  string         `json:"jsonBucket"`
	JSONKey     string         `json:"jsonKey"`
	MetaIndexed map[string]any `json:"metaIndexed"`
	FullShadow  map[string]any `json:"fullShadow,omitempty"`
	System      SystemEnvelope `json:"_system"`
	CreatedAt   time.Time      `json:"createdAt"`
	UpdatedAt   time.Time      `json:"updatedAt"`
}

// VersionRow is an append-only history row for one ov of an item.
type VersionRow struct {
	ID          string         `json:"_id"`
	ItemID      string         `json:"itemId"`
	Collection  string         `json:"collection"`
	Ov          int64          `json:"ov"`
	Cv          int64          `json:"cv"`
	OpKind      string         `json:"opKind"` // CREATE, UPDATE, DELETE, RESTORE
	JSONBucket  string         `json:"jsonBucket"`
	JSONKey     string         `json:"jsonKey"`
	MetaIndexed map[string]any `json:"metaIndexed"`
	System      SystemEnvelope `json:"_system"`
	At          time.Time      `json:"at"`
}

// CounterDoc is the per-collection monotonic cv counter row.
type CounterDoc struct {
	Collection string `json:"_id"`
	Value      int64  `json:"value"`
}

// SortDir is an ascending/descending sort direction for QueryHead.
type SortDir int

const (
	Ascending SortDir = iota
	Descending
)

// Sort names a field and direction to order query results by.
type Sort struct {
	Field string
	Dir   SortDir
}

// Page is an opaque continuation token plus the limit for the next page.
type Page struct {
	Token string
	Limit int
}

// PageResult is one page of HeadRow results plus the token for the next
// page, if any.
type PageResult struct {
	Items     []HeadRow
	NextToken string
}

// MetaFilter is a backend-agnostic filter over a Head or Version row's
// MetaIndexed map. Concrete adapters translate it into their own query
// language (e.g. CouchDB Mango selectors).
type MetaFilter struct {
	Eq     map[string]any   // field -> exact value
	In     map[string][]any // field -> allowed set
	Gte    map[string]any   // field -> lower bound, inclusive
	Lte    map[string]any   // field -> upper bound, inclusive
	Exists map[string]bool  // field -> must (not) be present
}

// ObjectRef describes a blob written to the object store: returned by the
// externalizer as a field replacement and used by the saga's compensation
// step to know what to delete on rollback.
type ObjectRef struct {
	Bucket      string `json:"bucket"`
	Key         string `json:"key"`
	Size        int64  `json:"size"`
	ContentType string `json:"contentType"`
	SHA256      string `json:"sha256"`
}

// ListOpts configures Object Store List.
type ListOpts struct {
	Limit int
	After string // continuation token
}

// ListResult is one page of object keys under a prefix.
type ListResult struct {
	Keys          []string
	NextToken     string
}

// Capabilities reports which optional behaviors a concrete adapter
// supports, so the saga can decide between a real transaction and a
// best-effort ordered write (spec §4.4 step 7) without a type switch.
type Capabilities struct {
	Transactions bool
	Presign      bool
}
