package store

import (
	"context"
	"time"
)

// Session is an optional transaction handle returned by BeginTransaction.
// Adapters that can't support real transactions (Capabilities().Transactions
// == false) never hand one out; callers pass a nil Session through the
// rest of the saga in that case and each call commits independently.
type Session interface {
	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
}

// DocumentStore is the adapter contract the core is written against
// (spec §6.1). A concrete adapter (CouchDB, or a test fake) implements
// this once per configured connection.
type DocumentStore interface {
	Capabilities() Capabilities

	// BeginTransaction opens a transaction scope if the backend supports
	// one. Returns a nil Session and nil error when Capabilities().Transactions
	// is false.
	BeginTransaction(ctx context.Context) (Session, error)

	// EnsureIndexes is called once per collection on first use to create
	// whatever indexes the filter/sort shape requires.
	EnsureIndexes(ctx context.Context, collection string, indexedProps []string) error

	IncrementAndFetch(ctx context.Context, collection string, sess Session) (cv int64, err error)

	InsertVersion(ctx context.Context, collection string, row VersionRow, sess Session) error

	// UpdateHeadCAS creates or updates the Head row, guarding against a
	// lost race with expectedPrevOv. expectedPrevOv == -1 means "must not
	// already exist" (create path).
	UpdateHeadCAS(ctx context.Context, collection string, row HeadRow, expectedPrevOv int64, sess Session) error

	FindHead(ctx context.Context, collection, id string) (*HeadRow, error)
	FindVersionByOv(ctx context.Context, collection, id string, ov int64) (*VersionRow, error)
	FindVersionAsOf(ctx context.Context, collection, id string, at time.Time) (*VersionRow, error)

	QueryHead(ctx context.Context, collection string, filter MetaFilter, sort []Sort, page Page) (PageResult, error)

	// FindCvBoundary resolves a collection-level cv to the wall-clock
	// time at which that cv was committed, for restoreCollection's
	// to{cv} form (cv is not itself a timestamp, so bulk as-of restore
	// needs it turned into one before QueryVersionsAsOf can be used).
	// found is false if no version in collection carries exactly that cv.
	FindCvBoundary(ctx context.Context, collection string, cv int64) (at time.Time, found bool, err error)

	// QueryVersionsAsOf resolves, for every item matched by filter as of
	// time at, the Version row active at that time. Used by the read
	// path's as-of query mode (spec §4.3).
	QueryVersionsAsOf(ctx context.Context, collection string, filter MetaFilter, at time.Time, page Page) ([]VersionRow, string, error)

	// DeleteVersions removes Version rows matching filter. Retention uses
	// PruneVersions instead; never touches payload objects.
	DeleteVersions(ctx context.Context, collection string, filter MetaFilter) (deleted int, err error)

	// PruneVersions deletes Version rows in collection that are either
	// older than maxAge or beyond maxPerItem (ranked newest-first by ov
	// within each item), whichever bound is stricter. maxAge <= 0 means
	// no age bound; maxPerItem <= 0 means no count bound. Never touches
	// payload objects or Head rows.
	PruneVersions(ctx context.Context, collection string, maxAge time.Duration, maxPerItem int) (deleted int, err error)

	// HardDeleteItem removes the Head row and every Version row for id
	// in collection outright, independent of LogicalDeleteConfig (spec
	// §4.9's separate, explicit admin operation). Unlike DeleteVersions
	// this is scoped by itemId directly rather than a MetaFilter, since
	// itemId is a row-level field and not part of metaIndexed (I7).
	// Never touches payload objects; the caller deletes those itself.
	HardDeleteItem(ctx context.Context, collection, id string) (rowsDeleted int, err error)

	Close(ctx context.Context) error
}
