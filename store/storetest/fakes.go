// Package storetest provides in-memory fakes for store.DocumentStore and
// store.ObjectStore, modeled on the teacher's storage/s3_mock.go
// interface-satisfying mock struct, for use in tests that exercise the
// saga/read/tiered/fallback packages without a live backend.
package storetest

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/nx-intelligence/xronox/store"
)

// FakeDocumentStore is an in-memory store.DocumentStore. Revisions are
// monotonically increasing integers rendered as strings, giving the same
// CAS semantics as a real document store without a network round trip.
type FakeDocumentStore struct {
	mu       sync.Mutex
	heads    map[string]*store.HeadRow
	revs     map[string]int
	versions map[string][]store.VersionRow
	counters map[string]int64
}

// NewFakeDocumentStore builds an empty fake.
func NewFakeDocumentStore() *FakeDocumentStore {
	return &FakeDocumentStore{
		heads:    make(map[string]*store.HeadRow),
		revs:     make(map[string]int),
		versions: make(map[string][]store.VersionRow),
		counters: make(map[string]int64),
	}
}

func key(collection, id string) string { return collection + "/" + id }

func (f *FakeDocumentStore) Capabilities() store.Capabilities {
	return store.Capabilities{Transactions: false, Presign: false}
}

func (f *FakeDocumentStore) BeginTransaction(ctx context.Context) (store.Session, error) {
	return nil, nil
}

func (f *FakeDocumentStore) EnsureIndexes(ctx context.Context, collection string, indexedProps []string) error {
	return nil
}

func (f *FakeDocumentStore) IncrementAndFetch(ctx context.Context, collection string, sess store.Session) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.counters[collection]++
	return f.counters[collection], nil
}

func (f *FakeDocumentStore) InsertVersion(ctx context.Context, collection string, v store.VersionRow, sess store.Session) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	k := key(collection, v.ItemID)
	f.versions[k] = append(f.versions[k], v)
	return nil
}

func (f *FakeDocumentStore) UpdateHeadCAS(ctx context.Context, collection string, h store.HeadRow, expectedPrevOv int64, sess store.Session) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	k := key(collection, h.ID)
	existing, ok := f.heads[k]
	currentOv := int64(-1)
	if ok {
		currentOv = existing.Ov
	}
	if currentOv != expectedPrevOv {
		return fmt.Errorf("storetest: CAS mismatch for %s: expected %d, found %d", k, expectedPrevOv, currentOv)
	}

	cp := h
	f.revs[k]++
	cp.Rev = fmt.Sprintf("%d", f.revs[k])
	f.heads[k] = &cp
	return nil
}

func (f *FakeDocumentStore) FindHead(ctx context.Context, collection, id string) (*store.HeadRow, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	h, ok := f.heads[key(collection, id)]
	if !ok {
		return nil, nil
	}
	cp := *h
	return &cp, nil
}

func (f *FakeDocumentStore) FindVersionByOv(ctx context.Context, collection, id string, ov int64) (*store.VersionRow, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, v := range f.versions[key(collection, id)] {
		if v.Ov == ov {
			cp := v
			return &cp, nil
		}
	}
	return nil, nil
}

func (f *FakeDocumentStore) FindVersionAsOf(ctx context.Context, collection, id string, at time.Time) (*store.VersionRow, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var best *store.VersionRow
	for i, v := range f.versions[key(collection, id)] {
		if v.At.After(at) {
			continue
		}
		if best == nil || v.At.After(best.At) || (v.At.Equal(best.At) && v.Ov > best.Ov) {
			cp := f.versions[key(collection, id)][i]
			best = &cp
		}
	}
	return best, nil
}

func (f *FakeDocumentStore) QueryHead(ctx context.Context, collection string, filter store.MetaFilter, sortSpec []store.Sort, page store.Page) (store.PageResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	var items []store.HeadRow
	for k, h := range f.heads {
		if !strings.HasPrefix(k, collection+"/") {
			continue
		}
		if matches(h.MetaIndexed, filter) {
			items = append(items, *h)
		}
	}
	sort.Slice(items, func(i, j int) bool {
		if items[i].Cv != items[j].Cv {
			return items[i].Cv < items[j].Cv
		}
		return items[i].ID < items[j].ID
	})

	limit := page.Limit
	if limit <= 0 || limit > 1000 {
		limit = 1000
	}
	if limit < len(items) {
		items = items[:limit]
	}
	return store.PageResult{Items: items}, nil
}

func (f *FakeDocumentStore) QueryVersionsAsOf(ctx context.Context, collection string, filter store.MetaFilter, at time.Time, page store.Page) ([]store.VersionRow, string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	byItem := make(map[string]store.VersionRow)
	for k, rows := range f.versions {
		if !strings.HasPrefix(k, collection+"/") {
			continue
		}
		var best *store.VersionRow
		for i, v := range rows {
			if v.At.After(at) {
				continue
			}
			if best == nil || v.Ov > best.Ov {
				cp := rows[i]
				best = &cp
			}
		}
		if best != nil && matches(best.MetaIndexed, filter) {
			byItem[best.ItemID] = *best
		}
	}

	out := make([]store.VersionRow, 0, len(byItem))
	for _, v := range byItem {
		out = append(out, v)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ItemID < out[j].ItemID })
	return out, "", nil
}

func (f *FakeDocumentStore) FindCvBoundary(ctx context.Context, collection string, cv int64) (time.Time, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for k, rows := range f.versions {
		if !strings.HasPrefix(k, collection+"/") {
			continue
		}
		for _, v := range rows {
			if v.Cv == cv {
				return v.At, true, nil
			}
		}
	}
	return time.Time{}, false, nil
}

func (f *FakeDocumentStore) DeleteVersions(ctx context.Context, collection string, filter store.MetaFilter) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	deleted := 0
	for k, rows := range f.versions {
		if !strings.HasPrefix(k, collection+"/") {
			continue
		}
		kept := rows[:0]
		for _, v := range rows {
			if matches(v.MetaIndexed, filter) {
				deleted++
				continue
			}
			kept = append(kept, v)
		}
		f.versions[k] = kept
	}
	return deleted, nil
}

func (f *FakeDocumentStore) PruneVersions(ctx context.Context, collection string, maxAge time.Duration, maxPerItem int) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	now := time.Now().UTC()
	deleted := 0
	for k, rows := range f.versions {
		if !strings.HasPrefix(k, collection+"/") {
			continue
		}
		cp := append([]store.VersionRow(nil), rows...)
		sort.Slice(cp, func(i, j int) bool { return cp[i].Ov > cp[j].Ov })

		var kept []store.VersionRow
		for rank, v := range cp {
			tooManyVersions := maxPerItem > 0 && rank >= maxPerItem
			tooOld := maxAge > 0 && now.Sub(v.At) > maxAge
			if tooManyVersions || tooOld {
				deleted++
				continue
			}
			kept = append(kept, v)
		}
		f.versions[k] = kept
	}
	return deleted, nil
}

func (f *FakeDocumentStore) HardDeleteItem(ctx context.Context, collection, id string) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	k := key(collection, id)
	deleted := 0
	if _, ok := f.heads[k]; ok {
		delete(f.heads, k)
		delete(f.revs, k)
		deleted++
	}
	deleted += len(f.versions[k])
	delete(f.versions, k)
	return deleted, nil
}

func (f *FakeDocumentStore) Close(ctx context.Context) error { return nil }

func matches(meta map[string]any, filter store.MetaFilter) bool {
	for field, want := range filter.Eq {
		if meta[field] != want {
			return false
		}
	}
	for field, allowed := range filter.In {
		v, ok := meta[field]
		if !ok {
			return false
		}
		found := false
		for _, a := range allowed {
			if a == v {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	for field, must := range filter.Exists {
		_, ok := meta[field]
		if ok != must {
			return false
		}
	}
	for field, bound := range filter.Gte {
		if !compareOrdered(meta[field], bound) {
			return false
		}
	}
	for field, bound := range filter.Lte {
		if !compareOrdered(bound, meta[field]) {
			return false
		}
	}
	return true
}

// compareOrdered reports whether a >= b for the comparable shapes the
// fake needs to support (strings, which RFC3339 timestamps sort
// correctly as).
func compareOrdered(a, b any) bool {
	as, aok := a.(string)
	bs, bok := b.(string)
	if aok && bok {
		return as >= bs
	}
	return true
}

// FakeObjectStore is an in-memory store.ObjectStore.
type FakeObjectStore struct {
	mu   sync.Mutex
	data map[string][]byte
}

// NewFakeObjectStore builds an empty fake.
func NewFakeObjectStore() *FakeObjectStore {
	return &FakeObjectStore{data: make(map[string][]byte)}
}

func objKey(bucket, key string) string { return bucket + "/" + key }

func (f *FakeObjectStore) Capabilities() store.Capabilities {
	return store.Capabilities{Transactions: false, Presign: true}
}

func (f *FakeObjectStore) PutJSON(ctx context.Context, bucket, key string, obj any) (int64, string, error) {
	data, err := json.Marshal(obj)
	if err != nil {
		return 0, "", fmt.Errorf("storetest: marshaling %s/%s: %w", bucket, key, err)
	}
	return f.PutBytes(ctx, bucket, key, data, "application/json")
}

func (f *FakeObjectStore) PutBytes(ctx context.Context, bucket, key string, data []byte, contentType string) (int64, string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := append([]byte(nil), data...)
	f.data[objKey(bucket, key)] = cp
	return int64(len(data)), fmt.Sprintf("sha-%d", len(data)), nil
}

func (f *FakeObjectStore) GetJSON(ctx context.Context, bucket, key string, out any) error {
	data, err := f.GetBytes(ctx, bucket, key)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, out)
}

func (f *FakeObjectStore) GetBytes(ctx context.Context, bucket, key string) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	data, ok := f.data[objKey(bucket, key)]
	if !ok {
		return nil, fmt.Errorf("storetest: %s/%s not found", bucket, key)
	}
	return data, nil
}

func (f *FakeObjectStore) Delete(ctx context.Context, bucket, key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.data, objKey(bucket, key))
	return nil
}

func (f *FakeObjectStore) List(ctx context.Context, bucket, prefix string, opts store.ListOpts) (store.ListResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var keys []string
	want := objKey(bucket, prefix)
	for k := range f.data {
		if strings.HasPrefix(k, want) {
			keys = append(keys, strings.TrimPrefix(k, bucket+"/"))
		}
	}
	sort.Strings(keys)
	return store.ListResult{Keys: keys}, nil
}

func (f *FakeObjectStore) Copy(ctx context.Context, srcBucket, srcKey, dstBucket, dstKey string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	data, ok := f.data[objKey(srcBucket, srcKey)]
	if !ok {
		return fmt.Errorf("storetest: %s/%s not found", srcBucket, srcKey)
	}
	f.data[objKey(dstBucket, dstKey)] = append([]byte(nil), data...)
	return nil
}

func (f *FakeObjectStore) PresignGet(ctx context.Context, bucket, key string, ttlSeconds int) (string, error) {
	return "https://fake.local/" + objKey(bucket, key), nil
}

// Count returns the number of stored objects, handy for asserting
// compensation deleted everything the saga wrote.
func (f *FakeObjectStore) Count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.data)
}
