// Package fallback implements xronox's durable retry queue and worker
// (spec §4.7): writes that fail at the saga's commit step with a
// retriable error are enqueued here instead of being surfaced as a hard
// failure, and a background Worker re-executes them idempotently.
package fallback

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/nx-intelligence/xronox/store"
)

const (
	// CollectionFallback is the system collection fallback rows live in
	// (spec §6.3).
	CollectionFallback = "chronos_fallback"
	// CollectionDeadLetter is where ops land after exhausting retries.
	CollectionDeadLetter = "chronos_dead_letter"
)

// OpContext carries everything a queued op needs to be re-executed
// later: which route it targets and which saga input to replay.
type OpContext struct {
	DatabaseType string
	Tier         string
	TenantID     string
	Domain       string
	DBName       string
	Collection   string
}

// FallbackOp is one durable queue row.
type FallbackOp struct {
	RequestID     string
	OpKind        string
	Context       OpContext
	Payload       map[string]any
	NextAttemptAt time.Time
	AttemptCount  int
	LastError     string
	CreatedAt     time.Time
}

// Queue persists FallbackOp rows through the same store.DocumentStore
// used for Head/Version, in the system collections named above.
type Queue struct {
	docs store.DocumentStore
}

// NewQueue builds a Queue over docs.
func NewQueue(docs store.DocumentStore) *Queue {
	return &Queue{docs: docs}
}

// Enqueue durably records op and returns the requestId callers should
// hand back to the caller as {queued: true, requestId}.
func (q *Queue) Enqueue(ctx context.Context, op FallbackOp) (string, error) {
	if op.RequestID == "" {
		op.RequestID = uuid.NewString()
	}
	if op.CreatedAt.IsZero() {
		op.CreatedAt = time.Now().UTC()
	}
	if op.NextAttemptAt.IsZero() {
		op.NextAttemptAt = op.CreatedAt
	}

	row := toHeadRow(op)
	if err := q.docs.UpdateHeadCAS(ctx, CollectionFallback, row, -1, nil); err != nil {
		return "", fmt.Errorf("fallback: enqueuing %s: %w", op.RequestID, err)
	}
	return op.RequestID, nil
}

// LeaseBatch returns up to limit pending ops with nextAttemptAt <= now,
// ordered by nextAttemptAt, for the worker to process. The returned ops
// are not locked here; callers needing cluster-wide mutual exclusion
// pair this with a LeaseCoordinator.
func (q *Queue) LeaseBatch(ctx context.Context, limit int) ([]FallbackOp, error) {
	page, err := q.docs.QueryHead(ctx, CollectionFallback, store.MetaFilter{
		Eq:  map[string]any{"completed": false},
		Lte: map[string]any{"nextAttemptAt": time.Now().UTC().Format(time.RFC3339Nano)},
	}, []store.Sort{{Field: "nextAttemptAt", Dir: store.Ascending}}, store.Page{Limit: limit})
	if err != nil {
		return nil, fmt.Errorf("fallback: leasing batch: %w", err)
	}

	ops := make([]FallbackOp, 0, len(page.Items))
	for _, row := range page.Items {
		ops = append(ops, fromHeadRow(row))
	}
	return ops, nil
}

// Complete marks op done after a successful re-execution. Queue rows are
// soft-deleted (completed=true) rather than hard-deleted: the store
// contract reserves row removal for the retention sweep.
func (q *Queue) Complete(ctx context.Context, op FallbackOp) error {
	existing, err := q.docs.FindHead(ctx, CollectionFallback, op.RequestID)
	if err != nil {
		return fmt.Errorf("fallback: reading %s before completion: %w", op.RequestID, err)
	}
	if existing == nil {
		return nil
	}
	row := toHeadRow(op)
	row.MetaIndexed["completed"] = true
	row.System.Deleted = true
	if err := q.docs.UpdateHeadCAS(ctx, CollectionFallback, row, existing.Ov, nil); err != nil {
		return fmt.Errorf("fallback: completing %s: %w", op.RequestID, err)
	}
	return nil
}

// Reschedule bumps attemptCount and sets nextAttemptAt per the caller's
// backoff policy, or moves the op to the dead-letter collection if
// attemptCount has reached maxAttempts.
func (q *Queue) Reschedule(ctx context.Context, op FallbackOp, nextAttemptAt time.Time, lastErr error, maxAttempts int) error {
	op.AttemptCount++
	if lastErr != nil {
		op.LastError = lastErr.Error()
	}

	if op.AttemptCount >= maxAttempts {
		dead := toHeadRow(op)
		dead.Collection = CollectionDeadLetter
		if err := q.docs.UpdateHeadCAS(ctx, CollectionDeadLetter, dead, -1, nil); err != nil {
			return fmt.Errorf("fallback: dead-lettering %s: %w", op.RequestID, err)
		}
		return q.Complete(ctx, op)
	}

	op.NextAttemptAt = nextAttemptAt
	row := toHeadRow(op)
	existing, err := q.docs.FindHead(ctx, CollectionFallback, op.RequestID)
	if err != nil {
		return fmt.Errorf("fallback: reading %s before reschedule: %w", op.RequestID, err)
	}
	prevOv := int64(-1)
	if existing != nil {
		prevOv = existing.Ov
	}
	if err := q.docs.UpdateHeadCAS(ctx, CollectionFallback, row, prevOv, nil); err != nil {
		return fmt.Errorf("fallback: rescheduling %s: %w", op.RequestID, err)
	}
	return nil
}

func toHeadRow(op FallbackOp) store.HeadRow {
	return store.HeadRow{
		ID:         op.RequestID,
		Collection: CollectionFallback,
		MetaIndexed: map[string]any{
			"requestId":     op.RequestID,
			"opKind":        op.OpKind,
			"nextAttemptAt": op.NextAttemptAt.UTC().Format(time.RFC3339Nano),
			"attemptCount":  op.AttemptCount,
			"lastError":     op.LastError,
			"completed":     false,
		},
		FullShadow: map[string]any{
			"context": map[string]any{
				"databaseType": op.Context.DatabaseType,
				"tier":         op.Context.Tier,
				"tenantId":     op.Context.TenantID,
				"domain":       op.Context.Domain,
				"dbName":       op.Context.DBName,
				"collection":   op.Context.Collection,
			},
			"payload": op.Payload,
		},
		CreatedAt: op.CreatedAt,
		UpdatedAt: time.Now().UTC(),
	}
}

func fromHeadRow(row store.HeadRow) FallbackOp {
	op := FallbackOp{
		RequestID: row.ID,
		CreatedAt: row.CreatedAt,
	}
	if v, ok := row.MetaIndexed["opKind"].(string); ok {
		op.OpKind = v
	}
	if v, ok := row.MetaIndexed["lastError"].(string); ok {
		op.LastError = v
	}
	switch v := row.MetaIndexed["attemptCount"].(type) {
	case int:
		op.AttemptCount = v
	case float64:
		op.AttemptCount = int(v)
	}
	if shadow := row.FullShadow; shadow != nil {
		if ctxMap, ok := shadow["context"].(map[string]any); ok {
			op.Context = OpContext{
				DatabaseType: stringField(ctxMap, "databaseType"),
				Tier:         stringField(ctxMap, "tier"),
				TenantID:     stringField(ctxMap, "tenantId"),
				Domain:       stringField(ctxMap, "domain"),
				DBName:       stringField(ctxMap, "dbName"),
				Collection:   stringField(ctxMap, "collection"),
			}
		}
		if payload, ok := shadow["payload"].(map[string]any); ok {
			op.Payload = payload
		}
	}
	return op
}

func stringField(m map[string]any, key string) string {
	if v, ok := m[key].(string); ok {
		return v
	}
	return ""
}
