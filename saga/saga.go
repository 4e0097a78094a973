package saga

import (
	"context"
	"fmt"
	"time"

	"github.com/nx-intelligence/xronox/common"
	"github.com/nx-intelligence/xronox/config"
	"github.com/nx-intelligence/xronox/externalize"
	"github.com/nx-intelligence/xronox/idkit"
	"github.com/nx-intelligence/xronox/merge"
	"github.com/nx-intelligence/xronox/store"
	"github.com/nx-intelligence/xronox/xerrors"
)

var log = common.NewLogger("saga")

// Deps bundles everything a Saga needs to run a single write. The caller
// (xronox.BoundOps) resolves the route and opens the DocStore/ObjStore
// handles before building these; the saga itself never touches the
// router.
type Deps struct {
	DocStore      store.DocumentStore
	ObjStore      store.ObjectStore
	Bucket        string
	Collection    string
	Spec          config.CollectionMap
	LogicalDelete bool
	Versioning    bool
	DevShadow     config.DevShadowConfig
}

// Input describes one mutating operation.
type Input struct {
	Op         OpKind
	ItemID     idkit.ID // zero value for Create
	Data       map[string]any
	ExpectedOv *int64
	Actor      string
	Reason     string
	FunctionID string
	UniqueKeys []string // SmartInsert only

	// Lineage options, consulted only when this Input creates an item
	// (OpCreate, or OpSmartInsert when no prior Head exists). Ignored on
	// every other op: lineage is set once and carried forward.
	ParentID         string
	ParentCollection string
	OriginID         string
	OriginCollection string
	OriginSystem     string
}

// Output is the result of a successful saga run.
type Output struct {
	ID          string
	Ov          int64
	Cv          int64
	Created     bool // SmartInsert: true if this run created rather than merged
	Timestamp   time.Time
	MetaIndexed map[string]any // the metaIndexed projection written this run, for scope:"meta" analytics rules
}

// Saga runs the write-path state machine over one Deps/Input pair.
type Saga struct {
	deps Deps
}

// New builds a Saga over deps.
func New(deps Deps) *Saga {
	return &Saga{deps: deps}
}

// Run executes the full saga: validate, read-head-and-lock, derive,
// externalize, write object, commit, and (on commit failure) compensate.
func (s *Saga) Run(ctx context.Context, in Input) (Output, error) {
	state := StateInit
	var writtenKeys []store.ObjectRef

	logger := log.WithField("collection", s.deps.Collection).WithField("op", string(in.Op))
	traceState := func(s State) { state = s; logger.WithField("state", string(s)).Debug("saga transition") }

	// The caller (xronox.BoundOps) stashes a request-scoped logger
	// carrying tenant/databaseType/collection fields; surface it once so
	// a failing write can be correlated back to the request that issued
	// it without re-deriving those fields here.
	common.FromContext(ctx).Debug("saga run starting")

	if err := s.validate(in); err != nil {
		return Output{}, err
	}
	traceState(StateValidated)

	traceState(StateRouted) // route/handles already resolved by the caller

	var prevHead *store.HeadRow
	if in.Op != OpCreate {
		head, err := s.deps.DocStore.FindHead(ctx, s.deps.Collection, in.ItemID.String())
		if err != nil {
			return Output{}, xerrors.NewStorageError("reading head", err)
		}
		if head == nil && in.Op != OpSmartInsert {
			return Output{}, xerrors.NewNotFoundError(fmt.Sprintf("item %s not found in %s", in.ItemID, s.deps.Collection), nil)
		}
		if head != nil && in.ExpectedOv != nil && head.Ov != *in.ExpectedOv {
			return Output{}, xerrors.NewOptimisticLockError(fmt.Sprintf("%d", *in.ExpectedOv), fmt.Sprintf("%d", head.Ov), nil)
		}
		prevHead = head
	}
	traceState(StateHeadLocked)

	id := in.ItemID
	if id.IsZero() {
		id = idkit.New()
	}
	now := time.Now().UTC()

	payload, prevOv, opKind, created, err := s.derivePayload(ctx, in, prevHead, now)
	if err != nil {
		return Output{}, err
	}
	newOv := prevOv + 1
	traceState(StateTransformed)

	keyPrefix := fmt.Sprintf("%s/%s/v%d", s.deps.Collection, id.String(), newOv)
	extResult, err := externalize.Externalize(ctx, s.deps.ObjStore, s.deps.Bucket, keyPrefix, payload, s.deps.Spec)
	if err != nil {
		// Externalize deletes any blobs it uploaded before failing, so
		// there is nothing left here to compensate.
		return Output{}, err
	}
	writtenKeys = append(writtenKeys, extResult.Written...)

	itemKey := keyPrefix + "/item.json"
	size, _, err := s.deps.ObjStore.PutJSON(ctx, s.deps.Bucket, itemKey, extResult.Transformed)
	if err != nil {
		// Orphaned blob writes (if any) are left behind; surfaced as a
		// StorageError per spec step 10, no compensation attempted since
		// we never reached a doc-store commit to roll back.
		return Output{}, xerrors.NewStorageError("writing item object", err)
	}
	writtenKeys = append(writtenKeys, store.ObjectRef{Bucket: s.deps.Bucket, Key: itemKey, Size: size})
	traceState(StateObjectWritten)

	cv, err := s.commit(ctx, id, newOv, opKind, extResult, itemKey, now, in, writtenKeys, prevHead)
	if err != nil {
		compensated := s.compensate(ctx, writtenKeys)
		traceState(StateCompensating)
		traceState(StateFailed)
		return Output{}, xerrors.NewTxnError(fmt.Sprintf("commit failed in state %s", state), !compensated, err)
	}
	traceState(StateCommitted)
	traceState(StateDone)

	logger.WithField("id", id.String()).WithField("ov", newOv).WithField("cv", cv).WithField("state", string(state)).Debug("write committed")

	return Output{ID: id.String(), Ov: newOv, Cv: cv, Created: created, Timestamp: now, MetaIndexed: extResult.MetaIndexed}, nil
}

func (s *Saga) validate(in Input) error {
	if in.Op == OpCreate || in.Op == OpSmartInsert {
		for _, req := range s.deps.Spec.RequiredIndexed {
			if _, ok := in.Data[req]; !ok {
				return xerrors.NewValidationError(fmt.Sprintf("required indexed field %q missing", req), nil)
			}
		}
	}
	if in.Op == OpSmartInsert {
		for _, k := range in.UniqueKeys {
			if !containsString(s.deps.Spec.IndexedProps, k) {
				return xerrors.NewValidationError(fmt.Sprintf("unique key %q is not an indexed property", k), nil)
			}
		}
	}
	return nil
}

func containsString(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}

// derivePayload implements step 4 of the write path: build the new
// payload according to the operation kind's rule.
func (s *Saga) derivePayload(ctx context.Context, in Input, prevHead *store.HeadRow, now time.Time) (map[string]any, int64, string, bool, error) {
	switch in.Op {
	case OpCreate:
		payload := cloneMap(in.Data)
		return payload, -1, "CREATE", true, nil

	case OpUpdate:
		prev, err := s.loadPayload(ctx, prevHead)
		if err != nil {
			return nil, 0, "", false, err
		}
		for k, v := range in.Data {
			prev[k] = v
		}
		return prev, prevHead.Ov, "UPDATE", false, nil

	case OpDelete:
		prev, err := s.loadPayload(ctx, prevHead)
		if err != nil {
			return nil, 0, "", false, err
		}
		return prev, prevHead.Ov, "DELETE", false, nil

	case OpEnrich:
		prev, err := s.loadPayload(ctx, prevHead)
		if err != nil {
			return nil, 0, "", false, err
		}
		merged, _ := merge.Records(prev, in.Data).(map[string]any)
		return merged, prevHead.Ov, "UPDATE", false, nil

	case OpSmartInsert:
		if prevHead == nil {
			payload := cloneMap(in.Data)
			return payload, -1, "CREATE", true, nil
		}
		prev, err := s.loadPayload(ctx, prevHead)
		if err != nil {
			return nil, 0, "", false, err
		}
		merged, _ := merge.Records(prev, in.Data).(map[string]any)
		return merged, prevHead.Ov, "UPDATE", false, nil

	case OpRestore:
		return cloneMap(in.Data), prevOvOrZero(prevHead), "RESTORE", false, nil

	default:
		return nil, 0, "", false, xerrors.NewValidationError(fmt.Sprintf("unsupported op %q", in.Op), nil)
	}
}

func prevOvOrZero(h *store.HeadRow) int64 {
	if h == nil {
		return -1
	}
	return h.Ov
}

func (s *Saga) loadPayload(ctx context.Context, head *store.HeadRow) (map[string]any, error) {
	var payload map[string]any
	if head.FullShadow != nil {
		return cloneMap(head.FullShadow), nil
	}
	if err := s.deps.ObjStore.GetJSON(ctx, head.JSONBucket, head.JSONKey, &payload); err != nil {
		return nil, xerrors.NewStorageError("loading previous payload", err)
	}
	return payload, nil
}

func cloneMap(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// commit implements step 7: increment cv, insert a Version row (if
// versioning is enabled — cv still increments either way), and update
// the Head row with a CAS guard, optionally inlining a dev shadow.
func (s *Saga) commit(ctx context.Context, id idkit.ID, ov int64, opKind string, ext externalize.Result, itemKey string, now time.Time, in Input, written []store.ObjectRef, prevHead *store.HeadRow) (int64, error) {
	sess, err := s.deps.DocStore.BeginTransaction(ctx)
	if err != nil {
		return 0, fmt.Errorf("beginning transaction: %w", err)
	}

	cv, err := s.deps.DocStore.IncrementAndFetch(ctx, s.deps.Collection, sess)
	if err != nil {
		s.abort(ctx, sess)
		return 0, fmt.Errorf("incrementing cv: %w", err)
	}

	sysEnv := store.SystemEnvelope{
		State:  "synced",
		Actor:  in.Actor,
		Reason: in.Reason,
	}
	if prevHead != nil {
		sysEnv.InsertedAt = prevHead.System.InsertedAt
		sysEnv.FunctionIDs = append([]string(nil), prevHead.System.FunctionIDs...)
		sysEnv.ParentID = prevHead.System.ParentID
		sysEnv.ParentCollection = prevHead.System.ParentCollection
		sysEnv.OriginID = prevHead.System.OriginID
		sysEnv.OriginCollection = prevHead.System.OriginCollection
		sysEnv.OriginSystem = prevHead.System.OriginSystem
	} else {
		sysEnv.InsertedAt = now
		sysEnv.ParentID = in.ParentID
		sysEnv.ParentCollection = in.ParentCollection
		sysEnv.OriginID = in.OriginID
		sysEnv.OriginCollection = in.OriginCollection
		sysEnv.OriginSystem = in.OriginSystem
	}
	if in.FunctionID != "" {
		sysEnv.FunctionIDs = append(sysEnv.FunctionIDs, in.FunctionID)
	}
	if opKind == "DELETE" && s.deps.LogicalDelete {
		sysEnv.Deleted = true
		deletedAt := now
		sysEnv.DeletedAt = &deletedAt
	}
	if opKind == "RESTORE" {
		// Open Question resolution (SPEC_FULL.md §7): restoring a prior
		// version always clears logical-delete state, even if the
		// restored ov itself predates the deletion.
		sysEnv.Deleted = false
		sysEnv.DeletedAt = nil
	}

	if s.deps.Versioning {
		vRow := store.VersionRow{
			ItemID:      id.String(),
			Collection:  s.deps.Collection,
			Ov:          ov,
			Cv:          cv,
			OpKind:      opKind,
			JSONBucket:  s.deps.Bucket,
			JSONKey:     itemKey,
			MetaIndexed: ext.MetaIndexed,
			System:      sysEnv,
			At:          now,
		}
		if err := s.deps.DocStore.InsertVersion(ctx, s.deps.Collection, vRow, sess); err != nil {
			s.abort(ctx, sess)
			return 0, fmt.Errorf("inserting version: %w", err)
		}
	}

	head := store.HeadRow{
		ID:          id.String(),
		Collection:  s.deps.Collection,
		Ov:          ov,
		Cv:          cv,
		JSONBucket:  s.deps.Bucket,
		JSONKey:     itemKey,
		MetaIndexed: ext.MetaIndexed,
		System:      sysEnv,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if s.deps.DevShadow.Enabled {
		var approxSize int64
		for _, w := range written {
			approxSize += w.Size
		}
		if approxSize <= s.deps.DevShadow.MaxBytes {
			head.FullShadow = ext.Transformed
		}
	}

	prevOv := ov - 1
	if err := s.deps.DocStore.UpdateHeadCAS(ctx, s.deps.Collection, head, prevOv, sess); err != nil {
		s.abort(ctx, sess)
		return 0, fmt.Errorf("updating head: %w", err)
	}

	if sess != nil {
		if err := sess.Commit(ctx); err != nil {
			return 0, fmt.Errorf("committing transaction: %w", err)
		}
	}
	return cv, nil
}

func (s *Saga) abort(ctx context.Context, sess store.Session) {
	if sess == nil {
		return
	}
	if err := sess.Rollback(ctx); err != nil {
		log.WithError(err).Warn("transaction rollback failed")
	}
}

// compensate deletes every object-store key written during this run,
// best-effort: errors are logged and never rethrown, matching spec step
// 9's "errors logged, never rethrown". It reports whether every delete
// succeeded, so the caller can tell a clean compensation from one that
// left orphaned blobs behind.
func (s *Saga) compensate(ctx context.Context, written []store.ObjectRef) bool {
	ok := true
	for _, ref := range written {
		if err := s.deps.ObjStore.Delete(ctx, ref.Bucket, ref.Key); err != nil {
			log.WithField("bucket", ref.Bucket).WithField("key", ref.Key).WithError(err).Warn("compensation delete failed")
			ok = false
		}
	}
	return ok
}
