package xronox

import (
	"context"
	"fmt"
	"time"

	"github.com/nx-intelligence/xronox/common"
	"github.com/nx-intelligence/xronox/idkit"
	"github.com/nx-intelligence/xronox/store"
	"github.com/nx-intelligence/xronox/xerrors"
)

// HardDelete removes the Head row, every Version row, and every
// payload/blob object for id outright (spec §4.9). This is distinct
// from the logical Delete on BoundOps: it bypasses LogicalDeleteConfig
// entirely and is irreversible, so it is not reachable through fallback
// replay the way Create/Update/Delete are.
func (b *BoundOps) HardDelete(ctx context.Context, id string) error {
	start := time.Now()
	var logger *common.ContextLogger
	ctx, logger = b.withRouteLogger(ctx, "hardDelete")
	defer logger.LogDuration("hardDelete", start, slowOpThreshold)

	if _, err := idkit.Parse(id); err != nil {
		return xerrors.NewValidationError("invalid item id", err)
	}
	docs, objs, route, _, err := b.resolve(ctx)
	if err != nil {
		return err
	}

	if _, err := docs.HardDeleteItem(ctx, b.rc.Collection, id); err != nil {
		return xerrors.NewStorageError("hard-deleting item rows", err)
	}

	if err := deleteAllObjects(ctx, objs, route.Bucket, fmt.Sprintf("%s/%s/", b.rc.Collection, id)); err != nil {
		return xerrors.NewStorageError("hard-deleting item objects", err)
	}
	return nil
}

// deleteAllObjects removes every object under prefix, paging through
// List until exhausted. Best-effort: the first failing delete aborts
// the sweep and is returned, matching the rest of xronox's preference
// for surfacing storage errors rather than silently skipping them.
func deleteAllObjects(ctx context.Context, objs store.ObjectStore, bucket, prefix string) error {
	after := ""
	for {
		page, err := objs.List(ctx, bucket, prefix, store.ListOpts{Limit: 1000, After: after})
		if err != nil {
			return err
		}
		for _, k := range page.Keys {
			if err := objs.Delete(ctx, bucket, k); err != nil {
				return err
			}
		}
		if page.NextToken == "" {
			break
		}
		after = page.NextToken
	}
	return nil
}
