// Package tiered implements xronox's tiered fetch: the "tenant -> domain
// -> generic" fallback and merge read modes described in spec.md's
// overview diagram and glossary. It composes the read and merge
// packages over whatever tiers a caller names, without needing to know
// how a tier resolves to a concrete backend (that's left to the
// Backend it's handed).
package tiered

import (
	"context"

	"github.com/nx-intelligence/xronox/config"
	"github.com/nx-intelligence/xronox/merge"
	"github.com/nx-intelligence/xronox/read"
	"github.com/nx-intelligence/xronox/router"
	"github.com/nx-intelligence/xronox/store"
	"github.com/nx-intelligence/xronox/xerrors"
)

// Mode selects how results from multiple tiers are combined.
type Mode string

const (
	// ModeFallback returns the first tier with a hit, in precedence
	// order (tenant, then domain, then generic).
	ModeFallback Mode = "fallback"
	// ModeMerge deep-merges every tier's payload that has a hit, starting
	// from the generic tier and merging higher-precedence tiers in as the
	// merge source (so a tenant override wins over a generic default, per
	// the Merger's type-mismatch/leaf rule).
	ModeMerge Mode = "merge"
)

// Backend resolves a RouteContext to the store handles needed to run a
// read, without tiered needing to import the root client package.
type Backend interface {
	Resolve(ctx context.Context, rc router.RouteContext) (store.DocumentStore, store.ObjectStore, router.Route, error)
}

// Spec describes a tiered fetch over a single logical item id, read
// across up to three tiers.
type Spec struct {
	DatabaseType string
	Collection   string
	ItemID       string
	TenantID     string
	Domain       string
	Mode         Mode
	GetItemOpts  read.GetItemOpts
}

// Fetch implements the tiered fallback/merge read mode.
func Fetch(ctx context.Context, backend Backend, spec Spec) (*read.ItemView, error) {
	tiers := buildTierContexts(spec)
	if len(tiers) == 0 {
		return nil, xerrors.NewValidationError("tiered fetch requires at least a generic tier", nil)
	}

	switch spec.Mode {
	case ModeMerge:
		return fetchMerge(ctx, backend, spec, tiers)
	default:
		return fetchFallback(ctx, backend, spec, tiers)
	}
}

func buildTierContexts(spec Spec) []router.RouteContext {
	var tiers []router.RouteContext
	base := router.RouteContext{
		DatabaseType: config.DatabaseType(spec.DatabaseType),
		Collection:   spec.Collection,
		ObjectID:     spec.ItemID,
	}
	if spec.TenantID != "" {
		tc := base
		tc.Tier = config.TierTenant
		tc.TenantID = spec.TenantID
		tiers = append(tiers, tc)
	}
	if spec.Domain != "" {
		dc := base
		dc.Tier = config.TierDomain
		dc.Domain = spec.Domain
		tiers = append(tiers, dc)
	}
	gc := base
	gc.Tier = config.TierGeneric
	tiers = append(tiers, gc)
	return tiers
}

func fetchFallback(ctx context.Context, backend Backend, spec Spec, tiers []router.RouteContext) (*read.ItemView, error) {
	var lastErr error
	for _, rc := range tiers {
		docs, objs, _, err := backend.Resolve(ctx, rc)
		if err != nil {
			lastErr = err
			continue
		}
		view, err := read.GetItem(ctx, docs, objs, spec.Collection, spec.ItemID, spec.GetItemOpts)
		if err != nil {
			lastErr = err
			continue
		}
		if view != nil {
			return view, nil
		}
	}
	return nil, lastErr
}

func fetchMerge(ctx context.Context, backend Backend, spec Spec, tiers []router.RouteContext) (*read.ItemView, error) {
	// Merge target precedence is highest-precedence-first: reverse the
	// slice so merge.Records(target, source) applies generic first, then
	// domain, then tenant last (tenant's values win, per the Merger's
	// "source overrides on type mismatch / leaf" rule).
	reversed := make([]router.RouteContext, len(tiers))
	for i, rc := range tiers {
		reversed[len(tiers)-1-i] = rc
	}

	var merged map[string]any
	var lastMeta *read.Meta
	found := false

	for _, rc := range reversed {
		docs, objs, _, err := backend.Resolve(ctx, rc)
		if err != nil {
			continue
		}
		view, err := read.GetItem(ctx, docs, objs, spec.Collection, spec.ItemID, spec.GetItemOpts)
		if err != nil {
			continue
		}
		if view == nil {
			continue
		}
		found = true
		if merged == nil {
			merged = view.Payload
		} else {
			result, _ := merge.Records(merged, view.Payload).(map[string]any)
			merged = result
		}
		lastMeta = view.Meta
	}

	if !found {
		return nil, nil
	}
	return &read.ItemView{Payload: merged, Meta: lastMeta}, nil
}
