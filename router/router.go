package router

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/nx-intelligence/xronox/config"
	"github.com/nx-intelligence/xronox/xerrors"
)

// Router resolves RouteContext values against an immutable Config
// snapshot. A Router is safe for concurrent use; Resolve performs no I/O.
type Router struct {
	cfg     config.Config
	pickers map[config.DatabaseType]*candidatePicking
}

// candidatePicking pairs a CandidatePicker with the BackendRefs it was
// built over, so Resolve can map the picked id back to a BackendRef.
type candidatePicking struct {
	picker *CandidatePicker
	refs   []config.BackendRef
}

// New builds a Router over cfg. cfg is not copied defensively beyond what
// config.Config's value semantics already provide — callers must not
// mutate maps inside cfg after handing it to New. Any databaseType whose
// Candidates are set (spec §9 decision 3's legacy multi-backend mode) gets
// a rendezvous CandidatePicker built once here.
func New(cfg config.Config) *Router {
	r := &Router{cfg: cfg}
	if cfg.Routing.HashAlgo == "rendezvous" {
		r.pickers = make(map[config.DatabaseType]*candidatePicking)
		for dt, dtc := range cfg.Databases {
			if len(dtc.Candidates) < 2 {
				continue
			}
			ids := make([]string, len(dtc.Candidates))
			for i := range ids {
				ids[i] = strconv.Itoa(i)
			}
			r.pickers[dt] = &candidatePicking{picker: NewCandidatePicker(ids), refs: dtc.Candidates}
		}
	}
	return r
}

// Resolve implements the four-step precedence rule from spec §4.1: tenant
// match, then domain match, then generic, with flat-structured database
// types (logs/messaging/identities) always using their single entry.
func (r *Router) Resolve(rc RouteContext) (Route, error) {
	dtc, ok := r.cfg.Databases[rc.DatabaseType]
	if !ok {
		return Route{}, xerrors.NewRouteNotFoundError(fmt.Sprintf("no configuration for databaseType %q", rc.DatabaseType))
	}

	if dtc.FlatEntry != nil {
		return r.toRoute(*dtc.FlatEntry, rc)
	}

	if cp, ok := r.pickers[rc.DatabaseType]; ok {
		key := RoutingKey(r.cfg.Routing.ChooseKey, rc)
		idx, err := strconv.Atoi(cp.picker.Pick(key))
		if err != nil || idx < 0 || idx >= len(cp.refs) {
			return Route{}, xerrors.NewRouteNotFoundError(fmt.Sprintf("rendezvous pick for databaseType %q returned an invalid candidate", rc.DatabaseType))
		}
		return r.toRoute(cp.refs[idx], rc)
	}

	if rc.Tier == config.TierTenant && rc.TenantID != "" {
		if ref, ok := dtc.TenantDatabases[rc.TenantID]; ok {
			return r.toRoute(ref, rc)
		}
	}
	if rc.Tier == config.TierDomain && rc.Domain != "" {
		if ref, ok := dtc.DomainDatabases[rc.Domain]; ok {
			return r.toRoute(ref, rc)
		}
	}
	if dtc.GenericDatabase.DocConnRef != "" || dtc.GenericDatabase.SpaceConnRef != "" {
		return r.toRoute(dtc.GenericDatabase, rc)
	}

	return Route{}, xerrors.NewRouteNotFoundError(fmt.Sprintf(
		"no route for databaseType=%s tier=%s tenant=%s domain=%s", rc.DatabaseType, rc.Tier, rc.TenantID, rc.Domain))
}

func (r *Router) toRoute(ref config.BackendRef, rc RouteContext) (Route, error) {
	if _, ok := r.cfg.DocConnections[ref.DocConnRef]; !ok {
		return Route{}, xerrors.NewConfigRefMissingError(fmt.Sprintf("docConnRef %q is not defined", ref.DocConnRef))
	}
	if _, ok := r.cfg.SpaceConnections[ref.SpaceConnRef]; !ok {
		return Route{}, xerrors.NewConfigRefMissingError(fmt.Sprintf("spaceConnRef %q is not defined", ref.SpaceConnRef))
	}
	dbName := ref.DBName
	if dbName == "" {
		dbName = rc.DBName
	}
	return Route{
		DocConnRef:   ref.DocConnRef,
		SpaceConnRef: ref.SpaceConnRef,
		Bucket:       ref.Bucket,
		DBName:       dbName,
	}, nil
}

// RoutingKey builds the stable key the legacy rendezvous multi-candidate
// mode hashes on, from the configured template
// (e.g. "{tenantId}|{dbName}|{collection}:{objectId}"). Only the
// brace-wrapped tokens tenantId, domain, dbName, collection and objectId
// are replaced; other text is kept as written.
func RoutingKey(template string, rc RouteContext) string {
	return expandTemplate(template, rc)
}

func expandTemplate(template string, rc RouteContext) string {
	replacer := map[string]string{
		"tenantId":   rc.TenantID,
		"domain":     rc.Domain,
		"dbName":     rc.DBName,
		"collection": rc.Collection,
		"objectId":   rc.ObjectID,
	}
	out := template
	for token, val := range replacer {
		out = strings.ReplaceAll(out, "{"+token+"}", val)
	}
	return out
}
