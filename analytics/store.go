package analytics

import (
	"context"
	"fmt"
	"sync"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"github.com/nx-intelligence/xronox/config"
)

func postgresOpen(dsn string) gorm.Dialector {
	return postgres.Open(dsn)
}

// scopeDelta accumulates the counter changes observed for one
// (dbName, collection, tenantId) scope during a flush window.
type scopeDelta struct {
	dbName, collection, tenantID string
	created, updated, deleted    int64
	rules                        map[string]int64
}

func (d scopeDelta) key() string { return scopeKey(d.dbName, d.collection, d.tenantID) }

// Store is the counters subsystem entry point: Record() is cheap and
// non-blocking (it only accumulates in memory), and a background loop
// flushes to Postgres on FlushInterval (default 100ms per spec §4.8).
// Durability is best-effort: counters are advisory, not authoritative,
// so losing up to one window of deltas on crash is acceptable.
type Store struct {
	db            *gorm.DB
	rules         []config.CounterRule
	flushInterval time.Duration

	mu      sync.Mutex
	deltas  map[string]*scopeDelta
	unique  map[string]UniqueValue

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewStore opens dsn and builds a Store. cfg.FlushInterval of zero
// falls back to 100ms.
func NewStore(dsn string, cfg config.AnalyticsConfig) (*Store, error) {
	db, err := Open(dsn)
	if err != nil {
		return nil, err
	}
	interval := cfg.FlushInterval
	if interval <= 0 {
		interval = 100 * time.Millisecond
	}
	return &Store{
		db:            db,
		rules:         cfg.CounterRules,
		flushInterval: interval,
		deltas:        make(map[string]*scopeDelta),
		unique:        make(map[string]UniqueValue),
	}, nil
}

// Start begins the periodic flush loop.
func (s *Store) Start(ctx context.Context) {
	s.ctx, s.cancel = context.WithCancel(ctx)
	s.wg.Add(1)
	go s.loop()
}

// Stop flushes any remaining deltas and stops the loop.
func (s *Store) Stop() {
	if s.cancel == nil {
		return
	}
	s.cancel()
	s.wg.Wait()
	s.flush()
}

func (s *Store) loop() {
	defer s.wg.Done()
	ticker := time.NewTicker(s.flushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			s.flush()
		}
	}
}

// Record accumulates ev's effect on the relevant scope's totals and
// named rules, and stages any countUnique rows the matching rules
// produce. It never touches Postgres directly; a background flush does.
func (s *Store) Record(ev Event) {
	s.mu.Lock()
	defer s.mu.Unlock()

	k := scopeKey(ev.DBName, ev.Collection, ev.TenantID)
	d, ok := s.deltas[k]
	if !ok {
		d = &scopeDelta{dbName: ev.DBName, collection: ev.Collection, tenantID: ev.TenantID, rules: map[string]int64{}}
		s.deltas[k] = d
	}

	switch ev.OpKind {
	case "CREATE":
		d.created++
	case "UPDATE", "RESTORE":
		d.updated++
	case "DELETE":
		d.deleted++
	}

	for _, rule := range s.rules {
		if !ruleApplies(rule, ev.OpKind) {
			continue
		}
		doc := ev.PayloadScope
		if rule.Scope == "meta" {
			doc = ev.MetaScope
		}
		if !Eval(rule.When, doc) {
			continue
		}
		d.rules[rule.Name]++

		for _, prop := range rule.CountUnique {
			v, found := lookupPath(doc, prop)
			if !found {
				continue
			}
			uv := UniqueValue{
				DBName: ev.DBName, Collection: ev.Collection, TenantID: ev.TenantID,
				RuleName: rule.Name, PropertyName: prop, PropertyValue: toComparableString(v),
				FirstSeenAt: time.Now().UTC(),
			}
			s.unique[uniqueKey(uv)] = uv
		}
	}
}

// RecordFallbackOutcome satisfies fallback.Counters: it tallies a
// fallback-replay success/failure into the collection's scope under a
// reserved rule name, so dashboards built on CounterTotals.NamedRules
// surface fallback health without a separate table.
func (s *Store) RecordFallbackOutcome(ctx context.Context, collection string, succeeded bool) {
	name := "fallback_failed"
	if succeeded {
		name = "fallback_succeeded"
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	k := scopeKey("", collection, "")
	d, ok := s.deltas[k]
	if !ok {
		d = &scopeDelta{collection: collection, rules: map[string]int64{}}
		s.deltas[k] = d
	}
	d.rules[name]++
}

func (s *Store) flush() {
	s.mu.Lock()
	deltas := s.deltas
	unique := s.unique
	s.deltas = make(map[string]*scopeDelta)
	s.unique = make(map[string]UniqueValue)
	s.mu.Unlock()

	for _, d := range deltas {
		if err := applyDelta(s.db, *d); err != nil {
			log.WithError(err).WithField("scope", d.key()).Warn("flushing counter delta failed")
		}
	}

	if len(unique) == 0 {
		return
	}
	rows := make([]UniqueValue, 0, len(unique))
	for _, v := range unique {
		rows = append(rows, v)
	}
	if err := insertUniqueValues(s.db, rows); err != nil {
		log.WithError(err).Warn("flushing unique counter rows failed")
	}
}

func uniqueKey(v UniqueValue) string {
	return v.DBName + "|" + v.Collection + "|" + v.TenantID + "|" + v.RuleName + "|" + v.PropertyName + "|" + v.PropertyValue
}

func toComparableString(v any) string {
	switch t := v.(type) {
	case string:
		return t
	default:
		return fmt.Sprint(t)
	}
}
