// Package config defines the pure-value configuration contract consumed by
// xronox at construction time (spec §6.4). xronox never discovers config
// files and never resolves environment-variable tokens itself — callers
// are expected to hand over an already-resolved Config. That keeps the
// core testable and keeps secret handling out of the library's hands.
package config

import (
	"fmt"
	"strings"
	"time"
)

// DatabaseType is one of the six routing domains the Router understands.
type DatabaseType string

const (
	DatabaseTypeMetadata  DatabaseType = "metadata"
	DatabaseTypeKnowledge DatabaseType = "knowledge"
	DatabaseTypeRuntime   DatabaseType = "runtime"
	DatabaseTypeLogs      DatabaseType = "logs"
	DatabaseTypeMessaging DatabaseType = "messaging"
	DatabaseTypeIdentities DatabaseType = "identities"
)

// Tier selects which slice of a DatabaseTypeConfig a RouteContext resolves
// against. Flat-structured types (logs, messaging, identities) ignore Tier.
type Tier string

const (
	TierGeneric Tier = "generic"
	TierDomain  Tier = "domain"
	TierTenant  Tier = "tenant"
)

// ConnRef names a connection defined in DBConnections/SpaceConnections.
// The Router never opens connections itself; it resolves a RouteContext to
// a pair of ConnRefs and leaves opening to the connection pool.
type ConnRef string

// BackendRef is the pair of connection references a route resolves to.
type BackendRef struct {
	DocConnRef   ConnRef
	SpaceConnRef ConnRef
	Bucket       string
	DBName       string
}

// DatabaseTypeConfig is the typed tree described in spec §4.1: a generic
// fallback, any number of named domains, and any number of named tenants.
type DatabaseTypeConfig struct {
	GenericDatabase  BackendRef
	DomainDatabases  map[string]BackendRef // keyed by domain name
	TenantDatabases  map[string]BackendRef // keyed by tenantId
	// FlatEntry is used only for logs/messaging/identities, which have a
	// single configured backend and ignore Tier entirely.
	FlatEntry *BackendRef
	// Candidates holds two or more connection refs of equal precedence
	// for the legacy multi-backend mode (spec §9 open question 3): when
	// set and Routing.HashAlgo == "rendezvous", Resolve picks one of
	// these by rendezvous-hashing Routing.ChooseKey instead of walking
	// the tenant/domain/generic tiers.
	Candidates []BackendRef
}

// DocConnectionInfo is the connection-level detail behind a ConnRef for the
// document store side (e.g. CouchDB).
type DocConnectionInfo struct {
	URL      string
	Username string
	Password string
	Timeout  time.Duration
}

// SpaceConnectionInfo is the connection-level detail behind a ConnRef for
// the object store side (e.g. S3-compatible storage).
type SpaceConnectionInfo struct {
	Endpoint        string
	Region          string
	AccessKeyID     string
	SecretAccessKey string
	UsePathStyle    bool
	ContentBucket   string // bucket used for externalized blobs, if distinct
}

// CollectionMap is the per-collection indexing/validation/externalization
// spec referenced throughout §4 (indexedProps, base64Props, requiredIndexed).
type CollectionMap struct {
	IndexedProps     []string          // dot-paths permitted in metaIndexed / query filters
	Base64Props      map[string]Base64PropSpec
	RequiredIndexed  []string          // §4.4 step 1 validation
	VersioningEnabled *bool            // nil inherits Versioning.Enabled
}

// Base64PropSpec configures how a single base64 field is externalized.
type Base64PropSpec struct {
	PreferredText bool   // try to store as .txt if the bytes decode as Charset
	Charset       string // defaults to "utf-8"
}

// RetentionPolicy bounds Version history per collection (spec §4.9).
type RetentionPolicy struct {
	Days       int
	MaxPerItem int
}

// CounterRule is a named analytics rule (spec §4.8).
type CounterRule struct {
	Name        string
	On          []string // operation kinds: CREATE, UPDATE, DELETE, RESTORE
	Scope       string   // "meta" or "payload"
	When        map[string]any // predicate, evaluated by analytics.Eval
	CountUnique []string // property names tracked as distinct-value rows
}

// DevShadowConfig controls inline payload shadowing on Head rows.
type DevShadowConfig struct {
	Enabled  bool
	MaxBytes int64
}

// FallbackConfig tunes the durable retry queue and its worker.
type FallbackConfig struct {
	Enabled       bool
	PollInterval  time.Duration
	BatchSize     int
	MaxAttempts   int
	BaseDelay     time.Duration
	MaxDelay      time.Duration
	LeaseTTL      time.Duration
	RedisURL      string
	KeyPrefix     string
}

// WriteOptimizationConfig tunes the BatchOptimizer.
type WriteOptimizationConfig struct {
	Enabled     bool
	Window      time.Duration
	MaxBatch    int
}

// TransactionsConfig controls whether the saga attempts a real doc-store
// transaction or falls back to a best-effort ordered write.
type TransactionsConfig struct {
	Enabled    bool
	AutoDetect bool
}

// LogicalDeleteConfig toggles soft-delete semantics (spec invariant I5).
type LogicalDeleteConfig struct {
	Enabled bool
}

// VersioningConfig toggles whether Version rows are written at all
// (spec §9 open question: cv still increments either way).
type VersioningConfig struct {
	Enabled bool
}

// AnalyticsConfig is the postgres-backed counters subsystem's config.
type AnalyticsConfig struct {
	Enabled       bool
	PostgresDSN   string
	CounterRules  []CounterRule
	FlushInterval time.Duration
}

// RoutingConfig tunes the legacy rendezvous-hashing multi-candidate mode.
type RoutingConfig struct {
	HashAlgo  string // "" (tiered-only) or "rendezvous"
	ChooseKey string // template, e.g. "{tenantId}|{dbName}|{collection}:{objectId}"
}

// Config is the single pure value xronox.New consumes. It is never mutated
// after construction and carries no file-path or env-var reference: the
// caller resolves those before building a Config.
type Config struct {
	DocConnections   map[ConnRef]DocConnectionInfo
	SpaceConnections map[ConnRef]SpaceConnectionInfo
	Databases        map[DatabaseType]DatabaseTypeConfig
	CollectionMaps   map[string]CollectionMap

	Routing         RoutingConfig
	Retention       RetentionPolicy
	Analytics       AnalyticsConfig
	DevShadow       DevShadowConfig
	Fallback        FallbackConfig
	WriteOptimization WriteOptimizationConfig
	Transactions    TransactionsConfig
	LogicalDelete   LogicalDeleteConfig
	Versioning      VersioningConfig
}

// Validate checks the structural invariants a Config must satisfy before
// it is safe to build a Router from it. It does not reach out to any
// backend — purely a shape check.
func (c Config) Validate() error {
	v := NewValidator()

	if len(c.DocConnections) == 0 {
		v.errors = append(v.errors, "dbConnections must not be empty")
	}
	if len(c.SpaceConnections) == 0 {
		v.errors = append(v.errors, "spacesConnections must not be empty")
	}
	for dt, dtc := range c.Databases {
		if dtc.FlatEntry != nil {
			v.checkRef(c, string(dt)+".flat", *dtc.FlatEntry)
			continue
		}
		v.checkRef(c, string(dt)+".generic", dtc.GenericDatabase)
		for name, ref := range dtc.DomainDatabases {
			v.checkRef(c, fmt.Sprintf("%s.domain[%s]", dt, name), ref)
		}
		for name, ref := range dtc.TenantDatabases {
			v.checkRef(c, fmt.Sprintf("%s.tenant[%s]", dt, name), ref)
		}
		for i, ref := range dtc.Candidates {
			v.checkRef(c, fmt.Sprintf("%s.candidates[%d]", dt, i), ref)
		}
		if len(dtc.Candidates) == 1 {
			v.errors = append(v.errors, fmt.Sprintf("%s.candidates: must have at least two entries of equal precedence, or none", dt))
		}
	}
	if c.Routing.HashAlgo != "" && c.Routing.HashAlgo != "rendezvous" {
		v.errors = append(v.errors, "routing.hashAlgo must be empty or \"rendezvous\"")
	}
	if c.Routing.HashAlgo == "rendezvous" && c.Routing.ChooseKey == "" {
		v.errors = append(v.errors, "routing.chooseKey is required when routing.hashAlgo is \"rendezvous\"")
	}
	return v.Validate()
}

func (v *Validator) checkRef(c Config, label string, ref BackendRef) {
	if ref.DocConnRef == "" || ref.SpaceConnRef == "" {
		v.errors = append(v.errors, fmt.Sprintf("%s: docConnRef and spaceConnRef are required", label))
		return
	}
	if _, ok := c.DocConnections[ref.DocConnRef]; !ok {
		v.errors = append(v.errors, fmt.Sprintf("%s: docConnRef %q is not defined", label, ref.DocConnRef))
	}
	if _, ok := c.SpaceConnections[ref.SpaceConnRef]; !ok {
		v.errors = append(v.errors, fmt.Sprintf("%s: spaceConnRef %q is not defined", label, ref.SpaceConnRef))
	}
}

// Validator accumulates configuration validation errors so a caller gets
// every problem at once rather than one error per call.
type Validator struct {
	errors []string
}

// NewValidator creates an empty validator.
func NewValidator() *Validator {
	return &Validator{errors: make([]string, 0)}
}

// IsValid reports whether no errors have been recorded.
func (v *Validator) IsValid() bool { return len(v.errors) == 0 }

// Errors returns the recorded validation errors.
func (v *Validator) Errors() []string { return v.errors }

// Validate returns a single joined error, or nil if the validator is clean.
func (v *Validator) Validate() error {
	if v.IsValid() {
		return nil
	}
	return fmt.Errorf("config validation failed: %s", strings.Join(v.errors, "; "))
}
