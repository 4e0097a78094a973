package router

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nx-intelligence/xronox/config"
)

func testConfig() config.Config {
	return config.Config{
		DocConnections: map[config.ConnRef]config.DocConnectionInfo{
			"couch-main": {URL: "http://localhost:5984"},
		},
		SpaceConnections: map[config.ConnRef]config.SpaceConnectionInfo{
			"s3-main": {Endpoint: "http://localhost:9000"},
		},
		Databases: map[config.DatabaseType]config.DatabaseTypeConfig{
			config.DatabaseTypeMetadata: {
				GenericDatabase: config.BackendRef{DocConnRef: "couch-main", SpaceConnRef: "s3-main", DBName: "meta_generic"},
				DomainDatabases: map[string]config.BackendRef{
					"billing": {DocConnRef: "couch-main", SpaceConnRef: "s3-main", DBName: "meta_billing"},
				},
				TenantDatabases: map[string]config.BackendRef{
					"acme": {DocConnRef: "couch-main", SpaceConnRef: "s3-main", DBName: "meta_acme"},
				},
			},
			config.DatabaseTypeLogs: {
				FlatEntry: &config.BackendRef{DocConnRef: "couch-main", SpaceConnRef: "s3-main", DBName: "logs"},
			},
		},
	}
}

func TestResolve_TenantTakesPrecedence(t *testing.T) {
	r := New(testConfig())
	route, err := r.Resolve(RouteContext{
		DatabaseType: config.DatabaseTypeMetadata,
		Tier:         config.TierTenant,
		TenantID:     "acme",
		Domain:       "billing",
	})
	require.NoError(t, err)
	assert.Equal(t, "meta_acme", route.DBName)
}

func TestResolve_DomainFallback(t *testing.T) {
	r := New(testConfig())
	route, err := r.Resolve(RouteContext{
		DatabaseType: config.DatabaseTypeMetadata,
		Tier:         config.TierDomain,
		Domain:       "billing",
	})
	require.NoError(t, err)
	assert.Equal(t, "meta_billing", route.DBName)
}

func TestResolve_GenericFallback(t *testing.T) {
	r := New(testConfig())
	route, err := r.Resolve(RouteContext{
		DatabaseType: config.DatabaseTypeMetadata,
		Tier:         config.TierGeneric,
	})
	require.NoError(t, err)
	assert.Equal(t, "meta_generic", route.DBName)
}

func TestResolve_UnknownTenantFallsBackToGeneric(t *testing.T) {
	r := New(testConfig())
	route, err := r.Resolve(RouteContext{
		DatabaseType: config.DatabaseTypeMetadata,
		Tier:         config.TierTenant,
		TenantID:     "globex",
	})
	require.NoError(t, err)
	assert.Equal(t, "meta_generic", route.DBName)
}

func TestResolve_FlatEntryIgnoresTier(t *testing.T) {
	r := New(testConfig())
	route, err := r.Resolve(RouteContext{DatabaseType: config.DatabaseTypeLogs})
	require.NoError(t, err)
	assert.Equal(t, "logs", route.DBName)
}

func TestResolve_UnknownDatabaseType(t *testing.T) {
	r := New(testConfig())
	_, err := r.Resolve(RouteContext{DatabaseType: config.DatabaseTypeRuntime})
	assert.Error(t, err)
}

func rendezvousTestConfig() config.Config {
	cfg := testConfig()
	cfg.Routing = config.RoutingConfig{HashAlgo: "rendezvous", ChooseKey: "{tenantId}"}
	cfg.Databases[config.DatabaseTypeKnowledge] = config.DatabaseTypeConfig{
		Candidates: []config.BackendRef{
			{DocConnRef: "couch-main", SpaceConnRef: "s3-main", DBName: "knowledge_a"},
			{DocConnRef: "couch-main", SpaceConnRef: "s3-main", DBName: "knowledge_b"},
		},
	}
	return cfg
}

func TestResolve_RendezvousPicksAmongCandidates(t *testing.T) {
	r := New(rendezvousTestConfig())
	route, err := r.Resolve(RouteContext{DatabaseType: config.DatabaseTypeKnowledge, TenantID: "acme"})
	require.NoError(t, err)
	assert.Contains(t, []string{"knowledge_a", "knowledge_b"}, route.DBName)
}

func TestResolve_RendezvousIsStableForTheSameKey(t *testing.T) {
	r := New(rendezvousTestConfig())
	first, err := r.Resolve(RouteContext{DatabaseType: config.DatabaseTypeKnowledge, TenantID: "acme"})
	require.NoError(t, err)
	second, err := r.Resolve(RouteContext{DatabaseType: config.DatabaseTypeKnowledge, TenantID: "acme"})
	require.NoError(t, err)
	assert.Equal(t, first.DBName, second.DBName)
}

func TestResolve_RendezvousSpreadsAcrossKeys(t *testing.T) {
	r := New(rendezvousTestConfig())
	seen := map[string]bool{}
	for _, tenant := range []string{"acme", "globex", "initech", "umbrella", "soylent"} {
		route, err := r.Resolve(RouteContext{DatabaseType: config.DatabaseTypeKnowledge, TenantID: tenant})
		require.NoError(t, err)
		seen[route.DBName] = true
	}
	assert.Len(t, seen, 2, "rendezvous hashing should spread distinct keys across both candidates")
}

func TestRoutingKey_ExpandsTemplate(t *testing.T) {
	key := RoutingKey("{tenantId}|{dbName}|{collection}:{objectId}", RouteContext{
		TenantID: "acme", DBName: "meta_acme", Collection: "orders", ObjectID: "abc123",
	})
	assert.Equal(t, "acme|meta_acme|orders:abc123", key)
}
