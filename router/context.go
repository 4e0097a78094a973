// Package router implements xronox's Router & ContextResolver (spec
// §4.1): a pure function from (config snapshot, RouteContext) to a
// concrete backend pair, plus a lazily-opened connection pool.
package router

import "github.com/nx-intelligence/xronox/config"

// RouteContext is the caller-supplied addressing information a request
// carries. It is resolved against a Config snapshot; the resolution never
// performs I/O beyond lazily opening a connection the first time a ref is
// used.
type RouteContext struct {
	DatabaseType config.DatabaseType
	Tier         config.Tier
	TenantID     string
	Domain       string
	DBName       string
	Collection   string
	ObjectID     string // only consulted when the routing key template needs it
}

// Route is the resolved backend pair a RouteContext maps to.
type Route struct {
	DocConnRef   config.ConnRef
	SpaceConnRef config.ConnRef
	Bucket       string
	DBName       string
}
