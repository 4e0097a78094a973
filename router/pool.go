package router

import (
	"context"
	"fmt"
	"sync"

	"github.com/nx-intelligence/xronox/config"
	"github.com/nx-intelligence/xronox/store"
)

// DocStoreFactory opens a DocumentStore for a named connection. Concrete
// wiring (CouchDB, a test fake) is supplied by the caller of NewConnPool
// so this package never imports a concrete adapter.
type DocStoreFactory func(ctx context.Context, ref config.ConnRef, info config.DocConnectionInfo) (store.DocumentStore, error)

// ObjectStoreFactory opens an ObjectStore for a named connection.
type ObjectStoreFactory func(ctx context.Context, ref config.ConnRef, info config.SpaceConnectionInfo) (store.ObjectStore, error)

// ConnPool lazily opens and reference-counts DocumentStore/ObjectStore
// handles keyed by ConnRef, draining outstanding handles on Shutdown.
type ConnPool struct {
	cfg config.Config

	docFactory   DocStoreFactory
	spaceFactory ObjectStoreFactory

	mu       sync.Mutex
	docs     map[config.ConnRef]store.DocumentStore
	spaces   map[config.ConnRef]store.ObjectStore
	refCount map[config.ConnRef]int
}

// NewConnPool builds a pool over cfg using the given factories.
func NewConnPool(cfg config.Config, docFactory DocStoreFactory, spaceFactory ObjectStoreFactory) *ConnPool {
	return &ConnPool{
		cfg:          cfg,
		docFactory:   docFactory,
		spaceFactory: spaceFactory,
		docs:         make(map[config.ConnRef]store.DocumentStore),
		spaces:       make(map[config.ConnRef]store.ObjectStore),
		refCount:     make(map[config.ConnRef]int),
	}
}

// DocStore returns the DocumentStore for ref, opening it on first use.
func (p *ConnPool) DocStore(ctx context.Context, ref config.ConnRef) (store.DocumentStore, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if ds, ok := p.docs[ref]; ok {
		p.refCount[ref]++
		return ds, nil
	}
	info, ok := p.cfg.DocConnections[ref]
	if !ok {
		return nil, fmt.Errorf("router: docConnRef %q is not defined", ref)
	}
	ds, err := p.docFactory(ctx, ref, info)
	if err != nil {
		return nil, fmt.Errorf("router: opening doc store %q: %w", ref, err)
	}
	p.docs[ref] = ds
	p.refCount[ref]++
	return ds, nil
}

// ObjectStore returns the ObjectStore for ref, opening it on first use.
func (p *ConnPool) ObjectStore(ctx context.Context, ref config.ConnRef) (store.ObjectStore, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if os, ok := p.spaces[ref]; ok {
		p.refCount[ref]++
		return os, nil
	}
	info, ok := p.cfg.SpaceConnections[ref]
	if !ok {
		return nil, fmt.Errorf("router: spaceConnRef %q is not defined", ref)
	}
	os, err := p.spaceFactory(ctx, ref, info)
	if err != nil {
		return nil, fmt.Errorf("router: opening object store %q: %w", ref, err)
	}
	p.spaces[ref] = os
	p.refCount[ref]++
	return os, nil
}

// Shutdown closes every opened DocumentStore. ObjectStore adapters (S3,
// local filesystem) hold no persistent connection to close.
func (p *ConnPool) Shutdown(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	var firstErr error
	for ref, ds := range p.docs {
		if err := ds.Close(ctx); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("router: closing doc store %q: %w", ref, err)
		}
	}
	p.docs = make(map[config.ConnRef]store.DocumentStore)
	p.spaces = make(map[config.ConnRef]store.ObjectStore)
	p.refCount = make(map[config.ConnRef]int)
	return firstErr
}
