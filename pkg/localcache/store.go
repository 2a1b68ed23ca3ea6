// Package localcache is a bbolt-backed local store for the lattice's
// KV-resident state: claims, component specs, links, and config
// entries. The bus KV store remains the authoritative source of truth
// (spec.md §5, "Local cache"); nothing in this repository writes to
// this store or reads from it.
package localcache

import (
	"github.com/latticehq/hostd/pkg/types"
)

// Store is the local store's read/write surface. It is intentionally
// narrower than a general KV store: one bucket per kind, keyed by the
// same identifier the bus KV uses. Neither the reconciler nor the
// in-memory indexes (claims.Store, linktable.Table, bundle.Bundle)
// load from it.
type Store interface {
	PutClaims(c *types.Claims) error
	GetClaims(subject string) (*types.Claims, error)
	ListClaims() ([]*types.Claims, error)
	DeleteClaims(subject string) error

	PutComponentSpec(id string, spec *types.ComponentSpec) error
	GetComponentSpec(id string) (*types.ComponentSpec, error)
	ListComponentSpecs() (map[string]*types.ComponentSpec, error)
	DeleteComponentSpec(id string) error

	PutLink(l *types.Link) error
	ListLinks() ([]*types.Link, error)
	DeleteLink(key types.LinkKey) error

	PutConfigEntry(e *types.ConfigEntry) error
	GetConfigEntry(name string) (*types.ConfigEntry, error)
	DeleteConfigEntry(name string) error

	Close() error
}
