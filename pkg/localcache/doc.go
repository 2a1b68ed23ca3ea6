// Package localcache provides the bbolt-backed local store described
// in spec.md §5, with one bucket each for claims, component specs,
// links, and config entries.
//
// The bus KV store is authoritative. The host opens a store at startup
// and closes it on shutdown, but no package in this repository writes
// to it or reads from it: the in-memory stores (claims.Store,
// linktable.Table, bundle.Bundle) are filled from the bus KV watches
// alone.
package localcache
