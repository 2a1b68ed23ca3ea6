/*
Package host is the top-level process described throughout spec.md
§4: one Host per OS process, joined to exactly one lattice, wiring the
bus client, claims store, link table, config and secrets bundles,
local cache, component runtime, provider bridge, invocation router,
reconciler, event broker, control server, and metrics collector
together.

Host itself carries the bookkeeping the lower packages deliberately
don't: which image reference and desired instance count backs a
loaded component id, and which image reference, display name, and
claims revision backs a running provider id. Everything else is a
thin pass-through onto the package that actually owns that state.
*/
package host
