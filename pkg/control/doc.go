// Package control implements the operator control protocol of
// spec.md §4.9: request/reply verbs under
// wasmbus.ctl.v1.<lattice>.<verb>[.<scope>] for host inventory,
// component scale/update, provider start/stop, link and config
// put/delete, and broadcast placement auctions. Server dispatches
// verbs onto a Host implemented by pkg/host; Client is the thin
// request-builder cmd/latticectl and tests use to drive it.
package control
