// Package events implements the lattice's lifecycle event stream
// (spec.md §4.9): a CloudEvents-shaped envelope published on
// wasmbus.evt.<lattice> for every host, component, and provider
// lifecycle transition, plus an in-process fan-out so local observers
// (such as tests) can watch the same stream without a round trip
// through the bus.
package events
