// Package invocation implements the invocation router described in
// spec.md §4.7: it encodes a logical call as a bus request on
// wasmbus.rpc.<lattice>.<target_id>.<interface>.<function>, carrying
// the caller's identity and trace context in a header framed ahead of
// the payload (EncodeEnvelope), and
// short-circuits component-to-component calls within the same host
// instead of round-tripping through the bus.
package invocation
