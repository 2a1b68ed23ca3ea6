// Package runtime is the component runtime described in spec.md §4.5:
// given claims and a compiled WebAssembly module, it instantiates the
// module, dispatches invocations to it, and enforces per-instance
// concurrency and execution-time limits.
//
// Two module kinds are supported. Legacy core modules link against
// the wasmbus host ABI (§6.2) through legacyGuest; component-model
// components import WASI preview 1 plus a curated set of
// lattice-defined interfaces (§6.3) through componentGuest. Both are
// instantiated fresh for every invocation in their own wazero.Runtime
// namespace — this is what lets the host-imported "wasmbus" module
// name be reused across concurrent calls without collision, and
// matches the invariant that no guest state leaks between calls.
// Compiled bytecode is still shared across those per-call namespaces
// via one wazero.CompilationCache per host (Runtime.newEnv), so the
// isolation costs a re-instantiation, not a re-compilation.
//
// Instance implements the Loaded → Ready ↔ Invoking → Draining → Gone
// state machine: Drain refuses new calls, waits out in-flight ones up
// to a grace period, then forces the transition, mirroring the
// graceful-SIGTERM-then-SIGKILL shape used elsewhere in this codebase
// for stopping external processes.
package runtime
