// Package provider implements the provider bridge described in
// spec.md §4.6: loading a provider archive (§6.5), spawning the
// matching native binary with a startup handshake, propagating link
// put/delete to the running process, and shutting it down gracefully.
//
// A provider process is treated much like the OS-process lifecycle
// this codebase already manages elsewhere: graceful notice first,
// a bounded grace period, then a forced kill, with its private run
// directory removed afterward regardless of which path was taken.
package provider
