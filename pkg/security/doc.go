/*
Package security seals opaque blobs at rest with AES-256-GCM.

A Sealer is the contract; AESGCMSealer is the only implementation,
keyed either from an explicit 32-byte key or derived deterministically
from arbitrary material (DeriveSealKey) so every host in a lattice can
reconstruct the same key from the lattice id without exchanging one out
of band. pkg/bundle uses a Sealer to keep the SECRETS_<lattice> bucket
encrypted in the bus KV store while still watchable like any other
config bundle (spec.md §6.4); end-to-end invocation confidentiality
between components and providers is a separate concern handled by
pkg/xkeys.
*/
package security
