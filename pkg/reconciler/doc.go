// Package reconciler implements the reconciler described in spec.md
// §4.8: a single watch over the lattice's KV data prefix, dispatching
// each event by the first underscore-delimited token of its key to a
// handler — COMPONENT specs diff their links into the link table and
// notify bound providers, CLAIMS upsert into the claims store, legacy
// LINKDEF and reserved REFMAP keys are logged and ignored, anything
// else is a warning. The initial snapshot replay runs the same
// handlers but suppresses lifecycle notifications to avoid a startup
// storm; events are applied one at a time, in delivery order, per the
// "watch causality" invariant.
package reconciler
