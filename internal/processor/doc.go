// Package processor orchestrates the configuration preprocessing pipeline:
// load the base document, merge convention-discovered override fragments in
// order, resolve the include source, run include resolution over the whole
// tree, annotate provenance, and optionally persist the result as a
// preprocessed snapshot.
//
// A Processor is built once per base configuration path and may be invoked
// repeatedly; every invocation builds a fresh tree, so concurrent reloads do
// not share mutable state. The only memoized state is the snapshot output
// path, which is computed idempotently under a lock.
//
// When a run fails because the coordination service was unreachable, callers
// that opted in receive the last persisted snapshot instead, marked
// LoadedFromFallback.
package processor
