// Package certledger implements the hash-linked, append-only ledger of
// sanitization certificates.
//
// Every record carries the chain link of its predecessor and a chain link of
// its own, computed once at append time over the record's immutable fields.
// Appends go through a Sequencer, which assigns positions from a consistent
// view of the tail and relies on each Store's conditional insert to reject
// stale views. The Verifier walks the chain and reports every break it finds,
// and the Index resolves human-held verification codes to records.
//
// Three Store implementations are provided:
//   - MemoryStore: in-process, for tests and development.
//   - SQLiteStore: single-file durable store.
//   - PostgresStore: shared durable store for multi-instance deployments.
package certledger
