// Package store provides the SQLite-backed determination audit log.
//
// Each determination is written as one row in determinations plus one row
// per rule firing in firings. Working memory itself is never persisted;
// the input fact is, so a determination can be replayed against a newer
// rule set.
//
// # Ordering
//
//   - seq is assigned by the store inside the write transaction
//     (MAX(seq)+1), so it is monotonic across processes sharing a file
//   - All list queries ORDER BY seq ASC, id ASC
//   - Timestamps are never stored
//
// # Idempotency
//
// session_id is UNIQUE. Writing the same session twice is a no-op that
// keeps the first record.
//
// # Database Configuration
//
//   - WAL mode: Concurrent reads during writes
//   - synchronous=NORMAL: Balance durability/performance
//   - busy_timeout=5000: Wait for locks up to 5 seconds
//   - foreign_keys=ON: Firings are deleted with their determination
//
// input_hash is ir.FactDigest of the input fact, so equal inputs hash
// equally regardless of attribute order.
package store
