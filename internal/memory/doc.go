// Package memory implements the working memory of an inference session: an
// insertion-ordered, append-only collection of typed facts addressed by
// opaque handles.
//
// A Store belongs to exactly one session. Handles carry the owning session ID,
// so a handle presented to another store, or to a store that has been
// disposed, is rejected with an InvalidHandleError.
//
// Facts are immutable once constructed. Rules evolve working memory only by
// inserting new facts; there is no update or delete.
//
// Enumeration (AllHandles, FilteredHandles) returns a snapshot taken at call
// time, in insertion order. Facts inserted afterwards are not reflected.
//
// A Store is not safe for concurrent use. Concurrent determinations each get
// their own Store.
package memory
