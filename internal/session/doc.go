// Package session runs bus pass determinations.
//
// A Session owns one working memory for one determination and moves
// through a fixed lifecycle:
//
//	Created --Insert--> Populated --Evaluate--> Evaluated --Dispose--> Disposed
//
// Insert happens exactly once. Extract and Dump are only legal once
// evaluation reached fixpoint. Dispose is legal from any state, so a failed
// evaluation can still release its store, and is idempotent. Every other
// out-of-order call returns a StateError.
//
// A Determiner wraps that lifecycle: one call to Determine creates a fresh
// session, inserts the input, evaluates the rule set, extracts the result
// and disposes the session before returning. Nothing survives between
// calls, so a Determiner may be used from any number of goroutines as long
// as its rule set is safe for concurrent evaluation.
package session
