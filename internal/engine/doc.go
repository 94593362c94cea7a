// Package engine implements the bus pass rule set: a small forward-chaining
// engine that evaluates compiled rules against one working memory until no
// rule can fire.
//
// EVALUATION:
//
// Each cycle the engine builds the agenda of activations, a (rule, fact)
// pair whose when-type matches the fact's type (exactly or by descent),
// whose CEL condition holds, whose absent-guards are satisfied and which has
// not fired before. The first activation in agenda order fires and inserts
// one new fact. The cycle repeats until the agenda is empty (fixpoint).
//
// Agenda order is deterministic:
//  1. Salience, highest first
//  2. Rule declaration order
//  3. Fact insertion order
//
// Refraction: an activation fires at most once. Because working memory is
// append-only, a condition result for a given (rule, fact) never changes and
// is cached for the evaluation.
//
// TERMINATION:
//
// Rules that keep deriving new facts never reach fixpoint. Every firing
// counts against a step quota (DefaultMaxSteps unless WithMaxSteps is used);
// exceeding it aborts evaluation with NonTerminationError. It is a rule
// authoring defect and is never truncated silently.
//
// CONCURRENCY:
//
// An Engine is immutable after New and may be shared by any number of
// concurrent evaluations, each against its own working memory.
package engine
