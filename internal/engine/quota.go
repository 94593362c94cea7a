package engine

import (
	"errors"
	"fmt"
)

// QuotaEnforcer counts rule firings within one evaluation and enforces the
// maximum steps limit.
//
// Each evaluation gets its own QuotaEnforcer. The quota is checked before
// every firing.
type QuotaEnforcer struct {
	maxSteps int
	current  int
}

// NewQuotaEnforcer creates a new quota enforcer with the given limit.
func NewQuotaEnforcer(maxSteps int) *QuotaEnforcer {
	return &QuotaEnforcer{maxSteps: maxSteps}
}

// Check increments the step counter and validates against the limit.
//
// Returns NonTerminationError once the limit is exceeded.
func (q *QuotaEnforcer) Check(session, ruleID string) error {
	q.current++
	if q.current > q.maxSteps {
		return &NonTerminationError{
			Session: session,
			RuleID:  ruleID,
			Steps:   q.current,
			Limit:   q.maxSteps,
		}
	}
	return nil
}

// Current returns the current step count.
func (q *QuotaEnforcer) Current() int {
	return q.current
}

// MaxSteps returns the maximum steps limit.
func (q *QuotaEnforcer) MaxSteps() int {
	return q.maxSteps
}

// NonTerminationError is returned when rule evaluation does not reach
// fixpoint within the step quota.
//
// It is fatal for the determination: the rules keep deriving facts, which is
// an authoring defect. It is not retryable.
type NonTerminationError struct {
	Session string // working memory (session) being evaluated
	RuleID  string // rule whose activation would have exceeded the quota
	Steps   int    // firings attempted, including the rejected one
	Limit   int
}

// Error implements the error interface.
func (e *NonTerminationError) Error() string {
	return fmt.Sprintf("rule evaluation did not reach fixpoint in session %s: %d steps > %d limit (last rule %q)",
		e.Session, e.Steps, e.Limit, e.RuleID)
}

// Code returns the error category.
func (e *NonTerminationError) Code() RuntimeErrorCode {
	return ErrCodeNonTermination
}

// IsNonTermination returns true if err is a NonTerminationError.
// Uses errors.As to handle wrapped errors.
func IsNonTermination(err error) bool {
	var ne *NonTerminationError
	return errors.As(err, &ne)
}
