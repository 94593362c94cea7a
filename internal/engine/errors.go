package engine

import (
	"errors"
	"fmt"
)

// RuntimeErrorCode categorizes evaluation errors.
type RuntimeErrorCode string

const (
	// ErrCodeNonTermination indicates the step quota was exceeded.
	ErrCodeNonTermination RuntimeErrorCode = "RULE_EVALUATION_NON_TERMINATION"

	// ErrCodeCancelled indicates the evaluation context ended before fixpoint.
	ErrCodeCancelled RuntimeErrorCode = "EVALUATION_CANCELLED"

	// ErrCodeTemplate indicates a then-clause template could not be resolved.
	ErrCodeTemplate RuntimeErrorCode = "INVALID_TEMPLATE"

	// ErrCodeInsert indicates working memory rejected an inserted fact.
	ErrCodeInsert RuntimeErrorCode = "INSERT_FAILED"
)

// RuntimeError is a fatal error raised while firing rules.
type RuntimeError struct {
	Code    RuntimeErrorCode
	Message string
	Session string
	RuleID  string
	Err     error
}

// Error implements the error interface.
func (e *RuntimeError) Error() string {
	msg := fmt.Sprintf("%s: %s", e.Code, e.Message)
	if e.RuleID != "" {
		msg += fmt.Sprintf(" (session=%s, rule=%s)", e.Session, e.RuleID)
	} else if e.Session != "" {
		msg += fmt.Sprintf(" (session=%s)", e.Session)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap returns the underlying error.
func (e *RuntimeError) Unwrap() error {
	return e.Err
}

// IsCancelled returns true if evaluation stopped because its context ended.
func IsCancelled(err error) bool {
	var re *RuntimeError
	if errors.As(err, &re) {
		return re.Code == ErrCodeCancelled
	}
	return false
}

// ConfigError reports a rule set that cannot be loaded into an engine:
// unknown types, invalid conditions, malformed templates.
type ConfigError struct {
	RuleID  string
	Field   string
	Message string
}

// Error implements the error interface.
func (e *ConfigError) Error() string {
	if e.RuleID != "" {
		return fmt.Sprintf("rule %s: %s: %s", e.RuleID, e.Field, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}
