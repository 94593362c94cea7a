package harness

import "github.com/sctrcd/buspass/internal/ir"

// Error kinds reported for failed cases.
const (
	ErrorInput          = "input"
	ErrorNonTermination = "non_termination"
	ErrorEvaluation     = "evaluation"
)

// CaseResult is what one case produced, as read back from the audit log.
type CaseResult struct {
	Name       string            `json:"name"`
	Session    string            `json:"session,omitempty"`
	Outcome    string            `json:"outcome"`
	ResultType string            `json:"result_type,omitempty"`
	Result     ir.IRObject       `json:"result,omitempty"`
	MatchCount int               `json:"match_count,omitempty"`
	FactCount  int               `json:"fact_count"`
	Firings    []ir.FiringRecord `json:"firings,omitempty"`

	// Error is the error kind of a failed case, Message the error text.
	Error   string `json:"error,omitempty"`
	Message string `json:"message,omitempty"`

	// Dump is the working memory after evaluation. Empty when evaluation
	// did not complete.
	Dump string `json:"dump,omitempty"`
}

// Result is the outcome of a test scenario execution.
type Result struct {
	// Pass indicates overall test success.
	// True if every expect clause and assertion held.
	Pass bool `json:"pass"`

	// Cases holds one entry per scenario case, in scenario order.
	Cases []CaseResult `json:"cases"`

	// Errors contains validation error messages.
	// Empty if Pass is true.
	Errors []string `json:"errors,omitempty"`
}

// NewResult creates a new passing result.
func NewResult() *Result {
	return &Result{
		Pass:   true,
		Cases:  []CaseResult{},
		Errors: []string{},
	}
}

// AddError adds a validation error and marks the result as failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}

// firedRules returns the rule ID of every firing, in firing order.
func (c CaseResult) firedRules() []string {
	ids := make([]string, len(c.Firings))
	for i, f := range c.Firings {
		ids[i] = f.RuleID
	}
	return ids
}
