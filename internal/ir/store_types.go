package ir

// NOTE: These are audit-log types, not part of the compiled rule set.
// They summarize a determination after the fact. Working memory is never
// persisted; only the input, the selected result and the firing sequence are.

// Outcome values recorded for a determination.
const (
	OutcomeIssued   = "issued"    // exactly one result fact returned
	OutcomeNoResult = "no_result" // no fact of the target type derived
	OutcomeFailed   = "failed"    // evaluation failed (e.g. non-termination)
)

// DeterminationRecord is one audited determination.
type DeterminationRecord struct {
	ID            int64          `json:"id"`         // Auto-increment (store FK)
	SessionID     string         `json:"session_id"` // UUIDv7 of the inference session
	InputType     string         `json:"input_type"`
	InputHash     string         `json:"input_hash"` // FactDigest of the input fact
	Input         IRObject       `json:"input"`
	RuleSetHash   string         `json:"ruleset_hash"`
	EngineVersion string         `json:"engine_version,omitempty"` // set by the store on write
	IRVersion     string         `json:"ir_version,omitempty"`
	Outcome       string         `json:"outcome"`
	ResultType    string         `json:"result_type,omitempty"`
	Result        IRObject       `json:"result,omitempty"`
	MatchCount    int            `json:"match_count"` // candidates found before first-match selection
	FactCount     int            `json:"fact_count"`  // facts in working memory at extraction
	Error         string         `json:"error,omitempty"`
	Seq           int64          `json:"seq"` // audit log sequence, assigned by the store
	Firings       []FiringRecord `json:"firings,omitempty"`
}

// FiringRecord is one rule firing within a determination, in firing order.
type FiringRecord struct {
	RuleID      string `json:"rule_id"`
	MatchedSeq  int64  `json:"matched_seq"`  // handle sequence of the matched fact
	InsertedSeq int64  `json:"inserted_seq"` // handle sequence of the inserted fact
	Step        int    `json:"step"`
}
