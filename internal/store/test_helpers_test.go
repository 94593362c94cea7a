package store

import (
	"path/filepath"
	"testing"

	"github.com/sctrcd/buspass/internal/ir"
)

// createTestStore creates a new store in a temp directory for testing.
func createTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// createTestRecord creates an issued determination for a senior citizen.
func createTestRecord(sessionID string, age int64) ir.DeterminationRecord {
	input := ir.IRObject{
		"age":       ir.IRInt(age),
		"residency": ir.IRString("local"),
	}
	hash, err := ir.FactDigest("Person", input)
	if err != nil {
		panic(err)
	}
	return ir.DeterminationRecord{
		SessionID:   sessionID,
		InputType:   "Person",
		InputHash:   hash,
		Input:       input,
		RuleSetHash: "test-hash",
		Outcome:     ir.OutcomeIssued,
		ResultType:  "SeniorPass",
		Result:      ir.IRObject{"category": ir.IRString("senior")},
		MatchCount:  1,
		FactCount:   3,
		Firings: []ir.FiringRecord{
			{RuleID: "classify-senior", MatchedSeq: 1, InsertedSeq: 2, Step: 1},
			{RuleID: "issue-senior-pass", MatchedSeq: 2, InsertedSeq: 3, Step: 2},
		},
	}
}

// createNoResultRecord creates a no_result determination with no firings.
func createNoResultRecord(sessionID string, age int64) ir.DeterminationRecord {
	rec := createTestRecord(sessionID, age)
	rec.Outcome = ir.OutcomeNoResult
	rec.ResultType = ""
	rec.Result = nil
	rec.MatchCount = 0
	rec.FactCount = 1
	rec.Firings = nil
	return rec
}
