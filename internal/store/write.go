package store

import (
	"context"
	"fmt"

	"github.com/sctrcd/buspass/internal/ir"
)

// WriteDetermination appends a determination and its firings to the log.
// rec.ID and rec.Seq are ignored: the store assigns both.
//
// Uses ON CONFLICT(session_id) DO NOTHING for idempotency - a second write
// for the same session is silently ignored and its firings are not written.
// The determination row and its firings commit atomically.
func (s *Store) WriteDetermination(ctx context.Context, rec ir.DeterminationRecord) error {
	_, _, err := s.writeDetermination(ctx, rec)
	return err
}

// writeDetermination returns the assigned seq and whether a new row was inserted.
func (s *Store) writeDetermination(ctx context.Context, rec ir.DeterminationRecord) (seq int64, inserted bool, err error) {
	if rec.SessionID == "" {
		return 0, false, fmt.Errorf("write determination: session id is required")
	}

	inputJSON, err := marshalObject(rec.Input)
	if err != nil {
		return 0, false, fmt.Errorf("write determination: %w", err)
	}
	resultJSON, err := marshalObject(rec.Result)
	if err != nil {
		return 0, false, fmt.Errorf("write determination: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, false, fmt.Errorf("write determination: begin tx: %w", err)
	}
	defer tx.Rollback() // No-op if committed

	if err := tx.QueryRowContext(ctx, `
		SELECT COALESCE(MAX(seq), 0) + 1 FROM determinations
	`).Scan(&seq); err != nil {
		return 0, false, fmt.Errorf("write determination: next seq: %w", err)
	}

	result, err := tx.ExecContext(ctx, `
		INSERT INTO determinations
		(session_id, input_type, input_hash, input, ruleset_hash, engine_version, ir_version,
		 outcome, result_type, result, match_count, fact_count, error, seq)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(session_id) DO NOTHING
	`,
		rec.SessionID,
		rec.InputType,
		rec.InputHash,
		inputJSON,
		rec.RuleSetHash,
		ir.EngineVersion,
		ir.IRVersion,
		rec.Outcome,
		rec.ResultType,
		resultJSON,
		rec.MatchCount,
		rec.FactCount,
		rec.Error,
		seq,
	)
	if err != nil {
		return 0, false, fmt.Errorf("write determination: insert: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return 0, false, fmt.Errorf("write determination: rows affected: %w", err)
	}
	if rowsAffected == 0 {
		// Session already recorded; keep the first record untouched.
		return 0, false, nil
	}

	id, err := result.LastInsertId()
	if err != nil {
		return 0, false, fmt.Errorf("write determination: last insert id: %w", err)
	}

	for _, f := range rec.Firings {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO firings
			(determination_id, step, rule_id, matched_seq, inserted_seq)
			VALUES (?, ?, ?, ?, ?)
		`,
			id,
			f.Step,
			f.RuleID,
			f.MatchedSeq,
			f.InsertedSeq,
		)
		if err != nil {
			return 0, false, fmt.Errorf("write determination: firing %d: %w", f.Step, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, false, fmt.Errorf("write determination: commit: %w", err)
	}

	return seq, true, nil
}
