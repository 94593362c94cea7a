package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/sctrcd/buspass/internal/ir"
)

const determinationColumns = `
	id, session_id, input_type, input_hash, input, ruleset_hash, engine_version, ir_version,
	outcome, result_type, result, match_count, fact_count, error, seq`

// Filter narrows ListDeterminations. Zero values match everything.
type Filter struct {
	Outcome   string // ir.Outcome* value
	InputHash string
	Limit     int // 0 means no limit
}

// ReadDetermination retrieves a single determination, with its firings,
// by session ID. Returns sql.ErrNoRows if not found.
func (s *Store) ReadDetermination(ctx context.Context, sessionID string) (ir.DeterminationRecord, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+determinationColumns+`
		FROM determinations
		WHERE session_id = ?
	`, sessionID)

	rec, err := scanDetermination(row)
	if err != nil {
		return ir.DeterminationRecord{}, err
	}

	firings, err := s.readFirings(ctx, rec.ID)
	if err != nil {
		return ir.DeterminationRecord{}, err
	}
	rec.Firings = firings
	return rec, nil
}

// ListDeterminations returns determinations matching f, with their firings.
// Results are ordered deterministically: ORDER BY seq ASC, id ASC.
//
// Returns an empty slice (not nil) if nothing matches.
func (s *Store) ListDeterminations(ctx context.Context, f Filter) ([]ir.DeterminationRecord, error) {
	var (
		where []string
		args  []any
	)
	if f.Outcome != "" {
		where = append(where, "outcome = ?")
		args = append(args, f.Outcome)
	}
	if f.InputHash != "" {
		where = append(where, "input_hash = ?")
		args = append(args, f.InputHash)
	}

	query := "SELECT " + determinationColumns + " FROM determinations"
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY seq ASC, id ASC"
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list determinations: %w", err)
	}
	defer rows.Close()

	records := []ir.DeterminationRecord{}
	for rows.Next() {
		rec, err := scanDetermination(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate determinations: %w", err)
	}

	// Firings are read after the cursor is closed; the pool has one connection.
	rows.Close()
	for i := range records {
		firings, err := s.readFirings(ctx, records[i].ID)
		if err != nil {
			return nil, err
		}
		records[i].Firings = firings
	}

	return records, nil
}

// readFirings returns the firings of one determination in step order.
// Returns nil when the determination fired no rules.
func (s *Store) readFirings(ctx context.Context, determinationID int64) ([]ir.FiringRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT step, rule_id, matched_seq, inserted_seq
		FROM firings
		WHERE determination_id = ?
		ORDER BY step ASC
	`, determinationID)
	if err != nil {
		return nil, fmt.Errorf("query firings: %w", err)
	}
	defer rows.Close()

	var firings []ir.FiringRecord
	for rows.Next() {
		var f ir.FiringRecord
		if err := rows.Scan(&f.Step, &f.RuleID, &f.MatchedSeq, &f.InsertedSeq); err != nil {
			return nil, fmt.Errorf("scan firing: %w", err)
		}
		firings = append(firings, f)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate firings: %w", err)
	}
	return firings, nil
}

// scanner is implemented by *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

// scanDetermination scans one determinations row. sql.ErrNoRows is
// returned unwrapped so callers can compare against it.
func scanDetermination(row scanner) (ir.DeterminationRecord, error) {
	var (
		rec        ir.DeterminationRecord
		inputJSON  string
		resultJSON string
	)
	err := row.Scan(
		&rec.ID,
		&rec.SessionID,
		&rec.InputType,
		&rec.InputHash,
		&inputJSON,
		&rec.RuleSetHash,
		&rec.EngineVersion,
		&rec.IRVersion,
		&rec.Outcome,
		&rec.ResultType,
		&resultJSON,
		&rec.MatchCount,
		&rec.FactCount,
		&rec.Error,
		&rec.Seq,
	)
	if err == sql.ErrNoRows {
		return ir.DeterminationRecord{}, err
	}
	if err != nil {
		return ir.DeterminationRecord{}, fmt.Errorf("scan determination: %w", err)
	}

	if rec.Input, err = unmarshalObject(inputJSON); err != nil {
		return ir.DeterminationRecord{}, fmt.Errorf("determination %s input: %w", rec.SessionID, err)
	}
	if rec.ResultType == "" {
		return rec, nil
	}
	if rec.Result, err = unmarshalObject(resultJSON); err != nil {
		return ir.DeterminationRecord{}, fmt.Errorf("determination %s result: %w", rec.SessionID, err)
	}
	return rec, nil
}
