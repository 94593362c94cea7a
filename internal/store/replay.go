package store

import (
	"context"
	"fmt"

	"github.com/sctrcd/buspass/internal/ir"
)

// GetLastSeq returns the highest seq number used in the store, or 0 when
// the log is empty.
func (s *Store) GetLastSeq(ctx context.Context) (int64, error) {
	var seq int64
	err := s.db.QueryRowContext(ctx, `
		SELECT COALESCE(MAX(seq), 0) FROM determinations
	`).Scan(&seq)
	if err != nil {
		return 0, fmt.Errorf("get last seq: %w", err)
	}
	return seq, nil
}

// ReplayInputs returns the most recent determination for every distinct
// input, ordered by that determination's seq. Replaying these against a
// rule set and comparing outcomes detects drift.
//
// Firings are not loaded; replay compares outcomes only.
func (s *Store) ReplayInputs(ctx context.Context) ([]ir.DeterminationRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+determinationColumns+`
		FROM determinations
		WHERE seq IN (
			SELECT MAX(seq) FROM determinations GROUP BY input_type, input_hash
		)
		ORDER BY seq ASC, id ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("replay inputs: %w", err)
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
		return nil, fmt.Errorf("iterate replay inputs: %w", err)
	}
	return records, nil
}

// CountByOutcome returns the number of recorded determinations per outcome.
// Outcomes with no determinations are absent from the map.
func (s *Store) CountByOutcome(ctx context.Context) (map[string]int, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT outcome, COUNT(*) FROM determinations
		GROUP BY outcome
		ORDER BY outcome
	`)
	if err != nil {
		return nil, fmt.Errorf("count by outcome: %w", err)
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var (
			outcome string
			n       int
		)
		if err := rows.Scan(&outcome, &n); err != nil {
			return nil, fmt.Errorf("scan outcome count: %w", err)
		}
		counts[outcome] = n
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate outcome counts: %w", err)
	}
	return counts, nil
}
