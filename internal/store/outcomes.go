package store

import (
	"database/sql"
	"fmt"
	"time"
)

// Outcome is feedback on how a retrieved memory served the agent: a 0-10
// score, a validated/invalidated verdict, or both.
type Outcome struct {
	ID        string `json:"id"`
	Context   string `json:"context"`
	Score     *int   `json:"score,omitempty"`
	Verdict   string `json:"verdict,omitempty"` // validated, invalidated
	CreatedAt int64  `json:"created_at"`
}

// RecordOutcome stores a new outcome for later utility processing.
func (db *DB) RecordOutcome(o *Outcome) error {
	if o.ID == "" {
		o.ID = NewID()
	}
	if o.CreatedAt == 0 {
		o.CreatedAt = time.Now().UnixMilli()
	}
	_, err := db.Exec(`
		INSERT INTO outcomes (id, context, score, verdict, created_at)
		VALUES (?, ?, ?, NULLIF(?, ''), ?)
	`, o.ID, o.Context, o.Score, o.Verdict, o.CreatedAt)
	if err != nil {
		return fmt.Errorf("record outcome: %w", err)
	}
	return nil
}

// UnprocessedOutcomes returns outcomes not yet applied by the utility
// tracker, oldest first.
func (db *DB) UnprocessedOutcomes() ([]Outcome, error) {
	rows, err := db.Query(`
		SELECT o.id, o.context, o.score, o.verdict, o.created_at
		FROM outcomes o
		LEFT JOIN processed_outcomes p ON p.outcome_id = o.id
		WHERE p.outcome_id IS NULL
		ORDER BY o.created_at ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("unprocessed outcomes: %w", err)
	}
	defer rows.Close()

	var outcomes []Outcome
	for rows.Next() {
		var o Outcome
		var score sql.NullInt64
		var verdict sql.NullString
		if err := rows.Scan(&o.ID, &o.Context, &score, &verdict, &o.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan outcome: %w", err)
		}
		if score.Valid {
			s := int(score.Int64)
			o.Score = &s
		}
		o.Verdict = verdict.String
		outcomes = append(outcomes, o)
	}
	return outcomes, rows.Err()
}

// MarkOutcomeProcessed records that an outcome's delta has been applied.
// Idempotent: re-marking is a no-op.
func (db *DB) MarkOutcomeProcessed(outcomeID string) error {
	_, err := db.Exec(`
		INSERT INTO processed_outcomes (outcome_id, processed_at) VALUES (?, ?)
		ON CONFLICT(outcome_id) DO NOTHING
	`, outcomeID, time.Now().UnixMilli())
	if err != nil {
		return fmt.Errorf("mark outcome processed: %w", err)
	}
	return nil
}

// OutcomeProcessed reports whether an outcome id is in the processed set.
func (db *DB) OutcomeProcessed(outcomeID string) (bool, error) {
	var count int
	err := db.QueryRow(`SELECT COUNT(*) FROM processed_outcomes WHERE outcome_id = ?`, outcomeID).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("check processed outcome: %w", err)
	}
	return count > 0, nil
}
