package store

import (
	"fmt"
	"time"
)

// SemanticRule is a durable cross-episode rule promoted to the semantic tier.
type SemanticRule struct {
	ID          int64   `json:"id"`
	Rule        string  `json:"rule"`
	Kind        string  `json:"kind"` // pattern, decision
	Occurrences int     `json:"occurrences"`
	Confidence  float64 `json:"confidence"`
	GeneratedAt int64   `json:"generated_at"`
}

// ReplaceSemanticRules fully regenerates the semantic rule set. Promotion is
// a rebuild, not an incremental diff, so the table is cleared first.
func (db *DB) ReplaceSemanticRules(rules []SemanticRule) error {
	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("begin replace rules: %w", err)
	}

	if _, err := tx.Exec(`DELETE FROM semantic_rules`); err != nil {
		tx.Rollback()
		return fmt.Errorf("clear semantic rules: %w", err)
	}

	now := time.Now().UnixMilli()
	for _, r := range rules {
		if _, err := tx.Exec(`
			INSERT INTO semantic_rules (rule, kind, occurrences, confidence, generated_at)
			VALUES (?, ?, ?, ?, ?)
		`, r.Rule, r.Kind, r.Occurrences, r.Confidence, now); err != nil {
			tx.Rollback()
			return fmt.Errorf("insert semantic rule: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit replace rules: %w", err)
	}
	return nil
}

// ListSemanticRules returns all semantic rules, highest confidence first.
func (db *DB) ListSemanticRules() ([]SemanticRule, error) {
	rows, err := db.Query(`
		SELECT id, rule, kind, occurrences, confidence, generated_at
		FROM semantic_rules ORDER BY confidence DESC, rule ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("list semantic rules: %w", err)
	}
	defer rows.Close()

	var rules []SemanticRule
	for rows.Next() {
		var r SemanticRule
		if err := rows.Scan(&r.ID, &r.Rule, &r.Kind, &r.Occurrences, &r.Confidence, &r.GeneratedAt); err != nil {
			return nil, fmt.Errorf("scan semantic rule: %w", err)
		}
		rules = append(rules, r)
	}
	return rules, rows.Err()
}
