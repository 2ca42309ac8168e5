package store

import (
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// Evolution states.
const (
	StateStable   = "STABLE"
	StateLearning = "LEARNING"
	StateEvolving = "EVOLVING"
)

// ErrStaleState indicates a concurrent transition won the version race.
// The caller should re-read state and re-validate.
var ErrStaleState = errors.New("evolution state version conflict")

// EvolutionState is the singleton record governing self-modification.
// Mutated only through the evolution controller's validated transitions.
type EvolutionState struct {
	State                string            `json:"state"`
	EnteredAt            int64             `json:"entered_at"`
	Pending              *PendingEvolution `json:"pending_evolution,omitempty"`
	TransitionCount      int               `json:"transition_count"`
	EvolutionsApplied    int               `json:"evolutions_applied"`
	EvolutionsRolledBack int               `json:"evolutions_rolled_back"`
	Version              int64             `json:"-"`
}

// PendingEvolution is an in-flight change proposal.
type PendingEvolution struct {
	ID        string     `json:"id"`
	Type      string     `json:"type,omitempty"`
	Target    string     `json:"target,omitempty"`
	Change    string     `json:"change,omitempty"`
	Evidence  []Evidence `json:"evidence"`
	Threshold int        `json:"threshold"`
	StartedAt int64      `json:"started_at"`
}

// Evidence is one observation supporting a potential self-modification.
type Evidence struct {
	Description string `json:"description"`
	Source      string `json:"source,omitempty"`
	At          int64  `json:"at"`
}

// TransitionRecord is one immutable line of the append-only audit trail.
type TransitionRecord struct {
	ID     int64  `json:"id"`
	From   string `json:"from"`
	To     string `json:"to"`
	At     int64  `json:"at"`
	Reason string `json:"reason,omitempty"`
	Data   string `json:"data,omitempty"`
	Forced bool   `json:"forced,omitempty"`
}

// RollbackRecord is an archived pending evolution that was abandoned.
type RollbackRecord struct {
	ID      int64            `json:"id"`
	Pending PendingEvolution `json:"pending"`
	Reason  string           `json:"reason"`
	At      int64            `json:"at"`
}

// GetEvolutionState reads the singleton evolution state.
func (db *DB) GetEvolutionState() (*EvolutionState, error) {
	var s EvolutionState
	var pending sql.NullString
	err := db.QueryRow(`
		SELECT state, entered_at, pending, transition_count, evolutions_applied, evolutions_rolled_back, version
		FROM evolution_state WHERE id = 1
	`).Scan(&s.State, &s.EnteredAt, &pending, &s.TransitionCount,
		&s.EvolutionsApplied, &s.EvolutionsRolledBack, &s.Version)
	if err != nil {
		return nil, fmt.Errorf("get evolution state: %w", err)
	}
	if pending.Valid && pending.String != "" {
		var p PendingEvolution
		if err := unmarshalJSON(pending.String, &p); err != nil {
			return nil, fmt.Errorf("decode pending evolution: %w", err)
		}
		s.Pending = &p
	}
	return &s, nil
}

// UpdateEvolutionState writes a new state using an optimistic version check.
// Returns ErrStaleState when another writer transitioned concurrently, so a
// concurrent pair of transitions can never both succeed from the same start.
func (db *DB) UpdateEvolutionState(s *EvolutionState) error {
	pending := ""
	if s.Pending != nil {
		var err error
		pending, err = marshalJSON(s.Pending)
		if err != nil {
			return fmt.Errorf("marshal pending evolution: %w", err)
		}
	}

	result, err := db.Exec(`
		UPDATE evolution_state
		SET state = ?, entered_at = ?, pending = NULLIF(?, ''), transition_count = ?,
		    evolutions_applied = ?, evolutions_rolled_back = ?, version = version + 1
		WHERE id = 1 AND version = ?
	`, s.State, s.EnteredAt, pending, s.TransitionCount,
		s.EvolutionsApplied, s.EvolutionsRolledBack, s.Version)
	if err != nil {
		return fmt.Errorf("update evolution state: %w", err)
	}
	n, _ := result.RowsAffected()
	if n == 0 {
		return ErrStaleState
	}
	s.Version++
	return nil
}

// AppendTransition adds an immutable record to the audit trail.
// The trail is append-only; nothing in the codebase updates or deletes rows.
func (db *DB) AppendTransition(rec *TransitionRecord) error {
	if rec.At == 0 {
		rec.At = time.Now().UnixMilli()
	}
	forced := 0
	if rec.Forced {
		forced = 1
	}
	result, err := db.Exec(`
		INSERT INTO evolution_history (from_state, to_state, at, reason, data, forced)
		VALUES (?, ?, ?, NULLIF(?, ''), NULLIF(?, ''), ?)
	`, rec.From, rec.To, rec.At, rec.Reason, rec.Data, forced)
	if err != nil {
		return fmt.Errorf("append transition: %w", err)
	}
	rec.ID, _ = result.LastInsertId()
	return nil
}

// TransitionHistory returns the full audit trail, oldest first.
func (db *DB) TransitionHistory() ([]TransitionRecord, error) {
	rows, err := db.Query(`
		SELECT id, from_state, to_state, at, reason, data, forced
		FROM evolution_history ORDER BY id ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("transition history: %w", err)
	}
	defer rows.Close()

	var records []TransitionRecord
	for rows.Next() {
		var r TransitionRecord
		var reason, data sql.NullString
		var forced int
		if err := rows.Scan(&r.ID, &r.From, &r.To, &r.At, &reason, &data, &forced); err != nil {
			return nil, fmt.Errorf("scan transition: %w", err)
		}
		r.Reason = reason.String
		r.Data = data.String
		r.Forced = forced != 0
		records = append(records, r)
	}
	return records, rows.Err()
}

// ArchiveRollback stores an abandoned pending evolution for audit review.
func (db *DB) ArchiveRollback(pending *PendingEvolution, reason string) error {
	p, err := marshalJSON(pending)
	if err != nil {
		return fmt.Errorf("marshal rollback pending: %w", err)
	}
	_, err = db.Exec(`
		INSERT INTO evolution_rollbacks (pending, reason, at) VALUES (?, NULLIF(?, ''), ?)
	`, p, reason, time.Now().UnixMilli())
	if err != nil {
		return fmt.Errorf("archive rollback: %w", err)
	}
	return nil
}

// ListRollbacks returns archived rollbacks, newest first. Corrupt rows are
// skipped so one bad record cannot block an audit query.
func (db *DB) ListRollbacks() ([]RollbackRecord, error) {
	rows, err := db.Query(`
		SELECT id, pending, reason, at FROM evolution_rollbacks ORDER BY id DESC
	`)
	if err != nil {
		return nil, fmt.Errorf("list rollbacks: %w", err)
	}
	defer rows.Close()

	var records []RollbackRecord
	for rows.Next() {
		var r RollbackRecord
		var pending string
		var reason sql.NullString
		if err := rows.Scan(&r.ID, &pending, &reason, &r.At); err != nil {
			return nil, fmt.Errorf("scan rollback: %w", err)
		}
		if err := unmarshalJSON(pending, &r.Pending); err != nil {
			continue
		}
		r.Reason = reason.String
		records = append(records, r)
	}
	return records, rows.Err()
}
