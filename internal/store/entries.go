package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/oklog/ulid/v2"
)

// MemoryEntry is a unit of remembered text, created by the surprise scorer's
// accept path. Immutable once written except for Outcome (set at most once)
// and History (appended to when a later observation supersedes it).
type MemoryEntry struct {
	ID          string        `json:"id"`
	Kind        string        `json:"kind"` // correction, insight, outcome
	Text        string        `json:"text"`
	PriorBelief string        `json:"prior_belief,omitempty"`
	CorrectedTo string        `json:"corrected_to,omitempty"`
	Tags        []string      `json:"tags,omitempty"`
	Related     []string      `json:"related,omitempty"`
	History     []HistoryItem `json:"history,omitempty"`
	Outcome     string        `json:"outcome,omitempty"`
	CreatedAt   int64         `json:"created_at"`
}

// HistoryItem records a superseding revision merged into an entry.
type HistoryItem struct {
	Text string `json:"text"`
	At   int64  `json:"at"`
}

// NewID returns a new lexicographically sortable id.
func NewID() string {
	return ulid.Make().String()
}

// CreateEntry inserts a new memory entry, assigning an id if unset.
func (db *DB) CreateEntry(e *MemoryEntry) error {
	if e.ID == "" {
		e.ID = NewID()
	}
	if e.CreatedAt == 0 {
		e.CreatedAt = time.Now().UnixMilli()
	}

	tags, err := marshalJSON(e.Tags)
	if err != nil {
		return fmt.Errorf("marshal tags: %w", err)
	}
	related, err := marshalJSON(e.Related)
	if err != nil {
		return fmt.Errorf("marshal related: %w", err)
	}
	history, err := marshalJSON(e.History)
	if err != nil {
		return fmt.Errorf("marshal history: %w", err)
	}

	_, err = db.Exec(`
		INSERT INTO entries (id, kind, text, prior_belief, corrected_to, tags, related, history, outcome, created_at)
		VALUES (?, ?, ?, NULLIF(?, ''), NULLIF(?, ''), ?, ?, ?, NULLIF(?, ''), ?)
	`, e.ID, e.Kind, e.Text, e.PriorBelief, e.CorrectedTo, tags, related, history, e.Outcome, e.CreatedAt)
	if err != nil {
		return fmt.Errorf("create entry: %w", err)
	}
	return nil
}

// GetEntry returns an entry by id, or nil if not found.
func (db *DB) GetEntry(id string) (*MemoryEntry, error) {
	row := db.QueryRow(`
		SELECT id, kind, text, prior_belief, corrected_to, tags, related, history, outcome, created_at
		FROM entries WHERE id = ?
	`, id)
	e, err := scanEntry(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get entry: %w", err)
	}
	return e, nil
}

// ListEntries returns all entries, newest first.
func (db *DB) ListEntries() ([]MemoryEntry, error) {
	rows, err := db.Query(`
		SELECT id, kind, text, prior_belief, corrected_to, tags, related, history, outcome, created_at
		FROM entries ORDER BY created_at DESC
	`)
	if err != nil {
		return nil, fmt.Errorf("list entries: %w", err)
	}
	defer rows.Close()

	var entries []MemoryEntry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("scan entry: %w", err)
		}
		entries = append(entries, *e)
	}
	return entries, rows.Err()
}

// AppendEntryHistory merges superseding text into an entry's history list.
func (db *DB) AppendEntryHistory(id, text string) error {
	e, err := db.GetEntry(id)
	if err != nil {
		return err
	}
	if e == nil {
		return fmt.Errorf("append history %s: %w", id, ErrNotFound)
	}

	e.History = append(e.History, HistoryItem{Text: text, At: time.Now().UnixMilli()})
	history, err := marshalJSON(e.History)
	if err != nil {
		return fmt.Errorf("marshal history: %w", err)
	}

	if _, err := db.Exec(`UPDATE entries SET history = ? WHERE id = ?`, history, id); err != nil {
		return fmt.Errorf("append history: %w", err)
	}
	return nil
}

// AddEntryRelated links an entry to others, deduplicating ids.
func (db *DB) AddEntryRelated(id string, relatedIDs ...string) error {
	e, err := db.GetEntry(id)
	if err != nil {
		return err
	}
	if e == nil {
		return fmt.Errorf("link entry %s: %w", id, ErrNotFound)
	}

	seen := make(map[string]bool, len(e.Related))
	for _, r := range e.Related {
		seen[r] = true
	}
	for _, r := range relatedIDs {
		if r == id || seen[r] {
			continue
		}
		e.Related = append(e.Related, r)
		seen[r] = true
	}

	related, err := marshalJSON(e.Related)
	if err != nil {
		return fmt.Errorf("marshal related: %w", err)
	}
	if _, err := db.Exec(`UPDATE entries SET related = ? WHERE id = ?`, related, id); err != nil {
		return fmt.Errorf("link entry: %w", err)
	}
	return nil
}

// SetEntryOutcome records feedback on an entry. The outcome field may be
// written exactly once; a second write is rejected.
func (db *DB) SetEntryOutcome(id, outcome string) error {
	result, err := db.Exec(`
		UPDATE entries SET outcome = ? WHERE id = ? AND outcome IS NULL
	`, outcome, id)
	if err != nil {
		return fmt.Errorf("set outcome: %w", err)
	}
	n, _ := result.RowsAffected()
	if n == 0 {
		e, err := db.GetEntry(id)
		if err != nil {
			return err
		}
		if e == nil {
			return fmt.Errorf("set outcome %s: %w", id, ErrNotFound)
		}
		return fmt.Errorf("entry %s outcome already set", id)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEntry(row rowScanner) (*MemoryEntry, error) {
	var e MemoryEntry
	var priorBelief, correctedTo, tags, related, history, outcome sql.NullString
	err := row.Scan(&e.ID, &e.Kind, &e.Text, &priorBelief, &correctedTo,
		&tags, &related, &history, &outcome, &e.CreatedAt)
	if err != nil {
		return nil, err
	}
	e.PriorBelief = priorBelief.String
	e.CorrectedTo = correctedTo.String
	e.Outcome = outcome.String
	if err := unmarshalJSON(tags.String, &e.Tags); err != nil {
		return nil, fmt.Errorf("decode tags for %s: %w", e.ID, err)
	}
	if err := unmarshalJSON(related.String, &e.Related); err != nil {
		return nil, fmt.Errorf("decode related for %s: %w", e.ID, err)
	}
	if err := unmarshalJSON(history.String, &e.History); err != nil {
		return nil, fmt.Errorf("decode history for %s: %w", e.ID, err)
	}
	return &e, nil
}

// marshalJSON encodes a value to JSON, returning "" for nil slices so the
// column stays NULL instead of storing "null".
func marshalJSON(v any) (string, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	s := string(b)
	if s == "null" {
		return "", nil
	}
	return s, nil
}

func unmarshalJSON(s string, v any) error {
	if s == "" {
		return nil
	}
	return json.Unmarshal([]byte(s), v)
}
