package store

import (
	"database/sql"
	"fmt"
	"time"
)

// Episode is a consolidated session summary. Created when a working-memory
// session closes; mutated afterwards only to set narrative links.
type Episode struct {
	ID         string   `json:"id"`
	Decisions  []Record `json:"decisions,omitempty"`
	Failures   []Record `json:"failures,omitempty"`
	Learnings  []Record `json:"learnings,omitempty"`
	Goals      []string `json:"goals,omitempty"`
	Procedures []string `json:"procedures,omitempty"`
	Themes     []string `json:"themes,omitempty"`
	PrecededBy string   `json:"preceded_by,omitempty"`
	LedTo      string   `json:"led_to,omitempty"`
	Related    []string `json:"related,omitempty"`
	CreatedAt  int64    `json:"created_at"`
}

// Record is a single decision, failure, or learning captured in a session.
type Record struct {
	Context string `json:"context,omitempty"`
	Choice  string `json:"choice,omitempty"`
	Detail  string `json:"detail,omitempty"`
	Success bool   `json:"success,omitempty"`
}

// CreateEpisode persists a new episode, assigning an id if unset.
func (db *DB) CreateEpisode(ep *Episode) error {
	if ep.ID == "" {
		ep.ID = NewID()
	}
	if ep.CreatedAt == 0 {
		ep.CreatedAt = time.Now().UnixMilli()
	}

	cols := make([]string, 0, 7)
	for _, v := range []any{ep.Decisions, ep.Failures, ep.Learnings, ep.Goals, ep.Procedures, ep.Themes, ep.Related} {
		s, err := marshalJSON(v)
		if err != nil {
			return fmt.Errorf("marshal episode field: %w", err)
		}
		cols = append(cols, s)
	}

	_, err := db.Exec(`
		INSERT INTO episodes (id, decisions, failures, learnings, goals, procedures, themes, preceded_by, led_to, related, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, NULLIF(?, ''), NULLIF(?, ''), ?, ?)
	`, ep.ID, cols[0], cols[1], cols[2], cols[3], cols[4], cols[5], ep.PrecededBy, ep.LedTo, cols[6], ep.CreatedAt)
	if err != nil {
		return fmt.Errorf("create episode: %w", err)
	}
	return nil
}

// GetEpisode returns an episode by id, or nil if not found.
func (db *DB) GetEpisode(id string) (*Episode, error) {
	row := db.QueryRow(`
		SELECT id, decisions, failures, learnings, goals, procedures, themes, preceded_by, led_to, related, created_at
		FROM episodes WHERE id = ?
	`, id)
	ep, err := scanEpisode(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get episode: %w", err)
	}
	return ep, nil
}

// RecentEpisodes returns up to limit episodes, newest first. This bounded
// window keeps narrative linking cost independent of total history size.
func (db *DB) RecentEpisodes(limit int) ([]Episode, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := db.Query(`
		SELECT id, decisions, failures, learnings, goals, procedures, themes, preceded_by, led_to, related, created_at
		FROM episodes ORDER BY created_at DESC LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("recent episodes: %w", err)
	}
	defer rows.Close()

	var episodes []Episode
	for rows.Next() {
		ep, err := scanEpisode(rows)
		if err != nil {
			return nil, fmt.Errorf("scan episode: %w", err)
		}
		episodes = append(episodes, *ep)
	}
	return episodes, rows.Err()
}

// AllEpisodes returns the full episode history, oldest first. Used by rule
// extraction, which scans everything by design.
func (db *DB) AllEpisodes() ([]Episode, error) {
	rows, err := db.Query(`
		SELECT id, decisions, failures, learnings, goals, procedures, themes, preceded_by, led_to, related, created_at
		FROM episodes ORDER BY created_at ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("all episodes: %w", err)
	}
	defer rows.Close()

	var episodes []Episode
	for rows.Next() {
		ep, err := scanEpisode(rows)
		if err != nil {
			return nil, fmt.Errorf("scan episode: %w", err)
		}
		episodes = append(episodes, *ep)
	}
	return episodes, rows.Err()
}

// SetEpisodeNarrative updates an episode's themes, predecessor and related
// links after narrative linking.
func (db *DB) SetEpisodeNarrative(id string, themes []string, precededBy string, related []string) error {
	themesJSON, err := marshalJSON(themes)
	if err != nil {
		return fmt.Errorf("marshal themes: %w", err)
	}
	relatedJSON, err := marshalJSON(related)
	if err != nil {
		return fmt.Errorf("marshal related: %w", err)
	}

	result, err := db.Exec(`
		UPDATE episodes SET themes = ?, preceded_by = NULLIF(?, ''), related = ? WHERE id = ?
	`, themesJSON, precededBy, relatedJSON, id)
	if err != nil {
		return fmt.Errorf("set episode narrative: %w", err)
	}
	n, _ := result.RowsAffected()
	if n == 0 {
		return fmt.Errorf("set narrative %s: %w", id, ErrNotFound)
	}
	return nil
}

// SetEpisodeLedTo back-fills the led_to pointer on a predecessor episode.
func (db *DB) SetEpisodeLedTo(id, ledTo string) error {
	result, err := db.Exec(`UPDATE episodes SET led_to = ? WHERE id = ?`, ledTo, id)
	if err != nil {
		return fmt.Errorf("set episode led_to: %w", err)
	}
	n, _ := result.RowsAffected()
	if n == 0 {
		return fmt.Errorf("set led_to %s: %w", id, ErrNotFound)
	}
	return nil
}

func scanEpisode(row rowScanner) (*Episode, error) {
	var ep Episode
	var decisions, failures, learnings, goals, procedures, themes, precededBy, ledTo, related sql.NullString
	err := row.Scan(&ep.ID, &decisions, &failures, &learnings, &goals, &procedures,
		&themes, &precededBy, &ledTo, &related, &ep.CreatedAt)
	if err != nil {
		return nil, err
	}
	ep.PrecededBy = precededBy.String
	ep.LedTo = ledTo.String

	fields := []struct {
		raw string
		dst any
	}{
		{decisions.String, &ep.Decisions},
		{failures.String, &ep.Failures},
		{learnings.String, &ep.Learnings},
		{goals.String, &ep.Goals},
		{procedures.String, &ep.Procedures},
		{themes.String, &ep.Themes},
		{related.String, &ep.Related},
	}
	for _, f := range fields {
		if err := unmarshalJSON(f.raw, f.dst); err != nil {
			return nil, fmt.Errorf("decode episode %s: %w", ep.ID, err)
		}
	}
	return &ep, nil
}
