package store

import (
	"database/sql"
	"fmt"
	"time"
)

// NarrativeThread groups episodes sharing a theme, in link order.
type NarrativeThread struct {
	Theme       string   `json:"theme"`
	EpisodeIDs  []string `json:"episode_ids"`
	LastUpdated int64    `json:"last_updated"`
}

// UpsertThreadEpisode appends an episode to a theme's thread, creating the
// thread if needed. Appending an already-present episode is a no-op.
func (db *DB) UpsertThreadEpisode(theme, episodeID string) error {
	thread, err := db.GetThread(theme)
	if err != nil {
		return err
	}

	now := time.Now().UnixMilli()
	if thread == nil {
		ids, err := marshalJSON([]string{episodeID})
		if err != nil {
			return fmt.Errorf("marshal thread ids: %w", err)
		}
		_, err = db.Exec(`
			INSERT INTO narrative_threads (theme, episode_ids, last_updated) VALUES (?, ?, ?)
		`, theme, ids, now)
		if err != nil {
			return fmt.Errorf("create thread: %w", err)
		}
		return nil
	}

	for _, id := range thread.EpisodeIDs {
		if id == episodeID {
			return nil
		}
	}
	thread.EpisodeIDs = append(thread.EpisodeIDs, episodeID)

	ids, err := marshalJSON(thread.EpisodeIDs)
	if err != nil {
		return fmt.Errorf("marshal thread ids: %w", err)
	}
	_, err = db.Exec(`
		UPDATE narrative_threads SET episode_ids = ?, last_updated = ? WHERE theme = ?
	`, ids, now, theme)
	if err != nil {
		return fmt.Errorf("update thread: %w", err)
	}
	return nil
}

// GetThread returns the thread for a theme, or nil if not found.
func (db *DB) GetThread(theme string) (*NarrativeThread, error) {
	var t NarrativeThread
	var ids string
	err := db.QueryRow(`
		SELECT theme, episode_ids, last_updated FROM narrative_threads WHERE theme = ?
	`, theme).Scan(&t.Theme, &ids, &t.LastUpdated)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get thread: %w", err)
	}
	if err := unmarshalJSON(ids, &t.EpisodeIDs); err != nil {
		return nil, fmt.Errorf("decode thread %s: %w", theme, err)
	}
	return &t, nil
}

// ListThreads returns all narrative threads, most recently updated first.
func (db *DB) ListThreads() ([]NarrativeThread, error) {
	rows, err := db.Query(`
		SELECT theme, episode_ids, last_updated FROM narrative_threads ORDER BY last_updated DESC
	`)
	if err != nil {
		return nil, fmt.Errorf("list threads: %w", err)
	}
	defer rows.Close()

	var threads []NarrativeThread
	for rows.Next() {
		var t NarrativeThread
		var ids string
		if err := rows.Scan(&t.Theme, &ids, &t.LastUpdated); err != nil {
			return nil, fmt.Errorf("scan thread: %w", err)
		}
		if err := unmarshalJSON(ids, &t.EpisodeIDs); err != nil {
			return nil, fmt.Errorf("decode thread %s: %w", t.Theme, err)
		}
		threads = append(threads, t)
	}
	return threads, rows.Err()
}
