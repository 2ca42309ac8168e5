package store

import (
	"database/sql"
	"fmt"
	"strings"
	"time"
)

// Memory tiers, ordered by durability and authority.
const (
	TierCore     = "core"
	TierWorking  = "working"
	TierLearning = "learning"
	TierResearch = "research"
)

// MemoryChunk is an embeddable, retrievable fragment. Created on ingestion;
// only the utility-feedback tracker mutates the utility fields.
type MemoryChunk struct {
	ID                 string  `json:"id"`
	Source             string  `json:"source,omitempty"`
	Content            string  `json:"content"`
	Tier               string  `json:"tier"`
	UtilityScore       float64 `json:"utility_score"`
	UtilitySignalCount int     `json:"utility_signal_count"`
	UtilityUpdatedAt   *int64  `json:"utility_updated_at,omitempty"`
	SyncedAt           int64   `json:"synced_at"`
	CreatedAt          int64   `json:"created_at"`
}

// CreateChunk inserts a new chunk, assigning an id if unset.
func (db *DB) CreateChunk(c *MemoryChunk) error {
	if c.ID == "" {
		c.ID = NewID()
	}
	now := time.Now().UnixMilli()
	if c.CreatedAt == 0 {
		c.CreatedAt = now
	}
	if c.SyncedAt == 0 {
		c.SyncedAt = now
	}
	if c.Tier == "" {
		c.Tier = TierWorking
	}

	_, err := db.Exec(`
		INSERT INTO chunks (id, source, content, tier, utility_score, utility_signal_count, utility_updated_at, synced_at, created_at)
		VALUES (?, NULLIF(?, ''), ?, ?, ?, ?, ?, ?, ?)
	`, c.ID, c.Source, c.Content, c.Tier, c.UtilityScore, c.UtilitySignalCount, c.UtilityUpdatedAt, c.SyncedAt, c.CreatedAt)
	if err != nil {
		return fmt.Errorf("create chunk: %w", err)
	}
	return nil
}

// GetChunk returns a chunk by id, or nil if not found.
func (db *DB) GetChunk(id string) (*MemoryChunk, error) {
	row := db.QueryRow(`
		SELECT id, source, content, tier, utility_score, utility_signal_count, utility_updated_at, synced_at, created_at
		FROM chunks WHERE id = ?
	`, id)
	c, err := scanChunk(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get chunk: %w", err)
	}
	return c, nil
}

// ListChunks returns all chunks, newest sync first.
func (db *DB) ListChunks() ([]MemoryChunk, error) {
	rows, err := db.Query(`
		SELECT id, source, content, tier, utility_score, utility_signal_count, utility_updated_at, synced_at, created_at
		FROM chunks ORDER BY synced_at DESC
	`)
	if err != nil {
		return nil, fmt.Errorf("list chunks: %w", err)
	}
	defer rows.Close()
	return scanChunks(rows)
}

// GetChunksByIDs returns chunks for the given list of ids.
func (db *DB) GetChunksByIDs(ids []string) ([]MemoryChunk, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	placeholders := make([]string, len(ids))
	args := make([]any, len(ids))
	for i, id := range ids {
		placeholders[i] = "?"
		args[i] = id
	}

	query := fmt.Sprintf(`
		SELECT id, source, content, tier, utility_score, utility_signal_count, utility_updated_at, synced_at, created_at
		FROM chunks WHERE id IN (%s)
	`, strings.Join(placeholders, ","))

	rows, err := db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("get chunks by ids: %w", err)
	}
	defer rows.Close()
	return scanChunks(rows)
}

// ApplyUtilityDelta adjusts a chunk's utility score, clamping to [-1, 1],
// incrementing the signal count and refreshing utility_updated_at.
// This is the only write path for utility fields.
func (db *DB) ApplyUtilityDelta(id string, delta float64) error {
	now := time.Now().UnixMilli()
	result, err := db.Exec(`
		UPDATE chunks
		SET utility_score = MAX(-1.0, MIN(1.0, utility_score + ?)),
		    utility_signal_count = utility_signal_count + 1,
		    utility_updated_at = ?
		WHERE id = ?
	`, delta, now, id)
	if err != nil {
		return fmt.Errorf("apply utility delta: %w", err)
	}
	n, _ := result.RowsAffected()
	if n == 0 {
		return fmt.Errorf("apply utility delta %s: %w", id, ErrNotFound)
	}
	return nil
}

func scanChunk(row rowScanner) (*MemoryChunk, error) {
	var c MemoryChunk
	var source sql.NullString
	var updatedAt sql.NullInt64
	err := row.Scan(&c.ID, &source, &c.Content, &c.Tier,
		&c.UtilityScore, &c.UtilitySignalCount, &updatedAt, &c.SyncedAt, &c.CreatedAt)
	if err != nil {
		return nil, err
	}
	c.Source = source.String
	if updatedAt.Valid {
		c.UtilityUpdatedAt = &updatedAt.Int64
	}
	return &c, nil
}

func scanChunks(rows *sql.Rows) ([]MemoryChunk, error) {
	var chunks []MemoryChunk
	for rows.Next() {
		c, err := scanChunk(rows)
		if err != nil {
			return nil, fmt.Errorf("scan chunk: %w", err)
		}
		chunks = append(chunks, *c)
	}
	return chunks, rows.Err()
}
