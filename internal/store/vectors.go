package store

import (
	"database/sql"
	"encoding/binary"
	"fmt"
	"math"
	"time"
)

// VectorRecord holds an embedding for an entry or chunk.
type VectorRecord struct {
	OwnerID    string
	Embedding  []float64
	Model      string
	Dimensions int
	CreatedAt  int64
}

// encodeEmbedding converts a []float64 to a binary BLOB (8 bytes per float64).
func encodeEmbedding(vec []float64) []byte {
	buf := make([]byte, len(vec)*8)
	for i, v := range vec {
		binary.LittleEndian.PutUint64(buf[i*8:], math.Float64bits(v))
	}
	return buf
}

// decodeEmbedding converts a binary BLOB back to []float64.
func decodeEmbedding(buf []byte) []float64 {
	n := len(buf) / 8
	vec := make([]float64, n)
	for i := 0; i < n; i++ {
		vec[i] = math.Float64frombits(binary.LittleEndian.Uint64(buf[i*8:]))
	}
	return vec
}

// SaveVector stores or replaces the embedding for an entry or chunk.
func (db *DB) SaveVector(ownerID string, embedding []float64, model string) error {
	now := time.Now().UnixMilli()
	blob := encodeEmbedding(embedding)

	_, err := db.Exec(`
		INSERT INTO vectors (owner_id, embedding, model, dimensions, created_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(owner_id) DO UPDATE SET embedding = ?, model = ?, dimensions = ?, created_at = ?
	`, ownerID, blob, model, len(embedding), now,
		blob, model, len(embedding), now)
	if err != nil {
		return fmt.Errorf("save vector: %w", err)
	}
	return nil
}

// GetVector returns the embedding for an owner, or nil if not found.
func (db *DB) GetVector(ownerID string) (*VectorRecord, error) {
	var v VectorRecord
	var blob []byte

	err := db.QueryRow(`
		SELECT owner_id, embedding, model, dimensions, created_at
		FROM vectors WHERE owner_id = ?
	`, ownerID).Scan(&v.OwnerID, &blob, &v.Model, &v.Dimensions, &v.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get vector: %w", err)
	}
	v.Embedding = decodeEmbedding(blob)
	return &v, nil
}

// EntryVectors returns vectors whose owner is a memory entry.
func (db *DB) EntryVectors() ([]VectorRecord, error) {
	return db.vectorsJoined("entries")
}

// ChunkVectors returns vectors whose owner is a memory chunk.
func (db *DB) ChunkVectors() ([]VectorRecord, error) {
	return db.vectorsJoined("chunks")
}

func (db *DB) vectorsJoined(table string) ([]VectorRecord, error) {
	rows, err := db.Query(fmt.Sprintf(`
		SELECT v.owner_id, v.embedding, v.model, v.dimensions, v.created_at
		FROM vectors v JOIN %s o ON o.id = v.owner_id
	`, table))
	if err != nil {
		return nil, fmt.Errorf("%s vectors: %w", table, err)
	}
	defer rows.Close()

	var records []VectorRecord
	for rows.Next() {
		var v VectorRecord
		var blob []byte
		if err := rows.Scan(&v.OwnerID, &blob, &v.Model, &v.Dimensions, &v.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan vector: %w", err)
		}
		v.Embedding = decodeEmbedding(blob)
		records = append(records, v)
	}
	return records, rows.Err()
}

// DeleteVector removes the embedding for an owner.
func (db *DB) DeleteVector(ownerID string) error {
	_, err := db.Exec("DELETE FROM vectors WHERE owner_id = ?", ownerID)
	if err != nil {
		return fmt.Errorf("delete vector: %w", err)
	}
	return nil
}
