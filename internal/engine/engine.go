// Package engine wires the memory-governance core together: the surprise
// scorer gates observations, accepted entries land in the store with
// embeddings, the consolidation pipeline closes sessions, the ranker
// answers queries, and the utility tracker closes the feedback loop.
package engine

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/BJS-Innovation-Lab/mnemo/internal/consolidate"
	"github.com/BJS-Innovation-Lab/mnemo/internal/embed"
	"github.com/BJS-Innovation-Lab/mnemo/internal/evolution"
	"github.com/BJS-Innovation-Lab/mnemo/internal/retrieval"
	"github.com/BJS-Innovation-Lab/mnemo/internal/store"
	"github.com/BJS-Innovation-Lab/mnemo/internal/surprise"
)

// Engine orchestrates scoring, consolidation, retrieval, and evolution.
type Engine struct {
	DB        *store.DB
	Embedder  embed.Embedder
	Scorer    *surprise.Scorer
	Pipeline  *consolidate.Pipeline
	Ranker    *retrieval.Ranker
	Tracker   *retrieval.Tracker
	Evolution *evolution.Controller
	stopCh    chan struct{}
}

// New creates an Engine with default component wiring.
func New(db *store.DB, embedder embed.Embedder, rng retrieval.RandSource) (*Engine, error) {
	scorer, err := surprise.New(db, embedder, surprise.DefaultWeights())
	if err != nil {
		return nil, fmt.Errorf("create scorer: %w", err)
	}
	return &Engine{
		DB:        db,
		Embedder:  embedder,
		Scorer:    scorer,
		Pipeline:  consolidate.New(db),
		Ranker:    retrieval.New(db, embedder, rng),
		Tracker:   retrieval.NewTracker(db, embedder),
		Evolution: evolution.New(db),
		stopCh:    make(chan struct{}),
	}, nil
}

// ObserveResult reports what happened to an observation.
type ObserveResult struct {
	Surprise   *surprise.Result `json:"surprise"`
	Stored     bool             `json:"stored"`
	EntryID    string           `json:"entry_id,omitempty"`
	MergedInto string           `json:"merged_into,omitempty"`
}

// Observe scores a new observation and performs the write the
// classification calls for: NOVEL stores standalone, RELATED stores and
// auto-links to similar entries, EVOLUTION merges into the most similar
// entry's history, DUPLICATE skips.
func (e *Engine) Observe(ctx context.Context, text, kind string, tags []string) (*ObserveResult, error) {
	if kind == "" {
		kind = "insight"
	}

	result, err := e.Scorer.Score(ctx, text)
	if err != nil {
		return nil, err
	}

	out := &ObserveResult{Surprise: result}

	switch result.Classification {
	case surprise.Duplicate:
		return out, nil

	case surprise.Evolution:
		if len(result.Similar) == 0 {
			return nil, fmt.Errorf("evolution classification with no similar entries")
		}
		target := result.Similar[0].ID
		if err := e.DB.AppendEntryHistory(target, text); err != nil {
			return nil, fmt.Errorf("merge into %s: %w", target, err)
		}
		out.MergedInto = target
		return out, nil
	}

	entry := &store.MemoryEntry{Kind: kind, Text: text, Tags: tags}
	if result.IsCorrection {
		entry.Kind = "correction"
	}
	if err := e.DB.CreateEntry(entry); err != nil {
		return nil, err
	}

	if result.Classification == surprise.Related {
		ids := make([]string, len(result.Similar))
		for i, s := range result.Similar {
			ids[i] = s.ID
		}
		if err := e.DB.AddEntryRelated(entry.ID, ids...); err != nil {
			log.Printf("observe: link %s: %v", entry.ID, err)
		}
	}

	if err := e.embedAndIndex(ctx, entry); err != nil {
		return nil, err
	}

	out.Stored = true
	out.EntryID = entry.ID
	return out, nil
}

// embedAndIndex saves the entry's vector and a working-tier chunk so the
// retrieval ranker can surface the new memory.
func (e *Engine) embedAndIndex(ctx context.Context, entry *store.MemoryEntry) error {
	vec, err := e.Embedder.Embed(ctx, entry.Text)
	if err != nil {
		return fmt.Errorf("embed entry: %w", err)
	}
	if err := e.DB.SaveVector(entry.ID, vec, e.Embedder.Model()); err != nil {
		return err
	}

	chunk := &store.MemoryChunk{
		Source:  "entry:" + entry.ID,
		Content: entry.Text,
		Tier:    store.TierWorking,
	}
	if err := e.DB.CreateChunk(chunk); err != nil {
		return err
	}
	return e.DB.SaveVector(chunk.ID, vec, e.Embedder.Model())
}

// Ingest stores a raw document fragment as a chunk in the given tier.
func (e *Engine) Ingest(ctx context.Context, source, content, tier string) (*store.MemoryChunk, error) {
	chunk := &store.MemoryChunk{Source: source, Content: content, Tier: tier}
	if err := e.DB.CreateChunk(chunk); err != nil {
		return nil, err
	}

	vec, err := e.Embedder.Embed(ctx, content)
	if err != nil {
		return nil, fmt.Errorf("embed chunk: %w", err)
	}
	if err := e.DB.SaveVector(chunk.ID, vec, e.Embedder.Model()); err != nil {
		return nil, err
	}
	return chunk, nil
}

// StartTrackerTimer runs the utility tracker at startup and then on an
// interval. Safe next to live retrieval: the tracker is idempotent and the
// ranker tolerates stale utility scores.
func (e *Engine) StartTrackerTimer(interval time.Duration) {
	if interval <= 0 {
		interval = time.Hour
	}

	run := func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
		defer cancel()
		if n, err := e.Tracker.ProcessOutcomes(ctx); err != nil {
			log.Printf("utility tracker error: %v", err)
		} else if n > 0 {
			log.Printf("utility tracker: processed %d outcomes", n)
		}
	}

	run()

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				run()
			case <-e.stopCh:
				return
			}
		}
	}()
}

// Stop shuts down the engine's background goroutines.
func (e *Engine) Stop() {
	close(e.stopCh)
}
