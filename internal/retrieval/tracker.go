package retrieval

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/BJS-Innovation-Lab/mnemo/internal/embed"
	"github.com/BJS-Innovation-Lab/mnemo/internal/store"
)

// Feedback deltas combined additively per outcome.
const (
	highScoreDelta   = 0.15  // score >= 8
	lowScoreDelta    = -0.10 // score <= 4
	validatedDelta   = 0.10
	invalidatedDelta = -0.10

	// Chunks this similar to an outcome's context receive its delta.
	feedbackSimilarityThreshold = 0.7
)

// Tracker applies recorded outcomes to chunk utility scores. It is the only
// writer of utility fields; the ranker just reads them. Idempotent batch
// job: a processed-outcome-id set guarantees the same outcome never
// double-applies its delta, so it is safe to run concurrently with live
// retrieval.
type Tracker struct {
	db       *store.DB
	embedder embed.Embedder
	timeout  time.Duration
}

// NewTracker creates a utility-feedback tracker.
func NewTracker(db *store.DB, embedder embed.Embedder) *Tracker {
	return &Tracker{
		db:       db,
		embedder: embedder,
		timeout:  30 * time.Second,
	}
}

// ProcessOutcomes scans unprocessed outcomes and applies their deltas to
// chunks similar to each outcome's context. Returns the number of outcomes
// processed. A malformed outcome is logged and skipped rather than aborting
// the batch; an embedder failure aborts so the batch retries later without
// losing outcomes.
func (t *Tracker) ProcessOutcomes(ctx context.Context) (int, error) {
	if t.embedder == nil {
		return 0, fmt.Errorf("process outcomes: no embedder configured: %w", embed.ErrUnavailable)
	}

	outcomes, err := t.db.UnprocessedOutcomes()
	if err != nil {
		return 0, fmt.Errorf("load outcomes: %w", err)
	}
	if len(outcomes) == 0 {
		return 0, nil
	}

	vectors, err := t.db.ChunkVectors()
	if err != nil {
		return 0, fmt.Errorf("load chunk vectors: %w", err)
	}

	processed := 0
	for _, o := range outcomes {
		delta := Delta(o)
		if delta == 0 {
			// Nothing to apply; still mark processed so the scan shrinks.
			if err := t.db.MarkOutcomeProcessed(o.ID); err != nil {
				log.Printf("utility tracker: mark %s: %v", o.ID, err)
				continue
			}
			processed++
			continue
		}
		if o.Context == "" {
			log.Printf("utility tracker: outcome %s has no context, skipping", o.ID)
			if err := t.db.MarkOutcomeProcessed(o.ID); err == nil {
				processed++
			}
			continue
		}

		embedCtx, cancel := context.WithTimeout(ctx, t.timeout)
		contextVec, err := t.embedder.Embed(embedCtx, o.Context)
		cancel()
		if err != nil {
			return processed, fmt.Errorf("embed outcome context %s: %w", o.ID, err)
		}

		applied := 0
		for _, v := range vectors {
			if embed.CosineSimilarity(contextVec, v.Embedding) <= feedbackSimilarityThreshold {
				continue
			}
			if err := t.db.ApplyUtilityDelta(v.OwnerID, delta); err != nil {
				log.Printf("utility tracker: apply delta to %s: %v", v.OwnerID, err)
				continue
			}
			applied++
		}

		if err := t.db.MarkOutcomeProcessed(o.ID); err != nil {
			log.Printf("utility tracker: mark %s: %v", o.ID, err)
			continue
		}
		processed++
		if applied > 0 {
			log.Printf("utility tracker: outcome %s applied %+.2f to %d chunks", o.ID, delta, applied)
		}
	}

	return processed, nil
}

// Delta computes an outcome's additive utility delta.
func Delta(o store.Outcome) float64 {
	delta := 0.0
	if o.Score != nil {
		if *o.Score >= 8 {
			delta += highScoreDelta
		} else if *o.Score <= 4 {
			delta += lowScoreDelta
		}
	}
	switch o.Verdict {
	case "validated":
		delta += validatedDelta
	case "invalidated":
		delta += invalidatedDelta
	}
	return delta
}
