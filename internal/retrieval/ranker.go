// Package retrieval answers "given this query, what matters now": a broad
// similarity recall over chunk vectors followed by a re-rank that folds in
// utility feedback, tier authority, recency, and anti-exploitation bias
// controls.
package retrieval

import (
	"context"
	"fmt"
	"log"
	"math"
	"sort"
	"time"

	"github.com/BJS-Innovation-Lab/mnemo/internal/embed"
	"github.com/BJS-Innovation-Lab/mnemo/internal/store"
)

// Re-ranking constants.
const (
	utilityWeight        = 0.20
	utilityHalfLifeDays  = 30.0
	recencyWeight        = 0.10
	recencyHalfLifeDays  = 14.0
	noveltyWeight        = 0.08
	noveltyWindowDays    = 7.0
	explorationChance    = 0.15
	explorationBonusMin  = 0.05
	explorationBonusSpan = 0.05
)

// tierBonuses reflect each tier's durability and authority.
var tierBonuses = map[string]float64{
	store.TierCore:     0.15,
	store.TierLearning: 0.10,
	store.TierWorking:  0.05,
	store.TierResearch: 0.0,
}

// RandSource supplies randomness for the exploration bonus. Injectable so
// tests can pin the seed and assert exact rankings. *rand.Rand satisfies it.
type RandSource interface {
	Float64() float64
}

// Options controls retrieval behavior.
type Options struct {
	Limit int    // max results (default 10)
	Tier  string // filter by tier (empty = all)
}

func (o Options) limit() int {
	if o.Limit <= 0 {
		return 10
	}
	return o.Limit
}

// Result is a ranked chunk with its score breakdown.
type Result struct {
	Chunk            store.MemoryChunk `json:"chunk"`
	Similarity       float64           `json:"similarity"`
	UtilityComponent float64           `json:"utility_component"`
	TierBonus        float64           `json:"tier_bonus"`
	RecencyBonus     float64           `json:"recency_bonus"`
	NoveltyBonus     float64           `json:"novelty_bonus"`
	ExplorationBonus float64           `json:"exploration_bonus"`
	Final            float64           `json:"final"`
}

// Ranker performs two-phase retrieval over memory chunks.
type Ranker struct {
	db       *store.DB
	embedder embed.Embedder
	rng      RandSource
	now      func() time.Time
	timeout  time.Duration
}

// New creates a Ranker. rng may be nil to disable the exploration bonus.
func New(db *store.DB, embedder embed.Embedder, rng RandSource) *Ranker {
	return &Ranker{
		db:       db,
		embedder: embedder,
		rng:      rng,
		now:      time.Now,
		timeout:  15 * time.Second,
	}
}

// SetClock overrides the time source, for tests.
func (r *Ranker) SetClock(now func() time.Time) {
	r.now = now
}

// Retrieve runs both phases. An embedder failure is fatal (the query cannot
// be understood without it), but a failure loading chunk metadata degrades
// to similarity-only ranking instead of failing outright: worse ranking
// beats unavailability.
func (r *Ranker) Retrieve(ctx context.Context, query string, opts Options) ([]Result, error) {
	if r.embedder == nil {
		return nil, fmt.Errorf("retrieve: no embedder configured: %w", embed.ErrUnavailable)
	}

	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	queryVec, err := r.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}

	candidates, err := r.broadRecall(queryVec, opts.limit())
	if err != nil {
		return nil, err
	}
	if len(candidates) == 0 {
		return nil, nil
	}

	ids := make([]string, len(candidates))
	for i, c := range candidates {
		ids[i] = c.ownerID
	}

	chunks, err := r.db.GetChunksByIDs(ids)
	if err != nil {
		log.Printf("retrieve: chunk metadata unavailable, degrading to similarity-only: %v", err)
		return r.similarityOnly(candidates, opts), nil
	}
	chunkMap := make(map[string]store.MemoryChunk, len(chunks))
	for _, c := range chunks {
		chunkMap[c.ID] = c
	}

	results := r.rerank(candidates, chunkMap, opts)

	limit := opts.limit()
	if len(results) > limit {
		results = results[:limit]
	}
	return results, nil
}

type phase1Candidate struct {
	ownerID    string
	similarity float64
}

// broadRecall is phase 1: raw cosine similarity over all chunk vectors,
// keeping max(limit*3, 20) candidates.
func (r *Ranker) broadRecall(queryVec []float64, limit int) ([]phase1Candidate, error) {
	vectors, err := r.db.ChunkVectors()
	if err != nil {
		return nil, fmt.Errorf("load chunk vectors: %w", err)
	}

	candidates := make([]phase1Candidate, 0, len(vectors))
	for _, v := range vectors {
		candidates = append(candidates, phase1Candidate{
			ownerID:    v.OwnerID,
			similarity: embed.CosineSimilarity(queryVec, v.Embedding),
		})
	}

	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].similarity != candidates[j].similarity {
			return candidates[i].similarity > candidates[j].similarity
		}
		return candidates[i].ownerID < candidates[j].ownerID
	})

	pool := limit * 3
	if pool < 20 {
		pool = 20
	}
	if len(candidates) > pool {
		candidates = candidates[:pool]
	}
	return candidates, nil
}

// rerank is phase 2: pure CPU once candidates and metadata are in hand.
func (r *Ranker) rerank(candidates []phase1Candidate, chunkMap map[string]store.MemoryChunk, opts Options) []Result {
	now := r.now()
	var results []Result
	for _, c := range candidates {
		chunk, ok := chunkMap[c.ownerID]
		if !ok {
			continue
		}
		if opts.Tier != "" && chunk.Tier != opts.Tier {
			continue
		}

		res := Result{
			Chunk:            chunk,
			Similarity:       c.similarity,
			UtilityComponent: utilityComponent(chunk, now),
			TierBonus:        tierBonuses[chunk.Tier],
			RecencyBonus:     recencyBonus(chunk, now),
			NoveltyBonus:     noveltyBonus(chunk, now),
			ExplorationBonus: r.explorationBonus(),
		}
		res.Final = res.Similarity + res.UtilityComponent + res.TierBonus +
			res.RecencyBonus + res.NoveltyBonus + res.ExplorationBonus
		results = append(results, res)
	}

	// Final desc; ties broken by raw similarity desc.
	sort.Slice(results, func(i, j int) bool {
		if results[i].Final != results[j].Final {
			return results[i].Final > results[j].Final
		}
		return results[i].Similarity > results[j].Similarity
	})
	return results
}

// similarityOnly is the degraded path: phase 1 ordering, no bonuses.
func (r *Ranker) similarityOnly(candidates []phase1Candidate, opts Options) []Result {
	limit := opts.limit()
	var results []Result
	for _, c := range candidates {
		if len(results) >= limit {
			break
		}
		results = append(results, Result{
			Chunk:      store.MemoryChunk{ID: c.ownerID},
			Similarity: c.similarity,
			Final:      c.similarity,
		})
	}
	return results
}

// utilityComponent applies a 30-day half-life to the feedback-derived
// utility score so stale reinforcement fades unless renewed.
func utilityComponent(chunk store.MemoryChunk, now time.Time) float64 {
	if chunk.UtilityScore == 0 {
		return 0
	}
	ref := chunk.SyncedAt
	if chunk.UtilityUpdatedAt != nil {
		ref = *chunk.UtilityUpdatedAt
	}
	decayed := chunk.UtilityScore * halfLifeDecay(ageDays(ref, now), utilityHalfLifeDays)
	return decayed * utilityWeight
}

// recencyBonus rewards recently synced chunks with a 14-day half-life.
func recencyBonus(chunk store.MemoryChunk, now time.Time) float64 {
	return recencyWeight * halfLifeDecay(ageDays(chunk.SyncedAt, now), recencyHalfLifeDays)
}

// noveltyBonus gives fresh, never-reinforced chunks a temporary fair
// hearing: linear decay to zero over seven days, only while the chunk has
// no utility signals at all.
func noveltyBonus(chunk store.MemoryChunk, now time.Time) float64 {
	if chunk.UtilitySignalCount != 0 {
		return 0
	}
	age := ageDays(chunk.SyncedAt, now)
	if age > noveltyWindowDays {
		return 0
	}
	return noveltyWeight * (1 - age/noveltyWindowDays)
}

// explorationBonus is epsilon-greedy: with probability 0.15, a small random
// bonus in [0.05, 0.10] keeps high scorers from permanently starving
// untested memories of exposure.
func (r *Ranker) explorationBonus() float64 {
	if r.rng == nil {
		return 0
	}
	if r.rng.Float64() >= explorationChance {
		return 0
	}
	return explorationBonusMin + r.rng.Float64()*explorationBonusSpan
}

func ageDays(unixMilli int64, now time.Time) float64 {
	age := float64(now.UnixMilli()-unixMilli) / float64(24*time.Hour/time.Millisecond)
	if age < 0 {
		return 0
	}
	return age
}

func halfLifeDecay(ageDays, halfLife float64) float64 {
	return math.Pow(0.5, ageDays/halfLife)
}
