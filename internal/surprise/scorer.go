// Package surprise gates whether a candidate memory is worth storing.
// The scorer is a pure decision function over the current store snapshot:
// it never writes, and it fails loudly when the embedding provider is
// unavailable rather than defaulting to "novel".
package surprise

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/BJS-Innovation-Lab/mnemo/internal/embed"
	"github.com/BJS-Innovation-Lab/mnemo/internal/store"
)

// Classification of a candidate against existing memory.
const (
	Novel     = "NOVEL"     // store standalone
	Related   = "RELATED"   // store as new, auto-link to similar entries
	Evolution = "EVOLUTION" // merge into the most similar entry's history
	Duplicate = "DUPLICATE" // skip or merge
)

// Similarity thresholds driving classification.
const (
	DuplicateThreshold = 0.85
	EvolutionThreshold = 0.70
	RelatedThreshold   = 0.40
)

// Documented defaults for callers applying their own score thresholds:
// >= StoreThreshold always store; [LinkThreshold, StoreThreshold) store and
// link; below LinkThreshold merge or skip.
const (
	StoreThreshold = 0.7
	LinkThreshold  = 0.4
)

// Weights combines the four surprise signals. Must total 1.0.
type Weights struct {
	Semantic      float64
	Contradiction float64
	Topic         float64
	Correction    float64
}

// DefaultWeights returns the standard signal weighting.
func DefaultWeights() Weights {
	return Weights{Semantic: 0.30, Contradiction: 0.30, Topic: 0.20, Correction: 0.20}
}

// Validate checks that the weights sum to 1.0.
func (w Weights) Validate() error {
	sum := w.Semantic + w.Contradiction + w.Topic + w.Correction
	if math.Abs(sum-1.0) > 1e-9 {
		return fmt.Errorf("surprise weights must total 1.0, got %g", sum)
	}
	return nil
}

// Signals are the four independent components of the surprise score.
type Signals struct {
	SemanticNovelty    float64 `json:"semantic_novelty"`
	Contradiction      float64 `json:"contradiction"`
	TopicNovelty       float64 `json:"topic_novelty"`
	CorrectionLanguage float64 `json:"correction_language"`
}

// SimilarEntry references an existing entry above the related threshold.
type SimilarEntry struct {
	ID         string  `json:"id"`
	Similarity float64 `json:"similarity"`
}

// Result is the scorer's verdict. Score is reported independently of
// Classification so callers may apply their own thresholds.
type Result struct {
	Score          float64        `json:"score"`
	Classification string         `json:"classification"`
	Signals        Signals        `json:"signals"`
	IsCorrection   bool           `json:"is_correction"`
	MaxSimilarity  float64        `json:"max_similarity"`
	Similar        []SimilarEntry `json:"similar,omitempty"`
}

// contradictionMarkers are linguistic patterns suggesting the candidate
// overturns prior knowledge. Matched as lowercase substrings.
var contradictionMarkers = []string{
	"instead of",
	"rather than",
	"contradicts",
	"supersedes",
	"no longer",
	"not true",
	"is wrong",
	"was wrong",
	"incorrect",
	"turns out",
	"never actually",
	"stopped working",
}

// correctionPhrases mark explicit corrections of prior beliefs.
var correctionPhrases = []string{
	"correction:",
	"i was wrong",
	"we were wrong",
	"that's not right",
	"let me correct",
	"to clarify",
	"actually",
	"should be",
	"turns out",
	"my mistake",
}

// topicStopwords are excluded from topic-novelty content words.
var topicStopwords = map[string]bool{
	"about": true, "after": true, "again": true, "against": true,
	"always": true, "because": true, "before": true, "being": true,
	"between": true, "during": true, "every": true, "having": true,
	"instead": true, "really": true, "should": true, "something": true,
	"their": true, "there": true, "these": true, "things": true,
	"those": true, "through": true, "under": true, "until": true,
	"where": true, "which": true, "while": true, "without": true,
	"would": true, "could": true, "might": true, "other": true,
}

// Scorer classifies candidate memories as novel, related, evolution, or
// duplicate against the current entry store.
type Scorer struct {
	db       *store.DB
	embedder embed.Embedder
	weights  Weights
	timeout  time.Duration
}

// New creates a Scorer. Weights must validate; a zero Weights gets defaults.
func New(db *store.DB, embedder embed.Embedder, weights Weights) (*Scorer, error) {
	if weights == (Weights{}) {
		weights = DefaultWeights()
	}
	if err := weights.Validate(); err != nil {
		return nil, err
	}
	return &Scorer{
		db:       db,
		embedder: embedder,
		weights:  weights,
		timeout:  15 * time.Second,
	}, nil
}

// Score computes the surprise score and classification for candidate text.
// Deterministic for an unchanged store snapshot and embedder. The embedding
// provider being unreachable is a hard error: guessing novelty here would
// defeat the dedup guarantee.
func (s *Scorer) Score(ctx context.Context, text string) (*Result, error) {
	if s.embedder == nil {
		return nil, fmt.Errorf("score: no embedder configured: %w", embed.ErrUnavailable)
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	candidateVec, err := s.embedder.Embed(ctx, text)
	if err != nil {
		return nil, fmt.Errorf("embed candidate: %w", err)
	}

	entries, err := s.db.ListEntries()
	if err != nil {
		return nil, fmt.Errorf("load entries: %w", err)
	}
	vectors, err := s.db.EntryVectors()
	if err != nil {
		return nil, fmt.Errorf("load entry vectors: %w", err)
	}

	maxSim, similar := s.similarityPass(candidateVec, vectors)

	lower := strings.ToLower(text)
	markerScore := matchScore(lower, contradictionMarkers)
	correctionMatches := countMatches(lower, correctionPhrases)

	signals := Signals{
		SemanticNovelty:    clamp01(1.0 - maxSim),
		Contradiction:      contradictionSignal(markerScore, maxSim),
		TopicNovelty:       topicNovelty(text, entries),
		CorrectionLanguage: correctionSignal(correctionMatches),
	}

	score := s.weights.Semantic*signals.SemanticNovelty +
		s.weights.Contradiction*signals.Contradiction +
		s.weights.Topic*signals.TopicNovelty +
		s.weights.Correction*signals.CorrectionLanguage

	return &Result{
		Score:          clamp01(score),
		Classification: classify(maxSim),
		Signals:        signals,
		IsCorrection:   correctionMatches >= 2,
		MaxSimilarity:  maxSim,
		Similar:        similar,
	}, nil
}

// similarityPass finds the max pairwise similarity and collects entries
// above the related threshold, highest first.
func (s *Scorer) similarityPass(candidate []float64, vectors []store.VectorRecord) (float64, []SimilarEntry) {
	maxSim := 0.0
	var similar []SimilarEntry
	for _, v := range vectors {
		sim := embed.CosineSimilarity(candidate, v.Embedding)
		if sim > maxSim {
			maxSim = sim
		}
		if sim > RelatedThreshold {
			similar = append(similar, SimilarEntry{ID: v.OwnerID, Similarity: sim})
		}
	}
	sort.Slice(similar, func(i, j int) bool {
		if similar[i].Similarity != similar[j].Similarity {
			return similar[i].Similarity > similar[j].Similarity
		}
		return similar[i].ID < similar[j].ID
	})
	return maxSim, similar
}

// classify maps the max pairwise similarity to a classification.
func classify(maxSim float64) string {
	switch {
	case maxSim > DuplicateThreshold:
		return Duplicate
	case maxSim > EvolutionThreshold:
		return Evolution
	case maxSim > RelatedThreshold:
		return Related
	default:
		return Novel
	}
}

// contradictionSignal blends the raw marker score with its product against
// the max similarity: contradiction language aimed at something we already
// believe is the strongest evidence of overturned prior knowledge.
func contradictionSignal(markerScore, maxSim float64) float64 {
	return clamp01(0.6*markerScore + 0.4*markerScore*maxSim)
}

// correctionSignal maps correction-phrase match counts to a fixed scale.
func correctionSignal(matches int) float64 {
	switch {
	case matches >= 3:
		return 1.0
	case matches == 2:
		return 0.75
	case matches == 1:
		return 0.5
	default:
		return 0
	}
}

// topicNovelty is the fraction of candidate content words absent from every
// existing entry's text and tags, scaled by 1.5 and capped at 1.0.
func topicNovelty(text string, entries []store.MemoryEntry) float64 {
	words := contentWords(text)
	if len(words) == 0 {
		return 0
	}
	if len(entries) == 0 {
		return 1.0
	}

	known := make(map[string]bool)
	for _, e := range entries {
		for _, w := range contentWords(e.Text) {
			known[w] = true
		}
		for _, tag := range e.Tags {
			for _, w := range contentWords(tag) {
				known[w] = true
			}
		}
	}

	unseen := 0
	for _, w := range words {
		if !known[w] {
			unseen++
		}
	}

	return clamp01(1.5 * float64(unseen) / float64(len(words)))
}

// contentWords extracts deduplicated tokens longer than 4 chars, minus
// stopwords.
func contentWords(text string) []string {
	seen := make(map[string]bool)
	var words []string
	for _, tok := range embed.Tokenize(text) {
		if len(tok) <= 4 || topicStopwords[tok] || seen[tok] {
			continue
		}
		seen[tok] = true
		words = append(words, tok)
	}
	return words
}

// matchScore gives 0.25 per matched marker, capped at 1.0.
func matchScore(lower string, markers []string) float64 {
	return clamp01(0.25 * float64(countMatches(lower, markers)))
}

func countMatches(lower string, phrases []string) int {
	n := 0
	for _, p := range phrases {
		if strings.Contains(lower, p) {
			n++
		}
	}
	return n
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
