package consolidate

import (
	"sort"

	"github.com/BJS-Innovation-Lab/mnemo/internal/embed"
	"github.com/BJS-Innovation-Lab/mnemo/internal/store"
)

// ThemeExtractor derives themes from an episode. Pluggable so the keyword
// heuristic can later be swapped for a proper NLP component without touching
// the consolidation flow.
type ThemeExtractor interface {
	Themes(ep *store.Episode) []string
}

// themeStopwords are common words excluded from theme extraction.
var themeStopwords = map[string]bool{
	"should": true, "because": true, "before": true, "after": true,
	"during": true, "between": true, "against": true, "without": true,
	"through": true, "session": true, "project": true, "working": true,
	"things": true, "something": true, "anything": true, "everything": true,
	"really": true, "always": true, "instead": true, "around": true,
	"needed": true, "wanted": true, "trying": true, "getting": true,
}

// KeywordExtractor is the default theme extractor: frequency-ranked words
// longer than 5 characters drawn from decision contexts, learning details,
// and goal descriptions.
type KeywordExtractor struct {
	MaxThemes int // default 5
}

// Themes extracts up to MaxThemes keyword themes from an episode.
func (k KeywordExtractor) Themes(ep *store.Episode) []string {
	limit := k.MaxThemes
	if limit <= 0 {
		limit = 5
	}

	counts := make(map[string]int)
	addWords := func(text string) {
		for _, tok := range embed.Tokenize(text) {
			if len(tok) <= 5 || themeStopwords[tok] {
				continue
			}
			counts[tok]++
		}
	}

	for _, d := range ep.Decisions {
		addWords(d.Context)
	}
	for _, l := range ep.Learnings {
		addWords(l.Detail)
		addWords(l.Context)
	}
	for _, g := range ep.Goals {
		addWords(g)
	}

	themes := make([]string, 0, len(counts))
	for w := range counts {
		themes = append(themes, w)
	}
	// Count desc, then word asc for a deterministic order.
	sort.Slice(themes, func(i, j int) bool {
		if counts[themes[i]] != counts[themes[j]] {
			return counts[themes[i]] > counts[themes[j]]
		}
		return themes[i] < themes[j]
	})

	if len(themes) > limit {
		themes = themes[:limit]
	}
	return themes
}
