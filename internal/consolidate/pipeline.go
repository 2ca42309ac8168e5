// Package consolidate promotes memory between tiers: working (ephemeral,
// one session) → episodic (one episode per closed session) → semantic
// (durable cross-episode rules), with narrative linking between episodes.
package consolidate

import (
	"fmt"
	"log"
	"sort"

	"github.com/BJS-Innovation-Lab/mnemo/internal/store"
)

// SessionData is the content of a closing session, drawn from working memory.
type SessionData struct {
	Decisions  []store.Record `json:"decisions,omitempty"`
	Failures   []store.Record `json:"failures,omitempty"`
	Learnings  []store.Record `json:"learnings,omitempty"`
	Goals      []string       `json:"goals,omitempty"`
	Procedures []string       `json:"procedures,omitempty"`
}

// Pipeline owns episode creation, narrative linking, and rule promotion.
type Pipeline struct {
	db        *store.DB
	working   *WorkingMemory
	themes    ThemeExtractor
	window    int // recent episodes scanned during linking
	linkLimit int // max predecessor candidates kept as related
}

// New creates a Pipeline with the default keyword theme extractor,
// a 50-episode linking window and 5 related links.
func New(db *store.DB) *Pipeline {
	return &Pipeline{
		db:        db,
		working:   NewWorkingMemory(),
		themes:    KeywordExtractor{MaxThemes: 5},
		window:    50,
		linkLimit: 5,
	}
}

// SetThemeExtractor swaps the theme extraction strategy.
func (p *Pipeline) SetThemeExtractor(t ThemeExtractor) {
	if t != nil {
		p.themes = t
	}
}

// Working returns the session scratchpad.
func (p *Pipeline) Working() *WorkingMemory {
	return p.working
}

// ConsolidateSession builds an episode from session data, persists it,
// clears working memory, then attempts narrative linking. Linking is
// best-effort: a failure there is logged and the already-built episode is
// still returned intact.
func (p *Pipeline) ConsolidateSession(data SessionData) (*store.Episode, error) {
	ep := &store.Episode{
		Decisions:  data.Decisions,
		Failures:   data.Failures,
		Learnings:  data.Learnings,
		Goals:      data.Goals,
		Procedures: data.Procedures,
	}

	if err := p.db.CreateEpisode(ep); err != nil {
		return nil, fmt.Errorf("consolidate session: %w", err)
	}

	p.working.Clear()

	if err := p.LinkNarrative(ep.ID); err != nil {
		log.Printf("narrative linking for %s: %v", ep.ID, err)
	} else if linked, err := p.db.GetEpisode(ep.ID); err == nil && linked != nil {
		ep.Themes = linked.Themes
		ep.PrecededBy = linked.PrecededBy
		ep.Related = linked.Related
	}

	return ep, nil
}

// LinkNarrative extracts themes for an episode, links it to the most
// theme-overlapping recent episode as predecessor, back-fills that
// predecessor's led_to pointer, and upserts each theme into its narrative
// thread. The predecessor chain is a single pointer per episode; richer
// relationships live only in the related list.
func (p *Pipeline) LinkNarrative(episodeID string) error {
	ep, err := p.db.GetEpisode(episodeID)
	if err != nil {
		return err
	}
	if ep == nil {
		return fmt.Errorf("link narrative %s: %w", episodeID, store.ErrNotFound)
	}

	themes := p.themes.Themes(ep)

	candidates, err := p.db.RecentEpisodes(p.window)
	if err != nil {
		return fmt.Errorf("load recent episodes: %w", err)
	}

	ranked := rankByOverlap(themes, candidates, ep.ID)
	if len(ranked) > p.linkLimit {
		ranked = ranked[:p.linkLimit]
	}

	precededBy := ""
	var related []string
	for i, c := range ranked {
		if i == 0 {
			precededBy = c.id
			continue
		}
		related = append(related, c.id)
	}

	if err := p.db.SetEpisodeNarrative(ep.ID, themes, precededBy, related); err != nil {
		return err
	}

	if precededBy != "" {
		if err := p.db.SetEpisodeLedTo(precededBy, ep.ID); err != nil {
			log.Printf("back-fill led_to on %s: %v", precededBy, err)
		}
	}

	for _, theme := range themes {
		if err := p.db.UpsertThreadEpisode(theme, ep.ID); err != nil {
			log.Printf("upsert thread %q: %v", theme, err)
		}
	}

	return nil
}

type overlapCandidate struct {
	id        string
	overlap   int
	createdAt int64
}

// rankByOverlap orders candidate predecessors by theme overlap desc, then
// timestamp desc. Self-links are excluded so a theme chain never cycles
// back to its own episode.
func rankByOverlap(themes []string, candidates []store.Episode, selfID string) []overlapCandidate {
	themeSet := make(map[string]bool, len(themes))
	for _, t := range themes {
		themeSet[t] = true
	}

	var ranked []overlapCandidate
	for _, c := range candidates {
		if c.ID == selfID {
			continue
		}
		overlap := 0
		for _, t := range c.Themes {
			if themeSet[t] {
				overlap++
			}
		}
		if overlap == 0 {
			continue
		}
		ranked = append(ranked, overlapCandidate{id: c.ID, overlap: overlap, createdAt: c.CreatedAt})
	}

	sort.Slice(ranked, func(i, j int) bool {
		if ranked[i].overlap != ranked[j].overlap {
			return ranked[i].overlap > ranked[j].overlap
		}
		return ranked[i].createdAt > ranked[j].createdAt
	})
	return ranked
}

// ExtractRules scans all episodes for repeated learnings and repeated
// successful decision context→choice pairs, returning those meeting
// minOccurrences with confidence min(occurrences/10, 1).
func (p *Pipeline) ExtractRules(minOccurrences int) ([]store.SemanticRule, error) {
	if minOccurrences <= 0 {
		minOccurrences = 2
	}

	episodes, err := p.db.AllEpisodes()
	if err != nil {
		return nil, fmt.Errorf("extract rules: %w", err)
	}

	patternCounts := make(map[string]int)
	decisionCounts := make(map[string]int)
	for _, ep := range episodes {
		for _, l := range ep.Learnings {
			text := l.Detail
			if text == "" {
				text = l.Context
			}
			if text != "" {
				patternCounts[text]++
			}
		}
		for _, d := range ep.Decisions {
			if !d.Success || d.Context == "" || d.Choice == "" {
				continue
			}
			decisionCounts[d.Context+" -> "+d.Choice]++
		}
	}

	var rules []store.SemanticRule
	appendRules := func(counts map[string]int, kind string) {
		for text, occ := range counts {
			if occ < minOccurrences {
				continue
			}
			confidence := float64(occ) / 10.0
			if confidence > 1 {
				confidence = 1
			}
			rules = append(rules, store.SemanticRule{
				Rule:        text,
				Kind:        kind,
				Occurrences: occ,
				Confidence:  confidence,
			})
		}
	}
	appendRules(patternCounts, "pattern")
	appendRules(decisionCounts, "decision")

	sort.Slice(rules, func(i, j int) bool {
		if rules[i].Confidence != rules[j].Confidence {
			return rules[i].Confidence > rules[j].Confidence
		}
		return rules[i].Rule < rules[j].Rule
	})
	return rules, nil
}

// PromoteToSemantic writes the extracted rules into the semantic tier,
// fully regenerating the rule set.
func (p *Pipeline) PromoteToSemantic(rules []store.SemanticRule) error {
	if err := p.db.ReplaceSemanticRules(rules); err != nil {
		return fmt.Errorf("promote to semantic: %w", err)
	}
	return nil
}
