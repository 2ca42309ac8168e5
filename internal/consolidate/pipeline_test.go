package consolidate

import (
	"testing"

	"github.com/BJS-Innovation-Lab/mnemo/internal/store"
)

func testPipeline(t *testing.T) (*Pipeline, *store.DB) {
	t.Helper()
	db, err := store.OpenMemory()
	if err != nil {
		t.Fatalf("OpenMemory: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return New(db), db
}

func TestWorkingMemory(t *testing.T) {
	w := NewWorkingMemory()

	w.Save("plan", "refactor the ingest path")
	w.Save("attempt", 2)
	w.Save("attempt", 3)

	if w.Len() != 2 {
		t.Errorf("len = %d, want 2", w.Len())
	}
	v, ok := w.Get("attempt")
	if !ok || v != 3 {
		t.Errorf("Get(attempt) = %v, %v", v, ok)
	}
	if _, ok := w.Get("missing"); ok {
		t.Error("missing key reported present")
	}

	w.Clear()
	if w.Len() != 0 {
		t.Errorf("len after clear = %d", w.Len())
	}
}

func TestConsolidateSessionClearsWorking(t *testing.T) {
	p, db := testPipeline(t)

	p.Working().Save("scratch", "temporary note")

	ep, err := p.ConsolidateSession(SessionData{
		Decisions: []store.Record{{Context: "slow ingestion pipeline", Choice: "batch inserts", Success: true}},
		Learnings: []store.Record{{Detail: "batching halves ingestion latency"}},
		Goals:     []string{"speed up ingestion"},
	})
	if err != nil {
		t.Fatalf("ConsolidateSession: %v", err)
	}
	if ep.ID == "" {
		t.Fatal("episode id not assigned")
	}
	if p.Working().Len() != 0 {
		t.Error("working memory not cleared")
	}

	stored, err := db.GetEpisode(ep.ID)
	if err != nil {
		t.Fatalf("GetEpisode: %v", err)
	}
	if stored == nil || len(stored.Decisions) != 1 {
		t.Errorf("episode not persisted: %+v", stored)
	}
	if len(stored.Themes) == 0 {
		t.Error("narrative linking did not set themes")
	}
}

func TestNarrativeLinking(t *testing.T) {
	p, db := testPipeline(t)

	session := SessionData{
		Decisions: []store.Record{{Context: "ingestion throughput regression", Choice: "batch inserts", Success: true}},
		Goals:     []string{"improve ingestion throughput"},
	}

	first, err := p.ConsolidateSession(session)
	if err != nil {
		t.Fatalf("first session: %v", err)
	}
	second, err := p.ConsolidateSession(session)
	if err != nil {
		t.Fatalf("second session: %v", err)
	}

	if second.PrecededBy != first.ID {
		t.Errorf("preceded_by = %q, want %q", second.PrecededBy, first.ID)
	}

	// Back-fill: the first episode now points forward to the second.
	firstStored, _ := db.GetEpisode(first.ID)
	if firstStored.LedTo != second.ID {
		t.Errorf("led_to = %q, want %q", firstStored.LedTo, second.ID)
	}

	// Both episodes land in the shared theme threads.
	threads, err := db.ListThreads()
	if err != nil {
		t.Fatalf("ListThreads: %v", err)
	}
	if len(threads) == 0 {
		t.Fatal("no narrative threads created")
	}
	found := false
	for _, th := range threads {
		if th.Theme == "ingestion" {
			found = true
			if len(th.EpisodeIDs) != 2 {
				t.Errorf("thread %q episodes = %v, want both", th.Theme, th.EpisodeIDs)
			}
		}
	}
	if !found {
		t.Errorf("expected an ingestion thread, got %+v", threads)
	}
}

func TestNarrativeLinkingNoOverlap(t *testing.T) {
	p, _ := testPipeline(t)

	first, err := p.ConsolidateSession(SessionData{
		Goals: []string{"improve ingestion throughput"},
	})
	if err != nil {
		t.Fatalf("first session: %v", err)
	}
	second, err := p.ConsolidateSession(SessionData{
		Goals: []string{"redesign onboarding emails"},
	})
	if err != nil {
		t.Fatalf("second session: %v", err)
	}

	if second.PrecededBy != "" {
		t.Errorf("disjoint themes should not link, preceded_by = %q (first %s)", second.PrecededBy, first.ID)
	}
}

func TestRankByOverlap(t *testing.T) {
	candidates := []store.Episode{
		{ID: "self", Themes: []string{"ingestion", "batching"}, CreatedAt: 400},
		{ID: "strong-old", Themes: []string{"ingestion", "batching"}, CreatedAt: 100},
		{ID: "weak-new", Themes: []string{"ingestion"}, CreatedAt: 300},
		{ID: "tied-newer", Themes: []string{"batching"}, CreatedAt: 350},
		{ID: "none", Themes: []string{"email"}, CreatedAt: 200},
	}

	ranked := rankByOverlap([]string{"ingestion", "batching"}, candidates, "self")
	if len(ranked) != 3 {
		t.Fatalf("ranked = %+v, want 3 (self and zero-overlap excluded)", ranked)
	}
	if ranked[0].id != "strong-old" {
		t.Errorf("ranked[0] = %q, want highest overlap first", ranked[0].id)
	}
	// Equal overlap resolves by newer timestamp.
	if ranked[1].id != "tied-newer" || ranked[2].id != "weak-new" {
		t.Errorf("tie-break order = %q, %q; want tied-newer, weak-new", ranked[1].id, ranked[2].id)
	}
}

func TestKeywordExtractorThemes(t *testing.T) {
	ep := &store.Episode{
		Decisions: []store.Record{
			{Context: "ingestion ingestion latency problem"},
		},
		Learnings: []store.Record{{Detail: "latency dominated by network round trips"}},
		Goals:     []string{"reduce latency"},
	}

	themes := KeywordExtractor{MaxThemes: 3}.Themes(ep)
	if len(themes) == 0 {
		t.Fatal("no themes extracted")
	}
	if themes[0] != "latency" {
		t.Errorf("themes[0] = %q, want most frequent word first (themes %v)", themes[0], themes)
	}
	if len(themes) > 3 {
		t.Errorf("themes = %v, want at most 3", themes)
	}
	for _, th := range themes {
		if len(th) <= 5 {
			t.Errorf("short word %q kept as theme", th)
		}
	}
}

func TestExtractRules(t *testing.T) {
	p, db := testPipeline(t)

	for i := 0; i < 3; i++ {
		db.CreateEpisode(&store.Episode{
			Learnings: []store.Record{{Detail: "batching halves latency"}},
			Decisions: []store.Record{
				{Context: "slow writes", Choice: "batch inserts", Success: true},
				{Context: "flaky test", Choice: "delete it", Success: false},
			},
			CreatedAt: int64(1000 + i),
		})
	}
	db.CreateEpisode(&store.Episode{
		Learnings: []store.Record{{Detail: "one-off observation"}},
		CreatedAt: 2000,
	})

	rules, err := p.ExtractRules(2)
	if err != nil {
		t.Fatalf("ExtractRules: %v", err)
	}
	if len(rules) != 2 {
		t.Fatalf("rules = %+v, want 2 (one-off and failed decisions excluded)", rules)
	}
	for _, r := range rules {
		if r.Occurrences != 3 {
			t.Errorf("occurrences = %d, want 3", r.Occurrences)
		}
		if r.Confidence != 0.3 {
			t.Errorf("confidence = %f, want 0.3", r.Confidence)
		}
	}

	kinds := map[string]bool{}
	for _, r := range rules {
		kinds[r.Kind] = true
	}
	if !kinds["pattern"] || !kinds["decision"] {
		t.Errorf("rules = %+v, want one pattern and one decision", rules)
	}
}

func TestExtractRulesConfidenceCapped(t *testing.T) {
	p, db := testPipeline(t)

	for i := 0; i < 12; i++ {
		db.CreateEpisode(&store.Episode{
			Learnings: []store.Record{{Detail: "always pin dependency versions"}},
			CreatedAt: int64(1000 + i),
		})
	}

	rules, err := p.ExtractRules(2)
	if err != nil {
		t.Fatalf("ExtractRules: %v", err)
	}
	if len(rules) != 1 {
		t.Fatalf("rules = %+v, want 1", rules)
	}
	if rules[0].Confidence != 1.0 {
		t.Errorf("confidence = %f, want capped at 1.0", rules[0].Confidence)
	}
}

func TestPromoteToSemantic(t *testing.T) {
	p, db := testPipeline(t)

	for i := 0; i < 4; i++ {
		db.CreateEpisode(&store.Episode{
			Learnings: []store.Record{{Detail: "retry on rate limits"}},
			CreatedAt: int64(1000 + i),
		})
	}

	rules, err := p.ExtractRules(2)
	if err != nil {
		t.Fatalf("ExtractRules: %v", err)
	}
	if err := p.PromoteToSemantic(rules); err != nil {
		t.Fatalf("PromoteToSemantic: %v", err)
	}

	stored, err := db.ListSemanticRules()
	if err != nil {
		t.Fatalf("ListSemanticRules: %v", err)
	}
	if len(stored) != 1 || stored[0].Rule != "retry on rate limits" {
		t.Errorf("stored rules = %+v", stored)
	}

	// Promotion regenerates: promoting an empty set clears the tier.
	if err := p.PromoteToSemantic(nil); err != nil {
		t.Fatalf("PromoteToSemantic(nil): %v", err)
	}
	stored, _ = db.ListSemanticRules()
	if len(stored) != 0 {
		t.Errorf("rules after empty promotion = %+v, want none", stored)
	}
}
