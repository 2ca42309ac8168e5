package engine

import (
	"context"
	"strings"
	"testing"

	"github.com/BJS-Innovation-Lab/mnemo/internal/embed"
	"github.com/BJS-Innovation-Lab/mnemo/internal/retrieval"
	"github.com/BJS-Innovation-Lab/mnemo/internal/store"
)

func testEngine(t *testing.T) (*Engine, *store.DB) {
	t.Helper()
	db, err := store.OpenMemory()
	if err != nil {
		t.Fatalf("OpenMemory: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	emb := embed.NewTFIDFEmbedder([]string{
		"agents should retry on rate limit errors",
		"sqlite works well for embedded storage",
		"narrative threads group episodes by theme",
	}, 256)
	eng, err := New(db, emb, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return eng, db
}

func TestObserveNovelStoresAndIndexes(t *testing.T) {
	eng, db := testEngine(t)

	out, err := eng.Observe(context.Background(), "agents should retry on rate limit errors", "", []string{"http"})
	if err != nil {
		t.Fatalf("Observe: %v", err)
	}
	if !out.Stored || out.EntryID == "" {
		t.Fatalf("observe = %+v", out)
	}
	if out.Surprise.Classification != "NOVEL" {
		t.Errorf("classification = %q", out.Surprise.Classification)
	}

	entry, _ := db.GetEntry(out.EntryID)
	if entry == nil || entry.Kind != "insight" {
		t.Errorf("entry = %+v, want default insight kind", entry)
	}
	if vec, _ := db.GetVector(out.EntryID); vec == nil {
		t.Error("entry vector not saved")
	}

	// A working-tier chunk mirrors the entry so retrieval can see it.
	chunks, _ := db.ListChunks()
	if len(chunks) != 1 {
		t.Fatalf("chunks = %+v, want 1", chunks)
	}
	if chunks[0].Tier != store.TierWorking || !strings.HasPrefix(chunks[0].Source, "entry:") {
		t.Errorf("chunk = %+v", chunks[0])
	}
	if vec, _ := db.GetVector(chunks[0].ID); vec == nil {
		t.Error("chunk vector not saved")
	}
}

func TestObserveDuplicateSkips(t *testing.T) {
	eng, db := testEngine(t)

	text := "sqlite works well for embedded storage"
	if _, err := eng.Observe(context.Background(), text, "", nil); err != nil {
		t.Fatalf("first Observe: %v", err)
	}

	out, err := eng.Observe(context.Background(), text, "", nil)
	if err != nil {
		t.Fatalf("second Observe: %v", err)
	}
	if out.Stored || out.EntryID != "" {
		t.Errorf("duplicate stored: %+v", out)
	}
	if out.Surprise.Classification != "DUPLICATE" {
		t.Errorf("classification = %q", out.Surprise.Classification)
	}

	entries, _ := db.ListEntries()
	if len(entries) != 1 {
		t.Errorf("entries = %d, want 1", len(entries))
	}
}

func TestObserveCorrectionOverridesKind(t *testing.T) {
	eng, db := testEngine(t)

	out, err := eng.Observe(context.Background(),
		"correction: I was wrong, connection limits apply per host", "insight", nil)
	if err != nil {
		t.Fatalf("Observe: %v", err)
	}
	if !out.Stored {
		t.Fatalf("observe = %+v", out)
	}

	entry, _ := db.GetEntry(out.EntryID)
	if entry.Kind != "correction" {
		t.Errorf("kind = %q, want correction", entry.Kind)
	}
}

func TestIngest(t *testing.T) {
	eng, db := testEngine(t)

	chunk, err := eng.Ingest(context.Background(), "docs/notes.md", "narrative threads group episodes", store.TierResearch)
	if err != nil {
		t.Fatalf("Ingest: %v", err)
	}
	if chunk.ID == "" || chunk.Tier != store.TierResearch {
		t.Fatalf("chunk = %+v", chunk)
	}
	if vec, _ := db.GetVector(chunk.ID); vec == nil {
		t.Error("chunk vector not saved")
	}

	results, err := eng.Ranker.Retrieve(context.Background(), "narrative threads", retrieval.Options{})
	if err != nil {
		t.Fatalf("Retrieve: %v", err)
	}
	if len(results) == 0 {
		t.Error("ingested chunk not retrievable")
	}
}
