package store

import (
	"errors"
	"testing"
)

func TestCreateAndGetChunk(t *testing.T) {
	db := testDB(t)

	c := &MemoryChunk{Source: "docs/retries.md", Content: "Retry on 429", Tier: TierLearning}
	if err := db.CreateChunk(c); err != nil {
		t.Fatalf("CreateChunk: %v", err)
	}
	if c.ID == "" || c.SyncedAt == 0 {
		t.Fatalf("defaults not applied: %+v", c)
	}

	got, err := db.GetChunk(c.ID)
	if err != nil {
		t.Fatalf("GetChunk: %v", err)
	}
	if got == nil || got.Content != c.Content || got.Tier != TierLearning {
		t.Errorf("round trip mismatch: %+v", got)
	}
	if got.UtilityScore != 0 || got.UtilitySignalCount != 0 {
		t.Errorf("fresh chunk has utility signals: %+v", got)
	}
}

func TestChunkDefaultTier(t *testing.T) {
	db := testDB(t)

	c := &MemoryChunk{Content: "untiered"}
	if err := db.CreateChunk(c); err != nil {
		t.Fatalf("CreateChunk: %v", err)
	}
	if c.Tier != TierWorking {
		t.Errorf("tier = %q, want %q", c.Tier, TierWorking)
	}
}

func TestApplyUtilityDeltaClamping(t *testing.T) {
	db := testDB(t)

	c := &MemoryChunk{Content: "clamp me", Tier: TierCore}
	db.CreateChunk(c)

	// Repeated positive deltas never exceed 1.0
	for i := 0; i < 20; i++ {
		if err := db.ApplyUtilityDelta(c.ID, 0.15); err != nil {
			t.Fatalf("ApplyUtilityDelta: %v", err)
		}
	}
	got, _ := db.GetChunk(c.ID)
	if got.UtilityScore > 1.0 {
		t.Errorf("utility score = %f, want <= 1.0", got.UtilityScore)
	}
	if got.UtilitySignalCount != 20 {
		t.Errorf("signal count = %d, want 20", got.UtilitySignalCount)
	}
	if got.UtilityUpdatedAt == nil {
		t.Error("utility_updated_at not set")
	}

	// Repeated negative deltas never fall below -1.0
	for i := 0; i < 40; i++ {
		if err := db.ApplyUtilityDelta(c.ID, -0.10); err != nil {
			t.Fatalf("ApplyUtilityDelta: %v", err)
		}
	}
	got, _ = db.GetChunk(c.ID)
	if got.UtilityScore < -1.0 {
		t.Errorf("utility score = %f, want >= -1.0", got.UtilityScore)
	}
}

func TestApplyUtilityDeltaMissing(t *testing.T) {
	db := testDB(t)

	err := db.ApplyUtilityDelta("nope", 0.1)
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestGetChunksByIDs(t *testing.T) {
	db := testDB(t)

	a := &MemoryChunk{Content: "alpha", Tier: TierCore}
	b := &MemoryChunk{Content: "beta", Tier: TierResearch}
	db.CreateChunk(a)
	db.CreateChunk(b)

	chunks, err := db.GetChunksByIDs([]string{a.ID, b.ID, "missing"})
	if err != nil {
		t.Fatalf("GetChunksByIDs: %v", err)
	}
	if len(chunks) != 2 {
		t.Errorf("got %d chunks, want 2", len(chunks))
	}

	none, err := db.GetChunksByIDs(nil)
	if err != nil || none != nil {
		t.Errorf("empty ids should return nil, nil; got %v, %v", none, err)
	}
}
