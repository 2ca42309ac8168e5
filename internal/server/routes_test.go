package server

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/BJS-Innovation-Lab/mnemo/internal/embed"
	"github.com/BJS-Innovation-Lab/mnemo/internal/engine"
	"github.com/BJS-Innovation-Lab/mnemo/internal/store"
)

func testServer(t *testing.T) *Server {
	t.Helper()
	db, err := store.OpenMemory()
	if err != nil {
		t.Fatalf("OpenMemory: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	emb := embed.NewTFIDFEmbedder([]string{
		"agents should retry on rate limit errors",
		"sqlite works well for embedded storage",
	}, 256)
	eng, err := engine.New(db, emb, nil)
	if err != nil {
		t.Fatalf("engine.New: %v", err)
	}
	return New(db, eng, "test")
}

func doJSON(t *testing.T, s *Server, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	s.ServeHTTP(w, req)
	return w
}

func decodeBody(t *testing.T, w *httptest.ResponseRecorder, v any) {
	t.Helper()
	if err := json.NewDecoder(w.Body).Decode(v); err != nil {
		t.Fatalf("decode response: %v", err)
	}
}

func TestHealth(t *testing.T) {
	s := testServer(t)

	w := doJSON(t, s, http.MethodGet, "/api/health", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}

	var body struct {
		Status  string `json:"status"`
		Version string `json:"version"`
		DB      bool   `json:"db"`
	}
	decodeBody(t, w, &body)
	if body.Status != "ok" || body.Version != "test" || !body.DB {
		t.Errorf("health = %+v", body)
	}
}

func TestScoreEndpoint(t *testing.T) {
	s := testServer(t)

	w := doJSON(t, s, http.MethodPost, "/api/score", map[string]string{"text": "a brand new observation"})
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", w.Code, w.Body.String())
	}

	var body struct {
		Score          float64 `json:"score"`
		Classification string  `json:"classification"`
	}
	decodeBody(t, w, &body)
	if body.Classification != "NOVEL" {
		t.Errorf("classification = %q, want NOVEL on empty store", body.Classification)
	}

	w = doJSON(t, s, http.MethodPost, "/api/score", map[string]string{})
	if w.Code != http.StatusBadRequest {
		t.Errorf("missing text: status = %d, want 400", w.Code)
	}
}

func TestObserveThenRetrieve(t *testing.T) {
	s := testServer(t)

	w := doJSON(t, s, http.MethodPost, "/api/observations", map[string]any{
		"text": "agents should retry on rate limit errors",
		"tags": []string{"http"},
	})
	if w.Code != http.StatusOK {
		t.Fatalf("observe status = %d, body %s", w.Code, w.Body.String())
	}
	var observed struct {
		Stored  bool   `json:"stored"`
		EntryID string `json:"entry_id"`
	}
	decodeBody(t, w, &observed)
	if !observed.Stored || observed.EntryID == "" {
		t.Fatalf("observe = %+v", observed)
	}

	w = doJSON(t, s, http.MethodGet, "/api/retrieve?q=retry+on+rate+limits&limit=5", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("retrieve status = %d, body %s", w.Code, w.Body.String())
	}
	var retrieved struct {
		Results []struct {
			Similarity float64 `json:"similarity"`
			Final      float64 `json:"final"`
		} `json:"results"`
	}
	decodeBody(t, w, &retrieved)
	if len(retrieved.Results) == 0 {
		t.Fatal("no results for a stored observation")
	}

	w = doJSON(t, s, http.MethodGet, "/api/retrieve", nil)
	if w.Code != http.StatusBadRequest {
		t.Errorf("missing q: status = %d, want 400", w.Code)
	}
}

func TestObserveDuplicateSkipped(t *testing.T) {
	s := testServer(t)

	text := map[string]any{"text": "sqlite works well for embedded storage"}
	if w := doJSON(t, s, http.MethodPost, "/api/observations", text); w.Code != http.StatusOK {
		t.Fatalf("first observe: %d", w.Code)
	}

	w := doJSON(t, s, http.MethodPost, "/api/observations", text)
	if w.Code != http.StatusOK {
		t.Fatalf("second observe: %d", w.Code)
	}
	var observed struct {
		Stored   bool `json:"stored"`
		Surprise struct {
			Classification string `json:"classification"`
		} `json:"surprise"`
	}
	decodeBody(t, w, &observed)
	if observed.Stored {
		t.Error("duplicate observation stored")
	}
	if observed.Surprise.Classification != "DUPLICATE" {
		t.Errorf("classification = %q", observed.Surprise.Classification)
	}
}

func TestIngestAndOutcomeFlow(t *testing.T) {
	s := testServer(t)

	w := doJSON(t, s, http.MethodPost, "/api/chunks", map[string]string{
		"source":  "docs/retries.md",
		"content": "agents should retry on rate limit errors",
		"tier":    store.TierLearning,
	})
	if w.Code != http.StatusCreated {
		t.Fatalf("ingest status = %d, body %s", w.Code, w.Body.String())
	}
	var chunk store.MemoryChunk
	decodeBody(t, w, &chunk)
	if chunk.ID == "" || chunk.Tier != store.TierLearning {
		t.Fatalf("chunk = %+v", chunk)
	}

	w = doJSON(t, s, http.MethodPost, "/api/outcomes", map[string]any{
		"context": "agents should retry on rate limit errors",
		"score":   9,
	})
	if w.Code != http.StatusCreated {
		t.Fatalf("outcome status = %d, body %s", w.Code, w.Body.String())
	}

	w = doJSON(t, s, http.MethodPost, "/api/outcomes/process", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("process status = %d, body %s", w.Code, w.Body.String())
	}
	var processed struct {
		Processed int `json:"processed"`
	}
	decodeBody(t, w, &processed)
	if processed.Processed != 1 {
		t.Errorf("processed = %d, want 1", processed.Processed)
	}
}

func TestWorkingMemoryEndpoints(t *testing.T) {
	s := testServer(t)

	w := doJSON(t, s, http.MethodPost, "/api/working", map[string]any{"key": "plan", "value": "step one"})
	if w.Code != http.StatusOK {
		t.Fatalf("save status = %d", w.Code)
	}

	w = doJSON(t, s, http.MethodGet, "/api/working/plan", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("get status = %d", w.Code)
	}

	w = doJSON(t, s, http.MethodGet, "/api/working/missing", nil)
	if w.Code != http.StatusNotFound {
		t.Errorf("missing key status = %d, want 404", w.Code)
	}

	w = doJSON(t, s, http.MethodDelete, "/api/working", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("clear status = %d", w.Code)
	}
	w = doJSON(t, s, http.MethodGet, "/api/working/plan", nil)
	if w.Code != http.StatusNotFound {
		t.Errorf("cleared key status = %d, want 404", w.Code)
	}
}

func TestConsolidateAndRules(t *testing.T) {
	s := testServer(t)

	session := map[string]any{
		"learnings": []map[string]any{{"detail": "batching halves ingestion latency"}},
		"goals":     []string{"improve ingestion throughput"},
	}
	for i := 0; i < 2; i++ {
		w := doJSON(t, s, http.MethodPost, "/api/sessions/consolidate", session)
		if w.Code != http.StatusCreated {
			t.Fatalf("consolidate status = %d, body %s", w.Code, w.Body.String())
		}
	}

	w := doJSON(t, s, http.MethodGet, "/api/threads", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("threads status = %d", w.Code)
	}
	var threads struct {
		Threads []store.NarrativeThread `json:"threads"`
	}
	decodeBody(t, w, &threads)
	if len(threads.Threads) == 0 {
		t.Error("no narrative threads after consolidation")
	}

	w = doJSON(t, s, http.MethodPost, "/api/rules/promote", map[string]int{"min_occurrences": 2})
	if w.Code != http.StatusOK {
		t.Fatalf("promote status = %d, body %s", w.Code, w.Body.String())
	}
	var promoted struct {
		Promoted int `json:"promoted"`
	}
	decodeBody(t, w, &promoted)
	if promoted.Promoted != 1 {
		t.Errorf("promoted = %d, want 1", promoted.Promoted)
	}

	w = doJSON(t, s, http.MethodGet, "/api/rules", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("rules status = %d", w.Code)
	}
	var rules struct {
		Rules []store.SemanticRule `json:"rules"`
	}
	decodeBody(t, w, &rules)
	if len(rules.Rules) != 1 {
		t.Errorf("rules = %+v", rules.Rules)
	}
}

func TestEvolutionEndpoints(t *testing.T) {
	s := testServer(t)

	// Illegal begin from STABLE maps to 409.
	w := doJSON(t, s, http.MethodPost, "/api/evolution/begin", map[string]string{"change": "too soon"})
	if w.Code != http.StatusConflict {
		t.Errorf("begin from STABLE: status = %d, want 409", w.Code)
	}

	for i := 0; i < 3; i++ {
		w = doJSON(t, s, http.MethodPost, "/api/evolution/evidence", map[string]any{
			"description": "planner kept looping",
			"source":      "outcome",
		})
		if w.Code != http.StatusOK {
			t.Fatalf("evidence status = %d, body %s", w.Code, w.Body.String())
		}
	}
	var evidence struct {
		State            string `json:"state"`
		ThresholdReached bool   `json:"threshold_reached"`
	}
	decodeBody(t, w, &evidence)
	if evidence.State != store.StateLearning || !evidence.ThresholdReached {
		t.Errorf("evidence = %+v", evidence)
	}

	w = doJSON(t, s, http.MethodPost, "/api/evolution/begin", map[string]string{
		"type": "prompt", "target": "planner", "change": "add loop guard",
	})
	if w.Code != http.StatusOK {
		t.Fatalf("begin status = %d, body %s", w.Code, w.Body.String())
	}

	w = doJSON(t, s, http.MethodPost, "/api/evolution/rollback", map[string]string{"reason": "made looping worse"})
	if w.Code != http.StatusOK {
		t.Fatalf("rollback status = %d, body %s", w.Code, w.Body.String())
	}

	w = doJSON(t, s, http.MethodGet, "/api/evolution", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("state status = %d", w.Code)
	}
	var state store.EvolutionState
	decodeBody(t, w, &state)
	if state.State != store.StateStable || state.EvolutionsRolledBack != 1 {
		t.Errorf("state = %+v", state)
	}

	w = doJSON(t, s, http.MethodGet, "/api/evolution/history", nil)
	var history struct {
		History []store.TransitionRecord `json:"history"`
	}
	decodeBody(t, w, &history)
	if len(history.History) != 3 {
		t.Errorf("history = %+v, want 3 transitions", history.History)
	}

	w = doJSON(t, s, http.MethodGet, "/api/evolution/rollbacks", nil)
	var rollbacks struct {
		Rollbacks []store.RollbackRecord `json:"rollbacks"`
	}
	decodeBody(t, w, &rollbacks)
	if len(rollbacks.Rollbacks) != 1 {
		t.Errorf("rollbacks = %+v", rollbacks.Rollbacks)
	}

	// Missing reason rejected before touching the controller.
	w = doJSON(t, s, http.MethodPost, "/api/evolution/reset", map[string]string{})
	if w.Code != http.StatusBadRequest {
		t.Errorf("reset without reason: status = %d, want 400", w.Code)
	}
}
