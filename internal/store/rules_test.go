package store

import "testing"

func TestReplaceSemanticRules(t *testing.T) {
	db := testDB(t)

	first := []SemanticRule{
		{Rule: "retry on rate limits", Kind: "pattern", Occurrences: 4, Confidence: 0.4},
	}
	if err := db.ReplaceSemanticRules(first); err != nil {
		t.Fatalf("ReplaceSemanticRules: %v", err)
	}

	second := []SemanticRule{
		{Rule: "batch writes in a transaction", Kind: "decision", Occurrences: 10, Confidence: 1.0},
		{Rule: "retry on rate limits", Kind: "pattern", Occurrences: 6, Confidence: 0.6},
	}
	if err := db.ReplaceSemanticRules(second); err != nil {
		t.Fatalf("second ReplaceSemanticRules: %v", err)
	}

	rules, err := db.ListSemanticRules()
	if err != nil {
		t.Fatalf("ListSemanticRules: %v", err)
	}
	if len(rules) != 2 {
		t.Fatalf("got %d rules, want 2 (replace, not append)", len(rules))
	}
	if rules[0].Confidence < rules[1].Confidence {
		t.Error("rules not ordered by confidence desc")
	}
	if rules[0].Rule != "batch writes in a transaction" {
		t.Errorf("rules[0] = %+v", rules[0])
	}
}
