package enhance

import (
	"context"
	"testing"

	"github.com/kerbrat/veilleur/models"
)

func TestHeuristicScoreTitleMatch(t *testing.T) {
	h := &Heuristic{}
	item := models.Item{Title: "Go 1.24 released", Summary: "The latest Go release."}

	score, err := h.Score(context.Background(), item, []string{"go"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if score != 100 {
		t.Errorf("title match should score 100, got %d", score)
	}
}

func TestHeuristicScoreSummaryOnlyMatch(t *testing.T) {
	h := &Heuristic{}
	item := models.Item{Title: "Weekly digest", Summary: "Rust and kubernetes news inside."}

	score, err := h.Score(context.Background(), item, []string{"kubernetes"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	// 15 of 25 possible points.
	if score != 60 {
		t.Errorf("summary match should score 60, got %d", score)
	}
}

func TestHeuristicScoreFloor(t *testing.T) {
	h := &Heuristic{}
	item := models.Item{Title: "Completely unrelated", Summary: "Nothing here."}

	score, err := h.Score(context.Background(), item, []string{"blockchain"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if score != 20 {
		t.Errorf("non-matching item should score the 20 floor, got %d", score)
	}
}

func TestHeuristicScoreIsDeterministic(t *testing.T) {
	h := &Heuristic{}
	item := models.Item{Title: "AI adoption in hospitals", Summary: "Machine learning aids diagnosis."}
	keywords := []string{"ai", "machine learning"}

	first, _ := h.Score(context.Background(), item, keywords)
	for i := 0; i < 5; i++ {
		again, _ := h.Score(context.Background(), item, keywords)
		if again != first {
			t.Fatalf("score changed between calls: %d then %d", first, again)
		}
	}
}

func TestHeuristicExpand(t *testing.T) {
	h := &Heuristic{}

	terms, err := h.Expand(context.Background(), []string{"ai", "climate"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(terms) == 0 {
		t.Fatal("expected expansion terms for known topics")
	}
	for _, term := range terms {
		if term == "ai" || term == "climate" {
			t.Errorf("expansion must not echo original keyword %q", term)
		}
	}
}

func TestHeuristicExpandUnknownKeyword(t *testing.T) {
	h := &Heuristic{}

	terms, err := h.Expand(context.Background(), []string{"xyzzy"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(terms) != 0 {
		t.Errorf("unknown keyword should expand to nothing, got %v", terms)
	}
}
