package enhance

import (
	"context"
	"strings"

	"github.com/kerbrat/veilleur/models"
)

// Heuristic is the deterministic terminal fallback of the provider
// chain. It scores items by keyword overlap and expands keywords from
// a fixed synonym table, so the chain can always return a best-effort
// answer even when every configured AI backend is down.
type Heuristic struct{}

func (h *Heuristic) Name() string { return "heuristic" }

// Score awards 25 points for a keyword found in the title, 15 for one
// found in the summary, plus partial credit for multi-word keywords,
// normalized to 0-100. Any item scores at least 20 so that provider
// unavailability alone never drops an item below typical thresholds'
// floor.
func (h *Heuristic) Score(_ context.Context, item models.Item, keywords []string) (int, error) {
	if len(keywords) == 0 {
		return 20, nil
	}

	title := strings.ToLower(item.Title)
	summary := strings.ToLower(item.Summary)
	text := title + " " + summary

	score := 0.0
	for _, kw := range keywords {
		kw = strings.ToLower(strings.TrimSpace(kw))
		if kw == "" {
			continue
		}
		switch {
		case strings.Contains(title, kw):
			score += 25
		case strings.Contains(summary, kw):
			score += 15
		}

		words := strings.Fields(kw)
		if len(words) > 1 {
			matches := 0
			for _, w := range words {
				if strings.Contains(text, w) {
					matches++
				}
			}
			score += float64(matches) / float64(len(words)) * 10
		}
	}

	totalPossible := float64(len(keywords) * 25)
	normalized := int(score / totalPossible * 100)
	if normalized > 100 {
		normalized = 100
	}
	if normalized < 20 {
		normalized = 20
	}
	return normalized, nil
}

// relatedTerms maps common monitoring topics to adjacent search terms.
// Mirrors the kind of neighborhoods journalists actually use; anything
// not in the table simply expands to nothing.
var relatedTerms = map[string][]string{
	"ai":                      {"artificial intelligence", "machine learning", "deep learning", "llm", "automation"},
	"artificial intelligence": {"ai", "machine learning", "deep learning", "neural network", "automation"},
	"health":                  {"medicine", "hospital", "patient", "treatment", "diagnosis"},
	"technology":              {"tech", "innovation", "digital", "startup", "software"},
	"finance":                 {"banking", "investment", "economy", "markets", "fintech"},
	"climate":                 {"environment", "emissions", "renewable energy", "sustainability", "carbon"},
	"education":               {"school", "university", "training", "learning", "students"},
	"security":                {"cybersecurity", "breach", "vulnerability", "privacy", "encryption"},
	"politics":                {"government", "election", "parliament", "policy", "minister"},
}

// Expand returns synonym-table neighbors for each keyword, first
// occurrence wins, excluding the original keywords themselves.
func (h *Heuristic) Expand(_ context.Context, keywords []string) ([]string, error) {
	original := make(map[string]bool, len(keywords))
	for _, kw := range keywords {
		original[strings.ToLower(strings.TrimSpace(kw))] = true
	}

	seen := make(map[string]bool)
	var terms []string
	for _, kw := range keywords {
		for _, related := range relatedTerms[strings.ToLower(strings.TrimSpace(kw))] {
			if original[related] || seen[related] {
				continue
			}
			seen[related] = true
			terms = append(terms, related)
		}
	}
	return terms, nil
}
