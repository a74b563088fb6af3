package enhance

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strconv"

	"github.com/kerbrat/veilleur/models"
)

// Provider is the adapter interface for AI backends. Implement this to
// add new vendors (OpenAI-compatible APIs, local models, etc.).
type Provider interface {
	// Name returns the provider identifier used in logs and ProviderResult.
	Name() string
	// Score rates an item's relevance to the keywords from 0 to 100.
	Score(ctx context.Context, item models.Item, keywords []string) (int, error)
	// Expand suggests additional search terms related to the keywords.
	Expand(ctx context.Context, keywords []string) ([]string, error)
}

// permanentError marks a failure that must not be retried against the
// same provider (bad credentials, exhausted quota). The chain advances
// to the next provider immediately.
type permanentError struct {
	err error
}

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent wraps err so the chain treats it as non-retryable.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// IsPermanent reports whether err (or anything it wraps) was marked
// with Permanent.
func IsPermanent(err error) bool {
	var p *permanentError
	return errors.As(err, &p)
}

var numberPattern = regexp.MustCompile(`\d+`)

// parseScore extracts the first integer from a model's free-text reply
// and clamps it to [0, 100].
func parseScore(text string) (int, error) {
	match := numberPattern.FindString(text)
	if match == "" {
		return 0, fmt.Errorf("no numeric score in response %q", text)
	}
	score, err := strconv.Atoi(match)
	if err != nil {
		return 0, fmt.Errorf("unparseable score in response %q: %w", text, err)
	}
	if score < 0 {
		score = 0
	}
	if score > 100 {
		score = 100
	}
	return score, nil
}
