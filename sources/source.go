package sources

import (
	"context"
	"time"

	"github.com/kerbrat/veilleur/models"
)

// ContentSource is the adapter interface for content backends (RSS
// search feeds, social media, ...). Given a query it returns a finite
// batch of candidate items. The since cursor lets a source skip
// already-seen content server-side where supported, but callers must
// not trust it: sources are allowed to return older items.
type ContentSource interface {
	// Name returns the source identifier used in logs and Item.SourceName.
	Name() string
	// Fetch returns up to maxItems candidates for the query, newest
	// content preferred. A nil since means "no cursor, fetch everything".
	Fetch(ctx context.Context, query string, maxItems int, since *time.Time) ([]models.Item, error)
}
