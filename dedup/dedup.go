package dedup

import (
	"log"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/kerbrat/veilleur/models"
)

// Deduplicator filters freshly fetched items against the identity keys
// already present in a campaign's sink, collapsing within-batch
// duplicates as well. Identity is the normalized (title, url) pair, so
// the same story reformatted by different aggregators still counts as
// one item.
type Deduplicator struct {
	// RetentionWindow excludes items older than now-window from
	// persistence even when novel, keeping the sink bounded. Zero
	// disables the filter. This is persistence policy only: cursor
	// advancement is computed by the executor from the full fetch
	// set and is never affected here.
	RetentionWindow time.Duration
}

func New(retentionWindow time.Duration) *Deduplicator {
	return &Deduplicator{RetentionWindow: retentionWindow}
}

// hrefPattern matches anchor-wrapped URLs that some feeds emit in
// place of a bare link, e.g. `<a href="https://example.com">...`.
var hrefPattern = regexp.MustCompile(`href="([^"]*)"`)

// NormalizeURL lowercases and trims a URL and unwraps an HTML anchor
// wrapper if present.
func NormalizeURL(rawURL string) string {
	url := strings.TrimSpace(rawURL)
	if m := hrefPattern.FindStringSubmatch(url); m != nil {
		url = strings.TrimSpace(m[1])
	}
	return strings.ToLower(url)
}

// IdentityKey computes the stable identity of an item as
// normalized-title + "|" + normalized-url. Two items with the same key
// are the same logical item regardless of source formatting variance.
func IdentityKey(item models.Item) string {
	title := strings.ToLower(strings.TrimSpace(item.Title))
	return title + "|" + NormalizeURL(item.URL)
}

// Filter returns the subset of items that are genuinely new relative
// to the existing key set, oldest first so consumers reading the sink
// as a timeline see chronological order. Items missing both title and
// URL are dropped: they can neither be deduplicated nor usefully
// persisted. The existing set is not mutated.
func (d *Deduplicator) Filter(items []models.Item, existing map[string]struct{}, now time.Time) []models.Item {
	seen := make(map[string]struct{}, len(existing)+len(items))
	for k := range existing {
		seen[k] = struct{}{}
	}

	ordered := make([]models.Item, len(items))
	copy(ordered, items)
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].PublishedAt.Before(ordered[j].PublishedAt)
	})

	var cutoff time.Time
	if d.RetentionWindow > 0 {
		cutoff = now.Add(-d.RetentionWindow)
	}

	fresh := make([]models.Item, 0, len(ordered))
	for _, item := range ordered {
		if strings.TrimSpace(item.Title) == "" && strings.TrimSpace(item.URL) == "" {
			log.Printf("WARN (Deduplicator): Dropping item with no title and no URL (source: %s)", item.SourceName)
			continue
		}
		if !cutoff.IsZero() && !item.PublishedAt.IsZero() && item.PublishedAt.Before(cutoff) {
			continue
		}
		key := IdentityKey(item)
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		fresh = append(fresh, item)
	}
	return fresh
}
