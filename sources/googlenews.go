package sources

import (
	"context"
	"fmt"
	"html"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/araddon/dateparse"
	"github.com/microcosm-cc/bluemonday"
	"github.com/mmcdole/gofeed"

	"github.com/kerbrat/veilleur/models"
)

const googleNewsSearchURL = "https://news.google.com/rss/search"

// GoogleNewsSource fetches candidates from the Google News RSS search
// feed for a query.
type GoogleNewsSource struct {
	parser    *gofeed.Parser
	sanitizer *bluemonday.Policy
	language  string // hl / ceid language, e.g. "en-US"
	country   string // gl country code, e.g. "US"
}

func NewGoogleNewsSource(language, country string) *GoogleNewsSource {
	return &GoogleNewsSource{
		parser:    gofeed.NewParser(),
		sanitizer: bluemonday.StrictPolicy(),
		language:  language,
		country:   country,
	}
}

func (s *GoogleNewsSource) Name() string { return "Google News" }

// Fetch queries the search feed and returns candidates newest first.
// Items older than since are filtered out here as a convenience, but
// the executor re-checks the cursor itself.
func (s *GoogleNewsSource) Fetch(ctx context.Context, query string, maxItems int, since *time.Time) ([]models.Item, error) {
	if strings.TrimSpace(query) == "" {
		return nil, fmt.Errorf("query must not be empty")
	}

	feedURL := fmt.Sprintf("%s?q=%s&hl=%s&gl=%s&ceid=%s:%s",
		googleNewsSearchURL,
		url.QueryEscape(query),
		s.language, s.country, s.country, strings.SplitN(s.language, "-", 2)[0],
	)

	feed, err := s.parser.ParseURLWithContext(feedURL, ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch Google News feed: %w", err)
	}

	fetchedAt := time.Now().UTC()
	items := make([]models.Item, 0, len(feed.Items))
	for _, entry := range feed.Items {
		item := models.Item{
			Title:       s.cleanText(entry.Title),
			URL:         unwrapRedirect(entry.Link),
			SourceName:  s.Name(),
			PublishedAt: entryPublishedAt(entry, fetchedAt),
			Summary:     s.summary(entry),
		}
		if len(entry.Authors) > 0 {
			item.Author = entry.Authors[0].Name
		}

		if since != nil && !item.PublishedAt.After(*since) {
			continue
		}
		items = append(items, item)
	}

	// Newest first, then cap: a tight maxItems should keep the
	// freshest candidates, not whatever order the feed emitted.
	sort.SliceStable(items, func(i, j int) bool {
		return items[i].PublishedAt.After(items[j].PublishedAt)
	})
	if maxItems > 0 && len(items) > maxItems {
		items = items[:maxItems]
	}
	return items, nil
}

// summary strips markup from the entry description and truncates it.
func (s *GoogleNewsSource) summary(entry *gofeed.Item) string {
	text := entry.Description
	if text == "" {
		text = entry.Title
	}
	text = s.cleanText(text)
	if len(text) > 300 {
		text = text[:300] + "..."
	}
	return text
}

func (s *GoogleNewsSource) cleanText(raw string) string {
	return strings.TrimSpace(html.UnescapeString(s.sanitizer.Sanitize(raw)))
}

// entryPublishedAt returns the entry's publication time, trying the
// parsed fields first, then a tolerant parse of the raw string, and
// finally falling back to fetch time so an unparseable date never
// drops an item.
func entryPublishedAt(entry *gofeed.Item, fallback time.Time) time.Time {
	if entry.PublishedParsed != nil {
		return entry.PublishedParsed.UTC()
	}
	if entry.UpdatedParsed != nil {
		return entry.UpdatedParsed.UTC()
	}
	if entry.Published != "" {
		if t, err := dateparse.ParseAny(entry.Published); err == nil {
			return t.UTC()
		}
	}
	return fallback
}

// unwrapRedirect extracts the real article URL from a Google News
// redirect link; non-redirect links pass through unchanged.
func unwrapRedirect(link string) string {
	parsed, err := url.Parse(link)
	if err != nil {
		return link
	}
	if !strings.Contains(parsed.Host, "news.google.com") {
		return link
	}
	if real := parsed.Query().Get("url"); real != "" {
		return real
	}
	return link
}
