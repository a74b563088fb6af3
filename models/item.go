package models

import "time"

// Item is a content candidate produced by a ContentSource during a
// single run. Items are never persisted by the engine itself; the sink
// owns durable storage.
type Item struct {
	Title       string    `json:"title"`
	URL         string    `json:"url"`
	SourceName  string    `json:"source_name"`
	PublishedAt time.Time `json:"published_at"`
	Summary     string    `json:"summary,omitempty"`
	Author      string    `json:"author,omitempty"`
}

// ProviderResult records which AI provider answered a score or
// expansion call, for diagnostics.
type ProviderResult struct {
	Score    int      `json:"score,omitempty"`
	Terms    []string `json:"terms,omitempty"`
	Provider string   `json:"provider"`
}
