package models

import (
	"strings"
	"time"
)

// Frequency defines the set of allowed run frequencies for a Campaign.
type Frequency string

const (
	FrequencyFifteenMin Frequency = "15min"
	FrequencyHourly     Frequency = "hourly"
	FrequencyDaily      Frequency = "daily"
	FrequencyWeekly     Frequency = "weekly"
)

// IsValidFrequency checks if the provided frequency string is a valid Frequency.
// It returns the typed Frequency and true if valid, otherwise an empty Frequency and false.
func IsValidFrequency(freqStr string) (Frequency, bool) {
	f := Frequency(strings.ToLower(freqStr))
	switch f {
	case FrequencyFifteenMin, FrequencyHourly, FrequencyDaily, FrequencyWeekly:
		return f, true
	default:
		return "", false
	}
}

// Interval returns the minimum time between two runs of a campaign
// with this frequency. Unknown frequencies default to daily.
func (f Frequency) Interval() time.Duration {
	switch f {
	case FrequencyFifteenMin:
		return 15 * time.Minute
	case FrequencyHourly:
		return time.Hour
	case FrequencyWeekly:
		return 7 * 24 * time.Hour
	default:
		return 24 * time.Hour
	}
}

// CampaignStatus defines the lifecycle states of a Campaign. Only
// active campaigns are eligible for scheduling.
type CampaignStatus string

const (
	CampaignStatusActive  CampaignStatus = "active"
	CampaignStatusPaused  CampaignStatus = "paused"
	CampaignStatusDeleted CampaignStatus = "deleted"
)

// Campaign represents a recurring monitoring task: a keyword set polled
// on a frequency, with results written to an external sink. The engine
// only mutates the run-related fields (LastRunAt, Cursor, counters);
// everything else belongs to the management layer.
type Campaign struct {
	ID                 string         `json:"id"`
	UserID             string         `json:"user_id"`
	Name               string         `json:"name"`
	Keywords           []string       `json:"keywords"`
	Frequency          Frequency      `json:"frequency"`
	MaxItems           int            `json:"max_items"`
	Status             CampaignStatus `json:"status"`
	ExpansionEnabled   bool           `json:"expansion_enabled"`
	FilteringEnabled   bool           `json:"filtering_enabled"`
	RelevanceThreshold int            `json:"relevance_threshold,omitempty"` // 0 means "use the engine default"
	LastRunAt          *time.Time     `json:"last_run_at,omitempty"`
	Cursor             *time.Time     `json:"cursor,omitempty"`
	TotalItems         int            `json:"total_items"`
	ItemsToday         int            `json:"items_today"`
	ItemsTodayDate     *time.Time     `json:"items_today_date,omitempty"`
	SinkRef            string         `json:"sink_ref,omitempty"`
	CreatedAt          time.Time      `json:"created_at"`
}

// NormalizedKeywords returns the campaign's keywords trimmed and
// deduplicated case-insensitively, preserving first-occurrence order.
func (c *Campaign) NormalizedKeywords() []string {
	seen := make(map[string]bool, len(c.Keywords))
	out := make([]string, 0, len(c.Keywords))
	for _, kw := range c.Keywords {
		kw = strings.TrimSpace(kw)
		if kw == "" {
			continue
		}
		lower := strings.ToLower(kw)
		if seen[lower] {
			continue
		}
		seen[lower] = true
		out = append(out, kw)
	}
	return out
}

// IsDue reports whether the campaign should run at the given instant.
// A campaign that has never run is always due.
func (c *Campaign) IsDue(now time.Time) bool {
	if c.Status != CampaignStatusActive {
		return false
	}
	if c.LastRunAt == nil {
		return true
	}
	return now.Sub(*c.LastRunAt) >= c.Frequency.Interval()
}
