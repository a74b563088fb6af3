package processing

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/kerbrat/veilleur/datastore"
	"github.com/kerbrat/veilleur/dedup"
	"github.com/kerbrat/veilleur/delivery"
	"github.com/kerbrat/veilleur/enhance"
	"github.com/kerbrat/veilleur/models"
	"github.com/kerbrat/veilleur/sources"
)

// RunStats summarizes a completed campaign run.
type RunStats struct {
	Fetched  int
	Kept     int // after scoring
	Accepted int // accepted by the sink
	Cursor   *time.Time
	Degraded bool // a collaborator failed and the run continued without it
}

// CampaignExecutor runs one campaign end-to-end: expand keywords,
// fetch candidates, score, deduplicate, persist to the sink, and
// record run state. Steps run strictly in order; at-most-one
// concurrent run per campaign is the scheduler's job, not re-checked
// here.
type CampaignExecutor struct {
	Store  datastore.CampaignStore
	Source sources.ContentSource
	Chain  *enhance.Chain
	Dedup  *dedup.Deduplicator
	Sink   delivery.Sink

	DefaultThreshold int
	ExpansionTermCap int
	RunTimeout       time.Duration
	CallTimeout      time.Duration

	// Now is overridable for tests; defaults to time.Now.
	Now func() time.Time
}

func NewCampaignExecutor(
	store datastore.CampaignStore,
	source sources.ContentSource,
	chain *enhance.Chain,
	deduplicator *dedup.Deduplicator,
	sink delivery.Sink,
	defaultThreshold int,
	expansionTermCap int,
	runTimeout time.Duration,
	callTimeout time.Duration,
) *CampaignExecutor {
	return &CampaignExecutor{
		Store:            store,
		Source:           source,
		Chain:            chain,
		Dedup:            deduplicator,
		Sink:             sink,
		DefaultThreshold: defaultThreshold,
		ExpansionTermCap: expansionTermCap,
		RunTimeout:       runTimeout,
		CallTimeout:      callTimeout,
		Now:              time.Now,
	}
}

// Run executes one claimed campaign. The caller must have claimed the
// campaign via the store; Run releases the claim on every path. A
// non-nil error means the run failed before persistence completed and
// last_run_at was deliberately left untouched so the next tick retries.
func (e *CampaignExecutor) Run(ctx context.Context, campaign models.Campaign) (RunStats, error) {
	runCtx, cancel := context.WithTimeout(ctx, e.RunTimeout)
	defer cancel()

	stats := RunStats{}

	keywords := campaign.NormalizedKeywords()
	if len(keywords) == 0 {
		e.release(campaign.ID)
		return stats, fmt.Errorf("campaign %s has no usable keywords", campaign.ID)
	}

	// 1. Expand (optional). Chain failure is impossible by contract;
	// an empty expansion just leaves the query unchanged.
	query := strings.Join(keywords, " OR ")
	if campaign.ExpansionEnabled {
		query = e.expandQuery(runCtx, keywords)
	}

	// 2. Fetch. Source unavailability degrades to zero items.
	items := e.fetch(runCtx, campaign, query, &stats)
	stats.Fetched = len(items)

	// Cursor advances over everything observed in the fetch, even items
	// scoring or dedup later discards, so noisy keywords can't stall it.
	newCursor := maxPublishedAt(items)

	if deadlineExpired(runCtx) {
		return e.recordPartial(campaign, stats)
	}

	// 3. Score/filter (optional).
	kept := items
	if campaign.FilteringEnabled {
		kept = e.scoreAndFilter(runCtx, campaign, keywords, items)
	}
	stats.Kept = len(kept)

	if deadlineExpired(runCtx) {
		return e.recordPartial(campaign, stats)
	}

	// 4–5. Deduplicate and persist. No sink configured means nothing
	// to deduplicate against and nothing to write: no-op success.
	accepted := 0
	if campaign.SinkRef != "" && len(kept) > 0 {
		var err error
		accepted, err = e.persist(runCtx, campaign, kept, &stats)
		if err != nil {
			e.release(campaign.ID)
			return stats, fmt.Errorf("failed to persist results for campaign %s: %w", campaign.ID, err)
		}
	}
	stats.Accepted = accepted
	stats.Cursor = newCursor

	// 6. Record run state. Uses a fresh context: the run deadline must
	// not stop the bookkeeping of work already done.
	if err := e.record(campaign, newCursor, accepted); err != nil {
		return stats, err
	}

	log.Printf("INFO (CampaignExecutor): Campaign %s (%s) completed: %d fetched, %d kept, %d accepted",
		campaign.ID, campaign.Name, stats.Fetched, stats.Kept, stats.Accepted)
	return stats, nil
}

// expandQuery asks the provider chain for related terms and widens the
// query as `orig OR t1 OR ... OR tk`. Expansion failure is never fatal:
// the chain's terminal fallback may simply return nothing.
func (e *CampaignExecutor) expandQuery(ctx context.Context, keywords []string) string {
	callCtx, cancel := context.WithTimeout(ctx, e.CallTimeout)
	defer cancel()

	terms, provider := e.Chain.Expand(callCtx, keywords)
	if len(terms) > e.ExpansionTermCap {
		terms = terms[:e.ExpansionTermCap]
	}

	query := strings.Join(keywords, " OR ")
	if len(terms) > 0 {
		query = query + " OR " + strings.Join(terms, " OR ")
		log.Printf("INFO (CampaignExecutor): Expanded query with %d terms from %s", len(terms), provider)
	}
	return query
}

// fetch pulls candidates from the content source and applies the
// cursor filter the source is not trusted to apply itself.
func (e *CampaignExecutor) fetch(ctx context.Context, campaign models.Campaign, query string, stats *RunStats) []models.Item {
	callCtx, cancel := context.WithTimeout(ctx, e.CallTimeout)
	defer cancel()

	items, err := e.Source.Fetch(callCtx, query, campaign.MaxItems, campaign.Cursor)
	if err != nil {
		log.Printf("ERROR (CampaignExecutor): Fetch failed for campaign %s, continuing with zero items: %v", campaign.ID, err)
		stats.Degraded = true
		return nil
	}

	if campaign.Cursor == nil {
		return items
	}
	fresh := items[:0]
	for _, item := range items {
		if item.PublishedAt.After(*campaign.Cursor) {
			fresh = append(fresh, item)
		}
	}
	return fresh
}

// scoreAndFilter drops items below the campaign's relevance threshold.
// The chain never errors, so provider unavailability alone never drops
// an item: the deterministic heuristic answers instead.
func (e *CampaignExecutor) scoreAndFilter(ctx context.Context, campaign models.Campaign, keywords []string, items []models.Item) []models.Item {
	threshold := campaign.RelevanceThreshold
	if threshold <= 0 {
		threshold = e.DefaultThreshold
	}

	kept := make([]models.Item, 0, len(items))
	for _, item := range items {
		callCtx, cancel := context.WithTimeout(ctx, e.CallTimeout)
		score, provider := e.Chain.Score(callCtx, item, keywords)
		cancel()

		if score < threshold {
			log.Printf("INFO (CampaignExecutor): Dropping %q (score %d < %d, provider %s)", item.Title, score, threshold, provider)
			continue
		}
		kept = append(kept, item)
	}
	return kept
}

// persist deduplicates against the sink and writes what is genuinely
// new. Sink unavailability on the existing-keys read degrades to an
// empty set: rewriting a possible duplicate beats silently dropping
// everything.
func (e *CampaignExecutor) persist(ctx context.Context, campaign models.Campaign, items []models.Item, stats *RunStats) (int, error) {
	keysCtx, cancel := context.WithTimeout(ctx, e.CallTimeout)
	existing, err := e.Sink.ExistingKeys(keysCtx, campaign.SinkRef)
	cancel()
	if err != nil {
		log.Printf("WARN (CampaignExecutor): Could not read existing keys for campaign %s, assuming empty: %v", campaign.ID, err)
		existing = nil
		stats.Degraded = true
	}

	fresh := e.Dedup.Filter(items, existing, e.Now().UTC())
	if len(fresh) == 0 {
		return 0, nil
	}

	writeCtx, cancel := context.WithTimeout(ctx, e.CallTimeout)
	defer cancel()
	accepted, err := e.Sink.Write(writeCtx, campaign.SinkRef, fresh)
	if err != nil {
		return 0, err
	}
	return accepted, nil
}

// recordPartial handles a run whose deadline expired mid-pipeline:
// nothing was persisted, so the cursor must not advance (the items
// would be lost forever), but last_run_at is still set so the
// campaign doesn't hot-loop.
func (e *CampaignExecutor) recordPartial(campaign models.Campaign, stats RunStats) (RunStats, error) {
	log.Printf("WARN (CampaignExecutor): Run deadline exceeded for campaign %s, recording partial run", campaign.ID)
	if err := e.record(campaign, nil, 0); err != nil {
		return stats, err
	}
	return stats, nil
}

func (e *CampaignExecutor) record(campaign models.Campaign, cursor *time.Time, accepted int) error {
	ctx, cancel := context.WithTimeout(context.Background(), e.CallTimeout)
	defer cancel()

	if err := e.Store.RecordRunResult(ctx, campaign.ID, cursor, accepted, e.Now().UTC()); err != nil {
		// The claim may now be stuck; release it so the campaign is
		// not orphaned until an operator intervenes.
		e.release(campaign.ID)
		return fmt.Errorf("failed to record run result for campaign %s: %w", campaign.ID, err)
	}
	return nil
}

func (e *CampaignExecutor) release(id string) {
	ctx, cancel := context.WithTimeout(context.Background(), e.CallTimeout)
	defer cancel()
	if err := e.Store.ClearRunning(ctx, id); err != nil {
		log.Printf("ERROR (CampaignExecutor): Failed to release claim on campaign %s: %v", id, err)
	}
}

func deadlineExpired(ctx context.Context) bool {
	return ctx.Err() != nil
}

// maxPublishedAt returns the newest publication time in the batch, or
// nil for an empty batch.
func maxPublishedAt(items []models.Item) *time.Time {
	var max time.Time
	for _, item := range items {
		if item.PublishedAt.After(max) {
			max = item.PublishedAt
		}
	}
	if max.IsZero() {
		return nil
	}
	return &max
}
