package datastore

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/kerbrat/veilleur/models"
)

// CampaignStore is the engine's view of durable campaign records. The
// store, not any in-memory state, is the source of truth for "is this
// campaign currently running": the scheduler's in-flight set only
// short-circuits within a single process.
type CampaignStore interface {
	// DueCampaigns returns the active campaigns whose frequency
	// interval has elapsed (or that have never run) as of now.
	DueCampaigns(ctx context.Context, now time.Time) ([]models.Campaign, error)
	// TryMarkRunning atomically claims a campaign for execution.
	// It returns false if the campaign is already claimed.
	TryMarkRunning(ctx context.Context, id string) (bool, error)
	// ClearRunning releases a claim without recording a run, leaving
	// last_run_at untouched so the next tick retries.
	ClearRunning(ctx context.Context, id string) error
	// RecordRunResult atomically applies a completed run: advances the
	// cursor monotonically, adds accepted to the counters (rolling the
	// daily counter on date change), sets last_run_at and releases the
	// claim.
	RecordRunResult(ctx context.Context, id string, cursor *time.Time, accepted int, now time.Time) error
	GetCampaign(ctx context.Context, id string) (*models.Campaign, error)
	ListCampaigns(ctx context.Context) ([]models.Campaign, error)
}

// CampaignRepository is the Postgres-backed CampaignStore.
type CampaignRepository struct {
	db *sql.DB
}

func NewCampaignRepository(db *sql.DB) *CampaignRepository {
	return &CampaignRepository{db: db}
}

const campaignColumns = `
	id, user_id, name, keywords, frequency, max_items, status,
	expansion_enabled, filtering_enabled, relevance_threshold,
	last_run_at, cursor, total_items, items_today, items_today_date,
	sink_ref, created_at
`

func (r *CampaignRepository) DueCampaigns(ctx context.Context, now time.Time) ([]models.Campaign, error) {
	query := `
		SELECT ` + campaignColumns + `
		FROM campaigns
		WHERE status = 'active'
		  AND (last_run_at IS NULL OR $1 - last_run_at >= CASE frequency
			WHEN '15min'  THEN interval '15 minutes'
			WHEN 'hourly' THEN interval '1 hour'
			WHEN 'daily'  THEN interval '24 hours'
			WHEN 'weekly' THEN interval '7 days'
			ELSE interval '24 hours'
		  END)
		ORDER BY created_at
	`
	rows, err := r.db.QueryContext(ctx, query, now.UTC())
	if err != nil {
		return nil, fmt.Errorf("failed to query due campaigns: %w", err)
	}
	defer rows.Close()

	campaigns, err := scanCampaigns(rows)
	if err != nil {
		return nil, err
	}
	return campaigns, nil
}

func (r *CampaignRepository) TryMarkRunning(ctx context.Context, id string) (bool, error) {
	if _, err := uuid.Parse(id); err != nil {
		return false, fmt.Errorf("invalid campaign ID format: %w", err)
	}

	query := `
		UPDATE campaigns
		SET running = TRUE
		WHERE id = $1 AND running = FALSE AND status = 'active'
	`
	result, err := r.db.ExecContext(ctx, query, id)
	if err != nil {
		return false, fmt.Errorf("failed to claim campaign %s: %w", id, err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read claim result for campaign %s: %w", id, err)
	}
	return affected == 1, nil
}

func (r *CampaignRepository) ClearRunning(ctx context.Context, id string) error {
	query := `UPDATE campaigns SET running = FALSE WHERE id = $1`
	if _, err := r.db.ExecContext(ctx, query, id); err != nil {
		return fmt.Errorf("failed to release campaign %s: %w", id, err)
	}
	return nil
}

func (r *CampaignRepository) RecordRunResult(ctx context.Context, id string, cursor *time.Time, accepted int, now time.Time) error {
	// Single statement so two scheduler instances can never interleave
	// a read-modify-write on the counters.
	query := `
		UPDATE campaigns
		SET total_items = total_items + $2,
		    items_today = CASE
			WHEN items_today_date = ($4 AT TIME ZONE 'UTC')::date THEN items_today + $2
			ELSE $2
		    END,
		    items_today_date = ($4 AT TIME ZONE 'UTC')::date,
		    cursor = CASE
			WHEN $3::timestamptz IS NULL THEN cursor
			ELSE GREATEST(COALESCE(cursor, $3::timestamptz), $3::timestamptz)
		    END,
		    last_run_at = $4,
		    running = FALSE
		WHERE id = $1
	`
	var cursorArg interface{}
	if cursor != nil {
		cursorArg = cursor.UTC()
	}
	result, err := r.db.ExecContext(ctx, query, id, accepted, cursorArg, now.UTC())
	if err != nil {
		return fmt.Errorf("failed to record run result for campaign %s: %w", id, err)
	}
	affected, err := result.RowsAffected()
	if err == nil && affected == 0 {
		return fmt.Errorf("campaign %s not found", id)
	}
	return nil
}

func (r *CampaignRepository) GetCampaign(ctx context.Context, id string) (*models.Campaign, error) {
	query := `SELECT ` + campaignColumns + ` FROM campaigns WHERE id = $1`
	row := r.db.QueryRowContext(ctx, query, id)

	campaign, err := scanCampaign(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("campaign not found: %w", err)
		}
		return nil, fmt.Errorf("failed to get campaign by ID: %w", err)
	}
	return campaign, nil
}

func (r *CampaignRepository) ListCampaigns(ctx context.Context) ([]models.Campaign, error) {
	query := `
		SELECT ` + campaignColumns + `
		FROM campaigns
		WHERE status != 'deleted'
		ORDER BY created_at DESC
	`
	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query campaigns: %w", err)
	}
	defer rows.Close()

	campaigns, err := scanCampaigns(rows)
	if err != nil {
		return nil, err
	}
	// Return empty slice, not nil, if no campaigns found
	if campaigns == nil {
		campaigns = []models.Campaign{}
	}
	return campaigns, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanCampaign(row rowScanner) (*models.Campaign, error) {
	var (
		c        models.Campaign
		keywords string
		sinkRef  sql.NullString
	)
	err := row.Scan(
		&c.ID, &c.UserID, &c.Name, &keywords, &c.Frequency, &c.MaxItems, &c.Status,
		&c.ExpansionEnabled, &c.FilteringEnabled, &c.RelevanceThreshold,
		&c.LastRunAt, &c.Cursor, &c.TotalItems, &c.ItemsToday, &c.ItemsTodayDate,
		&sinkRef, &c.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	c.Keywords = splitKeywords(keywords)
	c.SinkRef = sinkRef.String
	return &c, nil
}

func scanCampaigns(rows *sql.Rows) ([]models.Campaign, error) {
	var campaigns []models.Campaign
	for rows.Next() {
		campaign, err := scanCampaign(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan campaign row: %w", err)
		}
		campaigns = append(campaigns, *campaign)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating campaign rows: %w", err)
	}
	return campaigns, nil
}

// splitKeywords parses the comma-separated keywords column.
func splitKeywords(raw string) []string {
	parts := strings.Split(raw, ",")
	keywords := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			keywords = append(keywords, p)
		}
	}
	return keywords
}
