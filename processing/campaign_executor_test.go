package processing

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/kerbrat/veilleur/datastore"
	"github.com/kerbrat/veilleur/dedup"
	"github.com/kerbrat/veilleur/enhance"
	"github.com/kerbrat/veilleur/models"
)

type recordedRun struct {
	id       string
	cursor   *time.Time
	accepted int
}

type fakeStore struct {
	mu      sync.Mutex
	cleared []string
	records []recordedRun
}

var _ datastore.CampaignStore = (*fakeStore)(nil)

func (s *fakeStore) DueCampaigns(context.Context, time.Time) ([]models.Campaign, error) {
	return nil, nil
}

func (s *fakeStore) TryMarkRunning(context.Context, string) (bool, error) {
	return true, nil
}

func (s *fakeStore) ClearRunning(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cleared = append(s.cleared, id)
	return nil
}

func (s *fakeStore) RecordRunResult(_ context.Context, id string, cursor *time.Time, accepted int, _ time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = append(s.records, recordedRun{id: id, cursor: cursor, accepted: accepted})
	return nil
}

func (s *fakeStore) GetCampaign(context.Context, string) (*models.Campaign, error) {
	return nil, errors.New("not implemented")
}

func (s *fakeStore) ListCampaigns(context.Context) ([]models.Campaign, error) {
	return nil, nil
}

func (s *fakeStore) lastRecord(t *testing.T) recordedRun {
	t.Helper()
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.records) == 0 {
		t.Fatal("expected a recorded run, got none")
	}
	return s.records[len(s.records)-1]
}

func (s *fakeStore) wasCleared(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range s.cleared {
		if c == id {
			return true
		}
	}
	return false
}

type fakeSource struct {
	items []models.Item
	err   error
}

func (f *fakeSource) Name() string { return "fake" }

func (f *fakeSource) Fetch(_ context.Context, _ string, _ int, _ *time.Time) ([]models.Item, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.items, nil
}

type fakeSink struct {
	mu          sync.Mutex
	existing    map[string]struct{}
	existingErr error
	writeErr    error
	written     []models.Item
}

func (f *fakeSink) ExistingKeys(context.Context, string) (map[string]struct{}, error) {
	if f.existingErr != nil {
		return nil, f.existingErr
	}
	return f.existing, nil
}

func (f *fakeSink) Write(_ context.Context, _ string, items []models.Item) (int, error) {
	if f.writeErr != nil {
		return 0, f.writeErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.written = append(f.written, items...)
	return len(items), nil
}

func newTestExecutor(store *fakeStore, source *fakeSource, sink *fakeSink) *CampaignExecutor {
	return NewCampaignExecutor(
		store,
		source,
		enhance.NewChain(),
		dedup.New(48*time.Hour),
		sink,
		70,
		5,
		time.Minute,
		10*time.Second,
	)
}

func testCampaign(cursor *time.Time) models.Campaign {
	return models.Campaign{
		ID:               "11111111-1111-1111-1111-111111111111",
		Name:             "Go watch",
		Keywords:         []string{"go"},
		Frequency:        models.FrequencyHourly,
		MaxItems:         25,
		Status:           models.CampaignStatusActive,
		FilteringEnabled: true,
		SinkRef:          "sheet-1",
		Cursor:           cursor,
	}
}

func TestRunPersistsOnlyNewItems(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	cursor := now.Add(-2 * time.Hour)

	stale := models.Item{Title: "Go release retrospective", URL: "https://example.com/old", PublishedAt: now.Add(-3 * time.Hour)}
	dup := models.Item{Title: "Go conference announced", URL: "https://example.com/conf", PublishedAt: now.Add(-time.Hour)}
	novel := models.Item{Title: "Go 1.24 released", URL: "https://example.com/release", PublishedAt: now.Add(-30 * time.Minute)}

	store := &fakeStore{}
	source := &fakeSource{items: []models.Item{stale, dup, novel}}
	sink := &fakeSink{existing: map[string]struct{}{dedup.IdentityKey(dup): {}}}

	executor := newTestExecutor(store, source, sink)
	executor.Now = func() time.Time { return now }

	stats, err := executor.Run(context.Background(), testCampaign(&cursor))
	require.NoError(t, err)

	require.Equal(t, 2, stats.Fetched, "items past the cursor")
	require.Equal(t, 1, stats.Accepted)
	require.Len(t, sink.written, 1)
	require.Equal(t, novel.URL, sink.written[0].URL)

	rec := store.lastRecord(t)
	require.NotNil(t, rec.cursor, "cursor should advance")
	require.True(t, rec.cursor.Equal(novel.PublishedAt), "cursor should be the newest fetched publication time")
	require.Equal(t, 1, rec.accepted)
}

func TestRunFailsWithoutKeywords(t *testing.T) {
	store := &fakeStore{}
	executor := newTestExecutor(store, &fakeSource{}, &fakeSink{})

	campaign := testCampaign(nil)
	campaign.Keywords = []string{"  ", ""}

	if _, err := executor.Run(context.Background(), campaign); err == nil {
		t.Fatal("expected error for campaign without usable keywords")
	}
	if !store.wasCleared(campaign.ID) {
		t.Error("claim should be released on fatal error")
	}
	if len(store.records) != 0 {
		t.Error("fatal error must not record a run")
	}
}

func TestRunDegradedWhenFetchFails(t *testing.T) {
	store := &fakeStore{}
	source := &fakeSource{err: errors.New("feed unreachable")}
	executor := newTestExecutor(store, source, &fakeSink{})

	stats, err := executor.Run(context.Background(), testCampaign(nil))
	if err != nil {
		t.Fatalf("fetch failure should degrade, not fail: %v", err)
	}
	if !stats.Degraded {
		t.Error("expected degraded stats")
	}

	rec := store.lastRecord(t)
	if rec.cursor != nil {
		t.Errorf("cursor must not move on an empty fetch, got %v", rec.cursor)
	}
	if rec.accepted != 0 {
		t.Errorf("recorded accepted = %d, want 0", rec.accepted)
	}
}

func TestRunWithoutSinkRecordsRun(t *testing.T) {
	now := time.Now().UTC()
	item := models.Item{Title: "Go news", URL: "https://example.com/a", PublishedAt: now.Add(-time.Minute)}

	store := &fakeStore{}
	sink := &fakeSink{}
	executor := newTestExecutor(store, &fakeSource{items: []models.Item{item}}, sink)

	campaign := testCampaign(nil)
	campaign.SinkRef = ""

	stats, err := executor.Run(context.Background(), campaign)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if stats.Accepted != 0 {
		t.Errorf("no sink means nothing accepted, got %d", stats.Accepted)
	}
	if len(sink.written) != 0 {
		t.Error("sink must not be written without a sink ref")
	}

	rec := store.lastRecord(t)
	if rec.cursor == nil || !rec.cursor.Equal(item.PublishedAt) {
		t.Errorf("cursor should still advance, got %v", rec.cursor)
	}
}

func TestRunWriteFailureReleasesClaim(t *testing.T) {
	now := time.Now().UTC()
	item := models.Item{Title: "Go news", URL: "https://example.com/a", PublishedAt: now.Add(-time.Minute)}

	store := &fakeStore{}
	sink := &fakeSink{writeErr: errors.New("sheet gone")}
	executor := newTestExecutor(store, &fakeSource{items: []models.Item{item}}, sink)

	campaign := testCampaign(nil)
	if _, err := executor.Run(context.Background(), campaign); err == nil {
		t.Fatal("expected error when the sink write fails")
	}
	if !store.wasCleared(campaign.ID) {
		t.Error("claim should be released when the write fails")
	}
	if len(store.records) != 0 {
		t.Error("failed run must not set last_run_at")
	}
}

func TestRunExistingKeysFailureDegrades(t *testing.T) {
	now := time.Now().UTC()
	item := models.Item{Title: "Go news", URL: "https://example.com/a", PublishedAt: now.Add(-time.Minute)}

	store := &fakeStore{}
	sink := &fakeSink{existingErr: errors.New("read timeout")}
	executor := newTestExecutor(store, &fakeSource{items: []models.Item{item}}, sink)

	stats, err := executor.Run(context.Background(), testCampaign(nil))
	if err != nil {
		t.Fatalf("existing-keys failure should degrade, not fail: %v", err)
	}
	if !stats.Degraded {
		t.Error("expected degraded stats")
	}
	if stats.Accepted != 1 {
		t.Errorf("items should still be written assuming an empty sink, got %d accepted", stats.Accepted)
	}
}

func TestRunScoringDropsIrrelevantItems(t *testing.T) {
	now := time.Now().UTC()
	relevant := models.Item{Title: "Golang generics deep dive", URL: "https://example.com/r", PublishedAt: now.Add(-time.Minute)}
	irrelevant := models.Item{Title: "Celebrity news roundup", URL: "https://example.com/i", PublishedAt: now.Add(-time.Minute)}

	store := &fakeStore{}
	sink := &fakeSink{}
	executor := newTestExecutor(store, &fakeSource{items: []models.Item{relevant, irrelevant}}, sink)

	campaign := testCampaign(nil)
	campaign.Keywords = []string{"golang"}
	stats, err := executor.Run(context.Background(), campaign)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if stats.Kept != 1 {
		t.Fatalf("expected 1 item past the threshold, got %d", stats.Kept)
	}
	if len(sink.written) != 1 || sink.written[0].URL != relevant.URL {
		t.Errorf("unexpected sink contents: %v", sink.written)
	}
}

func TestRunCursorDoesNotRegress(t *testing.T) {
	now := time.Now().UTC()
	cursor := now.Add(-time.Hour)
	older := models.Item{Title: "Go old news", URL: "https://example.com/old", PublishedAt: now.Add(-2 * time.Hour)}

	store := &fakeStore{}
	executor := newTestExecutor(store, &fakeSource{items: []models.Item{older}}, &fakeSink{})

	if _, err := executor.Run(context.Background(), testCampaign(&cursor)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	rec := store.lastRecord(t)
	if rec.cursor != nil {
		t.Errorf("a fetch with nothing past the cursor must record a nil cursor, got %v", rec.cursor)
	}
}
