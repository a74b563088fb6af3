package scheduler

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/kerbrat/veilleur/datastore"
	"github.com/kerbrat/veilleur/models"
	"github.com/kerbrat/veilleur/processing"
)

// Scheduler ticks on a fixed interval, asks the store which campaigns
// are due, and dispatches each due campaign to the executor through a
// bounded queue consumed by a fixed-size worker pool. The same
// campaign is never dispatched twice concurrently: an in-process
// in-flight set short-circuits, and the store's atomic claim is the
// cross-process truth.
type Scheduler struct {
	store    datastore.CampaignStore
	executor *processing.CampaignExecutor

	tickInterval time.Duration
	workerCount  int
	drainTimeout time.Duration

	cron    *cron.Cron
	queue   chan models.Campaign
	wg      sync.WaitGroup
	runCtx  context.Context
	cancel  context.CancelFunc

	mu       sync.Mutex
	inFlight map[string]bool
	started  bool
	stopped  bool
}

func New(
	store datastore.CampaignStore,
	executor *processing.CampaignExecutor,
	tickInterval time.Duration,
	workerCount int,
	queueSize int,
	drainTimeout time.Duration,
) *Scheduler {
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		store:        store,
		executor:     executor,
		tickInterval: tickInterval,
		workerCount:  workerCount,
		drainTimeout: drainTimeout,
		cron:         cron.New(),
		queue:        make(chan models.Campaign, queueSize),
		runCtx:       ctx,
		cancel:       cancel,
		inFlight:     make(map[string]bool),
	}
}

// Start launches the worker pool and the tick loop. Calling Start on
// a started scheduler is a no-op.
func (s *Scheduler) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started || s.stopped {
		return nil
	}
	s.started = true

	for i := 0; i < s.workerCount; i++ {
		s.wg.Add(1)
		go s.worker(i)
	}

	spec := fmt.Sprintf("@every %s", s.tickInterval)
	if _, err := s.cron.AddFunc(spec, func() {
		if _, err := s.Tick(s.runCtx); err != nil {
			log.Printf("ERROR (Scheduler): Tick failed: %v", err)
		}
	}); err != nil {
		return fmt.Errorf("failed to register tick job: %w", err)
	}
	s.cron.Start()

	log.Printf("INFO (Scheduler): Started with %d workers, tick every %s", s.workerCount, s.tickInterval)
	return nil
}

// Stop halts ticking and waits for in-flight runs to drain, up to the
// drain timeout. Calling Stop again is a no-op.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	s.stopped = true
	wasStarted := s.started
	// Closing under the lock pairs with the guarded send in dispatch.
	close(s.queue)
	s.mu.Unlock()

	s.cron.Stop()

	if !wasStarted {
		return
	}

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		log.Println("INFO (Scheduler): All workers drained")
	case <-time.After(s.drainTimeout):
		log.Println("WARN (Scheduler): Drain timeout exceeded, aborting remaining runs")
		s.cancel()
		<-done
	}
}

// HandleTick is an HTTP handler that triggers a scheduler tick.
// Used by external cron services or manual curl requests.
func (s *Scheduler) HandleTick(w http.ResponseWriter, r *http.Request) {
	log.Println("INFO (Scheduler): Tick triggered via HTTP")

	dispatched, err := s.Tick(r.Context())
	if err != nil {
		log.Printf("ERROR (Scheduler): Tick failed: %v", err)
		http.Error(w, "scheduler tick failed", http.StatusInternalServerError)
		return
	}

	w.WriteHeader(http.StatusOK)
	fmt.Fprintf(w, "OK: dispatched %d campaigns", dispatched)
}

// Tick runs a single scheduler cycle: finds due campaigns, claims
// them, and enqueues them for the worker pool. Returns the number of
// campaigns dispatched. A tick that finds nothing due is a no-op.
func (s *Scheduler) Tick(ctx context.Context) (int, error) {
	campaigns, err := s.store.DueCampaigns(ctx, time.Now().UTC())
	if err != nil {
		return 0, fmt.Errorf("failed to fetch due campaigns: %w", err)
	}
	if len(campaigns) == 0 {
		return 0, nil
	}

	dispatched := 0
	for _, campaign := range campaigns {
		if s.dispatch(ctx, campaign) {
			dispatched++
		}
	}
	return dispatched, nil
}

// dispatch claims one due campaign and enqueues it. Returns false if
// the campaign is already in flight, claimed elsewhere, or the queue
// is full (in which case it is simply retried next tick).
func (s *Scheduler) dispatch(ctx context.Context, campaign models.Campaign) bool {
	if !s.markInFlight(campaign.ID) {
		return false
	}

	claimed, err := s.store.TryMarkRunning(ctx, campaign.ID)
	if err != nil {
		log.Printf("ERROR (Scheduler): Failed to claim campaign %s: %v", campaign.ID, err)
		s.clearInFlight(campaign.ID)
		return false
	}
	if !claimed {
		// Another instance owns it.
		s.clearInFlight(campaign.ID)
		return false
	}

	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		s.releaseClaim(campaign.ID)
		return false
	}
	select {
	case s.queue <- campaign:
		s.mu.Unlock()
		return true
	default:
		s.mu.Unlock()
		log.Printf("WARN (Scheduler): Queue full, postponing campaign %s to next tick", campaign.ID)
		s.releaseClaim(campaign.ID)
		return false
	}
}

func (s *Scheduler) worker(id int) {
	defer s.wg.Done()
	for campaign := range s.queue {
		log.Printf("INFO (Scheduler): Worker %d running campaign %s (%s)", id, campaign.ID, campaign.Name)
		if _, err := s.executor.Run(s.runCtx, campaign); err != nil {
			log.Printf("ERROR (Scheduler): Campaign %s run failed: %v", campaign.ID, err)
		}
		s.clearInFlight(campaign.ID)
	}
}

// markInFlight adds the campaign to the in-process in-flight set.
// Returns false if it was already present.
func (s *Scheduler) markInFlight(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.inFlight[id] {
		return false
	}
	s.inFlight[id] = true
	return true
}

func (s *Scheduler) clearInFlight(id string) {
	s.mu.Lock()
	delete(s.inFlight, id)
	s.mu.Unlock()
}

func (s *Scheduler) releaseClaim(id string) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := s.store.ClearRunning(ctx, id); err != nil {
		log.Printf("ERROR (Scheduler): Failed to release claim on campaign %s: %v", id, err)
	}
	s.clearInFlight(id)
}
