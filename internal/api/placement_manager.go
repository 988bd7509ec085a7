// Package api provides HTTP handlers for the life-trajectory viewer server.
package api

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/junayed-hasan/life-trajectory-embeddings/internal/lifeapi"
	"github.com/junayed-hasan/life-trajectory-embeddings/internal/placestore"
)

// PlacementManagerConfig contains configuration for the placement manager.
type PlacementManagerConfig struct {
	MaxConcurrent int    // Max concurrent placement jobs (default 1)
	SQLitePath    string // Path to SQLite database
	RetentionDays int    // Days to keep finished jobs (default 7)
	CleanupPeriod time.Duration
}

// PlacementManager manages placement jobs with SQLite persistence. Each job
// gets exactly one execution attempt; a failed job stays failed and the user
// resubmits.
type PlacementManager struct {
	cfg      PlacementManagerConfig
	store    *placestore.Store
	queue    chan string // job IDs
	running  map[string]context.CancelFunc
	mu       sync.Mutex
	wg       sync.WaitGroup
	stopOnce sync.Once
	stopCh   chan struct{}

	// Executor is called to run the actual placement computation.
	Executor func(ctx context.Context, jobID string, req lifeapi.EmbedRequest) error
}

// NewPlacementManager creates a new placement manager with SQLite persistence.
func NewPlacementManager(cfg PlacementManagerConfig) (*PlacementManager, error) {
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = 1
	}
	if cfg.RetentionDays <= 0 {
		cfg.RetentionDays = 7
	}
	if cfg.CleanupPeriod <= 0 {
		cfg.CleanupPeriod = 1 * time.Hour
	}

	store, err := placestore.NewStore(cfg.SQLitePath)
	if err != nil {
		return nil, err
	}

	pm := &PlacementManager{
		cfg:     cfg,
		store:   store,
		queue:   make(chan string, 100),
		running: make(map[string]context.CancelFunc),
		stopCh:  make(chan struct{}),
	}
	return pm, nil
}

// Store returns the underlying store for direct access.
func (pm *PlacementManager) Store() *placestore.Store {
	return pm.store
}

// Start starts the worker goroutines and cleanup ticker.
// Also recovers from a previous shutdown.
func (pm *PlacementManager) Start() {
	// Jobs caught mid-flight by a restart failed their single attempt.
	if err := pm.store.MarkRunningAsFailed("server restarted"); err != nil {
		log.Printf("[PlacementManager] failed to mark running jobs as failed: %v", err)
	}

	// Re-queue any queued jobs
	queued, err := pm.store.ListQueuedJobs()
	if err != nil {
		log.Printf("[PlacementManager] failed to list queued jobs: %v", err)
	} else {
		for _, job := range queued {
			select {
			case pm.queue <- job.ID:
				log.Printf("[PlacementManager] re-queued job %s", job.ID)
			default:
				log.Printf("[PlacementManager] queue full, cannot re-queue job %s", job.ID)
			}
		}
	}

	for i := 0; i < pm.cfg.MaxConcurrent; i++ {
		pm.wg.Add(1)
		go pm.worker()
	}

	go pm.cleaner()
}

// Stop stops all workers gracefully.
func (pm *PlacementManager) Stop() {
	pm.stopOnce.Do(func() {
		close(pm.stopCh)
		close(pm.queue)
		pm.wg.Wait()
		pm.store.Close()
	})
}

func (pm *PlacementManager) worker() {
	defer pm.wg.Done()
	for jobID := range pm.queue {
		pm.runJob(jobID)
	}
}

func (pm *PlacementManager) runJob(jobID string) {
	job, err := pm.store.GetJob(jobID)
	if err != nil || job == nil {
		log.Printf("[PlacementManager] job %s not found at start: %v", jobID, err)
		return
	}
	// Cancelled while still queued.
	if job.Status != placestore.JobStatusQueued {
		return
	}

	ctx, cancel := context.WithCancel(context.Background())

	pm.mu.Lock()
	pm.running[jobID] = cancel
	pm.mu.Unlock()

	defer func() {
		pm.mu.Lock()
		delete(pm.running, jobID)
		pm.mu.Unlock()
	}()

	if err := pm.store.UpdateJobStarted(jobID); err != nil {
		log.Printf("[PlacementManager] failed to update job %s as started: %v", jobID, err)
		return
	}

	var execErr error
	if pm.Executor != nil {
		execErr = pm.Executor(ctx, jobID, job.Params)
	}

	if ctx.Err() == context.Canceled {
		pm.store.UpdateJobStatus(jobID, placestore.JobStatusCancelled, "cancelled by user")
	} else if execErr != nil {
		pm.store.UpdateJobStatus(jobID, placestore.JobStatusFailed, execErr.Error())
	} else {
		pm.store.UpdateJobStatus(jobID, placestore.JobStatusCompleted, "")
	}
}

func (pm *PlacementManager) cleaner() {
	ticker := time.NewTicker(pm.cfg.CleanupPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-pm.stopCh:
			return
		case <-ticker.C:
			pm.cleanup()
		}
	}
}

func (pm *PlacementManager) cleanup() {
	deleted, err := pm.store.DeleteExpiredJobs(pm.cfg.RetentionDays)
	if err != nil {
		log.Printf("[PlacementManager] cleanup error: %v", err)
	} else if deleted > 0 {
		log.Printf("[PlacementManager] cleaned up %d expired jobs", deleted)
	}
}

// Submit creates a new job and enqueues it for execution.
func (pm *PlacementManager) Submit(req lifeapi.EmbedRequest) (*placestore.PlacementJob, error) {
	id := generateID()
	job := &placestore.PlacementJob{
		ID:        id,
		Status:    placestore.JobStatusQueued,
		Params:    req,
		CreatedAt: time.Now(),
	}

	if err := pm.store.CreateJob(job); err != nil {
		return nil, err
	}

	select {
	case pm.queue <- id:
	default:
		// Queue full; mark as failed immediately
		pm.store.UpdateJobStatus(id, placestore.JobStatusFailed, "placement queue is full; try again later")
	}

	return job, nil
}

// Get returns a job by ID.
func (pm *PlacementManager) Get(id string) *placestore.PlacementJob {
	job, err := pm.store.GetJob(id)
	if err != nil {
		log.Printf("[PlacementManager] error getting job %s: %v", id, err)
		return nil
	}
	return job
}

// Cancel attempts to cancel a running or queued job.
func (pm *PlacementManager) Cancel(id string) bool {
	pm.mu.Lock()
	cancel, ok := pm.running[id]
	pm.mu.Unlock()

	if ok && cancel != nil {
		cancel()
		return true
	}

	// If not running, try to mark as cancelled in DB
	job, err := pm.store.GetJob(id)
	if err != nil || job == nil {
		return false
	}
	if job.Status == placestore.JobStatusQueued {
		pm.store.UpdateJobStatus(id, placestore.JobStatusCancelled, "cancelled before start")
		return true
	}
	return false
}

// Delete deletes a job and its results.
func (pm *PlacementManager) Delete(id string) error {
	return pm.store.DeleteJob(id)
}
