// Package scheduler runs periodic cache maintenance: orphan reconciliation
// and the freshness pass that re-fetches stale snapshots.
package scheduler

import (
	"log"
	"time"

	"github.com/go-co-op/gocron"
)

// Store is the cache surface maintenance operates on.
type Store interface {
	ReconcileOrphans() (int, error)
	CheckFreshness(maxAge time.Duration, refetch func(time.Time)) error
}

// Refresher re-fetches and re-converts a single stale cycle.
type Refresher interface {
	Refresh(t time.Time)
}

// Scheduler periodically reconciles the cache and expires stale entries.
type Scheduler struct {
	scheduler *gocron.Scheduler
	store     Store
	refresher Refresher
	interval  time.Duration
	maxAge    time.Duration
}

// New creates a Scheduler running every interval with the given freshness
// threshold.
func New(store Store, refresher Refresher, interval, maxAge time.Duration) *Scheduler {
	s := gocron.NewScheduler(time.UTC)
	return &Scheduler{
		scheduler: s,
		store:     store,
		refresher: refresher,
		interval:  interval,
		maxAge:    maxAge,
	}
}

// Start schedules the maintenance job and starts the underlying scheduler.
func (s *Scheduler) Start() error {
	minutes := int(s.interval.Minutes())
	if minutes <= 0 {
		minutes = 60
	}

	job, err := s.scheduler.Every(minutes).Minutes().Do(s.runMaintenance)
	if err != nil {
		return err
	}
	// Overlapping maintenance passes would race on the same files.
	job.SingletonMode()

	s.scheduler.StartAsync()
	return nil
}

// Stop stops the scheduler and cancels any future jobs.
func (s *Scheduler) Stop() {
	if s.scheduler != nil {
		s.scheduler.Stop()
	}
}

// RunOnce executes one maintenance pass synchronously.
func (s *Scheduler) RunOnce() {
	s.runMaintenance()
}

func (s *Scheduler) runMaintenance() {
	log.Println("scheduler: running cache maintenance")

	removed, err := s.store.ReconcileOrphans()
	if err != nil {
		log.Printf("ERROR: scheduler: orphan reconciliation failed: %v", err)
	} else if removed > 0 {
		log.Printf("INFO: scheduler: reconciled %d orphaned artifacts", removed)
	}

	if err := s.store.CheckFreshness(s.maxAge, s.refresher.Refresh); err != nil {
		log.Printf("ERROR: scheduler: freshness check failed: %v", err)
	}

	log.Println("scheduler: completed cache maintenance")
}
