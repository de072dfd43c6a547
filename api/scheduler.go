/*
scheduler.go - Automated distribution scheduler

PURPOSE:
  Periodically triggers the monthly allowance distribution for the current
  period. The run itself is idempotent (claimed run records plus per-member
  audit keys), so the scheduler can fire as often as it likes.

DESIGN:
  - Runs a background goroutine with configurable check interval
  - Delegates all correctness to Distributor.RunPeriod; a tick that finds
    the period already distributed is a cheap no-op
  - Fires once immediately on start so a restarted service catches up

CONFIGURATION:
  - CheckInterval: How often to check (default: 1 hour)
  - Enabled: Whether scheduler is active (default: true)

USAGE:
  scheduler := NewDistributionScheduler(distributor)
  scheduler.Start()
  // ... later
  scheduler.Stop()

SEE ALSO:
  - handlers.go: ProcessDistributions endpoint (manual trigger)
  - engine/distribution.go: Distributor
*/
package api

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/warp/status-engine/engine"
)

// DistributionScheduler triggers monthly allowance distribution runs.
type DistributionScheduler struct {
	Distributor   *engine.Distributor
	Clock         engine.Clock
	CheckInterval time.Duration
	Enabled       bool

	ticker *time.Ticker
	stop   chan bool
	wg     sync.WaitGroup
	mu     sync.Mutex
}

// NewDistributionScheduler creates a new scheduler.
func NewDistributionScheduler(distributor *engine.Distributor) *DistributionScheduler {
	return &DistributionScheduler{
		Distributor:   distributor,
		Clock:         engine.RealClock{},
		CheckInterval: 1 * time.Hour,
		Enabled:       true,
		stop:          make(chan bool),
	}
}

// Start begins the scheduler.
func (ds *DistributionScheduler) Start() {
	ds.mu.Lock()
	defer ds.mu.Unlock()

	if !ds.Enabled {
		log.Println("[Scheduler] Disabled, not starting")
		return
	}

	ds.ticker = time.NewTicker(ds.CheckInterval)
	ds.wg.Add(1)

	go ds.run()

	log.Printf("[Scheduler] Started with check interval: %v", ds.CheckInterval)
}

// Stop stops the scheduler.
func (ds *DistributionScheduler) Stop() {
	ds.mu.Lock()
	defer ds.mu.Unlock()

	if ds.ticker != nil {
		ds.ticker.Stop()
		close(ds.stop)
		ds.wg.Wait()
		log.Println("[Scheduler] Stopped")
	}
}

func (ds *DistributionScheduler) run() {
	defer ds.wg.Done()

	// Run immediately on start
	ds.checkAndProcess()

	for {
		select {
		case <-ds.ticker.C:
			ds.checkAndProcess()
		case <-ds.stop:
			return
		}
	}
}

func (ds *DistributionScheduler) checkAndProcess() {
	ctx := context.Background()
	periodKey := engine.PeriodKeyFor(ds.Clock.Now())

	log.Printf("[Scheduler] Checking distribution for period %s", periodKey)

	summary, err := ds.Distributor.RunPeriod(ctx, periodKey)
	if err != nil {
		log.Printf("[Scheduler] Distribution for period %s failed: %v", periodKey, err)
		return
	}

	if summary.Processed > 0 || summary.Failed > 0 {
		log.Printf("[Scheduler] Completed period %s: %d processed, %d skipped, %d failed",
			periodKey, summary.Processed, summary.Skipped, summary.Failed)
	}
}

// RunNow triggers an immediate check (for testing/admin).
func (ds *DistributionScheduler) RunNow() {
	ds.checkAndProcess()
}

// GetNextRunTime returns when the next scheduled check will occur.
func (ds *DistributionScheduler) GetNextRunTime() time.Time {
	return ds.Clock.Now().Add(ds.CheckInterval)
}
