/*
scheduler.go - Automated validation sweep scheduler

PURPOSE:
  Periodically runs the auto-approval sweep: pending commissions whose
  validation window has elapsed and that carry no review flag are moved
  to approved without operator involvement.

DESIGN:
  - Runs a background goroutine with configurable check interval
  - Each tick delegates to the lifecycle service's sweep, which uses
    compare-and-set transitions, so a concurrent operator action or
    reversal always wins over the sweep
  - Flagged commissions are never touched; they wait for an operator

CONFIGURATION:
  - CheckInterval: How often to sweep (default: 1 hour)
  - Enabled: Whether scheduler is active (default: true)

USAGE:
  scheduler := NewSweepScheduler(service, logger)
  scheduler.Start()
  // ... later
  scheduler.Stop()

SEE ALSO:
  - handlers.go: TriggerSweep endpoint (manual sweep)
  - commission/lifecycle.go: AutoApproveSweep
*/
package api

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/warp/commission-engine/commission"
)

// SweepScheduler runs the auto-approval sweep on a fixed interval.
type SweepScheduler struct {
	Service       *commission.Service
	Logger        *zap.Logger
	CheckInterval time.Duration
	Enabled       bool

	ticker *time.Ticker
	stop   chan struct{}
	wg     sync.WaitGroup
	mu     sync.Mutex
}

// NewSweepScheduler creates a new scheduler.
func NewSweepScheduler(service *commission.Service, logger *zap.Logger) *SweepScheduler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SweepScheduler{
		Service:       service,
		Logger:        logger,
		CheckInterval: 1 * time.Hour,
		Enabled:       true,
		stop:          make(chan struct{}),
	}
}

// Start begins the scheduler.
func (ss *SweepScheduler) Start() {
	ss.mu.Lock()
	defer ss.mu.Unlock()

	if !ss.Enabled {
		ss.Logger.Info("sweep scheduler disabled, not starting")
		return
	}

	ss.ticker = time.NewTicker(ss.CheckInterval)
	ss.wg.Add(1)

	go ss.run()

	ss.Logger.Info("sweep scheduler started",
		zap.Duration("interval", ss.CheckInterval))
}

// Stop stops the scheduler and waits for an in-flight sweep to finish.
func (ss *SweepScheduler) Stop() {
	ss.mu.Lock()
	defer ss.mu.Unlock()

	if ss.ticker != nil {
		ss.ticker.Stop()
		close(ss.stop)
		ss.wg.Wait()
		ss.Logger.Info("sweep scheduler stopped")
	}
}

func (ss *SweepScheduler) run() {
	defer ss.wg.Done()

	// Run immediately on start
	ss.sweep()

	for {
		select {
		case <-ss.ticker.C:
			ss.sweep()
		case <-ss.stop:
			return
		}
	}
}

func (ss *SweepScheduler) sweep() {
	ctx := context.Background()
	now := time.Now().UTC()

	approved, err := ss.Service.AutoApproveSweep(ctx, now)
	if err != nil {
		ss.Logger.Error("auto-approval sweep failed", zap.Error(err))
		return
	}
	if approved > 0 {
		ss.Logger.Info("auto-approval sweep done",
			zap.Int("approved", approved), zap.Time("as_of", now))
	}
}
