package sync

import (
	"context"
	"fmt"
	gosync "sync"
	"time"

	"go.uber.org/zap"

	"shopify-sync-service/internal/config"
	"shopify-sync-service/internal/logger"
)

// Scheduler fires exactly one trigger attempt per calendar day at a fixed
// wall-clock instant in the reference timezone. On (re)start it arms a
// single-shot timer for today's instant if still in the future, else
// tomorrow's. On fire it re-arms for the following day unconditionally;
// the outcome of the sync attempt never affects re-arming.
type Scheduler struct {
	cfg     config.SchedulerConfig
	manager *Manager
	loc     *time.Location
	stop    chan struct{}
	wg      gosync.WaitGroup
}

func NewScheduler(cfg config.SchedulerConfig, manager *Manager) (*Scheduler, error) {
	loc, err := time.LoadLocation(cfg.Timezone)
	if err != nil {
		return nil, fmt.Errorf("invalid scheduler timezone %q: %w", cfg.Timezone, err)
	}
	if cfg.HourOfDay < 0 || cfg.HourOfDay > 23 {
		return nil, fmt.Errorf("invalid scheduler hour_of_day %d", cfg.HourOfDay)
	}
	return &Scheduler{
		cfg:     cfg,
		manager: manager,
		loc:     loc,
		stop:    make(chan struct{}),
	}, nil
}

func (s *Scheduler) Start() {
	if !s.cfg.Enabled {
		logger.Log.Info("Scheduler is disabled")
		return
	}

	s.wg.Add(1)
	go s.run()
}

func (s *Scheduler) Stop() {
	close(s.stop)
	s.wg.Wait()
	logger.Log.Info("Stopped scheduler")
}

func (s *Scheduler) run() {
	defer s.wg.Done()

	for {
		next := nextRunAt(time.Now(), s.cfg.HourOfDay, s.loc)
		logger.Log.Info("Scheduler armed", zap.Time("nextRunAt", next))

		timer := time.NewTimer(time.Until(next))
		select {
		case <-timer.C:
			s.fire()
		case <-s.stop:
			timer.Stop()
			return
		}
	}
}

// nextRunAt computes today's trigger instant in loc if still in the future,
// else tomorrow's.
func nextRunAt(now time.Time, hour int, loc *time.Location) time.Time {
	local := now.In(loc)
	next := time.Date(local.Year(), local.Month(), local.Day(), hour, 0, 0, 0, loc)
	if !next.After(local) {
		next = next.AddDate(0, 0, 1)
	}
	return next
}

// fire runs one unattended trigger attempt. Failures land on status rows and
// run history, never on the scheduler itself.
func (s *Scheduler) fire() {
	ctx := context.Background()

	changed, err := s.manager.HasRecentChanges(ctx, 24*time.Hour)
	if err != nil {
		// Change detection is a rate-budget optimization; when it cannot
		// answer, run the sync rather than silently skip a day.
		logger.Log.Warn("Change detection failed, running scheduled sync anyway", zap.Error(err))
		changed = true
	}
	if !changed {
		logger.Log.Info("No relevant changes in the last 24h, skipping scheduled sync")
		return
	}

	// Auto triggers request an orders-only pass: skipping the full catalog
	// walk bounds the worst-case run time of an unattended trigger.
	summary := s.manager.TriggerSync(ctx, TriggerRequest{
		DataType:      DataTypeOrders,
		TriggerReason: "daily scheduled sync",
		TriggerSource: TriggerSourceScheduler,
	})
	logger.Log.Info("Scheduled sync finished",
		zap.String("runID", summary.RunID),
		zap.Int("recordsProcessed", summary.TotalProcessed()),
	)
}
