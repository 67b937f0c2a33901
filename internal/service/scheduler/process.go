package scheduler

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"

	"crm-mail-ingest-go/internal/service/ingest"
)

func (s *Scheduler) tenantJob(tenantID string) cron.Job {
	return cron.FuncJob(func() {
		s.mu.RLock()
		if !s.isRunning {
			s.mu.RUnlock()
			logrus.Info("Scheduler not running, skipping poll cycle")
			return
		}
		ctx := s.ctx
		s.mu.RUnlock()

		s.run(ctx, tenantID)
	})
}

// RunOnce runs a cycle for the tenant immediately, outside the schedule
func (s *Scheduler) RunOnce(ctx context.Context, tenantID string) ingest.Result {
	logrus.WithField("tenant", tenantID).Info("Running poll cycle once")
	return s.run(ctx, tenantID)
}

func (s *Scheduler) run(ctx context.Context, tenantID string) ingest.Result {
	s.wg.Add(1)
	defer s.wg.Done()

	started := time.Now()
	result := s.poller.PollOnce(ctx, tenantID)

	s.resultsMu.Lock()
	s.lastRun[tenantID] = started
	s.results[tenantID] = result
	s.resultsMu.Unlock()

	entry := logrus.WithFields(logrus.Fields{
		"tenant":    tenantID,
		"processed": result.Processed,
		"errors":    len(result.Errors),
	})
	if len(result.Errors) > 0 {
		entry.Warnf("Poll cycle finished with errors: %v", result.Errors)
	} else {
		entry.Info("Poll cycle finished")
	}
	return result
}
