package scheduler

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"

	"crm-mail-ingest-go/internal/config"
	"crm-mail-ingest-go/internal/service/ingest"
)

// Poller runs a single poll cycle for a tenant
type Poller interface {
	PollOnce(ctx context.Context, tenantID string) ingest.Result
	Tenants() []string
}

// TenantStatus is the last known state of one tenant's schedule
type TenantStatus struct {
	TenantID   string         `json:"tenant_id"`
	NextRun    time.Time      `json:"next_run"`
	LastRun    time.Time      `json:"last_run"`
	LastResult *ingest.Result `json:"last_result,omitempty"`
}

// Scheduler triggers a poll cycle per tenant every interval
type Scheduler struct {
	cron      *cron.Cron
	entries   map[string]cron.EntryID
	config    *config.SchedulerConfig
	poller    Poller
	ctx       context.Context
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	isRunning bool
	mu        sync.RWMutex

	resultsMu sync.Mutex
	lastRun   map[string]time.Time
	results   map[string]ingest.Result
}

// New creates a new scheduler
func New(cfg *config.SchedulerConfig, poller Poller) *Scheduler {
	return &Scheduler{
		config:  cfg,
		poller:  poller,
		entries: map[string]cron.EntryID{},
		lastRun: map[string]time.Time{},
		results: map[string]ingest.Result{},
	}
}

// Start schedules one job per tenant. A tenant whose previous cycle is still
// running skips the tick.
func (s *Scheduler) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.isRunning {
		return fmt.Errorf("scheduler is already running")
	}
	if s.config.IntervalMinutes <= 0 {
		return fmt.Errorf("scheduler interval must be greater than 0")
	}

	cronLogger := cron.PrintfLogger(logrus.StandardLogger())
	c := cron.New(cron.WithSeconds(), cron.WithChain(cron.Recover(cronLogger)))
	schedule := fmt.Sprintf("@every %dm", s.config.IntervalMinutes)

	entries := map[string]cron.EntryID{}
	for _, tenantID := range s.poller.Tenants() {
		job := cron.NewChain(cron.SkipIfStillRunning(cronLogger)).Then(s.tenantJob(tenantID))
		id, err := c.AddJob(schedule, job)
		if err != nil {
			return fmt.Errorf("failed to add cron job for tenant %s: %w", tenantID, err)
		}
		entries[tenantID] = id
	}

	s.ctx, s.cancel = context.WithCancel(context.Background())
	s.cron = c
	s.entries = entries
	s.cron.Start()
	s.isRunning = true

	logrus.Infof("Scheduler started for %d tenants with interval: %d minutes", len(entries), s.config.IntervalMinutes)
	return nil
}

// Stop stops the scheduler and waits up to 30s for running cycles
func (s *Scheduler) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.isRunning {
		return nil
	}

	s.cancel()
	ctx := s.cron.Stop()

	select {
	case <-ctx.Done():
		logrus.Info("Scheduler stopped gracefully")
	case <-time.After(30 * time.Second):
		logrus.Warn("Scheduler stop timeout, forcing shutdown")
	}

	s.isRunning = false
	return nil
}

// IsRunning returns whether the scheduler is running
func (s *Scheduler) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.isRunning
}

// GetNextRun returns the earliest next scheduled cycle across tenants
func (s *Scheduler) GetNextRun() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.isRunning {
		return time.Time{}
	}

	var next time.Time
	for _, id := range s.entries {
		n := s.cron.Entry(id).Next
		if next.IsZero() || (!n.IsZero() && n.Before(next)) {
			next = n
		}
	}
	return next
}

// GetLastRun returns the most recent cycle start across tenants
func (s *Scheduler) GetLastRun() time.Time {
	s.resultsMu.Lock()
	defer s.resultsMu.Unlock()

	var last time.Time
	for _, t := range s.lastRun {
		if t.After(last) {
			last = t
		}
	}
	return last
}

// Status returns per-tenant schedule state sorted by tenant
func (s *Scheduler) Status() []TenantStatus {
	tenants := s.poller.Tenants()
	sort.Strings(tenants)

	s.mu.RLock()
	next := map[string]time.Time{}
	if s.isRunning {
		for tenantID, id := range s.entries {
			next[tenantID] = s.cron.Entry(id).Next
		}
	}
	s.mu.RUnlock()

	s.resultsMu.Lock()
	defer s.resultsMu.Unlock()

	out := make([]TenantStatus, 0, len(tenants))
	for _, tenantID := range tenants {
		st := TenantStatus{TenantID: tenantID, NextRun: next[tenantID], LastRun: s.lastRun[tenantID]}
		if r, ok := s.results[tenantID]; ok {
			r := r
			st.LastResult = &r
		}
		out = append(out, st)
	}
	return out
}

// Wait waits for in-flight cycles to finish
func (s *Scheduler) Wait() {
	s.wg.Wait()
}
