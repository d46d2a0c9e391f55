package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"

	"mail-archiver-go/internal/config"
	"mail-archiver-go/internal/metrics"
	"mail-archiver-go/internal/model"
	"mail-archiver-go/internal/queue"
	"mail-archiver-go/internal/repository"
)

// Scheduler periodically re-enqueues emails that are still pending after a
// grace period, which covers enqueue failures and lost deliveries
type Scheduler struct {
	cron      *cron.Cron
	entryID   cron.EntryID
	config    config.SchedulerConfig
	every     time.Duration
	ledger    repository.Ledger
	producer  queue.Producer
	metrics   *metrics.Metrics
	now       func() time.Time
	ctx       context.Context
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	isRunning bool
	lastRun   time.Time
	mu        sync.RWMutex
	sweepMu   sync.Mutex
}

// NewScheduler creates a new scheduler
func NewScheduler(cfg config.SchedulerConfig, ledger repository.Ledger, producer queue.Producer, m *metrics.Metrics) *Scheduler {
	if m == nil {
		m = metrics.NewMetrics(nil)
	}
	return &Scheduler{
		config:   cfg,
		every:    time.Duration(cfg.IntervalMinutes) * time.Minute,
		ledger:   ledger,
		producer: producer,
		metrics:  m,
		now:      time.Now,
	}
}

// Start starts the scheduler
func (s *Scheduler) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.isRunning {
		return fmt.Errorf("scheduler is already running")
	}
	if s.every <= 0 {
		return fmt.Errorf("scheduler interval must be greater than 0")
	}

	s.ctx, s.cancel = context.WithCancel(context.Background())
	s.cron = cron.New()

	schedule := fmt.Sprintf("@every %s", s.every)
	entryID, err := s.cron.AddFunc(schedule, s.sweepJob)
	if err != nil {
		s.cancel()
		return fmt.Errorf("failed to add cron job: %w", err)
	}

	s.entryID = entryID
	s.cron.Start()
	s.isRunning = true

	logrus.Infof("Scheduler started with interval: %s", s.every)
	return nil
}

// Stop stops the scheduler and waits for a running sweep to finish
func (s *Scheduler) Stop() error {
	s.mu.Lock()
	if !s.isRunning {
		s.mu.Unlock()
		return nil
	}

	// Cancel context to stop any running sweep
	s.cancel()
	c := s.cron
	s.isRunning = false
	s.mu.Unlock()

	// a sweep still needs mu to record its run, so wait without holding it
	ctx := c.Stop()

	select {
	case <-ctx.Done():
		logrus.Info("Scheduler stopped gracefully")
	case <-time.After(30 * time.Second):
		logrus.Warn("Scheduler stop timeout, forcing shutdown")
	}
	return nil
}

// IsRunning returns whether the scheduler is running
func (s *Scheduler) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.isRunning
}

func (s *Scheduler) sweepJob() {
	s.mu.RLock()
	if !s.isRunning {
		s.mu.RUnlock()
		logrus.Info("Scheduler not running, skipping recovery sweep")
		return
	}
	ctx := s.ctx
	s.mu.RUnlock()

	if _, err := s.RunOnce(ctx); err != nil {
		logrus.WithError(err).Error("Recovery sweep failed")
	}
}

// RunOnce runs one recovery sweep and returns how many emails were
// re-enqueued. Concurrent calls are serialized.
func (s *Scheduler) RunOnce(ctx context.Context) (int, error) {
	s.wg.Add(1)
	defer s.wg.Done()

	s.sweepMu.Lock()
	defer s.sweepMu.Unlock()

	startTime := s.now()
	s.mu.Lock()
	s.lastRun = startTime
	s.mu.Unlock()

	grace := time.Duration(s.config.GraceMinutes) * time.Minute
	cutoff := startTime.Add(-grace)

	pending, err := s.ledger.ListPending(ctx, cutoff, s.config.BatchSize)
	if err != nil {
		return 0, fmt.Errorf("failed to list pending emails: %w", err)
	}
	s.metrics.PendingRecovered.Set(float64(len(pending)))

	recovered := 0
	for _, rec := range pending {
		if err := ctx.Err(); err != nil {
			return recovered, err
		}
		msg := model.QueueMessage{EmailID: rec.ID, StorageKey: rec.StorageKey}
		if err := s.producer.Send(ctx, msg); err != nil {
			if errors.Is(err, queue.ErrAlreadyQueued) {
				continue
			}
			logrus.WithError(err).WithField("email_id", rec.ID).Warn("Failed to re-enqueue pending email")
			continue
		}
		recovered++
		s.metrics.Recovered.Inc()
	}

	logrus.WithFields(logrus.Fields{
		"pending":   len(pending),
		"recovered": recovered,
		"duration":  s.now().Sub(startTime).String(),
	}).Info("Recovery sweep completed")
	return recovered, nil
}

// GetNextRun returns the time of the next scheduled run
func (s *Scheduler) GetNextRun() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.isRunning {
		return time.Time{}
	}
	return s.cron.Entry(s.entryID).Next
}

// GetLastRun returns the time of the last sweep, scheduled or manual
func (s *Scheduler) GetLastRun() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastRun
}

// Wait waits for in-progress sweeps to finish
func (s *Scheduler) Wait() {
	s.wg.Wait()
}
