package scheduler

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mail-archiver-go/internal/config"
	"mail-archiver-go/internal/model"
	"mail-archiver-go/internal/queue"
	"mail-archiver-go/internal/repository"
	"mail-archiver-go/internal/repository/repotest"
)

var sweepNow = time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)

type brokenProducer struct{}

func (brokenProducer) Send(context.Context, model.QueueMessage) error {
	return errors.New("queue down")
}

func TestSchedulerRestart(t *testing.T) {
	cfg := config.SchedulerConfig{IntervalMinutes: 60, GraceMinutes: 10}
	sched := NewScheduler(cfg, repotest.NewRepository(t), queue.NewMemoryQueue(queue.Options{}), nil)

	require.NoError(t, sched.Start())
	assert.True(t, sched.IsRunning())
	assert.False(t, sched.GetNextRun().IsZero())
	assert.Error(t, sched.Start(), "second start while running")

	require.NoError(t, sched.Stop())
	assert.False(t, sched.IsRunning())
	assert.True(t, sched.GetNextRun().IsZero())

	require.NoError(t, sched.Start())
	assert.True(t, sched.IsRunning())
	require.NotNil(t, sched.ctx)
	assert.NoError(t, sched.ctx.Err())
	require.NoError(t, sched.Stop())
}

func TestSchedulerRejectsZeroInterval(t *testing.T) {
	sched := NewScheduler(config.SchedulerConfig{}, repotest.NewRepository(t), queue.NewMemoryQueue(queue.Options{}), nil)
	assert.Error(t, sched.Start())
	assert.False(t, sched.IsRunning())
}

func TestRunOnceRequeuesStalePending(t *testing.T) {
	ctx := context.Background()
	ledger := repotest.NewRepository(t)
	q := queue.NewMemoryQueue(queue.Options{})

	insert := func(id string, age time.Duration, status model.EmailStatus) {
		require.NoError(t, ledger.Insert(ctx, &model.EmailRecord{
			ID:         id,
			StorageKey: "emails/2024-01-01/" + id + ".eml",
			Status:     status,
			ReceivedAt: sweepNow.Add(-age),
		}))
	}
	insert("stale", time.Hour, model.StatusPending)
	insert("fresh", time.Minute, model.StatusPending)
	insert("done", time.Hour, model.StatusCompleted)

	sched := NewScheduler(config.SchedulerConfig{IntervalMinutes: 5, GraceMinutes: 10, BatchSize: 50}, ledger, q, nil)
	sched.now = func() time.Time { return sweepNow }

	n, err := sched.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, sweepNow, sched.GetLastRun())

	got, err := q.Receive(ctx, 10)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, model.QueueMessage{EmailID: "stale", StorageKey: "emails/2024-01-01/stale.eml"}, got[0].Message)
}

func TestRunOnceSkipsSendFailures(t *testing.T) {
	ctx := context.Background()
	ledger := repotest.NewRepository(t)
	require.NoError(t, ledger.Insert(ctx, &model.EmailRecord{
		ID:         "stale",
		StorageKey: "emails/2024-01-01/stale.eml",
		ReceivedAt: sweepNow.Add(-time.Hour),
	}))

	sched := NewScheduler(config.SchedulerConfig{IntervalMinutes: 5, GraceMinutes: 10}, ledger, brokenProducer{}, nil)
	sched.now = func() time.Time { return sweepNow }

	n, err := sched.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func TestRunOnceSkipsEmailWaitingToRetry(t *testing.T) {
	ctx := context.Background()
	ledger := repotest.NewRepository(t)
	require.NoError(t, ledger.Insert(ctx, &model.EmailRecord{
		ID:         "stuck",
		StorageKey: "emails/2024-01-01/stuck.eml",
		ReceivedAt: sweepNow.Add(-time.Hour),
	}))

	q := queue.NewMemoryQueue(queue.Options{
		RetryBaseDelay: time.Hour,
		Now:            func() time.Time { return sweepNow },
	})
	require.NoError(t, q.Send(ctx, model.QueueMessage{EmailID: "stuck", StorageKey: "emails/2024-01-01/stuck.eml"}))
	got, err := q.Receive(ctx, 1)
	require.NoError(t, err)
	require.Len(t, got, 1)
	require.NoError(t, q.Retry(ctx, got[0]))

	sched := NewScheduler(config.SchedulerConfig{IntervalMinutes: 5, GraceMinutes: 10}, ledger, q, nil)
	sched.now = func() time.Time { return sweepNow }

	for i := 0; i < 10; i++ {
		n, err := sched.RunOnce(ctx)
		require.NoError(t, err)
		assert.Equal(t, 0, n)
	}
	assert.Equal(t, 1, q.Pending())
	assert.Equal(t, 1, q.Sent())
}

type blockingLedger struct {
	repository.Ledger
	started chan struct{}
	release chan struct{}
	once    sync.Once
}

func (l *blockingLedger) ListPending(context.Context, time.Time, int) ([]model.EmailRecord, error) {
	l.once.Do(func() { close(l.started) })
	<-l.release
	return nil, nil
}

func TestStopDoesNotBlockWhileSweepRuns(t *testing.T) {
	ledger := &blockingLedger{started: make(chan struct{}), release: make(chan struct{})}
	sched := NewScheduler(config.SchedulerConfig{IntervalMinutes: 1}, ledger, queue.NewMemoryQueue(queue.Options{}), nil)
	sched.every = time.Second
	require.NoError(t, sched.Start())

	select {
	case <-ledger.started:
	case <-time.After(5 * time.Second):
		t.Fatal("sweep did not start")
	}

	stopped := make(chan error, 1)
	go func() { stopped <- sched.Stop() }()

	assert.Eventually(t, func() bool {
		return !sched.IsRunning() && !sched.GetLastRun().IsZero()
	}, time.Second, 10*time.Millisecond)

	close(ledger.release)
	select {
	case err := <-stopped:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("stop did not return after the sweep finished")
	}
}
