package processor

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mail-archiver-go/internal/model"
	"mail-archiver-go/internal/queue"
)

type scriptedHandler struct {
	mu        sync.Mutex
	results   map[string]Result
	processed []string
	abandoned []string
}

func (h *scriptedHandler) Process(_ context.Context, msg model.QueueMessage) Result {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.processed = append(h.processed, msg.EmailID)
	return h.results[msg.EmailID]
}

func (h *scriptedHandler) Abandon(_ context.Context, msg model.QueueMessage) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.abandoned = append(h.abandoned, msg.EmailID)
	return nil
}

type consumerClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *consumerClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *consumerClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newTestQueue() (*queue.MemoryQueue, *consumerClock) {
	clock := &consumerClock{now: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
	q := queue.NewMemoryQueue(queue.Options{
		RetryBaseDelay: time.Second,
		RetryMaxDelay:  time.Second,
		Now:            clock.Now,
	})
	return q, clock
}

func send(t *testing.T, q *queue.MemoryQueue, ids ...string) {
	t.Helper()
	for _, id := range ids {
		require.NoError(t, q.Send(context.Background(), model.QueueMessage{EmailID: id, StorageKey: "k/" + id}))
	}
}

func TestConsumerAcksProcessed(t *testing.T) {
	q, _ := newTestQueue()
	h := &scriptedHandler{results: map[string]Result{"a": Processed, "b": Processed}}
	c := NewConsumer(q, h, ConsumerConfig{BatchSize: 10, Concurrency: 2})
	send(t, q, "a", "b")

	n, err := c.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.ElementsMatch(t, []string{"a", "b"}, h.processed)
	assert.Equal(t, 0, q.Pending())
}

func TestConsumerRetriesFailures(t *testing.T) {
	q, clock := newTestQueue()
	h := &scriptedHandler{results: map[string]Result{"a": Retry}}
	c := NewConsumer(q, h, ConsumerConfig{BatchSize: 10, Concurrency: 1})
	send(t, q, "a")

	_, err := c.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, q.Pending())

	n, err := c.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, n, "retry waits for backoff")

	clock.Advance(time.Second)
	n, err = c.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, []string{"a", "a"}, h.processed)
	assert.Empty(t, h.abandoned)
}

func TestConsumerDeadLettersAfterMaxAttempts(t *testing.T) {
	q, clock := newTestQueue()
	h := &scriptedHandler{results: map[string]Result{"a": Retry}}
	c := NewConsumer(q, h, ConsumerConfig{BatchSize: 10, Concurrency: 1, MaxAttempts: 2})
	send(t, q, "a")

	_, err := c.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Empty(t, h.abandoned)

	clock.Advance(time.Second)
	_, err = c.RunOnce(context.Background())
	require.NoError(t, err)

	assert.Equal(t, []string{"a"}, h.abandoned)
	assert.Equal(t, 0, q.Pending())
}

func TestConsumerRunStopsOnCancel(t *testing.T) {
	q, _ := newTestQueue()
	h := &scriptedHandler{results: map[string]Result{"a": Processed}}
	c := NewConsumer(q, h, ConsumerConfig{PollInterval: 10 * time.Millisecond})
	send(t, q, "a")

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.Run(ctx) }()

	require.Eventually(t, func() bool { return q.Pending() == 0 }, time.Second, 5*time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("consumer did not stop")
	}
}
