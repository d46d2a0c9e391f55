package queue

import (
	"context"
	"sync"
	"time"

	"mail-archiver-go/internal/model"
)

type delayedItem struct {
	env   envelope
	dueAt time.Time
}

// MemoryQueue is an in-process queue. It is not durable and serves tests
// and single-process deployments.
type MemoryQueue struct {
	mu       sync.Mutex
	opts     Options
	ready    []envelope
	delayed  []delayedItem
	inflight map[string]envelope
	live     map[string]struct{}
	sent     int
}

// NewMemoryQueue creates an empty in-memory queue
func NewMemoryQueue(opts Options) *MemoryQueue {
	opts.setDefaults()
	return &MemoryQueue{
		opts:     opts,
		inflight: make(map[string]envelope),
		live:     make(map[string]struct{}),
	}
}

func (q *MemoryQueue) Send(ctx context.Context, msg model.QueueMessage) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	if _, ok := q.live[msg.EmailID]; ok {
		return ErrAlreadyQueued
	}
	q.live[msg.EmailID] = struct{}{}
	q.ready = append(q.ready, newEnvelope(msg))
	q.sent++
	return nil
}

func (q *MemoryQueue) Receive(ctx context.Context, max int) ([]Delivery, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	q.mu.Lock()
	defer q.mu.Unlock()

	now := q.opts.Now()
	remaining := q.delayed[:0]
	for _, item := range q.delayed {
		if !item.dueAt.After(now) {
			q.ready = append(q.ready, item.env)
		} else {
			remaining = append(remaining, item)
		}
	}
	q.delayed = remaining

	var out []Delivery
	for len(q.ready) > 0 && len(out) < max {
		env := q.ready[0]
		q.ready = q.ready[1:]
		q.inflight[env.ID] = env
		out = append(out, env.delivery(""))
	}
	return out, nil
}

func (q *MemoryQueue) Ack(ctx context.Context, d Delivery) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if _, ok := q.inflight[d.ID]; ok {
		delete(q.inflight, d.ID)
		delete(q.live, d.Message.EmailID)
	}
	return nil
}

func (q *MemoryQueue) Retry(ctx context.Context, d Delivery) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	env, ok := q.inflight[d.ID]
	if !ok {
		return nil
	}
	delete(q.inflight, d.ID)
	env.Attempts++
	q.delayed = append(q.delayed, delayedItem{env: env, dueAt: q.opts.Now().Add(q.opts.Backoff(env.Attempts))})
	return nil
}

func (q *MemoryQueue) Recover(ctx context.Context) (int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	n := len(q.inflight)
	for id, env := range q.inflight {
		q.ready = append(q.ready, env)
		delete(q.inflight, id)
	}
	return n, nil
}

func (q *MemoryQueue) Ping(ctx context.Context) error { return nil }

func (q *MemoryQueue) Close() error { return nil }

// Sent returns how many messages were ever accepted by Send
func (q *MemoryQueue) Sent() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.sent
}

// Pending returns the number of ready, delayed and in-flight items
func (q *MemoryQueue) Pending() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.ready) + len(q.delayed) + len(q.inflight)
}
