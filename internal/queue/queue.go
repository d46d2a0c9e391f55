package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"mail-archiver-go/internal/model"
)

// ErrAlreadyQueued is returned by Send when the email already has a work
// item that is ready, in flight or waiting to be retried
var ErrAlreadyQueued = errors.New("email already has a live work item")

// Producer publishes work items. An email has at most one live work item;
// it stops being live once its delivery is acked.
type Producer interface {
	Send(ctx context.Context, msg model.QueueMessage) error
}

// Consumer hands out work items with at-least-once delivery. A received
// delivery stays in flight until it is acked or retried.
type Consumer interface {
	Receive(ctx context.Context, max int) ([]Delivery, error)
	Ack(ctx context.Context, d Delivery) error
	Retry(ctx context.Context, d Delivery) error
}

// Queue is a work queue with both ends plus housekeeping
type Queue interface {
	Producer
	Consumer
	// Recover returns deliveries left in flight by a previous consumer
	Recover(ctx context.Context) (int, error)
	Ping(ctx context.Context) error
	Close() error
}

// Delivery is one received work item. Attempts counts this delivery,
// so the first delivery has Attempts == 1.
type Delivery struct {
	ID       string
	Message  model.QueueMessage
	Attempts int

	raw string
}

// Options controls retry backoff
type Options struct {
	Key            string
	RetryBaseDelay time.Duration
	RetryMaxDelay  time.Duration
	Now            func() time.Time
}

func (o *Options) setDefaults() {
	if o.Key == "" {
		o.Key = "mail-archiver:emails"
	}
	if o.RetryBaseDelay <= 0 {
		o.RetryBaseDelay = 5 * time.Second
	}
	if o.RetryMaxDelay <= 0 {
		o.RetryMaxDelay = 10 * time.Minute
	}
	if o.Now == nil {
		o.Now = time.Now
	}
}

// Backoff returns the delay before a delivery that already failed
// attempts times is handed out again
func (o Options) Backoff(attempts int) time.Duration {
	if attempts < 1 {
		attempts = 1
	}
	delay := o.RetryBaseDelay
	for i := 1; i < attempts; i++ {
		delay *= 2
		if delay >= o.RetryMaxDelay {
			return o.RetryMaxDelay
		}
	}
	if delay > o.RetryMaxDelay {
		return o.RetryMaxDelay
	}
	return delay
}

// envelope is the wire form of a queued item
type envelope struct {
	ID       string             `json:"id"`
	Attempts int                `json:"attempts"`
	Message  model.QueueMessage `json:"message"`
}

func newEnvelope(msg model.QueueMessage) envelope {
	return envelope{ID: uuid.NewString(), Message: msg}
}

func (e envelope) encode() (string, error) {
	b, err := json.Marshal(e)
	if err != nil {
		return "", fmt.Errorf("failed to encode queue message: %w", err)
	}
	return string(b), nil
}

func decodeEnvelope(raw string) (envelope, error) {
	var e envelope
	if err := json.Unmarshal([]byte(raw), &e); err != nil {
		return e, fmt.Errorf("failed to decode queue message: %w", err)
	}
	return e, nil
}

func (e envelope) delivery(raw string) Delivery {
	return Delivery{ID: e.ID, Message: e.Message, Attempts: e.Attempts + 1, raw: raw}
}

// Config selects and configures a queue implementation
type Config struct {
	Driver        string
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	Options
}

// New creates the queue named by cfg.Driver
func New(ctx context.Context, cfg Config) (Queue, error) {
	switch strings.ToLower(cfg.Driver) {
	case "redis", "":
		return NewRedisQueue(ctx, cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB, cfg.Options)
	case "memory":
		return NewMemoryQueue(cfg.Options), nil
	default:
		return nil, fmt.Errorf("unsupported queue driver: %s", cfg.Driver)
	}
}
