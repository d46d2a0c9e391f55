package processor

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"mail-archiver-go/internal/model"
	"mail-archiver-go/internal/queue"
)

// Handler is what the consumer drives for each delivery
type Handler interface {
	Process(ctx context.Context, msg model.QueueMessage) Result
	Abandon(ctx context.Context, msg model.QueueMessage) error
}

// ConsumerConfig controls batching and the dead-letter policy
type ConsumerConfig struct {
	BatchSize    int
	Concurrency  int
	PollInterval time.Duration
	// MaxAttempts marks an email failed once a delivery with this many
	// attempts asks for a retry. Zero retries forever.
	MaxAttempts int
}

// Consumer pulls deliveries off the queue and settles each one with
// an ack or a retry based on the handler's result
type Consumer struct {
	queue   queue.Consumer
	handler Handler
	cfg     ConsumerConfig
}

// NewConsumer creates a Consumer
func NewConsumer(q queue.Consumer, h Handler, cfg ConsumerConfig) *Consumer {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 10
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 1
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = time.Second
	}
	return &Consumer{queue: q, handler: h, cfg: cfg}
}

// Run consumes until ctx is cancelled
func (c *Consumer) Run(ctx context.Context) error {
	logrus.WithFields(logrus.Fields{
		"batch_size":   c.cfg.BatchSize,
		"concurrency":  c.cfg.Concurrency,
		"max_attempts": c.cfg.MaxAttempts,
	}).Info("Queue consumer started")

	for {
		n, err := c.RunOnce(ctx)
		if ctx.Err() != nil {
			logrus.Info("Queue consumer stopped")
			return nil
		}
		if err != nil {
			logrus.WithError(err).Error("Failed to receive from queue")
		}
		if n > 0 && err == nil {
			continue
		}

		select {
		case <-ctx.Done():
			logrus.Info("Queue consumer stopped")
			return nil
		case <-time.After(c.cfg.PollInterval):
		}
	}
}

// RunOnce receives one batch and settles every delivery in it. It returns
// how many deliveries were handled.
func (c *Consumer) RunOnce(ctx context.Context) (int, error) {
	deliveries, err := c.queue.Receive(ctx, c.cfg.BatchSize)
	if err != nil && len(deliveries) == 0 {
		return 0, err
	}

	var g errgroup.Group
	g.SetLimit(c.cfg.Concurrency)
	for _, d := range deliveries {
		d := d
		g.Go(func() error {
			c.settle(ctx, d)
			return nil
		})
	}
	_ = g.Wait()
	return len(deliveries), err
}

func (c *Consumer) settle(ctx context.Context, d queue.Delivery) {
	log := logrus.WithFields(logrus.Fields{
		"delivery_id": d.ID,
		"email_id":    d.Message.EmailID,
		"attempts":    d.Attempts,
	})

	result := c.handler.Process(ctx, d.Message)

	// settle even when shutdown interrupted processing
	settleCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()

	if result == Retry && c.cfg.MaxAttempts > 0 && d.Attempts >= c.cfg.MaxAttempts {
		if err := c.handler.Abandon(settleCtx, d.Message); err != nil {
			log.WithError(err).Error("Failed to abandon email, retrying delivery")
		} else {
			result = Processed
		}
	}

	switch result {
	case Processed:
		if err := c.queue.Ack(settleCtx, d); err != nil {
			log.WithError(err).Error("Failed to ack delivery")
		}
	default:
		if err := c.queue.Retry(settleCtx, d); err != nil {
			log.WithError(err).Error("Failed to schedule retry")
		}
	}
}
