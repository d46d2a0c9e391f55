package queue

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"mail-archiver-go/internal/model"
)

// sendScript pushes a work item unless its email is already in the live set
var sendScript = goredis.NewScript(`
if redis.call("SADD", KEYS[2], ARGV[1]) == 0 then
	return 0
end
redis.call("RPUSH", KEYS[1], ARGV[2])
return 1
`)

// RedisQueue is a reliable list-based queue. Received items move to a
// processing list until acked; retried items wait in a sorted set scored
// by the time they become due. A set of email ids tracks which emails
// have a live item.
type RedisQueue struct {
	rdb           *goredis.Client
	opts          Options
	readyKey      string
	processingKey string
	delayedKey    string
	liveKey       string
}

// NewRedisQueue connects to redis and returns a queue under opts.Key
func NewRedisQueue(ctx context.Context, addr, password string, db int, opts Options) (*RedisQueue, error) {
	rdb := goredis.NewClient(&goredis.Options{
		Addr:         addr,
		Password:     password,
		DB:           db,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
		PoolSize:     10,
		MinIdleConns: 2,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	logrus.WithFields(logrus.Fields{
		"address": addr,
		"db":      db,
	}).Info("Connected to Redis")

	return NewRedisQueueWithClient(rdb, opts), nil
}

// NewRedisQueueWithClient wraps an existing client
func NewRedisQueueWithClient(rdb *goredis.Client, opts Options) *RedisQueue {
	opts.setDefaults()
	return &RedisQueue{
		rdb:           rdb,
		opts:          opts,
		readyKey:      opts.Key,
		processingKey: opts.Key + ":processing",
		delayedKey:    opts.Key + ":delayed",
		liveKey:       opts.Key + ":live",
	}
}

func (q *RedisQueue) Send(ctx context.Context, msg model.QueueMessage) error {
	raw, err := newEnvelope(msg).encode()
	if err != nil {
		return err
	}
	pushed, err := sendScript.Run(ctx, q.rdb, []string{q.readyKey, q.liveKey}, msg.EmailID, raw).Int()
	if err != nil {
		return fmt.Errorf("failed to enqueue message: %w", err)
	}
	if pushed == 0 {
		return ErrAlreadyQueued
	}
	return nil
}

func (q *RedisQueue) Receive(ctx context.Context, max int) ([]Delivery, error) {
	if max <= 0 {
		return nil, nil
	}
	if err := q.promoteDue(ctx, max); err != nil {
		return nil, err
	}

	var out []Delivery
	for len(out) < max {
		raw, err := q.rdb.LMove(ctx, q.readyKey, q.processingKey, "LEFT", "RIGHT").Result()
		if errors.Is(err, goredis.Nil) {
			break
		}
		if err != nil {
			return out, fmt.Errorf("failed to receive message: %w", err)
		}

		env, err := decodeEnvelope(raw)
		if err != nil {
			logrus.WithError(err).Warn("Dropping undecodable queue item")
			_ = q.rdb.LRem(ctx, q.processingKey, 1, raw).Err()
			continue
		}
		out = append(out, env.delivery(raw))
	}
	return out, nil
}

// promoteDue moves retried items whose delay has passed back to the ready list
func (q *RedisQueue) promoteDue(ctx context.Context, max int) error {
	due, err := q.rdb.ZRangeByScore(ctx, q.delayedKey, &goredis.ZRangeBy{
		Min:   "-inf",
		Max:   strconv.FormatInt(q.opts.Now().UnixMilli(), 10),
		Count: int64(max),
	}).Result()
	if err != nil {
		return fmt.Errorf("failed to read delayed messages: %w", err)
	}

	for _, raw := range due {
		removed, err := q.rdb.ZRem(ctx, q.delayedKey, raw).Result()
		if err != nil {
			return fmt.Errorf("failed to promote delayed message: %w", err)
		}
		// another consumer got it first
		if removed == 0 {
			continue
		}
		if err := q.rdb.RPush(ctx, q.readyKey, raw).Err(); err != nil {
			return fmt.Errorf("failed to promote delayed message: %w", err)
		}
	}
	return nil
}

func (q *RedisQueue) Ack(ctx context.Context, d Delivery) error {
	_, err := q.rdb.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
		pipe.LRem(ctx, q.processingKey, 1, d.raw)
		pipe.SRem(ctx, q.liveKey, d.Message.EmailID)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to ack message %s: %w", d.ID, err)
	}
	return nil
}

func (q *RedisQueue) Retry(ctx context.Context, d Delivery) error {
	env, err := decodeEnvelope(d.raw)
	if err != nil {
		return err
	}
	env.Attempts++
	raw, err := env.encode()
	if err != nil {
		return err
	}
	dueAt := q.opts.Now().Add(q.opts.Backoff(env.Attempts))

	_, err = q.rdb.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
		pipe.LRem(ctx, q.processingKey, 1, d.raw)
		pipe.ZAdd(ctx, q.delayedKey, goredis.Z{Score: float64(dueAt.UnixMilli()), Member: raw})
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to schedule retry for message %s: %w", d.ID, err)
	}
	return nil
}

// Recover moves everything left in the processing list back to the front
// of the ready list. Call it before any consumer of this key is running.
func (q *RedisQueue) Recover(ctx context.Context) (int, error) {
	n := 0
	for {
		_, err := q.rdb.LMove(ctx, q.processingKey, q.readyKey, "RIGHT", "LEFT").Result()
		if errors.Is(err, goredis.Nil) {
			return n, nil
		}
		if err != nil {
			return n, fmt.Errorf("failed to recover in-flight messages: %w", err)
		}
		n++
	}
}

func (q *RedisQueue) Ping(ctx context.Context) error {
	return q.rdb.Ping(ctx).Err()
}

func (q *RedisQueue) Close() error {
	return q.rdb.Close()
}
