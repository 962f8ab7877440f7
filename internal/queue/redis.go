// Package queue carries outline jobs over Redis Streams with a consumer
// group, a delayed ZSET for retries and a dead-letter stream.
package queue

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

const (
	defaultPoll   = 200 * time.Millisecond
	moveBatchSize = 100
)

// Depths reports queue lengths for metrics. Ready counts stream entries
// not yet acknowledged, delivered or not.
type Depths struct {
	Ready   int64
	Delayed int64
	DLQ     int64
}

// RedisQueue is a Redis Streams queue. Payloads are opaque bytes stored
// under the "data" field.
type RedisQueue struct {
	client *redis.Client

	Stream      string
	Group       string
	CancelKey   string
	DelayedKey  string
	DLQStream   string
	IdemDoneKey string

	pollInterval time.Duration
	stopOnce     sync.Once
	stop         chan struct{}
}

// NewRedisQueue connects to redisURL and prepares the stream and group.
func NewRedisQueue(ctx context.Context, redisURL, stream, group string, poll time.Duration) (*RedisQueue, error) {
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	return NewWithClient(ctx, redis.NewClient(opt), stream, group, poll)
}

// NewWithClient uses an existing client. The delayed mover is not started;
// call Start.
func NewWithClient(ctx context.Context, c *redis.Client, stream, group string, poll time.Duration) (*RedisQueue, error) {
	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := c.Ping(pingCtx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	if poll <= 0 {
		poll = defaultPoll
	}
	q := &RedisQueue{
		client:       c,
		Stream:       stream,
		Group:        group,
		CancelKey:    stream + ":cancelled",
		DelayedKey:   stream + ":delayed",
		DLQStream:    stream + ":dlq",
		IdemDoneKey:  "idem:done:",
		pollInterval: poll,
		stop:         make(chan struct{}),
	}
	if err := c.XGroupCreateMkStream(pingCtx, stream, group, "$").Err(); err != nil && !isBusyGroupErr(err) {
		return nil, fmt.Errorf("xgroup create: %w", err)
	}
	return q, nil
}

func isBusyGroupErr(err error) bool {
	return err != nil && strings.Contains(strings.ToUpper(err.Error()), "BUSYGROUP")
}

// Client exposes the underlying connection for stores sharing it.
func (q *RedisQueue) Client() *redis.Client { return q.client }

// Start runs the delayed mover until Close.
func (q *RedisQueue) Start() {
	go q.mover()
}

func (q *RedisQueue) Close() error {
	q.stopOnce.Do(func() { close(q.stop) })
	return q.client.Close()
}

func (q *RedisQueue) Ping(ctx context.Context) error { return q.client.Ping(ctx).Err() }

// Enqueue appends a job and returns its stream id.
func (q *RedisQueue) Enqueue(ctx context.Context, payload []byte) (string, error) {
	return q.client.XAdd(ctx, &redis.XAddArgs{
		Stream: q.Stream,
		Values: map[string]any{"data": string(payload)},
	}).Result()
}

// EnqueueDelayed parks a job until executeAt.
func (q *RedisQueue) EnqueueDelayed(ctx context.Context, payload []byte, executeAt time.Time) error {
	return q.client.ZAdd(ctx, q.DelayedKey, redis.Z{
		Score:  float64(executeAt.Unix()),
		Member: string(payload),
	}).Err()
}

// Dequeue reads one message for consumer, blocking up to timeout. An empty
// id with a nil error means nothing arrived.
func (q *RedisQueue) Dequeue(ctx context.Context, consumer string, timeout time.Duration) (string, []byte, error) {
	res, err := q.client.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    q.Group,
		Consumer: consumer,
		Streams:  []string{q.Stream, ">"},
		Count:    1,
		Block:    timeout,
	}).Result()
	if errors.Is(err, redis.Nil) {
		return "", nil, nil
	}
	if err != nil {
		return "", nil, err
	}
	if len(res) == 0 || len(res[0].Messages) == 0 {
		return "", nil, nil
	}
	msg := res[0].Messages[0]
	switch v := msg.Values["data"].(type) {
	case string:
		return msg.ID, []byte(v), nil
	case []byte:
		return msg.ID, v, nil
	}
	return msg.ID, nil, nil
}

func (q *RedisQueue) Ack(ctx context.Context, msgID string) error {
	if msgID == "" {
		return nil
	}
	// Acked entries are removed so the stream length stays the backlog.
	pipe := q.client.TxPipeline()
	pipe.XAck(ctx, q.Stream, q.Group, msgID)
	pipe.XDel(ctx, q.Stream, msgID)
	_, err := pipe.Exec(ctx)
	return err
}

func (q *RedisQueue) CancelJob(ctx context.Context, jobID string) error {
	return q.client.SAdd(ctx, q.CancelKey, jobID).Err()
}

func (q *RedisQueue) IsCancelled(ctx context.Context, jobID string) (bool, error) {
	return q.client.SIsMember(ctx, q.CancelKey, jobID).Result()
}

// AddDLQ records a job that will not be retried.
func (q *RedisQueue) AddDLQ(ctx context.Context, payload []byte, reason string) error {
	return q.client.XAdd(ctx, &redis.XAddArgs{
		Stream: q.DLQStream,
		Values: map[string]any{"data": string(payload), "reason": reason},
	}).Err()
}

func (q *RedisQueue) IsIdemDone(ctx context.Context, key string) (bool, error) {
	if key == "" {
		return false, nil
	}
	n, err := q.client.Exists(ctx, q.IdemDoneKey+key).Result()
	return n == 1, err
}

func (q *RedisQueue) MarkIdemDone(ctx context.Context, key string, ttl time.Duration) error {
	if key == "" {
		return nil
	}
	return q.client.Set(ctx, q.IdemDoneKey+key, 1, ttl).Err()
}

func (q *RedisQueue) mover() {
	ticker := time.NewTicker(q.pollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-q.stop:
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			if _, err := q.moveDue(ctx, time.Now()); err != nil {
				log.Warn().Err(err).Str("key", q.DelayedKey).Msg("delayed mover failed")
			}
			cancel()
		}
	}
}

// moveDue moves jobs due at or before now into the stream.
func (q *RedisQueue) moveDue(ctx context.Context, now time.Time) (int, error) {
	vals, err := q.client.ZRangeByScore(ctx, q.DelayedKey, &redis.ZRangeBy{
		Min:   "-inf",
		Max:   fmt.Sprintf("%d", now.Unix()),
		Count: moveBatchSize,
	}).Result()
	if err != nil || len(vals) == 0 {
		return 0, err
	}
	pipe := q.client.TxPipeline()
	for _, member := range vals {
		pipe.XAdd(ctx, &redis.XAddArgs{Stream: q.Stream, Values: map[string]any{"data": member}})
		pipe.ZRem(ctx, q.DelayedKey, member)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, err
	}
	return len(vals), nil
}

func (q *RedisQueue) Depths(ctx context.Context) (Depths, error) {
	pipe := q.client.Pipeline()
	ready := pipe.XLen(ctx, q.Stream)
	delayed := pipe.ZCard(ctx, q.DelayedKey)
	dlq := pipe.XLen(ctx, q.DLQStream)
	if _, err := pipe.Exec(ctx); err != nil {
		return Depths{}, err
	}
	return Depths{Ready: ready.Val(), Delayed: delayed.Val(), DLQ: dlq.Val()}, nil
}
