package queue

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestQueue(t *testing.T) (*RedisQueue, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	q, err := NewWithClient(context.Background(), client, "jobs:outline", "workers:outline", 10*time.Millisecond)
	require.NoError(t, err)
	t.Cleanup(func() { _ = q.Close() })
	return q, mr
}

func TestEnqueueDequeueAck(t *testing.T) {
	q, _ := newTestQueue(t)
	ctx := context.Background()

	id, err := q.Enqueue(ctx, []byte(`{"job_id":"a"}`))
	require.NoError(t, err)
	require.NotEmpty(t, id)

	gotID, payload, err := q.Dequeue(ctx, "w1", 50*time.Millisecond)
	require.NoError(t, err)
	assert.Equal(t, id, gotID)
	assert.JSONEq(t, `{"job_id":"a"}`, string(payload))
	require.NoError(t, q.Ack(ctx, gotID))
	require.NoError(t, q.Ack(ctx, ""))

	gotID, payload, err = q.Dequeue(ctx, "w1", 10*time.Millisecond)
	require.NoError(t, err)
	assert.Empty(t, gotID)
	assert.Nil(t, payload)
}

func TestGroupCreationIsIdempotent(t *testing.T) {
	q, _ := newTestQueue(t)
	_, err := NewWithClient(context.Background(), q.Client(), q.Stream, q.Group, 0)
	assert.NoError(t, err)
}

func TestDelayedMover(t *testing.T) {
	q, _ := newTestQueue(t)
	ctx := context.Background()
	now := time.Now()

	require.NoError(t, q.EnqueueDelayed(ctx, []byte("due"), now.Add(-time.Second)))
	require.NoError(t, q.EnqueueDelayed(ctx, []byte("later"), now.Add(time.Hour)))

	moved, err := q.moveDue(ctx, now)
	require.NoError(t, err)
	assert.Equal(t, 1, moved)

	d, err := q.Depths(ctx)
	require.NoError(t, err)
	assert.Equal(t, Depths{Ready: 1, Delayed: 1, DLQ: 0}, d)

	_, payload, err := q.Dequeue(ctx, "w1", 10*time.Millisecond)
	require.NoError(t, err)
	assert.Equal(t, "due", string(payload))
}

func TestDepthsIgnoreAckedEntries(t *testing.T) {
	q, _ := newTestQueue(t)
	ctx := context.Background()

	for _, p := range []string{"a", "b", "c"} {
		_, err := q.Enqueue(ctx, []byte(p))
		require.NoError(t, err)
	}
	d, err := q.Depths(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(3), d.Ready)

	for i := 0; i < 2; i++ {
		id, _, err := q.Dequeue(ctx, "w1", 10*time.Millisecond)
		require.NoError(t, err)
		require.NoError(t, q.Ack(ctx, id))
	}
	d, err = q.Depths(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), d.Ready)

	_, payload, err := q.Dequeue(ctx, "w1", 10*time.Millisecond)
	require.NoError(t, err)
	assert.Equal(t, "c", string(payload))
}

func TestCancelAndIdempotency(t *testing.T) {
	q, mr := newTestQueue(t)
	ctx := context.Background()

	cancelled, err := q.IsCancelled(ctx, "job-1")
	require.NoError(t, err)
	assert.False(t, cancelled)
	require.NoError(t, q.CancelJob(ctx, "job-1"))
	cancelled, err = q.IsCancelled(ctx, "job-1")
	require.NoError(t, err)
	assert.True(t, cancelled)

	done, err := q.IsIdemDone(ctx, "")
	require.NoError(t, err)
	assert.False(t, done)

	require.NoError(t, q.MarkIdemDone(ctx, "k1", time.Minute))
	done, err = q.IsIdemDone(ctx, "k1")
	require.NoError(t, err)
	assert.True(t, done)

	mr.FastForward(2 * time.Minute)
	done, err = q.IsIdemDone(ctx, "k1")
	require.NoError(t, err)
	assert.False(t, done)
}

func TestAddDLQ(t *testing.T) {
	q, _ := newTestQueue(t)
	ctx := context.Background()

	require.NoError(t, q.AddDLQ(ctx, []byte("bad"), "not a pdf"))
	d, err := q.Depths(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), d.DLQ)

	msgs, err := q.Client().XRange(ctx, q.DLQStream, "-", "+").Result()
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, "not a pdf", msgs[0].Values["reason"])
}

func TestNewRedisQueueBadURL(t *testing.T) {
	_, err := NewRedisQueue(context.Background(), "://nope", "s", "g", 0)
	assert.Error(t, err)
}
