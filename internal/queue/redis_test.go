package queue

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/pkg/errors"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRedisQueue(t *testing.T) (*RedisQueue, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	q := NewRedisQueue(rdb, "test")
	t.Cleanup(func() { _ = q.Close() })
	return q, mr
}

func TestRedisQueueReserveAndAck(t *testing.T) {
	q, mr := newRedisQueue(t)
	ctx := context.Background()

	first, err := q.Enqueue(ctx, "average", "a1")
	require.NoError(t, err)
	_, err = q.Enqueue(ctx, "average", "a2")
	require.NoError(t, err)

	j, err := q.Reserve(ctx, 100*time.Millisecond)
	require.NoError(t, err)
	require.NotNil(t, j)
	assert.Equal(t, first.ID, j.ID)
	assert.Equal(t, "a1", j.Payload)

	st, err := q.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, Stats{Ready: 1, InFlight: 1}, st)

	require.NoError(t, q.Ack(ctx, j))
	processing, err := mr.List("test:processing")
	if err == nil {
		assert.Empty(t, processing)
	} else {
		assert.ErrorIs(t, err, miniredis.ErrKeyNotFound)
	}
}

func TestRedisQueueReserveTimesOut(t *testing.T) {
	q, _ := newRedisQueue(t)
	j, err := q.Reserve(context.Background(), 50*time.Millisecond)
	require.NoError(t, err)
	assert.Nil(t, j)
}

func TestRedisQueueRetryWaitsForDelay(t *testing.T) {
	q, _ := newRedisQueue(t)
	ctx := context.Background()
	now := time.Date(2026, 3, 11, 9, 0, 0, 0, time.UTC)
	q.now = func() time.Time { return now }

	_, err := q.Enqueue(ctx, "average", "a1")
	require.NoError(t, err)
	j, err := q.Reserve(ctx, 50*time.Millisecond)
	require.NoError(t, err)
	require.NoError(t, q.Retry(ctx, j, time.Minute, errors.New("boom")))

	st, err := q.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, Stats{Delayed: 1}, st)

	none, err := q.Reserve(ctx, 50*time.Millisecond)
	require.NoError(t, err)
	assert.Nil(t, none)

	now = now.Add(time.Minute)
	again, err := q.Reserve(ctx, 50*time.Millisecond)
	require.NoError(t, err)
	require.NotNil(t, again)
	assert.Equal(t, j.ID, again.ID)
	assert.Equal(t, 1, again.Attempts)
	assert.Equal(t, "boom", again.LastError)
}

func TestRedisQueueEnqueueAfter(t *testing.T) {
	q, _ := newRedisQueue(t)
	ctx := context.Background()
	now := time.Date(2026, 3, 11, 9, 0, 0, 0, time.UTC)
	q.now = func() time.Time { return now }

	_, err := q.EnqueueAfter(ctx, "day", "{}", 5*time.Second)
	require.NoError(t, err)
	j, err := q.Reserve(ctx, 20*time.Millisecond)
	require.NoError(t, err)
	assert.Nil(t, j)

	now = now.Add(5 * time.Second)
	j, err = q.Reserve(ctx, 20*time.Millisecond)
	require.NoError(t, err)
	require.NotNil(t, j)
	assert.Equal(t, "day", j.Kind)
}

func TestRedisQueueDeadLetter(t *testing.T) {
	q, _ := newRedisQueue(t)
	ctx := context.Background()

	_, err := q.Enqueue(ctx, "average", "a1")
	require.NoError(t, err)
	j, err := q.Reserve(ctx, 50*time.Millisecond)
	require.NoError(t, err)
	require.NoError(t, q.DeadLetter(ctx, j, errors.New("bad payload")))

	st, err := q.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, Stats{Dead: 1}, st)

	dead, err := q.DeadLetters(ctx, 10)
	require.NoError(t, err)
	require.Len(t, dead, 1)
	assert.Equal(t, j.ID, dead[0].ID)
	assert.Equal(t, "bad payload", dead[0].LastError)
}

func TestRedisQueueRecover(t *testing.T) {
	q, _ := newRedisQueue(t)
	ctx := context.Background()

	for _, p := range []string{"a1", "a2"} {
		_, err := q.Enqueue(ctx, "average", p)
		require.NoError(t, err)
	}
	for i := 0; i < 2; i++ {
		j, err := q.Reserve(ctx, 50*time.Millisecond)
		require.NoError(t, err)
		require.NotNil(t, j)
	}

	moved, err := q.Recover(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, moved)

	st, err := q.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, Stats{Ready: 2}, st)

	j, err := q.Reserve(ctx, 50*time.Millisecond)
	require.NoError(t, err)
	require.NotNil(t, j)
	assert.Equal(t, "a1", j.Payload)
}

func TestDialRedis(t *testing.T) {
	mr := miniredis.RunT(t)
	q, err := DialRedis(context.Background(), mr.Addr(), "", 0, "")
	require.NoError(t, err)
	defer q.Close()
	assert.Equal(t, "goodenergy:jobs:ready", q.ready)

	mr.Close()
	_, err = DialRedis(context.Background(), mr.Addr(), "", 0, "")
	assert.Error(t, err)
}
