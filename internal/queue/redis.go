package queue

import (
	"context"
	"strconv"
	"time"

	"github.com/pkg/errors"
	goredis "github.com/redis/go-redis/v9"
)

// promoteBatch bounds how many due delayed jobs one Reserve call moves.
const promoteBatch = 100

// RedisQueue is a reliable queue on Redis lists: jobs move atomically from the
// ready list to the processing list on reserve and leave it on ack. Delayed
// and retried jobs wait in a sorted set scored by due time in milliseconds.
type RedisQueue struct {
	rdb        *goredis.Client
	ready      string
	processing string
	delayed    string
	dead       string
	now        func() time.Time
}

var _ Queue = (*RedisQueue)(nil)

// DialRedis connects and pings before returning.
func DialRedis(ctx context.Context, addr, password string, db int, prefix string) (*RedisQueue, error) {
	rdb := goredis.NewClient(&goredis.Options{
		Addr:        addr,
		Password:    password,
		DB:          db,
		DialTimeout: 5 * time.Second,
	})
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, errors.Wrap(err, "redis ping")
	}
	return NewRedisQueue(rdb, prefix), nil
}

func NewRedisQueue(rdb *goredis.Client, prefix string) *RedisQueue {
	if prefix == "" {
		prefix = "goodenergy:jobs"
	}
	return &RedisQueue{
		rdb:        rdb,
		ready:      prefix + ":ready",
		processing: prefix + ":processing",
		delayed:    prefix + ":delayed",
		dead:       prefix + ":dead",
		now:        time.Now,
	}
}

func (q *RedisQueue) Enqueue(ctx context.Context, kind, payload string) (*Job, error) {
	j := newJob(kind, payload, q.now())
	raw, err := encode(j)
	if err != nil {
		return nil, err
	}
	if err := q.rdb.LPush(ctx, q.ready, raw).Err(); err != nil {
		return nil, errors.Wrap(err, "enqueue")
	}
	return j, nil
}

func (q *RedisQueue) EnqueueAfter(ctx context.Context, kind, payload string, delay time.Duration) (*Job, error) {
	if delay <= 0 {
		return q.Enqueue(ctx, kind, payload)
	}
	j := newJob(kind, payload, q.now())
	raw, err := encode(j)
	if err != nil {
		return nil, err
	}
	if err := q.rdb.ZAdd(ctx, q.delayed, q.due(delay, raw)).Err(); err != nil {
		return nil, errors.Wrap(err, "enqueue delayed")
	}
	return j, nil
}

func (q *RedisQueue) due(delay time.Duration, raw string) goredis.Z {
	return goredis.Z{Score: float64(q.now().Add(delay).UnixMilli()), Member: raw}
}

func (q *RedisQueue) Reserve(ctx context.Context, wait time.Duration) (*Job, error) {
	if err := q.promote(ctx); err != nil {
		return nil, err
	}
	raw, err := q.rdb.BLMove(ctx, q.ready, q.processing, "RIGHT", "LEFT", wait).Result()
	if errors.Is(err, goredis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "reserve")
	}
	return decode(raw)
}

// promote moves due delayed jobs to the ready list. Only the caller whose
// ZREM removed the member pushes it, so concurrent workers never duplicate it.
func (q *RedisQueue) promote(ctx context.Context) error {
	members, err := q.rdb.ZRangeByScore(ctx, q.delayed, &goredis.ZRangeBy{
		Min:   "-inf",
		Max:   strconv.FormatInt(q.now().UnixMilli(), 10),
		Count: promoteBatch,
	}).Result()
	if err != nil {
		return errors.Wrap(err, "scan delayed")
	}
	for _, m := range members {
		n, err := q.rdb.ZRem(ctx, q.delayed, m).Result()
		if err != nil {
			return errors.Wrap(err, "claim delayed")
		}
		if n == 0 {
			continue
		}
		if err := q.rdb.LPush(ctx, q.ready, m).Err(); err != nil {
			return errors.Wrap(err, "promote delayed")
		}
	}
	return nil
}

func (q *RedisQueue) Ack(ctx context.Context, job *Job) error {
	return errors.Wrap(q.rdb.LRem(ctx, q.processing, 1, job.raw).Err(), "ack")
}

func (q *RedisQueue) Retry(ctx context.Context, job *Job, delay time.Duration, cause error) error {
	prev := job.raw
	job.Attempts++
	job.LastError = causeText(cause)
	raw, err := encode(job)
	if err != nil {
		return err
	}
	_, err = q.rdb.TxPipelined(ctx, func(p goredis.Pipeliner) error {
		p.LRem(ctx, q.processing, 1, prev)
		p.ZAdd(ctx, q.delayed, q.due(delay, raw))
		return nil
	})
	return errors.Wrap(err, "retry")
}

func (q *RedisQueue) DeadLetter(ctx context.Context, job *Job, cause error) error {
	prev := job.raw
	job.LastError = causeText(cause)
	raw, err := encode(job)
	if err != nil {
		return err
	}
	_, err = q.rdb.TxPipelined(ctx, func(p goredis.Pipeliner) error {
		p.LRem(ctx, q.processing, 1, prev)
		p.LPush(ctx, q.dead, raw)
		return nil
	})
	return errors.Wrap(err, "dead letter")
}

// Recover returns every in-flight job to the head of the ready list, oldest
// first. Call it once at worker start, before any job is reserved, to
// redeliver jobs orphaned by a crash.
func (q *RedisQueue) Recover(ctx context.Context) (int, error) {
	moved := 0
	for {
		err := q.rdb.LMove(ctx, q.processing, q.ready, "LEFT", "RIGHT").Err()
		if errors.Is(err, goredis.Nil) {
			return moved, nil
		}
		if err != nil {
			return moved, errors.Wrap(err, "recover in-flight")
		}
		moved++
	}
}

// DeadLetters returns up to n dead jobs, newest first.
func (q *RedisQueue) DeadLetters(ctx context.Context, n int64) ([]*Job, error) {
	raws, err := q.rdb.LRange(ctx, q.dead, 0, n-1).Result()
	if err != nil {
		return nil, errors.Wrap(err, "list dead letters")
	}
	out := make([]*Job, 0, len(raws))
	for _, raw := range raws {
		j, err := decode(raw)
		if err != nil {
			return nil, err
		}
		out = append(out, j)
	}
	return out, nil
}

func (q *RedisQueue) Stats(ctx context.Context) (Stats, error) {
	var ready, processing, delayed, dead *goredis.IntCmd
	_, err := q.rdb.Pipelined(ctx, func(p goredis.Pipeliner) error {
		ready = p.LLen(ctx, q.ready)
		processing = p.LLen(ctx, q.processing)
		delayed = p.ZCard(ctx, q.delayed)
		dead = p.LLen(ctx, q.dead)
		return nil
	})
	if err != nil {
		return Stats{}, errors.Wrap(err, "queue stats")
	}
	return Stats{Ready: ready.Val(), InFlight: processing.Val(), Delayed: delayed.Val(), Dead: dead.Val()}, nil
}

func (q *RedisQueue) Close() error { return q.rdb.Close() }
