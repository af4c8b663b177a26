package queue

import (
	"context"
	"sync"
	"time"
)

// MemoryQueue is an in-process Queue for single-binary deployments and tests.
// Jobs do not survive a restart.
type MemoryQueue struct {
	mu       sync.Mutex
	ready    []*Job
	inFlight map[string]*Job
	delayed  []delayedJob
	dead     []*Job
	notify   chan struct{}
	closed   bool
	now      func() time.Time
}

type delayedJob struct {
	job *Job
	due time.Time
}

var _ Queue = (*MemoryQueue)(nil)

func NewMemoryQueue() *MemoryQueue {
	return &MemoryQueue{
		inFlight: map[string]*Job{},
		notify:   make(chan struct{}, 1),
		now:      time.Now,
	}
}

func (q *MemoryQueue) wake() {
	select {
	case q.notify <- struct{}{}:
	default:
	}
}

func (q *MemoryQueue) Enqueue(ctx context.Context, kind, payload string) (*Job, error) {
	return q.EnqueueAfter(ctx, kind, payload, 0)
}

func (q *MemoryQueue) EnqueueAfter(_ context.Context, kind, payload string, delay time.Duration) (*Job, error) {
	j := newJob(kind, payload, q.now())
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return nil, ErrClosed
	}
	if delay > 0 {
		q.delayed = append(q.delayed, delayedJob{job: j, due: q.now().Add(delay)})
	} else {
		q.ready = append(q.ready, j)
	}
	q.wake()
	return j, nil
}

func (q *MemoryQueue) Reserve(ctx context.Context, wait time.Duration) (*Job, error) {
	deadline := time.NewTimer(wait)
	defer deadline.Stop()
	for {
		j, next := q.take()
		if j != nil {
			return j, nil
		}
		if q.isClosed() {
			return nil, ErrClosed
		}
		var tick *time.Timer
		var tickC <-chan time.Time
		if next > 0 {
			tick = time.NewTimer(next)
			tickC = tick.C
		}
		select {
		case <-ctx.Done():
			stopTimer(tick)
			return nil, ctx.Err()
		case <-deadline.C:
			stopTimer(tick)
			return nil, nil
		case <-q.notify:
		case <-tickC:
		}
		stopTimer(tick)
	}
}

func stopTimer(t *time.Timer) {
	if t != nil {
		t.Stop()
	}
}

// take promotes due delayed jobs and pops the oldest ready one. When nothing
// is ready it returns how long until the next delayed job is due.
func (q *MemoryQueue) take() (*Job, time.Duration) {
	q.mu.Lock()
	defer q.mu.Unlock()
	now := q.now()
	var next time.Duration
	pending := q.delayed[:0]
	for _, d := range q.delayed {
		if !d.due.After(now) {
			q.ready = append(q.ready, d.job)
			continue
		}
		if wait := d.due.Sub(now); next == 0 || wait < next {
			next = wait
		}
		pending = append(pending, d)
	}
	q.delayed = pending
	if len(q.ready) == 0 {
		return nil, next
	}
	j := q.ready[0]
	q.ready = q.ready[1:]
	q.inFlight[j.ID] = j
	return j, 0
}

func (q *MemoryQueue) isClosed() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.closed
}

func (q *MemoryQueue) Ack(_ context.Context, job *Job) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	delete(q.inFlight, job.ID)
	return nil
}

func (q *MemoryQueue) Retry(_ context.Context, job *Job, delay time.Duration, cause error) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	delete(q.inFlight, job.ID)
	job.Attempts++
	job.LastError = causeText(cause)
	q.delayed = append(q.delayed, delayedJob{job: job, due: q.now().Add(delay)})
	q.wake()
	return nil
}

func (q *MemoryQueue) DeadLetter(_ context.Context, job *Job, cause error) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	delete(q.inFlight, job.ID)
	job.LastError = causeText(cause)
	q.dead = append(q.dead, job)
	return nil
}

// DeadLetters returns a copy of the dead-lettered jobs, oldest first.
func (q *MemoryQueue) DeadLetters() []*Job {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]*Job(nil), q.dead...)
}

func (q *MemoryQueue) Stats(context.Context) (Stats, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return Stats{
		Ready:    int64(len(q.ready)),
		InFlight: int64(len(q.inFlight)),
		Delayed:  int64(len(q.delayed)),
		Dead:     int64(len(q.dead)),
	}, nil
}

func (q *MemoryQueue) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.closed = true
	q.wake()
	return nil
}
