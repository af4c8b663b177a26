package worker

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/semaphore"

	"github.com/soaringjerry/goodenergy/internal/queue"
)

type Config struct {
	// MaxConcurrency caps jobs running at once.
	MaxConcurrency int
	// MaxAttempts is how many times a job runs before it is dead-lettered.
	MaxAttempts int
	// PollTimeout bounds one blocking reserve call.
	PollTimeout time.Duration
	// RetryInitial and RetryMax shape the exponential retry delay.
	RetryInitial time.Duration
	RetryMax     time.Duration
	// RetryJitter is the backoff randomization factor, 0 for none.
	RetryJitter float64
	// SlotWaitMax caps the polling interval while every slot is busy.
	SlotWaitMax time.Duration
}

func (c Config) withDefaults() Config {
	if c.MaxConcurrency < 1 {
		c.MaxConcurrency = 4
	}
	if c.MaxAttempts < 1 {
		c.MaxAttempts = 5
	}
	if c.PollTimeout <= 0 {
		c.PollTimeout = 2 * time.Second
	}
	if c.RetryInitial <= 0 {
		c.RetryInitial = time.Second
	}
	if c.RetryMax <= 0 {
		c.RetryMax = time.Minute
	}
	if c.SlotWaitMax <= 0 {
		c.SlotWaitMax = time.Second
	}
	return c
}

// Pool runs queued jobs with at most MaxConcurrency in flight. When every
// slot is busy it stops reserving and polls for a free slot, so the backlog
// stays in the queue rather than in memory.
type Pool struct {
	q   queue.Queue
	reg *Registry
	log logrus.FieldLogger
	cfg Config
	sem *semaphore.Weighted

	mu      sync.Mutex
	running map[string]string
	wg      sync.WaitGroup
}

func NewPool(q queue.Queue, reg *Registry, log logrus.FieldLogger, cfg Config) *Pool {
	cfg = cfg.withDefaults()
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Pool{
		q:       q,
		reg:     reg,
		log:     log.WithField("component", "worker"),
		cfg:     cfg,
		sem:     semaphore.NewWeighted(int64(cfg.MaxConcurrency)),
		running: map[string]string{},
	}
}

// Run reserves and dispatches jobs until ctx is cancelled or the queue is
// closed, then waits for in-flight jobs to finish.
func (p *Pool) Run(ctx context.Context) error {
	p.log.WithField("concurrency", p.cfg.MaxConcurrency).Info("worker pool started")
	defer p.log.Info("worker pool stopped")
	// in-flight jobs finish even after shutdown starts
	jobCtx := context.WithoutCancel(ctx)
	for {
		if err := p.acquire(ctx); err != nil {
			break
		}
		job, err := p.q.Reserve(ctx, p.cfg.PollTimeout)
		if err != nil {
			p.sem.Release(1)
			if ctx.Err() != nil || errors.Is(err, queue.ErrClosed) {
				break
			}
			p.log.WithError(err).Warn("reserve failed")
			if !sleepCtx(ctx, p.cfg.RetryInitial) {
				break
			}
			continue
		}
		if job == nil {
			p.sem.Release(1)
			continue
		}
		p.track(job, true)
		p.wg.Add(1)
		go func() {
			defer p.wg.Done()
			defer p.sem.Release(1)
			defer p.track(job, false)
			p.process(jobCtx, job)
		}()
	}
	p.wg.Wait()
	return nil
}

// acquire takes a slot, polling with capped exponential backoff while full.
func (p *Pool) acquire(ctx context.Context) error {
	if p.sem.TryAcquire(1) {
		return nil
	}
	wait := backoff.NewExponentialBackOff()
	wait.InitialInterval = 50 * time.Millisecond
	wait.MaxInterval = p.cfg.SlotWaitMax
	wait.MaxElapsedTime = 0
	wait.Reset()
	for {
		p.log.WithField("running", p.Running()).Debug("waiting for a free worker slot")
		if !sleepCtx(ctx, wait.NextBackOff()) {
			return ctx.Err()
		}
		if p.sem.TryAcquire(1) {
			return nil
		}
	}
}

func (p *Pool) process(ctx context.Context, job *queue.Job) {
	log := p.log.WithFields(logrus.Fields{"job_id": job.ID, "kind": job.Kind, "attempt": job.Attempts + 1})
	h, ok := p.reg.Get(job.Kind)
	if !ok {
		log.Error("no handler registered for job kind")
		p.settle(log, p.q.DeadLetter(ctx, job, errors.Errorf("no handler for kind=%s", job.Kind)))
		return
	}
	start := time.Now()
	err := p.run(ctx, h, job)
	log = log.WithField("duration", time.Since(start))
	if err == nil {
		log.Debug("job done")
		p.settle(log, p.q.Ack(ctx, job))
		return
	}
	var permanent *backoff.PermanentError
	if errors.As(err, &permanent) || job.Attempts+1 >= p.cfg.MaxAttempts {
		log.WithError(err).Error("job dead-lettered")
		p.settle(log, p.q.DeadLetter(ctx, job, err))
		return
	}
	delay := p.retryDelay(job.Attempts)
	log.WithError(err).WithField("retry_in", delay).Warn("job failed, retrying")
	p.settle(log, p.q.Retry(ctx, job, delay, err))
}

func (p *Pool) settle(log logrus.FieldLogger, err error) {
	if err != nil {
		log.WithError(err).Error("job state not recorded; it will be redelivered")
	}
}

func (p *Pool) run(ctx context.Context, h Handler, job *queue.Job) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()
	return h.Handle(ctx, job)
}

// retryDelay is the exponential backoff interval for the given attempt count.
func (p *Pool) retryDelay(attempts int) time.Duration {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = p.cfg.RetryInitial
	b.MaxInterval = p.cfg.RetryMax
	b.RandomizationFactor = p.cfg.RetryJitter
	b.MaxElapsedTime = 0
	b.Reset()
	d := b.NextBackOff()
	for i := 0; i < attempts; i++ {
		d = b.NextBackOff()
	}
	return d
}

func (p *Pool) track(job *queue.Job, on bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if on {
		p.running[job.ID] = job.Kind
	} else {
		delete(p.running, job.ID)
	}
}

// Running lists in-flight jobs as kind:id, sorted.
func (p *Pool) Running() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, 0, len(p.running))
	for id, kind := range p.running {
		out = append(out, kind+":"+id)
	}
	sort.Strings(out)
	return out
}

// InFlight is the number of jobs currently running.
func (p *Pool) InFlight() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.running)
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
