package worker

import (
	"context"
	"encoding/json"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/soaringjerry/goodenergy/internal/queue"
	"github.com/soaringjerry/goodenergy/internal/services"
)

// QueueDispatcher turns recompute requests into queue jobs.
type QueueDispatcher struct {
	q     queue.Queue
	log   logrus.FieldLogger
	delay time.Duration
}

var _ services.Dispatcher = (*QueueDispatcher)(nil)

func NewDispatcher(q queue.Queue, log logrus.FieldLogger) *QueueDispatcher {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &QueueDispatcher{q: q, log: log.WithField("component", "dispatcher")}
}

// WithDelay returns a dispatcher whose jobs become visible after delay.
func (d *QueueDispatcher) WithDelay(delay time.Duration) *QueueDispatcher {
	cp := *d
	cp.delay = delay
	return &cp
}

// RequestRecompute enqueues an average job for the answer. Failures are logged only.
func (d *QueueDispatcher) RequestRecompute(ctx context.Context, answerID string) {
	job, err := d.q.EnqueueAfter(ctx, services.JobAverage, answerID, d.delay)
	if err != nil {
		d.log.WithError(err).WithField("answer_id", answerID).Error("recompute not enqueued")
		return
	}
	d.log.WithFields(logrus.Fields{"answer_id": answerID, "job_id": job.ID}).Debug("recompute enqueued")
}

// RequestDayRecompute enqueues a JobRecomputeDay job and returns its id.
func (d *QueueDispatcher) RequestDayRecompute(ctx context.Context, req DayRecompute) (string, error) {
	b, err := json.Marshal(req)
	if err != nil {
		return "", errors.Wrap(err, "encode day recompute")
	}
	job, err := d.q.EnqueueAfter(ctx, JobRecomputeDay, string(b), d.delay)
	if err != nil {
		return "", err
	}
	return job.ID, nil
}
