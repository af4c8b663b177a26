// Package queue carries recompute jobs from the API to the workers with
// at-least-once delivery: a reserved job stays in flight until it is acked,
// retried or dead-lettered.
package queue

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
)

// ErrClosed is returned by a queue after Close.
var ErrClosed = errors.New("queue closed")

// Job is one unit of work.
type Job struct {
	ID         string    `json:"id"`
	Kind       string    `json:"kind"`
	Payload    string    `json:"payload"`
	Attempts   int       `json:"attempts"`
	LastError  string    `json:"last_error,omitempty"`
	EnqueuedAt time.Time `json:"enqueued_at"`

	raw string
}

// Queue is a durable job queue.
type Queue interface {
	Enqueue(ctx context.Context, kind, payload string) (*Job, error)
	// EnqueueAfter makes the job visible once delay has passed.
	EnqueueAfter(ctx context.Context, kind, payload string, delay time.Duration) (*Job, error)
	// Reserve waits up to wait for a job. It returns nil, nil when none arrived.
	Reserve(ctx context.Context, wait time.Duration) (*Job, error)
	Ack(ctx context.Context, job *Job) error
	// Retry puts the job back after delay with its attempt counter increased.
	Retry(ctx context.Context, job *Job, delay time.Duration, cause error) error
	// DeadLetter parks the job for inspection; it is not delivered again.
	DeadLetter(ctx context.Context, job *Job, cause error) error
	Stats(ctx context.Context) (Stats, error)
	Close() error
}

// Stats counts jobs by state.
type Stats struct {
	Ready    int64 `json:"ready"`
	InFlight int64 `json:"in_flight"`
	Delayed  int64 `json:"delayed"`
	Dead     int64 `json:"dead"`
}

func newJob(kind, payload string, now time.Time) *Job {
	return &Job{ID: uuid.NewString(), Kind: kind, Payload: payload, EnqueuedAt: now.UTC()}
}

func encode(j *Job) (string, error) {
	b, err := json.Marshal(j)
	if err != nil {
		return "", errors.Wrap(err, "encode job")
	}
	j.raw = string(b)
	return j.raw, nil
}

func decode(raw string) (*Job, error) {
	var j Job
	if err := json.Unmarshal([]byte(raw), &j); err != nil {
		return nil, errors.Wrap(err, "decode job")
	}
	j.raw = raw
	return &j, nil
}

func causeText(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
