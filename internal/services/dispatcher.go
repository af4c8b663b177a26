package services

import "context"

// JobAverage is the job kind that recomputes every average one answer feeds.
const JobAverage = "average"

// Dispatcher requests an out-of-band recompute of the averages an answer
// contributes to. Requests are fire-and-forget: implementations log their
// own failures and never block the caller on the recompute itself.
type Dispatcher interface {
	RequestRecompute(ctx context.Context, answerID string)
}

// DispatcherFunc adapts a function to Dispatcher.
type DispatcherFunc func(ctx context.Context, answerID string)

func (f DispatcherFunc) RequestRecompute(ctx context.Context, answerID string) { f(ctx, answerID) }

type noopDispatcher struct{}

func (noopDispatcher) RequestRecompute(context.Context, string) {}
