package worker

import (
	"context"
	"sync"

	"github.com/pkg/errors"

	"github.com/soaringjerry/goodenergy/internal/queue"
)

// Handler processes one job kind. Returning an error wrapped with
// backoff.Permanent dead-letters the job without further retries.
type Handler interface {
	Kind() string
	Handle(ctx context.Context, job *queue.Job) error
}

type Registry struct {
	mu       sync.RWMutex
	handlers map[string]Handler
}

func NewRegistry() *Registry {
	return &Registry{handlers: make(map[string]Handler)}
}

func (r *Registry) Register(h Handler) error {
	if h == nil {
		return errors.New("nil handler")
	}
	kind := h.Kind()
	if kind == "" {
		return errors.New("handler Kind() is empty")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.handlers[kind]; exists {
		return errors.Errorf("handler already registered for kind=%s", kind)
	}
	r.handlers[kind] = h
	return nil
}

func (r *Registry) Get(kind string) (Handler, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.handlers[kind]
	return h, ok
}
