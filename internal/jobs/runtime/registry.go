package runtime

import (
	"fmt"
	"sync"
)

// Handler is a generation pipeline bound to one job_type. The worker looks
// the handler up by the claimed row's job_type and hands it a Context; the
// handler reports every outcome through that Context, so its own error
// return is only a safety net for bugs.
type Handler interface {
	Type() string
	Run(ctx *Context) error
}

// Registry maps generation_job.job_type values to their pipelines. Types
// are registered once at startup; a queued row whose job_type has no
// handler fails at dispatch rather than sitting in the queue forever.
type Registry struct {
	mu       sync.RWMutex
	handlers map[string]Handler
}

func NewRegistry() *Registry {
	return &Registry{handlers: make(map[string]Handler)}
}

func (r *Registry) Register(h Handler) error {
	if h == nil {
		return fmt.Errorf("nil handler")
	}
	jobType := h.Type()
	if jobType == "" {
		return fmt.Errorf("handler Type() is empty")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.handlers[jobType]; exists {
		return fmt.Errorf("handler already registered for job_type=%s", jobType)
	}
	r.handlers[jobType] = h
	return nil
}

func (r *Registry) Get(jobType string) (Handler, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.handlers[jobType]
	return h, ok
}
