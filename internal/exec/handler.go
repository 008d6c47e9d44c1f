package exec

import (
	"context"
	"fmt"
	"slices"
	"sync"

	serr "github.com/felixgeelhaar/stagehand/internal/errors"
	"github.com/felixgeelhaar/stagehand/internal/task"
)

// Output is whatever a handler produces. The executor passes it through to
// the report untouched.
type Output any

// Handler performs the work of one task kind. Execute must return promptly
// once ctx is cancelled.
type Handler interface {
	Execute(ctx context.Context, t task.Task) (Output, error)
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, t task.Task) (Output, error)

// Execute calls f.
func (f HandlerFunc) Execute(ctx context.Context, t task.Task) (Output, error) {
	return f(ctx, t)
}

// Handlers maps task kinds to handlers.
type Handlers struct {
	mu sync.RWMutex
	m  map[string]Handler
}

// NewHandlers returns an empty handler registry.
func NewHandlers() *Handlers {
	return &Handlers{m: make(map[string]Handler)}
}

// Register installs h for kind. Each kind can be registered once.
func (h *Handlers) Register(kind string, handler Handler) error {
	if kind == "" || handler == nil {
		return serr.NewInvalidArgumentError("handler kind and handler are required")
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, exists := h.m[kind]; exists {
		return serr.NewInvalidArgumentError(fmt.Sprintf("handler for kind %q already registered", kind))
	}
	h.m[kind] = handler
	return nil
}

// Lookup returns the handler for kind.
func (h *Handlers) Lookup(kind string) (Handler, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	handler, ok := h.m[kind]
	return handler, ok
}

// Kinds returns the registered kinds, sorted.
func (h *Handlers) Kinds() []string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	kinds := make([]string, 0, len(h.m))
	for k := range h.m {
		kinds = append(kinds, k)
	}
	slices.Sort(kinds)
	return kinds
}

// Hooks run around every handler invocation. Before runs on the worker
// goroutine just ahead of the handler; After runs on the dispatcher once
// the outcome is recorded, so it must not block.
type Hooks struct {
	Before func(ctx context.Context, t task.Task)
	After  func(ctx context.Context, t task.Task, result TaskResult)
}
