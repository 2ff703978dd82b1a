package executor

import (
	"context"
	"sync"

	"github.com/hanpama/hurdles/internal/querykey"
	"github.com/hanpama/hurdles/internal/shape"
)

// Request is what a handler receives for one invocation.
type Request struct {
	// Operation is the bare operation name.
	Operation string
	Kind      querykey.Kind
	// Collection is true for "name[]" keys; the handler is expected to
	// return a collection whose elements match Shape.
	Collection bool
	// Shape is the requested shape. With caching on it may be wider than
	// what this particular caller asked for.
	Shape *shape.Shape
	// Params are the resolved parameters.
	Params map[string]any
	// Inputs holds the outputs of every ancestor task by name, "root"
	// included. The nearest ancestor wins on name clashes.
	//
	// Inputs is nil when the invocation goes through the cache: a cached
	// result is shared by every caller with the same operation and
	// parameters, whatever their ancestors. Handlers that depend on an
	// ancestor's output declare it as a "_" parameter instead.
	Inputs map[string]any
}

// Handler produces the output of one operation: a record
// (map[string]T), a collection (any slice) or a scalar.
//
// Handlers may be called concurrently and must not mutate the request or
// values they returned earlier; returned values can be shared between
// callers through the cache.
type Handler func(ctx context.Context, req Request) (any, error)

// Registry looks up handlers by operation name.
type Registry interface {
	Lookup(operation string) (Handler, bool)
}

// Handlers is a Registry backed by a map. It is safe for concurrent
// lookups once registration is done.
type Handlers map[string]Handler

func (h Handlers) Lookup(operation string) (Handler, bool) {
	fn, ok := h[operation]
	return fn, ok
}

// Register adds or replaces the handler for operation.
func (h Handlers) Register(operation string, fn Handler) { h[operation] = fn }

// Registries chains registries; the first one that knows an operation wins.
type Registries []Registry

func (rs Registries) Lookup(operation string) (Handler, bool) {
	for _, r := range rs {
		if fn, ok := r.Lookup(operation); ok {
			return fn, true
		}
	}
	return nil, false
}

// SyncHandlers is a Registry that allows registration while serving.
type SyncHandlers struct {
	mu sync.RWMutex
	m  map[string]Handler
}

func NewSyncHandlers() *SyncHandlers { return &SyncHandlers{m: make(map[string]Handler)} }

func (s *SyncHandlers) Lookup(operation string) (Handler, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	fn, ok := s.m[operation]
	return fn, ok
}

func (s *SyncHandlers) Register(operation string, fn Handler) {
	s.mu.Lock()
	s.m[operation] = fn
	s.mu.Unlock()
}

// Value returns a handler that always returns v.
func Value(v any) Handler {
	return func(context.Context, Request) (any, error) { return v, nil }
}
