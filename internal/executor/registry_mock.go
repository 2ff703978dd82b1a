package executor

import (
	"context"
	"sync"
)

// Call records one handler invocation seen by a MockRegistry.
type Call struct {
	Operation string
	Kind      string
	Params    map[string]any
	// Shape is the rendered shape the handler was invoked with.
	Shape  string
	Inputs map[string]any
}

// MockRegistry is a Registry that logs every invocation, for tests.
type MockRegistry struct {
	mu       sync.Mutex
	handlers map[string]Handler
	calls    []Call
}

// NewMockRegistry creates a MockRegistry with the provided handlers.
func NewMockRegistry(handlers map[string]Handler) *MockRegistry {
	m := &MockRegistry{handlers: make(map[string]Handler, len(handlers))}
	for k, v := range handlers {
		m.handlers[k] = v
	}
	return m
}

// NewMockErrorHandler returns a Handler that always fails with err.
func NewMockErrorHandler(err error) Handler {
	return func(context.Context, Request) (any, error) { return nil, err }
}

// NewMockShapeHandler returns a Handler echoing the requested shape, with
// every requested field set to value.
func NewMockShapeHandler(value any) Handler {
	return func(_ context.Context, req Request) (any, error) {
		return fill(req.Shape.Raw(), value), nil
	}
}

func fill(raw any, value any) any {
	switch raw := raw.(type) {
	case nil:
		return value
	case map[string]any:
		out := make(map[string]any, len(raw))
		for k, v := range raw {
			out[k] = fill(v, value)
		}
		return out
	default:
		return raw
	}
}

// Set registers or replaces the handler for operation.
func (m *MockRegistry) Set(operation string, h Handler) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handlers[operation] = h
}

func (m *MockRegistry) Lookup(operation string) (Handler, bool) {
	m.mu.Lock()
	h, ok := m.handlers[operation]
	m.mu.Unlock()
	if !ok {
		return nil, false
	}
	return func(ctx context.Context, req Request) (any, error) {
		m.mu.Lock()
		m.calls = append(m.calls, Call{
			Operation: req.Operation,
			Kind:      string(req.Kind),
			Params:    req.Params,
			Shape:     req.Shape.String(),
			Inputs:    req.Inputs,
		})
		m.mu.Unlock()
		return h(ctx, req)
	}, true
}

// Calls returns a copy of the invocation log.
func (m *MockRegistry) Calls() []Call {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Call, len(m.calls))
	copy(out, m.calls)
	return out
}

// CallCount returns how many times operation was invoked.
func (m *MockRegistry) CallCount(operation string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, c := range m.calls {
		if c.Operation == operation {
			n++
		}
	}
	return n
}

// ResetCalls clears the invocation log.
func (m *MockRegistry) ResetCalls() {
	m.mu.Lock()
	m.calls = nil
	m.mu.Unlock()
}
