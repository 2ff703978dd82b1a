// Package cache stores completed handler invocations keyed by operation
// name and resolved parameters.
package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/hanpama/hurdles/internal/shape"
)

// Entry is one completed invocation: the shape the handler was invoked with
// and the value it produced.
type Entry struct {
	Shape *shape.Shape `json:"shape"`
	Value any          `json:"value"`
}

// Store holds completed entries. Implementations must be safe for
// concurrent use. Values handed out are shared and must not be mutated.
type Store interface {
	Get(ctx context.Context, key string) (Entry, bool, error)
	Put(ctx context.Context, key string, e Entry) error
}

// Key builds the cache key of an invocation. Parameters are rendered as JSON,
// whose object keys are sorted, so equal parameter maps give equal keys.
func Key(operation string, params map[string]any) (string, error) {
	if len(params) == 0 {
		return operation + ":{}", nil
	}
	b, err := json.Marshal(params)
	if err != nil {
		return "", fmt.Errorf("cache key for %s: %w", operation, err)
	}
	return operation + ":" + string(b), nil
}

// Memory is a process-local Store.
type Memory struct {
	mu      sync.RWMutex
	entries map[string]Entry
}

func NewMemory() *Memory { return &Memory{entries: make(map[string]Entry)} }

func (m *Memory) Get(_ context.Context, key string) (Entry, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.entries[key]
	return e, ok, nil
}

func (m *Memory) Put(_ context.Context, key string, e Entry) error {
	m.mu.Lock()
	m.entries[key] = e
	m.mu.Unlock()
	return nil
}

// Len returns the number of stored entries.
func (m *Memory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.entries)
}
