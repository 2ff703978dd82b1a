// Package events declares what the engine and the HTTP front end publish on
// an eventbus.Bus. Subscribers (tracing, metrics, logging) see them
// synchronously with the publisher's context.
package events

import (
	"net/http"
	"time"
)

// HTTPStart is emitted once the request id is assigned.
type HTTPStart struct {
	Request   *http.Request
	RequestID string
}

// HTTPFinish is emitted after the response is written.
type HTTPFinish struct {
	Request   *http.Request
	RequestID string
	Status    int
	Duration  time.Duration
}

// QueryStart is emitted before resolving a query definition.
type QueryStart struct {
	// Tasks is the number of flattened tasks, grouping tasks included.
	Tasks int
}

// QueryFinish is emitted after a query resolved or failed.
type QueryFinish struct {
	Tasks    int
	Err      error
	Duration time.Duration
}

// HandlerStart is emitted before a handler is invoked.
type HandlerStart struct {
	Operation string
	Kind      string
	// Path is the dotted task path, element indexes included.
	Path string
}

// HandlerFinish is emitted after a handler returned.
type HandlerFinish struct {
	Operation string
	Kind      string
	Path      string
	Err       error
	Duration  time.Duration
}

// CacheHit is emitted when a task reuses a cached or in-flight invocation
// instead of calling its handler.
type CacheHit struct {
	Operation string
	Path      string
	// Stored is true when the value came from the completed-result store
	// rather than from an invocation still in flight.
	Stored bool
}

// CacheWiden is emitted when a cached invocation is replaced because a
// caller asked for fields the cached one did not cover.
type CacheWiden struct {
	Operation string
	Path      string
}
