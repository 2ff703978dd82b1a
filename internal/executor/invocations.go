package executor

import (
	"context"
	"sync"

	"github.com/hanpama/hurdles/internal/cache"
	"github.com/hanpama/hurdles/internal/eventbus"
	"github.com/hanpama/hurdles/internal/events"
	"github.com/hanpama/hurdles/internal/shape"
)

// invocations deduplicates GET invocations per cache key. In-flight calls
// are tracked here; completed ones live in the store.
type invocations struct {
	store cache.Store

	mu   sync.Mutex
	keys map[string]*keyState
}

type keyState struct {
	mu      sync.Mutex
	pending *pendingCall
}

// pendingCall is an invocation in flight. It runs on a context detached
// from any one caller and is cancelled only when every waiter has left.
type pendingCall struct {
	shape  *shape.Shape
	done   chan struct{}
	value  any
	err    error
	cancel context.CancelFunc
	// waiters is guarded by the keyState mutex.
	waiters int
}

func (p *pendingCall) live() bool { return p != nil && p.waiters > 0 }

func newInvocations(store cache.Store) *invocations {
	return &invocations{store: store, keys: make(map[string]*keyState)}
}

func (c *invocations) state(key string) *keyState {
	c.mu.Lock()
	defer c.mu.Unlock()
	st, ok := c.keys[key]
	if !ok {
		st = &keyState{}
		c.keys[key] = st
	}
	return st
}

// do returns a value produced for req's key with a shape covering req's,
// invoking fn only when neither the in-flight call nor the stored entry
// covers it. A new invocation asks for the union of everything requested
// under the key so far.
func (c *invocations) do(ctx context.Context, e *Engine, fn Handler, req Request, path string) (any, error) {
	key, err := cache.Key(req.Operation, req.Params)
	if err != nil {
		e.log.WarnContext(ctx, "uncacheable parameters", "operation", req.Operation, "error", err)
		return e.call(ctx, fn, req, path)
	}
	want := req.Shape
	if req.Collection {
		want = shape.NewMany(want)
	}

	st := c.state(key)
	st.mu.Lock()
	if p := st.pending; p.live() && shape.Covers(p.shape, want) {
		p.waiters++
		st.mu.Unlock()
		e.log.DebugContext(ctx, "joining in-flight invocation", "key", key, "path", path)
		eventbus.Publish(ctx, e.bus, events.CacheHit{Operation: req.Operation, Path: path})
		return st.wait(ctx, p, req.Operation, path)
	}

	entry, stored, err := c.store.Get(ctx, key)
	if err != nil {
		e.log.WarnContext(ctx, "cache read failed", "key", key, "error", err)
		stored = false
	}
	if stored && shape.Covers(entry.Shape, want) {
		st.mu.Unlock()
		e.log.DebugContext(ctx, "cache hit", "key", key, "path", path)
		eventbus.Publish(ctx, e.bus, events.CacheHit{Operation: req.Operation, Path: path, Stored: true})
		return entry.Value, nil
	}

	union := want
	if stored {
		union = shape.Union(entry.Shape, union)
	}
	inFlight := st.pending.live()
	if inFlight {
		union = shape.Union(st.pending.shape, union)
	}
	if stored || inFlight {
		e.log.DebugContext(ctx, "widening cached invocation", "key", key, "shape", union.String())
		eventbus.Publish(ctx, e.bus, events.CacheWiden{Operation: req.Operation, Path: path})
	}
	callCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	p := &pendingCall{shape: union, done: make(chan struct{}), cancel: cancel, waiters: 1}
	st.pending = p
	st.mu.Unlock()

	widened := req
	widened.Shape = union
	if union.Kind == shape.Many {
		widened.Shape = union.Elem
	}
	go c.run(callCtx, e, fn, widened, path, key, st, p)
	return st.wait(ctx, p, req.Operation, path)
}

// run invokes fn for p and stores the result if p is still the latest
// invocation for its key.
func (c *invocations) run(ctx context.Context, e *Engine, fn Handler, req Request, path, key string, st *keyState, p *pendingCall) {
	defer p.cancel()
	p.value, p.err = e.call(ctx, fn, req, path)

	st.mu.Lock()
	if st.pending == p {
		st.pending = nil
		if p.err == nil {
			if err := c.store.Put(ctx, key, cache.Entry{Shape: p.shape, Value: p.value}); err != nil {
				e.log.WarnContext(ctx, "cache write failed", "key", key, "error", err)
			}
		}
	}
	st.mu.Unlock()
	close(p.done)
}

// wait blocks until p completes or ctx is done. The last waiter to leave
// cancels the invocation.
func (st *keyState) wait(ctx context.Context, p *pendingCall, op, path string) (any, error) {
	select {
	case <-p.done:
		return p.value, p.err
	case <-ctx.Done():
		st.mu.Lock()
		p.waiters--
		if p.waiters == 0 {
			p.cancel()
		}
		st.mu.Unlock()
		return nil, handlerFailed(op, path, ctx.Err())
	}
}
