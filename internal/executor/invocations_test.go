package executor

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hanpama/hurdles/internal/cache"
	"github.com/hanpama/hurdles/internal/eventbus"
	"github.com/hanpama/hurdles/internal/events"
)

func TestCache_Idempotent(t *testing.T) {
	reg := newTestRegistry()
	e := New(reg)
	def := map[string]any{"user()": map[string]any{"id": nil, "name": nil}}

	first := mustRun(t, e, def)
	require.Equal(t, 1, reg.CallCount("user"))

	second := mustRun(t, e, def)
	assert.Equal(t, 1, reg.CallCount("user"))
	if diff := cmp.Diff(first, second); diff != "" {
		t.Fatalf("cached output differs (-first +second):\n%s", diff)
	}
}

func TestCache_Widening(t *testing.T) {
	reg := newTestRegistry()
	e := New(reg)

	mustRun(t, e, map[string]any{"user()": map[string]any{"id": nil}})
	got := mustRun(t, e, map[string]any{"user()": map[string]any{"id": nil, "name": nil}})
	assert.Equal(t, map[string]any{"user": map[string]any{"id": 1, "name": "Tim"}}, got)

	calls := reg.Calls()
	require.Len(t, calls, 2)
	assert.Equal(t, "{id}", calls[0].Shape)
	assert.Equal(t, "{id name}", calls[1].Shape)

	// Both earlier shapes are covered by the widened entry.
	mustRun(t, e, map[string]any{"user()": map[string]any{"id": nil, "name": nil}})
	mustRun(t, e, map[string]any{"user()": map[string]any{"name": nil}})
	assert.Len(t, reg.Calls(), 2)
}

func TestCache_WideningKeepsEarlierFields(t *testing.T) {
	reg := newTestRegistry()
	e := New(reg)

	mustRun(t, e, map[string]any{"user()": map[string]any{"id": nil}})
	mustRun(t, e, map[string]any{"user()": map[string]any{"name": nil}})

	calls := reg.Calls()
	require.Len(t, calls, 2)
	assert.Equal(t, "{id name}", calls[1].Shape)
}

func TestCache_DistinctParams(t *testing.T) {
	reg := newTestRegistry()
	e := New(reg)

	mustRun(t, e, map[string]any{"user(id:1)": map[string]any{"id": nil}})
	mustRun(t, e, map[string]any{"user(id:2)": map[string]any{"id": nil}})
	mustRun(t, e, map[string]any{"user(id:1)": map[string]any{"id": nil}})
	assert.Equal(t, 2, reg.CallCount("user"))
}

func TestCache_Disabled(t *testing.T) {
	reg := newTestRegistry()
	e := New(reg, WithCache(false))
	def := map[string]any{"user()": map[string]any{"id": nil}}

	mustRun(t, e, def)
	mustRun(t, e, def)
	assert.Equal(t, 2, reg.CallCount("user"))
}

func TestCache_SiblingElementsShareInvocation(t *testing.T) {
	def := map[string]any{
		"arrayOfObjects[]": map[string]any{
			"foo()": map[string]any{"a": nil},
		},
	}

	t.Run("cache on", func(t *testing.T) {
		reg := newTestRegistry()
		mustRun(t, New(reg), def)
		assert.Equal(t, 1, reg.CallCount("foo"))
	})
	t.Run("cache off", func(t *testing.T) {
		reg := newTestRegistry()
		mustRun(t, New(reg, WithCache(false)), def)
		assert.Equal(t, 3, reg.CallCount("foo"))
	})
}

func TestCache_ConcurrentFirstCallers(t *testing.T) {
	release := make(chan struct{})
	var invoked atomic.Int32
	reg := NewMockRegistry(map[string]Handler{
		"slow": func(ctx context.Context, _ Request) (any, error) {
			invoked.Add(1)
			select {
			case <-release:
			case <-ctx.Done():
				return nil, ctx.Err()
			}
			return map[string]any{"v": 1}, nil
		},
	})
	e := New(reg)

	const callers = 8
	var wg sync.WaitGroup
	errs := make(chan error, callers)
	for range callers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := e.Run(context.Background(), map[string]any{"slow()": map[string]any{"v": nil}})
			errs <- err
		}()
	}
	time.Sleep(20 * time.Millisecond)
	close(release)
	wg.Wait()
	close(errs)

	for err := range errs {
		require.NoError(t, err)
	}
	assert.Equal(t, int32(1), invoked.Load())
}

func TestCache_MutationsBypass(t *testing.T) {
	reg := newTestRegistry()
	e := New(reg)
	def := map[string]any{"new user()": map[string]any{"id": nil}}

	mustRun(t, e, def)
	mustRun(t, e, def)

	calls := reg.Calls()
	require.Len(t, calls, 2)
	assert.Equal(t, "new", calls[0].Kind)
}

func TestCache_FailuresNotStored(t *testing.T) {
	var fail atomic.Bool
	fail.Store(true)
	reg := NewMockRegistry(map[string]Handler{
		"flaky": func(context.Context, Request) (any, error) {
			if fail.Load() {
				return nil, errors.New("unavailable")
			}
			return map[string]any{"ok": true}, nil
		},
	})
	store := cache.NewMemory()
	e := New(reg, WithStore(store))
	def := map[string]any{"flaky()": map[string]any{"ok": nil}}

	_, err := e.Run(context.Background(), def)
	require.ErrorIs(t, err, ErrHandler)
	assert.Equal(t, 0, store.Len())

	fail.Store(false)
	got := mustRun(t, e, def)
	assert.Equal(t, map[string]any{"flaky": map[string]any{"ok": true}}, got)
	assert.Equal(t, 1, store.Len())
	assert.Equal(t, 2, reg.CallCount("flaky"))
}

func TestCache_SharedStore(t *testing.T) {
	store := cache.NewMemory()
	first := newTestRegistry()
	second := newTestRegistry()
	def := map[string]any{"user()": map[string]any{"id": nil}}

	mustRun(t, New(first, WithStore(store)), def)
	got := mustRun(t, New(second, WithStore(store)), def)

	assert.Equal(t, map[string]any{"user": map[string]any{"id": 1}}, got)
	assert.Equal(t, 1, first.CallCount("user"))
	assert.Equal(t, 0, second.CallCount("user"))

	entry, ok, err := store.Get(context.Background(), "user:{}")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "{id}", entry.Shape.String())
}

func TestCache_CollectionShapeStoredAsMany(t *testing.T) {
	store := cache.NewMemory()
	reg := newTestRegistry()
	e := New(reg, WithStore(store))

	mustRun(t, e, map[string]any{"arrayOfObjects[]": map[string]any{"x": nil}})
	entry, ok, err := store.Get(context.Background(), "arrayOfObjects:{}")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "[{x}]", entry.Shape.String())
	assert.Equal(t, "{x}", reg.Calls()[0].Shape)
}

type failingStore struct{}

func (failingStore) Get(context.Context, string) (cache.Entry, bool, error) {
	return cache.Entry{}, false, errors.New("store down")
}

func (failingStore) Put(context.Context, string, cache.Entry) error {
	return errors.New("store down")
}

func TestCache_StoreErrorsAreMisses(t *testing.T) {
	reg := newTestRegistry()
	e := New(reg, WithStore(failingStore{}))
	def := map[string]any{"user()": map[string]any{"id": nil}}

	mustRun(t, e, def)
	mustRun(t, e, def)
	assert.Equal(t, 2, reg.CallCount("user"))
}

func TestCache_Events(t *testing.T) {
	bus := eventbus.New()
	var mu sync.Mutex
	var starts, hits, widens int
	count := func(n *int) {
		mu.Lock()
		*n++
		mu.Unlock()
	}
	eventbus.Subscribe(bus, func(context.Context, events.HandlerStart) { count(&starts) })
	eventbus.Subscribe(bus, func(context.Context, events.CacheHit) { count(&hits) })
	eventbus.Subscribe(bus, func(context.Context, events.CacheWiden) { count(&widens) })

	e := New(newTestRegistry(), WithEventBus(bus))
	mustRun(t, e, map[string]any{"user()": map[string]any{"id": nil}})
	mustRun(t, e, map[string]any{"user()": map[string]any{"id": nil}})
	mustRun(t, e, map[string]any{"user()": map[string]any{"name": nil}})

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 2, starts)
	assert.Equal(t, 1, hits)
	assert.Equal(t, 1, widens)
}

func TestRun_QueryEvents(t *testing.T) {
	bus := eventbus.New()
	var finish events.QueryFinish
	eventbus.Subscribe(bus, func(_ context.Context, e events.QueryFinish) { finish = e })

	e := New(newTestRegistry(), WithEventBus(bus))
	_, err := e.Run(context.Background(), map[string]any{"nope()": nil})
	require.Error(t, err)
	assert.Equal(t, 1, finish.Tasks)
	assert.ErrorIs(t, finish.Err, ErrUnknownOperation)
}

func TestRun_MaxConcurrency(t *testing.T) {
	var running, peak atomic.Int32
	reg := NewMockRegistry(map[string]Handler{
		"items": Value([]any{
			map[string]any{"id": 1}, map[string]any{"id": 2},
			map[string]any{"id": 3}, map[string]any{"id": 4},
		}),
		"detail": func(_ context.Context, req Request) (any, error) {
			n := running.Add(1)
			defer running.Add(-1)
			for {
				p := peak.Load()
				if n <= p || peak.CompareAndSwap(p, n) {
					break
				}
			}
			time.Sleep(5 * time.Millisecond)
			return map[string]any{"of": req.Params["items"]}, nil
		},
	})
	e := New(reg, WithMaxConcurrency(1))
	mustRun(t, e, map[string]any{
		"items[]": map[string]any{
			"detail()": map[string]any{"_": map[string]any{"items": nil}, "of": nil},
		},
	})
	assert.Equal(t, 4, reg.CallCount("detail"))
	assert.Equal(t, int32(1), peak.Load())
}

func TestRun_ContextCancelled(t *testing.T) {
	reg := NewMockRegistry(map[string]Handler{
		"block": func(ctx context.Context, _ Request) (any, error) {
			<-ctx.Done()
			return nil, ctx.Err()
		},
	})
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err := New(reg).Run(ctx, map[string]any{"block()": nil})
	assert.ErrorIs(t, err, ErrHandler)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestCache_JoinerSurvivesCreatorFailure(t *testing.T) {
	started := make(chan struct{}, 1)
	release := make(chan struct{})
	fire := make(chan struct{})
	var invoked atomic.Int32
	reg := NewMockRegistry(map[string]Handler{
		"slow": func(ctx context.Context, _ Request) (any, error) {
			invoked.Add(1)
			started <- struct{}{}
			select {
			case <-release:
				return map[string]any{"v": 1}, nil
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		},
		"boom": func(ctx context.Context, _ Request) (any, error) {
			<-fire
			return nil, errors.New("boom")
		},
	})
	bus := eventbus.New()
	joined := make(chan struct{}, 1)
	eventbus.Subscribe(bus, func(context.Context, events.CacheHit) { joined <- struct{}{} })
	e := New(reg, WithEventBus(bus))

	errA := make(chan error, 1)
	go func() {
		_, err := e.Run(context.Background(), map[string]any{
			"slow()": map[string]any{"v": nil},
			"boom()": nil,
		})
		errA <- err
	}()
	<-started

	type result struct {
		out any
		err error
	}
	resB := make(chan result, 1)
	go func() {
		out, err := e.Run(context.Background(), map[string]any{"slow()": map[string]any{"v": nil}})
		resB <- result{out, err}
	}()
	<-joined

	close(fire)
	err := <-errA
	require.ErrorIs(t, err, ErrHandler)
	assert.Contains(t, err.Error(), "boom")

	close(release)
	b := <-resB
	require.NoError(t, b.err)
	assert.Equal(t, map[string]any{"slow": map[string]any{"v": 1}}, b.out)
	assert.Equal(t, int32(1), invoked.Load())
}

func TestCache_AbandonedInvocationIsCancelled(t *testing.T) {
	cancelled := make(chan struct{})
	reg := NewMockRegistry(map[string]Handler{
		"block": func(ctx context.Context, _ Request) (any, error) {
			<-ctx.Done()
			close(cancelled)
			return nil, ctx.Err()
		},
	})
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err := New(reg).Run(ctx, map[string]any{"block()": nil})
	require.ErrorIs(t, err, context.DeadlineExceeded)

	select {
	case <-cancelled:
	case <-time.After(time.Second):
		t.Fatal("handler was not cancelled after its only caller left")
	}
}

func TestCache_ConcurrentOverlappingShapes(t *testing.T) {
	started := make(chan struct{}, 2)
	release := make(chan struct{})
	reg := NewMockRegistry(map[string]Handler{
		"user": func(context.Context, Request) (any, error) {
			started <- struct{}{}
			<-release
			return map[string]any{"id": 1, "name": "Tim"}, nil
		},
	})
	bus := eventbus.New()
	joined := make(chan events.CacheHit, 1)
	eventbus.Subscribe(bus, func(_ context.Context, e events.CacheHit) { joined <- e })
	store := cache.NewMemory()
	e := New(reg, WithStore(store), WithEventBus(bus))

	var wg sync.WaitGroup
	results := make([]any, 3)
	errs := make([]error, 3)
	run := func(i int, def map[string]any) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results[i], errs[i] = e.Run(context.Background(), def)
		}()
	}

	run(0, map[string]any{"user()": map[string]any{"id": nil}})
	<-started
	run(1, map[string]any{"user()": map[string]any{"id": nil, "name": nil}})
	<-started
	run(2, map[string]any{"user()": map[string]any{"id": nil}})
	hit := <-joined
	assert.False(t, hit.Stored)

	close(release)
	wg.Wait()
	for _, err := range errs {
		require.NoError(t, err)
	}

	calls := reg.Calls()
	require.Len(t, calls, 2)
	assert.Equal(t, "{id}", calls[0].Shape)
	assert.Equal(t, "{id name}", calls[1].Shape)

	assert.Equal(t, map[string]any{"user": map[string]any{"id": 1}}, results[0])
	assert.Equal(t, map[string]any{"user": map[string]any{"id": 1, "name": "Tim"}}, results[1])
	assert.Equal(t, map[string]any{"user": map[string]any{"id": 1}}, results[2])

	entry, ok, err := store.Get(context.Background(), "user:{}")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "{id name}", entry.Shape.String())
}
