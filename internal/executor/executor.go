package executor

import (
	"context"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/hanpama/hurdles/internal/cache"
	"github.com/hanpama/hurdles/internal/eventbus"
	"github.com/hanpama/hurdles/internal/events"
	"github.com/hanpama/hurdles/internal/planner"
	"github.com/hanpama/hurdles/internal/shape"
)

type Engine struct {
	registry Registry
	bus      *eventbus.Bus
	log      *slog.Logger
	sem      *semaphore.Weighted

	cacheOn bool
	store   cache.Store
	calls   *invocations
}

type Option func(*Engine)

// WithCache turns invocation caching on or off. Default on.
func WithCache(on bool) Option { return func(e *Engine) { e.cacheOn = on } }

// WithStore sets where completed invocations are kept. Default is a
// process-local cache.Memory.
func WithStore(s cache.Store) Option { return func(e *Engine) { e.store = s } }

func WithEventBus(b *eventbus.Bus) Option { return func(e *Engine) { e.bus = b } }

func WithLogger(l *slog.Logger) Option { return func(e *Engine) { e.log = l } }

// WithMaxConcurrency bounds the number of handlers running at once across
// all queries of the engine. Zero or less means unbounded.
func WithMaxConcurrency(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.sem = semaphore.NewWeighted(int64(n))
		} else {
			e.sem = nil
		}
	}
}

func New(registry Registry, opts ...Option) *Engine {
	e := &Engine{
		registry: registry,
		log:      slog.New(slog.DiscardHandler),
		cacheOn:  true,
	}
	for _, o := range opts {
		o(e)
	}
	if e.cacheOn {
		if e.store == nil {
			e.store = cache.NewMemory()
		}
		e.calls = newInvocations(e.store)
	}
	return e
}

// Run resolves def and returns the reconciled output, a map[string]any
// mirroring def with operation keys replaced by their names.
func (e *Engine) Run(ctx context.Context, def map[string]any) (out any, err error) {
	start := time.Now()
	tasks := planner.Flatten(def)
	eventbus.Publish(ctx, e.bus, events.QueryStart{Tasks: len(tasks)})
	defer func() {
		eventbus.Publish(ctx, e.bus, events.QueryFinish{
			Tasks:    len(tasks),
			Err:      err,
			Duration: time.Since(start),
		})
	}()

	for _, t := range tasks {
		if !t.Operation {
			continue
		}
		if _, ok := e.registry.Lookup(t.Name); !ok {
			return nil, unknownOperation(t.Name, t.ID())
		}
	}

	r := &run{engine: e, tree: planner.BuildTree(tasks)}
	rootOutput := map[string]any{}
	root := &scope{name: planner.RootID, value: rootOutput}
	raw, err := r.expand(ctx, planner.RootID, "", root, rootOutput)
	if err != nil {
		return nil, err
	}
	result, err := reconcileRecord(shape.Extract(def), raw, "")
	if err != nil {
		return nil, err
	}
	return result, nil
}

// scope is the chain of outputs from a task up to the root.
type scope struct {
	name   string
	value  any
	parent *scope
}

// lookup returns the value of the nearest scope named name.
func (s *scope) lookup(name string) (any, bool) {
	for ; s != nil; s = s.parent {
		if s.name == name && s.value != nil {
			return s.value, true
		}
	}
	return nil, false
}

// inputs flattens the chain; nearer scopes shadow farther ones.
func (s *scope) inputs() map[string]any {
	in := make(map[string]any)
	for ; s != nil; s = s.parent {
		if _, ok := in[s.name]; !ok {
			in[s.name] = s.value
		}
	}
	return in
}

// run is the state of one Engine.Run call.
type run struct {
	engine *Engine
	tree   *planner.Tree
}

// expand copies rec and adds the output of every child of task id under
// the child's name. Children run concurrently.
func (r *run) expand(ctx context.Context, id, path string, sc *scope, rec map[string]any) (map[string]any, error) {
	children := r.tree.Children(id)
	out := make(map[string]any, len(rec)+len(children))
	maps.Copy(out, rec)
	if len(children) == 0 {
		return out, nil
	}

	results := make([]any, len(children))
	g, gctx := errgroup.WithContext(ctx)
	for i, child := range children {
		g.Go(func() error {
			v, err := r.runTask(gctx, child, joinPath(path, child.Key), sc)
			if err != nil {
				return err
			}
			results[i] = v
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	for i, child := range children {
		out[child.Name] = results[i]
	}
	return out, nil
}

func (r *run) runTask(ctx context.Context, t *planner.Task, path string, sc *scope) (any, error) {
	if !t.Operation {
		rec := map[string]any{}
		return r.expand(ctx, t.ID(), path, &scope{name: t.Name, value: rec, parent: sc}, rec)
	}

	params, err := resolveParams(t, path, sc)
	if err != nil {
		return nil, err
	}
	v, err := r.engine.invoke(ctx, t, path, params, sc)
	if err != nil {
		return nil, err
	}

	out, kind := normalize(v)
	switch {
	case t.Collection && kind == collectionOutput:
		return r.fanOut(ctx, t, path, sc, out.([]any))
	case t.Collection && out == nil:
		return nil, nil
	case t.Collection:
		return nil, shapeMismatch(t.Name, path, "collection", v)
	case kind == collectionOutput:
		return nil, shapeMismatch(t.Name, path, "record or scalar", v)
	case kind == recordOutput:
		rec := out.(map[string]any)
		return r.expand(ctx, t.ID(), path, &scope{name: t.Name, value: rec, parent: sc}, rec)
	default:
		return out, nil
	}
}

// fanOut continues every element of a collection output as if it were the
// task's own output. Scalar elements are kept as they are.
func (r *run) fanOut(ctx context.Context, t *planner.Task, path string, sc *scope, elems []any) ([]any, error) {
	results := make([]any, len(elems))
	g, gctx := errgroup.WithContext(ctx)
	for i, elem := range elems {
		rec, ok := asRecord(elem)
		if !ok {
			results[i] = elem
			continue
		}
		elemPath := fmt.Sprintf("%s[%d]", path, i)
		g.Go(func() error {
			v, err := r.expand(gctx, t.ID(), elemPath, &scope{name: t.Name, value: rec, parent: sc}, rec)
			if err != nil {
				return err
			}
			results[i] = v
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

// resolveParams fills nil parameters from the nearest ancestor output of
// the same name.
func resolveParams(t *planner.Task, path string, sc *scope) (map[string]any, error) {
	params := make(map[string]any, len(t.Params))
	for _, name := range slices.Sorted(maps.Keys(t.Params)) {
		v := t.Params[name]
		if v == nil {
			var ok bool
			if v, ok = sc.lookup(name); !ok {
				return nil, unresolvedParam(t.Name, name, path, t.Params)
			}
		}
		params[name] = v
	}
	return params, nil
}

func (e *Engine) invoke(ctx context.Context, t *planner.Task, path string, params map[string]any, sc *scope) (any, error) {
	fn, ok := e.registry.Lookup(t.Name)
	if !ok {
		return nil, unknownOperation(t.Name, path)
	}
	req := Request{
		Operation:  t.Name,
		Kind:       t.Kind,
		Collection: t.Collection,
		Shape:      t.Shape,
		Params:     params,
	}
	if e.calls == nil || t.Kind.Mutates() {
		req.Inputs = sc.inputs()
		return e.call(ctx, fn, req, path)
	}
	return e.calls.do(ctx, e, fn, req, path)
}

// call invokes fn once, honouring the concurrency limit.
func (e *Engine) call(ctx context.Context, fn Handler, req Request, path string) (any, error) {
	if e.sem != nil {
		if err := e.sem.Acquire(ctx, 1); err != nil {
			return nil, handlerFailed(req.Operation, path, err)
		}
		defer e.sem.Release(1)
	}

	start := time.Now()
	eventbus.Publish(ctx, e.bus, events.HandlerStart{
		Operation: req.Operation,
		Kind:      string(req.Kind),
		Path:      path,
	})
	e.log.DebugContext(ctx, "invoking handler",
		"operation", req.Operation, "kind", req.Kind, "path", path, "shape", req.Shape.String())

	v, err := fn(ctx, req)

	eventbus.Publish(ctx, e.bus, events.HandlerFinish{
		Operation: req.Operation,
		Kind:      string(req.Kind),
		Path:      path,
		Err:       err,
		Duration:  time.Since(start),
	})
	if err != nil {
		e.log.DebugContext(ctx, "handler failed", "operation", req.Operation, "path", path, "error", err)
		return nil, handlerFailed(req.Operation, path, err)
	}
	return v, nil
}

func joinPath(path, key string) string {
	if path == "" {
		return key
	}
	var b strings.Builder
	b.Grow(len(path) + 1 + len(key))
	b.WriteString(path)
	b.WriteByte('.')
	b.WriteString(key)
	return b.String()
}
