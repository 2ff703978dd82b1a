// Package otel turns engine and server events into OpenTelemetry spans.
package otel

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/semconv/v1.17.0"
	"go.opentelemetry.io/otel/trace"
	"google.golang.org/grpc"

	"github.com/hanpama/hurdles/internal/eventbus"
	"github.com/hanpama/hurdles/internal/events"
	"github.com/hanpama/hurdles/internal/reqid"
)

const tracerName = "hurdles"

// Setup exports traces to an OTLP/gRPC collector at endpoint and attaches
// a span subscriber to bus. If endpoint is empty, no telemetry is
// configured.
func Setup(ctx context.Context, bus *eventbus.Bus, endpoint, service string) (func(context.Context) error, error) {
	if endpoint == "" {
		return func(context.Context) error { return nil }, nil
	}
	exp, err := otlptracegrpc.New(ctx,
		otlptracegrpc.WithEndpoint(endpoint),
		otlptracegrpc.WithDialOption(grpc.WithInsecure()))
	if err != nil {
		return nil, err
	}
	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exp),
		sdktrace.WithResource(resource.NewWithAttributes(
			semconv.SchemaURL,
			semconv.ServiceName(service),
		)),
	)
	otel.SetTracerProvider(tp)

	detach := Attach(bus, tp)
	return func(ctx context.Context) error {
		detach()
		return tp.Shutdown(ctx)
	}, nil
}

// Attach subscribes span producers to bus using tp. Spans are correlated by
// request id: HTTP request > query > handler call. It returns a function
// removing the subscriptions.
func Attach(bus *eventbus.Bus, tp trace.TracerProvider) func() {
	s := &subscriber{tracer: tp.Tracer(tracerName)}
	return s.register(bus)
}

type subscriber struct {
	tracer       trace.Tracer
	httpSpans    sync.Map // rid -> trace.Span
	querySpans   sync.Map // rid -> trace.Span
	handlerSpans sync.Map // rid|path -> trace.Span
}

func (s *subscriber) parent(ctx context.Context, rid string, spans ...*sync.Map) context.Context {
	for _, m := range spans {
		if v, ok := m.Load(rid); ok {
			return trace.ContextWithSpan(ctx, v.(trace.Span))
		}
	}
	return ctx
}

func end(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

func (s *subscriber) register(bus *eventbus.Bus) func() {
	unsubs := []func(){
		eventbus.Subscribe(bus, func(ctx context.Context, e events.HTTPStart) {
			_, span := s.tracer.Start(ctx, "http.request")
			span.SetAttributes(
				semconv.HTTPMethodKey.String(e.Request.Method),
				attribute.String("http.target", e.Request.URL.Path),
				attribute.String("http.request_id", e.RequestID),
			)
			s.httpSpans.Store(e.RequestID, span)
		}),

		eventbus.Subscribe(bus, func(ctx context.Context, e events.HTTPFinish) {
			v, ok := s.httpSpans.LoadAndDelete(e.RequestID)
			if !ok {
				return
			}
			span := v.(trace.Span)
			span.SetAttributes(semconv.HTTPStatusCodeKey.Int(e.Status))
			if e.Status >= 500 {
				span.SetStatus(codes.Error, "server error")
			}
			span.End()
		}),

		eventbus.Subscribe(bus, func(ctx context.Context, e events.QueryStart) {
			rid, _ := reqid.FromContext(ctx)
			_, span := s.tracer.Start(s.parent(ctx, rid, &s.httpSpans), "hurdles.query")
			span.SetAttributes(attribute.Int("hurdles.tasks", e.Tasks))
			s.querySpans.Store(rid, span)
		}),

		eventbus.Subscribe(bus, func(ctx context.Context, e events.QueryFinish) {
			rid, _ := reqid.FromContext(ctx)
			v, ok := s.querySpans.LoadAndDelete(rid)
			if !ok {
				return
			}
			end(v.(trace.Span), e.Err)
		}),

		eventbus.Subscribe(bus, func(ctx context.Context, e events.HandlerStart) {
			rid, _ := reqid.FromContext(ctx)
			_, span := s.tracer.Start(s.parent(ctx, rid, &s.querySpans, &s.httpSpans), "hurdles.handler")
			span.SetAttributes(
				attribute.String("hurdles.operation", e.Operation),
				attribute.String("hurdles.kind", e.Kind),
				attribute.String("hurdles.path", e.Path),
			)
			s.handlerSpans.Store(rid+"|"+e.Path, span)
		}),

		eventbus.Subscribe(bus, func(ctx context.Context, e events.HandlerFinish) {
			rid, _ := reqid.FromContext(ctx)
			v, ok := s.handlerSpans.LoadAndDelete(rid + "|" + e.Path)
			if !ok {
				return
			}
			end(v.(trace.Span), e.Err)
		}),

		eventbus.Subscribe(bus, func(ctx context.Context, e events.CacheHit) {
			rid, _ := reqid.FromContext(ctx)
			if v, ok := s.querySpans.Load(rid); ok {
				v.(trace.Span).AddEvent("cache.hit", trace.WithAttributes(
					attribute.String("hurdles.operation", e.Operation),
					attribute.String("hurdles.path", e.Path),
					attribute.Bool("hurdles.cache.stored", e.Stored),
				))
			}
		}),
	}
	return func() {
		for _, u := range unsubs {
			u()
		}
	}
}
