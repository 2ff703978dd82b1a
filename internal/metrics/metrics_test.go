package metrics

import (
	"context"
	"errors"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"

	"github.com/hanpama/hurdles/internal/eventbus"
	"github.com/hanpama/hurdles/internal/events"
)

func TestAttach(t *testing.T) {
	c := New()
	bus := eventbus.New()
	defer c.Attach(bus)()
	ctx := context.Background()

	eventbus.Publish(ctx, bus, events.QueryFinish{Tasks: 2, Duration: time.Millisecond})
	eventbus.Publish(ctx, bus, events.QueryFinish{Err: errors.New("boom")})
	eventbus.Publish(ctx, bus, events.HandlerFinish{Operation: "user", Kind: "get", Duration: time.Millisecond})
	eventbus.Publish(ctx, bus, events.CacheHit{Operation: "user", Stored: true})
	eventbus.Publish(ctx, bus, events.CacheHit{Operation: "user"})
	eventbus.Publish(ctx, bus, events.CacheWiden{Operation: "user"})
	eventbus.Publish(ctx, bus, events.HTTPFinish{Request: httptest.NewRequest("POST", "/", nil), Status: 200})

	assert.Equal(t, 1.0, testutil.ToFloat64(c.queries.WithLabelValues("ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.queries.WithLabelValues("error")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.handlerCalls.WithLabelValues("user", "get", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.cacheHits.WithLabelValues("user", "stored")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.cacheHits.WithLabelValues("user", "inflight")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.cacheWidens.WithLabelValues("user")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.httpRequests.WithLabelValues("POST", "200")))
}

func TestHandler(t *testing.T) {
	c := New()
	bus := eventbus.New()
	defer c.Attach(bus)()
	eventbus.Publish(context.Background(), bus, events.CacheWiden{Operation: "posts"})

	w := httptest.NewRecorder()
	c.Handler().ServeHTTP(w, httptest.NewRequest("GET", "/metrics", nil))
	assert.Equal(t, 200, w.Code)
	body := w.Body.String()
	assert.True(t, strings.Contains(body, `hurdles_cache_widens_total{operation="posts"} 1`), body)
}
