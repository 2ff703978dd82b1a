// Package server exposes a query engine over HTTP.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/hanpama/hurdles/internal/eventbus"
	"github.com/hanpama/hurdles/internal/events"
	"github.com/hanpama/hurdles/internal/executor"
	"github.com/hanpama/hurdles/internal/reqid"
)

// Runner resolves one query definition. *executor.Engine implements it.
type Runner interface {
	Run(ctx context.Context, def map[string]any) (any, error)
}

// Handler is an http.Handler serving query definitions.
//
//	POST /        JSON body is the query definition
//	GET  /?q=...  same, URL-encoded JSON in q
//	GET  /        without q, and GET /healthz: "OK"
type Handler struct {
	engine Runner
	opt    Options
	router chi.Router
}

type Options struct {
	// Timeout sets a default timeout if the incoming request context has none.
	// 0 means no default timeout.
	Timeout time.Duration

	// Pretty enables indented JSON responses (useful for dev).
	Pretty bool

	// MaxBodyBytes limits the size of the request body. 0 means unlimited.
	MaxBodyBytes int64

	// CORS configuration. If AllowedOrigins is empty, CORS is disabled.
	CORS CORSOptions

	Bus    *eventbus.Bus
	Logger *slog.Logger

	// Mounts are extra handlers by path, e.g. /metrics.
	Mounts map[string]http.Handler
}

type Option func(*Options)

func WithTimeout(d time.Duration) Option { return func(o *Options) { o.Timeout = d } }
func WithPretty() Option                 { return func(o *Options) { o.Pretty = true } }
func WithMaxBodyBytes(n int64) Option    { return func(o *Options) { o.MaxBodyBytes = n } }
func WithCORS(origins ...string) Option {
	return func(o *Options) { o.CORS.AllowedOrigins = origins }
}
func WithEventBus(b *eventbus.Bus) Option { return func(o *Options) { o.Bus = b } }
func WithLogger(l *slog.Logger) Option    { return func(o *Options) { o.Logger = l } }
func WithMount(path string, h http.Handler) Option {
	return func(o *Options) {
		if o.Mounts == nil {
			o.Mounts = make(map[string]http.Handler)
		}
		o.Mounts[path] = h
	}
}

// CORSOptions holds simple CORS settings.
type CORSOptions struct {
	AllowedOrigins []string
}

// New creates a handler serving engine.
func New(engine Runner, opts ...Option) *Handler {
	op := Options{Timeout: 10 * time.Second, Logger: slog.New(slog.DiscardHandler)}
	for _, f := range opts {
		f(&op)
	}
	h := &Handler{engine: engine, opt: op}

	r := chi.NewRouter()
	r.Use(h.observe)
	if len(op.CORS.AllowedOrigins) > 0 {
		r.Use(h.cors)
	}
	r.Get("/healthz", h.health)
	r.Get("/", h.get)
	r.Post("/", h.post)
	for path, mount := range op.Mounts {
		r.Handle(path, mount)
	}
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusMethodNotAllowed, errorBody{Message: "method not allowed", Kind: "bad_request"}, h.opt.Pretty)
	})
	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusNotFound, errorBody{Message: "not found", Kind: "bad_request"}, h.opt.Pretty)
	})
	h.router = r
	return h
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) { h.router.ServeHTTP(w, r) }

// statusRecorder captures the status written by the wrapped handler.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(code int) {
	s.status = code
	s.ResponseWriter.WriteHeader(code)
}

// observe assigns the request id, applies the default timeout, publishes
// HTTP events and logs the request.
func (h *Handler) observe(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		if _, ok := ctx.Deadline(); !ok && h.opt.Timeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, h.opt.Timeout)
			defer cancel()
		}
		ctx, rid := reqid.NewContext(ctx, r.Header.Get(reqid.Header))
		w.Header().Set(reqid.Header, rid)
		r = r.WithContext(ctx)

		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()
		eventbus.Publish(ctx, h.opt.Bus, events.HTTPStart{Request: r, RequestID: rid})
		defer func() {
			d := time.Since(start)
			eventbus.Publish(ctx, h.opt.Bus, events.HTTPFinish{Request: r, RequestID: rid, Status: rec.status, Duration: d})
			h.opt.Logger.InfoContext(ctx, "http request",
				"method", r.Method, "path", r.URL.Path, "status", rec.status, "duration", d)
		}()
		next.ServeHTTP(rec, r)
	})
}

func (h *Handler) health(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = io.WriteString(w, "OK")
}

func (h *Handler) get(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query().Get("q")
	if q == "" {
		h.health(w, r)
		return
	}
	def, err := decodeDefinition([]byte(q))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Message: "invalid 'q': " + err.Error(), Kind: "bad_request"}, h.opt.Pretty)
		return
	}
	h.run(w, r, def)
}

func (h *Handler) post(w http.ResponseWriter, r *http.Request) {
	ct := r.Header.Get("Content-Type")
	if ct != "" && ct != "application/json" && !strings.HasPrefix(ct, "application/json;") {
		writeJSON(w, http.StatusUnsupportedMediaType, errorBody{Message: "unsupported Content-Type", Kind: "bad_request"}, h.opt.Pretty)
		return
	}
	reader := io.Reader(r.Body)
	if h.opt.MaxBodyBytes > 0 {
		reader = io.LimitReader(r.Body, h.opt.MaxBodyBytes+1)
	}
	body, err := io.ReadAll(reader)
	defer r.Body.Close()
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Message: "failed to read body", Kind: "bad_request"}, h.opt.Pretty)
		return
	}
	if h.opt.MaxBodyBytes > 0 && int64(len(body)) > h.opt.MaxBodyBytes {
		writeJSON(w, http.StatusRequestEntityTooLarge, errorBody{Message: "body too large", Kind: "bad_request"}, h.opt.Pretty)
		return
	}
	def, err := decodeDefinition(body)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Message: "invalid JSON: " + err.Error(), Kind: "bad_request"}, h.opt.Pretty)
		return
	}
	h.run(w, r, def)
}

func (h *Handler) run(w http.ResponseWriter, r *http.Request, def map[string]any) {
	ctx := r.Context()
	out, err := h.engine.Run(ctx, def)
	if err != nil {
		status := http.StatusBadRequest
		var xerr *executor.Error
		if !errors.As(err, &xerr) {
			status = http.StatusInternalServerError
		}
		h.opt.Logger.WarnContext(ctx, "query failed", "error", err)
		writeJSON(w, status, errorBody{Message: err.Error(), Kind: executor.KindName(err)}, h.opt.Pretty)
		return
	}
	writeJSON(w, http.StatusOK, out, h.opt.Pretty)
}

// decodeDefinition parses a JSON object.
func decodeDefinition(data []byte) (map[string]any, error) {
	var def map[string]any
	if err := json.Unmarshal(data, &def); err != nil {
		return nil, err
	}
	if def == nil {
		return nil, errors.New("query definition must be a JSON object")
	}
	return def, nil
}

type errorBody struct {
	Message string `json:"message"`
	Kind    string `json:"kind"`
}

func writeJSON(w http.ResponseWriter, status int, v any, pretty bool) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	if pretty {
		enc.SetIndent("", "  ")
	}
	_ = enc.Encode(v)
}

func (h *Handler) cors(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		setCORSHeaders(w, r, h.opt.CORS)
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func setCORSHeaders(w http.ResponseWriter, r *http.Request, opts CORSOptions) {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return
	}
	allowed := false
	for _, o := range opts.AllowedOrigins {
		if o == "*" || o == origin {
			allowed = true
			break
		}
	}
	if !allowed {
		return
	}
	if contains(opts.AllowedOrigins, "*") {
		w.Header().Set("Access-Control-Allow-Origin", "*")
	} else {
		w.Header().Set("Access-Control-Allow-Origin", origin)
		w.Header().Add("Vary", "Origin")
	}
	if r.Method == http.MethodOptions {
		if hdr := r.Header.Get("Access-Control-Request-Headers"); hdr != "" {
			w.Header().Set("Access-Control-Allow-Headers", hdr)
		}
		w.Header().Set("Access-Control-Allow-Methods", "GET,POST,OPTIONS")
	}
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
