package observability

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/askql/askql/internal/config"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestTraceMiddlewarePreservesIncomingTraceID(t *testing.T) {
	h := TraceMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := TraceIDFromContext(r.Context()); got != "trace-1" {
			t.Fatalf("TraceIDFromContext() = %q", got)
		}
		w.WriteHeader(http.StatusNoContent)
	}))

	req := httptest.NewRequest(http.MethodGet, "/v1/health", nil)
	req.Header.Set(traceHeader, "trace-1")
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)

	if got := rr.Header().Get(traceHeader); got != "trace-1" {
		t.Fatalf("trace header = %q", got)
	}
}

func TestTraceMiddlewareGeneratesTraceID(t *testing.T) {
	h := TraceMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if TraceIDFromContext(r.Context()) == "" {
			t.Fatal("expected generated trace id")
		}
		w.WriteHeader(http.StatusNoContent)
	}))

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/v1/health", nil))

	if rr.Header().Get(traceHeader) == "" {
		t.Fatal("expected X-Trace-ID header")
	}
}

func TestTraceIDContextHelpers(t *testing.T) {
	ctx := ContextWithTraceID(context.Background(), "abc123")
	if got := TraceIDFromContext(ctx); got != "abc123" {
		t.Fatalf("TraceIDFromContext() = %q", got)
	}
	if got := TraceIDFromContext(context.Background()); got != "" {
		t.Fatalf("TraceIDFromContext(empty) = %q", got)
	}
}

func TestLoggingMiddlewareRecordsStatus(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))
	h := LoggingMiddleware(logger)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusAccepted)
	}))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/x", nil))

	if !strings.Contains(buf.String(), `"status":202`) {
		t.Fatalf("log output = %s", buf.String())
	}
}

func TestNewLoggerUsesTextHandlerWhenJSONDisabled(t *testing.T) {
	var buf bytes.Buffer
	cfg := config.Config{Profile: config.ProfileTest, Service: config.ServiceConfig{Name: "askql-test"}}
	cfg.Observability.LogLevel = slog.LevelInfo
	NewLogger(cfg, &buf).Info("hello")

	out := buf.String()
	if !strings.Contains(out, "service=askql-test") || !strings.Contains(out, "msg=hello") {
		t.Fatalf("log output = %q", out)
	}
}

func TestObserveStageCountsByStatus(t *testing.T) {
	before := testutil.CollectAndCount(stageDurationSeconds)
	ObserveStage("test_stage_ok", nil, time.Millisecond)
	ObserveStage("test_stage_err", errors.New("boom"), time.Millisecond)
	after := testutil.CollectAndCount(stageDurationSeconds)
	if after-before != 2 {
		t.Fatalf("series added = %d, want 2", after-before)
	}
}

func TestObserveRejectionIncrementsCounter(t *testing.T) {
	ObserveRejection("rejected_unsafe", "test-rule")
	if got := testutil.ToFloat64(validatorRejectionsTotal.WithLabelValues("rejected_unsafe", "test-rule")); got != 1 {
		t.Fatalf("rejections = %v", got)
	}
}

func TestTraceMiddlewareReplacesUnsafeTraceID(t *testing.T) {
	h := TraceMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	for _, incoming := range []string{"bad id\nwith newline", strings.Repeat("a", maxTraceIDLen+1)} {
		req := httptest.NewRequest(http.MethodGet, "/v1/health", nil)
		req.Header.Set(traceHeader, incoming)
		rr := httptest.NewRecorder()
		h.ServeHTTP(rr, req)
		if got := rr.Header().Get(traceHeader); got == incoming || got == "" {
			t.Fatalf("trace header = %q for incoming %q", got, incoming)
		}
	}
}

func TestMetricsMiddlewareLabelsByRoute(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /v1/widgets/{id}", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	h := MetricsMiddleware(mux)

	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/v1/widgets/1", nil))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/v1/widgets/2", nil))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/nope", nil))

	if got := testutil.ToFloat64(httpRequestsTotal.WithLabelValues(http.MethodGet, "GET /v1/widgets/{id}", "200")); got != 2 {
		t.Fatalf("route counter = %v, want 2", got)
	}
	if got := testutil.ToFloat64(httpRequestsTotal.WithLabelValues(http.MethodGet, unmatchedRoute, "404")); got < 1 {
		t.Fatalf("unmatched counter = %v", got)
	}
}
