package metrics

import (
	"context"
	"net/http"
	"runtime"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

type MetricsHandler struct {
	metrics  *Metrics
	gatherer prometheus.Gatherer
	logger   *zap.Logger
}

func NewMetricsHandler(metrics *Metrics, gatherer prometheus.Gatherer, logger *zap.Logger) *MetricsHandler {
	return &MetricsHandler{
		metrics:  metrics,
		gatherer: gatherer,
		logger:   logger,
	}
}

func (h *MetricsHandler) Handler() http.Handler {
	return promhttp.HandlerFor(h.gatherer, promhttp.HandlerOpts{})
}

// CollectSystemMetrics samples runtime gauges until ctx is cancelled.
func (h *MetricsHandler) CollectSystemMetrics(ctx context.Context) {
	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()

	for {
		h.metrics.System.GoroutineCount.Set(float64(runtime.NumGoroutine()))

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (h *MetricsHandler) RecordHTTPRequest(method, path string, statusCode int, duration time.Duration) {
	h.metrics.Http.RequestsTotal.WithLabelValues(method, path).Inc()
	h.metrics.Http.ResponseStatusCode.WithLabelValues(strconv.Itoa(statusCode)).Inc()
	h.metrics.Http.RequestDuration.WithLabelValues(path).Observe(duration.Seconds())
}

// Middleware records every request under its chi route pattern so that
// path parameters do not explode label cardinality.
func (h *MetricsHandler) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r)

		path := r.URL.Path
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if pattern := rctx.RoutePattern(); pattern != "" {
				path = pattern
			}
		}

		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}

		h.RecordHTTPRequest(r.Method, path, status, time.Since(start))
	})
}
