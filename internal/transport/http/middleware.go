package http

import (
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/cimillas/checkout-engine/internal/metrics"
)

// RequestLogger logs basic request details and latency, and records them
// in m when it is non-nil.
func RequestLogger(next http.Handler, logger *slog.Logger, m *metrics.Metrics) http.Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)

		elapsed := time.Since(start)
		m.ObserveRequest(routeLabel(r.URL.Path), rec.status, elapsed)
		logger.Info("request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", rec.status,
			"duration", elapsed,
		)
	})
}

// routeLabel keeps metric cardinality bounded by dropping path parameters.
func routeLabel(path string) string {
	first, _, _ := strings.Cut(strings.Trim(path, "/"), "/")
	switch first {
	case "checkout", "orders", "giftcards", "webhooks", "health", "ready", "metrics":
		return first
	case "":
		return "root"
	default:
		return "other"
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}
