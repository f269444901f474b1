// Package middleware provides HTTP middleware for the API server.
package middleware

import (
	"net/http"
	"strconv"
	"strings"
	"time"
)

var staticRoutes = map[string]struct{}{
	"/":                    {},
	"/recommendations":     {},
	"/impressions":         {},
	"/experiments":         {},
	"/analytics/dashboard": {},
	"/cache/warmup":        {},
	"/health":              {},
	"/ready":               {},
	"/metrics":             {},
}

// normalizePath collapses dynamic path segments into route patterns so that
// per-route metrics stay bounded. /experiments/exp-42 becomes /experiments/{id}.
func normalizePath(path string) string {
	if _, ok := staticRoutes[path]; ok {
		return path
	}

	parts := strings.Split(path, "/")

	switch {
	case strings.HasPrefix(path, "/recommendations/"):
		if len(parts) == 3 && parts[2] != "" {
			return "/recommendations/{user_id}"
		}
	case strings.HasPrefix(path, "/impressions/"):
		if len(parts) == 4 && parts[3] == "interactions" {
			return "/impressions/{id}/interactions"
		}
		if len(parts) == 3 && parts[2] != "" {
			return "/impressions/{id}"
		}
	case strings.HasPrefix(path, "/experiments/"):
		if len(parts) == 4 && (parts[3] == "status" || parts[3] == "results") {
			return "/experiments/{id}/" + parts[3]
		}
		if len(parts) == 3 && parts[2] != "" {
			return "/experiments/{id}"
		}
	case strings.HasPrefix(path, "/users/"):
		if len(parts) == 4 && (parts[3] == "social-stats" || parts[3] == "profile") {
			return "/users/{id}/" + parts[3]
		}
	case strings.HasPrefix(path, "/analytics/algorithms/"):
		if len(parts) == 4 && parts[3] != "" {
			return "/analytics/algorithms/{tag}"
		}
	}

	// Unknown routes are recorded as-is.
	return path
}

// metricsResponseWriter captures status code and body size for recording.
type metricsResponseWriter struct {
	http.ResponseWriter
	statusCode  int
	size        int64
	wroteHeader bool
}

func (mrw *metricsResponseWriter) WriteHeader(code int) {
	if mrw.wroteHeader {
		return
	}
	mrw.statusCode = code
	mrw.wroteHeader = true
	mrw.ResponseWriter.WriteHeader(code)
}

func (mrw *metricsResponseWriter) Unwrap() http.ResponseWriter {
	return mrw.ResponseWriter
}

func (mrw *metricsResponseWriter) Write(b []byte) (int, error) {
	n, err := mrw.ResponseWriter.Write(b)
	mrw.size += int64(n)
	return n, err
}

func newMetricsResponseWriter(w http.ResponseWriter) *metricsResponseWriter {
	return &metricsResponseWriter{ResponseWriter: w, statusCode: http.StatusOK}
}

// HTTPMetrics records duration, sizes and counts for every request.
// /health and /ready are skipped; probes would dominate the series.
func HTTPMetrics(metrics *Metrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Path == "/health" || r.URL.Path == "/ready" {
				next.ServeHTTP(w, r)
				return
			}

			start := time.Now()
			mrw := newMetricsResponseWriter(w)

			var requestSize int64
			if cl := r.Header.Get("Content-Length"); cl != "" {
				if size, err := strconv.ParseInt(cl, 10, 64); err == nil {
					requestSize = size
				}
			}

			next.ServeHTTP(mrw, r)

			metrics.ObserveHTTPRequest(
				r.Method,
				normalizePath(r.URL.Path),
				strconv.Itoa(mrw.statusCode),
				time.Since(start).Seconds(),
				requestSize,
				mrw.size,
			)
		})
	}
}
