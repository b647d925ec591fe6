package api

import (
	"net/http"
	"strconv"

	"github.com/rs/zerolog"

	"github.com/cuemby/terrapool/pkg/metrics"
)

// Middleware wraps an http.Handler
type Middleware func(http.Handler) http.Handler

// Chain applies middlewares so that the first one is outermost
func Chain(h http.Handler, mws ...Middleware) http.Handler {
	for i := len(mws) - 1; i >= 0; i-- {
		h = mws[i](h)
	}
	return h
}

// statusRecorder captures the status code written by a handler
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// Instrument records request counts and latency. Probe and scrape endpoints
// are not recorded.
func Instrument() Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !isInstrumentedPath(r.URL.Path) {
				next.ServeHTTP(w, r)
				return
			}

			timer := metrics.NewTimer()
			rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(rec, r)

			timer.ObserveDurationVec(metrics.APIRequestDuration, r.Method)
			metrics.APIRequestsTotal.WithLabelValues(r.Method, strconv.Itoa(rec.status)).Inc()
		})
	}
}

// Recover turns a handler panic into a 500 response
func Recover(logger zerolog.Logger) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if p := recover(); p != nil {
					logger.Error().
						Interface("panic", p).
						Str("method", r.Method).
						Str("path", r.URL.Path).
						Msg("Handler panicked")
					http.Error(w, "internal server error", http.StatusInternalServerError)
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}

func isInstrumentedPath(path string) bool {
	switch path {
	case "/health", "/ready", "/metrics":
		return false
	}
	return true
}
