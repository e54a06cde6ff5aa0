package handler

import (
	"net/http"
	"strconv"
	"time"

	"github.com/rs/zerolog"

	"github.com/dukkani/dukkani/internal/metrics"
	"github.com/dukkani/dukkani/internal/ratelimit"
)

const (
	maxBodyBytes = 1 << 20

	// UserIDHeader is set by the upstream auth gateway.
	UserIDHeader = "X-User-ID"
)

type middleware func(http.Handler) http.Handler

func chain(h http.Handler, mws ...middleware) http.Handler {
	for i := len(mws) - 1; i >= 0; i-- {
		h = mws[i](h)
	}
	return h
}

func securityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h := w.Header()
		h.Set("X-Content-Type-Options", "nosniff")
		h.Set("X-Frame-Options", "DENY")
		h.Set("Referrer-Policy", "strict-origin-when-cross-origin")
		next.ServeHTTP(w, r)
	})
}

func limitBody(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Body != nil {
			r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
		}
		next.ServeHTTP(w, r)
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func requestLogger(log zerolog.Logger, m *metrics.Metrics) middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(rec, r)

			elapsed := time.Since(start)
			route := r.Pattern
			if route == "" {
				route = "unmatched"
			}
			m.ObserveRequest(route, rec.status, elapsed)
			log.Info().
				Str("method", r.Method).
				Str("path", r.URL.Path).
				Int("status", rec.status).
				Dur("duration", elapsed).
				Msg("request")
		})
	}
}

func userID(r *http.Request) string {
	return r.Header.Get(UserIDHeader)
}

// rateLimit rejects requests over the preset's quota with 429. A failing
// counter store lets the request through.
func (h *HTTPHandler) rateLimit(preset string, next http.HandlerFunc) http.HandlerFunc {
	limiter := h.limiters.Get(preset)
	return func(w http.ResponseWriter, r *http.Request) {
		id := ratelimit.Identify(userID(r), r.Header, h.ipHeaders)
		res, err := limiter.Check(r.Context(), id)
		if err != nil {
			h.log.Warn().Err(err).Str("preset", preset).Msg("rate limiter unavailable, allowing request")
			next(w, r)
			return
		}

		w.Header().Set("X-RateLimit-Limit", strconv.Itoa(res.Limit))
		w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(res.Remaining))
		w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(res.ResetAt.Unix(), 10))
		if !res.Allowed {
			h.metrics.RateLimited(preset)
			w.Header().Set("Retry-After", strconv.Itoa(res.RetryAfterSeconds))
			writeError(w, h.log, res.Err())
			return
		}
		next(w, r)
	}
}
