package api

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// NewRouter builds the HTTP router with the global middleware chain and all
// versioned routes mounted.
//
// Middleware ordering: Recoverer is outermost to catch panics from everything
// below it, RequestID must run before the logger so log lines carry the
// correlation ID.
func NewRouter(h *EvaluationHandler, logger *slog.Logger) chi.Router {
	if logger == nil {
		logger = slog.Default()
	}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger(logger))

	r.Route("/v1", func(r chi.Router) {
		r.Post("/users/{userID}/evaluations", h.Evaluate)
		r.Post("/users/{userID}/location", h.UpdateLocation)
		r.Post("/evaluations/run", h.Run)
	})

	r.Get("/healthz", handleHealth)

	return r
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	JSON(w, r, http.StatusOK, map[string]string{"status": "ok"})
}

// requestLogger emits one structured log line per request with latency and
// status, skipping health checks to keep the logs readable.
func requestLogger(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Path == "/healthz" {
				next.ServeHTTP(w, r)
				return
			}

			started := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)

			logger.InfoContext(r.Context(), "request completed",
				"method", r.Method,
				"path", r.URL.Path,
				"status", ww.Status(),
				"bytes", ww.BytesWritten(),
				"duration_ms", time.Since(started).Milliseconds(),
				"request_id", middleware.GetReqID(r.Context()),
			)
		})
	}
}
