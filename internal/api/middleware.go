package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"
)

// quietPaths are polled by orchestrators and scrapers. Successful hits log at
// debug; a failing readiness check still logs at info.
var quietPaths = map[string]bool{
	"/healthz": true,
	"/readyz":  true,
	"/metrics": true,
}

// RequestLogger logs every ops request once it completes and turns a handler
// panic into a 500. It reads the request ID set by middleware.RequestID.
func RequestLogger(log zerolog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			reqID := middleware.GetReqID(r.Context())

			defer func() {
				if rec := recover(); rec != nil {
					if rec == http.ErrAbortHandler {
						panic(rec)
					}
					log.Error().
						Interface("panic", rec).
						Str("path", r.URL.Path).
						Str("request_id", reqID).
						Msg("ops handler panicked")
					if ww.Status() == 0 {
						respondError(ww, http.StatusInternalServerError, "internal server error")
					}
				}

				status := ww.Status()
				if status == 0 {
					status = http.StatusOK
				}
				event := log.Info()
				if quietPaths[r.URL.Path] && status < http.StatusInternalServerError {
					event = log.Debug()
				}
				event.
					Str("method", r.Method).
					Str("path", r.URL.Path).
					Int("status", status).
					Dur("duration", time.Since(start)).
					Str("request_id", reqID).
					Msg("ops request")
			}()

			next.ServeHTTP(ww, r)
		})
	}
}
