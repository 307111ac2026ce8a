package api

import (
	"context"
	"net/http"
	"sort"
	"time"
)

// Pinger reports whether a dependency is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// readyzTimeout bounds each dependency check.
const readyzTimeout = 2 * time.Second

// HealthzHandler handles GET /healthz.
// Always returns 200 OK with {"status":"ok"}.
func HealthzHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}
}

// ReadyzHandler handles GET /readyz.
// Pings every named dependency. Returns 200 if all respond, 503 with a
// Retry-After header and the failing names otherwise.
func ReadyzHandler(checks map[string]Pinger) http.HandlerFunc {
	names := make([]string, 0, len(checks))
	for name := range checks {
		names = append(names, name)
	}
	sort.Strings(names)

	return func(w http.ResponseWriter, r *http.Request) {
		var failed []string
		for _, name := range names {
			ctx, cancel := context.WithTimeout(r.Context(), readyzTimeout)
			err := checks[name].Ping(ctx)
			cancel()
			if err != nil {
				failed = append(failed, name)
			}
		}

		if len(failed) > 0 {
			w.Header().Set("Retry-After", "30")
			respondJSON(w, http.StatusServiceUnavailable, map[string]interface{}{
				"error":  "dependency unavailable",
				"failed": failed,
			})
			return
		}
		respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}
}
