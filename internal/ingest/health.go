package ingest

import (
	"encoding/json"
	"net/http"
	"time"
)

// HealthHandler reports a static liveness response, trimmed from the
// teacher's healthHandler (internal/app/handlers.go) down to the fields
// this repo actually has components to report: no dispatcher queue,
// SLO manager, or security audit here.
func HealthHandler(startTime time.Time, version string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]interface{}{
			"status":    "healthy",
			"timestamp": time.Now().Unix(),
			"version":   version,
			"uptime":    time.Since(startTime).String(),
		})
	}
}
