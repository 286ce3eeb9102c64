package ingest

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"

	"ssw-egress-sink/internal/egresssink"
)

// Handler exposes an HTTP ingest endpoint accepting a JSON array of Record
// and feeding each one through a Partition Batch Sink, grounded on the
// teacher's logsIngestHandler route in internal/app/handlers.go.
type Handler struct {
	sink   *egresssink.Sink[string]
	logger *logrus.Logger
}

// NewHandler builds a Handler over sink.
func NewHandler(sink *egresssink.Sink[string], logger *logrus.Logger) *Handler {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Handler{sink: sink, logger: logger}
}

// ServeHTTP decodes the request body as a JSON array of Record and accepts
// each into the sink in order, stopping at the first one the sink cannot
// currently absorb.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var recs []Record
	if err := json.NewDecoder(r.Body).Decode(&recs); err != nil {
		http.Error(w, "ingest: invalid request body: "+err.Error(), http.StatusBadRequest)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	for _, rec := range recs {
		ready, err := h.sink.ReadyToAccept(ctx)
		if err != nil {
			h.logger.WithError(err).Error("ingest: sink error")
			http.Error(w, "ingest: sink error", http.StatusServiceUnavailable)
			return
		}
		if !ready {
			http.Error(w, "ingest: sink overflow, retry", http.StatusTooManyRequests)
			return
		}
		if err := h.sink.Accept(NewEvent(rec, h.logger)); err != nil {
			http.Error(w, "ingest: accept failed: "+err.Error(), http.StatusServiceUnavailable)
			return
		}
	}

	w.WriteHeader(http.StatusAccepted)
}
