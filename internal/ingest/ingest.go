// Package ingest adapts wire-format records into sinkcore.Event so an
// upstream HTTP caller can feed the Partition Batch Sink, grounded on the
// teacher's logsIngestHandler boundary in internal/app/handlers.go but
// scoped to this repo's generic event shape rather than a log-entry one.
package ingest

import (
	"encoding/json"

	"github.com/sirupsen/logrus"

	"ssw-egress-sink/pkg/sinkcore"
)

// Record is the wire shape of one ingested event: an opaque partition key
// and an opaque payload. The sink core never looks inside Payload; it only
// needs EncodedLen for byte accounting and Key for routing.
type Record struct {
	Key     string          `json:"key"`
	Payload json.RawMessage `json:"payload"`
}

// loggingFinalizer is the sinkcore.Finalizer handed to every ingested
// event. This repo has no upstream retry buffer of its own to release on
// Delivered, so the only observable effect of a terminal status is a log
// line on anything other than success.
type loggingFinalizer struct {
	logger *logrus.Logger
	key    string
}

func (f *loggingFinalizer) UpdateStatus(status sinkcore.Status) {
	if status != sinkcore.Delivered {
		f.logger.WithFields(logrus.Fields{
			"key":    f.key,
			"status": status.String(),
		}).Warn("ingest: event did not reach delivered status")
	}
}

// Event is Record adapted to sinkcore.Event.
type Event struct {
	Record
	finalizer sinkcore.Finalizer
}

// NewEvent wraps rec for acceptance into the sink core.
func NewEvent(rec Record, logger *logrus.Logger) Event {
	return Event{Record: rec, finalizer: &loggingFinalizer{logger: logger, key: rec.Key}}
}

// Finalizer implements sinkcore.Event.
func (e Event) Finalizer() sinkcore.Finalizer { return e.finalizer }

// EncodedLen implements sinkcore.Event.
func (e Event) EncodedLen() int { return len(e.Payload) }

// PartitionKey is a sinkcore.Partitioner[sinkcore.Event, string] projecting
// an ingested Event to the partition key it was tagged with.
func PartitionKey(ev sinkcore.Event) string {
	e, ok := ev.(Event)
	if !ok {
		return ""
	}
	return e.Key
}

// Encode concatenates a batch's payloads into a newline-delimited request
// body, the []byte shape both internal/transport/kafkaservice and
// internal/transport/httpservice require of a batch.Encoder.
func Encode(events []sinkcore.Event) (request any, numBytes int) {
	var buf []byte
	for _, ev := range events {
		e, ok := ev.(Event)
		if !ok {
			continue
		}
		buf = append(buf, e.Payload...)
		buf = append(buf, '\n')
	}
	return buf, len(buf)
}
