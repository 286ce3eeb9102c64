// Package sinkcore defines the capability interfaces that the partitioned
// batching sink core consumes from and exposes to its callers.
//
// Nothing in this package implements delivery, encoding, or storage. It is
// the narrow seam between the sink core (internal/batch, internal/partition,
// internal/servicesink, internal/egresssink) and whatever downstream
// service, event producer and acknowledgement buffer a concrete integration
// plugs in.
package sinkcore

import (
	"context"
	"errors"
)

// ErrNotReady signals backpressure from PollReady: the service cannot accept
// another Call right now, but this is not a terminal error. The driver
// should stop dispatching for this flush_step round and retry later, rather
// than treating it as the sink's single user-visible error.
var ErrNotReady = errors.New("sinkcore: service not ready")

// Status is the terminal delivery outcome of an event.
type Status int

const (
	// Delivered means the downstream service accepted the batch containing
	// the event.
	Delivered Status = iota
	// Errored means delivery failed transiently; the upstream buffer may
	// retry the event.
	Errored
	// Failed means delivery failed permanently; the upstream buffer should
	// drop the event.
	Failed
)

func (s Status) String() string {
	switch s {
	case Delivered:
		return "delivered"
	case Errored:
		return "errored"
	case Failed:
		return "failed"
	default:
		return "unknown"
	}
}

// Finalizer records an event's terminal delivery status. Implementations
// must be idempotent and safe to call from any goroutine; only the first
// call to UpdateStatus for a given event is meaningful, but later calls
// must not panic or corrupt state.
type Finalizer interface {
	UpdateStatus(status Status)
}

// Event is a single unit accepted by the sink. Payload is opaque to the
// core; EncodedLen is consulted by the Batch Accumulator's byte-size limit.
type Event interface {
	// Finalizer records this event's terminal status once known.
	Finalizer() Finalizer
	// EncodedLen is the event's encoded byte length, used for batch
	// byte-size accounting.
	EncodedLen() int
}

// Response is whatever a Service's call returns on success. The default
// implementations of both methods return true, matching the Service Logic
// default in spec §4.3.1: a Response that doesn't override them is always
// successful, and reports transient if asked.
type Response interface {
	// IsSuccessful reports whether the downstream accepted the batch.
	IsSuccessful() bool
	// IsTransient reports whether a non-successful response should be
	// retried upstream (Errored) rather than dropped (Failed).
	IsTransient() bool
}

// DefaultResponse can be embedded by concrete Response types that only need
// to override one of IsSuccessful/IsTransient.
type DefaultResponse struct{}

func (DefaultResponse) IsSuccessful() bool { return true }
func (DefaultResponse) IsTransient() bool  { return true }

// Service is the downstream request-dispatching capability the sink core
// drives. It mirrors a `tower::Service`: readiness is polled independently
// of invocation. Call blocks until the downstream responds; the Service
// Sink runs each Call in its own goroutine, so the driver never waits on it.
type Service interface {
	// PollReady reports whether the service can accept another Call right
	// now. A non-nil error is promoted to the sink's single user-visible
	// error type and terminates the driver.
	PollReady(ctx context.Context) error
	// Call dispatches a single already-finalized batch. The request value
	// is whatever the Batch implementation produced as its encoded
	// payload; it is opaque to the core.
	Call(ctx context.Context, request any) (Response, error)
}

// Batch accumulates events under configured limits until it is finished
// into an EncodedBatch and dispatched. See spec §3/§4.1.
type Batch interface {
	// IsEmpty reports whether the batch holds zero events.
	IsEmpty() bool
	// WasFull reports whether the batch is full: a prior Push was rejected
	// with Overflow, or the batch already holds as many events as its limit
	// allows. A freshly created batch (via Fresh) always reports false.
	WasFull() bool
	// NumItems is the number of events currently absorbed.
	NumItems() int
	// Push attempts to absorb ev. On Overflow, the batch is unchanged and
	// WasFull becomes true; the caller gets ev back unmodified.
	Push(ev Event) PushResult
	// Fresh produces a new, empty batch with the same configured limits.
	Fresh() Batch
	// Finish finalizes the batch into its dispatchable, immutable form.
	Finish() EncodedBatch
}

// PushResult is the outcome of Batch.Push.
type PushResult struct {
	Overflowed bool
	Rejected   Event
}

// Fits is the zero-value PushResult for a successful push.
var Fits = PushResult{}

// Overflow constructs a PushResult carrying the item the batch refused.
func Overflow(ev Event) PushResult {
	return PushResult{Overflowed: true, Rejected: ev}
}

// EncodedBatch is the finalized form of a Batch, ready for Service.Call.
type EncodedBatch struct {
	// Request is the service-defined request payload.
	Request any
	// Finalizer is the merged finalizer for every event absorbed into this
	// batch; resolving it with a status propagates that status to all of
	// them.
	Finalizer Finalizer
	// NumItems is the number of events in this batch.
	NumItems int
	// NumBytes is the total encoded byte size of this batch.
	NumBytes int
}

// Acker is the upstream acknowledgement buffer's sole primitive: "n more
// events at the head of the buffer have reached a terminal status and may
// be released." The core never inspects what "released" means upstream.
type Acker interface {
	Ack(n uint64)
}

// Partitioner is a pure projection from an event to its partition key. K
// must be a valid Go map key type (comparable).
type Partitioner[E any, K comparable] interface {
	Partition(ev E) K
}

// PartitionerFunc adapts a plain function to a Partitioner.
type PartitionerFunc[E any, K comparable] func(ev E) K

func (f PartitionerFunc[E, K]) Partition(ev E) K { return f(ev) }
