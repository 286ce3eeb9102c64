// Package batch implements the Batch Accumulator: a size- and byte-bounded
// container of events that latches "full" once it reaches its event-count
// limit or first refuses an item, and finalizes into an immutable sinkcore.EncodedBatch for dispatch.
package batch

import (
	"sync"

	"ssw-egress-sink/pkg/sinkcore"
)

// Limits bounds a single batch's event count and byte size. Both are
// enforced; whichever fires first causes Overflow.
type Limits struct {
	MaxEvents int
	MaxBytes  int
}

// Encoder turns the accumulated events into the service-defined request
// payload carried by an EncodedBatch. Kept separate from Accumulator so the
// same accumulator logic serves any wire format.
type Encoder func(events []sinkcore.Event) (request any, numBytes int)

// Accumulator is the reference sinkcore.Batch implementation described in
// spec §4.1.
type Accumulator struct {
	limits  Limits
	encode  Encoder
	mu      sync.Mutex
	events  []sinkcore.Event
	bytes   int
	wasFull bool
}

// New creates an empty Accumulator with the given limits and encoder.
func New(limits Limits, encode Encoder) *Accumulator {
	if limits.MaxEvents <= 0 {
		limits.MaxEvents = 1
	}
	return &Accumulator{
		limits: limits,
		encode: encode,
	}
}

func (a *Accumulator) IsEmpty() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.events) == 0
}

// WasFull reports whether a prior Push refused an item or filled the batch
// to MaxEvents, so that the next Push would overflow. An empty batch
// never reports true (see spec invariant: "An empty Batch MUST NOT report
// was_full").
func (a *Accumulator) WasFull() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.wasFull
}

func (a *Accumulator) NumItems() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.events)
}

// Push attempts to absorb ev. Event-count and byte-size limits are both
// checked; a zero-item batch always accepts its first event regardless of
// size (oversize single events are a configuration concern, not handled
// here per spec §4.1).
func (a *Accumulator) Push(ev sinkcore.Event) sinkcore.PushResult {
	a.mu.Lock()
	defer a.mu.Unlock()

	n := len(a.events)
	evLen := ev.EncodedLen()

	if n > 0 {
		if n+1 > a.limits.MaxEvents {
			a.wasFull = true
			return sinkcore.Overflow(ev)
		}
		if a.limits.MaxBytes > 0 && a.bytes+evLen > a.limits.MaxBytes {
			a.wasFull = true
			return sinkcore.Overflow(ev)
		}
	}

	a.events = append(a.events, ev)
	a.bytes += evLen
	if len(a.events) >= a.limits.MaxEvents {
		a.wasFull = true
	}
	return sinkcore.Fits
}

// Fresh produces a new empty Accumulator with identical configuration. Per
// spec invariant, is_empty is true and was_full is false.
func (a *Accumulator) Fresh() sinkcore.Batch {
	return New(a.limits, a.encode)
}

// Finish merges every event's finalizer into one aggregate and produces the
// dispatchable EncodedBatch. The accumulator is not reusable afterward.
func (a *Accumulator) Finish() sinkcore.EncodedBatch {
	a.mu.Lock()
	events := a.events
	bytes := a.bytes
	a.mu.Unlock()

	request, numBytes := a.encode(events)
	if numBytes == 0 {
		numBytes = bytes
	}

	finalizers := make([]sinkcore.Finalizer, 0, len(events))
	for _, ev := range events {
		if f := ev.Finalizer(); f != nil {
			finalizers = append(finalizers, f)
		}
	}

	return sinkcore.EncodedBatch{
		Request:   request,
		Finalizer: aggregateFinalizer(finalizers),
		NumItems:  len(events),
		NumBytes:  numBytes,
	}
}

// aggregateFinalizer composes many per-event finalizers into one: resolving
// it with a terminal status propagates that status to every contained
// event (spec §4.1 "Finalizer composition").
type aggregate struct {
	finalizers []sinkcore.Finalizer
}

func aggregateFinalizer(finalizers []sinkcore.Finalizer) sinkcore.Finalizer {
	return &aggregate{finalizers: finalizers}
}

func (a *aggregate) UpdateStatus(status sinkcore.Status) {
	for _, f := range a.finalizers {
		f.UpdateStatus(status)
	}
}
