// Package servicesink implements the Service Sink (spec §4.3): it assigns
// monotonic sequence numbers to dispatched batches, drives each dispatch as
// an independent goroutine, collects completions out of order, and emits
// ordered ack counts to the upstream acker once every predecessor sequence
// number has completed.
package servicesink

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"

	"ssw-egress-sink/internal/metrics"
	"ssw-egress-sink/pkg/sinkcore"
	"ssw-egress-sink/pkg/tracing"
)

// tracer instruments each dispatch's downstream call; resolves to the otel
// no-op tracer unless a host process configures a real provider via
// pkg/tracing.Manager.
var tracer = otel.Tracer("ssw-egress-sink/servicesink")

// deriveStatus is the Service Logic of spec §4.3.1: Err(_) -> Errored;
// Ok(resp) with IsSuccessful() -> Delivered; Ok(resp) with !IsSuccessful()
// gated on IsTransient() -> Errored or Failed.
func deriveStatus(resp sinkcore.Response, err error) sinkcore.Status {
	if err != nil {
		return sinkcore.Errored
	}
	if resp == nil || resp.IsSuccessful() {
		return sinkcore.Delivered
	}
	if resp.IsTransient() {
		return sinkcore.Errored
	}
	return sinkcore.Failed
}

// completion is what a spawned dispatch task reports back once the
// downstream call has resolved.
type completion struct {
	seqno    uint64
	numItems int
}

// Handle is returned by Call; it resolves once the spawned dispatch task
// for that call has finished. Callers only use it for per-partition
// ordering gating (spec §9 "Per-partition ordering gate").
type Handle struct {
	done chan struct{}
}

// Resolved reports whether the dispatch task for this call has finished.
func (h *Handle) Resolved() bool {
	select {
	case <-h.done:
		return true
	default:
		return false
	}
}

// Sink is the Service Sink described in spec §4.3.
type Sink struct {
	service sinkcore.Service
	acker   sinkcore.Acker
	logger  *logrus.Logger

	mu          sync.Mutex
	seqHead     uint64
	seqTail     uint64
	pendingAcks map[uint64]int
	inFlight    map[uint64]struct{}

	completions chan completion
	wg          sync.WaitGroup
}

// New constructs a Service Sink driving calls through service and releasing
// acks through acker.
func New(service sinkcore.Service, acker sinkcore.Acker, logger *logrus.Logger) *Sink {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Sink{
		service:     service,
		acker:       acker,
		logger:      logger,
		pendingAcks: make(map[uint64]int),
		inFlight:    make(map[uint64]struct{}),
		completions: make(chan completion, 256),
	}
}

// PollReady asks the underlying service whether it can accept another
// request. sinkcore.ErrNotReady means backpressure, not failure, and is
// passed through unwrapped so callers can distinguish it with errors.Is; any
// other non-nil error is the sink's single service-ready error and should
// terminate the driver (spec §7 "Service-ready error").
func (s *Sink) PollReady(ctx context.Context) error {
	err := s.service.PollReady(ctx)
	if err == nil {
		return nil
	}
	if errors.Is(err, sinkcore.ErrNotReady) {
		return err
	}
	return fmt.Errorf("service sink: service not ready: %w", err)
}

// Call assigns the next seqno, spawns the dispatch as an independent task,
// and returns a Handle that resolves once that task finishes. Call itself
// never suspends the driver (spec §4.3 step 3: "does not suspend the
// driver; only the spawned task does").
func (s *Sink) Call(ctx context.Context, eb sinkcore.EncodedBatch) *Handle {
	s.mu.Lock()
	seqno := s.seqHead
	s.seqHead++
	s.inFlight[seqno] = struct{}{}
	s.mu.Unlock()

	handle := &Handle{done: make(chan struct{})}

	s.wg.Add(1)
	go s.dispatch(ctx, seqno, eb, handle)

	return handle
}

// dispatch owns exactly: the finalizer, the item count, the byte size, the
// seqno, and the completion channel. No shared mutable state crosses into
// this goroutine beyond those values (spec §9 "Closures and captured
// state").
func (s *Sink) dispatch(ctx context.Context, seqno uint64, eb sinkcore.EncodedBatch, handle *Handle) {
	defer s.wg.Done()
	defer close(handle.done)

	fn := tracing.NewInstrumentedFunction(tracer, "dispatch.call")
	var resp sinkcore.Response
	var callErr error
	_ = fn.Execute(ctx, func(tc *tracing.TraceableContext) error {
		tc.SetAttribute("seqno", int64(seqno))
		tc.SetAttribute("num_items", eb.NumItems)
		resp, callErr = s.service.Call(ctx, eb.Request)
		return callErr
	})

	status := deriveStatus(resp, callErr)
	eb.Finalizer.UpdateStatus(status)

	metrics.RecordDispatch(status.String())

	if status == sinkcore.Delivered {
		metrics.EventsSentTotal.Add(float64(eb.NumItems))
		metrics.EventsSentBytes.Add(float64(eb.NumBytes))
	} else {
		s.logger.WithFields(logrus.Fields{
			"seqno":     seqno,
			"num_items": eb.NumItems,
			"status":    status.String(),
		}).Warn("service sink: dispatch did not deliver")
	}

	// A dropped receiver here (sink already shut down and stopped draining)
	// is benign per spec §7 "Internal channel drop": no ack, no crash.
	select {
	case s.completions <- completion{seqno: seqno, numItems: eb.NumItems}:
	case <-ctx.Done():
	}
}

// PollComplete drains every ready completion and releases acks in strict
// sequence order, even though completions may arrive out of order (spec
// §4.3 "ordered ack release").
func (s *Sink) PollComplete() {
	s.mu.Lock()
	defer s.mu.Unlock()

	for {
		select {
		case c := <-s.completions:
			delete(s.inFlight, c.seqno)
			s.pendingAcks[c.seqno] = c.numItems
		default:
			s.releaseReady()
			return
		}
	}
}

// releaseReady must be called with s.mu held. It walks pendingAcks starting
// at seqTail, summing and removing consecutive ready entries, and issues a
// single Ack call for the whole run — so that requests completing as
// r2, r3, r1 still only ack once, after r1 resolves, releasing all three.
func (s *Sink) releaseReady() {
	var total uint64
	for {
		n, ok := s.pendingAcks[s.seqTail]
		if !ok {
			break
		}
		delete(s.pendingAcks, s.seqTail)
		total += uint64(n)
		s.seqTail++
	}
	if total > 0 {
		s.acker.Ack(total)
		metrics.AckedEventsTotal.Add(float64(total))
	}
}

// InFlightCount reports how many dispatches are currently outstanding.
func (s *Sink) InFlightCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.inFlight)
}

// Wait blocks until every spawned dispatch task has returned. Used on the
// close path so no dispatch goroutine outlives Close; it does not release
// acks itself (that is PollComplete's job).
func (s *Sink) Wait() {
	s.wg.Wait()
}
