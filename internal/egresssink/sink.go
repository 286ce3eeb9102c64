// Package egresssink implements the Partition Batch Sink (spec §4.4): the
// public driver that accepts events one at a time, routes them through the
// Partition Table into per-key batches, decides which partitions are ready
// to dispatch, calls the Service Sink, enforces per-partition ordering when
// configured, and orchestrates graceful close.
package egresssink

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"

	"ssw-egress-sink/internal/batch"
	"ssw-egress-sink/internal/metrics"
	"ssw-egress-sink/internal/partition"
	"ssw-egress-sink/internal/servicesink"
	"ssw-egress-sink/pkg/sinkcore"
	"ssw-egress-sink/pkg/tracing"
)

// Config bounds a Sink's batching behavior (spec §6 "Configuration").
type Config struct {
	// MaxEvents caps events per batch.
	MaxEvents int
	// MaxBytes caps encoded bytes per batch. Zero disables the byte limit.
	MaxBytes int
	// Timeout is the linger duration T armed at partition creation.
	Timeout time.Duration
	// Ordered enables per-partition dispatch ordering (default off).
	Ordered bool
}

// errOverflowOccupied is returned by Accept when the one-slot overflow
// buffer already holds a rejected event; the caller must call
// ReadyToAccept first (spec §4.4 "ready_to_accept").
var errOverflowOccupied = errors.New("egresssink: overflow slot occupied, call ReadyToAccept first")

// completionHandle is satisfied by *servicesink.Handle; declared narrowly
// here so this package depends only on the method it actually uses.
type completionHandle interface {
	Resolved() bool
}

// tracer instruments flush_step for whatever global tracer provider the
// host process configured (see pkg/tracing.Manager); with no provider
// configured this resolves to the otel no-op tracer, so spans cost nothing
// in deployments that don't enable tracing.
var tracer = otel.Tracer("ssw-egress-sink/egresssink")

// pendingOverflow holds the single event a partition's batch rejected,
// awaiting reinsertion into a fresh batch for the same key (spec §9
// "Overflow slot of size one").
type pendingOverflow[K comparable] struct {
	key   K
	event sinkcore.Event
}

// Sink is the Partition Batch Sink described in spec §4.4, generic over the
// partition key type K.
type Sink[K comparable] struct {
	cfg         Config
	partitioner sinkcore.Partitioner[sinkcore.Event, K]
	svc         *servicesink.Sink
	logger      *logrus.Logger
	flushSpan   *tracing.InstrumentedFunction

	limits batch.Limits
	encode batch.Encoder

	mu      sync.Mutex
	table   *partition.Table[K]
	gates   map[K]completionHandle
	ovf     *pendingOverflow[K]
	closing bool
}

// New constructs a Sink. partitioner projects each accepted event to its
// partition key; service and acker are the downstream capabilities the
// Service Sink drives; encode turns an accumulated batch's events into the
// service-defined request payload.
func New[K comparable](cfg Config, partitioner sinkcore.Partitioner[sinkcore.Event, K], service sinkcore.Service, acker sinkcore.Acker, encode batch.Encoder, logger *logrus.Logger) *Sink[K] {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	limits := batch.Limits{MaxEvents: cfg.MaxEvents, MaxBytes: cfg.MaxBytes}
	s := &Sink[K]{
		cfg:         cfg,
		partitioner: partitioner,
		svc:         servicesink.New(service, acker, logger),
		logger:      logger,
		limits:      limits,
		encode:      encode,
		gates:       make(map[K]completionHandle),
	}
	s.table = partition.New[K](cfg.Timeout, func() sinkcore.Batch { return batch.New(limits, encode) })
	s.flushSpan = tracing.NewInstrumentedFunction(tracer, "flush_step")
	return s
}

// ReadyToAccept reports whether the sink can currently absorb another event
// without blocking: true when the one-slot overflow buffer is empty, after
// first attempting a flush step if it was not (spec §4.4 "ready_to_accept").
func (s *Sink[K]) ReadyToAccept(ctx context.Context) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.ovf == nil {
		return true, nil
	}
	if err := s.flushStepLocked(ctx); err != nil {
		return false, err
	}
	return s.ovf == nil, nil
}

// Accept absorbs a single event (spec §4.4 "accept"). If the event
// overflows its partition's current batch, it is placed in the one-slot
// overflow buffer for the next flush step to drain. Accept returns
// errOverflowOccupied if that buffer is already occupied; callers must
// achieve ReadyToAccept first.
func (s *Sink[K]) Accept(ev sinkcore.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.ovf != nil {
		return errOverflowOccupied
	}
	k := s.partitioner.Partition(ev)
	s.acceptIntoLocked(k, ev)
	return nil
}

// acceptIntoLocked pushes ev into partition k's batch, creating the
// partition if needed, and records an overflow if the batch refuses it.
func (s *Sink[K]) acceptIntoLocked(k K, ev sinkcore.Event) {
	entry := s.table.LookupOrCreate(k, time.Now())
	result := entry.Batch.Push(ev)
	if result.Overflowed {
		s.ovf = &pendingOverflow[K]{key: k, event: result.Rejected}
	}
	metrics.SetPartitionCount(s.table.Len())
}

// FlushStep runs one round of the dispatch algorithm (spec §4.4
// "flush_step", the heart of the system). It returns nil once the core has
// reached a quiescent point for this round (analogous to the source
// returning Ready); a non-nil error is the sink's single service-ready
// error and should terminate the driver.
func (s *Sink[K]) FlushStep(ctx context.Context) error {
	return s.flushSpan.Execute(ctx, func(tc *tracing.TraceableContext) error {
		s.mu.Lock()
		defer s.mu.Unlock()
		err := s.flushStepLocked(tc.Context())
		tc.SetAttribute("partitions_live", s.table.Len())
		return err
	})
}

func (s *Sink[K]) flushStepLocked(ctx context.Context) error {
	for {
		// Step 1.
		if s.ovf == nil && s.table.Len() == 0 {
			s.drainServiceSinkLocked()
			return nil
		}

		now := time.Now()
		dispatchedAny := false

		// Steps 2-3: scan partitions in stable order, dispatching every
		// ready one until the service signals backpressure.
		for _, k := range s.table.Keys() {
			entry, ok := s.table.Get(k)
			if !ok || !s.readyToDispatchLocked(k, entry, now) {
				continue
			}

			if err := s.svc.PollReady(ctx); err != nil {
				if errors.Is(err, sinkcore.ErrNotReady) {
					break
				}
				return fmt.Errorf("egresssink: %w", err)
			}

			s.table.Remove(k)
			eb := entry.Batch.Finish()
			metrics.RecordBatchFullness(eb.NumItems, s.cfg.MaxEvents)

			handle := s.svc.Call(ctx, eb)
			if s.cfg.Ordered {
				s.gates[k] = handle
			}
			dispatchedAny = true
		}

		// Step 4: any dispatch restarts the round (lets overflow retry).
		if dispatchedAny {
			continue
		}

		// Step 5: garbage-collect resolved gates for partitions with no
		// live batch; they impose no further ordering constraint.
		if s.cfg.Ordered {
			for k, h := range s.gates {
				if !h.Resolved() {
					continue
				}
				if _, ok := s.table.Get(k); !ok {
					delete(s.gates, k)
				}
			}
		}

		// Step 6: if the overflowed partition was just dispatched, its
		// buffered event can now be re-accepted into a fresh batch.
		if s.ovf != nil {
			if _, ok := s.table.Get(s.ovf.key); !ok {
				pending := s.ovf
				s.ovf = nil
				s.acceptIntoLocked(pending.key, pending.event)
				continue
			}
		}

		// Step 7.
		s.drainServiceSinkLocked()
		return nil
	}
}

// readyToDispatchLocked implements spec §4.4 step 2.
func (s *Sink[K]) readyToDispatchLocked(k K, entry *partition.Entry, now time.Time) bool {
	if entry.Batch.IsEmpty() {
		return false
	}
	fullnessReady := (s.closing) || entry.Batch.WasFull() || entry.LingerElapsed(now)
	if !fullnessReady {
		return false
	}
	if s.cfg.Ordered {
		if h, busy := s.gates[k]; busy && !h.Resolved() {
			return false
		}
	}
	return true
}

func (s *Sink[K]) drainServiceSinkLocked() {
	s.svc.PollComplete()
	metrics.SetServiceSinkInFlight(s.svc.InFlightCount())
}

// Close sets the sink to closing and repeatedly runs flush steps — under
// which non-empty batches dispatch regardless of linger or fullness — until
// the core is quiescent: no live partitions, no pending overflow, and no
// outstanding dispatches (spec §4.4 "close").
func (s *Sink[K]) Close(ctx context.Context) error {
	s.mu.Lock()
	s.closing = true
	s.mu.Unlock()

	for {
		if err := s.FlushStep(ctx); err != nil {
			return err
		}

		s.mu.Lock()
		quiescent := s.ovf == nil && s.table.Len() == 0 && s.svc.InFlightCount() == 0
		s.mu.Unlock()
		if quiescent {
			return nil
		}

		select {
		case <-ctx.Done():
			s.svc.Wait()
			return ctx.Err()
		case <-time.After(time.Millisecond):
		}
	}
}
