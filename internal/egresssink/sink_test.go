package egresssink

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"ssw-egress-sink/pkg/sinkcore"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type testEvent struct {
	key string
	fin *testFinalizer
}

func (e testEvent) Finalizer() sinkcore.Finalizer { return e.fin }
func (e testEvent) EncodedLen() int               { return 1 }

type testFinalizer struct {
	mu     sync.Mutex
	status sinkcore.Status
}

func (f *testFinalizer) UpdateStatus(status sinkcore.Status) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.status = status
}

func (f *testFinalizer) Status() sinkcore.Status {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.status
}

func keyPartitioner(ev sinkcore.Event) string {
	return ev.(testEvent).key
}

func countEncoder(events []sinkcore.Event) (any, int) {
	return len(events), len(events)
}

type countingAcker struct {
	mu    sync.Mutex
	total uint64
}

func (a *countingAcker) Ack(n uint64) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.total += n
}

func (a *countingAcker) Total() uint64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.total
}

// delayedService delivers every call successfully after an optional delay.
type delayedService struct {
	delay func(n int) time.Duration
	n     int
	mu    sync.Mutex
}

func (s *delayedService) PollReady(ctx context.Context) error { return nil }

func (s *delayedService) Call(ctx context.Context, request any) (sinkcore.Response, error) {
	s.mu.Lock()
	idx := s.n
	s.n++
	s.mu.Unlock()

	if s.delay != nil {
		time.Sleep(s.delay(idx))
	}
	return sinkcore.DefaultResponse{}, nil
}

// failingService always returns an error from Call, without crashing.
type failingService struct{}

func (failingService) PollReady(ctx context.Context) error { return nil }
func (failingService) Call(ctx context.Context, request any) (sinkcore.Response, error) {
	return nil, errors.New("downstream unavailable")
}

func newSink(cfg Config, svc sinkcore.Service, acker sinkcore.Acker) *Sink[string] {
	return New[string](cfg, sinkcore.PartitionerFunc[sinkcore.Event, string](keyPartitioner), svc, acker, countEncoder, nil)
}

// Scenario 1: sequential ack with max_events=10 — ten events into one
// partition dispatch together and ack in one shot.
func TestSink_SequentialAckAtMaxEvents(t *testing.T) {
	svc := &delayedService{}
	acker := &countingAcker{}
	s := newSink(Config{MaxEvents: 10, Timeout: time.Hour}, svc, acker)

	fins := make([]*testFinalizer, 10)
	for i := range fins {
		fins[i] = &testFinalizer{}
		require.NoError(t, s.Accept(testEvent{key: "p0", fin: fins[i]}))
	}

	require.NoError(t, s.FlushStep(context.Background()))
	deadline := time.After(time.Second)
	for acker.Total() == 0 {
		select {
		case <-deadline:
			t.Fatal("timed out waiting for ack")
		default:
			time.Sleep(time.Millisecond)
			require.NoError(t, s.FlushStep(context.Background()))
		}
	}

	assert.Equal(t, uint64(10), acker.Total())
	for _, f := range fins {
		assert.Equal(t, sinkcore.Delivered, f.Status())
	}
}

// Scenario 2 / P1: dispatches complete out of order, but the ack total only
// ever advances by contiguous, in-order sums.
func TestSink_OrderedAckUnderOutOfOrderCompletion(t *testing.T) {
	delays := []time.Duration{150 * time.Millisecond, 10 * time.Millisecond, 10 * time.Millisecond}
	svc := &delayedService{delay: func(n int) time.Duration {
		if n < len(delays) {
			return delays[n]
		}
		return 0
	}}
	acker := &countingAcker{}
	s := newSink(Config{MaxEvents: 1, Timeout: time.Hour}, svc, acker)

	for i := 0; i < 3; i++ {
		require.NoError(t, s.Accept(testEvent{key: fmt.Sprintf("p%d", i), fin: &testFinalizer{}}))
	}
	require.NoError(t, s.FlushStep(context.Background()))

	time.Sleep(50 * time.Millisecond)
	require.NoError(t, s.FlushStep(context.Background()))
	assert.Equal(t, uint64(0), acker.Total(), "first dispatch still outstanding, no ack should release")

	time.Sleep(150 * time.Millisecond)
	require.NoError(t, s.FlushStep(context.Background()))
	assert.Equal(t, uint64(3), acker.Total())
}

// Scenario 3 / B2: Close flushes a partial batch below the event threshold.
func TestSink_ClosePartialBatchFlushes(t *testing.T) {
	svc := &delayedService{}
	acker := &countingAcker{}
	s := newSink(Config{MaxEvents: 100, Timeout: time.Hour}, svc, acker)

	f := &testFinalizer{}
	require.NoError(t, s.Accept(testEvent{key: "p0", fin: f}))

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, s.Close(ctx))

	assert.Equal(t, uint64(1), acker.Total())
	assert.Equal(t, sinkcore.Delivered, f.Status())
}

// Scenario 4 / P5: a partition below max_events still dispatches once its
// linger deadline elapses.
func TestSink_LingerExpiryDispatchesPartialBatch(t *testing.T) {
	svc := &delayedService{}
	acker := &countingAcker{}
	s := newSink(Config{MaxEvents: 100, Timeout:20 * time.Millisecond}, svc, acker)

	require.NoError(t, s.Accept(testEvent{key: "p0", fin: &testFinalizer{}}))
	require.NoError(t, s.FlushStep(context.Background()))
	assert.Equal(t, uint64(0), acker.Total(), "linger has not elapsed yet")

	time.Sleep(30 * time.Millisecond)

	deadline := time.After(time.Second)
	for acker.Total() == 0 {
		select {
		case <-deadline:
			t.Fatal("timed out waiting for linger-triggered ack")
		default:
			require.NoError(t, s.FlushStep(context.Background()))
			time.Sleep(time.Millisecond)
		}
	}
	assert.Equal(t, uint64(1), acker.Total())
}

// Scenario 5 / P3: with Ordered enabled, a slow first request for a
// partition blocks that partition's second batch from dispatching until the
// first resolves, even though an unrelated partition may proceed freely.
func TestSink_OrderedPerPartitionGateBlocksSecondDispatch(t *testing.T) {
	release := make(chan struct{})
	var calls int
	var mu sync.Mutex
	svc := &blockingService{release: release, onCall: func() {
		mu.Lock()
		calls++
		mu.Unlock()
	}}
	acker := &countingAcker{}
	s := newSink(Config{MaxEvents: 1, Timeout: time.Hour, Ordered: true}, svc, acker)

	require.NoError(t, s.Accept(testEvent{key: "p0", fin: &testFinalizer{}}))
	require.NoError(t, s.FlushStep(context.Background()))

	require.NoError(t, s.Accept(testEvent{key: "p0", fin: &testFinalizer{}}))
	require.NoError(t, s.FlushStep(context.Background()))

	time.Sleep(20 * time.Millisecond)
	mu.Lock()
	gotCalls := calls
	mu.Unlock()
	assert.Equal(t, 1, gotCalls, "second batch for the same partition must wait for the gate")

	close(release)
	deadline := time.After(time.Second)
	for acker.Total() < 2 {
		select {
		case <-deadline:
			t.Fatal("timed out waiting for gated dispatch to complete")
		default:
			require.NoError(t, s.FlushStep(context.Background()))
			time.Sleep(time.Millisecond)
		}
	}
}

type blockingService struct {
	release chan struct{}
	onCall  func()
}

func (s *blockingService) PollReady(ctx context.Context) error { return nil }
func (s *blockingService) Call(ctx context.Context, request any) (sinkcore.Response, error) {
	if s.onCall != nil {
		s.onCall()
	}
	<-s.release
	return sinkcore.DefaultResponse{}, nil
}

// Scenario 6 / P4: a service error for one batch does not crash the sink,
// and later partitions still make progress; the failed batch's finalizer
// observes Errored.
func TestSink_ServiceErrorDoesNotCrashSink(t *testing.T) {
	svc := failingService{}
	acker := &countingAcker{}
	s := newSink(Config{MaxEvents: 1, Timeout: time.Hour}, svc, acker)

	f := &testFinalizer{}
	require.NoError(t, s.Accept(testEvent{key: "p0", fin: f}))
	require.NoError(t, s.FlushStep(context.Background()))

	deadline := time.After(time.Second)
	for f.Status() != sinkcore.Errored {
		select {
		case <-deadline:
			t.Fatal("timed out waiting for errored status")
		default:
			require.NoError(t, s.FlushStep(context.Background()))
			time.Sleep(time.Millisecond)
		}
	}

	// the sink must still be usable afterward
	f2 := &testFinalizer{}
	require.NoError(t, s.Accept(testEvent{key: "p1", fin: f2}))
	require.NoError(t, s.FlushStep(context.Background()))
}

// B3: a partition that drains and later reappears gets a fresh batch rather
// than continuing to accumulate into the dispatched one.
func TestSink_PartitionReappearanceGetsFreshBatch(t *testing.T) {
	svc := &delayedService{}
	acker := &countingAcker{}
	s := newSink(Config{MaxEvents: 1, Timeout: time.Hour}, svc, acker)

	require.NoError(t, s.Accept(testEvent{key: "p0", fin: &testFinalizer{}}))
	require.NoError(t, s.FlushStep(context.Background()))

	deadline := time.After(time.Second)
	for acker.Total() == 0 {
		select {
		case <-deadline:
			t.Fatal("timed out waiting for first ack")
		default:
			require.NoError(t, s.FlushStep(context.Background()))
			time.Sleep(time.Millisecond)
		}
	}

	f2 := &testFinalizer{}
	require.NoError(t, s.Accept(testEvent{key: "p0", fin: f2}))
	require.NoError(t, s.FlushStep(context.Background()))

	deadline = time.After(time.Second)
	for acker.Total() < 2 {
		select {
		case <-deadline:
			t.Fatal("timed out waiting for second ack")
		default:
			require.NoError(t, s.FlushStep(context.Background()))
			time.Sleep(time.Millisecond)
		}
	}
}

// ReadyToAccept must reject a second Accept while the one-slot overflow
// buffer is occupied, until a flush step drains it.
func TestSink_ReadyToAcceptReflectsOverflowSlot(t *testing.T) {
	svc := &delayedService{}
	acker := &countingAcker{}
	s := newSink(Config{MaxEvents: 1, Timeout: time.Hour}, svc, acker)

	require.NoError(t, s.Accept(testEvent{key: "p0", fin: &testFinalizer{}}))
	// p0's batch is now full (max_events=1); the next Accept for the same
	// key overflows into the one-slot buffer.
	require.NoError(t, s.Accept(testEvent{key: "p0", fin: &testFinalizer{}}))

	err := s.Accept(testEvent{key: "p0", fin: &testFinalizer{}})
	assert.Error(t, err, "overflow slot is occupied, Accept must reject")

	ready, err := s.ReadyToAccept(context.Background())
	require.NoError(t, err)
	assert.True(t, ready, "the flush step inside ReadyToAccept drains the overflow slot")
}

func TestSink_CloseIsQuiescentWithNoTraffic(t *testing.T) {
	svc := &delayedService{}
	acker := &countingAcker{}
	s := newSink(Config{MaxEvents: 10, Timeout: time.Hour}, svc, acker)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, s.Close(ctx))
	assert.Equal(t, uint64(0), acker.Total())
}

func TestSink_LeakFreeAfterManyCycles(t *testing.T) {
	svc := &delayedService{}
	acker := &countingAcker{}
	s := newSink(Config{MaxEvents: 4, Timeout: 5 * time.Millisecond}, svc, acker)

	for i := 0; i < 50; i++ {
		key := fmt.Sprintf("p%d", i%5)
		require.NoError(t, s.Accept(testEvent{key: key, fin: &testFinalizer{}}))
		require.NoError(t, s.FlushStep(context.Background()))
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, s.Close(ctx))
	assert.Equal(t, uint64(50), acker.Total())
}
