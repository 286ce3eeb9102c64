// Package partition implements the Partition Table (spec §4.2): a map from
// partition key to Partition State, with look-up-or-create, remove, and a
// stable iteration order.
package partition

import (
	"time"

	"ssw-egress-sink/pkg/sinkcore"
)

// Entry is one live Partition State (spec §3 "Partition State"): the
// current Batch plus its one-shot linger deadline. The ordering gate
// (spec §9) is tracked separately by the Partition Batch Sink, since it
// must outlive the Entry once the batch is dispatched and removed.
type Entry struct {
	Batch    sinkcore.Batch
	deadline time.Time
}

// LingerElapsed reports whether this entry's linger deadline, armed at
// creation, has passed.
func (e *Entry) LingerElapsed(now time.Time) bool {
	return !now.Before(e.deadline)
}

// Table is the Partition Table. It is not safe for concurrent use; the
// Partition Batch Sink owns it exclusively (spec §5 "Shared resources").
type Table[K comparable] struct {
	linger  time.Duration
	fresh   func() sinkcore.Batch
	entries map[K]*Entry
	order   []K
}

// New creates an empty Table. fresh constructs a new, empty Batch for each
// newly created entry; linger is the duration armed on creation.
func New[K comparable](linger time.Duration, fresh func() sinkcore.Batch) *Table[K] {
	return &Table[K]{
		linger:  linger,
		fresh:   fresh,
		entries: make(map[K]*Entry),
	}
}

// LookupOrCreate returns the existing entry for k, or creates one with a
// fresh batch and a linger deadline armed at now+T (spec §4.2 "on create, a
// new Batch is produced via fresh() and a linger timer is armed").
func (t *Table[K]) LookupOrCreate(k K, now time.Time) *Entry {
	if e, ok := t.entries[k]; ok {
		return e
	}
	e := &Entry{
		Batch:    t.fresh(),
		deadline: now.Add(t.linger),
	}
	t.entries[k] = e
	t.order = append(t.order, k)
	return e
}

// Get returns the entry for k without creating one.
func (t *Table[K]) Get(k K) (*Entry, bool) {
	e, ok := t.entries[k]
	return e, ok
}

// Remove drops the partition state for k along with its linger deadline
// (spec §4.2 "removal happens exactly when the batch is handed to the
// Service Sink").
func (t *Table[K]) Remove(k K) {
	if _, ok := t.entries[k]; !ok {
		return
	}
	delete(t.entries, k)
	for i, kk := range t.order {
		if kk == k {
			t.order = append(t.order[:i], t.order[i+1:]...)
			break
		}
	}
}

// Len reports the number of live partitions.
func (t *Table[K]) Len() int {
	return len(t.entries)
}

// Keys returns the live partition keys in stable FIFO-of-creation order
// (spec §4.4 "dispatch iteration order... SHOULD avoid starvation"). The
// returned slice is a snapshot; it is safe to mutate the table while
// ranging over it.
func (t *Table[K]) Keys() []K {
	out := make([]K, len(t.order))
	copy(out, t.order)
	return out
}
