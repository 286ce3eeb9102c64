// Package acker provides sinkcore.Acker implementations. These live outside
// the sink core (spec.md §1: the acker is an external collaborator) and
// consume the Acker capability rather than participate in batching logic.
package acker

import (
	"sync/atomic"
)

// Counting is an in-memory sinkcore.Acker that just accumulates the total
// acknowledged count, for any caller that doesn't need persistence.
type Counting struct {
	total uint64
}

// Ack implements sinkcore.Acker.
func (c *Counting) Ack(n uint64) {
	atomic.AddUint64(&c.total, n)
}

// Total returns the cumulative acknowledged count.
func (c *Counting) Total() uint64 {
	return atomic.LoadUint64(&c.total)
}
