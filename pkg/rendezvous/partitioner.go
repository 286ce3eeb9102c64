// Package rendezvous implements a sinkcore.Partitioner backed by rendezvous
// (highest random weight) hashing over a fixed set of shard names, so a
// caller that wants a bounded number of partitions (rather than one per
// raw key) can map events onto `N` stable shards that survive shard-set
// resizing with minimal reshuffling.
package rendezvous

import (
	"github.com/cespare/xxhash/v2"
	rendezvous "github.com/dgryski/go-rendezvous"
)

func hashString(s string) uint64 {
	return xxhash.Sum64String(s)
}

// ShardPartitioner assigns events to one of a fixed set of shard names via
// rendezvous hashing of a caller-supplied string key. E is the event type;
// KeyFunc projects an event to the string hashed for shard assignment.
type ShardPartitioner[E any] struct {
	keyFunc func(E) string
	rv      *rendezvous.Rendezvous
}

// New builds a ShardPartitioner over the given shard names. keyFunc derives
// the string hashed for each event (e.g. a tenant ID or stream name).
func New[E any](shards []string, keyFunc func(E) string) *ShardPartitioner[E] {
	return &ShardPartitioner[E]{
		keyFunc: keyFunc,
		rv:      rendezvous.New(shards, hashString),
	}
}

// Partition implements sinkcore.Partitioner[E, string].
func (p *ShardPartitioner[E]) Partition(ev E) string {
	return p.rv.Lookup(p.keyFunc(ev))
}

// AddShard grows the shard set. Existing keys hashing to untouched shards
// are unaffected; only a ~1/N fraction remaps, the defining property of
// rendezvous hashing.
func (p *ShardPartitioner[E]) AddShard(name string) {
	p.rv.Add(name)
}

// RemoveShard shrinks the shard set.
func (p *ShardPartitioner[E]) RemoveShard(name string) {
	p.rv.Remove(name)
}
