package rendezvous

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func keyFunc(s string) string { return s }

func TestShardPartitionerIsStable(t *testing.T) {
	p := New([]string{"a", "b", "c"}, keyFunc)

	first := p.Partition("tenant-42")
	for i := 0; i < 100; i++ {
		require.Equal(t, first, p.Partition("tenant-42"), "same key must always land on the same shard")
	}
}

func TestShardPartitionerUsesOnlyKnownShards(t *testing.T) {
	shards := []string{"a", "b", "c"}
	p := New(shards, keyFunc)

	seen := map[string]bool{}
	for i := 0; i < 200; i++ {
		key := string(rune('a' + i%26))
		seen[p.Partition(key)] = true
	}

	for shard := range seen {
		assert.Contains(t, shards, shard)
	}
}

func TestShardPartitionerAddShardRemapsMinimalKeys(t *testing.T) {
	p := New([]string{"a", "b", "c"}, keyFunc)

	keys := make([]string, 0, 1000)
	before := make(map[string]string, 1000)
	for i := 0; i < 1000; i++ {
		key := fmt.Sprintf("key-%d", i)
		keys = append(keys, key)
		before[key] = p.Partition(key)
	}

	p.AddShard("d")

	remapped := 0
	for _, key := range keys {
		if p.Partition(key) != before[key] {
			remapped++
		}
	}

	assert.Less(t, remapped, len(keys)/2, "rendezvous hashing should remap well under half the keys when adding one of four shards")
}

func TestShardPartitionerRemoveShard(t *testing.T) {
	p := New([]string{"a", "b", "c"}, keyFunc)
	p.RemoveShard("b")

	for i := 0; i < 50; i++ {
		key := string(rune('a' + i%26))
		assert.NotEqual(t, "b", p.Partition(key))
	}
}
