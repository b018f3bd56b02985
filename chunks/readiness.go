// Package chunks implements the chunk readiness cache and the chunk
// producer.
package chunks

import (
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/tolelom/shardcore/types"
)

// readinessCacheSize bounds the readiness cache.
const readinessCacheSize = 2048

// ReadyChunk is one shard's readiness record: the header available for
// inclusion and the wall-clock time its body finished reconstructing.
type ReadyChunk struct {
	Header  *types.ShardChunkHeader
	Arrived time.Time
}

// ReadinessCache maps prev_block_hash -> {shard_id -> ReadyChunk}. It is an
// LRU over prev_block_hash so stale entries for abandoned chain tips are
// evicted automatically once the chain has moved past readinessCacheSize
// distinct parents.
type ReadinessCache struct {
	lru *lru.Cache[types.Hash, map[types.ShardID]ReadyChunk]
}

// NewReadinessCache constructs a bounded readiness cache.
func NewReadinessCache() *ReadinessCache {
	c, err := lru.New[types.Hash, map[types.ShardID]ReadyChunk](readinessCacheSize)
	if err != nil {
		// Only fails for a non-positive size, which readinessCacheSize never is.
		panic(err)
	}
	return &ReadinessCache{lru: c}
}

// MarkReady records that shard's chunk atop prevHash is ready for
// inclusion, populated once a full chunk body has been reconstructed from
// sufficient erasure-coded parts.
func (c *ReadinessCache) MarkReady(prevHash types.Hash, shard types.ShardID, header *types.ShardChunkHeader, now time.Time) {
	shards, ok := c.lru.Get(prevHash)
	if !ok {
		shards = make(map[types.ShardID]ReadyChunk)
	}
	shards[shard] = ReadyChunk{Header: header, Arrived: now}
	c.lru.Add(prevHash, shards)
}

// Snapshot returns the readiness state for prevHash at the moment of the
// call, consumed by the block producer. The returned map is a
// copy; mutating it does not affect the cache.
func (c *ReadinessCache) Snapshot(prevHash types.Hash) map[types.ShardID]ReadyChunk {
	shards, ok := c.lru.Get(prevHash)
	if !ok {
		return nil
	}
	out := make(map[types.ShardID]ReadyChunk, len(shards))
	for k, v := range shards {
		out[k] = v
	}
	return out
}
