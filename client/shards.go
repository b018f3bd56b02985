package client

import (
	"sync"

	"github.com/tolelom/shardcore/epoch"
	"github.com/tolelom/shardcore/types"
)

// ShardTracker answers "which shards does the local node care about" for
// the current and next epoch. A
// validator cares about a shard if it is a chunk producer for it in the
// current or next epoch; a non-validator node can additionally be
// configured to track a fixed set (e.g. an RPC-serving full node).
type ShardTracker struct {
	epochs *epoch.Manager
	selfID types.AccountID

	mu     sync.RWMutex
	extra  map[types.ShardID]bool
	curEp  types.EpochID
	nextEp types.EpochID
}

// NewShardTracker wires a ShardTracker against the epoch manager.
// extraShards are tracked regardless of validator status (full-node
// tracking); pass nil for a validator-only node.
func NewShardTracker(epochs *epoch.Manager, selfID types.AccountID, extraShards []types.ShardID) *ShardTracker {
	extra := make(map[types.ShardID]bool, len(extraShards))
	for _, s := range extraShards {
		extra[s] = true
	}
	return &ShardTracker{epochs: epochs, selfID: selfID, extra: extra}
}

// SetEpochs updates which epoch ids are "current" and "next" for
// WillCareAboutShardNextBlock's lookahead; called whenever the tracked
// head's epoch changes.
func (t *ShardTracker) SetEpochs(current, next types.EpochID) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.curEp = current
	t.nextEp = next
}

func (t *ShardTracker) caresIn(epochID types.EpochID, shard types.ShardID) bool {
	if t.extra[shard] {
		return true
	}
	if epochID == "" {
		return false
	}
	info, err := t.epochs.Info(epochID)
	if err != nil {
		return false
	}
	for _, producer := range info.ChunkProducers[shard] {
		if producer == t.selfID {
			return true
		}
	}
	return false
}

// CaresAboutShard reports whether the node tracks shard under the current
// epoch (blockingress.ShardTracker, txingress.ShardCareness).
func (t *ShardTracker) CaresAboutShard(shard types.ShardID) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.caresIn(t.curEp, shard)
}

// WillCareAboutShardNextBlock reports whether the node will track shard
// once the next epoch starts.
func (t *ShardTracker) WillCareAboutShardNextBlock(shard types.ShardID) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.caresIn(t.nextEp, shard)
}

// IsActiveValidatorForShard reports whether the node is the elected chunk
// producer for shard at withinHeight under the current epoch.
func (t *ShardTracker) IsActiveValidatorForShard(shard types.ShardID, withinHeight types.Height) bool {
	t.mu.RLock()
	epochID := t.curEp
	t.mu.RUnlock()
	if epochID == "" {
		return false
	}
	producer, err := t.epochs.ChunkProducer(epochID, withinHeight, shard)
	if err != nil {
		return false
	}
	return producer == t.selfID
}

// CaredAboutShards lists every shard the node currently cares about, scanning
// the current epoch's shard layout (catchup.ShardSet).
func (t *ShardTracker) CaredAboutShards() []types.ShardID {
	t.mu.RLock()
	epochID := t.curEp
	t.mu.RUnlock()
	if epochID == "" {
		return nil
	}
	info, err := t.epochs.Info(epochID)
	if err != nil {
		return nil
	}
	shards := make([]types.ShardID, 0, info.ShardLayout.NumShards)
	for s := 0; s < info.ShardLayout.NumShards; s++ {
		shard := types.ShardID(s)
		if t.CaresAboutShard(shard) {
			shards = append(shards, shard)
		}
	}
	return shards
}
