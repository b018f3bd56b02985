package client

import (
	"github.com/tolelom/shardcore/runtimestub"
	"github.com/tolelom/shardcore/txingress"
	"github.com/tolelom/shardcore/types"
)

// StateRootView implements txingress.StateRootLookup atop the in-memory
// runtime stub. The stub keeps one flat account namespace rather than a
// state root per shard (runtimestub.Runtime doc comment), so every shard
// the local node actually tracks resolves to the same root; shards it does
// not track report ok=false, mirroring "catchup for that shard hasn't
// completed yet" since this module runs no catchup for
// shards it was never asked to care about.
type StateRootView struct {
	runtime *runtimestub.Runtime
	shards  *ShardTracker
}

var _ txingress.StateRootLookup = (*StateRootView)(nil)

// NewStateRootView wires a StateRootView against the runtime and shard
// tracker it consults.
func NewStateRootView(runtime *runtimestub.Runtime, shards *ShardTracker) *StateRootView {
	return &StateRootView{runtime: runtime, shards: shards}
}

// StateRoot implements txingress.StateRootLookup.
func (v *StateRootView) StateRoot(head types.Hash, shard types.ShardID) (types.Hash, bool) {
	if !v.shards.CaresAboutShard(shard) && !v.shards.WillCareAboutShardNextBlock(shard) {
		return "", false
	}
	extra, err := v.runtime.ChunkExtra(head, shard)
	if err != nil {
		return "", false
	}
	return extra.StateRoot, true
}
