package epoch

import (
	"encoding/binary"

	"github.com/tolelom/shardcore/crypto"
	"github.com/tolelom/shardcore/types"
)

// ShardLayout describes how accounts map onto shards for one epoch.
// Shard counts may change across an epoch boundary;
// when they do, a block straddling the boundary must still reference a
// consistent set of chunk headers for its own epoch's layout.
type ShardLayout struct {
	Version   uint32
	NumShards int
}

// AccountToShard deterministically assigns accountID to a shard by hashing
// it and reducing modulo the shard count.
func (l ShardLayout) AccountToShard(accountID types.AccountID) types.ShardID {
	h := crypto.HashBytes([]byte(accountID))
	v := binary.BigEndian.Uint64(h[:8])
	return types.ShardID(v % uint64(l.NumShards))
}
