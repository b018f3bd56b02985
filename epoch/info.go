// Package epoch tracks validator sets, shard layout, and producer election
// across epoch boundaries. It is the
// lookup surface that the rest of the core calls into for
// "who produces/approves what, when" questions; it does not itself decide
// when epochs roll over — the caller does (the client package uses a fixed
// epoch length).
package epoch

import (
	"fmt"

	"github.com/tolelom/shardcore/types"
)

// Info is the full validator/shard configuration for one epoch, analogous
// to what the epoch-info store column would hold.
type Info struct {
	EpochID         types.EpochID
	NextEpochID     types.EpochID
	ProtocolVersion uint32
	ShardLayout     ShardLayout

	// BlockProducers is the weighted seat-assignment list for block
	// production: seat i at height h is BlockProducers[h % len(BlockProducers)].
	BlockProducers []types.AccountID
	// ChunkProducers holds one seat-assignment list per shard.
	ChunkProducers map[types.ShardID][]types.AccountID
	// Approvers is the canonical, stable ordering used for a block's
	// approval vector; index here is the approval slot.
	Approvers []types.ValidatorStake
	// Stakes maps every validator (block or chunk producer) to its weight,
	// used by Doomslug's two-thirds threshold.
	Stakes map[types.AccountID]uint64
}

// stakeOf returns 0 for an unknown account rather than erroring: a
// non-validator approval simply carries no weight.
func (info *Info) stakeOf(id types.AccountID) uint64 {
	return info.Stakes[id]
}

// IsValidator reports whether accountID holds a seat (block producer, chunk
// producer, or approver) in this epoch.
func (info *Info) IsValidator(accountID types.AccountID) bool {
	_, ok := info.Stakes[accountID]
	return ok
}

// ApproverIndex returns accountID's slot in the canonical approver order,
// used to place Some(sig)/None in a produced block's approval vector.
func (info *Info) ApproverIndex(accountID types.AccountID) (int, bool) {
	for i, v := range info.Approvers {
		if v.AccountID == accountID {
			return i, true
		}
	}
	return 0, false
}

func (info *Info) blockProducerAt(height types.Height) (types.AccountID, error) {
	if len(info.BlockProducers) == 0 {
		return "", fmt.Errorf("epoch %s: no block producers configured", info.EpochID)
	}
	idx := int(height % uint64(len(info.BlockProducers)))
	return info.BlockProducers[idx], nil
}

func (info *Info) chunkProducerAt(height types.Height, shard types.ShardID) (types.AccountID, error) {
	seats, ok := info.ChunkProducers[shard]
	if !ok || len(seats) == 0 {
		return "", fmt.Errorf("epoch %s: no chunk producers configured for shard %d", info.EpochID, shard)
	}
	idx := int(height % uint64(len(seats)))
	return seats[idx], nil
}
