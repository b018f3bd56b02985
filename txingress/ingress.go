// Package txingress implements transaction ingress and forwarding:
// local validation, per-shard mempool insertion, and horizon-aware
// forwarding to the validators that will next produce chunks for a shard.
package txingress

import (
	"fmt"

	"github.com/tolelom/shardcore/adapters"
	"github.com/tolelom/shardcore/epoch"
	"github.com/tolelom/shardcore/txpool"
	"github.com/tolelom/shardcore/types"
)

// txRoutingHeightHorizon is the forwarding window H: a transaction fans
// out to the chunk producers elected for head-relative heights {2..H, 2H}.
const txRoutingHeightHorizon = 4

// Outcome is process_tx's result enum.
type Outcome int

const (
	OutcomeValidTx Outcome = iota
	OutcomeInvalidTx
	OutcomeRequestRouted
	OutcomeDoesNotTrackShard
	OutcomeNoResponse
)

// ShardCareness reports whether the local node tracks a shard now or will
// track it starting next block.
type ShardCareness interface {
	CaresAboutShard(shard types.ShardID) bool
	WillCareAboutShardNextBlock(shard types.ShardID) bool
	IsActiveValidatorForShard(shard types.ShardID, withinHeight types.Height) bool
}

// StateRootLookup resolves the state root a shard's mempool validation
// needs; ok is false when catchup for that shard hasn't completed yet.
type StateRootLookup interface {
	StateRoot(head types.Hash, shard types.ShardID) (types.Hash, bool)
}

// HeadInfo is the minimal chain-head view transaction validation needs.
type HeadInfo interface {
	Head() (hash types.Hash, height types.Height, epochID types.EpochID, gasPrice uint64)
	NextEpochID(epochID types.EpochID) types.EpochID
	IsNearEpochBoundary(horizon types.Height) bool
}

// Ingress drives transaction ingress.
type Ingress struct {
	epochs  *epoch.Manager
	pool    *txpool.Pool
	runtime adapters.RuntimeAdapter
	net     adapters.PeerManagerAdapter
	shards  ShardCareness
	roots   StateRootLookup
	head    HeadInfo
	selfID  types.AccountID
}

// NewIngress wires an Ingress against the components process_tx needs.
func NewIngress(epochs *epoch.Manager, pool *txpool.Pool, runtime adapters.RuntimeAdapter, net adapters.PeerManagerAdapter, shards ShardCareness, roots StateRootLookup, head HeadInfo, selfID types.AccountID) *Ingress {
	return &Ingress{epochs: epochs, pool: pool, runtime: runtime, net: net, shards: shards, roots: roots, head: head, selfID: selfID}
}

// ProcessTx validates, pools, and/or forwards one transaction.
func (ing *Ingress) ProcessTx(tx *types.Transaction, isForwarded, checkOnly bool) (Outcome, error) {
	headHash, headHeight, epochID, gasPrice := ing.head.Head()

	if err := ing.runtime.ValidateTx(tx, gasPrice, nil, true); err != nil {
		return OutcomeInvalidTx, err
	}

	shard, err := ing.epochs.AccountToShard(epochID, tx.SignerID)
	if err != nil {
		return OutcomeInvalidTx, fmt.Errorf("txingress: resolve shard: %w", err)
	}

	if !ing.shards.CaresAboutShard(shard) && !ing.shards.WillCareAboutShardNextBlock(shard) {
		if isForwarded {
			return OutcomeNoResponse, nil
		}
		ing.forward(shard, headHeight, epochID, tx)
		return OutcomeRequestRouted, nil
	}

	stateRoot, ok := ing.roots.StateRoot(headHash, shard)
	if !ok {
		if !isForwarded {
			ing.forward(shard, headHeight, epochID, tx)
			return OutcomeRequestRouted, nil
		}
		return OutcomeInvalidTx, fmt.Errorf("txingress: shard %d not caught up", shard)
	}

	if err := ing.runtime.ValidateTx(tx, gasPrice, &stateRoot, false); err != nil {
		return OutcomeInvalidTx, err
	}

	if checkOnly {
		return OutcomeValidTx, nil
	}

	if ing.isActiveWithinHorizon(shard, headHeight) {
		if err := ing.pool.Insert(shard, tx); err != nil && err != txpool.ErrAlreadyInPool {
			return OutcomeInvalidTx, err
		}
		if !isForwarded && ing.head.IsNearEpochBoundary(txRoutingHeightHorizon) {
			ing.forwardUnderEpoch(shard, headHeight, ing.head.NextEpochID(epochID), tx)
		}
		return OutcomeValidTx, nil
	}

	if !isForwarded {
		ing.forward(shard, headHeight, epochID, tx)
		return OutcomeRequestRouted, nil
	}
	return OutcomeDoesNotTrackShard, nil
}

// isActiveWithinHorizon reports whether the local node is elected to
// produce a chunk for shard at any of the next txRoutingHeightHorizon
// heights, i.e. whether pooling the transaction locally is useful.
func (ing *Ingress) isActiveWithinHorizon(shard types.ShardID, headHeight types.Height) bool {
	for h := types.Height(1); h <= txRoutingHeightHorizon; h++ {
		if ing.shards.IsActiveValidatorForShard(shard, headHeight+h) {
			return true
		}
	}
	return false
}

// forward fans the transaction out to the chunk producers of shard across
// the forwarding horizon.
func (ing *Ingress) forward(shard types.ShardID, headHeight types.Height, epochID types.EpochID, tx *types.Transaction) {
	ing.forwardUnderEpoch(shard, headHeight, epochID, tx)
}

func (ing *Ingress) forwardUnderEpoch(shard types.ShardID, headHeight types.Height, epochID types.EpochID, tx *types.Transaction) {
	sent := make(map[types.AccountID]bool)
	heights := make([]types.Height, 0, txRoutingHeightHorizon)
	for h := types.Height(2); h <= txRoutingHeightHorizon; h++ {
		heights = append(heights, headHeight+h)
	}
	heights = append(heights, headHeight+2*txRoutingHeightHorizon)

	for _, h := range heights {
		producer, err := ing.epochs.ChunkProducer(epochID, h, shard)
		if err != nil || producer == ing.selfID || sent[producer] {
			continue
		}
		sent[producer] = true
		ing.net.Send(adapters.NetworkRequest{Kind: adapters.ReqForwardTx, PeerID: string(producer), Payload: tx})
	}
}
