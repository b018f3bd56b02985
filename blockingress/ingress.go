// Package blockingress implements block ingress and the mempool
// reconciliation that follows a block's acceptance.
package blockingress

import (
	"errors"
	"fmt"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/tolelom/shardcore/adapters"
	"github.com/tolelom/shardcore/txpool"
	"github.com/tolelom/shardcore/types"
)

// ErrOrphan marks a block whose parent is not known locally. It is not bad
// data: a Chain implementation wraps it from ValidateHeader so ingress
// routes the block to the orphan pool instead of banning the sender.
var ErrOrphan = errors.New("blockingress: block's parent is not known (orphan)")

// blockHorizon drops far-future blocks while syncing; rebroadcastWindow
// bounds the LRU of hashes already rebroadcast.
const (
	blockHorizon      = 500
	rebroadcastWindow = 30
)

// Status classifies how a block relates to the current head, driving
// mempool reconciliation.
type Status int

const (
	// StatusNext extends the current head directly.
	StatusNext Status = iota
	// StatusFork is a sibling of head that was not adopted.
	StatusFork
	// StatusReorg replaces the head with a different branch.
	StatusReorg
)

// ApplyResult is what Chain.Apply synchronously returns.
type ApplyResult struct {
	Accepted             bool
	IsOrphan             bool
	Status               Status
	PrevHead             types.Hash // only meaningful when Status == StatusReorg
	OrphansMissingChunks []*types.Block
	BlocksMissingChunks  []*types.Block
	Challenges           []types.ChallengeResult
}

// Chain is the narrow view of chain application that block ingress needs.
// Its production implementation lives in the client/store packages, which
// own the actual state-transition machinery (out of this package's scope).
type Chain interface {
	Head() (hash types.Hash, height types.Height)
	Tail() types.Height
	IsHeightProcessed(height types.Height) bool
	Apply(block *types.Block) (ApplyResult, error)
	ValidateHeader(block *types.Block) error
	// BranchDifference returns the blocks that exist only on fromBranch's
	// side (onlyFrom) and only on toBranch's side (onlyTo) of their fork
	// point, used to compute the reorg reconciliation set.
	BranchDifference(fromBranch, toBranch types.Hash) (onlyFrom, onlyTo []*types.Block)
}

// ShardTracker reports whether the local node cares about a shard this or
// next epoch.
type ShardTracker interface {
	CaresAboutShard(shard types.ShardID) bool
}

// ChunkBodyResolver maps a chunk header to the transactions it carries, so
// reconciliation can move them between "included" and "pending" mempool
// state. Its production implementation is the chunk store, which holds
// reconstructed chunk bodies; block ingress only knows chunk headers.
type ChunkBodyResolver interface {
	TransactionsOf(header types.ShardChunkHeader) ([]*types.Transaction, bool)
}

// Ingress drives block ingress end to end.
type Ingress struct {
	chain   Chain
	net     adapters.PeerManagerAdapter
	pool    *txpool.Pool
	shards  ShardTracker
	bodies  ChunkBodyResolver
	syncing func() bool

	mu          sync.Mutex
	rebroadcast *lru.Cache[types.Hash, struct{}]
	orphans     map[types.Hash]*types.Block
}

// NewIngress wires an Ingress against the chain, network, mempool, and
// shard-tracking views it needs.
func NewIngress(chain Chain, net adapters.PeerManagerAdapter, pool *txpool.Pool, shards ShardTracker, bodies ChunkBodyResolver, syncing func() bool) *Ingress {
	cache, err := lru.New[types.Hash, struct{}](rebroadcastWindow)
	if err != nil {
		panic(err)
	}
	return &Ingress{chain: chain, net: net, pool: pool, shards: shards, bodies: bodies, syncing: syncing, rebroadcast: cache, orphans: make(map[types.Hash]*types.Block)}
}

// ReceiveBlock runs the ingress pipeline for an incoming block.
// wasRequested suppresses the height-gate's "unrequested future block"
// check; peerID identifies who to ask for a missing prev on orphan.
func (ing *Ingress) ReceiveBlock(block *types.Block, peerID string, wasRequested bool) error {
	if drop := ing.checkBlockHeight(block, wasRequested); drop {
		return nil
	}

	if err := ing.chain.ValidateHeader(block); err != nil {
		if !errors.Is(err, ErrOrphan) {
			ing.net.Send(adapters.NetworkRequest{Kind: adapters.ReqBanPeer, PeerID: peerID, BanReason: adapters.BanBadBlockHeader})
			return fmt.Errorf("blockingress: bad block header from %s: %w", peerID, err)
		}
		// Parent unknown: header checks cannot run yet. Apply classifies
		// the block as an orphan below and ingress requests the parent.
	} else {
		ing.maybeRebroadcast(block)
	}

	result, err := ing.chain.Apply(block)
	if err != nil {
		return fmt.Errorf("blockingress: apply block %s: %w", block.Hash, err)
	}

	for _, c := range result.Challenges {
		ing.net.Send(adapters.NetworkRequest{Kind: adapters.ReqChallenge, Payload: c})
	}
	for _, missing := range result.BlocksMissingChunks {
		ing.net.Send(adapters.NetworkRequest{Kind: adapters.ReqPartialEncodedChunkRequest, Payload: missing.Hash})
	}

	if result.IsOrphan {
		ing.mu.Lock()
		_, known := ing.orphans[block.Header.PrevHash]
		if !known {
			ing.orphans[block.Header.PrevHash] = block
		}
		ing.mu.Unlock()
		if !known {
			ing.net.Send(adapters.NetworkRequest{Kind: adapters.ReqBlockRequest, PeerID: peerID, Payload: block.Header.PrevHash})
		}
		return nil
	}

	if result.Accepted {
		ing.onBlockAccepted(block, result)
	}
	return nil
}

// checkBlockHeight is the ingress height gate.
func (ing *Ingress) checkBlockHeight(block *types.Block, wasRequested bool) bool {
	_, headHeight := ing.chain.Head()
	if ing.syncing() && !wasRequested && block.Header.Height >= headHeight+blockHorizon {
		return true
	}
	if block.Header.Height < ing.chain.Tail() {
		return true
	}
	if !wasRequested && ing.chain.IsHeightProcessed(block.Header.Height) {
		headHash, _ := ing.chain.Head()
		if block.Header.PrevHash != headHash {
			return true
		}
	}
	return false
}

func (ing *Ingress) maybeRebroadcast(block *types.Block) {
	ing.mu.Lock()
	defer ing.mu.Unlock()
	if ing.rebroadcast.Contains(block.Hash) {
		return
	}
	ing.rebroadcast.Add(block.Hash, struct{}{})
	ing.net.Send(adapters.NetworkRequest{Kind: adapters.ReqBlock, Payload: block})
}

// onBlockAccepted runs the acceptance post-process plus mempool
// reconciliation.
func (ing *Ingress) onBlockAccepted(block *types.Block, result ApplyResult) {
	switch result.Status {
	case StatusNext:
		ing.removeIncludedTxs(block)
	case StatusFork:
		// no reconciliation
	case StatusReorg:
		onlyOld, onlyNew := ing.chain.BranchDifference(result.PrevHead, block.Hash)
		for _, b := range onlyOld {
			ing.reintroduceBlockTxs(b)
		}
		for _, b := range onlyNew {
			ing.removeIncludedTxs(b)
		}
	}

	ing.mu.Lock()
	if waiting, ok := ing.orphans[block.Hash]; ok {
		delete(ing.orphans, block.Hash)
		ing.mu.Unlock()
		_ = ing.ReceiveBlock(waiting, "", true)
		return
	}
	ing.mu.Unlock()
}

// removeIncludedTxs handles a head-extending block: for each cared-about
// shard whose
// chunk was newly included at block's height, remove its transactions from
// the pool — they are now committed.
func (ing *Ingress) removeIncludedTxs(block *types.Block) {
	for _, ch := range block.Header.ChunkHeaders {
		if ch.HeightIncluded != block.Header.Height || !ing.shards.CaresAboutShard(ch.ShardID) {
			continue
		}
		txs, ok := ing.bodies.TransactionsOf(ch)
		if !ok {
			continue
		}
		hashes := make([]types.Hash, len(txs))
		for i, tx := range txs {
			hashes[i] = tx.ID
		}
		ing.pool.Remove(ch.ShardID, hashes)
	}
}

// reintroduceBlockTxs handles the abandoned branch of a reorg:
// transactions from a block that is no longer on the canonical chain go
// back into the pool for their shard.
func (ing *Ingress) reintroduceBlockTxs(block *types.Block) {
	for _, ch := range block.Header.ChunkHeaders {
		if !ing.shards.CaresAboutShard(ch.ShardID) {
			continue
		}
		if txs, ok := ing.bodies.TransactionsOf(ch); ok {
			ing.pool.Reintroduce(ch.ShardID, txs)
		}
	}
}
