// Package client implements the core aggregate: it owns every
// component cataloged elsewhere in this module and exposes the host
// entrypoints (receive_block, process_tx, produce_block, ...) that drive
// it. Chunks and doomslug are reached only through the Client's own API;
// cmd/shardnode builds the store and epoch manager, hands them to
// NewClient, and also passes the epoch manager to the RPC handler.
package client

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/tolelom/shardcore/approvals"
	"github.com/tolelom/shardcore/blockingress"
	"github.com/tolelom/shardcore/chaininfo"
	"github.com/tolelom/shardcore/crypto"
	"github.com/tolelom/shardcore/doomslug"
	"github.com/tolelom/shardcore/epoch"
	"github.com/tolelom/shardcore/events"
	"github.com/tolelom/shardcore/metrics"
	"github.com/tolelom/shardcore/txingress"
	"github.com/tolelom/shardcore/types"

	storage "github.com/tolelom/shardcore/store"
)

// defaultGasPrice is the flat gas price quoted to transaction validation
// until a real fee-market mechanism is wired in.
const defaultGasPrice = 1

// epochLength is the number of blocks between epoch boundaries, fixed for this module rather than read from genesis.
const epochLength = types.Height(500)

// ChainAdapter implements blockingress.Chain, approvals.HeaderLookup,
// approvals.ElectionChecker, and netadapter.BlockSource atop
// storage.ChainStore and the epoch manager.
type ChainAdapter struct {
	store  *storage.ChainStore
	epochs *epoch.Manager
	selfID types.AccountID

	mu   sync.RWMutex
	tip  types.Tip
	tail types.Height

	// hooks fire on block acceptance (onAccepted); nil until WireHooks is
	// called, which Client does once every collaborator exists.
	doomslugTracker *doomslug.Tracker
	chainInfo       *chaininfo.Publisher
	approvalIngress *approvals.Ingress
	shardTracker    *ShardTracker
	emitter         *events.Emitter
}

var _ blockingress.Chain = (*ChainAdapter)(nil)

// NewChainAdapter wires a ChainAdapter over store and epochs. genesisTip
// seeds Head/Tail before any block has been applied.
func NewChainAdapter(store *storage.ChainStore, epochs *epoch.Manager, selfID types.AccountID, genesisTip types.Tip) *ChainAdapter {
	return &ChainAdapter{store: store, epochs: epochs, selfID: selfID, tip: genesisTip, tail: genesisTip.Height}
}

// WireHooks installs the collaborators onAccepted drives once the block
// acceptance drives more than chain-store persistence: Doomslug tip
// advancement, chain-info publication, parked-approval draining, shard
// tracking, and event emission.
func (c *ChainAdapter) WireHooks(ds *doomslug.Tracker, pub *chaininfo.Publisher, appr *approvals.Ingress, shards *ShardTracker, emitter *events.Emitter) {
	c.doomslugTracker = ds
	c.chainInfo = pub
	c.approvalIngress = appr
	c.shardTracker = shards
	c.emitter = emitter
}

// Head returns the tracked tip's hash and height.
func (c *ChainAdapter) Head() (types.Hash, types.Height) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.tip.LastBlockHash, c.tip.Height
}

// Tip returns the full tracked tip value.
func (c *ChainAdapter) Tip() types.Tip {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.tip
}

// Tail returns the lowest height this node still has full blocks for. No GC
// pass is wired in this module, so it never advances past genesis.
func (c *ChainAdapter) Tail() types.Height {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.tail
}

// IsHeightProcessed delegates to chain_store's processed-heights column.
func (c *ChainAdapter) IsHeightProcessed(height types.Height) bool {
	return c.store.IsHeightProcessed(height)
}

// ValidateHeader checks a candidate block's header-level invariants before
// it is handed to Apply: the claimed epoch id against the one recomputed
// from the parent, the proposer's election and signature, and the approval
// vector's length and signatures. Any failure other than an unknown parent
// is ban-worthy bad data.
func (c *ChainAdapter) ValidateHeader(block *types.Block) error {
	if block.Header.PrevHash == "" {
		return nil // genesis: nothing to validate against
	}
	parent, err := c.store.GetBlock(block.Header.PrevHash)
	if err != nil {
		return fmt.Errorf("%w: %v", blockingress.ErrOrphan, err)
	}
	if block.Header.Height <= parent.Header.Height {
		return fmt.Errorf("client: header height %d does not exceed parent height %d", block.Header.Height, parent.Header.Height)
	}

	expectedEpoch := parent.Header.EpochID
	if block.Header.Height%epochLength == 0 {
		expectedEpoch = parent.Header.NextEpochID
	}
	if block.Header.EpochID != expectedEpoch {
		return fmt.Errorf("client: header claims epoch %s, recomputed %s atop parent %s", block.Header.EpochID, expectedEpoch, parent.Hash)
	}

	elected, err := c.epochs.BlockProducer(block.Header.EpochID, block.Header.Height)
	if err != nil {
		return fmt.Errorf("client: resolve elected producer: %w", err)
	}
	if block.Header.Proposer != elected {
		return fmt.Errorf("client: proposer %s is not the elected producer %s for height %d", block.Header.Proposer, elected, block.Header.Height)
	}
	proposerKey, ok := c.PublicKeyOf(block.Header.EpochID, block.Header.Proposer)
	if !ok {
		return fmt.Errorf("client: no public key recorded for proposer %s in epoch %s", block.Header.Proposer, block.Header.EpochID)
	}
	pub, err := crypto.PubKeyFromHex(proposerKey)
	if err != nil {
		return fmt.Errorf("client: proposer %s key: %w", block.Header.Proposer, err)
	}
	if err := block.VerifySignature(pub); err != nil {
		return fmt.Errorf("client: block signature: %w", err)
	}

	approvers, err := c.epochs.ApproversOrdered(parent.Header.NextEpochID)
	if err != nil {
		return fmt.Errorf("client: approver order: %w", err)
	}
	if len(block.Header.Approvals) != len(approvers) {
		return fmt.Errorf("%w: got %d approvals, epoch has %d approvers", types.ErrApprovalsLengthMismatch, len(block.Header.Approvals), len(approvers))
	}
	return c.validateApprovals(block, parent, approvers)
}

// validateApprovals checks every non-nil entry of the approval vector
// under its approver's recorded key. A block does not record whether each
// signer endorsed the parent or skipped a height, so a signature is
// accepted if it verifies as an endorsement of the parent or as a skip of
// any height between the parent and the block.
func (c *ChainAdapter) validateApprovals(block, parent *types.Block, approvers []types.ValidatorStake) error {
	for i, sig := range block.Header.Approvals {
		if sig == nil {
			continue
		}
		pub, err := crypto.PubKeyFromHex(approvers[i].PublicKey)
		if err != nil {
			return fmt.Errorf("client: approver %s key: %w", approvers[i].AccountID, err)
		}
		if !approvalSigValid(pub, parent, block.Header.Height, *sig) {
			return fmt.Errorf("client: approval %d (%s) does not verify for block %s", i, approvers[i].AccountID, block.Hash)
		}
	}
	return nil
}

func approvalSigValid(pub crypto.PublicKey, parent *types.Block, target types.Height, sig types.Signature) bool {
	endorse := types.Approval{Inner: types.Endorsement(parent.Hash), TargetHeight: target}
	if crypto.Verify(pub, endorse.DataForSig(), sig) == nil {
		return true
	}
	for h := parent.Header.Height; h < target; h++ {
		skip := types.Approval{Inner: types.Skip(h), TargetHeight: target}
		if crypto.Verify(pub, skip.DataForSig(), sig) == nil {
			return true
		}
	}
	return false
}

// Apply persists block and classifies how it relates to the tracked tip,
// covering the accepted, orphan, next, fork, and reorg outcomes.
// It never runs chunk validation itself (that belongs to the shards
// manager); a block is accepted once its header
// validates and its parent is known.
func (c *ChainAdapter) Apply(block *types.Block) (blockingress.ApplyResult, error) {
	if err := c.ValidateHeader(block); err != nil {
		if errors.Is(err, blockingress.ErrOrphan) {
			return blockingress.ApplyResult{Accepted: false, IsOrphan: true}, nil
		}
		return blockingress.ApplyResult{}, err
	}

	if err := c.store.PutBlock(block); err != nil {
		return blockingress.ApplyResult{}, fmt.Errorf("client: persist block: %w", err)
	}

	c.mu.Lock()
	curTip := c.tip
	c.mu.Unlock()

	result := blockingress.ApplyResult{Accepted: true}

	switch {
	case block.Header.PrevHash == curTip.LastBlockHash || curTip.LastBlockHash == "":
		// Extends the tracked head directly.
		result.Status = blockingress.StatusNext
		if err := c.advanceTip(block); err != nil {
			return blockingress.ApplyResult{}, err
		}
		c.onAccepted(block)
	case block.Header.Height <= curTip.Height:
		// Same height or behind: a sibling that does not unseat the head.
		result.Status = blockingress.StatusFork
	default:
		// Ahead of the tracked head but not built on it: fork choice here
		// is tallest-seen, so any strictly-taller block not atop head is
		// adopted as a reorg.
		result.Status = blockingress.StatusReorg
		result.PrevHead = curTip.LastBlockHash
		if err := c.advanceTip(block); err != nil {
			return blockingress.ApplyResult{}, err
		}
		c.onAccepted(block)
		if c.emitter != nil {
			c.emitter.Emit(events.Event{Type: events.EventReorg, BlockHeight: block.Header.Height, Data: map[string]any{
				"old_head": curTip.LastBlockHash,
				"new_head": block.Hash,
			}})
		}
	}
	return result, nil
}

// onAccepted runs the side effects of a block newly becoming part of the
// tracked canonical chain: Doomslug's tip advances,
// parked approvals keyed to this block drain and re-collect, shard
// tracking follows the block's epoch, chain info republishes, and
// subscribers are notified. last_final_height uses the two-behind rule
// (a block is final once two more blocks have built atop it); this module
// has no independent finality-vote rule beyond Doomslug's own witness
// threshold, so the rule is applied directly against the newly accepted
// height.
func (c *ChainAdapter) onAccepted(block *types.Block) {
	var lastFinal types.Height
	if block.Header.Height >= 2 {
		lastFinal = block.Header.Height - 2
	}
	if c.doomslugTracker != nil {
		c.doomslugTracker.SetTip(time.Now(), block.Hash, block.Header.Height, lastFinal)
	}
	if c.shardTracker != nil {
		c.shardTracker.SetEpochs(block.Header.EpochID, block.Header.NextEpochID)
	}
	if c.chainInfo != nil && c.shardTracker != nil {
		_ = c.chainInfo.PublishOnHeadChange(block.Header.EpochID, block.Header.NextEpochID, block.Header.Height, c.shardTracker.CaredAboutShards())
	}
	if c.approvalIngress != nil {
		c.approvalIngress.OnBlockAccepted(block.Hash, block.Header.Height)
	}
	metrics.BlockHeight.Set(float64(block.Header.Height))
	metrics.BlocksReceived.WithLabelValues("accepted").Inc()
	if c.emitter != nil {
		c.emitter.Emit(events.Event{Type: events.EventBlockAccepted, BlockHeight: block.Header.Height, Data: map[string]any{"hash": block.Hash}})
	}
}

// --- txingress.HeadInfo ---

// headInfoView adapts ChainAdapter to txingress.HeadInfo under its own
// Head() method: ChainAdapter's own Head() already satisfies
// blockingress.Chain with a different (hash, height) signature, and Go
// does not allow two methods named Head on the same type, so the
// (hash, epochID, gasPrice) tuple HeadInfo needs is exposed through a
// separate wrapper instead of a second method on ChainAdapter itself.
type headInfoView struct {
	c *ChainAdapter
}

var _ txingress.HeadInfo = headInfoView{}

// HeadInfo returns the txingress.HeadInfo view of this ChainAdapter.
func (c *ChainAdapter) HeadInfo() txingress.HeadInfo {
	return headInfoView{c: c}
}

// Head implements txingress.HeadInfo: the tracked tip's hash, height,
// epoch, and the flat gas price this module quotes.
func (v headInfoView) Head() (types.Hash, types.Height, types.EpochID, uint64) {
	v.c.mu.RLock()
	defer v.c.mu.RUnlock()
	return v.c.tip.LastBlockHash, v.c.tip.Height, v.c.tip.EpochID, defaultGasPrice
}

// NextEpochID implements txingress.HeadInfo.
func (v headInfoView) NextEpochID(epochID types.EpochID) types.EpochID {
	info, err := v.c.epochs.Info(epochID)
	if err != nil {
		return ""
	}
	return info.NextEpochID
}

// IsNearEpochBoundary implements txingress.HeadInfo: true once the tracked
// tip is within horizon blocks of the fixed epoch length.
func (v headInfoView) IsNearEpochBoundary(horizon types.Height) bool {
	v.c.mu.RLock()
	height := v.c.tip.Height
	v.c.mu.RUnlock()
	posInEpoch := height % epochLength
	return epochLength-posInEpoch <= horizon
}

// GetTip forwards to chain_store, implementing rpc.ChainView.
func (c *ChainAdapter) GetTip() (types.Hash, error) {
	return c.store.GetTip()
}

// GetTransaction forwards to chain_store, implementing rpc.ChainView.
func (c *ChainAdapter) GetTransaction(hash types.Hash) (*types.Transaction, error) {
	return c.store.GetTransaction(hash)
}

// LatestKnown forwards to chain_store, implementing rpc.ChainView.
func (c *ChainAdapter) LatestKnown() (types.Height, int64, error) {
	return c.store.LatestKnown()
}

// advanceTip records block as canonical at its height and moves the
// tracked tip to it.
func (c *ChainAdapter) advanceTip(block *types.Block) error {
	if err := c.store.SetCanonicalAtHeight(block.Header.Height, block.Hash); err != nil {
		return fmt.Errorf("client: set canonical: %w", err)
	}
	if err := c.store.SetTip(block.Hash); err != nil {
		return fmt.Errorf("client: persist tip: %w", err)
	}
	c.mu.Lock()
	c.tip = types.Tip{
		LastBlockHash: block.Hash,
		Height:        block.Header.Height,
		PrevBlockHash: block.Header.PrevHash,
		EpochID:       block.Header.EpochID,
		NextEpochID:   block.Header.NextEpochID,
	}
	c.mu.Unlock()
	return nil
}

// maxBranchWalk bounds how far BranchDifference walks backward looking for
// a common ancestor, guarding against a corrupt or adversarial header chain
// with no convergence point ever being reached.
const maxBranchWalk = 100_000

// BranchDifference walks fromBranch and toBranch backward by prev_hash
// until their ancestries converge, returning the blocks unique to each
// side.
func (c *ChainAdapter) BranchDifference(fromBranch, toBranch types.Hash) (onlyFrom, onlyTo []*types.Block) {
	fromChain, fromSeen := c.walkBack(fromBranch)
	toChain, toSeen := c.walkBack(toBranch)

	for _, b := range fromChain {
		if !toSeen[b.Hash] {
			onlyFrom = append(onlyFrom, b)
		}
	}
	for _, b := range toChain {
		if !fromSeen[b.Hash] {
			onlyTo = append(onlyTo, b)
		}
	}
	return onlyFrom, onlyTo
}

func (c *ChainAdapter) walkBack(from types.Hash) ([]*types.Block, map[types.Hash]bool) {
	var chain []*types.Block
	seen := make(map[types.Hash]bool)
	hash := from
	for i := 0; i < maxBranchWalk && hash != ""; i++ {
		block, err := c.store.GetBlock(hash)
		if err != nil {
			break
		}
		chain = append(chain, block)
		seen[hash] = true
		hash = block.Header.PrevHash
	}
	return chain, seen
}

// --- approvals.HeaderLookup ---

var _ approvals.HeaderLookup = (*ChainAdapter)(nil)

// HeaderByHeight resolves Skip(height) to the canonical block hash at that
// height.
func (c *ChainAdapter) HeaderByHeight(height types.Height) (types.Hash, bool) {
	hash, err := c.store.CanonicalAtHeight(height)
	if err != nil || hash == "" {
		return "", false
	}
	return hash, true
}

// NextBlockEpochID returns the epoch a block built atop parentHash would
// belong to.
func (c *ChainAdapter) NextBlockEpochID(parentHash types.Hash) (types.EpochID, bool) {
	block, err := c.store.GetBlock(parentHash)
	if err != nil {
		return "", false
	}
	return block.Header.NextEpochID, true
}

// NextEpochIDOf returns the epoch that follows epochID.
func (c *ChainAdapter) NextEpochIDOf(epochID types.EpochID) (types.EpochID, bool) {
	info, err := c.epochs.Info(epochID)
	if err != nil {
		return "", false
	}
	return info.NextEpochID, true
}

// PublicKeyOf returns signer's recorded public key within epochID.
func (c *ChainAdapter) PublicKeyOf(epochID types.EpochID, signer types.AccountID) (string, bool) {
	info, err := c.epochs.Info(epochID)
	if err != nil {
		return "", false
	}
	idx, ok := info.ApproverIndex(signer)
	if !ok {
		return "", false
	}
	return info.Approvers[idx].PublicKey, true
}

// --- approvals.ElectionChecker ---

var _ approvals.ElectionChecker = (*ChainAdapter)(nil)

// IsElectedBlockProducer reports whether this node is the elected block
// producer for (epochID, targetHeight).
func (c *ChainAdapter) IsElectedBlockProducer(epochID types.EpochID, targetHeight types.Height) bool {
	elected, err := c.epochs.BlockProducer(epochID, targetHeight)
	if err != nil {
		approvals.ClassifyError(err)
		return false
	}
	return elected == c.selfID
}

// --- netadapter.BlockSource ---

// GetBlock and GetBlockByHeight already satisfy netadapter.BlockSource via
// embedding's method promotion would require embedding; since ChainAdapter
// does not embed *storage.ChainStore, it forwards explicitly so the same
// value can be handed to netadapter.NewBlockServer.

// GetBlock forwards to chain_store.
func (c *ChainAdapter) GetBlock(hash types.Hash) (*types.Block, error) {
	return c.store.GetBlock(hash)
}

// GetBlockByHeight forwards to chain_store.
func (c *ChainAdapter) GetBlockByHeight(height types.Height) (*types.Block, error) {
	return c.store.GetBlockByHeight(height)
}
