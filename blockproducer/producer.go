// Package blockproducer implements the block producer: it
// assembles ready chunks, a Doomslug witness, and the chain's merkle state
// into a signed block.
package blockproducer

import (
	"errors"
	"fmt"

	"github.com/tolelom/shardcore/adapters"
	"github.com/tolelom/shardcore/chunks"
	"github.com/tolelom/shardcore/doomslug"
	"github.com/tolelom/shardcore/epoch"
	"github.com/tolelom/shardcore/merkle"
	"github.com/tolelom/shardcore/types"
)

// ErrProtocolVersionTooOld is the fatal, fail-closed error. The host is expected to treat this as a
// process-level abort, not a retryable condition.
var ErrProtocolVersionTooOld = errors.New("blockproducer: local protocol version is older than the network's; upgrade required")

// CaughtUpChecker mirrors chunks.CaughtUpChecker; block production needs the
// same "is the prev-prev block caught up" question chunk production does.
type CaughtUpChecker interface {
	IsCaughtUp(prevPrevHash types.Hash, shard types.ShardID) bool
}

// Config controls behavior that should never be driven by untrusted input.
type Config struct {
	// ProduceEmptyBlocks, when false, skips production for a height that
	// would carry no new chunks.
	ProduceEmptyBlocks bool
	// TestSkipCaughtUpCheck bypasses the epoch-boundary caught-up
	// precondition. It must only ever be set from test code; config.Config
	// loaded from JSON never sets it.
	TestSkipCaughtUpCheck bool
	// BinaryProtocolVersion is the highest protocol version this binary
	// understands, compared against the network's next_protocol_version.
	BinaryProtocolVersion uint32
}

// LatestKnownStore persists {height, timestamp} before a produced block is
// returned to the caller, so a crash between signing and broadcast cannot
// cause the same height to be produced twice.
type LatestKnownStore interface {
	SetLatestKnown(height types.Height, timestampUnixNano int64) error
	LatestKnown() (height types.Height, timestampUnixNano int64, err error)
}

// Producer assembles blocks.
type Producer struct {
	epochs    *epoch.Manager
	doomslug  *doomslug.Tracker
	readiness *chunks.ReadinessCache
	tree      *merkle.PartialTree
	signer    adapters.ValidatorSigner
	catchup   CaughtUpChecker
	known     LatestKnownStore
	cfg       Config
}

// NewProducer wires the components a block producer needs. tree should be
// the chain's persistent partial merkle tree, shared with whatever
// component advances block_merkle_root on acceptance.
func NewProducer(epochs *epoch.Manager, ds *doomslug.Tracker, readiness *chunks.ReadinessCache, tree *merkle.PartialTree, signer adapters.ValidatorSigner, catchup CaughtUpChecker, known LatestKnownStore, cfg Config) *Producer {
	return &Producer{epochs: epochs, doomslug: ds, readiness: readiness, tree: tree, signer: signer, catchup: catchup, known: known, cfg: cfg}
}

// Input bundles the chain context produce needs beyond next_height.
type Input struct {
	NextHeight          types.Height
	PrevHash            types.Hash
	PrevPrevHash        types.Hash
	EpochID             types.EpochID
	NextEpochID         types.EpochID
	CrossesEpoch        bool
	PrevChunkHeaders    []types.ShardChunkHeader // one per shard, carried forward when no new chunk
	PrevNextBPHash      types.Hash
	NextProtocolVersion uint32
	MintedAmount        uint64
	EpochSyncDataHash   types.Hash
	TimestampUnixNano   int64
}

// ShouldReschedule evaluates the production preconditions without
// mutating any state, so a caller can
// decide whether to even attempt Produce.
func (p *Producer) ShouldReschedule(in Input) (bool, error) {
	known, _, err := p.known.LatestKnown()
	if err != nil {
		return false, fmt.Errorf("blockproducer: read latest known: %w", err)
	}
	if in.NextHeight <= known {
		return false, nil
	}
	elected, err := p.epochs.BlockProducer(in.EpochID, in.NextHeight)
	if err != nil {
		return false, fmt.Errorf("blockproducer: resolve elected producer: %w", err)
	}
	if elected != p.signer.AccountID() {
		return false, nil
	}
	if in.CrossesEpoch && !p.cfg.TestSkipCaughtUpCheck {
		for shard := 0; ; shard++ {
			// shard range is bounded by the epoch's shard layout; callers
			// populate PrevChunkHeaders with exactly that many slots.
			if shard >= len(in.PrevChunkHeaders) {
				break
			}
			if !p.catchup.IsCaughtUp(in.PrevPrevHash, types.ShardID(shard)) {
				return false, nil
			}
		}
	}
	return true, nil
}

// Produce runs the block assembly algorithm. A nil Block
// with a nil error means "not now"; ErrProtocolVersionTooOld is fatal.
func (p *Producer) Produce(in Input) (*types.Block, error) {
	if in.NextProtocolVersion > p.cfg.BinaryProtocolVersion {
		return nil, ErrProtocolVersionTooOld
	}

	ok, err := p.ShouldReschedule(in)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, nil
	}

	ready := p.readiness.Snapshot(in.PrevHash)
	chunkHeaders := make([]types.ShardChunkHeader, len(in.PrevChunkHeaders))
	copy(chunkHeaders, in.PrevChunkHeaders)
	anyNew := false
	for shard, rc := range ready {
		if int(shard) >= len(chunkHeaders) {
			continue
		}
		h := *rc.Header
		h.HeightIncluded = in.NextHeight
		chunkHeaders[shard] = h
		anyNew = true
	}
	if !anyNew && !p.cfg.ProduceEmptyBlocks {
		return nil, nil
	}

	approvers, err := p.epochs.ApproversOrdered(in.EpochID)
	if err != nil {
		return nil, fmt.Errorf("blockproducer: approver order: %w", err)
	}
	stakes, err := p.epochs.StakesOf(in.EpochID)
	if err != nil {
		return nil, fmt.Errorf("blockproducer: stakes: %w", err)
	}
	var totalStake uint64
	for _, s := range stakes {
		totalStake += s
	}
	witness := p.doomslug.GetWitness(in.NextHeight, stakes, totalStake)
	approvals := make([]*types.Signature, len(approvers))
	for i, approver := range approvers {
		if sig, ok := witness[approver.AccountID]; ok {
			s := sig
			approvals[i] = &s
		}
	}

	blockMerkleRoot := p.tree.Append(in.PrevHash)
	blockOrdinal := p.tree.Size()

	nextBPHash := in.PrevNextBPHash
	if in.CrossesEpoch {
		leaves := make([][]byte, len(approvers))
		for i, a := range approvers {
			leaves[i] = []byte(a.AccountID)
		}
		nextBPHash = merkle.Root(leaves)
	}

	header := types.BlockHeader{
		Height:              in.NextHeight,
		EpochID:             in.EpochID,
		NextEpochID:         in.NextEpochID,
		PrevHash:            in.PrevHash,
		ChunkHeaders:        chunkHeaders,
		Approvals:           approvals,
		BlockMerkleRoot:     blockMerkleRoot,
		BlockOrdinal:        blockOrdinal,
		NextBPHash:          nextBPHash,
		ProtocolVersion:     p.cfg.BinaryProtocolVersion,
		NextProtocolVersion: in.NextProtocolVersion,
		Timestamp:           in.TimestampUnixNano,
		Proposer:            p.signer.AccountID(),
	}
	if in.CrossesEpoch {
		header.MintedAmount = in.MintedAmount
		header.EpochSyncDataHash = in.EpochSyncDataHash
	}

	block := &types.Block{Header: header}
	block.Hash = block.ComputeHash()
	block.Signature = p.signer.Sign([]byte(block.Hash))

	if err := p.known.SetLatestKnown(in.NextHeight, in.TimestampUnixNano); err != nil {
		return nil, fmt.Errorf("blockproducer: persist latest known: %w", err)
	}
	return block, nil
}
