package chunks

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/tolelom/shardcore/adapters"
	"github.com/tolelom/shardcore/codec"
	"github.com/tolelom/shardcore/epoch"
	"github.com/tolelom/shardcore/merkle"
	"github.com/tolelom/shardcore/txpool"
	"github.com/tolelom/shardcore/types"
)

// ErrNotElected is the "not now" outcome: the local node is not the
// elected chunk producer for this (epoch, height, shard), so no chunk is
// produced and no error is surfaced to the caller.
var ErrNotElected = errors.New("chunks: not the elected producer for this height/shard")

// ErrPrevPrevNotCaughtUp is the chunk-producer precondition failure:
// the caller asked for a chunk crossing an epoch boundary before the
// prev-prev block's state for the new epoch has been materialized.
var ErrPrevPrevNotCaughtUp = errors.New("chunks: prev-prev block not caught up for epoch boundary")

// CaughtUpChecker reports whether prevPrevHash's state for the shard has
// been materialized, satisfied by the catchup coordinator.
type CaughtUpChecker interface {
	IsCaughtUp(prevPrevHash types.Hash, shard types.ShardID) bool
}

// Producer builds encoded shard chunks.
type Producer struct {
	epochs  *epoch.Manager
	pool    *txpool.Pool
	runtime adapters.RuntimeAdapter
	codec   codec.ErasureCodec
	signer  adapters.ValidatorSigner
	catchup CaughtUpChecker
}

// NewProducer wires the components a chunk producer needs.
func NewProducer(epochs *epoch.Manager, pool *txpool.Pool, runtime adapters.RuntimeAdapter, ec codec.ErasureCodec, signer adapters.ValidatorSigner, catchup CaughtUpChecker) *Producer {
	return &Producer{epochs: epochs, pool: pool, runtime: runtime, codec: ec, signer: signer, catchup: catchup}
}

// Input bundles produce's parameters.
type Input struct {
	PrevBlockHash     types.Hash
	PrevPrevBlockHash types.Hash
	EpochID           types.EpochID
	NextEpochID       types.EpochID
	CrossesEpoch      bool
	PrevChunkHeader   *types.ShardChunkHeader
	NextHeight        types.Height
	Shard             types.ShardID
	OutgoingReceipts  []types.Receipt // from the prev block, for this shard
	GasLimit          uint64
}

// Output is what produce returns on success. Transactions
// is the plaintext selection that went into Chunk's encoded body, carried
// alongside it so a caller that already holds the cleartext (the producer
// itself) never needs to erasure-decode its own output just to learn what
// it put in.
type Output struct {
	Chunk        *types.EncodedShardChunk
	Paths        [][]types.Hash
	Receipts     []types.Receipt
	Transactions []*types.Transaction
	// BodyLen is the byte length of the uncoded body before erasure
	// encoding, carried alongside the chunk so a later
	// PartialEncodedChunkResponse can tell a requester's Reconstructor how
	// much padding to trim (chunks.Reconstructor.AddParts' bodyLen param).
	BodyLen int
}

// Produce runs the chunk production algorithm. A nil Output with a nil
// error means "not our turn"; a non-nil error
// means the second precondition failed or a dependency returned an error.
func (p *Producer) Produce(in Input) (*Output, error) {
	elected, err := p.epochs.ChunkProducer(in.EpochID, in.NextHeight, in.Shard)
	if err != nil {
		return nil, fmt.Errorf("chunks: resolve elected producer: %w", err)
	}
	if elected != p.signer.AccountID() {
		return nil, nil
	}
	if in.CrossesEpoch && !p.catchup.IsCaughtUp(in.PrevPrevBlockHash, in.Shard) {
		return nil, ErrPrevPrevNotCaughtUp
	}

	extra, err := p.runtime.ChunkExtra(in.PrevBlockHash, in.Shard)
	if err != nil {
		return nil, fmt.Errorf("chunks: chunk extra: %w", err)
	}

	candidates := p.pool.Drain(in.Shard, maxCandidatesPerChunk)
	selected, err := p.runtime.PrepareTransactions(in.Shard, extra.StateRoot, candidates, in.GasLimit)
	if err != nil {
		p.pool.Reintroduce(in.Shard, candidates)
		return nil, fmt.Errorf("chunks: prepare transactions: %w", err)
	}
	leftover := diffTransactions(candidates, selected)
	p.pool.Reintroduce(in.Shard, leftover)

	txRoot := merkle.TxRoot(selected)

	info, err := p.epochs.Info(in.EpochID)
	if err != nil {
		return nil, fmt.Errorf("chunks: epoch info: %w", err)
	}
	receiptsRoot := merkle.ReceiptsRoot(in.OutgoingReceipts, info.ShardLayout.NumShards)

	body := encodeBody(selected, in.OutgoingReceipts)
	parts, err := p.codec.Encode(body)
	if err != nil {
		return nil, fmt.Errorf("chunks: erasure encode: %w", err)
	}
	encodedRoot, paths := merkle.PartsTree(parts)

	header := types.ShardChunkHeader{
		PrevBlockHash:        in.PrevBlockHash,
		HeightCreated:        in.NextHeight,
		HeightIncluded:       0,
		ShardID:              in.Shard,
		EncodedMerkleRoot:    encodedRoot,
		TxRoot:               txRoot,
		OutgoingReceiptsRoot: receiptsRoot,
		StateRoot:            extra.StateRoot,
		OutcomeRoot:          extra.OutcomeRoot,
		GasUsed:              extra.GasUsed,
		GasLimit:             extra.GasLimit,
		BalanceBurnt:         extra.BalanceBurnt,
		ValidatorProposals:   extra.ValidatorProposals,
		Producer:             p.signer.AccountID(),
	}
	header.Signature = p.signer.Sign([]byte(header.ComputeHash()))

	chunkParts := make([]types.ChunkPart, len(parts))
	for i, data := range parts {
		chunkParts[i] = types.ChunkPart{Index: uint64(i), Data: data, MerklePath: paths[i]}
	}

	return &Output{
		Chunk:        &types.EncodedShardChunk{Header: header, Parts: chunkParts},
		Paths:        paths,
		Receipts:     in.OutgoingReceipts,
		Transactions: selected,
		BodyLen:      len(body),
	}, nil
}

const maxCandidatesPerChunk = 2048

func diffTransactions(all, used []*types.Transaction) []*types.Transaction {
	usedIDs := make(map[types.Hash]bool, len(used))
	for _, tx := range used {
		usedIDs[tx.ID] = true
	}
	leftover := make([]*types.Transaction, 0, len(all)-len(used))
	for _, tx := range all {
		if !usedIDs[tx.ID] {
			leftover = append(leftover, tx)
		}
	}
	return leftover
}

// encodeBody serializes a chunk's transactions and outgoing receipts into
// the byte blob that gets erasure-coded.
func encodeBody(txs []*types.Transaction, receipts []types.Receipt) []byte {
	body := struct {
		Transactions []*types.Transaction `json:"transactions"`
		Receipts     []types.Receipt      `json:"receipts"`
	}{Transactions: txs, Receipts: receipts}
	data, err := json.Marshal(body)
	if err != nil {
		// txs/receipts are plain structs with no unmarshalable fields
		// (channels, funcs); a marshal failure here is a programming error.
		panic(fmt.Sprintf("chunks: encode body: %v", err))
	}
	return data
}

// DecodeBody reverses encodeBody once a chunk's body has been
// reconstructed from its erasure-coded parts.
func DecodeBody(data []byte) ([]*types.Transaction, []types.Receipt, error) {
	var body struct {
		Transactions []*types.Transaction `json:"transactions"`
		Receipts     []types.Receipt      `json:"receipts"`
	}
	if err := json.Unmarshal(data, &body); err != nil {
		return nil, nil, fmt.Errorf("chunks: decode body: %w", err)
	}
	return body.Transactions, body.Receipts, nil
}
