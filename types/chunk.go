package types

import (
	"encoding/json"

	"github.com/tolelom/shardcore/crypto"
)

// ShardChunkHeader carries a chunk's post-apply metadata and inclusion
// status. HeightIncluded is zero until a block adopts the chunk, at
// which point it is set to that block's height.
type ShardChunkHeader struct {
	PrevBlockHash        Hash                `json:"prev_block_hash"`
	HeightCreated        Height              `json:"height_created"`
	HeightIncluded       Height              `json:"height_included"`
	ShardID              ShardID             `json:"shard_id"`
	EncodedMerkleRoot    Hash                `json:"encoded_merkle_root"`
	TxRoot               Hash                `json:"tx_root"`
	OutgoingReceiptsRoot Hash                `json:"outgoing_receipts_root"`
	StateRoot            Hash                `json:"state_root"`
	OutcomeRoot          Hash                `json:"outcome_root"`
	GasUsed              uint64              `json:"gas_used"`
	GasLimit             uint64              `json:"gas_limit"`
	BalanceBurnt         uint64              `json:"balance_burnt"`
	ValidatorProposals   []ValidatorProposal `json:"validator_proposals"`
	Producer             AccountID           `json:"producer"`
	Signature            Signature           `json:"signature"`
}

type headerSigningBody struct {
	PrevBlockHash        Hash
	HeightCreated        Height
	ShardID              ShardID
	EncodedMerkleRoot    Hash
	TxRoot               Hash
	OutgoingReceiptsRoot Hash
	StateRoot            Hash
	OutcomeRoot          Hash
	GasUsed              uint64
	GasLimit             uint64
	BalanceBurnt         uint64
	ValidatorProposals   []ValidatorProposal
}

// ComputeHash hashes the portion of the header covered by the producer's
// signature (everything except HeightIncluded, Producer, and Signature
// itself: HeightIncluded is set later by whichever block adopts the chunk).
func (h *ShardChunkHeader) ComputeHash() Hash {
	body := headerSigningBody{
		PrevBlockHash:        h.PrevBlockHash,
		HeightCreated:        h.HeightCreated,
		ShardID:              h.ShardID,
		EncodedMerkleRoot:    h.EncodedMerkleRoot,
		TxRoot:               h.TxRoot,
		OutgoingReceiptsRoot: h.OutgoingReceiptsRoot,
		StateRoot:            h.StateRoot,
		OutcomeRoot:          h.OutcomeRoot,
		GasUsed:              h.GasUsed,
		GasLimit:             h.GasLimit,
		BalanceBurnt:         h.BalanceBurnt,
		ValidatorProposals:   h.ValidatorProposals,
	}
	data, err := json.Marshal(body)
	if err != nil {
		return ""
	}
	return crypto.Hash(data)
}

// Sign signs the header's hash as the chunk producer.
func (h *ShardChunkHeader) Sign(priv crypto.PrivateKey) {
	h.Signature = crypto.Sign(priv, []byte(h.ComputeHash()))
}

// VerifySignature checks the header's signature under the producer's key.
func (h *ShardChunkHeader) VerifySignature(pub crypto.PublicKey) error {
	return crypto.Verify(pub, []byte(h.ComputeHash()), h.Signature)
}

// ChunkPart is one of the N erasure-coded fragments of a chunk body. Any `data_parts` of the N suffice to reconstruct the body.
type ChunkPart struct {
	Index      uint64 `json:"index"`
	Data       []byte `json:"data"`
	MerklePath []Hash `json:"merkle_path"`
}

// EncodedShardChunk is a chunk header plus its erasure-coded parts.
type EncodedShardChunk struct {
	Header ShardChunkHeader `json:"header"`
	Parts  []ChunkPart      `json:"parts"`
}

// Receipt is an outgoing cross-shard receipt produced while applying a
// chunk's transactions, destined for delivery to another shard.
type Receipt struct {
	ID        Hash    `json:"id"`
	FromShard ShardID `json:"from_shard"`
	ToShard   ShardID `json:"to_shard"`
	Data      []byte  `json:"data"`
}
