package types

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/tolelom/shardcore/crypto"
)

// ChallengeResult records the outcome of a challenge against a prior
// block, carried forward in every descendant header once resolved.
// Verification of challenges is intentionally stubbed.
type ChallengeResult struct {
	AccountID AccountID `json:"account_id"`
	IsDouble  bool      `json:"is_double_sign"`
}

// BlockHeader is the portion of a block that is hashed and signed. One
// ChunkHeaders slot exists per shard of this epoch's shard layout.
type BlockHeader struct {
	Height              Height             `json:"height"`
	EpochID             EpochID            `json:"epoch_id"`
	NextEpochID         EpochID            `json:"next_epoch_id"`
	PrevHash            Hash               `json:"prev_hash"`
	ChunkHeaders        []ShardChunkHeader `json:"chunk_headers"`
	Approvals           []*Signature       `json:"approvals"` // nil entry = no endorsement, or slashed
	BlockMerkleRoot     Hash               `json:"block_merkle_root"`
	BlockOrdinal        uint64             `json:"block_ordinal"`
	NextBPHash          Hash               `json:"next_bp_hash"`
	ProtocolVersion     uint32             `json:"protocol_version"`
	NextProtocolVersion uint32             `json:"next_protocol_version"`
	ChallengesResult    []ChallengeResult  `json:"challenges_result"`
	MintedAmount        uint64             `json:"minted_amount,omitempty"`
	EpochSyncDataHash   Hash               `json:"epoch_sync_data_hash,omitempty"`
	Timestamp           int64              `json:"timestamp"`
	Proposer            AccountID          `json:"proposer"`
}

// Block is a fully assembled, signed block. Once constructed it is
// treated as an immutable value by every component that consumes it.
type Block struct {
	Header    BlockHeader `json:"header"`
	Hash      Hash        `json:"hash"`
	Signature Signature   `json:"signature"`
}

// ComputeHash returns the SHA-256 hash of the serialized header.
func (b *Block) ComputeHash() Hash {
	data, err := json.Marshal(b.Header)
	if err != nil {
		return ""
	}
	return crypto.Hash(data)
}

// Sign sets Hash and signs the block with the proposer's private key.
func (b *Block) Sign(priv crypto.PrivateKey) {
	b.Hash = b.ComputeHash()
	b.Signature = crypto.Sign(priv, []byte(b.Hash))
}

// VerifySignature checks that Hash matches the recomputed header hash and
// that Signature is valid under the proposer's public key, preventing
// acceptance of a block whose header was tampered with after signing.
func (b *Block) VerifySignature(pub crypto.PublicKey) error {
	if computed := b.ComputeHash(); b.Hash != computed {
		return fmt.Errorf("block hash mismatch: stored %s computed %s", b.Hash, computed)
	}
	return crypto.Verify(pub, []byte(b.Hash), b.Signature)
}

// ErrApprovalsLengthMismatch is returned when a block's approval vector
// does not have one entry per approver of its parent.
var ErrApprovalsLengthMismatch = errors.New("types: approvals length does not match approver set")
