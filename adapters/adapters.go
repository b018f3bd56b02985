// Package adapters defines the four polymorphic boundaries the core talks
// through: RuntimeAdapter (chain-to-runtime),
// PeerManagerAdapter (chain-to-network), ClientAdapterForShardsManager
// (shards-to-client callbacks) and ValidatorSigner (signature abstraction).
// Each is a narrow interface with one production implementation elsewhere
// in the module (runtimestub, netadapter, client, wallet) and an in-memory
// test double alongside its consumer's tests.
package adapters

import (
	"errors"

	"github.com/tolelom/shardcore/types"
)

// ErrChallengeVerificationDisabled is returned by every
// ClientAdapterForShardsManager.VerifyChallenge implementation shipped in
// this module. Challenge verification requires the runtime's execution
// trace replay machinery, which is out of scope; the
// interface is preserved so a future runtime integration only needs to
// supply a new implementation, not touch any caller.
var ErrChallengeVerificationDisabled = errors.New("adapters: challenge verification is not implemented")

// RuntimeAdapter is the chain-to-runtime boundary. The core never interprets transaction payloads
// itself; it only asks the runtime to validate and to select which pending
// transactions belong in the next chunk.
type RuntimeAdapter interface {
	// ValidateTx checks tx against runtime rules. stateRoot is nil when the
	// caller only has the current head to check against (no local shard
	// state yet); verifySig controls whether the signature itself is
	// re-checked (callers that already checked it pass false).
	ValidateTx(tx *types.Transaction, gasPrice uint64, stateRoot *types.Hash, verifySig bool) error

	// PrepareTransactions drains up to the runtime's own gas-budget and
	// protocol-rule limits from the candidate list, returning the subset
	// that belongs in the chunk being produced. The caller (chunk
	// producer) reintroduces any leftover candidates back into the pool.
	PrepareTransactions(shard types.ShardID, stateRoot types.Hash, candidates []*types.Transaction, gasLimit uint64) ([]*types.Transaction, error)

	// ChunkExtra returns the post-apply state needed to build the next
	// chunk header for shard atop prevBlockHash.
	ChunkExtra(prevBlockHash types.Hash, shard types.ShardID) (ChunkExtra, error)
}

// ChunkExtra is the runtime-computed state a chunk header carries forward.
type ChunkExtra struct {
	StateRoot          types.Hash
	OutcomeRoot        types.Hash
	GasUsed            uint64
	GasLimit           uint64
	BalanceBurnt       uint64
	ValidatorProposals []types.ValidatorProposal
}

// NetworkRequestKind enumerates the typed outbound requests the core emits
// through PeerManagerAdapter.
type NetworkRequestKind string

const (
	ReqBlock                       NetworkRequestKind = "Block"
	ReqApproval                    NetworkRequestKind = "Approval"
	ReqBlockRequest                NetworkRequestKind = "BlockRequest"
	ReqBlockHeadersRequest         NetworkRequestKind = "BlockHeadersRequest"
	ReqStateRequestHeader          NetworkRequestKind = "StateRequestHeader"
	ReqStateRequestPart            NetworkRequestKind = "StateRequestPart"
	ReqStateResponse               NetworkRequestKind = "StateResponse"
	ReqBanPeer                     NetworkRequestKind = "BanPeer"
	ReqAnnounceAccount             NetworkRequestKind = "AnnounceAccount"
	ReqPartialEncodedChunkRequest  NetworkRequestKind = "PartialEncodedChunkRequest"
	ReqPartialEncodedChunkResponse NetworkRequestKind = "PartialEncodedChunkResponse"
	ReqPartialEncodedChunkMessage  NetworkRequestKind = "PartialEncodedChunkMessage"
	ReqPartialEncodedChunkForward  NetworkRequestKind = "PartialEncodedChunkForward"
	ReqForwardTx                   NetworkRequestKind = "ForwardTx"
	ReqChallenge                   NetworkRequestKind = "Challenge"
	ReqSetChainInfo                NetworkRequestKind = "SetChainInfo"
)

// BanReason classifies why a peer was banned.
type BanReason string

const (
	BanBadBlockHeader   BanReason = "BadBlockHeader"
	BanBadBlock         BanReason = "BadBlock"
	BanBadHandshake     BanReason = "BadHandshake"
	BanBadBlockApproval BanReason = "BadBlockApproval"
)

// NetworkRequest is the envelope every core-to-host network side effect is
// wrapped in; PeerManagerAdapter implementations switch on Kind to decide
// how to serialize and route Payload.
type NetworkRequest struct {
	Kind      NetworkRequestKind
	PeerID    string // empty for broadcasts
	Payload   interface{}
	BanReason BanReason // set only when Kind == ReqBanPeer
}

// PeerManagerAdapter is the chain-to-network boundary.
// Implementations (netadapter in production, an in-memory recorder in
// tests) only need to accept and route the envelope; the core never blocks
// on delivery confirmation.
type PeerManagerAdapter interface {
	Send(req NetworkRequest)
}

// ClientAdapterForShardsManager is the narrow callback surface the shards
// manager uses to reach back into the owning Client without the two
// holding direct references to each other.
type ClientAdapterForShardsManager interface {
	// OnChunkCompleted is invoked once a chunk's parts reach data_parts
	// and the body has been reconstructed.
	OnChunkCompleted(partial *types.EncodedShardChunk)

	// VerifyChallenge is preserved as an interface point for a future
	// runtime integration; its body always fails, since verification
	// requires replaying the disputed chunk's execution trace.
	VerifyChallenge(result types.ChallengeResult) (bool, error)
}

// ValidatorSigner is the signature abstraction: a block/chunk/approval
// producer signs through this interface rather than holding a raw private
// key, so a remote signer (e.g. an HSM) can be substituted without
// touching any call site.
type ValidatorSigner interface {
	AccountID() types.AccountID
	PublicKey() string
	Sign(data []byte) types.Signature
}
