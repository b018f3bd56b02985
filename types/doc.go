// Package types holds the core data model shared by every component of the
// sharded block/chunk producer-validator client: blocks, chunk headers,
// encoded chunks, approvals, the chain tip, and transactions. These types are
// treated as immutable values once constructed; mutation happens by building
// a new value.
package types

// Hash is a lowercase hex-encoded SHA-256 digest.
type Hash = string

// AccountID is the canonical identity for signers, proposers, and
// validators: either a human-readable name or an ed25519 public key hex; the
// key behind it is looked up separately.
type AccountID = string

// ShardID identifies one shard within an epoch's shard layout.
type ShardID uint64

// EpochID is the hash of the first block of the epoch it identifies.
type EpochID = string

// Height is a block or chunk height.
type Height = uint64

// Signature is a hex-encoded ed25519 signature.
type Signature = string
