// Package merkle builds the deterministic roots embedded in chunk headers
// and blocks: the transaction root, the outgoing-receipts root (bucketed by
// destination shard), and the incremental partial merkle tree used to
// derive block_merkle_root/block_ordinal. Leaf hashing is length-prefixed
// and works over an arbitrary leaf set and an append-only tree.
package merkle

import (
	"bytes"
	"encoding/binary"

	"github.com/tolelom/shardcore/crypto"
	"github.com/tolelom/shardcore/types"
)

// emptyRootSeed is hashed alone when a leaf set is empty, so an empty root
// is a fixed sentinel digest rather than a hash of the empty string.
const emptyRootSeed = "empty"

// Root hashes a list of opaque leaves into a single deterministic digest.
// Each leaf is length-prefixed (4-byte big-endian) to prevent boundary
// ambiguity between different leaf sets producing the same byte stream.
func Root(leaves [][]byte) types.Hash {
	if len(leaves) == 0 {
		return crypto.Hash([]byte(emptyRootSeed))
	}
	var buf bytes.Buffer
	var lenBuf [4]byte
	for _, leaf := range leaves {
		binary.BigEndian.PutUint32(lenBuf[:], uint32(len(leaf)))
		buf.Write(lenBuf[:])
		buf.Write(leaf)
	}
	return crypto.Hash(buf.Bytes())
}

// TxRoot hashes the ordered list of transaction IDs included in a chunk.
func TxRoot(txs []*types.Transaction) types.Hash {
	leaves := make([][]byte, len(txs))
	for i, tx := range txs {
		leaves[i] = []byte(tx.ID)
	}
	return Root(leaves)
}

// ReceiptsRoot buckets outgoing receipts by destination shard and
// merklizes the per-bucket hashes. shardCount must be the destination
// shard count of the next
// block's shard layout.
func ReceiptsRoot(receipts []types.Receipt, shardCount int) types.Hash {
	buckets := make([][]byte, shardCount)
	perShard := make([][][]byte, shardCount)
	for _, r := range receipts {
		idx := int(r.ToShard)
		if idx < 0 || idx >= shardCount {
			continue // receipt addressed to a shard outside this layout; dropped defensively
		}
		perShard[idx] = append(perShard[idx], []byte(r.ID))
	}
	for i := 0; i < shardCount; i++ {
		bucketRoot := Root(perShard[i])
		buckets[i] = []byte(bucketRoot)
	}
	return Root(buckets)
}
