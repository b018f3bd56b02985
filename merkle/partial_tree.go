package merkle

import (
	"github.com/tolelom/shardcore/crypto"
	"github.com/tolelom/shardcore/types"
)

// PartialTree is an append-only Merkle Mountain Range: it stores only the
// O(log n) peak hashes needed to append a new leaf and recompute the root,
// rather than the whole tree. block_merkle_root is the root of this
// structure after appending the new block's prev_hash;
// block_ordinal is the number of leaves appended so far, i.e. Size()+1 for
// the block about to be produced.
type PartialTree struct {
	peaks []types.Hash // peaks[i] is the root of a complete subtree of size 2^i, or "" if absent
	size  uint64
}

// NewPartialTree returns an empty tree (for a fresh chain before genesis).
func NewPartialTree() *PartialTree {
	return &PartialTree{}
}

// Size returns the number of leaves appended so far.
func (t *PartialTree) Size() uint64 {
	return t.size
}

// Append adds leafHash as the next leaf and returns the tree's new root.
// Peaks are combined as the SHA-256 of left, ":", right, the same scheme
// PartsTree uses for its inner nodes.
func (t *PartialTree) Append(leafHash types.Hash) types.Hash {
	carry := leafHash
	for i := 0; i < len(t.peaks); i++ {
		if t.peaks[i] == "" {
			t.peaks[i] = carry
			t.size++
			return t.Root()
		}
		carry = combine(t.peaks[i], carry)
		t.peaks[i] = ""
	}
	t.peaks = append(t.peaks, carry)
	t.size++
	return t.Root()
}

// Root folds the current peaks (smallest subtree first) into a single
// root hash. An empty tree's root is the zero-value hash.
func (t *PartialTree) Root() types.Hash {
	var root types.Hash
	for _, p := range t.peaks {
		if p == "" {
			continue
		}
		if root == "" {
			root = p
			continue
		}
		root = combine(p, root)
	}
	return root
}

// Clone returns an independent copy, used when a candidate block's root
// must be computed speculatively without mutating the persisted tree.
func (t *PartialTree) Clone() *PartialTree {
	cp := &PartialTree{size: t.size, peaks: make([]types.Hash, len(t.peaks))}
	copy(cp.peaks, t.peaks)
	return cp
}

func combine(left, right types.Hash) types.Hash {
	return crypto.Hash([]byte(left + ":" + right))
}
