package merkle

import (
	"github.com/tolelom/shardcore/crypto"
	"github.com/tolelom/shardcore/types"
)

// VerifyPartPath folds a part's inclusion path back up to a root. The
// caller compares the result against the chunk header's encoded merkle
// root; a mismatch means the part is not the one the producer committed to.
func VerifyPartPath(part []byte, index uint64, path []types.Hash) types.Hash {
	cur := crypto.Hash(part)
	idx := index
	for _, sibling := range path {
		if idx%2 == 0 {
			cur = combine(cur, sibling)
		} else {
			cur = combine(sibling, cur)
		}
		idx /= 2
	}
	return cur
}

// PartsTree builds a simple binary Merkle tree over a chunk's encoded parts
// and returns both
// the root and each part's inclusion path, used during distribution so a
// receiver can verify a part without holding every other part.
func PartsTree(parts [][]byte) (root types.Hash, paths [][]types.Hash) {
	n := len(parts)
	if n == 0 {
		return Root(nil), nil
	}
	leaves := make([]types.Hash, n)
	for i, p := range parts {
		leaves[i] = crypto.Hash(p)
	}

	layers := [][]types.Hash{leaves}
	cur := leaves
	for len(cur) > 1 {
		next := make([]types.Hash, 0, (len(cur)+1)/2)
		for i := 0; i < len(cur); i += 2 {
			if i+1 < len(cur) {
				next = append(next, combine(cur[i], cur[i+1]))
			} else {
				next = append(next, combine(cur[i], cur[i])) // odd leaf paired with itself
			}
		}
		layers = append(layers, next)
		cur = next
	}
	root = cur[0]

	paths = make([][]types.Hash, n)
	for i := 0; i < n; i++ {
		idx := i
		var path []types.Hash
		for layer := 0; layer < len(layers)-1; layer++ {
			siblings := layers[layer]
			var sibIdx int
			if idx%2 == 0 {
				sibIdx = idx + 1
				if sibIdx >= len(siblings) {
					sibIdx = idx
				}
			} else {
				sibIdx = idx - 1
			}
			path = append(path, siblings[sibIdx])
			idx /= 2
		}
		paths[i] = path
	}
	return root, paths
}
