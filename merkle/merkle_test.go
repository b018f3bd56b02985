package merkle

import (
	"testing"

	"github.com/tolelom/shardcore/types"
)

func TestRootLengthPrefixDisambiguates(t *testing.T) {
	a := Root([][]byte{[]byte("ab"), []byte("c")})
	b := Root([][]byte{[]byte("a"), []byte("bc")})
	if a == b {
		t.Error("different leaf boundaries must not collide")
	}
}

func TestRootEmptyIsStable(t *testing.T) {
	if Root(nil) != Root([][]byte{}) {
		t.Error("nil and empty leaf sets should share the sentinel root")
	}
}

func TestTxRootOrderSensitive(t *testing.T) {
	tx1 := &types.Transaction{ID: "t1"}
	tx2 := &types.Transaction{ID: "t2"}
	a := TxRoot([]*types.Transaction{tx1, tx2})
	b := TxRoot([]*types.Transaction{tx2, tx1})
	if a == b {
		t.Error("tx root must be order-sensitive")
	}
}

func TestReceiptsRootBucketsByDestination(t *testing.T) {
	r1 := types.Receipt{ID: "r1", ToShard: 0}
	r2 := types.Receipt{ID: "r2", ToShard: 1}

	// Same receipts, different destination assignment, must differ.
	a := ReceiptsRoot([]types.Receipt{r1, r2}, 2)
	r2Moved := types.Receipt{ID: "r2", ToShard: 0}
	b := ReceiptsRoot([]types.Receipt{r1, r2Moved}, 2)
	if a == b {
		t.Error("moving a receipt across shards must change the root")
	}
}

func TestReceiptsRootDropsOutOfRangeShard(t *testing.T) {
	inRange := types.Receipt{ID: "r1", ToShard: 0}
	outOfRange := types.Receipt{ID: "r2", ToShard: 9}
	a := ReceiptsRoot([]types.Receipt{inRange, outOfRange}, 2)
	b := ReceiptsRoot([]types.Receipt{inRange}, 2)
	if a != b {
		t.Error("a receipt addressed outside the layout must not affect the root")
	}
}

func TestPartialTreeSizeAndDeterminism(t *testing.T) {
	t1 := NewPartialTree()
	t2 := NewPartialTree()
	hashes := []types.Hash{"h1", "h2", "h3", "h4", "h5"}
	var root1, root2 types.Hash
	for _, h := range hashes {
		root1 = t1.Append(h)
		root2 = t2.Append(h)
	}
	if t1.Size() != 5 {
		t.Fatalf("size: got %d want 5", t1.Size())
	}
	if root1 != root2 {
		t.Error("same appends must give the same root")
	}
	if root1 == "" {
		t.Error("root should be non-empty after appends")
	}
}

func TestPartialTreeRootChangesPerAppend(t *testing.T) {
	tree := NewPartialTree()
	seen := map[types.Hash]bool{}
	for _, h := range []types.Hash{"a", "b", "c", "d"} {
		root := tree.Append(h)
		if seen[root] {
			t.Fatalf("root %s repeated", root)
		}
		seen[root] = true
	}
}

func TestPartialTreeCloneIsIndependent(t *testing.T) {
	tree := NewPartialTree()
	tree.Append("a")
	tree.Append("b")
	before := tree.Root()

	cp := tree.Clone()
	cp.Append("c")

	if tree.Root() != before {
		t.Error("appending to a clone must not mutate the original")
	}
	if cp.Size() != 3 || tree.Size() != 2 {
		t.Errorf("sizes: clone %d original %d", cp.Size(), tree.Size())
	}
}

func TestPartsTreePathsVerify(t *testing.T) {
	parts := [][]byte{[]byte("p0"), []byte("p1"), []byte("p2"), []byte("p3"), []byte("p4")}
	root, paths := PartsTree(parts)
	if len(paths) != len(parts) {
		t.Fatalf("path count: got %d want %d", len(paths), len(parts))
	}
	for i := range parts {
		if got := VerifyPartPath(parts[i], uint64(i), paths[i]); got != root {
			t.Errorf("part %d: path folds to %s, want %s", i, got, root)
		}
	}
}

func TestPartsTreeTamperedPartFailsPath(t *testing.T) {
	parts := [][]byte{[]byte("p0"), []byte("p1"), []byte("p2"), []byte("p3")}
	root, paths := PartsTree(parts)
	if got := VerifyPartPath([]byte("tampered"), 0, paths[0]); got == root {
		t.Error("tampered part must not fold to the original root")
	}
}
