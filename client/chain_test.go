package client

import (
	"errors"
	"strings"
	"testing"

	"github.com/tolelom/shardcore/blockingress"
	"github.com/tolelom/shardcore/crypto"
	"github.com/tolelom/shardcore/epoch"
	"github.com/tolelom/shardcore/internal/testutil"
	"github.com/tolelom/shardcore/types"

	storage "github.com/tolelom/shardcore/store"
)

type chainFixture struct {
	chain *ChainAdapter
	store *storage.ChainStore
	priv  crypto.PrivateKey
}

func newChainFixture(t *testing.T) *chainFixture {
	t.Helper()
	priv, pub, err := crypto.GenerateKeyPair()
	if err != nil {
		t.Fatal(err)
	}

	store := storage.NewChainStore(testutil.NewMemDB())
	epochs := epoch.NewManager()
	epochs.Set(&epoch.Info{
		EpochID:        "e1",
		NextEpochID:    "e1",
		ShardLayout:    epoch.ShardLayout{Version: 1, NumShards: 1},
		BlockProducers: []types.AccountID{"self"},
		ChunkProducers: map[types.ShardID][]types.AccountID{0: {"self"}},
		Approvers:      []types.ValidatorStake{{AccountID: "self", PublicKey: pub.Hex(), Stake: 1}},
		Stakes:         map[types.AccountID]uint64{"self": 1},
	})

	genesis := &types.Block{
		Header: types.BlockHeader{Height: 0, EpochID: "e1", NextEpochID: "e1"},
		Hash:   "g",
	}
	if err := store.PutBlock(genesis); err != nil {
		t.Fatal(err)
	}
	tip := types.Tip{LastBlockHash: "g", Height: 0, EpochID: "e1", NextEpochID: "e1"}
	return &chainFixture{chain: NewChainAdapter(store, epochs, "self", tip), store: store, priv: priv}
}

// block builds a signed block atop prev. ts disambiguates siblings at the
// same height, which would otherwise hash identically.
func (f *chainFixture) block(height types.Height, prev types.Hash, ts int64) *types.Block {
	b := &types.Block{
		Header: types.BlockHeader{
			Height:      height,
			EpochID:     "e1",
			NextEpochID: "e1",
			PrevHash:    prev,
			Proposer:    "self",
			Approvals:   []*types.Signature{nil},
			Timestamp:   ts,
		},
	}
	b.Sign(f.priv)
	return b
}

func TestApplyClassifiesNextForkReorg(t *testing.T) {
	f := newChainFixture(t)

	b1 := f.block(1, "g", 1)
	res, err := f.chain.Apply(b1)
	if err != nil {
		t.Fatal(err)
	}
	if res.Status != blockingress.StatusNext {
		t.Fatalf("b1: got %v want Next", res.Status)
	}
	if hash, height := f.chain.Head(); hash != b1.Hash || height != 1 {
		t.Fatalf("head after b1: %s/%d", hash, height)
	}

	b2a := f.block(2, b1.Hash, 2)
	if _, err := f.chain.Apply(b2a); err != nil {
		t.Fatal(err)
	}

	// A sibling at the head's height does not unseat it.
	b2b := f.block(2, b1.Hash, 3)
	res, err = f.chain.Apply(b2b)
	if err != nil {
		t.Fatal(err)
	}
	if res.Status != blockingress.StatusFork {
		t.Fatalf("b2b: got %v want Fork", res.Status)
	}
	if hash, _ := f.chain.Head(); hash != b2a.Hash {
		t.Fatalf("head moved on fork: %s", hash)
	}

	// A taller block atop the sibling wins.
	b3 := f.block(3, b2b.Hash, 4)
	res, err = f.chain.Apply(b3)
	if err != nil {
		t.Fatal(err)
	}
	if res.Status != blockingress.StatusReorg {
		t.Fatalf("b3: got %v want Reorg", res.Status)
	}
	if res.PrevHead != b2a.Hash {
		t.Fatalf("reorg prev head: got %s want %s", res.PrevHead, b2a.Hash)
	}
	if hash, height := f.chain.Head(); hash != b3.Hash || height != 3 {
		t.Fatalf("head after reorg: %s/%d", hash, height)
	}
}

func TestApplyOrphanWhenParentUnknown(t *testing.T) {
	f := newChainFixture(t)

	res, err := f.chain.Apply(f.block(2, "never-seen", 1))
	if err != nil {
		t.Fatal(err)
	}
	if !res.IsOrphan || res.Accepted {
		t.Fatalf("got %+v, want orphan and not accepted", res)
	}
}

func TestValidateHeaderOrphanIsNotBadData(t *testing.T) {
	f := newChainFixture(t)
	err := f.chain.ValidateHeader(f.block(2, "never-seen", 1))
	if !errors.Is(err, blockingress.ErrOrphan) {
		t.Fatalf("unknown parent should surface ErrOrphan, got %v", err)
	}
}

func TestApplyRejectsNonIncreasingHeight(t *testing.T) {
	f := newChainFixture(t)
	b1 := f.block(1, "g", 1)
	if _, err := f.chain.Apply(b1); err != nil {
		t.Fatal(err)
	}
	if _, err := f.chain.Apply(f.block(1, b1.Hash, 2)); err == nil {
		t.Error("a block at its parent's height must be rejected")
	}
}

func TestValidateHeaderRejectsForgedSignature(t *testing.T) {
	f := newChainFixture(t)
	b := f.block(1, "g", 1)
	b.Signature = strings.Repeat("00", 64)
	if err := f.chain.ValidateHeader(b); err == nil {
		t.Error("a forged proposer signature must be rejected")
	}

	// Tampering with the header after signing invalidates the stored hash.
	b2 := f.block(1, "g", 2)
	b2.Header.Timestamp = 99
	if err := f.chain.ValidateHeader(b2); err == nil {
		t.Error("a header tampered with after signing must be rejected")
	}
}

func TestValidateHeaderRejectsWrongProposer(t *testing.T) {
	f := newChainFixture(t)
	b := f.block(1, "g", 1)
	b.Header.Proposer = "mallory"
	b.Sign(f.priv)
	if err := f.chain.ValidateHeader(b); err == nil {
		t.Error("a proposer other than the elected producer must be rejected")
	}
}

func TestValidateHeaderRejectsWrongEpochID(t *testing.T) {
	f := newChainFixture(t)
	b := f.block(1, "g", 1)
	b.Header.EpochID = "e9"
	b.Sign(f.priv)
	if err := f.chain.ValidateHeader(b); err == nil {
		t.Error("an epoch id that does not match the parent's must be rejected")
	}
}

func TestValidateHeaderVerifiesApprovalSignatures(t *testing.T) {
	f := newChainFixture(t)

	// A genuine endorsement of the parent at the block's height verifies.
	endorsement := &types.Approval{Inner: types.Endorsement("g"), TargetHeight: 1, AccountID: "self"}
	endorsement.Signature = crypto.Sign(f.priv, endorsement.DataForSig())

	good := f.block(1, "g", 1)
	good.Header.Approvals = []*types.Signature{&endorsement.Signature}
	good.Sign(f.priv)
	if err := f.chain.ValidateHeader(good); err != nil {
		t.Fatalf("a valid endorsement should verify: %v", err)
	}

	// A signature over something else entirely does not.
	junk := crypto.Sign(f.priv, []byte("unrelated payload"))
	bad := f.block(1, "g", 2)
	bad.Header.Approvals = []*types.Signature{&junk}
	bad.Sign(f.priv)
	if err := f.chain.ValidateHeader(bad); err == nil {
		t.Error("an approval signature over the wrong payload must be rejected")
	}
}

func TestBranchDifference(t *testing.T) {
	f := newChainFixture(t)

	b1 := f.block(1, "g", 1)
	a2 := f.block(2, b1.Hash, 2)
	c2 := f.block(2, b1.Hash, 3)
	c3 := f.block(3, c2.Hash, 4)
	for _, b := range []*types.Block{b1, a2, c2, c3} {
		if _, err := f.chain.Apply(b); err != nil {
			t.Fatal(err)
		}
	}

	onlyFrom, onlyTo := f.chain.BranchDifference(a2.Hash, c3.Hash)
	if len(onlyFrom) != 1 || onlyFrom[0].Hash != a2.Hash {
		t.Errorf("onlyFrom: %v", hashesOf(onlyFrom))
	}
	got := hashesOf(onlyTo)
	if len(got) != 2 || got[0] != c3.Hash || got[1] != c2.Hash {
		t.Errorf("onlyTo: %v", got)
	}
}

func hashesOf(blocks []*types.Block) []types.Hash {
	out := make([]types.Hash, len(blocks))
	for i, b := range blocks {
		out[i] = b.Hash
	}
	return out
}
