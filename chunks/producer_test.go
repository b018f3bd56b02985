package chunks

import (
	"testing"

	"github.com/tolelom/shardcore/adapters"
	"github.com/tolelom/shardcore/codec"
	"github.com/tolelom/shardcore/epoch"
	"github.com/tolelom/shardcore/txpool"
	"github.com/tolelom/shardcore/types"
)

type stubRuntime struct{}

func (stubRuntime) ValidateTx(tx *types.Transaction, gasPrice uint64, stateRoot *types.Hash, verifySig bool) error {
	return nil
}

func (stubRuntime) PrepareTransactions(shard types.ShardID, stateRoot types.Hash, candidates []*types.Transaction, gasLimit uint64) ([]*types.Transaction, error) {
	return candidates, nil
}

func (stubRuntime) ChunkExtra(prevBlockHash types.Hash, shard types.ShardID) (adapters.ChunkExtra, error) {
	return adapters.ChunkExtra{StateRoot: "state-" + prevBlockHash, OutcomeRoot: "outcome"}, nil
}

type stubSigner struct{ id types.AccountID }

func (s stubSigner) AccountID() types.AccountID { return s.id }
func (s stubSigner) PublicKey() string          { return "pub-" + string(s.id) }
func (s stubSigner) Sign(data []byte) types.Signature {
	return types.Signature("sig-" + string(s.id))
}

type alwaysCaughtUp struct{}

func (alwaysCaughtUp) IsCaughtUp(prevPrevHash types.Hash, shard types.ShardID) bool { return true }

func newTestEpochs(producer types.AccountID) *epoch.Manager {
	m := epoch.NewManager()
	m.Set(&epoch.Info{
		EpochID:         "E",
		ProtocolVersion: 1,
		ShardLayout:     epoch.ShardLayout{Version: 1, NumShards: 4},
		ChunkProducers:  map[types.ShardID][]types.AccountID{0: {producer}},
		Stakes:          map[types.AccountID]uint64{producer: 100},
	})
	return m
}

func TestProduceReturnsNilWhenNotElected(t *testing.T) {
	ec, err := codec.NewReedSolomon(4, 2)
	if err != nil {
		t.Fatal(err)
	}
	signer := stubSigner{id: "not-the-producer"}
	p := NewProducer(newTestEpochs("elected.near"), txpool.New(1), stubRuntime{}, ec, signer, alwaysCaughtUp{})

	out, err := p.Produce(Input{EpochID: "E", NextHeight: 1, Shard: 0, GasLimit: 1_000_000})
	if err != nil {
		t.Fatalf("Produce: %v", err)
	}
	if out != nil {
		t.Error("expected nil output for a non-elected producer")
	}
}

func TestProduceBuildsSignedChunk(t *testing.T) {
	ec, err := codec.NewReedSolomon(4, 2)
	if err != nil {
		t.Fatal(err)
	}
	signer := stubSigner{id: "elected.near"}
	pool := txpool.New(1)
	p := NewProducer(newTestEpochs("elected.near"), pool, stubRuntime{}, ec, signer, alwaysCaughtUp{})

	out, err := p.Produce(Input{
		PrevBlockHash: "prev-hash",
		EpochID:       "E",
		NextHeight:    1,
		Shard:         0,
		GasLimit:      1_000_000,
	})
	if err != nil {
		t.Fatalf("Produce: %v", err)
	}
	if out == nil {
		t.Fatal("expected a produced chunk for the elected producer")
	}
	if out.Chunk.Header.Producer != "elected.near" {
		t.Errorf("producer: got %q want elected.near", out.Chunk.Header.Producer)
	}
	if len(out.Chunk.Parts) != ec.DataParts()+ec.ParityParts() {
		t.Errorf("parts: got %d want %d", len(out.Chunk.Parts), ec.DataParts()+ec.ParityParts())
	}
	if out.Chunk.Header.Signature == "" {
		t.Error("chunk header should be signed")
	}
}

func TestProduceFailsOnUncaughtUpEpochBoundary(t *testing.T) {
	ec, err := codec.NewReedSolomon(4, 2)
	if err != nil {
		t.Fatal(err)
	}
	signer := stubSigner{id: "elected.near"}
	p := NewProducer(newTestEpochs("elected.near"), txpool.New(1), stubRuntime{}, ec, signer, neverCaughtUp{})

	_, err = p.Produce(Input{EpochID: "E", NextHeight: 1, Shard: 0, CrossesEpoch: true, GasLimit: 1_000_000})
	if err != ErrPrevPrevNotCaughtUp {
		t.Errorf("got %v want ErrPrevPrevNotCaughtUp", err)
	}
}

type neverCaughtUp struct{}

func (neverCaughtUp) IsCaughtUp(prevPrevHash types.Hash, shard types.ShardID) bool { return false }
