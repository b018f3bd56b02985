package blockproducer

import (
	"testing"
	"time"

	"github.com/tolelom/shardcore/chunks"
	"github.com/tolelom/shardcore/doomslug"
	"github.com/tolelom/shardcore/epoch"
	"github.com/tolelom/shardcore/merkle"
	"github.com/tolelom/shardcore/types"
)

type stubSigner struct{ id types.AccountID }

func (s stubSigner) AccountID() types.AccountID       { return s.id }
func (s stubSigner) PublicKey() string                { return "pub-" + string(s.id) }
func (s stubSigner) Sign(data []byte) types.Signature { return "sig-" + types.Signature(s.id) }

type memKnown struct {
	height types.Height
	ts     int64
}

func (m *memKnown) SetLatestKnown(height types.Height, ts int64) error {
	m.height, m.ts = height, ts
	return nil
}
func (m *memKnown) LatestKnown() (types.Height, int64, error) { return m.height, m.ts, nil }

type alwaysCaughtUp struct{}

func (alwaysCaughtUp) IsCaughtUp(prevPrevHash types.Hash, shard types.ShardID) bool { return true }

func newTestProducer(t *testing.T, producer types.AccountID) (*Producer, *epoch.Manager) {
	t.Helper()
	epochs := epoch.NewManager()
	epochs.Set(&epoch.Info{
		EpochID:         "E",
		ProtocolVersion: 1,
		ShardLayout:     epoch.ShardLayout{Version: 1, NumShards: 1},
		BlockProducers:  []types.AccountID{producer},
		Approvers:       []types.ValidatorStake{{AccountID: producer, Stake: 100}},
		Stakes:          map[types.AccountID]uint64{producer: 100},
	})
	ds := doomslug.New(doomslug.NoApprovals)
	ds.SetTip(time.Now(), "prev-hash", 0, 0)
	readiness := chunks.NewReadinessCache()
	p := NewProducer(epochs, ds, readiness, merkle.NewPartialTree(), stubSigner{id: producer}, alwaysCaughtUp{}, &memKnown{}, Config{
		ProduceEmptyBlocks:    true,
		BinaryProtocolVersion: 1,
	})
	return p, epochs
}

func TestProduceEmptyBlockWhenAllowed(t *testing.T) {
	p, _ := newTestProducer(t, "producer.near")
	block, err := p.Produce(Input{
		NextHeight:          1,
		PrevHash:            "prev-hash",
		EpochID:             "E",
		NextEpochID:         "E",
		PrevChunkHeaders:    []types.ShardChunkHeader{{}},
		NextProtocolVersion: 1,
		TimestampUnixNano:   1,
	})
	if err != nil {
		t.Fatalf("Produce: %v", err)
	}
	if block == nil {
		t.Fatal("expected a produced block")
	}
	if block.Header.Proposer != "producer.near" {
		t.Errorf("proposer: got %q want producer.near", block.Header.Proposer)
	}
	if block.Signature == "" {
		t.Error("block should be signed")
	}
}

func TestProduceSkipsEmptyBlockWhenDisallowed(t *testing.T) {
	p, _ := newTestProducer(t, "producer.near")
	p.cfg.ProduceEmptyBlocks = false

	block, err := p.Produce(Input{
		NextHeight:          1,
		PrevHash:            "prev-hash",
		EpochID:             "E",
		NextEpochID:         "E",
		PrevChunkHeaders:    []types.ShardChunkHeader{{}},
		NextProtocolVersion: 1,
	})
	if err != nil {
		t.Fatalf("Produce: %v", err)
	}
	if block != nil {
		t.Error("expected no block when empty blocks are disallowed and nothing is ready")
	}
}

func TestProduceReturnsNilWhenNotElected(t *testing.T) {
	p, _ := newTestProducer(t, "producer.near")
	p.signer = stubSigner{id: "someone-else.near"}

	block, err := p.Produce(Input{
		NextHeight:       1,
		PrevHash:         "prev-hash",
		EpochID:          "E",
		PrevChunkHeaders: []types.ShardChunkHeader{{}},
	})
	if err != nil {
		t.Fatalf("Produce: %v", err)
	}
	if block != nil {
		t.Error("expected nil block for a non-elected producer")
	}
}

func TestProduceRejectsStaleProtocolVersion(t *testing.T) {
	p, _ := newTestProducer(t, "producer.near")
	_, err := p.Produce(Input{
		NextHeight:          1,
		PrevHash:            "prev-hash",
		EpochID:             "E",
		NextProtocolVersion: 99,
	})
	if err != ErrProtocolVersionTooOld {
		t.Errorf("got %v want ErrProtocolVersionTooOld", err)
	}
}

func TestProduceIncludesReadyChunk(t *testing.T) {
	p, _ := newTestProducer(t, "producer.near")
	header := &types.ShardChunkHeader{ShardID: 0, HeightCreated: 1, TxRoot: "tx-root"}
	p.readiness.MarkReady("prev-hash", 0, header, time.Now())

	block, err := p.Produce(Input{
		NextHeight:          1,
		PrevHash:            "prev-hash",
		EpochID:             "E",
		PrevChunkHeaders:    []types.ShardChunkHeader{{}},
		NextProtocolVersion: 1,
	})
	if err != nil {
		t.Fatalf("Produce: %v", err)
	}
	if block == nil {
		t.Fatal("expected a produced block")
	}
	if block.Header.ChunkHeaders[0].HeightIncluded != 1 {
		t.Errorf("height_included: got %d want 1", block.Header.ChunkHeaders[0].HeightIncluded)
	}
	if block.Header.ChunkHeaders[0].TxRoot != "tx-root" {
		t.Error("included chunk header should carry the ready chunk's fields")
	}
}
