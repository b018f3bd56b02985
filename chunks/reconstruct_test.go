package chunks

import (
	"testing"
	"time"

	"github.com/tolelom/shardcore/codec"
	"github.com/tolelom/shardcore/types"
)

func TestReconstructorCompletesAtDataPartsThreshold(t *testing.T) {
	ec, err := codec.NewReedSolomon(3, 2)
	if err != nil {
		t.Fatal(err)
	}
	cache := NewReadinessCache()
	r := NewReconstructor(ec, cache)

	body := []byte("hello chunk body spanning multiple shards")
	encoded, err := ec.Encode(body)
	if err != nil {
		t.Fatal(err)
	}

	header := &types.ShardChunkHeader{PrevBlockHash: "prev", ShardID: 1, HeightCreated: 3}

	// Feed parts one at a time, below the data_parts threshold.
	for i := 0; i < ec.DataParts()-1; i++ {
		done, err := r.AddParts(header, len(body), []types.ChunkPart{{Index: uint64(i), Data: encoded[i]}}, time.Now())
		if err != nil {
			t.Fatal(err)
		}
		if done {
			t.Fatalf("should not complete with only %d of %d data parts", i+1, ec.DataParts())
		}
	}

	if cache.Snapshot("prev") != nil {
		t.Error("chunk should not be ready before the threshold is reached")
	}

	lastIdx := ec.DataParts() - 1
	done, err := r.AddParts(header, len(body), []types.ChunkPart{{Index: uint64(lastIdx), Data: encoded[lastIdx]}}, time.Now())
	if err != nil {
		t.Fatal(err)
	}
	if !done {
		t.Fatal("expected completion once data_parts worth of parts arrived")
	}

	snap := cache.Snapshot("prev")
	if snap == nil || snap[1].Header != header {
		t.Error("completed chunk should be published to the readiness cache")
	}

	got, ok := r.Body(header)
	if !ok {
		t.Fatal("expected a reconstructed body to be retrievable after completion")
	}
	if string(got) != string(body) {
		t.Errorf("reconstructed body = %q, want %q", got, body)
	}
}
