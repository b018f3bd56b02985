package storage

import (
	"bytes"
	"encoding/binary"
	"testing"
)

func stateKey(suffix string) []byte {
	// 12 bytes of ShardUId (8-byte shard id + 4-byte layout version)
	// followed by the content hash.
	var uid [12]byte
	binary.BigEndian.PutUint64(uid[0:8], 3)
	binary.BigEndian.PutUint32(uid[8:12], 1)
	return append(append([]byte(colState), uid[:]...), []byte(suffix)...)
}

func TestColdStoreStripsShardUIDFromStateKeys(t *testing.T) {
	hot := newMemDB()
	cold := NewColdStore(hot)

	key := stateKey("abcdef-content-hash")
	if err := cold.Set(key, []byte("node-blob")); err != nil {
		t.Fatal(err)
	}

	// The archived key is the column prefix plus the bare hash.
	want := append([]byte(colState), []byte("abcdef-content-hash")...)
	got, err := hot.Get(want)
	if err != nil {
		t.Fatalf("stripped key not found in backing store: %v", err)
	}
	if !bytes.Equal(got, []byte("node-blob")) {
		t.Errorf("value: got %q", got)
	}

	// Reading back through the cold adapter with the original key works.
	back, err := cold.Get(key)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(back, []byte("node-blob")) {
		t.Errorf("round trip: got %q", back)
	}
}

func TestColdStoreRefcountStrippedAndSynthesized(t *testing.T) {
	hot := newMemDB()
	cold := NewColdStore(hot)

	key := []byte(colTransactions + "txhash")
	var live [4]byte
	binary.BigEndian.PutUint32(live[:], 7)
	value := append(live[:], []byte("tx-json")...)

	if err := cold.Set(key, value); err != nil {
		t.Fatal(err)
	}
	raw, err := hot.Get(key)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(raw, []byte("tx-json")) {
		t.Errorf("cold value should carry no refcount header, got %q", raw)
	}

	back, err := cold.Get(key)
	if err != nil {
		t.Fatal(err)
	}
	if len(back) != 4+len("tx-json") {
		t.Fatalf("synthesized value length %d", len(back))
	}
	if binary.BigEndian.Uint32(back[:4]) != 1 {
		t.Errorf("synthesized refcount: got %d want 1", binary.BigEndian.Uint32(back[:4]))
	}
	if !bytes.Equal(back[4:], []byte("tx-json")) {
		t.Errorf("payload: got %q", back[4:])
	}
}

func TestColdStorePassesOtherColumnsThrough(t *testing.T) {
	hot := newMemDB()
	cold := NewColdStore(hot)

	key := []byte(colBlock + "blockhash")
	if err := cold.Set(key, []byte("block-json")); err != nil {
		t.Fatal(err)
	}
	got, err := hot.Get(key)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got, []byte("block-json")) {
		t.Errorf("block column should pass through unchanged, got %q", got)
	}
}

func TestColdBatchAppliesSameRewrites(t *testing.T) {
	hot := newMemDB()
	cold := NewColdStore(hot)

	batch := cold.NewBatch()
	var live [4]byte
	binary.BigEndian.PutUint32(live[:], 3)
	batch.Set([]byte(colTransactions+"txbatch"), append(live[:], []byte("payload")...))
	batch.Set(stateKey("hash-in-batch"), []byte("blob"))
	if err := batch.Write(); err != nil {
		t.Fatal(err)
	}

	raw, err := hot.Get([]byte(colTransactions + "txbatch"))
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(raw, []byte("payload")) {
		t.Errorf("batched tx value: got %q", raw)
	}
	if _, err := hot.Get(append([]byte(colState), []byte("hash-in-batch")...)); err != nil {
		t.Errorf("batched state key should be stripped: %v", err)
	}
}
