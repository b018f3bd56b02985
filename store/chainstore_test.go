package storage

import (
	"sync"
	"testing"

	"github.com/tolelom/shardcore/types"
)

// memDB is a minimal in-memory DB for this package's own tests. The shared
// internal/testutil.MemDB imports this package, so it cannot be used here.
type memDB struct {
	mu   sync.RWMutex
	data map[string][]byte
}

func newMemDB() *memDB {
	return &memDB{data: make(map[string][]byte)}
}

func (m *memDB) Get(key []byte) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.data[string(key)]
	if !ok {
		return nil, ErrNotFound
	}
	cp := make([]byte, len(v))
	copy(cp, v)
	return cp, nil
}

func (m *memDB) Set(key, value []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := make([]byte, len(value))
	copy(cp, value)
	m.data[string(key)] = cp
	return nil
}

func (m *memDB) Delete(key []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data, string(key))
	return nil
}

func (m *memDB) NewIterator(prefix []byte) Iterator { return &memIterator{} }

func (m *memDB) NewBatch() Batch { return &memBatch{db: m} }

func (m *memDB) Close() error { return nil }

type memIterator struct{}

func (i *memIterator) Next() bool    { return false }
func (i *memIterator) Key() []byte   { return nil }
func (i *memIterator) Value() []byte { return nil }
func (i *memIterator) Release()      {}
func (i *memIterator) Error() error  { return nil }

type memBatch struct {
	db  *memDB
	ops []func()
}

func (b *memBatch) Set(key, value []byte) {
	k := string(key)
	cp := make([]byte, len(value))
	copy(cp, value)
	b.ops = append(b.ops, func() { b.db.data[k] = cp })
}

func (b *memBatch) Delete(key []byte) {
	k := string(key)
	b.ops = append(b.ops, func() { delete(b.db.data, k) })
}

func (b *memBatch) Reset() { b.ops = nil }

func (b *memBatch) Write() error {
	b.db.mu.Lock()
	defer b.db.mu.Unlock()
	for _, op := range b.ops {
		op()
	}
	b.ops = nil
	return nil
}

func testBlock(height types.Height, hash, prev types.Hash) *types.Block {
	return &types.Block{
		Header: types.BlockHeader{Height: height, PrevHash: prev},
		Hash:   hash,
	}
}

func TestPutGetBlockRoundTrip(t *testing.T) {
	s := NewChainStore(newMemDB())
	b := testBlock(5, "hash5", "hash4")
	if err := s.PutBlock(b); err != nil {
		t.Fatal(err)
	}
	got, err := s.GetBlock("hash5")
	if err != nil {
		t.Fatal(err)
	}
	if got.Header.Height != 5 || got.Header.PrevHash != "hash4" {
		t.Errorf("got %+v", got.Header)
	}
	if _, err := s.GetBlock("missing"); err == nil {
		t.Error("missing block should error")
	}
}

func TestCanonicalAtHeightMarksProcessed(t *testing.T) {
	s := NewChainStore(newMemDB())
	if s.IsHeightProcessed(7) {
		t.Fatal("height 7 should start unprocessed")
	}
	if err := s.SetCanonicalAtHeight(7, "hash7"); err != nil {
		t.Fatal(err)
	}
	if !s.IsHeightProcessed(7) {
		t.Error("height 7 should be processed after SetCanonicalAtHeight")
	}
	hash, err := s.CanonicalAtHeight(7)
	if err != nil {
		t.Fatal(err)
	}
	if hash != "hash7" {
		t.Errorf("canonical: got %s", hash)
	}
}

func TestTipRoundTrip(t *testing.T) {
	s := NewChainStore(newMemDB())
	hash, err := s.GetTip()
	if err != nil {
		t.Fatal(err)
	}
	if hash != "" {
		t.Errorf("fresh store tip: got %q", hash)
	}
	if err := s.SetTip("head"); err != nil {
		t.Fatal(err)
	}
	hash, err = s.GetTip()
	if err != nil {
		t.Fatal(err)
	}
	if hash != "head" {
		t.Errorf("tip: got %s", hash)
	}
}

func TestLatestKnownRoundTrip(t *testing.T) {
	s := NewChainStore(newMemDB())
	h, ts, err := s.LatestKnown()
	if err != nil || h != 0 || ts != 0 {
		t.Fatalf("fresh store: got (%d, %d, %v)", h, ts, err)
	}
	if err := s.SetLatestKnown(99, 123456789); err != nil {
		t.Fatal(err)
	}
	h, ts, err = s.LatestKnown()
	if err != nil {
		t.Fatal(err)
	}
	if h != 99 || ts != 123456789 {
		t.Errorf("got (%d, %d)", h, ts)
	}
}

func TestTransactionRefcounting(t *testing.T) {
	s := NewChainStore(newMemDB())
	tx := &types.Transaction{ID: "tx1", SignerID: "alice"}

	if err := s.PutTransaction(tx); err != nil {
		t.Fatal(err)
	}
	if err := s.PutTransaction(tx); err != nil {
		t.Fatal(err)
	}

	// Two references: the first release keeps the record.
	if err := s.ReleaseTransaction("tx1"); err != nil {
		t.Fatal(err)
	}
	got, err := s.GetTransaction("tx1")
	if err != nil {
		t.Fatal(err)
	}
	if got.SignerID != "alice" {
		t.Errorf("got %+v", got)
	}

	// Second release drops it.
	if err := s.ReleaseTransaction("tx1"); err != nil {
		t.Fatal(err)
	}
	if _, err := s.GetTransaction("tx1"); err == nil {
		t.Error("fully released tx should be gone")
	}
}
