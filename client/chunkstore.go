package client

import (
	"sync"

	"github.com/tolelom/shardcore/chunks"
	"github.com/tolelom/shardcore/types"
)

type producedRecord struct {
	header  types.ShardChunkHeader
	bodyLen int
	parts   []types.ChunkPart
}

// ChunkStore holds two things per chunk header: the decoded transactions
// block ingress needs for mempool reconciliation (blockingress.ChunkBodyResolver),
// and, for chunks this node itself produced, the raw erasure-coded parts
// needed to answer a peer's PartialEncodedChunkRequest. A chunk learned
// about purely through reconstruction (OnChunkCompleted) is not re-served:
// this module keeps the part-serving path scoped to the producer. A node
// catching up can fetch parts from any peer that produced or reconstructed
// the chunk; here that is always the producer.
type ChunkStore struct {
	mu       sync.RWMutex
	txs      map[types.Hash][]*types.Transaction
	produced map[types.Hash]producedRecord
}

// NewChunkStore returns an empty ChunkStore.
func NewChunkStore() *ChunkStore {
	return &ChunkStore{txs: make(map[types.Hash][]*types.Transaction), produced: make(map[types.Hash]producedRecord)}
}

// Put decodes body (a chunk's reconstructed raw body, as returned by
// chunks.Reconstructor.Body) and records its transactions under header's
// hash. Used for chunks learned about via network reconstruction.
func (s *ChunkStore) Put(header types.ShardChunkHeader, body []byte) error {
	txs, _, err := chunks.DecodeBody(body)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.txs[header.ComputeHash()] = txs
	s.mu.Unlock()
	return nil
}

// PutProduced records a chunk this node itself produced: its plaintext
// transactions (already known, no decode needed) and its header/body
// length/erasure-coded parts (retained so PartsOf and HeaderFor can answer
// requests from shard-tracking peers).
func (s *ChunkStore) PutProduced(header types.ShardChunkHeader, bodyLen int, txs []*types.Transaction, parts []types.ChunkPart) {
	key := header.ComputeHash()
	s.mu.Lock()
	s.txs[key] = txs
	s.produced[key] = producedRecord{header: header, bodyLen: bodyLen, parts: parts}
	s.mu.Unlock()
}

// TransactionsOf implements blockingress.ChunkBodyResolver.
func (s *ChunkStore) TransactionsOf(header types.ShardChunkHeader) ([]*types.Transaction, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	txs, ok := s.txs[header.ComputeHash()]
	return txs, ok
}

// PartsOf returns the subset of chunkHash's retained parts whose indices
// are in ordinals, for answering a PartialEncodedChunkRequest. Returns nil
// if this node never produced (and so never retained parts for) the chunk.
func (s *ChunkStore) PartsOf(chunkHash types.Hash, ordinals []uint64) []types.ChunkPart {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.produced[chunkHash]
	if !ok {
		return nil
	}
	want := make(map[uint64]bool, len(ordinals))
	for _, o := range ordinals {
		want[o] = true
	}
	out := make([]types.ChunkPart, 0, len(ordinals))
	for _, p := range rec.parts {
		if want[p.Index] {
			out = append(out, p)
		}
	}
	return out
}

// HeaderFor returns the header and uncoded body length of a chunk this
// node produced, so a part response can carry the context the requester's
// Reconstructor needs.
func (s *ChunkStore) HeaderFor(chunkHash types.Hash) (types.ShardChunkHeader, int, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.produced[chunkHash]
	return rec.header, rec.bodyLen, ok
}
