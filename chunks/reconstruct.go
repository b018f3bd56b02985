package chunks

import (
	"sync"
	"time"

	"github.com/tolelom/shardcore/codec"
	"github.com/tolelom/shardcore/types"
)

// partialChunk tracks a chunk's parts as they trickle in from peers,
// keyed by header hash, until enough accumulate to reconstruct the
// body.
type partialChunk struct {
	header  *types.ShardChunkHeader
	parts   map[uint64][]byte
	bodyLen int
}

// Reconstructor accumulates partial-encoded-chunk parts and, once a chunk
// crosses the data_parts threshold, decodes its body and feeds the result
// to a readiness cache.
type Reconstructor struct {
	mu      sync.Mutex
	codec   codec.ErasureCodec
	pending map[types.Hash]*partialChunk
	cache   *ReadinessCache
	bodies  map[types.Hash][]byte
}

// NewReconstructor wires an erasure codec and the readiness cache that
// completed chunks are published into.
func NewReconstructor(ec codec.ErasureCodec, cache *ReadinessCache) *Reconstructor {
	return &Reconstructor{codec: ec, pending: make(map[types.Hash]*partialChunk), cache: cache, bodies: make(map[types.Hash][]byte)}
}

// AddParts registers newly received parts for header's chunk. bodyLen is
// the chunk's uncoded body length, required by the codec to trim
// reconstruction padding; it travels alongside the header out-of-band
// (carried in the partial-encoded-chunk network message, not the header
// itself). Returns true once the chunk has been fully reconstructed and
// published into the readiness cache.
func (r *Reconstructor) AddParts(header *types.ShardChunkHeader, bodyLen int, parts []types.ChunkPart, now time.Time) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	hash := header.ComputeHash()
	pc, ok := r.pending[hash]
	if !ok {
		pc = &partialChunk{header: header, parts: make(map[uint64][]byte), bodyLen: bodyLen}
		r.pending[hash] = pc
	}
	for _, p := range parts {
		pc.parts[p.Index] = p.Data
	}

	if len(pc.parts) < r.codec.DataParts() {
		return false, nil
	}

	ordered := make([][]byte, r.codec.DataParts()+r.codec.ParityParts())
	for idx, data := range pc.parts {
		if int(idx) < len(ordered) {
			ordered[idx] = data
		}
	}
	body, err := r.codec.Reconstruct(ordered, pc.bodyLen)
	if err != nil {
		return false, err
	}

	delete(r.pending, hash)
	r.bodies[hash] = body
	r.cache.MarkReady(header.PrevBlockHash, header.ShardID, header, now)
	return true, nil
}

// Body returns the reconstructed body for a chunk header that AddParts has
// already completed, for callers (the client package's ChunkStore) that
// need the decoded transactions rather than just the readiness signal
// ReadinessCache carries.
func (r *Reconstructor) Body(header *types.ShardChunkHeader) ([]byte, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	body, ok := r.bodies[header.ComputeHash()]
	return body, ok
}
