// Package txpool implements the sharded transaction pool: one per-shard mempool, each holding signed, not-yet-included
// transactions in a randomised-but-deterministic draw order so that no
// single account can game its queue position by submission timing alone.
package txpool

import (
	"errors"
	"fmt"
	"math/rand"
	"sync"

	"github.com/tolelom/shardcore/types"
)

const maxShardPoolSize = 50_000

// ErrPoolFull is returned when a shard's mempool is at capacity.
var ErrPoolFull = errors.New("txpool: shard pool full")

// ErrAlreadyInPool is returned when a transaction hash is already tracked.
var ErrAlreadyInPool = errors.New("txpool: transaction already in pool")

// shardPool is a single shard's mempool: an insertion-ordered map plus a
// draw order seeded once at construction, so two pools built with the same
// seed that process the same insert sequence derive the same drain order.
type shardPool struct {
	mu      sync.RWMutex
	txs     map[types.Hash]*types.Transaction
	ord     []types.Hash
	rng     *rand.Rand
	drawPos int
}

func newShardPool(seed int64) *shardPool {
	return &shardPool{
		txs: make(map[types.Hash]*types.Transaction),
		rng: rand.New(rand.NewSource(seed)),
	}
}

// Pool maps each shard id to its own mempool.
type Pool struct {
	mu     sync.RWMutex
	shards map[types.ShardID]*shardPool
	seed   int64
}

// New constructs an empty Pool. seed fixes the per-shard draw order so the
// pool's behavior is reproducible across test runs and, within one process
// lifetime, across repeated drains of the same shard.
func New(seed int64) *Pool {
	return &Pool{shards: make(map[types.ShardID]*shardPool), seed: seed}
}

func (p *Pool) shardFor(shard types.ShardID) *shardPool {
	p.mu.Lock()
	defer p.mu.Unlock()
	sp, ok := p.shards[shard]
	if !ok {
		sp = newShardPool(p.seed + int64(shard))
		p.shards[shard] = sp
	}
	return sp
}

// Insert validates tx's signature and adds it to shard's pool. Nonce and
// balance checks are the runtime adapter's concern; tx.BlockHash is not
// checked against a validity period here or elsewhere.
func (p *Pool) Insert(shard types.ShardID, tx *types.Transaction) error {
	if err := tx.VerifySignature(); err != nil {
		return fmt.Errorf("txpool: invalid signature: %w", err)
	}

	sp := p.shardFor(shard)
	sp.mu.Lock()
	defer sp.mu.Unlock()
	if len(sp.txs) >= maxShardPoolSize {
		return ErrPoolFull
	}
	hash := tx.ComputeHash()
	if _, exists := sp.txs[hash]; exists {
		return ErrAlreadyInPool
	}
	sp.txs[hash] = tx
	sp.ord = append(sp.ord, hash)
	return nil
}

// Reintroduce puts previously-drained transactions back at the front of the
// shard's pending set without re-validating them.
func (p *Pool) Reintroduce(shard types.ShardID, txs []*types.Transaction) {
	if len(txs) == 0 {
		return
	}
	sp := p.shardFor(shard)
	sp.mu.Lock()
	defer sp.mu.Unlock()
	fresh := make([]types.Hash, 0, len(txs))
	for _, tx := range txs {
		hash := tx.ComputeHash()
		if _, exists := sp.txs[hash]; exists {
			continue
		}
		sp.txs[hash] = tx
		fresh = append(fresh, hash)
	}
	sp.ord = append(fresh, sp.ord...)
	sp.drawPos = 0
}

// Remove deletes transactions by hash, called once the block that adopted
// their chunk is committed.
func (p *Pool) Remove(shard types.ShardID, hashes []types.Hash) {
	if len(hashes) == 0 {
		return
	}
	sp := p.shardFor(shard)
	sp.mu.Lock()
	defer sp.mu.Unlock()
	removed := make(map[types.Hash]bool, len(hashes))
	for _, h := range hashes {
		delete(sp.txs, h)
		removed[h] = true
	}
	filtered := sp.ord[:0]
	for _, h := range sp.ord {
		if !removed[h] {
			filtered = append(filtered, h)
		}
	}
	sp.ord = filtered
	if sp.drawPos > len(sp.ord) {
		sp.drawPos = len(sp.ord)
	}
}

// Drain draws up to maxCount transactions from shard's pool for chunk
// production, shuffling the remaining backlog once per call so
// repeated draws eventually surface every pending transaction instead of
// starving the tail of the queue.
func (p *Pool) Drain(shard types.ShardID, maxCount int) []*types.Transaction {
	sp := p.shardFor(shard)
	sp.mu.Lock()
	defer sp.mu.Unlock()

	if sp.drawPos >= len(sp.ord) {
		sp.rng.Shuffle(len(sp.ord), func(i, j int) {
			sp.ord[i], sp.ord[j] = sp.ord[j], sp.ord[i]
		})
		sp.drawPos = 0
	}

	out := make([]*types.Transaction, 0, maxCount)
	for sp.drawPos < len(sp.ord) && len(out) < maxCount {
		h := sp.ord[sp.drawPos]
		sp.drawPos++
		if tx, ok := sp.txs[h]; ok {
			out = append(out, tx)
		}
	}
	return out
}

// Size returns the number of pending transactions tracked for shard.
func (p *Pool) Size(shard types.ShardID) int {
	sp := p.shardFor(shard)
	sp.mu.RLock()
	defer sp.mu.RUnlock()
	return len(sp.txs)
}

// Has reports whether hash is already tracked in shard's pool.
func (p *Pool) Has(shard types.ShardID, hash types.Hash) bool {
	sp := p.shardFor(shard)
	sp.mu.RLock()
	defer sp.mu.RUnlock()
	_, ok := sp.txs[hash]
	return ok
}
