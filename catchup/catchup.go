// Package catchup implements the catchup coordinator: state sync
// plus blocks-catchup for shards the local node newly starts tracking at an
// epoch boundary.
package catchup

import (
	"sync"

	"github.com/tolelom/shardcore/types"
)

// DownloadStatus is one shard's position in the state-sync state
// machine.
type DownloadStatus int

const (
	StatusStateSplitScheduling DownloadStatus = iota
	StatusHeaderRequested
	StatusPartsRequested
	StatusValidating
	StatusApplying
	StatusCompleted
)

// ShardSyncDownload tracks one shard's state-sync progress within a catchup
// entry.
type ShardSyncDownload struct {
	Status     DownloadStatus
	PartsHave  int
	PartsTotal int
}

// BlocksCatchUpState tracks the block-catchup machine for a sync entry:
// the queue of blocks built atop the sync hash that still
// need to be applied once state sync completes.
type BlocksCatchUpState struct {
	Pending []*types.Block
	Done    []*types.Block
}

// Entry is one outstanding catchup for a sync_hash.
type Entry struct {
	SyncHash           types.Hash
	ShardLayoutChanges bool
	Downloads          map[types.ShardID]*ShardSyncDownload
	Blocks             BlocksCatchUpState
}

func (e *Entry) allShardsCompleted() bool {
	for _, d := range e.Downloads {
		if d.Status != StatusCompleted {
			return false
		}
	}
	return true
}

// ShardSet resolves which shards the local node cares about, used to scope
// which shards a catchup entry needs to download state for.
type ShardSet interface {
	CaredAboutShards() []types.ShardID
}

// StateSyncDriver performs the actual network+storage work of one step of
// state sync for a shard; Coordinator only tracks status transitions and
// delegates the byte-level work here.
type StateSyncDriver interface {
	// Step advances shard's download by one unit of work (request header,
	// request a batch of parts, validate, or apply) and returns its new
	// status.
	Step(syncHash types.Hash, shard types.ShardID, current *ShardSyncDownload) (DownloadStatus, error)
}

// BlockCatchupScheduler applies one pending catch-up block; resulting
// artifacts (missing chunks, challenges) route through the supplied router
// so they are handled identically to normal ingress.
type BlockCatchupScheduler interface {
	ApplyCatchupBlock(block *types.Block) error
}

// Coordinator drives catchup entries to completion.
type Coordinator struct {
	mu      sync.Mutex
	entries map[types.Hash]*Entry
	shards  ShardSet
	driver  StateSyncDriver
	blocks  BlockCatchupScheduler
}

// NewCoordinator wires a Coordinator against its collaborators.
func NewCoordinator(shards ShardSet, driver StateSyncDriver, blocks BlockCatchupScheduler) *Coordinator {
	return &Coordinator{entries: make(map[types.Hash]*Entry), shards: shards, driver: driver, blocks: blocks}
}

// StartEntry registers a new catchup entry for syncHash (one per epoch
// transition where the local node newly tracks some shard).
// shardLayoutChanges selects whether the shards we care about need
// StateSplitScheduling initialized.
func (c *Coordinator) StartEntry(syncHash types.Hash, shardLayoutChanges bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, exists := c.entries[syncHash]; exists {
		return
	}
	entry := &Entry{SyncHash: syncHash, ShardLayoutChanges: shardLayoutChanges, Downloads: make(map[types.ShardID]*ShardSyncDownload)}
	if shardLayoutChanges {
		for _, shard := range c.shards.CaredAboutShards() {
			entry.Downloads[shard] = &ShardSyncDownload{Status: StatusStateSplitScheduling}
		}
	}
	c.entries[syncHash] = entry
}

// IsCaughtUp reports whether shard's state under prevPrevHash is fully
// materialized, the question chunk/block producers ask before producing
// across an epoch boundary.
func (c *Coordinator) IsCaughtUp(prevPrevHash types.Hash, shard types.ShardID) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	entry, ok := c.entries[prevPrevHash]
	if !ok {
		// No catchup entry means the shard was already tracked before this
		// epoch transition — nothing to catch up.
		return true
	}
	d, ok := entry.Downloads[shard]
	if !ok {
		return true
	}
	return d.Status == StatusCompleted
}

// RunCatchup drives every outstanding entry by one step each. It never
// blocks: each StateSyncDriver.Step call is expected to have
// already offloaded any network/disk work to the host's schedulers and
// returns the shard's new status synchronously.
func (c *Coordinator) RunCatchup() error {
	c.mu.Lock()
	entries := make([]*Entry, 0, len(c.entries))
	for _, e := range c.entries {
		entries = append(entries, e)
	}
	c.mu.Unlock()

	for _, entry := range entries {
		if err := c.stepEntry(entry); err != nil {
			return err
		}
	}
	return nil
}

func (c *Coordinator) stepEntry(entry *Entry) error {
	for shard, d := range entry.Downloads {
		if d.Status == StatusCompleted {
			continue
		}
		newStatus, err := c.driver.Step(entry.SyncHash, shard, d)
		if err != nil {
			return err
		}
		d.Status = newStatus
	}

	if !entry.allShardsCompleted() {
		return nil
	}

	return c.stepBlocksCatchup(entry)
}

// stepBlocksCatchup finishes an entry: once state sync is complete for
// every cared-about shard,
// apply the queued blocks built atop the sync hash in order.
func (c *Coordinator) stepBlocksCatchup(entry *Entry) error {
	for len(entry.Blocks.Pending) > 0 {
		block := entry.Blocks.Pending[0]
		if err := c.blocks.ApplyCatchupBlock(block); err != nil {
			return err
		}
		entry.Blocks.Pending = entry.Blocks.Pending[1:]
		entry.Blocks.Done = append(entry.Blocks.Done, block)
	}

	c.mu.Lock()
	delete(c.entries, entry.SyncHash)
	c.mu.Unlock()
	return nil
}

// EnqueueCatchupBlock adds a block built atop syncHash to that entry's
// block-catchup queue, to be applied once state sync completes.
func (c *Coordinator) EnqueueCatchupBlock(syncHash types.Hash, block *types.Block) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if entry, ok := c.entries[syncHash]; ok {
		entry.Blocks.Pending = append(entry.Blocks.Pending, block)
	}
}
