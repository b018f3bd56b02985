package catchup

import (
	"testing"

	"github.com/tolelom/shardcore/types"
)

type fixedShards struct{ shards []types.ShardID }

func (f fixedShards) CaredAboutShards() []types.ShardID { return f.shards }

type steppingDriver struct{ steps int }

func (d *steppingDriver) Step(syncHash types.Hash, shard types.ShardID, current *ShardSyncDownload) (DownloadStatus, error) {
	d.steps++
	if current.Status >= StatusApplying {
		return StatusCompleted, nil
	}
	return current.Status + 1, nil
}

type recordingBlocks struct{ applied []*types.Block }

func (b *recordingBlocks) ApplyCatchupBlock(block *types.Block) error {
	b.applied = append(b.applied, block)
	return nil
}

func TestIsCaughtUpTrueWithoutEntry(t *testing.T) {
	c := NewCoordinator(fixedShards{}, &steppingDriver{}, &recordingBlocks{})
	if !c.IsCaughtUp("unknown", 0) {
		t.Error("a shard with no outstanding catchup entry should read as caught up")
	}
}

func TestRunCatchupDrivesStateSyncToCompletion(t *testing.T) {
	driver := &steppingDriver{}
	blocks := &recordingBlocks{}
	c := NewCoordinator(fixedShards{shards: []types.ShardID{0}}, driver, blocks)
	c.StartEntry("sync-hash", true)

	if c.IsCaughtUp("sync-hash", 0) {
		t.Fatal("should not be caught up before any steps run")
	}

	for i := 0; i < int(StatusCompleted)+1; i++ {
		if err := c.RunCatchup(); err != nil {
			t.Fatal(err)
		}
	}

	if !c.IsCaughtUp("sync-hash", 0) {
		t.Error("expected the shard to be caught up after enough steps")
	}
}

func TestRunCatchupAppliesQueuedBlocksOnceStateSyncCompletes(t *testing.T) {
	driver := &steppingDriver{}
	blocks := &recordingBlocks{}
	c := NewCoordinator(fixedShards{shards: []types.ShardID{0}}, driver, blocks)
	c.StartEntry("sync-hash", true)
	block := &types.Block{Hash: "catchup-block"}
	c.EnqueueCatchupBlock("sync-hash", block)

	for i := 0; i < int(StatusCompleted)+1; i++ {
		if err := c.RunCatchup(); err != nil {
			t.Fatal(err)
		}
	}

	if len(blocks.applied) != 1 || blocks.applied[0] != block {
		t.Errorf("expected the queued block to be applied, got %v", blocks.applied)
	}
}

func TestStartEntryIsIdempotent(t *testing.T) {
	c := NewCoordinator(fixedShards{shards: []types.ShardID{0, 1}}, &steppingDriver{}, &recordingBlocks{})
	c.StartEntry("sync-hash", true)
	c.StartEntry("sync-hash", true)
	if len(c.entries) != 1 {
		t.Errorf("expected exactly one entry, got %d", len(c.entries))
	}
}

func TestStartEntryWithoutShardLayoutChangeHasNoDownloads(t *testing.T) {
	c := NewCoordinator(fixedShards{shards: []types.ShardID{0}}, &steppingDriver{}, &recordingBlocks{})
	c.StartEntry("sync-hash", false)
	if len(c.entries["sync-hash"].Downloads) != 0 {
		t.Error("expected no per-shard downloads when the shard layout does not change")
	}
	if !c.IsCaughtUp("sync-hash", 0) {
		t.Error("a shard with no download record in its entry should read as caught up")
	}
}
