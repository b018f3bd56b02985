package chunks

import (
	"testing"
	"time"

	"github.com/tolelom/shardcore/types"
)

func TestReadinessCacheSnapshot(t *testing.T) {
	c := NewReadinessCache()
	header := &types.ShardChunkHeader{ShardID: 2, HeightCreated: 5}
	c.MarkReady("prev", 2, header, time.Now())

	snap := c.Snapshot("prev")
	if len(snap) != 1 {
		t.Fatalf("snapshot size: got %d want 1", len(snap))
	}
	if snap[2].Header != header {
		t.Error("snapshot should return the marked header")
	}
}

func TestReadinessCacheSnapshotMissingParent(t *testing.T) {
	c := NewReadinessCache()
	if snap := c.Snapshot("unknown"); snap != nil {
		t.Errorf("expected nil snapshot for unknown parent, got %v", snap)
	}
}

func TestReadinessCacheSnapshotIsACopy(t *testing.T) {
	c := NewReadinessCache()
	header := &types.ShardChunkHeader{ShardID: 0}
	c.MarkReady("prev", 0, header, time.Now())

	snap := c.Snapshot("prev")
	delete(snap, 0)

	if len(c.Snapshot("prev")) != 1 {
		t.Error("mutating a snapshot should not affect the cache")
	}
}
